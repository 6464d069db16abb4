package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Типы событий, публикуемых после успешного коммита.
const (
	OrderPlaced        = "order_placed"
	OrderStatusChanged = "order_status_changed"
	OrderCancelled     = "order_cancelled"
	OrderDeleted       = "order_deleted"
	SaleCompleted      = "sale_completed"
	SaleReversed       = "sale_reversed"
	ProductRestocked   = "product_restocked"
)

// Envelope — конверт события для внешних подписчиков (live-обновления UI,
// сервис доставки push-уведомлений).
type Envelope struct {
	EventID    string          `json:"event_id"`
	EventType  string          `json:"event_type"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
}

// Publisher публикует события об уже закоммиченных изменениях.
// Публикация идёт строго после коммита и никогда не входит в транзакцию:
// потеря события допустима, потеря консистентности — нет.
type Publisher interface {
	Publish(ctx context.Context, eventType string, payload any)
}

// redisPublisher шлёт события в Redis pub/sub канал.
type redisPublisher struct {
	log     *slog.Logger
	client  *redis.Client
	channel string
}

func NewRedisPublisher(log *slog.Logger, client *redis.Client, channel string) Publisher {
	return &redisPublisher{log: log, client: client, channel: channel}
}

func NewClient(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{Addr: addr})
}

func (p *redisPublisher) Publish(ctx context.Context, eventType string, payload any) {
	const op = "events.redisPublisher.Publish"

	raw, err := json.Marshal(payload)
	if err != nil {
		p.log.Error("failed to marshal event payload",
			slog.String("op", op), slog.String("type", eventType), slog.Any("error", err))
		return
	}
	env := Envelope{
		EventID:    uuid.NewString(),
		EventType:  eventType,
		OccurredAt: time.Now().UTC(),
		Payload:    raw,
	}
	data, err := json.Marshal(env)
	if err != nil {
		p.log.Error("failed to marshal event envelope",
			slog.String("op", op), slog.String("type", eventType), slog.Any("error", err))
		return
	}

	// best-effort: ошибка публикации логируется и не влияет на результат операции
	if err := p.client.Publish(ctx, p.channel, data).Err(); err != nil {
		p.log.Warn("failed to publish event",
			slog.String("op", op), slog.String("type", eventType), slog.Any("error", err))
	}
}

// NopPublisher — заглушка для тестов и конфигураций без Redis.
type NopPublisher struct{}

func (NopPublisher) Publish(ctx context.Context, eventType string, payload any) {}

package service_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/linemk/ibr-resto/internal/domain/models"
	"github.com/linemk/ibr-resto/internal/lib/events"
	"github.com/linemk/ibr-resto/internal/service"
	"github.com/linemk/ibr-resto/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingStock подменяет движок остатков: запоминает все наборы дельт,
// по желанию возвращает подготовленную ошибку.
type recordingStock struct {
	applied [][]service.StockDelta
	err     error
}

func (f *recordingStock) ApplyDeltas(ctx context.Context, tx *sql.Tx, deltas []service.StockDelta) error {
	if f.err != nil {
		return f.err
	}
	f.applied = append(f.applied, deltas)
	return nil
}

type fakeUserStorage struct {
	users    map[string]*models.User
	adminIDs []int64
}

func (f *fakeUserStorage) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	user, ok := f.users[email]
	if !ok {
		return nil, storage.ErrUserNotFound
	}
	return user, nil
}

func (f *fakeUserStorage) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	for _, user := range f.users {
		if user.ID == id {
			return user, nil
		}
	}
	return nil, storage.ErrUserNotFound
}

func (f *fakeUserStorage) CreateUser(ctx context.Context, user *models.User) (*models.User, error) {
	if f.users == nil {
		f.users = make(map[string]*models.User)
	}
	user.ID = int64(len(f.users) + 1)
	f.users[user.Email] = user
	return user, nil
}

func (f *fakeUserStorage) AdminIDsTx(ctx context.Context, tx *sql.Tx) ([]int64, error) {
	return f.adminIDs, nil
}

type fakeOrderStorage struct {
	orders        map[string]*models.Order
	created       *models.Order
	statusUpdates map[string]models.OrderStatus
	deleted       []string
}

func newFakeOrderStorage(orders ...*models.Order) *fakeOrderStorage {
	f := &fakeOrderStorage{
		orders:        make(map[string]*models.Order),
		statusUpdates: make(map[string]models.OrderStatus),
	}
	for _, order := range orders {
		f.orders[order.ID] = order
	}
	return f
}

func (f *fakeOrderStorage) CreateOrderTx(ctx context.Context, tx *sql.Tx, order *models.Order) error {
	f.created = order
	f.orders[order.ID] = order
	return nil
}

func (f *fakeOrderStorage) LockOrderTx(ctx context.Context, tx *sql.Tx, id string) (*models.Order, error) {
	order, ok := f.orders[id]
	if !ok {
		return nil, storage.ErrOrderNotFound
	}
	return order, nil
}

func (f *fakeOrderStorage) UpdateStatusTx(ctx context.Context, tx *sql.Tx, id string, status models.OrderStatus) error {
	f.statusUpdates[id] = status
	return nil
}

func (f *fakeOrderStorage) DeleteOrderTx(ctx context.Context, tx *sql.Tx, id string) error {
	f.deleted = append(f.deleted, id)
	delete(f.orders, id)
	return nil
}

func (f *fakeOrderStorage) ItemsTx(ctx context.Context, tx *sql.Tx, orderID string) ([]models.OrderLineItem, error) {
	order, ok := f.orders[orderID]
	if !ok {
		return nil, storage.ErrOrderNotFound
	}
	return order.Items, nil
}

func (f *fakeOrderStorage) GetOrdersByUserID(ctx context.Context, userID int64) ([]*models.Order, error) {
	var out []*models.Order
	for _, order := range f.orders {
		if order.UserID == userID {
			out = append(out, order)
		}
	}
	return out, nil
}

func (f *fakeOrderStorage) GetOrderByKey(ctx context.Context, userID int64, key string) (*models.Order, error) {
	for _, order := range f.orders {
		if order.UserID == userID && order.IdempotencyKey == key {
			return order, nil
		}
	}
	return nil, storage.ErrOrderNotFound
}

type fakeNotificationStorage struct {
	created []*models.Notification
}

func (f *fakeNotificationStorage) CreateNotificationTx(ctx context.Context, tx *sql.Tx, n *models.Notification) error {
	f.created = append(f.created, n)
	return nil
}

func (f *fakeNotificationStorage) ListUnreadByRecipient(ctx context.Context, recipientID int64) ([]*models.Notification, error) {
	var out []*models.Notification
	for _, n := range f.created {
		if n.RecipientUserID == recipientID && !n.IsRead {
			out = append(out, n)
		}
	}
	return out, nil
}

func (f *fakeNotificationStorage) MarkRead(ctx context.Context, id string, recipientID int64) error {
	for _, n := range f.created {
		if n.ID == id && n.RecipientUserID == recipientID {
			n.IsRead = true
			return nil
		}
	}
	return storage.ErrNotificationNotFound
}

// recordingPublisher копит опубликованные события, не трогая сеть.
type recordingPublisher struct {
	eventTypes []string
}

func (p *recordingPublisher) Publish(ctx context.Context, eventType string, payload any) {
	p.eventTypes = append(p.eventTypes, eventType)
}

type orderTestEnv struct {
	svc       service.OrderService
	mock      sqlmock.Sqlmock
	stock     *recordingStock
	users     *fakeUserStorage
	orders    *fakeOrderStorage
	notifs    *fakeNotificationStorage
	publisher *recordingPublisher
	close     func()
}

func newOrderTestEnv(t *testing.T, orders ...*models.Order) *orderTestEnv {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	env := &orderTestEnv{
		mock:      mock,
		stock:     &recordingStock{},
		users:     &fakeUserStorage{adminIDs: []int64{100, 101}},
		orders:    newFakeOrderStorage(orders...),
		notifs:    &fakeNotificationStorage{},
		publisher: &recordingPublisher{},
		close:     func() { db.Close() },
	}
	env.svc = service.NewOrderService(
		discardLogger(), db, env.stock, env.users, env.orders, env.notifs, env.publisher,
	)
	return env
}

func TestPlaceOrder_Success(t *testing.T) {
	env := newOrderTestEnv(t)
	defer env.close()

	env.mock.ExpectBegin()
	env.mock.ExpectCommit()

	lines := []models.OrderLineItem{
		{ProductID: 1, Name: "Nasi Goreng", Price: 25000, Quantity: 2},
		{ProductID: 3, Name: "Es Teh", Price: 5000, Quantity: 1},
	}
	order, err := env.svc.PlaceOrder(context.Background(), 7, "Budi", lines, "")
	require.NoError(t, err)

	assert.NotEmpty(t, order.ID)
	assert.Equal(t, models.StatusPending, order.Status)
	assert.Equal(t, order.CreatedAt.Add(service.CancellationWindow), order.CancellableUntil)

	// Остатки списаны именно по позициям корзины.
	require.Len(t, env.stock.applied, 1)
	assert.Equal(t, []service.StockDelta{
		{ProductID: 1, Delta: -2},
		{ProductID: 3, Delta: -1},
	}, env.stock.applied[0])

	// Каждый сотрудник получил уведомление о новом заказе.
	require.Len(t, env.notifs.created, 2)
	for _, n := range env.notifs.created {
		assert.Equal(t, models.NotificationTitle, n.Title)
		assert.Equal(t, models.NotificationNewOrder, n.Type)
		assert.Equal(t, "Pesanan baru dari Budi telah diterima.", n.Body)
	}
	assert.ElementsMatch(t, []int64{100, 101},
		[]int64{env.notifs.created[0].RecipientUserID, env.notifs.created[1].RecipientUserID})

	assert.Equal(t, []string{events.OrderPlaced}, env.publisher.eventTypes)
	assert.NoError(t, env.mock.ExpectationsWereMet())
}

func TestPlaceOrder_InsufficientStock(t *testing.T) {
	env := newOrderTestEnv(t)
	defer env.close()

	env.stock.err = &service.ErrInsufficientStock{ProductID: 1, Requested: 2, Available: 1}

	env.mock.ExpectBegin()
	env.mock.ExpectRollback()

	lines := []models.OrderLineItem{{ProductID: 1, Name: "Nasi Goreng", Price: 25000, Quantity: 2}}
	order, err := env.svc.PlaceOrder(context.Background(), 7, "Budi", lines, "")
	assert.Error(t, err)
	assert.Nil(t, order)

	var insufficientErr *service.ErrInsufficientStock
	require.True(t, errors.As(err, &insufficientErr))
	assert.Equal(t, int64(1), insufficientErr.ProductID)

	// Транзакция откатилась целиком: ни заказа, ни уведомлений, ни событий.
	assert.Nil(t, env.orders.created)
	assert.Empty(t, env.notifs.created)
	assert.Empty(t, env.publisher.eventTypes)
	assert.NoError(t, env.mock.ExpectationsWereMet())
}

func TestPlaceOrder_EmptyCart(t *testing.T) {
	env := newOrderTestEnv(t)
	defer env.close()

	order, err := env.svc.PlaceOrder(context.Background(), 7, "Budi", nil, "")
	assert.Error(t, err)
	assert.Nil(t, order)
	// До транзакции дело не дошло.
	assert.NoError(t, env.mock.ExpectationsWereMet())
}

func TestPlaceOrder_NonPositiveQuantity(t *testing.T) {
	env := newOrderTestEnv(t)
	defer env.close()

	lines := []models.OrderLineItem{{ProductID: 1, Name: "Nasi Goreng", Price: 25000, Quantity: 0}}
	order, err := env.svc.PlaceOrder(context.Background(), 7, "Budi", lines, "")
	assert.Error(t, err)
	assert.Nil(t, order)
}

func TestPlaceOrder_IdempotentReplay(t *testing.T) {
	existing := &models.Order{
		ID:             "order-1",
		UserID:         7,
		Status:         models.StatusPending,
		IdempotencyKey: "req-abc",
		Items: []models.OrderLineItem{
			{ProductID: 1, Name: "Nasi Goreng", Price: 25000, Quantity: 2},
		},
	}
	env := newOrderTestEnv(t, existing)
	defer env.close()

	lines := []models.OrderLineItem{{ProductID: 1, Name: "Nasi Goreng", Price: 25000, Quantity: 2}}
	order, err := env.svc.PlaceOrder(context.Background(), 7, "Budi", lines, "req-abc")
	require.NoError(t, err)

	// Повтор с тем же ключом отдает уже созданный заказ без нового списания.
	assert.Equal(t, "order-1", order.ID)
	assert.Empty(t, env.stock.applied)
	assert.Empty(t, env.notifs.created)
	assert.Empty(t, env.publisher.eventTypes)
	assert.NoError(t, env.mock.ExpectationsWereMet())
}

func TestAdvanceStatus_Success(t *testing.T) {
	order := &models.Order{
		ID:     "order-1",
		UserID: 7,
		Status: models.StatusPending,
	}
	env := newOrderTestEnv(t, order)
	defer env.close()

	env.mock.ExpectBegin()
	env.mock.ExpectCommit()

	err := env.svc.AdvanceStatus(context.Background(), "order-1", models.StatusProcessing)
	require.NoError(t, err)

	assert.Equal(t, models.StatusProcessing, env.orders.statusUpdates["order-1"])

	// Владелец заказа получает одно уведомление о смене статуса.
	require.Len(t, env.notifs.created, 1)
	assert.Equal(t, int64(7), env.notifs.created[0].RecipientUserID)
	assert.Equal(t, models.NotificationStatusUpdate, env.notifs.created[0].Type)
	assert.Equal(t, "Pesanan anda telah processing", env.notifs.created[0].Body)

	assert.Equal(t, []string{events.OrderStatusChanged}, env.publisher.eventTypes)
	assert.NoError(t, env.mock.ExpectationsWereMet())
}

func TestAdvanceStatus_IllegalTransition(t *testing.T) {
	order := &models.Order{
		ID:     "order-1",
		UserID: 7,
		Status: models.StatusCompleted,
	}
	env := newOrderTestEnv(t, order)
	defer env.close()

	env.mock.ExpectBegin()
	env.mock.ExpectRollback()

	err := env.svc.AdvanceStatus(context.Background(), "order-1", models.StatusProcessing)
	assert.Error(t, err)

	var stateErr *service.ErrInvalidState
	require.True(t, errors.As(err, &stateErr))
	assert.Equal(t, models.StatusCompleted, stateErr.Current)
	assert.Equal(t, models.StatusProcessing, stateErr.Attempted)

	assert.Empty(t, env.orders.statusUpdates)
	assert.Empty(t, env.notifs.created)
	assert.NoError(t, env.mock.ExpectationsWereMet())
}

func TestAdvanceStatus_OrderNotFound(t *testing.T) {
	env := newOrderTestEnv(t)
	defer env.close()

	env.mock.ExpectBegin()
	env.mock.ExpectRollback()

	err := env.svc.AdvanceStatus(context.Background(), "missing", models.StatusProcessing)
	assert.True(t, errors.Is(err, storage.ErrOrderNotFound))
	assert.NoError(t, env.mock.ExpectationsWereMet())
}

func TestCancel_WithinWindow(t *testing.T) {
	now := time.Now()
	order := &models.Order{
		ID:               "order-1",
		UserID:           7,
		UserName:         "Budi",
		Status:           models.StatusPending,
		CreatedAt:        now,
		CancellableUntil: now.Add(time.Minute),
		Items: []models.OrderLineItem{
			{ProductID: 1, Name: "Nasi Goreng", Price: 25000, Quantity: 2},
			{ProductID: 3, Name: "Es Teh", Price: 5000, Quantity: 1},
		},
	}
	env := newOrderTestEnv(t, order)
	defer env.close()

	env.mock.ExpectBegin()
	env.mock.ExpectCommit()

	err := env.svc.Cancel(context.Background(), "order-1", 7)
	require.NoError(t, err)

	// Остатки вернулись ровно в объеме заказа.
	require.Len(t, env.stock.applied, 1)
	assert.Equal(t, []service.StockDelta{
		{ProductID: 1, Delta: 2},
		{ProductID: 3, Delta: 1},
	}, env.stock.applied[0])

	assert.Equal(t, models.StatusCancelled, env.orders.statusUpdates["order-1"])

	require.Len(t, env.notifs.created, 2)
	assert.Equal(t, models.NotificationCancelled, env.notifs.created[0].Type)
	assert.Equal(t, "Pesanan dari Budi telah dibatalkan.", env.notifs.created[0].Body)

	assert.Equal(t, []string{events.OrderCancelled}, env.publisher.eventTypes)
	assert.NoError(t, env.mock.ExpectationsWereMet())
}

func TestCancel_WindowExpired(t *testing.T) {
	now := time.Now()
	order := &models.Order{
		ID:               "order-1",
		UserID:           7,
		Status:           models.StatusPending,
		CreatedAt:        now.Add(-10 * time.Minute),
		CancellableUntil: now.Add(-5 * time.Minute),
	}
	env := newOrderTestEnv(t, order)
	defer env.close()

	env.mock.ExpectBegin()
	env.mock.ExpectRollback()

	err := env.svc.Cancel(context.Background(), "order-1", 7)
	assert.Error(t, err)

	var expiredErr *service.ErrCancellationExpired
	require.True(t, errors.As(err, &expiredErr))
	assert.Equal(t, "order-1", expiredErr.OrderID)
	assert.Equal(t, order.CancellableUntil, expiredErr.Deadline)

	// Остатки не трогались, статус не менялся.
	assert.Empty(t, env.stock.applied)
	assert.Empty(t, env.orders.statusUpdates)
	assert.NoError(t, env.mock.ExpectationsWereMet())
}

func TestCancel_NonPendingState(t *testing.T) {
	order := &models.Order{
		ID:               "order-1",
		UserID:           7,
		Status:           models.StatusProcessing,
		CancellableUntil: time.Now().Add(time.Minute),
	}
	env := newOrderTestEnv(t, order)
	defer env.close()

	env.mock.ExpectBegin()
	env.mock.ExpectRollback()

	err := env.svc.Cancel(context.Background(), "order-1", 7)
	assert.Error(t, err)

	var stateErr *service.ErrInvalidState
	require.True(t, errors.As(err, &stateErr))
	assert.Equal(t, models.StatusProcessing, stateErr.Current)
	assert.Equal(t, models.StatusCancelled, stateErr.Attempted)
	assert.NoError(t, env.mock.ExpectationsWereMet())
}

func TestCancel_NotOwner(t *testing.T) {
	order := &models.Order{
		ID:               "order-1",
		UserID:           7,
		Status:           models.StatusPending,
		CancellableUntil: time.Now().Add(time.Minute),
	}
	env := newOrderTestEnv(t, order)
	defer env.close()

	env.mock.ExpectBegin()
	env.mock.ExpectRollback()

	// Чужой заказ неотличим от несуществующего.
	err := env.svc.Cancel(context.Background(), "order-1", 42)
	assert.True(t, errors.Is(err, storage.ErrOrderNotFound))
	assert.Empty(t, env.stock.applied)
	assert.NoError(t, env.mock.ExpectationsWereMet())
}

func TestDelete_RestoresStock(t *testing.T) {
	order := &models.Order{
		ID:     "order-1",
		UserID: 7,
		Status: models.StatusProcessing,
		Items: []models.OrderLineItem{
			{ProductID: 1, Name: "Nasi Goreng", Price: 25000, Quantity: 2},
		},
	}
	env := newOrderTestEnv(t, order)
	defer env.close()

	env.mock.ExpectBegin()
	env.mock.ExpectCommit()

	err := env.svc.Delete(context.Background(), "order-1")
	require.NoError(t, err)

	require.Len(t, env.stock.applied, 1)
	assert.Equal(t, []service.StockDelta{{ProductID: 1, Delta: 2}}, env.stock.applied[0])
	assert.Equal(t, []string{"order-1"}, env.orders.deleted)
	assert.Equal(t, []string{events.OrderDeleted}, env.publisher.eventTypes)
	assert.NoError(t, env.mock.ExpectationsWereMet())
}

func TestDelete_TerminalStateRejected(t *testing.T) {
	for _, status := range []models.OrderStatus{models.StatusCompleted, models.StatusCancelled} {
		t.Run(string(status), func(t *testing.T) {
			order := &models.Order{ID: "order-1", UserID: 7, Status: status}
			env := newOrderTestEnv(t, order)
			defer env.close()

			env.mock.ExpectBegin()
			env.mock.ExpectRollback()

			err := env.svc.Delete(context.Background(), "order-1")
			assert.Error(t, err)

			var stateErr *service.ErrInvalidState
			require.True(t, errors.As(err, &stateErr))
			assert.Equal(t, status, stateErr.Current)

			// Повторного возврата остатков быть не должно.
			assert.Empty(t, env.stock.applied)
			assert.Empty(t, env.orders.deleted)
			assert.NoError(t, env.mock.ExpectationsWereMet())
		})
	}
}

func TestOrdersByUser(t *testing.T) {
	env := newOrderTestEnv(t,
		&models.Order{ID: "order-1", UserID: 7, Status: models.StatusPending},
		&models.Order{ID: "order-2", UserID: 42, Status: models.StatusPending},
	)
	defer env.close()

	orders, err := env.svc.OrdersByUser(context.Background(), 7)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, "order-1", orders[0].ID)
}

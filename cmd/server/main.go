package main

import (
	"context"

	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/linemk/ibr-resto/internal/app"
	"github.com/linemk/ibr-resto/internal/app/handlers"
	"github.com/linemk/ibr-resto/internal/config"
	"github.com/linemk/ibr-resto/internal/jwt-new/jwtmiddleware"
	"github.com/linemk/ibr-resto/internal/lib/events"
	"github.com/linemk/ibr-resto/internal/lib/logger"
	"github.com/linemk/ibr-resto/internal/lib/logger/handlers/urllog"
	"github.com/linemk/ibr-resto/internal/service"
	"github.com/linemk/ibr-resto/internal/storage"
	"github.com/pkg/errors"
)

func main() {
	// загрузка конфигурации
	cfg := config.MustLoad()

	// инициализация логгера, зависит от настройки окружения
	log := logger.SetupLogger(cfg.Env)
	log.Info("starting app", slog.String("env", cfg.Env))

	// загружаем объект приложения, конфигом и подключением к БД
	application, err := app.NewApp(log, cfg)
	if err != nil {
		log.Error("failed to initialize app", slog.Any("error", err))
		panic(errors.Wrap(err, "failed to initialize app"))
	}
	defer application.DB.Close()

	// публикация событий о закоммиченных изменениях (для live-подписчиков);
	// без Redis работаем с заглушкой
	var publisher events.Publisher = events.NopPublisher{}
	if cfg.Redis.Addr != "" {
		redisClient := events.NewClient(cfg.Redis.Addr)
		defer redisClient.Close()
		publisher = events.NewRedisPublisher(log, redisClient, cfg.Redis.Channel)
	}

	router := chi.NewRouter()
	// настройка middleware
	router.Use(middleware.RequestID)
	router.Use(urllog.CustomLoggerMiddleware(log))
	router.Use(middleware.Recoverer)
	router.Use(middleware.URLFormat)

	// реализация слоев по работе с БД по каждому направлению
	userRepo := storage.NewUserRepository(application.DB)
	productRepo := storage.NewProductRepository(application.DB)
	orderRepo := storage.NewOrderRepository(application.DB)
	saleRepo := storage.NewSaleRepository(application.DB)
	notifRepo := storage.NewNotificationRepository(application.DB)

	stockService := service.NewStockService(application.Logger, productRepo)
	authService := service.NewAuthService(application.Logger, userRepo, time.Duration(application.Config.JWT.TokenTTL)*time.Minute)
	catalogService := service.NewCatalogService(application.Logger, application.DB, stockService, productRepo, publisher)
	orderService := service.NewOrderService(application.Logger, application.DB, stockService, userRepo, orderRepo, notifRepo, publisher)
	checkoutService := service.NewCheckoutService(application.Logger, application.DB, stockService, saleRepo, publisher)
	notificationService := service.NewNotificationService(application.Logger, notifRepo)

	// открытые эндпоинты
	router.Post("/api/auth/register", handlers.RegisterHandler(application.Logger, authService))
	router.Post("/api/auth/login", handlers.LoginHandler(application.Logger, authService))
	router.Get("/api/products", handlers.ListProductsHandler(application.Logger, catalogService))

	jwtMW := jwtmiddleware.NewJWTMiddleware()

	// эндпоинты клиента
	router.Group(func(r chi.Router) {
		r.Use(jwtMW)
		r.Post("/api/orders", handlers.PlaceOrderHandler(application.Logger, orderService, catalogService))
		r.Get("/api/orders", handlers.MyOrdersHandler(application.Logger, orderService))
		r.Post("/api/orders/{id}/cancel", handlers.CancelOrderHandler(application.Logger, orderService))
		r.Get("/api/notifications", handlers.UnreadNotificationsHandler(application.Logger, notificationService))
		r.Post("/api/notifications/{id}/read", handlers.MarkNotificationReadHandler(application.Logger, notificationService))
	})

	// эндпоинты сотрудников (касса, кухня, склад)
	router.Group(func(r chi.Router) {
		r.Use(jwtMW)
		r.Use(jwtmiddleware.AdminOnly)
		r.Post("/api/admin/orders/{id}/status", handlers.AdvanceStatusHandler(application.Logger, orderService))
		r.Delete("/api/admin/orders/{id}", handlers.DeleteOrderHandler(application.Logger, orderService))
		r.Post("/api/admin/checkout", handlers.CheckoutHandler(application.Logger, checkoutService, catalogService))
		r.Get("/api/admin/sales", handlers.SalesReportHandler(application.Logger, checkoutService))
		r.Delete("/api/admin/sales/{id}", handlers.ReverseSaleHandler(application.Logger, checkoutService))
		r.Post("/api/admin/products", handlers.CreateProductHandler(application.Logger, catalogService))
		r.Put("/api/admin/products/{id}", handlers.UpdateProductHandler(application.Logger, catalogService))
		r.Post("/api/admin/products/{id}/restock", handlers.RestockHandler(application.Logger, catalogService))
	})

	srv := &http.Server{
		Addr:         cfg.HTTPServer.Address,
		Handler:      router,
		ReadTimeout:  cfg.HTTPServer.Timeout,
		WriteTimeout: cfg.HTTPServer.Timeout,
		IdleTimeout:  cfg.HTTPServer.IdleTimeout,
	}

	go func() {
		log.Info("starting server", slog.String("address", cfg.HTTPServer.Address))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", slog.Any("error", err))
		}
	}()

	// graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	stopSign := <-stop
	log.Info("received shutdown signal", slog.String("signal", stopSign.String()))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("server shutdown failed", slog.Any("error", err))
	}
	log.Info("server gracefully stopped")
}

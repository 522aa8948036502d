package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Captain-Catto/starbuck-cups-backend-sub002/internal/app"
	"github.com/Captain-Catto/starbuck-cups-backend-sub002/internal/app/handlers"
	"github.com/Captain-Catto/starbuck-cups-backend-sub002/internal/config"
	"github.com/Captain-Catto/starbuck-cups-backend-sub002/internal/domain/models"
	"github.com/Captain-Catto/starbuck-cups-backend-sub002/internal/events"
	"github.com/Captain-Catto/starbuck-cups-backend-sub002/internal/jwt-new/jwtmiddleware"
	"github.com/Captain-Catto/starbuck-cups-backend-sub002/internal/lib/logger"
	"github.com/Captain-Catto/starbuck-cups-backend-sub002/internal/lib/logger/handlers/urllog"
	"github.com/Captain-Catto/starbuck-cups-backend-sub002/internal/notification"
	"github.com/Captain-Catto/starbuck-cups-backend-sub002/internal/realtime"
	"github.com/Captain-Catto/starbuck-cups-backend-sub002/internal/service"
	"github.com/Captain-Catto/starbuck-cups-backend-sub002/internal/storage"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/pkg/errors"
)

func main() {
	// загрузка конфигурации
	cfg := config.MustLoad()

	// инициализация логгера, зависит от настройки окружения
	log := logger.SetupLogger(cfg.Env)
	log.Info("starting app", slog.String("env", cfg.Env))

	// объект приложения: конфиг, подключение к БД, метрики
	application, err := app.NewApp(log, cfg)
	if err != nil {
		log.Error("failed to initialize app", slog.Any("error", err))
		panic(errors.Wrap(err, "failed to initialize app"))
	}
	defer application.DB.Close()

	// хранилища
	orderRepo := storage.NewOrderRepository(application.DB)
	productRepo := storage.NewProductRepository(application.DB)
	customerRepo := storage.NewCustomerRepository(application.DB)
	stockLedger := storage.NewStockLedger(application.DB)
	notificationRepo := storage.NewNotificationRepository(application.DB)

	// шина событий, реестр подключений и диспетчер уведомлений
	bus := events.New(log, cfg.Notifications.BusBuffer, cfg.Notifications.HandlerTimeout, application.Metrics)
	registry := realtime.NewRegistry(log, application.Metrics, realtime.Options{
		SendTimeout: cfg.Notifications.SendTimeout,
		Parallelism: cfg.Notifications.FanoutParallelism,
	})
	dispatcher := notification.NewDispatcher(log, notificationRepo, registry, application.Metrics)
	if err := bus.Subscribe("notification-dispatcher", dispatcher.Handle, models.AllTopics...); err != nil {
		panic(errors.Wrap(err, "failed to subscribe dispatcher"))
	}

	orderService := service.NewOrderService(log, application.DB, service.Repositories{
		Orders:    orderRepo,
		Products:  productRepo,
		Customers: customerRepo,
		Stock:     stockLedger,
	}, bus, application.Metrics, cfg.Inventory.LowStockThreshold)

	router := chi.NewRouter()
	// настройка middleware
	router.Use(middleware.RequestID)
	router.Use(urllog.CustomLoggerMiddleware(log))
	router.Use(middleware.Recoverer)
	router.Use(middleware.URLFormat)

	router.Get("/health", handlers.HealthHandler(log, application.DB, registry.Count))
	router.Handle("/metrics", application.Metrics.Handler())

	wsOpts := realtime.WSOptions{
		SendBuffer:   cfg.WebSocket.SendBuffer,
		WriteTimeout: cfg.WebSocket.WriteTimeout,
		PongTimeout:  cfg.WebSocket.PongWait,
		PingInterval: cfg.WebSocket.PingInterval,
	}

	router.Group(func(r chi.Router) {
		r.Use(jwtmiddleware.NewJWTMiddleware(cfg.JWT.Secret))

		// админские сессии
		r.Get("/ws", handlers.WebSocketHandler(log, registry, dispatcher, handlers.NewUpgrader(cfg.WebSocket.AllowedOrigins), wsOpts))

		// заказы
		r.Post("/api/orders", handlers.CreateOrderHandler(log, orderService))
		r.Get("/api/orders", handlers.ListOrdersHandler(log, orderService))
		r.Get("/api/orders/{id}", handlers.GetOrderHandler(log, orderService))
		r.Put("/api/orders/{id}/items", handlers.ReplaceItemsHandler(log, orderService))
		r.Post("/api/orders/{id}/confirm", handlers.ConfirmOrderHandler(log, orderService))
		r.Post("/api/orders/{id}/status", handlers.AdvanceStatusHandler(log, orderService))
		r.Post("/api/orders/{id}/cancel", handlers.CancelOrderHandler(log, orderService))

		// уведомления
		r.Get("/api/notifications", handlers.ListNotificationsHandler(log, dispatcher))
		r.Get("/api/notifications/unread-count", handlers.UnreadCountHandler(log, dispatcher))
		r.Post("/api/notifications/read-all", handlers.MarkAllReadHandler(log, dispatcher))
		r.Post("/api/notifications/system", handlers.SystemAnnouncementHandler(log, bus))
		r.Post("/api/notifications/{id}/read", handlers.MarkReadHandler(log, dispatcher))

		// входящие события сервиса консультаций
		r.Post("/api/consultations/events", handlers.ConsultationEventHandler(log, bus))
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

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// websocket-соединения сервер не ждёт, закрываем их сами
	registry.CloseAll()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("server shutdown failed", slog.Any("error", err))
	}
	// дописываем уведомления, которые уже в очереди
	if err := bus.Close(ctx); err != nil {
		log.Error("event bus drain failed", slog.Any("error", err))
	}
	log.Info("server gracefully stopped")
}

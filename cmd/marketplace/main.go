// Package main запускает HTTP-сервер маркетплейса услуг.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/teleserv/marketplace-system/internal/config"
	"github.com/teleserv/marketplace-system/internal/handler"
	"github.com/teleserv/marketplace-system/internal/middleware"
	"github.com/teleserv/marketplace-system/internal/notification"
	"github.com/teleserv/marketplace-system/internal/provider/robokassa"
	"github.com/teleserv/marketplace-system/internal/provider/telegram"
	"github.com/teleserv/marketplace-system/internal/provider/yookassa"
	"github.com/teleserv/marketplace-system/internal/repository"
	"github.com/teleserv/marketplace-system/internal/service"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	repo, err := repository.NewPostgresRepository(cfg.DatabaseURI)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}
	defer repo.Close()

	yooKassaClient := yookassa.NewClient(yookassa.DefaultBaseURL, cfg.YooKassaShopID, cfg.YooKassaSecretKey)
	robokassaClient := robokassa.New(cfg.RobokassaMerchantLogin, cfg.RobokassaPassword1, cfg.RobokassaPassword2, cfg.RobokassaTestMode)

	telegramClient := telegram.NewClient(telegram.DefaultBaseURL, cfg.TelegramBotToken)

	// Без настроенного бота уведомления сохраняются, но не доставляются.
	var messenger notification.Messenger
	if cfg.TelegramBotToken != "" {
		messenger = telegramClient
	}
	notifier := notification.NewService(repo, messenger, logger)

	orderService := service.NewOrderService(repo, notifier, cfg.CommissionPercentage)
	paymentService := service.NewPaymentService(repo, yooKassaClient, robokassaClient, telegramClient, notifier, cfg.YooKassaReturnURL, logger)

	authMiddleware := middleware.NewAuthMiddleware(cfg.AuthSecret)
	h := handler.NewHandler(orderService, paymentService, paymentService, logger, authMiddleware)

	r := h.SetupRouter()

	server := &http.Server{
		Addr:    cfg.RunAddress,
		Handler: r,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Регистрация webhook бота. Сбой не мешает запуску: платежи картами
	// работают и без Bot API.
	g.Go(func() error {
		if cfg.TelegramBotToken == "" || cfg.TelegramWebhookURL == "" {
			return nil
		}
		registerCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		defer cancel()
		if err := telegramClient.SetWebhook(registerCtx, cfg.TelegramWebhookURL); err != nil {
			sugar.Errorw("telegram webhook registration failed", "error", err.Error())
		} else {
			sugar.Infow("telegram webhook registered", "url", cfg.TelegramWebhookURL)
		}
		return nil
	})

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting marketplace server", "addr", cfg.RunAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}

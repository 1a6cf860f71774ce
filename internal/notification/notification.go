// Package notification доставляет пользователям уведомления о событиях
// заказов: сохраняет их в хранилище и дублирует сообщением от бота.
package notification

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teleserv/marketplace-system/internal/model"
)

// Repository описывает контракт доступа к данным, используемый сервисом уведомлений.
type Repository interface {
	CreateNotification(ctx context.Context, n *model.Notification) error
	GetUserTelegramID(ctx context.Context, userID uuid.UUID) (int64, error)
}

// Messenger отправляет пользователю сообщение в Telegram.
type Messenger interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
}

// Service рассылает уведомления о событиях заказов. Доставка работает по
// принципу fire-and-forget: сбои логируются и не влияют на вызывающего.
type Service struct {
	repo      Repository
	messenger Messenger
	logger    *zap.Logger
}

// NewService создаёт сервис уведомлений. Messenger может быть nil —
// тогда уведомления только сохраняются в хранилище.
func NewService(repo Repository, messenger Messenger, logger *zap.Logger) *Service {
	return &Service{
		repo:      repo,
		messenger: messenger,
		logger:    logger,
	}
}

// SendOrderNotification сохраняет уведомление и отправляет его пользователю
// сообщением от бота. Ошибки не возвращаются.
func (s *Service) SendOrderNotification(ctx context.Context, userID uuid.UUID, eventType model.EventType, title, message string, orderID uuid.UUID) {
	n := &model.Notification{
		ID:        uuid.New(),
		UserID:    userID,
		Type:      eventType,
		Title:     title,
		Message:   message,
		OrderID:   orderID,
		CreatedAt: time.Now().UTC(),
	}

	if err := s.repo.CreateNotification(ctx, n); err != nil {
		s.logger.Error("store notification",
			zap.Error(err), zap.String("userID", userID.String()), zap.String("type", string(eventType)))
	}

	if s.messenger == nil {
		return
	}

	chatID, err := s.repo.GetUserTelegramID(ctx, userID)
	if err != nil {
		s.logger.Error("resolve telegram id", zap.Error(err), zap.String("userID", userID.String()))
		return
	}

	if err := s.messenger.SendMessage(ctx, chatID, title+"\n"+message); err != nil {
		s.logger.Error("send telegram notification", zap.Error(err), zap.String("userID", userID.String()))
	}
}

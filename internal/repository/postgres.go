// Package repository содержит реализацию доступа к данным в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/sethvargo/go-retry"

	"github.com/teleserv/marketplace-system/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrOrderNotFound возвращается, если заказ не найден.
var (
	ErrOrderNotFound = errors.New("order not found")
	// ErrPaymentNotFound возвращается, если платёж не найден.
	ErrPaymentNotFound = errors.New("payment not found")
	// ErrPaymentExists возвращается при попытке создать второй платёж для заказа.
	ErrPaymentExists = errors.New("payment already exists for order")
	// ErrPromoCodeNotFound возвращается, если промокод не найден.
	ErrPromoCodeNotFound = errors.New("promo code not found")
	// ErrUserNotFound возвращается, если пользователь не найден.
	ErrUserNotFound = errors.New("user not found")
	// ErrStatusConflict возвращается, если условное обновление статуса платежа
	// не нашло строку в ожидаемом состоянии: её уже перевёл другой обработчик.
	ErrStatusConflict = errors.New("payment status conflict")
)

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// withRetry повторяет fn при конфликтах сериализации, дедлоках и сетевых
// сбоях. Ошибки бизнес-логики и отмена контекста не ретраятся.
func (r *PostgresRepository) withRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	backoff := retry.WithMaxRetries(3, retry.NewConstant(time.Second))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn(ctx)
		if err == nil {
			return nil
		}

		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected {
				return retry.RetryableError(err)
			}
		}

		if isConnectionError(err) {
			return retry.RetryableError(err)
		}

		return err
	})
}

func isConnectionError(err error) bool {
	// Упрощенная проверка на ошибки соединения
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// GetCartItems возвращает корзину пользователя вместе с данными услуг.
func (r *PostgresRepository) GetCartItems(ctx context.Context, userID uuid.UUID) ([]model.CartItem, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT c.id, c.quantity, s.id, s.seller_id, s.title, s.description, s.price
		 FROM cart_items c
		 JOIN services s ON s.id = c.service_id
		 WHERE c.user_id = $1
		 ORDER BY c.created_at`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("select cart items: %w", err)
	}
	defer rows.Close()

	var items []model.CartItem
	for rows.Next() {
		item := model.CartItem{UserID: userID}
		if err := rows.Scan(
			&item.ID, &item.Quantity,
			&item.Service.ID, &item.Service.SellerID, &item.Service.Title,
			&item.Service.Description, &item.Service.Price,
		); err != nil {
			return nil, fmt.Errorf("scan cart item: %w", err)
		}
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return items, nil
}

// CreateOrdersFromCart атомарно сохраняет заказы с позициями, увеличивает
// счётчики заказов услуг и использований промокода и очищает корзину
// покупателя. Любая ошибка откатывает всю операцию целиком.
func (r *PostgresRepository) CreateOrdersFromCart(ctx context.Context, buyerID uuid.UUID, orders []*model.Order, promoCodeID uuid.UUID) error {
	return r.withRetry(ctx, func(ctx context.Context) error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		for _, o := range orders {
			if err := insertOrder(ctx, tx, o); err != nil {
				return err
			}

			for _, item := range o.Items {
				_, err = tx.Exec(ctx,
					`INSERT INTO order_items
					 (id, order_id, service_id, service_title, service_description, quantity, unit_price, total_price)
					 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
					item.ID, item.OrderID, item.ServiceID, item.ServiceTitle,
					item.ServiceDescription, item.Quantity, item.UnitPrice, item.TotalPrice,
				)
				if err != nil {
					return fmt.Errorf("insert order item: %w", err)
				}

				_, err = tx.Exec(ctx,
					`UPDATE services SET order_count = order_count + 1 WHERE id = $1`,
					item.ServiceID,
				)
				if err != nil {
					return fmt.Errorf("increment service order count: %w", err)
				}
			}
		}

		if promoCodeID != uuid.Nil {
			_, err = tx.Exec(ctx,
				`UPDATE promo_codes SET current_usage_count = current_usage_count + 1 WHERE id = $1`,
				promoCodeID,
			)
			if err != nil {
				return fmt.Errorf("increment promo usage: %w", err)
			}

			_, err = tx.Exec(ctx,
				`INSERT INTO promo_code_usages (promo_code_id, user_id, used_count)
				 VALUES ($1, $2, 1)
				 ON CONFLICT (promo_code_id, user_id)
				 DO UPDATE SET used_count = promo_code_usages.used_count + 1`,
				promoCodeID, buyerID,
			)
			if err != nil {
				return fmt.Errorf("record promo usage: %w", err)
			}
		}

		_, err = tx.Exec(ctx, `DELETE FROM cart_items WHERE user_id = $1`, buyerID)
		if err != nil {
			return fmt.Errorf("clear cart: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}

		return nil
	})
}

func insertOrder(ctx context.Context, tx pgx.Tx, o *model.Order) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO orders
		 (id, buyer_id, seller_id, status, sub_total, commission, total_amount,
		  payment_method, payment_status, promo_code, discount_amount, notes, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		o.ID, o.BuyerID, o.SellerID, string(o.Status), o.SubTotal, o.Commission,
		o.TotalAmount, string(o.PaymentMethod), string(o.PaymentStatus),
		o.PromoCode, o.DiscountAmount, o.Notes, o.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

const orderColumns = `id, buyer_id, seller_id, status, sub_total, commission, total_amount,
	payment_method, payment_status, promo_code, discount_amount, notes,
	created_at, paid_at, completed_at, cancelled_at, cancellation_reason`

func scanOrder(row pgx.Row) (*model.Order, error) {
	var o model.Order
	var status, method, paymentStatus string

	err := row.Scan(
		&o.ID, &o.BuyerID, &o.SellerID, &status, &o.SubTotal, &o.Commission,
		&o.TotalAmount, &method, &paymentStatus, &o.PromoCode, &o.DiscountAmount,
		&o.Notes, &o.CreatedAt, &o.PaidAt, &o.CompletedAt, &o.CancelledAt,
		&o.CancellationReason,
	)
	if err != nil {
		return nil, err
	}

	o.Status = model.OrderStatus(status)
	o.PaymentMethod = model.PaymentProvider(method)
	o.PaymentStatus = model.PaymentStatus(paymentStatus)
	return &o, nil
}

// GetOrder возвращает заказ без позиций.
func (r *PostgresRepository) GetOrder(ctx context.Context, id uuid.UUID) (*model.Order, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)

	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}

	return o, nil
}

// GetOrderWithItems возвращает заказ вместе с позициями.
func (r *PostgresRepository) GetOrderWithItems(ctx context.Context, id uuid.UUID) (*model.Order, error) {
	o, err := r.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}

	rows, err := r.pool.Query(ctx,
		`SELECT id, order_id, service_id, service_title, service_description, quantity, unit_price, total_price
		 FROM order_items WHERE order_id = $1`,
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("select order items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var item model.OrderItem
		if err := rows.Scan(
			&item.ID, &item.OrderID, &item.ServiceID, &item.ServiceTitle,
			&item.ServiceDescription, &item.Quantity, &item.UnitPrice, &item.TotalPrice,
		); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		o.Items = append(o.Items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return o, nil
}

// GetOrdersByUser возвращает страницу заказов пользователя как покупателя
// или продавца и общее число его заказов в этой роли.
func (r *PostgresRepository) GetOrdersByUser(ctx context.Context, userID uuid.UUID, asSeller bool, limit, offset int) ([]model.Order, int64, error) {
	column := "buyer_id"
	if asSeller {
		column = "seller_id"
	}

	var total int64
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM orders WHERE `+column+` = $1`, userID,
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count orders: %w", err)
	}

	rows, err := r.pool.Query(ctx,
		`SELECT `+orderColumns+` FROM orders
		 WHERE `+column+` = $1
		 ORDER BY created_at DESC
		 LIMIT $2 OFFSET $3`,
		userID, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("select orders: %w", err)
	}
	defer rows.Close()

	var orders []model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, *o)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("rows error: %w", err)
	}

	return orders, total, nil
}

// UpdateOrder сохраняет изменяемые поля заказа после перехода статуса.
func (r *PostgresRepository) UpdateOrder(ctx context.Context, o *model.Order) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE orders SET
		   status = $2, payment_status = $3, paid_at = $4, completed_at = $5,
		   cancelled_at = $6, cancellation_reason = $7
		 WHERE id = $1`,
		o.ID, string(o.Status), string(o.PaymentStatus),
		o.PaidAt, o.CompletedAt, o.CancelledAt, o.CancellationReason,
	)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	return nil
}

// CreatePayment сохраняет новый платёж. Уникальность по заказу обеспечивает
// не более одного платежа на заказ.
func (r *PostgresRepository) CreatePayment(ctx context.Context, p *model.Payment) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO payments
		 (id, order_id, amount, currency, provider, status, external_id,
		  confirmation_url, error_code, error_message, metadata, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		p.ID, p.OrderID, p.Amount, p.Currency, string(p.Provider), string(p.Status),
		p.ExternalID, p.ConfirmationURL, p.ErrorCode, p.ErrorMessage, p.Metadata, p.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return fmt.Errorf("%w: order %s", ErrPaymentExists, p.OrderID)
		}
		return fmt.Errorf("create payment: %w", err)
	}
	return nil
}

const paymentColumns = `id, order_id, amount, currency, provider, status, external_id,
	confirmation_url, error_code, error_message, metadata, created_at, completed_at`

func scanPayment(row pgx.Row) (*model.Payment, error) {
	var p model.Payment
	var provider, status string

	err := row.Scan(
		&p.ID, &p.OrderID, &p.Amount, &p.Currency, &provider, &status,
		&p.ExternalID, &p.ConfirmationURL, &p.ErrorCode, &p.ErrorMessage,
		&p.Metadata, &p.CreatedAt, &p.CompletedAt,
	)
	if err != nil {
		return nil, err
	}

	p.Provider = model.PaymentProvider(provider)
	p.Status = model.PaymentStatus(status)
	return &p, nil
}

func (r *PostgresRepository) getPayment(ctx context.Context, query string, arg any) (*model.Payment, error) {
	p, err := scanPayment(r.pool.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, fmt.Errorf("get payment: %w", err)
	}
	return p, nil
}

// GetPayment возвращает платёж по идентификатору.
func (r *PostgresRepository) GetPayment(ctx context.Context, id uuid.UUID) (*model.Payment, error) {
	return r.getPayment(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id)
}

// GetPaymentByExternalID возвращает платёж по идентификатору провайдера.
func (r *PostgresRepository) GetPaymentByExternalID(ctx context.Context, externalID string) (*model.Payment, error) {
	return r.getPayment(ctx, `SELECT `+paymentColumns+` FROM payments WHERE external_id = $1`, externalID)
}

// GetPaymentByOrderID возвращает платёж по идентификатору заказа.
func (r *PostgresRepository) GetPaymentByOrderID(ctx context.Context, orderID uuid.UUID) (*model.Payment, error) {
	return r.getPayment(ctx, `SELECT `+paymentColumns+` FROM payments WHERE order_id = $1`, orderID)
}

// UpdatePayment сохраняет реквизиты платежа, полученные от провайдера при
// создании: внешний идентификатор, ссылку подтверждения, метаданные.
func (r *PostgresRepository) UpdatePayment(ctx context.Context, p *model.Payment) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE payments SET
		   status = $2, external_id = $3, confirmation_url = $4,
		   error_code = $5, error_message = $6, metadata = $7, completed_at = $8
		 WHERE id = $1`,
		p.ID, string(p.Status), p.ExternalID, p.ConfirmationURL,
		p.ErrorCode, p.ErrorMessage, p.Metadata, p.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("update payment: %w", err)
	}
	return nil
}

// TransitionPaymentStatus переводит платёж из одного из ожидаемых статусов
// в новый. Условное обновление служит оптимистичной блокировкой: если строку
// уже перевёл параллельный обработчик, возвращается ErrStatusConflict.
func (r *PostgresRepository) TransitionPaymentStatus(ctx context.Context, id uuid.UUID, from []model.PaymentStatus, to model.PaymentStatus) error {
	fromStr := make([]string, 0, len(from))
	for _, s := range from {
		fromStr = append(fromStr, string(s))
	}

	tag, err := r.pool.Exec(ctx,
		`UPDATE payments SET status = $2 WHERE id = $1 AND status = ANY($3)`,
		id, string(to), fromStr,
	)
	if err != nil {
		return fmt.Errorf("transition payment status: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return ErrStatusConflict
	}

	return nil
}

// SavePaymentAndOrder атомарно сохраняет платёж и его заказ. Обновление
// платежа условно по ожидаемым статусам: повторная доставка подтверждения
// или гонка с возвратом завершается ErrStatusConflict без изменения заказа.
func (r *PostgresRepository) SavePaymentAndOrder(ctx context.Context, p *model.Payment, o *model.Order, expect []model.PaymentStatus) error {
	return r.withRetry(ctx, func(ctx context.Context) error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		expectStr := make([]string, 0, len(expect))
		for _, s := range expect {
			expectStr = append(expectStr, string(s))
		}

		tag, err := tx.Exec(ctx,
			`UPDATE payments SET
			   status = $2, external_id = $3, confirmation_url = $4,
			   error_code = $5, error_message = $6, metadata = $7, completed_at = $8
			 WHERE id = $1 AND status = ANY($9)`,
			p.ID, string(p.Status), p.ExternalID, p.ConfirmationURL,
			p.ErrorCode, p.ErrorMessage, p.Metadata, p.CompletedAt, expectStr,
		)
		if err != nil {
			return fmt.Errorf("update payment: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrStatusConflict
		}

		_, err = tx.Exec(ctx,
			`UPDATE orders SET
			   status = $2, payment_status = $3, paid_at = $4, completed_at = $5,
			   cancelled_at = $6, cancellation_reason = $7
			 WHERE id = $1`,
			o.ID, string(o.Status), string(o.PaymentStatus),
			o.PaidAt, o.CompletedAt, o.CancelledAt, o.CancellationReason,
		)
		if err != nil {
			return fmt.Errorf("update order: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}

		return nil
	})
}

// GetPromoCodeByCode возвращает промокод по коду.
func (r *PostgresRepository) GetPromoCodeByCode(ctx context.Context, code string) (*model.PromoCode, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, code, discount_type, discount_value, min_order_amount,
		        max_discount_amount, max_usage_count, current_usage_count,
		        max_usage_per_user, valid_from, valid_to, is_active, created_at
		 FROM promo_codes WHERE code = $1`,
		code,
	)

	var p model.PromoCode
	var discountType string
	err := row.Scan(
		&p.ID, &p.Code, &discountType, &p.DiscountValue, &p.MinOrderAmount,
		&p.MaxDiscountAmount, &p.MaxUsageCount, &p.CurrentUsageCount,
		&p.MaxUsagePerUser, &p.ValidFrom, &p.ValidTo, &p.IsActive, &p.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPromoCodeNotFound
		}
		return nil, fmt.Errorf("get promo code: %w", err)
	}

	p.DiscountType = model.DiscountType(discountType)
	return &p, nil
}

// GetPromoUsageByUser возвращает, сколько раз пользователь применял промокод.
func (r *PostgresRepository) GetPromoUsageByUser(ctx context.Context, promoCodeID, userID uuid.UUID) (int, error) {
	var used int
	err := r.pool.QueryRow(ctx,
		`SELECT COALESCE(
		   (SELECT used_count FROM promo_code_usages WHERE promo_code_id = $1 AND user_id = $2), 0)`,
		promoCodeID, userID,
	).Scan(&used)
	if err != nil {
		return 0, fmt.Errorf("get promo usage: %w", err)
	}
	return used, nil
}

// GetUserTelegramID возвращает идентификатор пользователя в Telegram.
func (r *PostgresRepository) GetUserTelegramID(ctx context.Context, userID uuid.UUID) (int64, error) {
	var telegramID int64
	err := r.pool.QueryRow(ctx,
		`SELECT telegram_id FROM users WHERE id = $1`, userID,
	).Scan(&telegramID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrUserNotFound
		}
		return 0, fmt.Errorf("get user telegram id: %w", err)
	}
	return telegramID, nil
}

// CreateNotification сохраняет уведомление пользователя.
func (r *PostgresRepository) CreateNotification(ctx context.Context, n *model.Notification) error {
	var orderID any
	if n.OrderID != uuid.Nil {
		orderID = n.OrderID
	}

	_, err := r.pool.Exec(ctx,
		`INSERT INTO notifications (id, user_id, type, title, message, order_id, is_read, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		n.ID, n.UserID, string(n.Type), n.Title, n.Message, orderID, n.IsRead, n.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create notification: %w", err)
	}
	return nil
}

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

type Storage struct {
	db     *sqlx.DB
	logger *zap.Logger
}

type Customer struct {
	TelegramID int64  `db:"telegram_id"`
	Name       string `db:"name"`
	Phone      string `db:"phone"`
	City       string `db:"city"`
	PostOffice string `db:"post_office"`
	UpdatedAt  string `db:"updated_at"`
}

func New(ctx context.Context, path string, logger *zap.Logger) (*Storage, error) {
	const operation = "storage.New"

	var db *sqlx.DB

	retryPolicy := backoff.NewExponentialBackOff()
	retryPolicy.MaxElapsedTime = 30 * time.Second

	logger.Info("Opening SQLite database...", zap.String("path", path))

	err := backoff.RetryNotify(
		func() error {
			var err error
			db, err = sqlx.ConnectContext(ctx, "sqlite", path)
			if err != nil {
				return fmt.Errorf("connect: %w", err)
			}
			return nil
		},
		retryPolicy,
		func(err error, duration time.Duration) {
			logger.Warn("SQLite open failed, retrying...",
				zap.Error(err),
				zap.Duration("next_attempt_in", duration))
		},
	)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to open database: %w", operation, err)
	}

	// SQLite allows a single writer; serializing through one connection
	// avoids SQLITE_BUSY under concurrent handlers.
	db.SetMaxOpenConns(1)

	if err := RunMigrations(ctx, db.DB, logger); err != nil {
		return nil, fmt.Errorf("%s: %w", operation, err)
	}

	logger.Info("SQLite database ready")
	return &Storage{db: db, logger: logger}, nil
}

func (s *Storage) Close() error {
	return s.db.Close()
}

// GetCustomer returns the stored customer record or nil when absent.
func (s *Storage) GetCustomer(ctx context.Context, telegramID int64) (*Customer, error) {
	const operation = "storage.GetCustomer"

	var customer Customer
	err := s.db.GetContext(ctx, &customer,
		`SELECT telegram_id, name, phone, city, post_office, updated_at
		 FROM customers WHERE telegram_id = ?`,
		telegramID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", operation, err)
	}
	return &customer, nil
}

// SaveOrUpdateCustomer upserts the record keyed by telegram id.
func (s *Storage) SaveOrUpdateCustomer(ctx context.Context, customer Customer) error {
	const operation = "storage.SaveOrUpdateCustomer"

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO customers (telegram_id, name, phone, city, post_office, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(telegram_id) DO UPDATE SET
			name = excluded.name,
			phone = excluded.phone,
			city = excluded.city,
			post_office = excluded.post_office,
			updated_at = excluded.updated_at`,
		customer.TelegramID,
		customer.Name,
		customer.Phone,
		customer.City,
		customer.PostOffice,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("%s: %w", operation, err)
	}
	return nil
}

// GetSetting returns the stored value for key, or "" when unset.
func (s *Storage) GetSetting(ctx context.Context, key string) (string, error) {
	const operation = "storage.GetSetting"

	var value string
	err := s.db.GetContext(ctx, &value,
		`SELECT value FROM bot_settings WHERE key = ?`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("%s: %w", operation, err)
	}
	return value, nil
}

func (s *Storage) SetSetting(ctx context.Context, key, value string) error {
	const operation = "storage.SetSetting"

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO bot_settings (key, value)
		 VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value)
	if err != nil {
		return fmt.Errorf("%s: %w", operation, err)
	}
	return nil
}

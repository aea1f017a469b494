package orders

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Record is one submitted order as written to the orders worksheet.
type Record struct {
	UserID       int64
	ChatID       int64
	ProductID    string
	ProductName  string
	ProductPrice string
	Name         string
	Phone        string
	City         string
	Branch       string
}

type RowStore interface {
	FetchRawRows(ctx context.Context, skipHeader bool) ([][]string, error)
	AppendRow(ctx context.Context, values []string) error
}

// Log appends submitted orders to the orders worksheet with sequential ids.
type Log struct {
	store  RowStore
	logger *zap.Logger
	mu     sync.Mutex
}

func NewLog(store RowStore, logger *zap.Logger) *Log {
	return &Log{store: store, logger: logger}
}

// nextOrderID derives the next sequential id from the existing rows. Rows
// whose first cell is not numeric are skipped.
func (l *Log) nextOrderID(ctx context.Context) (int, error) {
	rows, err := l.store.FetchRawRows(ctx, true)
	if err != nil {
		return 0, fmt.Errorf("fetch order rows: %w", err)
	}

	last := 0
	for _, row := range rows {
		if len(row) == 0 {
			continue
		}
		id, err := strconv.Atoi(strings.TrimSpace(row[0]))
		if err != nil {
			continue
		}
		if id > last {
			last = id
		}
	}
	return last + 1, nil
}

func (l *Log) Append(ctx context.Context, record Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	id, err := l.nextOrderID(ctx)
	if err != nil {
		return err
	}

	err = l.store.AppendRow(ctx, []string{
		strconv.Itoa(id),
		strconv.FormatInt(record.UserID, 10),
		strconv.FormatInt(record.ChatID, 10),
		record.ProductID,
		record.ProductName,
		record.ProductPrice,
		record.Name,
		record.Phone,
		record.City,
		record.Branch,
		time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("append order row: %w", err)
	}

	l.logger.Info("Order appended to log",
		zap.Int("order_row_id", id),
		zap.Int64("user_id", record.UserID),
		zap.String("product_id", record.ProductID))
	return nil
}

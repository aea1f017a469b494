package users

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"
)

// Users worksheet layout: user id, chat id, username, first name,
// created-at, status.
const (
	userIDColumn = 1
	statusColumn = 6

	StatusActive = "active"
	StatusLeft   = "left"
)

type Entry struct {
	UserID    int64
	ChatID    int64
	Username  string
	FirstName string
	CreatedAt time.Time
	Status    string
}

type Stats struct {
	Total  int
	Active int
	Left   int
}

type RowStore interface {
	FetchRawRows(ctx context.Context, skipHeader bool) ([][]string, error)
	AppendRow(ctx context.Context, values []string) error
	UpdateCell(ctx context.Context, row, col int, value string) error
	FindRowIndex(ctx context.Context, col int, value string) (int, error)
}

// Directory tracks one worksheet row per Telegram user. Row positions are
// cached in-process; writes for the same user id serialize on a per-key lock
// so racing reachability signals cannot interleave a lookup and an update.
type Directory struct {
	store  RowStore
	logger *zap.Logger

	mu       sync.Mutex
	rowIndex map[int64]int
	keyLocks map[int64]*sync.Mutex
}

func NewDirectory(store RowStore, logger *zap.Logger) *Directory {
	return &Directory{
		store:    store,
		logger:   logger,
		rowIndex: make(map[int64]int),
		keyLocks: make(map[int64]*sync.Mutex),
	}
}

func (d *Directory) userLock(userID int64) *sync.Mutex {
	d.mu.Lock()
	defer d.mu.Unlock()

	lock, ok := d.keyLocks[userID]
	if !ok {
		lock = &sync.Mutex{}
		d.keyLocks[userID] = lock
	}
	return lock
}

func (d *Directory) cachedRow(userID int64) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rowIndex[userID]
}

func (d *Directory) rememberRow(userID int64, row int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rowIndex[userID] = row
}

func (d *Directory) forgetRow(userID int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.rowIndex, userID)
}

func (d *Directory) findRow(ctx context.Context, userID int64) (int, error) {
	if row := d.cachedRow(userID); row != 0 {
		return row, nil
	}

	row, err := d.store.FindRowIndex(ctx, userIDColumn, strconv.FormatInt(userID, 10))
	if err != nil {
		return 0, fmt.Errorf("find user row: %w", err)
	}
	if row != 0 {
		d.rememberRow(userID, row)
	}
	return row, nil
}

// EnsureRecord makes sure a row exists for the user. An existing row has its
// status reset to active (any inbound contact is a reachability signal).
// Returns true when a new row was appended.
func (d *Directory) EnsureRecord(ctx context.Context, entry Entry) (bool, error) {
	lock := d.userLock(entry.UserID)
	lock.Lock()
	defer lock.Unlock()

	row, err := d.findRow(ctx, entry.UserID)
	if err != nil {
		return false, err
	}

	if row != 0 {
		if err := d.store.UpdateCell(ctx, row, statusColumn, StatusActive); err != nil {
			d.forgetRow(entry.UserID)
			return false, fmt.Errorf("update user status: %w", err)
		}
		return false, nil
	}

	err = d.store.AppendRow(ctx, []string{
		strconv.FormatInt(entry.UserID, 10),
		strconv.FormatInt(entry.ChatID, 10),
		entry.Username,
		entry.FirstName,
		entry.CreatedAt.UTC().Format(time.RFC3339),
		StatusActive,
	})
	if err != nil {
		return false, fmt.Errorf("append user row: %w", err)
	}
	return true, nil
}

// SetStatus flips the user's status. A missing row is a no-op: a user the
// directory never saw cannot go active or left.
func (d *Directory) SetStatus(ctx context.Context, userID int64, active bool) error {
	lock := d.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	row, err := d.findRow(ctx, userID)
	if err != nil {
		return err
	}
	if row == 0 {
		return nil
	}

	status := StatusLeft
	if active {
		status = StatusActive
	}

	if err := d.store.UpdateCell(ctx, row, statusColumn, status); err != nil {
		d.forgetRow(userID)
		return fmt.Errorf("update user status: %w", err)
	}

	d.logger.Debug("User status updated",
		zap.Int64("user_id", userID),
		zap.String("status", status))
	return nil
}

// ReachableChats returns every directory entry not marked left.
func (d *Directory) ReachableChats(ctx context.Context) ([]Entry, error) {
	rows, err := d.store.FetchRawRows(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("fetch user rows: %w", err)
	}

	entries := make([]Entry, 0, len(rows))
	for _, row := range rows {
		entry, ok := parseEntry(row)
		if !ok {
			continue
		}
		if entry.Status == StatusLeft {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Stats counts total/active/left rows of the worksheet. Rows without an
// explicit left status count as active, matching how ReachableChats reads them.
func (d *Directory) Stats(ctx context.Context) (Stats, error) {
	rows, err := d.store.FetchRawRows(ctx, true)
	if err != nil {
		return Stats{}, fmt.Errorf("fetch user rows: %w", err)
	}

	left := lo.CountBy(rows, func(row []string) bool {
		return rowStatus(row) == StatusLeft
	})

	return Stats{
		Total:  len(rows),
		Active: len(rows) - left,
		Left:   left,
	}, nil
}

func rowStatus(row []string) string {
	if len(row) < statusColumn {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(row[statusColumn-1]))
}

func parseEntry(row []string) (Entry, bool) {
	if len(row) < 2 {
		return Entry{}, false
	}

	userID, err := strconv.ParseInt(strings.TrimSpace(row[0]), 10, 64)
	if err != nil {
		return Entry{}, false
	}
	chatID, err := strconv.ParseInt(strings.TrimSpace(row[1]), 10, 64)
	if err != nil {
		return Entry{}, false
	}

	entry := Entry{
		UserID: userID,
		ChatID: chatID,
		Status: rowStatus(row),
	}
	if len(row) > 2 {
		entry.Username = row[2]
	}
	if len(row) > 3 {
		entry.FirstName = row[3]
	}
	if len(row) > 4 {
		if createdAt, err := time.Parse(time.RFC3339, strings.TrimSpace(row[4])); err == nil {
			entry.CreatedAt = createdAt
		}
	}
	return entry, true
}

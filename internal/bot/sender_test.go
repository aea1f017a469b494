package bot

import (
	"context"
	"errors"
	"sync"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type flakyDirectory struct {
	mu      sync.Mutex
	failFor map[int64]bool
	marked  []int64
}

func (f *flakyDirectory) SetStatus(_ context.Context, userID int64, active bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFor[userID] {
		return errors.New("sheets unavailable")
	}
	if !active {
		f.marked = append(f.marked, userID)
	}
	return nil
}

func TestSafeSenderReturnsNilOnBlocked(t *testing.T) {
	api := newFakeAPI()
	api.blocked[7] = true
	sender := NewSafeSender(api, &flakyDirectory{}, zap.NewNop())

	sent, err := sender.Send(tgbotapi.NewMessage(7, "promo"), 7)

	require.NoError(t, err)
	assert.Nil(t, sent)
	assert.Equal(t, 1, sender.PendingCount())
}

func TestSafeSenderPropagatesOtherErrors(t *testing.T) {
	api := newFakeAPI()
	sender := NewSafeSender(api, &flakyDirectory{}, zap.NewNop())

	sent, err := sender.Send(tgbotapi.NewMessage(7, "hello"), 7)
	require.NoError(t, err)
	require.NotNil(t, sent)
	assert.Zero(t, sender.PendingCount())
}

func TestFlushPendingMarksUsersLeft(t *testing.T) {
	api := newFakeAPI()
	api.blocked[7] = true
	api.blocked[8] = true

	directory := &flakyDirectory{}
	sender := NewSafeSender(api, directory, zap.NewNop())

	_, _ = sender.Send(tgbotapi.NewMessage(7, "promo"), 7)
	_, _ = sender.Send(tgbotapi.NewMessage(8, "promo"), 8)
	require.Equal(t, 2, sender.PendingCount())

	sender.FlushPending(context.Background(), 10, 0)

	assert.Zero(t, sender.PendingCount())
	assert.ElementsMatch(t, []int64{7, 8}, directory.marked)
}

func TestFlushPendingRequeuesFailedUpdates(t *testing.T) {
	api := newFakeAPI()
	api.blocked[7] = true

	directory := &flakyDirectory{failFor: map[int64]bool{7: true}}
	sender := NewSafeSender(api, directory, zap.NewNop())

	_, _ = sender.Send(tgbotapi.NewMessage(7, "promo"), 7)

	sender.FlushPending(context.Background(), 10, 0)
	assert.Equal(t, 1, sender.PendingCount(), "failed update must stay queued")

	directory.mu.Lock()
	directory.failFor[7] = false
	directory.mu.Unlock()

	sender.FlushPending(context.Background(), 10, 0)
	assert.Zero(t, sender.PendingCount())
	assert.Equal(t, []int64{7}, directory.marked)
}

func TestFlushPendingHonorsMax(t *testing.T) {
	api := newFakeAPI()
	directory := &flakyDirectory{}
	sender := NewSafeSender(api, directory, zap.NewNop())

	for id := int64(1); id <= 5; id++ {
		api.blocked[id] = true
		_, _ = sender.Send(tgbotapi.NewMessage(id, "promo"), id)
	}

	sender.FlushPending(context.Background(), 2, 0)
	assert.Equal(t, 3, sender.PendingCount())
}

func TestErrorClassification(t *testing.T) {
	blocked := &tgbotapi.Error{Code: 403, Message: "Forbidden: bot was blocked by the user"}
	rateLimited := &tgbotapi.Error{Code: 429, Message: "Too Many Requests"}
	serverErr := &tgbotapi.Error{Code: 502, Message: "Bad Gateway"}
	badRequest := &tgbotapi.Error{Code: 400, Message: "Bad Request"}

	assert.True(t, IsBlocked(blocked))
	assert.False(t, IsBlocked(rateLimited))
	assert.False(t, IsBlocked(errors.New("dial tcp: timeout")))

	assert.True(t, IsRetryable(rateLimited))
	assert.True(t, IsRetryable(serverErr))
	assert.True(t, IsRetryable(errors.New("dial tcp: timeout")))
	assert.False(t, IsRetryable(badRequest))
	assert.False(t, IsRetryable(nil))
}

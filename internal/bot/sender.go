package bot

import (
	"context"
	"errors"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

const statusUpdateTimeout = 5 * time.Second

// StatusUpdater flips a user's reachability status in the directory.
type StatusUpdater interface {
	SetStatus(ctx context.Context, userID int64, active bool) error
}

// SafeSender wraps outbound sends so a "bot blocked by user" failure never
// aborts a fan-out loop. A blocked destination returns (nil, nil) and the
// user id is queued for directory reconciliation; every other transport error
// propagates for the caller's own retry policy.
type SafeSender struct {
	api       TelegramAPI
	directory StatusUpdater
	logger    *zap.Logger

	mu      sync.Mutex
	pending map[int64]struct{}
}

func NewSafeSender(api TelegramAPI, directory StatusUpdater, logger *zap.Logger) *SafeSender {
	return &SafeSender{
		api:       api,
		directory: directory,
		logger:    logger,
		pending:   make(map[int64]struct{}),
	}
}

func (s *SafeSender) Send(msg tgbotapi.Chattable, userID int64) (*tgbotapi.Message, error) {
	sent, err := s.api.Send(msg)
	if err == nil {
		return &sent, nil
	}

	if IsBlocked(err) {
		s.logger.Info("Delivery refused, queueing user for reconciliation",
			zap.Int64("user_id", userID))
		s.queue(userID)
		return nil, nil
	}
	return nil, err
}

func (s *SafeSender) queue(userID int64) {
	if userID == 0 {
		return
	}
	s.mu.Lock()
	s.pending[userID] = struct{}{}
	s.mu.Unlock()
}

func (s *SafeSender) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// FlushPending drains up to max queued user ids, marking each left in the
// directory. An entry whose update fails is re-queued, never dropped, so
// reconciliation is eventually consistent across ticks.
func (s *SafeSender) FlushPending(ctx context.Context, max int, pace time.Duration) {
	s.mu.Lock()
	batch := make([]int64, 0, max)
	for userID := range s.pending {
		if len(batch) == max {
			break
		}
		batch = append(batch, userID)
		delete(s.pending, userID)
	}
	s.mu.Unlock()

	for i, userID := range batch {
		updateCtx, cancel := context.WithTimeout(ctx, statusUpdateTimeout)
		err := s.directory.SetStatus(updateCtx, userID, false)
		cancel()

		if err != nil {
			s.logger.Warn("Failed to mark user as left, re-queueing",
				zap.Int64("user_id", userID),
				zap.Error(err))
			s.queue(userID)
		}

		if pace > 0 && i < len(batch)-1 {
			select {
			case <-ctx.Done():
				// re-queue the rest and stop
				for _, rest := range batch[i+1:] {
					s.queue(rest)
				}
				return
			case <-time.After(pace):
			}
		}
	}
}

// IsBlocked reports whether the transport refused delivery because the user
// blocked the bot.
func IsBlocked(err error) bool {
	var tgErr *tgbotapi.Error
	return errors.As(err, &tgErr) && tgErr.Code == 403
}

// IsRetryable reports whether a failed send is worth retrying: rate limiting,
// server-side errors or plain network failures. Blocked and client errors
// are permanent.
func IsRetryable(err error) bool {
	var tgErr *tgbotapi.Error
	if errors.As(err, &tgErr) {
		return tgErr.Code == 429 || tgErr.Code >= 500
	}
	return err != nil
}

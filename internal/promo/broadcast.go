package promo

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"storebot/internal/products"
	"storebot/internal/users"
)

type Status string

const (
	StatusSent             Status = "sent"
	StatusSentWithFailures Status = "sent_with_failures"
	StatusNoProducts       Status = "no_products"
	StatusNoChats          Status = "no_chats"
	StatusBusy             Status = "busy"
	StatusError            Status = "error"
)

// Sent reports whether the run belongs to the successful family: the
// broadcast went out, even if some chats failed.
func (s Status) Sent() bool {
	return s == StatusSent || s == StatusSentWithFailures
}

type Result struct {
	Status    Status
	Chats     int
	Products  int
	Delivered int
	Blocked   int
	Transient int // chats that exhausted transient-error retries
	Failed    int // chats that hit a non-retryable transport error
}

// Delivery is the typed outcome of one card-sequence delivery attempt.
type Delivery int

const (
	DeliveryOK Delivery = iota
	DeliveryBlocked
	DeliveryTransient
	DeliveryPermanent
)

type ProductSource interface {
	Products(ctx context.Context) ([]products.Product, error)
}

type ChatSource interface {
	ReachableChats(ctx context.Context) ([]users.Entry, error)
}

// CardSender delivers the full product card sequence to one chat and flushes
// blocked-chat reconciliation after a fan-out.
type CardSender interface {
	SendProductCards(ctx context.Context, chat users.Entry, items []products.Product) (Delivery, error)
	FlushPending(ctx context.Context, max int, pace time.Duration)
}

const (
	defaultBatchSize  = 20
	deliveryAttempts  = 3
	defaultRetryDelay = 2 * time.Second

	flushLimit = 50
	flushPace  = 200 * time.Millisecond
)

// Broadcaster fans promo product cards out to every reachable chat. A mutex
// gate keeps broadcasts globally serialized: a run that finds the gate held
// reports busy instead of queuing.
type Broadcaster struct {
	products ProductSource
	chats    ChatSource
	sender   CardSender
	logger   *zap.Logger

	batchSize  int
	retryDelay time.Duration
	gate       sync.Mutex
}

func NewBroadcaster(
	productSource ProductSource,
	chatSource ChatSource,
	sender CardSender,
	batchSize int,
	logger *zap.Logger,
) *Broadcaster {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &Broadcaster{
		products:   productSource,
		chats:      chatSource,
		sender:     sender,
		logger:     logger,
		batchSize:  batchSize,
		retryDelay: defaultRetryDelay,
	}
}

func (b *Broadcaster) Broadcast(ctx context.Context) Result {
	if !b.gate.TryLock() {
		b.logger.Info("Promo broadcast already running")
		return Result{Status: StatusBusy}
	}
	defer b.gate.Unlock()

	items, err := b.products.Products(ctx)
	if err != nil {
		b.logger.Error("Failed to load products for promo broadcast", zap.Error(err))
		return Result{Status: StatusError}
	}
	if len(items) == 0 {
		b.logger.Info("Promo broadcast skipped: no products available")
		return Result{Status: StatusNoProducts}
	}

	chats, err := b.chats.ReachableChats(ctx)
	if err != nil {
		b.logger.Error("Failed to load chats for promo broadcast", zap.Error(err))
		return Result{Status: StatusError, Products: len(items)}
	}
	if len(chats) == 0 {
		b.logger.Info("Promo broadcast skipped: no users to notify")
		return Result{Status: StatusNoChats, Products: len(items)}
	}

	b.logger.Info("Starting promo broadcast",
		zap.Int("chats", len(chats)),
		zap.Int("products", len(items)))

	result := Result{Status: StatusSent, Chats: len(chats), Products: len(items)}
	var resultMu sync.Mutex

	for _, batch := range lo.Chunk(chats, b.batchSize) {
		var wg sync.WaitGroup
		for _, chat := range batch {
			wg.Add(1)
			go func(chat users.Entry) {
				defer wg.Done()

				delivery := b.deliverWithRetry(ctx, chat, items)

				resultMu.Lock()
				defer resultMu.Unlock()
				switch delivery {
				case DeliveryOK:
					result.Delivered++
				case DeliveryBlocked:
					result.Blocked++
				case DeliveryTransient:
					result.Transient++
				default:
					result.Failed++
				}
			}(chat)
		}
		wg.Wait()
	}

	b.sender.FlushPending(ctx, flushLimit, flushPace)

	if result.Transient > 0 || result.Failed > 0 {
		result.Status = StatusSentWithFailures
	}

	b.logger.Info("Promo broadcast finished",
		zap.String("status", string(result.Status)),
		zap.Int("delivered", result.Delivered),
		zap.Int("blocked", result.Blocked),
		zap.Int("transient_errors", result.Transient),
		zap.Int("permanent_errors", result.Failed))
	return result
}

// deliverWithRetry attempts the card sequence for one chat with bounded
// constant backoff. Only transient transport errors are retried; blocked and
// permanent outcomes end the attempt loop immediately.
func (b *Broadcaster) deliverWithRetry(ctx context.Context, chat users.Entry, items []products.Product) Delivery {
	var delivery Delivery

	operation := func() error {
		var err error
		delivery, err = b.sender.SendProductCards(ctx, chat, items)
		if err == nil {
			return nil
		}

		if delivery == DeliveryTransient {
			b.logger.Warn("Promo delivery failed, will retry",
				zap.Int64("chat_id", chat.ChatID),
				zap.Error(err))
			return err
		}
		return backoff.Permanent(err)
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(b.retryDelay), deliveryAttempts-1),
		ctx,
	)
	if err := backoff.Retry(operation, policy); err != nil {
		b.logger.Error("Promo delivery failed",
			zap.Int64("chat_id", chat.ChatID),
			zap.Int64("user_id", chat.UserID),
			zap.Error(err))
	}
	return delivery
}

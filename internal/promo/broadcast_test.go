package promo

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"storebot/internal/products"
	"storebot/internal/users"
)

type fakeProductSource struct {
	items []products.Product
	err   error
}

func (f *fakeProductSource) Products(_ context.Context) ([]products.Product, error) {
	return f.items, f.err
}

type fakeChatSource struct {
	entries []users.Entry
	err     error
}

func (f *fakeChatSource) ReachableChats(_ context.Context) ([]users.Entry, error) {
	return f.entries, f.err
}

type fakeCardSender struct {
	mu       sync.Mutex
	attempts map[int64]int
	outcome  func(chat users.Entry, attempt int) (Delivery, error)
	flushed  bool

	started chan struct{}
	release chan struct{}
}

func newFakeCardSender(outcome func(chat users.Entry, attempt int) (Delivery, error)) *fakeCardSender {
	return &fakeCardSender{
		attempts: make(map[int64]int),
		outcome:  outcome,
	}
}

func (f *fakeCardSender) SendProductCards(_ context.Context, chat users.Entry, _ []products.Product) (Delivery, error) {
	f.mu.Lock()
	f.attempts[chat.ChatID]++
	attempt := f.attempts[chat.ChatID]
	f.mu.Unlock()

	if f.started != nil {
		f.started <- struct{}{}
		<-f.release
	}
	return f.outcome(chat, attempt)
}

func (f *fakeCardSender) FlushPending(_ context.Context, _ int, _ time.Duration) {
	f.mu.Lock()
	f.flushed = true
	f.mu.Unlock()
}

func entries(chatIDs ...int64) []users.Entry {
	out := make([]users.Entry, 0, len(chatIDs))
	for _, id := range chatIDs {
		out = append(out, users.Entry{UserID: id, ChatID: id, Status: users.StatusActive})
	}
	return out
}

func promoItems() []products.Product {
	return []products.Product{{ID: "1", Name: "Lamp", Price: "499", IsPromo: true}}
}

func TestBroadcastDeliversToAllChats(t *testing.T) {
	sender := newFakeCardSender(func(users.Entry, int) (Delivery, error) {
		return DeliveryOK, nil
	})
	b := NewBroadcaster(
		&fakeProductSource{items: promoItems()},
		&fakeChatSource{entries: entries(1, 2, 3, 4, 5)},
		sender, 2, zap.NewNop(),
	)

	result := b.Broadcast(context.Background())

	assert.Equal(t, StatusSent, result.Status)
	assert.Equal(t, 5, result.Delivered)
	assert.Equal(t, 5, result.Chats)
	assert.Equal(t, 1, result.Products)
	assert.True(t, sender.flushed)
}

func TestBroadcastCountsBlockedChats(t *testing.T) {
	blocked := map[int64]bool{2: true, 4: true}
	sender := newFakeCardSender(func(chat users.Entry, _ int) (Delivery, error) {
		if blocked[chat.ChatID] {
			return DeliveryBlocked, nil
		}
		return DeliveryOK, nil
	})
	b := NewBroadcaster(
		&fakeProductSource{items: promoItems()},
		&fakeChatSource{entries: entries(1, 2, 3, 4, 5)},
		sender, 20, zap.NewNop(),
	)

	result := b.Broadcast(context.Background())

	assert.Equal(t, StatusSent, result.Status)
	assert.Equal(t, 3, result.Delivered)
	assert.Equal(t, 2, result.Blocked)
	// blocked is not an error, never retried
	assert.Equal(t, 1, sender.attempts[2])
	assert.Equal(t, 1, sender.attempts[4])
}

func TestBroadcastRetriesTransientThenSucceeds(t *testing.T) {
	sender := newFakeCardSender(func(chat users.Entry, attempt int) (Delivery, error) {
		if chat.ChatID == 1 && attempt < 3 {
			return DeliveryTransient, errors.New("too many requests")
		}
		return DeliveryOK, nil
	})
	b := NewBroadcaster(
		&fakeProductSource{items: promoItems()},
		&fakeChatSource{entries: entries(1)},
		sender, 20, zap.NewNop(),
	)
	b.retryDelay = time.Millisecond

	result := b.Broadcast(context.Background())

	assert.Equal(t, StatusSent, result.Status)
	assert.Equal(t, 1, result.Delivered)
	assert.Equal(t, 3, sender.attempts[1])
}

func TestBroadcastReportsFailuresButKeepsGoing(t *testing.T) {
	sender := newFakeCardSender(func(chat users.Entry, _ int) (Delivery, error) {
		switch chat.ChatID {
		case 1:
			return DeliveryTransient, errors.New("server error")
		case 2:
			return DeliveryPermanent, errors.New("chat not found")
		}
		return DeliveryOK, nil
	})
	b := NewBroadcaster(
		&fakeProductSource{items: promoItems()},
		&fakeChatSource{entries: entries(1, 2, 3)},
		sender, 20, zap.NewNop(),
	)
	b.retryDelay = time.Millisecond

	result := b.Broadcast(context.Background())

	assert.Equal(t, StatusSentWithFailures, result.Status)
	assert.Equal(t, 1, result.Delivered)
	assert.Equal(t, 1, result.Transient)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, 3, sender.attempts[1])
	assert.Equal(t, 1, sender.attempts[2])
}

func TestBroadcastEmptyInputs(t *testing.T) {
	sender := newFakeCardSender(func(users.Entry, int) (Delivery, error) {
		return DeliveryOK, nil
	})

	noProducts := NewBroadcaster(&fakeProductSource{}, &fakeChatSource{entries: entries(1)}, sender, 20, zap.NewNop())
	assert.Equal(t, StatusNoProducts, noProducts.Broadcast(context.Background()).Status)

	noChats := NewBroadcaster(&fakeProductSource{items: promoItems()}, &fakeChatSource{}, sender, 20, zap.NewNop())
	assert.Equal(t, StatusNoChats, noChats.Broadcast(context.Background()).Status)

	loadFailed := NewBroadcaster(&fakeProductSource{err: errors.New("sheets down")}, &fakeChatSource{}, sender, 20, zap.NewNop())
	assert.Equal(t, StatusError, loadFailed.Broadcast(context.Background()).Status)
}

func TestConcurrentBroadcastReturnsBusy(t *testing.T) {
	sender := newFakeCardSender(func(users.Entry, int) (Delivery, error) {
		return DeliveryOK, nil
	})
	sender.started = make(chan struct{}, 1)
	sender.release = make(chan struct{})

	b := NewBroadcaster(
		&fakeProductSource{items: promoItems()},
		&fakeChatSource{entries: entries(1)},
		sender, 20, zap.NewNop(),
	)

	done := make(chan Result, 1)
	go func() {
		done <- b.Broadcast(context.Background())
	}()

	<-sender.started

	busy := b.Broadcast(context.Background())
	assert.Equal(t, StatusBusy, busy.Status)
	assert.Zero(t, busy.Delivered)

	close(sender.release)

	first := <-done
	require.Equal(t, StatusSent, first.Status)
	assert.Equal(t, 1, sender.attempts[1])
}

func TestStatusSentFamily(t *testing.T) {
	assert.True(t, StatusSent.Sent())
	assert.True(t, StatusSentWithFailures.Sent())
	assert.False(t, StatusBusy.Sent())
	assert.False(t, StatusNoProducts.Sent())
	assert.False(t, StatusNoChats.Sent())
	assert.False(t, StatusError.Sent())
}

package bot

import (
	"context"
	"sync"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"storebot/internal/config"
	"storebot/internal/orders"
	"storebot/internal/products"
	"storebot/internal/storage"
	"storebot/internal/users"
	"storebot/pkg/crm"
)

// fakeAPI records every outbound call and simulates blocked chats with the
// 403 error the real transport returns.
type fakeAPI struct {
	mu       sync.Mutex
	sent     []tgbotapi.Chattable
	requests []tgbotapi.Chattable
	blocked  map[int64]bool
	nextID   int
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{blocked: make(map[int64]bool)}
}

func (f *fakeAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.sent = append(f.sent, c)
	chatID := sentChatID(c)
	if f.blocked[chatID] {
		return tgbotapi.Message{}, &tgbotapi.Error{Code: 403, Message: "Forbidden: bot was blocked by the user"}
	}

	f.nextID++
	return tgbotapi.Message{
		MessageID: f.nextID,
		Chat:      &tgbotapi.Chat{ID: chatID},
	}, nil
}

func (f *fakeAPI) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeAPI) GetUpdatesChan(_ tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return make(chan tgbotapi.Update)
}

func (f *fakeAPI) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func (f *fakeAPI) lastCaptionEdit() (tgbotapi.EditMessageCaptionConfig, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.sent) - 1; i >= 0; i-- {
		if edit, ok := f.sent[i].(tgbotapi.EditMessageCaptionConfig); ok {
			return edit, true
		}
	}
	return tgbotapi.EditMessageCaptionConfig{}, false
}

func sentChatID(c tgbotapi.Chattable) int64 {
	switch m := c.(type) {
	case tgbotapi.MessageConfig:
		return m.ChatID
	case tgbotapi.PhotoConfig:
		return m.ChatID
	case tgbotapi.DocumentConfig:
		return m.ChatID
	case tgbotapi.EditMessageCaptionConfig:
		return m.ChatID
	case tgbotapi.EditMessageMediaConfig:
		return m.ChatID
	case tgbotapi.DeleteMessageConfig:
		return m.ChatID
	}
	return 0
}

type memSessions struct {
	mu       sync.Mutex
	sessions map[int64]OrderSession
}

func newMemSessions() *memSessions {
	return &memSessions{sessions: make(map[int64]OrderSession)}
}

func (m *memSessions) Get(_ context.Context, chatID int64) (OrderSession, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[chatID]
	return session, ok, nil
}

func (m *memSessions) Save(_ context.Context, chatID int64, session OrderSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[chatID] = session
	return nil
}

func (m *memSessions) Clear(_ context.Context, chatID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, chatID)
	return nil
}

type fakeCustomers struct {
	mu      sync.Mutex
	records map[int64]storage.Customer
	saved   []storage.Customer
}

func newFakeCustomers() *fakeCustomers {
	return &fakeCustomers{records: make(map[int64]storage.Customer)}
}

func (f *fakeCustomers) GetCustomer(_ context.Context, telegramID int64) (*storage.Customer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if rec, ok := f.records[telegramID]; ok {
		out := rec
		return &out, nil
	}
	return nil, nil
}

func (f *fakeCustomers) SaveOrUpdateCustomer(_ context.Context, customer storage.Customer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[customer.TelegramID] = customer
	f.saved = append(f.saved, customer)
	return nil
}

type fakeSettings struct {
	mu     sync.Mutex
	values map[string]string
}

func newFakeSettings() *fakeSettings {
	return &fakeSettings{values: make(map[string]string)}
}

func (f *fakeSettings) GetSetting(_ context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.values[key], nil
}

func (f *fakeSettings) SetSetting(_ context.Context, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[key] = value
	return nil
}

type fakeCRM struct {
	mu     sync.Mutex
	orders []crm.Order
	err    error
}

func (f *fakeCRM) SendOrder(_ context.Context, order crm.Order) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.orders = append(f.orders, order)
	return nil
}

type fakeOrderLog struct {
	mu      sync.Mutex
	records []orders.Record
}

func (f *fakeOrderLog) Append(_ context.Context, record orders.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, record)
	return nil
}

func (f *fakeOrderLog) ExportXLSX(_ context.Context) (string, error) {
	return "/tmp/orders-test.xlsx", nil
}

// fakeDirectory keeps statuses in memory and derives the reachable set from
// them, the way the real directory does.
type fakeDirectory struct {
	mu      sync.Mutex
	entries map[int64]users.Entry
}

func newFakeDirectory(chatIDs ...int64) *fakeDirectory {
	d := &fakeDirectory{entries: make(map[int64]users.Entry)}
	for _, id := range chatIDs {
		d.entries[id] = users.Entry{UserID: id, ChatID: id, Status: users.StatusActive}
	}
	return d
}

func (f *fakeDirectory) EnsureRecord(_ context.Context, entry users.Entry) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, existed := f.entries[entry.UserID]
	entry.Status = users.StatusActive
	f.entries[entry.UserID] = entry
	return !existed, nil
}

func (f *fakeDirectory) SetStatus(_ context.Context, userID int64, active bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry, ok := f.entries[userID]
	if !ok {
		return nil
	}
	if active {
		entry.Status = users.StatusActive
	} else {
		entry.Status = users.StatusLeft
	}
	f.entries[userID] = entry
	return nil
}

func (f *fakeDirectory) ReachableChats(_ context.Context) ([]users.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []users.Entry
	for _, entry := range f.entries {
		if entry.Status != users.StatusLeft {
			out = append(out, entry)
		}
	}
	return out, nil
}

func (f *fakeDirectory) Stats(_ context.Context) (users.Stats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stats := users.Stats{Total: len(f.entries)}
	for _, entry := range f.entries {
		if entry.Status == users.StatusLeft {
			stats.Left++
		} else {
			stats.Active++
		}
	}
	return stats, nil
}

func (f *fakeDirectory) status(userID int64) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.entries[userID].Status
}

type fakeProducts struct {
	items []products.Product
}

func (f *fakeProducts) Products(_ context.Context) ([]products.Product, error) {
	return f.items, nil
}

func (f *fakeProducts) FindByID(_ context.Context, id string) (*products.Product, error) {
	for _, item := range f.items {
		if item.ID == id {
			out := item
			return &out, nil
		}
	}
	return nil, nil
}

type testEnv struct {
	bot       *Bot
	api       *fakeAPI
	sessions  *memSessions
	customers *fakeCustomers
	settings  *fakeSettings
	crm       *fakeCRM
	orders    *fakeOrderLog
	directory *fakeDirectory
	products  *fakeProducts
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{
		api:       newFakeAPI(),
		sessions:  newMemSessions(),
		customers: newFakeCustomers(),
		settings:  newFakeSettings(),
		crm:       &fakeCRM{},
		orders:    &fakeOrderLog{},
		directory: newFakeDirectory(),
		products: &fakeProducts{items: []products.Product{
			{ID: "1", Name: "Lamp", Price: "499", PhotoURL: "https://example.com/lamp.jpg", IsPromo: true},
			{ID: "2", Name: "Mug", Price: "99", PhotoURL: "https://example.com/mug.jpg", IsPromo: true},
		}},
	}

	b, err := New(Dependencies{
		API:       env.api,
		Sessions:  env.sessions,
		Customers: env.customers,
		Settings:  env.settings,
		CRM:       env.crm,
		Orders:    env.orders,
		Exporter:  env.orders,
		Directory: env.directory,
		Products:  env.products,
		Logger:    zap.NewNop(),
		Config: &config.Config{
			CRMCountry:         "UA",
			CRMSite:            "telegram",
			AdminIDs:           []int64{99},
			AfterOrderGroupURL: "https://t.me/shop",
		},
	})
	require.NoError(t, err)

	env.bot = b
	return env
}

func textMessage(chatID, userID int64, text string) *tgbotapi.Message {
	return &tgbotapi.Message{
		MessageID: 777,
		From:      &tgbotapi.User{ID: userID, UserName: "buyer"},
		Chat:      &tgbotapi.Chat{ID: chatID},
		Text:      text,
	}
}

func callback(chatID, userID int64, messageID int, data string) *tgbotapi.CallbackQuery {
	return &tgbotapi.CallbackQuery{
		ID:   "cb",
		From: &tgbotapi.User{ID: userID, UserName: "buyer"},
		Message: &tgbotapi.Message{
			MessageID: messageID,
			Chat:      &tgbotapi.Chat{ID: chatID},
		},
		Data: data,
	}
}

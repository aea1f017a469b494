package bot

import (
	"context"
	"fmt"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"storebot/internal/config"
	"storebot/internal/orders"
	"storebot/internal/products"
	"storebot/internal/promo"
	"storebot/internal/storage"
	"storebot/internal/users"
	"storebot/pkg/crm"
)

// TelegramAPI is the slice of *tgbotapi.BotAPI the bot actually uses.
type TelegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(cfg tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
}

type CustomerStore interface {
	GetCustomer(ctx context.Context, telegramID int64) (*storage.Customer, error)
	SaveOrUpdateCustomer(ctx context.Context, customer storage.Customer) error
}

type SettingsStore interface {
	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error
}

type CRMGateway interface {
	SendOrder(ctx context.Context, order crm.Order) error
}

type OrderLog interface {
	Append(ctx context.Context, record orders.Record) error
}

type OrderExporter interface {
	ExportXLSX(ctx context.Context) (string, error)
}

type UserDirectory interface {
	EnsureRecord(ctx context.Context, entry users.Entry) (bool, error)
	SetStatus(ctx context.Context, userID int64, active bool) error
	Stats(ctx context.Context) (users.Stats, error)
}

type ProductSource interface {
	Products(ctx context.Context) ([]products.Product, error)
	FindByID(ctx context.Context, id string) (*products.Product, error)
}

type Dependencies struct {
	API       TelegramAPI
	Sessions  SessionStore
	Customers CustomerStore
	Settings  SettingsStore
	CRM       CRMGateway
	Orders    OrderLog
	Exporter  OrderExporter
	Directory UserDirectory
	Products  ProductSource
	Logger    *zap.Logger
	Config    *config.Config
}

type Bot struct {
	api         TelegramAPI
	sender      *SafeSender
	sessions    SessionStore
	customers   CustomerStore
	settings    SettingsStore
	crm         CRMGateway
	orders      OrderLog
	exporter    OrderExporter
	directory   UserDirectory
	products    ProductSource
	broadcaster promo.Broadcast
	logger      *zap.Logger
	cfg         *config.Config

	cards    *cardTracker
	handlers map[string]func(context.Context, *tgbotapi.Message, OrderSession)

	chatMu    sync.Mutex
	chatLocks map[int64]*sync.Mutex
	wg        sync.WaitGroup
}

func New(deps Dependencies) (*Bot, error) {
	if deps.API == nil {
		return nil, fmt.Errorf("telegram api is required")
	}

	b := &Bot{
		api:       deps.API,
		sender:    NewSafeSender(deps.API, deps.Directory, deps.Logger),
		sessions:  deps.Sessions,
		customers: deps.Customers,
		settings:  deps.Settings,
		crm:       deps.CRM,
		orders:    deps.Orders,
		exporter:  deps.Exporter,
		directory: deps.Directory,
		products:  deps.Products,
		logger:    deps.Logger,
		cfg:       deps.Config,
		cards:     newCardTracker(),
		chatLocks: make(map[int64]*sync.Mutex),
	}

	b.registerHandlers()
	return b, nil
}

// AttachBroadcaster wires the promo broadcaster used by /sendpromo. The
// broadcaster itself delivers through this bot, so it is attached after
// construction.
func (b *Bot) AttachBroadcaster(broadcaster promo.Broadcast) {
	b.broadcaster = broadcaster
}

func (b *Bot) registerHandlers() {
	b.handlers = map[string]func(context.Context, *tgbotapi.Message, OrderSession){
		StepName:       b.handleNameInput,
		StepPhone:      b.handlePhoneInput,
		StepCityBranch: b.handleCityBranchInput,
	}
}

func (b *Bot) Start(ctx context.Context) error {
	b.logger.Info("Starting bot")

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			b.logger.Info("Shutting down bot")
			b.wg.Wait()
			return nil

		case update, ok := <-updates:
			if !ok {
				b.wg.Wait()
				return nil
			}
			b.dispatch(ctx, update)
		}
	}
}

// dispatch runs each update in its own goroutine, serialized per chat so two
// events about the same conversation never mutate state concurrently.
func (b *Bot) dispatch(ctx context.Context, update tgbotapi.Update) {
	chatID := updateChatID(update)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()

		if chatID != 0 {
			lock := b.chatLock(chatID)
			lock.Lock()
			defer lock.Unlock()
		}

		switch {
		case update.Message != nil:
			b.processMessage(ctx, update.Message)
		case update.CallbackQuery != nil:
			b.processCallback(ctx, update.CallbackQuery)
		case update.MyChatMember != nil:
			b.processMembershipChange(ctx, update.MyChatMember)
		}
	}()
}

func (b *Bot) chatLock(chatID int64) *sync.Mutex {
	b.chatMu.Lock()
	defer b.chatMu.Unlock()

	lock, ok := b.chatLocks[chatID]
	if !ok {
		lock = &sync.Mutex{}
		b.chatLocks[chatID] = lock
	}
	return lock
}

func updateChatID(update tgbotapi.Update) int64 {
	switch {
	case update.Message != nil:
		return update.Message.Chat.ID
	case update.CallbackQuery != nil && update.CallbackQuery.Message != nil:
		return update.CallbackQuery.Message.Chat.ID
	case update.MyChatMember != nil:
		return update.MyChatMember.Chat.ID
	}
	return 0
}

func (b *Bot) processMessage(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID

	b.logger.Debug("Processing message",
		zap.Int64("chat_id", chatID),
		zap.String("text", msg.Text))

	if msg.IsCommand() {
		b.handleCommand(ctx, msg)
		return
	}

	session, ok, err := b.sessions.Get(ctx, chatID)
	if err != nil {
		b.logger.Error("Failed to get order session",
			zap.Int64("chat_id", chatID),
			zap.Error(err))
		b.sendError(chatID, msg.From, "Сталася помилка, спробуйте ще раз")
		return
	}
	if !ok {
		return
	}

	if handler, exists := b.handlers[session.Step]; exists {
		handler(ctx, msg, session)
	}
}

func (b *Bot) processCallback(ctx context.Context, callback *tgbotapi.CallbackQuery) {
	if callback.Message == nil {
		b.answerCallback(callback.ID, "")
		return
	}

	b.logger.Debug("Processing callback",
		zap.Int64("chat_id", callback.Message.Chat.ID),
		zap.String("data", callback.Data))

	b.handleCallbackData(ctx, callback)
}

func (b *Bot) answerCallback(callbackID, text string) {
	if _, err := b.api.Request(tgbotapi.NewCallback(callbackID, text)); err != nil {
		b.logger.Warn("Failed to answer callback", zap.Error(err))
	}
}

func (b *Bot) sendMessage(msg tgbotapi.MessageConfig, userID int64) *tgbotapi.Message {
	sent, err := b.sender.Send(msg, userID)
	if err != nil {
		b.logger.Error("Failed to send message",
			zap.Int64("chat_id", msg.ChatID),
			zap.Error(err))
		return nil
	}
	return sent
}

func (b *Bot) sendError(chatID int64, from *tgbotapi.User, text string) {
	msg := tgbotapi.NewMessage(chatID, "❌ "+text)
	b.sendMessage(msg, senderID(from))
}

func (b *Bot) deleteMessage(chatID int64, messageID int) {
	if messageID == 0 {
		return
	}
	if _, err := b.api.Request(tgbotapi.NewDeleteMessage(chatID, messageID)); err != nil {
		b.logger.Debug("Failed to delete message",
			zap.Int64("chat_id", chatID),
			zap.Int("message_id", messageID),
			zap.Error(err))
	}
}

func senderID(from *tgbotapi.User) int64 {
	if from == nil {
		return 0
	}
	return from.ID
}

package bot

import (
	"context"
	"fmt"
	"html"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"storebot/internal/products"
	"storebot/internal/promo"
	"storebot/internal/users"
)

// cardTracker remembers which product card messages are live in a chat, so a
// re-render can forget stale buy buttons, plus the welcome message dropped
// once the buyer picks a product.
type cardTracker struct {
	mu      sync.Mutex
	cards   map[int64][]trackedCard
	welcome map[int64]int
}

type trackedCard struct {
	productID string
	messageID int
}

func newCardTracker() *cardTracker {
	return &cardTracker{
		cards:   make(map[int64][]trackedCard),
		welcome: make(map[int64]int),
	}
}

func (t *cardTracker) reset(chatID int64) {
	t.mu.Lock()
	delete(t.cards, chatID)
	t.mu.Unlock()
}

func (t *cardTracker) remember(chatID int64, productID string, messageID int) {
	t.mu.Lock()
	t.cards[chatID] = append(t.cards[chatID], trackedCard{productID: productID, messageID: messageID})
	t.mu.Unlock()
}

func (t *cardTracker) rememberWelcome(chatID int64, messageID int) {
	t.mu.Lock()
	t.welcome[chatID] = messageID
	t.mu.Unlock()
}

func (t *cardTracker) takeWelcome(chatID int64) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	messageID := t.welcome[chatID]
	delete(t.welcome, chatID)
	return messageID
}

func (b *Bot) handleStart(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID

	if msg.From != nil {
		entry := users.Entry{
			UserID:    msg.From.ID,
			ChatID:    chatID,
			Username:  msg.From.UserName,
			FirstName: msg.From.FirstName,
			CreatedAt: time.Now().UTC(),
			Status:    users.StatusActive,
		}
		created, err := b.directory.EnsureRecord(ctx, entry)
		if err != nil {
			b.logger.Error("Failed to record user",
				zap.Int64("user_id", msg.From.ID),
				zap.Error(err))
		} else if created {
			b.logger.Info("New user registered",
				zap.Int64("user_id", msg.From.ID),
				zap.String("username", msg.From.UserName))
		}
	}

	welcome := tgbotapi.NewMessage(chatID,
		"👋 Вітаємо! Оберіть товар нижче та натисніть «Купити», щоб оформити замовлення.")
	if sent := b.sendMessage(welcome, senderID(msg.From)); sent != nil {
		b.cards.rememberWelcome(chatID, sent.MessageID)
	}

	b.sendProductList(ctx, chatID, senderID(msg.From))
}

// sendProductList re-renders the catalog: forgets previously tracked cards
// and sends one fresh card per cached product.
func (b *Bot) sendProductList(ctx context.Context, chatID, userID int64) {
	items, err := b.products.Products(ctx)
	if err != nil {
		b.logger.Error("Failed to load products",
			zap.Int64("chat_id", chatID),
			zap.Error(err))
		b.sendError(chatID, nil, "Не вдалося завантажити товари, спробуйте пізніше")
		return
	}
	if len(items) == 0 {
		msg := tgbotapi.NewMessage(chatID, "Поки немає доступних товарів. Завітайте пізніше!")
		b.sendMessage(msg, userID)
		return
	}

	b.cards.reset(chatID)

	for _, product := range items {
		photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileURL(product.PhotoURL))
		photo.Caption = productCaption(product)
		photo.ParseMode = tgbotapi.ModeHTML
		photo.ReplyMarkup = buyKeyboard(product)

		sent, err := b.sender.Send(photo, userID)
		if err != nil {
			b.logger.Error("Failed to send product card",
				zap.Int64("chat_id", chatID),
				zap.String("product_id", product.ID),
				zap.Error(err))
			continue
		}
		if sent != nil {
			b.cards.remember(chatID, product.ID, sent.MessageID)
		}
	}
}

func (b *Bot) handleBuyCallback(ctx context.Context, callback *tgbotapi.CallbackQuery, productID string) {
	chatID := callback.Message.Chat.ID

	if welcomeID := b.cards.takeWelcome(chatID); welcomeID != 0 {
		b.deleteMessage(chatID, welcomeID)
	}

	product, err := b.products.FindByID(ctx, productID)
	if err != nil {
		b.logger.Error("Failed to look up product",
			zap.String("product_id", productID),
			zap.Error(err))
		b.answerCallback(callback.ID, "Сталася помилка, спробуйте ще раз")
		return
	}
	if product == nil {
		b.alertCallback(callback.ID, "Товар не знайдено")
		return
	}

	photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileURL(product.PhotoURL))
	photo.Caption = productCaption(*product)
	photo.ParseMode = tgbotapi.ModeHTML
	photo.ReplyMarkup = orderStartKeyboard()

	sent, err := b.sender.Send(photo, senderID(callback.From))
	if err != nil || sent == nil {
		b.logger.Error("Failed to send order card",
			zap.Int64("chat_id", chatID),
			zap.String("product_id", product.ID),
			zap.Error(err))
		b.answerCallback(callback.ID, "")
		return
	}

	session := OrderSession{
		Step:            StepProductSelected,
		AnchorMessageID: sent.MessageID,
		ProductID:       product.ID,
		ProductName:     product.Name,
		ProductPrice:    product.Price,
	}
	if err := b.sessions.Save(ctx, chatID, session); err != nil {
		b.logger.Error("Failed to save order session",
			zap.Int64("chat_id", chatID),
			zap.Error(err))
	}

	b.answerCallback(callback.ID, "")
}

// SendProductCards delivers the full promo card sequence to one chat. Tracked
// cards are reset first so repeated broadcasts never leave buy buttons
// pointing at stale state.
func (b *Bot) SendProductCards(ctx context.Context, chat users.Entry, items []products.Product) (promo.Delivery, error) {
	b.cards.reset(chat.ChatID)

	for _, product := range items {
		photo := tgbotapi.NewPhoto(chat.ChatID, tgbotapi.FileURL(product.PhotoURL))
		photo.Caption = productCaption(product)
		photo.ParseMode = tgbotapi.ModeHTML
		photo.ReplyMarkup = buyKeyboard(product)

		sent, err := b.sender.Send(photo, chat.UserID)
		if err != nil {
			if IsRetryable(err) {
				return promo.DeliveryTransient, err
			}
			return promo.DeliveryPermanent, err
		}
		if sent == nil {
			return promo.DeliveryBlocked, nil
		}
		b.cards.remember(chat.ChatID, product.ID, sent.MessageID)
	}
	return promo.DeliveryOK, nil
}

func (b *Bot) FlushPending(ctx context.Context, max int, pace time.Duration) {
	b.sender.FlushPending(ctx, max, pace)
}

func (b *Bot) alertCallback(callbackID, text string) {
	if _, err := b.api.Request(tgbotapi.NewCallbackWithAlert(callbackID, text)); err != nil {
		b.logger.Warn("Failed to answer callback", zap.Error(err))
	}
}

func productCaption(product products.Product) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "<b>%s</b>", html.EscapeString(product.Name))

	if desc := strings.TrimSpace(product.ShortDesc); desc != "" {
		fmt.Fprintf(&sb, "\n%s", html.EscapeString(desc))
	}

	if old := strings.TrimSpace(product.OldPrice); old != "" {
		fmt.Fprintf(&sb, "\n\nЦіна: <s>%s</s> %s",
			html.EscapeString(old), html.EscapeString(product.Price))
	} else {
		fmt.Fprintf(&sb, "\n\nЦіна: %s", html.EscapeString(product.Price))
	}

	if link := descriptionLink(product.Description); link != "" {
		sb.WriteString("\n\n" + link)
	}
	return sb.String()
}

// descriptionLink renders a "read more" link only when the long description
// cell actually holds a URL; plain text there is not linkable.
func descriptionLink(description string) string {
	description = strings.TrimSpace(description)
	if !strings.HasPrefix(description, "http://") && !strings.HasPrefix(description, "https://") {
		return ""
	}
	return fmt.Sprintf(`<a href="%s">📖 Детальніше</a>`, description)
}

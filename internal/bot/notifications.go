package bot

import (
	"context"
	"fmt"
	"os"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

const ordersGroupSettingKey = "orders_group_id"

// notifyOrdersGroup posts an order summary to the configured operations
// group. No configured group means no notification, silently.
func (b *Bot) notifyOrdersGroup(ctx context.Context, session OrderSession, userID int64, from *tgbotapi.User) {
	value, err := b.settings.GetSetting(ctx, ordersGroupSettingKey)
	if err != nil {
		b.logger.Error("Failed to read orders group setting", zap.Error(err))
		return
	}
	if value == "" {
		return
	}

	groupID, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		b.logger.Error("Invalid orders group id in settings",
			zap.String("value", value),
			zap.Error(err))
		return
	}

	username := ""
	if from != nil {
		username = from.UserName
	}

	text := fmt.Sprintf(
		"📦 Нове замовлення\n\n"+
			"Товар: %s\nЦіна: %s\nОтримувач: %s\nТелефон: %s\nДоставка: %s\n\n"+
			"TG: @%s (id %d)",
		session.ProductName, session.ProductPrice,
		session.Name, session.Phone, session.Delivery,
		username, userID,
	)

	msg := tgbotapi.NewMessage(groupID, text)
	if _, err := b.api.Send(msg); err != nil {
		b.logger.Error("Failed to notify orders group",
			zap.Int64("group_id", groupID),
			zap.String("product_id", session.ProductID),
			zap.Int64("user_id", userID),
			zap.Error(err))
	}
}

// sendAfterOrderPromo acknowledges the buyer and invites them to the shop
// group. Photo when the configured image exists, plain text otherwise.
func (b *Bot) sendAfterOrderPromo(chatID, userID int64) {
	caption := "✅ <b>Замовлення прийнято!</b>\n\n" +
		"Найближчим часом з вами зв'яжеться оператор для підтвердження 👩‍💻\n\n" +
		"Щоб не втратити нас, підпишіться на наш Telegram-канал —\n" +
		"там новинки, акції та знижки 🔥"

	var keyboard *tgbotapi.InlineKeyboardMarkup
	if b.cfg.AfterOrderGroupURL != "" {
		kb := groupLinkKeyboard(b.cfg.AfterOrderGroupURL)
		keyboard = &kb
	}

	if path := b.cfg.AfterOrderImagePath; path != "" {
		if _, err := os.Stat(path); err == nil {
			photo := tgbotapi.NewPhoto(chatID, tgbotapi.FilePath(path))
			photo.Caption = caption
			photo.ParseMode = tgbotapi.ModeHTML
			if keyboard != nil {
				photo.ReplyMarkup = *keyboard
			}
			if _, err := b.sender.Send(photo, userID); err == nil {
				return
			}
			b.logger.Warn("Failed to send after-order photo, falling back to text",
				zap.Int64("chat_id", chatID))
		}
	}

	msg := tgbotapi.NewMessage(chatID, caption)
	msg.ParseMode = tgbotapi.ModeHTML
	if keyboard != nil {
		msg.ReplyMarkup = *keyboard
	}
	if _, err := b.sender.Send(msg, userID); err != nil {
		b.logger.Error("Failed to send after-order message",
			zap.Int64("chat_id", chatID),
			zap.Error(err))
	}
}

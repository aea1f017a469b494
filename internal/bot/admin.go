package bot

import (
	"context"
	"fmt"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"storebot/internal/promo"
)

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	switch msg.Command() {
	case "start":
		b.handleStart(ctx, msg)
	case "setgroup":
		b.handleSetGroup(ctx, msg)
	case "sendpromo":
		b.handleSendPromo(ctx, msg)
	case "stats":
		b.handleStats(ctx, msg)
	case "export":
		b.handleExport(ctx, msg)
	}
}

func (b *Bot) isAdmin(userID int64) bool {
	for _, id := range b.cfg.AdminIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// handleSetGroup persists the current group chat as the orders notification
// target. Only meaningful inside a group.
func (b *Bot) handleSetGroup(ctx context.Context, msg *tgbotapi.Message) {
	if !b.isAdmin(senderID(msg.From)) {
		return
	}
	if !msg.Chat.IsGroup() && !msg.Chat.IsSuperGroup() {
		b.sendError(msg.Chat.ID, msg.From, "Команда працює лише в групі")
		return
	}

	chatID := msg.Chat.ID
	if err := b.settings.SetSetting(ctx, ordersGroupSettingKey, strconv.FormatInt(chatID, 10)); err != nil {
		b.logger.Error("Failed to save orders group id",
			zap.Int64("chat_id", chatID),
			zap.Error(err))
		b.sendError(chatID, msg.From, "Не вдалося зберегти групу")
		return
	}

	b.logger.Info("Orders group configured", zap.Int64("chat_id", chatID))
	b.sendMessage(tgbotapi.NewMessage(chatID, "✅ Групу для замовлень успішно збережено"), senderID(msg.From))
}

// handleSendPromo triggers a broadcast right away, without touching the
// scheduler's last-sent date.
func (b *Bot) handleSendPromo(ctx context.Context, msg *tgbotapi.Message) {
	if !b.isAdmin(senderID(msg.From)) {
		return
	}
	if b.broadcaster == nil {
		b.sendError(msg.Chat.ID, msg.From, "Розсилка недоступна")
		return
	}

	result := b.broadcaster.Broadcast(ctx)

	var reply string
	switch result.Status {
	case promo.StatusSent, promo.StatusSentWithFailures:
		reply = fmt.Sprintf("✅ Промо-розсилку виконано (чатів: %d, товарів: %d, доставлено: %d)",
			result.Chats, result.Products, result.Delivered)
	case promo.StatusNoProducts:
		reply = "⚠️ Немає товарів для промо-розсилки"
	case promo.StatusNoChats:
		reply = "⚠️ Немає користувачів для промо-розсилки"
	case promo.StatusBusy:
		reply = "⚠️ Розсилка вже виконується"
	default:
		reply = "❌ Помилка під час промо-розсилки"
	}

	b.sendMessage(tgbotapi.NewMessage(msg.Chat.ID, reply), senderID(msg.From))
}

func (b *Bot) handleStats(ctx context.Context, msg *tgbotapi.Message) {
	if !b.isAdmin(senderID(msg.From)) {
		return
	}

	stats, err := b.directory.Stats(ctx)
	if err != nil {
		b.logger.Error("Failed to load user stats", zap.Error(err))
		b.sendError(msg.Chat.ID, msg.From, "Не вдалося завантажити статистику")
		return
	}

	text := fmt.Sprintf(
		"📊 Статистика бота\n👥 Всього: %d\n✅ Активні: %d\n🚫 Відписались: %d",
		stats.Total, stats.Active, stats.Left)
	b.sendMessage(tgbotapi.NewMessage(msg.Chat.ID, text), senderID(msg.From))
}

// handleExport sends the whole orders log as an .xlsx document.
func (b *Bot) handleExport(ctx context.Context, msg *tgbotapi.Message) {
	if !b.isAdmin(senderID(msg.From)) {
		return
	}

	path, err := b.exporter.ExportXLSX(ctx)
	if err != nil {
		b.logger.Error("Failed to export orders", zap.Error(err))
		b.sendError(msg.Chat.ID, msg.From, "Не вдалося сформувати файл замовлень")
		return
	}

	doc := tgbotapi.NewDocument(msg.Chat.ID, tgbotapi.FilePath(path))
	doc.Caption = "📑 Журнал замовлень"
	if _, err := b.api.Send(doc); err != nil {
		b.logger.Error("Failed to send orders export",
			zap.Int64("chat_id", msg.Chat.ID),
			zap.Error(err))
	}
}

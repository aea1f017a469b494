package bot

import (
	"context"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// processMembershipChange keeps the directory in sync with my_chat_member
// updates: kicked means the user blocked or removed the bot, member means
// they are reachable again.
func (b *Bot) processMembershipChange(ctx context.Context, event *tgbotapi.ChatMemberUpdated) {
	oldStatus := event.OldChatMember.Status
	newStatus := event.NewChatMember.Status
	if oldStatus == newStatus {
		return
	}

	userID := event.From.ID
	if event.NewChatMember.User != nil {
		userID = event.NewChatMember.User.ID
	}

	switch newStatus {
	case "kicked":
		if err := b.directory.SetStatus(ctx, userID, false); err != nil {
			b.logger.Error("Failed to mark user as left",
				zap.Int64("user_id", userID),
				zap.Error(err))
		}
	case "member":
		if err := b.directory.SetStatus(ctx, userID, true); err != nil {
			b.logger.Error("Failed to mark user as active",
				zap.Int64("user_id", userID),
				zap.Error(err))
		}
	}
}

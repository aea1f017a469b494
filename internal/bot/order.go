package bot

import (
	"context"
	"fmt"
	"html"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"storebot/internal/orders"
	"storebot/internal/storage"
	"storebot/pkg/crm"
)

func (b *Bot) handleCallbackData(ctx context.Context, callback *tgbotapi.CallbackQuery) {
	data := callback.Data

	switch {
	case strings.HasPrefix(data, "buy:"):
		b.handleBuyCallback(ctx, callback, strings.TrimPrefix(data, "buy:"))
	case data == "order:start":
		b.handleOrderStart(ctx, callback)
	case data == "order:reuse":
		b.handleReuseCustomer(ctx, callback)
	case data == "order:edit":
		b.handleEditCustomer(ctx, callback)
	case data == "order:back:product":
		b.handleBackToProduct(ctx, callback)
	case data == "order:back:name":
		b.handleBackToName(ctx, callback)
	case data == "order:back:phone":
		b.handleBackToPhone(ctx, callback)
	case data == "order:back:city":
		b.handleBackToCityBranch(ctx, callback)
	case data == "order:submit":
		b.handleSubmit(ctx, callback)
	case data == "cancel_order":
		b.handleCancel(ctx, callback)
	default:
		b.answerCallback(callback.ID, "")
	}
}

// handleOrderStart begins collecting recipient details. A returning customer
// with a saved record gets a shortcut straight to confirmation.
func (b *Bot) handleOrderStart(ctx context.Context, callback *tgbotapi.CallbackQuery) {
	chatID := callback.Message.Chat.ID

	session, ok := b.activeSession(ctx, callback)
	if !ok {
		return
	}

	customer, err := b.customers.GetCustomer(ctx, senderID(callback.From))
	if err != nil {
		b.logger.Error("Failed to look up customer",
			zap.Int64("user_id", senderID(callback.From)),
			zap.Error(err))
		customer = nil
	}

	if customer != nil {
		text := fmt.Sprintf(
			"Ви обрали: <b>%s</b>.\n\nЗнайшли ваші збережені дані:\n\n"+
				"Отримувач: %s\nТелефон: %s\nДоставка: %s\n\n"+
				"Використати їх для цього замовлення?",
			html.EscapeString(session.ProductName),
			html.EscapeString(customer.Name),
			html.EscapeString(customer.Phone),
			html.EscapeString(joinCityBranch(customer.City, customer.PostOffice)),
		)
		b.editAnchorCaption(chatID, session.AnchorMessageID, text, reuseCustomerKeyboard())
		b.answerCallback(callback.ID, "")
		return
	}

	b.promptName(ctx, chatID, session)
	b.answerCallback(callback.ID, "")
}

func (b *Bot) handleReuseCustomer(ctx context.Context, callback *tgbotapi.CallbackQuery) {
	chatID := callback.Message.Chat.ID

	session, ok := b.activeSession(ctx, callback)
	if !ok {
		return
	}

	customer, err := b.customers.GetCustomer(ctx, senderID(callback.From))
	if err != nil || customer == nil {
		if err != nil {
			b.logger.Error("Failed to look up customer",
				zap.Int64("user_id", senderID(callback.From)),
				zap.Error(err))
		}
		b.promptName(ctx, chatID, session)
		b.answerCallback(callback.ID, "")
		return
	}

	session.Name = customer.Name
	session.Phone = customer.Phone
	session.City = customer.City
	session.Branch = customer.PostOffice
	session.Delivery = joinCityBranch(customer.City, customer.PostOffice)
	session.Step = StepConfirmation

	b.saveSession(ctx, chatID, session)
	b.renderConfirmation(chatID, session)
	b.answerCallback(callback.ID, "")
}

func (b *Bot) handleEditCustomer(ctx context.Context, callback *tgbotapi.CallbackQuery) {
	session, ok := b.activeSession(ctx, callback)
	if !ok {
		return
	}
	b.promptName(ctx, callback.Message.Chat.ID, session)
	b.answerCallback(callback.ID, "")
}

// Text input handlers, dispatched by session step.

func (b *Bot) handleNameInput(ctx context.Context, msg *tgbotapi.Message, session OrderSession) {
	chatID := msg.Chat.ID

	name := strings.TrimSpace(msg.Text)
	if name == "" {
		b.transientPrompt(ctx, chatID, session, "Введіть ім'я та прізвище текстом.")
		return
	}

	b.deleteMessage(chatID, msg.MessageID)
	b.clearPrompts(chatID, &session)

	session.Name = name
	session.Phone = ""
	session.City = ""
	session.Branch = ""
	session.Delivery = ""
	session.Step = StepPhone

	b.saveSession(ctx, chatID, session)
	b.editAnchorCaption(chatID, session.AnchorMessageID, phonePromptText(session), phoneKeyboard())
}

func (b *Bot) handlePhoneInput(ctx context.Context, msg *tgbotapi.Message, session OrderSession) {
	chatID := msg.Chat.ID

	var phone string
	if msg.Contact != nil {
		phone = msg.Contact.PhoneNumber
	} else {
		normalized, ok := NormalizeUAPhone(msg.Text)
		if !ok {
			b.transientPrompt(ctx, chatID, session,
				"❌ Невірний формат номера. Приклад: 0501234567 або +380501234567.")
			return
		}
		phone = normalized
	}

	b.deleteMessage(chatID, msg.MessageID)
	b.clearPrompts(chatID, &session)

	session.Phone = phone
	session.City = ""
	session.Branch = ""
	session.Delivery = ""
	session.Step = StepCityBranch

	b.saveSession(ctx, chatID, session)
	b.editAnchorCaption(chatID, session.AnchorMessageID, cityPromptText(), cityBranchKeyboard())
}

func (b *Bot) handleCityBranchInput(ctx context.Context, msg *tgbotapi.Message, session OrderSession) {
	chatID := msg.Chat.ID

	raw := strings.TrimSpace(msg.Text)
	if raw == "" {
		b.transientPrompt(ctx, chatID, session, "Вкажіть місто та відділення текстом.")
		return
	}

	b.deleteMessage(chatID, msg.MessageID)
	b.clearPrompts(chatID, &session)

	session.Delivery = raw
	session.City, session.Branch = SplitCityBranch(raw)
	session.Step = StepConfirmation

	b.saveSession(ctx, chatID, session)
	b.renderConfirmation(chatID, session)
}

// Back edges. Re-entering a step drops every field collected after it.

func (b *Bot) handleBackToProduct(ctx context.Context, callback *tgbotapi.CallbackQuery) {
	chatID := callback.Message.Chat.ID

	session, ok := b.activeSession(ctx, callback)
	if !ok {
		return
	}

	session.Name = ""
	session.Phone = ""
	session.City = ""
	session.Branch = ""
	session.Delivery = ""
	session.Step = StepProductSelected
	b.saveSession(ctx, chatID, session)

	product, err := b.products.FindByID(ctx, session.ProductID)
	if err == nil && product != nil {
		b.editAnchorMedia(chatID, session.AnchorMessageID, product.PhotoURL,
			productCaption(*product), orderStartKeyboard())
	} else {
		caption := fmt.Sprintf("<b>%s</b>\n\nЦіна: %s",
			html.EscapeString(session.ProductName), html.EscapeString(session.ProductPrice))
		b.editAnchorCaption(chatID, session.AnchorMessageID, caption, orderStartKeyboard())
	}
	b.answerCallback(callback.ID, "")
}

func (b *Bot) handleBackToName(ctx context.Context, callback *tgbotapi.CallbackQuery) {
	session, ok := b.activeSession(ctx, callback)
	if !ok {
		return
	}

	session.Phone = ""
	session.City = ""
	session.Branch = ""
	session.Delivery = ""
	b.promptName(ctx, callback.Message.Chat.ID, session)
	b.answerCallback(callback.ID, "")
}

func (b *Bot) handleBackToPhone(ctx context.Context, callback *tgbotapi.CallbackQuery) {
	chatID := callback.Message.Chat.ID

	session, ok := b.activeSession(ctx, callback)
	if !ok {
		return
	}

	session.City = ""
	session.Branch = ""
	session.Delivery = ""
	session.Step = StepPhone
	b.saveSession(ctx, chatID, session)
	b.editAnchorCaption(chatID, session.AnchorMessageID, phonePromptText(session), phoneKeyboard())
	b.answerCallback(callback.ID, "")
}

func (b *Bot) handleBackToCityBranch(ctx context.Context, callback *tgbotapi.CallbackQuery) {
	chatID := callback.Message.Chat.ID

	session, ok := b.activeSession(ctx, callback)
	if !ok {
		return
	}

	session.City = ""
	session.Branch = ""
	session.Delivery = ""
	session.Step = StepCityBranch
	b.saveSession(ctx, chatID, session)
	b.editAnchorCaption(chatID, session.AnchorMessageID, cityPromptText(), cityBranchKeyboard())
	b.answerCallback(callback.ID, "")
}

// handleSubmit finalizes the order. The session is cleared before any side
// effect runs, so a duplicate submit finds no state and creates nothing.
// Each downstream call is fault-isolated: a failure is logged, never shown
// to the buyer, and never blocks the remaining steps.
func (b *Bot) handleSubmit(ctx context.Context, callback *tgbotapi.CallbackQuery) {
	chatID := callback.Message.Chat.ID
	userID := senderID(callback.From)

	session, ok, err := b.sessions.Get(ctx, chatID)
	if err != nil {
		b.logger.Error("Failed to get order session",
			zap.Int64("chat_id", chatID),
			zap.Error(err))
		b.answerCallback(callback.ID, "Сталася помилка, спробуйте ще раз")
		return
	}
	if !ok || session.Step != StepConfirmation {
		b.answerCallback(callback.ID, "Замовлення вже оформлено")
		return
	}

	if err := b.sessions.Clear(ctx, chatID); err != nil {
		b.logger.Error("Failed to clear order session",
			zap.Int64("chat_id", chatID),
			zap.Error(err))
	}

	if err := b.customers.SaveOrUpdateCustomer(ctx, storage.Customer{
		TelegramID: userID,
		Name:       session.Name,
		Phone:      session.Phone,
		City:       session.City,
		PostOffice: session.Branch,
	}); err != nil {
		b.logger.Error("Failed to save customer",
			zap.Int64("user_id", userID),
			zap.Error(err))
	}

	if err := b.orders.Append(ctx, orders.Record{
		UserID:       userID,
		ChatID:       chatID,
		ProductID:    session.ProductID,
		ProductName:  session.ProductName,
		ProductPrice: session.ProductPrice,
		Name:         session.Name,
		Phone:        session.Phone,
		City:         session.City,
		Branch:       session.Branch,
	}); err != nil {
		b.logger.Error("Failed to append order to log",
			zap.Int64("user_id", userID),
			zap.String("product_id", session.ProductID),
			zap.Error(err))
	}

	orderID := crm.OrderID(session.ProductID, userID)
	if err := b.crm.SendOrder(ctx, crm.Order{
		OrderID:   orderID,
		Country:   b.cfg.CRMCountry,
		Site:      b.cfg.CRMSite,
		BuyerName: session.Name,
		Phone:     session.Phone,
		Comment:   fmt.Sprintf("Доставка: %s", session.Delivery),
		ProductID: session.ProductID,
		Price:     session.ProductPrice,
	}); err != nil {
		b.logger.Error("Failed to send order to CRM",
			zap.String("order_id", orderID),
			zap.Int64("chat_id", chatID),
			zap.Error(err))
	}

	b.notifyOrdersGroup(ctx, session, userID, callback.From)

	b.answerCallback(callback.ID, "✅ Замовлення оформлено")
	b.deleteMessage(chatID, session.AnchorMessageID)
	b.sendAfterOrderPromo(chatID, userID)
}

// handleCancel aborts the conversation from any step and returns the buyer
// to the catalog.
func (b *Bot) handleCancel(ctx context.Context, callback *tgbotapi.CallbackQuery) {
	chatID := callback.Message.Chat.ID

	session, ok, err := b.sessions.Get(ctx, chatID)
	if err != nil {
		b.logger.Error("Failed to get order session",
			zap.Int64("chat_id", chatID),
			zap.Error(err))
	}
	if ok {
		b.clearPrompts(chatID, &session)
		if err := b.sessions.Clear(ctx, chatID); err != nil {
			b.logger.Error("Failed to clear order session",
				zap.Int64("chat_id", chatID),
				zap.Error(err))
		}
	}

	b.deleteMessage(chatID, callback.Message.MessageID)
	b.answerCallback(callback.ID, "")
	b.sendProductList(ctx, chatID, senderID(callback.From))
}

// Prompt rendering.

func (b *Bot) promptName(ctx context.Context, chatID int64, session OrderSession) {
	session.Step = StepName
	b.saveSession(ctx, chatID, session)

	text := fmt.Sprintf(
		"Ви обрали: <b>%s</b>.\n\n👤 Вкажіть ім'я та прізвище отримувача.",
		html.EscapeString(session.ProductName))
	b.editAnchorCaption(chatID, session.AnchorMessageID, text, nameKeyboard())
}

func phonePromptText(session OrderSession) string {
	return fmt.Sprintf(
		"Отримувач: <b>%s</b>.\n\n📞 Вкажіть номер телефону для зв'язку.\nНаприклад: 0501234567",
		html.EscapeString(session.Name))
}

func cityPromptText() string {
	return "🏙 Вкажіть місто та відділення пошти через кому.\nНаприклад: Львів, №3"
}

func (b *Bot) renderConfirmation(chatID int64, session OrderSession) {
	summary := fmt.Sprintf(
		"<b>Перевірте дані замовлення:</b>\n\n"+
			"Товар: %s\nЦіна: %s\nОтримувач: %s\nТелефон: %s\nДоставка: %s",
		html.EscapeString(session.ProductName),
		html.EscapeString(session.ProductPrice),
		html.EscapeString(session.Name),
		html.EscapeString(session.Phone),
		html.EscapeString(session.Delivery),
	)
	b.editAnchorCaption(chatID, session.AnchorMessageID, summary, confirmationKeyboard())
}

// transientPrompt re-prompts the current step with a separate short-lived
// message, tracked in the session so it is removed once the step advances.
func (b *Bot) transientPrompt(ctx context.Context, chatID int64, session OrderSession, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	sent := b.sendMessage(msg, 0)
	if sent == nil {
		return
	}

	session.PromptMessageIDs = append(session.PromptMessageIDs, sent.MessageID)
	b.saveSession(ctx, chatID, session)
}

func (b *Bot) clearPrompts(chatID int64, session *OrderSession) {
	for _, messageID := range session.PromptMessageIDs {
		b.deleteMessage(chatID, messageID)
	}
	session.PromptMessageIDs = nil
}

// activeSession loads the session behind a callback; a missing one means the
// card is stale (expired or already finished).
func (b *Bot) activeSession(ctx context.Context, callback *tgbotapi.CallbackQuery) (OrderSession, bool) {
	chatID := callback.Message.Chat.ID

	session, ok, err := b.sessions.Get(ctx, chatID)
	if err != nil {
		b.logger.Error("Failed to get order session",
			zap.Int64("chat_id", chatID),
			zap.Error(err))
		b.answerCallback(callback.ID, "Сталася помилка, спробуйте ще раз")
		return OrderSession{}, false
	}
	if !ok {
		b.alertCallback(callback.ID, "Замовлення неактуальне. Оберіть товар ще раз.")
		return OrderSession{}, false
	}
	return session, true
}

func (b *Bot) saveSession(ctx context.Context, chatID int64, session OrderSession) {
	if err := b.sessions.Save(ctx, chatID, session); err != nil {
		b.logger.Error("Failed to save order session",
			zap.Int64("chat_id", chatID),
			zap.Error(err))
	}
}

// editAnchorCaption updates the single anchor card in place.
func (b *Bot) editAnchorCaption(chatID int64, messageID int, caption string, keyboard tgbotapi.InlineKeyboardMarkup) {
	edit := tgbotapi.NewEditMessageCaption(chatID, messageID, caption)
	edit.ParseMode = tgbotapi.ModeHTML
	edit.ReplyMarkup = &keyboard

	if _, err := b.api.Send(edit); err != nil {
		b.logger.Warn("Failed to edit anchor caption",
			zap.Int64("chat_id", chatID),
			zap.Int("message_id", messageID),
			zap.Error(err))
	}
}

// editAnchorMedia swaps the anchor's photo and caption; when the media edit
// fails (invalid photo reference and the like) it falls back to a caption
// edit so the transition never fails outright.
func (b *Bot) editAnchorMedia(chatID int64, messageID int, photoURL, caption string, keyboard tgbotapi.InlineKeyboardMarkup) {
	media := tgbotapi.NewInputMediaPhoto(tgbotapi.FileURL(photoURL))
	media.Caption = caption
	media.ParseMode = tgbotapi.ModeHTML

	edit := tgbotapi.EditMessageMediaConfig{
		BaseEdit: tgbotapi.BaseEdit{
			ChatID:      chatID,
			MessageID:   messageID,
			ReplyMarkup: &keyboard,
		},
		Media: media,
	}

	if _, err := b.api.Request(edit); err != nil {
		b.logger.Warn("Failed to edit anchor media, falling back to caption",
			zap.Int64("chat_id", chatID),
			zap.Int("message_id", messageID),
			zap.Error(err))
		b.editAnchorCaption(chatID, messageID, caption, keyboard)
	}
}

func joinCityBranch(city, branch string) string {
	if branch == "" {
		return city
	}
	return city + ", " + branch
}

package telegram

import (
	"context"
	"fmt"
	"html"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	log "github.com/sirupsen/logrus"

	"trichat/internal/conversation"
	"trichat/internal/dispatch"
	"trichat/internal/llm"
	"trichat/internal/settings"
)

const (
	primaryPrefix = "primary:"
	showAllPrefix = "show_all:"

	generatingText = "Generating responses..."
	resetText      = "Conversation reset. Send a message to start a new one."
	expiredText    = "Your previous conversation expired after inactivity. Settings were reset to defaults."
)

type Bot struct {
	api       *tgbotapi.BotAPI
	s         sender
	coord     *dispatch.Coordinator
	settings  *settings.Manager
	parseMode string

	mu    sync.Mutex
	chats map[int64]string
	wg    sync.WaitGroup
}

func New(botToken string, coord *dispatch.Coordinator, mgr *settings.Manager, parseMode string) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, err
	}
	log.WithField("bot", api.Self.UserName).Info("authorized on telegram")
	b := newBot(botAPISender{api: api}, coord, mgr, parseMode)
	b.api = api
	return b, nil
}

func newBot(s sender, coord *dispatch.Coordinator, mgr *settings.Manager, parseMode string) *Bot {
	return &Bot{
		s:         s,
		coord:     coord,
		settings:  mgr,
		parseMode: parseMode,
		chats:     make(map[int64]string),
	}
}

// Start polls for updates until ctx is cancelled, then waits for in-flight
// handlers.
func (b *Bot) Start(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)
	defer b.wg.Wait()

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			b.wg.Add(1)
			go func() {
				defer b.wg.Done()
				b.handleUpdate(ctx, update)
			}()
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.Message != nil && update.Message.IsCommand():
		b.handleCommand(update.Message)
	case update.Message != nil:
		b.handleIncomingMessage(ctx, update.Message)
	case update.CallbackQuery != nil:
		b.handleCallback(update.CallbackQuery)
	}
}

func (b *Bot) handleCommand(msg *tgbotapi.Message) {
	switch msg.Command() {
	case "start":
		b.startChat(msg.Chat.ID)
	case "settings":
		conv := b.conversationFor(msg.Chat.ID)
		b.sendSettings(msg.Chat.ID, b.coord.Store().Settings(conv))
	case "reset":
		b.mu.Lock()
		conv, ok := b.chats[msg.Chat.ID]
		delete(b.chats, msg.Chat.ID)
		b.mu.Unlock()
		if ok {
			b.coord.Reset(conv)
		}
		b.sendMessage(msg.Chat.ID, resetText)
	default:
		b.sendMessage(msg.Chat.ID, "Unknown command. Use /start, /settings or /reset.")
	}
}

func (b *Bot) startChat(chatID int64) {
	start, err := b.coord.StartChat()
	if err != nil {
		log.WithError(err).WithField("chat", chatID).Error("failed to start chat")
		b.sendMessage(chatID, fmt.Sprintf("An error occurred: %v", err))
		return
	}
	b.mu.Lock()
	b.chats[chatID] = start.ConversationID
	b.mu.Unlock()

	out := tgbotapi.NewMessage(chatID, b.escapeIfNeeded(start.Greeting))
	out.ParseMode = b.parseModeValue()
	out.ReplyMarkup = settingsKeyboard(start.Settings)
	if _, err := b.s.Send(out); err != nil {
		log.WithError(err).Warn("failed to send greeting")
	}
}

// conversationFor returns the chat's conversation id, allocating one when the
// chat has none yet or its conversation was evicted. The user is told when an
// evicted conversation is replaced, since its settings are lost with it.
func (b *Bot) conversationFor(chatID int64) string {
	store := b.coord.Store()
	b.mu.Lock()
	old, known := b.chats[chatID]
	if known {
		if _, ok := store.Snapshot(old); ok {
			b.mu.Unlock()
			return old
		}
	}
	id := conversation.NewID()
	if _, err := store.GetOrCreate(id); err != nil {
		log.WithError(err).WithField("chat", chatID).Error("failed to create conversation")
	}
	b.chats[chatID] = id
	b.mu.Unlock()

	if known {
		log.WithFields(log.Fields{"chat": chatID, "expired": old, "conversation": id}).Info("conversation expired, settings reset to defaults")
		b.sendMessage(chatID, expiredText)
	}
	return id
}

func (b *Bot) handleIncomingMessage(ctx context.Context, msg *tgbotapi.Message) {
	if strings.TrimSpace(msg.Text) == "" {
		return
	}
	conv := b.conversationFor(msg.Chat.ID)
	logger := log.WithFields(log.Fields{"chat": msg.Chat.ID, "conversation": conv})
	if msg.From != nil {
		logger = logger.WithField("user", msg.From.UserName)
	}
	logger.WithField("length", len(msg.Text)).Info("incoming message")

	thinking, err := b.s.Send(tgbotapi.NewMessage(msg.Chat.ID, generatingText))
	if err != nil {
		logger.WithError(err).Warn("failed to send placeholder")
	}

	res, err := b.coord.HandleMessage(ctx, conv, msg.Text)
	if err != nil {
		logger.WithError(err).Error("failed to process message")
		b.replacePlaceholder(msg.Chat.ID, thinking.MessageID, b.escapeIfNeeded(fmt.Sprintf("An error occurred: %v", err)))
		return
	}

	b.replacePlaceholder(msg.Chat.ID, thinking.MessageID, b.escapeIfNeeded(res.Primary.Display()))
	for _, o := range res.Comparison() {
		b.sendFormatted(msg.Chat.ID, b.formatComparison(o))
	}
}

// replacePlaceholder edits the placeholder in place, or sends a fresh message
// when the placeholder could not be sent.
func (b *Bot) replacePlaceholder(chatID int64, messageID int, text string) {
	if messageID == 0 {
		b.sendFormatted(chatID, text)
		return
	}
	edit := tgbotapi.NewEditMessageText(chatID, messageID, text)
	edit.ParseMode = b.parseModeValue()
	if _, err := b.s.Send(edit); err != nil {
		log.WithError(err).Warn("failed to edit placeholder")
	}
}

func (b *Bot) handleCallback(cb *tgbotapi.CallbackQuery) {
	if cb.Message == nil {
		return
	}
	chatID := cb.Message.Chat.ID
	patch, ok := parseSettingsCallback(cb.Data)
	if !ok {
		b.answerCallback(cb.ID, "")
		return
	}
	conv := b.conversationFor(chatID)
	s, err := b.settings.Update(conv, patch)
	if err != nil {
		log.WithError(err).WithField("conversation", conv).Warn("rejected settings update")
		b.answerCallback(cb.ID, "Invalid setting")
		return
	}
	b.answerCallback(cb.ID, "")

	out := tgbotapi.NewMessage(chatID, b.escapeIfNeeded(settings.Confirmation(s)))
	out.ParseMode = b.parseModeValue()
	out.ReplyMarkup = settingsKeyboard(s)
	if _, err := b.s.Send(out); err != nil {
		log.WithError(err).Warn("failed to send settings confirmation")
	}
}

func (b *Bot) answerCallback(id, text string) {
	if _, err := b.s.Request(tgbotapi.NewCallback(id, text)); err != nil {
		log.WithError(err).Debug("failed to answer callback")
	}
}

func parseSettingsCallback(data string) (conversation.Patch, bool) {
	switch {
	case strings.HasPrefix(data, primaryPrefix):
		model := strings.TrimPrefix(data, primaryPrefix)
		return conversation.Patch{PrimaryModel: &model}, true
	case strings.HasPrefix(data, showAllPrefix):
		var v bool
		switch strings.TrimPrefix(data, showAllPrefix) {
		case "true":
			v = true
		case "false":
			v = false
		default:
			return conversation.Patch{}, false
		}
		return conversation.Patch{ShowAllModels: &v}, true
	}
	return conversation.Patch{}, false
}

func settingsKeyboard(s conversation.Settings) tgbotapi.InlineKeyboardMarkup {
	var models []tgbotapi.InlineKeyboardButton
	for _, name := range llm.KnownProviders {
		label := name
		if name == s.PrimaryModel {
			label = "✓ " + name
		}
		models = append(models, tgbotapi.NewInlineKeyboardButtonData(label, primaryPrefix+name))
	}
	toggle := tgbotapi.NewInlineKeyboardButtonData("Show all model responses: off", showAllPrefix+"true")
	if s.ShowAllModels {
		toggle = tgbotapi.NewInlineKeyboardButtonData("Show all model responses: on", showAllPrefix+"false")
	}
	return tgbotapi.NewInlineKeyboardMarkup(models, tgbotapi.NewInlineKeyboardRow(toggle))
}

func (b *Bot) sendSettings(chatID int64, s conversation.Settings) {
	text := fmt.Sprintf("Primary model: %s", s.PrimaryModel)
	out := tgbotapi.NewMessage(chatID, b.escapeIfNeeded(text))
	out.ParseMode = b.parseModeValue()
	out.ReplyMarkup = settingsKeyboard(s)
	if _, err := b.s.Send(out); err != nil {
		log.WithError(err).Warn("failed to send settings")
	}
}

func (b *Bot) formatComparison(o llm.Outcome) string {
	if b.parseModeValue() == tgbotapi.ModeHTML {
		return fmt.Sprintf("<b>%s Response:</b>\n\n%s", html.EscapeString(o.Provider), html.EscapeString(o.Display()))
	}
	return dispatch.ComparisonText(o)
}

func (b *Bot) sendMessage(chatID int64, text string) {
	b.sendFormatted(chatID, b.escapeIfNeeded(text))
}

func (b *Bot) sendFormatted(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = b.parseModeValue()
	if _, err := b.s.Send(msg); err != nil {
		log.WithError(err).WithField("chat", chatID).Warn("failed to send message")
	}
}

// parseModeValue returns HTML when configured and plain text otherwise.
func (b *Bot) parseModeValue() string {
	if strings.EqualFold(b.parseMode, tgbotapi.ModeHTML) {
		return tgbotapi.ModeHTML
	}
	return ""
}

func (b *Bot) escapeIfNeeded(s string) string {
	if b.parseModeValue() == tgbotapi.ModeHTML {
		return html.EscapeString(s)
	}
	return s
}

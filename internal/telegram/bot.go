// Package telegram is the reference internal/chat.Transport adapter,
// built on github.com/go-telegram/bot. Grounded on the teacher's
// internal/telegram/bot.go long-poll/handler shape, stripped of its
// session-routing responsibilities (now the Orchestrator's job) and
// generalized to emit platform-neutral chat.Update values instead of
// Telegram-specific UserResponse/CallbackEvent structs.
package telegram

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/local/remotecode/internal/applog"
	"github.com/local/remotecode/internal/chat"
	"github.com/local/remotecode/internal/format"
)

// Bot is the Telegram chat.Transport.
type Bot struct {
	bot            *bot.Bot
	token          string
	allowedUserIDs map[int64]bool
	updates        chan chat.Update
	log            *applog.Logger
}

// New constructs a Telegram transport. allowedIDs empty means unrestricted.
// log is the daemon's rotating log sink (spec.md §6); every transport
// shares it rather than writing to stderr on its own.
func New(token string, allowedIDs []int64, log *applog.Logger) (*Bot, error) {
	allowed := make(map[int64]bool, len(allowedIDs))
	for _, id := range allowedIDs {
		allowed[id] = true
	}

	b := &Bot{
		token:          token,
		allowedUserIDs: allowed,
		updates:        make(chan chat.Update, 100),
		log:            log,
	}

	tgBot, err := bot.New(token, bot.WithDefaultHandler(b.handleUpdate))
	if err != nil {
		return nil, fmt.Errorf("telegram: new bot: %w", err)
	}
	b.bot = tgBot
	return b, nil
}

func (b *Bot) Name() string { return "telegram" }

func (b *Bot) Updates() <-chan chat.Update { return b.updates }

// Start begins long polling until ctx is cancelled.
func (b *Bot) Start(ctx context.Context) error {
	b.log.Printf("telegram: starting long poll")
	b.bot.Start(ctx)
	return nil
}

func (b *Bot) allowed(userID int64) bool {
	return len(b.allowedUserIDs) == 0 || b.allowedUserIDs[userID]
}

func (b *Bot) handleUpdate(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	if update.CallbackQuery != nil {
		b.handleCallback(ctx, tgBot, update.CallbackQuery)
		return
	}
	if update.Message == nil {
		return
	}
	switch {
	case update.Message.Voice != nil:
		b.handleVoice(update.Message)
	case update.Message.Photo != nil && len(update.Message.Photo) > 0:
		b.handleImage(update.Message)
	default:
		b.handleText(update.Message)
	}
}

func (b *Bot) handleCallback(ctx context.Context, tgBot *bot.Bot, cb *models.CallbackQuery) {
	if !b.allowed(cb.From.ID) {
		b.log.Printf("telegram: unauthorized callback from user %d", cb.From.ID)
		return
	}
	chatID := int64(0)
	messageID := 0
	if cb.Message.Message != nil {
		chatID = cb.Message.Message.Chat.ID
		messageID = cb.Message.Message.ID
	}
	b.updates <- chat.Update{
		Kind:            chat.UpdateCallback,
		ChatID:          strconv.FormatInt(chatID, 10),
		UserID:          strconv.FormatInt(cb.From.ID, 10),
		Username:        cb.From.Username,
		Text:            cb.Data,
		CallbackID:      cb.ID,
		CallbackMessage: strconv.Itoa(messageID),
	}
}

func (b *Bot) handleText(msg *models.Message) {
	if !b.allowed(msg.From.ID) {
		b.log.Printf("telegram: unauthorized message from user %d", msg.From.ID)
		return
	}
	chatID := strconv.FormatInt(msg.Chat.ID, 10)
	userID := strconv.FormatInt(msg.From.ID, 10)

	if strings.HasPrefix(msg.Text, "/") {
		fields := strings.Fields(strings.TrimPrefix(msg.Text, "/"))
		cmd := fields[0]
		if at := strings.Index(cmd, "@"); at >= 0 {
			cmd = cmd[:at]
		}
		args := strings.TrimSpace(strings.TrimPrefix(msg.Text, "/"+fields[0]))
		b.updates <- chat.Update{Kind: chat.UpdateCommand, ChatID: chatID, UserID: userID, Username: msg.From.Username, Command: cmd, Args: args}
		return
	}

	b.updates <- chat.Update{Kind: chat.UpdateText, ChatID: chatID, UserID: userID, Username: msg.From.Username, Text: msg.Text}
}

func (b *Bot) handleVoice(msg *models.Message) {
	if !b.allowed(msg.From.ID) {
		return
	}
	b.updates <- chat.Update{
		Kind:     chat.UpdateVoice,
		ChatID:   strconv.FormatInt(msg.Chat.ID, 10),
		UserID:   strconv.FormatInt(msg.From.ID, 10),
		Username: msg.From.Username,
		FileID:   msg.Voice.FileID,
	}
}

func (b *Bot) handleImage(msg *models.Message) {
	if !b.allowed(msg.From.ID) {
		return
	}
	largest := msg.Photo[len(msg.Photo)-1]
	b.updates <- chat.Update{
		Kind:     chat.UpdateImage,
		ChatID:   strconv.FormatInt(msg.Chat.ID, 10),
		UserID:   strconv.FormatInt(msg.From.ID, 10),
		Username: msg.From.Username,
		FileID:   largest.FileID,
	}
}

func toInlineKeyboard(kb chat.Keyboard) *models.InlineKeyboardMarkup {
	if len(kb) == 0 {
		return nil
	}
	rows := make([][]models.InlineKeyboardButton, len(kb))
	for i, row := range kb {
		rows[i] = make([]models.InlineKeyboardButton, len(row))
		for j, btn := range row {
			rows[i][j] = models.InlineKeyboardButton{Text: btn.Text, CallbackData: btn.Data}
		}
	}
	return &models.InlineKeyboardMarkup{InlineKeyboard: rows}
}

func parseChatID(chatID string) (int64, error) {
	return strconv.ParseInt(chatID, 10, 64)
}

func (b *Bot) SendMessage(ctx context.Context, chatID, text string, opts chat.SendOptions) (string, error) {
	id, err := parseChatID(chatID)
	if err != nil {
		return "", err
	}
	msg, err := b.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:      id,
		Text:        format.ToTelegramHTML(text),
		ParseMode:   models.ParseModeHTML,
		ReplyMarkup: toInlineKeyboard(opts.Keyboard),
	})
	if err != nil {
		return "", err
	}
	return strconv.Itoa(msg.ID), nil
}

func (b *Bot) EditMessage(ctx context.Context, chatID, messageID, text string, opts chat.SendOptions) error {
	id, err := parseChatID(chatID)
	if err != nil {
		return err
	}
	msgID, err := strconv.Atoi(messageID)
	if err != nil {
		return err
	}
	_, err = b.bot.EditMessageText(ctx, &bot.EditMessageTextParams{
		ChatID:      id,
		MessageID:   msgID,
		Text:        format.ToTelegramHTML(text),
		ParseMode:   models.ParseModeHTML,
		ReplyMarkup: toInlineKeyboard(opts.Keyboard),
	})
	return err
}

func (b *Bot) DeleteMessage(ctx context.Context, chatID, messageID string) error {
	id, err := parseChatID(chatID)
	if err != nil {
		return err
	}
	msgID, err := strconv.Atoi(messageID)
	if err != nil {
		return err
	}
	_, err = b.bot.DeleteMessage(ctx, &bot.DeleteMessageParams{ChatID: id, MessageID: msgID})
	return err
}

func (b *Bot) AnswerCallback(ctx context.Context, callbackID, text string) error {
	_, err := b.bot.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{
		CallbackQueryID: callbackID,
		Text:            text,
	})
	return err
}

func (b *Bot) SendTyping(ctx context.Context, chatID string) {
	id, err := parseChatID(chatID)
	if err != nil {
		return
	}
	b.bot.SendChatAction(ctx, &bot.SendChatActionParams{ChatID: id, Action: models.ChatActionTyping})
}

func (b *Bot) SendPhoto(ctx context.Context, chatID, localPath, caption string) error {
	id, err := parseChatID(chatID)
	if err != nil {
		return err
	}
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("telegram: open photo: %w", err)
	}
	defer f.Close()
	_, err = b.bot.SendPhoto(ctx, &bot.SendPhotoParams{
		ChatID:    id,
		Photo:     &models.InputFileUpload{Filename: filepath.Base(localPath), Data: f},
		Caption:   format.ToTelegramHTML(caption),
		ParseMode: models.ParseModeHTML,
	})
	return err
}

func (b *Bot) SendVoice(ctx context.Context, chatID, localPath string) error {
	id, err := parseChatID(chatID)
	if err != nil {
		return err
	}
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("telegram: open voice: %w", err)
	}
	defer f.Close()
	_, err = b.bot.SendVoice(ctx, &bot.SendVoiceParams{
		ChatID: id,
		Voice:  &models.InputFileUpload{Filename: filepath.Base(localPath), Data: f},
	})
	return err
}

// Download fetches fileID (a Telegram file_id) to localPath over the
// Bot API's file-download endpoint.
func (b *Bot) Download(ctx context.Context, fileID, localPath string) error {
	file, err := b.bot.GetFile(ctx, &bot.GetFileParams{FileID: fileID})
	if err != nil {
		return fmt.Errorf("telegram: get file: %w", err)
	}

	url := fmt.Sprintf("https://api.telegram.org/file/bot%s/%s", b.token, file.FilePath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram: download file: status %s", resp.Status)
	}

	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return err
	}
	out, err := os.Create(localPath)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, resp.Body)
	return err
}

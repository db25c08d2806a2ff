// Package discord is the secondary internal/chat.Transport adapter,
// built on github.com/bwmarrin/discordgo. Grounded on the teacher's
// core/internal/discord/bot.go message-routing shape, stripped of its
// own session-routing responsibilities (now the Orchestrator's job),
// generalized to emit platform-neutral chat.Update values, and extended
// with message edit/delete and button components so it can render the
// Permission Arbiter's interactive dialogs the same way the Telegram
// adapter does.
package discord

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/local/remotecode/internal/chat"
	"github.com/local/remotecode/internal/format"
)

// Bot is the Discord chat.Transport.
type Bot struct {
	session *discordgo.Session
	guildID string // optional: restrict to one guild
	updates chan chat.Update
}

// New constructs a Discord transport. guildID, if non-empty, restricts
// message handling to that guild.
func New(token, guildID string) (*Bot, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("discord: new session: %w", err)
	}

	b := &Bot{session: session, guildID: guildID, updates: make(chan chat.Update, 100)}
	session.AddHandler(b.handleMessage)
	session.AddHandler(b.handleInteraction)
	session.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentsMessageContent

	return b, nil
}

func (b *Bot) Name() string { return "discord" }

func (b *Bot) Updates() <-chan chat.Update { return b.updates }

// Start opens the gateway connection and blocks until ctx is cancelled.
func (b *Bot) Start(ctx context.Context) error {
	if err := b.session.Open(); err != nil {
		return fmt.Errorf("discord: open session: %w", err)
	}
	<-ctx.Done()
	return b.session.Close()
}

func (b *Bot) handleMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author.ID == s.State.User.ID {
		return
	}
	if b.guildID != "" && m.GuildID != b.guildID {
		return
	}

	text := m.Content
	if strings.HasPrefix(text, "/") {
		fields := strings.Fields(strings.TrimPrefix(text, "/"))
		args := strings.TrimSpace(strings.TrimPrefix(text, "/"+fields[0]))
		b.updates <- chat.Update{Kind: chat.UpdateCommand, ChatID: m.ChannelID, UserID: m.Author.ID, Username: m.Author.Username, Command: fields[0], Args: args}
		return
	}

	if len(m.Attachments) > 0 {
		att := m.Attachments[0]
		if strings.HasPrefix(att.ContentType, "audio/") {
			b.updates <- chat.Update{Kind: chat.UpdateVoice, ChatID: m.ChannelID, UserID: m.Author.ID, Username: m.Author.Username, FileID: att.URL}
			return
		}
		if strings.HasPrefix(att.ContentType, "image/") {
			b.updates <- chat.Update{Kind: chat.UpdateImage, ChatID: m.ChannelID, UserID: m.Author.ID, Username: m.Author.Username, FileID: att.URL}
			return
		}
	}

	b.updates <- chat.Update{Kind: chat.UpdateText, ChatID: m.ChannelID, UserID: m.Author.ID, Username: m.Author.Username, Text: text}
}

// handleInteraction handles button-component presses, Discord's analogue
// of Telegram's callback query.
func (b *Bot) handleInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionMessageComponent {
		return
	}
	data := i.MessageComponentData()
	s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredMessageUpdate,
	})
	b.updates <- chat.Update{
		Kind:            chat.UpdateCallback,
		ChatID:          i.ChannelID,
		UserID:          i.Member.User.ID,
		Username:        i.Member.User.Username,
		Text:            data.CustomID,
		CallbackID:      i.ID,
		CallbackMessage: i.Message.ID,
	}
}

func toComponents(kb chat.Keyboard) []discordgo.MessageComponent {
	if len(kb) == 0 {
		return nil
	}
	rows := make([]discordgo.MessageComponent, len(kb))
	for i, row := range kb {
		buttons := make([]discordgo.MessageComponent, len(row))
		for j, btn := range row {
			buttons[j] = discordgo.Button{Label: btn.Text, CustomID: btn.Data, Style: discordgo.PrimaryButton}
		}
		rows[i] = discordgo.ActionsRow{Components: buttons}
	}
	return rows
}

func (b *Bot) SendMessage(ctx context.Context, chatID, text string, opts chat.SendOptions) (string, error) {
	msg, err := b.session.ChannelMessageSendComplex(chatID, &discordgo.MessageSend{
		Content:    format.ToDiscordMarkdown(format.Truncate(text)),
		Components: toComponents(opts.Keyboard),
	})
	if err != nil {
		return "", err
	}
	return msg.ID, nil
}

func (b *Bot) EditMessage(ctx context.Context, chatID, messageID, text string, opts chat.SendOptions) error {
	content := format.ToDiscordMarkdown(format.Truncate(text))
	components := toComponents(opts.Keyboard)
	_, err := b.session.ChannelMessageEditComplex(&discordgo.MessageEdit{
		Channel:    chatID,
		ID:         messageID,
		Content:    &content,
		Components: &components,
	})
	return err
}

func (b *Bot) DeleteMessage(ctx context.Context, chatID, messageID string) error {
	return b.session.ChannelMessageDelete(chatID, messageID)
}

// AnswerCallback is a no-op on Discord: handleInteraction already
// deferred the component update synchronously.
func (b *Bot) AnswerCallback(ctx context.Context, callbackID, text string) error {
	return nil
}

func (b *Bot) SendTyping(ctx context.Context, chatID string) {
	_ = b.session.ChannelTyping(chatID)
}

func (b *Bot) SendPhoto(ctx context.Context, chatID, localPath, caption string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("discord: open photo: %w", err)
	}
	defer f.Close()
	_, err = b.session.ChannelMessageSendComplex(chatID, &discordgo.MessageSend{
		Content: caption,
		Files:   []*discordgo.File{{Name: filepath.Base(localPath), Reader: f}},
	})
	return err
}

func (b *Bot) SendVoice(ctx context.Context, chatID, localPath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("discord: open voice: %w", err)
	}
	defer f.Close()
	_, err = b.session.ChannelMessageSendComplex(chatID, &discordgo.MessageSend{
		Files: []*discordgo.File{{Name: filepath.Base(localPath), ContentType: "audio/wav", Reader: f}},
	})
	return err
}

// Download fetches fileID -- for this adapter, the attachment's direct
// CDN URL captured in handleMessage -- to localPath.
func (b *Bot) Download(ctx context.Context, fileID, localPath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileID, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("discord: download attachment: status %s", resp.Status)
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

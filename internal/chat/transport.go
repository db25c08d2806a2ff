// Package chat defines the ChatTransport boundary the Orchestrator
// (internal/orchestrator) drives and the Watcher/Scanner post
// notifications through. spec.md treats the chat platform as an
// external interface ("out of scope, specify only the interface") --
// this package is that interface, with internal/telegram and
// internal/discord as the two concrete adapters, grounded on the
// teacher's internal/telegram/bot.go method surface generalized away
// from a single platform.
package chat

import "context"

// UpdateKind classifies one inbound chat event for Orchestrator dispatch
// (spec.md §4.5(a)).
type UpdateKind string

const (
	UpdateText     UpdateKind = "text"
	UpdateVoice    UpdateKind = "voice"
	UpdateImage    UpdateKind = "image"
	UpdateCommand  UpdateKind = "command"
	UpdateCallback UpdateKind = "callback"
)

// Update is one normalized inbound chat event, platform-neutral.
type Update struct {
	Kind UpdateKind

	ChatID   string // platform-native chat/channel id, stringified
	UserID   string
	Username string // without any leading "@", empty if the platform didn't supply one

	Text string // text body, command text (without leading "/"), or callback data

	Command string // for UpdateCommand: the command word without "/" or "@bot" suffix
	Args    string // remainder of the command line

	FileID string // voice or image attachment's platform file id, for Download

	CallbackID      string // platform callback-query id, to ack via AnswerCallback
	CallbackMessage string // id of the message the callback button was attached to
}

// Button is one inline-keyboard button: Text is shown to the user, Data
// is returned verbatim as Update.Text on press (spec.md §4.5's
// prefix-dispatched callback data: "sess:", "perm:", "ask:", etc).
type Button struct {
	Text string
	Data string
}

// Keyboard is a grid of inline buttons, one slice per row.
type Keyboard [][]Button

// SendOptions customizes one outgoing message.
type SendOptions struct {
	Keyboard   Keyboard
	Markdown   bool // render Text as the platform's markdown dialect
	ReplyToID  string
}

// Transport is the platform-neutral surface the Orchestrator, Watcher,
// and Scanner send chat messages and render dialogs through.
// Implementations: internal/telegram (go-telegram/bot), internal/discord
// (bwmarrin/discordgo).
type Transport interface {
	// Updates returns the channel of normalized inbound events. Start
	// must be called first.
	Updates() <-chan Update

	// Start begins receiving updates (long-poll or gateway connection)
	// until ctx is cancelled.
	Start(ctx context.Context) error

	// SendMessage posts text to chatID, returning the new message's id.
	SendMessage(ctx context.Context, chatID, text string, opts SendOptions) (messageID string, err error)

	// EditMessage replaces messageID's text and/or keyboard in chatID.
	EditMessage(ctx context.Context, chatID, messageID, text string, opts SendOptions) error

	// DeleteMessage removes messageID from chatID.
	DeleteMessage(ctx context.Context, chatID, messageID string) error

	// AnswerCallback acknowledges a button press, optionally showing a
	// transient toast with text.
	AnswerCallback(ctx context.Context, callbackID, text string) error

	// SendTyping signals a "typing..." indicator in chatID.
	SendTyping(ctx context.Context, chatID string)

	// SendPhoto posts the image at localPath with an optional caption.
	SendPhoto(ctx context.Context, chatID, localPath, caption string) error

	// SendVoice posts the audio at localPath.
	SendVoice(ctx context.Context, chatID, localPath string) error

	// Download fetches fileID to localPath.
	Download(ctx context.Context, fileID, localPath string) error

	// Name identifies the transport for logging ("telegram", "discord").
	Name() string
}

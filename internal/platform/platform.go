// Package platform abstracts the chat platform (Discord, Slack) that Gavel
// runs hearings on. Platform-specific implementations live in subpackages.
package platform

import (
	"context"
	"time"
)

// Client is the interface that platform-specific implementations must
// satisfy. Every call may fail independently and may be rate-limited;
// adapters retry with capped backoff but callers must still treat each call
// as fallible.
type Client interface {
	// Connect establishes a connection to the chat platform.
	Connect(ctx context.Context) error

	// Listen returns a channel of inbound events from the platform.
	// The channel is closed when the adapter is closed. Listen must only
	// be called after Connect.
	Listen(ctx context.Context) (<-chan Event, error)

	// CreateThread creates a private discussion space anchored to a channel
	// and returns its id. The id is the hearing's identity for its lifetime.
	CreateThread(ctx context.Context, channelID, name string) (string, error)

	// SendMessage posts text to a channel or thread and returns the message id.
	SendMessage(ctx context.Context, target, text string) (string, error)

	// SendDM delivers a direct message to a user.
	SendDM(ctx context.Context, userID, text string) error

	// AddReaction attaches an emoji marker to a message.
	AddReaction(ctx context.Context, channelID, messageID, emoji string) error

	// DeleteMessage removes a message from a channel.
	DeleteMessage(ctx context.Context, channelID, messageID string) error

	// GuildMembers lists all members of the community.
	GuildMembers(ctx context.Context, guildID string) ([]Member, error)

	// Member fetches a single member with capabilities and affiliations.
	Member(ctx context.Context, guildID, userID string) (Member, error)

	// AddThreadMember adds a user to a thread.
	AddThreadMember(ctx context.Context, threadID, userID string) error

	// RemoveThreadMember removes a user from a thread.
	RemoveThreadMember(ctx context.Context, threadID, userID string) error

	// ThreadMembers lists the user ids currently in a thread.
	ThreadMembers(ctx context.Context, threadID string) ([]string, error)

	// EditThread applies name/archived/locked changes to a thread.
	EditThread(ctx context.Context, threadID string, edit ThreadEdit) error

	// PromptSelect presents a bounded list of labeled choices to a user via
	// DM. The answer (if any) arrives later as an EventSelect carrying the
	// prompt id; no answer is not an error.
	PromptSelect(ctx context.Context, userID, promptID, placeholder string, choices []SelectChoice) error

	// Close gracefully shuts down the adapter connection.
	Close() error
}

// MaxSelectChoices is the platform-imposed cap on choices in one prompt.
const MaxSelectChoices = 25

// Member is a community member as seen by the roster synchronizer.
type Member struct {
	UserID       string
	DisplayName  string
	Capabilities []string // role/usergroup ids the member holds
	Affiliations []string // displayed group labels, e.g. "Harbor City [HC]"
	IsBot        bool
}

// ThreadEdit describes a partial thread update. Nil fields are left as-is.
type ThreadEdit struct {
	Name     *string
	Archived *bool
	Locked   *bool
}

// SelectChoice is one option in a disambiguation prompt.
type SelectChoice struct {
	Value string // opaque value returned in the answer (a hearing id)
	Label string // human-readable description
}

// EventKind discriminates inbound events.
type EventKind string

const (
	// EventMessage is a message posted in a guild channel or thread.
	EventMessage EventKind = "message"
	// EventDM is a direct message to the bot.
	EventDM EventKind = "dm"
	// EventSelect is a user's answer to a PromptSelect.
	EventSelect EventKind = "select"
)

// Event is an inbound occurrence from the chat platform. Fields are
// populated according to Kind; unused fields are zero.
type Event struct {
	Kind      EventKind
	GuildID   string // empty for DMs
	ChannelID string
	MessageID string
	UserID    string
	UserName  string
	Text      string
	Timestamp time.Time

	// Message events only.
	MentionRoleIDs []string
	MentionUserIDs []string

	// Select events only.
	PromptID string
	Value    string
}

// BotUserIDer is an optional interface that clients can implement to expose
// the bot's own user ID for self-message filtering.
type BotUserIDer interface {
	BotUserID() string
}

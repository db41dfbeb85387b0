// Package discord implements the platform Client for Discord using the
// Gateway WebSocket. Hearings are private threads; disambiguation prompts
// are DM select menus answered via component interactions.
package discord

import (
	"context"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/zulandar/gavel/internal/platform"
)

const (
	// maxRetries is the max number of retries for rate-limited API calls.
	maxRetries = 3
	// baseBackoff is the initial backoff duration for rate-limit retries.
	baseBackoff = 2 * time.Second
	// maxBackoff caps the exponential backoff.
	maxBackoff = 2 * time.Minute
	// memberPageSize is the page size for guild member listing.
	memberPageSize = 1000
	// threadAutoArchiveMinutes is the auto-archive window for hearing threads.
	threadAutoArchiveMinutes = 10080 // 7 days
)

// session abstracts the discordgo.Session methods we use, enabling test mocks.
type session interface {
	Open() error
	Close() error
	AddHandler(handler interface{}) func()
	ThreadStartComplex(channelID string, data *discordgo.ThreadStart, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageDelete(channelID, messageID string, options ...discordgo.RequestOption) error
	MessageReactionAdd(channelID, messageID, emojiID string, options ...discordgo.RequestOption) error
	UserChannelCreate(recipientID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	GuildMembers(guildID, after string, limit int, options ...discordgo.RequestOption) ([]*discordgo.Member, error)
	GuildMember(guildID, userID string, options ...discordgo.RequestOption) (*discordgo.Member, error)
	GuildRoles(guildID string, options ...discordgo.RequestOption) ([]*discordgo.Role, error)
	ThreadMemberAdd(threadID, memberID string, options ...discordgo.RequestOption) error
	ThreadMemberRemove(threadID, memberID string, options ...discordgo.RequestOption) error
	ThreadMembers(threadID string, limit int, withMember bool, afterID string, options ...discordgo.RequestOption) ([]*discordgo.ThreadMember, error)
	ChannelEditComplex(channelID string, data *discordgo.ChannelEdit, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error
}

// realSession wraps *discordgo.Session to implement the session interface.
type realSession struct {
	s *discordgo.Session
}

func (r *realSession) Open() error  { return r.s.Open() }
func (r *realSession) Close() error { return r.s.Close() }
func (r *realSession) AddHandler(handler interface{}) func() {
	return r.s.AddHandler(handler)
}
func (r *realSession) ThreadStartComplex(channelID string, data *discordgo.ThreadStart, options ...discordgo.RequestOption) (*discordgo.Channel, error) {
	return r.s.ThreadStartComplex(channelID, data, options...)
}
func (r *realSession) ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	return r.s.ChannelMessageSend(channelID, content, options...)
}
func (r *realSession) ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	return r.s.ChannelMessageSendComplex(channelID, data, options...)
}
func (r *realSession) ChannelMessageDelete(channelID, messageID string, options ...discordgo.RequestOption) error {
	return r.s.ChannelMessageDelete(channelID, messageID, options...)
}
func (r *realSession) MessageReactionAdd(channelID, messageID, emojiID string, options ...discordgo.RequestOption) error {
	return r.s.MessageReactionAdd(channelID, messageID, emojiID, options...)
}
func (r *realSession) UserChannelCreate(recipientID string, options ...discordgo.RequestOption) (*discordgo.Channel, error) {
	return r.s.UserChannelCreate(recipientID, options...)
}
func (r *realSession) GuildMembers(guildID, after string, limit int, options ...discordgo.RequestOption) ([]*discordgo.Member, error) {
	return r.s.GuildMembers(guildID, after, limit, options...)
}
func (r *realSession) GuildMember(guildID, userID string, options ...discordgo.RequestOption) (*discordgo.Member, error) {
	return r.s.GuildMember(guildID, userID, options...)
}
func (r *realSession) GuildRoles(guildID string, options ...discordgo.RequestOption) ([]*discordgo.Role, error) {
	return r.s.GuildRoles(guildID, options...)
}
func (r *realSession) ThreadMemberAdd(threadID, memberID string, options ...discordgo.RequestOption) error {
	return r.s.ThreadMemberAdd(threadID, memberID, options...)
}
func (r *realSession) ThreadMemberRemove(threadID, memberID string, options ...discordgo.RequestOption) error {
	return r.s.ThreadMemberRemove(threadID, memberID, options...)
}
func (r *realSession) ThreadMembers(threadID string, limit int, withMember bool, afterID string, options ...discordgo.RequestOption) ([]*discordgo.ThreadMember, error) {
	return r.s.ThreadMembers(threadID, limit, withMember, afterID, options...)
}
func (r *realSession) ChannelEditComplex(channelID string, data *discordgo.ChannelEdit, options ...discordgo.RequestOption) (*discordgo.Channel, error) {
	return r.s.ChannelEditComplex(channelID, data, options...)
}
func (r *realSession) InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error {
	return r.s.InteractionRespond(interaction, resp, options...)
}

// Client implements platform.Client for Discord via the Gateway WebSocket.
type Client struct {
	sess     session
	botToken string

	mu        sync.Mutex
	connected bool
	closed    bool
	botUserID string
	roleNames map[string]map[string]string // guild id -> role id -> name
	inbound   chan platform.Event
	removers  []func()

	baseBackoff time.Duration
	maxBackoff  time.Duration
}

// ClientOpts holds parameters for creating a Discord Client.
type ClientOpts struct {
	BotToken string
	// For testing: inject a mock session instead of the real Discord API.
	Session session
}

// New creates a Discord Client.
func New(opts ClientOpts) (*Client, error) {
	if opts.Session == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("discord: bot token is required")
	}
	c := &Client{
		sess:        opts.Session,
		botToken:    opts.BotToken,
		roleNames:   make(map[string]map[string]string),
		inbound:     make(chan platform.Event, 100),
		baseBackoff: baseBackoff,
		maxBackoff:  maxBackoff,
	}
	return c, nil
}

// Connect establishes the Discord Gateway WebSocket connection.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("discord: client already closed")
	}
	if c.connected {
		return nil
	}

	if c.sess == nil {
		dg, err := discordgo.New("Bot " + c.botToken)
		if err != nil {
			return fmt.Errorf("discord: create session: %w", err)
		}
		dg.Identify.Intents = discordgo.IntentsGuilds |
			discordgo.IntentsGuildMessages |
			discordgo.IntentsGuildMembers |
			discordgo.IntentsDirectMessages |
			discordgo.IntentsMessageContent
		c.sess = &realSession{s: dg}
	}

	c.sess.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
		c.mu.Lock()
		c.botUserID = r.User.ID
		c.mu.Unlock()
		log.Printf("discord: connected as %s (ID: %s)", r.User.Username, r.User.ID)
	})
	c.sess.AddHandler(func(_ *discordgo.Session, d *discordgo.Disconnect) {
		log.Printf("discord: gateway disconnected, discordgo will auto-reconnect")
	})

	if err := c.sess.Open(); err != nil {
		return fmt.Errorf("discord: open gateway: %w", err)
	}
	c.connected = true
	return nil
}

// Listen returns a channel of inbound events. Must be called after Connect.
func (c *Client) Listen(ctx context.Context) (<-chan platform.Event, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return nil, fmt.Errorf("discord: not connected")
	}

	c.removers = append(c.removers,
		c.sess.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
			c.handleMessage(m)
		}),
		c.sess.AddHandler(func(_ *discordgo.Session, i *discordgo.InteractionCreate) {
			c.handleInteraction(i)
		}),
	)
	return c.inbound, nil
}

// CreateThread creates a private thread under the channel. Private threads
// keep the adjudication space invisible to non-members.
func (c *Client) CreateThread(ctx context.Context, channelID, name string) (string, error) {
	var thread *discordgo.Channel
	err := c.retryOnRateLimit(ctx, func() error {
		var apiErr error
		thread, apiErr = c.sess.ThreadStartComplex(channelID, &discordgo.ThreadStart{
			Name:                name,
			AutoArchiveDuration: threadAutoArchiveMinutes,
			Type:                discordgo.ChannelTypeGuildPrivateThread,
			Invitable:           false,
		})
		return apiErr
	})
	if err != nil {
		return "", fmt.Errorf("discord: create thread: %w", err)
	}
	return thread.ID, nil
}

// SendMessage posts text to a channel or thread.
func (c *Client) SendMessage(ctx context.Context, target, text string) (string, error) {
	var msg *discordgo.Message
	err := c.retryOnRateLimit(ctx, func() error {
		var apiErr error
		msg, apiErr = c.sess.ChannelMessageSend(target, text)
		return apiErr
	})
	if err != nil {
		return "", fmt.Errorf("discord: send message: %w", err)
	}
	return msg.ID, nil
}

// SendDM delivers a direct message to a user.
func (c *Client) SendDM(ctx context.Context, userID, text string) error {
	ch, err := c.userChannel(ctx, userID)
	if err != nil {
		return err
	}
	err = c.retryOnRateLimit(ctx, func() error {
		_, apiErr := c.sess.ChannelMessageSend(ch, text)
		return apiErr
	})
	if err != nil {
		return fmt.Errorf("discord: send DM to %s: %w", userID, err)
	}
	return nil
}

// AddReaction attaches an emoji to a message.
func (c *Client) AddReaction(ctx context.Context, channelID, messageID, emoji string) error {
	err := c.retryOnRateLimit(ctx, func() error {
		return c.sess.MessageReactionAdd(channelID, messageID, emoji)
	})
	if err != nil {
		return fmt.Errorf("discord: add reaction: %w", err)
	}
	return nil
}

// DeleteMessage removes a message from a channel.
func (c *Client) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	err := c.retryOnRateLimit(ctx, func() error {
		return c.sess.ChannelMessageDelete(channelID, messageID)
	})
	if err != nil {
		return fmt.Errorf("discord: delete message: %w", err)
	}
	return nil
}

// GuildMembers lists all guild members, paginating the REST endpoint.
// Capabilities are role ids; affiliations are the display names of those
// roles, resolved through the guild's role table.
func (c *Client) GuildMembers(ctx context.Context, guildID string) ([]platform.Member, error) {
	names, err := c.guildRoleNames(ctx, guildID)
	if err != nil {
		return nil, err
	}

	var out []platform.Member
	after := ""
	for {
		var page []*discordgo.Member
		err := c.retryOnRateLimit(ctx, func() error {
			var apiErr error
			page, apiErr = c.sess.GuildMembers(guildID, after, memberPageSize)
			return apiErr
		})
		if err != nil {
			return nil, fmt.Errorf("discord: list members: %w", err)
		}
		if len(page) == 0 {
			break
		}
		for _, m := range page {
			out = append(out, toMember(m, names))
		}
		after = page[len(page)-1].User.ID
		if len(page) < memberPageSize {
			break
		}
	}
	return out, nil
}

// Member fetches a single guild member.
func (c *Client) Member(ctx context.Context, guildID, userID string) (platform.Member, error) {
	names, err := c.guildRoleNames(ctx, guildID)
	if err != nil {
		return platform.Member{}, err
	}
	var m *discordgo.Member
	err = c.retryOnRateLimit(ctx, func() error {
		var apiErr error
		m, apiErr = c.sess.GuildMember(guildID, userID)
		return apiErr
	})
	if err != nil {
		return platform.Member{}, fmt.Errorf("discord: fetch member %s: %w", userID, err)
	}
	return toMember(m, names), nil
}

// AddThreadMember adds a user to a thread.
func (c *Client) AddThreadMember(ctx context.Context, threadID, userID string) error {
	err := c.retryOnRateLimit(ctx, func() error {
		return c.sess.ThreadMemberAdd(threadID, userID)
	})
	if err != nil {
		return fmt.Errorf("discord: add thread member %s: %w", userID, err)
	}
	return nil
}

// RemoveThreadMember removes a user from a thread.
func (c *Client) RemoveThreadMember(ctx context.Context, threadID, userID string) error {
	err := c.retryOnRateLimit(ctx, func() error {
		return c.sess.ThreadMemberRemove(threadID, userID)
	})
	if err != nil {
		return fmt.Errorf("discord: remove thread member %s: %w", userID, err)
	}
	return nil
}

// ThreadMembers lists the user ids currently in a thread.
func (c *Client) ThreadMembers(ctx context.Context, threadID string) ([]string, error) {
	var members []*discordgo.ThreadMember
	err := c.retryOnRateLimit(ctx, func() error {
		var apiErr error
		members, apiErr = c.sess.ThreadMembers(threadID, 100, false, "")
		return apiErr
	})
	if err != nil {
		return nil, fmt.Errorf("discord: list thread members: %w", err)
	}
	ids := make([]string, 0, len(members))
	for _, m := range members {
		ids = append(ids, m.UserID)
	}
	return ids, nil
}

// EditThread applies name/archived/locked changes to a thread.
func (c *Client) EditThread(ctx context.Context, threadID string, edit platform.ThreadEdit) error {
	data := &discordgo.ChannelEdit{
		Archived: edit.Archived,
		Locked:   edit.Locked,
	}
	if edit.Name != nil {
		data.Name = *edit.Name
	}
	err := c.retryOnRateLimit(ctx, func() error {
		_, apiErr := c.sess.ChannelEditComplex(threadID, data)
		return apiErr
	})
	if err != nil {
		return fmt.Errorf("discord: edit thread %s: %w", threadID, err)
	}
	return nil
}

// PromptSelect DMs the user a string select menu. The custom id carries the
// prompt id, which the interaction handler echoes back in the answer event.
func (c *Client) PromptSelect(ctx context.Context, userID, promptID, placeholder string, choices []platform.SelectChoice) error {
	if len(choices) > platform.MaxSelectChoices {
		choices = choices[:platform.MaxSelectChoices]
	}
	options := make([]discordgo.SelectMenuOption, 0, len(choices))
	for _, ch := range choices {
		options = append(options, discordgo.SelectMenuOption{
			Label: truncate(ch.Label, 100),
			Value: ch.Value,
		})
	}

	dmChannel, err := c.userChannel(ctx, userID)
	if err != nil {
		return err
	}
	data := &discordgo.MessageSend{
		Content: "You have more than one open hearing. Which one is this message about?",
		Components: []discordgo.MessageComponent{
			discordgo.ActionsRow{
				Components: []discordgo.MessageComponent{
					discordgo.SelectMenu{
						MenuType:    discordgo.StringSelectMenu,
						CustomID:    promptID,
						Placeholder: placeholder,
						Options:     options,
					},
				},
			},
		},
	}
	err = c.retryOnRateLimit(ctx, func() error {
		_, apiErr := c.sess.ChannelMessageSendComplex(dmChannel, data)
		return apiErr
	})
	if err != nil {
		return fmt.Errorf("discord: prompt %s: %w", userID, err)
	}
	return nil
}

// Close gracefully shuts down the client.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.connected = false
	for _, remove := range c.removers {
		remove()
	}
	close(c.inbound)
	if c.sess != nil {
		return c.sess.Close()
	}
	return nil
}

// BotUserID returns the bot's own user ID (available after Connect).
func (c *Client) BotUserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.botUserID
}

// handleMessage converts a Discord message event to a platform.Event.
func (c *Client) handleMessage(m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot {
		return
	}

	kind := platform.EventMessage
	if m.GuildID == "" {
		kind = platform.EventDM
	}

	mentionUsers := make([]string, 0, len(m.Mentions))
	for _, u := range m.Mentions {
		mentionUsers = append(mentionUsers, u.ID)
	}

	ts, _ := discordgo.SnowflakeTimestamp(m.ID)
	c.deliver(platform.Event{
		Kind:           kind,
		GuildID:        m.GuildID,
		ChannelID:      m.ChannelID,
		MessageID:      m.ID,
		UserID:         m.Author.ID,
		UserName:       m.Author.Username,
		Text:           m.Content,
		Timestamp:      ts,
		MentionRoleIDs: m.MentionRoles,
		MentionUserIDs: mentionUsers,
	})
}

// handleInteraction converts a select-menu answer to an EventSelect and
// acknowledges the interaction so the menu stops spinning.
func (c *Client) handleInteraction(i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionMessageComponent {
		return
	}
	data := i.MessageComponentData()
	if len(data.Values) == 0 {
		return
	}

	user := i.User
	if user == nil && i.Member != nil {
		user = i.Member.User
	}
	if user == nil {
		return
	}

	if err := c.sess.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredMessageUpdate,
	}); err != nil {
		log.Printf("discord: acknowledge interaction: %v", err)
	}

	c.deliver(platform.Event{
		Kind:      platform.EventSelect,
		UserID:    user.ID,
		UserName:  user.Username,
		PromptID:  data.CustomID,
		Value:     data.Values[0],
		Timestamp: time.Now(),
	})
}

// deliver pushes an event unless the client is closed.
func (c *Client) deliver(ev platform.Event) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return
	}
	select {
	case c.inbound <- ev:
	default:
		log.Printf("discord: inbound buffer full, dropping %s event", ev.Kind)
	}
}

// userChannel opens (or reuses) the DM channel for a user.
func (c *Client) userChannel(ctx context.Context, userID string) (string, error) {
	var ch *discordgo.Channel
	err := c.retryOnRateLimit(ctx, func() error {
		var apiErr error
		ch, apiErr = c.sess.UserChannelCreate(userID)
		return apiErr
	})
	if err != nil {
		return "", fmt.Errorf("discord: open DM channel for %s: %w", userID, err)
	}
	return ch.ID, nil
}

// guildRoleNames returns the guild's role id -> name table, cached after the
// first fetch. Role renames are picked up on restart.
func (c *Client) guildRoleNames(ctx context.Context, guildID string) (map[string]string, error) {
	c.mu.Lock()
	if names, ok := c.roleNames[guildID]; ok {
		c.mu.Unlock()
		return names, nil
	}
	c.mu.Unlock()

	var roles []*discordgo.Role
	err := c.retryOnRateLimit(ctx, func() error {
		var apiErr error
		roles, apiErr = c.sess.GuildRoles(guildID)
		return apiErr
	})
	if err != nil {
		return nil, fmt.Errorf("discord: fetch roles: %w", err)
	}
	names := make(map[string]string, len(roles))
	for _, r := range roles {
		names[r.ID] = r.Name
	}
	c.mu.Lock()
	c.roleNames[guildID] = names
	c.mu.Unlock()
	return names, nil
}

// toMember maps a discordgo member onto the platform shape. Every role id is
// a capability; every resolvable role name is an affiliation label.
func toMember(m *discordgo.Member, roleNames map[string]string) platform.Member {
	out := platform.Member{
		UserID:       m.User.ID,
		DisplayName:  displayName(m),
		Capabilities: m.Roles,
		IsBot:        m.User.Bot,
	}
	for _, rid := range m.Roles {
		if name, ok := roleNames[rid]; ok && name != "" {
			out.Affiliations = append(out.Affiliations, name)
		}
	}
	return out
}

// displayName picks the most specific name Discord offers.
func displayName(m *discordgo.Member) string {
	if m.Nick != "" {
		return m.Nick
	}
	if m.User.GlobalName != "" {
		return m.User.GlobalName
	}
	return m.User.Username
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

// retryOnRateLimit calls fn and retries with exponential backoff on Discord
// rate limit errors. It respects context cancellation.
func (c *Client) retryOnRateLimit(ctx context.Context, fn func() error) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		restErr, ok := err.(*discordgo.RESTError)
		if !ok || restErr.Response == nil || restErr.Response.StatusCode != 429 {
			return err
		}
		if attempt == maxRetries {
			return err
		}

		wait := time.Duration(math.Pow(2, float64(attempt))) * c.baseBackoff
		if wait > c.maxBackoff {
			wait = c.maxBackoff
		}
		log.Printf("discord: rate limited (attempt %d/%d) — retrying in %v",
			attempt+1, maxRetries, wait)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil // unreachable
}

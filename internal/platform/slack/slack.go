// Package slack implements the platform Client for Slack using Socket Mode.
// Hearings are private channels; capabilities map to usergroups, affiliation
// labels come from the profile title field, and disambiguation prompts are
// Block Kit static selects. Slack has no thread locking, so a lock edit is a
// no-op and close relies on archiving.
package slack

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	slackapi "github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
	"github.com/zulandar/gavel/internal/platform"
)

const (
	// maxRetries is the max number of retries for rate-limited API calls.
	maxRetries = 3
	// baseBackoff is the initial backoff duration for reconnection.
	baseBackoff = 2 * time.Second
	// maxBackoff caps the exponential backoff for reconnection.
	maxBackoff = 2 * time.Minute
	// maxReconnectAttempts limits reconnection retries before giving up.
	maxReconnectAttempts = 10
)

// Slack mention syntaxes: "<@U123>" for users, "<!subteam^S123>" for
// usergroups.
var (
	userMentionRe  = regexp.MustCompile(`<@([A-Z0-9]+)(?:\|[^>]*)?>`)
	groupMentionRe = regexp.MustCompile(`<!subteam\^([A-Z0-9]+)(?:\|[^>]*)?>`)
)

// slackClient abstracts the Slack API methods we use, enabling test mocks.
type slackClient interface {
	AuthTest() (*slackapi.AuthTestResponse, error)
	PostMessage(channelID string, options ...slackapi.MsgOption) (string, string, error)
	DeleteMessage(channel, messageTimestamp string) (string, string, error)
	AddReaction(name string, item slackapi.ItemRef) error
	CreateConversation(params slackapi.CreateConversationParams) (*slackapi.Channel, error)
	InviteUsersToConversation(channelID string, users ...string) (*slackapi.Channel, error)
	KickUserFromConversation(channelID string, user string) error
	GetUsersInConversation(params *slackapi.GetUsersInConversationParameters) ([]string, string, error)
	RenameConversation(channelID, channelName string) (*slackapi.Channel, error)
	ArchiveConversation(channelID string) error
	OpenConversation(params *slackapi.OpenConversationParameters) (*slackapi.Channel, bool, bool, error)
	GetUsers(options ...slackapi.GetUsersOption) ([]slackapi.User, error)
	GetUserInfo(userID string) (*slackapi.User, error)
	GetUserGroups(options ...slackapi.GetUserGroupsOption) ([]slackapi.UserGroup, error)
}

// socketClient abstracts the Socket Mode client methods we use.
type socketClient interface {
	Run() error
	EventsChan() chan socketmode.Event
	Ack(req socketmode.Request, payload ...interface{})
}

// realSocketClient wraps *socketmode.Client to implement socketClient.
type realSocketClient struct {
	client *socketmode.Client
}

func (r *realSocketClient) Run() error                        { return r.client.Run() }
func (r *realSocketClient) EventsChan() chan socketmode.Event { return r.client.Events }
func (r *realSocketClient) Ack(req socketmode.Request, payload ...interface{}) {
	r.client.Ack(req, payload...)
}

// Client implements platform.Client for Slack Socket Mode.
type Client struct {
	client   slackClient
	socket   socketClient
	appToken string
	botToken string

	mu         sync.Mutex
	connected  bool
	closed     bool
	botUserID  string
	groupsOf   map[string][]string // user id -> usergroup ids (cached)
	inbound    chan platform.Event
	cancelFunc context.CancelFunc

	baseBackoff  time.Duration
	maxBackoff   time.Duration
	maxReconnect int
}

// ClientOpts holds parameters for creating a Slack Client.
type ClientOpts struct {
	AppToken string // xapp-... Slack app-level token for Socket Mode
	BotToken string // xoxb-... Slack bot token
	// For testing: inject mock clients instead of the real Slack API.
	Client slackClient
	Socket socketClient
}

// New creates a Slack Client.
func New(opts ClientOpts) (*Client, error) {
	if opts.Client == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("slack: bot token is required")
	}
	if opts.Socket == nil && opts.Client == nil && opts.AppToken == "" {
		return nil, fmt.Errorf("slack: app token is required for socket mode")
	}
	return &Client{
		client:       opts.Client,
		socket:       opts.Socket,
		appToken:     opts.AppToken,
		botToken:     opts.BotToken,
		inbound:      make(chan platform.Event, 100),
		baseBackoff:  baseBackoff,
		maxBackoff:   maxBackoff,
		maxReconnect: maxReconnectAttempts,
	}, nil
}

// Connect establishes the Socket Mode connection and resolves the bot's own
// user id.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("slack: client already closed")
	}
	if c.connected {
		return nil
	}

	if c.client == nil {
		api := slackapi.New(c.botToken, slackapi.OptionAppLevelToken(c.appToken))
		c.client = api
		c.socket = &realSocketClient{client: socketmode.New(api)}
	}

	auth, err := c.client.AuthTest()
	if err != nil {
		return fmt.Errorf("slack: auth test: %w", err)
	}
	c.botUserID = auth.UserID
	c.connected = true
	return nil
}

// Listen starts the Socket Mode event pump and returns the inbound channel.
// Must be called after Connect.
func (c *Client) Listen(ctx context.Context) (<-chan platform.Event, error) {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return nil, fmt.Errorf("slack: not connected")
	}
	listenCtx, cancel := context.WithCancel(ctx)
	c.cancelFunc = cancel
	c.mu.Unlock()

	if c.socket != nil {
		go c.runWithReconnect(listenCtx)
		go c.pumpEvents(listenCtx)
	}
	return c.inbound, nil
}

// CreateThread creates a private channel for the hearing. Slack channel
// names are constrained, so the display name is slugged and uniqued with a
// timestamp; the requested name is posted as the channel topic message.
func (c *Client) CreateThread(ctx context.Context, channelID, name string) (string, error) {
	var ch *slackapi.Channel
	err := retryOnRateLimit(ctx, func() error {
		var apiErr error
		ch, apiErr = c.client.CreateConversation(slackapi.CreateConversationParams{
			ChannelName: channelSlug(name),
			IsPrivate:   true,
		})
		return apiErr
	})
	if err != nil {
		return "", fmt.Errorf("slack: create channel: %w", err)
	}
	if _, perr := c.SendMessage(ctx, ch.ID, name); perr != nil {
		log.Printf("slack: post channel header: %v", perr)
	}
	return ch.ID, nil
}

// SendMessage posts text and returns the message timestamp, Slack's message
// identity.
func (c *Client) SendMessage(ctx context.Context, target, text string) (string, error) {
	var ts string
	err := retryOnRateLimit(ctx, func() error {
		var apiErr error
		_, ts, apiErr = c.client.PostMessage(target, slackapi.MsgOptionText(text, false))
		return apiErr
	})
	if err != nil {
		return "", fmt.Errorf("slack: post message: %w", err)
	}
	return ts, nil
}

// SendDM delivers a direct message to a user.
func (c *Client) SendDM(ctx context.Context, userID, text string) error {
	ch, err := c.dmChannel(ctx, userID)
	if err != nil {
		return err
	}
	if _, err := c.SendMessage(ctx, ch, text); err != nil {
		return fmt.Errorf("slack: DM %s: %w", userID, err)
	}
	return nil
}

// AddReaction attaches an emoji to a message. Slack emoji names carry no
// colons.
func (c *Client) AddReaction(ctx context.Context, channelID, messageID, emoji string) error {
	err := retryOnRateLimit(ctx, func() error {
		return c.client.AddReaction(strings.Trim(emoji, ":"), slackapi.ItemRef{
			Channel:   channelID,
			Timestamp: messageID,
		})
	})
	if err != nil {
		return fmt.Errorf("slack: add reaction: %w", err)
	}
	return nil
}

// DeleteMessage removes a message.
func (c *Client) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	err := retryOnRateLimit(ctx, func() error {
		_, _, apiErr := c.client.DeleteMessage(channelID, messageID)
		return apiErr
	})
	if err != nil {
		return fmt.Errorf("slack: delete message: %w", err)
	}
	return nil
}

// GuildMembers lists workspace members. Capabilities are usergroup ids;
// the affiliation label is the profile title field, which leagues use for
// team tags.
func (c *Client) GuildMembers(ctx context.Context, guildID string) ([]platform.Member, error) {
	groups, err := c.userGroups(ctx)
	if err != nil {
		return nil, err
	}
	var users []slackapi.User
	err = retryOnRateLimit(ctx, func() error {
		var apiErr error
		users, apiErr = c.client.GetUsers()
		return apiErr
	})
	if err != nil {
		return nil, fmt.Errorf("slack: list users: %w", err)
	}

	out := make([]platform.Member, 0, len(users))
	for _, u := range users {
		if u.Deleted {
			continue
		}
		out = append(out, toMember(&u, groups[u.ID]))
	}
	return out, nil
}

// Member fetches a single workspace member.
func (c *Client) Member(ctx context.Context, guildID, userID string) (platform.Member, error) {
	groups, err := c.userGroups(ctx)
	if err != nil {
		return platform.Member{}, err
	}
	var u *slackapi.User
	err = retryOnRateLimit(ctx, func() error {
		var apiErr error
		u, apiErr = c.client.GetUserInfo(userID)
		return apiErr
	})
	if err != nil {
		return platform.Member{}, fmt.Errorf("slack: fetch user %s: %w", userID, err)
	}
	return toMember(u, groups[userID]), nil
}

// AddThreadMember invites a user into the hearing channel.
func (c *Client) AddThreadMember(ctx context.Context, threadID, userID string) error {
	err := retryOnRateLimit(ctx, func() error {
		_, apiErr := c.client.InviteUsersToConversation(threadID, userID)
		return apiErr
	})
	if err != nil {
		// Inviting a present member is the steady state for resyncs.
		if strings.Contains(err.Error(), "already_in_channel") {
			return nil
		}
		return fmt.Errorf("slack: invite %s: %w", userID, err)
	}
	return nil
}

// RemoveThreadMember kicks a user from the hearing channel.
func (c *Client) RemoveThreadMember(ctx context.Context, threadID, userID string) error {
	err := retryOnRateLimit(ctx, func() error {
		return c.client.KickUserFromConversation(threadID, userID)
	})
	if err != nil {
		if strings.Contains(err.Error(), "not_in_channel") {
			return nil
		}
		return fmt.Errorf("slack: kick %s: %w", userID, err)
	}
	return nil
}

// ThreadMembers lists the hearing channel's members.
func (c *Client) ThreadMembers(ctx context.Context, threadID string) ([]string, error) {
	var all []string
	cursor := ""
	for {
		var page []string
		var next string
		err := retryOnRateLimit(ctx, func() error {
			var apiErr error
			page, next, apiErr = c.client.GetUsersInConversation(&slackapi.GetUsersInConversationParameters{
				ChannelID: threadID,
				Cursor:    cursor,
			})
			return apiErr
		})
		if err != nil {
			return nil, fmt.Errorf("slack: channel members: %w", err)
		}
		all = append(all, page...)
		if next == "" {
			break
		}
		cursor = next
	}
	return all, nil
}

// EditThread renames and/or archives the hearing channel. Slack has no
// channel lock; a Locked edit is accepted and ignored.
func (c *Client) EditThread(ctx context.Context, threadID string, edit platform.ThreadEdit) error {
	if edit.Name != nil {
		err := retryOnRateLimit(ctx, func() error {
			_, apiErr := c.client.RenameConversation(threadID, channelSlug(*edit.Name))
			return apiErr
		})
		if err != nil {
			return fmt.Errorf("slack: rename channel: %w", err)
		}
	}
	if edit.Archived != nil && *edit.Archived {
		err := retryOnRateLimit(ctx, func() error {
			return c.client.ArchiveConversation(threadID)
		})
		if err != nil && !strings.Contains(err.Error(), "already_archived") {
			return fmt.Errorf("slack: archive channel: %w", err)
		}
	}
	return nil
}

// PromptSelect DMs the user a static select block. The block's action id
// carries the prompt id, echoed back by the interaction handler.
func (c *Client) PromptSelect(ctx context.Context, userID, promptID, placeholder string, choices []platform.SelectChoice) error {
	if len(choices) > platform.MaxSelectChoices {
		choices = choices[:platform.MaxSelectChoices]
	}
	options := make([]*slackapi.OptionBlockObject, 0, len(choices))
	for _, ch := range choices {
		options = append(options, slackapi.NewOptionBlockObject(
			ch.Value,
			slackapi.NewTextBlockObject(slackapi.PlainTextType, truncate(ch.Label, 75), false, false),
			nil,
		))
	}
	selectEl := slackapi.NewOptionsSelectBlockElement(
		slackapi.OptTypeStatic,
		slackapi.NewTextBlockObject(slackapi.PlainTextType, placeholder, false, false),
		promptID,
		options...,
	)
	blocks := []slackapi.Block{
		slackapi.NewSectionBlock(
			slackapi.NewTextBlockObject(slackapi.MarkdownType,
				"You have more than one open hearing. Which one is this message about?", false, false),
			nil, nil),
		slackapi.NewActionBlock("hearing_select", selectEl),
	}

	ch, err := c.dmChannel(ctx, userID)
	if err != nil {
		return err
	}
	err = retryOnRateLimit(ctx, func() error {
		_, _, apiErr := c.client.PostMessage(ch, slackapi.MsgOptionBlocks(blocks...))
		return apiErr
	})
	if err != nil {
		return fmt.Errorf("slack: prompt %s: %w", userID, err)
	}
	return nil
}

// Close shuts down the client and closes the inbound channel.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.connected = false
	if c.cancelFunc != nil {
		c.cancelFunc()
	}
	close(c.inbound)
	return nil
}

// BotUserID returns the bot's Slack user ID (available after Connect).
func (c *Client) BotUserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.botUserID
}

// runWithReconnect runs the Socket Mode client and retries with exponential
// backoff when Run() returns an error.
func (c *Client) runWithReconnect(ctx context.Context) {
	for attempt := 0; attempt < c.maxReconnect; attempt++ {
		err := c.socket.Run()
		if err == nil {
			return // clean shutdown
		}
		select {
		case <-ctx.Done():
			return
		default:
		}

		wait := time.Duration(math.Pow(2, float64(attempt))) * c.baseBackoff
		if wait > c.maxBackoff {
			wait = c.maxBackoff
		}
		log.Printf("slack: socket mode disconnected (attempt %d/%d): %v — reconnecting in %v",
			attempt+1, c.maxReconnect, err, wait)

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
	log.Printf("slack: socket mode exhausted %d reconnection attempts, giving up", c.maxReconnect)
}

// pumpEvents reads Socket Mode events and converts them to platform events.
func (c *Client) pumpEvents(ctx context.Context) {
	events := c.socket.EventsChan()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			c.handleSocketEvent(evt)
		}
	}
}

// handleSocketEvent processes a single Socket Mode event.
func (c *Client) handleSocketEvent(evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeEventsAPI:
		apiEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok {
			return
		}
		if evt.Request != nil {
			c.socket.Ack(*evt.Request)
		}
		if apiEvent.Type == slackevents.CallbackEvent {
			if msg, ok := apiEvent.InnerEvent.Data.(*slackevents.MessageEvent); ok {
				c.handleMessage(msg)
			}
		}

	case socketmode.EventTypeInteractive:
		callback, ok := evt.Data.(slackapi.InteractionCallback)
		if !ok {
			return
		}
		if evt.Request != nil {
			c.socket.Ack(*evt.Request)
		}
		c.handleInteraction(&callback)

	case socketmode.EventTypeConnecting:
		log.Printf("slack: connecting to Socket Mode...")
	case socketmode.EventTypeConnected:
		log.Printf("slack: connected to Socket Mode")
	case socketmode.EventTypeConnectionError:
		log.Printf("slack: connection error: %v", evt.Data)
	case socketmode.EventTypeDisconnect:
		log.Printf("slack: server requested disconnect, will reconnect")
	}
}

// handleMessage converts a Slack message event to a platform.Event. Mention
// ids are parsed out of the raw text: Slack delivers them inline rather
// than as separate fields.
func (c *Client) handleMessage(ev *slackevents.MessageEvent) {
	c.mu.Lock()
	botID := c.botUserID
	c.mu.Unlock()
	if ev.User == botID || ev.BotID != "" || ev.SubType != "" {
		return
	}

	kind := platform.EventMessage
	guildID := ev.SourceTeam
	if ev.ChannelType == "im" {
		kind = platform.EventDM
		guildID = ""
	}

	c.deliver(platform.Event{
		Kind:           kind,
		GuildID:        guildID,
		ChannelID:      ev.Channel,
		MessageID:      ev.TimeStamp,
		UserID:         ev.User,
		UserName:       c.resolveUserName(ev.User),
		Text:           ev.Text,
		Timestamp:      parseSlackTimestamp(ev.TimeStamp),
		MentionRoleIDs: submatches(groupMentionRe, ev.Text),
		MentionUserIDs: submatches(userMentionRe, ev.Text),
	})
}

// handleInteraction converts a static-select answer to an EventSelect.
func (c *Client) handleInteraction(callback *slackapi.InteractionCallback) {
	if callback.Type != slackapi.InteractionTypeBlockActions {
		return
	}
	for _, action := range callback.ActionCallback.BlockActions {
		if action.SelectedOption.Value == "" {
			continue
		}
		c.deliver(platform.Event{
			Kind:      platform.EventSelect,
			UserID:    callback.User.ID,
			UserName:  callback.User.Name,
			PromptID:  action.ActionID,
			Value:     action.SelectedOption.Value,
			Timestamp: time.Now(),
		})
	}
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
		log.Printf("slack: inbound buffer full, dropping %s event", ev.Kind)
	}
}

// dmChannel opens (or reuses) the IM conversation for a user.
func (c *Client) dmChannel(ctx context.Context, userID string) (string, error) {
	var ch *slackapi.Channel
	err := retryOnRateLimit(ctx, func() error {
		var apiErr error
		ch, _, _, apiErr = c.client.OpenConversation(&slackapi.OpenConversationParameters{
			Users: []string{userID},
		})
		return apiErr
	})
	if err != nil {
		return "", fmt.Errorf("slack: open DM for %s: %w", userID, err)
	}
	return ch.ID, nil
}

// userGroups returns the user id -> usergroup ids table, cached after the
// first fetch. Usergroup membership changes are picked up on restart.
func (c *Client) userGroups(ctx context.Context) (map[string][]string, error) {
	c.mu.Lock()
	if c.groupsOf != nil {
		cached := c.groupsOf
		c.mu.Unlock()
		return cached, nil
	}
	c.mu.Unlock()

	var groups []slackapi.UserGroup
	err := retryOnRateLimit(ctx, func() error {
		var apiErr error
		groups, apiErr = c.client.GetUserGroups(slackapi.GetUserGroupsOptionIncludeUsers(true))
		return apiErr
	})
	if err != nil {
		return nil, fmt.Errorf("slack: list usergroups: %w", err)
	}

	table := make(map[string][]string)
	for _, g := range groups {
		for _, uid := range g.Users {
			table[uid] = append(table[uid], g.ID)
		}
	}
	c.mu.Lock()
	c.groupsOf = table
	c.mu.Unlock()
	return table, nil
}

// resolveUserName looks up a user's display name. Falls back to user ID.
func (c *Client) resolveUserName(userID string) string {
	if userID == "" {
		return ""
	}
	user, err := c.client.GetUserInfo(userID)
	if err != nil {
		return userID
	}
	if user.Profile.DisplayName != "" {
		return user.Profile.DisplayName
	}
	return user.RealName
}

// toMember maps a Slack user onto the platform shape.
func toMember(u *slackapi.User, groupIDs []string) platform.Member {
	m := platform.Member{
		UserID:       u.ID,
		DisplayName:  u.Profile.DisplayName,
		Capabilities: groupIDs,
		IsBot:        u.IsBot,
	}
	if m.DisplayName == "" {
		m.DisplayName = u.RealName
	}
	if title := strings.TrimSpace(u.Profile.Title); title != "" {
		m.Affiliations = []string{title}
	}
	return m
}

// submatches returns the first capture group of every match.
func submatches(re *regexp.Regexp, text string) []string {
	var out []string
	for _, m := range re.FindAllStringSubmatch(text, -1) {
		out = append(out, m[1])
	}
	return out
}

// channelSlug converts a display name to a valid Slack channel name:
// lowercase, at most 80 chars, only letters, digits and hyphens, uniqued
// with a timestamp suffix.
func channelSlug(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ', r == '-', r == '_', r == '—':
			b.WriteByte('-')
		}
	}
	slug := strings.Trim(b.String(), "-")
	for strings.Contains(slug, "--") {
		slug = strings.ReplaceAll(slug, "--", "-")
	}
	if slug == "" {
		slug = "hearing"
	}
	suffix := "-" + strconv.FormatInt(time.Now().Unix(), 36)
	if len(slug)+len(suffix) > 80 {
		slug = slug[:80-len(suffix)]
	}
	return slug + suffix
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

// retryOnRateLimit calls fn and retries with backoff on Slack rate limit
// errors. It respects context cancellation and the RetryAfter duration from
// Slack.
func retryOnRateLimit(ctx context.Context, fn func() error) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		var rle *slackapi.RateLimitedError
		if !errors.As(err, &rle) {
			return err // not a rate limit error, don't retry
		}
		if attempt == maxRetries {
			return err
		}

		wait := rle.RetryAfter
		if wait <= 0 {
			wait = time.Duration(math.Pow(2, float64(attempt))) * time.Second
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil // unreachable
}

// parseSlackTimestamp converts a Slack timestamp (e.g. "1234567890.123456")
// to a time.Time.
func parseSlackTimestamp(ts string) time.Time {
	parts := strings.SplitN(ts, ".", 2)
	if len(parts) == 0 {
		return time.Time{}
	}
	sec, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(sec, 0)
}

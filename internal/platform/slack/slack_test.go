package slack

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	slackapi "github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
	"github.com/zulandar/gavel/internal/platform"
)

// --- Mock Slack client ---

type mockSlackClient struct {
	mu       sync.Mutex
	authResp *slackapi.AuthTestResponse
	authErr  error
	posted   []postedMessage
	postErr  error
	deleted  []string
	reacted  []slackapi.ItemRef
	created  []slackapi.CreateConversationParams
	invited  map[string][]string
	kicked   map[string][]string
	renamed  map[string]string
	archived []string
	opened   []string
	users    map[string]*slackapi.User
	groups   []slackapi.UserGroup
	members  map[string][]string
	nextCh   int
}

type postedMessage struct {
	channelID string
	options   []slackapi.MsgOption
}

func newMockSlackClient() *mockSlackClient {
	return &mockSlackClient{
		authResp: &slackapi.AuthTestResponse{UserID: "U_BOT"},
		invited:  make(map[string][]string),
		kicked:   make(map[string][]string),
		renamed:  make(map[string]string),
		users:    make(map[string]*slackapi.User),
		members:  make(map[string][]string),
	}
}

func (m *mockSlackClient) AuthTest() (*slackapi.AuthTestResponse, error) {
	return m.authResp, m.authErr
}

func (m *mockSlackClient) PostMessage(channelID string, options ...slackapi.MsgOption) (string, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.postErr != nil {
		return "", "", m.postErr
	}
	m.posted = append(m.posted, postedMessage{channelID: channelID, options: options})
	return channelID, "1234567890.123456", nil
}

func (m *mockSlackClient) DeleteMessage(channel, ts string) (string, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, channel+"/"+ts)
	return channel, ts, nil
}

func (m *mockSlackClient) AddReaction(name string, item slackapi.ItemRef) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reacted = append(m.reacted, item)
	return nil
}

func (m *mockSlackClient) CreateConversation(params slackapi.CreateConversationParams) (*slackapi.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.created = append(m.created, params)
	m.nextCh++
	ch := &slackapi.Channel{}
	ch.ID = fmt.Sprintf("C_HEARING_%d", m.nextCh)
	return ch, nil
}

func (m *mockSlackClient) InviteUsersToConversation(channelID string, users ...string) (*slackapi.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invited[channelID] = append(m.invited[channelID], users...)
	return &slackapi.Channel{}, nil
}

func (m *mockSlackClient) KickUserFromConversation(channelID string, user string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.kicked[channelID] = append(m.kicked[channelID], user)
	return nil
}

func (m *mockSlackClient) GetUsersInConversation(params *slackapi.GetUsersInConversationParameters) ([]string, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.members[params.ChannelID], "", nil
}

func (m *mockSlackClient) RenameConversation(channelID, name string) (*slackapi.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.renamed[channelID] = name
	return &slackapi.Channel{}, nil
}

func (m *mockSlackClient) ArchiveConversation(channelID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.archived = append(m.archived, channelID)
	return nil
}

func (m *mockSlackClient) OpenConversation(params *slackapi.OpenConversationParameters) (*slackapi.Channel, bool, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opened = append(m.opened, params.Users...)
	ch := &slackapi.Channel{}
	ch.ID = "D_" + params.Users[0]
	return ch, false, false, nil
}

func (m *mockSlackClient) GetUsers(options ...slackapi.GetUsersOption) ([]slackapi.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]slackapi.User, 0, len(m.users))
	for _, u := range m.users {
		out = append(out, *u)
	}
	return out, nil
}

func (m *mockSlackClient) GetUserInfo(userID string) (*slackapi.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[userID]; ok {
		return u, nil
	}
	return nil, fmt.Errorf("user not found: %s", userID)
}

func (m *mockSlackClient) GetUserGroups(options ...slackapi.GetUserGroupsOption) ([]slackapi.UserGroup, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.groups, nil
}

func (m *mockSlackClient) addUser(id, display, title string, bot bool) {
	u := &slackapi.User{ID: id, IsBot: bot}
	u.Profile.DisplayName = display
	u.Profile.Title = title
	m.users[id] = u
}

func (m *mockSlackClient) postedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.posted)
}

func (m *mockSlackClient) lastPosted() postedMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.posted[len(m.posted)-1]
}

// --- Mock Socket Mode client ---

type mockSocketClient struct {
	events chan socketmode.Event
	mu     sync.Mutex
	acked  []socketmode.Request
	done   chan struct{}
}

func newMockSocketClient() *mockSocketClient {
	return &mockSocketClient{
		events: make(chan socketmode.Event, 100),
		done:   make(chan struct{}),
	}
}

func (m *mockSocketClient) Run() error {
	<-m.done
	return nil
}

func (m *mockSocketClient) EventsChan() chan socketmode.Event {
	return m.events
}

func (m *mockSocketClient) Ack(req socketmode.Request, payload ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.acked = append(m.acked, req)
}

func (m *mockSocketClient) ackedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.acked)
}

// --- Helpers ---

func newTestClient(t *testing.T) (*Client, *mockSlackClient, *mockSocketClient) {
	t.Helper()
	client := newMockSlackClient()
	socket := newMockSocketClient()

	c, err := New(ClientOpts{Client: client, Socket: socket})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	return c, client, socket
}

func messageEvent(user, channel, channelType, text, ts string) socketmode.Event {
	return socketmode.Event{
		Type: socketmode.EventTypeEventsAPI,
		Data: slackevents.EventsAPIEvent{
			Type: slackevents.CallbackEvent,
			InnerEvent: slackevents.EventsAPIInnerEvent{
				Data: &slackevents.MessageEvent{
					User:        user,
					Channel:     channel,
					ChannelType: channelType,
					Text:        text,
					TimeStamp:   ts,
				},
			},
		},
		Request: &socketmode.Request{EnvelopeID: "env"},
	}
}

func recvEvent(t *testing.T, ch <-chan platform.Event) platform.Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for inbound event")
		return platform.Event{}
	}
}

// --- Tests ---

func TestNew_RequiresBotToken(t *testing.T) {
	_, err := New(ClientOpts{AppToken: "xapp-test"})
	if err == nil {
		t.Fatal("expected error for missing bot token")
	}
}

func TestNew_RequiresAppToken(t *testing.T) {
	_, err := New(ClientOpts{BotToken: "xoxb-test"})
	if err == nil {
		t.Fatal("expected error for missing app token")
	}
}

func TestConnect_ResolvesBotUserID(t *testing.T) {
	c, _, _ := newTestClient(t)
	if c.BotUserID() != "U_BOT" {
		t.Errorf("bot user ID = %q, want U_BOT", c.BotUserID())
	}
}

func TestConnect_AuthError(t *testing.T) {
	client := newMockSlackClient()
	client.authErr = fmt.Errorf("invalid token")
	c, _ := New(ClientOpts{Client: client, Socket: newMockSocketClient()})
	if err := c.Connect(context.Background()); err == nil {
		t.Fatal("expected auth error")
	}
}

func TestConnect_AfterCloseFails(t *testing.T) {
	c, _, _ := newTestClient(t)
	c.Close()
	if err := c.Connect(context.Background()); err == nil {
		t.Fatal("expected error for closed client")
	}
}

func TestCreateThread_PrivateChannel(t *testing.T) {
	c, client, _ := newTestClient(t)

	id, err := c.CreateThread(context.Background(), "C_ORIGIN", "no-show — Summit Peak vs Harbor City")
	if err != nil {
		t.Fatalf("create thread: %v", err)
	}
	if id != "C_HEARING_1" {
		t.Errorf("thread id = %q, want C_HEARING_1", id)
	}

	params := client.created[0]
	if !params.IsPrivate {
		t.Error("channel should be private")
	}
	if !strings.HasPrefix(params.ChannelName, "no-show-summit-peak-vs-harbor-city") {
		t.Errorf("channel name = %q, want slug prefix", params.ChannelName)
	}
	// Requested display name is posted into the channel.
	if client.postedCount() != 1 {
		t.Fatalf("posted = %d, want 1", client.postedCount())
	}
	if client.lastPosted().channelID != "C_HEARING_1" {
		t.Errorf("header posted to %q, want C_HEARING_1", client.lastPosted().channelID)
	}
}

func TestSendDM_OpensConversation(t *testing.T) {
	c, client, _ := newTestClient(t)

	if err := c.SendDM(context.Background(), "U_ALICE", "hello"); err != nil {
		t.Fatalf("send dm: %v", err)
	}
	if len(client.opened) != 1 || client.opened[0] != "U_ALICE" {
		t.Errorf("opened = %v, want [U_ALICE]", client.opened)
	}
	if client.lastPosted().channelID != "D_U_ALICE" {
		t.Errorf("dm posted to %q, want D_U_ALICE", client.lastPosted().channelID)
	}
}

func TestAddReaction_StripsColons(t *testing.T) {
	c, client, _ := newTestClient(t)

	if err := c.AddReaction(context.Background(), "C1", "1700000000.000001", ":scales:"); err != nil {
		t.Fatalf("add reaction: %v", err)
	}
	item := client.reacted[0]
	if item.Channel != "C1" || item.Timestamp != "1700000000.000001" {
		t.Errorf("item = %+v", item)
	}
}

func TestThreadMembership(t *testing.T) {
	c, client, _ := newTestClient(t)
	ctx := context.Background()

	if err := c.AddThreadMember(ctx, "C_H", "U_ARB"); err != nil {
		t.Fatalf("add member: %v", err)
	}
	if err := c.RemoveThreadMember(ctx, "C_H", "U_ARB"); err != nil {
		t.Fatalf("remove member: %v", err)
	}
	if got := client.invited["C_H"]; len(got) != 1 || got[0] != "U_ARB" {
		t.Errorf("invited = %v", got)
	}
	if got := client.kicked["C_H"]; len(got) != 1 || got[0] != "U_ARB" {
		t.Errorf("kicked = %v", got)
	}

	client.members["C_H"] = []string{"U_A", "U_B"}
	members, err := c.ThreadMembers(ctx, "C_H")
	if err != nil {
		t.Fatalf("thread members: %v", err)
	}
	if len(members) != 2 {
		t.Errorf("members = %v, want 2", members)
	}
}

func TestEditThread_RenameAndArchive(t *testing.T) {
	c, client, _ := newTestClient(t)

	name := "scoring — Alpha vs Beta"
	archived := true
	locked := true
	err := c.EditThread(context.Background(), "C_H", platform.ThreadEdit{
		Name:     &name,
		Archived: &archived,
		Locked:   &locked, // no Slack equivalent, must be tolerated
	})
	if err != nil {
		t.Fatalf("edit thread: %v", err)
	}
	if !strings.HasPrefix(client.renamed["C_H"], "scoring-alpha-vs-beta") {
		t.Errorf("renamed to %q", client.renamed["C_H"])
	}
	if len(client.archived) != 1 || client.archived[0] != "C_H" {
		t.Errorf("archived = %v", client.archived)
	}
}

func TestGuildMembers_GroupsAndTitles(t *testing.T) {
	c, client, _ := newTestClient(t)
	client.addUser("U_A", "alice", "Summit Peak [SP]", false)
	client.addUser("U_B", "bob", "", false)
	client.addUser("U_BOTX", "robo", "", true)
	client.groups = []slackapi.UserGroup{
		{ID: "S_ARB", Users: []string{"U_A"}},
		{ID: "S_STANDBY", Users: []string{"U_A", "U_B"}},
	}

	members, err := c.GuildMembers(context.Background(), "T1")
	if err != nil {
		t.Fatalf("guild members: %v", err)
	}
	byID := make(map[string]platform.Member)
	for _, m := range members {
		byID[m.UserID] = m
	}

	alice := byID["U_A"]
	if len(alice.Capabilities) != 2 {
		t.Errorf("alice capabilities = %v, want 2 usergroups", alice.Capabilities)
	}
	if len(alice.Affiliations) != 1 || alice.Affiliations[0] != "Summit Peak [SP]" {
		t.Errorf("alice affiliations = %v", alice.Affiliations)
	}
	if len(byID["U_B"].Affiliations) != 0 {
		t.Errorf("bob affiliations = %v, want none", byID["U_B"].Affiliations)
	}
	if !byID["U_BOTX"].IsBot {
		t.Error("robo should be flagged as bot")
	}
}

func TestPromptSelect_PostsBlocksToDM(t *testing.T) {
	c, client, _ := newTestClient(t)

	err := c.PromptSelect(context.Background(), "U_ALICE", "prompt-1", "Pick a hearing", []platform.SelectChoice{
		{Value: "h1", Label: "no-show — Summit Peak vs Harbor City"},
		{Value: "h2", Label: "unclassified — ? vs ?"},
	})
	if err != nil {
		t.Fatalf("prompt select: %v", err)
	}
	if len(client.opened) != 1 || client.opened[0] != "U_ALICE" {
		t.Errorf("opened = %v, want DM with U_ALICE", client.opened)
	}
	if client.lastPosted().channelID != "D_U_ALICE" {
		t.Errorf("prompt posted to %q", client.lastPosted().channelID)
	}
}

func TestListen_GuildMessageWithMentions(t *testing.T) {
	c, _, socket := newTestClient(t)
	client := c.client.(*mockSlackClient)
	client.addUser("U_ALICE", "alice", "", false)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := c.Listen(ctx)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	// Real Slack ids are bare alphanumerics; the mention regexes reject
	// anything else.
	socket.events <- messageEvent("U_ALICE", "C1", "group",
		"<!subteam^SACT1> I dispute this with <@UBOB1>", "1700000000.000001")

	ev := recvEvent(t, ch)
	if ev.Kind != platform.EventMessage {
		t.Errorf("kind = %v, want message", ev.Kind)
	}
	if ev.ChannelID != "C1" || ev.UserID != "U_ALICE" {
		t.Errorf("event = %+v", ev)
	}
	if ev.UserName != "alice" {
		t.Errorf("user name = %q, want alice", ev.UserName)
	}
	if len(ev.MentionRoleIDs) != 1 || ev.MentionRoleIDs[0] != "SACT1" {
		t.Errorf("role mentions = %v, want [SACT1]", ev.MentionRoleIDs)
	}
	if len(ev.MentionUserIDs) != 1 || ev.MentionUserIDs[0] != "UBOB1" {
		t.Errorf("user mentions = %v, want [UBOB1]", ev.MentionUserIDs)
	}
	if socket.ackedCount() != 1 {
		t.Errorf("acked = %d, want 1", socket.ackedCount())
	}
}

func TestListen_IMBecomesDM(t *testing.T) {
	c, _, socket := newTestClient(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, _ := c.Listen(ctx)

	socket.events <- messageEvent("U_ALICE", "D1", "im", "my mouse died", "1700000000.000001")

	ev := recvEvent(t, ch)
	if ev.Kind != platform.EventDM {
		t.Errorf("kind = %v, want DM", ev.Kind)
	}
	if ev.GuildID != "" {
		t.Errorf("guild id = %q, want empty for DMs", ev.GuildID)
	}
}

func TestListen_FiltersBotAndSubtypes(t *testing.T) {
	c, _, socket := newTestClient(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, _ := c.Listen(ctx)

	socket.events <- messageEvent("U_BOT", "C1", "group", "self", "1700000000.000001")

	edited := messageEvent("U_ALICE", "C1", "group", "edited", "1700000000.000002")
	inner := edited.Data.(slackevents.EventsAPIEvent)
	inner.InnerEvent.Data.(*slackevents.MessageEvent).SubType = "message_changed"
	edited.Data = inner
	socket.events <- edited

	socket.events <- messageEvent("U_ALICE", "C1", "group", "real", "1700000000.000003")

	ev := recvEvent(t, ch)
	if ev.Text != "real" {
		t.Errorf("text = %q, want the unfiltered message", ev.Text)
	}
}

func TestListen_SelectAnswer(t *testing.T) {
	c, _, socket := newTestClient(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, _ := c.Listen(ctx)

	callback := slackapi.InteractionCallback{
		Type: slackapi.InteractionTypeBlockActions,
	}
	callback.User.ID = "U_ALICE"
	action := &slackapi.BlockAction{ActionID: "prompt-1"}
	action.SelectedOption.Value = "h2"
	callback.ActionCallback.BlockActions = []*slackapi.BlockAction{action}

	socket.events <- socketmode.Event{
		Type:    socketmode.EventTypeInteractive,
		Data:    callback,
		Request: &socketmode.Request{EnvelopeID: "env-i"},
	}

	ev := recvEvent(t, ch)
	if ev.Kind != platform.EventSelect {
		t.Errorf("kind = %v, want select", ev.Kind)
	}
	if ev.PromptID != "prompt-1" || ev.Value != "h2" {
		t.Errorf("select = %q/%q, want prompt-1/h2", ev.PromptID, ev.Value)
	}
	if socket.ackedCount() != 1 {
		t.Errorf("acked = %d, want 1", socket.ackedCount())
	}
}

func TestRetryOnRateLimit_HonorsRetryAfter(t *testing.T) {
	calls := 0
	err := retryOnRateLimit(context.Background(), func() error {
		calls++
		if calls < 3 {
			return &slackapi.RateLimitedError{RetryAfter: time.Millisecond}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetryOnRateLimit_NonRateLimitFailsFast(t *testing.T) {
	calls := 0
	err := retryOnRateLimit(context.Background(), func() error {
		calls++
		return fmt.Errorf("channel_not_found")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestChannelSlug(t *testing.T) {
	slug := channelSlug("No-Show — Summit Peak [SP] vs Harbor City [HC]")
	if !strings.HasPrefix(slug, "no-show-summit-peak-sp-vs-harbor-city-hc") {
		t.Errorf("slug = %q", slug)
	}
	if len(slug) > 80 {
		t.Errorf("slug too long: %d", len(slug))
	}
	if got := channelSlug("✨✨✨"); !strings.HasPrefix(got, "hearing-") {
		t.Errorf("empty slug fallback = %q", got)
	}
}

func TestParseSlackTimestamp(t *testing.T) {
	ts := parseSlackTimestamp("1700000000.000001")
	if ts.Unix() != 1700000000 {
		t.Errorf("unix = %d, want 1700000000", ts.Unix())
	}
	if !parseSlackTimestamp("garbage").IsZero() {
		t.Error("garbage timestamp should be zero time")
	}
}

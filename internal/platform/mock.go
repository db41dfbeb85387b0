package platform

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MockClient implements Client for testing. It keeps an in-memory guild and
// thread membership table, records every outbound call, and allows
// simulating inbound events and per-user failures.
type MockClient struct {
	mu        sync.Mutex
	connected bool
	closed    bool
	inbound   chan Event

	members map[string]Member   // userID -> member
	threads map[string][]string // threadID -> member user ids

	sent      []SentMessage
	dms       []DM
	reactions []Reaction
	deleted   []Deleted
	edits     map[string][]ThreadEdit
	prompts   []Prompt

	threadCounter  int
	botUserID      string
	failCreate     error
	failAddUser    map[string]bool // users whose AddThreadMember fails
	failRemoveUser map[string]bool // users whose RemoveThreadMember fails
	failDelete     bool
	createDelay    time.Duration // artificial latency for CreateThread (race tests)
}

// SentMessage records one SendMessage call.
type SentMessage struct {
	Target string
	Text   string
}

// DM records one SendDM call.
type DM struct {
	UserID string
	Text   string
}

// Reaction records one AddReaction call.
type Reaction struct {
	ChannelID, MessageID, Emoji string
}

// Deleted records one DeleteMessage call.
type Deleted struct {
	ChannelID, MessageID string
}

// Prompt records one PromptSelect call.
type Prompt struct {
	UserID      string
	PromptID    string
	Placeholder string
	Choices     []SelectChoice
}

// NewMockClient creates a MockClient with a buffered inbound channel.
func NewMockClient() *MockClient {
	return &MockClient{
		inbound:        make(chan Event, 100),
		members:        make(map[string]Member),
		threads:        make(map[string][]string),
		edits:          make(map[string][]ThreadEdit),
		failAddUser:    make(map[string]bool),
		failRemoveUser: make(map[string]bool),
	}
}

// Connect marks the client as connected.
func (m *MockClient) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("mock client: already closed")
	}
	m.connected = true
	return nil
}

// Listen returns the inbound event channel. Must be called after Connect.
func (m *MockClient) Listen(ctx context.Context) (<-chan Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return nil, fmt.Errorf("mock client: not connected")
	}
	return m.inbound, nil
}

// CreateThread allocates a new thread id.
func (m *MockClient) CreateThread(ctx context.Context, channelID, name string) (string, error) {
	m.mu.Lock()
	if m.failCreate != nil {
		err := m.failCreate
		m.mu.Unlock()
		return "", err
	}
	delay := m.createDelay
	m.threadCounter++
	threadID := fmt.Sprintf("thread-%d", m.threadCounter)
	m.threads[threadID] = nil
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(delay):
		}
	}
	return threadID, nil
}

// SendMessage records the message and returns a synthetic message id.
func (m *MockClient) SendMessage(ctx context.Context, target, text string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, SentMessage{Target: target, Text: text})
	return fmt.Sprintf("msg-%d", len(m.sent)), nil
}

// SendDM records the direct message.
func (m *MockClient) SendDM(ctx context.Context, userID, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dms = append(m.dms, DM{UserID: userID, Text: text})
	return nil
}

// AddReaction records the reaction.
func (m *MockClient) AddReaction(ctx context.Context, channelID, messageID, emoji string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reactions = append(m.reactions, Reaction{ChannelID: channelID, MessageID: messageID, Emoji: emoji})
	return nil
}

// DeleteMessage records the deletion, or fails if configured to.
func (m *MockClient) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failDelete {
		return fmt.Errorf("mock client: delete refused")
	}
	m.deleted = append(m.deleted, Deleted{ChannelID: channelID, MessageID: messageID})
	return nil
}

// GuildMembers returns all configured members.
func (m *MockClient) GuildMembers(ctx context.Context, guildID string) ([]Member, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Member, 0, len(m.members))
	for _, mem := range m.members {
		out = append(out, mem)
	}
	return out, nil
}

// Member returns a single configured member.
func (m *MockClient) Member(ctx context.Context, guildID, userID string) (Member, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mem, ok := m.members[userID]
	if !ok {
		return Member{}, fmt.Errorf("mock client: unknown member %s", userID)
	}
	return mem, nil
}

// AddThreadMember adds the user to the thread membership table.
func (m *MockClient) AddThreadMember(ctx context.Context, threadID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAddUser[userID] {
		return fmt.Errorf("mock client: add %s refused", userID)
	}
	for _, id := range m.threads[threadID] {
		if id == userID {
			return nil
		}
	}
	m.threads[threadID] = append(m.threads[threadID], userID)
	return nil
}

// RemoveThreadMember removes the user from the thread membership table.
func (m *MockClient) RemoveThreadMember(ctx context.Context, threadID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failRemoveUser[userID] {
		return fmt.Errorf("mock client: remove %s refused", userID)
	}
	members := m.threads[threadID]
	for i, id := range members {
		if id == userID {
			m.threads[threadID] = append(members[:i:i], members[i+1:]...)
			return nil
		}
	}
	return nil
}

// ThreadMembers returns the thread's current member ids.
func (m *MockClient) ThreadMembers(ctx context.Context, threadID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.threads[threadID]))
	copy(out, m.threads[threadID])
	return out, nil
}

// EditThread records the edit.
func (m *MockClient) EditThread(ctx context.Context, threadID string, edit ThreadEdit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.edits[threadID] = append(m.edits[threadID], edit)
	return nil
}

// PromptSelect records the prompt.
func (m *MockClient) PromptSelect(ctx context.Context, userID, promptID, placeholder string, choices []SelectChoice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prompts = append(m.prompts, Prompt{
		UserID:      userID,
		PromptID:    promptID,
		Placeholder: placeholder,
		Choices:     choices,
	})
	return nil
}

// Close shuts down the mock client and closes the inbound channel.
func (m *MockClient) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	m.connected = false
	close(m.inbound)
	return nil
}

// BotUserID returns the configured bot user ID (implements BotUserIDer).
func (m *MockClient) BotUserID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.botUserID
}

// --- Test helpers ---

// SetBotUserID sets the bot user ID.
func (m *MockClient) SetBotUserID(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.botUserID = id
}

// AddGuildMember adds or replaces a member in the mock guild.
func (m *MockClient) AddGuildMember(mem Member) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.members[mem.UserID] = mem
}

// FailCreateThread makes subsequent CreateThread calls return err.
func (m *MockClient) FailCreateThread(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failCreate = err
}

// FailAddMember makes AddThreadMember fail for the given user.
func (m *MockClient) FailAddMember(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failAddUser[userID] = true
}

// FailRemoveMember makes RemoveThreadMember fail for the given user.
func (m *MockClient) FailRemoveMember(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failRemoveUser[userID] = true
}

// FailDeleteMessage makes DeleteMessage fail.
func (m *MockClient) FailDeleteMessage() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failDelete = true
}

// SetCreateDelay adds artificial latency to CreateThread, for exercising
// concurrent-trigger races.
func (m *MockClient) SetCreateDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createDelay = d
}

// SimulateEvent feeds an event into the inbound channel as if it came from
// the chat platform. Safe to call from any goroutine.
func (m *MockClient) SimulateEvent(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	m.inbound <- ev
}

// Sent returns a copy of all recorded SendMessage calls.
func (m *MockClient) Sent() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SentMessage, len(m.sent))
	copy(out, m.sent)
	return out
}

// DMs returns a copy of all recorded SendDM calls.
func (m *MockClient) DMs() []DM {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]DM, len(m.dms))
	copy(out, m.dms)
	return out
}

// Reactions returns a copy of all recorded AddReaction calls.
func (m *MockClient) Reactions() []Reaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Reaction, len(m.reactions))
	copy(out, m.reactions)
	return out
}

// DeletedMessages returns a copy of all recorded DeleteMessage calls.
func (m *MockClient) DeletedMessages() []Deleted {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Deleted, len(m.deleted))
	copy(out, m.deleted)
	return out
}

// Edits returns a copy of the recorded edits for a thread.
func (m *MockClient) Edits(threadID string) []ThreadEdit {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ThreadEdit, len(m.edits[threadID]))
	copy(out, m.edits[threadID])
	return out
}

// Prompts returns a copy of all recorded PromptSelect calls.
func (m *MockClient) Prompts() []Prompt {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Prompt, len(m.prompts))
	copy(out, m.prompts)
	return out
}

// ThreadCount returns the number of threads created.
func (m *MockClient) ThreadCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.threads)
}

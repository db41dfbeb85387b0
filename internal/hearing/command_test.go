package hearing

import (
	"context"
	"strings"
	"testing"

	"github.com/zulandar/gavel/internal/platform"
)

func newTestCommandHandler(t *testing.T, mc *platform.MockClient, s *Store) *CommandHandler {
	t.Helper()
	ch, err := NewCommandHandler(CommandHandlerOpts{
		Store:       s,
		Lifecycle:   newTestLifecycle(t, mc, s, NopRecorder{}),
		Roster:      newTestRoster(t, mc),
		StandbyRole: "standby",
	})
	if err != nil {
		t.Fatalf("NewCommandHandler: %v", err)
	}
	return ch
}

func cmdEvent(channelID, text string, mentions ...string) platform.Event {
	return platform.Event{
		Kind:           platform.EventMessage,
		GuildID:        "g1",
		ChannelID:      channelID,
		UserID:         "op",
		UserName:       "op",
		Text:           text,
		MentionUserIDs: mentions,
	}
}

func TestIsCommand(t *testing.T) {
	cases := []struct {
		text string
		want bool
	}{
		{"!gavel status", true},
		{"!gavel", true},
		{"!gavelstatus", false},
		{"hello !gavel", false},
		{"", false},
	}
	for _, c := range cases {
		if got := IsCommand(c.text); got != c.want {
			t.Errorf("IsCommand(%q) = %v, want %v", c.text, got, c.want)
		}
	}
}

func TestCommand_OutsideHearing(t *testing.T) {
	mc := platform.NewMockClient()
	s := NewStore()
	ch := newTestCommandHandler(t, mc, s)

	resp := ch.Execute(context.Background(), cmdEvent("random-channel", "!gavel status"))
	if !strings.Contains(resp, "not an open hearing") {
		t.Errorf("resp = %q", resp)
	}
}

func TestCommand_Parties(t *testing.T) {
	mc := platform.NewMockClient()
	seedGuild(mc)
	s := NewStore()
	s.Register(newTestHearing("h1", "alice", "m1"))
	ch := newTestCommandHandler(t, mc, s)

	resp := ch.Execute(context.Background(), cmdEvent("h1", "!gavel parties", "pleb", "sb1"))
	if !strings.Contains(resp, "Parties set") {
		t.Errorf("resp = %q", resp)
	}
	h, _ := s.Get("h1")
	if h.PartyA != "pleb" || h.PartyB != "sb1" {
		t.Errorf("parties = %s / %s", h.PartyA, h.PartyB)
	}

	// Wrong mention count is a usage error, not a store mutation.
	resp = ch.Execute(context.Background(), cmdEvent("h1", "!gavel parties", "pleb"))
	if !strings.Contains(resp, "Usage") {
		t.Errorf("resp = %q", resp)
	}
}

func TestCommand_IssueAndOption(t *testing.T) {
	mc := platform.NewMockClient()
	seedGuild(mc)
	s := NewStore()
	s.Register(newTestHearing("h1", "alice", "m1"))
	ch := newTestCommandHandler(t, mc, s)

	if resp := ch.Execute(context.Background(), cmdEvent("h1", "!gavel issue scoring")); !strings.Contains(resp, "Issue set") {
		t.Errorf("resp = %q", resp)
	}
	if resp := ch.Execute(context.Background(), cmdEvent("h1", "!gavel issue vibes")); !strings.Contains(resp, "Error") {
		t.Errorf("resp = %q", resp)
	}
	if resp := ch.Execute(context.Background(), cmdEvent("h1", "!gavel option old_value 2-1")); !strings.Contains(resp, "Option old_value set") {
		t.Errorf("resp = %q", resp)
	}
	h, _ := s.Get("h1")
	if h.Issue != IssueScoring || h.Options[OptOldValue] != "2-1" {
		t.Errorf("hearing = %+v", h)
	}
}

func TestCommand_AffiliationMultiWordLabel(t *testing.T) {
	mc := platform.NewMockClient()
	seedGuild(mc)
	s := NewStore()
	s.Register(newTestHearing("h1", "alice", "m1"))
	ch := newTestCommandHandler(t, mc, s)

	resp := ch.Execute(context.Background(), cmdEvent("h1", "!gavel affiliation b Harbor City [HC]"))
	if !strings.Contains(resp, `"Harbor City [HC]"`) {
		t.Errorf("resp = %q", resp)
	}
	h, _ := s.Get("h1")
	if h.PartyBAffil != "Harbor City [HC]" {
		t.Errorf("affil = %q", h.PartyBAffil)
	}
}

func TestCommand_VerdictReportsMissingPrereqs(t *testing.T) {
	mc := platform.NewMockClient()
	seedGuild(mc)
	s := NewStore()
	s.Register(newTestHearing("h1", "alice", "m1"))
	ch := newTestCommandHandler(t, mc, s)

	resp := ch.Execute(context.Background(), cmdEvent("h1", "!gavel verdict dismiss"))
	if !strings.Contains(resp, "missing: parties, issue") {
		t.Errorf("resp = %q", resp)
	}

	ch.Execute(context.Background(), cmdEvent("h1", "!gavel parties", "pleb", "sb1"))
	ch.Execute(context.Background(), cmdEvent("h1", "!gavel issue conduct"))
	resp = ch.Execute(context.Background(), cmdEvent("h1", "!gavel verdict dismiss"))
	if resp != "Verdict posted." {
		t.Errorf("resp = %q", resp)
	}
}

func TestCommand_Close(t *testing.T) {
	mc := platform.NewMockClient()
	seedGuild(mc)
	s := NewStore()
	s.Register(newTestHearing("h1", "alice", "m1"))
	ch := newTestCommandHandler(t, mc, s)

	if resp := ch.Execute(context.Background(), cmdEvent("h1", "!gavel close")); resp != "" {
		t.Errorf("resp = %q, want silent success", resp)
	}
	if _, ok := s.Get("h1"); ok {
		t.Error("hearing still open after close command")
	}
	// The hearing is gone, so a repeat is an out-of-hearing command.
	if resp := ch.Execute(context.Background(), cmdEvent("h1", "!gavel close")); !strings.Contains(resp, "not an open hearing") {
		t.Errorf("resp = %q", resp)
	}
}

func TestCommand_Reping(t *testing.T) {
	mc := platform.NewMockClient()
	seedGuild(mc)
	s := NewStore()
	s.Register(newTestHearing("h1", "alice", "m1"))
	ch := newTestCommandHandler(t, mc, s)

	// Default capability comes from the configured standby role.
	resp := ch.Execute(context.Background(), cmdEvent("h1", "!gavel reping"))
	if !strings.Contains(resp, "Added 2 member(s)") {
		t.Errorf("resp = %q", resp)
	}
	// Explicit capability narrows the pool.
	resp = ch.Execute(context.Background(), cmdEvent("h1", "!gavel reping arb"))
	if !strings.Contains(resp, "member(s)") {
		t.Errorf("resp = %q", resp)
	}
}

func TestCommand_Status(t *testing.T) {
	mc := platform.NewMockClient()
	seedGuild(mc)
	s := NewStore()
	h := newTestHearing("h1", "alice", "m1")
	h.PartyAAffil = "Summit Peak [SP]"
	s.Register(h)
	ch := newTestCommandHandler(t, mc, s)

	resp := ch.Execute(context.Background(), cmdEvent("h1", "!gavel status"))
	for _, want := range []string{"Hearing h1", "<@alice>", "parties: unset", "issue: unset", "Summit Peak [SP]"} {
		if !strings.Contains(resp, want) {
			t.Errorf("status missing %q:\n%s", want, resp)
		}
	}
}

func TestCommand_HelpAndUnknown(t *testing.T) {
	mc := platform.NewMockClient()
	s := NewStore()
	s.Register(newTestHearing("h1", "alice", "m1"))
	ch := newTestCommandHandler(t, mc, s)

	if resp := ch.Execute(context.Background(), cmdEvent("h1", "!gavel help")); !strings.Contains(resp, "!gavel verdict") {
		t.Errorf("help = %q", resp)
	}
	if resp := ch.Execute(context.Background(), cmdEvent("h1", "!gavel frobnicate")); !strings.Contains(resp, "Unknown command") {
		t.Errorf("resp = %q", resp)
	}
	// Bare prefix shows help without requiring a hearing.
	if resp := ch.Execute(context.Background(), cmdEvent("elsewhere", "!gavel")); !strings.Contains(resp, "Gavel commands") {
		t.Errorf("resp = %q", resp)
	}
}

package hearing

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/zulandar/gavel/internal/platform"
)

// spyRecorder records which lifecycle notifications fired.
type spyRecorder struct {
	mu      sync.Mutex
	opened  []string
	edited  []string // "id/field"
	roster  []string
	verdict []string // "id/outcome"
	closed  []string
}

func (r *spyRecorder) HearingOpened(h *Hearing) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.opened = append(r.opened, h.ID)
}

func (r *spyRecorder) HearingEdited(h *Hearing, field, actor string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.edited = append(r.edited, h.ID+"/"+field)
}

func (r *spyRecorder) RosterChanged(h *Hearing, detail string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.roster = append(r.roster, h.ID)
}

func (r *spyRecorder) VerdictPosted(h *Hearing, outcome, actor string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.verdict = append(r.verdict, h.ID+"/"+outcome)
}

func (r *spyRecorder) HearingClosed(h *Hearing, actor string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = append(r.closed, h.ID)
}

func newTestLifecycle(t *testing.T, mc *platform.MockClient, s *Store, rec Recorder) *Lifecycle {
	t.Helper()
	lc, err := NewLifecycle(LifecycleOpts{
		Store:    s,
		Client:   mc,
		Roster:   newTestRoster(t, mc),
		GuildID:  "g1",
		Recorder: rec,
		Out:      io.Discard,
	})
	if err != nil {
		t.Fatalf("NewLifecycle: %v", err)
	}
	return lc
}

func TestLifecycle_SetParties(t *testing.T) {
	mc := platform.NewMockClient()
	seedGuild(mc)
	s := NewStore()
	s.Register(newTestHearing("h1", "alice", "m1"))
	mc.AddThreadMember(context.Background(), "h1", "pleb") // party sitting in the thread
	lc := newTestLifecycle(t, mc, s, NopRecorder{})

	if err := lc.SetParties(context.Background(), "h1", "pleb", "sb1", "op"); err != nil {
		t.Fatalf("SetParties: %v", err)
	}
	h, _ := s.Get("h1")
	if h.PartyA != "pleb" || h.PartyB != "sb1" {
		t.Errorf("parties = %s / %s", h.PartyA, h.PartyB)
	}

	// Parties were registered into the routing index with auto-select.
	if sel, ok := s.Selected("pleb"); !ok || sel != "h1" {
		t.Errorf("Selected(pleb) = %q, %v", sel, ok)
	}
	if sel, ok := s.Selected("sb1"); !ok || sel != "h1" {
		t.Errorf("Selected(sb1) = %q, %v", sel, ok)
	}

	// The party who was in the thread got purged.
	members, _ := mc.ThreadMembers(context.Background(), "h1")
	for _, m := range members {
		if m == "pleb" {
			t.Error("party still in thread after assignment")
		}
	}
}

func TestLifecycle_SetPartiesReassignmentUnroutesReplaced(t *testing.T) {
	mc := platform.NewMockClient()
	seedGuild(mc)
	s := NewStore()
	s.Register(newTestHearing("h1", "alice", "m1"))
	lc := newTestLifecycle(t, mc, s, NopRecorder{})

	if err := lc.SetParties(context.Background(), "h1", "pleb", "sb1", "op"); err != nil {
		t.Fatalf("SetParties: %v", err)
	}
	if err := lc.SetParties(context.Background(), "h1", "arb1", "arb2", "op"); err != nil {
		t.Fatalf("SetParties reassignment: %v", err)
	}

	// The replaced parties must not keep routing into the hearing.
	for _, u := range []string{"pleb", "sb1"} {
		if open := s.Open(u); len(open) != 0 {
			t.Errorf("Open(%s) = %v after reassignment, want empty", u, open)
		}
		if sel, ok := s.Selected(u); ok {
			t.Errorf("Selected(%s) = %q after reassignment, want none", u, sel)
		}
	}
	for _, u := range []string{"arb1", "arb2"} {
		if sel, ok := s.Selected(u); !ok || sel != "h1" {
			t.Errorf("Selected(%s) = %q, %v, want h1", u, sel, ok)
		}
	}
}

func TestLifecycle_SetPartiesValidation(t *testing.T) {
	mc := platform.NewMockClient()
	s := NewStore()
	s.Register(newTestHearing("h1", "alice", "m1"))
	lc := newTestLifecycle(t, mc, s, NopRecorder{})

	if err := lc.SetParties(context.Background(), "h1", "pleb", "", "op"); err == nil {
		t.Error("missing party accepted")
	}
	if err := lc.SetParties(context.Background(), "h1", "pleb", "pleb", "op"); err == nil {
		t.Error("identical parties accepted")
	}
	if err := lc.SetParties(context.Background(), "nope", "a", "b", "op"); !errors.Is(err, ErrUnknownHearing) {
		t.Errorf("err = %v, want ErrUnknownHearing", err)
	}
}

func TestLifecycle_SetIssueRenamesThread(t *testing.T) {
	mc := platform.NewMockClient()
	seedGuild(mc)
	s := NewStore()
	s.Register(newTestHearing("h1", "alice", "m1"))
	lc := newTestLifecycle(t, mc, s, NopRecorder{})

	// Issue alone doesn't rename; the name waits for both parties.
	if err := lc.SetIssue(context.Background(), "h1", IssueNoShow, "op"); err != nil {
		t.Fatalf("SetIssue: %v", err)
	}
	if len(mc.Edits("h1")) != 0 {
		t.Error("renamed before parties were set")
	}

	if err := lc.SetParties(context.Background(), "h1", "pleb", "sb1", "op"); err != nil {
		t.Fatalf("SetParties: %v", err)
	}
	edits := mc.Edits("h1")
	if len(edits) != 1 || edits[0].Name == nil {
		t.Fatalf("edits = %+v", edits)
	}
	if *edits[0].Name != "no-show — Pleb vs Standby" {
		t.Errorf("name = %q", *edits[0].Name)
	}
}

func TestLifecycle_SetIssueRejectsUnknown(t *testing.T) {
	mc := platform.NewMockClient()
	s := NewStore()
	s.Register(newTestHearing("h1", "alice", "m1"))
	lc := newTestLifecycle(t, mc, s, NopRecorder{})

	if err := lc.SetIssue(context.Background(), "h1", "vibes", "op"); err == nil {
		t.Error("unknown issue accepted")
	}
}

func TestLifecycle_SetAffiliationRerunsConflicts(t *testing.T) {
	mc := platform.NewMockClient()
	seedGuild(mc)
	s := NewStore()
	s.Register(newTestHearing("h1", "alice", "m1"))
	rec := &spyRecorder{}
	lc := newTestLifecycle(t, mc, s, rec)
	r := newTestRoster(t, mc)
	h, _ := s.Get("h1")
	r.AddAllEligible(context.Background(), h)

	// Correcting party B's affiliation to Harbor City conflicts out arb2.
	if err := lc.SetAffiliation(context.Background(), "h1", "b", "Harbor City [HC]", "op"); err != nil {
		t.Fatalf("SetAffiliation: %v", err)
	}
	members, _ := mc.ThreadMembers(context.Background(), "h1")
	for _, m := range members {
		if m == "arb2" {
			t.Error("conflicted arb2 still in thread after affiliation change")
		}
	}
	if len(rec.roster) != 1 {
		t.Errorf("roster notifications = %v", rec.roster)
	}

	if err := lc.SetAffiliation(context.Background(), "h1", "c", "X", "op"); err == nil {
		t.Error("bad side accepted")
	}
}

func TestLifecycle_SetOption(t *testing.T) {
	mc := platform.NewMockClient()
	s := NewStore()
	s.Register(newTestHearing("h1", "alice", "m1"))
	lc := newTestLifecycle(t, mc, s, NopRecorder{})

	if err := lc.SetOption(context.Background(), "h1", OptWindow, "7 days", "op"); err != nil {
		t.Fatalf("SetOption: %v", err)
	}
	h, _ := s.Get("h1")
	if h.Options[OptWindow] != "7 days" {
		t.Errorf("option = %q", h.Options[OptWindow])
	}
	if err := lc.SetOption(context.Background(), "h1", "made_up", "x", "op"); err == nil {
		t.Error("unknown option key accepted")
	}
}

func TestLifecycle_VerdictPrereqs(t *testing.T) {
	mc := platform.NewMockClient()
	seedGuild(mc)
	s := NewStore()
	s.Register(newTestHearing("h1", "alice", "m1"))
	lc := newTestLifecycle(t, mc, s, NopRecorder{})

	_, err := lc.Verdict(context.Background(), "h1", OutcomeDismiss, "op")
	var mp *MissingPrereqsError
	if !errors.As(err, &mp) {
		t.Fatalf("err = %v, want MissingPrereqsError", err)
	}
	if len(mp.Fields) != 2 || mp.Fields[0] != "parties" || mp.Fields[1] != "issue" {
		t.Errorf("missing fields = %v", mp.Fields)
	}
	if len(mc.Sent()) != 0 {
		t.Error("verdict posted despite missing prerequisites")
	}

	// Partial prerequisites name only the absent field.
	lc.SetParties(context.Background(), "h1", "pleb", "sb1", "op")
	_, err = lc.Verdict(context.Background(), "h1", OutcomeDismiss, "op")
	if !errors.As(err, &mp) || len(mp.Fields) != 1 || mp.Fields[0] != "issue" {
		t.Errorf("err = %v, want missing issue only", err)
	}
}

// closeOnSend closes the hearing while the verdict message is in flight,
// simulating a concurrent close between posting and bookkeeping.
type closeOnSend struct {
	platform.Client
	s  *Store
	id string
}

func (c *closeOnSend) SendMessage(ctx context.Context, target, text string) (string, error) {
	c.s.BeginClose(c.id)
	return c.Client.SendMessage(ctx, target, text)
}

func TestLifecycle_VerdictSurvivesConcurrentClose(t *testing.T) {
	mc := platform.NewMockClient()
	seedGuild(mc)
	s := NewStore()
	h := newTestHearing("h1", "alice", "m1")
	h.PartyAAffil, h.PartyBAffil = "Summit Peak [SP]", "Harbor City [HC]"
	s.Register(h)
	s.AssignParties("h1", "pleb", "sb1")
	s.Update("h1", func(h *Hearing) { h.Issue = IssueConduct })

	lc, err := NewLifecycle(LifecycleOpts{
		Store:    s,
		Client:   &closeOnSend{Client: mc, s: s, id: "h1"},
		Roster:   newTestRoster(t, mc),
		GuildID:  "g1",
		Recorder: NopRecorder{},
		Out:      io.Discard,
	})
	if err != nil {
		t.Fatalf("NewLifecycle: %v", err)
	}

	// The posted verdict stands even though the hearing closed mid-flight;
	// the outcome bookkeeping is skipped, not fatal.
	text, err := lc.Verdict(context.Background(), "h1", OutcomeDismiss, "op")
	if err != nil {
		t.Fatalf("Verdict: %v", err)
	}
	if text == "" {
		t.Fatal("expected rendered verdict text")
	}
	got, _ := s.Get("h1")
	if got.Options["outcome"] != "" {
		t.Errorf("outcome = %q recorded on a closing hearing, want unset", got.Options["outcome"])
	}
}

func TestLifecycle_VerdictPosts(t *testing.T) {
	mc := platform.NewMockClient()
	seedGuild(mc)
	s := NewStore()
	h := newTestHearing("h1", "alice", "m1")
	h.PartyAAffil, h.PartyBAffil = "Summit Peak [SP]", "Harbor City [HC]"
	s.Register(h)
	rec := &spyRecorder{}
	lc := newTestLifecycle(t, mc, s, rec)
	lc.SetParties(context.Background(), "h1", "pleb", "sb1", "op")
	lc.SetIssue(context.Background(), "h1", IssueConduct, "op")

	text, err := lc.Verdict(context.Background(), "h1", OutcomeDismiss, "op")
	if err != nil {
		t.Fatalf("Verdict: %v", err)
	}
	want := "The conduct dispute between Summit Peak [SP] and Harbor City [HC] is dismissed."
	if text != want {
		t.Errorf("text = %q", text)
	}

	// Posted into the thread and recorded on the hearing.
	var posted bool
	for _, m := range mc.Sent() {
		if m.Target == "h1" && m.Text == want {
			posted = true
		}
	}
	if !posted {
		t.Errorf("verdict not posted: %+v", mc.Sent())
	}
	got, _ := s.Get("h1")
	if got.Options["outcome"] != OutcomeDismiss {
		t.Errorf("outcome option = %q", got.Options["outcome"])
	}
	if len(rec.verdict) != 1 || rec.verdict[0] != "h1/dismiss" {
		t.Errorf("verdict notifications = %v", rec.verdict)
	}
}

func TestLifecycle_CloseSequence(t *testing.T) {
	mc := platform.NewMockClient()
	seedGuild(mc)
	s := NewStore()
	s.Register(newTestHearing("h1", "alice", "m1"))
	rec := &spyRecorder{}
	lc := newTestLifecycle(t, mc, s, rec)

	if err := lc.Close(context.Background(), "h1", "op"); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Routing index and selection gone.
	if open := s.Open("alice"); len(open) != 0 {
		t.Errorf("Open(alice) = %v after close", open)
	}
	if _, ok := s.Selected("alice"); ok {
		t.Error("selection survived close")
	}

	// Origin artifact deleted.
	del := mc.DeletedMessages()
	if len(del) != 1 || del[0].ChannelID != "c1" || del[0].MessageID != "m1" {
		t.Errorf("deleted = %+v", del)
	}

	// Raiser notified, thread acknowledged, thread archived and locked.
	if dms := mc.DMs(); len(dms) != 1 || dms[0].UserID != "alice" {
		t.Errorf("dms = %+v", dms)
	}
	if sent := mc.Sent(); len(sent) != 1 || sent[0].Target != "h1" {
		t.Errorf("sent = %+v", sent)
	}
	edits := mc.Edits("h1")
	if len(edits) != 1 || edits[0].Archived == nil || !*edits[0].Archived || edits[0].Locked == nil || !*edits[0].Locked {
		t.Errorf("edits = %+v", edits)
	}

	// Purged last: gone from the store entirely.
	if _, ok := s.Get("h1"); ok {
		t.Error("hearing still in store after close")
	}
	if _, ok := s.ByOrigin("m1"); ok {
		t.Error("origin binding survived close")
	}
	if len(rec.closed) != 1 {
		t.Errorf("closed notifications = %v", rec.closed)
	}
}

func TestLifecycle_CloseTwiceFails(t *testing.T) {
	mc := platform.NewMockClient()
	s := NewStore()
	s.Register(newTestHearing("h1", "alice", "m1"))
	lc := newTestLifecycle(t, mc, s, NopRecorder{})

	if err := lc.Close(context.Background(), "h1", "op"); err != nil {
		t.Fatalf("first close: %v", err)
	}
	if err := lc.Close(context.Background(), "h1", "op"); !errors.Is(err, ErrUnknownHearing) {
		t.Errorf("second close = %v, want ErrUnknownHearing after purge", err)
	}
	if err := lc.Close(context.Background(), "never", "op"); !errors.Is(err, ErrUnknownHearing) {
		t.Errorf("unknown close = %v, want ErrUnknownHearing", err)
	}
}

func TestLifecycle_CloseContinuesPastCleanupFailure(t *testing.T) {
	mc := platform.NewMockClient()
	seedGuild(mc)
	mc.FailDeleteMessage()
	s := NewStore()
	s.Register(newTestHearing("h1", "alice", "m1"))
	lc := newTestLifecycle(t, mc, s, NopRecorder{})

	if err := lc.Close(context.Background(), "h1", "op"); err != nil {
		t.Fatalf("Close: %v", err)
	}
	// Deletion failed, but the remaining steps still ran and the hearing
	// still left the store.
	if len(mc.DeletedMessages()) != 0 {
		t.Error("deletion unexpectedly succeeded")
	}
	if len(mc.DMs()) != 1 {
		t.Errorf("raiser DM skipped: %+v", mc.DMs())
	}
	if edits := mc.Edits("h1"); len(edits) != 1 {
		t.Errorf("archive skipped: %+v", edits)
	}
	if _, ok := s.Get("h1"); ok {
		t.Error("hearing not purged after degraded close")
	}
}

func TestLifecycle_ClosedHearingRejectsEdits(t *testing.T) {
	mc := platform.NewMockClient()
	seedGuild(mc)
	s := NewStore()
	s.Register(newTestHearing("h1", "alice", "m1"))
	lc := newTestLifecycle(t, mc, s, NopRecorder{})
	lc.Close(context.Background(), "h1", "op")

	if err := lc.SetIssue(context.Background(), "h1", IssueNoShow, "op"); !errors.Is(err, ErrUnknownHearing) {
		t.Errorf("SetIssue after close = %v", err)
	}
	if _, err := lc.Verdict(context.Background(), "h1", OutcomeDismiss, "op"); !errors.Is(err, ErrUnknownHearing) {
		t.Errorf("Verdict after close = %v", err)
	}
}

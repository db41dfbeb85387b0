package hearing

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/zulandar/gavel/internal/platform"
)

// MissingPrereqsError reports which fields block a verdict.
type MissingPrereqsError struct {
	Fields []string
}

func (e *MissingPrereqsError) Error() string {
	return "hearing: verdict prerequisites missing: " + strings.Join(e.Fields, ", ")
}

// Lifecycle applies operator edits to open hearings and performs closing.
type Lifecycle struct {
	store   *Store
	client  platform.Client
	roster  *Roster
	guildID string
	rec     Recorder
	out     io.Writer
}

// LifecycleOpts holds parameters for creating a Lifecycle.
type LifecycleOpts struct {
	Store    *Store
	Client   platform.Client
	Roster   *Roster
	GuildID  string
	Recorder Recorder // optional
	Out      io.Writer
}

// NewLifecycle creates a Lifecycle.
func NewLifecycle(opts LifecycleOpts) (*Lifecycle, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("hearing: lifecycle: store is required")
	}
	if opts.Client == nil {
		return nil, fmt.Errorf("hearing: lifecycle: client is required")
	}
	if opts.Roster == nil {
		return nil, fmt.Errorf("hearing: lifecycle: roster is required")
	}
	if opts.GuildID == "" {
		return nil, fmt.Errorf("hearing: lifecycle: guild id is required")
	}
	rec := opts.Recorder
	if rec == nil {
		rec = NopRecorder{}
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	return &Lifecycle{
		store:   opts.Store,
		client:  opts.Client,
		roster:  opts.Roster,
		guildID: opts.GuildID,
		rec:     rec,
		out:     out,
	}, nil
}

// SetParties assigns both parties, registers them into the routing index,
// and purges them from the hearing thread. Reassigning replaces the parties
// outright: the previous parties leave the routing index for this hearing.
func (lc *Lifecycle) SetParties(ctx context.Context, id, partyA, partyB, actor string) error {
	if partyA == "" || partyB == "" {
		return fmt.Errorf("hearing: lifecycle: both parties are required")
	}
	if partyA == partyB {
		return fmt.Errorf("hearing: lifecycle: parties must differ")
	}
	if err := lc.store.AssignParties(id, partyA, partyB); err != nil {
		return err
	}

	h, _ := lc.store.Get(id)
	if _, err := lc.roster.PurgeParties(ctx, h); err != nil {
		log.Printf("hearing: lifecycle: purge parties from %s: %v", id, err)
	}
	lc.recomputeName(ctx, h)
	lc.rec.HearingEdited(h, "parties", actor)
	return nil
}

// SetIssue assigns the issue category.
func (lc *Lifecycle) SetIssue(ctx context.Context, id, issue, actor string) error {
	if !ValidIssue(issue) {
		return fmt.Errorf("hearing: lifecycle: unknown issue %q (valid: %s)",
			issue, strings.Join(IssueCategories, ", "))
	}
	if err := lc.store.Update(id, func(h *Hearing) {
		h.Issue = issue
	}); err != nil {
		return err
	}
	h, _ := lc.store.Get(id)
	lc.recomputeName(ctx, h)
	lc.rec.HearingEdited(h, "issue", actor)
	return nil
}

// SetAffiliation corrects a party's affiliation label ("a" or "b") and
// re-runs conflict removal, which is safe to repeat and never removes
// non-conflicted members added since the first run.
func (lc *Lifecycle) SetAffiliation(ctx context.Context, id, side, label, actor string) error {
	switch side {
	case "a", "b":
	default:
		return fmt.Errorf("hearing: lifecycle: side must be a or b, got %q", side)
	}
	if err := lc.store.Update(id, func(h *Hearing) {
		if side == "a" {
			h.PartyAAffil = label
		} else {
			h.PartyBAffil = label
		}
	}); err != nil {
		return err
	}

	h, _ := lc.store.Get(id)
	removed, err := lc.roster.RemoveConflicted(ctx, h, h.AffiliationLabels())
	if err != nil {
		log.Printf("hearing: lifecycle: resync conflicts for %s: %v", id, err)
	} else if len(removed) > 0 {
		lc.rec.RosterChanged(h, fmt.Sprintf("affiliation change removed %d member(s)", len(removed)))
	}
	lc.rec.HearingEdited(h, "affiliation", actor)
	return nil
}

// SetOption stores one decision option.
func (lc *Lifecycle) SetOption(ctx context.Context, id, key, value, actor string) error {
	if !ValidOption(key) {
		return fmt.Errorf("hearing: lifecycle: unknown option %q", key)
	}
	if err := lc.store.Update(id, func(h *Hearing) {
		h.Options[key] = value
	}); err != nil {
		return err
	}
	h, _ := lc.store.Get(id)
	lc.rec.HearingEdited(h, "option:"+key, actor)
	return nil
}

// Resync re-runs conflict removal against the hearing's current labels.
func (lc *Lifecycle) Resync(ctx context.Context, id string) (int, error) {
	h, ok := lc.store.Get(id)
	if !ok {
		return 0, ErrUnknownHearing
	}
	removed, err := lc.roster.RemoveConflicted(ctx, h, h.AffiliationLabels())
	if err != nil {
		return 0, err
	}
	if len(removed) > 0 {
		lc.rec.RosterChanged(h, fmt.Sprintf("resync removed %d member(s)", len(removed)))
	}
	return len(removed), nil
}

// Verdict validates the decision prerequisites, renders the decision text,
// and posts it into the hearing thread. Both parties and an issue category
// must be set; otherwise the error names the absent fields and nothing is
// posted.
func (lc *Lifecycle) Verdict(ctx context.Context, id, outcome, actor string) (string, error) {
	h, ok := lc.store.Get(id)
	if !ok {
		return "", ErrUnknownHearing
	}
	if h.State != StateOpen {
		return "", ErrNotOpen
	}

	var missing []string
	if h.PartyA == "" || h.PartyB == "" {
		missing = append(missing, "parties")
	}
	if h.Issue == "" {
		missing = append(missing, "issue")
	}
	if len(missing) > 0 {
		return "", &MissingPrereqsError{Fields: missing}
	}

	text, err := RenderVerdict(h, outcome)
	if err != nil {
		return "", err
	}
	if _, err := lc.client.SendMessage(ctx, h.ID, text); err != nil {
		return "", fmt.Errorf("hearing: lifecycle: post verdict: %w", err)
	}
	if err := lc.store.Update(id, func(h *Hearing) {
		h.Options["outcome"] = outcome
	}); err != nil {
		// The hearing can close between posting and recording; the posted
		// verdict stands, the bookkeeping is best-effort.
		log.Printf("hearing: lifecycle: record outcome for %s: %v", id, err)
	}
	lc.rec.VerdictPosted(h, outcome, actor)
	return text, nil
}

// Close runs the closing sequence for an open hearing. The routing-index
// removal is mandatory and happens exactly once; the remaining steps are
// best-effort, and the store purge comes last so a crash mid-close leaves
// the hearing discoverable for a retry. Closing a closed or unknown id is
// an error, never silently ignored.
func (lc *Lifecycle) Close(ctx context.Context, id, actor string) error {
	// Step 1: leave the routing indices (cascades selection clearing).
	h, err := lc.store.BeginClose(id)
	if err != nil {
		return err
	}
	fmt.Fprintf(lc.out, "hearing: lifecycle: closing %s\n", id)

	// Step 2: delete the original trigger artifact.
	if err := lc.client.DeleteMessage(ctx, h.Origin.ChannelID, h.Origin.MessageID); err != nil {
		log.Printf("hearing: lifecycle: delete origin message %s: %v", h.Origin.MessageID, err)
	}

	// Step 3: tell the raiser.
	if err := lc.client.SendDM(ctx, h.RaiserID, "Your hearing has been closed. Thanks for your patience."); err != nil {
		log.Printf("hearing: lifecycle: DM raiser %s: %v", h.RaiserID, err)
	}

	// Step 4: acknowledge in the thread before the slow archive call, so
	// the acknowledgement isn't lost if archiving fails.
	if _, err := lc.client.SendMessage(ctx, h.ID, "This hearing is now closed."); err != nil {
		log.Printf("hearing: lifecycle: ack close in %s: %v", h.ID, err)
	}

	// Step 5: archive and lock the thread.
	archived, locked := true, true
	if err := lc.client.EditThread(ctx, h.ID, platform.ThreadEdit{Archived: &archived, Locked: &locked}); err != nil {
		log.Printf("hearing: lifecycle: archive %s: %v", h.ID, err)
	}

	// Step 6: purge from the store, after every cleanup step was attempted.
	lc.store.Purge(id)
	lc.rec.HearingClosed(h, actor)
	return nil
}

// recomputeName updates the thread display name once both parties and the
// issue are known; until then it is a no-op.
func (lc *Lifecycle) recomputeName(ctx context.Context, h *Hearing) {
	if h.PartyA == "" || h.PartyB == "" || h.Issue == "" {
		return
	}
	nameA := lc.displayName(ctx, h.PartyA)
	nameB := lc.displayName(ctx, h.PartyB)
	name := fmt.Sprintf("%s — %s vs %s", h.Issue, nameA, nameB)
	if err := lc.client.EditThread(ctx, h.ID, platform.ThreadEdit{Name: &name}); err != nil {
		log.Printf("hearing: lifecycle: rename %s: %v", h.ID, err)
	}
}

// displayName resolves a user's display name, falling back to the id.
func (lc *Lifecycle) displayName(ctx context.Context, userID string) string {
	m, err := lc.client.Member(ctx, lc.guildID, userID)
	if err != nil || m.DisplayName == "" {
		return userID
	}
	return m.DisplayName
}

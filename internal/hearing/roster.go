package hearing

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/zulandar/gavel/internal/platform"
)

// Roster reconciles a hearing's private thread membership with the current
// rules: eligible adjudicators in, conflicted adjudicators and parties out.
// Membership ground truth lives on the platform and is never cached here;
// every operation re-reads what it needs and applies deltas. Each operation
// is idempotent, and a single member's add/remove failure is swallowed and
// excluded from the reported count rather than aborting the sweep.
type Roster struct {
	client  platform.Client
	guildID string
	// arbiterRoles are the capabilities that make a member eligible.
	arbiterRoles []string
	out          io.Writer
}

// RosterOpts holds parameters for creating a Roster.
type RosterOpts struct {
	Client       platform.Client
	GuildID      string
	ArbiterRoles []string
	Out          io.Writer // defaults to os.Stdout
}

// NewRoster creates a Roster.
func NewRoster(opts RosterOpts) (*Roster, error) {
	if opts.Client == nil {
		return nil, fmt.Errorf("hearing: roster: client is required")
	}
	if opts.GuildID == "" {
		return nil, fmt.Errorf("hearing: roster: guild id is required")
	}
	if len(opts.ArbiterRoles) == 0 {
		return nil, fmt.Errorf("hearing: roster: arbiter roles are required")
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	return &Roster{
		client:       opts.Client,
		guildID:      opts.GuildID,
		arbiterRoles: opts.ArbiterRoles,
		out:          out,
	}, nil
}

// AddAllEligible adds every guild member holding any adjudicator capability
// to the hearing's thread, excluding the hearing's current parties and bots.
// Returns the number of members actually added.
func (r *Roster) AddAllEligible(ctx context.Context, h *Hearing) (int, error) {
	return r.addByCapabilities(ctx, h, r.arbiterRoles)
}

// AddByCapability adds only members holding one named capability, excluding
// parties. Used for the narrower re-ping flow.
func (r *Roster) AddByCapability(ctx context.Context, h *Hearing, capability string) (int, error) {
	return r.addByCapabilities(ctx, h, []string{capability})
}

func (r *Roster) addByCapabilities(ctx context.Context, h *Hearing, capabilities []string) (int, error) {
	members, err := r.client.GuildMembers(ctx, r.guildID)
	if err != nil {
		return 0, fmt.Errorf("hearing: roster: fetch members: %w", err)
	}

	excluded := make(map[string]bool)
	for _, p := range h.Parties() {
		excluded[p] = true
	}

	added := 0
	for _, m := range members {
		if m.IsBot || excluded[m.UserID] {
			continue
		}
		if !holdsAny(m.Capabilities, capabilities) {
			continue
		}
		if err := r.client.AddThreadMember(ctx, h.ID, m.UserID); err != nil {
			log.Printf("hearing: roster: add %s to %s: %v", m.UserID, h.ID, err)
			continue
		}
		added++
	}
	fmt.Fprintf(r.out, "hearing: roster: %s: added %d member(s)\n", h.ID, added)
	return added, nil
}

// RemoveConflicted removes every current thread member whose affiliations
// conflict with the given party labels, and returns the removed user ids.
// Safe to re-run after affiliations change: members without a conflict are
// never touched, and a second run with unchanged inputs removes nobody.
func (r *Roster) RemoveConflicted(ctx context.Context, h *Hearing, partyLabels []string) ([]string, error) {
	if len(partyLabels) == 0 {
		return nil, nil
	}
	current, err := r.client.ThreadMembers(ctx, h.ID)
	if err != nil {
		return nil, fmt.Errorf("hearing: roster: fetch thread members: %w", err)
	}

	var removed []string
	for _, uid := range current {
		m, err := r.client.Member(ctx, r.guildID, uid)
		if err != nil {
			// Can't judge a member we can't fetch; leave them and move on.
			log.Printf("hearing: roster: fetch member %s: %v", uid, err)
			continue
		}
		if !Conflicted(partyLabels, m.Affiliations) {
			continue
		}
		if err := r.client.RemoveThreadMember(ctx, h.ID, uid); err != nil {
			log.Printf("hearing: roster: remove conflicted %s from %s: %v", uid, h.ID, err)
			continue
		}
		removed = append(removed, uid)
	}
	if len(removed) > 0 {
		fmt.Fprintf(r.out, "hearing: roster: %s: removed %d conflicted member(s)\n", h.ID, len(removed))
	}
	return removed, nil
}

// PurgeParties removes the hearing's party ids from the thread if present.
// Parties must never sit in the adjudication-only space.
func (r *Roster) PurgeParties(ctx context.Context, h *Hearing) (int, error) {
	current, err := r.client.ThreadMembers(ctx, h.ID)
	if err != nil {
		return 0, fmt.Errorf("hearing: roster: fetch thread members: %w", err)
	}
	present := make(map[string]bool, len(current))
	for _, uid := range current {
		present[uid] = true
	}

	removed := 0
	for _, p := range h.Parties() {
		if !present[p] {
			continue
		}
		if err := r.client.RemoveThreadMember(ctx, h.ID, p); err != nil {
			log.Printf("hearing: roster: purge party %s from %s: %v", p, h.ID, err)
			continue
		}
		removed++
	}
	return removed, nil
}

// Populate runs the full intake ordering: add all eligible adjudicators,
// remove those conflicted with the party labels, then confirm parties are
// absent. Conflicted adjudicators are filtered before parties are purged.
func (r *Roster) Populate(ctx context.Context, h *Hearing, partyLabels []string) error {
	if _, err := r.AddAllEligible(ctx, h); err != nil {
		return err
	}
	if _, err := r.RemoveConflicted(ctx, h, partyLabels); err != nil {
		return err
	}
	if _, err := r.PurgeParties(ctx, h); err != nil {
		return err
	}
	return nil
}

// holdsAny reports whether the member's capabilities intersect wanted.
func holdsAny(have, wanted []string) bool {
	for _, w := range wanted {
		for _, c := range have {
			if c == w {
				return true
			}
		}
	}
	return false
}

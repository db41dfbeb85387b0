// Package hearing implements the dispute-hearing lifecycle: intake of
// triggers from public channels, the in-memory store of open hearings and
// their routing indices, roster synchronization against conflict-of-interest
// rules, DM routing, and closing with cleanup.
package hearing

import "time"

// Issue categories a hearing can be filed under.
const (
	IssueNoShow    = "no-show"
	IssueConduct   = "conduct"
	IssueScoring   = "scoring"
	IssueEquipment = "equipment"
	IssueSchedule  = "schedule"
	IssueRoster    = "roster"
)

// IssueCategories lists the valid issue categories in display order.
var IssueCategories = []string{
	IssueNoShow, IssueConduct, IssueScoring, IssueEquipment, IssueSchedule, IssueRoster,
}

// ValidIssue reports whether s is a known issue category.
func ValidIssue(s string) bool {
	for _, c := range IssueCategories {
		if c == s {
			return true
		}
	}
	return false
}

// Decision option keys set incrementally by operators ahead of a verdict.
const (
	OptFavoured      = "favoured"       // party favoured by the outcome
	OptPenaltyTarget = "penalty_target" // party a penalty applies to
	OptWindow        = "window"         // reschedule window
	OptDeviceParty   = "device_party"   // party whose equipment failed
	OptTeamRule      = "team_rule"      // rule reference for conduct outcomes
	OptItem          = "item"           // disputed item name
	OptOldValue      = "old_value"      // scoring correction: previous value
	OptNewValue      = "new_value"      // scoring correction: corrected value
)

// optionKeys is the set of accepted decision option keys.
var optionKeys = map[string]bool{
	OptFavoured:      true,
	OptPenaltyTarget: true,
	OptWindow:        true,
	OptDeviceParty:   true,
	OptTeamRule:      true,
	OptItem:          true,
	OptOldValue:      true,
	OptNewValue:      true,
}

// ValidOption reports whether key is an accepted decision option key.
func ValidOption(key string) bool {
	return optionKeys[key]
}

// State of a hearing. Closed is terminal; a closed hearing is purged from
// the store and its id never reused.
type State string

const (
	StateOpen State = "open"
	// StateClosing marks a hearing whose close sequence has begun. It is no
	// longer routable but remains discoverable until cleanup finishes, so a
	// crash mid-close leaves it visible for a retry.
	StateClosing State = "closing"
)

// Origin points at the triggering artifact: the public message that raised
// the dispute. Bound 1:1 to a hearing for its lifetime; used to deduplicate
// creation and to delete the artifact on close.
type Origin struct {
	GuildID   string
	ChannelID string
	MessageID string
}

// Hearing is one dispute under adjudication. The thread id assigned by the
// platform at creation is its identity. All fields other than ID, RaiserID,
// Origin and OpenedAt are mutable by operator commands while open.
type Hearing struct {
	ID       string // private thread id, immutable
	RaiserID string // party who triggered creation, immutable
	Origin   Origin

	PartyA string // user id, empty until assigned
	PartyB string
	Issue  string // issue category, empty until assigned

	PartyAAffil string // affiliation labels, e.g. "Harbor City [HC]"
	PartyBAffil string

	Options map[string]string // decision options, keyed by Opt* constants

	State    State
	OpenedAt time.Time
}

// clone returns a deep copy safe to hand outside the store.
func (h *Hearing) clone() *Hearing {
	cp := *h
	cp.Options = make(map[string]string, len(h.Options))
	for k, v := range h.Options {
		cp.Options[k] = v
	}
	return &cp
}

// Parties returns the non-empty party ids.
func (h *Hearing) Parties() []string {
	var out []string
	if h.PartyA != "" {
		out = append(out, h.PartyA)
	}
	if h.PartyB != "" {
		out = append(out, h.PartyB)
	}
	return out
}

// AffiliationLabels returns the non-empty party affiliation labels.
func (h *Hearing) AffiliationLabels() []string {
	var out []string
	if h.PartyAAffil != "" {
		out = append(out, h.PartyAAffil)
	}
	if h.PartyBAffil != "" {
		out = append(out, h.PartyBAffil)
	}
	return out
}

// participants returns every user id the routing index should track for
// this hearing: the raiser plus any assigned parties, deduplicated.
func (h *Hearing) participants() []string {
	seen := map[string]bool{h.RaiserID: true}
	out := []string{h.RaiserID}
	for _, p := range h.Parties() {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}

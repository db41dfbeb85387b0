package hearing

import (
	"fmt"
	"strings"
)

// Verdict outcomes an operator can post.
const (
	OutcomeUphold     = "uphold"     // found for the favoured party
	OutcomePenalty    = "penalty"    // penalty applied to a party
	OutcomeReschedule = "reschedule" // match moved into a new window
	OutcomeReplay     = "replay"     // match replayed (e.g. after device failure)
	OutcomeCorrection = "correction" // recorded value corrected
	OutcomeDismiss    = "dismiss"    // dispute dismissed
)

// verdictTemplates maps an outcome to its decision text. Substitution is a
// pure lookup-and-replace; no state.
var verdictTemplates = map[string]string{
	OutcomeUphold: "The panel finds for {{.Favoured}} in this {{.Issue}} dispute between " +
		"{{.PartyA}} and {{.PartyB}}.",
	OutcomePenalty: "A penalty is applied to {{.PenaltyTarget}} under {{.TeamRule}} " +
		"for the {{.Issue}} dispute between {{.PartyA}} and {{.PartyB}}.",
	OutcomeReschedule: "The disputed match between {{.PartyA}} and {{.PartyB}} is to be " +
		"rescheduled within {{.Window}}.",
	OutcomeReplay: "Due to an equipment issue on {{.DeviceParty}}'s side, the match between " +
		"{{.PartyA}} and {{.PartyB}} is to be replayed.",
	OutcomeCorrection: "The recorded {{.Item}} is corrected from {{.OldValue}} to {{.NewValue}} " +
		"for the dispute between {{.PartyA}} and {{.PartyB}}.",
	OutcomeDismiss: "The {{.Issue}} dispute between {{.PartyA}} and {{.PartyB}} is dismissed.",
}

// ValidOutcome reports whether s is a known verdict outcome.
func ValidOutcome(s string) bool {
	_, ok := verdictTemplates[s]
	return ok
}

// Outcomes lists the known outcomes in display order.
func Outcomes() []string {
	return []string{
		OutcomeUphold, OutcomePenalty, OutcomeReschedule,
		OutcomeReplay, OutcomeCorrection, OutcomeDismiss,
	}
}

// RenderVerdict produces the decision text for a hearing and outcome. It is
// a pure substitution over the hearing's fields and decision options;
// callers enforce preconditions before invoking it. Unset options render as
// a visible placeholder rather than failing, so operators can spot a field
// they forgot.
func RenderVerdict(h *Hearing, outcome string) (string, error) {
	tmpl, ok := verdictTemplates[outcome]
	if !ok {
		return "", fmt.Errorf("hearing: unknown verdict outcome %q (valid: %s)",
			outcome, strings.Join(Outcomes(), ", "))
	}

	opt := func(key string) string {
		if v := h.Options[key]; v != "" {
			return v
		}
		return "(unset " + key + ")"
	}
	r := strings.NewReplacer(
		"{{.Issue}}", h.Issue,
		"{{.PartyA}}", h.PartyAAffil,
		"{{.PartyB}}", h.PartyBAffil,
		"{{.Favoured}}", opt(OptFavoured),
		"{{.PenaltyTarget}}", opt(OptPenaltyTarget),
		"{{.Window}}", opt(OptWindow),
		"{{.DeviceParty}}", opt(OptDeviceParty),
		"{{.TeamRule}}", opt(OptTeamRule),
		"{{.Item}}", opt(OptItem),
		"{{.OldValue}}", opt(OptOldValue),
		"{{.NewValue}}", opt(OptNewValue),
	)
	return r.Replace(tmpl), nil
}

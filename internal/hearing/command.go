package hearing

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/zulandar/gavel/internal/platform"
)

// commandPrefix is the prefix that triggers operator command handling
// inside a hearing thread.
const commandPrefix = "!gavel"

// CommandHandler processes "!gavel" operator commands posted inside a
// hearing thread. Every command targets the hearing whose thread it was
// posted in.
type CommandHandler struct {
	store     *Store
	lifecycle *Lifecycle
	roster    *Roster
	// standbyRole is the capability used by the reping default (optional).
	standbyRole string
}

// CommandHandlerOpts holds parameters for creating a CommandHandler.
type CommandHandlerOpts struct {
	Store       *Store
	Lifecycle   *Lifecycle
	Roster      *Roster
	StandbyRole string
}

// NewCommandHandler creates a CommandHandler.
func NewCommandHandler(opts CommandHandlerOpts) (*CommandHandler, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("hearing: command handler: store is required")
	}
	if opts.Lifecycle == nil {
		return nil, fmt.Errorf("hearing: command handler: lifecycle is required")
	}
	if opts.Roster == nil {
		return nil, fmt.Errorf("hearing: command handler: roster is required")
	}
	return &CommandHandler{
		store:       opts.Store,
		lifecycle:   opts.Lifecycle,
		roster:      opts.Roster,
		standbyRole: opts.StandbyRole,
	}, nil
}

// IsCommand returns true if the text starts with the command prefix.
func IsCommand(text string) bool {
	return strings.HasPrefix(text, commandPrefix+" ") || text == commandPrefix
}

// Execute parses and runs one command against the hearing identified by
// ev.ChannelID. Returns the response text for the thread.
func (ch *CommandHandler) Execute(ctx context.Context, ev platform.Event) string {
	args := parseCommand(ev.Text)
	if len(args) == 0 {
		return ch.helpText()
	}
	id := ev.ChannelID
	if _, ok := ch.store.Get(id); !ok {
		return "This channel is not an open hearing."
	}

	switch args[0] {
	case "parties":
		return ch.cmdParties(ctx, id, ev)
	case "issue":
		return ch.cmdIssue(ctx, id, args[1:], ev.UserID)
	case "affiliation":
		return ch.cmdAffiliation(ctx, id, args[1:], ev.UserID)
	case "option":
		return ch.cmdOption(ctx, id, args[1:], ev.UserID)
	case "verdict":
		return ch.cmdVerdict(ctx, id, args[1:], ev.UserID)
	case "close":
		return ch.cmdClose(ctx, id, ev.UserID)
	case "reping":
		return ch.cmdReping(ctx, id, args[1:])
	case "resync":
		return ch.cmdResync(ctx, id)
	case "status":
		return ch.cmdStatus(id)
	case "help":
		return ch.helpText()
	default:
		return fmt.Sprintf("Unknown command: `%s`\n\n%s", args[0], ch.helpText())
	}
}

// parseCommand strips the "!gavel" prefix and splits the remaining text.
func parseCommand(text string) []string {
	text = strings.TrimSpace(text)
	if text == commandPrefix {
		return nil
	}
	text = strings.TrimPrefix(text, commandPrefix+" ")
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	return strings.Fields(text)
}

// cmdParties assigns the two parties from the command's user mentions.
func (ch *CommandHandler) cmdParties(ctx context.Context, id string, ev platform.Event) string {
	if len(ev.MentionUserIDs) != 2 {
		return "Usage: `!gavel parties @partyA @partyB` (mention exactly two users)"
	}
	a, b := ev.MentionUserIDs[0], ev.MentionUserIDs[1]
	if err := ch.lifecycle.SetParties(ctx, id, a, b, ev.UserID); err != nil {
		return fmt.Sprintf("Error: %v", err)
	}
	return fmt.Sprintf("Parties set: <@%s> vs <@%s>. They have been removed from this thread.", a, b)
}

func (ch *CommandHandler) cmdIssue(ctx context.Context, id string, args []string, actor string) string {
	if len(args) != 1 {
		return fmt.Sprintf("Usage: `!gavel issue <category>` (one of: %s)", strings.Join(IssueCategories, ", "))
	}
	if err := ch.lifecycle.SetIssue(ctx, id, args[0], actor); err != nil {
		return fmt.Sprintf("Error: %v", err)
	}
	return fmt.Sprintf("Issue set to %s.", args[0])
}

func (ch *CommandHandler) cmdAffiliation(ctx context.Context, id string, args []string, actor string) string {
	if len(args) < 2 {
		return "Usage: `!gavel affiliation a|b <label>` — e.g. `!gavel affiliation b Riverton [RV]`"
	}
	side := strings.ToLower(args[0])
	label := strings.Join(args[1:], " ")
	if err := ch.lifecycle.SetAffiliation(ctx, id, side, label, actor); err != nil {
		return fmt.Sprintf("Error: %v", err)
	}
	return fmt.Sprintf("Affiliation for party %s set to %q. Conflicts re-checked.", side, label)
}

func (ch *CommandHandler) cmdOption(ctx context.Context, id string, args []string, actor string) string {
	if len(args) < 2 {
		return "Usage: `!gavel option <key> <value>`"
	}
	key := args[0]
	value := strings.Join(args[1:], " ")
	if err := ch.lifecycle.SetOption(ctx, id, key, value, actor); err != nil {
		return fmt.Sprintf("Error: %v", err)
	}
	return fmt.Sprintf("Option %s set.", key)
}

func (ch *CommandHandler) cmdVerdict(ctx context.Context, id string, args []string, actor string) string {
	if len(args) != 1 {
		return fmt.Sprintf("Usage: `!gavel verdict <outcome>` (one of: %s)", strings.Join(Outcomes(), ", "))
	}
	_, err := ch.lifecycle.Verdict(ctx, id, args[0], actor)
	if err != nil {
		var mp *MissingPrereqsError
		if errors.As(err, &mp) {
			return fmt.Sprintf("Cannot post a verdict yet — missing: %s.", strings.Join(mp.Fields, ", "))
		}
		return fmt.Sprintf("Error: %v", err)
	}
	return "Verdict posted."
}

func (ch *CommandHandler) cmdClose(ctx context.Context, id, actor string) string {
	if err := ch.lifecycle.Close(ctx, id, actor); err != nil {
		if errors.Is(err, ErrNotOpen) || errors.Is(err, ErrUnknownHearing) {
			return "This hearing is not open."
		}
		return fmt.Sprintf("Error: %v", err)
	}
	// The thread is archived by now; the confirmation was already posted
	// as the close acknowledgement.
	return ""
}

func (ch *CommandHandler) cmdReping(ctx context.Context, id string, args []string) string {
	capability := ch.standbyRole
	if len(args) == 1 {
		capability = args[0]
	}
	if capability == "" {
		return "Usage: `!gavel reping <role-id>` (no standby role configured)"
	}
	h, _ := ch.store.Get(id)
	added, err := ch.roster.AddByCapability(ctx, h, capability)
	if err != nil {
		return fmt.Sprintf("Error: %v", err)
	}
	return fmt.Sprintf("Added %d member(s) holding that capability.", added)
}

func (ch *CommandHandler) cmdResync(ctx context.Context, id string) string {
	removed, err := ch.lifecycle.Resync(ctx, id)
	if err != nil {
		return fmt.Sprintf("Error: %v", err)
	}
	return fmt.Sprintf("Conflict sweep complete: removed %d member(s).", removed)
}

func (ch *CommandHandler) cmdStatus(id string) string {
	h, ok := ch.store.Get(id)
	if !ok {
		return "This channel is not an open hearing."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Hearing %s\n", h.ID)
	fmt.Fprintf(&b, "- raiser: <@%s>\n", h.RaiserID)
	if h.PartyA != "" {
		fmt.Fprintf(&b, "- parties: <@%s> vs <@%s>\n", h.PartyA, h.PartyB)
	} else {
		b.WriteString("- parties: unset\n")
	}
	issue := h.Issue
	if issue == "" {
		issue = "unset"
	}
	fmt.Fprintf(&b, "- issue: %s\n", issue)
	fmt.Fprintf(&b, "- affiliations: %q vs %q\n", h.PartyAAffil, h.PartyBAffil)
	for k, v := range h.Options {
		fmt.Fprintf(&b, "- option %s: %s\n", k, v)
	}
	fmt.Fprintf(&b, "- opened: %s", h.OpenedAt.Format("2006-01-02 15:04 MST"))
	return b.String()
}

func (ch *CommandHandler) helpText() string {
	return strings.Join([]string{
		"Gavel commands (inside a hearing thread):",
		"`!gavel parties @a @b` — assign the two parties",
		"`!gavel issue <category>` — set the issue category",
		"`!gavel affiliation a|b <label>` — correct a party's affiliation",
		"`!gavel option <key> <value>` — set a decision option",
		"`!gavel verdict <outcome>` — post the decision",
		"`!gavel reping [role-id]` — ping in a narrower adjudicator pool",
		"`!gavel resync` — re-run the conflict sweep",
		"`!gavel status` — show this hearing's state",
		"`!gavel close` — close the hearing",
	}, "\n")
}

package hearing

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/zulandar/gavel/internal/config"
	"github.com/zulandar/gavel/internal/platform"
	"golang.org/x/sync/singleflight"
)

// ErrNoOpposing is returned when a trigger carries no identifiable opposing
// affiliation. The raiser is told; the process is unaffected.
var ErrNoOpposing = errors.New("hearing: no opposing affiliation identified")

// Intake detects qualifying triggers in configured origin channels and
// performs idempotent create-or-reuse of a hearing. Creation is single-
// flight per logical origin key: two near-simultaneous triggers for the
// same key yield exactly one hearing, with the second resolving to the
// first's id. The external create call happens inside the flight, so the
// guarantee holds however long the platform takes.
type Intake struct {
	store     *Store
	client    platform.Client
	roster    *Roster
	origins   []config.OriginConfig
	ackEmoji  string
	botUserID string
	rec       Recorder
	out       io.Writer

	group singleflight.Group
}

// IntakeOpts holds parameters for creating an Intake.
type IntakeOpts struct {
	Store     *Store
	Client    platform.Client
	Roster    *Roster
	Origins   []config.OriginConfig
	AckEmoji  string
	BotUserID string   // enables direct-addressing triggers (optional)
	Recorder  Recorder // optional
	Out       io.Writer
}

// NewIntake creates an Intake.
func NewIntake(opts IntakeOpts) (*Intake, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("hearing: intake: store is required")
	}
	if opts.Client == nil {
		return nil, fmt.Errorf("hearing: intake: client is required")
	}
	if opts.Roster == nil {
		return nil, fmt.Errorf("hearing: intake: roster is required")
	}
	if len(opts.Origins) == 0 {
		return nil, fmt.Errorf("hearing: intake: at least one origin is required")
	}
	rec := opts.Recorder
	if rec == nil {
		rec = NopRecorder{}
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	return &Intake{
		store:     opts.Store,
		client:    opts.Client,
		roster:    opts.Roster,
		origins:   opts.Origins,
		ackEmoji:  opts.AckEmoji,
		botUserID: opts.BotUserID,
		rec:       rec,
		out:       out,
	}, nil
}

// HandleTrigger inspects a guild message and, when it qualifies, resolves
// it to exactly one open hearing. Non-qualifying messages return ("", nil).
func (in *Intake) HandleTrigger(ctx context.Context, ev platform.Event) (string, error) {
	// A message inside a container already mapped to an open hearing can
	// never open a second one: the container mapping is the logical key,
	// whether or not that container is a configured origin. An activation
	// mention posted there resolves to the existing hearing id. The
	// activation signal is judged against the hearing's own origin config.
	if h, ok := in.store.Get(ev.ChannelID); ok && h.State == StateOpen {
		origin := in.matchOrigin(h.Origin.GuildID, h.Origin.ChannelID)
		if origin != nil && in.activates(ev, origin) {
			fmt.Fprintf(in.out, "hearing: intake: trigger inside hearing %s, reusing\n", h.ID)
			return h.ID, nil
		}
		return "", nil
	}

	origin := in.matchOrigin(ev.GuildID, ev.ChannelID)
	if origin == nil {
		return "", nil
	}
	if !in.activates(ev, origin) {
		return "", nil
	}

	// Re-delivery of an already-handled trigger is a no-op.
	if id, ok := in.store.ByOrigin(ev.MessageID); ok {
		fmt.Fprintf(in.out, "hearing: intake: trigger %s already bound to %s\n", ev.MessageID, id)
		return id, nil
	}

	// Mark the trigger before heavy work so a re-delivered copy is visibly
	// acknowledged even while creation is still in flight. Best-effort.
	if in.ackEmoji != "" {
		if err := in.client.AddReaction(ctx, ev.ChannelID, ev.MessageID, in.ackEmoji); err != nil {
			log.Printf("hearing: intake: ack reaction on %s: %v", ev.MessageID, err)
		}
	}

	raiser, err := in.client.Member(ctx, ev.GuildID, ev.UserID)
	if err != nil {
		return "", fmt.Errorf("hearing: intake: fetch raiser %s: %w", ev.UserID, err)
	}
	raiserAffil := FirstAffiliation(raiser.Affiliations)

	opposingAffil, err := in.opposingAffiliation(ctx, ev)
	if err != nil {
		// Validation failure: tell the raiser, commit nothing.
		if derr := in.client.SendDM(ctx, ev.UserID,
			"I couldn't work out who the dispute is against. Mention the opposing player or team in your message and try again."); derr != nil {
			log.Printf("hearing: intake: DM raiser %s: %v", ev.UserID, derr)
		}
		return "", err
	}

	key := ev.GuildID + ":" + ev.ChannelID + ":" + ev.MessageID
	v, err, shared := in.group.Do(key, func() (interface{}, error) {
		return in.createHearing(ctx, ev, raiser, raiserAffil, opposingAffil)
	})
	if err != nil {
		if derr := in.client.SendDM(ctx, ev.UserID,
			"Opening your hearing failed; nothing was created. Please try again in a moment."); derr != nil {
			log.Printf("hearing: intake: DM raiser %s: %v", ev.UserID, derr)
		}
		return "", err
	}
	id := v.(string)
	if shared {
		fmt.Fprintf(in.out, "hearing: intake: concurrent trigger collapsed into %s\n", id)
	}
	return id, nil
}

// createHearing runs inside the single-flight group: create the platform
// thread, register the hearing, populate the roster, and notify the raiser.
// External creation failure commits no partial state.
func (in *Intake) createHearing(ctx context.Context, ev platform.Event, raiser platform.Member, raiserAffil, opposingAffil string) (string, error) {
	// A concurrent flight for a re-posted duplicate may already have bound
	// this origin between the caller's check and now.
	if id, ok := in.store.ByOrigin(ev.MessageID); ok {
		return id, nil
	}

	name := raiser.DisplayName
	if name == "" {
		name = ev.UserName
	}
	threadID, err := in.client.CreateThread(ctx, ev.ChannelID, "Dispute — "+name)
	if err != nil {
		return "", fmt.Errorf("hearing: intake: create thread: %w", err)
	}

	h := &Hearing{
		ID:       threadID,
		RaiserID: ev.UserID,
		Origin: Origin{
			GuildID:   ev.GuildID,
			ChannelID: ev.ChannelID,
			MessageID: ev.MessageID,
		},
		PartyAAffil: raiserAffil,
		PartyBAffil: opposingAffil,
		Options:     make(map[string]string),
		OpenedAt:    time.Now(),
	}
	if err := in.store.Register(h); err != nil {
		// Should not happen under the single-flight contract; park the
		// orphaned thread rather than leave it live.
		archived := true
		if aerr := in.client.EditThread(ctx, threadID, platform.ThreadEdit{Archived: &archived}); aerr != nil {
			log.Printf("hearing: intake: archive orphaned thread %s: %v", threadID, aerr)
		}
		return "", err
	}

	fmt.Fprintf(in.out, "hearing: intake: opened %s [raiser=%s affils=%q/%q]\n",
		threadID, ev.UserID, raiserAffil, opposingAffil)
	in.rec.HearingOpened(h)

	// Populate membership: eligible adjudicators minus conflicts minus
	// parties. Best-effort; a partial roster is corrected on the next sync.
	if err := in.roster.Populate(ctx, h, h.AffiliationLabels()); err != nil {
		log.Printf("hearing: intake: populate roster for %s: %v", threadID, err)
	} else {
		in.rec.RosterChanged(h, "initial population")
	}

	if err := in.client.SendDM(ctx, ev.UserID,
		"Your dispute has been filed and a hearing is open. DM me here and I'll pass your messages to the adjudicators."); err != nil {
		log.Printf("hearing: intake: DM raiser %s: %v", ev.UserID, err)
	}
	return threadID, nil
}

// opposingAffiliation derives the opposing side's label from the trigger's
// user mentions: the first mentioned non-bot user (other than the raiser)
// with a coded affiliation wins.
func (in *Intake) opposingAffiliation(ctx context.Context, ev platform.Event) (string, error) {
	for _, uid := range ev.MentionUserIDs {
		if uid == ev.UserID || uid == in.botUserID {
			continue
		}
		m, err := in.client.Member(ctx, ev.GuildID, uid)
		if err != nil {
			log.Printf("hearing: intake: fetch mentioned member %s: %v", uid, err)
			continue
		}
		if m.IsBot {
			continue
		}
		if affil := FirstAffiliation(m.Affiliations); affil != "" {
			return affil, nil
		}
	}
	return "", ErrNoOpposing
}

// activates reports whether the message carries the origin's activation
// signal: the activation role mention, or direct addressing of the bot.
func (in *Intake) activates(ev platform.Event, origin *config.OriginConfig) bool {
	for _, rid := range ev.MentionRoleIDs {
		if rid == origin.ActivationRoleID {
			return true
		}
	}
	if in.botUserID != "" {
		for _, uid := range ev.MentionUserIDs {
			if uid == in.botUserID {
				return true
			}
		}
	}
	return false
}

// matchOrigin finds the origin config for a guild/channel pair, or nil.
func (in *Intake) matchOrigin(guildID, channelID string) *config.OriginConfig {
	for i := range in.origins {
		o := &in.origins[i]
		if o.GuildID == guildID && o.ChannelID == channelID {
			return o
		}
	}
	return nil
}

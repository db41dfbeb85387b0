package hearing

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zulandar/gavel/internal/platform"
)

// Resolver maps an inbound DM from a user to exactly one open hearing, or
// asks the user to pick one. The message that triggered a disambiguation
// prompt is withheld and forwarded only after a valid choice lands.
type Resolver struct {
	store  *Store
	client platform.Client
	out    io.Writer

	mu      sync.Mutex
	pending map[string]*pendingPrompt // user id -> outstanding prompt
}

// pendingPrompt is a disambiguation in flight: the withheld message plus
// the prompt id the answer must carry.
type pendingPrompt struct {
	promptID string
	userName string
	text     string
	issued   time.Time
}

// ResolverOpts holds parameters for creating a Resolver.
type ResolverOpts struct {
	Store  *Store
	Client platform.Client
	Out    io.Writer // defaults to os.Stdout
}

// NewResolver creates a Resolver.
func NewResolver(opts ResolverOpts) (*Resolver, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("hearing: resolver: store is required")
	}
	if opts.Client == nil {
		return nil, fmt.Errorf("hearing: resolver: client is required")
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	return &Resolver{
		store:   opts.Store,
		client:  opts.Client,
		out:     out,
		pending: make(map[string]*pendingPrompt),
	}, nil
}

// HandleDM routes one direct message from a user.
func (r *Resolver) HandleDM(ctx context.Context, ev platform.Event) {
	r.resolve(ctx, ev.UserID, ev.UserName, ev.Text)
}

// resolve picks the target for one message, prompting when ambiguous.
func (r *Resolver) resolve(ctx context.Context, userID, userName, text string) {
	open := r.store.Open(userID)

	switch {
	case len(open) == 0:
		if err := r.client.SendDM(ctx, userID,
			"You have no active hearing. Raise a dispute in the league channel to open one."); err != nil {
			log.Printf("hearing: resolver: DM %s: %v", userID, err)
		}

	case len(open) == 1:
		// A single open hearing routes there regardless of any selection.
		r.forward(ctx, open[0], userName, text)

	default:
		if sel, ok := r.store.Selected(userID); ok {
			r.forward(ctx, sel, userName, text)
			return
		}
		r.prompt(ctx, userID, userName, text, open)
	}
}

// prompt issues a disambiguation menu and withholds the message until the
// user answers. A new message replaces any previous withheld one.
func (r *Resolver) prompt(ctx context.Context, userID, userName, text string, open []string) {
	if len(open) > platform.MaxSelectChoices {
		open = open[:platform.MaxSelectChoices]
	}
	choices := make([]platform.SelectChoice, 0, len(open))
	for _, id := range open {
		choices = append(choices, platform.SelectChoice{Value: id, Label: r.labelFor(id)})
	}

	promptID := uuid.NewString()
	r.mu.Lock()
	r.pending[userID] = &pendingPrompt{
		promptID: promptID,
		userName: userName,
		text:     text,
		issued:   time.Now(),
	}
	r.mu.Unlock()

	fmt.Fprintf(r.out, "hearing: resolver: user %s has %d open hearings, prompting\n", userID, len(open))
	if err := r.client.PromptSelect(ctx, userID, promptID, "Which hearing is this about?", choices); err != nil {
		log.Printf("hearing: resolver: prompt %s: %v", userID, err)
	}
}

// HandleSelect commits a disambiguation answer. The choice is validated
// against the user's current open hearings: a hearing that closed between
// offer and choice is rejected gracefully and resolution restarts with the
// withheld message.
func (r *Resolver) HandleSelect(ctx context.Context, ev platform.Event) {
	r.mu.Lock()
	p := r.pending[ev.UserID]
	if p == nil || p.promptID != ev.PromptID {
		r.mu.Unlock()
		// Answer to a superseded or unknown menu; nothing is waiting on it.
		fmt.Fprintf(r.out, "hearing: resolver: stale select from %s ignored\n", ev.UserID)
		return
	}
	delete(r.pending, ev.UserID)
	r.mu.Unlock()

	if err := r.store.Select(ev.UserID, ev.Value); err != nil {
		if errors.Is(err, ErrNotEligible) {
			if derr := r.client.SendDM(ctx, ev.UserID,
				"That hearing is no longer open — let's try again."); derr != nil {
				log.Printf("hearing: resolver: DM %s: %v", ev.UserID, derr)
			}
			r.resolve(ctx, ev.UserID, p.userName, p.text)
			return
		}
		log.Printf("hearing: resolver: select for %s: %v", ev.UserID, err)
		return
	}
	r.forward(ctx, ev.Value, p.userName, p.text)
}

// forward relays the user's message into the hearing thread.
func (r *Resolver) forward(ctx context.Context, hearingID, userName, text string) {
	if _, ok := r.store.Get(hearingID); !ok {
		log.Printf("hearing: resolver: forward target %s vanished", hearingID)
		return
	}
	msg := fmt.Sprintf("**%s**: %s", userName, text)
	if _, err := r.client.SendMessage(ctx, hearingID, msg); err != nil {
		log.Printf("hearing: resolver: forward to %s: %v", hearingID, err)
	}
}

// labelFor builds the human-readable menu label for a hearing: issue
// category plus a party summary from the affiliation labels.
func (r *Resolver) labelFor(id string) string {
	h, ok := r.store.Get(id)
	if !ok {
		return id
	}
	issue := h.Issue
	if issue == "" {
		issue = "unclassified"
	}
	a, b := h.PartyAAffil, h.PartyBAffil
	if a == "" {
		a = "?"
	}
	if b == "" {
		b = "?"
	}
	return fmt.Sprintf("%s — %s vs %s", issue, a, b)
}

package hearing

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/zulandar/gavel/internal/platform"
)

// Reminder periodically sweeps the store and nudges hearings that have been
// open longer than the configured age. Nudges are best-effort.
type Reminder struct {
	store  *Store
	client platform.Client
	maxAge time.Duration
	out    io.Writer
	cron   *cron.Cron
}

// ReminderOpts holds parameters for creating a Reminder.
type ReminderOpts struct {
	Store  *Store
	Client platform.Client
	MaxAge time.Duration
	Out    io.Writer // defaults to os.Stdout
}

// NewReminder creates a Reminder.
func NewReminder(opts ReminderOpts) (*Reminder, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("hearing: reminder: store is required")
	}
	if opts.Client == nil {
		return nil, fmt.Errorf("hearing: reminder: client is required")
	}
	if opts.MaxAge <= 0 {
		return nil, fmt.Errorf("hearing: reminder: max age must be positive")
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	return &Reminder{
		store:  opts.Store,
		client: opts.Client,
		maxAge: opts.MaxAge,
		out:    out,
	}, nil
}

// Start schedules the sweep on a standard 5-field cron expression and runs
// it until ctx is cancelled.
func (r *Reminder) Start(ctx context.Context, cronExpr string) error {
	c := cron.New()
	if _, err := c.AddFunc(cronExpr, func() { r.Sweep(ctx) }); err != nil {
		return fmt.Errorf("hearing: reminder: schedule %q: %w", cronExpr, err)
	}
	c.Start()
	r.cron = c

	go func() {
		<-ctx.Done()
		stopped := c.Stop()
		<-stopped.Done()
	}()
	fmt.Fprintf(r.out, "hearing: reminder: scheduled %q (max age %s)\n", cronExpr, r.maxAge)
	return nil
}

// Sweep nudges every open hearing older than the configured age once.
func (r *Reminder) Sweep(ctx context.Context) int {
	cutoff := time.Now().Add(-r.maxAge)
	nudged := 0
	for _, h := range r.store.Snapshot() {
		if h.State != StateOpen || h.OpenedAt.After(cutoff) {
			continue
		}
		age := time.Since(h.OpenedAt).Round(time.Hour)
		msg := fmt.Sprintf("This hearing has been open for %s — a decision or a close is due.", age)
		if _, err := r.client.SendMessage(ctx, h.ID, msg); err != nil {
			log.Printf("hearing: reminder: nudge %s: %v", h.ID, err)
			continue
		}
		nudged++
	}
	if nudged > 0 {
		fmt.Fprintf(r.out, "hearing: reminder: nudged %d hearing(s)\n", nudged)
	}
	return nudged
}

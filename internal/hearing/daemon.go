package hearing

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"sync"

	"github.com/zulandar/gavel/internal/config"
	"github.com/zulandar/gavel/internal/platform"
)

// Daemon is the main Gavel process. It connects to the chat platform,
// builds the intake, resolver, lifecycle and command subsystems around one
// shared Store, and pumps inbound events. Each event is dispatched as an
// independent goroutine: external calls on one hearing must never block
// traffic for another, and ordering is only guaranteed where the store and
// the intake single-flight impose it.
type Daemon struct {
	cfg    *config.Config
	client platform.Client
	rec    Recorder
	out    io.Writer

	store *Store
}

// DaemonOpts holds parameters for creating a Daemon.
type DaemonOpts struct {
	Config   *config.Config
	Client   platform.Client
	Recorder Recorder  // optional
	Out      io.Writer // defaults to os.Stdout
}

// NewDaemon creates a Daemon.
func NewDaemon(opts DaemonOpts) (*Daemon, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("hearing: daemon: config is required")
	}
	if opts.Client == nil {
		return nil, fmt.Errorf("hearing: daemon: client is required")
	}
	rec := opts.Recorder
	if rec == nil {
		rec = NopRecorder{}
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	return &Daemon{
		cfg:    opts.Config,
		client: opts.Client,
		rec:    rec,
		out:    out,
		store:  NewStore(),
	}, nil
}

// Store exposes the daemon's session store for read-only consumers
// (dashboard, reminder sweep).
func (d *Daemon) Store() *Store {
	return d.store
}

// Run connects the client, builds the subsystems, and blocks until the
// context is cancelled, draining in-flight handlers before returning.
func (d *Daemon) Run(ctx context.Context) error {
	fmt.Fprintf(d.out, "Gavel connecting...\n")
	if err := d.client.Connect(ctx); err != nil {
		return fmt.Errorf("hearing: daemon: connect: %w", err)
	}

	var botUserID string
	if bui, ok := d.client.(platform.BotUserIDer); ok {
		botUserID = bui.BotUserID()
	}

	roster, err := NewRoster(RosterOpts{
		Client:       d.client,
		GuildID:      d.cfg.GuildID,
		ArbiterRoles: d.cfg.Roster.ArbiterRoleIDs,
		Out:          d.out,
	})
	if err != nil {
		d.client.Close()
		return err
	}

	intake, err := NewIntake(IntakeOpts{
		Store:     d.store,
		Client:    d.client,
		Roster:    roster,
		Origins:   d.cfg.Origins,
		AckEmoji:  d.cfg.AckEmoji,
		BotUserID: botUserID,
		Recorder:  d.rec,
		Out:       d.out,
	})
	if err != nil {
		d.client.Close()
		return err
	}

	resolver, err := NewResolver(ResolverOpts{
		Store:  d.store,
		Client: d.client,
		Out:    d.out,
	})
	if err != nil {
		d.client.Close()
		return err
	}

	lifecycle, err := NewLifecycle(LifecycleOpts{
		Store:    d.store,
		Client:   d.client,
		Roster:   roster,
		GuildID:  d.cfg.GuildID,
		Recorder: d.rec,
		Out:      d.out,
	})
	if err != nil {
		d.client.Close()
		return err
	}

	cmdHandler, err := NewCommandHandler(CommandHandlerOpts{
		Store:       d.store,
		Lifecycle:   lifecycle,
		Roster:      roster,
		StandbyRole: d.cfg.Roster.StandbyRoleID,
	})
	if err != nil {
		d.client.Close()
		return err
	}

	inbound, err := d.client.Listen(ctx)
	if err != nil {
		d.client.Close()
		return fmt.Errorf("hearing: daemon: listen: %w", err)
	}

	fmt.Fprintf(d.out, "Gavel online\n")

	var wg sync.WaitGroup
	for {
		select {
		case <-ctx.Done():
			fmt.Fprintf(d.out, "Gavel shutting down...\n")
			wg.Wait()
			if err := d.client.Close(); err != nil {
				log.Printf("hearing: daemon: close client: %v", err)
			}
			fmt.Fprintf(d.out, "Gavel stopped\n")
			return nil

		case ev, ok := <-inbound:
			if !ok {
				fmt.Fprintf(d.out, "Gavel inbound channel closed\n")
				wg.Wait()
				if err := d.client.Close(); err != nil {
					log.Printf("hearing: daemon: close client: %v", err)
				}
				return nil
			}
			if botUserID != "" && ev.UserID == botUserID {
				continue
			}
			wg.Add(1)
			go func(ev platform.Event) {
				defer wg.Done()
				d.dispatch(ctx, ev, intake, resolver, cmdHandler)
			}(ev)
		}
	}
}

// dispatch routes one inbound event. Routing paths:
//  1. Select answer → resolver
//  2. DM → resolver
//  3. "!gavel" command inside a hearing thread → command handler
//  4. Guild message → intake (which ignores non-triggers)
func (d *Daemon) dispatch(ctx context.Context, ev platform.Event, intake *Intake, resolver *Resolver, cmdHandler *CommandHandler) {
	switch ev.Kind {
	case platform.EventSelect:
		resolver.HandleSelect(ctx, ev)

	case platform.EventDM:
		resolver.HandleDM(ctx, ev)

	case platform.EventMessage:
		if IsCommand(ev.Text) {
			if _, ok := d.store.Get(ev.ChannelID); ok {
				response := cmdHandler.Execute(ctx, ev)
				if response == "" {
					return
				}
				if _, err := d.client.SendMessage(ctx, ev.ChannelID, response); err != nil {
					log.Printf("hearing: daemon: send command response: %v", err)
				}
				return
			}
		}
		if _, err := intake.HandleTrigger(ctx, ev); err != nil {
			log.Printf("hearing: daemon: intake: %v", err)
		}
	}
}

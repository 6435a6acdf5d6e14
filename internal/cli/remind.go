package cli

import (
	"fmt"
	"log"
	"time"

	"github.com/spf13/cobra"

	"teamsync/api/internal/app"
	"teamsync/api/internal/config"
)

type remindOptions struct {
	user     string
	once     bool
	interval time.Duration
}

// newRemindCmd runs reminders without the HTTP server, for deployments that
// keep one worker next to several API replicas.
func newRemindCmd() *cobra.Command {
	var opts remindOptions
	cmd := &cobra.Command{
		Use:   "remind",
		Short: "Run the meeting reminder loop",
		Long: "Checks upcoming meetings and sends the one day, one hour, 15 minute and live reminders.\n" +
			"Use a redis or store ledger when more than one process sends reminders.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRemind(cmd, opts)
		},
	}
	cmd.Flags().StringVar(&opts.user, "user", "", "Only remind this user id")
	cmd.Flags().BoolVar(&opts.once, "once", false, "Run a single pass and exit")
	cmd.Flags().DurationVar(&opts.interval, "interval", 0, "Tick interval (default REMINDER_INTERVAL)")
	return cmd
}

func runRemind(cmd *cobra.Command, opts remindOptions) error {
	cfg := config.Load()
	ctx, stop := notifyContext()
	defer stop()

	ds, err := openDocstore(ctx, cfg)
	if err != nil {
		return err
	}
	defer ds.Close()

	ledger, closeLedger, err := openLedger(cfg, ds)
	if err != nil {
		return err
	}
	defer closeLedger()

	appOpts := []app.Option{app.WithLedger(ledger)}
	if mail := reminderMailer(cfg); mail != nil {
		appOpts = append(appOpts, app.WithMailer(mail))
	}
	service := app.New(cfg, ds, appOpts...)
	defer service.Close()

	if opts.once {
		var sent int
		if opts.user != "" {
			sent, err = service.RemindOnce(ctx, opts.user)
		} else {
			sent, err = service.ReminderRunner(opts.interval).RunOnce(ctx)
		}
		if err != nil {
			return fmt.Errorf("reminder pass: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "sent %d reminders\n", sent)
		return nil
	}

	var stopLoop func()
	if opts.user != "" {
		log.Printf("reminder: watching meetings for %s", opts.user)
		stopLoop = service.StartReminderService(ctx, opts.user, opts.interval)
	} else {
		log.Printf("reminder: watching meetings for every approved user")
		stopLoop = service.ReminderRunner(opts.interval).Start(ctx)
	}
	<-ctx.Done()
	stopLoop()
	return nil
}

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/spf13/cobra"

	"example.com/timeclock/internal/client"
	"example.com/timeclock/internal/clock"
	"example.com/timeclock/internal/domain"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// envOverrides beat the settings file but lose to explicit flags.
type envOverrides struct {
	Server  string        `env:"TIMECLOCK_SERVER"`
	Timeout time.Duration `env:"TIMECLOCK_TIMEOUT"`
}

type globalFlags struct {
	configPath string
	server     string
	verbose    bool
}

// session bundles the resolved settings with a client and container over them.
type session struct {
	path     string
	settings client.Settings
	client   *client.Client
	app      *clock.App
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:           "timeclock",
		Short:         "Track work sessions against a timeclock server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.configPath, "config", "", "settings file (default $XDG_CONFIG_HOME/timeclock/settings.yaml)")
	root.PersistentFlags().StringVar(&flags.server, "server", "", "API base URL")
	root.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "log background failures to stderr")

	root.AddCommand(newStatusCmd(flags))
	root.AddCommand(newTransitionCmd(flags, "start", "Start a new work session", (*clock.App).Start))
	root.AddCommand(newTransitionCmd(flags, "pause", "Pause the working session", (*clock.App).Pause))
	root.AddCommand(newTransitionCmd(flags, "resume", "Resume the paused session", (*clock.App).Resume))
	root.AddCommand(newTransitionCmd(flags, "end", "Finish the active session", (*clock.App).End))
	root.AddCommand(newHistoryCmd(flags))
	root.AddCommand(newWatchCmd(flags))
	root.AddCommand(newLoginCmd(flags))
	root.AddCommand(newLogoutCmd(flags))
	return root
}

func resolveSettings(flags *globalFlags) (string, client.Settings, error) {
	path := flags.configPath
	if path == "" {
		var err error
		if path, err = client.SettingsPath(); err != nil {
			return "", client.Settings{}, err
		}
	}

	settings, err := client.LoadSettings(path)
	if err != nil {
		return "", client.Settings{}, err
	}

	overrides, err := env.ParseAs[envOverrides]()
	if err != nil {
		return "", client.Settings{}, fmt.Errorf("parse env: %w", err)
	}
	if overrides.Server != "" {
		settings.ServerURL = overrides.Server
	}
	if overrides.Timeout > 0 {
		settings.Timeout = overrides.Timeout
	}
	if flags.server != "" {
		settings.ServerURL = flags.server
	}
	return path, settings, nil
}

func openSession(flags *globalFlags, opts ...clock.Option) (*session, error) {
	path, settings, err := resolveSettings(flags)
	if err != nil {
		return nil, err
	}

	s := &session{path: path, settings: settings}
	s.client = client.New(settings, client.WithSignOutHook(func() error {
		s.settings.Token = ""
		return client.SaveSettings(s.path, s.settings)
	}))

	logger := log.New(io.Discard, "", 0)
	if flags.verbose {
		logger = log.New(os.Stderr, "timeclock: ", log.LstdFlags|log.Lmsgprefix)
	}
	s.app = clock.New(s.client, s.client, append([]clock.Option{clock.WithLogger(logger)}, opts...)...)
	return s, nil
}

func newStatusCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the active session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := openSession(flags)
			if err != nil {
				return err
			}
			err = s.app.Refresh(cmd.Context())
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), renderStatus(s.app.Snapshot()))
			return explain(err)
		},
	}
}

func newTransitionCmd(flags *globalFlags, use, short string, run func(*clock.App, context.Context) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := openSession(flags)
			if err != nil {
				return err
			}
			if err := run(s.app, cmd.Context()); err != nil {
				return explain(err)
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), renderStatus(s.app.Snapshot()))
			return nil
		},
	}
}

func newHistoryCmd(flags *globalFlags) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent sessions, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if limit <= 0 || limit > 100 {
				return fmt.Errorf("--limit must be between 1 and 100")
			}
			s, err := openSession(flags, clock.WithHistoryLimit(limit))
			if err != nil {
				return err
			}
			if err := s.app.RefreshHistory(cmd.Context()); err != nil {
				return explain(err)
			}
			_, _ = fmt.Fprint(cmd.OutOrStdout(), renderHistory(s.app.Snapshot()))
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "number of sessions to show")
	return cmd
}

func newWatchCmd(flags *globalFlags) *cobra.Command {
	var refresh time.Duration
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Show a live clock and session status until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := openSession(flags)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			updates := s.app.Subscribe(4)
			if err := s.app.Refresh(ctx); errors.Is(err, domain.ErrAuthRequired) {
				return explain(err)
			}

			go func() { _ = s.app.Run(ctx) }()
			go pollCurrent(ctx, s.app, refresh)

			out := cmd.OutOrStdout()
			_, _ = fmt.Fprint(out, "\r"+renderWatchLine(s.app.Snapshot()))
			for {
				select {
				case <-ctx.Done():
					_, _ = fmt.Fprintln(out)
					return nil
				case snap := <-updates:
					_, _ = fmt.Fprint(out, "\r\033[K"+renderWatchLine(snap))
				}
			}
		},
	}
	cmd.Flags().DurationVar(&refresh, "refresh", 30*time.Second, "how often to re-read the session from the server")
	return cmd
}

// pollCurrent re-reads the active session so changes made elsewhere show up.
func pollCurrent(ctx context.Context, app *clock.App, every time.Duration) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = app.Refresh(ctx)
		}
	}
}

func newLoginCmd(flags *globalFlags) *cobra.Command {
	var token string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Store a bearer token for later commands",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if token == "" {
				return fmt.Errorf("--token is required")
			}
			path, settings, err := resolveSettings(flags)
			if err != nil {
				return err
			}
			settings.Token = token
			if err := client.SaveSettings(path, settings); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "signed in to %s\n", settings.ServerURL)
			return nil
		},
	}
	cmd.Flags().StringVar(&token, "token", "", "bearer token issued by the server")
	return cmd
}

func newLogoutCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored token",
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := openSession(flags)
			if err != nil {
				return err
			}
			if err := s.app.SignOut(); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), s.app.Snapshot().Message)
			return nil
		},
	}
}

// explain turns auth failures into a hint about login.
func explain(err error) error {
	if err == nil {
		return nil
	}
	if client.IsAuthError(err) {
		return fmt.Errorf("%w (run `timeclock login --token <token>`)", err)
	}
	return err
}

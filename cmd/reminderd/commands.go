package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/warp/reminder-engine/api"
	"github.com/warp/reminder-engine/config"
	"github.com/warp/reminder-engine/pipeline"
	"github.com/warp/reminder-engine/source/httpapi"
	"github.com/warp/reminder-engine/source/memory"
	"github.com/warp/reminder-engine/store/postgres"
	"github.com/warp/reminder-engine/store/sqlite"
)

// app is the state shared by all commands.
type app struct {
	cfgFile string
	v       *viper.Viper
	cfg     config.Config
	log     zerolog.Logger
}

func newRootCommand() *cobra.Command {
	a := &app{v: viper.New()}

	root := &cobra.Command{
		Use:           "reminderd",
		Short:         "Reconcile reminder triggers against dispatch logs",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
	}

	root.PersistentFlags().StringVarP(&a.cfgFile, "config", "c", "", "Config file (YAML)")
	root.PersistentFlags().String("source", "", "Source kind: sqlite, postgres, http, memory")
	root.PersistentFlags().String("log-level", "", "Log level")
	_ = a.v.BindPFlag("source.kind", root.PersistentFlags().Lookup("source"))
	_ = a.v.BindPFlag("log.level", root.PersistentFlags().Lookup("log-level"))

	root.AddCommand(newServeCommand(a))
	root.AddCommand(newReconcileCommand(a))
	root.AddCommand(newScenariosCommand(a))
	return root
}

func (a *app) init() error {
	if a.cfgFile != "" {
		a.v.SetConfigFile(a.cfgFile)
	}
	cfg, err := config.Load(a.v)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg
	a.log = newLogger(cfg.Log)
	log.Logger = a.log
	return nil
}

func newLogger(c config.LogConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(c.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	var out io.Writer = os.Stderr
	if c.Format != "json" {
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}

// openSource builds the configured source. The seeder is nil for sources
// reminderd only reads from.
func (a *app) openSource(ctx context.Context) (pipeline.Source, api.Seeder, func(), error) {
	src := a.cfg.Source
	switch src.Kind {
	case config.SourceSQLite:
		if src.SQLitePath != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(src.SQLitePath), 0o755); err != nil {
				return nil, nil, nil, fmt.Errorf("create data dir: %w", err)
			}
		}
		st, err := sqlite.New(src.SQLitePath)
		if err != nil {
			return nil, nil, nil, err
		}
		return st, st, func() { st.Close() }, nil

	case config.SourcePostgres:
		st, err := postgres.Connect(ctx, src.PostgresDSN)
		if err != nil {
			return nil, nil, nil, err
		}
		if err := st.Ready(ctx); err != nil {
			st.Close()
			return nil, nil, nil, fmt.Errorf("postgres not ready: %w", err)
		}
		if err := st.Migrate(ctx); err != nil {
			st.Close()
			return nil, nil, nil, err
		}
		return st, nil, st.Close, nil

	case config.SourceHTTP:
		c, err := httpapi.New(httpapi.Options{
			BaseURL: src.HTTPBaseURL,
			Token:   src.HTTPToken,
			Timeout: src.HTTPTimeout,
			RPS:     src.HTTPRPS,
			Logger:  a.log,
		})
		if err != nil {
			return nil, nil, nil, err
		}
		return c, nil, func() {}, nil

	case config.SourceMemory:
		m := memory.New()
		return m, m, func() {}, nil
	}
	return nil, nil, nil, fmt.Errorf("%w: unknown source kind %q", config.ErrInvalid, src.Kind)
}

// =============================================================================
// SERVE
// =============================================================================

func newServeCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and dashboard refresher",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx)
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	src, seeder, closeSource, err := a.openSource(ctx)
	if err != nil {
		return err
	}
	defer closeSource()

	engine := a.cfg.Engine()
	handler := api.NewHandler(api.Options{
		Source:       src,
		Seeder:       seeder,
		Engine:       &engine,
		KeepLastGood: a.cfg.Pipeline.KeepLastGood,
		CacheSize:    a.cfg.Pipeline.CacheSize,
		Logger:       a.log,
	})

	refresher := api.NewRefresher(handler, a.cfg.Refresh.Interval)
	refresher.AgentID = a.cfg.Refresh.AgentID
	if status, err := pipeline.ParseBookingStatus(a.cfg.Refresh.Status); err == nil {
		refresher.Status = status
	}
	refresher.Start()

	server := &http.Server{
		Addr:         ":" + a.cfg.Server.Port,
		Handler:      api.NewRouter(handler),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Info().
			Str("addr", server.Addr).
			Str("source", a.cfg.Source.Kind).
			Dur("grace", a.cfg.Reminder.Grace).
			Dur("tolerance", a.cfg.Reminder.Tolerance).
			Msg("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		refresher.Stop()
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	a.log.Info().Msg("shutting down server")
	refresher.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	a.log.Info().Msg("server stopped")
	return nil
}

// =============================================================================
// RECONCILE
// =============================================================================

func newReconcileCommand(a *app) *cobra.Command {
	var (
		agentID string
		status  string
		at      string
		asJSON  bool
	)
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Fetch one agent's bookings and print their reminder status",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := pipeline.ParseBookingStatus(status)
			if err != nil {
				return err
			}
			now := time.Now().UTC()
			if at != "" {
				if now, err = time.Parse(time.RFC3339, at); err != nil {
					return fmt.Errorf("invalid --now: %w", err)
				}
			}

			src, _, closeSource, err := a.openSource(cmd.Context())
			if err != nil {
				return err
			}
			defer closeSource()

			orch := pipeline.NewOrchestrator(src, pipeline.Options{Logger: a.log})
			snap, err := orch.Load(cmd.Context(), agentID, st)
			if err != nil {
				return err
			}
			statuses, err := snap.Reconcile(now, a.cfg.Engine())
			if err != nil {
				return err
			}
			resp := api.NewRemindersResponse(snap, statuses, now)

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(resp)
			}
			printReminders(cmd.OutOrStdout(), resp)
			return nil
		},
	}
	cmd.Flags().StringVarP(&agentID, "agent", "a", "", "Agent id")
	cmd.Flags().StringVarP(&status, "status", "s", "", "Booking filter: upcoming, past, cancelled, all")
	cmd.Flags().StringVar(&at, "now", "", "Reconcile at this RFC3339 instant")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	_ = cmd.MarkFlagRequired("agent")
	return cmd
}

func printReminders(out io.Writer, resp api.RemindersResponse) {
	fmt.Fprintf(out, "agent %s (%s) at %s: %d bookings, %d with contact\n",
		resp.AgentID, resp.Status, resp.Now.Format(time.RFC3339), resp.Summary.Total, resp.Summary.WithContact)
	if resp.LogsUnavailable {
		fmt.Fprintln(out, "dispatch logs unavailable: no delivery could be credited")
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "UID\tSTART\tSTATUS\tSENT\tTRIGGER\tSCHEDULED")
	for _, b := range resp.Bookings {
		start := "-"
		if b.Start != nil {
			start = b.Start.Format(time.RFC3339)
		}
		trigger, scheduled := "-", "-"
		if b.Winner != nil {
			trigger = fmt.Sprintf("%s (%s)", b.Winner.TriggerID, b.Winner.OffsetLabel)
			scheduled = b.Winner.ScheduledAt.Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d/%d\t%s\t%s\n",
			b.UID, start, b.Status, b.TotalSent, b.TotalScheduled, trigger, scheduled)
	}
	tw.Flush()
}

// =============================================================================
// SCENARIOS
// =============================================================================

func newScenariosCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scenarios",
		Short: "List or load demo scenarios",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List demo scenarios",
		RunE: func(cmd *cobra.Command, args []string) error {
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tDESCRIPTION")
			for _, s := range api.Scenarios() {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", s.ID, s.Name, s.Description)
			}
			return tw.Flush()
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "load ID",
		Short: "Replace the mirror with a demo scenario",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.cfg.Source.Kind == config.SourceMemory {
				return errors.New("a memory source is lost on exit; load scenarios through the API instead")
			}
			_, seeder, closeSource, err := a.openSource(cmd.Context())
			if err != nil {
				return err
			}
			defer closeSource()
			if seeder == nil {
				return fmt.Errorf("source %q cannot be seeded", a.cfg.Source.Kind)
			}
			if err := api.SeedScenario(cmd.Context(), seeder, args[0], time.Now().UTC()); err != nil {
				return err
			}
			a.log.Info().Str("scenario", args[0]).Str("source", a.cfg.Source.Kind).Msg("scenario loaded")
			return nil
		},
	})
	return cmd
}

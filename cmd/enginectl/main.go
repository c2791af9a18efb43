package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kursadbilgin/sequence-engine/internal/config"
	"github.com/kursadbilgin/sequence-engine/internal/engine"
	"github.com/kursadbilgin/sequence-engine/internal/infra/postgresql"
	"github.com/kursadbilgin/sequence-engine/internal/infra/postgresql/migrations"
	"github.com/kursadbilgin/sequence-engine/internal/observability"
	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "enginectl",
		Short:         "Operate sequence-engine campaigns from the command line",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(dueCmd())
	rootCmd.AddCommand(quotaCmd())
	rootCmd.AddCommand(healthCmd())
	rootCmd.AddCommand(migrateCmd())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// withEngine loads config, builds the engine and hands it to fn.
func withEngine(cmd *cobra.Command, fn func(ctx context.Context, eng *engine.Engine) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	eng, err := engine.New(cmd.Context(), cfg, logger, nil, engine.Options{})
	if err != nil {
		return err
	}
	defer eng.Close() //nolint:errcheck

	return fn(cmd.Context(), eng)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run [campaign-id]",
		Short: "Run one scheduling pass for a campaign, or for every active campaign",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, func(ctx context.Context, eng *engine.Engine) error {
				if len(args) == 0 {
					if err := eng.Runner.RunAll(ctx); err != nil {
						return err
					}
					return printJSON(cmd, map[string]string{"status": "completed"})
				}

				summary, err := eng.Runner.RunPass(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd, summary)
			})
		},
	}
}

type dueEntry struct {
	ContactID  string    `json:"contactId"`
	Email      string    `json:"email"`
	StepNumber int       `json:"stepNumber"`
	MaxStep    int       `json:"maxStep"`
	DueAt      time.Time `json:"dueAt"`
}

type skippedEntry struct {
	ContactID string `json:"contactId"`
	Reason    string `json:"reason"`
}

func dueCmd() *cobra.Command {
	var at string

	cmd := &cobra.Command{
		Use:   "due <campaign-id>",
		Short: "List contacts whose next step is due",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			now := time.Now().UTC()
			if at != "" {
				parsed, err := time.Parse(time.RFC3339, at)
				if err != nil {
					return fmt.Errorf("--at must be RFC3339: %w", err)
				}
				now = parsed
			}

			return withEngine(cmd, func(ctx context.Context, eng *engine.Engine) error {
				set, err := eng.Scheduler.DueContacts(ctx, args[0], now)
				if err != nil {
					return err
				}

				due := make([]dueEntry, 0, len(set.Due))
				for _, d := range set.Due {
					due = append(due, dueEntry{
						ContactID:  d.Contact.ID,
						Email:      observability.RedactEmail(d.Contact.Email),
						StepNumber: d.Step.StepNumber,
						MaxStep:    d.MaxStep,
						DueAt:      d.DueAt,
					})
				}
				skipped := make([]skippedEntry, 0, len(set.Skipped))
				for _, s := range set.Skipped {
					skipped = append(skipped, skippedEntry{ContactID: s.ContactID, Reason: s.Err.Error()})
				}

				return printJSON(cmd, map[string]any{
					"campaignId": args[0],
					"at":         now,
					"due":        due,
					"skipped":    skipped,
				})
			})
		},
	}

	cmd.Flags().StringVar(&at, "at", "", "evaluate due steps at this RFC3339 instant instead of now")
	return cmd
}

func quotaCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "quota",
		Short: "Manage warm-up quota counters",
	}

	var all bool
	reset := &cobra.Command{
		Use:   "reset [campaign-id]",
		Short: "Zero the daily sent counters of a campaign's senders",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if all == (len(args) == 1) {
				return fmt.Errorf("pass either a campaign id or --all")
			}

			return withEngine(cmd, func(ctx context.Context, eng *engine.Engine) error {
				var (
					n   int64
					err error
				)
				if all {
					n, err = eng.Quota.ResetAllCampaigns(ctx)
				} else {
					n, err = eng.Quota.ResetAll(ctx, args[0])
				}
				if err != nil {
					return err
				}
				return printJSON(cmd, map[string]int64{"sendersReset": n})
			})
		},
	}
	reset.Flags().BoolVar(&all, "all", false, "reset every campaign")

	cmd.AddCommand(reset)
	return cmd
}

func healthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Inspect and recompute sender health scores",
	}

	var all bool
	recompute := &cobra.Command{
		Use:   "recompute [campaign-id]",
		Short: "Recompute and store sender health scores",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if all == (len(args) == 1) {
				return fmt.Errorf("pass either a campaign id or --all")
			}

			return withEngine(cmd, func(ctx context.Context, eng *engine.Engine) error {
				if all {
					if err := eng.Health.RecomputeAll(ctx); err != nil {
						return err
					}
					return printJSON(cmd, map[string]string{"status": "completed"})
				}

				reports, err := eng.Health.RecomputeCampaign(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd, reports)
			})
		},
	}
	recompute.Flags().BoolVar(&all, "all", false, "recompute every active campaign")

	show := &cobra.Command{
		Use:   "show <campaign-id>",
		Short: "Print current health scores without storing them",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, func(ctx context.Context, eng *engine.Engine) error {
				reports, err := eng.Health.Evaluate(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd, reports)
			})
		},
	}

	cmd.AddCommand(recompute, show)
	return cmd
}

func migrateCmd() *cobra.Command {
	var rollback bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			db, err := postgresql.NewPostgres(cmd.Context(), cfg.DatabaseDSN, postgresql.PoolOptions{
				MaxOpenConns: cfg.DBMaxOpenConns,
				MaxIdleConns: cfg.DBMaxIdleConns,
			})
			if err != nil {
				return fmt.Errorf("postgres initialization failed: %w", err)
			}
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			defer sqlDB.Close()

			if rollback {
				if err := migrations.RollbackLast(db); err != nil {
					return fmt.Errorf("rollback failed: %w", err)
				}
				return printJSON(cmd, map[string]string{"status": "rolled back"})
			}
			if err := migrations.Migrate(db); err != nil {
				return fmt.Errorf("database migrations failed: %w", err)
			}
			return printJSON(cmd, map[string]string{"status": "migrated"})
		},
	}

	cmd.Flags().BoolVar(&rollback, "rollback", false, "undo the most recently applied migration")
	return cmd
}

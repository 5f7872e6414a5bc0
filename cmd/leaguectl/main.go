// Command leaguectl is the operator CLI of the focus league: manual batch
// runs, week arithmetic, masked id lookups, migrations and fixture loading.
// It reads the same environment as the server and the worker.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/alem-hub/focus-league/config"
	"github.com/alem-hub/focus-league/internal/application/command"
	"github.com/alem-hub/focus-league/internal/application/query"
	"github.com/alem-hub/focus-league/internal/bootstrap"
	"github.com/alem-hub/focus-league/internal/domain/shared"
	"github.com/alem-hub/focus-league/internal/infrastructure/anonymizer"
	"github.com/alem-hub/focus-league/pkg/logger"
	"github.com/alem-hub/focus-league/pkg/timeutil"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type globalFlags struct {
	verbose bool
	noRedis bool
}

func newRootCmd() *cobra.Command {
	var g globalFlags

	root := &cobra.Command{
		Use:           "leaguectl",
		Short:         "Focus league operator tool",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolVarP(&g.verbose, "verbose", "v", false, "log at debug level to stderr")
	root.PersistentFlags().BoolVar(&g.noRedis, "no-redis", false, "do not connect to Redis (no batch lock, no cache)")

	root.AddCommand(newBatchCmd(&g))
	root.AddCommand(newWeekCmd())
	root.AddCommand(newMaskCmd())
	root.AddCommand(newBoardCmd(&g))
	root.AddCommand(newMigrateCmd(&g))
	root.AddCommand(newSeedCmd(&g))
	return root
}

func loadApp(ctx context.Context, g *globalFlags, mutate func(*config.Config)) (*bootstrap.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if mutate != nil {
		mutate(cfg)
	}

	level := logger.LevelWarn
	if g.verbose {
		level = logger.LevelDebug
	}
	log := logger.New(logger.Options{
		Output: os.Stderr,
		Level:  level,
		Format: logger.FormatText,
	}).With(logger.String("process", "leaguectl"))

	return bootstrap.New(ctx, cfg, log, bootstrap.Options{SkipRedis: g.noRedis})
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// ══════════════════════════════════════════════════════════════════════════════
// BATCH
// ══════════════════════════════════════════════════════════════════════════════

func newBatchCmd(g *globalFlags) *cobra.Command {
	batch := &cobra.Command{Use: "batch", Short: "Weekly batch commands"}

	var week string
	var asJSON bool
	run := &cobra.Command{
		Use:   "run",
		Short: "Close a league week (default: the last fully elapsed one)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var weekStart timeutil.Date
			if week != "" {
				d, err := timeutil.ParseDate(week)
				if err != nil {
					return fmt.Errorf("--week: %w", err)
				}
				weekStart = d
			}

			app, err := loadApp(cmd.Context(), g, nil)
			if err != nil {
				return err
			}
			defer app.Close()

			res, err := app.BatchJob.Handle(cmd.Context(), command.RunWeeklyBatchCommand{
				WeekStart: weekStart,
				Trigger:   "cli",
			})
			if res != nil {
				out := cmd.OutOrStdout()
				if asJSON {
					if perr := printJSON(out, res); perr != nil {
						return perr
					}
				} else {
					printBatchResult(out, res)
				}
			}
			return err
		},
	}
	run.Flags().StringVar(&week, "week", "", "Monday of the week to close, YYYY-MM-DD")
	run.Flags().BoolVar(&asJSON, "json", false, "print the result as JSON")

	batch.AddCommand(run)
	return batch
}

func printBatchResult(w io.Writer, res *command.RunWeeklyBatchResult) {
	tw := tabwriter.NewWriter(w, 0, 2, 2, ' ', 0)
	fmt.Fprintf(tw, "run\t%s\n", res.RunID)
	fmt.Fprintf(tw, "week\t%s -> %s\n", res.WeekStart, res.NextWeekStart)
	fmt.Fprintf(tw, "enrolled\t%d (%d late)\n", res.Enrolled, res.LateSeated)
	fmt.Fprintf(tw, "cohorts\t%d applied, %d failed\n", res.Applied, res.Failed)
	fmt.Fprintf(tw, "roster\t%d reactivated, %d deactivated\n", res.Reactivated, res.Deactivated)
	fmt.Fprintf(tw, "members\t%d closed, %d already closed, %d roster kept\n", res.MembersClosed, res.MembersReused, res.RosterKept)
	fmt.Fprintf(tw, "moves\t%d up, %d down\n", res.Promoted, res.Demoted)
	fmt.Fprintf(tw, "badges\t%d\n", res.BadgesGranted)
	fmt.Fprintf(tw, "next week seated\t%d (%d moved)\n", res.NextSeated, res.Reseated)
	fmt.Fprintf(tw, "took\t%s\n", res.CompletedAt.Sub(res.StartedAt).Round(time.Millisecond))
	for _, f := range res.Failures {
		fmt.Fprintf(tw, "failed\t%s (%d members): %s\n", f.GroupID, f.Members, f.Error)
	}
	_ = tw.Flush()
}

// ══════════════════════════════════════════════════════════════════════════════
// WEEK / MASK
// ══════════════════════════════════════════════════════════════════════════════

func newWeekCmd() *cobra.Command {
	var at string
	cmd := &cobra.Command{
		Use:   "week",
		Short: "Show the league week containing an instant",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ts := time.Now()
			if at != "" {
				if ts, err = time.Parse(time.RFC3339, at); err != nil {
					return fmt.Errorf("--at: %w", err)
				}
			}

			r := timeutil.NewWeekResolver(cfg.App.Location)
			current := r.CurrentWeekStart(ts)
			from, to := r.WeekRange(current)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "week      %s\n", current)
			fmt.Fprintf(out, "range     %s .. %s\n", from.Format(time.RFC3339), to.Format(time.RFC3339))
			fmt.Fprintf(out, "previous  %s\n", r.PreviousWeekStart(ts))
			fmt.Fprintf(out, "next      %s\n", r.NextWeekStart(ts))
			return nil
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "instant in RFC 3339 (default: now)")
	return cmd
}

func newMaskCmd() *cobra.Command {
	var user, week string
	cmd := &cobra.Command{
		Use:   "mask",
		Short: "Print the masked id of a user for a week",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			id, err := shared.NewUserID(user)
			if err != nil {
				return fmt.Errorf("--user: %w", err)
			}
			r := timeutil.NewWeekResolver(cfg.App.Location)
			weekStart := r.CurrentWeekStart(time.Now())
			if week != "" {
				if weekStart, err = timeutil.ParseDate(week); err != nil {
					return fmt.Errorf("--week: %w", err)
				}
			}

			anon, err := anonymizer.New([]byte(cfg.Anonymizer.Secret), cfg.Anonymizer.Prefix)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), anon.MaskedID(id, weekStart))
			return nil
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "user id")
	cmd.Flags().StringVar(&week, "week", "", "week start, YYYY-MM-DD (default: current week)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

// ══════════════════════════════════════════════════════════════════════════════
// BOARD
// ══════════════════════════════════════════════════════════════════════════════

func newBoardCmd(g *globalFlags) *cobra.Command {
	var user string
	cmd := &cobra.Command{
		Use:   "board",
		Short: "Show the live leaderboard as a member sees it",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := loadApp(cmd.Context(), g, nil)
			if err != nil {
				return err
			}
			defer app.Close()

			res, err := app.Leaderboard.Handle(cmd.Context(), query.GetLeaderboardQuery{ViewerID: shared.UserID(user)})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s  tier %d (%s)  week %s  you are %s\n\n", res.GroupID, res.Tier, res.TierName, res.WeekStart, res.MyMaskedID)
			tw := tabwriter.NewWriter(out, 0, 2, 2, ' ', 0)
			fmt.Fprintln(tw, "RANK\tMEMBER\tMINUTES\tZONE")
			for _, row := range res.Rows {
				name := row.DisplayNameOrMaskedID
				if row.IsMe {
					name += " *"
				}
				fmt.Fprintf(tw, "%d\t%s\t%d\t%s\n", row.RankInGroup, name, row.WeeklyHonestMinutes, row.Zone)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "viewer user id")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATE / SEED
// ══════════════════════════════════════════════════════════════════════════════

func newMigrateCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := loadApp(cmd.Context(), g, func(c *config.Config) {
				c.Database.AutoMigrate = true
			})
			if err != nil {
				return err
			}
			defer app.Close()
			fmt.Fprintf(cmd.OutOrStdout(), "%s schema is up to date\n", app.Config.Database.Driver)
			return nil
		},
	}
}

func newSeedCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "seed <file.yaml>",
		Short: "Load members, goals and focus sessions from a YAML fixture",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fixture, err := loadFixture(args[0])
			if err != nil {
				return err
			}

			app, err := loadApp(cmd.Context(), g, nil)
			if err != nil {
				return err
			}
			defer app.Close()

			stats, err := fixture.Apply(cmd.Context(), app.Leagues, app.SessionWriter)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "seeded %d members (%d new), %d goals, %d sessions\n",
				stats.Members, stats.Enrolled, stats.Goals, stats.Sessions)
			return nil
		},
	}
}

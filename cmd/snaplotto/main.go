package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/MrMafora/Snap-Lotto-sub000/internal/capture"
	"github.com/MrMafora/Snap-Lotto-sub000/internal/config"
	"github.com/MrMafora/Snap-Lotto-sub000/internal/db"
	"github.com/MrMafora/Snap-Lotto-sub000/internal/domain"
	"github.com/MrMafora/Snap-Lotto-sub000/internal/extract"
	"github.com/MrMafora/Snap-Lotto-sub000/internal/migrate"
	"github.com/MrMafora/Snap-Lotto-sub000/internal/notify"
	"github.com/MrMafora/Snap-Lotto-sub000/internal/pipeline"
	"github.com/MrMafora/Snap-Lotto-sub000/internal/scheduler"
	"github.com/MrMafora/Snap-Lotto-sub000/internal/server"
	"github.com/MrMafora/Snap-Lotto-sub000/internal/store"
)

var rootCmd = &cobra.Command{
	Use:   "snaplotto",
	Short: "Snap Lotto result ingestion",
	Long: `snaplotto captures published lottery result screenshots, extracts the
structured draw data with a vision model, validates it, reconciles draw
numbers across games drawn together, and stores everything idempotently
in a local SQLite database.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		_ = godotenv.Load(filepath.Join(workspace, ".env"))
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("SNAPLOTTO")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().Bool("verbose", false, "debug logging")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

func registerCommands() {
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(resultsCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(configCmd())
}

func newLogger() *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if viper.GetBool("verbose") {
		log.SetLevel(logrus.DebugLevel)
	}
	return log
}

// buildPipeline wires capture, extraction, gating, reconciliation and
// storage from the workspace config. Missing extraction credentials are
// fatal here, before any capture happens.
func buildPipeline(cfg *config.Config, st store.Store, log *logrus.Logger) (*pipeline.Pipeline, error) {
	workspace := viper.GetString("workspace")
	capturer := &capture.Capturer{
		Source:      capture.NewHTTPSource(cfg.Capture.BaseURL, time.Duration(cfg.Capture.TimeoutSec)*time.Second),
		Cache:       capture.Cache{Dir: filepath.Join(workspace, ".snaplotto", cfg.Capture.ArtifactDir)},
		Attempts:    cfg.Capture.Attempts,
		Timeout:     time.Duration(cfg.Capture.TimeoutSec) * time.Second,
		TimeoutStep: time.Duration(cfg.Capture.TimeoutStep) * time.Second,
		RetrySleep:  time.Duration(cfg.Capture.RetrySleepSec) * time.Second,
		MinBytes:    cfg.Capture.MinBytes,
		Log:         log,
	}
	extractor, err := extract.NewGemini(os.Getenv(cfg.Extraction.APIKeyEnv), cfg.Extraction.Model, cfg.Games)
	if err != nil {
		return nil, fmt.Errorf("%w (set %s)", err, cfg.Extraction.APIKeyEnv)
	}
	return pipeline.New(cfg, st, capturer, extractor, log), nil
}

func runCmd() *cobra.Command {
	var job string
	var games []string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one ingestion pass now",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, cfg *config.Config, st store.Store) error {
				log := newLogger()
				p, err := buildPipeline(cfg, st, log)
				if err != nil {
					return err
				}
				if job != "" {
					j, ok := cfg.Job(job)
					if !ok {
						return fmt.Errorf("unknown job %q", job)
					}
					if len(games) == 0 {
						games = j.Games
					}
				}
				report, err := p.Run(ctx, jobOrManual(job), games)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(report)
				}
				printRunReport(report)
				if report.Status == "failed" {
					return fmt.Errorf("run failed")
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&job, "job", "", "configured job name")
	cmd.Flags().StringSliceVar(&games, "games", nil, "restrict run to these games")
	return cmd
}

func jobOrManual(job string) string {
	if job == "" {
		return "manual"
	}
	return job
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start scheduler and HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, cfg *config.Config, st store.Store) error {
				log := newLogger()
				p, err := buildPipeline(cfg, st, log)
				if err != nil {
					return err
				}

				sched := scheduler.New(cfg, p, st, log)
				if len(cfg.Webhooks.URLs) > 0 {
					sched.Notify = notify.New(cfg.Webhooks.URLs, os.Getenv(cfg.Webhooks.SecretEnv), log)
				}

				if addr == "" {
					addr = cfg.Server.Addr
				}
				if basePath == "" {
					basePath = cfg.Server.BasePath
				}
				handler, err := server.New(server.Config{
					Store:     st,
					Scheduler: sched,
					BasePath:  basePath,
					Auth:      server.AuthConfig{JWTSecret: os.Getenv("SNAPLOTTO_JWT_SECRET")},
				})
				if err != nil {
					return err
				}

				ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
				defer stop()

				sched.Start(ctx)
				defer sched.Stop()

				srv := &http.Server{Addr: addr, Handler: handler}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				log.WithField("addr", addr).Info("serving ingestion API")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (default from config)")
	return cmd
}

func resultsCmd() *cobra.Command {
	res := &cobra.Command{Use: "results", Short: "Inspect stored draw results"}
	res.AddCommand(resultsListCmd())
	res.AddCommand(resultsShowCmd())
	return res
}

func resultsListCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list <game>",
		Short: "List draws for a game, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, cfg *config.Config, st store.Store) error {
				items, err := st.ListDraws(ctx, args[0], limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Draw", "Date", "Numbers", "Bonus", "Divisions", "Confidence"})
				for _, r := range items {
					tw.AppendRow(table.Row{
						r.DrawNumber, r.DrawDate,
						joinInts(r.MainNumbers), joinInts(r.BonusNumbers),
						len(r.Divisions), fmt.Sprintf("%.1f", r.Provenance.Confidence),
					})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "max rows")
	return cmd
}

func resultsShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <game> [draw-number]",
		Short: "Show one draw (latest when no number given)",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, cfg *config.Config, st store.Store) error {
				var (
					r   domain.DrawResult
					err error
				)
				if len(args) == 2 {
					r, err = st.GetDraw(ctx, args[0], args[1])
				} else {
					r, err = st.LatestDraw(ctx, args[0])
				}
				if err != nil {
					return err
				}
				return printJSON(r)
			})
		},
	}
	return cmd
}

func statusCmd() *cobra.Command {
	var job string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the last recorded run",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, cfg *config.Config, st store.Store) error {
				report, err := st.LastRun(ctx, job)
				if errors.Is(err, store.ErrNotFound) {
					fmt.Println("no runs recorded yet")
					return nil
				}
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(report)
				}
				printRunReport(report)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&job, "job", "", "restrict to one job")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Manage snaplotto.yml"}
	cfg.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write the default config",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	})
	cfg.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := config.LoadOrDefault(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSON(c)
		},
	})
	return cfg
}

// --- helpers ---

func withStore(ctx context.Context, fn func(context.Context, *config.Config, store.Store) error) error {
	workspace := viper.GetString("workspace")
	cfg, err := config.LoadOrDefault(workspace)
	if err != nil {
		return err
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, cfg, store.New(conn))
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printRunReport(report domain.RunReport) {
	fmt.Printf("run %s (%s) %s: %d/%d succeeded, %d failed, %d rejected\n",
		report.RunID, report.Job, report.Status, report.Succeeded, report.Total, report.Failed, report.Rejected)
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Game", "Status", "Outcome", "Draw", "Cache", "Detail"})
	for _, g := range report.Games {
		cache := ""
		if g.UsedCache {
			cache = "yes"
		}
		tw.AppendRow(table.Row{g.Game, g.Status, g.Outcome, g.DrawNumber, cache, g.Detail})
	}
	tw.Render()
	for _, e := range report.GroupErrors {
		fmt.Println("group:", e)
	}
	for _, e := range report.StoreErrors {
		fmt.Println("store:", e)
	}
}

func joinInts(nums []int) string {
	parts := make([]string, len(nums))
	for i, n := range nums {
		parts[i] = fmt.Sprint(n)
	}
	return strings.Join(parts, " ")
}

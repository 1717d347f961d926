// metriclens answers natural-language analytics questions against a remote
// reporting tool.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"metriclens/internal/config"
	"metriclens/internal/logging"
	"metriclens/internal/mcp"
	"metriclens/internal/perception"
	"metriclens/internal/pipeline"
	"metriclens/internal/report"
	"metriclens/internal/resolve"
	"metriclens/internal/store"
)

var (
	cfgPath  string
	verbose  bool
	property string
	callerID string
)

var theApp *app

var rootCmd = &cobra.Command{
	Use:   "metriclens",
	Short: "metricLens - natural-language analytics reports",
	Long: `metricLens turns plain-language questions into analytics reports.

Questions are parsed by deterministic rules first, with an LLM fallback for
phrasings the rules cannot read. Reports run against a remote analytics tool
spoken to over stdio, with automatic retry and spec refinement on rejection.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return err
		}

		level := cfg.Logging.Level
		if verbose {
			level = "debug"
		}
		if err := logging.Initialize(logging.Options{
			Level: level,
			Path:  cfg.Logging.Path,
			JSON:  cfg.Logging.JSON,
		}); err != nil {
			return fmt.Errorf("failed to initialize logging: %w", err)
		}

		theApp, err = newApp(cmd.Context(), cfg)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if theApp != nil {
			theApp.close()
		}
		logging.Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", filepath.Join(".metriclens", "config.yaml"), "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	rootCmd.PersistentFlags().StringVarP(&property, "property", "p", "", "default analytics property id")
	rootCmd.PersistentFlags().StringVar(&callerID, "caller", defaultCaller(), "caller identity for the activity log")

	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(opsCmd)
	rootCmd.AddCommand(accountsCmd)
	rootCmd.AddCommand(dimsCmd)
	rootCmd.AddCommand(targetCmd)
	rootCmd.AddCommand(chatCmd)
}

func defaultCaller() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "local"
}

// app owns the wired pipeline and the resources behind it. Reconfigurable
// in place so the chat loop can pick up config edits without restarting.
type app struct {
	mu       sync.Mutex
	cfg      *config.Config
	conn     *mcp.Connector
	store    *store.ActivityStore
	resolver *resolve.Resolver
	orch     *report.Orchestrator
	pipe     *pipeline.Pipeline
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{}
	if err := a.configure(ctx, cfg); err != nil {
		return nil, err
	}
	return a, nil
}

// configure builds the stage graph from cfg, replacing and closing any
// previous wiring.
func (a *app) configure(ctx context.Context, cfg *config.Config) error {
	log := logging.Get(logging.CategoryBoot)

	conn := mcp.NewConnector(cfg.Tool.Command, mcp.WithTimeouts(
		config.Duration(cfg.Tool.ConnectTimeout, 20*time.Second),
		config.Duration(cfg.Tool.Timeout, 30*time.Second),
	))
	resolver := resolve.NewResolver(conn)

	var extractorOpts []perception.ExtractorOption
	loopOpts := []resolve.LoopOption{
		resolve.WithMaxAttempts(cfg.Refine.MaxAttempts),
		resolve.WithRefinementEnabled(cfg.Refine.Enabled),
	}
	if cfg.LLM.APIKey != "" {
		interp, err := perception.NewGeminiInterpreter(ctx, perception.GeminiConfig{
			APIKey:  cfg.LLM.APIKey,
			Model:   cfg.LLM.Model,
			Timeout: config.Duration(cfg.LLM.Timeout, 45*time.Second),
		})
		if err != nil {
			conn.Close()
			return err
		}
		extractorOpts = append(extractorOpts, perception.WithInterpreter(interp))
		loopOpts = append(loopOpts, resolve.WithInterpreter(interp))
	} else {
		log.Warn("no interpretation API key configured, running rules-only extraction")
	}

	extractor := perception.NewExtractor(extractorOpts...)
	loop := resolve.NewLoop(resolver, loopOpts...)
	orch := report.NewOrchestrator(resolver,
		report.WithSectionTimeout(config.Duration(cfg.Report.SectionTimeout, report.DefaultSectionTimeout)),
		report.WithBreakdownLimit(int64(cfg.Report.BreakdownLimit)),
	)

	var pipeOpts []pipeline.Option
	var st *store.ActivityStore
	if cfg.Store.Enabled {
		var err error
		st, err = store.Open(cfg.Store.Path)
		if err != nil {
			// The activity log is fire-and-forget; a broken store must not
			// block queries.
			log.Warnf("activity store unavailable: %v", err)
		} else {
			pipeOpts = append(pipeOpts, pipeline.WithActivityLog(st))
		}
	}

	pipe := pipeline.New(extractor, loop, orch, pipeOpts...)

	a.mu.Lock()
	oldConn, oldStore := a.conn, a.store
	a.cfg, a.conn, a.store, a.resolver, a.orch, a.pipe = cfg, conn, st, resolver, orch, pipe
	a.mu.Unlock()

	if oldConn != nil {
		oldConn.Close()
	}
	if oldStore != nil {
		oldStore.Close()
	}
	return nil
}

func (a *app) pipeline() *pipeline.Pipeline {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pipe
}

func (a *app) orchestrator() *report.Orchestrator {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.orch
}

func (a *app) operations() *resolve.Resolver {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.resolver
}

func (a *app) connector() *mcp.Connector {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.conn
}

func (a *app) activityStore() *store.ActivityStore {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.store
}

func (a *app) close() {
	a.mu.Lock()
	conn, st := a.conn, a.store
	a.conn, a.store = nil, nil
	a.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
	if st != nil {
		st.Close()
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

package cli

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/grovekit/grove/internal/api"
	"github.com/grovekit/grove/internal/app/capacity"
	"github.com/grovekit/grove/internal/app/harvest"
	"github.com/grovekit/grove/internal/app/instance"
	"github.com/grovekit/grove/internal/app/ledger"
	"github.com/grovekit/grove/internal/app/quiz"
	"github.com/grovekit/grove/internal/app/tree"
	"github.com/grovekit/grove/internal/daemon"
	"github.com/grovekit/grove/internal/infra/rediscache"
	"github.com/grovekit/grove/internal/infra/sqlite"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the Grove API server",
	Long: `Start the HTTP API, the tree regrowth sweep, the quiz attempt sweep,
and the hourly billing sweep. Runs until interrupted.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := daemon.Load(configPath)
	if err != nil {
		return err
	}

	dataDir := cfg.ExpandedDataDir()
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	db, err := sqlite.Open(dataDir)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	log.Printf("[grove] database ready in %s", dataDir)

	led := ledger.New(db, cfg.Harvest.Rules())

	pool, err := tree.New(tree.Config{
		Rules:         cfg.Tree.Rules(),
		SweepInterval: cfg.Tree.SweepDuration(),
	}, db)
	if err != nil {
		return fmt.Errorf("init tree: %w", err)
	}

	var cache quiz.AttemptCache
	if cfg.Redis.Enabled {
		rc, err := rediscache.New(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer rc.Close()
		cache = rc
		log.Printf("[grove] attempt cache on redis at %s", cfg.Redis.Addr)
	}

	qz := quiz.New(quiz.Config{
		SweepInterval:   cfg.Quiz.SweepDuration(),
		MaxAnswerWindow: cfg.Quiz.AnswerWindow(),
	}, db, led, pool, cache)

	hv := harvest.New(db, led, pool)

	capc := capacity.New(cfg.Capacity.Limits())
	mgr, err := instance.New(instance.Config{
		BillingInterval:  cfg.Billing.IntervalDuration(),
		BillingSkipUnder: cfg.Billing.SkipUnderDuration(),
		ProvisionTimeout: 2 * time.Minute,
	}, db, led, capc, instance.NewSimProvisioner())
	if err != nil {
		return fmt.Errorf("init instances: %w", err)
	}

	pool.Start()
	defer pool.Stop()
	qz.StartSweep()
	defer qz.StopSweep()
	mgr.StartBilling()
	defer mgr.StopBilling()

	srv := api.NewServer(db, led, pool, qz, hv, mgr, capc)
	if cfg.API.Metrics {
		srv.EnableMetrics()
	}

	addr := fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port)
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("[grove] listening on http://%s", addr)
		errCh <- httpSrv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Printf("[grove] received %s, shutting down", sig)
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpSrv.Shutdown(ctx)
}

// Command jobforge-server runs the job forge execution plane as a single
// HTTP process: queue core, event store, template registry, policy gate,
// audit log, and manifest store, all bound to one store.Store and served
// over the worker/caller RPC surface in transport/httpapi.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"github.com/jobforge/jobforge/pkg/audit"
	"github.com/jobforge/jobforge/pkg/config"
	"github.com/jobforge/jobforge/pkg/events"
	"github.com/jobforge/jobforge/pkg/manifest"
	"github.com/jobforge/jobforge/pkg/policy"
	"github.com/jobforge/jobforge/pkg/queue"
	"github.com/jobforge/jobforge/pkg/schema"
	"github.com/jobforge/jobforge/pkg/store"
	"github.com/jobforge/jobforge/pkg/store/dynamostore"
	"github.com/jobforge/jobforge/pkg/store/memstore"
	"github.com/jobforge/jobforge/pkg/template"
	"github.com/jobforge/jobforge/pkg/worker"
	"github.com/jobforge/jobforge/transport/httpapi"
)

func main() {
	configFile := flag.String("config", "", "optional config file merged under JOBFORGE_ env vars")
	useMemstore := flag.Bool("memstore", false, "use the in-process memory store instead of DynamoDB")
	reapInterval := flag.Duration("reap-interval", 30*time.Second, "lease reaper sweep interval")
	flag.Parse()

	log := slog.Default()

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	st, err := newStore(*useMemstore, cfg)
	if err != nil {
		log.Error("failed to build store", "error", err)
		os.Exit(1)
	}

	q := queue.New(st, cfg)
	w := worker.New(q)
	ev := events.New(st, cfg)
	pol := policy.New(st, cfg)
	al := audit.New(st, cfg)
	mf := manifest.New(st, cfg)
	tmpl := template.New(st, cfg, q, pol, al, schema.NewRegistry())

	srv := httpapi.New(q, w, ev, tmpl, mf, pol, al, log)

	httpServer := &http.Server{
		Addr:    cfg.HTTPListenAddr,
		Handler: srv.Routes(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go runReaper(ctx, q, *reapInterval, log)

	go func() {
		log.Info("listening", "addr", cfg.HTTPListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server exited", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
	}
}

// runReaper periodically clears expired leases back to queued. A failed
// sweep just logs and retries next tick — it never blocks startup or
// shutdown, since ReapExpiredLeases is itself an idempotent no-op on an
// idle system (property 5).
func runReaper(ctx context.Context, q *queue.Queue, interval time.Duration, log *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := q.ReapExpiredLeases(ctx)
			if err != nil {
				log.Error("lease reaper sweep failed", "error", err)
				continue
			}
			if n > 0 {
				log.Info("reaped expired leases", "count", n)
			}
		}
	}
}

func newStore(useMemstore bool, cfg config.Config) (store.Store, error) {
	if useMemstore {
		return memstore.New(), nil
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithRegion(cfg.AWSRegion))
	if err != nil {
		return nil, err
	}

	if cfg.AWSEndpoint == "" {
		return dynamostore.NewFromConfig(awsCfg), nil
	}
	return dynamostore.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		o.BaseEndpoint = aws.String(cfg.AWSEndpoint)
	}), nil
}

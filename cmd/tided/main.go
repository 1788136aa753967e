package main

import (
	"context"
	"flag"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/danmuck/tidectl/internal/analysis"
	"github.com/danmuck/tidectl/internal/auth"
	"github.com/danmuck/tidectl/internal/cluster"
	"github.com/danmuck/tidectl/internal/config"
	"github.com/danmuck/tidectl/internal/engine"
	"github.com/danmuck/tidectl/internal/health"
	"github.com/danmuck/tidectl/internal/observability"
	"github.com/danmuck/tidectl/internal/scheduler"
	"github.com/danmuck/tidectl/internal/server"
	"github.com/danmuck/tidectl/internal/source"
	"github.com/danmuck/tidectl/internal/store"
)

func main() {
	observability.InitLogger("tided")

	configPath := flag.String("config", "tidectl.toml", "engine config path")
	flag.Parse()

	cfg, err := config.LoadEngineConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load engine config")
	}
	tuning, err := loadTuning(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load engine tuning")
	}
	log.Info().Str("path", *configPath).Str("name", cfg.Name).Msg("loaded engine config")

	st, err := store.OpenBadger(filepath.Join(cfg.DataDir, "store"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open store")
	}
	defer st.Close()

	var clu cluster.Interface
	if cfg.Cluster.Addr != "" {
		client := cluster.NewAgentClient(cfg.Cluster.Addr)
		if d, err := time.ParseDuration(cfg.Cluster.Timeout); err == nil && d > 0 {
			client = client.WithTimeout(d)
		}
		clu = client
	} else {
		log.Warn().Msg("no cluster addr configured, using in-memory cluster")
		clu = cluster.NewMemory()
	}

	var provider analysis.Provider
	switch cfg.Provider.Kind {
	case "prometheus":
		provider, err = analysis.NewPrometheusProvider(cfg.Provider.Address)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to build prometheus provider")
		}
	case "influx":
		provider = analysis.NewInfluxProvider(cfg.Provider.Address, cfg.Provider.Token, cfg.Provider.Org)
	}

	src := source.NewDirStore()
	eng := engine.New(engine.Options{
		Source:    src,
		Cluster:   clu,
		Store:     st,
		Health:    health.DefaultRegistry(),
		Provider:  provider,
		Reconcile: tuning.reconcile(),
	})

	watcher := source.NewWatcher(src, log.Logger)
	for _, app := range cfg.Apps {
		spec := engine.AppSpec{
			App:     app.Application(),
			Windows: app.SchedulerWindows(),
		}
		if app.Rollout != nil {
			rc := app.Rollout.RolloutSpec()
			spec.Workload = app.Rollout.Workload
			spec.Rollout = &rc
			if len(app.Analysis) > 0 && provider != nil {
				as := app.AnalysisSpec()
				spec.Analysis = &as
			}
		}
		if err := eng.Register(spec); err != nil {
			log.Fatal().Str("application", app.Name).Err(err).Msg("failed to register application")
		}
		watcher.Track(app.Name, spec.App.Source)
	}

	var validator auth.Validator = auth.AllowAll{}
	if cfg.AuthToken != "" {
		validator = auth.StaticToken{Token: cfg.AuthToken}
	} else {
		log.Warn().Msg("no auth token configured, control surface is open")
	}
	srv := server.New(cfg.Name, cfg.Addr, eng, validator, cfg.CorsOrigins)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error { return eng.Run(gctx) })
	group.Go(func() error { return srv.Run(gctx) })
	group.Go(func() error { return watchSources(gctx, watcher, eng) })

	if err := group.Wait(); err != nil && ctx.Err() == nil {
		log.Fatal().Err(err).Msg("engine stopped")
	}
	log.Info().Msg("engine shut down")
}

// watchSources feeds checkout changes into the scheduler as source triggers.
func watchSources(ctx context.Context, w *source.Watcher, eng *engine.Engine) error {
	changes, err := w.Run(ctx)
	if err != nil {
		return err
	}
	for change := range changes {
		if err := eng.Trigger(change.Application, change.Revision, scheduler.CauseSource); err != nil {
			log.Warn().
				Str("application", change.Application).
				Err(err).
				Msg("source trigger dropped")
		}
	}
	return nil
}

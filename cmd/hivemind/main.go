// Command hivemind runs one orchestrated team against a task
// description: it loads configuration and a team blueprint, wires the
// persistence and blackboard backends, starts the heartbeat clock, and
// serves the status API until the task finishes or a signal arrives.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/hivemind/internal/agent"
	"github.com/ajitpratap0/hivemind/internal/blackboard"
	"github.com/ajitpratap0/hivemind/internal/config"
	"github.com/ajitpratap0/hivemind/internal/metrics"
	"github.com/ajitpratap0/hivemind/internal/store"
	"github.com/ajitpratap0/hivemind/internal/team"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (defaults to hivemind.yaml in . or ./config)")
	blueprintPath := flag.String("blueprint", "team.yaml", "Path to the team blueprint")
	task := flag.String("task", "", "Task description for the team")
	mode := flag.String("mode", string(team.ModeAuto), "Run mode: auto or semi-auto")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	config.InitLogger(cfg.App.LogLevel, cfg.App.LogFormat)

	if *task == "" {
		log.Fatal().Msg("A task description is required (--task)")
	}

	bp, err := team.LoadBlueprint(*blueprintPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load blueprint")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	repos, cleanupStore := buildRepositories(ctx, cfg)
	defer cleanupStore()

	docs, cleanupDocs := buildDocStore(cfg)
	defer cleanupDocs()

	tm, err := team.New(*task, team.Mode(*mode), bp, team.Options{
		Config:   cfg,
		Repos:    repos,
		DocStore: docs,
		Executor: defaultExecutor,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to instantiate team")
	}

	if cfg.NATS.Enabled {
		cp, err := team.NewControlPlane(tm, team.ControlConfig{NATSURL: cfg.NATS.URL})
		if err != nil {
			log.Error().Err(err).Msg("Control plane unavailable, continuing without it")
		} else {
			defer cp.Close()
		}
	}

	if cfg.Monitoring.Enabled {
		metricsServer := metrics.NewServer(cfg.Monitoring.MetricsPort, log.Logger)
		if err := metricsServer.Start(); err != nil {
			log.Error().Err(err).Msg("Failed to start metrics server")
		} else {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = metricsServer.Shutdown(shutdownCtx)
			}()
		}
	}

	var api *APIServer
	if cfg.API.Enabled {
		api = NewAPIServer(cfg.API.Port, tm)
		api.Start()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = api.Shutdown(shutdownCtx)
		}()
	}

	if err := tm.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start task")
	}
	if err := tm.AssignTask(ctx, nil); err != nil {
		log.Fatal().Err(err).Msg("Failed to assign task")
	}

	log.Info().
		Str("task_id", tm.TaskID()).
		Str("task", *task).
		Msg("Team running")

	<-ctx.Done()
	log.Info().Msg("Shutting down")

	cancelCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := tm.Cancel(cancelCtx); err != nil {
		log.Warn().Err(err).Msg("Task teardown reported errors")
	}
}

// buildRepositories opens the Postgres store when configured, otherwise
// falls back to the in-memory store.
func buildRepositories(ctx context.Context, cfg *config.Config) (*store.Repositories, func()) {
	if !cfg.Database.Enabled {
		return store.NewMemoryStore().Repositories(), func() {}
	}

	pg, err := store.NewPgStore(ctx, cfg.Database.URL, cfg.Database.PoolSize)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	if err := pg.InitSchema(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize schema")
	}
	return pg.Repositories(), pg.Close
}

// buildDocStore opens the Redis blackboard store when configured,
// otherwise keeps documents in memory.
func buildDocStore(cfg *config.Config) (blackboard.DocStore, func()) {
	if !cfg.Redis.Enabled {
		return blackboard.NewMemoryDocStore(), func() {}
	}

	rds, err := blackboard.NewRedisDocStore(blackboard.RedisConfig{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	return rds, func() { _ = rds.Close() }
}

// defaultExecutor is the placeholder work backend: it echoes the work
// item. Real deployments supply an executor that invokes their LLM or
// tool runner.
func defaultExecutor(ctx context.Context, work map[string]interface{}, view *agent.BoardView) (string, error) {
	description, _ := work["description"].(string)
	return "acknowledged: " + description, nil
}

/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/zerologr"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/sentinela-project/sentinela/internal/api"
	"github.com/sentinela-project/sentinela/internal/config"
	"github.com/sentinela-project/sentinela/internal/controller"
	"github.com/sentinela-project/sentinela/internal/croneval"
	"github.com/sentinela-project/sentinela/internal/events"
	"github.com/sentinela-project/sentinela/internal/executor"
	"github.com/sentinela-project/sentinela/internal/heartbeat"
	"github.com/sentinela-project/sentinela/internal/loader"
	"github.com/sentinela-project/sentinela/internal/queue"
	"github.com/sentinela-project/sentinela/internal/reactions"
	"github.com/sentinela-project/sentinela/internal/registry"
	"github.com/sentinela-project/sentinela/internal/store"
	"github.com/sentinela-project/sentinela/internal/taskmanager"
)

// shutdownTimeout bounds how long in-flight tasks may take to drain after
// every component stopped.
const shutdownTimeout = 30 * time.Second

var setupLog logr.Logger

// parseRoles reads the enabled roles from the positional arguments. No
// arguments enables both roles in a single process.
func parseRoles(args []string) (controllerEnabled, executorEnabled bool, err error) {
	if len(args) == 0 {
		return true, true, nil
	}
	for _, arg := range args {
		switch arg {
		case "controller":
			controllerEnabled = true
		case "executor":
			executorEnabled = true
		default:
			return false, false, fmt.Errorf("unknown operation mode '%s', expected 'controller' or 'executor'", arg)
		}
	}
	return controllerEnabled, executorEnabled, nil
}

// newLogger builds the application logger from the logging configuration
func newLogger(cfg *config.Config) (logr.Logger, error) {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	var zl zerolog.Logger
	switch cfg.Logging.Mode {
	case "friendly", "":
		zl = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger()
	case "json":
		zl = zerolog.New(os.Stderr).
			With().
			Timestamp().
			Logger()
	default:
		return logr.Logger{}, fmt.Errorf("unknown logging mode: '%s'", cfg.Logging.Mode)
	}
	return zerologr.New(&zl), nil
}

func main() {
	// Set up pflags
	flags := pflag.NewFlagSet("sentinela", pflag.ExitOnError)
	config.BindFlags(flags)

	// Parse flags
	if err := flags.Parse(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "failed to parse flags:", err)
		os.Exit(1)
	}

	controllerEnabled, executorEnabled, err := parseRoles(flags.Args())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	// Load configuration
	cfg, err := config.Load(flags)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load configuration:", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	setupLog = logger.WithName("setup")

	if cfg.ConfigFileUsed() != "" {
		setupLog.Info("configuration loaded", "file", cfg.ConfigFileUsed())
	} else {
		setupLog.Info("no config file found, using defaults and flags")
	}
	setupLog.Info("starting sentinela", "version", api.Version,
		"controller", controllerEnabled, "executor", executorEnabled)

	eval, err := croneval.New(cfg.TimeZone)
	if err != nil {
		setupLog.Error(err, "invalid time zone", "time_zone", cfg.TimeZone)
		os.Exit(1)
	}

	// Initialize the storage backend
	dataStore, err := store.NewGormStoreWithPool(cfg.Database.Dialect, cfg.Database.DSN, store.ConnectionPoolConfig{
		MaxIdleConns:    cfg.Database.MaxIdleConnections,
		MaxOpenConns:    cfg.Database.PoolSize,
		ConnMaxLifetime: cfg.Database.ConnectionMaxLifetime,
	})
	if err != nil {
		setupLog.Error(err, "unable to create store")
		os.Exit(1)
	}

	if err := dataStore.Init(); err != nil {
		setupLog.Error(err, "unable to initialize store")
		os.Exit(1)
	}
	defer func() { _ = dataStore.Close() }()
	setupLog.Info("initialized store", "dialect", cfg.Database.Dialect)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize the queue between the controller and the executors
	q, err := queue.New(ctx, cfg, logger)
	if err != nil {
		setupLog.Error(err, "unable to create queue")
		os.Exit(1)
	}
	if err := q.Init(ctx); err != nil {
		setupLog.Error(err, "unable to initialize queue")
		os.Exit(1)
	}
	setupLog.Info("initialized queue", "type", cfg.Queue.Type)

	reg := registry.New(logger)
	emitter := events.New(dataStore, q, reg, cfg.LogAllEvents, logger)
	tasks := taskmanager.New(logger)
	monitorsLoader := loader.New(dataStore, reg, eval, cfg, logger)

	// Notification channels react to alert events and answer resend requests
	hub, err := reactions.FromConfig(cfg.Reactions, dataStore, emitter, eval, logger)
	if err != nil {
		setupLog.Error(err, "unable to set up notification channels")
		os.Exit(1)
	}
	if !hub.Empty() {
		setupLog.Info("notification channels enabled", "channels", hub.Names())
	}

	// Only the controller registers monitors; executors just load them.
	if controllerEnabled {
		monitorsLoader.RegisterBuiltins(ctx, hub.AlertReactions())
	}

	components := map[string]func(context.Context) error{
		"loader":    monitorsLoader.Start,
		"heartbeat": heartbeat.New(cfg.HeartbeatTime, logger).Start,
	}

	var controllerDiagnostics, executorDiagnostics api.DiagnosticsFunc
	if controllerEnabled {
		ctl := controller.New(dataStore, q, reg, emitter, tasks, eval, cfg, logger)
		components["controller"] = ctl.Start
		controllerDiagnostics = ctl.Diagnostics
	}
	if executorEnabled {
		exec := executor.New(dataStore, q, reg, emitter, tasks, eval, cfg, logger)
		hub.RegisterActions(exec)
		components["executor"] = exec.Start
		executorDiagnostics = exec.Diagnostics
	}

	apiServer := api.NewServer(api.ServerOptions{
		Store:      dataStore,
		Queue:      q,
		Registry:   reg,
		Loader:     monitorsLoader,
		Eval:       eval,
		Controller: controllerDiagnostics,
		Executor:   executorDiagnostics,
		Port:       cfg.HTTPServer.Port,
		Log:        logger,
	})
	components["api"] = apiServer.Start

	// A component failing for any reason other than shutdown takes the whole
	// process down with it.
	var wg sync.WaitGroup
	for name, start := range components {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				setupLog.Error(err, "component failed", "component", name)
				stop()
			}
		}()
	}

	<-ctx.Done()
	setupLog.Info("shutting down")
	wg.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := tasks.Shutdown(shutdownCtx); err != nil {
		setupLog.Error(err, "tasks did not drain in time")
	}

	setupLog.Info("sentinela stopped")
}

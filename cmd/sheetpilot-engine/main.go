package main

import (
	"context"
	"log"
	"os"

	"sheetpilot/engine/internal/appdirs"
	"sheetpilot/engine/internal/engine"
	"sheetpilot/engine/internal/envfile"
	"sheetpilot/engine/internal/envutil"
	"sheetpilot/engine/internal/hostbridge"
	"sheetpilot/engine/internal/logging"
	"sheetpilot/engine/internal/rpc"
)

func main() {
	envResult := envfile.Load()
	debug := envutil.Bool("SHEETPILOT_DEBUG")
	dataDir, err := appdirs.DataDir()
	if err != nil {
		log.Fatalf("engine init failed: %v", err)
	}
	logSetup, logErr := logging.NewFileLogger(dataDir, debug)
	logger := logSetup.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	logger = logger.With("component", "engine")
	if logSetup.Enabled {
		logger.Info("engine.logging_enabled", "path", logSetup.Path)
	}
	if envResult.Loaded {
		logger.Debug("engine.env_loaded", "path", envResult.Path, "keys", envResult.Keys)
	}
	if envResult.Err != nil {
		logger.Warn("engine.env_load_failed", "path", envResult.Path, "error", envResult.Err.Error())
	}
	if logErr != nil {
		logger.Warn("engine.log_setup_failed", "error", logErr.Error())
	}
	if logSetup.Close != nil {
		defer logSetup.Close()
	}

	server := rpc.NewServer(engine.APIVersion, os.Stdin, os.Stdout, logger)
	bridge := hostbridge.New(server)

	eng, err := engine.New(
		engine.WithLogger(logger),
		engine.WithDataDir(dataDir),
		engine.WithHost(bridge),
		engine.WithEmbedder(bridge),
	)
	if err != nil {
		logger.Error("engine.init_failed", "error", err.Error())
		log.Fatalf("engine init failed: %v", err)
	}
	eng.SetNotifier(server.Notify)
	eng.RegisterRPC(server)

	logger.Info("engine.started", "version", engine.EngineVersion, "pid", os.Getpid())
	if err := server.Serve(context.Background()); err != nil {
		logger.Error("engine.serve_failed", "error", err.Error())
		os.Exit(1)
	}
	logger.Info("engine.stopped")
}

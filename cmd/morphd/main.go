package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"morph/internal/config"
	"morph/internal/daemon"
	"morph/internal/ipc"
	"morph/internal/logging"
)

func main() {
	configPath := flag.String("config", "", "path to config file (defaults to ~/.config/morph/config.toml)")
	logLevel := flag.String("log-level", "", "override the configured log level")
	flag.Parse()

	if err := run(*configPath, *logLevel); err != nil {
		fmt.Fprintf(os.Stderr, "morphd: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, logLevel string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, resolvedPath, exists, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if !exists {
		fmt.Fprintf(os.Stderr, "morphd: no config at %s, using defaults\n", resolvedPath)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("prepare directories: %w", err)
	}

	runID := time.Now().UTC().Format("20060102T150405Z")
	logPath := filepath.Join(cfg.Paths.LogDir, fmt.Sprintf("morphd-%s.log", runID))
	level := cfg.Logging.Level
	if logLevel != "" {
		level = logLevel
	}
	logger, err := logging.New(logging.Options{
		Level:       level,
		Format:      cfg.Logging.Format,
		OutputPaths: []string{"stdout", logPath},
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	pidPath := filepath.Join(cfg.Paths.LogDir, "morphd.pid")
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	d, err := daemon.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	ipcServer, err := ipc.NewServer(ctx, cfg.Paths.SocketPath, d.Tasks(), d, d.Notifier(), logger)
	if err != nil {
		return fmt.Errorf("start control socket: %w", err)
	}
	defer ipcServer.Close()
	ipcServer.Serve()

	apiServer := daemon.NewAPIServer(cfg, d, logger)
	if apiServer != nil {
		if err := apiServer.Start(ctx); err != nil {
			return fmt.Errorf("start api server: %w", err)
		}
		defer apiServer.Stop()
	}

	if err := d.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	logger.Info("morphd shutting down")
	d.Stop()
	return nil
}

func writePIDFile(path string) error {
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644)
}

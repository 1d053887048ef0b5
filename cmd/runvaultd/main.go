// Command runvaultd is the run monitor daemon. It watches the staging
// directory for new run-folders and archives each one through a bounded pool
// of run sessions, recording every outcome in the run registry.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"

	"github.com/jamesainslie/runvault/pkg/daemon"
	"github.com/jamesainslie/runvault/pkg/daemon/registry"
	"github.com/jamesainslie/runvault/pkg/runvault/config"
	"github.com/jamesainslie/runvault/pkg/runvault/logging"
	"github.com/jamesainslie/runvault/pkg/runvault/remote"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "runvaultd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	if err := initLogging(cfg); err != nil {
		return fmt.Errorf("initializing logging: %w", err)
	}
	defer func() { _ = logging.Close() }()

	if err := config.EnsureDataDir(); err != nil {
		return err
	}

	pidPath := cfg.Monitor.PIDPath
	if pidPath == "" {
		pidPath = config.DefaultPIDPath()
	}
	if err := daemon.RecoverStale(pidPath, cfg.Registry.Path); err != nil {
		return err
	}
	if err := daemon.WritePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing pid file: %w", err)
	}
	defer func() { _ = daemon.RemovePIDFile(pidPath) }()

	reg, err := registry.Open(cfg.Registry.Path)
	if err != nil {
		return fmt.Errorf("opening run registry: %w", err)
	}
	defer func() { _ = reg.Close() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var store remote.Store
	if cfg.Remote.Enabled() {
		s3Store, err := remote.NewS3Store(ctx, remote.S3Config{
			Bucket:    cfg.Remote.Bucket,
			Region:    cfg.Remote.Region,
			Endpoint:  cfg.Remote.Endpoint,
			AccessKey: cfg.Remote.AccessKey,
			SecretKey: cfg.Remote.SecretKey,
		})
		if err != nil {
			return fmt.Errorf("setting up remote store: %w", err)
		}
		store = s3Store
	}

	bytesCapacity, err := cfg.Archive.BytesCapacityValue()
	if err != nil {
		return err
	}

	mon, err := daemon.New(daemon.Config{
		StagingPath:    cfg.Monitor.StagingPath,
		MaxWorkers:     cfg.Monitor.MaxWorkers,
		PollInterval:   cfg.Monitor.PollInterval,
		DataGlob:       cfg.Monitor.DataGlob,
		RunIDPattern:   cfg.Monitor.RunIDPattern,
		SessionTimeout: cfg.Session.Timeout,
		ArchiveTimeout: cfg.Session.ArchiveTimeout,
		ScanInterval:   cfg.Session.ScanInterval,
		BytesCapacity:  bytesCapacity,
		FilesCapacity:  cfg.Archive.FilesCapacity,
		RemoveAfterAdd: cfg.Archive.RemoveAfterAdd,
		Remote:         store,
		RemotePrefix:   cfg.Remote.Prefix,
		Registry:       reg,
	})
	if err != nil {
		return fmt.Errorf("creating monitor: %w", err)
	}

	failed, err := mon.Run(ctx)
	if err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d sessions failed", failed)
	}
	return nil
}

// initLogging initializes the logging system from the loaded configuration.
func initLogging(cfg *config.Config) error {
	rotation := logging.RotationConfig{
		MaxAge:     cfg.Logging.Rotation.MaxAge,
		MaxBackups: cfg.Logging.Rotation.MaxBackups,
		Daily:      cfg.Logging.Rotation.Daily,
	}
	if cfg.Logging.Rotation.MaxSize != "" {
		if n, err := humanize.ParseBytes(cfg.Logging.Rotation.MaxSize); err == nil {
			rotation.MaxSize = int64(n)
		}
	}

	return logging.Init(logging.Config{
		Level:      cfg.Logging.Level,
		Path:       cfg.Logging.Path,
		Rotation:   rotation,
		Components: cfg.Logging.Components,
	})
}

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jamesainslie/runvault/pkg/runvault/archive"
	"github.com/jamesainslie/runvault/pkg/runvault/config"
	"github.com/jamesainslie/runvault/pkg/runvault/logging"
	"github.com/jamesainslie/runvault/pkg/runvault/remote"
	"github.com/jamesainslie/runvault/pkg/runvault/runid"
	"github.com/jamesainslie/runvault/pkg/runvault/session"
)

var (
	publishRunID    string
	publishRemove   bool
	publishNoRemote bool
	publishOneShot  bool
)

var publishCmd = &cobra.Command{
	Use:   "publish <run-dir>",
	Short: "Archive one run-folder",
	Long: `Run a single archival session against a run-folder.

The session packs the folder's files into capacity-bounded tar containers,
records each packed file in the folder's manifest, and (when a remote bucket
is configured) uploads every closed container. A folder whose files are all
already recorded produces no new containers, so re-running after a crash or
a partial upload is safe.

By default the session keeps watching the folder until the configured idle
timeout passes with nothing new to archive; use --one-shot to archive what
is there now and exit immediately.

Examples:
  runvault publish /data/staging/run42
  runvault publish --one-shot /data/staging/run42
  runvault publish --run 0a1b2c3d /data/staging/run42`,
	Args: cobra.ExactArgs(1),
	RunE: runPublish,
}

func init() {
	publishCmd.Flags().StringVar(&publishRunID, "run", "", "run identifier (default: extracted from data file names)")
	publishCmd.Flags().BoolVar(&publishRemove, "remove", false, "delete source files after a successful add")
	publishCmd.Flags().BoolVar(&publishNoRemote, "no-remote", false, "skip uploads even when a remote bucket is configured")
	publishCmd.Flags().BoolVar(&publishOneShot, "one-shot", false, "archive the folder's current contents and exit")
	rootCmd.AddCommand(publishCmd)
}

func runPublish(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	consoleLevel := "info"
	if getQuiet() {
		consoleLevel = "error"
	} else if getVerbose() {
		consoleLevel = "debug"
	}
	if err := initLogging(cfg, consoleLevel); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer func() { _ = logging.Close() }()

	runDir, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}
	info, err := os.Stat(runDir)
	if err != nil {
		return fmt.Errorf("run directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("run directory: %s is not a directory", runDir)
	}

	runKey := publishRunID
	if runKey == "" {
		ident, err := runid.New(cfg.Monitor.DataGlob, cfg.Monitor.RunIDPattern)
		if err != nil {
			return err
		}
		runKey, err = ident.Identify(runDir)
		if err != nil {
			if errors.Is(err, runid.ErrNoRunID) {
				return fmt.Errorf("no run identifier found in %s (matched against %q); use --run to supply one",
					runDir, cfg.Monitor.DataGlob)
			}
			return err
		}
	}

	bytesCapacity, err := cfg.Archive.BytesCapacityValue()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var store remote.Store
	if cfg.Remote.Enabled() && !publishNoRemote {
		s3Store, err := remote.NewS3Store(ctx, remote.S3Config{
			Bucket:    cfg.Remote.Bucket,
			Region:    cfg.Remote.Region,
			Endpoint:  cfg.Remote.Endpoint,
			AccessKey: cfg.Remote.AccessKey,
			SecretKey: cfg.Remote.SecretKey,
		})
		if err != nil {
			return fmt.Errorf("failed to set up remote store: %w", err)
		}
		store = s3Store
	}

	pub, err := archive.NewPublisher(archive.Options{
		RunDir:         runDir,
		BytesCapacity:  bytesCapacity,
		FilesCapacity:  cfg.Archive.FilesCapacity,
		RemoveAfterAdd: publishRemove || cfg.Archive.RemoveAfterAdd,
		Remote:         store,
		RemotePrefix:   path.Join(cfg.Remote.Prefix, runKey),
		Metadata:       map[string]string{"run-id": runKey},
	})
	if err != nil {
		return err
	}

	sess := session.New(session.Config{
		RunDir:         runDir,
		RunID:          runKey,
		SessionTimeout: cfg.Session.Timeout,
		ArchiveTimeout: cfg.Session.ArchiveTimeout,
		ScanInterval:   cfg.Session.ScanInterval,
		OneShot:        publishOneShot,
	}, pub)

	printInfo("Archiving %s (run %s)", runDir, runKey)

	res, err := sess.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	printInfo("")
	printInfo("Run %s: %d files seen, %d published, %d errored, %d containers",
		res.RunID, res.FilesSeen, res.FilesPublished, res.FilesErrored, res.Containers)

	if res.FilesErrored > 0 {
		return fmt.Errorf("%d files failed to publish", res.FilesErrored)
	}
	return nil
}

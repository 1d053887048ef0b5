package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jamesainslie/runvault/pkg/runvault/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long: `Manage runvault configuration settings.

Configuration is loaded from:
  1. $XDG_CONFIG_HOME/runvault/config.yaml (if set)
  2. ~/.config/runvault/config.yaml

Environment variables can override config file settings using the RUNVAULT_ prefix:
  RUNVAULT_MONITOR_STAGING_PATH=/data/staging
  RUNVAULT_ARCHIVE_BYTES_CAPACITY=50GB
  RUNVAULT_REMOTE_BUCKET=sequencing-archive`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  `Display the current configuration settings from all sources.`,
	RunE:  runConfigShow,
}

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Edit configuration file",
	Long: `Open the configuration file in your default editor.

The editor is determined by:
  1. $VISUAL environment variable
  2. $EDITOR environment variable
  3. Falls back to 'vi'

If the config file doesn't exist, a default one will be created first.`,
	RunE: runConfigEdit,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create default configuration file",
	Long:  `Create a default configuration file if one doesn't exist.`,
	RunE:  runConfigInit,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show configuration file path",
	Long:  `Display the path to the configuration file.`,
	RunE:  runConfigPath,
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configEditCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)
	rootCmd.AddCommand(configCmd)
}

// runConfigShow displays the current configuration.
func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if configFile := viper.ConfigFileUsed(); configFile != "" {
		fmt.Printf("Config file: %s\n\n", configFile)
	} else {
		fmt.Println("Config file: (using defaults, no file found)")
		fmt.Println()
	}

	fmt.Println("Current Configuration:")
	fmt.Println("----------------------")
	fmt.Printf("archive.bytes_capacity:   %s\n", cfg.Archive.BytesCapacity)
	fmt.Printf("archive.files_capacity:   %d\n", cfg.Archive.FilesCapacity)
	fmt.Printf("archive.remove_after_add: %t\n", cfg.Archive.RemoveAfterAdd)
	fmt.Printf("session.timeout:          %s\n", cfg.Session.Timeout)
	fmt.Printf("session.archive_timeout:  %s\n", cfg.Session.ArchiveTimeout)
	fmt.Printf("session.scan_interval:    %s\n", cfg.Session.ScanInterval)
	fmt.Printf("monitor.staging_path:     %s\n", cfg.Monitor.StagingPath)
	fmt.Printf("monitor.max_workers:      %d\n", cfg.Monitor.MaxWorkers)
	fmt.Printf("monitor.poll_interval:    %s\n", cfg.Monitor.PollInterval)
	fmt.Printf("monitor.data_glob:        %s\n", cfg.Monitor.DataGlob)
	fmt.Printf("monitor.run_id_pattern:   %s\n", cfg.Monitor.RunIDPattern)
	fmt.Printf("registry.path:            %s\n", cfg.Registry.Path)
	if cfg.Remote.Enabled() {
		fmt.Printf("remote.bucket:            %s\n", cfg.Remote.Bucket)
		fmt.Printf("remote.prefix:            %s\n", cfg.Remote.Prefix)
		fmt.Printf("remote.region:            %s\n", cfg.Remote.Region)
		fmt.Printf("remote.endpoint:          %s\n", cfg.Remote.Endpoint)
	} else {
		fmt.Println("remote:                   (disabled, no bucket set)")
	}
	fmt.Printf("logging.level:            %s\n", cfg.Logging.Level)
	fmt.Printf("logging.path:             %s\n", cfg.Logging.Path)

	fmt.Println("\nEnvironment Overrides:")
	fmt.Println("----------------------")
	envVars := []string{
		"RUNVAULT_ARCHIVE_BYTES_CAPACITY",
		"RUNVAULT_ARCHIVE_FILES_CAPACITY",
		"RUNVAULT_SESSION_TIMEOUT",
		"RUNVAULT_MONITOR_STAGING_PATH",
		"RUNVAULT_MONITOR_MAX_WORKERS",
		"RUNVAULT_REMOTE_BUCKET",
		"RUNVAULT_REMOTE_ENDPOINT",
		"RUNVAULT_LOGGING_LEVEL",
	}

	anyOverrides := false
	for _, name := range envVars {
		if val := os.Getenv(name); val != "" {
			fmt.Printf("%s=%s\n", name, val)
			anyOverrides = true
		}
	}
	if !anyOverrides {
		fmt.Println("(none)")
	}

	return nil
}

// runConfigEdit opens the config file in an editor.
func runConfigEdit(cmd *cobra.Command, args []string) error {
	// Ensure config file exists
	if err := config.WriteDefault(); err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}

	configDir, err := config.ConfigDir()
	if err != nil {
		return fmt.Errorf("failed to get config directory: %w", err)
	}
	configPath := filepath.Join(configDir, "config.yaml")

	editor := os.Getenv("VISUAL")
	if editor == "" {
		editor = os.Getenv("EDITOR")
	}
	if editor == "" {
		editor = "vi"
	}

	printVerbose("Opening %s with %s", configPath, editor)

	editorCmd := exec.Command(editor, configPath)
	editorCmd.Stdin = os.Stdin
	editorCmd.Stdout = os.Stdout
	editorCmd.Stderr = os.Stderr

	if err := editorCmd.Run(); err != nil {
		return fmt.Errorf("editor command failed: %w", err)
	}

	return nil
}

// runConfigInit creates a default config file.
func runConfigInit(cmd *cobra.Command, args []string) error {
	configDir, err := config.ConfigDir()
	if err != nil {
		return fmt.Errorf("failed to get config directory: %w", err)
	}
	configPath := filepath.Join(configDir, "config.yaml")

	if _, err := os.Stat(configPath); err == nil {
		printInfo("Config file already exists: %s", configPath)
		printInfo("Use 'runvault config edit' to modify it.")
		return nil
	}

	if err := config.WriteDefault(); err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}

	printInfo("Created default config file: %s", configPath)
	return nil
}

// runConfigPath shows the config file path.
func runConfigPath(cmd *cobra.Command, args []string) error {
	configDir, err := config.ConfigDir()
	if err != nil {
		return fmt.Errorf("failed to get config directory: %w", err)
	}
	configPath := filepath.Join(configDir, "config.yaml")

	fmt.Println(configPath)

	if _, err := os.Stat(configPath); err == nil {
		printVerbose("File exists")
	} else if os.IsNotExist(err) {
		printVerbose("File does not exist (will use defaults)")
	}

	return nil
}

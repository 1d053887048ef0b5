package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jamesainslie/runvault/pkg/runvault/config"
)

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "runvault",
		Short: "Archive instrument run-folders into a remote content store",
		Long: `Runvault packs the files an instrument writes into capacity-bounded tar
containers and records every packed file in a per-run manifest, so an
interrupted or repeated run resumes instead of re-archiving.

The runvaultd daemon watches a staging directory and processes new
run-folders as they appear; this CLI drives one-off sessions and
inspects past runs.

Examples:
  runvault publish /data/staging/run42    # Archive one run-folder
  runvault runs                           # Show recorded run outcomes
  runvault config show                    # Show configuration`,
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ~/.config/runvault/config.yaml)")
	rootCmd.PersistentFlags().String("bytes-capacity", "", "container byte budget (e.g. 10GB)")
	rootCmd.PersistentFlags().Int("files-capacity", 0, "container file budget")
	rootCmd.PersistentFlags().BoolP("quiet", "q", false, "minimal output")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "debug output")

	_ = viper.BindPFlag("archive.bytes_capacity", rootCmd.PersistentFlags().Lookup("bytes-capacity"))
	_ = viper.BindPFlag("archive.files_capacity", rootCmd.PersistentFlags().Lookup("files-capacity"))
	_ = viper.BindPFlag("quiet", rootCmd.PersistentFlags().Lookup("quiet"))
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

// initConfig reads in config file and environment variables.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")

		if xdgConfigHome := os.Getenv("XDG_CONFIG_HOME"); xdgConfigHome != "" {
			viper.AddConfigPath(filepath.Join(xdgConfigHome, "runvault"))
		}

		homeDir, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(filepath.Join(homeDir, ".config", "runvault"))
		}
	}

	viper.SetEnvPrefix("RUNVAULT")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	config.SetDefaults(viper.GetViper())

	_ = viper.ReadInConfig()
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// getVerbose returns true if verbose mode is enabled.
func getVerbose() bool {
	return viper.GetBool("verbose")
}

// getQuiet returns true if quiet mode is enabled.
func getQuiet() bool {
	return viper.GetBool("quiet")
}

// printVerbose prints a message if verbose mode is enabled.
func printVerbose(format string, args ...interface{}) {
	if getVerbose() && !getQuiet() {
		fmt.Fprintf(os.Stderr, "[DEBUG] "+format+"\n", args...)
	}
}

// printInfo prints a message if quiet mode is not enabled.
func printInfo(format string, args ...interface{}) {
	if !getQuiet() {
		fmt.Printf(format+"\n", args...)
	}
}

// printError prints an error message to stderr.
func printError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
}

// Command gpsh is an interactive console for PC/SC terminals and
// GlobalPlatform card management sessions.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/SimplyPrint/gpsh/internal/config"
	"github.com/SimplyPrint/gpsh/internal/console"
	"github.com/SimplyPrint/gpsh/internal/core"
	"github.com/SimplyPrint/gpsh/internal/libpath"
	"github.com/SimplyPrint/gpsh/internal/logging"
)

// Set with -ldflags "-X main.Version=..." at build time.
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var (
	// Global flags
	configPath string
	logLevel   string
	libDir     string
	buildDir   string
	exclusive  bool

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "gpsh",
	Short: "Console for smartcard terminals and GlobalPlatform sessions",
	Long: `gpsh lists the PC/SC terminals of this host, reports card presence and
opens GlobalPlatform sessions on the card of a chosen terminal.

Example:
  gpsh
  gp> gp 1
  gp> scp02 0 false true ISK
  gp> getStatus`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		return initGlobals()
	},
	PersistentPostRun: func(_ *cobra.Command, _ []string) {
		logging.FlushSentry(2 * time.Second)
	},
	RunE: func(_ *cobra.Command, _ []string) error {
		return runConsole()
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "Print the terminal list and exit",
	RunE: func(cmd *cobra.Command, _ []string) error {
		reg, err := discover()
		if err != nil {
			return err
		}
		defer func() { _ = reg.Close() }()

		for line := range reg.Describe() {
			fmt.Fprintln(cmd.OutOrStdout(), line)
		}
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	// Skips config and library path setup.
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error { return nil },
	Run: func(cmd *cobra.Command, _ []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "gpsh %s\n", Version)
		fmt.Fprintf(out, "Build time: %s\n", BuildTime)
		fmt.Fprintf(out, "Git commit: %s\n", GitCommit)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&libDir, "lib-dir", "", "support library directory (default \"lib\")")
	rootCmd.PersistentFlags().StringVar(&buildDir, "build-dir", "", "local build output directory (default \"build\")")
	rootCmd.PersistentFlags().BoolVar(&exclusive, "exclusive", false, "connect to cards in exclusive mode")

	rootCmd.AddCommand(listCmd, versionCmd)
}

func main() {
	defer logging.RecoverAndLog("main", true)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "gpsh: %v\n", err)
		logging.FlushSentry(2 * time.Second)
		os.Exit(1)
	}
}

// initGlobals runs the startup sequence shared by every command: config,
// logging, the library search path, then crash reporting.
func initGlobals() error {
	var err error
	cfg, err = config.Load(configPath)
	if err != nil {
		return err
	}
	if err := config.LoadDotEnv(".env"); err != nil {
		return err
	}
	config.ApplyEnvironment(cfg)

	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if libDir != "" {
		cfg.Libraries.LibDir = libDir
	}
	if buildDir != "" {
		cfg.Libraries.BuildDir = buildDir
	}
	if exclusive {
		cfg.Reader.ShareMode = config.ShareExclusive
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logging.Init(cfg.Logging.BufferSize, logging.ParseLevel(cfg.Logging.Level))

	// May restart the process, so it runs before crash reporting starts.
	entries, searchPath, err := libpath.Bootstrap(cfg.Libraries.LibDir, cfg.Libraries.BuildDir)
	if err != nil {
		return fmt.Errorf("failed to set up library path: %w", err)
	}

	logging.InitSentry(Version, cfg.CrashReporting.Enabled, cfg.CrashReporting.DSN)
	logging.Info(logging.CatSystem, "gpsh starting", map[string]any{
		"version":     Version,
		"libraries":   len(entries),
		"search_path": searchPath,
	})
	return nil
}

func discover() (*core.Registry, error) {
	mode, err := core.ParseShareMode(cfg.Reader.ShareMode)
	if err != nil {
		return nil, err
	}
	return core.Discover(core.DefaultContextFactory{}, core.WithShareMode(mode))
}

func runConsole() error {
	reg, err := discover()
	if err != nil {
		return err
	}

	console.Banner(os.Stdout, reg)

	c := console.New(reg,
		console.WithPrompt(cfg.Console.Prompt),
		console.WithRediscover(discover),
	)
	return c.Run()
}

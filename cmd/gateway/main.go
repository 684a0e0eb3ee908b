package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/buremba/capsulegate/internal/capsule"
	"github.com/buremba/capsulegate/internal/gateway"
	"github.com/buremba/capsulegate/internal/gwconfig"
	"github.com/buremba/capsulegate/internal/signer"
	"github.com/buremba/capsulegate/internal/vfs"
)

// Version information, set at build time with -ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:     "capsulegate",
	Short:   "capsulegate - sandboxed MCP code-execution gateway",
	Version: Version,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := gwconfig.Default()
		if err := gwconfig.Save(configPath, cfg); err != nil {
			return err
		}
		fmt.Printf("Wrote default config to %s\n", configPath)
		return nil
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the gateway server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("capsulegate %s\n", Version)
		if BuildTime != "unknown" {
			fmt.Printf("Built: %s\n", BuildTime)
		}
		if GitCommit != "unknown" {
			fmt.Printf("Commit: %s\n", GitCommit)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "gateway.json", "path to config file")
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe() error {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	consoleWriter := zerolog.ConsoleWriter{Out: os.Stderr}
	if !isatty.IsTerminal(os.Stderr.Fd()) {
		consoleWriter.NoColor = true
	}
	log.Logger = log.Output(consoleWriter)

	cfg, err := gwconfig.Load(configPath)
	if err != nil {
		if _, statErr := os.Stat(configPath); os.IsNotExist(statErr) {
			log.Warn().Str("path", configPath).Msg("config file not found, using defaults")
			cfg = gwconfig.Default()
		} else {
			return fmt.Errorf("load config: %w", err)
		}
	}

	if cfg.Bind == gwconfig.DefaultBind && gwconfig.DetectContainer() {
		log.Info().Msg("container environment detected, binding 0.0.0.0")
		cfg.Bind = "0.0.0.0"
	}

	sg, err := loadOrGenerateSigner(cfg.SigningKeyPath)
	if err != nil {
		return fmt.Errorf("load signer: %w", err)
	}

	root, err := vfs.New(cfg.VFSRoot)
	if err != nil {
		return fmt.Errorf("init vfs root: %w", err)
	}

	bundlerPath := cfg.BundlerPath
	if bundlerPath == "" {
		bundlerPath = "esbuild"
	}
	bundler := capsule.NewBundler(capsule.ExternalBundle(bundlerPath))
	cache := capsule.NewCache(cfg.CacheDir)
	builder := capsule.NewBuilder(bundler, cache, sg, cfg.Policy)

	srv, err := gateway.New(cfg, builder, cache, sg, root)
	if err != nil {
		return fmt.Errorf("init gateway: %w", err)
	}

	watcher, err := gwconfig.NewWatcher(cfg, func(fresh *gwconfig.Config) {
		log.Info().Msg("configuration reloaded")
	})
	if err != nil {
		log.Warn().Err(err).Msg("config hot-reload disabled")
	} else {
		watcher.Start()
		defer watcher.Stop()
	}

	httpSrv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Bind, cfg.Port),
		Handler:      srv,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // SSE connections are long-lived
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		banner := fmt.Sprintf("capsulegate %s listening on %s", Version, httpSrv.Addr)
		if isatty.IsTerminal(os.Stdout.Fd()) {
			fmt.Println(color.GreenString(banner))
		} else {
			fmt.Println(banner)
		}
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("gateway server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	reloadChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	signal.Notify(reloadChan, syscall.SIGHUP)

	for {
		select {
		case <-reloadChan:
			log.Info().Msg("received SIGHUP, reloading configuration")
			if watcher != nil {
				watcher.Reload()
			}
		case <-sigChan:
			log.Info().Msg("shutting down gateway")
			goto shutdown
		}
	}

shutdown:
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown error")
	}
	srv.Shutdown()

	log.Info().Msg("gateway stopped")
	return nil
}

func loadOrGenerateSigner(path string) (*signer.Signer, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		return signer.FromSeed(strings.TrimSpace(string(data)))
	}
	if !os.IsNotExist(err) {
		return nil, err
	}

	sg, err := signer.Generate()
	if err != nil {
		return nil, err
	}
	log.Warn().Str("path", path).Msg("no signing key found, generated an ephemeral one (not persisted)")
	return sg, nil
}

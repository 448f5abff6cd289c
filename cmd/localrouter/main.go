// localrouter routes generation and embedding requests to local LLM backends.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/spetr/localrouter/builtin/ollama"
	"github.com/spetr/localrouter/builtin/openaicompat"
	"github.com/spetr/localrouter/builtin/pyscript"
	"github.com/spetr/localrouter/internal/config"
	"github.com/spetr/localrouter/internal/history"
	"github.com/spetr/localrouter/internal/manager"
	"github.com/spetr/localrouter/internal/mcp"
	"github.com/spetr/localrouter/pkg/provider"
	"github.com/spetr/localrouter/pkg/types"
)

var (
	version   = "0.1.0"
	baseDir   string
	logLevel  string
	logFormat string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "localrouter",
	Short: "Router for local LLM backends",
	Long: `localrouter routes text generation and embedding requests to locally
running LLM backends (Ollama, LM Studio, Jan, GPT4All server, or the
GPT4All Python bindings).

Backends are probed for availability and requests go to either an
explicitly selected backend or the first reachable one in priority
order.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("localrouter %s\n", version)
		fmt.Printf("Go version: %s\n", runtime.Version())
		fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Probe backends and show availability",
	Run: func(cmd *cobra.Command, args []string) {
		jsonOutput, _ := cmd.Flags().GetBool("json")
		runStatus(jsonOutput)
	},
}

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Probe all backends and record the result",
	Run: func(cmd *cobra.Command, args []string) {
		runRefresh()
	},
}

var generateCmd = &cobra.Command{
	Use:   "generate <prompt>",
	Short: "Generate text on the selected backend",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		system, _ := cmd.Flags().GetString("system")
		temperature, _ := cmd.Flags().GetFloat64("temperature")
		maxTokens, _ := cmd.Flags().GetInt("max-tokens")
		runGenerate(args[0], system, temperature, maxTokens)
	},
}

var embedCmd = &cobra.Command{
	Use:   "embed <text>",
	Short: "Generate an embedding on the selected backend",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		runEmbed(args[0])
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start MCP server",
	Run: func(cmd *cobra.Command, args []string) {
		stdio, _ := cmd.Flags().GetBool("stdio")
		watch, _ := cmd.Flags().GetBool("watch")
		runServe(stdio, watch)
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent probe history",
	Run: func(cmd *cobra.Command, args []string) {
		limit, _ := cmd.Flags().GetInt("limit")
		runHistory(limit)
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create default configuration",
	Run: func(cmd *cobra.Command, args []string) {
		runConfigInit()
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration",
	Run: func(cmd *cobra.Command, args []string) {
		runConfigValidate()
	},
}

var configSetModeCmd = &cobra.Command{
	Use:   "set-mode <mode>",
	Short: "Set selection mode (auto or a backend name)",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		runConfigSetMode(args[0])
	},
}

var configSetEndpointCmd = &cobra.Command{
	Use:   "set-endpoint <backend> <url>",
	Short: "Set a backend's endpoint",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		runConfigSetEndpoint(args[0], args[1])
	},
}

var configSetModelCmd = &cobra.Command{
	Use:   "set-model <backend> <model>",
	Short: "Set a backend's model (model file path for pyscript)",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		runConfigSetModel(args[0], args[1])
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&baseDir, "home", "", "base directory (default: $HOME, config lives in .localrouter/)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, json)")

	statusCmd.Flags().Bool("json", false, "output as JSON")

	generateCmd.Flags().StringP("system", "s", "", "system prompt")
	generateCmd.Flags().Float64P("temperature", "t", 0.7, "sampling temperature")
	generateCmd.Flags().Int("max-tokens", 512, "maximum tokens to generate")

	serveCmd.Flags().Bool("stdio", false, "use stdio transport (for MCP)")
	serveCmd.Flags().Bool("watch", true, "reload config on file changes")

	historyCmd.Flags().IntP("limit", "l", 20, "maximum entries")

	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configValidateCmd)
	configCmd.AddCommand(configSetModeCmd)
	configCmd.AddCommand(configSetEndpointCmd)
	configCmd.AddCommand(configSetModelCmd)

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(refreshCmd)
	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(embedCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(configCmd)
}

func setupLogging() {
	var level slog.Level
	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if logFormat == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	slog.SetDefault(slog.New(handler))
}

func home() string {
	if baseDir != "" {
		return baseDir
	}
	return config.DefaultBaseDir()
}

// buildProviders creates all providers based on config.
func buildProviders(cfg *config.Config) map[types.Kind]provider.Provider {
	providers := make(map[types.Kind]provider.Provider)

	oc := cfg.Provider(types.KindOllama)
	providers[types.KindOllama] = ollama.New(ollama.Config{
		Endpoint: oc.Endpoint,
		Model:    oc.Model,
	})

	for _, kind := range []types.Kind{types.KindLMStudio, types.KindJan, types.KindGPT4All} {
		pc := cfg.Provider(kind)
		p, err := openaicompat.New(openaicompat.Config{
			Kind:    kind,
			BaseURL: pc.Endpoint,
			Model:   pc.Model,
			APIKey:  pc.APIKey,
		})
		if err != nil {
			slog.Warn("skipping backend", "backend", kind, "error", err)
			continue
		}
		providers[kind] = p
	}

	sc := cfg.Provider(types.KindPyScript)
	providers[types.KindPyScript] = pyscript.New(pyscript.Config{
		Python:    sc.Python,
		Module:    sc.Module,
		ModelPath: sc.ModelPath,
	})

	return providers
}

// configStore persists to the base directory.
type configStore struct {
	baseDir string
}

func (s configStore) Save(cfg *config.Config) error {
	return config.Save(s.baseDir, cfg)
}

// loadManager builds a manager from the on-disk config.
func loadManager(withHistory bool) (*manager.Manager, *history.Store) {
	cfg, warnings, err := config.Load(home())
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	for _, w := range warnings {
		slog.Debug(w)
	}
	if errs := config.Validate(cfg); len(errs) > 0 {
		for _, e := range errs {
			slog.Error("invalid config", "error", e)
		}
		os.Exit(1)
	}

	var recorder manager.Recorder
	var store *history.Store
	if withHistory && cfg.History.Enabled {
		store, err = history.Open(config.HistoryDBPath(home()), cfg.History.Keep)
		if err != nil {
			slog.Warn("probe history disabled", "error", err)
		} else {
			recorder = store
		}
	}

	return manager.New(manager.Options{
		Config:   cfg,
		Store:    configStore{baseDir: home()},
		Factory:  buildProviders,
		Recorder: recorder,
	}), store
}

func runStatus(jsonOutput bool) {
	mgr, store := loadManager(true)
	if store != nil {
		defer store.Close()
	}

	ctx := context.Background()
	if err := mgr.Refresh(ctx); err != nil {
		slog.Error("refresh failed", "error", err)
		os.Exit(1)
	}

	status := mgr.Status()

	if jsonOutput {
		out := map[string]any{
			"mode":     string(status.Mode),
			"snapshot": status.Snapshot,
		}
		if status.Resolved {
			out["active"] = string(status.Active)
		}
		data, _ := json.MarshalIndent(out, "", "  ")
		fmt.Println(string(data))
		return
	}

	fmt.Printf("Mode: %s\n\n", status.Mode)
	for _, kind := range provider.Priority {
		info, _ := provider.Lookup(kind)
		result := status.Snapshot[kind]

		marker := "  "
		if status.Resolved && status.Active == kind {
			marker = "* "
		}
		state := "unreachable"
		if result.Reachable {
			state = "reachable"
		}
		fmt.Printf("%s%-10s %-14s %s", marker, kind, info.DisplayName, state)
		if len(result.Models) > 0 {
			fmt.Printf(" (%d models)", len(result.Models))
		}
		fmt.Println()
	}

	if !status.Resolved {
		fmt.Println("\nNo backend available.")
	}
}

func runRefresh() {
	mgr, store := loadManager(true)
	if store != nil {
		defer store.Close()
	}

	if err := mgr.Refresh(context.Background()); err != nil {
		slog.Error("refresh failed", "error", err)
		os.Exit(1)
	}

	status := mgr.Status()
	reachable := 0
	for _, result := range status.Snapshot {
		if result.Reachable {
			reachable++
		}
	}
	fmt.Printf("Probed %d backends, %d reachable\n", len(status.Snapshot), reachable)
	printResolution(status)
}

func runGenerate(prompt, system string, temperature float64, maxTokens int) {
	mgr, store := loadManager(true)
	if store != nil {
		defer store.Close()
	}

	ctx := context.Background()
	if err := mgr.Refresh(ctx); err != nil {
		slog.Error("refresh failed", "error", err)
		os.Exit(1)
	}

	text, err := mgr.Generate(ctx, types.GenerateRequest{
		Prompt:      prompt,
		System:      system,
		Temperature: temperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		exitWithRouteError(err)
	}
	fmt.Println(text)
}

func runEmbed(text string) {
	mgr, store := loadManager(true)
	if store != nil {
		defer store.Close()
	}

	ctx := context.Background()
	if err := mgr.Refresh(ctx); err != nil {
		slog.Error("refresh failed", "error", err)
		os.Exit(1)
	}

	embedding, err := mgr.Embed(ctx, text)
	if err != nil {
		exitWithRouteError(err)
	}

	data, _ := json.Marshal(embedding)
	fmt.Println(string(data))
}

// exitWithRouteError prints routing errors, surfacing subprocess stderr.
func exitWithRouteError(err error) {
	var execErr *types.ExecError
	if errors.As(err, &execErr) {
		fmt.Fprintln(os.Stderr, "script execution failed:")
		fmt.Fprint(os.Stderr, execErr.Stderr)
	} else {
		fmt.Fprintln(os.Stderr, err)
	}
	os.Exit(1)
}

func runServe(stdio, watch bool) {
	slog.Info("starting MCP server", "stdio", stdio)

	mgr, store := loadManager(true)

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		slog.Info("received shutdown signal", "signal", sig)
		cancel()

		if store != nil {
			if err := store.Close(); err != nil {
				slog.Warn("failed to close history", "error", err)
			}
		}
		slog.Info("shutdown complete")
		os.Exit(0)
	}()

	defer func() {
		signal.Stop(sigChan)
		if store != nil {
			store.Close()
		}
	}()

	// Initial probe so the first request has a snapshot to select from.
	if err := mgr.Refresh(ctx); err != nil {
		slog.Warn("initial refresh failed", "error", err)
	}

	// Reload config on file changes
	if watch {
		watcher, err := config.NewWatcher(config.WatcherConfig{
			BaseDir: home(),
			OnChange: func(cfg *config.Config) {
				mgr.ApplyConfig(cfg)
				if err := mgr.Refresh(ctx); err != nil {
					slog.Warn("refresh after reload failed", "error", err)
				}
			},
		})
		if err != nil {
			slog.Warn("config watching disabled", "error", err)
		} else {
			go func() {
				if err := watcher.Watch(ctx); err != nil {
					slog.Warn("config watcher stopped", "error", err)
				}
			}()
		}
	}

	server, err := mcp.New(mcp.Config{
		Manager: mgr,
		History: store,
		Version: version,
	})
	if err != nil {
		slog.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	if stdio {
		slog.Info("MCP server running (press Ctrl+C to stop)")
		if err := server.ServeStdio(); err != nil {
			if ctx.Err() != nil {
				slog.Info("server stopped")
			} else {
				slog.Error("server error", "error", err)
				os.Exit(1)
			}
		}
	} else {
		fmt.Println("HTTP transport not implemented. Use --stdio for MCP.")
		os.Exit(1)
	}
}

func runHistory(limit int) {
	store, err := history.Open(config.HistoryDBPath(home()), 0)
	if err != nil {
		slog.Error("failed to open history", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	entries, err := store.Recent(limit)
	if err != nil {
		slog.Error("failed to read history", "error", err)
		os.Exit(1)
	}

	if len(entries) == 0 {
		fmt.Println("No probe history recorded yet.")
		return
	}

	var lastBatch time.Time
	for _, e := range entries {
		if !e.BatchAt.Equal(lastBatch) {
			fmt.Printf("\n%s\n", e.BatchAt.Format("2006-01-02 15:04:05"))
			lastBatch = e.BatchAt
		}
		state := "unreachable"
		if e.Reachable {
			state = "reachable"
		}
		fmt.Printf("  %-10s %s", e.Kind, state)
		if len(e.Models) > 0 {
			fmt.Printf(" (%d models)", len(e.Models))
		}
		fmt.Println()
	}
}

func runConfigInit() {
	cfg := config.DefaultConfig()

	if err := config.Save(home(), cfg); err != nil {
		slog.Error("failed to save config", "error", err)
		os.Exit(1)
	}

	fmt.Printf("Created config at %s\n", config.Path(home()))
}

func runConfigValidate() {
	cfg, warnings, err := config.Load(home())
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	for _, w := range warnings {
		fmt.Printf("Warning: %s\n", w)
	}

	errs := config.Validate(cfg)
	if len(errs) > 0 {
		for _, e := range errs {
			fmt.Printf("Error: %v\n", e)
		}
		os.Exit(1)
	}

	fmt.Println("Configuration is valid")
}

func runConfigSetMode(mode string) {
	mgr, _ := loadManager(false)

	if err := mgr.SetMode(context.Background(), types.Mode(mode)); err != nil {
		slog.Error("failed to set mode", "error", err)
		os.Exit(1)
	}
	fmt.Printf("Mode set to %s\n", mode)
	printResolution(mgr.Status())
}

func runConfigSetEndpoint(backend, endpoint string) {
	mgr, _ := loadManager(false)

	if err := mgr.SetEndpoint(context.Background(), types.Kind(backend), endpoint); err != nil {
		slog.Error("failed to set endpoint", "error", err)
		os.Exit(1)
	}
	fmt.Printf("Endpoint for %s set to %s\n", backend, endpoint)
	printResolution(mgr.Status())
}

func runConfigSetModel(backend, model string) {
	mgr, _ := loadManager(false)

	if err := mgr.SetModel(context.Background(), types.Kind(backend), model); err != nil {
		slog.Error("failed to set model", "error", err)
		os.Exit(1)
	}
	fmt.Printf("Model for %s set to %s\n", backend, model)
	printResolution(mgr.Status())
}

// printResolution reports the selection after a mutation's probe batch.
func printResolution(status manager.Status) {
	if status.Resolved {
		fmt.Printf("Active backend: %s\n", status.Active)
	} else {
		fmt.Println("No backend available.")
	}
}

// Eddie is a conversational Signal agent backed by a local LLM.
//
// It bridges Signal conversations to an Ollama-compatible model,
// interprets tool calls out of model responses (however mangled), and
// runs recurring background tasks that survive restarts. Configuration
// comes from a single YAML file discovered automatically (see
// [config.DefaultSearchPaths]).
//
// Usage:
//
//	eddie serve              Start the daemon
//	eddie ask <question>     Ask a single question (for testing)
//	eddie version            Print version and build information
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/yavinfive/eddie/internal/agent"
	"github.com/yavinfive/eddie/internal/buildinfo"
	"github.com/yavinfive/eddie/internal/config"
	"github.com/yavinfive/eddie/internal/convo"
	"github.com/yavinfive/eddie/internal/dispatch"
	"github.com/yavinfive/eddie/internal/fetch"
	"github.com/yavinfive/eddie/internal/geo"
	"github.com/yavinfive/eddie/internal/interpret"
	"github.com/yavinfive/eddie/internal/llm"
	"github.com/yavinfive/eddie/internal/mqtt"
	"github.com/yavinfive/eddie/internal/search"
	signalbridge "github.com/yavinfive/eddie/internal/signal"
	"github.com/yavinfive/eddie/internal/task"
	"github.com/yavinfive/eddie/internal/tools"
)

// main constructs the OS-level environment and delegates to [run] so
// the full lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point. Arguments are parsed by hand; the flag
// package's global state interferes with calling run concurrently from
// tests, and the surface here is tiny.
func run(ctx context.Context, stdout, stderr io.Writer, args []string) error {
	var configPath string
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		case command != "":
			cmdArgs = append(cmdArgs, args[i])
		default:
			return fmt.Errorf("unknown flag: %s", args[i])
		}
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, configPath)
	case "ask":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: eddie ask <question>")
		}
		return runAsk(ctx, stdout, configPath, cmdArgs)
	case "version":
		fmt.Fprintln(stdout, buildinfo.String())
		return nil
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Eddie - Conversational Signal Agent")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: eddie [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve        Start the daemon")
	fmt.Fprintln(w, "  ask          Ask a single question (for testing)")
	fmt.Fprintln(w, "  version      Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	return nil
}

// basePrompt is the persona part of every conversation's system
// message. The capability listing is injected per turn, only when the
// user message suggests tools will be needed.
const basePrompt = `You are %s, a helpful assistant reachable over Signal.
Keep answers short and conversational; this is a phone messenger, not a document.
Answer in the language the user writes in.
When you call a function, reply with only the call and nothing else.`

func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}))
}

func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	return cfg, cfgPath, nil
}

// buildCore assembles the model client, conversation store, registry,
// interpreter, dispatcher, and orchestrator shared by serve and ask.
// The task manager is only wired when taskStore is non-nil.
func buildCore(cfg *config.Config, taskStore *task.Store, notifier dispatch.Notifier, logger *slog.Logger) (*agent.Orchestrator, *convo.Store, *tools.Registry, *task.Manager) {
	// The context budget is in bytes; the runtime wants tokens. Four
	// bytes per token is the same approximation pruning uses.
	model := llm.NewOllamaClient(
		cfg.Model.URL, cfg.Model.Name, cfg.Model.ContextBytes/4,
		time.Duration(cfg.Model.TimeoutSec)*time.Second,
		cfg.Model.KeepAlive, logger,
	)

	botName := cfg.Signal.BotName
	if botName == "" {
		botName = "Eddie"
	}
	store := convo.NewStore(func() string {
		return fmt.Sprintf(basePrompt, botName)
	})

	var tasks *task.Manager
	if taskStore != nil {
		tasks = task.NewManager(taskStore, task.Limits{
			QuotaPerUser: cfg.Tasks.QuotaPerUser,
			MinTitle:     cfg.Tasks.MinTitle,
			MaxTitle:     cfg.Tasks.MaxTitle,
			MaxDuration:  cfg.Tasks.MaxDuration,
		}, logger)
	}

	searcher := search.NewManager(cfg.Search.Provider)
	if cfg.Search.APIKey != "" {
		searcher.Register(search.NewBrave(cfg.Search.APIKey))
	}

	registry := tools.NewRegistry()
	deps := tools.Deps{
		Fetch: fetch.New(),
		Geo:   geo.New(),
	}
	if cfg.Search.APIKey != "" {
		deps.Search = searcher
	}
	if tasks != nil {
		deps.Tasks = tasks
	}
	tools.RegisterBuiltins(registry, deps)

	dispatcher := dispatch.New(registry, notifier, cfg.Agent.MaxToolResultBytes, logger)
	interp := interpret.New(registry.Known())

	orch := agent.New(model, store, registry, dispatcher, interp, agent.Options{
		MaxToolDepth: cfg.Agent.MaxToolDepth,
		EmptyRetries: cfg.Agent.EmptyRetries,
		ContextBytes: cfg.Model.ContextBytes,
	}, logger)

	return orch, store, registry, tasks
}

// runServe starts the daemon: Signal bridge, task scheduler, and the
// optional MQTT status publisher.
func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	logger := newLogger(stdout, slog.LevelInfo)
	logger.Info("starting eddie",
		"version", buildinfo.Version, "commit", buildinfo.GitCommit, "built", buildinfo.BuildTime)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if cfg.LogLevel != "" {
		level, err := config.ParseLogLevel(cfg.LogLevel)
		if err != nil {
			return err
		}
		logger = newLogger(stdout, level)
	}
	logger.Info("config loaded", "path", cfgPath,
		"model", cfg.Model.Name, "model_url", cfg.Model.URL)

	if cfg.Signal.URL == "" || cfg.Signal.Number == "" {
		return fmt.Errorf("serve requires signal.url and signal.number in config")
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data directory %s: %w", cfg.DataDir, err)
	}
	dbPath := filepath.Join(cfg.DataDir, "eddie.db")
	taskStore, err := task.NewStore(dbPath)
	if err != nil {
		return err
	}
	defer taskStore.Close()
	routeStore, err := signalbridge.NewRouteStore(dbPath)
	if err != nil {
		return err
	}
	defer routeStore.Close()

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	client := signalbridge.NewClient(cfg.Signal.URL, cfg.Signal.Number, logger)

	// The bridge needs the orchestrator and the dispatcher's notifier is
	// the bridge itself, so wire in two steps.
	var bridge *signalbridge.Bridge
	orch, store, _, tasks := buildCore(cfg, taskStore, notifierFunc(func(conversationID, text string) error {
		return bridge.SendMessage(conversationID, text)
	}), logger)

	bridge = signalbridge.NewBridge(signalbridge.BridgeConfig{
		Client:    client,
		Responder: orch,
		Convos:    store,
		Routes:    routeStore,
		Logger:    logger,
		BotName:   cfg.Signal.BotName,
		Admins:    cfg.Signal.Admins,
	})

	tasks.Bind(taskHost{orch: orch, bridge: bridge})
	if err := tasks.Recover(); err != nil {
		return fmt.Errorf("recover tasks: %w", err)
	}
	defer tasks.Close()

	if cfg.MQTT.Broker != "" {
		pub := mqtt.New(cfg.MQTT, mqttStats{store: store, tasks: tasks}, logger)
		go func() {
			if err := pub.Start(ctx); err != nil {
				logger.Error("mqtt publisher failed", "error", err)
			}
		}()
		defer func() {
			stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer stopCancel()
			if err := pub.Stop(stopCtx); err != nil {
				logger.Warn("mqtt shutdown failed", "error", err)
			}
		}()
	}

	go client.Start(ctx)
	bridge.Run(ctx)

	logger.Info("eddie stopped")
	return nil
}

// runAsk boots a minimal core (no Signal, no tasks, no MQTT) and
// answers one question on the command line.
func runAsk(ctx context.Context, stdout io.Writer, configPath string, args []string) error {
	logger := newLogger(stdout, slog.LevelWarn)

	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	orch, _, _, _ := buildCore(cfg, nil, nil, logger)

	answer, err := orch.HandleUserTurn(ctx, "cli", "cli-user", strings.Join(args, " "))
	if err != nil {
		return fmt.Errorf("ask: %w", err)
	}
	fmt.Fprintln(stdout, answer)
	return nil
}

// notifierFunc adapts a closure to the dispatch.Notifier interface.
type notifierFunc func(conversationID, text string) error

func (f notifierFunc) SendMessage(conversationID, text string) error {
	return f(conversationID, text)
}

// taskHost joins the orchestrator's query primitive with the bridge's
// delivery path for the task scheduler.
type taskHost struct {
	orch   *agent.Orchestrator
	bridge *signalbridge.Bridge
}

func (h taskHost) SendMessage(conversationID, text string) error {
	return h.bridge.SendMessage(conversationID, text)
}

func (h taskHost) Query(ctx context.Context, userID, prompt, conversationID string) (string, error) {
	return h.orch.Query(ctx, userID, prompt, conversationID)
}

// mqttStats adapts runtime state to the MQTT publisher.
type mqttStats struct {
	store *convo.Store
	tasks *task.Manager
}

func (s mqttStats) Uptime() time.Duration { return buildinfo.Uptime() }
func (s mqttStats) Version() string       { return buildinfo.Version }
func (s mqttStats) Conversations() int    { return s.store.Len() }
func (s mqttStats) ActiveTasks() int      { return len(s.tasks.List("")) }

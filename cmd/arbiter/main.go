package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mknight/arbiter/internal/api"
	"github.com/mknight/arbiter/internal/bridge"
	"github.com/mknight/arbiter/internal/config"
	"github.com/mknight/arbiter/internal/dispatch"
	"github.com/mknight/arbiter/internal/events"
	"github.com/mknight/arbiter/internal/log"
	"github.com/mknight/arbiter/internal/queue"
	"github.com/mknight/arbiter/internal/registry"
	"github.com/mknight/arbiter/internal/router"
	"github.com/mknight/arbiter/internal/storage"
	"github.com/mknight/arbiter/internal/tui/watch"
	"github.com/mknight/arbiter/internal/worker"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

func runCLI(cliArgs []string) int {
	if len(cliArgs) < 1 {
		printUsage()
		return 1
	}

	cmd := cliArgs[0]
	args := cliArgs[1:]

	switch cmd {
	case "serve":
		return runServe(args)
	case "analyze":
		return runOneShot(args, "analyze")
	case "execute":
		return runOneShot(args, "execute")
	case "fix":
		return runFix(args)
	case "status":
		return runStatus(args)
	case "watch":
		return runWatch(args)
	case "version", "--version":
		return runVersion(args)
	case "help", "--help", "-h":
		printUsage()
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		return 1
	}
}

// engine bundles the constructed core for one process.
type engine struct {
	dispatcher *dispatch.Dispatcher
	pool       *worker.Pool
	hub        *events.Hub
	bridge     *bridge.Client
	closeFns   []func()
}

func (e *engine) close() {
	e.pool.Close()
	if e.bridge != nil {
		_ = e.bridge.Stop()
	}
	for i := len(e.closeFns) - 1; i >= 0; i-- {
		e.closeFns[i]()
	}
}

// buildEngine wires the registry, router, queue, pool, bridge, and storage
// from configuration.
func buildEngine(ctx context.Context, cfg *config.Config) (*engine, error) {
	logger := log.WithComponent("main")

	reg, err := registry.Load(cfg.Registry.Manifest)
	if err != nil {
		return nil, fmt.Errorf("load registry: %w", err)
	}
	logger.Info("registry loaded", "capabilities", reg.Len(), "max_tier", reg.MaxTier())

	e := &engine{hub: events.NewHub(cfg.Pool.EventBufferCap)}

	var joblog *storage.JobLog
	if cfg.Storage.Path != "" {
		db, err := storage.OpenSQLite(ctx, cfg.Storage.Path)
		if err != nil {
			return nil, fmt.Errorf("open job log: %w", err)
		}
		e.closeFns = append(e.closeFns, func() { _ = db.Close() })
		joblog = storage.NewJobLog(db)
		logger.Info("job log opened", "path", cfg.Storage.Path)
	}

	var exec worker.Executor = worker.LocalExecutor{}
	if cfg.Bridge.Enabled {
		e.bridge = bridge.New(cfg.Bridge, e.hub)
		if err := e.bridge.Start(ctx); err != nil {
			logger.Warn("bridge failed to start, running degraded", "error", err)
		}
		exec = worker.NewBridgeExecutor(e.bridge)
	}

	q := queue.New(cfg.Pool.QueueCapacity)
	e.pool = worker.NewPool(cfg.Pool, q, exec, e.hub, joblog)
	e.pool.Start(ctx)

	rt := router.New(cfg.Router)
	var stater dispatch.BridgeStater
	if e.bridge != nil {
		stater = e.bridge
	}
	e.dispatcher = dispatch.New(reg, rt, dispatch.PoolAdapter{Pool: e.pool}, stater)
	return e, nil
}

func loadConfig(configPath string) (*config.Config, error) {
	if configPath == "" {
		discovered, err := config.DiscoverConfigPath()
		if err != nil {
			// No config anywhere: run on defaults.
			return config.Defaults(), nil
		}
		configPath = discovered
	}
	return config.Load(configPath)
}

func runServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.Setup(cfg.Service.LogLevel, cfg.Service.LogFormat)
	logger := log.WithComponent("main")
	logger.Info("arbiter starting", "version", version, "workers", cfg.Pool.Workers)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eng, err := buildEngine(ctx, cfg)
	if err != nil {
		logger.Error("engine construction failed", "error", err)
		return 1
	}
	defer eng.close()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	if cfg.API.Enabled {
		srv := api.New(cfg.API, eng.dispatcher, eng.hub)
		go func() {
			if err := srv.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- err
			}
		}()
	}

	select {
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
		cancel()
		return 0
	case err := <-errCh:
		logger.Error("server failed", "error", err)
		return 1
	}
}

// runOneShot builds a local engine, runs a single analyze or execute call,
// and prints the result as JSON.
func runOneShot(args []string, verb string) int {
	fs := flag.NewFlagSet(verb, flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}
	input := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if input == "" {
		fmt.Fprintf(os.Stderr, "Usage: arbiter %s [--config path] <text>\n", verb)
		return 1
	}

	return withLocalEngine(*configPath, func(ctx context.Context, eng *engine) (any, error) {
		if verb == "analyze" {
			return eng.dispatcher.Analyze(ctx, input)
		}
		return eng.dispatcher.Execute(ctx, input)
	})
}

func runFix(args []string) int {
	fs := flag.NewFlagSet("fix", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	codePath := fs.String("file", "", "Path to the code to fix (default: stdin)")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}
	issue := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if issue == "" {
		fmt.Fprintln(os.Stderr, "Usage: arbiter fix [--config path] [--file code.py] <issue description>")
		return 1
	}

	var code []byte
	var err error
	if *codePath != "" {
		code, err = os.ReadFile(*codePath)
	} else {
		code, err = readAllStdin()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read code: %v\n", err)
		return 1
	}
	if len(code) == 0 {
		fmt.Fprintln(os.Stderr, "No code to fix")
		return 1
	}

	return withLocalEngine(*configPath, func(ctx context.Context, eng *engine) (any, error) {
		return eng.dispatcher.Fix(ctx, string(code), issue)
	})
}

// withLocalEngine runs fn against a locally constructed engine and prints the
// JSON result. The engine is torn down before returning.
func withLocalEngine(configPath string, fn func(context.Context, *engine) (any, error)) int {
	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	// One-shot runs keep stderr quiet unless something goes wrong.
	log.Setup("warn", cfg.Service.LogFormat)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	eng, err := buildEngine(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Engine construction failed: %v\n", err)
		return 1
	}
	defer eng.close()

	out, err := fn(ctx, eng)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return printJSON(out)
}

func runStatus(args []string) int {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	apiURL := fs.String("api", "http://127.0.0.1:8080", "Base URL of a running arbiter API")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(strings.TrimRight(*apiURL, "/") + "/v1/status")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to reach %s: %v\n", *apiURL, err)
		return 1
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "Status request failed: %s\n", resp.Status)
		return 1
	}

	var st dispatch.StatusOutput
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to decode status: %v\n", err)
		return 1
	}
	return printJSON(st)
}

func runWatch(args []string) int {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	apiURL := fs.String("api", "http://127.0.0.1:8080", "Base URL of a running arbiter API")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	m := watch.New(strings.TrimRight(*apiURL, "/"))
	p := tea.NewProgram(m)
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Watch failed: %v\n", err)
		return 1
	}
	return 0
}

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func runVersion(args []string) int {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "Output version metadata as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	if *jsonOut {
		return printJSON(versionInfo{Version: version, Commit: gitCommit, BuildTime: buildDate})
	}
	fmt.Printf("arbiter %s (%s, built %s)\n", version, gitCommit, buildDate)
	return 0
}

func printJSON(v any) int {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render JSON: %v\n", err)
		return 1
	}
	fmt.Println(string(data))
	return 0
}

func readAllStdin() ([]byte, error) {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return nil, err
	}
	if stat.Mode()&os.ModeCharDevice != 0 {
		// Interactive terminal with no piped input.
		return nil, nil
	}
	return io.ReadAll(os.Stdin)
}

func printUsage() {
	fmt.Fprint(os.Stderr, `arbiter - task dispatch and capability routing engine

Usage:
  arbiter serve [--config path]         Run the engine with its HTTP API
  arbiter analyze [--config path] TEXT  Route and analyze a request
  arbiter execute [--config path] CMD   Route and execute a command
  arbiter fix [--file code] ISSUE       Fix code (reads stdin without --file)
  arbiter status [--api url]            Snapshot a running engine
  arbiter watch [--api url]             Live terminal monitor
  arbiter version [--json]              Print version metadata
  arbiter help                          Show this help
`)
}

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"chromectl/journal"
)

const version = "1.0.0"

func printVersion() {
	fmt.Printf("chromectl v%s\n", version)
	fmt.Println("Scroll-driven navigation-visibility controller daemon")
}

func printUsage() {
	printVersion()
	fmt.Println()
	fmt.Println("USAGE:")
	fmt.Println("  chromectl [OPTIONS]")
	fmt.Println()
	fmt.Println("DESCRIPTION:")
	fmt.Println("  Daemon that decides whether scroll-reactive chrome (navigation bars,")
	fmt.Println("  toolbars) should be visible. Host surfaces stream scroll/viewport")
	fmt.Println("  telemetry over WebSocket (or a local evdev scroll wheel); navigation")
	fmt.Println("  views subscribe to visibility snapshots over a state WebSocket or")
	fmt.Println("  query them over a Unix-socket IPC interface.")
	fmt.Println()
	fmt.Println("OPTIONS:")
	fmt.Println("  -config string")
	fmt.Println("        Path to YAML config file (optional; defaults are used without one)")
	fmt.Println()
	fmt.Println("  -listen string")
	fmt.Println("        HTTP listen address for /telemetry, /state and debug endpoints")
	fmt.Println("        (default \":8372\")")
	fmt.Println()
	fmt.Println("  -ipc-socket string")
	fmt.Println("        Unix domain socket path for IPC (default \"/tmp/chromectl.sock\")")
	fmt.Println()
	fmt.Println("  -journal-path string")
	fmt.Println("        SQLite transition journal path (default \"~/.local/share/chromectl/journal.db\")")
	fmt.Println()
	fmt.Println("  -no-journal")
	fmt.Println("        Disable the transition journal")
	fmt.Println()
	fmt.Println("  -wheel-device string")
	fmt.Println("        Linux input event device for a local scroll wheel (enables the")
	fmt.Println("        wheel telemetry source, e.g. /dev/input/event3)")
	fmt.Println()
	fmt.Println("  -log-level string")
	fmt.Println("        Log level: error, warn, info, debug (default \"info\")")
	fmt.Println()
	fmt.Println("  -version")
	fmt.Println("        Print version and exit")
	fmt.Println()
	fmt.Println("  -help")
	fmt.Println("        Print this help message")
	fmt.Println()
	fmt.Println("ENDPOINTS:")
	fmt.Println("  ws://HOST/telemetry    host surfaces: hello + scroll/viewport reports")
	fmt.Println("  ws://HOST/state        watchers: coalesced snapshot broadcasts")
	fmt.Println("  http://HOST/healthz    liveness + session count")
	fmt.Println("  http://HOST/debug/sessions     active sessions with current state")
	fmt.Println("  http://HOST/debug/transitions  recent visibility flips from the journal")
	fmt.Println()
	fmt.Println("EXAMPLES:")
	fmt.Println("  # Start with defaults")
	fmt.Println("  chromectl")
	fmt.Println()
	fmt.Println("  # Config file plus an ad-hoc override")
	fmt.Println("  chromectl -config /etc/chromectl.yaml -log-level debug")
	fmt.Println()
	fmt.Println("  # Drive a console surface from a local scroll wheel")
	fmt.Println("  chromectl -wheel-device /dev/input/event3")
	fmt.Println()
	fmt.Println("NOTES:")
	fmt.Println("  - Controller tuning (thresholds, debounce, feature gates) lives in the")
	fmt.Println("    config file and can be patched per surface at runtime via IPC")
	fmt.Println("  - Invalid tuning values are clamped to safe defaults, never fatal")
	fmt.Println("  - The wheel device requires read access (root or the 'input' group)")
	fmt.Println()
}

func main() {
	// Check for version/help flags early
	for _, arg := range os.Args[1:] {
		if arg == "-version" || arg == "--version" {
			printVersion()
			return
		}
		if arg == "-help" || arg == "--help" || arg == "-h" {
			printUsage()
			return
		}
	}

	var (
		configPath  = flag.String("config", "", "Path to YAML config file")
		listenAddr  = flag.String("listen", "", "HTTP listen address")
		ipcSocket   = flag.String("ipc-socket", "", "Unix domain socket path for IPC")
		journalPath = flag.String("journal-path", "", "SQLite transition journal path")
		noJournal   = flag.Bool("no-journal", false, "Disable the transition journal")
		wheelDevice = flag.String("wheel-device", "", "Linux input event device for a local scroll wheel")
		logLevelStr = flag.String("log-level", "", "Log level: error, warn, info, debug")
		showVersion = flag.Bool("version", false, "Print version and exit")
		showHelp    = flag.Bool("help", false, "Print help message")
	)

	flag.Usage = printUsage
	flag.Parse()

	if *showHelp {
		printUsage()
		return
	}
	if *showVersion {
		printVersion()
		return
	}

	// Config file first, then flag overrides on top. Only flags the user
	// actually set are applied, so file values survive untouched flags.
	cfg := DefaultConfig()
	if *configPath != "" {
		loaded, err := LoadConfigFile(*configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	var overrides FlagOverrides
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "listen":
			overrides.ListenAddr = listenAddr
		case "ipc-socket":
			overrides.IPCSocketPath = ipcSocket
		case "journal-path":
			overrides.JournalPath = journalPath
		case "no-journal":
			enabled := !*noJournal
			overrides.JournalEnabled = &enabled
		case "wheel-device":
			overrides.WheelDevice = wheelDevice
		case "log-level":
			overrides.LogLevel = logLevelStr
		}
	})
	overrides.Apply(&cfg)

	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}

	logLevel, err := parseLogLevel(cfg.Logging.Level)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
	logger := setupLogger(logLevel)

	// Journal is best-effort observability: failure to open it degrades
	// to running without history, never a dead daemon.
	var jnl *journal.Journal
	if cfg.Journal.Enabled {
		j, err := journal.Open(ExpandPath(cfg.Journal.Path), logger.With("component", "journal"))
		if err != nil {
			logger.Warn("journal unavailable, continuing without transition history", "error", err)
		} else {
			jnl = j
			defer jnl.Close()
		}
	}

	mgr := NewSessionManager(cfg.ToControllerConfig(), jnl, logger.With("component", "sessions"))
	hub := NewHub(logger.With("component", "state_ws"), HubConfig{})
	mux := newMux(hub, mgr, jnl, logger)

	logger.Debug("starting chromectl", "version", version)
	logger.Info("listening",
		"http", cfg.HTTP.ListenAddr,
		"ipc", cfg.IPC.SocketPath,
		"journal_enabled", jnl != nil,
		"wheel_enabled", cfg.Wheel.Enabled)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(rootCtx)

	g.Go(func() error {
		hub.Run(ctx)
		return nil
	})
	g.Go(func() error {
		RunBroadcaster(ctx, hub, mgr.Broadcasts(), logger.With("component", "broadcaster"))
		return nil
	})
	g.Go(func() error {
		return runHTTPServer(ctx, cfg.HTTP.ListenAddr, mux, logger.With("component", "http"))
	})
	g.Go(func() error {
		return runIPCServer(ctx, cfg.IPC.SocketPath, mgr, jnl, logger.With("component", "ipc"))
	})
	if cfg.Wheel.Enabled {
		g.Go(func() error {
			return runWheelSource(ctx, cfg.Wheel, mgr, logger.With("component", "wheel"))
		})
	}

	err = g.Wait()
	mgr.CloseAll("shutdown")
	if err != nil {
		logger.Error("daemon stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("shut down cleanly")
}

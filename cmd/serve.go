package cmd

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/seralys/medgen-console/internal/api"
	"github.com/seralys/medgen-console/internal/bus"
	"github.com/seralys/medgen-console/internal/ingest"
	"github.com/seralys/medgen-console/internal/store"
	"github.com/seralys/medgen-console/internal/ui"
	"github.com/spf13/cobra"
)

var (
	noTUI     bool
	forceTUI  bool
	watchDocs bool
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the TUI dashboard and background services",
	Long: `Start the MedGen Console which includes:

1. Terminal User Interface (TUI) for the test case dashboard
2. REST client for the test generation backend
3. Local activity journal for uploads, runs and exports
4. Optional watch folder that auto-uploads new requirement documents

The serve command runs until interrupted (Ctrl+C) and handles:
- Document upload, requirement extraction and test case generation
- Compliance and risk reporting with CSV export
- Jira push with issue key mapping
- Graceful shutdown of all components

Examples:
  # Start with TUI (default)
  medgen-console serve

  # Start without TUI (headless mode)
  medgen-console serve --no-tui

  # Also watch the incoming folder for new documents
  medgen-console serve --watch`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().BoolVar(&noTUI, "no-tui", false, "Run in headless mode without TUI")
	serveCmd.Flags().BoolVar(&forceTUI, "force-tui", false, "Force TUI mode even in unsupported terminals")
	serveCmd.Flags().BoolVar(&watchDocs, "watch", false, "Watch the incoming folder and auto-upload new documents")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	config := GetConfig()

	// Initialize logger - use file logging for TUI mode to keep terminal clean
	var logger *log.Logger
	var logFile *os.File
	willUseTUI := determineTUIMode(cmd, args)

	if willUseTUI {
		// Silent TUI mode: logs go to file, errors still visible on terminal
		logFile = setupFileLogger()
		if logFile != nil {
			// Use multi-writer: file for all logs, stderr for errors only
			logger = log.New(io.MultiWriter(logFile, &errorFilterWriter{os.Stderr}), "[serve] ", log.LstdFlags)
			defer logFile.Close()
		} else {
			// Fallback to stderr if file creation fails
			logger = log.New(os.Stderr, "[serve] ", log.LstdFlags)
		}
	} else {
		// Headless mode: normal stderr logging
		logger = log.New(os.Stderr, "[serve] ", log.LstdFlags)
	}

	logger.Println("Starting MedGen Console")

	// Initialize store
	logger.Println("Initializing activity journal...")
	baseDir := getWorkingDir()
	resolvedDBPath := resolvePathRelativeToBase(baseDir, config.Database.Path)
	logger.Printf("Using database at %s", resolvedDBPath)
	st, err := store.NewStore(resolvedDBPath)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer st.Close()

	// Initialize bus (Redis or Null)
	logger.Println("Connecting to event bus...")
	var busLogger *log.Logger = logger
	if willUseTUI {
		// Silence bus logs while TUI is active to avoid bottom-of-screen noise
		busLogger = log.New(io.Discard, "", 0)
	}
	eventBus := bus.NewBus(config.Redis.URL, busLogger)
	defer eventBus.Close()

	// Initialize backend client. In TUI mode its request logs go to the serve
	// log file so they never touch the screen.
	clientLogger := logger
	if willUseTUI {
		if logFile != nil {
			clientLogger = log.New(logFile, "[api] ", log.LstdFlags)
		} else {
			clientLogger = log.New(io.Discard, "[api] ", log.LstdFlags)
		}
	}
	client, err := api.NewClient(config.API.URL, clientLogger)
	if err != nil {
		return fmt.Errorf("failed to initialize backend client: %w", err)
	}

	// Probe the backend once so a dead backend shows up in the logs right away
	healthCtx, healthCancel := context.WithTimeout(ctx, 5*time.Second)
	if err := client.HealthCheck(healthCtx); err != nil {
		logger.Printf("Backend health check failed: %v (the console starts anyway)", err)
	} else {
		logger.Printf("Backend is healthy at %s", client.BaseURL())
	}
	healthCancel()

	// Create service coordinator (silence service logs when TUI is active)
	var svcLogger *log.Logger = logger
	if willUseTUI {
		svcLogger = log.New(io.Discard, "", 0)
	}

	// Create a cancellable context for the service coordinator
	// This allows us to properly shut down background services when TUI exits
	svcCtx, svcCancel := context.WithCancel(ctx)
	defer svcCancel() // Ensure cleanup happens

	coordinator := &ServiceCoordinator{
		store:  st,
		bus:    eventBus,
		client: client,
		logger: svcLogger,
		ctx:    svcCtx,
	}

	// Start background services
	logger.Println("Starting background services...")
	if err := coordinator.Start(); err != nil {
		return fmt.Errorf("failed to start services: %w", err)
	}
	defer coordinator.Stop()

	// Optional watch folder: uploads new requirement documents automatically
	startWatcher := func(lg *log.Logger) {
		dir := resolvePathRelativeToBase(baseDir, config.Watch.Dir)
		if err := os.MkdirAll(dir, 0755); err != nil {
			logger.Printf("Warning: Could not create watch directory %s: %v", dir, err)
		}
		fing := ingest.NewFolderIngestor(client, st, eventBus, ingest.FolderOptions{
			Dir:    dir,
			Watch:  true,
			Logger: lg,
		})
		go func() {
			if err := fing.Run(svcCtx); err != nil && svcCtx.Err() == nil {
				logger.Printf("Watch folder error: %v", err)
			}
		}()
	}

	// Start TUI if not in headless mode
	if !noTUI {
		logger.Println("Starting TUI...")
		logger.Printf("Terminal info: %s", getTerminalInfo())

		// Test if TUI can be initialized (unless forced)
		if !forceTUI && !canInitializeTUI() {
			// Check if we can fix this with pseudo-TTY
			if needsPseudoTTY() {
				logger.Println("No TTY available, using script command for pseudo-TTY...")
				return runWithPseudoTTY(cmd, args)
			}
			logger.Println("TUI cannot be initialized in this terminal environment")
			logger.Println("Automatically switching to headless mode...")
			logger.Println("")
			logger.Println("For full TUI experience, use:")
			logger.Println("  1. Native terminal (gnome-terminal, iTerm2, etc.)")
			logger.Println("  2. SSH with proper TERM settings")
			logger.Println("")
			logger.Println("Current alternatives:")
			logger.Println("  - CLI commands: ./bin/medgen-console list")
			logger.Println("  - Headless mode: ./bin/medgen-console serve --no-tui")
			logger.Println("")

			// Switch to headless mode
			noTUI = true
		} else {
			// Create logs directory and a file-backed logger for UI to prevent terminal corruption
			logDir := filepath.Join(baseDir, "logs")
			if err := os.MkdirAll(logDir, 0755); err != nil {
				logger.Printf("Warning: Could not create logs directory: %v", err)
			}
			logPath := filepath.Join(logDir, "medgen-console-ui.log")
			uiLogFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
			if err != nil {
				// Fallback to discard if file creation fails
				logger.Printf("Warning: Could not create UI log file at %s: %v", logPath, err)
				uiLogFile = nil
			}

			var uiLogger *log.Logger
			if uiLogFile != nil {
				uiLogger = log.New(uiLogFile, "[UI] ", log.LstdFlags)
				// Emit an initial marker to the UI log so it's easy to find and verify.
				uiLogger.Printf("UI logger initialized (path=%s)", logPath)
				_ = uiLogFile.Sync()
				defer uiLogFile.Close()
			} else {
				uiLogger = log.New(io.Discard, "[UI] ", log.LstdFlags)
			}

			// Route watcher logs to the UI file logger so TUI output stays clean
			if watchDocs {
				startWatcher(uiLogger)
			}

			console := ui.NewUI(ctx, client, st, eventBus, uiLogger)
			console.SetExportsDir(resolvePathRelativeToBase(baseDir, config.Exports.Dir))

			// Start TUI directly - tcell can handle terminal compatibility
			if err := console.Start(ctx); err != nil {
				return fmt.Errorf("TUI error: %w", err)
			}
		}
	}

	// Cancel service context when TUI exits to properly shut down background services
	if !noTUI {
		logger.Println("TUI exited, cancelling background services...")
		svcCancel()
	}

	if noTUI {
		if watchDocs {
			startWatcher(logger)
		}
		logger.Println("Running in headless mode...")
		// Wait for context cancellation
		<-ctx.Done()
		logger.Println("Received shutdown signal")
	}

	logger.Println("MedGen Console stopped")
	return nil
}

// canInitializeTUI tests if tcell can actually be initialized
func canInitializeTUI() bool {
	screen, err := tcell.NewScreen()
	if err != nil {
		return false
	}

	err = screen.Init()
	if err != nil {
		return false
	}

	// Clean up immediately
	screen.Fini()
	return true
}

// getTerminalInfo returns detailed terminal information
func getTerminalInfo() string {
	var info []string

	term := os.Getenv("TERM")
	if term == "" {
		info = append(info, "TERM=<not set>")
	} else {
		info = append(info, fmt.Sprintf("TERM=%s", term))
	}

	termProgram := os.Getenv("TERM_PROGRAM")
	if termProgram != "" {
		info = append(info, fmt.Sprintf("TERM_PROGRAM=%s", termProgram))
	}

	if width, height := getTerminalSize(); width > 0 && height > 0 {
		info = append(info, fmt.Sprintf("Size=%dx%d", width, height))
	}

	if isTerminal() {
		info = append(info, "TTY=yes")
	} else {
		info = append(info, "TTY=no")
	}

	if supportsColors() {
		info = append(info, "Colors=yes")
	} else {
		info = append(info, "Colors=no")
	}

	return strings.Join(info, ", ")
}

// getExecutableDir returns the directory of the running executable.
// Falls back to current directory on error.
func getExecutableDir() string {
	exe, err := os.Executable()
	if err != nil {
		return "."
	}
	return filepath.Dir(exe)
}

// getWorkingDir returns the current working directory.
// Falls back to executable directory if os.Getwd fails.
func getWorkingDir() string {
	if wd, err := os.Getwd(); err == nil && wd != "" {
		return wd
	}
	return getExecutableDir()
}

// resolvePathRelativeToBase resolves a possibly relative path against a base directory.
// Absolute paths are returned unchanged.
func resolvePathRelativeToBase(base, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	// Normalize leading "./" for consistent joining
	p = strings.TrimPrefix(p, "./")
	return filepath.Join(base, p)
}

// terminalSizeFromEnv reads COLUMNS/LINES when the shell exports them.
func terminalSizeFromEnv() (int, int, bool) {
	cols := os.Getenv("COLUMNS")
	rows := os.Getenv("LINES")
	if cols == "" || rows == "" {
		return 0, 0, false
	}
	c, errCols := strconv.Atoi(cols)
	r, errRows := strconv.Atoi(rows)
	if errCols != nil || errRows != nil {
		return 0, 0, false
	}
	return c, r, true
}

// isTerminal checks if stdout is a terminal
func isTerminal() bool {
	if fileInfo, err := os.Stdout.Stat(); err == nil {
		return (fileInfo.Mode() & os.ModeCharDevice) != 0
	}
	return false
}

// supportsColors checks if terminal supports colors
func supportsColors() bool {
	term := strings.ToLower(os.Getenv("TERM"))

	// Check for color support indicators
	colorTerms := []string{"color", "256", "truecolor", "24bit"}
	for _, colorTerm := range colorTerms {
		if strings.Contains(term, colorTerm) {
			return true
		}
	}

	// Check COLORTERM environment variable
	if colorTerm := os.Getenv("COLORTERM"); colorTerm != "" {
		return true
	}

	// Known color-supporting terminals
	supportedTerms := []string{"xterm", "screen", "tmux", "linux", "ansi"}
	for _, supported := range supportedTerms {
		if strings.Contains(term, supported) {
			return true
		}
	}

	return false
}

// ServiceCoordinator manages background services
type ServiceCoordinator struct {
	store  *store.Store
	bus    bus.Bus
	client *api.Client
	logger *log.Logger
	ctx    context.Context

	// Service state
	wg      sync.WaitGroup
	running bool
}

// Start starts all background services
func (sc *ServiceCoordinator) Start() error {
	if sc.running {
		return fmt.Errorf("services already running")
	}

	sc.running = true

	// Start backend health monitor
	sc.wg.Add(1)
	go sc.runHealthMonitor()

	// Start stats collector
	sc.wg.Add(1)
	go sc.runStatsCollector()

	sc.logger.Println("Background services started")
	return nil
}

// Stop stops all background services
func (sc *ServiceCoordinator) Stop() {
	if !sc.running {
		return
	}

	sc.logger.Println("Stopping background services...")
	sc.running = false

	// Wait for all goroutines to finish
	sc.wg.Wait()

	sc.logger.Println("Background services stopped")
}

// runHealthMonitor periodically probes the backend and the event bus
func (sc *ServiceCoordinator) runHealthMonitor() {
	defer sc.wg.Done()

	sc.logger.Println("Starting health monitor")
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-sc.ctx.Done():
			sc.logger.Println("Health monitor stopping")
			return
		case <-ticker.C:
			sc.performHealthChecks()
		}
	}
}

// runStatsCollector collects and logs system stats
func (sc *ServiceCoordinator) runStatsCollector() {
	defer sc.wg.Done()

	sc.logger.Println("Starting stats collector")
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-sc.ctx.Done():
			sc.logger.Println("Stats collector stopping")
			return
		case <-ticker.C:
			sc.collectStats()
		}
	}
}

// performHealthChecks checks the health of all components
func (sc *ServiceCoordinator) performHealthChecks() {
	ctx, cancel := context.WithTimeout(sc.ctx, 30*time.Second)
	defer cancel()

	// Check Redis connection
	if err := sc.bus.HealthCheck(ctx); err != nil {
		sc.logger.Printf("Redis health check failed: %v", err)
	}

	// Check backend availability
	if err := sc.client.HealthCheck(ctx); err != nil {
		sc.logger.Printf("Backend health check failed: %v", err)
	} else {
		sc.logger.Println("Backend healthy")
	}
}

// collectStats logs document and journal counts
func (sc *ServiceCoordinator) collectStats() {
	ctx, cancel := context.WithTimeout(sc.ctx, 30*time.Second)
	defer cancel()

	files, err := sc.client.ListFiles(ctx)
	if err != nil {
		sc.logger.Printf("Failed to list documents: %v", err)
	} else {
		byStatus := make(map[string]int)
		for _, f := range files {
			byStatus[f.Status]++
		}
		sc.logger.Printf("Backend stats: %d documents, status breakdown %v", len(files), byStatus)
	}

	entries, err := sc.store.RecentActivity(ctx, "", 200)
	if err != nil {
		sc.logger.Printf("Failed to read activity journal: %v", err)
	} else {
		sc.logger.Printf("Journal stats: %d recent entries", len(entries))
	}
}

// needsPseudoTTY checks if we need to use script command for pseudo-TTY
func needsPseudoTTY() bool {
	// Try to actually open /dev/tty (not just check if it exists)
	if file, err := os.OpenFile("/dev/tty", os.O_RDWR, 0); err == nil {
		file.Close()
		return false
	}
	return true
}

// runWithPseudoTTY re-executes the command using script for pseudo-TTY
func runWithPseudoTTY(cmd *cobra.Command, args []string) error {
	// Get the current executable path
	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}

	// Build the command arguments
	cmdArgs := []string{"serve"}
	cmdArgs = append(cmdArgs, args...)

	// Add force-tui flag if not already present
	hasForceTUI := false
	for _, arg := range args {
		if arg == "--force-tui" {
			hasForceTUI = true
			break
		}
	}
	if !hasForceTUI {
		cmdArgs = append(cmdArgs, "--force-tui")
	}

	// Build the full command string with proper quoting
	quotedExecutable := fmt.Sprintf(`"%s"`, executable)
	quotedArgs := make([]string, len(cmdArgs))
	for i, arg := range cmdArgs {
		quotedArgs[i] = fmt.Sprintf(`"%s"`, arg)
	}

	fullCmd := fmt.Sprintf("TERM=%s %s %s",
		os.Getenv("TERM"),
		quotedExecutable,
		strings.Join(quotedArgs, " "))

	// Use script command to create pseudo-TTY
	scriptCmd := exec.Command("script", "-qec", fullCmd, "/dev/null")
	scriptCmd.Stdin = os.Stdin
	scriptCmd.Stdout = os.Stdout
	scriptCmd.Stderr = os.Stderr

	// Set environment variables
	scriptCmd.Env = os.Environ()

	return scriptCmd.Run()
}

// determineTUIMode determines if TUI will be used (extracted for logging setup)
func determineTUIMode(cmd *cobra.Command, args []string) bool {
	if noTUI {
		return false
	}
	if !forceTUI && !canInitializeTUI() {
		// Check if we can fix this with pseudo-TTY
		if needsPseudoTTY() {
			// Will use pseudo-TTY, so TUI mode
			return true
		}
		// Will fall back to headless
		return false
	}
	return true
}

// setupFileLogger creates a log file for TUI mode
func setupFileLogger() *os.File {
	baseDir := getWorkingDir()
	logDir := filepath.Join(baseDir, "logs")
	if err := os.MkdirAll(logDir, 0755); err != nil {
		// If we can't create logs directory, we'll fall back to stderr
		return nil
	}

	logPath := filepath.Join(logDir, "medgen-console-serve.log")
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		// If we can't create the log file, we'll fall back to stderr
		return nil
	}

	return logFile
}

// errorFilterWriter only writes error messages to the underlying writer
type errorFilterWriter struct {
	writer io.Writer
}

func (w *errorFilterWriter) Write(p []byte) (n int, err error) {
	// Only write if the log message contains error indicators
	logMsg := string(p)
	lc := strings.ToLower(logMsg)

	if strings.Contains(lc, "error") ||
		strings.Contains(lc, "failed") ||
		strings.Contains(lc, "panic") {
		return w.writer.Write(p)
	}
	// Suppress non-error logs in TUI mode
	return len(p), nil
}

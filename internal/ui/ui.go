package ui

import (
	"context"
	"fmt"
	"log"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/google/uuid"
	"github.com/rivo/tview"
	"github.com/seralys/medgen-console/internal/api"
	"github.com/seralys/medgen-console/internal/bus"
	"github.com/seralys/medgen-console/internal/store"
)

/*
   Theming model

   - Lightweight Theme with widget colors (tcell.Color) and color tag strings for text markup.
   - Five palettes: dark (default), light, neon, high-contrast, colorblind-safe.
   - Keyboard-first UX: j/k selection move, g/G top/bottom, J/K page, Tab panels,
     t/T/C theme toggles, Esc clears status.
*/

// Theme defines UI color tokens used across widgets and text tags.
type Theme struct {
	// Widget colors
	Bg          tcell.Color
	Surface     tcell.Color
	Border      tcell.Color
	FocusBorder tcell.Color
	SelectionBg tcell.Color
	SelectionFg tcell.Color
	TextPrimary tcell.Color
	TextMuted   tcell.Color
	Accent      tcell.Color
	Success     tcell.Color
	Warning     tcell.Color
	Error       tcell.Color
	Header      tcell.Color

	// Table colors
	TableHeader   tcell.Color
	TableHeaderBg tcell.Color
	TableRow      tcell.Color
	TableRowMuted tcell.Color

	// Risk levels (widgets)
	RiskCritical tcell.Color
	RiskHigh     tcell.Color
	RiskMedium   tcell.Color
	RiskLow      tcell.Color

	// Text tag colors (for tview dynamic color markup)
	TagTextPrimary  string
	TagMuted        string
	TagAccent       string
	TagSuccess      string
	TagWarning      string
	TagError        string
	TagRiskCritical string
	TagRiskHigh     string
	TagRiskMedium   string
	TagRiskLow      string
}

// helpers
func hex(s string) tcell.Color { return tcell.GetColor(s) }

func themeDark() Theme {
	return Theme{
		Bg:          hex("#0e1116"),
		Surface:     hex("#12161e"),
		Border:      hex("#2b3240"),
		FocusBorder: hex("#4aa8ff"),
		SelectionBg: hex("#2b3240"),
		SelectionFg: hex("#cfd8e3"),
		TextPrimary: hex("#e6edf3"),
		TextMuted:   hex("#8a939f"),
		Accent:      hex("#2dd4bf"),
		Success:     hex("#22c55e"),
		Warning:     hex("#f59e0b"),
		Error:       hex("#ef4444"),
		Header:      hex("#eab308"),

		TableHeader:   hex("#eab308"),
		TableHeaderBg: hex("#1a2332"),
		TableRow:      hex("#e6edf3"),
		TableRowMuted: hex("#94a3b8"),

		RiskCritical: hex("#ff5f5f"),
		RiskHigh:     hex("#ffaf5f"),
		RiskMedium:   hex("#ffd75f"),
		RiskLow:      hex("#87ffaf"),

		TagTextPrimary:  "#e6edf3",
		TagMuted:        "#8a939f",
		TagAccent:       "#2dd4bf",
		TagSuccess:      "#22c55e",
		TagWarning:      "#f59e0b",
		TagError:        "#ef4444",
		TagRiskCritical: "#ff5f5f",
		TagRiskHigh:     "#ffaf5f",
		TagRiskMedium:   "#ffd75f",
		TagRiskLow:      "#87ffaf",
	}
}

func themeLight() Theme {
	return Theme{
		Bg:          hex("#f6f8fa"),
		Surface:     hex("#ffffff"),
		Border:      hex("#d0d7de"),
		FocusBorder: hex("#1f6feb"),
		SelectionBg: hex("#e2e8f0"),
		SelectionFg: hex("#111827"),
		TextPrimary: hex("#111827"),
		TextMuted:   hex("#6b7280"),
		Accent:      hex("#2563eb"),
		Success:     hex("#15803d"),
		Warning:     hex("#b45309"),
		Error:       hex("#b91c1c"),
		Header:      hex("#1f2937"),

		TableHeader:   hex("#1f2937"),
		TableHeaderBg: hex("#e5e7eb"),
		TableRow:      hex("#111827"),
		TableRowMuted: hex("#6b7280"),

		RiskCritical: hex("#dc2626"),
		RiskHigh:     hex("#f97316"),
		RiskMedium:   hex("#ca8a04"),
		RiskLow:      hex("#16a34a"),

		TagTextPrimary:  "#111827",
		TagMuted:        "#6b7280",
		TagAccent:       "#2563eb",
		TagSuccess:      "#15803d",
		TagWarning:      "#b45309",
		TagError:        "#b91c1c",
		TagRiskCritical: "#dc2626",
		TagRiskHigh:     "#f97316",
		TagRiskMedium:   "#ca8a04",
		TagRiskLow:      "#16a34a",
	}
}

func themeNeon() Theme {
	return Theme{
		Bg:          hex("#0a0e14"),
		Surface:     hex("#0d1117"),
		Border:      hex("#30363d"),
		FocusBorder: hex("#00ffd5"),
		SelectionBg: hex("#1f2937"),
		SelectionFg: hex("#e6edf3"),
		TextPrimary: hex("#e6edf3"),
		TextMuted:   hex("#7d8590"),
		Accent:      hex("#00ffd5"),
		Success:     hex("#3fb950"),
		Warning:     hex("#d29922"),
		Error:       hex("#f85149"),
		Header:      hex("#f0883e"),

		TableHeader:   hex("#f0883e"),
		TableHeaderBg: hex("#161b22"),
		TableRow:      hex("#e6edf3"),
		TableRowMuted: hex("#8b949e"),

		RiskCritical: hex("#ff4d4d"),
		RiskHigh:     hex("#ff9f40"),
		RiskMedium:   hex("#ffe14d"),
		RiskLow:      hex("#52ffa8"),

		TagTextPrimary:  "#e6edf3",
		TagMuted:        "#7d8590",
		TagAccent:       "#00ffd5",
		TagSuccess:      "#3fb950",
		TagWarning:      "#d29922",
		TagError:        "#f85149",
		TagRiskCritical: "#ff4d4d",
		TagRiskHigh:     "#ff9f40",
		TagRiskMedium:   "#ffe14d",
		TagRiskLow:      "#52ffa8",
	}
}

func themeHighContrast() Theme {
	return Theme{
		Bg:          hex("#000000"),
		Surface:     hex("#000000"),
		Border:      hex("#ffffff"),
		FocusBorder: hex("#ffff00"),
		SelectionBg: hex("#ffffff"),
		SelectionFg: hex("#000000"),
		TextPrimary: hex("#ffffff"),
		TextMuted:   hex("#cccccc"),
		Accent:      hex("#00ffff"),
		Success:     hex("#00ff00"),
		Warning:     hex("#ffff00"),
		Error:       hex("#ff0000"),
		Header:      hex("#ffffff"),

		TableHeader:   hex("#ffffff"),
		TableHeaderBg: hex("#000000"),
		TableRow:      hex("#ffffff"),
		TableRowMuted: hex("#cccccc"),

		RiskCritical: hex("#ff0000"),
		RiskHigh:     hex("#ff8800"),
		RiskMedium:   hex("#ffff00"),
		RiskLow:      hex("#00ff00"),

		TagTextPrimary:  "#ffffff",
		TagMuted:        "#cccccc",
		TagAccent:       "#00ffff",
		TagSuccess:      "#00ff00",
		TagWarning:      "#ffff00",
		TagError:        "#ff0000",
		TagRiskCritical: "#ff0000",
		TagRiskHigh:     "#ff8800",
		TagRiskMedium:   "#ffff00",
		TagRiskLow:      "#00ff00",
	}
}

func themeColorblindSafe() Theme {
	// ColorBrewer-inspired RdYlBu-like palette (safe-ish)
	return Theme{
		Bg:          hex("#0e1116"),
		Surface:     hex("#12161e"),
		Border:      hex("#2b3240"),
		FocusBorder: hex("#4aa8ff"),
		SelectionBg: hex("#2b3240"),
		SelectionFg: hex("#e6edf3"),
		TextPrimary: hex("#e6edf3"),
		TextMuted:   hex("#8a939f"),
		Accent:      hex("#80b1d3"),
		Success:     hex("#5ab4ac"),
		Warning:     hex("#fdb863"),
		Error:       hex("#d7191c"),
		Header:      hex("#fee08b"),

		TableHeader:   hex("#fee08b"),
		TableHeaderBg: hex("#232a38"),
		TableRow:      hex("#e6edf3"),
		TableRowMuted: hex("#94a3b8"),

		RiskCritical: hex("#d73027"),
		RiskHigh:     hex("#fc8d59"),
		RiskMedium:   hex("#fee08b"),
		RiskLow:      hex("#91bfdb"),

		TagTextPrimary:  "#e6edf3",
		TagMuted:        "#8a939f",
		TagAccent:       "#80b1d3",
		TagSuccess:      "#5ab4ac",
		TagWarning:      "#fdb863",
		TagError:        "#d7191c",
		TagRiskCritical: "#d73027",
		TagRiskHigh:     "#fc8d59",
		TagRiskMedium:   "#fee08b",
		TagRiskLow:      "#91bfdb",
	}
}

func detectTrueColor() bool {
	// Best-effort detection without initializing screen
	ct := strings.ToLower(os.Getenv("COLORTERM"))
	if strings.Contains(ct, "truecolor") || strings.Contains(ct, "24bit") {
		return true
	}
	term := strings.ToLower(os.Getenv("TERM"))
	if strings.Contains(term, "truecolor") || strings.Contains(term, "24bit") || strings.Contains(term, "256color") {
		return true
	}
	return false
}

// Backend file statuses, surfaced verbatim in the sidebar and overview.
const (
	StatusIngestion = "Ingestion"
	StatusExtracted = "Features Extracted"
	StatusGenerated = "Test Cases Generated"
	StatusPartial   = "Partially Test Cases Generated"
	StatusPushed    = "Test Cases Pushed to Jira"
)

// Backend health states (atomic).
const (
	healthUnknown int32 = iota
	healthOK
	healthDown
)

// themedScreen is implemented by sub-screens that want live theme updates.
type themedScreen interface {
	OnThemeChanged(theme Theme)
}

// UI represents the dashboard terminal interface
type UI struct {
	app    *tview.Application
	client *api.Client
	store  *store.Store
	bus    bus.Bus
	logger *log.Logger

	// Layout components
	layout       *tview.Flex
	appTitle     *tview.TextView
	overviewInfo *tview.TextView
	sidebar      *tview.List
	mainPanel    *tview.Flex
	fileDetail   *tview.TextView
	activityView *tview.TextView
	statusBar    *tview.TextView

	// State
	files          []api.FileInfo // filtered view
	allFiles       []api.FileInfo // source list from the backend
	selectedFileID string
	activity       []store.ActivityEntry
	loadingFiles   int32 // atomic flag to prevent concurrent file loads
	lastLoadStart  int64 // unix nano timestamp of last load start (for watchdog)
	detailSeq      int64 // monotonic selection sequence; stale detail fetches are dropped
	uploading      int32
	extracting     int32
	healthState    int32

	// Theme state
	theme         Theme
	themeName     string
	hasTrueColor  bool
	themeApplying int32

	// File filters (sidebar)
	fileFilterName   string
	fileFilterStatus string

	// Runtime
	running    bool
	helpActive bool
	lastFocus  tview.Primitive
	actor      string
	exportsDir string

	// Active sub-screen (for live theme propagation)
	activeScreen themedScreen

	// Global input capture for the dashboard (restored after sub-screens)
	globalInputCapture func(*tcell.EventKey) *tcell.EventKey

	// Multi-key shortcut state
	shortcutBuffer  string
	shortcutTimer   *time.Timer
	shortcutTimeout time.Duration

	// Context for cancellation
	ctx    context.Context
	cancel context.CancelFunc
}

// NewUI creates the dashboard
func NewUI(ctx context.Context, client *api.Client, st *store.Store, b bus.Bus, logger *log.Logger) *UI {
	if logger == nil {
		logger = log.New(log.Writer(), "[UI] ", log.LstdFlags)
	}
	if b == nil {
		b = bus.NewNullBus(logger)
	}

	uiCtx, cancel := context.WithCancel(ctx)

	ui := &UI{
		app:             tview.NewApplication(),
		client:          client,
		store:           st,
		bus:             b,
		logger:          logger,
		ctx:             uiCtx,
		cancel:          cancel,
		hasTrueColor:    detectTrueColor(),
		actor:           "console-" + uuid.NewString()[:8],
		exportsDir:      "exports",
		shortcutTimeout: 750 * time.Millisecond,
	}

	// Default theme
	ui.themeName = "dark"
	ui.theme = themeDark()

	ui.setupLayout()
	ui.setupKeybindings()
	ui.applyTheme() // apply colors after layout assembled

	return ui
}

// SetExportsDir overrides the directory CSV and report exports are written to.
func (ui *UI) SetExportsDir(dir string) {
	if strings.TrimSpace(dir) != "" {
		ui.exportsDir = dir
	}
}

// Start runs the application until quit or context cancellation.
func (ui *UI) Start(ctx context.Context) error {
	ui.logger.Println("Starting console")

	ui.running = true
	defer func() { ui.running = false }()

	// Load initial data in background
	go func() {
		ui.loadFiles()
		ui.loadActivity()
	}()

	ui.startHealthMonitor()
	ui.startActivityRefresher()
	ui.startRedrawHeartbeat()

	return ui.app.Run()
}

// Stop terminates the application.
func (ui *UI) Stop() {
	ui.logger.Println("Stopping console")
	ui.running = false
	ui.cancel()
	ui.app.Stop()
}

// setupLayout creates the main layout
func (ui *UI) setupLayout() {
	// App title header (non-selectable)
	ui.appTitle = tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignLeft)
	ui.appTitle.SetBorder(false)
	ui.appTitle.SetBackgroundColor(ui.theme.Surface)
	ui.appTitle.SetText(fmt.Sprintf(" [%s]MedGen Console[-]", ui.theme.TagAccent))

	// OVERVIEW info block (non-selectable)
	ui.overviewInfo = tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignLeft)
	ui.overviewInfo.SetTitle(" OVERVIEW ")
	ui.overviewInfo.SetBorder(true)
	ui.overviewInfo.SetTitleAlign(tview.AlignCenter)
	ui.updateOverview()

	// Document sidebar
	ui.sidebar = tview.NewList()
	ui.sidebar.SetTitle(" Documents ")
	ui.sidebar.SetBorder(true)
	ui.sidebar.SetTitleAlign(tview.AlignLeft)
	ui.sidebar.ShowSecondaryText(true)

	// File detail (right top)
	ui.fileDetail = tview.NewTextView()
	ui.fileDetail.SetTitle(" Document Detail ")
	ui.fileDetail.SetBorder(true)
	ui.fileDetail.SetTitleAlign(tview.AlignLeft)
	ui.fileDetail.SetDynamicColors(true)
	ui.fileDetail.SetWordWrap(true)
	ui.fileDetail.SetScrollable(true)
	ui.fileDetail.SetText(fmt.Sprintf("[%s]Select a document to see its requirements and test cases.[-]", ui.theme.TagMuted))

	// Recent activity (right bottom)
	ui.activityView = tview.NewTextView()
	ui.activityView.SetTitle(" Recent Activity ")
	ui.activityView.SetBorder(true)
	ui.activityView.SetTitleAlign(tview.AlignLeft)
	ui.activityView.SetDynamicColors(true)
	ui.activityView.SetScrollable(true)

	ui.statusBar = tview.NewTextView()
	ui.statusBar.SetDynamicColors(true)
	ui.statusBar.SetText("[yellow]MedGen Console[white] | [green]q[white]:quit [green]r[white]:refresh [green]u[white]:upload [green]Enter[white]:open")

	// Main panel (right side)
	ui.mainPanel = tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(ui.fileDetail, 0, 2, false).
		AddItem(ui.activityView, 0, 1, false)

	// Left column: Title, Overview, Documents
	leftCol := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(ui.appTitle, 2, 0, false).
		AddItem(ui.overviewInfo, 5, 0, false).
		AddItem(ui.sidebar, 0, 1, true)

	ui.layout = tview.NewFlex().
		SetDirection(tview.FlexColumn).
		AddItem(leftCol, 45, 0, true).
		AddItem(ui.mainPanel, 0, 1, false)

	root := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(ui.layout, 0, 1, true).
		AddItem(ui.statusBar, 1, 0, false)

	ui.app.SetRoot(root, true)

	ui.setupEventHandlers()

	ui.sidebar.SetCurrentItem(0)
	ui.app.SetFocus(ui.sidebar)
}

// setupEventHandlers wires sidebar selection to the detail pane and the
// generation screen.
func (ui *UI) setupEventHandlers() {
	// Enter on a document opens the generation workflow screen
	ui.sidebar.SetSelectedFunc(func(index int, mainText, secondaryText string, shortcut rune) {
		ui.openGeneration(index)
	})

	// Highlight change loads the document detail asynchronously
	ui.sidebar.SetChangedFunc(func(index int, mainText, secondaryText string, shortcut rune) {
		if index < 0 || index >= len(ui.files) {
			return
		}
		file := ui.files[index]
		ui.selectedFileID = file.FileID
		seq := atomic.AddInt64(&ui.detailSeq, 1)
		go ui.loadFileDetail(seq, file)
	})

	// Digit shortcuts on the sidebar (multi-key, e.g. "12" selects file 12)
	ui.sidebar.SetInputCapture(func(ev *tcell.EventKey) *tcell.EventKey {
		if ev.Key() == tcell.KeyRune {
			if ev.Rune() >= '1' && ev.Rune() <= '9' {
				ui.handleShortcutKey(ev.Rune())
				return nil
			}
			if ev.Rune() == '0' && ui.shortcutBuffer != "" {
				ui.handleShortcutKey(ev.Rune())
				return nil
			}
		}
		return ev
	})
}

// setupKeybindings sets up global keybindings
func (ui *UI) setupKeybindings() {
	handler := func(event *tcell.EventKey) *tcell.EventKey {
		// While a modal or form is active, let it handle all keys.
		if ui.isDialogActive() {
			return event
		}

		if ui.logger != nil {
			ui.logger.Printf("Input event: Key=%v Rune=%q Mod=%v", event.Key(), event.Rune(), event.Modifiers())
		}

		switch event.Key() {
		case tcell.KeyCtrlC:
			ui.app.Stop()
			return nil
		case tcell.KeyEnter:
			// Let the focused primitive handle Enter.
			return event
		case tcell.KeyEsc:
			ui.setStatusDirect("[%s]Ready[-:-:-]", ui.theme.TagAccent)
			return nil
		case tcell.KeyTab:
			ui.cycleFocus()
			return nil
		case tcell.KeyRune:
			switch event.Rune() {
			case 'q', 'Q':
				ui.app.Stop()
				return nil
			case 'r', 'R':
				// Non-blocking refresh to avoid stalling the tview event loop
				ui.setStatusDirect("[%s]Refreshing...[-:-:-]", ui.theme.TagAccent)
				go func() {
					ui.loadFiles()
					ui.loadActivity()
				}()
				return nil
			case 'u', 'U':
				ui.showUploadModal()
				return nil
			case 'e', 'E':
				ui.runExtract()
				return nil
			case 'c':
				ui.openReports()
				return nil
			case 'p', 'P':
				ui.openIntegration()
				return nil
			case 'h', '?', 'H':
				ui.showHelp()
				return nil
			case 'l':
				ui.focusRight()
				return nil
			case 'j':
				ui.moveSelection(1)
				return nil
			case 'k':
				ui.moveSelection(-1)
				return nil
			case 'g':
				ui.moveToBoundary(true)
				return nil
			case 'G':
				ui.moveToBoundary(false)
				return nil
			case 'J':
				ui.pageMove(1)
				return nil
			case 'K':
				ui.pageMove(-1)
				return nil
			case 't':
				if ui.logger != nil {
					ui.logger.Printf("Key 't' pressed: applying theme cycle (current=%s)", ui.themeName)
				}
				ui.cycleTheme()
				return nil
			case 'T':
				next := "dark"
				if ui.themeName != "high-contrast" {
					next = "high-contrast"
				}
				ui.setTheme(next)
				return nil
			case 'C':
				next := "dark"
				if ui.themeName != "cb-safe" {
					next = "cb-safe"
				}
				ui.setTheme(next)
				return nil
			case 'f':
				ui.showFileFilterModal()
				return nil
			case 'F':
				ui.clearFileFilters()
				return nil
			}
		}
		return event
	}
	// Save and apply the handler so sub-screens can restore it on return.
	ui.globalInputCapture = handler
	ui.app.SetInputCapture(handler)
}

// handleShortcutKey buffers digit presses so documents beyond 9 stay
// reachable ("12" selects the twelfth document).
func (ui *UI) handleShortcutKey(digit rune) {
	ui.shortcutBuffer += string(digit)

	if ui.shortcutTimer != nil {
		ui.shortcutTimer.Stop()
	}

	ui.shortcutTimer = time.AfterFunc(ui.shortcutTimeout, func() {
		buffer := ui.shortcutBuffer
		ui.shortcutBuffer = ""
		n, err := strconv.Atoi(buffer)
		if err != nil || n <= 0 {
			return
		}
		ui.app.QueueUpdateDraw(func() {
			ui.selectFileByNumber(n)
		})
	})

	ui.setStatusDirect("[%s]Select document: %s[-:-:-]", ui.theme.TagAccent, ui.shortcutBuffer)
}

func (ui *UI) selectFileByNumber(n int) {
	idx := n - 1
	if idx < 0 || idx >= len(ui.files) {
		ui.setStatusDirect("[%s]No document #%d (have %d)[-:-:-]", ui.theme.TagWarning, n, len(ui.files))
		return
	}
	ui.sidebar.SetCurrentItem(idx)
	ui.app.SetFocus(ui.sidebar)
	ui.setStatusDirect("[%s]Selected %s[-:-:-]", ui.theme.TagAccent, ui.files[idx].Filename)
}

// loadFiles fetches the document list from the backend. Guarded so only
// one load runs at a time, with a watchdog to clear a stuck flag.
func (ui *UI) loadFiles() {
	if !atomic.CompareAndSwapInt32(&ui.loadingFiles, 0, 1) {
		started := time.Unix(0, atomic.LoadInt64(&ui.lastLoadStart))
		if !started.IsZero() && time.Since(started) > 10*time.Second {
			if ui.logger != nil {
				ui.logger.Printf("loadFiles: resetting stuck load flag since %v", started)
			}
			atomic.StoreInt32(&ui.loadingFiles, 0)
		}
		if !atomic.CompareAndSwapInt32(&ui.loadingFiles, 0, 1) {
			if ui.logger != nil {
				ui.logger.Println("loadFiles: already loading, skipping")
			}
			return
		}
	}
	atomic.StoreInt64(&ui.lastLoadStart, time.Now().UnixNano())
	defer func() {
		atomic.StoreInt32(&ui.loadingFiles, 0)
		atomic.StoreInt64(&ui.lastLoadStart, 0)
	}()

	defer func() {
		if r := recover(); r != nil {
			if ui.logger != nil {
				ui.logger.Printf("panic in loadFiles: %v", r)
			}
		}
	}()

	ctx, cancel := context.WithTimeout(ui.ctx, 15*time.Second)
	defer cancel()

	files, err := ui.client.ListFiles(ctx)
	if err != nil {
		if ui.logger != nil {
			ui.logger.Printf("Error loading files: %v", err)
		}
		ui.setStatus("[%s]Error loading documents: %v[-:-:-]", ui.theme.TagError, err)
		return
	}

	ui.app.QueueUpdateDraw(func() {
		ui.allFiles = files
		ui.files = ui.applyFileFilters(files)
		ui.updateFileList()
		ui.updateOverview()
		ui.setStatusDirect("[%s]Loaded %d documents[-:-:-]", ui.theme.TagSuccess, len(ui.files))
	})
}

// applyFileFilters applies the in-memory name and status filters.
func (ui *UI) applyFileFilters(in []api.FileInfo) []api.FileInfo {
	if ui.fileFilterName == "" && ui.fileFilterStatus == "" {
		out := make([]api.FileInfo, len(in))
		copy(out, in)
		return out
	}
	name := strings.ToLower(strings.TrimSpace(ui.fileFilterName))
	out := make([]api.FileInfo, 0, len(in))
	for _, f := range in {
		if name != "" && !strings.Contains(strings.ToLower(f.Filename), name) {
			continue
		}
		if ui.fileFilterStatus != "" && f.Status != ui.fileFilterStatus {
			continue
		}
		out = append(out, f)
	}
	return out
}

// updateFileList rebuilds the sidebar from ui.files. UI goroutine only.
func (ui *UI) updateFileList() {
	current := ui.sidebar.GetCurrentItem()
	ui.sidebar.Clear()
	for i, f := range ui.files {
		main := fmt.Sprintf("%d. %s", i+1, f.Filename)
		secondary := fmt.Sprintf("[%s]%s[-]", ui.statusTag(f.Status), f.Status)
		ui.sidebar.AddItem(main, secondary, 0, nil)
	}
	if len(ui.files) == 0 {
		ui.sidebar.AddItem("No documents uploaded", "Press u to upload or drop files in the watch folder", 0, nil)
		return
	}
	if current >= 0 && current < len(ui.files) {
		ui.sidebar.SetCurrentItem(current)
	}
}

// updateOverview refreshes the counters block. UI goroutine only.
func (ui *UI) updateOverview() {
	if ui.overviewInfo == nil {
		return
	}
	ingested, extracted, generated, pushed := 0, 0, 0, 0
	for _, f := range ui.allFiles {
		switch f.Status {
		case StatusIngestion:
			ingested++
		case StatusExtracted:
			extracted++
		case StatusGenerated, StatusPartial:
			generated++
		case StatusPushed:
			pushed++
		}
	}

	health := fmt.Sprintf("[%s]BACKEND ?[-]", ui.theme.TagMuted)
	switch atomic.LoadInt32(&ui.healthState) {
	case healthOK:
		health = fmt.Sprintf("[%s]BACKEND OK[-]", ui.theme.TagSuccess)
	case healthDown:
		health = fmt.Sprintf("[%s]BACKEND DOWN[-]", ui.theme.TagError)
	}

	line1 := fmt.Sprintf("[%s]DOCUMENTS (%d)[-]  %s", ui.theme.TagAccent, len(ui.allFiles), health)
	line2 := fmt.Sprintf("[%s]NEW[-] - %d  [%s]EXTRACTED[-] - %d",
		ui.theme.TagTextPrimary, ingested, ui.theme.TagTextPrimary, extracted)
	line3 := fmt.Sprintf("[%s]GENERATED[-] - %d  [%s]PUSHED[-] - %d",
		ui.theme.TagTextPrimary, generated, ui.theme.TagTextPrimary, pushed)
	ui.overviewInfo.SetText(line1 + "\n" + line2 + "\n" + line3)
}

// loadFileDetail fetches requirements and test-case counts for one file.
// seq must be the sequence captured at selection time; responses for a
// superseded selection are dropped.
func (ui *UI) loadFileDetail(seq int64, file api.FileInfo) {
	defer func() {
		if r := recover(); r != nil {
			if ui.logger != nil {
				ui.logger.Printf("panic in loadFileDetail: %v", r)
			}
		}
	}()

	ctx, cancel := context.WithTimeout(ui.ctx, 15*time.Second)
	defer cancel()

	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s]%s[-]\n", ui.theme.TagAccent, file.Filename)
	fmt.Fprintf(&sb, "[%s]ID:[-] %s   [%s]Status:[-] [%s]%s[-]\n\n",
		ui.theme.TagMuted, file.FileID,
		ui.theme.TagMuted, ui.statusTag(file.Status), file.Status)

	grouped, err := ui.client.TestCasesByFile(ctx, file.FileID)
	if err == nil {
		total := 0
		for _, g := range grouped.Requirements {
			total += len(g.TestCases)
		}
		fmt.Fprintf(&sb, "[%s]Requirements:[-] %d   [%s]Test cases:[-] %d\n\n",
			ui.theme.TagMuted, len(grouped.Requirements), ui.theme.TagMuted, total)
		for _, g := range grouped.Requirements {
			fmt.Fprintf(&sb, "[%s]%s[-] %s [%s](%d cases)[-]\n",
				ui.theme.TagAccent, g.ReqTitleID, g.ReqTitle, ui.theme.TagMuted, len(g.TestCases))
		}
		fmt.Fprintf(&sb, "\n[%s]Enter opens the generation screen.[-]", ui.theme.TagMuted)
	} else {
		// No test cases yet; fall back to the requirement list.
		reqs, rerr := ui.client.ListRequirements(ctx, file.FileID)
		switch {
		case rerr == nil && len(reqs) > 0:
			fmt.Fprintf(&sb, "[%s]Requirements:[-] %d   [%s]Test cases:[-] 0\n\n",
				ui.theme.TagMuted, len(reqs), ui.theme.TagMuted)
			for _, r := range reqs {
				fmt.Fprintf(&sb, "[%s]%s[-] %s\n", ui.theme.TagAccent, r.ReqTitleID, r.Title)
			}
			fmt.Fprintf(&sb, "\n[%s]Enter opens the generation screen.[-]", ui.theme.TagMuted)
		case rerr == nil:
			fmt.Fprintf(&sb, "[%s]No requirements extracted yet. Press e to extract.[-]", ui.theme.TagWarning)
		default:
			fmt.Fprintf(&sb, "[%s]No requirements extracted yet. Press e to extract.[-]\n\n", ui.theme.TagWarning)
			fmt.Fprintf(&sb, "[%s]%v[-]", ui.theme.TagMuted, rerr)
		}
	}

	text := sb.String()
	ui.app.QueueUpdateDraw(func() {
		// A newer selection may have superseded this fetch.
		if atomic.LoadInt64(&ui.detailSeq) != seq {
			if ui.logger != nil {
				ui.logger.Printf("loadFileDetail: dropping stale response for %s (seq %d)", file.FileID, seq)
			}
			return
		}
		ui.fileDetail.SetText(text)
		ui.fileDetail.ScrollToBeginning()
	})
}

// loadActivity refreshes the journal pane from the local store.
func (ui *UI) loadActivity() {
	ctx, cancel := context.WithTimeout(ui.ctx, 4*time.Second)
	defer cancel()

	entries, err := ui.store.RecentActivity(ctx, "", 25)
	if err != nil {
		if ui.logger != nil {
			ui.logger.Printf("Error loading activity: %v", err)
		}
		return
	}

	ui.app.QueueUpdateDraw(func() {
		ui.activity = entries
		ui.renderActivity()
	})
}

// renderActivity redraws the activity pane. UI goroutine only.
func (ui *UI) renderActivity() {
	if ui.activityView == nil {
		return
	}
	if len(ui.activity) == 0 {
		ui.activityView.SetText(fmt.Sprintf("[%s]No activity recorded yet.[-]", ui.theme.TagMuted))
		return
	}
	var sb strings.Builder
	for _, e := range ui.activity {
		fmt.Fprintf(&sb, "[%s]%s[-] [%s]%-9s[-] %s\n",
			ui.theme.TagMuted, e.CreatedAt.Format("15:04:05"),
			ui.theme.TagAccent, e.Action,
			ui.activitySummary(e))
	}
	ui.activityView.SetText(sb.String())
	ui.activityView.ScrollToBeginning()
}

// activitySummary renders one journal entry as a single line.
func (ui *UI) activitySummary(e store.ActivityEntry) string {
	if fn, ok := e.Details["filename"].(string); ok && fn != "" {
		return fn
	}
	if msg, ok := e.Details["message"].(string); ok && msg != "" {
		return msg
	}
	if e.FileID != "" {
		return e.FileID
	}
	return e.Actor
}

// journal records an action locally and fans it out on the bus. Both are
// advisory; failures go to the log only.
func (ui *UI) journal(fileID, filename, action string, details map[string]interface{}) {
	if details == nil {
		details = map[string]interface{}{}
	}
	if filename != "" {
		details["filename"] = filename
	}
	if err := ui.store.LogFileAction(ui.ctx, fileID, action, ui.actor, details); err != nil {
		if ui.logger != nil {
			ui.logger.Printf("journal write failed: %v", err)
		}
	}
	detail := ""
	if msg, ok := details["message"].(string); ok {
		detail = msg
	}
	if err := ui.bus.PublishActivity(ui.ctx, bus.ActivityMessage{
		FileID:   fileID,
		Filename: filename,
		Action:   action,
		Actor:    ui.actor,
		Detail:   detail,
	}); err != nil && ui.logger != nil {
		ui.logger.Printf("bus publish failed: %v", err)
	}
	go ui.loadActivity()
}

// startHealthMonitor pings the backend periodically and updates the
// overview indicator on state changes.
func (ui *UI) startHealthMonitor() {
	check := func() {
		ctx, cancel := context.WithTimeout(ui.ctx, 5*time.Second)
		defer cancel()
		state := healthOK
		if err := ui.client.HealthCheck(ctx); err != nil {
			state = healthDown
			if ui.logger != nil {
				ui.logger.Printf("Backend health check failed: %v", err)
			}
		}
		prev := atomic.SwapInt32(&ui.healthState, state)
		if prev != state && ui.running {
			ui.app.QueueUpdateDraw(func() {
				ui.updateOverview()
			})
		}
	}

	go func() {
		check()
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ui.ctx.Done():
				return
			case <-ticker.C:
				check()
			}
		}
	}()
}

// startActivityRefresher keeps the journal pane current even when entries
// are written by other processes (the headless watcher).
func (ui *UI) startActivityRefresher() {
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ui.ctx.Done():
				return
			case <-ticker.C:
				if ui.running {
					ui.loadActivity()
				}
			}
		}
	}()
}

// startRedrawHeartbeat periodically requests a redraw to mitigate terminals that miss repaints
func (ui *UI) startRedrawHeartbeat() {
	go func() {
		ticker := time.NewTicker(2 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ui.ctx.Done():
				return
			case <-ticker.C:
				if ui.running {
					ui.app.QueueUpdate(func() {})
				}
			}
		}
	}()
}

// selectedFile returns the sidebar's current document, or nil.
func (ui *UI) selectedFile() *api.FileInfo {
	idx := ui.sidebar.GetCurrentItem()
	if idx < 0 || idx >= len(ui.files) {
		return nil
	}
	f := ui.files[idx]
	return &f
}

// showUploadModal collects document paths and uploads them.
func (ui *UI) showUploadModal() {
	form := tview.NewForm()
	form.AddInputField("Requirement files", "", 60, nil, nil)
	form.AddInputField("Input data files", "", 60, nil, nil)

	splitPaths := func(s string) []string {
		var out []string
		for _, p := range strings.Split(s, ",") {
			p = strings.TrimSpace(p)
			if p != "" {
				out = append(out, p)
			}
		}
		return out
	}

	form.AddButton("Upload", func() {
		reqPaths := splitPaths(form.GetFormItem(0).(*tview.InputField).GetText())
		inputPaths := splitPaths(form.GetFormItem(1).(*tview.InputField).GetText())
		if len(reqPaths) == 0 && len(inputPaths) == 0 {
			ui.setStatusDirect("[%s]Nothing to upload: give at least one path[-:-:-]", ui.theme.TagWarning)
			return
		}
		ui.restoreMainLayout()
		ui.runUpload(reqPaths, inputPaths)
	})
	form.AddButton("Cancel", func() {
		ui.restoreMainLayout()
	})

	form.SetBorder(true).SetTitle(" Upload Documents ").SetTitleAlign(tview.AlignLeft)
	form.SetBackgroundColor(ui.theme.Surface)
	form.SetFieldBackgroundColor(ui.theme.SelectionBg)
	form.SetFieldTextColor(ui.theme.TextPrimary)
	form.SetLabelColor(ui.theme.TextPrimary)
	form.SetButtonBackgroundColor(ui.theme.SelectionBg)
	form.SetButtonTextColor(ui.theme.SelectionFg)
	form.SetBorderColor(ui.theme.FocusBorder)

	form.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if event.Key() == tcell.KeyEsc {
			ui.restoreMainLayout()
			return nil
		}
		return event
	})

	// Center the form in a flex so it doesn't stretch full screen
	modal := tview.NewFlex().
		AddItem(nil, 0, 1, false).
		AddItem(tview.NewFlex().SetDirection(tview.FlexRow).
			AddItem(nil, 0, 1, false).
			AddItem(form, 11, 0, true).
			AddItem(nil, 0, 1, false), 80, 0, true).
		AddItem(nil, 0, 1, false)

	ui.lastFocus = ui.app.GetFocus()
	ui.app.SetRoot(modal, true)
	ui.app.SetFocus(form)
}

// runUpload performs the multipart upload off the UI goroutine.
func (ui *UI) runUpload(reqPaths, inputPaths []string) {
	if !atomic.CompareAndSwapInt32(&ui.uploading, 0, 1) {
		ui.setStatusDirect("[%s]An upload is already running[-:-:-]", ui.theme.TagWarning)
		return
	}
	ui.setStatusDirect("[%s]Uploading %d file(s)...[-:-:-]", ui.theme.TagWarning, len(reqPaths)+len(inputPaths))

	go func() {
		defer atomic.StoreInt32(&ui.uploading, 0)

		ctx, cancel := context.WithTimeout(ui.ctx, 120*time.Second)
		defer cancel()

		result, err := ui.client.UploadFiles(ctx, reqPaths, inputPaths)
		if err != nil {
			ui.setStatus("[%s]Upload failed: %v[-:-:-]", ui.theme.TagError, err)
			return
		}

		fileID := ""
		if len(result.FileIDs) > 0 {
			fileID = result.FileIDs[0]
		}
		ui.journal(fileID, strings.Join(result.Filenames, ", "), store.ActionUpload, map[string]interface{}{
			"message":  result.Message,
			"file_ids": result.FileIDs,
		})

		ui.app.QueueUpdateDraw(func() {
			ui.setStatusDirect("[%s]%s[-:-:-]", ui.theme.TagSuccess, result.Message)
		})
		ui.loadFiles()
	}()
}

// runExtract triggers AI requirement extraction for the selected document.
func (ui *UI) runExtract() {
	file := ui.selectedFile()
	if file == nil {
		ui.setStatusDirect("[%s]Select a document first[-:-:-]", ui.theme.TagWarning)
		return
	}
	if !atomic.CompareAndSwapInt32(&ui.extracting, 0, 1) {
		ui.setStatusDirect("[%s]An extraction is already running[-:-:-]", ui.theme.TagWarning)
		return
	}
	ui.setStatusDirect("[%s]Extracting requirements from %s...[-:-:-]", ui.theme.TagWarning, file.Filename)

	go func() {
		defer atomic.StoreInt32(&ui.extracting, 0)

		ctx, cancel := context.WithTimeout(ui.ctx, 180*time.Second)
		defer cancel()

		result, err := ui.client.ExtractRequirements(ctx, file.FileID)
		if err != nil {
			ui.setStatus("[%s]Extraction failed: %v[-:-:-]", ui.theme.TagError, err)
			return
		}

		ui.journal(file.FileID, file.Filename, store.ActionExtract, map[string]interface{}{
			"message":           result.Message,
			"requirement_count": result.RequirementCount,
		})

		ui.app.QueueUpdateDraw(func() {
			ui.setStatusDirect("[%s]Extracted %d requirements from %s[-:-:-]",
				ui.theme.TagSuccess, result.RequirementCount, file.Filename)
		})
		ui.loadFiles()
		seq := atomic.AddInt64(&ui.detailSeq, 1)
		ui.loadFileDetail(seq, *file)
	}()
}

// showFileFilterModal filters the sidebar by name substring and status.
func (ui *UI) showFileFilterModal() {
	statuses := []string{"All", StatusIngestion, StatusExtracted, StatusGenerated, StatusPartial, StatusPushed}
	initialStatus := 0
	for i, s := range statuses {
		if s == ui.fileFilterStatus {
			initialStatus = i
		}
	}

	form := tview.NewForm()
	form.AddInputField("Name contains", ui.fileFilterName, 40, nil, nil)
	form.AddDropDown("Status", statuses, initialStatus, nil)

	form.AddButton("Apply", func() {
		ui.fileFilterName = strings.TrimSpace(form.GetFormItem(0).(*tview.InputField).GetText())
		_, opt := form.GetFormItem(1).(*tview.DropDown).GetCurrentOption()
		if opt == "All" {
			ui.fileFilterStatus = ""
		} else {
			ui.fileFilterStatus = opt
		}
		ui.restoreMainLayout()
		ui.files = ui.applyFileFilters(ui.allFiles)
		ui.updateFileList()
		ui.setStatusDirect("[%s]Filter applied (%d of %d documents)[-:-:-]",
			ui.theme.TagSuccess, len(ui.files), len(ui.allFiles))
	})
	form.AddButton("Clear", func() {
		ui.restoreMainLayout()
		ui.clearFileFilters()
	})
	form.AddButton("Cancel", func() {
		ui.restoreMainLayout()
	})

	form.SetBorder(true).SetTitle(" Filter Documents ").SetTitleAlign(tview.AlignLeft)
	form.SetBackgroundColor(ui.theme.Surface)
	form.SetFieldBackgroundColor(ui.theme.SelectionBg)
	form.SetFieldTextColor(ui.theme.TextPrimary)
	form.SetLabelColor(ui.theme.TextPrimary)
	form.SetButtonBackgroundColor(ui.theme.SelectionBg)
	form.SetButtonTextColor(ui.theme.SelectionFg)
	form.SetBorderColor(ui.theme.FocusBorder)

	form.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if event.Key() == tcell.KeyEsc {
			ui.restoreMainLayout()
			return nil
		}
		return event
	})

	modal := tview.NewFlex().
		AddItem(nil, 0, 1, false).
		AddItem(tview.NewFlex().SetDirection(tview.FlexRow).
			AddItem(nil, 0, 1, false).
			AddItem(form, 11, 0, true).
			AddItem(nil, 0, 1, false), 60, 0, true).
		AddItem(nil, 0, 1, false)

	ui.lastFocus = ui.app.GetFocus()
	ui.app.SetRoot(modal, true)
	ui.app.SetFocus(form)
}

func (ui *UI) clearFileFilters() {
	ui.fileFilterName = ""
	ui.fileFilterStatus = ""
	ui.files = ui.applyFileFilters(ui.allFiles)
	ui.updateFileList()
	ui.setStatusDirect("[%s]Document filters cleared[-:-:-]", ui.theme.TagSuccess)
}

// showHelp renders the key reference.
func (ui *UI) showHelp() {
	ui.helpActive = true
	text := fmt.Sprintf(`[%s]MedGen Console[-]

[%s]Dashboard[-]
  Enter       open generation screen for the selected document
  u           upload requirement / input data documents
  e           extract requirements (AI)
  c           compliance report for the selected document
  p           push test cases to Jira
  r           refresh documents and activity
  f / F       filter documents / clear filters
  1..9        select document by number (multi-digit works)

[%s]Navigation[-]
  Tab         cycle panels
  j / k       move selection down / up
  g / G       jump to top / bottom
  J / K       page down / up

[%s]Appearance[-]
  t           cycle themes
  T           toggle high-contrast
  C           toggle colorblind-safe

[%s]General[-]
  h or ?      this help
  Esc         clear status line
  q           quit

Press any key to close.`,
		ui.theme.TagAccent, ui.theme.TagAccent, ui.theme.TagAccent, ui.theme.TagAccent, ui.theme.TagAccent)

	ui.showModal("Help", text)
}

// showModal displays a themed message modal; any key closes it.
func (ui *UI) showModal(title, text string) {
	modal := tview.NewModal()
	modal.SetText(text)
	modal.SetTitle(fmt.Sprintf(" %s ", title))
	modal.AddButtons([]string{"Close"})

	modal.SetBackgroundColor(ui.theme.Surface)
	modal.SetTextColor(ui.theme.TextPrimary)
	modal.SetBorderColor(ui.theme.FocusBorder)
	modal.SetButtonBackgroundColor(ui.theme.SelectionBg)
	modal.SetButtonTextColor(ui.theme.SelectionFg)

	modal.SetDoneFunc(func(buttonIndex int, buttonLabel string) {
		ui.restoreMainLayout()
	})
	modal.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Key() {
		case tcell.KeyEsc, tcell.KeyEnter, tcell.KeyRune:
			ui.restoreMainLayout()
			return nil
		}
		return event
	})

	ui.lastFocus = ui.app.GetFocus()
	ui.app.SetRoot(modal, true)
	ui.app.SetFocus(modal)
}

// restoreMainLayout restores the dashboard after closing a modal or
// returning from a sub-screen.
func (ui *UI) restoreMainLayout() {
	ui.helpActive = false
	ui.activeScreen = nil

	root := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(ui.layout, 0, 1, true).
		AddItem(ui.statusBar, 1, 0, false)
	ui.app.SetRoot(root, true)

	if ui.globalInputCapture != nil {
		ui.app.SetInputCapture(ui.globalInputCapture)
	}

	target := ui.lastFocus
	if target == nil {
		target = ui.sidebar
	}
	ui.app.SetFocus(target)
	ui.highlightFocus(target)
}

// cycleFocus cycles focus between the panels
func (ui *UI) cycleFocus() {
	current := ui.app.GetFocus()

	switch current {
	case ui.sidebar:
		ui.app.SetFocus(ui.fileDetail)
		ui.highlightFocus(ui.fileDetail)
		ui.setStatusDirect("[%s]Focus: Document Detail[-:-:-] - Use arrows to scroll", ui.theme.TagAccent)
	case ui.fileDetail:
		ui.app.SetFocus(ui.activityView)
		ui.highlightFocus(ui.activityView)
		ui.setStatusDirect("[%s]Focus: Recent Activity[-:-:-] - Use arrows to scroll", ui.theme.TagAccent)
	default:
		ui.app.SetFocus(ui.sidebar)
		ui.highlightFocus(ui.sidebar)
		ui.setStatusDirect("[%s]Focus: Documents[-:-:-] - Use arrows to navigate, Enter to open", ui.theme.TagAccent)
	}
}

func (ui *UI) focusRight() {
	switch ui.app.GetFocus() {
	case ui.sidebar:
		ui.app.SetFocus(ui.fileDetail)
		ui.highlightFocus(ui.fileDetail)
	case ui.fileDetail:
		ui.app.SetFocus(ui.activityView)
		ui.highlightFocus(ui.activityView)
	default:
		ui.app.SetFocus(ui.sidebar)
		ui.highlightFocus(ui.sidebar)
	}
}

func (ui *UI) moveSelection(delta int) {
	if ui.app.GetFocus() != ui.sidebar {
		return
	}
	idx := ui.sidebar.GetCurrentItem() + delta
	if idx < 0 {
		idx = 0
	}
	if idx >= ui.sidebar.GetItemCount() {
		idx = ui.sidebar.GetItemCount() - 1
	}
	if idx >= 0 {
		ui.sidebar.SetCurrentItem(idx)
	}
}

func (ui *UI) moveToBoundary(top bool) {
	if ui.app.GetFocus() != ui.sidebar || ui.sidebar.GetItemCount() == 0 {
		return
	}
	if top {
		ui.sidebar.SetCurrentItem(0)
	} else {
		ui.sidebar.SetCurrentItem(ui.sidebar.GetItemCount() - 1)
	}
}

func (ui *UI) pageMove(direction int) {
	if ui.app.GetFocus() != ui.sidebar {
		return
	}
	idx := ui.sidebar.GetCurrentItem() + 10*direction
	if idx < 0 {
		idx = 0
	}
	if idx >= ui.sidebar.GetItemCount() {
		idx = ui.sidebar.GetItemCount() - 1
	}
	if idx >= 0 {
		ui.sidebar.SetCurrentItem(idx)
	}
}

func (ui *UI) highlightFocus(focused tview.Primitive) {
	// Reset borders
	ui.sidebar.SetBorderColor(ui.theme.Border)
	ui.fileDetail.SetBorderColor(ui.theme.Border)
	ui.activityView.SetBorderColor(ui.theme.Border)

	// Apply focus ring
	switch focused {
	case ui.sidebar:
		ui.sidebar.SetBorderColor(ui.theme.FocusBorder)
	case ui.fileDetail:
		ui.fileDetail.SetBorderColor(ui.theme.FocusBorder)
	case ui.activityView:
		ui.activityView.SetBorderColor(ui.theme.FocusBorder)
	}
}

// isDialogActive returns true when a dialog or the help view is focused to bypass global shortcuts.
func (ui *UI) isDialogActive() bool {
	if ui.helpActive {
		return true
	}
	if ui.app == nil {
		return false
	}
	focused := ui.app.GetFocus()
	if focused == nil {
		return false
	}
	switch focused.(type) {
	case *tview.Form,
		*tview.Modal,
		*tview.InputField,
		*tview.TextArea,
		*tview.DropDown,
		*tview.Button:
		return true
	default:
		return false
	}
}

// setStatus updates the status bar from any goroutine.
func (ui *UI) setStatus(format string, args ...interface{}) {
	message := fmt.Sprintf(format, args...)
	timestamp := time.Now().Format("15:04:05")

	main := ui.buildStatusMain(message)
	hints := ui.buildShortcutHints()

	statusText := fmt.Sprintf("[%s]%s[-] [%s]|[-] %s [%s]|[-] %s",
		ui.theme.TagMuted, timestamp,
		ui.theme.TagTextPrimary,
		main,
		ui.theme.TagMuted,
		hints)

	if ui.running {
		ui.app.QueueUpdate(func() {
			ui.statusBar.SetText(statusText)
		})
	} else {
		// When the app is not running (e.g., unit tests), set directly.
		ui.statusBar.SetText(statusText)
	}
}

// setStatusDirect updates the status bar immediately without QueueUpdate.
// Use this only from the UI goroutine (input handlers, selection callbacks,
// or QueueUpdate closures).
func (ui *UI) setStatusDirect(format string, args ...interface{}) {
	message := fmt.Sprintf(format, args...)
	timestamp := time.Now().Format("15:04:05")

	main := ui.buildStatusMain(message)
	hints := ui.buildShortcutHints()

	statusText := fmt.Sprintf("[%s]%s[-] [%s]|[-] %s [%s]|[-] %s",
		ui.theme.TagMuted, timestamp,
		ui.theme.TagTextPrimary,
		main,
		ui.theme.TagMuted,
		hints)

	ui.statusBar.SetText(statusText)
}

// buildStatusMain augments the base message with compact badges: selected
// document, backend health, and active filters.
func (ui *UI) buildStatusMain(message string) string {
	accent := ui.theme.TagAccent
	parts := []string{message}

	if f := ui.selectedFile(); f != nil {
		parts = append(parts, fmt.Sprintf("[%s]Doc:[-] %s", accent, f.Filename))
	}

	switch atomic.LoadInt32(&ui.healthState) {
	case healthOK:
		parts = append(parts, fmt.Sprintf("[%s]API OK[-]", ui.theme.TagSuccess))
	case healthDown:
		parts = append(parts, fmt.Sprintf("[%s]API DOWN[-]", ui.theme.TagError))
	}

	if ui.fileFilterName != "" || ui.fileFilterStatus != "" {
		parts = append(parts, fmt.Sprintf("[%s]Filter:[-] %d/%d", accent, len(ui.files), len(ui.allFiles)))
	}

	return strings.Join(parts, " ")
}

// buildShortcutHints returns a colored, space-separated list of the most
// relevant shortcuts for the current focus and state, capped to stay
// readable. `h:help` is always pinned first.
func (ui *UI) buildShortcutHints() string {
	accent := ui.theme.TagAccent

	var focused tview.Primitive
	if ui.app != nil {
		focused = ui.app.GetFocus()
	}
	inSidebar := focused == ui.sidebar
	haveFile := ui.selectedFile() != nil

	type kv struct{ key, label string }
	base := make([]kv, 0, 16)

	if inSidebar && haveFile {
		base = append(base,
			kv{"Enter", "open"},
			kv{"e", "extract"},
			kv{"c", "report"},
			kv{"p", "push"},
		)
	}
	base = append(base, kv{"u", "upload"})

	base = append(base, kv{"f", "filter"})
	if ui.fileFilterName != "" || ui.fileFilterStatus != "" {
		base = append(base, kv{"F", "clear"})
	}

	base = append(base,
		kv{"Tab", "panels"},
		kv{"r", "refresh"},
		kv{"q", "quit"},
	)

	base = append(base,
		kv{"t", "theme"},
		kv{"T", "high-contrast"},
		kv{"C", "cb-safe"},
	)

	final := make([]kv, 0, 16)
	seen := map[string]bool{}

	// Always start with help
	final = append(final, kv{"h", "help"})
	seen["h"] = true

	for _, h := range base {
		if seen[h.key] {
			continue
		}
		final = append(final, h)
		seen[h.key] = true
	}

	const maxTokens = 7
	if len(final) > maxTokens {
		final = final[:maxTokens]
	}

	var sb strings.Builder
	for i, h := range final {
		if i > 0 {
			sb.WriteString(" ")
		}
		sb.WriteString(fmt.Sprintf("[%s]%s[-]:%s", accent, h.key, h.label))
	}
	return sb.String()
}

// statusTag returns the markup color for a backend file status.
func (ui *UI) statusTag(status string) string {
	switch status {
	case StatusIngestion:
		return ui.theme.TagMuted
	case StatusExtracted:
		return ui.theme.TagAccent
	case StatusGenerated:
		return ui.theme.TagSuccess
	case StatusPartial:
		return ui.theme.TagWarning
	case StatusPushed:
		return ui.theme.TagSuccess
	default:
		return ui.theme.TagTextPrimary
	}
}

// riskTag returns the color tag for a risk level (for text markup).
func riskTag(theme Theme, risk string) string {
	switch strings.ToLower(risk) {
	case "critical":
		return theme.TagRiskCritical
	case "high":
		return theme.TagRiskHigh
	case "medium":
		return theme.TagRiskMedium
	case "low":
		return theme.TagRiskLow
	default:
		return theme.TagTextPrimary
	}
}

// riskColor returns the tcell color for a risk level (for widgets).
func riskColor(theme Theme, risk string) tcell.Color {
	switch strings.ToLower(risk) {
	case "critical":
		return theme.RiskCritical
	case "high":
		return theme.RiskHigh
	case "medium":
		return theme.RiskMedium
	case "low":
		return theme.RiskLow
	default:
		return theme.TableRow
	}
}

// applyTheme pushes theme colors to widgets
func (ui *UI) applyTheme() {
	if ui.logger != nil {
		ui.logger.Printf("Applying theme: %s", ui.themeName)
	}

	ui.sidebar.SetMainTextColor(ui.theme.TextPrimary)
	ui.sidebar.SetSecondaryTextColor(ui.theme.TextMuted)
	ui.sidebar.SetSelectedTextColor(ui.theme.SelectionFg)
	ui.sidebar.SetSelectedBackgroundColor(ui.theme.SelectionBg)
	ui.sidebar.SetBorderColor(ui.theme.Border)
	ui.sidebar.SetBackgroundColor(ui.theme.Surface)

	if ui.appTitle != nil {
		ui.appTitle.SetBackgroundColor(ui.theme.Surface)
		ui.appTitle.SetText(fmt.Sprintf(" [%s]MedGen Console[-]", ui.theme.TagAccent))
		ui.appTitle.SetTextColor(ui.theme.TextPrimary)
	}

	if ui.overviewInfo != nil {
		ui.overviewInfo.SetBackgroundColor(ui.theme.Surface)
		ui.overviewInfo.SetTextColor(ui.theme.TextPrimary)
		ui.overviewInfo.SetBorderColor(ui.theme.Border)
		ui.updateOverview()
	}

	ui.fileDetail.SetTextColor(ui.theme.TextPrimary)
	ui.fileDetail.SetBorderColor(ui.theme.Border)
	ui.fileDetail.SetBackgroundColor(ui.theme.Surface)

	ui.activityView.SetTextColor(ui.theme.TextPrimary)
	ui.activityView.SetBorderColor(ui.theme.Border)
	ui.activityView.SetBackgroundColor(ui.theme.Surface)

	ui.statusBar.SetTextColor(ui.theme.TextPrimary)
	ui.statusBar.SetBackgroundColor(ui.theme.Surface)

	// Re-render lists and focus ring with the new tags
	ui.updateFileList()
	ui.renderActivity()
	ui.highlightFocus(ui.app.GetFocus())
}

// cycleTheme moves to the next theme in sequence
func (ui *UI) cycleTheme() {
	next := map[string]string{
		"dark":          "light",
		"light":         "neon",
		"neon":          "cb-safe",
		"cb-safe":       "high-contrast",
		"high-contrast": "dark",
	}
	ui.setTheme(next[ui.themeName])
}

// setTheme applies a named theme
func (ui *UI) setTheme(name string) {
	// Prevent re-entrant theme application that can stall UI updates
	if !atomic.CompareAndSwapInt32(&ui.themeApplying, 0, 1) {
		if ui.logger != nil {
			ui.logger.Printf("setTheme(%s) ignored: theme is already applying", name)
		}
		return
	}
	defer atomic.StoreInt32(&ui.themeApplying, 0)

	if ui.logger != nil {
		ui.logger.Printf("Setting theme: %s (previous=%s)", name, ui.themeName)
	}
	switch name {
	case "light":
		ui.themeName = "light"
		ui.theme = themeLight()
	case "neon":
		ui.themeName = "neon"
		ui.theme = themeNeon()
	case "high-contrast":
		ui.themeName = "high-contrast"
		ui.theme = themeHighContrast()
	case "cb-safe":
		ui.themeName = "cb-safe"
		ui.theme = themeColorblindSafe()
	default:
		ui.themeName = "dark"
		ui.theme = themeDark()
	}

	ui.applyTheme()

	// Propagate to the active sub-screen so it recolors live
	if ui.activeScreen != nil {
		ui.activeScreen.OnThemeChanged(ui.theme)
	}
	ui.setStatusDirect("[%s]Theme: %s[-:-:-]", ui.theme.TagAccent, ui.themeName)
}

// GetStats returns basic UI statistics for logs and tests.
func (ui *UI) GetStats() map[string]interface{} {
	return map[string]interface{}{
		"documents":        len(ui.allFiles),
		"filtered":         len(ui.files),
		"selected_file":    ui.selectedFileID,
		"activity_entries": len(ui.activity),
		"backend_healthy":  atomic.LoadInt32(&ui.healthState) == healthOK,
		"theme":            ui.themeName,
	}
}

// openGeneration opens the generation workflow for the document at index.
func (ui *UI) openGeneration(index int) {
	if index < 0 || index >= len(ui.files) {
		ui.setStatusDirect("[%s]No document selected[-:-:-]", ui.theme.TagWarning)
		return
	}
	file := ui.files[index]
	ui.setStatusDirect("[%s]Opening %s[-:-:-]", ui.theme.TagAccent, file.Filename)

	gs := NewGenerationScreen(ui, file)
	ui.activeScreen = gs
	gs.Show()
}

// openReports opens the compliance report screen for the selected document.
func (ui *UI) openReports() {
	file := ui.selectedFile()
	if file == nil {
		ui.setStatusDirect("[%s]Select a document first[-:-:-]", ui.theme.TagWarning)
		return
	}
	rs := NewReportsScreen(ui, *file)
	ui.activeScreen = rs
	rs.Show()
}

// openIntegration opens the Jira push screen for the selected document.
func (ui *UI) openIntegration() {
	file := ui.selectedFile()
	if file == nil {
		ui.setStatusDirect("[%s]Select a document first[-:-:-]", ui.theme.TagWarning)
		return
	}
	is := NewIntegrationScreen(ui, *file)
	ui.activeScreen = is
	is.Show()
}

// sortStrings returns a sorted copy of the keys of m whose value is true.
func sortStrings(m map[string]bool) []string {
	if len(m) == 0 {
		return nil
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		if v {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

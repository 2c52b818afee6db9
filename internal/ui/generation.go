package ui

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"github.com/seralys/medgen-console/internal/api"
	"github.com/seralys/medgen-console/internal/bus"
	"github.com/seralys/medgen-console/internal/format"
	"github.com/seralys/medgen-console/internal/store"
)

// Generation screen phases. Key handling and rendering branch on the
// current phase instead of ad-hoc booleans.
const (
	phaseLoading int32 = iota
	phaseNoRequirements
	phaseReady
	phaseGenerating
)

// Improve dialog states.
const (
	improveClosed int32 = iota
	improveEditing
	improveSubmitting
	improveResult
)

// caseRowRef maps a case table row back to its source. caseIdx is -1 for
// a requirement header row.
type caseRowRef struct {
	groupIdx int
	caseIdx  int
}

// GenerationScreen is the per-document workflow view: a requirement
// checklist on the left, generated test cases grouped by requirement on
// the right, and a detail pane underneath.
type GenerationScreen struct {
	parentUI *UI
	app      *tview.Application
	logger   *log.Logger
	theme    Theme
	ctx      context.Context

	file api.FileInfo

	// Layout
	layout      *tview.Flex
	metadataBar *tview.TextView
	reqTable    *tview.Table
	caseTable   *tview.Table
	detailView  *tview.TextView
	statusBar   *tview.TextView

	// Data
	requirements []api.Requirement
	grouped      *api.GroupedTestCases
	selectedReqs map[string]bool
	caseRows     []caseRowRef
	lastMessage  string

	// State machines and guards
	phase        int32
	generating   int32 // atomic flag, single generation run at a time
	genStart     int64 // unix nano of last generation start (watchdog)
	loadSeq      int64 // monotonic, stale load responses are dropped
	improveState int32
	improveSent  int32
	improved     bool // an improvement landed; reload on dialog close

	improveStatus *tview.TextView
}

// NewGenerationScreen creates the workflow screen for one document.
func NewGenerationScreen(parent *UI, file api.FileInfo) *GenerationScreen {
	gs := &GenerationScreen{
		parentUI:     parent,
		app:          parent.app,
		logger:       parent.logger,
		theme:        parent.theme,
		ctx:          parent.ctx,
		file:         file,
		selectedReqs: make(map[string]bool),
	}
	gs.setupLayout()
	return gs
}

// Show replaces the application root with this screen and starts the
// initial load.
func (gs *GenerationScreen) Show() {
	gs.app.SetRoot(gs.layout, true)
	gs.app.SetInputCapture(gs.handleKey)
	gs.app.SetFocus(gs.reqTable)
	gs.highlight(gs.reqTable)
	gs.loadData()
}

// close returns to the dashboard. Statuses may have changed, so the
// document list reloads in the background.
func (gs *GenerationScreen) close() {
	if gs.logger != nil {
		gs.logger.Printf("Closing generation screen for %s", gs.file.FileID)
	}
	go gs.parentUI.loadFiles()
	gs.parentUI.restoreMainLayout()
}

// OnThemeChanged recolors the screen when the dashboard theme changes.
func (gs *GenerationScreen) OnThemeChanged(theme Theme) {
	gs.theme = theme
	gs.applyTheme()
	gs.renderAll()
}

func (gs *GenerationScreen) setupLayout() {
	gs.metadataBar = tview.NewTextView()
	gs.metadataBar.SetDynamicColors(true)
	gs.metadataBar.SetBorder(true)
	gs.metadataBar.SetTitle(" Document ")
	gs.metadataBar.SetTitleAlign(tview.AlignLeft)

	gs.reqTable = tview.NewTable()
	gs.reqTable.SetBorder(true)
	gs.reqTable.SetTitle(" Requirements ")
	gs.reqTable.SetTitleAlign(tview.AlignLeft)
	gs.reqTable.SetSelectable(true, false)
	gs.reqTable.SetFixed(1, 0)

	gs.caseTable = tview.NewTable()
	gs.caseTable.SetBorder(true)
	gs.caseTable.SetTitle(" Test Cases ")
	gs.caseTable.SetTitleAlign(tview.AlignLeft)
	gs.caseTable.SetSelectable(true, false)
	gs.caseTable.SetFixed(1, 0)
	gs.caseTable.SetSelectionChangedFunc(func(row, col int) {
		gs.updateDetail(row)
	})

	gs.detailView = tview.NewTextView()
	gs.detailView.SetDynamicColors(true)
	gs.detailView.SetBorder(true)
	gs.detailView.SetTitle(" Test Case Detail ")
	gs.detailView.SetTitleAlign(tview.AlignLeft)
	gs.detailView.SetWordWrap(true)
	gs.detailView.SetScrollable(true)

	gs.statusBar = tview.NewTextView()
	gs.statusBar.SetDynamicColors(true)

	tables := tview.NewFlex().
		SetDirection(tview.FlexColumn).
		AddItem(gs.reqTable, 44, 0, true).
		AddItem(gs.caseTable, 0, 1, false)

	gs.layout = tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(gs.metadataBar, 5, 0, false).
		AddItem(tables, 0, 2, true).
		AddItem(gs.detailView, 12, 0, false).
		AddItem(gs.statusBar, 1, 0, false)

	gs.applyTheme()
	gs.renderMetadata()
	gs.setStatus("[%s]Loading...[-]", gs.theme.TagAccent)
}

func (gs *GenerationScreen) applyTheme() {
	for _, t := range []*tview.Table{gs.reqTable, gs.caseTable} {
		t.SetBackgroundColor(gs.theme.Surface)
		t.SetBorderColor(gs.theme.Border)
		t.SetSelectedStyle(tcell.StyleDefault.
			Background(gs.theme.SelectionBg).
			Foreground(gs.theme.SelectionFg))
	}
	gs.metadataBar.SetBackgroundColor(gs.theme.Surface)
	gs.metadataBar.SetBorderColor(gs.theme.Border)
	gs.detailView.SetBackgroundColor(gs.theme.Surface)
	gs.detailView.SetBorderColor(gs.theme.Border)
	gs.detailView.SetTextColor(gs.theme.TextPrimary)
	gs.statusBar.SetBackgroundColor(gs.theme.Surface)
	gs.statusBar.SetTextColor(gs.theme.TextPrimary)
	gs.highlight(gs.app.GetFocus())
}

// handleKey is the screen's global input capture.
func (gs *GenerationScreen) handleKey(event *tcell.EventKey) *tcell.EventKey {
	// The improve dialog installs its own handlers.
	if atomic.LoadInt32(&gs.improveState) != improveClosed {
		return event
	}

	switch event.Key() {
	case tcell.KeyEsc:
		gs.requestClose()
		return nil
	case tcell.KeyTab:
		gs.cycleFocus()
		return nil
	case tcell.KeyRune:
		switch event.Rune() {
		case 'q', 'Q':
			gs.requestClose()
			return nil
		case ' ':
			if gs.app.GetFocus() == gs.reqTable {
				gs.toggleSelected()
				return nil
			}
		case 'a':
			gs.selectAll(true)
			return nil
		case 'n':
			gs.selectAll(false)
			return nil
		case 'g':
			gs.runGenerate()
			return nil
		case 'R':
			gs.clearResults()
			return nil
		case 'i':
			gs.showImproveDialog()
			return nil
		case 'e':
			gs.exportCSV()
			return nil
		case 'r':
			gs.loadData()
			return nil
		case 'x':
			gs.runExtract()
			return nil
		case 'j':
			gs.moveRow(1)
			return nil
		case 'k':
			gs.moveRow(-1)
			return nil
		}
	}
	return event
}

// requestClose refuses to leave while a generation batch is running so
// its progress stays visible.
func (gs *GenerationScreen) requestClose() {
	if atomic.LoadInt32(&gs.phase) == phaseGenerating {
		gs.setStatus("[%s]Generation in progress, wait for it to finish[-]", gs.theme.TagWarning)
		return
	}
	gs.close()
}

func (gs *GenerationScreen) cycleFocus() {
	switch gs.app.GetFocus() {
	case gs.reqTable:
		gs.app.SetFocus(gs.caseTable)
		gs.highlight(gs.caseTable)
	case gs.caseTable:
		gs.app.SetFocus(gs.detailView)
		gs.highlight(gs.detailView)
	default:
		gs.app.SetFocus(gs.reqTable)
		gs.highlight(gs.reqTable)
	}
}

func (gs *GenerationScreen) highlight(focused tview.Primitive) {
	gs.reqTable.SetBorderColor(gs.theme.Border)
	gs.caseTable.SetBorderColor(gs.theme.Border)
	gs.detailView.SetBorderColor(gs.theme.Border)
	switch focused {
	case gs.reqTable:
		gs.reqTable.SetBorderColor(gs.theme.FocusBorder)
	case gs.caseTable:
		gs.caseTable.SetBorderColor(gs.theme.FocusBorder)
	case gs.detailView:
		gs.detailView.SetBorderColor(gs.theme.FocusBorder)
	}
}

func (gs *GenerationScreen) moveRow(delta int) {
	table, ok := gs.app.GetFocus().(*tview.Table)
	if !ok {
		return
	}
	row, _ := table.GetSelection()
	row += delta
	if row < 1 {
		row = 1
	}
	if row >= table.GetRowCount() {
		row = table.GetRowCount() - 1
	}
	if row >= 1 {
		table.Select(row, 0)
	}
}

// loadData fetches requirements and grouped test cases, then renders.
// Responses for a superseded load are dropped.
func (gs *GenerationScreen) loadData() {
	seq := atomic.AddInt64(&gs.loadSeq, 1)
	atomic.StoreInt32(&gs.phase, phaseLoading)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				if gs.logger != nil {
					gs.logger.Printf("panic in generation loadData: %v", r)
				}
			}
		}()

		ctx, cancel := context.WithTimeout(gs.ctx, 30*time.Second)
		defer cancel()

		reqs, rerr := gs.parentUI.client.ListRequirements(ctx, gs.file.FileID)
		var grouped *api.GroupedTestCases
		if rerr == nil && len(reqs) > 0 {
			var gerr error
			grouped, gerr = gs.parentUI.client.TestCasesByFile(ctx, gs.file.FileID)
			if gerr != nil && gs.logger != nil {
				// Expected right after extraction, before any generation.
				gs.logger.Printf("No grouped test cases for %s: %v", gs.file.FileID, gerr)
			}
		}

		gs.app.QueueUpdateDraw(func() {
			if atomic.LoadInt64(&gs.loadSeq) != seq {
				return
			}
			if rerr != nil || len(reqs) == 0 {
				atomic.StoreInt32(&gs.phase, phaseNoRequirements)
				gs.requirements = nil
				gs.grouped = nil
				gs.renderAll()
				if rerr != nil {
					gs.setStatus("[%s]%v. Press x to extract requirements.[-]", gs.theme.TagWarning, rerr)
				} else {
					gs.setStatus("[%s]No requirements yet. Press x to extract.[-]", gs.theme.TagWarning)
				}
				return
			}
			gs.requirements = reqs
			gs.grouped = grouped
			// Drop selections for requirements that no longer exist.
			valid := make(map[string]bool, len(reqs))
			for _, r := range reqs {
				valid[r.RequirementID] = true
			}
			for id := range gs.selectedReqs {
				if !valid[id] {
					delete(gs.selectedReqs, id)
				}
			}
			atomic.StoreInt32(&gs.phase, phaseReady)
			gs.renderAll()
			gs.setStatus("[%s]Loaded %d requirements, %d test cases[-]",
				gs.theme.TagSuccess, len(reqs), gs.totalCases())
		})
	}()
}

func (gs *GenerationScreen) totalCases() int {
	if gs.grouped == nil {
		return 0
	}
	n := 0
	for _, g := range gs.grouped.Requirements {
		n += len(g.TestCases)
	}
	return n
}

// caseCountByReq returns per-requirement case counts keyed by requirement id.
func (gs *GenerationScreen) caseCountByReq() map[string]int {
	counts := make(map[string]int)
	if gs.grouped == nil {
		return counts
	}
	for _, g := range gs.grouped.Requirements {
		counts[g.RequirementID] = len(g.TestCases)
	}
	return counts
}

func (gs *GenerationScreen) renderAll() {
	gs.renderMetadata()
	gs.renderRequirements()
	gs.renderCases()
}

func (gs *GenerationScreen) renderMetadata() {
	selected := 0
	for _, on := range gs.selectedReqs {
		if on {
			selected++
		}
	}
	line1 := fmt.Sprintf("[%s]%s[-]  [%s]|[-]  %s  [%s]|[-]  [%s]%s[-]",
		gs.theme.TagAccent, gs.file.Filename,
		gs.theme.TagMuted, gs.file.FileID,
		gs.theme.TagMuted,
		gs.parentUI.statusTag(gs.file.Status), gs.file.Status)
	line2 := fmt.Sprintf("[%s]Requirements:[-] %d   [%s]Selected:[-] %d   [%s]Test cases:[-] %d",
		gs.theme.TagMuted, len(gs.requirements),
		gs.theme.TagMuted, selected,
		gs.theme.TagMuted, gs.totalCases())
	line3 := ""
	if gs.lastMessage != "" {
		line3 = fmt.Sprintf("[%s]%s[-]", gs.theme.TagMuted, gs.lastMessage)
	}
	gs.metadataBar.SetText(line1 + "\n" + line2 + "\n" + line3)
}

func (gs *GenerationScreen) renderRequirements() {
	gs.reqTable.Clear()

	headers := []string{"", "ID", "TITLE", "CASES"}
	for col, h := range headers {
		cell := tview.NewTableCell(h).
			SetTextColor(gs.theme.TableHeader).
			SetBackgroundColor(gs.theme.TableHeaderBg).
			SetAttributes(tcell.AttrBold).
			SetSelectable(false)
		gs.reqTable.SetCell(0, col, cell)
	}

	if len(gs.requirements) == 0 {
		cell := tview.NewTableCell("No requirements extracted").
			SetTextColor(gs.theme.TextMuted).
			SetSelectable(false)
		gs.reqTable.SetCell(1, 2, cell)
		return
	}

	counts := gs.caseCountByReq()
	for i, r := range gs.requirements {
		row := i + 1
		mark := " "
		markColor := gs.theme.TextMuted
		if gs.selectedReqs[r.RequirementID] {
			mark = "✓"
			markColor = gs.theme.Accent
		}
		count := "-"
		if c, ok := counts[r.RequirementID]; ok && c > 0 {
			count = fmt.Sprintf("%d", c)
		}
		gs.reqTable.SetCell(row, 0, tview.NewTableCell(mark).SetTextColor(markColor))
		gs.reqTable.SetCell(row, 1, tview.NewTableCell(r.ReqTitleID).SetTextColor(gs.theme.Accent))
		gs.reqTable.SetCell(row, 2, tview.NewTableCell(truncate(r.Title, 24)).SetTextColor(gs.theme.TableRow).SetExpansion(1))
		gs.reqTable.SetCell(row, 3, tview.NewTableCell(count).SetTextColor(gs.theme.TableRowMuted).SetAlign(tview.AlignRight))
	}
}

func (gs *GenerationScreen) renderCases() {
	gs.caseTable.Clear()
	gs.caseRows = gs.caseRows[:0]

	headers := []string{"TEST CASE", "TITLE", "RISK", "TAGS"}
	for col, h := range headers {
		cell := tview.NewTableCell(h).
			SetTextColor(gs.theme.TableHeader).
			SetBackgroundColor(gs.theme.TableHeaderBg).
			SetAttributes(tcell.AttrBold).
			SetSelectable(false)
		gs.caseTable.SetCell(0, col, cell)
	}
	gs.caseRows = append(gs.caseRows, caseRowRef{-1, -1})

	if gs.grouped == nil || len(gs.grouped.Requirements) == 0 {
		msg := "No test cases generated yet. Press g to generate."
		if atomic.LoadInt32(&gs.phase) == phaseNoRequirements {
			msg = "Extract requirements first (x)."
		}
		cell := tview.NewTableCell(msg).
			SetTextColor(gs.theme.TextMuted).
			SetSelectable(false)
		gs.caseTable.SetCell(1, 0, cell)
		gs.caseRows = append(gs.caseRows, caseRowRef{-1, -1})
		gs.updateDetail(-1)
		return
	}

	row := 1
	for gi, g := range gs.grouped.Requirements {
		header := tview.NewTableCell(g.ReqTitleID).
			SetTextColor(gs.theme.Header).
			SetAttributes(tcell.AttrBold)
		gs.caseTable.SetCell(row, 0, header)
		gs.caseTable.SetCell(row, 1, tview.NewTableCell(truncate(g.ReqTitle, 48)).
			SetTextColor(gs.theme.Header).
			SetAttributes(tcell.AttrBold).
			SetExpansion(1))
		gs.caseTable.SetCell(row, 2, tview.NewTableCell(""))
		gs.caseTable.SetCell(row, 3, tview.NewTableCell(fmt.Sprintf("%d cases", len(g.TestCases))).
			SetTextColor(gs.theme.TextMuted).
			SetAlign(tview.AlignRight))
		gs.caseRows = append(gs.caseRows, caseRowRef{gi, -1})
		row++

		for ci, tc := range g.TestCases {
			gs.caseTable.SetCell(row, 0, tview.NewTableCell("  "+tc.TCID).SetTextColor(gs.theme.Accent))
			gs.caseTable.SetCell(row, 1, tview.NewTableCell(truncate(tc.TCTitle, 48)).
				SetTextColor(gs.theme.TableRow).
				SetExpansion(1))
			gs.caseTable.SetCell(row, 2, tview.NewTableCell(tc.Risk).SetTextColor(riskColor(gs.theme, tc.Risk)))
			gs.caseTable.SetCell(row, 3, tview.NewTableCell(truncate(tc.ComplianceTags.String(), 28)).
				SetTextColor(gs.theme.TableRowMuted))
			gs.caseRows = append(gs.caseRows, caseRowRef{gi, ci})
			row++
		}
	}

	if gs.caseTable.GetRowCount() > 1 {
		gs.caseTable.Select(1, 0)
		gs.updateDetail(1)
	}
}

// updateDetail renders the detail pane for a case table row. Header rows
// show the requirement description instead.
func (gs *GenerationScreen) updateDetail(row int) {
	if row < 0 || row >= len(gs.caseRows) || gs.grouped == nil {
		gs.detailView.SetText(fmt.Sprintf("[%s]Select a test case to inspect it.[-]", gs.theme.TagMuted))
		return
	}
	ref := gs.caseRows[row]
	if ref.groupIdx < 0 || ref.groupIdx >= len(gs.grouped.Requirements) {
		gs.detailView.SetText(fmt.Sprintf("[%s]Select a test case to inspect it.[-]", gs.theme.TagMuted))
		return
	}
	g := gs.grouped.Requirements[ref.groupIdx]

	var sb strings.Builder
	if ref.caseIdx < 0 || ref.caseIdx >= len(g.TestCases) {
		fmt.Fprintf(&sb, "[%s]%s[-] %s\n\n", gs.theme.TagAccent, g.ReqTitleID, g.ReqTitle)
		fmt.Fprintf(&sb, "%s", g.ReqDescription)
		gs.detailView.SetText(sb.String())
		gs.detailView.ScrollToBeginning()
		return
	}

	tc := g.TestCases[ref.caseIdx]
	fmt.Fprintf(&sb, "[%s]%s[-] %s   [%s](%s)[-]\n\n",
		gs.theme.TagAccent, tc.TCID, tc.TCTitle, gs.theme.TagMuted, g.ReqTitleID)

	steps := format.DescriptionSteps(tc.TCDescription)
	if len(steps) > 1 {
		fmt.Fprintf(&sb, "[%s]Steps[-]\n", gs.theme.TagAccent)
		for i, s := range steps {
			fmt.Fprintf(&sb, " %d. %s\n", i+1, s)
		}
	} else {
		fmt.Fprintf(&sb, "%s\n", tc.TCDescription)
	}

	if tc.ExpectedResult != "" {
		fmt.Fprintf(&sb, "\n[%s]Expected[-]\n%s\n", gs.theme.TagAccent, tc.ExpectedResult)
	}
	if strings.TrimSpace(tc.InputData) != "" {
		fmt.Fprintf(&sb, "\n[%s]Input Data[-]\n%s\n", gs.theme.TagAccent, format.PrettyInput(tc.InputData))
	}

	fmt.Fprintf(&sb, "\n[%s]Tags:[-] %s   [%s]Risk:[-] [%s]%s[-]",
		gs.theme.TagMuted, tc.ComplianceTags.String(),
		gs.theme.TagMuted, riskTag(gs.theme, tc.Risk), tc.Risk)
	if ts, ok := api.ParseCreatedAt(tc.CreatedAt); ok {
		fmt.Fprintf(&sb, "   [%s]Created:[-] %s", gs.theme.TagMuted, ts.Format("2006-01-02 15:04"))
	}

	gs.detailView.SetText(sb.String())
	gs.detailView.ScrollToBeginning()
}

// toggleSelected flips the checkbox of the highlighted requirement.
func (gs *GenerationScreen) toggleSelected() {
	row, _ := gs.reqTable.GetSelection()
	idx := row - 1
	if idx < 0 || idx >= len(gs.requirements) {
		return
	}
	id := gs.requirements[idx].RequirementID
	gs.selectedReqs[id] = !gs.selectedReqs[id]
	if !gs.selectedReqs[id] {
		delete(gs.selectedReqs, id)
	}
	gs.renderRequirements()
	gs.renderMetadata()
	gs.reqTable.Select(row, 0)
}

func (gs *GenerationScreen) selectAll(on bool) {
	if on {
		for _, r := range gs.requirements {
			gs.selectedReqs[r.RequirementID] = true
		}
	} else {
		gs.selectedReqs = make(map[string]bool)
	}
	row, _ := gs.reqTable.GetSelection()
	gs.renderRequirements()
	gs.renderMetadata()
	if row >= 1 && row < gs.reqTable.GetRowCount() {
		gs.reqTable.Select(row, 0)
	}
}

// orderedSelection returns the checked requirements in checklist order.
func (gs *GenerationScreen) orderedSelection() []api.Requirement {
	var out []api.Requirement
	for _, r := range gs.requirements {
		if gs.selectedReqs[r.RequirementID] {
			out = append(out, r)
		}
	}
	return out
}

// clearResults drops the fetched test cases so the screen returns to
// the generation prompt. Nothing is deleted server-side; the next batch
// is additive.
func (gs *GenerationScreen) clearResults() {
	if atomic.LoadInt32(&gs.phase) == phaseGenerating {
		gs.setStatus("[%s]A generation batch is already running[-]", gs.theme.TagWarning)
		return
	}
	if gs.totalCases() == 0 {
		gs.setStatus("[%s]No results to clear[-]", gs.theme.TagWarning)
		return
	}
	gs.grouped = nil
	gs.lastMessage = ""
	gs.renderAll()
	gs.setStatus("[%s]Results cleared, press g to generate a fresh batch[-]", gs.theme.TagAccent)
}

// runGenerate starts a generation batch. With no requirements checked
// the whole document generates in one backend call; otherwise the
// checked requirements generate sequentially, in checklist order, with a
// single reload afterwards.
func (gs *GenerationScreen) runGenerate() {
	if atomic.LoadInt32(&gs.phase) == phaseNoRequirements {
		gs.setStatus("[%s]Extract requirements first (x)[-]", gs.theme.TagWarning)
		return
	}
	if !atomic.CompareAndSwapInt32(&gs.generating, 0, 1) {
		started := time.Unix(0, atomic.LoadInt64(&gs.genStart))
		if time.Since(started) > 10*time.Minute {
			if gs.logger != nil {
				gs.logger.Printf("runGenerate: resetting stuck generation flag since %v", started)
			}
			atomic.StoreInt32(&gs.generating, 0)
		}
		if !atomic.CompareAndSwapInt32(&gs.generating, 0, 1) {
			gs.setStatus("[%s]A generation batch is already running[-]", gs.theme.TagWarning)
			return
		}
	}
	atomic.StoreInt64(&gs.genStart, time.Now().UnixNano())
	atomic.StoreInt32(&gs.phase, phaseGenerating)

	selection := gs.orderedSelection()
	if len(selection) == 0 {
		gs.setStatus("[%s]Generating test cases for the whole document...[-]", gs.theme.TagWarning)
	} else {
		gs.setStatus("[%s]Generating test cases for %d requirements...[-]", gs.theme.TagWarning, len(selection))
	}

	go func() {
		defer atomic.StoreInt32(&gs.generating, 0)
		defer func() {
			if r := recover(); r != nil {
				if gs.logger != nil {
					gs.logger.Printf("panic in runGenerate: %v", r)
				}
			}
		}()

		ctx, cancel := context.WithTimeout(gs.ctx, 10*time.Minute)
		defer cancel()

		var msg string
		var genErr error

		if len(selection) == 0 {
			result, err := gs.parentUI.client.GenerateForFile(ctx, gs.file.FileID)
			if err != nil {
				genErr = err
			} else {
				failed := 0
				for _, out := range result.PerRequirement {
					if out.Error != "" {
						failed++
					}
				}
				msg = fmt.Sprintf("%s (%d cases in %.1fs)", result.Message, result.TotalGenerated, result.ElapsedSeconds)
				if failed > 0 {
					msg = fmt.Sprintf("%s, %d requirements failed", msg, failed)
				}
			}
		} else {
			generated := 0
			failed := 0
			var firstErr error
			for i, req := range selection {
				label := req.ReqTitleID
				gs.app.QueueUpdateDraw(func() {
					gs.setStatus("[%s]Generating %d/%d: %s[-]", gs.theme.TagWarning, i+1, len(selection), label)
				})
				res, err := gs.parentUI.client.GenerateForRequirement(ctx, req.RequirementID)
				if err != nil {
					failed++
					if firstErr == nil {
						firstErr = err
					}
					if gs.logger != nil {
						gs.logger.Printf("Generation failed for %s: %v", req.RequirementID, err)
					}
					continue
				}
				generated += len(res.TestCases)
			}
			msg = fmt.Sprintf("Generated %d test cases for %d requirements", generated, len(selection)-failed)
			if failed > 0 {
				msg = fmt.Sprintf("%s, %d failed (%v)", msg, failed, firstErr)
			}
		}

		if genErr != nil {
			gs.app.QueueUpdateDraw(func() {
				atomic.StoreInt32(&gs.phase, phaseReady)
				gs.setStatus("[%s]Generation failed: %v[-]", gs.theme.TagError, genErr)
			})
			return
		}

		gs.parentUI.journal(gs.file.FileID, gs.file.Filename, store.ActionGenerate, map[string]interface{}{
			"message": msg,
		})

		// One reload for the whole batch.
		rctx, rcancel := context.WithTimeout(gs.ctx, 30*time.Second)
		grouped, gerr := gs.parentUI.client.TestCasesByFile(rctx, gs.file.FileID)
		rcancel()

		gs.app.QueueUpdateDraw(func() {
			atomic.StoreInt32(&gs.phase, phaseReady)
			if gerr == nil {
				gs.grouped = grouped
			}
			gs.lastMessage = msg
			gs.renderAll()
			gs.setStatus("[%s]%s[-]", gs.theme.TagSuccess, msg)
		})
		go gs.parentUI.loadFiles()
	}()
}

// runExtract triggers requirement extraction from within the screen,
// for documents opened before extraction.
func (gs *GenerationScreen) runExtract() {
	if atomic.LoadInt32(&gs.phase) != phaseNoRequirements {
		gs.setStatus("[%s]Requirements are already extracted[-]", gs.theme.TagWarning)
		return
	}
	if !atomic.CompareAndSwapInt32(&gs.generating, 0, 1) {
		gs.setStatus("[%s]Busy, try again shortly[-]", gs.theme.TagWarning)
		return
	}
	gs.setStatus("[%s]Extracting requirements...[-]", gs.theme.TagWarning)

	go func() {
		defer atomic.StoreInt32(&gs.generating, 0)

		ctx, cancel := context.WithTimeout(gs.ctx, 180*time.Second)
		defer cancel()

		result, err := gs.parentUI.client.ExtractRequirements(ctx, gs.file.FileID)
		if err != nil {
			gs.app.QueueUpdateDraw(func() {
				gs.setStatus("[%s]Extraction failed: %v[-]", gs.theme.TagError, err)
			})
			return
		}

		gs.parentUI.journal(gs.file.FileID, gs.file.Filename, store.ActionExtract, map[string]interface{}{
			"message":           result.Message,
			"requirement_count": result.RequirementCount,
		})

		gs.app.QueueUpdateDraw(func() {
			gs.lastMessage = fmt.Sprintf("Extracted %d requirements", result.RequirementCount)
		})
		gs.loadData()
		go gs.parentUI.loadFiles()
	}()
}

// selectedCase resolves the case table selection to a concrete test case.
func (gs *GenerationScreen) selectedCase() (*api.GroupedRequirement, *api.TestCase) {
	if gs.grouped == nil {
		return nil, nil
	}
	row, _ := gs.caseTable.GetSelection()
	if row < 0 || row >= len(gs.caseRows) {
		return nil, nil
	}
	ref := gs.caseRows[row]
	if ref.groupIdx < 0 || ref.groupIdx >= len(gs.grouped.Requirements) {
		return nil, nil
	}
	g := &gs.grouped.Requirements[ref.groupIdx]
	if ref.caseIdx < 0 || ref.caseIdx >= len(g.TestCases) {
		return nil, nil
	}
	return g, &g.TestCases[ref.caseIdx]
}

// showImproveDialog opens the feedback dialog for the selected test case.
func (gs *GenerationScreen) showImproveDialog() {
	group, tc := gs.selectedCase()
	if tc == nil {
		gs.setStatus("[%s]Select a test case first (Tab to the case list)[-]", gs.theme.TagWarning)
		return
	}
	atomic.StoreInt32(&gs.improveState, improveEditing)
	atomic.StoreInt32(&gs.improveSent, 0)

	current := tview.NewTextView()
	current.SetDynamicColors(true)
	current.SetBorder(true)
	current.SetTitle(" Current Description ")
	current.SetTitleAlign(tview.AlignLeft)
	current.SetWordWrap(true)
	current.SetScrollable(true)
	current.SetText(tc.TCDescription)
	current.SetBackgroundColor(gs.theme.Surface)
	current.SetTextColor(gs.theme.TextPrimary)
	current.SetBorderColor(gs.theme.Border)

	gs.improveStatus = tview.NewTextView()
	gs.improveStatus.SetDynamicColors(true)
	gs.improveStatus.SetBackgroundColor(gs.theme.Surface)
	gs.improveStatus.SetText(fmt.Sprintf("[%s]Describe what should change, then Submit. Esc cancels.[-]", gs.theme.TagMuted))

	form := tview.NewForm()
	form.AddTextArea("Feedback", "", 0, 5, 0, nil)
	form.AddButton("Submit", func() {
		feedback := strings.TrimSpace(form.GetFormItem(0).(*tview.TextArea).GetText())
		gs.submitImprovement(group, tc, feedback)
	})
	form.AddButton("Cancel", func() {
		gs.closeImproveDialog()
	})
	form.SetBackgroundColor(gs.theme.Surface)
	form.SetFieldBackgroundColor(gs.theme.SelectionBg)
	form.SetFieldTextColor(gs.theme.TextPrimary)
	form.SetLabelColor(gs.theme.TextPrimary)
	form.SetButtonBackgroundColor(gs.theme.SelectionBg)
	form.SetButtonTextColor(gs.theme.SelectionFg)

	form.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if event.Key() == tcell.KeyEsc {
			if atomic.LoadInt32(&gs.improveState) == improveSubmitting {
				return nil
			}
			gs.closeImproveDialog()
			return nil
		}
		return event
	})

	content := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(current, 0, 1, false).
		AddItem(form, 10, 0, true).
		AddItem(gs.improveStatus, 1, 0, false)
	content.SetBorder(true)
	content.SetTitle(fmt.Sprintf(" Improve %s ", tc.TCID))
	content.SetTitleAlign(tview.AlignLeft)
	content.SetBorderColor(gs.theme.FocusBorder)
	content.SetBackgroundColor(gs.theme.Surface)

	gs.showDialogRoot(content, 84, 26, form)
}

// submitImprovement sends the feedback to the backend. Double submits are
// swallowed by the sent flag.
func (gs *GenerationScreen) submitImprovement(group *api.GroupedRequirement, tc *api.TestCase, feedback string) {
	if feedback == "" {
		gs.improveStatus.SetText(fmt.Sprintf("[%s]Feedback is empty. Describe what should change.[-]", gs.theme.TagWarning))
		return
	}
	if !atomic.CompareAndSwapInt32(&gs.improveSent, 0, 1) {
		return
	}
	atomic.StoreInt32(&gs.improveState, improveSubmitting)
	gs.improveStatus.SetText(fmt.Sprintf("[%s]Asking the model for a revision...[-]", gs.theme.TagWarning))

	req := api.ImproveRequest{
		FileID:              gs.file.FileID,
		RequirementID:       group.RequirementID,
		TCID:                tc.TCID,
		OriginalDescription: tc.TCDescription,
		UserInput:           feedback,
	}

	go func() {
		defer func() {
			if r := recover(); r != nil {
				if gs.logger != nil {
					gs.logger.Printf("panic in submitImprovement: %v", r)
				}
			}
		}()

		ctx, cancel := context.WithTimeout(gs.ctx, 180*time.Second)
		defer cancel()

		imp, err := gs.parentUI.client.ImproveTestCase(ctx, req)
		if err != nil {
			gs.app.QueueUpdateDraw(func() {
				atomic.StoreInt32(&gs.improveState, improveEditing)
				atomic.StoreInt32(&gs.improveSent, 0)
				if gs.improveStatus != nil {
					gs.improveStatus.SetText(fmt.Sprintf("[%s]Improvement failed: %v[-]", gs.theme.TagError, err))
				}
			})
			return
		}

		if lerr := gs.parentUI.store.LogImprovement(gs.ctx, gs.file.FileID, req.RequirementID, req.TCID,
			gs.parentUI.actor, feedback, imp.ImprovedDescription); lerr != nil && gs.logger != nil {
			gs.logger.Printf("journal write failed: %v", lerr)
		}
		if perr := gs.parentUI.bus.PublishActivity(gs.ctx, bus.ActivityMessage{
			FileID:   gs.file.FileID,
			Filename: gs.file.Filename,
			Action:   store.ActionImprove,
			Actor:    gs.parentUI.actor,
			Detail:   req.TCID,
		}); perr != nil && gs.logger != nil {
			gs.logger.Printf("bus publish failed: %v", perr)
		}

		gs.app.QueueUpdateDraw(func() {
			atomic.StoreInt32(&gs.improveState, improveResult)
			gs.improved = true
			gs.showImproveResult(imp)
		})
	}()
}

// showImproveResult swaps the dialog content to the before/after view.
func (gs *GenerationScreen) showImproveResult(imp *api.Improvement) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s]Before[-]\n%s\n\n", gs.theme.TagMuted, imp.OriginalDescription)
	fmt.Fprintf(&sb, "[%s]After[-]\n[%s]%s[-]", gs.theme.TagAccent, gs.theme.TagTextPrimary, imp.ImprovedDescription)
	if imp.Message != "" {
		fmt.Fprintf(&sb, "\n\n[%s]%s[-]", gs.theme.TagMuted, imp.Message)
	}

	text := tview.NewTextView()
	text.SetDynamicColors(true)
	text.SetWordWrap(true)
	text.SetScrollable(true)
	text.SetText(sb.String())
	text.SetBackgroundColor(gs.theme.Surface)
	text.SetTextColor(gs.theme.TextPrimary)

	form := tview.NewForm()
	form.AddButton("Close", func() {
		gs.closeImproveDialog()
	})
	form.SetBackgroundColor(gs.theme.Surface)
	form.SetButtonBackgroundColor(gs.theme.SelectionBg)
	form.SetButtonTextColor(gs.theme.SelectionFg)
	form.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Key() {
		case tcell.KeyEsc, tcell.KeyEnter:
			gs.closeImproveDialog()
			return nil
		}
		return event
	})

	content := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(text, 0, 1, false).
		AddItem(form, 3, 0, true)
	content.SetBorder(true)
	content.SetTitle(fmt.Sprintf(" Improved %s ", imp.TCID))
	content.SetTitleAlign(tview.AlignLeft)
	content.SetBorderColor(gs.theme.FocusBorder)
	content.SetBackgroundColor(gs.theme.Surface)

	gs.showDialogRoot(content, 84, 26, form)
}

// closeImproveDialog restores the screen. When an improvement landed the
// backend has new content, so the view reloads.
func (gs *GenerationScreen) closeImproveDialog() {
	atomic.StoreInt32(&gs.improveState, improveClosed)
	gs.improveStatus = nil
	gs.app.SetRoot(gs.layout, true)
	gs.app.SetInputCapture(gs.handleKey)
	gs.app.SetFocus(gs.caseTable)
	gs.highlight(gs.caseTable)
	if gs.improved {
		gs.improved = false
		gs.loadData()
	}
}

// showDialogRoot centers a dialog primitive over the screen.
func (gs *GenerationScreen) showDialogRoot(content tview.Primitive, width, height int, focus tview.Primitive) {
	dialog := tview.NewFlex().
		AddItem(nil, 0, 1, false).
		AddItem(tview.NewFlex().SetDirection(tview.FlexRow).
			AddItem(nil, 0, 1, false).
			AddItem(content, height, 0, true).
			AddItem(nil, 0, 1, false), width, 0, true).
		AddItem(nil, 0, 1, false)

	gs.app.SetInputCapture(nil)
	gs.app.SetRoot(dialog, true)
	gs.app.SetFocus(focus)
}

// exportCSV writes the current cases to the exports directory.
func (gs *GenerationScreen) exportCSV() {
	cases := gs.grouped.Flatten()
	if len(cases) == 0 {
		gs.setStatus("[%s]No test cases to export[-]", gs.theme.TagWarning)
		return
	}
	data, err := format.TestCaseCSV(cases)
	if err != nil {
		gs.setStatus("[%s]Export failed: %v[-]", gs.theme.TagError, err)
		return
	}
	dir := gs.parentUI.exportsDir
	if err := os.MkdirAll(dir, 0o755); err != nil {
		gs.setStatus("[%s]Export failed: %v[-]", gs.theme.TagError, err)
		return
	}
	name := fmt.Sprintf("testcases_%s_%s.csv", gs.file.FileID, time.Now().Format("20060102_150405"))
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		gs.setStatus("[%s]Export failed: %v[-]", gs.theme.TagError, err)
		return
	}
	gs.setStatus("[%s]Exported %d test cases to %s[-]", gs.theme.TagSuccess, len(cases), path)
	go gs.parentUI.journal(gs.file.FileID, gs.file.Filename, store.ActionExport, map[string]interface{}{
		"message": fmt.Sprintf("Exported %d test cases to %s", len(cases), path),
	})
}

// setStatus renders the status line with phase-aware hints. UI goroutine
// only; background goroutines wrap calls in QueueUpdateDraw.
func (gs *GenerationScreen) setStatus(formatStr string, args ...interface{}) {
	message := fmt.Sprintf(formatStr, args...)
	hints := gs.buildHints()
	gs.statusBar.SetText(fmt.Sprintf("[%s]%s[-] %s [%s]|[-] %s",
		gs.theme.TagMuted, time.Now().Format("15:04:05"),
		message,
		gs.theme.TagMuted, hints))
}

func (gs *GenerationScreen) buildHints() string {
	accent := gs.theme.TagAccent
	var hints []string
	switch atomic.LoadInt32(&gs.phase) {
	case phaseNoRequirements:
		hints = []string{"x:extract", "r:reload", "q:back"}
	case phaseGenerating:
		hints = []string{"q:back(blocked)"}
	default:
		hints = []string{"Space:select", "g:generate", "R:clear", "i:improve", "e:export", "q:back"}
	}
	var sb strings.Builder
	for i, h := range hints {
		if i > 0 {
			sb.WriteString(" ")
		}
		parts := strings.SplitN(h, ":", 2)
		sb.WriteString(fmt.Sprintf("[%s]%s[-]:%s", accent, parts[0], parts[1]))
	}
	return sb.String()
}

// truncate shortens s to max runes with an ellipsis.
func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	if max <= 3 {
		return string(runes[:max])
	}
	return string(runes[:max-3]) + "..."
}

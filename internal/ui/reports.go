package ui

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"github.com/seralys/medgen-console/internal/api"
	"github.com/seralys/medgen-console/internal/format"
	"github.com/seralys/medgen-console/internal/store"
)

// reportWindows are the time windows the w key cycles through, in days.
// Zero means all time.
var reportWindows = []int{0, 7, 30, 90, 365}

// ReportsScreen shows compliance and risk rollups for one document, with
// tag and time-window filtering over the generated test cases.
//
// The backend's metrics endpoint returns tallies only, so the filterable
// case table is computed locally from the grouped test-case fetch.
type ReportsScreen struct {
	parentUI *UI
	app      *tview.Application
	logger   *log.Logger
	theme    Theme
	ctx      context.Context

	file api.FileInfo

	layout      *tview.Flex
	summaryView *tview.TextView
	tagTable    *tview.Table
	caseTable   *tview.Table
	statusBar   *tview.TextView

	metrics   *api.ComplianceMetrics
	cases     []api.TestCase
	tags      []string
	tagFilter map[string]bool
	windowIdx int

	loading int32
	loadSeq int64
}

// NewReportsScreen creates the compliance report screen for one document.
func NewReportsScreen(parent *UI, file api.FileInfo) *ReportsScreen {
	rs := &ReportsScreen{
		parentUI:  parent,
		app:       parent.app,
		logger:    parent.logger,
		theme:     parent.theme,
		ctx:       parent.ctx,
		file:      file,
		tagFilter: make(map[string]bool),
	}
	rs.setupLayout()
	return rs
}

// Show replaces the application root with this screen.
func (rs *ReportsScreen) Show() {
	rs.app.SetRoot(rs.layout, true)
	rs.app.SetInputCapture(rs.handleKey)
	rs.app.SetFocus(rs.tagTable)
	rs.highlight(rs.tagTable)
	rs.loadData()
}

func (rs *ReportsScreen) close() {
	if rs.logger != nil {
		rs.logger.Printf("Closing reports screen for %s", rs.file.FileID)
	}
	rs.parentUI.restoreMainLayout()
}

// OnThemeChanged recolors the screen when the dashboard theme changes.
func (rs *ReportsScreen) OnThemeChanged(theme Theme) {
	rs.theme = theme
	rs.applyTheme()
	rs.renderAll()
}

func (rs *ReportsScreen) setupLayout() {
	rs.summaryView = tview.NewTextView()
	rs.summaryView.SetDynamicColors(true)
	rs.summaryView.SetBorder(true)
	rs.summaryView.SetTitle(" Compliance Summary ")
	rs.summaryView.SetTitleAlign(tview.AlignLeft)
	rs.summaryView.SetWordWrap(true)

	rs.tagTable = tview.NewTable()
	rs.tagTable.SetBorder(true)
	rs.tagTable.SetTitle(" Compliance Tags ")
	rs.tagTable.SetTitleAlign(tview.AlignLeft)
	rs.tagTable.SetSelectable(true, false)
	rs.tagTable.SetFixed(1, 0)

	rs.caseTable = tview.NewTable()
	rs.caseTable.SetBorder(true)
	rs.caseTable.SetTitle(" Matching Test Cases ")
	rs.caseTable.SetTitleAlign(tview.AlignLeft)
	rs.caseTable.SetSelectable(true, false)
	rs.caseTable.SetFixed(1, 0)

	rs.statusBar = tview.NewTextView()
	rs.statusBar.SetDynamicColors(true)

	left := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(rs.summaryView, 0, 1, false).
		AddItem(rs.tagTable, 0, 1, true)

	rs.layout = tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(tview.NewFlex().
			SetDirection(tview.FlexColumn).
			AddItem(left, 44, 0, true).
			AddItem(rs.caseTable, 0, 1, false), 0, 1, true).
		AddItem(rs.statusBar, 1, 0, false)

	rs.applyTheme()
	rs.setStatus("[%s]Loading...[-]", rs.theme.TagAccent)
}

func (rs *ReportsScreen) applyTheme() {
	for _, t := range []*tview.Table{rs.tagTable, rs.caseTable} {
		t.SetBackgroundColor(rs.theme.Surface)
		t.SetBorderColor(rs.theme.Border)
		t.SetSelectedStyle(tcell.StyleDefault.
			Background(rs.theme.SelectionBg).
			Foreground(rs.theme.SelectionFg))
	}
	rs.summaryView.SetBackgroundColor(rs.theme.Surface)
	rs.summaryView.SetBorderColor(rs.theme.Border)
	rs.summaryView.SetTextColor(rs.theme.TextPrimary)
	rs.statusBar.SetBackgroundColor(rs.theme.Surface)
	rs.statusBar.SetTextColor(rs.theme.TextPrimary)
	rs.highlight(rs.app.GetFocus())
}

func (rs *ReportsScreen) handleKey(event *tcell.EventKey) *tcell.EventKey {
	switch event.Key() {
	case tcell.KeyEsc:
		rs.close()
		return nil
	case tcell.KeyTab:
		rs.cycleFocus()
		return nil
	case tcell.KeyRune:
		switch event.Rune() {
		case 'q', 'Q':
			rs.close()
			return nil
		case ' ':
			if rs.app.GetFocus() == rs.tagTable {
				rs.toggleTag()
				return nil
			}
		case 'w':
			rs.cycleWindow()
			return nil
		case 'c':
			rs.clearTagFilter()
			return nil
		case 'e':
			rs.exportCSV()
			return nil
		case 't':
			rs.exportReport()
			return nil
		case 'r':
			rs.loadData()
			return nil
		case 'j':
			rs.moveRow(1)
			return nil
		case 'k':
			rs.moveRow(-1)
			return nil
		}
	}
	return event
}

func (rs *ReportsScreen) cycleFocus() {
	if rs.app.GetFocus() == rs.tagTable {
		rs.app.SetFocus(rs.caseTable)
		rs.highlight(rs.caseTable)
	} else {
		rs.app.SetFocus(rs.tagTable)
		rs.highlight(rs.tagTable)
	}
}

func (rs *ReportsScreen) highlight(focused tview.Primitive) {
	rs.tagTable.SetBorderColor(rs.theme.Border)
	rs.caseTable.SetBorderColor(rs.theme.Border)
	switch focused {
	case rs.tagTable:
		rs.tagTable.SetBorderColor(rs.theme.FocusBorder)
	case rs.caseTable:
		rs.caseTable.SetBorderColor(rs.theme.FocusBorder)
	}
}

func (rs *ReportsScreen) moveRow(delta int) {
	table, ok := rs.app.GetFocus().(*tview.Table)
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

// loadData fetches the metrics rollup and the grouped cases. The rollup
// is advisory; when it is missing everything is computed locally.
func (rs *ReportsScreen) loadData() {
	if !atomic.CompareAndSwapInt32(&rs.loading, 0, 1) {
		return
	}
	seq := atomic.AddInt64(&rs.loadSeq, 1)

	go func() {
		defer atomic.StoreInt32(&rs.loading, 0)
		defer func() {
			if r := recover(); r != nil {
				if rs.logger != nil {
					rs.logger.Printf("panic in reports loadData: %v", r)
				}
			}
		}()

		ctx, cancel := context.WithTimeout(rs.ctx, 30*time.Second)
		defer cancel()

		metrics, merr := rs.parentUI.client.ComplianceMetrics(ctx, rs.file.FileID)
		if merr != nil && rs.logger != nil {
			rs.logger.Printf("Compliance metrics unavailable for %s: %v", rs.file.FileID, merr)
		}
		grouped, gerr := rs.parentUI.client.TestCasesByFile(ctx, rs.file.FileID)
		if gerr != nil && rs.logger != nil {
			rs.logger.Printf("No test cases for %s: %v", rs.file.FileID, gerr)
		}

		rs.app.QueueUpdateDraw(func() {
			if atomic.LoadInt64(&rs.loadSeq) != seq {
				return
			}
			if merr == nil {
				rs.metrics = metrics
			} else {
				rs.metrics = nil
			}
			rs.cases = grouped.Flatten()
			rs.rebuildTags()
			rs.renderAll()
			if len(rs.cases) == 0 {
				rs.setStatus("[%s]No test cases generated yet for this document[-]", rs.theme.TagWarning)
			} else {
				rs.setStatus("[%s]Loaded %d test cases[-]", rs.theme.TagSuccess, len(rs.cases))
			}
		})
	}()
}

// rebuildTags unions the rollup's tag list with the tags seen on cases
// and prunes filter entries that no longer exist.
func (rs *ReportsScreen) rebuildTags() {
	seen := make(map[string]bool)
	for _, tc := range rs.cases {
		for _, tag := range tc.ComplianceTags {
			seen[tag] = true
		}
	}
	if rs.metrics != nil {
		for _, tag := range rs.metrics.ComplianceTags {
			if tag = strings.TrimSpace(tag); tag != "" {
				seen[tag] = true
			}
		}
	}
	rs.tags = rs.tags[:0]
	for tag := range seen {
		rs.tags = append(rs.tags, tag)
	}
	sort.Strings(rs.tags)

	for tag := range rs.tagFilter {
		if !seen[tag] {
			delete(rs.tagFilter, tag)
		}
	}
}

func (rs *ReportsScreen) windowDays() int {
	return reportWindows[rs.windowIdx]
}

func (rs *ReportsScreen) windowLabel() string {
	d := rs.windowDays()
	if d == 0 {
		return "all time"
	}
	return fmt.Sprintf("last %d days", d)
}

// filteredCases applies the tag filter (any selected tag matches) and the
// time window. Cases without a parseable timestamp only match "all time".
func (rs *ReportsScreen) filteredCases() []api.TestCase {
	selected := sortStrings(rs.tagFilter)
	days := rs.windowDays()
	var cutoff time.Time
	if days > 0 {
		cutoff = time.Now().AddDate(0, 0, -days)
	}

	var out []api.TestCase
	for _, tc := range rs.cases {
		if len(selected) > 0 {
			match := false
			for _, tag := range selected {
				if tc.ComplianceTags.Has(tag) {
					match = true
					break
				}
			}
			if !match {
				continue
			}
		}
		if days > 0 {
			ts, ok := api.ParseCreatedAt(tc.CreatedAt)
			if !ok || ts.Before(cutoff) {
				continue
			}
		}
		out = append(out, tc)
	}
	return out
}

func (rs *ReportsScreen) renderAll() {
	filtered := rs.filteredCases()
	rs.renderSummary(filtered)
	rs.renderTags()
	rs.renderCases(filtered)
}

func (rs *ReportsScreen) renderSummary(filtered []api.TestCase) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s]%s[-]\n[%s]%s[-]\n\n",
		rs.theme.TagAccent, rs.file.Filename,
		rs.theme.TagMuted, rs.file.FileID)

	if len(rs.cases) == 0 {
		fmt.Fprintf(&sb, "[%s]No test cases generated yet.[-]\n\n", rs.theme.TagWarning)
		fmt.Fprintf(&sb, "[%s]Generate test cases first, then come back for the rollup.[-]", rs.theme.TagMuted)
		rs.summaryView.SetText(sb.String())
		return
	}

	total := len(rs.cases)
	if rs.metrics != nil && rs.metrics.TotalTestCases > 0 {
		total = rs.metrics.TotalTestCases
	}
	fmt.Fprintf(&sb, "Showing [%s]%d[-] of %d test cases\n", rs.theme.TagAccent, len(filtered), total)
	fmt.Fprintf(&sb, "[%s]Window:[-] %s\n", rs.theme.TagMuted, rs.windowLabel())
	if selected := sortStrings(rs.tagFilter); len(selected) > 0 {
		fmt.Fprintf(&sb, "[%s]Tags:[-]   %s\n", rs.theme.TagMuted, strings.Join(selected, ", "))
	} else {
		fmt.Fprintf(&sb, "[%s]Tags:[-]   all\n", rs.theme.TagMuted)
	}

	counts := format.RiskCounts(filtered)
	fmt.Fprintf(&sb, "\n[%s]Risk distribution[-]\n", rs.theme.TagAccent)
	for _, level := range []string{"Critical", "High", "Medium", "Low"} {
		fmt.Fprintf(&sb, "  [%s]%-9s[-] %d\n", riskTag(rs.theme, level), level, counts[level])
	}

	if rs.metrics != nil && rs.metrics.LastUpdated != "" {
		fmt.Fprintf(&sb, "\n[%s]Updated: %s[-]", rs.theme.TagMuted, rs.metrics.LastUpdated)
	}
	if rs.metrics == nil {
		fmt.Fprintf(&sb, "\n[%s]Rollup endpoint unavailable, computed locally.[-]", rs.theme.TagMuted)
	}

	rs.summaryView.SetText(sb.String())
}

func (rs *ReportsScreen) renderTags() {
	rs.tagTable.Clear()

	headers := []string{"", "TAG", "CASES"}
	for col, h := range headers {
		cell := tview.NewTableCell(h).
			SetTextColor(rs.theme.TableHeader).
			SetBackgroundColor(rs.theme.TableHeaderBg).
			SetAttributes(tcell.AttrBold).
			SetSelectable(false)
		rs.tagTable.SetCell(0, col, cell)
	}

	if len(rs.tags) == 0 {
		cell := tview.NewTableCell("No compliance tags").
			SetTextColor(rs.theme.TextMuted).
			SetSelectable(false)
		rs.tagTable.SetCell(1, 1, cell)
		return
	}

	counts := format.TagCounts(rs.cases)
	for i, tag := range rs.tags {
		row := i + 1
		mark := " "
		markColor := rs.theme.TextMuted
		if rs.tagFilter[tag] {
			mark = "✓"
			markColor = rs.theme.Accent
		}
		count := counts[tag]
		if count == 0 && rs.metrics != nil {
			count = rs.metrics.ComplianceCounts[tag]
		}
		rs.tagTable.SetCell(row, 0, tview.NewTableCell(mark).SetTextColor(markColor))
		rs.tagTable.SetCell(row, 1, tview.NewTableCell(tag).SetTextColor(rs.theme.TableRow).SetExpansion(1))
		rs.tagTable.SetCell(row, 2, tview.NewTableCell(fmt.Sprintf("%d", count)).
			SetTextColor(rs.theme.TableRowMuted).
			SetAlign(tview.AlignRight))
	}
}

func (rs *ReportsScreen) renderCases(filtered []api.TestCase) {
	rs.caseTable.Clear()

	headers := []string{"REQ", "TEST CASE", "TITLE", "RISK", "CREATED"}
	for col, h := range headers {
		cell := tview.NewTableCell(h).
			SetTextColor(rs.theme.TableHeader).
			SetBackgroundColor(rs.theme.TableHeaderBg).
			SetAttributes(tcell.AttrBold).
			SetSelectable(false)
		rs.caseTable.SetCell(0, col, cell)
	}

	if len(filtered) == 0 {
		msg := "No test cases generated yet."
		if len(rs.cases) > 0 {
			msg = "No test cases match the current filters."
		}
		cell := tview.NewTableCell(msg).
			SetTextColor(rs.theme.TextMuted).
			SetSelectable(false)
		rs.caseTable.SetCell(1, 2, cell)
		return
	}

	for i, tc := range filtered {
		row := i + 1
		created := tc.CreatedAt
		if ts, ok := api.ParseCreatedAt(tc.CreatedAt); ok {
			created = ts.Format("2006-01-02")
		}
		rs.caseTable.SetCell(row, 0, tview.NewTableCell(tc.ReqTitleID).SetTextColor(rs.theme.TableRowMuted))
		rs.caseTable.SetCell(row, 1, tview.NewTableCell(tc.TCID).SetTextColor(rs.theme.Accent))
		rs.caseTable.SetCell(row, 2, tview.NewTableCell(truncate(tc.TCTitle, 44)).
			SetTextColor(rs.theme.TableRow).
			SetExpansion(1))
		rs.caseTable.SetCell(row, 3, tview.NewTableCell(tc.Risk).SetTextColor(riskColor(rs.theme, tc.Risk)))
		rs.caseTable.SetCell(row, 4, tview.NewTableCell(created).SetTextColor(rs.theme.TableRowMuted))
	}
	rs.caseTable.Select(1, 0)
}

// toggleTag flips the filter checkbox of the highlighted tag.
func (rs *ReportsScreen) toggleTag() {
	row, _ := rs.tagTable.GetSelection()
	idx := row - 1
	if idx < 0 || idx >= len(rs.tags) {
		return
	}
	tag := rs.tags[idx]
	if rs.tagFilter[tag] {
		delete(rs.tagFilter, tag)
	} else {
		rs.tagFilter[tag] = true
	}
	rs.renderAll()
	rs.tagTable.Select(row, 0)
	rs.setStatus("[%s]Filter: %d tags active[-]", rs.theme.TagAccent, len(rs.tagFilter))
}

func (rs *ReportsScreen) clearTagFilter() {
	if len(rs.tagFilter) == 0 && rs.windowDays() == 0 {
		return
	}
	rs.tagFilter = make(map[string]bool)
	rs.windowIdx = 0
	rs.renderAll()
	rs.setStatus("[%s]Filters cleared[-]", rs.theme.TagSuccess)
}

func (rs *ReportsScreen) cycleWindow() {
	rs.windowIdx = (rs.windowIdx + 1) % len(reportWindows)
	rs.renderAll()
	rs.setStatus("[%s]Window: %s[-]", rs.theme.TagAccent, rs.windowLabel())
}

// exportCSV writes the filtered cases to the exports directory.
func (rs *ReportsScreen) exportCSV() {
	filtered := rs.filteredCases()
	if len(filtered) == 0 {
		rs.setStatus("[%s]Nothing to export with the current filters[-]", rs.theme.TagWarning)
		return
	}
	data, err := format.TestCaseCSV(filtered)
	if err != nil {
		rs.setStatus("[%s]Export failed: %v[-]", rs.theme.TagError, err)
		return
	}
	path, err := rs.writeExport("compliance", "csv", data)
	if err != nil {
		rs.setStatus("[%s]Export failed: %v[-]", rs.theme.TagError, err)
		return
	}
	rs.setStatus("[%s]Exported %d test cases to %s[-]", rs.theme.TagSuccess, len(filtered), path)
	go rs.parentUI.journal(rs.file.FileID, rs.file.Filename, store.ActionExport, map[string]interface{}{
		"message": fmt.Sprintf("Exported compliance CSV to %s", path),
	})
}

// exportReport writes a plain-text report of the filtered view.
func (rs *ReportsScreen) exportReport() {
	filtered := rs.filteredCases()
	lastUpdated := ""
	if rs.metrics != nil {
		lastUpdated = rs.metrics.LastUpdated
	}
	report := format.ReportText(format.ReportData{
		Filename:    rs.file.Filename,
		FileID:      rs.file.FileID,
		Window:      rs.windowLabel(),
		TagFilter:   sortStrings(rs.tagFilter),
		Total:       len(filtered),
		RiskCounts:  format.RiskCounts(filtered),
		TagCounts:   format.TagCounts(filtered),
		LastUpdated: lastUpdated,
	})
	path, err := rs.writeExport("report", "txt", []byte(report))
	if err != nil {
		rs.setStatus("[%s]Export failed: %v[-]", rs.theme.TagError, err)
		return
	}
	rs.setStatus("[%s]Report written to %s[-]", rs.theme.TagSuccess, path)
	go rs.parentUI.journal(rs.file.FileID, rs.file.Filename, store.ActionExport, map[string]interface{}{
		"message": fmt.Sprintf("Wrote compliance report to %s", path),
	})
}

func (rs *ReportsScreen) writeExport(kind, ext string, data []byte) (string, error) {
	dir := rs.parentUI.exportsDir
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	name := fmt.Sprintf("%s_%s_%s.%s", kind, rs.file.FileID, time.Now().Format("20060102_150405"), ext)
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func (rs *ReportsScreen) setStatus(formatStr string, args ...interface{}) {
	message := fmt.Sprintf(formatStr, args...)
	accent := rs.theme.TagAccent
	hints := fmt.Sprintf("[%s]Space[-]:tag [%s]w[-]:window [%s]c[-]:clear [%s]e[-]:csv [%s]t[-]:report [%s]r[-]:reload [%s]q[-]:back",
		accent, accent, accent, accent, accent, accent, accent)
	rs.statusBar.SetText(fmt.Sprintf("[%s]%s[-] %s [%s]|[-] %s",
		rs.theme.TagMuted, time.Now().Format("15:04:05"),
		message,
		rs.theme.TagMuted, hints))
}

package ui

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"github.com/seralys/medgen-console/internal/api"
	"github.com/seralys/medgen-console/internal/store"
)

// Push states. A push is outward-facing and not retried automatically;
// after a failure the operator decides whether to try again.
const (
	pushIdle int32 = iota
	pushRunning
	pushDone
	pushFailed
)

// IntegrationScreen pushes a document's requirements and test cases to
// the issue tracker and shows the created issue keys.
type IntegrationScreen struct {
	parentUI *UI
	app      *tview.Application
	logger   *log.Logger
	theme    Theme
	ctx      context.Context

	file api.FileInfo

	layout    *tview.Flex
	infoView  *tview.TextView
	mapTable  *tview.Table
	statusBar *tview.TextView

	pushState int32
	result    *api.PushResult

	reqCount  int
	caseCount int
	loadSeq   int64
}

// NewIntegrationScreen creates the tracker push screen for one document.
func NewIntegrationScreen(parent *UI, file api.FileInfo) *IntegrationScreen {
	is := &IntegrationScreen{
		parentUI: parent,
		app:      parent.app,
		logger:   parent.logger,
		theme:    parent.theme,
		ctx:      parent.ctx,
		file:     file,
	}
	is.setupLayout()
	return is
}

// Show replaces the application root with this screen.
func (is *IntegrationScreen) Show() {
	is.app.SetRoot(is.layout, true)
	is.app.SetInputCapture(is.handleKey)
	is.app.SetFocus(is.mapTable)
	is.highlight(is.mapTable)
	is.loadData()
}

// close refuses to leave while a push is in flight so the outcome is
// never missed.
func (is *IntegrationScreen) close() {
	if atomic.LoadInt32(&is.pushState) == pushRunning {
		is.setStatus("[%s]Push in progress, wait for it to finish[-]", is.theme.TagWarning)
		return
	}
	if is.logger != nil {
		is.logger.Printf("Closing integration screen for %s", is.file.FileID)
	}
	go is.parentUI.loadFiles()
	is.parentUI.restoreMainLayout()
}

// OnThemeChanged recolors the screen when the dashboard theme changes.
func (is *IntegrationScreen) OnThemeChanged(theme Theme) {
	is.theme = theme
	is.applyTheme()
	is.renderInfo()
	is.renderMap()
}

func (is *IntegrationScreen) setupLayout() {
	is.infoView = tview.NewTextView()
	is.infoView.SetDynamicColors(true)
	is.infoView.SetBorder(true)
	is.infoView.SetTitle(" Jira Push ")
	is.infoView.SetTitleAlign(tview.AlignLeft)
	is.infoView.SetWordWrap(true)

	is.mapTable = tview.NewTable()
	is.mapTable.SetBorder(true)
	is.mapTable.SetTitle(" Created Issues ")
	is.mapTable.SetTitleAlign(tview.AlignLeft)
	is.mapTable.SetSelectable(true, false)
	is.mapTable.SetFixed(1, 0)

	is.statusBar = tview.NewTextView()
	is.statusBar.SetDynamicColors(true)

	is.layout = tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(is.infoView, 10, 0, false).
		AddItem(is.mapTable, 0, 1, true).
		AddItem(is.statusBar, 1, 0, false)

	is.applyTheme()
	is.renderInfo()
	is.renderMap()
	is.setStatus("[%s]Loading...[-]", is.theme.TagAccent)
}

func (is *IntegrationScreen) applyTheme() {
	is.infoView.SetBackgroundColor(is.theme.Surface)
	is.infoView.SetBorderColor(is.theme.Border)
	is.infoView.SetTextColor(is.theme.TextPrimary)
	is.mapTable.SetBackgroundColor(is.theme.Surface)
	is.mapTable.SetBorderColor(is.theme.Border)
	is.mapTable.SetSelectedStyle(tcell.StyleDefault.
		Background(is.theme.SelectionBg).
		Foreground(is.theme.SelectionFg))
	is.statusBar.SetBackgroundColor(is.theme.Surface)
	is.statusBar.SetTextColor(is.theme.TextPrimary)
	is.highlight(is.app.GetFocus())
}

func (is *IntegrationScreen) highlight(focused tview.Primitive) {
	is.infoView.SetBorderColor(is.theme.Border)
	is.mapTable.SetBorderColor(is.theme.Border)
	switch focused {
	case is.infoView:
		is.infoView.SetBorderColor(is.theme.FocusBorder)
	case is.mapTable:
		is.mapTable.SetBorderColor(is.theme.FocusBorder)
	}
}

func (is *IntegrationScreen) handleKey(event *tcell.EventKey) *tcell.EventKey {
	switch event.Key() {
	case tcell.KeyEsc:
		is.close()
		return nil
	case tcell.KeyTab:
		if is.app.GetFocus() == is.mapTable {
			is.app.SetFocus(is.infoView)
			is.highlight(is.infoView)
		} else {
			is.app.SetFocus(is.mapTable)
			is.highlight(is.mapTable)
		}
		return nil
	case tcell.KeyRune:
		switch event.Rune() {
		case 'q', 'Q':
			is.close()
			return nil
		case 'p', 'P':
			is.confirmPush()
			return nil
		case 'r':
			is.loadData()
			return nil
		case 'j':
			is.moveRow(1)
			return nil
		case 'k':
			is.moveRow(-1)
			return nil
		}
	}
	return event
}

func (is *IntegrationScreen) moveRow(delta int) {
	if is.app.GetFocus() != is.mapTable {
		return
	}
	row, _ := is.mapTable.GetSelection()
	row += delta
	if row < 1 {
		row = 1
	}
	if row >= is.mapTable.GetRowCount() {
		row = is.mapTable.GetRowCount() - 1
	}
	if row >= 1 {
		is.mapTable.Select(row, 0)
	}
}

// loadData fetches what would be pushed, for the preview counters.
func (is *IntegrationScreen) loadData() {
	seq := atomic.AddInt64(&is.loadSeq, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				if is.logger != nil {
					is.logger.Printf("panic in integration loadData: %v", r)
				}
			}
		}()

		ctx, cancel := context.WithTimeout(is.ctx, 30*time.Second)
		defer cancel()

		grouped, err := is.parentUI.client.TestCasesByFile(ctx, is.file.FileID)

		is.app.QueueUpdateDraw(func() {
			if atomic.LoadInt64(&is.loadSeq) != seq {
				return
			}
			if err != nil {
				is.reqCount = 0
				is.caseCount = 0
				is.renderInfo()
				is.setStatus("[%s]Nothing to push: %v[-]", is.theme.TagWarning, err)
				return
			}
			is.reqCount = len(grouped.Requirements)
			is.caseCount = 0
			for _, g := range grouped.Requirements {
				is.caseCount += len(g.TestCases)
			}
			is.renderInfo()
			is.setStatus("[%s]Ready. Press p to push.[-]", is.theme.TagAccent)
		})
	}()
}

func (is *IntegrationScreen) renderInfo() {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s]%s[-]\n[%s]%s[-]   [%s]%s[-]\n\n",
		is.theme.TagAccent, is.file.Filename,
		is.theme.TagMuted, is.file.FileID,
		is.parentUI.statusTag(is.file.Status), is.file.Status)

	switch atomic.LoadInt32(&is.pushState) {
	case pushRunning:
		fmt.Fprintf(&sb, "[%s]Pushing %d test cases across %d requirements...[-]\n",
			is.theme.TagWarning, is.caseCount, is.reqCount)
	case pushDone:
		if is.result != nil {
			fmt.Fprintf(&sb, "[%s]%s[-]\n", is.theme.TagSuccess, is.result.Message)
			fmt.Fprintf(&sb, "[%s]Requirements pushed:[-] %d\n", is.theme.TagMuted, is.result.RequirementsPushed)
		}
	case pushFailed:
		fmt.Fprintf(&sb, "[%s]The last push failed. Fix the cause and press p to retry.[-]\n", is.theme.TagError)
	default:
		fmt.Fprintf(&sb, "Pushing creates one story per requirement with its test cases attached.\n\n")
		fmt.Fprintf(&sb, "[%s]Requirements:[-] %d   [%s]Test cases:[-] %d\n",
			is.theme.TagMuted, is.reqCount, is.theme.TagMuted, is.caseCount)
		if is.file.Status == StatusPushed {
			fmt.Fprintf(&sb, "\n[%s]This document was already pushed. Pushing again creates duplicate issues.[-]\n",
				is.theme.TagWarning)
		}
	}

	is.infoView.SetText(sb.String())
}

func (is *IntegrationScreen) renderMap() {
	is.mapTable.Clear()

	headers := []string{"REQUIREMENT", "JIRA ISSUE"}
	for col, h := range headers {
		cell := tview.NewTableCell(h).
			SetTextColor(is.theme.TableHeader).
			SetBackgroundColor(is.theme.TableHeaderBg).
			SetAttributes(tcell.AttrBold).
			SetSelectable(false)
		is.mapTable.SetCell(0, col, cell)
	}

	if is.result == nil || len(is.result.JiraMap) == 0 {
		cell := tview.NewTableCell("No issues created yet.").
			SetTextColor(is.theme.TextMuted).
			SetSelectable(false)
		is.mapTable.SetCell(1, 0, cell)
		return
	}

	keys := make([]string, 0, len(is.result.JiraMap))
	for k := range is.result.JiraMap {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for i, k := range keys {
		row := i + 1
		is.mapTable.SetCell(row, 0, tview.NewTableCell(k).SetTextColor(is.theme.Accent))
		is.mapTable.SetCell(row, 1, tview.NewTableCell(is.result.JiraMap[k]).
			SetTextColor(is.theme.TableRow).
			SetExpansion(1))
	}
	is.mapTable.Select(1, 0)
}

// confirmPush asks before creating tracker issues.
func (is *IntegrationScreen) confirmPush() {
	if atomic.LoadInt32(&is.pushState) == pushRunning {
		is.setStatus("[%s]A push is already running[-]", is.theme.TagWarning)
		return
	}
	if is.caseCount == 0 {
		is.setStatus("[%s]Nothing to push: generate test cases first[-]", is.theme.TagWarning)
		return
	}

	text := fmt.Sprintf("Push %d test cases across %d requirements to Jira?", is.caseCount, is.reqCount)
	if is.file.Status == StatusPushed || atomic.LoadInt32(&is.pushState) == pushDone {
		text += "\n\nThis document was already pushed. Pushing again creates duplicate issues."
	}

	modal := tview.NewModal()
	modal.SetText(text)
	modal.AddButtons([]string{"Push", "Cancel"})
	modal.SetBackgroundColor(is.theme.Surface)
	modal.SetTextColor(is.theme.TextPrimary)
	modal.SetBorderColor(is.theme.FocusBorder)
	modal.SetButtonBackgroundColor(is.theme.SelectionBg)
	modal.SetButtonTextColor(is.theme.SelectionFg)
	modal.SetDoneFunc(func(buttonIndex int, buttonLabel string) {
		is.app.SetRoot(is.layout, true)
		is.app.SetInputCapture(is.handleKey)
		is.app.SetFocus(is.mapTable)
		is.highlight(is.mapTable)
		if buttonLabel == "Push" {
			is.runPush()
		}
	})

	is.app.SetInputCapture(nil)
	is.app.SetRoot(modal, true)
	is.app.SetFocus(modal)
}

// runPush performs the tracker push off the UI goroutine.
func (is *IntegrationScreen) runPush() {
	atomic.StoreInt32(&is.pushState, pushRunning)
	is.renderInfo()
	is.setStatus("[%s]Pushing to Jira...[-]", is.theme.TagWarning)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				if is.logger != nil {
					is.logger.Printf("panic in runPush: %v", r)
				}
			}
		}()

		ctx, cancel := context.WithTimeout(is.ctx, 300*time.Second)
		defer cancel()

		result, err := is.parentUI.client.PushToJira(ctx, is.file.FileID)
		if err != nil {
			if is.logger != nil {
				is.logger.Printf("Jira push failed for %s: %v", is.file.FileID, err)
			}
			is.app.QueueUpdateDraw(func() {
				atomic.StoreInt32(&is.pushState, pushFailed)
				is.renderInfo()
				is.setStatus("[%s]Push failed: %v[-]", is.theme.TagError, err)
			})
			return
		}

		is.parentUI.journal(is.file.FileID, is.file.Filename, store.ActionPush, map[string]interface{}{
			"message":             result.Message,
			"requirements_pushed": result.RequirementsPushed,
		})

		is.app.QueueUpdateDraw(func() {
			atomic.StoreInt32(&is.pushState, pushDone)
			is.result = result
			is.file.Status = StatusPushed
			is.renderInfo()
			is.renderMap()
			is.setStatus("[%s]%s[-]", is.theme.TagSuccess, result.Message)
		})
		go is.parentUI.loadFiles()
	}()
}

func (is *IntegrationScreen) setStatus(formatStr string, args ...interface{}) {
	message := fmt.Sprintf(formatStr, args...)
	accent := is.theme.TagAccent
	hints := fmt.Sprintf("[%s]p[-]:push [%s]r[-]:reload [%s]Tab[-]:panels [%s]q[-]:back",
		accent, accent, accent, accent)
	is.statusBar.SetText(fmt.Sprintf("[%s]%s[-] %s [%s]|[-] %s",
		is.theme.TagMuted, time.Now().Format("15:04:05"),
		message,
		is.theme.TagMuted, hints))
}

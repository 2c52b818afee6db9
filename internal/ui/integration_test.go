package ui

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/seralys/medgen-console/internal/api"
	"github.com/seralys/medgen-console/internal/store"
)

func newIntegrationTestScreen(t *testing.T) (*IntegrationScreen, *UI) {
	t.Helper()
	ui := newTestUI(t)
	file := api.FileInfo{FileID: "file-001", Filename: "cardiac_monitor_srs.docx", Status: StatusGenerated}
	return NewIntegrationScreen(ui, file), ui
}

func TestRenderMapSortsRequirements(t *testing.T) {
	is, _ := newIntegrationTestScreen(t)
	is.result = &api.PushResult{
		JiraMap: map[string]string{"REQ-2": "MED-11", "REQ-1": "MED-10"},
	}

	is.renderMap()

	if got := is.mapTable.GetRowCount(); got != 3 {
		t.Fatalf("expected header + 2 rows, got %d", got)
	}
	if got := is.mapTable.GetCell(1, 0).Text; got != "REQ-1" {
		t.Errorf("expected REQ-1 first, got %q", got)
	}
	if got := is.mapTable.GetCell(1, 1).Text; got != "MED-10" {
		t.Errorf("expected MED-10 for REQ-1, got %q", got)
	}
	if got := is.mapTable.GetCell(2, 0).Text; got != "REQ-2" {
		t.Errorf("expected REQ-2 second, got %q", got)
	}
}

func TestRenderMapEmpty(t *testing.T) {
	is, _ := newIntegrationTestScreen(t)

	is.renderMap()

	if got := is.mapTable.GetCell(1, 0).Text; got != "No issues created yet." {
		t.Errorf("unexpected placeholder %q", got)
	}
}

func TestConfirmPushRequiresCases(t *testing.T) {
	is, _ := newIntegrationTestScreen(t)
	is.caseCount = 0

	is.confirmPush()

	if is.pushState != pushIdle {
		t.Errorf("push state should stay idle, got %d", is.pushState)
	}
	if !strings.Contains(strip(is.statusBar.GetText(false)), "Nothing to push") {
		t.Error("expected a warning status")
	}
}

func TestConfirmPushBlockedWhileRunning(t *testing.T) {
	is, _ := newIntegrationTestScreen(t)
	is.caseCount = 5
	is.pushState = pushRunning

	is.confirmPush()

	if !strings.Contains(strip(is.statusBar.GetText(false)), "A push is already running") {
		t.Error("expected the second push to be refused")
	}
}

func TestCloseBlockedWhileRunning(t *testing.T) {
	is, _ := newIntegrationTestScreen(t)
	is.pushState = pushRunning

	is.close()

	if !strings.Contains(strip(is.statusBar.GetText(false)), "Push in progress") {
		t.Error("expected close to be refused during a push")
	}
}

func TestRenderInfoIdleCounters(t *testing.T) {
	is, _ := newIntegrationTestScreen(t)
	is.reqCount = 2
	is.caseCount = 5

	is.renderInfo()

	text := is.infoView.GetText(true)
	if !strings.Contains(text, "Requirements: 2") || !strings.Contains(text, "Test cases: 5") {
		t.Errorf("counters missing from %q", text)
	}
	if strings.Contains(text, "duplicate issues") {
		t.Error("no duplicate warning expected for an unpushed document")
	}
}

func TestRenderInfoWarnsOnRepush(t *testing.T) {
	ui := newTestUI(t)
	file := api.FileInfo{FileID: "file-001", Filename: "cardiac_monitor_srs.docx", Status: StatusPushed}
	is := NewIntegrationScreen(ui, file)
	is.reqCount = 2
	is.caseCount = 5

	is.renderInfo()

	if !strings.Contains(is.infoView.GetText(true), "duplicate issues") {
		t.Error("expected a duplicate warning for an already pushed document")
	}
}

func TestRenderInfoResultStates(t *testing.T) {
	is, _ := newIntegrationTestScreen(t)

	is.pushState = pushDone
	is.result = &api.PushResult{Message: "Pushed 3 requirements to Jira", RequirementsPushed: 3}
	is.renderInfo()
	text := is.infoView.GetText(true)
	if !strings.Contains(text, "Pushed 3 requirements to Jira") {
		t.Errorf("result message missing from %q", text)
	}
	if !strings.Contains(text, "Requirements pushed: 3") {
		t.Errorf("pushed count missing from %q", text)
	}

	is.pushState = pushFailed
	is.renderInfo()
	if !strings.Contains(is.infoView.GetText(true), "The last push failed") {
		t.Error("expected the failure notice")
	}
}

func TestRunPushJournalsOnSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/api/v1/jira/push/file-001":
			fmt.Fprint(w, `{"message":"Pushed 3 requirements to Jira","requirements_pushed":3,"jira_map":{"REQ-1":"MED-10"}}`)
		case r.Method == http.MethodGet && r.URL.Path == "/api/v1/files/":
			// The dashboard refreshes its document list after a push.
			fmt.Fprint(w, `[]`)
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			http.Error(w, "not found", http.StatusNotFound)
		}
	}))
	defer srv.Close()

	ui := newTestUIAt(t, srv.URL, log.New(bytes.NewBuffer(nil), "", 0))
	file := api.FileInfo{FileID: "file-001", Filename: "cardiac_monitor_srs.docx", Status: StatusGenerated}
	is := NewIntegrationScreen(ui, file)

	is.runPush()

	if is.pushState != pushRunning {
		t.Errorf("expected push state running, got %d", is.pushState)
	}
	if !strings.Contains(is.infoView.GetText(true), "Pushing") {
		t.Error("expected the in-flight notice")
	}

	time.Sleep(300 * time.Millisecond)

	recorded, err := ui.store.RecentActivity(context.Background(), "file-001", 5)
	if err != nil {
		t.Fatalf("RecentActivity: %v", err)
	}
	if len(recorded) != 1 {
		t.Fatalf("expected 1 journal entry, got %d", len(recorded))
	}
	if recorded[0].Action != store.ActionPush {
		t.Errorf("unexpected action %q", recorded[0].Action)
	}
	if recorded[0].Details["message"] != "Pushed 3 requirements to Jira" {
		t.Errorf("unexpected details %v", recorded[0].Details)
	}
}

func TestRunPushLogsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"detail":"Jira credentials missing"}`)
	}))
	defer srv.Close()

	var buf bytes.Buffer
	ui := newTestUIAt(t, srv.URL, log.New(&buf, "", 0))
	file := api.FileInfo{FileID: "file-001", Filename: "cardiac_monitor_srs.docx", Status: StatusGenerated}
	is := NewIntegrationScreen(ui, file)

	is.runPush()
	time.Sleep(300 * time.Millisecond)

	logged := buf.String()
	if !strings.Contains(logged, "Jira push failed for file-001") {
		t.Errorf("expected a failure log, got %q", logged)
	}
	if !strings.Contains(logged, "Jira credentials missing") {
		t.Errorf("expected the backend detail in the log, got %q", logged)
	}

	recorded, err := ui.store.RecentActivity(context.Background(), "file-001", 5)
	if err != nil {
		t.Fatalf("RecentActivity: %v", err)
	}
	if len(recorded) != 0 {
		t.Errorf("no journal entry expected on failure, got %+v", recorded)
	}
}

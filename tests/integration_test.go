package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gdamore/tcell/v2"
	"github.com/seralys/medgen-console/internal/api"
	"github.com/seralys/medgen-console/internal/bus"
	"github.com/seralys/medgen-console/internal/format"
	"github.com/seralys/medgen-console/internal/store"
	"github.com/seralys/medgen-console/internal/ui"
)

// backendState tracks how far the fake backend has moved the document
// through the pipeline. The file status in listings follows it.
type backendState struct {
	uploaded  bool
	extracted bool
	generated bool
	pushed    bool
}

func (s *backendState) status() string {
	switch {
	case s.pushed:
		return ui.StatusPushed
	case s.generated:
		return ui.StatusGenerated
	case s.extracted:
		return ui.StatusExtracted
	default:
		return ui.StatusIngestion
	}
}

// newFakeBackend simulates the REST backend for one document moving through
// upload, extraction, generation and the Jira push.
func newFakeBackend(t *testing.T) (*httptest.Server, *backendState) {
	state := &backendState{}

	writeJSON := func(w http.ResponseWriter, v interface{}) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(v); err != nil {
			t.Errorf("encode response: %v", err)
		}
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/health":
			fmt.Fprint(w, `{"status":"ok"}`)

		case r.Method == http.MethodGet && r.URL.Path == "/api/v1/files/":
			files := []api.FileInfo{}
			if state.uploaded {
				files = append(files, api.FileInfo{
					FileID:   "file-001",
					Filename: "cardiac_monitor_srs.txt",
					Status:   state.status(),
				})
			}
			writeJSON(w, files)

		case r.Method == http.MethodPost && r.URL.Path == "/api/v1/files/upload":
			if err := r.ParseMultipartForm(10 << 20); err != nil {
				t.Errorf("parse multipart: %v", err)
				http.Error(w, `{"detail":"bad multipart"}`, http.StatusBadRequest)
				return
			}
			if len(r.MultipartForm.File["requirement_files"]) != 1 {
				t.Errorf("expected one requirement file, got %d", len(r.MultipartForm.File["requirement_files"]))
			}
			state.uploaded = true
			writeJSON(w, api.UploadResult{
				FileIDs:   []string{"file-001"},
				Filenames: []string{"cardiac_monitor_srs.txt"},
				Message:   "Uploaded 1 file",
			})

		case r.Method == http.MethodPost && r.URL.Path == "/api/v1/requirements/file-001/extract":
			state.extracted = true
			writeJSON(w, api.ExtractionResult{
				Message:          "Extracted 2 requirements",
				RequirementCount: 2,
				Requirements: []api.Requirement{
					{FileID: "file-001", RequirementID: "req-uuid-1", ReqTitleID: "REQ-001", Title: "Heart rate monitoring"},
					{FileID: "file-001", RequirementID: "req-uuid-2", ReqTitleID: "REQ-002", Title: "Alarm thresholds"},
				},
			})

		case r.Method == http.MethodPost && r.URL.Path == "/api/v1/test-cases/generate/file/file-001":
			state.generated = true
			writeJSON(w, api.GenerationResult{
				Message:        "Generated 3 test cases",
				TotalGenerated: 3,
				ElapsedSeconds: 1.5,
				PerRequirement: map[string]api.RequirementOutcome{
					"REQ-001": {Status: "ok", Generated: 2, Title: "Heart rate monitoring"},
					"REQ-002": {Status: "ok", Generated: 1, Title: "Alarm thresholds"},
				},
			})

		case r.Method == http.MethodGet && r.URL.Path == "/api/v1/test-cases/file/file-001":
			// Groups and cases deliberately out of order; the client sorts.
			writeJSON(w, api.GroupedTestCases{
				FileID: "file-001",
				Requirements: []api.GroupedRequirement{
					{
						RequirementID: "req-uuid-2",
						ReqTitleID:    "REQ-002",
						ReqTitle:      "Alarm thresholds",
						TestCases: []api.TestCase{
							{TCID: "TC-1", TCTitle: "Alarm fires above limit", Risk: "Critical", ComplianceTags: api.TagList{"IEC 60601"}},
						},
					},
					{
						RequirementID: "req-uuid-1",
						ReqTitleID:    "REQ-001",
						ReqTitle:      "Heart rate monitoring",
						TestCases: []api.TestCase{
							{TCID: "TC-2", TCTitle: "Rate updates each second", Risk: "Medium", ComplianceTags: api.TagList{"ISO 13485"}},
							{TCID: "TC-1", TCTitle: "Rate shown after power on", Risk: "High", ComplianceTags: api.TagList{"ISO 13485", "IEC 62304"}},
						},
					},
				},
			})

		case r.Method == http.MethodGet && r.URL.Path == "/api/v1/jira/compliance-metrics/file-001":
			writeJSON(w, api.ComplianceMetrics{
				FileID:         "file-001",
				TotalTestCases: 3,
				ComplianceTags: []string{"ISO 13485", "IEC 62304", "IEC 60601"},
				LastUpdated:    "2026-08-21T09:00:00",
			})

		case r.Method == http.MethodPost && r.URL.Path == "/api/v1/jira/push/file-001":
			state.pushed = true
			writeJSON(w, api.PushResult{
				Message:            "Pushed 2 requirements to Jira",
				RequirementsPushed: 2,
				JiraMap: map[string]string{
					"REQ-001": "MED-10",
					"REQ-002": "MED-11",
				},
			})

		default:
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
			http.Error(w, `{"detail":"not found"}`, http.StatusNotFound)
		}
	}))

	return srv, state
}

// TestDocumentWorkflow walks one document through the complete pipeline:
// upload, extraction, generation, reporting and the Jira push.
func TestDocumentWorkflow(t *testing.T) {
	backend, state := newFakeBackend(t)
	defer backend.Close()

	st, err := store.NewStore(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer st.Close()

	ctx := context.Background()
	logger := log.New(io.Discard, "", 0)

	client, err := api.NewClient(backend.URL, logger)
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	eventBus := bus.NewNullBus(logger)
	console := ui.NewUI(ctx, client, st, eventBus, logger)

	// Test 1: Verify initial state
	t.Run("InitialState", func(t *testing.T) {
		stats := console.GetStats()
		if stats["documents"].(int) != 0 {
			t.Errorf("Expected 0 documents initially, got %d", stats["documents"])
		}
		if err := client.HealthCheck(ctx); err != nil {
			t.Errorf("Backend health check failed: %v", err)
		}
		fmt.Println("✓ Console starts empty with a healthy backend")
	})

	// Test 2: Upload a requirement document
	t.Run("UploadDocument", func(t *testing.T) {
		docPath := filepath.Join(t.TempDir(), "cardiac_monitor_srs.txt")
		if err := os.WriteFile(docPath, []byte("The monitor shall display heart rate."), 0644); err != nil {
			t.Fatalf("Failed to write document: %v", err)
		}

		result, err := client.UploadFiles(ctx, []string{docPath}, nil)
		if err != nil {
			t.Fatalf("Upload failed: %v", err)
		}
		if len(result.FileIDs) != 1 || result.FileIDs[0] != "file-001" {
			t.Fatalf("Unexpected upload result: %+v", result)
		}

		files, err := client.ListFiles(ctx)
		if err != nil {
			t.Fatalf("Failed to list files: %v", err)
		}
		if len(files) != 1 || files[0].Status != ui.StatusIngestion {
			t.Fatalf("Unexpected file list: %+v", files)
		}

		if err := st.LogFileAction(ctx, "file-001", store.ActionUpload, "test", map[string]interface{}{
			"message": result.Message,
		}); err != nil {
			t.Fatalf("Failed to journal upload: %v", err)
		}

		fmt.Printf("✓ Uploaded %s as %s\n", files[0].Filename, files[0].FileID)
	})

	// Test 3: Extract requirements
	t.Run("ExtractRequirements", func(t *testing.T) {
		result, err := client.ExtractRequirements(ctx, "file-001")
		if err != nil {
			t.Fatalf("Extraction failed: %v", err)
		}
		if result.RequirementCount != 2 || len(result.Requirements) != 2 {
			t.Fatalf("Unexpected extraction result: %+v", result)
		}

		files, _ := client.ListFiles(ctx)
		if files[0].Status != ui.StatusExtracted {
			t.Errorf("Expected status %q after extraction, got %q", ui.StatusExtracted, files[0].Status)
		}

		if err := st.LogFileAction(ctx, "file-001", store.ActionExtract, "test", map[string]interface{}{
			"message": result.Message,
		}); err != nil {
			t.Fatalf("Failed to journal extraction: %v", err)
		}

		fmt.Printf("✓ Extracted %d requirements\n", result.RequirementCount)
	})

	// Test 4: Generate and fetch test cases
	t.Run("GenerateTestCases", func(t *testing.T) {
		result, err := client.GenerateForFile(ctx, "file-001")
		if err != nil {
			t.Fatalf("Generation failed: %v", err)
		}
		if result.TotalGenerated != 3 {
			t.Errorf("Expected 3 generated test cases, got %d", result.TotalGenerated)
		}

		grouped, err := client.TestCasesByFile(ctx, "file-001")
		if err != nil {
			t.Fatalf("Failed to fetch test cases: %v", err)
		}

		// The backend answered out of order; the client sorts for display.
		if grouped.Requirements[0].ReqTitleID != "REQ-001" {
			t.Errorf("Expected REQ-001 first, got %s", grouped.Requirements[0].ReqTitleID)
		}
		if grouped.Requirements[0].TestCases[0].TCID != "TC-1" {
			t.Errorf("Expected TC-1 first, got %s", grouped.Requirements[0].TestCases[0].TCID)
		}

		cases := grouped.Flatten()
		if len(cases) != 3 {
			t.Fatalf("Expected 3 flattened cases, got %d", len(cases))
		}
		for _, tc := range cases {
			if tc.ReqTitleID == "" || tc.FileID != "file-001" {
				t.Errorf("Flatten left requirement fields empty: %+v", tc)
			}
		}

		if err := st.LogFileAction(ctx, "file-001", store.ActionGenerate, "test", map[string]interface{}{
			"message": result.Message,
		}); err != nil {
			t.Fatalf("Failed to journal generation: %v", err)
		}

		fmt.Printf("✓ Generated %d test cases across %d requirements\n", len(cases), len(grouped.Requirements))
	})

	// Test 5: Build the compliance report and CSV from the fetched cases
	t.Run("ComplianceReport", func(t *testing.T) {
		grouped, err := client.TestCasesByFile(ctx, "file-001")
		if err != nil {
			t.Fatalf("Failed to fetch test cases: %v", err)
		}
		cases := grouped.Flatten()

		metrics, err := client.ComplianceMetrics(ctx, "file-001")
		if err != nil {
			t.Fatalf("Failed to fetch metrics: %v", err)
		}

		report := format.ReportText(format.ReportData{
			Filename:    "cardiac_monitor_srs.txt",
			FileID:      "file-001",
			Window:      "all time",
			Total:       len(cases),
			RiskCounts:  format.RiskCounts(cases),
			TagCounts:   format.TagCounts(cases),
			LastUpdated: metrics.LastUpdated,
		})
		if !strings.Contains(report, "Compliance Report") {
			t.Errorf("Report missing header:\n%s", report)
		}
		if !strings.Contains(report, "Total test cases: 3") {
			t.Errorf("Report missing total:\n%s", report)
		}
		if !strings.Contains(report, "ISO 13485") {
			t.Errorf("Report missing tag coverage:\n%s", report)
		}

		data, err := format.TestCaseCSV(cases)
		if err != nil {
			t.Fatalf("CSV export failed: %v", err)
		}
		lines := strings.Split(strings.TrimSpace(string(data)), "\n")
		if len(lines) != 4 { // header + 3 cases
			t.Errorf("Expected 4 CSV lines, got %d", len(lines))
		}

		fmt.Println("✓ Compliance report and CSV built from generated cases")
	})

	// Test 6: Push to Jira
	t.Run("PushToJira", func(t *testing.T) {
		result, err := client.PushToJira(ctx, "file-001")
		if err != nil {
			t.Fatalf("Push failed: %v", err)
		}
		if result.RequirementsPushed != 2 {
			t.Errorf("Expected 2 requirements pushed, got %d", result.RequirementsPushed)
		}
		if result.JiraMap["REQ-001"] != "MED-10" {
			t.Errorf("Unexpected issue map: %+v", result.JiraMap)
		}

		files, _ := client.ListFiles(ctx)
		if files[0].Status != ui.StatusPushed {
			t.Errorf("Expected status %q after push, got %q", ui.StatusPushed, files[0].Status)
		}

		if err := st.LogFileAction(ctx, "file-001", store.ActionPush, "test", map[string]interface{}{
			"message": result.Message,
		}); err != nil {
			t.Fatalf("Failed to journal push: %v", err)
		}

		fmt.Printf("✓ Pushed test cases, %d issues created\n", len(result.JiraMap))
	})

	// Test 7: The journal recorded every step
	t.Run("ActivityJournal", func(t *testing.T) {
		entries, err := st.RecentActivity(ctx, "file-001", 10)
		if err != nil {
			t.Fatalf("Failed to read journal: %v", err)
		}
		if len(entries) != 4 {
			t.Fatalf("Expected 4 journal entries, got %d", len(entries))
		}

		seen := map[string]bool{}
		for _, entry := range entries {
			seen[entry.Action] = true
			if entry.Actor != "test" {
				t.Errorf("Unexpected actor %q", entry.Actor)
			}
		}
		for _, action := range []string{store.ActionUpload, store.ActionExtract, store.ActionGenerate, store.ActionPush} {
			if !seen[action] {
				t.Errorf("Journal missing action %q", action)
			}
		}

		fmt.Printf("✓ Journal recorded %d pipeline steps\n", len(entries))
	})

	if !state.pushed {
		t.Error("Fake backend never saw the push")
	}

	fmt.Println("\nWORKFLOW VERIFICATION:")
	fmt.Println("✓ Upload, extraction, generation and push round-trip the backend")
	fmt.Println("✓ Grouped test cases come back sorted for display")
	fmt.Println("✓ Reports and CSV exports are built from the same flattened cases")
	fmt.Println("✓ Every pipeline step lands in the local activity journal")
}

// TestKeyboardHandlerLogic tests the dashboard key dispatch separately
func TestKeyboardHandlerLogic(t *testing.T) {
	t.Run("KeyEventProcessing", func(t *testing.T) {
		// Test that we can create and process key events
		testCases := []struct {
			key      tcell.Key
			rune     rune
			expected string
		}{
			{tcell.KeyRune, 'u', "upload"},
			{tcell.KeyRune, 'e', "extract"},
			{tcell.KeyRune, 'c', "reports"},
			{tcell.KeyRune, 'p', "jira_push"},
			{tcell.KeyTab, 0, "cycle_focus"},
			{tcell.KeyCtrlC, 0, "quit"},
		}

		for _, tc := range testCases {
			event := tcell.NewEventKey(tc.key, tc.rune, tcell.ModNone)

			var action string
			switch event.Key() {
			case tcell.KeyRune:
				switch event.Rune() {
				case 'u':
					action = "upload"
				case 'e':
					action = "extract"
				case 'c':
					action = "reports"
				case 'p':
					action = "jira_push"
				}
			case tcell.KeyTab:
				action = "cycle_focus"
			case tcell.KeyCtrlC:
				action = "quit"
			}

			if action != tc.expected {
				t.Errorf("Expected action %s for key %v, got %s", tc.expected, tc.key, action)
			}
		}

		fmt.Println("✓ Keyboard event processing logic verified")
	})
}

package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newBackendTestServer(t *testing.T) (*httptest.Server, *int, *int) {
	t.Helper()
	uploadCalls := 0
	generateCalls := 0

	mux := http.NewServeMux()

	mux.HandleFunc("/api/v1/files/", func(w http.ResponseWriter, r *http.Request) {
		resp := []map[string]string{
			{"file_id": "f-1", "filename": "protocol_spec", "status": "Features Extracted"},
			{"file_id": "f-2", "filename": "monitor_reqs", "status": "Ingestion"},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	})

	mux.HandleFunc("/api/v1/files/upload", func(w http.ResponseWriter, r *http.Request) {
		uploadCalls++
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			http.Error(w, "bad multipart", http.StatusBadRequest)
			return
		}
		reqFiles := r.MultipartForm.File["requirement_files"]
		inFiles := r.MultipartForm.File["input_files"]
		if len(reqFiles) == 0 && len(inFiles) == 0 {
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]string{"detail": "no files"})
			return
		}
		for _, fh := range reqFiles {
			if fh.Filename == "dupe.txt" {
				w.WriteHeader(http.StatusBadRequest)
				_ = json.NewEncoder(w).Encode(map[string]string{
					"detail": "File 'dupe.txt' has already been uploaded",
				})
				return
			}
		}
		resp := map[string]interface{}{
			"file_ids":  []string{"f-new"},
			"filenames": []string{reqFiles[0].Filename},
			"message":   "Success! 1 requirement documents and 0 input files were processed.",
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	})

	mux.HandleFunc("/api/v1/test-cases/generate/file/f-1", func(w http.ResponseWriter, r *http.Request) {
		generateCalls++
		resp := map[string]interface{}{
			"message":                   "Generated 4 test cases for 2 requirements",
			"total_testcases_generated": 4,
			"elapsed_seconds":           1.25,
			"per_requirement": map[string]interface{}{
				"r-1": map[string]interface{}{"status": "ok", "generated": 3, "title": "Audit logging"},
				"r-2": map[string]interface{}{"status": "error", "generated": 0, "error": "model timeout"},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	})

	mux.HandleFunc("/api/v1/test-cases/file/f-1", func(w http.ResponseWriter, r *http.Request) {
		// Deliberately unsorted, with mixed tag delimiters.
		resp := map[string]interface{}{
			"file_id": "f-1",
			"requirements": []map[string]interface{}{
				{
					"requirement_id":          "r-2",
					"req_title_id":            "REQ-002",
					"req_title":               "Alarm thresholds",
					"requirement_description": "The system shall alarm on threshold breach.",
					"test_cases": []map[string]interface{}{
						{"tc_id": "TC-2", "tc_title": "High alarm", "tc_description": "1. Arm 2. Breach", "expected_result": "Alarm raised", "input_data": "{}", "compliance_tags": "FDA|IEC 62304", "risk": "High", "created_at": "2025-03-02T10:00:00"},
						{"tc_id": "TC-10", "tc_title": "Low alarm", "tc_description": "steps", "expected_result": "ok", "input_data": "", "compliance_tags": "ISO 9001, ISO 13485", "risk": "Low", "created_at": "2025-03-02T10:05:00"},
					},
				},
				{
					"requirement_id":          "r-1",
					"req_title_id":            "REQ-001",
					"req_title":               "Audit logging",
					"requirement_description": "The system shall log access.",
					"test_cases":              []map[string]interface{}{},
				},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	})

	mux.HandleFunc("/api/v1/test-cases/improve", func(w http.ResponseWriter, r *http.Request) {
		var req ImproveRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.TCID == "missing" {
			w.WriteHeader(http.StatusNotFound)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"detail": "Test case not found for given requirement_id and tc_id",
			})
			return
		}
		resp := map[string]string{
			"requirement_id":       req.RequirementID,
			"tc_id":                req.TCID,
			"original_description": req.OriginalDescription,
			"improved_description": "Improved: " + req.UserInput,
			"message":              "Test case description improved and updated in DB.",
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	})

	mux.HandleFunc("/api/v1/jira/compliance-metrics/f-1", func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]interface{}{
			"file_id":          "f-1",
			"total_test_cases": 4,
			"compliance_tags":  []string{"FDA", "ISO 9001"},
			"compliance_counts": map[string]int{
				"FDA": 3, "ISO 9001": 1,
			},
			"risk_counts":  map[string]int{"Critical": 0, "High": 1, "Medium": 1, "Low": 2},
			"last_updated": "2025-03-02T10:05:00",
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	})

	mux.HandleFunc("/api/v1/jira/push/f-1", func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]interface{}{
			"message":             "Pushed 4 test cases for file f-1 to Jira",
			"requirements_pushed": 2,
			"jira_map":            map[string]string{"REQ-001": "KAN-10", "REQ-002": "KAN-11"},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	})

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})

	srv := httptest.NewServer(mux)
	return srv, &uploadCalls, &generateCalls
}

func TestListFiles(t *testing.T) {
	srv, _, _ := newBackendTestServer(t)
	defer srv.Close()

	cli, err := NewClient(srv.URL, nil)
	if err != nil {
		t.Fatalf("NewClient error: %v", err)
	}
	files, err := cli.ListFiles(context.Background())
	if err != nil {
		t.Fatalf("ListFiles error: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("expected 2 files, got %d", len(files))
	}
	if files[0].FileID != "f-1" || files[0].Status != "Features Extracted" {
		t.Errorf("unexpected first file: %+v", files[0])
	}
}

func TestUploadFilesMultipart(t *testing.T) {
	srv, uploadCalls, _ := newBackendTestServer(t)
	defer srv.Close()

	dir := t.TempDir()
	path := filepath.Join(dir, "cardiac_monitor.txt")
	if err := os.WriteFile(path, []byte("The system shall record heart rate."), 0o644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}

	cli, _ := NewClient(srv.URL, nil)
	result, err := cli.UploadFiles(context.Background(), []string{path}, nil)
	if err != nil {
		t.Fatalf("UploadFiles error: %v", err)
	}
	if len(result.FileIDs) != 1 || result.FileIDs[0] != "f-new" {
		t.Errorf("unexpected file ids: %v", result.FileIDs)
	}
	if !strings.Contains(result.Message, "1 requirement documents") {
		t.Errorf("unexpected message: %q", result.Message)
	}
	if *uploadCalls != 1 {
		t.Errorf("expected 1 upload call, got %d", *uploadCalls)
	}
}

func TestUploadDuplicateSurfacesDetail(t *testing.T) {
	srv, _, _ := newBackendTestServer(t)
	defer srv.Close()

	dir := t.TempDir()
	path := filepath.Join(dir, "dupe.txt")
	if err := os.WriteFile(path, []byte("dup"), 0o644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}

	cli, _ := NewClient(srv.URL, nil)
	_, err := cli.UploadFiles(context.Background(), []string{path}, nil)
	if err == nil {
		t.Fatal("expected duplicate upload to fail")
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %T: %v", err, err)
	}
	if apiErr.Status != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", apiErr.Status)
	}
	if err.Error() != "File 'dupe.txt' has already been uploaded" {
		t.Errorf("detail not surfaced verbatim: %q", err.Error())
	}
}

func TestGenerateForFile(t *testing.T) {
	srv, _, generateCalls := newBackendTestServer(t)
	defer srv.Close()

	cli, _ := NewClient(srv.URL, nil)
	result, err := cli.GenerateForFile(context.Background(), "f-1")
	if err != nil {
		t.Fatalf("GenerateForFile error: %v", err)
	}
	if result.TotalGenerated != 4 {
		t.Errorf("expected 4 generated, got %d", result.TotalGenerated)
	}
	outcome, ok := result.PerRequirement["r-2"]
	if !ok || outcome.Status != "error" || outcome.Error != "model timeout" {
		t.Errorf("unexpected per-requirement outcome: %+v", outcome)
	}
	if *generateCalls != 1 {
		t.Errorf("expected 1 generate call, got %d", *generateCalls)
	}
}

func TestTestCasesByFileSortedAndNormalized(t *testing.T) {
	srv, _, _ := newBackendTestServer(t)
	defer srv.Close()

	cli, _ := NewClient(srv.URL, nil)
	grouped, err := cli.TestCasesByFile(context.Background(), "f-1")
	if err != nil {
		t.Fatalf("TestCasesByFile error: %v", err)
	}
	if len(grouped.Requirements) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(grouped.Requirements))
	}
	// Groups sorted by req_title_id.
	if grouped.Requirements[0].ReqTitleID != "REQ-001" || grouped.Requirements[1].ReqTitleID != "REQ-002" {
		t.Errorf("groups not sorted: %s, %s", grouped.Requirements[0].ReqTitleID, grouped.Requirements[1].ReqTitleID)
	}
	// Lexicographic tc sort: TC-10 before TC-2.
	tcs := grouped.Requirements[1].TestCases
	if len(tcs) != 2 || tcs[0].TCID != "TC-10" || tcs[1].TCID != "TC-2" {
		t.Errorf("test cases not in lexicographic order: %+v", tcs)
	}
	// Both tag delimiters normalize to slices.
	if got := tcs[1].ComplianceTags; len(got) != 2 || got[0] != "FDA" || got[1] != "IEC 62304" {
		t.Errorf("pipe-delimited tags not normalized: %v", got)
	}
	if got := tcs[0].ComplianceTags; len(got) != 2 || got[0] != "ISO 9001" || got[1] != "ISO 13485" {
		t.Errorf("comma-delimited tags not normalized: %v", got)
	}
}

func TestImproveTestCase(t *testing.T) {
	srv, _, _ := newBackendTestServer(t)
	defer srv.Close()

	cli, _ := NewClient(srv.URL, nil)
	result, err := cli.ImproveTestCase(context.Background(), ImproveRequest{
		FileID:              "f-1",
		RequirementID:       "r-2",
		TCID:                "TC-2",
		OriginalDescription: "1. Arm 2. Breach",
		UserInput:           "add teardown step",
	})
	if err != nil {
		t.Fatalf("ImproveTestCase error: %v", err)
	}
	if result.ImprovedDescription != "Improved: add teardown step" {
		t.Errorf("unexpected improved description: %q", result.ImprovedDescription)
	}

	_, err = cli.ImproveTestCase(context.Background(), ImproveRequest{TCID: "missing"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusNotFound {
		t.Fatalf("expected 404 APIError, got %v", err)
	}
}

func TestComplianceMetricsAndPush(t *testing.T) {
	srv, _, _ := newBackendTestServer(t)
	defer srv.Close()

	cli, _ := NewClient(srv.URL, nil)
	metrics, err := cli.ComplianceMetrics(context.Background(), "f-1")
	if err != nil {
		t.Fatalf("ComplianceMetrics error: %v", err)
	}
	if metrics.TotalTestCases != 4 || metrics.ComplianceCounts["FDA"] != 3 {
		t.Errorf("unexpected metrics: %+v", metrics)
	}

	push, err := cli.PushToJira(context.Background(), "f-1")
	if err != nil {
		t.Fatalf("PushToJira error: %v", err)
	}
	if push.RequirementsPushed != 2 || push.JiraMap["REQ-001"] != "KAN-10" {
		t.Errorf("unexpected push result: %+v", push)
	}
}

func TestHealthCheck(t *testing.T) {
	srv, _, _ := newBackendTestServer(t)
	defer srv.Close()

	cli, _ := NewClient(srv.URL, nil)
	if err := cli.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck error: %v", err)
	}
}

func TestErrorDetailFallbacks(t *testing.T) {
	// Non-JSON body falls back to the body text; empty body to status text.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/files/":
			http.Error(w, "backend exploded", http.StatusBadGateway)
		default:
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	defer srv.Close()

	cli, _ := NewClient(srv.URL, nil)
	_, err := cli.ListFiles(context.Background())
	if err == nil || !strings.Contains(err.Error(), "backend exploded") {
		t.Errorf("expected body text in error, got %v", err)
	}

	_, err = cli.TestCasesByFile(context.Background(), "f-1")
	if err == nil || err.Error() != "Service Unavailable" {
		t.Errorf("expected status text fallback, got %v", err)
	}
}

func TestSplitTags(t *testing.T) {
	cases := []struct {
		raw  string
		want []string
	}{
		{"FDA|ISO 9001", []string{"FDA", "ISO 9001"}},
		{"FDA, ISO 9001", []string{"FDA", "ISO 9001"}},
		{"FDA | ISO 9001, IEC 62304", []string{"FDA", "ISO 9001", "IEC 62304"}},
		{"  ", nil},
		{"", nil},
	}
	for _, tc := range cases {
		got := SplitTags(tc.raw)
		if len(got) != len(tc.want) {
			t.Errorf("SplitTags(%q) = %v, want %v", tc.raw, got, tc.want)
			continue
		}
		for i := range got {
			if got[i] != tc.want[i] {
				t.Errorf("SplitTags(%q)[%d] = %q, want %q", tc.raw, i, got[i], tc.want[i])
			}
		}
	}
}

func TestTagListUnmarshalArray(t *testing.T) {
	var tc TestCase
	raw := `{"tc_id":"TC-1","tc_title":"t","tc_description":"d","expected_result":"e","input_data":"","compliance_tags":["FDA"," ISO 9001 "],"risk":"Low"}`
	if err := json.Unmarshal([]byte(raw), &tc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(tc.ComplianceTags) != 2 || tc.ComplianceTags[1] != "ISO 9001" {
		t.Errorf("array tags not normalized: %v", tc.ComplianceTags)
	}
	if !tc.ComplianceTags.Has("FDA") || tc.ComplianceTags.Has("IEC 62304") {
		t.Errorf("Has gave wrong membership for %v", tc.ComplianceTags)
	}
}

func TestParseCreatedAt(t *testing.T) {
	for _, s := range []string{
		"2025-03-02T10:00:00",
		"2025-03-02T10:00:00.123456",
		"2025-03-02T10:00:00Z",
		"2025-03-02T10:00:00+05:30",
	} {
		if _, ok := ParseCreatedAt(s); !ok {
			t.Errorf("ParseCreatedAt(%q) failed", s)
		}
	}
	if _, ok := ParseCreatedAt(""); ok {
		t.Error("ParseCreatedAt accepted empty string")
	}
	if _, ok := ParseCreatedAt("yesterday"); ok {
		t.Error("ParseCreatedAt accepted junk")
	}
}

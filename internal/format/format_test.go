package format

import (
	"strings"
	"testing"

	"github.com/seralys/medgen-console/internal/api"
)

func TestDescriptionStepsNumbered(t *testing.T) {
	steps := DescriptionSteps("1. Log in as admin 2. Open the audit page 3. Export the log")
	want := []string{"Log in as admin", "Open the audit page", "Export the log"}
	if len(steps) != len(want) {
		t.Fatalf("expected %d steps, got %d: %v", len(want), len(steps), steps)
	}
	for i := range want {
		if steps[i] != want[i] {
			t.Errorf("step %d = %q, want %q", i, steps[i], want[i])
		}
	}
}

func TestDescriptionStepsKeepsDocumentOrder(t *testing.T) {
	// Digits are ignored: out-of-order numbering is not reordered.
	steps := DescriptionSteps("3. foo 1. bar")
	if len(steps) != 2 || steps[0] != "foo" || steps[1] != "bar" {
		t.Errorf("expected [foo bar] in document order, got %v", steps)
	}
}

func TestDescriptionStepsMultiline(t *testing.T) {
	steps := DescriptionSteps("1. Power on the device\n2. Attach the sensor\n3. Verify the reading")
	if len(steps) != 3 || steps[1] != "Attach the sensor" {
		t.Errorf("unexpected steps: %v", steps)
	}
}

func TestDescriptionStepsNewlineFallback(t *testing.T) {
	steps := DescriptionSteps("first line\n\n  second line  \nthird")
	want := []string{"first line", "second line", "third"}
	if len(steps) != 3 {
		t.Fatalf("expected 3 lines, got %v", steps)
	}
	for i := range want {
		if steps[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, steps[i], want[i])
		}
	}
}

func TestDescriptionStepsSingleLine(t *testing.T) {
	steps := DescriptionSteps("Verify the alarm sounds within 2 seconds")
	if len(steps) != 1 {
		t.Fatalf("expected single paragraph, got %v", steps)
	}
}

func TestDescriptionStepsEmpty(t *testing.T) {
	if steps := DescriptionSteps(""); len(steps) != 0 {
		t.Errorf("expected no steps for empty input, got %v", steps)
	}
	if steps := DescriptionSteps("   \n \n"); len(steps) != 0 {
		t.Errorf("expected no steps for blank input, got %v", steps)
	}
}

func TestPrettyInputValidJSON(t *testing.T) {
	got := PrettyInput(`{"patient_id":"P-1001","heart_rate":72}`)
	if !strings.Contains(got, "  \"heart_rate\": 72") {
		t.Errorf("expected 2-space indented JSON, got:\n%s", got)
	}
	if !strings.HasPrefix(got, "{\n") {
		t.Errorf("expected object on multiple lines, got:\n%s", got)
	}
}

func TestPrettyInputInvalidJSONIdentity(t *testing.T) {
	for _, in := range []string{
		"use the sample ECG trace",
		"{not json",
		"",
	} {
		if got := PrettyInput(in); got != in {
			t.Errorf("PrettyInput(%q) = %q, want identity", in, got)
		}
	}
}

func TestTestCaseCSV(t *testing.T) {
	cases := []api.TestCase{
		{
			ReqTitleID:     "REQ-001",
			TCID:           "TC-001",
			TCTitle:        "Verify login, with \"quotes\"",
			TCDescription:  "1. Open 2. Login",
			ExpectedResult: "Dashboard shown",
			ComplianceTags: api.TagList{"FDA", "ISO 9001"},
			Risk:           "High",
			CreatedAt:      "2025-03-02T10:00:00",
		},
	}
	data, err := TestCaseCSV(cases)
	if err != nil {
		t.Fatalf("TestCaseCSV error: %v", err)
	}
	out := string(data)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected header plus one row, got %d lines", len(lines))
	}
	if !strings.HasPrefix(lines[0], "Requirement,Test Case ID") {
		t.Errorf("unexpected header: %q", lines[0])
	}
	if !strings.Contains(lines[1], `"Verify login, with ""quotes"""`) {
		t.Errorf("comma/quote cell not quoted: %q", lines[1])
	}
	if !strings.Contains(lines[1], `"FDA, ISO 9001"`) {
		t.Errorf("tags not joined into one cell: %q", lines[1])
	}
}

func TestReportText(t *testing.T) {
	out := ReportText(ReportData{
		Filename:   "cardiac_monitor",
		FileID:     "f-1",
		Window:     "last 30 days",
		TagFilter:  []string{"FDA"},
		Total:      3,
		RiskCounts: map[string]int{"High": 1, "Low": 2},
		TagCounts:  map[string]int{"FDA": 3},
	})
	for _, want := range []string{
		"Compliance Report",
		"cardiac_monitor (f-1)",
		"last 30 days",
		"Total test cases: 3",
		"Critical  0",
		"High      1",
		"FDA",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q:\n%s", want, out)
		}
	}
}

func TestRiskCountsBuckets(t *testing.T) {
	counts := RiskCounts([]api.TestCase{
		{Risk: "HIGH"},
		{Risk: "critical"},
		{Risk: "Medium"},
		{Risk: "unknown"},
	})
	if counts["High"] != 1 || counts["Critical"] != 1 || counts["Medium"] != 1 {
		t.Errorf("unexpected counts: %v", counts)
	}
	if counts["Low"] != 0 {
		t.Errorf("Low should be present with zero, got %d", counts["Low"])
	}
	if len(counts) != 4 {
		t.Errorf("unknown levels should not add keys: %v", counts)
	}
}

func TestTagCountsPerTag(t *testing.T) {
	counts := TagCounts([]api.TestCase{
		{ComplianceTags: api.TagList{"ISO 13485", "IEC 62304"}},
		{ComplianceTags: api.TagList{"ISO 13485"}},
	})
	if counts["ISO 13485"] != 2 {
		t.Errorf("ISO 13485 = %d, want 2", counts["ISO 13485"])
	}
	if counts["IEC 62304"] != 1 {
		t.Errorf("IEC 62304 = %d, want 1", counts["IEC 62304"])
	}
}

package format

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/seralys/medgen-console/internal/api"
)

// riskOrder fixes the display order of risk levels in reports.
var riskOrder = []string{"Critical", "High", "Medium", "Low"}

// TestCaseCSV renders test cases as a quoted CSV table, one row per case.
func TestCaseCSV(cases []api.TestCase) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	header := []string{"Requirement", "Test Case ID", "Title", "Description", "Expected Result", "Compliance Tags", "Risk", "Created"}
	if err := w.Write(header); err != nil {
		return nil, fmt.Errorf("export csv: %w", err)
	}
	for _, tc := range cases {
		row := []string{
			tc.ReqTitleID,
			tc.TCID,
			tc.TCTitle,
			tc.TCDescription,
			tc.ExpectedResult,
			tc.ComplianceTags.String(),
			tc.Risk,
			tc.CreatedAt,
		}
		if err := w.Write(row); err != nil {
			return nil, fmt.Errorf("export csv: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("export csv: %w", err)
	}
	return buf.Bytes(), nil
}

// RiskCounts tallies cases per risk level, case-insensitively. All four
// levels are present in the result even when zero.
func RiskCounts(cases []api.TestCase) map[string]int {
	counts := map[string]int{"Critical": 0, "High": 0, "Medium": 0, "Low": 0}
	for _, tc := range cases {
		switch strings.ToLower(tc.Risk) {
		case "critical":
			counts["Critical"]++
		case "high":
			counts["High"]++
		case "medium":
			counts["Medium"]++
		case "low":
			counts["Low"]++
		}
	}
	return counts
}

// TagCounts tallies cases per compliance tag.
func TagCounts(cases []api.TestCase) map[string]int {
	counts := make(map[string]int)
	for _, tc := range cases {
		for _, tag := range tc.ComplianceTags {
			counts[tag]++
		}
	}
	return counts
}

// ReportData carries the filtered view a text report renders.
type ReportData struct {
	Filename    string
	FileID      string
	Window      string
	TagFilter   []string
	Total       int
	RiskCounts  map[string]int
	TagCounts   map[string]int
	LastUpdated string
}

// ReportText renders a plain-text compliance report for a filtered view.
func ReportText(d ReportData) string {
	var sb strings.Builder
	sb.WriteString("Compliance Report\n")
	sb.WriteString(strings.Repeat("=", 17) + "\n\n")
	if d.Filename != "" {
		sb.WriteString(fmt.Sprintf("File:      %s (%s)\n", d.Filename, d.FileID))
	} else {
		sb.WriteString(fmt.Sprintf("File:      %s\n", d.FileID))
	}
	sb.WriteString(fmt.Sprintf("Generated: %s\n", time.Now().Format("2006-01-02 15:04:05")))
	if d.LastUpdated != "" {
		sb.WriteString(fmt.Sprintf("Updated:   %s\n", d.LastUpdated))
	}
	window := d.Window
	if window == "" {
		window = "all time"
	}
	sb.WriteString(fmt.Sprintf("Window:    %s\n", window))
	if len(d.TagFilter) > 0 {
		sb.WriteString(fmt.Sprintf("Tags:      %s\n", strings.Join(d.TagFilter, ", ")))
	}
	sb.WriteString(fmt.Sprintf("\nTotal test cases: %d\n", d.Total))

	sb.WriteString("\nRisk distribution:\n")
	for _, level := range riskOrder {
		sb.WriteString(fmt.Sprintf("  %-9s %d\n", level, d.RiskCounts[level]))
	}

	if len(d.TagCounts) > 0 {
		tags := make([]string, 0, len(d.TagCounts))
		for tag := range d.TagCounts {
			tags = append(tags, tag)
		}
		sort.Strings(tags)
		sb.WriteString("\nTag coverage:\n")
		for _, tag := range tags {
			sb.WriteString(fmt.Sprintf("  %-12s %d\n", tag, d.TagCounts[tag]))
		}
	}
	return sb.String()
}

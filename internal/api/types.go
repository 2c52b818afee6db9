package api

import (
	"encoding/json"
	"strings"
	"time"
)

// TagList is the normalized form of the backend's compliance_tags value.
// The backend emits a delimited string whose separator differs between the
// generation path ("|") and the reporting path (","); some responses carry a
// plain array instead. Decoding accepts all three shapes so screens only
// ever see a clean slice.
type TagList []string

// UnmarshalJSON accepts a delimited string or an array of strings.
func (t *TagList) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*t = SplitTags(s)
		return nil
	}
	var arr []string
	if err := json.Unmarshal(data, &arr); err != nil {
		return err
	}
	out := make(TagList, 0, len(arr))
	for _, v := range arr {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		*t = nil
		return nil
	}
	*t = out
	return nil
}

// MarshalJSON writes the canonical comma-joined form.
func (t TagList) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// String joins the tags for display and export.
func (t TagList) String() string {
	return strings.Join(t, ", ")
}

// Has reports whether tag is present (exact match after trimming).
func (t TagList) Has(tag string) bool {
	tag = strings.TrimSpace(tag)
	for _, v := range t {
		if v == tag {
			return true
		}
	}
	return false
}

// SplitTags splits a raw delimited tag string on both "|" and ",",
// trimming whitespace and dropping empties. Returns nil for no tags.
func SplitTags(raw string) TagList {
	var out TagList
	for _, part := range strings.Split(raw, "|") {
		for _, tag := range strings.Split(part, ",") {
			if tag = strings.TrimSpace(tag); tag != "" {
				out = append(out, tag)
			}
		}
	}
	return out
}

// FileInfo identifies one uploaded document batch.
type FileInfo struct {
	FileID   string `json:"file_id"`
	Filename string `json:"filename"`
	Status   string `json:"status"`
}

// UploadResult is returned by the multipart upload endpoint.
type UploadResult struct {
	FileIDs   []string `json:"file_ids"`
	Filenames []string `json:"filenames"`
	Message   string   `json:"message"`
}

// Requirement is one extracted requirement.
type Requirement struct {
	FileID        string `json:"file_id"`
	RequirementID string `json:"requirement_id"`
	ReqTitleID    string `json:"req_title_id"`
	Title         string `json:"title"`
	Description   string `json:"description"`
	Type          string `json:"type"`
	Source        string `json:"source"`
	Category      string `json:"category"`
	Priority      string `json:"priority"`
	CreatedAt     string `json:"created_at,omitempty"`
}

// TestCase is one generated verification artifact. The requirement fields
// are populated on flat responses and left empty inside grouped ones.
type TestCase struct {
	FileID         string  `json:"file_id,omitempty"`
	ReqID          string  `json:"req_id,omitempty"`
	ReqTitleID     string  `json:"req_title_id,omitempty"`
	ReqTitle       string  `json:"req_title,omitempty"`
	ReqDescription string  `json:"req_description,omitempty"`
	TCID           string  `json:"tc_id"`
	TCTitle        string  `json:"tc_title"`
	TCDescription  string  `json:"tc_description"`
	ExpectedResult string  `json:"expected_result"`
	InputData      string  `json:"input_data"`
	ComplianceTags TagList `json:"compliance_tags"`
	Risk           string  `json:"risk"`
	CreatedAt      string  `json:"created_at,omitempty"`
}

// GroupedRequirement aggregates a requirement with its test cases, the view
// shape returned by the test-cases-by-file endpoint.
type GroupedRequirement struct {
	RequirementID  string     `json:"requirement_id"`
	ReqTitleID     string     `json:"req_title_id"`
	ReqTitle       string     `json:"req_title"`
	ReqDescription string     `json:"requirement_description"`
	TestCases      []TestCase `json:"test_cases"`
}

// GroupedTestCases is the envelope of the grouped fetch.
type GroupedTestCases struct {
	FileID       string               `json:"file_id"`
	Requirements []GroupedRequirement `json:"requirements"`
}

// Flatten returns the cases of all groups as one slice, carrying the
// requirement ids into each case for export and filtering.
func (g *GroupedTestCases) Flatten() []TestCase {
	if g == nil {
		return nil
	}
	var out []TestCase
	for _, group := range g.Requirements {
		for _, tc := range group.TestCases {
			tc.FileID = g.FileID
			tc.ReqID = group.RequirementID
			tc.ReqTitleID = group.ReqTitleID
			tc.ReqTitle = group.ReqTitle
			out = append(out, tc)
		}
	}
	return out
}

// ExtractionResult is returned by the requirement extraction endpoint.
type ExtractionResult struct {
	Message          string        `json:"message"`
	RequirementCount int           `json:"requirement_count"`
	Requirements     []Requirement `json:"requirements"`
}

// RequirementOutcome is one entry of a whole-file generation's
// per_requirement map.
type RequirementOutcome struct {
	Status    string `json:"status"`
	Generated int    `json:"generated"`
	Title     string `json:"title,omitempty"`
	Error     string `json:"error,omitempty"`
}

// GenerationResult is returned by whole-file generation.
type GenerationResult struct {
	Message        string                        `json:"message"`
	TotalGenerated int                           `json:"total_testcases_generated"`
	ElapsedSeconds float64                       `json:"elapsed_seconds"`
	PerRequirement map[string]RequirementOutcome `json:"per_requirement"`
}

// RequirementGeneration is returned by single-requirement generation.
type RequirementGeneration struct {
	Message   string     `json:"message"`
	TestCases []TestCase `json:"test_cases"`
}

// ImproveRequest asks the backend to rewrite one test case description
// based on free-text operator feedback.
type ImproveRequest struct {
	FileID              string `json:"file_id"`
	RequirementID       string `json:"requirement_id"`
	TCID                string `json:"tc_id"`
	OriginalDescription string `json:"original_description"`
	UserInput           string `json:"user_input"`
}

// Improvement is the backend's answer to an ImproveRequest.
type Improvement struct {
	RequirementID       string `json:"requirement_id"`
	TCID                string `json:"tc_id"`
	OriginalDescription string `json:"original_description"`
	ImprovedDescription string `json:"improved_description"`
	Message             string `json:"message"`
}

// ComplianceMetrics aggregates tag and risk tallies for one file.
type ComplianceMetrics struct {
	FileID           string         `json:"file_id"`
	TotalTestCases   int            `json:"total_test_cases"`
	ComplianceTags   []string       `json:"compliance_tags"`
	ComplianceCounts map[string]int `json:"compliance_counts"`
	RiskCounts       map[string]int `json:"risk_counts"`
	LastUpdated      string         `json:"last_updated,omitempty"`
}

// PushResult is returned by the tracker push endpoint. JiraMap maps the
// requirement display id to the created issue key.
type PushResult struct {
	Message            string            `json:"message"`
	RequirementsPushed int               `json:"requirements_pushed"`
	JiraMap            map[string]string `json:"jira_map"`
}

// createdAtLayouts covers the timestamp shapes the backend emits. Python's
// isoformat carries no zone, so RFC3339 alone does not parse it.
var createdAtLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// ParseCreatedAt parses a backend created_at value leniently. The second
// return is false when the value is empty or unrecognized.
func ParseCreatedAt(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range createdAtLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

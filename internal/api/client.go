package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Client talks to the test-case generation backend. One method per remote
// operation, each a single HTTP call; there are no retries and no caching.
// The caller's next action is the retry mechanism.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *log.Logger
}

// APIError describes a non-2xx backend response. Error() returns only the
// user-facing detail so screens can surface it verbatim; Op and Status are
// kept for logs and tests.
type APIError struct {
	Op     string
	Status int
	Detail string
}

func (e *APIError) Error() string {
	return e.Detail
}

// NewClient constructs a backend client.
// baseURL example: http://localhost:8000
func NewClient(baseURL string, logger *log.Logger) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, fmt.Errorf("api: base URL is required")
	}
	cli := &http.Client{
		// Whole-file generation fans out to the AI model server-side and
		// can run long; everything else returns well inside this.
		Timeout: 180 * time.Second,
	}
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		httpClient: cli,
		logger:     logger,
	}, nil
}

// BaseURL returns the configured backend base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// do performs one request and returns the response body on 2xx. Non-2xx
// responses become *APIError with the detail extracted from the body.
func (c *Client) do(ctx context.Context, op, method, path string, body io.Reader, contentType string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", op, err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: request error: %w", op, err)
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode/100 != 2 {
		detail := errorDetail(resp.StatusCode, data)
		if c.logger != nil {
			c.logger.Printf("%s: backend returned %d: %s", op, resp.StatusCode, detail)
		}
		return nil, &APIError{Op: op, Status: resp.StatusCode, Detail: detail}
	}
	return data, nil
}

// ListFiles fetches all uploaded files.
func (c *Client) ListFiles(ctx context.Context) ([]FileInfo, error) {
	body, err := c.do(ctx, "list files", http.MethodGet, "/api/v1/files/", nil, "")
	if err != nil {
		return nil, err
	}
	var files []FileInfo
	if err := json.Unmarshal(body, &files); err != nil {
		return nil, fmt.Errorf("list files: decode response: %w", err)
	}
	return files, nil
}

// UploadFiles uploads requirement documents and optional input-data files
// as one multipart request. Paths are read from disk; the backend rejects
// filenames it has already seen with a 400.
func (c *Client) UploadFiles(ctx context.Context, requirementPaths, inputPaths []string) (*UploadResult, error) {
	if len(requirementPaths) == 0 && len(inputPaths) == 0 {
		return nil, fmt.Errorf("upload files: nothing to upload")
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	addFile := func(field, path string) error {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		part, err := mw.CreateFormFile(field, filepath.Base(path))
		if err != nil {
			return err
		}
		_, err = io.Copy(part, f)
		return err
	}
	for _, p := range requirementPaths {
		if err := addFile("requirement_files", p); err != nil {
			return nil, fmt.Errorf("upload files: %w", err)
		}
	}
	for _, p := range inputPaths {
		if err := addFile("input_files", p); err != nil {
			return nil, fmt.Errorf("upload files: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("upload files: %w", err)
	}

	body, err := c.do(ctx, "upload files", http.MethodPost, "/api/v1/files/upload", &buf, mw.FormDataContentType())
	if err != nil {
		return nil, err
	}
	var result UploadResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("upload files: decode response: %w", err)
	}
	return &result, nil
}

// ExtractRequirements triggers AI extraction for one uploaded file.
func (c *Client) ExtractRequirements(ctx context.Context, fileID string) (*ExtractionResult, error) {
	path := "/api/v1/requirements/" + url.PathEscape(fileID) + "/extract"
	body, err := c.do(ctx, "extract requirements", http.MethodPost, path, nil, "")
	if err != nil {
		return nil, err
	}
	var result ExtractionResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("extract requirements: decode response: %w", err)
	}
	return &result, nil
}

// ListRequirements fetches requirements, filtered to one file when fileID
// is non-empty.
func (c *Client) ListRequirements(ctx context.Context, fileID string) ([]Requirement, error) {
	path := "/api/v1/requirements/"
	if strings.TrimSpace(fileID) != "" {
		path += "?file_id=" + url.QueryEscape(fileID)
	}
	body, err := c.do(ctx, "list requirements", http.MethodGet, path, nil, "")
	if err != nil {
		return nil, err
	}
	var reqs []Requirement
	if err := json.Unmarshal(body, &reqs); err != nil {
		return nil, fmt.Errorf("list requirements: decode response: %w", err)
	}
	return reqs, nil
}

// GenerateForFile generates test cases for every requirement of a file in
// one backend call.
func (c *Client) GenerateForFile(ctx context.Context, fileID string) (*GenerationResult, error) {
	path := "/api/v1/test-cases/generate/file/" + url.PathEscape(fileID)
	body, err := c.do(ctx, "generate test cases", http.MethodPost, path, nil, "")
	if err != nil {
		return nil, err
	}
	var result GenerationResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("generate test cases: decode response: %w", err)
	}
	return &result, nil
}

// GenerateForRequirement generates test cases for a single requirement.
func (c *Client) GenerateForRequirement(ctx context.Context, requirementID string) (*RequirementGeneration, error) {
	path := "/api/v1/test-cases/generate/requirement/" + url.PathEscape(requirementID)
	body, err := c.do(ctx, "generate test cases", http.MethodPost, path, nil, "")
	if err != nil {
		return nil, err
	}
	var result RequirementGeneration
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("generate test cases: decode response: %w", err)
	}
	return &result, nil
}

// TestCasesByFile fetches a file's test cases grouped by requirement.
// Groups come back sorted by req_title_id and cases within a group by
// tc_id, both plain string comparisons, so every consumer renders the
// same order.
func (c *Client) TestCasesByFile(ctx context.Context, fileID string) (*GroupedTestCases, error) {
	path := "/api/v1/test-cases/file/" + url.PathEscape(fileID)
	body, err := c.do(ctx, "fetch test cases", http.MethodGet, path, nil, "")
	if err != nil {
		return nil, err
	}
	var grouped GroupedTestCases
	if err := json.Unmarshal(body, &grouped); err != nil {
		return nil, fmt.Errorf("fetch test cases: decode response: %w", err)
	}
	sortGrouped(&grouped)
	return &grouped, nil
}

// ImproveTestCase submits operator feedback for one test case and returns
// the rewritten description.
func (c *Client) ImproveTestCase(ctx context.Context, req ImproveRequest) (*Improvement, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("improve test case: encode request: %w", err)
	}
	body, err := c.do(ctx, "improve test case", http.MethodPost, "/api/v1/test-cases/improve", bytes.NewReader(data), "application/json")
	if err != nil {
		return nil, err
	}
	var result Improvement
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("improve test case: decode response: %w", err)
	}
	return &result, nil
}

// ComplianceMetrics fetches tag and risk tallies for one file.
func (c *Client) ComplianceMetrics(ctx context.Context, fileID string) (*ComplianceMetrics, error) {
	path := "/api/v1/jira/compliance-metrics/" + url.PathEscape(fileID)
	body, err := c.do(ctx, "fetch compliance metrics", http.MethodGet, path, nil, "")
	if err != nil {
		return nil, err
	}
	var metrics ComplianceMetrics
	if err := json.Unmarshal(body, &metrics); err != nil {
		return nil, fmt.Errorf("fetch compliance metrics: decode response: %w", err)
	}
	return &metrics, nil
}

// PushToJira pushes a file's test cases to the issue tracker.
func (c *Client) PushToJira(ctx context.Context, fileID string) (*PushResult, error) {
	path := "/api/v1/jira/push/" + url.PathEscape(fileID)
	body, err := c.do(ctx, "push to jira", http.MethodPost, path, nil, "")
	if err != nil {
		return nil, err
	}
	var result PushResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("push to jira: decode response: %w", err)
	}
	return &result, nil
}

// HealthCheck performs a lightweight GET /health against the backend.
func (c *Client) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("backend health: status %d: %s", resp.StatusCode, truncateBody(string(body), 200))
	}
	return nil
}

// sortGrouped orders requirement groups and their test cases for display.
// Lexicographic on purpose: "TC-10" sorts before "TC-2".
func sortGrouped(g *GroupedTestCases) {
	sort.SliceStable(g.Requirements, func(i, j int) bool {
		return g.Requirements[i].ReqTitleID < g.Requirements[j].ReqTitleID
	})
	for i := range g.Requirements {
		tcs := g.Requirements[i].TestCases
		sort.SliceStable(tcs, func(a, b int) bool {
			return tcs[a].TCID < tcs[b].TCID
		})
	}
}

// errorDetail extracts the user-facing message from an error response: the
// JSON "detail" field when present, else the truncated body text, else the
// HTTP status text.
func errorDetail(status int, body []byte) string {
	var payload struct {
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && strings.TrimSpace(payload.Detail) != "" {
		return strings.TrimSpace(payload.Detail)
	}
	if s := strings.TrimSpace(string(body)); s != "" {
		return truncateBody(s, 300)
	}
	return http.StatusText(status)
}

func truncateBody(s string, max int) string {
	if max <= 0 {
		return ""
	}
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}

package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"kettleplane/pkg/api"

	"github.com/spf13/viper"
)

// Client handles API calls to the kettleplane controller.
type Client struct {
	BaseURL    string
	Token      string
	Operator   string
	HTTPClient *http.Client
}

// NewClient creates a new client with the given base URL, token and operator id.
func NewClient(baseURL, token, operator string) *Client {
	return &Client{
		BaseURL:  baseURL,
		Token:    token,
		Operator: operator,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func clientFromConfig() *Client {
	return NewClient(viper.GetString("url"), viper.GetString("token"), viper.GetString("operator"))
}

// APIError represents an error response from the API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}

// do sends one request and decodes a JSON response into out (if non-nil).
func (c *Client) do(method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(bodyBytes)
	}

	httpReq, err := http.NewRequest(method, c.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	if c.Token != "" {
		httpReq.Header.Add("Authorization", fmt.Sprintf("Bearer %s", c.Token))
	}
	if c.Operator != "" {
		httpReq.Header.Add(api.OperatorHeader, c.Operator)
	}
	httpReq.Header.Add("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := string(respBody)
		var apiErr api.ErrorResponse
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error != "" {
			msg = apiErr.Error
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// RefreshCatalog sends POST /catalog/refresh.
func (c *Client) RefreshCatalog() (*api.RefreshResponse, error) {
	var result api.RefreshResponse
	if err := c.do(http.MethodPost, "/catalog/refresh", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetDirectory sends GET /catalog/dirs/{id}.
func (c *Client) GetDirectory(id int64) (*api.DirectoryResponse, error) {
	var result api.DirectoryResponse
	if err := c.do(http.MethodGet, fmt.Sprintf("/catalog/dirs/%d", id), nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Search sends GET /catalog/search?q=.
func (c *Client) Search(term string) (*api.SearchResponse, error) {
	var result api.SearchResponse
	if err := c.do(http.MethodGet, "/catalog/search?q="+url.QueryEscape(term), nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Dispatch sends POST /executions to start a job or transformation.
func (c *Client) Dispatch(req api.DispatchRequest) (*api.DispatchResponse, error) {
	var result api.DispatchResponse
	if err := c.do(http.MethodPost, "/executions", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetStatus sends GET /executions/{id} to read one status.
func (c *Client) GetStatus(id, name, kind string) (*api.StatusResponse, error) {
	q := url.Values{"name": {name}, "kind": {kind}}
	var result api.StatusResponse
	if err := c.do(http.MethodGet, "/executions/"+url.PathEscape(id)+"?"+q.Encode(), nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListProcesses sends GET /processes.
func (c *Client) ListProcesses() (*api.ProcessListResponse, error) {
	var result api.ProcessListResponse
	if err := c.do(http.MethodGet, "/processes", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// StopProcess sends POST /processes/{shortId}/stop.
func (c *Client) StopProcess(shortID, kind string) (*api.MessageResponse, error) {
	path := "/processes/" + url.PathEscape(shortID) + "/stop"
	if kind != "" {
		path += "?kind=" + url.QueryEscape(kind)
	}
	var result api.MessageResponse
	if err := c.do(http.MethodPost, path, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetSql sends GET /transformations/{name}/sql.
func (c *Client) GetSql(trans string) ([]api.SqlStepResponse, error) {
	var result []api.SqlStepResponse
	if err := c.do(http.MethodGet, "/transformations/"+url.PathEscape(trans)+"/sql", nil, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// UpdateSql sends PUT /transformations/{name}/sql/{step}.
func (c *Client) UpdateSql(trans, step, text string) (*api.MessageResponse, error) {
	var result api.MessageResponse
	path := "/transformations/" + url.PathEscape(trans) + "/sql/" + url.PathEscape(step)
	if err := c.do(http.MethodPut, path, api.UpdateSqlRequest{SQL: text}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListSqlVersions sends GET /transformations/{name}/sql/{step}/versions.
func (c *Client) ListSqlVersions(trans, step string, limit int) ([]api.SqlVersionResponse, error) {
	path := "/transformations/" + url.PathEscape(trans) + "/sql/" + url.PathEscape(step) + "/versions"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var result []api.SqlVersionResponse
	if err := c.do(http.MethodGet, path, nil, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// GetSqlVersion sends GET /versions/{id}.
func (c *Client) GetSqlVersion(id int64) (*api.SqlVersionResponse, error) {
	var result api.SqlVersionResponse
	if err := c.do(http.MethodGet, fmt.Sprintf("/versions/%d", id), nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// FindSqlUsage sends GET /sql/usage?q=.
func (c *Client) FindSqlUsage(term string) ([]api.SqlUsageResponse, error) {
	var result []api.SqlUsageResponse
	if err := c.do(http.MethodGet, "/sql/usage?q="+url.QueryEscape(term), nil, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// ListSchedules sends GET /schedules.
func (c *Client) ListSchedules() (*api.ScheduleListResponse, error) {
	var result api.ScheduleListResponse
	if err := c.do(http.MethodGet, "/schedules", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// PutSchedule sends PUT /schedules/{jobId}.
func (c *Client) PutSchedule(jobID string, req api.ScheduleRequest) (*api.ScheduleResponse, error) {
	return c.scheduleCall(http.MethodPut, jobID, "", req)
}

// Reschedule sends PATCH /schedules/{jobId}.
func (c *Client) Reschedule(jobID string, hour, minute int) (*api.ScheduleResponse, error) {
	return c.scheduleCall(http.MethodPatch, jobID, "", api.RescheduleRequest{Hour: hour, Minute: minute})
}

// PauseSchedule sends POST /schedules/{jobId}/pause.
func (c *Client) PauseSchedule(jobID string) (*api.ScheduleResponse, error) {
	return c.scheduleCall(http.MethodPost, jobID, "/pause", nil)
}

// ResumeSchedule sends POST /schedules/{jobId}/resume.
func (c *Client) ResumeSchedule(jobID string) (*api.ScheduleResponse, error) {
	return c.scheduleCall(http.MethodPost, jobID, "/resume", nil)
}

// ScheduleFromHint sends POST /schedules/{jobId}/from-hint.
func (c *Client) ScheduleFromHint(jobID string, dirID int64) (*api.ScheduleResponse, error) {
	return c.scheduleCall(http.MethodPost, jobID, "/from-hint", api.ScheduleFromHintRequest{DirectoryID: dirID})
}

// DeleteSchedule sends DELETE /schedules/{jobId}.
func (c *Client) DeleteSchedule(jobID string) error {
	return c.do(http.MethodDelete, "/schedules/"+url.PathEscape(jobID), nil, nil)
}

func (c *Client) scheduleCall(method, jobID, suffix string, body interface{}) (*api.ScheduleResponse, error) {
	var result api.ScheduleResponse
	if err := c.do(method, "/schedules/"+url.PathEscape(jobID)+suffix, body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListRuns sends GET /artifacts/{kind}/{name}/runs.
func (c *Client) ListRuns(kind, name string) (*api.RunListResponse, error) {
	var result api.RunListResponse
	path := "/artifacts/" + url.PathEscape(kind) + "/" + url.PathEscape(name) + "/runs"
	if err := c.do(http.MethodGet, path, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetScheduleHint sends GET /jobs/{name}/schedule-hint.
func (c *Client) GetScheduleHint(job string) (*api.ScheduleHintResponse, error) {
	var result api.ScheduleHintResponse
	if err := c.do(http.MethodGet, "/jobs/"+url.PathEscape(job)+"/schedule-hint", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetFailureReport sends GET /reports/failures.
func (c *Client) GetFailureReport() (*api.FailureReportResponse, error) {
	var result api.FailureReportResponse
	if err := c.do(http.MethodGet, "/reports/failures", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListAudit sends GET /audit. A non-empty user limits the list to that
// operator's actions.
func (c *Client) ListAudit(limit int, user string) (*api.AuditListResponse, error) {
	var result api.AuditListResponse
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if user != "" {
		q.Set("user", user)
	}
	path := "/audit"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	if err := c.do(http.MethodGet, path, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListSearches sends GET /audit/searches. An empty user means the caller.
func (c *Client) ListSearches(user string, limit int) (*api.SearchHistoryResponse, error) {
	var result api.SearchHistoryResponse
	q := url.Values{}
	if user != "" {
		q.Set("user", user)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/audit/searches"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	if err := c.do(http.MethodGet, path, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetFreeze sends GET /admin/freeze.
func (c *Client) GetFreeze() (*api.FreezeResponse, error) {
	var result api.FreezeResponse
	if err := c.do(http.MethodGet, "/admin/freeze", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// SetFreeze sends POST /admin/freeze.
func (c *Client) SetFreeze(frozen bool) (*api.FreezeResponse, error) {
	var result api.FreezeResponse
	if err := c.do(http.MethodPost, "/admin/freeze", api.FreezeRequest{Frozen: frozen}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

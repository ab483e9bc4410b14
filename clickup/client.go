package clickup

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

const DefaultBaseURL = "https://api.clickup.com"

// ClientConfig holds what the client needs to reach the ClickUp API.
type ClientConfig struct {
	BaseURL string        // e.g., https://api.clickup.com
	Token   string        // OAuth access token
	Timeout time.Duration // per request; 0 means no timeout
}

// Client handles ClickUp API operations. It is safe for concurrent use; the
// underlying http.Client is never modified after NewClient returns.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new ClickUp client that authenticates every request
// with cfg.Token as a bearer token.
func NewClient(cfg ClientConfig) *Client {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token, TokenType: "Bearer"})
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &oauth2.Transport{
				Source: src,
				Base:   http.DefaultTransport,
			},
		},
	}
}

// FetchTask retrieves a task together with its immediate subtask references.
func (c *Client) FetchTask(ctx context.Context, req TaskRequest) (*Task, error) {
	const op = "get_task"

	query := url.Values{}
	query.Set("include_subtasks", "true")
	addWorkspace(query, req.WorkspaceID)

	body, status, err := c.makeRequest(ctx, op, c.taskURL(req.TaskID), query, req.WorkspaceID)
	if err != nil {
		return nil, err
	}

	var task Task
	if err := json.Unmarshal(body, &task); err != nil {
		return nil, translateError(op, status, string(body), req.WorkspaceID, err)
	}
	return &task, nil
}

// FetchStatusHistory retrieves how long the task spent in each status.
func (c *Client) FetchStatusHistory(ctx context.Context, req TaskRequest) (*TimeInStatus, error) {
	const op = "get_task_time_in_status"

	query := url.Values{}
	addWorkspace(query, req.WorkspaceID)

	body, status, err := c.makeRequest(ctx, op, c.taskURL(req.TaskID)+"/time_in_status", query, req.WorkspaceID)
	if err != nil {
		return nil, err
	}

	var tis TimeInStatus
	if err := json.Unmarshal(body, &tis); err != nil {
		return nil, translateError(op, status, string(body), req.WorkspaceID, err)
	}
	return &tis, nil
}

func (c *Client) taskURL(taskID string) string {
	return c.baseURL + "/api/v2/task/" + url.PathEscape(taskID)
}

func addWorkspace(query url.Values, workspaceID string) {
	if workspaceID == "" {
		return
	}
	query.Set("custom_task_ids", "true")
	query.Set("team_id", workspaceID)
}

// makeRequest performs a GET and returns the body of a 2xx response. Any other
// status is translated into the package's error types.
func (c *Client) makeRequest(ctx context.Context, op, rawURL string, query url.Values, workspaceID string) ([]byte, int, error) {
	if len(query) > 0 {
		rawURL += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, 0, &TransportError{Op: op, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, &TransportError{Op: op, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, resp.StatusCode, translateError(op, resp.StatusCode, string(body), workspaceID, nil)
	}

	return body, resp.StatusCode, nil
}

package harvest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"harvestsync/internal/shared/flexid"
)

const (
	DefaultBaseURL = "https://api.harvestapp.com/v2"
	defaultTimeout = 60 * time.Second
)

// APIClient handles communication with the Harvest v2 API
type APIClient struct {
	httpClient *http.Client
	baseURL    string
	userAgent  string
}

var _ ClientInterface = (*APIClient)(nil)

func NewClient(baseURL, userAgent string) *APIClient {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &APIClient{
		httpClient: &http.Client{
			Timeout:   defaultTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		baseURL:   strings.TrimRight(baseURL, "/"),
		userAgent: userAgent,
	}
}

type accountKey struct{}

// WithAccountID makes requests sent with ctx carry the Harvest-Account-Id header.
func WithAccountID(ctx context.Context, accountID string) context.Context {
	return context.WithValue(ctx, accountKey{}, accountID)
}

type errorResponse struct {
	Message          string `json:"message"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// rejection builds the Rejected error from a non-2xx body, preferring the
// ledger's message field over the raw body.
func rejection(op string, status int, body []byte) *Error {
	msg := strings.TrimSpace(string(body))
	var errResp errorResponse
	if err := json.Unmarshal(body, &errResp); err == nil {
		switch {
		case errResp.Message != "":
			msg = errResp.Message
		case errResp.ErrorDescription != "":
			msg = errResp.ErrorDescription
		case errResp.Error != "":
			msg = errResp.Error
		}
	}
	if msg == "" {
		msg = http.StatusText(status)
	}
	return &Error{Kind: Rejected, Op: op, Status: status, Message: msg}
}

// do sends one request. target is either a path under the base URL or an
// absolute URL taken from a links.next cursor.
func (c *APIClient) do(ctx context.Context, op, method, token, target string, payload, out any) error {
	if !strings.HasPrefix(target, "http://") && !strings.HasPrefix(target, "https://") {
		target = c.baseURL + target
	}

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal %s payload: %w", op, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if accountID, _ := ctx.Value(accountKey{}).(string); accountID != "" {
		req.Header.Set("Harvest-Account-Id", accountID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &Error{Kind: Unreachable, Op: op, Err: fmt.Errorf("failed to execute request: %w", err)}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &Error{Kind: Unreachable, Op: op, Err: fmt.Errorf("failed to read response body: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return rejection(op, resp.StatusCode, respBody)
	}

	if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to unmarshal %s response: %w", op, err)
	}
	return nil
}

type pageLinks struct {
	Next string `json:"next"`
}

// listPage fetches one page of a collection whose items live under key.
func listPage[T any](ctx context.Context, c *APIClient, op, token, cursor, path, key string, filter url.Values) (*Page[T], error) {
	target := cursor
	if target == "" {
		target = path
		if len(filter) > 0 {
			target += "?" + filter.Encode()
		}
	}

	var raw map[string]json.RawMessage
	if err := c.do(ctx, op, http.MethodGet, token, target, nil, &raw); err != nil {
		return nil, err
	}

	page := &Page[T]{}
	if items, ok := raw[key]; ok {
		if err := json.Unmarshal(items, &page.Items); err != nil {
			return nil, fmt.Errorf("failed to unmarshal %s: %w", key, err)
		}
	}
	if links, ok := raw["links"]; ok {
		var l pageLinks
		if err := json.Unmarshal(links, &l); err != nil {
			return nil, fmt.Errorf("failed to unmarshal links: %w", err)
		}
		page.NextPage = l.Next
	}
	return page, nil
}

func (c *APIClient) ListClients(ctx context.Context, token, cursor string) (*Page[Client], error) {
	return listPage[Client](ctx, c, "list clients", token, cursor, "/clients", "clients", nil)
}

func (c *APIClient) CreateClient(ctx context.Context, token string, payload map[string]any) (*Client, error) {
	var out Client
	if err := c.do(ctx, "create client", http.MethodPost, token, "/clients", payload, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *APIClient) UpdateClient(ctx context.Context, token, id string, payload map[string]any) (*Client, error) {
	var out Client
	if err := c.do(ctx, "update client", http.MethodPatch, token, "/clients/"+url.PathEscape(id), payload, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *APIClient) ListProjects(ctx context.Context, token, cursor string, filter url.Values) (*Page[Project], error) {
	return listPage[Project](ctx, c, "list projects", token, cursor, "/projects", "projects", filter)
}

func (c *APIClient) CreateProject(ctx context.Context, token string, payload map[string]any) (*Project, error) {
	var out Project
	if err := c.do(ctx, "create project", http.MethodPost, token, "/projects", payload, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *APIClient) UpdateProject(ctx context.Context, token, id string, payload map[string]any) (*Project, error) {
	var out Project
	if err := c.do(ctx, "update project", http.MethodPatch, token, "/projects/"+url.PathEscape(id), payload, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *APIClient) ListUsers(ctx context.Context, token, cursor string) (*Page[User], error) {
	return listPage[User](ctx, c, "list users", token, cursor, "/users", "users", nil)
}

func (c *APIClient) GetUser(ctx context.Context, token, id string) (*User, error) {
	var out User
	if err := c.do(ctx, "get user", http.MethodGet, token, "/users/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *APIClient) AssignUser(ctx context.Context, token, projectID, userID string) (*UserAssignment, error) {
	path := fmt.Sprintf("/projects/%s/user_assignments", url.PathEscape(projectID))
	payload := map[string]any{"user_id": flexid.ID(userID)}

	var out UserAssignment
	if err := c.do(ctx, "assign user", http.MethodPost, token, path, payload, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *APIClient) RemoveUserAssignment(ctx context.Context, token, projectID, assignmentID string) error {
	path := fmt.Sprintf("/projects/%s/user_assignments/%s", url.PathEscape(projectID), url.PathEscape(assignmentID))
	return c.do(ctx, "remove user assignment", http.MethodDelete, token, path, nil, nil)
}

func (c *APIClient) ListTasks(ctx context.Context, token, cursor string) (*Page[Task], error) {
	return listPage[Task](ctx, c, "list tasks", token, cursor, "/tasks", "tasks", nil)
}

func (c *APIClient) CreateTask(ctx context.Context, token string, payload map[string]any) (*Task, error) {
	var out Task
	if err := c.do(ctx, "create task", http.MethodPost, token, "/tasks", payload, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *APIClient) UpdateTask(ctx context.Context, token, id string, payload map[string]any) (*Task, error) {
	var out Task
	if err := c.do(ctx, "update task", http.MethodPatch, token, "/tasks/"+url.PathEscape(id), payload, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *APIClient) ListTaskAssignments(ctx context.Context, token, projectID, cursor string) (*Page[TaskAssignment], error) {
	path := fmt.Sprintf("/projects/%s/task_assignments", url.PathEscape(projectID))
	return listPage[TaskAssignment](ctx, c, "list task assignments", token, cursor, path, "task_assignments", nil)
}

// AssignTask merges options (billable, hourly_rate, budget, ...) into the
// assignment payload.
func (c *APIClient) AssignTask(ctx context.Context, token, projectID, taskID string, options map[string]any) (*TaskAssignment, error) {
	path := fmt.Sprintf("/projects/%s/task_assignments", url.PathEscape(projectID))
	payload := make(map[string]any, len(options)+1)
	for k, v := range options {
		payload[k] = v
	}
	payload["task_id"] = flexid.ID(taskID)

	var out TaskAssignment
	if err := c.do(ctx, "assign task", http.MethodPost, token, path, payload, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *APIClient) UpdateTaskAssignment(ctx context.Context, token, projectID, assignmentID string, options map[string]any) (*TaskAssignment, error) {
	path := fmt.Sprintf("/projects/%s/task_assignments/%s", url.PathEscape(projectID), url.PathEscape(assignmentID))
	if options == nil {
		options = map[string]any{}
	}

	var out TaskAssignment
	if err := c.do(ctx, "update task assignment", http.MethodPatch, token, path, options, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *APIClient) RemoveTaskAssignment(ctx context.Context, token, projectID, assignmentID string) error {
	path := fmt.Sprintf("/projects/%s/task_assignments/%s", url.PathEscape(projectID), url.PathEscape(assignmentID))
	return c.do(ctx, "remove task assignment", http.MethodDelete, token, path, nil, nil)
}

func (c *APIClient) ListTimeEntries(ctx context.Context, token, cursor string, filter url.Values) (*Page[TimeEntry], error) {
	return listPage[TimeEntry](ctx, c, "list time entries", token, cursor, "/time_entries", "time_entries", filter)
}

func (c *APIClient) ListExpenses(ctx context.Context, token, cursor string, filter url.Values) (*Page[Expense], error) {
	return listPage[Expense](ctx, c, "list expenses", token, cursor, "/expenses", "expenses", filter)
}

func (c *APIClient) CreateExpense(ctx context.Context, token string, payload map[string]any) (*Expense, error) {
	var out Expense
	if err := c.do(ctx, "create expense", http.MethodPost, token, "/expenses", payload, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *APIClient) UpdateExpense(ctx context.Context, token, id string, payload map[string]any) (*Expense, error) {
	var out Expense
	if err := c.do(ctx, "update expense", http.MethodPatch, token, "/expenses/"+url.PathEscape(id), payload, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *APIClient) ListExpenseCategories(ctx context.Context, token, cursor string) (*Page[ExpenseCategory], error) {
	return listPage[ExpenseCategory](ctx, c, "list expense categories", token, cursor, "/expense_categories", "expense_categories", nil)
}

// DownloadReceipt fetches an expense receipt. Receipt URLs are absolute and
// require the same bearer token as the API.
func (c *APIClient) DownloadReceipt(ctx context.Context, token, receiptURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, receiptURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &Error{Kind: Unreachable, Op: "download receipt", Err: fmt.Errorf("failed to execute request: %w", err)}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Kind: Unreachable, Op: "download receipt", Err: fmt.Errorf("failed to read response body: %w", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, rejection("download receipt", resp.StatusCode, data)
	}
	return data, nil
}

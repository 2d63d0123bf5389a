package monday

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"regexp"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	DefaultAPIURL  = "https://api.monday.com/v2"
	DefaultFileURL = "https://api.monday.com/v2/file"
	apiVersion     = "2024-10"
	defaultTimeout = 60 * time.Second

	maxRetries      = 2
	retryDelay      = time.Second
	complexityDelay = 60 * time.Second
)

// complexityMessage marks a transient per-minute complexity rejection. It is
// waited out without spending the retry budget.
var complexityMessage = regexp.MustCompile(`Query has complexity of \d+`)

// ClientInterface defines the board operations the engine uses.
type ClientInterface interface {
	Execute(ctx context.Context, token, query string, variables map[string]any) (json.RawMessage, error)
	ItemColumnValues(ctx context.Context, token, itemID string, columnIDs ...string) (*Item, error)
	Users(ctx context.Context, token string) ([]User, error)
	BoardColumns(ctx context.Context, token, boardID string) ([]Column, error)
	Column(ctx context.Context, token, boardID, columnID string) (*Column, error)
	CreateItem(ctx context.Context, token, boardID, groupID, name string, columnValues map[string]any) (string, error)
	ChangeColumnValues(ctx context.Context, token, boardID, itemID string, columnValues map[string]any) error
	UploadFile(ctx context.Context, token, itemID, columnID, fileName string, content []byte) error
}

// Client executes GraphQL requests against the board API
type Client struct {
	httpClient *http.Client
	apiURL     string
	fileURL    string
	sleep      func(ctx context.Context, d time.Duration) error
}

var _ ClientInterface = (*Client)(nil)

func NewClient(apiURL, fileURL string) *Client {
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}
	if fileURL == "" {
		fileURL = DefaultFileURL
	}
	return &Client{
		httpClient: &http.Client{
			Timeout:   defaultTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		apiURL:  apiURL,
		fileURL: fileURL,
		sleep:   sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type gqlError struct {
	Message    string `json:"message"`
	Extensions struct {
		Code string `json:"code"`
	} `json:"extensions"`
}

type gqlResponse struct {
	Data         json.RawMessage `json:"data"`
	Errors       []gqlError      `json:"errors"`
	ErrorMessage string          `json:"error_message"`
	ErrorCode    string          `json:"error_code"`
}

// attempt is the classified outcome of one round trip.
type attempt struct {
	data    json.RawMessage
	status  int
	code    string
	message string
	failed  bool
}

func (c *Client) send(ctx context.Context, token, query string, variables map[string]any) attempt {
	payload := map[string]any{"query": query}
	if len(variables) > 0 {
		payload["variables"] = variables
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return attempt{failed: true, message: fmt.Sprintf("failed to marshal request: %v", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(body))
	if err != nil {
		return attempt{failed: true, message: fmt.Sprintf("failed to create request: %v", err)}
	}
	req.Header.Set("Authorization", token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("API-Version", apiVersion)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return attempt{failed: true, message: fmt.Sprintf("failed to execute request: %v", err)}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return attempt{failed: true, status: resp.StatusCode, message: fmt.Sprintf("failed to read response body: %v", err)}
	}

	var gql gqlResponse
	decodeErr := json.Unmarshal(respBody, &gql)

	a := attempt{status: resp.StatusCode}
	switch {
	case len(gql.Errors) > 0:
		a.failed = true
		a.message = gql.Errors[0].Message
		a.code = gql.Errors[0].Extensions.Code
	case gql.ErrorMessage != "":
		a.failed = true
		a.message = gql.ErrorMessage
		a.code = gql.ErrorCode
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		a.failed = true
		a.message = strings.TrimSpace(string(respBody))
		if a.message == "" {
			a.message = http.StatusText(resp.StatusCode)
		}
	case decodeErr != nil:
		a.failed = true
		a.message = fmt.Sprintf("failed to unmarshal response: %v", decodeErr)
	default:
		a.data = gql.Data
	}
	return a
}

// Execute runs one query. Authentication failures and complexity-budget
// errors return at once; a "Query has complexity of" rejection waits a
// minute and does not count against the retry budget; every other error is
// retried after a second, at most maxRetries times.
func (c *Client) Execute(ctx context.Context, token, query string, variables map[string]any) (json.RawMessage, error) {
	retries := 0
	for {
		a := c.send(ctx, token, query, variables)
		if !a.failed {
			return a.data, nil
		}

		if a.status == http.StatusUnauthorized || a.message == "Not Authenticated" {
			return nil, ErrNotAuthenticated
		}
		if complexityCodes[a.code] {
			return nil, &complexityError{code: a.code, message: a.message}
		}

		delay := retryDelay
		if complexityMessage.MatchString(a.message) {
			delay = complexityDelay
			log.Printf("monday: complexity rejection, waiting %s: %s", delay, a.message)
		} else {
			if retries >= maxRetries {
				return nil, &APIError{Status: a.status, Code: a.code, Message: a.message}
			}
			retries++
			log.Printf("monday: request failed (retry %d/%d): %s", retries, maxRetries, a.message)
		}

		if err := c.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
}

func (c *Client) executeInto(ctx context.Context, token, query string, variables map[string]any, out any) error {
	data, err := c.Execute(ctx, token, query, variables)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to unmarshal board response: %w", err)
	}
	return nil
}

const itemColumnValuesQuery = `query ($ids: [ID!], $columns: [String!]) {
	items(ids: $ids) {
		id
		name
		column_values(ids: $columns) {
			id
			value
			text
			... on BoardRelationValue {
				linked_items { id name board { id } }
			}
		}
		subitems { id name board { id } }
	}
}`

// ItemColumnValues loads an item with the given columns, resolving
// board-relation values to their linked items. It returns nil when the
// item does not exist.
func (c *Client) ItemColumnValues(ctx context.Context, token, itemID string, columnIDs ...string) (*Item, error) {
	var out struct {
		Items []Item `json:"items"`
	}
	vars := map[string]any{"ids": []string{itemID}, "columns": columnIDs}
	if err := c.executeInto(ctx, token, itemColumnValuesQuery, vars, &out); err != nil {
		return nil, err
	}
	if len(out.Items) == 0 {
		return nil, nil
	}
	return &out.Items[0], nil
}

func (c *Client) Users(ctx context.Context, token string) ([]User, error) {
	var out struct {
		Users []User `json:"users"`
	}
	if err := c.executeInto(ctx, token, `query { users(limit: 500) { id name email } }`, nil, &out); err != nil {
		return nil, err
	}
	return out.Users, nil
}

const boardColumnsQuery = `query ($ids: [ID!], $columns: [String]) {
	boards(ids: $ids) {
		columns(ids: $columns) { id title type settings_str }
	}
}`

func (c *Client) columns(ctx context.Context, token, boardID string, columnIDs []string) ([]Column, error) {
	var out struct {
		Boards []struct {
			Columns []Column `json:"columns"`
		} `json:"boards"`
	}
	vars := map[string]any{"ids": []string{boardID}}
	if len(columnIDs) > 0 {
		vars["columns"] = columnIDs
	}
	if err := c.executeInto(ctx, token, boardColumnsQuery, vars, &out); err != nil {
		return nil, err
	}
	if len(out.Boards) == 0 {
		return nil, nil
	}
	return out.Boards[0].Columns, nil
}

func (c *Client) BoardColumns(ctx context.Context, token, boardID string) ([]Column, error) {
	return c.columns(ctx, token, boardID, nil)
}

// Column returns nil when the board has no such column.
func (c *Client) Column(ctx context.Context, token, boardID, columnID string) (*Column, error) {
	cols, err := c.columns(ctx, token, boardID, []string{columnID})
	if err != nil {
		return nil, err
	}
	for i := range cols {
		if cols[i].ID == columnID {
			return &cols[i], nil
		}
	}
	return nil, nil
}

const createItemMutation = `mutation ($boardId: ID!, $groupId: String, $itemName: String!, $columnValues: JSON!) {
	create_item(board_id: $boardId, group_id: $groupId, item_name: $itemName, column_values: $columnValues, create_labels_if_missing: true) {
		id
	}
}`

// CreateItem creates an item and returns its id. An empty groupID puts the
// item in the board's top group.
func (c *Client) CreateItem(ctx context.Context, token, boardID, groupID, name string, columnValues map[string]any) (string, error) {
	values, err := encodeColumnValues(columnValues)
	if err != nil {
		return "", err
	}

	vars := map[string]any{
		"boardId":      boardID,
		"itemName":     name,
		"columnValues": values,
	}
	if groupID != "" {
		vars["groupId"] = groupID
	}

	var out struct {
		CreateItem struct {
			ID string `json:"id"`
		} `json:"create_item"`
	}
	if err := c.executeInto(ctx, token, createItemMutation, vars, &out); err != nil {
		return "", err
	}
	return out.CreateItem.ID, nil
}

const changeColumnValuesMutation = `mutation ($boardId: ID!, $itemId: ID!, $columnValues: JSON!) {
	change_multiple_column_values(board_id: $boardId, item_id: $itemId, column_values: $columnValues, create_labels_if_missing: true) {
		id
	}
}`

func (c *Client) ChangeColumnValues(ctx context.Context, token, boardID, itemID string, columnValues map[string]any) error {
	values, err := encodeColumnValues(columnValues)
	if err != nil {
		return err
	}
	vars := map[string]any{
		"boardId":      boardID,
		"itemId":       itemID,
		"columnValues": values,
	}
	_, err = c.Execute(ctx, token, changeColumnValuesMutation, vars)
	return err
}

// encodeColumnValues renders column values as the JSON string the JSON!
// scalar expects.
func encodeColumnValues(values map[string]any) (string, error) {
	if values == nil {
		values = map[string]any{}
	}
	data, err := json.Marshal(values)
	if err != nil {
		return "", fmt.Errorf("failed to encode column values: %w", err)
	}
	return string(data), nil
}

// UploadFile attaches content to a file column. Uploads are sent once.
func (c *Client) UploadFile(ctx context.Context, token, itemID, columnID, fileName string, content []byte) error {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	query := fmt.Sprintf(`mutation ($file: File!) { add_file_to_column(file: $file, item_id: %s, column_id: %q) { id } }`,
		jsonID(itemID), columnID)
	if err := w.WriteField("query", query); err != nil {
		return fmt.Errorf("failed to write query field: %w", err)
	}
	part, err := w.CreateFormFile("variables[file]", fileName)
	if err != nil {
		return fmt.Errorf("failed to create file part: %w", err)
	}
	if _, err := part.Write(content); err != nil {
		return fmt.Errorf("failed to write file part: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to finish multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.fileURL, &buf)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", token)
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("API-Version", apiVersion)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return ErrNotAuthenticated
	}

	var gql gqlResponse
	_ = json.Unmarshal(body, &gql)
	switch {
	case len(gql.Errors) > 0:
		return &APIError{Status: resp.StatusCode, Code: gql.Errors[0].Extensions.Code, Message: gql.Errors[0].Message}
	case gql.ErrorMessage != "":
		return &APIError{Status: resp.StatusCode, Code: gql.ErrorCode, Message: gql.ErrorMessage}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}
	return nil
}

// jsonID renders an item id for inline use in a query. Only digits are
// accepted verbatim; anything else is quoted.
func jsonID(id string) string {
	for _, r := range id {
		if r < '0' || r > '9' {
			b, _ := json.Marshal(id)
			return string(b)
		}
	}
	if id == "" {
		return `""`
	}
	return id
}

// IsComplexity reports whether err is a complexity-budget rejection.
func IsComplexity(err error) bool {
	return errors.Is(err, ErrComplexityExceeded)
}

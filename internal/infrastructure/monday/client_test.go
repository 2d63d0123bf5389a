package monday

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

// newTestClient returns a client pointed at handler whose sleeps are
// recorded instead of taken.
func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *[]time.Duration) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	c := NewClient(server.URL, server.URL+"/file")
	var slept []time.Duration
	c.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return ctx.Err()
	}
	return c, &slept
}

func TestExecuteRetryRules(t *testing.T) {
	tests := []struct {
		name      string
		responses []string
		status    int
		wantCalls int32
		wantSleep []time.Duration
		check     func(t *testing.T, err error)
	}{
		{
			name:      "success",
			responses: []string{`{"data":{"me":{"id":1}}}`},
			wantCalls: 1,
		},
		{
			name:      "complexity code is returned without retry",
			responses: []string{`{"errors":[{"message":"budget","extensions":{"code":"COMPLEXITY_BUDGET_EXHAUSTED"}}]}`},
			wantCalls: 1,
			check: func(t *testing.T, err error) {
				if !IsComplexity(err) {
					t.Errorf("error = %v, want complexity", err)
				}
			},
		},
		{
			name:      "top level complexity exception",
			responses: []string{`{"error_code":"ComplexityException","error_message":"Complexity budget exhausted"}`},
			wantCalls: 1,
			check: func(t *testing.T, err error) {
				if !errors.Is(err, ErrComplexityExceeded) {
					t.Errorf("error = %v", err)
				}
			},
		},
		{
			name:      "not authenticated",
			responses: []string{`{"errors":[{"message":"Not Authenticated"}]}`},
			wantCalls: 1,
			check: func(t *testing.T, err error) {
				if !errors.Is(err, ErrNotAuthenticated) {
					t.Errorf("error = %v", err)
				}
			},
		},
		{
			name:      "http 401",
			status:    http.StatusUnauthorized,
			responses: []string{`{}`},
			wantCalls: 1,
			check: func(t *testing.T, err error) {
				if !errors.Is(err, ErrNotAuthenticated) {
					t.Errorf("error = %v", err)
				}
			},
		},
		{
			name: "ordinary errors exhaust two retries",
			responses: []string{
				`{"errors":[{"message":"boom 1"}]}`,
				`{"errors":[{"message":"boom 2"}]}`,
				`{"error_message":"boom 3"}`,
			},
			wantCalls: 3,
			wantSleep: []time.Duration{retryDelay, retryDelay},
			check: func(t *testing.T, err error) {
				var apiErr *APIError
				if !errors.As(err, &apiErr) || apiErr.Message != "boom 3" {
					t.Errorf("error = %v, want last error", err)
				}
			},
		},
		{
			name: "complexity per minute wait is not counted",
			responses: []string{
				`{"errors":[{"message":"Query has complexity of 12000, which exceeds max complexity of 10000"}]}`,
				`{"errors":[{"message":"transient"}]}`,
				`{"error_message":"Query has complexity of 900, reset in 20 seconds"}`,
				`{"errors":[{"message":"transient"}]}`,
				`{"data":{"ok":true}}`,
			},
			wantCalls: 5,
			wantSleep: []time.Duration{complexityDelay, retryDelay, complexityDelay, retryDelay},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls int32
			c, slept := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				n := atomic.AddInt32(&calls, 1)
				if tt.status != 0 {
					w.WriteHeader(tt.status)
				}
				idx := int(n) - 1
				if idx >= len(tt.responses) {
					idx = len(tt.responses) - 1
				}
				fmt.Fprint(w, tt.responses[idx])
			})

			_, err := c.Execute(context.Background(), "tok", "query { me { id } }", nil)
			if tt.check != nil {
				tt.check(t, err)
			} else if err != nil {
				t.Fatalf("Execute() error = %v", err)
			}

			if got := atomic.LoadInt32(&calls); got != tt.wantCalls {
				t.Errorf("calls = %d, want %d", got, tt.wantCalls)
			}
			if len(*slept) != len(tt.wantSleep) {
				t.Fatalf("sleeps = %v, want %v", *slept, tt.wantSleep)
			}
			for i := range tt.wantSleep {
				if (*slept)[i] != tt.wantSleep[i] {
					t.Errorf("sleep[%d] = %v, want %v", i, (*slept)[i], tt.wantSleep[i])
				}
			}
		})
	}
}

func TestExecuteHonoursCancellation(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"errors":[{"message":"boom"}]}`)
	})
	c.sleep = sleepContext

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Execute(ctx, "tok", "query { me { id } }", nil)
	if err == nil {
		t.Fatal("expected an error from a cancelled context")
	}
}

func TestItemColumnValues(t *testing.T) {
	var req struct {
		Query     string         `json:"query"`
		Variables map[string]any `json:"variables"`
	}
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "tok" {
			t.Errorf("Authorization = %q", r.Header.Get("Authorization"))
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		fmt.Fprint(w, `{"data":{"items":[{"id":"11","name":"Project A",
			"column_values":[{"id":"connect","value":"{}","text":"Acme","linked_items":[{"id":"21","name":"Acme","board":{"id":"31"}}]}],
			"subitems":[{"id":"41","name":"Design","board":{"id":"51"}}]}]}}`)
	})

	item, err := c.ItemColumnValues(context.Background(), "tok", "11", "connect")
	if err != nil {
		t.Fatalf("ItemColumnValues() error = %v", err)
	}
	linked, ok := item.FirstLinkedItem()
	if !ok || linked.ID != "21" || linked.Board.ID != "31" {
		t.Errorf("linked = %+v", linked)
	}
	if len(item.Subitems) != 1 || item.Subitems[0].Board.ID != "51" {
		t.Errorf("subitems = %+v", item.Subitems)
	}
	if cols, _ := req.Variables["columns"].([]any); len(cols) != 1 || cols[0] != "connect" {
		t.Errorf("variables = %v", req.Variables)
	}
}

func TestChangeColumnValuesEncodesJSON(t *testing.T) {
	var req struct {
		Variables map[string]any `json:"variables"`
	}
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&req)
		fmt.Fprint(w, `{"data":{"change_multiple_column_values":{"id":"1"}}}`)
	})

	err := c.ChangeColumnValues(context.Background(), "tok", "5", "6", map[string]any{"status": map[string]any{"label": "Done"}})
	if err != nil {
		t.Fatalf("ChangeColumnValues() error = %v", err)
	}
	if req.Variables["columnValues"] != `{"status":{"label":"Done"}}` {
		t.Errorf("columnValues = %v", req.Variables["columnValues"])
	}
}

func TestColumnSettings(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":{"boards":[{"columns":[{"id":"task","title":"Task","type":"board_relation","settings_str":"{\"boardIds\":[123,456]}"}]}]}}`)
	})

	col, err := c.Column(context.Background(), "tok", "9", "task")
	if err != nil || col == nil {
		t.Fatalf("Column() = %v, %v", col, err)
	}
	s, err := col.Settings()
	if err != nil {
		t.Fatalf("Settings() error = %v", err)
	}
	if len(s.BoardIDs) != 2 || s.BoardIDs[1] != "456" {
		t.Errorf("BoardIDs = %v", s.BoardIDs)
	}
}

func TestUploadFileIsNotRetried(t *testing.T) {
	var calls int32
	var gotQuery, gotName, gotContent string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("ParseMultipartForm: %v", err)
			return
		}
		gotQuery = r.FormValue("query")
		f, hdr, err := r.FormFile("variables[file]")
		if err != nil {
			t.Errorf("FormFile: %v", err)
			return
		}
		data, _ := io.ReadAll(f)
		gotName, gotContent = hdr.Filename, string(data)
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"error_message":"upload failed"}`)
	}))
	defer server.Close()

	c := NewClient(server.URL, server.URL)
	err := c.UploadFile(context.Background(), "tok", "77", "files", "receipt.pdf", []byte("%PDF"))

	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Message != "upload failed" {
		t.Fatalf("error = %v", err)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if !strings.Contains(gotQuery, `item_id: 77`) || !strings.Contains(gotQuery, `column_id: "files"`) {
		t.Errorf("query = %s", gotQuery)
	}
	if gotName != "receipt.pdf" || gotContent != "%PDF" {
		t.Errorf("file = %s %q", gotName, gotContent)
	}
}

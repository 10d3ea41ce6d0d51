// Package taskapi is the HTTP client for the external to-do service the
// dashboard aggregates. The service scopes completed-task queries by epoch
// range and pages results.
package taskapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const (
	// DefaultPageSize matches the server's maximum page size.
	DefaultPageSize = 1000

	// DefaultTimeout bounds the heaviest aggregation fetches.
	DefaultTimeout = 25 * time.Second

	// maxPages is the hard termination bound for a single year's
	// pagination loop, independent of the server-reported total.
	maxPages = 50

	taskFields = "folder,priority,added,repeat,duedate"
)

// Task is one record from the task service. Epoch fields are seconds;
// zero means absent.
type Task struct {
	ID        int64  `json:"id"`
	Title     string `json:"title"`
	Completed int64  `json:"completed"`
	Added     int64  `json:"added"`
	Folder    int64  `json:"folder"`
	Priority  int    `json:"priority"`
	Repeat    string `json:"repeat"`
	DueDate   int64  `json:"duedate"`
}

// Recurring reports whether the task carries a recurrence descriptor.
func (t Task) Recurring() bool {
	return t.Repeat != "" && t.Repeat != "None"
}

// Folder is one entry from the folder listing.
type Folder struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Config holds client settings.
type Config struct {
	BaseURL     string        `toml:"base_url"`
	AccessToken string        `toml:"access_token"`
	PageSize    int           `toml:"page_size"`
	Timeout     time.Duration `toml:"timeout"`
}

// Client talks to the task service. All failures propagate to the caller;
// the client performs no retries.
type Client struct {
	baseURL  string
	token    string
	pageSize int
	http     *http.Client
}

// New creates a client with defaults applied for unset config fields.
func New(cfg Config) *Client {
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL:  cfg.BaseURL,
		token:    cfg.AccessToken,
		pageSize: pageSize,
		http:     &http.Client{Timeout: timeout},
	}
}

// Folders fetches the folder-id-to-name listing.
func (c *Client) Folders(ctx context.Context) ([]Folder, error) {
	q := url.Values{}
	q.Set("access_token", c.token)

	var folders []Folder
	if err := c.getJSON(ctx, "/folders", q, &folders); err != nil {
		return nil, fmt.Errorf("fetch folders: %w", err)
	}
	return folders, nil
}

// CompletedInYear fetches every task completed during the given calendar
// year (UTC), walking pages until a short page, the server-reported total,
// or the hard page cap ends the loop.
func (c *Client) CompletedInYear(ctx context.Context, year int) ([]Task, error) {
	after := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC).Unix()
	before := time.Date(year+1, time.January, 1, 0, 0, 0, 0, time.UTC).Unix()

	var all []Task
	total := -1
	for page := 0; page < maxPages; page++ {
		q := url.Values{}
		q.Set("access_token", c.token)
		q.Set("fields", taskFields)
		q.Set("comp", "1")
		q.Set("after", strconv.FormatInt(after, 10))
		q.Set("before", strconv.FormatInt(before, 10))
		q.Set("start", strconv.Itoa(len(all)))
		q.Set("num", strconv.Itoa(c.pageSize))

		var raw []json.RawMessage
		if err := c.getJSON(ctx, "/tasks", q, &raw); err != nil {
			return nil, fmt.Errorf("fetch tasks year %d page %d: %w", year, page, err)
		}

		tasks, pageTotal, err := decodePage(raw)
		if err != nil {
			return nil, fmt.Errorf("decode tasks year %d page %d: %w", year, page, err)
		}
		if pageTotal >= 0 {
			total = pageTotal
		}
		all = append(all, tasks...)

		// The short-page signal is the primary terminator; the reported
		// total is advisory only.
		if len(tasks) < c.pageSize {
			break
		}
		if total >= 0 && len(all) >= total {
			break
		}
	}
	return all, nil
}

// decodePage splits a response page into task records and the optional
// leading {num,total} metadata element. It returns total = -1 when the
// page carried no metadata.
func decodePage(raw []json.RawMessage) ([]Task, int, error) {
	total := -1
	tasks := make([]Task, 0, len(raw))
	for i, msg := range raw {
		if i == 0 {
			var meta struct {
				ID    *int64 `json:"id"`
				Total *int   `json:"total"`
			}
			if err := json.Unmarshal(msg, &meta); err == nil && meta.ID == nil && meta.Total != nil {
				total = *meta.Total
				continue
			}
		}
		var task Task
		if err := json.Unmarshal(msg, &task); err != nil {
			return nil, total, fmt.Errorf("element %d: %w", i, err)
		}
		tasks = append(tasks, task)
	}
	return tasks, total, nil
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+query.Encode(), nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, body)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

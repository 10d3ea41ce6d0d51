package taskapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pagedServer serves /tasks pages of the given sizes regardless of the
// requested range, prepending {num,total} metadata to the first page.
func pagedServer(t *testing.T, pageSizes []int, reportedTotal int) (*httptest.Server, *int) {
	t.Helper()
	requests := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/tasks":
			page := requests
			requests++
			if page >= len(pageSizes) {
				http.Error(w, "more page requests than expected", http.StatusInternalServerError)
				return
			}

			start, _ := strconv.Atoi(r.URL.Query().Get("start"))
			elements := make([]any, 0, pageSizes[page]+1)
			if page == 0 {
				elements = append(elements, map[string]int{"num": pageSizes[page], "total": reportedTotal})
			}
			for i := 0; i < pageSizes[page]; i++ {
				elements = append(elements, Task{
					ID:        int64(start + i + 1),
					Completed: 1700000000,
				})
			}
			json.NewEncoder(w).Encode(elements)
		case "/folders":
			json.NewEncoder(w).Encode([]Folder{{ID: 1, Name: "Inbox"}, {ID: 2, Name: "Work"}})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(server.Close)
	return server, &requests
}

func TestPaginationTerminatesOnShortPage(t *testing.T) {
	// The server claims a total that is never reached; the short third
	// page must end the loop anyway.
	server, requests := pagedServer(t, []int{1000, 1000, 37}, 999999)
	client := New(Config{BaseURL: server.URL, AccessToken: "tok", PageSize: 1000})

	tasks, err := client.CompletedInYear(context.Background(), 2023)
	require.NoError(t, err)
	assert.Len(t, tasks, 2037)
	assert.Equal(t, 3, *requests)
}

func TestPaginationHonorsAdvisoryTotal(t *testing.T) {
	// Two full pages and an honest total stop the loop without a third
	// request.
	server, requests := pagedServer(t, []int{1000, 1000}, 2000)
	client := New(Config{BaseURL: server.URL, AccessToken: "tok", PageSize: 1000})

	tasks, err := client.CompletedInYear(context.Background(), 2023)
	require.NoError(t, err)
	assert.Len(t, tasks, 2000)
	assert.Equal(t, 2, *requests)
}

func TestMetadataElementStripped(t *testing.T) {
	server, _ := pagedServer(t, []int{3}, 3)
	client := New(Config{BaseURL: server.URL, AccessToken: "tok", PageSize: 1000})

	tasks, err := client.CompletedInYear(context.Background(), 2023)
	require.NoError(t, err)
	require.Len(t, tasks, 3)
	assert.Equal(t, int64(1), tasks[0].ID)
}

func TestBarePageWithoutMetadata(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]Task{
			{ID: 7, Completed: 1700000000, Repeat: "Every 1 week"},
		})
	}))
	defer server.Close()

	client := New(Config{BaseURL: server.URL, PageSize: 1000})
	tasks, err := client.CompletedInYear(context.Background(), 2023)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, int64(7), tasks[0].ID)
	assert.True(t, tasks[0].Recurring())
}

func TestYearRangeInQuery(t *testing.T) {
	var after, before, comp string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		after = r.URL.Query().Get("after")
		before = r.URL.Query().Get("before")
		comp = r.URL.Query().Get("comp")
		fmt.Fprint(w, "[]")
	}))
	defer server.Close()

	client := New(Config{BaseURL: server.URL})
	_, err := client.CompletedInYear(context.Background(), 2023)
	require.NoError(t, err)

	assert.Equal(t, "1672531200", after, "2023-01-01 UTC")
	assert.Equal(t, "1704067200", before, "2024-01-01 UTC")
	assert.Equal(t, "1", comp)
}

func TestErrorStatusPropagates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := New(Config{BaseURL: server.URL})

	_, err := client.CompletedInYear(context.Background(), 2023)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")

	_, err = client.Folders(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestFolders(t *testing.T) {
	server, _ := pagedServer(t, nil, 0)
	client := New(Config{BaseURL: server.URL, AccessToken: "tok"})

	folders, err := client.Folders(context.Background())
	require.NoError(t, err)
	require.Len(t, folders, 2)
	assert.Equal(t, "Inbox", folders[0].Name)
}

func TestRecurring(t *testing.T) {
	assert.False(t, Task{}.Recurring())
	assert.False(t, Task{Repeat: "None"}.Recurring())
	assert.True(t, Task{Repeat: "Every 2 week(s)"}.Recurring())
}

func TestRecurringRecordsDecoded(t *testing.T) {
	var fields string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fields = r.URL.Query().Get("fields")
		json.NewEncoder(w).Encode([]any{
			map[string]any{"num": 1, "total": 1},
			map[string]any{"id": 5, "title": "water plants", "completed": 1690000000, "added": 1680000000, "folder": 3, "priority": 2, "repeat": "Every 1 week"},
		})
	}))
	defer server.Close()

	client := New(Config{BaseURL: server.URL})
	tasks, err := client.CompletedInYear(context.Background(), 2023)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "water plants", tasks[0].Title)
	assert.Equal(t, 2, tasks[0].Priority)
	assert.Contains(t, fields, "repeat")
}

package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shelfbot/internal/catalog"
	"shelfbot/internal/eventbus"
	"shelfbot/internal/fleet"
	"shelfbot/internal/fleet/engine"
	"shelfbot/internal/metrics"
	logx "shelfbot/pkg/logx"
)

func newTestServer(t *testing.T) (*httptest.Server, *engine.Service, *catalog.Catalog) {
	t.Helper()
	eng := engine.New(engine.Config{
		TickInterval:       time.Second,
		ChargeStep:         10,
		ChargeStepInterval: time.Millisecond,
		ShutdownTimeout:    time.Second,
	}, logx.Nop(), eventbus.New())
	require.NoError(t, eng.Start(context.Background()))
	cat := catalog.New(catalog.Config{TimeScale: 0.001}, logx.Nop())

	reg := metrics.NewRegistry(eng)
	ts := httptest.NewServer(NewRouter(Deps{
		Engine:           eng,
		Catalog:          cat,
		Metrics:          promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		Log:              logx.Nop(),
		BatteryThreshold: 15,
		Profiler:         true,
	}))
	t.Cleanup(func() {
		ts.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = eng.Stop(ctx)
	})
	return ts, eng, cat
}

func do(t *testing.T, ts *httptest.Server, method, path string, body any, out any) int {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, ts.URL+path, rd)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestFetchFlow(t *testing.T) {
	ts, eng, cat := newTestServer(t)

	var ri engine.RobotInfo
	require.Equal(t, http.StatusCreated, do(t, ts, http.MethodPost, "/api/v1/robots", map[string]any{"id": "R1"}, &ri))
	assert.Equal(t, "R1", ri.ID)
	assert.Equal(t, 15.0, ri.Threshold)
	assert.Equal(t, engine.MemberAvailable, ri.Membership)

	require.Equal(t, http.StatusCreated, do(t, ts, http.MethodPost, "/api/v1/stations", map[string]any{"id": "S1", "slots": 1}, nil))
	require.Equal(t, http.StatusCreated, do(t, ts, http.MethodPost, "/api/v1/shelves",
		catalog.ShelfSpec{ID: "F1", Name: "Fiction", Category: "fiction", Distance: 20}, nil))

	var book catalog.Book
	require.Equal(t, http.StatusCreated, do(t, ts, http.MethodPost, "/api/v1/books",
		catalog.BookSpec{Title: "Dune", Author: "Herbert", Category: "fiction"}, &book))
	assert.Equal(t, "F1", book.ShelfID)

	var info fleet.Info
	require.Equal(t, http.StatusAccepted, do(t, ts, http.MethodPost, "/api/v1/tasks/fetch", map[string]string{"book_id": book.ID}, &info))
	assert.True(t, strings.HasPrefix(info.ID, "fetch-"))
	assert.Equal(t, 10.0, info.BatteryRequired)

	require.NoError(t, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return eng.WaitIdle(ctx)
	}())

	got, ok := cat.Book(book.ID)
	require.True(t, ok)
	assert.Equal(t, catalog.BookTaken, got.Status)

	var item struct {
		Status  fleet.Status `json:"status"`
		RobotID string       `json:"robot_id"`
	}
	require.Equal(t, http.StatusOK, do(t, ts, http.MethodGet, "/api/v1/tasks/"+info.ID, nil, &item))
	assert.Equal(t, fleet.StatusCompleted, item.Status)
	assert.Equal(t, "R1", item.RobotID)

	var snap engine.Snapshot
	require.Equal(t, http.StatusOK, do(t, ts, http.MethodGet, "/api/v1/status", nil, &snap))
	assert.Equal(t, uint64(1), snap.Completed)
	assert.Equal(t, 1, snap.Available)
	assert.Equal(t, 1, snap.TotalSlots)

	// Return it to the shelf.
	require.Equal(t, http.StatusAccepted, do(t, ts, http.MethodPost, "/api/v1/tasks/return", map[string]string{"book_id": book.ID}, &info))
	assert.True(t, strings.HasPrefix(info.ID, "return-"))
	require.Eventually(t, func() bool {
		b, _ := cat.Book(book.ID)
		return b.Status == catalog.BookAvailable && b.ShelfID == "F1"
	}, 5*time.Second, 5*time.Millisecond)
}

func TestErrorMapping(t *testing.T) {
	ts, _, cat := newTestServer(t)

	assert.Equal(t, http.StatusCreated, do(t, ts, http.MethodPost, "/api/v1/robots", map[string]any{"id": "R1"}, nil))
	assert.Equal(t, http.StatusConflict, do(t, ts, http.MethodPost, "/api/v1/robots", map[string]any{"id": "R1"}, nil))
	assert.Equal(t, http.StatusBadRequest, do(t, ts, http.MethodPost, "/api/v1/robots", map[string]any{"id": ""}, nil))
	assert.Equal(t, http.StatusBadRequest, do(t, ts, http.MethodPost, "/api/v1/robots", map[string]any{"id": "R2", "battery": 140}, nil))
	assert.Equal(t, http.StatusBadRequest, do(t, ts, http.MethodPost, "/api/v1/robots", map[string]any{"bogus": 1}, nil))
	assert.Equal(t, http.StatusConflict, do(t, ts, http.MethodPost, "/api/v1/robots/R1/recharge", nil, nil))
	assert.Equal(t, http.StatusNotFound, do(t, ts, http.MethodPost, "/api/v1/robots/nope/recharge", nil, nil))
	assert.Equal(t, http.StatusBadRequest, do(t, ts, http.MethodPost, "/api/v1/stations", map[string]any{"id": "S1", "slots": 0}, nil))

	assert.Equal(t, http.StatusNotFound, do(t, ts, http.MethodGet, "/api/v1/tasks/missing", nil, nil))
	assert.Equal(t, http.StatusNotFound, do(t, ts, http.MethodPost, "/api/v1/tasks/fetch", map[string]string{"book_id": "BOOK-9"}, nil))
	assert.Equal(t, http.StatusConflict, do(t, ts, http.MethodPost, "/api/v1/books",
		catalog.BookSpec{Title: "Cosmos", Author: "Sagan", Category: "science"}, nil))

	_, err := cat.AddShelf(catalog.ShelfSpec{ID: "S", Category: "science"})
	require.NoError(t, err)
	b, err := cat.AddBook(catalog.BookSpec{Title: "Cosmos", Author: "Sagan", Category: "science"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusConflict, do(t, ts, http.MethodPost, "/api/v1/tasks/return", map[string]string{"book_id": b.ID}, nil))

	var body map[string]any
	assert.Equal(t, http.StatusNotFound, do(t, ts, http.MethodGet, "/v2/status", nil, &body))
	assert.Equal(t, "not_found", body["error"])
}

func TestRemoveBook(t *testing.T) {
	ts, _, cat := newTestServer(t)
	_, err := cat.AddShelf(catalog.ShelfSpec{ID: "S", Category: "science"})
	require.NoError(t, err)
	b, err := cat.AddBook(catalog.BookSpec{Title: "Cosmos", Author: "Sagan", Category: "science"})
	require.NoError(t, err)
	kept, err := cat.AddBook(catalog.BookSpec{Title: "Contact", Author: "Sagan", Category: "science"})
	require.NoError(t, err)
	_, err = cat.FetchTask(kept.ID)
	require.NoError(t, err)

	assert.Equal(t, http.StatusNoContent, do(t, ts, http.MethodDelete, "/api/v1/books/"+b.ID, nil, nil))
	assert.Equal(t, http.StatusNotFound, do(t, ts, http.MethodDelete, "/api/v1/books/"+b.ID, nil, nil))
	assert.Equal(t, http.StatusConflict, do(t, ts, http.MethodDelete, "/api/v1/books/"+kept.ID, nil, nil))

	_, ok := cat.Book(b.ID)
	assert.False(t, ok)
	assert.Empty(t, cat.Shelves()[0].Books)
}

func TestListingsAndMetrics(t *testing.T) {
	ts, _, cat := newTestServer(t)
	_, err := cat.AddShelf(catalog.ShelfSpec{ID: "S", Category: "science"})
	require.NoError(t, err)
	for _, title := range []string{"Cosmos", "Contact"} {
		_, err := cat.AddBook(catalog.BookSpec{Title: title, Author: "Sagan", Category: "science"})
		require.NoError(t, err)
	}

	var books struct {
		Items []catalog.Book `json:"items"`
	}
	require.Equal(t, http.StatusOK, do(t, ts, http.MethodGet, "/api/v1/books?q=cosm", nil, &books))
	require.Len(t, books.Items, 1)
	assert.Equal(t, "Cosmos", books.Items[0].Title)

	var queue struct {
		Items []engine.QueueEntry `json:"items"`
	}
	require.Equal(t, http.StatusOK, do(t, ts, http.MethodGet, "/api/v1/charging/queue", nil, &queue))
	assert.Empty(t, queue.Items)

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(raw), "shelfbot_engine_running 1")
}

func TestProfilerMounted(t *testing.T) {
	ts, _, _ := newTestServer(t)
	resp, err := http.Get(ts.URL + "/debug/pprof/cmdline")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"shelfbot/internal/catalog"
	"shelfbot/internal/fleet"
	"shelfbot/internal/fleet/engine"
	logx "shelfbot/pkg/logx"
)

type handlers struct {
	Deps
}

func (h *handlers) router() chi.Router {
	r := chi.NewRouter()

	r.Get("/status", h.getStatus)
	r.Get("/charging/queue", h.getChargingQueue)

	r.Get("/robots", h.listRobots)
	r.Post("/robots", h.registerRobot)
	r.Post("/robots/{robotId}/recharge", h.rechargeRobot)

	r.Get("/stations", h.listStations)
	r.Post("/stations", h.addStation)

	r.Get("/tasks/{taskId}", h.getTask)
	r.Post("/tasks/fetch", h.submitFetch)
	r.Post("/tasks/return", h.submitReturn)

	r.Get("/books", h.listBooks)
	r.Post("/books", h.addBook)
	r.Delete("/books/{bookId}", h.removeBook)
	r.Get("/shelves", h.listShelves)
	r.Post("/shelves", h.addShelf)

	return r
}

func (h *handlers) getStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Engine.Snapshot())
}

func (h *handlers) getChargingQueue(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"items": h.Engine.ChargingQueue()})
}

func (h *handlers) listRobots(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"items": h.Engine.Robots()})
}

type registerRobotReq struct {
	ID        string   `json:"id"`
	Threshold float64  `json:"threshold"`
	Battery   *float64 `json:"battery"`
}

// registerRobot handles POST /robots
func (h *handlers) registerRobot(w http.ResponseWriter, r *http.Request) {
	var req registerRobotReq
	if !decode(w, r, &req) {
		return
	}
	threshold := req.Threshold
	if threshold <= 0 {
		threshold = h.BatteryThreshold
	}
	rb, err := fleet.NewRobot(req.ID, threshold)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Battery != nil {
		if *req.Battery < 0 || *req.Battery > fleet.FullCharge {
			writeError(w, http.StatusBadRequest, fmt.Errorf("battery %.1f out of range", *req.Battery))
			return
		}
		rb.SetBattery(*req.Battery)
	}
	if err := h.Engine.RegisterRobot(rb); err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, h.robotInfo(rb.ID()))
}

// rechargeRobot handles POST /robots/{robotId}/recharge
func (h *handlers) rechargeRobot(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "robotId")
	if err := h.Engine.Recharge(id); err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, h.robotInfo(id))
}

func (h *handlers) robotInfo(id string) engine.RobotInfo {
	for _, ri := range h.Engine.Robots() {
		if ri.ID == id {
			return ri
		}
	}
	return engine.RobotInfo{ID: id}
}

func (h *handlers) listStations(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"items": h.Engine.Stations()})
}

type addStationReq struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Slots int    `json:"slots"`
}

// addStation handles POST /stations
func (h *handlers) addStation(w http.ResponseWriter, r *http.Request) {
	var req addStationReq
	if !decode(w, r, &req) {
		return
	}
	st, err := fleet.NewChargingStation(req.ID, req.Name, req.Slots)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.Engine.AddStation(st); err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, engine.StationInfo{
		ID:        st.ID(),
		Name:      st.Name(),
		Slots:     st.TotalSlots(),
		Occupied:  st.OccupiedSlots(),
		Occupants: st.Occupants(),
	})
}

// getTask handles GET /tasks/{taskId}. Finished tasks that left the live
// index are answered from history.
func (h *handlers) getTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "taskId")
	if t, ok := h.Engine.Task(id); ok {
		writeJSON(w, http.StatusOK, t.Info())
		return
	}
	for _, it := range h.Engine.Snapshot().History {
		if it.ID == id {
			writeJSON(w, http.StatusOK, it)
			return
		}
	}
	writeError(w, http.StatusNotFound, fmt.Errorf("task %s: %w", id, fleet.ErrTaskNotFound))
}

type fetchReq struct {
	BookID string `json:"book_id"`
}

// submitFetch handles POST /tasks/fetch
func (h *handlers) submitFetch(w http.ResponseWriter, r *http.Request) {
	var req fetchReq
	if !decode(w, r, &req) {
		return
	}
	t, err := h.Catalog.FetchTask(strings.TrimSpace(req.BookID))
	if err != nil {
		h.fail(w, err)
		return
	}
	h.submit(w, t)
}

type returnReq struct {
	BookID  string `json:"book_id"`
	ShelfID string `json:"shelf_id"`
}

// submitReturn handles POST /tasks/return
func (h *handlers) submitReturn(w http.ResponseWriter, r *http.Request) {
	var req returnReq
	if !decode(w, r, &req) {
		return
	}
	t, err := h.Catalog.ReturnTask(strings.TrimSpace(req.BookID), req.ShelfID)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.submit(w, t)
}

// submit queues t, abandoning its item if the engine refuses it.
func (h *handlers) submit(w http.ResponseWriter, t *fleet.Task) {
	if err := h.Engine.SubmitTask(t); err != nil {
		if it := t.Item(); it != nil {
			it.Abandon()
		}
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, t.Info())
}

// listBooks handles GET /books?q=
func (h *handlers) listBooks(w http.ResponseWriter, r *http.Request) {
	books := h.Catalog.Search(r.URL.Query().Get("q"))
	if books == nil {
		books = []catalog.Book{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": books})
}

// addBook handles POST /books
func (h *handlers) addBook(w http.ResponseWriter, r *http.Request) {
	var req catalog.BookSpec
	if !decode(w, r, &req) {
		return
	}
	b, err := h.Catalog.AddBook(req)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

// removeBook handles DELETE /books/{bookId}
func (h *handlers) removeBook(w http.ResponseWriter, r *http.Request) {
	if err := h.Catalog.RemoveBook(chi.URLParam(r, "bookId")); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) listShelves(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"items": h.Catalog.Shelves()})
}

// addShelf handles POST /shelves
func (h *handlers) addShelf(w http.ResponseWriter, r *http.Request) {
	var req catalog.ShelfSpec
	if !decode(w, r, &req) {
		return
	}
	sh, err := h.Catalog.AddShelf(req)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sh)
}

// fail maps domain errors to HTTP status codes.
func (h *handlers) fail(w http.ResponseWriter, err error) {
	code := http.StatusBadRequest
	switch {
	case errors.Is(err, fleet.ErrTaskNotFound),
		errors.Is(err, engine.ErrUnknownRobot),
		errors.Is(err, catalog.ErrBookNotFound),
		errors.Is(err, catalog.ErrShelfNotFound):
		code = http.StatusNotFound
	case errors.Is(err, engine.ErrDuplicateRobot),
		errors.Is(err, engine.ErrNotStranded),
		errors.Is(err, engine.ErrTaskNotQueued),
		errors.Is(err, fleet.ErrInvalidOperation),
		errors.Is(err, catalog.ErrBookState),
		errors.Is(err, catalog.ErrShelfFull),
		errors.Is(err, catalog.ErrNoShelf):
		code = http.StatusConflict
	case errors.Is(err, engine.ErrStopped):
		code = http.StatusServiceUnavailable
	}
	if code != http.StatusBadRequest {
		h.Log.Debug("request rejected", logx.Int("status", code), logx.Err(err))
	}
	writeError(w, code, err)
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request: %w", err))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

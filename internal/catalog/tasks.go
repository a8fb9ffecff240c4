package catalog

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"shelfbot/internal/fleet"
	logx "shelfbot/pkg/logx"
)

// Cost returns the simulated duration and battery cost of a trip to a shelf
// at distance d.
func (c *Catalog) Cost(d int) (time.Duration, float64) {
	d = clampDistance(d)
	dur := time.Duration(math.Round(float64(time.Duration(d)*time.Second) * c.cfg.TimeScale))
	return dur, float64(d) / 2
}

// FetchTask builds a task that brings an AVAILABLE book to a user. The book
// leaves its shelf now; its slot stays reserved until the task finishes.
func (c *Catalog) FetchTask(bookID string) (*fleet.Task, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b := c.books[bookID]
	if b == nil {
		return nil, fmt.Errorf("fetch %s: %w", bookID, ErrBookNotFound)
	}
	if b.Status != BookAvailable {
		return nil, fmt.Errorf("fetch %s: book is %s: %w", bookID, b.Status, ErrBookState)
	}
	sh := c.shelfLocked(b.ShelfID)
	if sh == nil {
		return nil, fmt.Errorf("fetch %s: book is not on any shelf: %w", bookID, ErrShelfNotFound)
	}

	dur, cost := c.Cost(sh.Distance)
	t, err := fleet.NewTask(fleet.TaskSpec{
		ID:              "fetch-" + uuid.NewString(),
		Name:            fmt.Sprintf("Get %s from %s", b.Title, sh.Name),
		Priority:        fleet.PriorityMedium,
		Kind:            fleet.KindFetch,
		Duration:        dur,
		BatteryRequired: cost,
		Item:            &transit{c: c, kind: fleet.KindFetch, bookID: b.ID, shelfID: sh.ID},
	})
	if err != nil {
		return nil, err
	}
	if !sh.remove(b.ID) {
		return nil, fmt.Errorf("fetch %s: not on shelf %s: %w", bookID, sh.ID, fleet.ErrInvalidOperation)
	}
	sh.reserved++
	b.Status = BookInTransit
	c.log.Info("fetch task created",
		logx.String("task", t.ID()),
		logx.String("book", b.ID),
		logx.String("shelf", sh.ID),
		logx.Int("distance", sh.Distance),
		logx.Duration("duration", dur),
		logx.Percent("battery", cost),
	)
	return t, nil
}

// ReturnTask builds a task that brings a TAKEN book back to shelfID, or to
// the first shelf of the book's category with space when shelfID is empty.
func (c *Catalog) ReturnTask(bookID, shelfID string) (*fleet.Task, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b := c.books[bookID]
	if b == nil {
		return nil, fmt.Errorf("return %s: %w", bookID, ErrBookNotFound)
	}
	if b.Status != BookTaken {
		return nil, fmt.Errorf("return %s: book is %s: %w", bookID, b.Status, ErrBookState)
	}

	var sh *shelf
	if id := strings.TrimSpace(shelfID); id != "" {
		sh = c.shelfLocked(id)
		if sh == nil {
			return nil, fmt.Errorf("return %s: shelf %s: %w", bookID, id, ErrShelfNotFound)
		}
		if !strings.EqualFold(sh.Category, b.Category) {
			return nil, fmt.Errorf("return %s: shelf %s holds %s, book is %s: %w", bookID, id, sh.Category, b.Category, fleet.ErrInvalidOperation)
		}
		if sh.full() {
			return nil, fmt.Errorf("return %s: shelf %s: %w", bookID, id, ErrShelfFull)
		}
	} else if sh = c.shelfWithSpaceLocked(b.Category); sh == nil {
		return nil, fmt.Errorf("return %s: %w", bookID, ErrNoShelf)
	}

	dur, cost := c.Cost(sh.Distance)
	t, err := fleet.NewTask(fleet.TaskSpec{
		ID:              "return-" + uuid.NewString(),
		Name:            fmt.Sprintf("Return %s to %s", b.Title, sh.Name),
		Priority:        fleet.PriorityLow,
		Kind:            fleet.KindReturn,
		Duration:        dur,
		BatteryRequired: cost,
		Item:            &transit{c: c, kind: fleet.KindReturn, bookID: b.ID, shelfID: sh.ID},
	})
	if err != nil {
		return nil, err
	}
	sh.reserved++
	b.Status = BookInTransit
	b.ShelfID = sh.ID
	c.log.Info("return task created",
		logx.String("task", t.ID()),
		logx.String("book", b.ID),
		logx.String("shelf", sh.ID),
		logx.Int("distance", sh.Distance),
		logx.Duration("duration", dur),
		logx.Percent("battery", cost),
	)
	return t, nil
}

// transit is the fleet.Item a robot carries for a fetch or return task. It
// owns one reserved slot on shelfID until the task finishes.
type transit struct {
	c       *Catalog
	kind    fleet.Kind
	bookID  string
	shelfID string
}

func (t *transit) ItemID() string { return t.bookID }

func (t *transit) BeginTransit(robotID string) {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	if b := t.c.books[t.bookID]; b != nil {
		b.Status = BookInTransit
		b.AssignedRobot = robotID
	}
}

// FinishTransit settles the book: a fetched book is TAKEN by the user, a
// returned book is AVAILABLE on its shelf.
func (t *transit) FinishTransit(kind fleet.Kind) {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	b := t.c.books[t.bookID]
	sh := t.c.shelfLocked(t.shelfID)
	if sh != nil && sh.reserved > 0 {
		sh.reserved--
	}
	if b == nil {
		return
	}
	b.AssignedRobot = ""
	if kind == fleet.KindReturn && sh != nil {
		t.c.placeLocked(sh, b)
		b.Status = BookAvailable
		t.c.log.Info("book returned to shelf", logx.String("book", b.ID), logx.String("shelf", sh.ID))
		return
	}
	b.Status = BookTaken
	b.ShelfID = ""
	t.c.log.Info("book delivered to user", logx.String("book", b.ID))
}

// CancelTransit puts the book back on its reserved shelf as AVAILABLE.
func (t *transit) CancelTransit() {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	b := t.c.books[t.bookID]
	sh := t.c.shelfLocked(t.shelfID)
	if sh != nil && sh.reserved > 0 {
		sh.reserved--
	}
	if b == nil {
		return
	}
	b.AssignedRobot = ""
	b.Status = BookAvailable
	if sh != nil {
		t.c.placeLocked(sh, b)
	}
	t.c.log.Warn("book transit cancelled", logx.String("book", b.ID), logx.String("shelf", t.shelfID))
}

// Abandon reverts task creation: a fetched book goes back on its shelf as
// AVAILABLE, a returned book stays TAKEN with the user.
func (t *transit) Abandon() {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	b := t.c.books[t.bookID]
	sh := t.c.shelfLocked(t.shelfID)
	if sh != nil && sh.reserved > 0 {
		sh.reserved--
	}
	if b == nil {
		return
	}
	b.AssignedRobot = ""
	if t.kind == fleet.KindReturn {
		b.Status = BookTaken
		b.ShelfID = ""
		return
	}
	b.Status = BookAvailable
	if sh != nil {
		t.c.placeLocked(sh, b)
	}
}

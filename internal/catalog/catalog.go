// Package catalog holds the books and shelves the fleet moves between, and
// builds fetch/return tasks whose cost follows shelf distance.
package catalog

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"shelfbot/internal/fleet"
	logx "shelfbot/pkg/logx"
)

const (
	MinDistance             = 10
	MaxDistance             = 50
	DefaultMaxShelfCapacity = 10
)

var (
	ErrBookNotFound  = errors.New("book not found")
	ErrShelfNotFound = errors.New("shelf not found")
	ErrShelfFull     = errors.New("shelf is full")
	ErrNoShelf       = errors.New("no shelf with space")
	ErrBookState     = errors.New("book is not in the required state")
)

type BookStatus string

const (
	BookAvailable BookStatus = "AVAILABLE"
	BookInTransit BookStatus = "IN_TRANSIT"
	BookTaken     BookStatus = "TAKEN"
)

// Book is a copy of a catalog entry.
type Book struct {
	ID            string     `json:"id"`
	Title         string     `json:"title"`
	Author        string     `json:"author"`
	Category      string     `json:"category"`
	WeightKg      float64    `json:"weight_kg,omitempty"`
	ShelfID       string     `json:"shelf_id,omitempty"`
	Status        BookStatus `json:"status"`
	AssignedRobot string     `json:"assigned_robot,omitempty"`
}

// Shelf is a copy of a shelf with its current contents.
type Shelf struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Category    string   `json:"category"`
	Distance    int      `json:"distance"`
	MaxCapacity int      `json:"max_capacity"`
	Books       []string `json:"books"`
	Reserved    int      `json:"reserved"`
}

type shelf struct {
	Shelf
	books []string
	// reserved counts in-flight tasks that will put a book back here.
	reserved int
}

func (s *shelf) full() bool { return len(s.books)+s.reserved >= s.MaxCapacity }

func (s *shelf) remove(bookID string) bool {
	i := slices.Index(s.books, bookID)
	if i < 0 {
		return false
	}
	s.books = slices.Delete(s.books, i, i+1)
	return true
}

func (s *shelf) view() Shelf {
	v := s.Shelf
	v.Books = slices.Clone(s.books)
	v.Reserved = s.reserved
	return v
}

// Config controls catalog limits and simulated task timing.
type Config struct {
	MaxShelfCapacity int
	// TimeScale multiplies distance-derived task durations (1 = one second
	// per distance unit).
	TimeScale float64
}

type Catalog struct {
	mu      sync.Mutex
	cfg     Config
	log     logx.Logger
	books   map[string]*Book
	shelves []*shelf
	bookSeq int
}

func New(cfg Config, log logx.Logger) *Catalog {
	if cfg.MaxShelfCapacity <= 0 {
		cfg.MaxShelfCapacity = DefaultMaxShelfCapacity
	}
	if cfg.TimeScale <= 0 {
		cfg.TimeScale = 1
	}
	return &Catalog{
		cfg:   cfg,
		log:   log.Scope(logx.ScopeStorage),
		books: map[string]*Book{},
	}
}

// ShelfSpec describes a shelf to add. Distance is clamped to 10..50 and a
// zero capacity selects the configured maximum.
type ShelfSpec struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Category    string `json:"category"`
	Distance    int    `json:"distance"`
	MaxCapacity int    `json:"max_capacity"`
}

func (c *Catalog) AddShelf(spec ShelfSpec) (Shelf, error) {
	id := strings.TrimSpace(spec.ID)
	if id == "" {
		return Shelf{}, errors.New("shelf id is required")
	}
	category := strings.TrimSpace(spec.Category)
	if category == "" {
		return Shelf{}, fmt.Errorf("shelf %s: category is required", id)
	}
	name := strings.TrimSpace(spec.Name)
	if name == "" {
		name = id
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.shelfLocked(id) != nil {
		return Shelf{}, fmt.Errorf("shelf %s: %w", id, fleet.ErrInvalidOperation)
	}
	capacity := spec.MaxCapacity
	if capacity <= 0 || capacity > c.cfg.MaxShelfCapacity {
		capacity = c.cfg.MaxShelfCapacity
	}
	sh := &shelf{Shelf: Shelf{
		ID:          id,
		Name:        name,
		Category:    category,
		Distance:    clampDistance(spec.Distance),
		MaxCapacity: capacity,
	}}
	c.shelves = append(c.shelves, sh)
	c.log.Info("shelf added", logx.String("shelf", id), logx.String("category", category), logx.Int("distance", sh.Distance), logx.Int("capacity", capacity))
	return sh.view(), nil
}

// BookSpec describes a book to add. An empty ID is generated.
type BookSpec struct {
	ID       string  `json:"id"`
	Title    string  `json:"title"`
	Author   string  `json:"author"`
	Category string  `json:"category"`
	WeightKg float64 `json:"weight_kg"`
}

// AddBook shelves a new book on the first shelf of its category with space.
func (c *Catalog) AddBook(spec BookSpec) (Book, error) {
	title := strings.TrimSpace(spec.Title)
	author := strings.TrimSpace(spec.Author)
	category := strings.TrimSpace(spec.Category)
	if title == "" || author == "" || category == "" {
		return Book{}, errors.New("book title, author and category are required")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	id := strings.TrimSpace(spec.ID)
	if id == "" {
		c.bookSeq++
		id = fmt.Sprintf("BOOK-%d", c.bookSeq)
		for c.books[id] != nil {
			c.bookSeq++
			id = fmt.Sprintf("BOOK-%d", c.bookSeq)
		}
	}
	if c.books[id] != nil {
		return Book{}, fmt.Errorf("book %s: %w", id, fleet.ErrInvalidOperation)
	}
	sh := c.shelfWithSpaceLocked(category)
	if sh == nil {
		return Book{}, fmt.Errorf("category %q: %w", category, ErrNoShelf)
	}
	b := &Book{ID: id, Title: title, Author: author, Category: category, WeightKg: spec.WeightKg, Status: BookAvailable}
	c.placeLocked(sh, b)
	c.books[id] = b
	c.log.Info("book added", logx.String("book", id), logx.String("title", title), logx.String("shelf", sh.ID), logx.Int("count", len(sh.books)), logx.Int("capacity", sh.MaxCapacity))
	return *b, nil
}

// RemoveBook takes an AVAILABLE book off its shelf and out of the catalog.
func (c *Catalog) RemoveBook(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	b := c.books[id]
	if b == nil {
		return fmt.Errorf("book %s: %w", id, ErrBookNotFound)
	}
	if b.Status != BookAvailable {
		return fmt.Errorf("book %s is %s: %w", id, b.Status, ErrBookState)
	}
	if sh := c.shelfLocked(b.ShelfID); sh == nil || !sh.remove(id) {
		return fmt.Errorf("book %s not on shelf %q: %w", id, b.ShelfID, fleet.ErrInvalidOperation)
	}
	delete(c.books, id)
	c.log.Info("book removed", logx.String("book", id))
	return nil
}

func (c *Catalog) Book(id string) (Book, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b := c.books[id]
	if b == nil {
		return Book{}, false
	}
	return *b, true
}

// Books lists books ordered by id.
func (c *Catalog) Books() []Book {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Book, 0, len(c.books))
	for _, b := range c.books {
		out = append(out, *b)
	}
	slices.SortFunc(out, func(a, b Book) int { return strings.Compare(a.ID, b.ID) })
	return out
}

// Search returns books whose title or author contains query, case-insensitively.
func (c *Catalog) Search(query string) []Book {
	q := strings.ToLower(strings.TrimSpace(query))
	var out []Book
	for _, b := range c.Books() {
		if q == "" || strings.Contains(strings.ToLower(b.Title), q) || strings.Contains(strings.ToLower(b.Author), q) {
			out = append(out, b)
		}
	}
	return out
}

// Shelves lists shelves in the order they were added.
func (c *Catalog) Shelves() []Shelf {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Shelf, 0, len(c.shelves))
	for _, sh := range c.shelves {
		out = append(out, sh.view())
	}
	return out
}

func (c *Catalog) shelfLocked(id string) *shelf {
	for _, sh := range c.shelves {
		if sh.ID == id {
			return sh
		}
	}
	return nil
}

// shelfWithSpaceLocked returns the first shelf of category with room. An
// empty category matches any shelf.
func (c *Catalog) shelfWithSpaceLocked(category string) *shelf {
	for _, sh := range c.shelves {
		if category != "" && !strings.EqualFold(sh.Category, category) {
			continue
		}
		if !sh.full() {
			return sh
		}
	}
	return nil
}

func (c *Catalog) placeLocked(sh *shelf, b *Book) {
	sh.books = append(sh.books, b.ID)
	b.ShelfID = sh.ID
}

func clampDistance(d int) int {
	return max(MinDistance, min(MaxDistance, d))
}

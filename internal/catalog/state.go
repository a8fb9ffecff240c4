package catalog

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	logx "shelfbot/pkg/logx"
)

// State is the persistable part of the catalog.
type State struct {
	Books   []Book  `json:"books"`
	Shelves []Shelf `json:"shelves"`
}

// Export returns a consistent copy of books and shelves. A book in transit
// is exported the way a cancelled task would leave it: AVAILABLE on the
// shelf it was reserved on.
func (c *Catalog) Export() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := State{Shelves: make([]Shelf, 0, len(c.shelves))}
	index := make(map[string]int, len(c.shelves))
	for i, sh := range c.shelves {
		v := sh.view()
		v.Reserved = 0
		st.Shelves = append(st.Shelves, v)
		index[sh.ID] = i
	}
	for _, b := range c.books {
		cp := *b
		cp.AssignedRobot = ""
		if cp.Status == BookInTransit {
			cp.Status = BookAvailable
			if i, ok := index[cp.ShelfID]; ok {
				st.Shelves[i].Books = append(st.Shelves[i].Books, cp.ID)
			}
		}
		st.Books = append(st.Books, cp)
	}
	slices.SortFunc(st.Books, func(a, b Book) int { return strings.Compare(a.ID, b.ID) })
	return st
}

// Import replaces the catalog contents with st.
func (c *Catalog) Import(st State) error {
	shelves := make([]*shelf, 0, len(st.Shelves))
	seen := map[string]bool{}
	for _, s := range st.Shelves {
		if s.ID == "" || seen[s.ID] {
			return fmt.Errorf("import: bad or duplicate shelf id %q", s.ID)
		}
		seen[s.ID] = true
		capacity := s.MaxCapacity
		if capacity <= 0 {
			capacity = c.cfg.MaxShelfCapacity
		}
		shelves = append(shelves, &shelf{Shelf: Shelf{
			ID:          s.ID,
			Name:        s.Name,
			Category:    s.Category,
			Distance:    clampDistance(s.Distance),
			MaxCapacity: capacity,
		}})
	}
	byID := func(id string) *shelf {
		for _, sh := range shelves {
			if sh.ID == id {
				return sh
			}
		}
		return nil
	}

	books := make(map[string]*Book, len(st.Books))
	seq := 0
	for _, b := range st.Books {
		if b.ID == "" || books[b.ID] != nil {
			return fmt.Errorf("import: bad or duplicate book id %q", b.ID)
		}
		cp := b
		cp.AssignedRobot = ""
		switch cp.Status {
		case BookAvailable, BookInTransit:
			cp.Status = BookAvailable
			sh := byID(cp.ShelfID)
			if sh == nil {
				return fmt.Errorf("import: book %s on unknown shelf %q", cp.ID, cp.ShelfID)
			}
			if sh.full() {
				return fmt.Errorf("import: shelf %s: %w", sh.ID, ErrShelfFull)
			}
			sh.books = append(sh.books, cp.ID)
		case BookTaken:
			cp.ShelfID = ""
		default:
			return fmt.Errorf("import: book %s has unknown status %q", cp.ID, cp.Status)
		}
		books[cp.ID] = &cp
		if n, ok := strings.CutPrefix(cp.ID, "BOOK-"); ok {
			if v, err := strconv.Atoi(n); err == nil && v > seq {
				seq = v
			}
		}
	}

	c.mu.Lock()
	c.shelves = shelves
	c.books = books
	c.bookSeq = seq
	c.mu.Unlock()
	c.log.Info("catalog loaded", logx.Int("books", len(books)), logx.Int("shelves", len(shelves)))
	return nil
}

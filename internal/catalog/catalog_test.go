package catalog

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shelfbot/internal/fleet"
	logx "shelfbot/pkg/logx"
)

func newCatalog(t *testing.T) *Catalog {
	t.Helper()
	c := New(Config{MaxShelfCapacity: 2, TimeScale: 0.001}, logx.Nop())
	_, err := c.AddShelf(ShelfSpec{ID: "A", Name: "Fiction A", Category: "fiction", Distance: 5})
	require.NoError(t, err)
	_, err = c.AddShelf(ShelfSpec{ID: "B", Name: "Fiction B", Category: "fiction", Distance: 80})
	require.NoError(t, err)
	_, err = c.AddShelf(ShelfSpec{ID: "S", Name: "Science", Category: "science", Distance: 30})
	require.NoError(t, err)
	return c
}

func addBook(t *testing.T, c *Catalog, title, category string) Book {
	t.Helper()
	b, err := c.AddBook(BookSpec{Title: title, Author: "someone", Category: category})
	require.NoError(t, err)
	return b
}

func TestAddShelfClampsDistance(t *testing.T) {
	c := newCatalog(t)
	shelves := c.Shelves()
	require.Len(t, shelves, 3)
	assert.Equal(t, MinDistance, shelves[0].Distance)
	assert.Equal(t, MaxDistance, shelves[1].Distance)
	assert.Equal(t, 2, shelves[0].MaxCapacity)

	_, err := c.AddShelf(ShelfSpec{ID: "A", Category: "fiction"})
	assert.ErrorIs(t, err, fleet.ErrInvalidOperation)
	_, err = c.AddShelf(ShelfSpec{ID: "X"})
	assert.Error(t, err)
}

func TestAddBookFillsShelvesOfCategory(t *testing.T) {
	c := newCatalog(t)
	b1 := addBook(t, c, "Dune", "fiction")
	b2 := addBook(t, c, "Emma", "fiction")
	b3 := addBook(t, c, "Ulysses", "Fiction")
	assert.Equal(t, "BOOK-1", b1.ID)
	assert.Equal(t, "A", b1.ShelfID)
	assert.Equal(t, "A", b2.ShelfID)
	assert.Equal(t, "B", b3.ShelfID)
	assert.Equal(t, BookAvailable, b3.Status)

	addBook(t, c, "Beloved", "fiction")
	_, err := c.AddBook(BookSpec{Title: "Overflow", Author: "x", Category: "fiction"})
	assert.ErrorIs(t, err, ErrNoShelf)
	_, err = c.AddBook(BookSpec{Title: "Poems", Author: "x", Category: "poetry"})
	assert.ErrorIs(t, err, ErrNoShelf)
	_, err = c.AddBook(BookSpec{Title: "", Author: "x", Category: "fiction"})
	assert.Error(t, err)
}

func TestRemoveBook(t *testing.T) {
	c := newCatalog(t)
	b := addBook(t, c, "Cosmos", "science")
	require.NoError(t, c.RemoveBook(b.ID))
	assert.ErrorIs(t, c.RemoveBook(b.ID), ErrBookNotFound)
	assert.Empty(t, c.Shelves()[2].Books)
}

func TestSearch(t *testing.T) {
	c := newCatalog(t)
	addBook(t, c, "Cosmos", "science")
	addBook(t, c, "Dune", "fiction")
	got := c.Search("cos")
	require.Len(t, got, 1)
	assert.Equal(t, "Cosmos", got[0].Title)
	assert.Len(t, c.Search(""), 2)
}

func TestFetchTaskLifecycle(t *testing.T) {
	c := newCatalog(t)
	b := addBook(t, c, "Cosmos", "science")

	tk, err := c.FetchTask(b.ID)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(tk.ID(), "fetch-"))
	assert.Equal(t, fleet.KindFetch, tk.Kind())
	assert.Equal(t, fleet.PriorityMedium, tk.Priority())
	assert.Equal(t, 15.0, tk.BatteryRequired())
	assert.Equal(t, 30*time.Millisecond, tk.Duration())

	got, _ := c.Book(b.ID)
	assert.Equal(t, BookInTransit, got.Status)
	sh := c.Shelves()[2]
	assert.Empty(t, sh.Books)
	assert.Equal(t, 1, sh.Reserved)

	_, err = c.FetchTask(b.ID)
	assert.ErrorIs(t, err, ErrBookState)

	it := tk.Item()
	require.NotNil(t, it)
	assert.Equal(t, b.ID, it.ItemID())
	it.BeginTransit("R1")
	got, _ = c.Book(b.ID)
	assert.Equal(t, "R1", got.AssignedRobot)

	it.FinishTransit(fleet.KindFetch)
	got, _ = c.Book(b.ID)
	assert.Equal(t, BookTaken, got.Status)
	assert.Empty(t, got.ShelfID)
	assert.Empty(t, got.AssignedRobot)
	assert.Zero(t, c.Shelves()[2].Reserved)
}

func TestFetchCancelRestoresBook(t *testing.T) {
	c := newCatalog(t)
	b := addBook(t, c, "Cosmos", "science")
	tk, err := c.FetchTask(b.ID)
	require.NoError(t, err)

	tk.Item().CancelTransit()
	got, _ := c.Book(b.ID)
	assert.Equal(t, BookAvailable, got.Status)
	assert.Equal(t, "S", got.ShelfID)
	sh := c.Shelves()[2]
	assert.Equal(t, []string{b.ID}, sh.Books)
	assert.Zero(t, sh.Reserved)
}

func TestAbandonRestoresPreTaskState(t *testing.T) {
	c := newCatalog(t)
	b := addBook(t, c, "Cosmos", "science")

	fetch, err := c.FetchTask(b.ID)
	require.NoError(t, err)
	fetch.Item().Abandon()
	got, _ := c.Book(b.ID)
	assert.Equal(t, BookAvailable, got.Status)
	assert.Equal(t, "S", got.ShelfID)
	assert.Equal(t, []string{b.ID}, c.Shelves()[2].Books)
	assert.Zero(t, c.Shelves()[2].Reserved)

	fetch, err = c.FetchTask(b.ID)
	require.NoError(t, err)
	fetch.Item().FinishTransit(fleet.KindFetch)

	ret, err := c.ReturnTask(b.ID, "")
	require.NoError(t, err)
	ret.Item().Abandon()
	// The user still holds the book.
	got, _ = c.Book(b.ID)
	assert.Equal(t, BookTaken, got.Status)
	assert.Empty(t, got.ShelfID)
	assert.Empty(t, c.Shelves()[2].Books)
	assert.Zero(t, c.Shelves()[2].Reserved)

	_, err = c.ReturnTask(b.ID, "")
	require.NoError(t, err)
}

func TestReturnTaskShelvesBook(t *testing.T) {
	c := newCatalog(t)
	b := addBook(t, c, "Dune", "fiction")
	_, err := c.ReturnTask(b.ID, "")
	assert.ErrorIs(t, err, ErrBookState)

	fetch, err := c.FetchTask(b.ID)
	require.NoError(t, err)
	fetch.Item().FinishTransit(fleet.KindFetch)

	_, err = c.ReturnTask(b.ID, "S")
	assert.ErrorIs(t, err, fleet.ErrInvalidOperation)
	_, err = c.ReturnTask(b.ID, "nope")
	assert.ErrorIs(t, err, ErrShelfNotFound)

	ret, err := c.ReturnTask(b.ID, "B")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(ret.ID(), "return-"))
	assert.Equal(t, fleet.KindReturn, ret.Kind())
	assert.Equal(t, fleet.PriorityLow, ret.Priority())
	assert.Equal(t, 25.0, ret.BatteryRequired())

	got, _ := c.Book(b.ID)
	assert.Equal(t, BookInTransit, got.Status)
	assert.Equal(t, "B", got.ShelfID)

	ret.Item().FinishTransit(fleet.KindReturn)
	got, _ = c.Book(b.ID)
	assert.Equal(t, BookAvailable, got.Status)
	assert.Equal(t, []string{b.ID}, c.Shelves()[1].Books)
}

func TestReturnTaskRespectsReservations(t *testing.T) {
	c := New(Config{MaxShelfCapacity: 1}, logx.Nop())
	_, err := c.AddShelf(ShelfSpec{ID: "A", Category: "fiction", Distance: 10})
	require.NoError(t, err)
	b1 := addBook(t, c, "One", "fiction")

	f, err := c.FetchTask(b1.ID)
	require.NoError(t, err)
	// The slot stays reserved for the fetched book while it is out.
	_, err = c.AddBook(BookSpec{Title: "Two", Author: "x", Category: "fiction"})
	assert.ErrorIs(t, err, ErrNoShelf)

	f.Item().FinishTransit(fleet.KindFetch)
	b2 := addBook(t, c, "Two", "fiction")
	assert.Equal(t, "A", b2.ShelfID)

	_, err = c.ReturnTask(b1.ID, "")
	assert.ErrorIs(t, err, ErrNoShelf)
	_, err = c.ReturnTask(b1.ID, "A")
	assert.ErrorIs(t, err, ErrShelfFull)
}

func TestExportImportRoundTrip(t *testing.T) {
	c := newCatalog(t)
	b1 := addBook(t, c, "Dune", "fiction")
	b2 := addBook(t, c, "Cosmos", "science")
	b3 := addBook(t, c, "Emma", "fiction")

	f, err := c.FetchTask(b1.ID)
	require.NoError(t, err)
	f.Item().FinishTransit(fleet.KindFetch)
	_, err = c.FetchTask(b2.ID)
	require.NoError(t, err)

	st := c.Export()
	require.Len(t, st.Books, 3)
	byID := map[string]Book{}
	for _, b := range st.Books {
		byID[b.ID] = b
	}
	assert.Equal(t, BookTaken, byID[b1.ID].Status)
	assert.Equal(t, BookAvailable, byID[b2.ID].Status, "in-transit books export as available")
	assert.Equal(t, BookAvailable, byID[b3.ID].Status)

	restored := New(Config{MaxShelfCapacity: 2}, logx.Nop())
	require.NoError(t, restored.Import(st))
	assert.Len(t, restored.Shelves(), 3)
	got, ok := restored.Book(b2.ID)
	require.True(t, ok)
	assert.Equal(t, "S", got.ShelfID)
	assert.Equal(t, []string{b2.ID}, restored.Shelves()[2].Books)

	next := addBook(t, restored, "Persuasion", "fiction")
	assert.Equal(t, "BOOK-4", next.ID)

	bad := st
	bad.Books = append(bad.Books, Book{ID: b3.ID, Status: BookAvailable, ShelfID: "A"})
	assert.Error(t, restored.Import(bad))
}

package dbfake

import (
	"context"
	"sort"
	"sync"

	"github.com/booksapi/booksapi/internal/db"
)

type Books struct {
	mu     sync.Mutex
	rows   map[int64]db.Book
	nextID int64

	// Err, when set, is returned by every operation.
	Err error
}

func NewBooks() *Books {
	return &Books{rows: make(map[int64]db.Book), nextID: 1}
}

func (b *Books) Count(ctx context.Context) (int64, error) {
	if b.Err != nil {
		return 0, b.Err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return int64(len(b.rows)), nil
}

func (b *Books) List(ctx context.Context, offset, limit int) ([]db.Book, error) {
	if b.Err != nil {
		return nil, b.Err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	ids := make([]int64, 0, len(b.rows))
	for id := range b.rows {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	books := make([]db.Book, 0, limit)
	for i := offset; i < len(ids) && len(books) < limit; i++ {
		books = append(books, b.rows[ids[i]])
	}
	return books, nil
}

func (b *Books) GetByID(ctx context.Context, id int64) (*db.Book, error) {
	if b.Err != nil {
		return nil, b.Err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	book, ok := b.rows[id]
	if !ok {
		return nil, db.ErrBookNotFound
	}
	return &book, nil
}

func (b *Books) Create(ctx context.Context, book *db.Book) (*db.Book, error) {
	if b.Err != nil {
		return nil, b.Err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	created := *book
	created.ID = b.nextID
	b.nextID++
	b.rows[created.ID] = created
	return &created, nil
}

func (b *Books) Update(ctx context.Context, book *db.Book) (*db.Book, error) {
	if b.Err != nil {
		return nil, b.Err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.rows[book.ID]; !ok {
		return nil, db.ErrBookNotFound
	}
	b.rows[book.ID] = *book
	updated := *book
	return &updated, nil
}

func (b *Books) Delete(ctx context.Context, id int64) (*db.Book, error) {
	if b.Err != nil {
		return nil, b.Err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	book, ok := b.rows[id]
	if !ok {
		return nil, db.ErrBookNotFound
	}
	delete(b.rows, id)
	return &book, nil
}

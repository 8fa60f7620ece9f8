package db

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

var ErrBookNotFound = errors.New("book not found")

type Book struct {
	ID            int64
	Title         *string
	Author        *string
	Summary       *string
	Genre         *string
	PublishedDate *time.Time
}

type BookRepository struct {
	db DBTX
}

func NewBookRepository(db *DB) *BookRepository {
	return &BookRepository{db: db.DB}
}

const bookColumns = `id, title, author, summary, genre, published_date`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBook(row rowScanner) (*Book, error) {
	var (
		b                             Book
		title, author, summary, genre sql.NullString
		published                     sql.NullTime
	)
	if err := row.Scan(&b.ID, &title, &author, &summary, &genre, &published); err != nil {
		return nil, err
	}
	b.Title = stringPtr(title)
	b.Author = stringPtr(author)
	b.Summary = stringPtr(summary)
	b.Genre = stringPtr(genre)
	if published.Valid {
		t := published.Time
		b.PublishedDate = &t
	}
	return &b, nil
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func (r *BookRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM books`).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// List returns up to limit books ordered by id, skipping offset rows.
func (r *BookRepository) List(ctx context.Context, offset, limit int) ([]Book, error) {
	query := `SELECT ` + bookColumns + ` FROM books ORDER BY id LIMIT $1 OFFSET $2`

	rows, err := r.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	books := make([]Book, 0, limit)
	for rows.Next() {
		b, err := scanBook(rows)
		if err != nil {
			return nil, err
		}
		books = append(books, *b)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return books, nil
}

func (r *BookRepository) GetByID(ctx context.Context, id int64) (*Book, error) {
	query := `SELECT ` + bookColumns + ` FROM books WHERE id = $1`

	b, err := scanBook(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrBookNotFound
		}
		return nil, err
	}
	return b, nil
}

func (r *BookRepository) Create(ctx context.Context, book *Book) (*Book, error) {
	query := `
		INSERT INTO books (title, author, summary, genre, published_date)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING ` + bookColumns

	return scanBook(r.db.QueryRowContext(ctx, query,
		nullString(book.Title), nullString(book.Author), nullString(book.Summary),
		nullString(book.Genre), nullTime(book.PublishedDate),
	))
}

// Update overwrites every column of the book with the given id.
func (r *BookRepository) Update(ctx context.Context, book *Book) (*Book, error) {
	query := `
		UPDATE books
		SET title = $1, author = $2, summary = $3, genre = $4, published_date = $5
		WHERE id = $6
		RETURNING ` + bookColumns

	b, err := scanBook(r.db.QueryRowContext(ctx, query,
		nullString(book.Title), nullString(book.Author), nullString(book.Summary),
		nullString(book.Genre), nullTime(book.PublishedDate), book.ID,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrBookNotFound
		}
		return nil, err
	}
	return b, nil
}

// Delete removes the book and returns the row as it was.
func (r *BookRepository) Delete(ctx context.Context, id int64) (*Book, error) {
	query := `DELETE FROM books WHERE id = $1 RETURNING ` + bookColumns

	b, err := scanBook(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrBookNotFound
		}
		return nil, err
	}
	return b, nil
}

package books

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/booksapi/booksapi/internal/db"
)

const dateLayout = "2006-01-02"

// Date is a calendar date rendered as YYYY-MM-DD.
type Date struct {
	time.Time
}

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Format(dateLayout))
}

func (d *Date) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("published_date must be a YYYY-MM-DD string")
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return fmt.Errorf("published_date must be a YYYY-MM-DD string")
	}
	d.Time = t
	return nil
}

// Book is the wire form of a book record.
type Book struct {
	ID            int64   `json:"id"`
	Title         *string `json:"title"`
	Author        *string `json:"author"`
	Summary       *string `json:"summary"`
	Genre         *string `json:"genre"`
	PublishedDate *Date   `json:"published_date"`
}

func fromRecord(b *db.Book) Book {
	out := Book{
		ID:      b.ID,
		Title:   b.Title,
		Author:  b.Author,
		Summary: b.Summary,
		Genre:   b.Genre,
	}
	if b.PublishedDate != nil {
		out.PublishedDate = &Date{Time: *b.PublishedDate}
	}
	return out
}

// BookInput is the body of create and update requests. Only these five
// fields are accepted.
type BookInput struct {
	Title         *string `json:"title"`
	Author        *string `json:"author"`
	Summary       *string `json:"summary"`
	Genre         *string `json:"genre"`
	PublishedDate *Date   `json:"published_date"`
}

func decodeInput(body []byte) (*BookInput, error) {
	var in BookInput
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&in); err != nil {
		return nil, err
	}
	return &in, nil
}

func (in *BookInput) record() *db.Book {
	b := &db.Book{
		Title:   in.Title,
		Author:  in.Author,
		Summary: in.Summary,
		Genre:   in.Genre,
	}
	if in.PublishedDate != nil {
		t := in.PublishedDate.Time
		b.PublishedDate = &t
	}
	return b
}

// mergeInto overwrites the fields of existing that the input sets. Empty
// strings count as unset.
func (in *BookInput) mergeInto(existing *db.Book) {
	pick := func(next, cur *string) *string {
		if next != nil && *next != "" {
			return next
		}
		return cur
	}
	existing.Title = pick(in.Title, existing.Title)
	existing.Author = pick(in.Author, existing.Author)
	existing.Summary = pick(in.Summary, existing.Summary)
	existing.Genre = pick(in.Genre, existing.Genre)
	if in.PublishedDate != nil {
		t := in.PublishedDate.Time
		existing.PublishedDate = &t
	}
}

type Page struct {
	Page       int    `json:"page"`
	MaxItems   int    `json:"max_items"`
	TotalPages int    `json:"total_pages"`
	TotalCount int64  `json:"total_count"`
	Data       []Book `json:"data"`
}

// TotalPages is ceil(total/maxItems); an empty catalogue still has one page.
func TotalPages(total int64, maxItems int) int {
	if total <= 0 {
		return 1
	}
	return int((total + int64(maxItems) - 1) / int64(maxItems))
}

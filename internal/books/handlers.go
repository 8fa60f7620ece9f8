package books

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/booksapi/booksapi/internal/db"
	apperrors "github.com/booksapi/booksapi/internal/errors"
)

// Store is the book persistence used by the handlers.
type Store interface {
	Count(ctx context.Context) (int64, error)
	List(ctx context.Context, offset, limit int) ([]db.Book, error)
	GetByID(ctx context.Context, id int64) (*db.Book, error)
	Create(ctx context.Context, book *db.Book) (*db.Book, error)
	Update(ctx context.Context, book *db.Book) (*db.Book, error)
	Delete(ctx context.Context, id int64) (*db.Book, error)
}

var _ Store = (*db.BookRepository)(nil)

const (
	defaultPage     = 1
	defaultMaxItems = 10
	maxBodyBytes    = 1 << 20
)

type Handlers struct {
	store Store
}

func NewHandlers(store Store) *Handlers {
	return &Handlers{store: store}
}

func (h *Handlers) List(w http.ResponseWriter, r *http.Request) error {
	page, err := queryInt(r, "page", defaultPage)
	if err != nil || page < 1 {
		return apperrors.ValidationError("Page number must be greater than 0")
	}
	maxItems, err := queryInt(r, "max_items", defaultMaxItems)
	if err != nil || maxItems < 1 {
		return apperrors.ValidationError("Max items must be greater than 0")
	}

	total, err := h.store.Count(r.Context())
	if err != nil {
		return apperrors.DatabaseError("Error retrieving books").WithCause(err)
	}

	totalPages := TotalPages(total, maxItems)
	if page > totalPages {
		return apperrors.PageNotFound(page, totalPages)
	}

	rows, err := h.store.List(r.Context(), (page-1)*maxItems, maxItems)
	if err != nil {
		return apperrors.DatabaseError("Error retrieving books").WithCause(err)
	}

	data := make([]Book, 0, len(rows))
	for i := range rows {
		data = append(data, fromRecord(&rows[i]))
	}

	apperrors.WriteJSON(w, apperrors.GetRequestID(r.Context()), http.StatusOK, Page{
		Page:       page,
		MaxItems:   maxItems,
		TotalPages: totalPages,
		TotalCount: total,
		Data:       data,
	})
	return nil
}

func (h *Handlers) Get(w http.ResponseWriter, r *http.Request) error {
	id, err := pathID(r)
	if err != nil {
		return err
	}

	book, err := h.store.GetByID(r.Context(), id)
	if err != nil {
		return storeError(err, "Error retrieving book")
	}

	apperrors.WriteJSON(w, apperrors.GetRequestID(r.Context()), http.StatusOK, fromRecord(book))
	return nil
}

func (h *Handlers) Create(w http.ResponseWriter, r *http.Request) error {
	in, err := readInput(r)
	if err != nil {
		return err
	}

	book, err := h.store.Create(r.Context(), in.record())
	if err != nil {
		return apperrors.DatabaseError("Error creating book").WithCause(err)
	}

	apperrors.WriteJSON(w, apperrors.GetRequestID(r.Context()), http.StatusOK, fromRecord(book))
	return nil
}

// Update applies a partial change: fields left empty keep their stored value.
func (h *Handlers) Update(w http.ResponseWriter, r *http.Request) error {
	id, err := pathID(r)
	if err != nil {
		return err
	}
	in, err := readInput(r)
	if err != nil {
		return err
	}

	existing, err := h.store.GetByID(r.Context(), id)
	if err != nil {
		return storeError(err, "Error updating book")
	}
	in.mergeInto(existing)

	book, err := h.store.Update(r.Context(), existing)
	if err != nil {
		return storeError(err, "Error updating book")
	}

	apperrors.WriteJSON(w, apperrors.GetRequestID(r.Context()), http.StatusOK, fromRecord(book))
	return nil
}

func (h *Handlers) Delete(w http.ResponseWriter, r *http.Request) error {
	id, err := pathID(r)
	if err != nil {
		return err
	}

	book, err := h.store.Delete(r.Context(), id)
	if err != nil {
		return storeError(err, "Error deleting book")
	}

	apperrors.WriteJSON(w, apperrors.GetRequestID(r.Context()), http.StatusOK, fromRecord(book))
	return nil
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		return 0, apperrors.ValidationError("Book ID must be an integer")
	}
	if id < 1 {
		return 0, apperrors.ValidationError("Book ID must be greater than 0")
	}
	return id, nil
}

func readInput(r *http.Request) (*BookInput, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return nil, apperrors.BadRequest("invalid request body")
	}
	in, err := decodeInput(body)
	if err != nil {
		return nil, apperrors.ValidationError(err.Error())
	}
	return in, nil
}

func storeError(err error, message string) error {
	if errors.Is(err, db.ErrBookNotFound) {
		return apperrors.BookNotFound()
	}
	return apperrors.DatabaseError(message).WithCause(err)
}

// Package feed pushes the current book count to connected clients at a fixed
// interval, over server-sent events or a websocket.
package feed

import (
	"context"
	"fmt"
	"time"
)

// Counter reports the number of books in the catalogue.
type Counter interface {
	Count(ctx context.Context) (int64, error)
}

// Update is one feed message. MessageNo starts at 1 for every connection.
type Update struct {
	MessageNo  int   `json:"message_no"`
	TotalCount int64 `json:"total_count"`
}

// SSE renders u as a server-sent event.
func (u Update) SSE() string {
	return fmt.Sprintf("data: message_no: %d ,total_count = %d\n\n", u.MessageNo, u.TotalCount)
}

// Poll sends an update immediately and then once per interval until ctx is
// done or emit fails. It returns nil when ctx ends.
func Poll(ctx context.Context, counter Counter, interval time.Duration, emit func(Update) error) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for n := 1; ; n++ {
		total, err := counter.Count(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("count books: %w", err)
		}

		if err := emit(Update{MessageNo: n, TotalCount: total}); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Package history fetches a bounded trailing window of collaboration
// events from the historical query endpoint and merges it into the
// store.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/agentops/netview/internal/event"
	"github.com/agentops/netview/internal/store"
)

// DefaultTimeout bounds one history request.
const DefaultTimeout = 15 * time.Second

// Options configures a Loader. BaseURL and Store are required.
type Options struct {
	BaseURL string
	Store   *store.Store
	Logger  zerolog.Logger
	Timeout time.Duration
}

// Loader pulls historical event pages on demand: initial mount,
// explicit refresh, and time-range selector changes.
type Loader struct {
	opts   Options
	client *http.Client
	log    zerolog.Logger
}

// New creates a loader.
func New(opts Options) *Loader {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	return &Loader{
		opts:   opts,
		client: &http.Client{Timeout: opts.Timeout},
		log:    opts.Logger.With().Str("component", "history").Logger(),
	}
}

// Load fetches events for the trailing window of the given duration in
// hours and merges them into the store. Dedup in the store absorbs
// overlap with already-buffered live events. On any request or
// page-level parse failure the store is left untouched and the error is
// returned; a single malformed record inside an otherwise valid page is
// dropped and logged. Returns the store's ordered contents for the
// window after the merge.
func (l *Loader) Load(ctx context.Context, windowHours int) ([]event.Event, error) {
	if windowHours <= 0 {
		windowHours = 1
	}

	u, err := url.Parse(l.opts.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("history base url: %w", err)
	}
	u = u.JoinPath("api", "collaboration", "history")
	q := u.Query()
	q.Set("hours", strconv.Itoa(windowHours))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("history request: %w", err)
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("history fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("history fetch: unexpected status %s", resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("history read: %w", err)
	}

	// Parse the whole page before touching the store, so a truncated
	// response never leaves a partial merge visible.
	var records []json.RawMessage
	if err := json.Unmarshal(body, &records); err != nil {
		return nil, fmt.Errorf("history parse: %w", err)
	}

	events := make([]event.Event, 0, len(records))
	for _, rec := range records {
		e, err := event.Decode(rec)
		if err != nil {
			l.log.Warn().Err(err).Msg("dropping malformed history record")
			continue
		}
		events = append(events, e)
	}

	now := time.Now()
	from := now.Add(-time.Duration(windowHours) * time.Hour)

	added := 0
	for _, e := range events {
		if l.opts.Store.Insert(e) {
			added++
		}
	}
	l.log.Info().Int("window_hours", windowHours).Int("fetched", len(events)).
		Int("added", added).Msg("history window merged")

	return l.opts.Store.Range(from, now), nil
}

// Package session keeps each browser's uploaded table in memory, keyed by
// a cookie. Nothing is persisted.
package session

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/KaramelBytes/csv-analyst/internal/analyst"
	"github.com/KaramelBytes/csv-analyst/internal/table"
)

// CookieName is the session cookie.
const CookieName = "csvanalyst_session"

// ChartPrefs is the chart the user last asked for.
type ChartPrefs struct {
	Kind string
	X    string
	Y    string
}

// Direct is the outcome of a question answered in direct mode.
type Direct struct {
	Question string
	Text     string
	Err      *analyst.Failure
}

// Session is a snapshot of one browser's state. At most one of Last and
// Direct is set: the most recent answer.
type Session struct {
	ID     string
	Table  *table.Table
	Chart  ChartPrefs
	Mode   string
	Last   *analyst.Cycle
	Direct *Direct
	// Flash is a one-time notice for the next page view.
	Flash   string
	Created time.Time
	Seen    time.Time
}

type entry struct {
	Session
	limiter *rate.Limiter
}

// Store is a concurrency-safe in-memory session store with idle expiry.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*entry
	ttl      time.Duration
	limit    rate.Limit
	burst    int
	now      func() time.Time
}

// NewStore returns a store whose sessions expire after ttl without use.
// Each session may ask askPerMin questions per minute with bursts of
// burst; askPerMin <= 0 disables the limit.
func NewStore(ttl time.Duration, askPerMin, burst int) *Store {
	limit := rate.Inf
	if askPerMin > 0 {
		limit = rate.Every(time.Minute / time.Duration(askPerMin))
	}
	if burst < 1 {
		burst = 1
	}
	return &Store{
		sessions: make(map[string]*entry),
		ttl:      ttl,
		limit:    limit,
		burst:    burst,
		now:      time.Now,
	}
}

func (s *Store) expired(e *entry, now time.Time) bool {
	return s.ttl > 0 && now.Sub(e.Seen) > s.ttl
}

// lookup returns the live entry for id, dropping it if it has expired.
// Callers hold s.mu.
func (s *Store) lookup(id string) (*entry, bool) {
	e, ok := s.sessions[id]
	if !ok {
		return nil, false
	}
	now := s.now()
	if s.expired(e, now) {
		delete(s.sessions, id)
		return nil, false
	}
	e.Seen = now
	return e, true
}

// Create starts a new empty session.
func (s *Store) Create() Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	e := &entry{
		Session: Session{ID: uuid.NewString(), Created: now, Seen: now, Mode: analyst.ModeQuery},
		limiter: rate.NewLimiter(s.limit, s.burst),
	}
	s.sessions[e.ID] = e
	return e.Session
}

// Get returns the session and marks it used.
func (s *Store) Get(id string) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.lookup(id)
	if !ok {
		return Session{}, false
	}
	return e.Session, true
}

// Update applies fn to the session under the store lock. ID and
// timestamps are restored after fn runs.
func (s *Store) Update(id string, fn func(*Session)) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.lookup(id)
	if !ok {
		return Session{}, false
	}
	keep := e.Session
	fn(&e.Session)
	e.ID, e.Created, e.Seen = keep.ID, keep.Created, keep.Seen
	return e.Session, true
}

// SetTable replaces the session's table and forgets the previous answer
// and chart selection.
func (s *Store) SetTable(id string, t *table.Table) (Session, bool) {
	return s.Update(id, func(sess *Session) {
		sess.Table = t
		sess.Last = nil
		sess.Direct = nil
		sess.Chart = ChartPrefs{}
	})
}

// AllowAsk reports whether the session may ask another question now.
func (s *Store) AllowAsk(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.lookup(id)
	if !ok {
		return false
	}
	return e.limiter.Allow()
}

// Delete removes a session.
func (s *Store) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}

// Sweep removes expired sessions and returns how many were dropped.
func (s *Store) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	n := 0
	for id, e := range s.sessions {
		if s.expired(e, now) {
			delete(s.sessions, id)
			n++
		}
	}
	return n
}

// Len returns the number of sessions, expired ones included until swept.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Run sweeps expired sessions every interval until ctx is done.
func (s *Store) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// FromRequest returns the session named by the request cookie, if live.
func (s *Store) FromRequest(r *http.Request) (Session, bool) {
	c, err := r.Cookie(CookieName)
	if err != nil || c.Value == "" {
		return Session{}, false
	}
	return s.Get(c.Value)
}

// Ensure returns the request's session, creating one and setting the
// cookie when there is none.
func (s *Store) Ensure(w http.ResponseWriter, r *http.Request) Session {
	if sess, ok := s.FromRequest(r); ok {
		return sess
	}
	sess := s.Create()
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    sess.ID,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return sess
}

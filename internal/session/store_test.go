package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KaramelBytes/csv-analyst/internal/analyst"
	"github.com/KaramelBytes/csv-analyst/internal/table"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestStore(ttl time.Duration, perMin, burst int) (*Store, *fakeClock) {
	clk := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	s := NewStore(ttl, perMin, burst)
	s.now = clk.Now
	return s, clk
}

func testTable(t *testing.T, src string) *table.Table {
	t.Helper()
	tbl, err := table.LoadCSV(strings.NewReader(src), "t.csv", table.DefaultLoadOptions())
	require.NoError(t, err)
	return tbl
}

func TestCreateAndGet(t *testing.T) {
	s, _ := newTestStore(time.Hour, 0, 0)
	sess := s.Create()
	require.NotEmpty(t, sess.ID)
	assert.Equal(t, analyst.ModeQuery, sess.Mode)

	got, ok := s.Get(sess.ID)
	require.True(t, ok)
	assert.Equal(t, sess.ID, got.ID)
	assert.Nil(t, got.Table)

	_, ok = s.Get("missing")
	assert.False(t, ok)
}

func TestIdleExpiry(t *testing.T) {
	s, clk := newTestStore(10*time.Minute, 0, 0)
	a := s.Create()
	b := s.Create()

	clk.Advance(8 * time.Minute)
	_, ok := s.Get(a.ID)
	require.True(t, ok, "use refreshes the idle timer")

	clk.Advance(8 * time.Minute)
	_, ok = s.Get(a.ID)
	assert.True(t, ok)
	assert.Equal(t, 1, s.Sweep(), "b has been idle for 16 minutes")
	_, ok = s.Get(b.ID)
	assert.False(t, ok)

	clk.Advance(11 * time.Minute)
	_, ok = s.Get(a.ID)
	assert.False(t, ok)
	assert.Equal(t, 0, s.Len())
}

func TestSetTableReplacesAndResets(t *testing.T) {
	s, _ := newTestStore(time.Hour, 0, 0)
	sess := s.Create()
	first := testTable(t, "a\n1\n")
	second := testTable(t, "b\n2\n")

	_, ok := s.SetTable(sess.ID, first)
	require.True(t, ok)
	_, ok = s.Update(sess.ID, func(x *Session) {
		x.Chart = ChartPrefs{Kind: "Bar Chart", X: "a", Y: "a"}
		x.Direct = &Direct{Question: "q", Text: "previous answer"}
		x.ID = "hijack"
	})
	require.True(t, ok)

	got, ok := s.SetTable(sess.ID, second)
	require.True(t, ok)
	assert.Same(t, second, got.Table)
	assert.Empty(t, got.Chart.Kind)
	assert.Nil(t, got.Direct)
	assert.Equal(t, sess.ID, got.ID, "Update cannot change the id")

	_, ok = s.SetTable("missing", first)
	assert.False(t, ok)
}

func TestAllowAskLimitsPerSession(t *testing.T) {
	s, _ := newTestStore(time.Hour, 1, 2)
	a := s.Create()
	b := s.Create()

	assert.True(t, s.AllowAsk(a.ID))
	assert.True(t, s.AllowAsk(a.ID))
	assert.False(t, s.AllowAsk(a.ID), "burst exhausted")
	assert.True(t, s.AllowAsk(b.ID), "limits are per session")
	assert.False(t, s.AllowAsk("missing"))
}

func TestUnlimitedAsk(t *testing.T) {
	s, _ := newTestStore(time.Hour, 0, 0)
	a := s.Create()
	for i := 0; i < 100; i++ {
		require.True(t, s.AllowAsk(a.ID))
	}
}

func TestEnsureSetsCookie(t *testing.T) {
	s := NewStore(time.Hour, 0, 0)

	rr := httptest.NewRecorder()
	sess := s.Ensure(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	cookies := rr.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, CookieName, cookies[0].Name)
	assert.Equal(t, sess.ID, cookies[0].Value)
	assert.True(t, cookies[0].HttpOnly)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookies[0])
	rr2 := httptest.NewRecorder()
	again := s.Ensure(rr2, req)
	assert.Equal(t, sess.ID, again.ID)
	assert.Empty(t, rr2.Result().Cookies(), "existing session keeps its cookie")
}

func TestRunStopsOnCancel(t *testing.T) {
	s := NewStore(time.Millisecond, 0, 0)
	s.Create()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx, 5*time.Millisecond)
		close(done)
	}()
	require.Eventually(t, func() bool { return s.Len() == 0 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

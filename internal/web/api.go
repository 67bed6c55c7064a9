package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/KaramelBytes/csv-analyst/internal/analyst"
	"github.com/KaramelBytes/csv-analyst/internal/chart"
	"github.com/KaramelBytes/csv-analyst/internal/session"
	"github.com/KaramelBytes/csv-analyst/internal/table"
)

const maxAskBody = 64 << 10

func (s *server) handleUpload(w http.ResponseWriter, r *http.Request) {
	sess := s.deps.Sessions.Ensure(w, r)
	t, err := s.readUpload(w, r)
	if err != nil {
		var ue *uploadError
		if errors.As(err, &ue) {
			writeError(r.Context(), w, ue.status, ue.code, ue.Error(), false)
			return
		}
		writeError(r.Context(), w, http.StatusBadRequest, "UPLOAD_FAILED", err.Error(), false)
		return
	}
	s.deps.Sessions.SetTable(sess.ID, t)
	s.log.InfoContext(r.Context(), "table uploaded", "session_id", sess.ID, "name", t.Name(), "rows", t.NumRows(), "cols", t.NumCols())
	writeJSON(w, http.StatusOK, newPreviewView(t))
}

// sessionTable returns the caller's session if it holds a table, writing
// the error response otherwise.
func (s *server) sessionTable(w http.ResponseWriter, r *http.Request) (session.Session, bool) {
	sess, ok := s.deps.Sessions.FromRequest(r)
	if !ok || sess.Table == nil {
		writeError(r.Context(), w, http.StatusConflict, "NO_TABLE", "upload a CSV file first", false)
		return session.Session{}, false
	}
	return sess, true
}

func (s *server) handlePreview(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionTable(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, newPreviewView(sess.Table))
}

func (s *server) handleChart(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionTable(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	fig, err := buildChart(sess.Table, q.Get("kind"), q.Get("x"), q.Get("y"))
	if err != nil {
		status, code := http.StatusUnprocessableEntity, "CHART_FAILED"
		var ke *chartKindError
		switch {
		case errors.As(err, &ke):
			status, code = http.StatusBadRequest, "INVALID_CHART"
		case errors.Is(err, chart.ErrNoNumericColumns):
			code = "NO_NUMERIC_COLUMNS"
		}
		writeError(r.Context(), w, status, code, err.Error(), false)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"figure": fig, "svg": chart.SVG(fig)})
}

func (s *server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxAskBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid ask request body", false)
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "QUESTION_REQUIRED", "question must not be empty", false)
		return
	}
	if _, ok := analyst.ParseMode(req.Mode); !ok {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_MODE", "mode must be query or direct", false)
		return
	}
	sess, ok := s.sessionTable(w, r)
	if !ok {
		return
	}
	if !s.deps.Sessions.AllowAsk(sess.ID) {
		writeError(r.Context(), w, http.StatusTooManyRequests, "RATE_LIMITED", "too many questions; wait a moment and try again", true)
		return
	}
	view, err := s.ask(r.Context(), sess, req)
	if err != nil {
		writeError(r.Context(), w, http.StatusServiceUnavailable, "NOT_CONFIGURED", err.Error(), false)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// chartKindError is an unknown or missing chart selection.
type chartKindError struct{ kind string }

func (e *chartKindError) Error() string {
	return "unknown chart type " + `"` + e.kind + `"` + " (use Line Chart, Bar Chart or Heatmap)"
}

// buildChart draws the chart picked in the sidebar. Line and bar charts
// plot y against x with missing values dropped and rows sorted by x; the
// heatmap shows correlations between numeric columns.
func buildChart(t *table.Table, kindName, x, y string) (*chart.Figure, error) {
	kind, ok := chart.ParseKind(strings.TrimSpace(kindName))
	if !ok {
		return nil, &chartKindError{kind: kindName}
	}
	switch kind {
	case chart.KindHeatmap:
		return chart.Heatmap(t)
	case chart.KindLine, chart.KindBar:
		if x == "" || y == "" {
			return nil, errors.New("choose both an x and a y column")
		}
		return chart.Series(t, kind, x, y)
	}
	return nil, &chartKindError{kind: kindName}
}

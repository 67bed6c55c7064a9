// Package web serves the browser UI and the JSON API.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/KaramelBytes/csv-analyst/internal/analyst"
	"github.com/KaramelBytes/csv-analyst/internal/config"
	"github.com/KaramelBytes/csv-analyst/internal/observability"
	"github.com/KaramelBytes/csv-analyst/internal/session"
	"github.com/KaramelBytes/csv-analyst/internal/table"
)

// Dependencies are the collaborators the handler needs.
type Dependencies struct {
	Logger   *slog.Logger
	Analyst  *analyst.Analyst
	Sessions *session.Store
}

type server struct {
	cfg   *config.Global
	deps  Dependencies
	log   *slog.Logger
	pages *template.Template
}

// multipart framing allowance on top of the upload limit
const formOverhead = 1 << 20

var allowedExt = map[string]bool{".csv": true, ".tsv": true, ".txt": true, ".xlsx": true}

func NewHandler(cfg *config.Global, deps Dependencies) http.Handler {
	if deps.Sessions == nil {
		deps.Sessions = session.NewStore(cfg.SessionTTL(), cfg.AskRatePerMin, cfg.AskBurst)
	}
	s := &server{cfg: cfg, deps: deps, log: deps.Logger, pages: pages}
	if s.log == nil {
		s.log = observability.Discard()
	}

	mux := http.NewServeMux()
	route := func(pattern, name string, h http.HandlerFunc) {
		mux.Handle(pattern, observability.MetricsMiddleware(name, h))
	}
	route("GET /{$}", "page", s.handlePage)
	route("POST /upload", "upload_form", s.handleUploadForm)
	route("POST /chart", "chart_form", s.handleChartForm)
	route("POST /ask", "ask_form", s.handleAskForm)

	route("POST /api/upload", "upload", s.handleUpload)
	route("GET /api/preview", "preview", s.handlePreview)
	route("GET /api/chart", "chart", s.handleChart)
	route("POST /api/ask", "ask", s.handleAsk)

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "service": "csv-analyst"})
	})
	mux.Handle("GET /metrics", promhttp.Handler())

	middlewares := []func(http.Handler) http.Handler{
		observability.TraceMiddleware,
	}
	if deps.Logger != nil {
		middlewares = append(middlewares, observability.LoggingMiddleware(deps.Logger))
	}
	return chain(mux, middlewares...)
}

func chain(base http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	wrapped := base
	for i := len(middlewares) - 1; i >= 0; i-- {
		wrapped = middlewares[i](wrapped)
	}
	return wrapped
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, code, message string, retryable bool) {
	writeJSON(w, status, map[string]any{
		"error_code": code,
		"message":    message,
		"retryable":  retryable,
		"trace_id":   observability.TraceIDFromContext(ctx),
	})
}

// uploadError is a rejected upload with its HTTP mapping.
type uploadError struct {
	status int
	code   string
	err    error
}

func (e *uploadError) Error() string { return e.err.Error() }

func (e *uploadError) Unwrap() error { return e.err }

// readUpload loads the "file" form field into a table.
func (s *server) readUpload(w http.ResponseWriter, r *http.Request) (*table.Table, error) {
	limit := s.cfg.MaxUploadBytes()
	r.Body = http.MaxBytesReader(w, r.Body, limit+formOverhead)
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return nil, s.tooLarge()
		}
		return nil, &uploadError{http.StatusBadRequest, "FILE_REQUIRED", errors.New("choose a CSV file to upload")}
	}
	defer file.Close()
	if header.Size > limit {
		return nil, s.tooLarge()
	}
	return s.loadFile(file, header)
}

func (s *server) tooLarge() error {
	return &uploadError{http.StatusRequestEntityTooLarge, "UPLOAD_TOO_LARGE", fmt.Errorf("file is larger than %d MB", s.cfg.MaxUploadMB)}
}

func (s *server) loadFile(file multipart.File, header *multipart.FileHeader) (*table.Table, error) {
	name := filepath.Base(header.Filename)
	if !allowedExt[strings.ToLower(filepath.Ext(name))] {
		err := &table.ParseError{Name: name, Err: errors.New("unsupported file type (use .csv, .tsv, .txt or .xlsx)")}
		observability.ObserveUpload(0, err)
		return nil, &uploadError{http.StatusUnsupportedMediaType, "UNSUPPORTED_FILE", err}
	}
	opt := table.DefaultLoadOptions()
	opt.MaxRows = s.cfg.MaxRows
	t, err := table.Load(file, name, opt)
	observability.ObserveUpload(rowsOf(t), err)
	if err != nil {
		f := analyst.Classify(err)
		return nil, &uploadError{http.StatusUnprocessableEntity, failureCode(f), errors.New(f.Message())}
	}
	return t, nil
}

func rowsOf(t *table.Table) int {
	if t == nil {
		return 0
	}
	return t.NumRows()
}

type askRequest struct {
	Question string `json:"question"`
	Mode     string `json:"mode"`
}

// ask runs one question for sess and records the answer on it.
func (s *server) ask(ctx context.Context, sess session.Session, req askRequest) (*answerView, error) {
	if s.deps.Analyst == nil {
		return nil, errors.New("no language model configured")
	}
	mode, _ := analyst.ParseMode(req.Mode)
	question := strings.TrimSpace(req.Question)
	if mode == analyst.ModeDirect {
		d := &session.Direct{Question: question}
		text, err := s.deps.Analyst.Answer(ctx, sess.Table, question)
		if err != nil {
			d.Err = analyst.Classify(err)
		} else {
			d.Text = text
		}
		s.deps.Sessions.Update(sess.ID, func(x *session.Session) {
			if x.Table != sess.Table {
				return
			}
			x.Mode, x.Direct, x.Last = mode, d, nil
		})
		return newDirectView(d), nil
	}
	c := s.deps.Analyst.Ask(ctx, sess.Table, question)
	s.deps.Sessions.Update(sess.ID, func(x *session.Session) {
		// a table uploaded while the cycle ran replaces this answer
		if x.Table != sess.Table {
			return
		}
		x.Mode, x.Last, x.Direct = mode, c, nil
	})
	return newCycleView(c, s.cfg.DisplayMaxRows), nil
}

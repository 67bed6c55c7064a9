package web

import (
	"embed"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"strings"

	"github.com/KaramelBytes/csv-analyst/internal/chart"
	"github.com/KaramelBytes/csv-analyst/internal/session"
	"github.com/KaramelBytes/csv-analyst/internal/table"
)

//go:embed templates/*.html
var templateFS embed.FS

var templateFuncs = template.FuncMap{
	"add": func(a, b int) int { return a + b },
	"cell": func(v any) string {
		switch x := v.(type) {
		case nil:
			return "NaN"
		case float64:
			return table.FormatNumber(x)
		default:
			return fmt.Sprint(x)
		}
	},
	// svg marks chart markup as safe; chart.SVG escapes every label.
	"svg": func(s string) template.HTML { return template.HTML(s) },
}

var pages = template.Must(template.New("index.html").Funcs(templateFuncs).ParseFS(templateFS, "templates/*.html"))

// ChartKinds are the sidebar chart choices.
var ChartKinds = []string{"None", "Line Chart", "Bar Chart", "Heatmap"}

type pageData struct {
	Flash   string
	Preview *previewView
	Mode    string

	ChartKinds   []string
	Chart        session.ChartPrefs
	AllColumns   []string
	NumericCols  []string
	ChartSVG     string
	ChartWarning string

	Answer *answerView
}

func (s *server) handlePage(w http.ResponseWriter, r *http.Request) {
	sess := s.deps.Sessions.Ensure(w, r)
	if sess.Flash != "" {
		s.deps.Sessions.Update(sess.ID, func(x *session.Session) { x.Flash = "" })
	}
	data := pageData{Flash: sess.Flash, Mode: sess.Mode, ChartKinds: ChartKinds, Chart: sess.Chart}
	if t := sess.Table; t != nil {
		pv := newPreviewView(t)
		data.Preview = &pv
		data.AllColumns = t.ColumnNames()
		for _, c := range t.Columns() {
			if c.Kind == table.KindNumeric {
				data.NumericCols = append(data.NumericCols, c.Name)
			}
		}
		s.pageChart(&data, t)
	}
	switch {
	case sess.Last != nil:
		data.Answer = newCycleView(sess.Last, s.cfg.DisplayMaxRows)
	case sess.Direct != nil:
		data.Answer = newDirectView(sess.Direct)
	}
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := pages.ExecuteTemplate(w, "index.html", data); err != nil {
		s.log.ErrorContext(r.Context(), "template error", "error", err)
	}
}

func (s *server) pageChart(data *pageData, t *table.Table) {
	kind := data.Chart.Kind
	if kind == "" || kind == "None" {
		return
	}
	if kind != "Heatmap" && (data.Chart.X == "" || data.Chart.Y == "") {
		return
	}
	fig, err := buildChart(t, kind, data.Chart.X, data.Chart.Y)
	switch {
	case errors.Is(err, chart.ErrNoNumericColumns):
		data.ChartWarning = "No numeric columns found for heatmap."
	case err != nil:
		data.ChartWarning = err.Error()
	default:
		data.ChartSVG = chart.SVG(fig)
	}
}

func (s *server) flash(id, msg string) {
	s.deps.Sessions.Update(id, func(x *session.Session) { x.Flash = msg })
}

func redirectHome(w http.ResponseWriter, r *http.Request, anchor string) {
	http.Redirect(w, r, "/"+anchor, http.StatusSeeOther)
}

func (s *server) handleUploadForm(w http.ResponseWriter, r *http.Request) {
	sess := s.deps.Sessions.Ensure(w, r)
	t, err := s.readUpload(w, r)
	if err != nil {
		s.flash(sess.ID, err.Error())
		redirectHome(w, r, "")
		return
	}
	s.deps.Sessions.SetTable(sess.ID, t)
	s.log.InfoContext(r.Context(), "table uploaded", "session_id", sess.ID, "name", t.Name(), "rows", t.NumRows())
	redirectHome(w, r, "#preview")
}

func (s *server) handleChartForm(w http.ResponseWriter, r *http.Request) {
	sess := s.deps.Sessions.Ensure(w, r)
	prefs := session.ChartPrefs{Kind: r.FormValue("kind"), X: r.FormValue("x"), Y: r.FormValue("y")}
	s.deps.Sessions.Update(sess.ID, func(x *session.Session) { x.Chart = prefs })
	redirectHome(w, r, "#chart")
}

func (s *server) handleAskForm(w http.ResponseWriter, r *http.Request) {
	sess := s.deps.Sessions.Ensure(w, r)
	req := askRequest{Question: strings.TrimSpace(r.FormValue("question")), Mode: r.FormValue("mode")}
	switch {
	case sess.Table == nil:
		s.flash(sess.ID, "Please upload a CSV file to get started.")
	case req.Question == "":
		s.flash(sess.ID, "Type a question first.")
	case !s.deps.Sessions.AllowAsk(sess.ID):
		s.flash(sess.ID, "Too many questions; wait a moment and try again.")
	default:
		if _, err := s.ask(r.Context(), sess, req); err != nil {
			s.flash(sess.ID, err.Error())
		}
	}
	redirectHome(w, r, "#answer")
}

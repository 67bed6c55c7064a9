package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KaramelBytes/csv-analyst/internal/ai"
	"github.com/KaramelBytes/csv-analyst/internal/analyst"
	"github.com/KaramelBytes/csv-analyst/internal/config"
	"github.com/KaramelBytes/csv-analyst/internal/session"
	"github.com/KaramelBytes/csv-analyst/internal/table"
)

const salesCSV = `region,product,amount,units
North,Widget,10,1
South,Gadget,20,2
North,Gadget,15,3
East,Widget,,4
South,Widget,15,5
`

type reply struct {
	text string
	err  error
}

type scriptedRuntime struct {
	mu      sync.Mutex
	replies []reply
	calls   int
	// onCall runs before each reply is returned
	onCall func()
}

func (s *scriptedRuntime) Generate(_ context.Context, _ ai.GenerateRequest) (*ai.GenerateResponse, error) {
	if s.onCall != nil {
		s.onCall()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if len(s.replies) == 0 {
		return nil, errors.New("unexpected call")
	}
	r := s.replies[0]
	s.replies = s.replies[1:]
	if r.err != nil {
		return nil, r.err
	}
	return &ai.GenerateResponse{Choices: []ai.Choice{{Message: ai.Message{Content: r.text}}}}, nil
}

func testConfig() *config.Global {
	return &config.Global{
		MaxUploadMB:    1,
		MaxRows:        1000,
		DisplayMaxRows: 3,
		SessionTTLMin:  60,
		AskRatePerMin:  0,
		AskBurst:       1,
	}
}

type harness struct {
	t      *testing.T
	h      http.Handler
	rt     *scriptedRuntime
	cookie *http.Cookie
}

func newHarness(t *testing.T, cfg *config.Global, store *session.Store, replies ...reply) *harness {
	t.Helper()
	rt := &scriptedRuntime{replies: replies}
	h := NewHandler(cfg, Dependencies{Analyst: analyst.New(rt, "test-model"), Sessions: store})
	return &harness{t: t, h: h, rt: rt}
}

func (hs *harness) do(req *http.Request) *httptest.ResponseRecorder {
	hs.t.Helper()
	if hs.cookie != nil {
		req.AddCookie(hs.cookie)
	}
	rr := httptest.NewRecorder()
	hs.h.ServeHTTP(rr, req)
	for _, c := range rr.Result().Cookies() {
		if c.Name == session.CookieName {
			hs.cookie = c
		}
	}
	return rr
}

func multipartBody(t *testing.T, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if filename != "" {
		fw, err := mw.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = fw.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func (hs *harness) upload(path, filename string, content []byte) *httptest.ResponseRecorder {
	body, ctype := multipartBody(hs.t, filename, content)
	req := httptest.NewRequest(http.MethodPost, path, body)
	req.Header.Set("Content-Type", ctype)
	return hs.do(req)
}

func (hs *harness) askJSON(question, mode string) *httptest.ResponseRecorder {
	b, _ := json.Marshal(map[string]string{"question": question, "mode": mode})
	req := httptest.NewRequest(http.MethodPost, "/api/ask", bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	return hs.do(req)
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out), rr.Body.String())
	return out
}

func TestHealthAndMetrics(t *testing.T) {
	hs := newHarness(t, testConfig(), nil)

	rr := hs.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok", decode(t, rr)["status"])
	assert.NotEmpty(t, rr.Header().Get("X-Trace-ID"))

	hs.do(httptest.NewRequest(http.MethodGet, "/api/preview", nil))
	rr = hs.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "csvanalyst_http_requests_total")
}

func TestUploadAndPreview(t *testing.T) {
	hs := newHarness(t, testConfig(), nil)

	rr := hs.upload("/api/upload", "sales.csv", []byte(salesCSV))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.NotNil(t, hs.cookie)
	body := decode(t, rr)
	assert.Equal(t, "sales.csv", body["name"])
	assert.EqualValues(t, 5, body["rows"])
	assert.EqualValues(t, 4, body["cols"])

	rr = hs.do(httptest.NewRequest(http.MethodGet, "/api/preview", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	head := decode(t, rr)["head"].(map[string]any)
	rows := head["rows"].([]any)
	assert.Len(t, rows, 5)
	assert.Nil(t, rows[3].([]any)[2], "missing amount is null")
	assert.Equal(t, []any{"region", "product", "amount", "units"}, head["columns"])
}

func TestPreviewWithoutTable(t *testing.T) {
	hs := newHarness(t, testConfig(), nil)
	rr := hs.do(httptest.NewRequest(http.MethodGet, "/api/preview", nil))
	require.Equal(t, http.StatusConflict, rr.Code)
	body := decode(t, rr)
	assert.Equal(t, "NO_TABLE", body["error_code"])
	assert.Equal(t, false, body["retryable"])
	assert.NotEmpty(t, body["trace_id"])
}

func TestUploadRejections(t *testing.T) {
	cases := []struct {
		name     string
		filename string
		content  []byte
		status   int
		code     string
	}{
		{"missing file", "", nil, http.StatusBadRequest, "FILE_REQUIRED"},
		{"wrong type", "data.json", []byte(`{"a":1}`), http.StatusUnsupportedMediaType, "UNSUPPORTED_FILE"},
		{"malformed", "bad.csv", []byte("a,b\n\"x,1\n"), http.StatusUnprocessableEntity, "PARSE_FAILURE"},
		{"empty", "empty.csv", []byte(""), http.StatusUnprocessableEntity, "PARSE_FAILURE"},
		{"too large", "big.csv", bytes.Repeat([]byte("a,b\n"), 400_000), http.StatusRequestEntityTooLarge, "UPLOAD_TOO_LARGE"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			hs := newHarness(t, testConfig(), nil)
			rr := hs.upload("/api/upload", tc.filename, tc.content)
			require.Equal(t, tc.status, rr.Code, rr.Body.String())
			assert.Equal(t, tc.code, decode(t, rr)["error_code"])
		})
	}
}

func TestAskQueryMode(t *testing.T) {
	hs := newHarness(t, testConfig(), nil,
		reply{text: "```python\ndf['amount'].mean()\n```"},
		reply{text: "The average sale is 15."},
	)
	hs.upload("/api/upload", "sales.csv", []byte(salesCSV))

	rr := hs.askJSON("What is the average amount?", "query")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	body := decode(t, rr)
	assert.Equal(t, "done", body["state"])
	assert.Equal(t, "df['amount'].mean()", body["expression"])
	result := body["result"].(map[string]any)
	assert.Equal(t, "scalar", result["kind"])
	assert.EqualValues(t, 15, result["scalar"])
	assert.Equal(t, "The average sale is 15.", body["summary"])
	assert.Nil(t, body["error"])
	assert.Len(t, body["history"], 6)
}

func TestAskDiscardedAfterReupload(t *testing.T) {
	store := session.NewStore(time.Hour, 0, 1)
	hs := newHarness(t, testConfig(), store,
		reply{text: "df['amount'].mean()"},
		reply{text: "The average sale is 15."},
		reply{text: "North leads."},
	)
	hs.upload("/api/upload", "sales.csv", []byte(salesCSV))
	require.NotNil(t, hs.cookie)

	fresh, err := table.Load(strings.NewReader("a,b\n1,2\n"), "other.csv", table.DefaultLoadOptions())
	require.NoError(t, err)
	var once sync.Once
	hs.rt.onCall = func() {
		once.Do(func() { store.SetTable(hs.cookie.Value, fresh) })
	}

	rr := hs.askJSON("What is the average amount?", "query")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	sess, ok := store.Get(hs.cookie.Value)
	require.True(t, ok)
	assert.Same(t, fresh, sess.Table)
	assert.Nil(t, sess.Last)

	hs.upload("/api/upload", "sales.csv", []byte(salesCSV))
	once = sync.Once{}
	rr = hs.askJSON("Which region leads?", "direct")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	sess, _ = store.Get(hs.cookie.Value)
	assert.Same(t, fresh, sess.Table)
	assert.Nil(t, sess.Direct)
}

func TestAskTruncatesLargeTables(t *testing.T) {
	hs := newHarness(t, testConfig(), nil,
		reply{text: "df | sort units desc"},
		reply{text: "Sorted."},
	)
	hs.upload("/api/upload", "sales.csv", []byte(salesCSV))

	body := decode(t, hs.askJSON("sort by units", ""))
	tbl := body["result"].(map[string]any)["table"].(map[string]any)
	assert.Equal(t, true, tbl["truncated"])
	assert.EqualValues(t, 5, tbl["total_rows"])
	assert.Len(t, tbl["rows"], 3)
	assert.Equal(t, "South", tbl["rows"].([]any)[0].([]any)[0])
}

func TestAskSummaryFailureKeepsResult(t *testing.T) {
	hs := newHarness(t, testConfig(), nil,
		reply{text: "df | count"},
		reply{err: &ai.ServerError{APIError: &ai.APIError{StatusCode: 503}}},
	)
	hs.upload("/api/upload", "sales.csv", []byte(salesCSV))

	rr := hs.askJSON("how many rows?", "query")
	require.Equal(t, http.StatusOK, rr.Code)
	body := decode(t, rr)
	assert.EqualValues(t, 5, body["result"].(map[string]any)["scalar"])
	summaryErr := body["summary_error"].(map[string]any)
	assert.Equal(t, "TRANSPORT_FAILURE", summaryErr["error_code"])
	assert.Equal(t, true, summaryErr["retryable"])
	assert.Nil(t, body["error"])
}

func TestAskFailuresAreReported(t *testing.T) {
	hs := newHarness(t, testConfig(), nil,
		reply{text: "import os; os.remove('sales.csv')"},
		reply{text: "Sure! Here is what I found."},
	)
	hs.upload("/api/upload", "sales.csv", []byte(salesCSV))

	body := decode(t, hs.askJSON("delete it", "query"))
	assert.Equal(t, "evaluation_failed", body["state"])
	assert.Equal(t, "EVALUATION_FAILURE", body["error"].(map[string]any)["error_code"])
	assert.Nil(t, body["result"])

	body = decode(t, hs.askJSON("anything", "query"))
	assert.Equal(t, "SYNTAX_FAILURE", body["error"].(map[string]any)["error_code"])
	assert.Equal(t, 2, hs.rt.calls, "no summary call after failed evaluations")
}

func TestAskDirectMode(t *testing.T) {
	hs := newHarness(t, testConfig(), nil, reply{text: "South sells the most."})
	hs.upload("/api/upload", "sales.csv", []byte(salesCSV))

	body := decode(t, hs.askJSON("Which region sells most?", "direct"))
	assert.Equal(t, "direct", body["mode"])
	assert.Equal(t, "South sells the most.", body["answer"])
	assert.Nil(t, body["expression"])
}

func TestAskFigureDoesNotLeak(t *testing.T) {
	hs := newHarness(t, testConfig(), nil,
		reply{text: "df | plot bar region, amount"},
		reply{text: "A chart."},
		reply{text: "df | count"},
		reply{text: "Five."},
	)
	hs.upload("/api/upload", "sales.csv", []byte(salesCSV))

	first := decode(t, hs.askJSON("plot", "query"))["result"].(map[string]any)
	assert.Contains(t, first["svg"], "<svg")
	second := decode(t, hs.askJSON("count", "query"))["result"].(map[string]any)
	assert.Nil(t, second["svg"])
	assert.Nil(t, second["figure"])
}

func TestAskValidation(t *testing.T) {
	hs := newHarness(t, testConfig(), nil)

	rr := hs.askJSON("q", "query")
	assert.Equal(t, http.StatusConflict, rr.Code, "no table yet")

	hs.upload("/api/upload", "sales.csv", []byte(salesCSV))
	rr = hs.do(httptest.NewRequest(http.MethodPost, "/api/ask", strings.NewReader("{not json")))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "INVALID_JSON", decode(t, rr)["error_code"])

	rr = hs.askJSON("   ", "query")
	assert.Equal(t, "QUESTION_REQUIRED", decode(t, rr)["error_code"])

	rr = hs.askJSON("q", "telepathy")
	assert.Equal(t, "INVALID_MODE", decode(t, rr)["error_code"])
	assert.Equal(t, 0, hs.rt.calls)
}

func TestAskRateLimited(t *testing.T) {
	cfg := testConfig()
	store := session.NewStore(time.Hour, 1, 1)
	hs := newHarness(t, cfg, store, reply{text: "df | count"}, reply{text: "Five."})
	hs.upload("/api/upload", "sales.csv", []byte(salesCSV))

	require.Equal(t, http.StatusOK, hs.askJSON("count", "query").Code)
	rr := hs.askJSON("count again", "query")
	require.Equal(t, http.StatusTooManyRequests, rr.Code)
	body := decode(t, rr)
	assert.Equal(t, "RATE_LIMITED", body["error_code"])
	assert.Equal(t, true, body["retryable"])
}

func TestChartAPI(t *testing.T) {
	hs := newHarness(t, testConfig(), nil)
	hs.upload("/api/upload", "sales.csv", []byte(salesCSV))

	rr := hs.do(httptest.NewRequest(http.MethodGet, "/api/chart?kind=Bar+Chart&x=units&y=amount", nil))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	body := decode(t, rr)
	assert.Contains(t, body["svg"], "<svg")
	fig := body["figure"].(map[string]any)
	assert.Equal(t, "bar", fig["kind"])
	assert.Len(t, fig["y"], 4, "the row with a missing amount is dropped")

	rr = hs.do(httptest.NewRequest(http.MethodGet, "/api/chart?kind=Heatmap", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	rr = hs.do(httptest.NewRequest(http.MethodGet, "/api/chart?kind=Pie", nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "INVALID_CHART", decode(t, rr)["error_code"])

	hs.upload("/api/upload", "words.csv", []byte("a,b\nx,y\nz,w\n"))
	rr = hs.do(httptest.NewRequest(http.MethodGet, "/api/chart?kind=Heatmap", nil))
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	assert.Equal(t, "NO_NUMERIC_COLUMNS", decode(t, rr)["error_code"])
}

func postForm(path string, values url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func TestBrowserFlow(t *testing.T) {
	hs := newHarness(t, testConfig(), nil,
		reply{text: "df | group by region | agg sum(amount) as total"},
		reply{text: "South leads with 35."},
	)

	page := hs.do(httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, page.Code)
	assert.Contains(t, page.Body.String(), "Please upload a CSV file to get started.")

	rr := hs.upload("/upload", "sales.csv", []byte(salesCSV))
	require.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Equal(t, "/#preview", rr.Header().Get("Location"))

	hs.do(postForm("/chart", url.Values{"kind": {"Line Chart"}, "x": {"units"}, "y": {"amount"}}))
	rr = hs.do(postForm("/ask", url.Values{"question": {"Total by <b>region</b>?"}, "mode": {"query"}}))
	require.Equal(t, http.StatusSeeOther, rr.Code)

	html := hs.do(httptest.NewRequest(http.MethodGet, "/", nil)).Body.String()
	assert.Contains(t, html, "Data Preview")
	assert.Contains(t, html, "sales.csv: 5 rows")
	assert.Contains(t, html, `class="chart chart-line"`)
	assert.Contains(t, html, "df | group by region | agg sum(amount) as total")
	assert.Contains(t, html, "South leads with 35.")
	assert.Contains(t, html, "Total by &lt;b&gt;region&lt;/b&gt;?")
	assert.NotContains(t, html, "<b>region</b>")
}

func TestBrowserHeatmapWarningAndFlash(t *testing.T) {
	hs := newHarness(t, testConfig(), nil)

	hs.do(postForm("/ask", url.Values{"question": {"anything"}}))
	html := hs.do(httptest.NewRequest(http.MethodGet, "/", nil)).Body.String()
	assert.Contains(t, html, `class="flash">Please upload a CSV file to get started.`)
	html = hs.do(httptest.NewRequest(http.MethodGet, "/", nil)).Body.String()
	assert.NotContains(t, html, `class="flash"`, "flash is shown once")

	hs.upload("/upload", "words.csv", []byte("a,b\nx,y\n"))
	hs.do(postForm("/chart", url.Values{"kind": {"Heatmap"}}))
	html = hs.do(httptest.NewRequest(http.MethodGet, "/", nil)).Body.String()
	assert.Contains(t, html, "No numeric columns found for heatmap.")
}

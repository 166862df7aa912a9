package web

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"minder-cli/internal/model"
	"minder-cli/internal/perm"
	"minder-cli/internal/store"

	"github.com/stretchr/testify/require"
)

type fixture struct {
	srv     *Server
	db      *store.SQLite
	project model.Project
	h       http.Handler
}

func newFixture(t *testing.T, mod func(*ServerConfig)) *fixture {
	t.Helper()
	ctx := context.Background()
	db, err := store.Store{Dir: t.TempDir()}.Open(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	p, err := db.CreateProject(ctx, "Home")
	require.NoError(t, err)

	cfg := ServerConfig{Store: db, Project: p, Filter: model.FilterAll, PollInterval: 20 * time.Millisecond}
	if mod != nil {
		mod(&cfg)
	}
	srv, err := NewServer(cfg)
	require.NoError(t, err)
	return &fixture{srv: srv, db: db, project: p, h: srv.Handler()}
}

func (f *fixture) do(t *testing.T, method, target string, form url.Values, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req := httptest.NewRequest(method, target, body)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	rec := httptest.NewRecorder()
	f.h.ServeHTTP(rec, req)
	return rec
}

type itemResp struct {
	Data model.Item `json:"data"`
}

func (f *fixture) create(t *testing.T, form url.Values) model.Item {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/api/items", form, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var out itemResp
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out.Data
}

func TestRenderOutlineHTML(t *testing.T) {
	md := "# Home\n\n- [x] paid rent\n- [ ] read https://example.com <script>alert(1)</script>\n"
	out, err := renderOutlineHTML(md)
	require.NoError(t, err)
	html := string(out)
	require.Contains(t, html, `<h1 id="home">Home</h1>`)
	require.Contains(t, html, `checked=""`)
	require.Contains(t, html, `<a href="https://example.com">`)
	require.NotContains(t, html, "<script>")
}

func TestHealth(t *testing.T) {
	f := newFixture(t, func(c *ServerConfig) { c.Secret = []byte("s3cret") })
	rec := f.do(t, http.MethodGet, "/health", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok\n", rec.Body.String())
}

func TestNewServerValidates(t *testing.T) {
	_, err := NewServer(ServerConfig{})
	require.ErrorContains(t, err, "store")

	f := newFixture(t, nil)
	_, err = NewServer(ServerConfig{Store: f.db, Project: f.project, Filter: "someday"})
	require.Error(t, err)
	require.Equal(t, "127.0.0.1:7070", f.srv.Addr())
}

func TestViewAndItemAPI(t *testing.T) {
	f := newFixture(t, nil)
	p := f.create(t, url.Values{"text": {"groceries"}})
	k := f.create(t, url.Values{"text": {"buy milk"}, "parent": {p.ID}})
	require.Equal(t, p.ID, k.Parent())
	after := f.create(t, url.Values{"text": {"call mom"}})
	require.Equal(t, "", after.Parent())

	rec := f.do(t, http.MethodGet, "/api/view?outline=1", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var rows struct {
		Data []struct {
			Item  model.Item `json:"item"`
			Depth int        `json:"depth"`
		} `json:"data"`
		Meta map[string]any `json:"meta"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rows))
	require.Len(t, rows.Data, 3)
	require.Equal(t, []string{p.ID, k.ID, after.ID}, []string{rows.Data[0].Item.ID, rows.Data[1].Item.ID, rows.Data[2].Item.ID})
	require.Equal(t, 1, rows.Data[1].Depth)
	require.Equal(t, "all", rows.Meta["filter"])

	rec = f.do(t, http.MethodGet, "/api/view?root="+p.ID+"&format=yaml", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/yaml", rec.Header().Get("Content-Type"))
	require.Contains(t, rec.Body.String(), "buy milk")
	require.NotContains(t, rec.Body.String(), "call mom")

	rec = f.do(t, http.MethodGet, "/api/items/"+k.ID, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got itemResp
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, "buy milk", got.Data.Text)

	require.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/api/items/item-missing", nil, nil).Code)
	require.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/api/view?filter=someday", nil, nil).Code)
	require.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/api/view?format=xml", nil, nil).Code)
	require.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/api/items", url.Values{"text": {" "}}, nil).Code)
	require.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/api/items", url.Values{"text": {"x"}, "after": {p.ID}, "parent": {p.ID}}, nil).Code)
	require.Equal(t, http.StatusNotFound, f.do(t, http.MethodPost, "/api/items", url.Values{"text": {"x"}, "parent": {"item-missing"}}, nil).Code)
}

func TestSetStateChecksVersion(t *testing.T) {
	f := newFixture(t, nil)
	it := f.create(t, url.Values{"text": {"buy milk"}})

	stale := it.UpdatedAt.Add(-time.Hour).Format(time.RFC3339Nano)
	rec := f.do(t, http.MethodPost, "/api/items/"+it.ID+"/state", url.Values{"state": {"cur"}, "version": {stale}}, nil)
	require.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())
	require.Contains(t, rec.Body.String(), "conflict")

	rec = f.do(t, http.MethodPost, "/api/items/"+it.ID+"/state", url.Values{"state": {"cur"}, "version": {it.UpdatedAt.Format(time.RFC3339Nano)}}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var got itemResp
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, model.StateCur, got.Data.State)

	rec = f.do(t, http.MethodPost, "/api/items/"+it.ID+"/text", url.Values{"text": {"buy oat milk"}}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, "buy oat milk", got.Data.Text)

	require.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/api/items/"+it.ID+"/state", url.Values{"state": {"someday"}}, nil).Code)
	require.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/api/items/"+it.ID+"/state", url.Values{"state": {"cur"}, "version": {"yesterday"}}, nil).Code)
	require.Equal(t, http.StatusNotFound, f.do(t, http.MethodPost, "/api/items/item-missing/state", url.Values{"state": {"cur"}}, nil).Code)
}

func TestSnooze(t *testing.T) {
	now := time.Date(2025, 12, 20, 9, 0, 0, 0, time.UTC)
	f := newFixture(t, func(c *ServerConfig) { c.Now = func() time.Time { return now } })
	it := f.create(t, url.Values{"text": {"call the bank"}})

	rec := f.do(t, http.MethodPost, "/api/items/"+it.ID+"/snooze", url.Values{"for": {"2h"}}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var got itemResp
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, model.StateWaiting, got.Data.State)
	require.NotNil(t, got.Data.SnoozeTil)
	require.True(t, got.Data.SnoozeTil.Equal(now.Add(2*time.Hour)), got.Data.SnoozeTil)

	require.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/api/items/"+it.ID+"/snooze", url.Values{"for": {"-1h"}}, nil).Code)
}

func TestHomeRendersOutline(t *testing.T) {
	f := newFixture(t, nil)
	p := f.create(t, url.Values{"text": {"groceries"}})
	k := f.create(t, url.Values{"text": {"<b>buy</b> milk"}, "parent": {p.ID}})
	rec := f.do(t, http.MethodPost, "/api/items/"+k.ID+"/state", url.Values{"state": {"done"}}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	require.Contains(t, body, "<title>Home · Minder</title>")
	require.Contains(t, body, `id="outline"`)
	require.Contains(t, body, "groceries")
	require.Contains(t, body, `type="checkbox"`)
	require.Contains(t, body, `checked=""`)
	require.NotContains(t, body, "<b>buy</b>")
	require.Contains(t, body, `class="active">all</a>`)

	// New items stay visible everywhere for a grace period; park the parent.
	rec = f.do(t, http.MethodPost, "/api/items/"+p.ID+"/state", url.Values{"state": {"later"}}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = f.do(t, http.MethodGet, "/?filter=focus", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "Nothing visible")
	require.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/nope", nil, nil).Code)
}

func TestReadOnlyRefusesWrites(t *testing.T) {
	f := newFixture(t, func(c *ServerConfig) { c.ReadOnly = true })
	rec := f.do(t, http.MethodPost, "/api/items", url.Values{"text": {"x"}}, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/api/view", nil, nil).Code)
}

func TestTokenAuth(t *testing.T) {
	secret := []byte("s3cret")
	f := newFixture(t, func(c *ServerConfig) { c.Secret = secret })

	readTok, _, err := NewSessionToken(secret, f.project.ID, perm.ScopeRead, time.Hour)
	require.NoError(t, err)
	writeTok, _, err := NewSessionToken(secret, f.project.ID, perm.ScopeWrite, time.Hour)
	require.NoError(t, err)
	bearer := func(tok string) http.Header { return http.Header{"Authorization": {"Bearer " + tok}} }

	require.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodGet, "/api/view", nil, nil).Code)
	require.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodGet, "/api/view", nil, bearer("garbage")).Code)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/api/view", nil, bearer(readTok)).Code)
	require.Equal(t, http.StatusForbidden, f.do(t, http.MethodPost, "/api/items", url.Values{"text": {"x"}}, bearer(readTok)).Code)
	require.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/api/items", url.Values{"text": {"x"}}, bearer(writeTok)).Code)

	rec := f.do(t, http.MethodGet, "/?token="+url.QueryEscape(readTok), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	require.Equal(t, sessionCookie, cookies[0].Name)
	require.Equal(t, readTok, cookies[0].Value)
	require.True(t, cookies[0].HttpOnly)

	rec = f.do(t, http.MethodGet, "/api/view", nil, http.Header{"Cookie": {sessionCookie + "=" + readTok}})
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestVerifyToken(t *testing.T) {
	secret := []byte("s3cret")
	tok, exp, err := NewSessionToken(secret, "proj-1", perm.ScopeRead, time.Hour)
	require.NoError(t, err)

	sp, err := verifyToken(secret, tok, time.Now())
	require.NoError(t, err)
	require.Equal(t, "proj-1", sp.Sub)
	require.Equal(t, "read", sp.Scope)
	require.Equal(t, exp.Unix(), sp.Exp)

	_, err = verifyToken(secret, tok, exp.Add(time.Minute))
	require.ErrorContains(t, err, "expired")
	_, err = verifyToken([]byte("other"), tok, time.Now())
	require.ErrorContains(t, err, "signature")
	_, err = verifyToken(secret, "no-dot", time.Now())
	require.ErrorContains(t, err, "format")

	_, _, err = NewSessionToken(secret, " ", perm.ScopeRead, time.Hour)
	require.Error(t, err)
	_, _, err = NewSessionToken(secret, "proj-1", perm.ScopeRead, 0)
	require.Error(t, err)
}

func TestLoadOrInitSecretIsStable(t *testing.T) {
	dir := t.TempDir()
	a, err := LoadOrInitSecret(dir)
	require.NoError(t, err)
	require.NotEmpty(t, a)
	b, err := LoadOrInitSecret(dir)
	require.NoError(t, err)
	require.Equal(t, a, b)
}

// lineWaiter collects an SSE body line by line.
type lineWaiter struct {
	lines chan string
}

func newLineWaiter(r io.Reader) *lineWaiter {
	w := &lineWaiter{lines: make(chan string, 256)}
	go func() {
		defer close(w.lines)
		sc := bufio.NewScanner(r)
		sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for sc.Scan() {
			w.lines <- sc.Text()
		}
	}()
	return w
}

func (w *lineWaiter) waitFor(t *testing.T, substr string) {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ln, ok := <-w.lines:
			require.True(t, ok, "stream closed before %q", substr)
			if strings.Contains(ln, substr) {
				return
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %q", substr)
		}
	}
}

func TestEventsStreamsChanges(t *testing.T) {
	f := newFixture(t, nil)
	ts := httptest.NewServer(f.h)
	t.Cleanup(ts.Close)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/events", nil)
	require.NoError(t, err)
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	lines := newLineWaiter(resp.Body)
	lines.waitFor(t, "Nothing visible")

	post, err := ts.Client().PostForm(ts.URL+"/api/items", url.Values{"text": {"buy milk"}})
	require.NoError(t, err)
	_ = post.Body.Close()
	require.Equal(t, http.StatusCreated, post.StatusCode)
	lines.waitFor(t, "buy milk")
}

func TestWatchLoopSeesOutsideWrites(t *testing.T) {
	f := newFixture(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go f.srv.watchLoop(ctx)

	ch, unsubscribe := f.srv.hub.subscribe()
	t.Cleanup(unsubscribe)

	// Let the loop read the starting sequence before writing.
	time.Sleep(50 * time.Millisecond)
	_, err := f.db.Create(context.Background(), model.NewItem{ProjectID: f.project.ID, Text: "from the cli", State: model.StateNew})
	require.NoError(t, err)

	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatal("no broadcast after an outside write")
	}
}

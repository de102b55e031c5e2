/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Seednode/jeopardy/trivia"
	"github.com/gorilla/websocket"
)

// testAPI is a jService lookalike serving count categories of clues clues.
type testAPI struct {
	srv   *httptest.Server
	fail  atomic.Bool
	hits  atomic.Int32
	delay atomic.Int64
}

func newTestAPI(t *testing.T, count, clues int) *testAPI {
	t.Helper()

	api := &testAPI{}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/categories", func(w http.ResponseWriter, r *http.Request) {
		api.hits.Add(1)
		if d := time.Duration(api.delay.Load()); d > 0 {
			select {
			case <-time.After(d):
			case <-r.Context().Done():
				return
			}
		}
		if api.fail.Load() {
			http.Error(w, "upstream down", http.StatusBadGateway)
			return
		}

		pool := make([]trivia.CategorySummary, 0, count)
		for id := 1; id <= count; id++ {
			pool = append(pool, trivia.CategorySummary{ID: id, Title: fmt.Sprintf("category %d", id), CluesCount: clues})
		}
		_ = json.NewEncoder(w).Encode(pool)
	})
	mux.HandleFunc("/api/category", func(w http.ResponseWriter, r *http.Request) {
		api.hits.Add(1)
		if api.fail.Load() {
			http.Error(w, "upstream down", http.StatusBadGateway)
			return
		}

		id, err := strconv.Atoi(r.URL.Query().Get("id"))
		if err != nil || id < 1 || id > count {
			http.NotFound(w, r)
			return
		}

		data := trivia.CategoryData{ID: id, Title: fmt.Sprintf("category %d", id), CluesCount: clues}
		for i := 0; i < clues; i++ {
			data.Clues = append(data.Clues, trivia.ClueData{
				ID:       id*100 + i,
				Question: fmt.Sprintf("question %d.%d", id, i),
				Answer:   fmt.Sprintf("answer %d.%d", id, i),
			})
		}
		_ = json.NewEncoder(w).Encode(data)
	})

	api.srv = httptest.NewServer(mux)
	t.Cleanup(api.srv.Close)

	return api
}

func newTestConfig() *Config {
	return &Config{
		apiTimeout:     time.Second,
		apiURL:         "http://127.0.0.1:1",
		bind:           "127.0.0.1",
		cacheTTL:       time.Hour,
		categories:     6,
		clues:          5,
		maxAttempts:    2,
		poolSize:       100,
		port:           8080,
		retryDelay:     0,
		sessionTimeout: time.Hour,
	}
}

func newTestServer(t *testing.T, cfg *Config, api *testAPI) *httptest.Server {
	t.Helper()

	cfg.apiURL = api.srv.URL

	errs := make(chan error, 64)
	svc := instrumentedService{next: newCachedService(cfg, trivia.NewClient(cfg.apiURL, cfg.apiTimeout))}

	mux, gm := newRouter(cfg, svc, errs)

	srv := httptest.NewServer(mux)
	t.Cleanup(func() {
		gm.stop()
		srv.Close()
	})

	return srv
}

type boardResponse struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	trivia.View
}

func getBoard(t *testing.T, srv *httptest.Server, game string) boardResponse {
	t.Helper()

	resp, err := http.Get(srv.URL + "/jeopardy/" + game + "/board")
	if err != nil {
		t.Fatalf("get board: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get board: status %d", resp.StatusCode)
	}

	var b boardResponse
	if err := json.NewDecoder(resp.Body).Decode(&b); err != nil {
		t.Fatalf("decode board: %v", err)
	}

	return b
}

func waitForBoard(t *testing.T, srv *httptest.Server, game string, done func(boardResponse) bool) boardResponse {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for {
		b := getBoard(t, srv, game)
		if done(b) {
			return b
		}
		if time.Now().After(deadline) {
			t.Fatalf("board never reached expected state, last: %+v", b.View)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func post(t *testing.T, url string, out any) int {
	t.Helper()

	resp, err := http.Post(url, "application/json", nil)
	if err != nil {
		t.Fatalf("post %s: %v", url, err)
	}
	defer resp.Body.Close()

	if out != nil && strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}

	return resp.StatusCode
}

func TestRedirectNewGame(t *testing.T) {
	srv := newTestServer(t, newTestConfig(), newTestAPI(t, 10, 5))

	client := &http.Client{
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	resp, err := client.Get(srv.URL + "/jeopardy")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusTemporaryRedirect {
		t.Fatalf("expected 307, got %d", resp.StatusCode)
	}

	loc := resp.Header.Get("Location")
	id := strings.TrimPrefix(loc, "/jeopardy/")
	if len(id) != 8 || !validGameID(id) {
		t.Fatalf("unexpected redirect target %q", loc)
	}
}

func TestGameOverHTTP(t *testing.T) {
	srv := newTestServer(t, newTestConfig(), newTestAPI(t, 10, 5))
	base := srv.URL + "/jeopardy/abc123"

	if b := getBoard(t, srv, "abc123"); b.Status != trivia.StatusIdle {
		t.Fatalf("expected idle board, got %s", b.Status)
	}

	var e ErrorMessage
	if status := post(t, base+"/reveal/0/0", &e); status != http.StatusConflict {
		t.Fatalf("reveal before start: expected 409, got %d", status)
	}

	var started boardResponse
	if status := post(t, base+"/start", &started); status != http.StatusAccepted {
		t.Fatalf("start: expected 202, got %d", status)
	}
	if started.Status != trivia.StatusLoading || started.Generation != 1 {
		t.Fatalf("start: unexpected view %+v", started.View)
	}

	b := waitForBoard(t, srv, "abc123", func(b boardResponse) bool { return b.Status == trivia.StatusReady })

	if len(b.Categories) != 6 {
		t.Fatalf("expected 6 categories, got %d", len(b.Categories))
	}
	for i, cat := range b.Categories {
		if len(cat.Cells) != 5 {
			t.Fatalf("category %d has %d cells", i, len(cat.Cells))
		}
		for j, cell := range cat.Cells {
			if cell.State != trivia.Hidden || cell.Text != trivia.Placeholder || cell.Answered {
				t.Fatalf("cell %d/%d not hidden: %+v", i, j, cell)
			}
		}
	}

	var r trivia.Reveal
	if status := post(t, base+"/reveal/0/2", &r); status != http.StatusOK {
		t.Fatalf("first reveal: status %d", status)
	}
	if r.State != trivia.Question || !strings.HasPrefix(r.Text, "question ") || !r.Changed {
		t.Fatalf("first reveal: %+v", r)
	}

	if status := post(t, base+"/reveal/0/2", &r); status != http.StatusOK {
		t.Fatalf("second reveal: status %d", status)
	}
	if r.State != trivia.Answer || !strings.HasPrefix(r.Text, "answer ") || !r.Answered {
		t.Fatalf("second reveal: %+v", r)
	}
	answer := r.Text

	if status := post(t, base+"/reveal/0/2", &r); status != http.StatusOK {
		t.Fatalf("third reveal: status %d", status)
	}
	if r.State != trivia.Answer || r.Text != answer || r.Changed {
		t.Fatalf("third reveal: %+v", r)
	}

	b = getBoard(t, srv, "abc123")
	for i, cat := range b.Categories {
		for j, cell := range cat.Cells {
			if i == 0 && j == 2 {
				if cell.State != trivia.Answer || cell.Text != answer || !cell.Answered {
					t.Fatalf("revealed cell: %+v", cell)
				}
				continue
			}
			if cell.State != trivia.Hidden {
				t.Fatalf("cell %d/%d changed: %+v", i, j, cell)
			}
		}
	}

	if status := post(t, base+"/reveal/6/0", &e); status != http.StatusBadRequest {
		t.Fatalf("out of range reveal: expected 400, got %d", status)
	}
	if status := post(t, base+"/reveal/x/0", nil); status != http.StatusBadRequest {
		t.Fatalf("malformed reveal: expected 400, got %d", status)
	}
}

func TestRestartSupersedesBuild(t *testing.T) {
	srv := newTestServer(t, newTestConfig(), newTestAPI(t, 10, 5))
	base := srv.URL + "/jeopardy/restart"

	post(t, base+"/start", nil)
	post(t, base+"/start", nil)

	b := waitForBoard(t, srv, "restart", func(b boardResponse) bool { return b.Status == trivia.StatusReady })
	if b.Generation != 2 {
		t.Fatalf("expected generation 2, got %d", b.Generation)
	}
}

func TestResetDuringSlowFetch(t *testing.T) {
	api := newTestAPI(t, 10, 5)
	api.delay.Store(int64(300 * time.Millisecond))

	srv := newTestServer(t, newTestConfig(), api)
	base := srv.URL + "/jeopardy/slow"

	post(t, base+"/start", nil)
	time.Sleep(50 * time.Millisecond)
	post(t, base+"/start", nil)

	b := waitForBoard(t, srv, "slow", func(b boardResponse) bool { return b.Status != trivia.StatusLoading })
	if b.Status != trivia.StatusReady || b.Generation != 2 {
		t.Fatalf("reset board did not build: %+v", b.View)
	}
}

func TestResetLeavesOtherGamesAlone(t *testing.T) {
	api := newTestAPI(t, 10, 5)
	api.delay.Store(int64(300 * time.Millisecond))

	srv := newTestServer(t, newTestConfig(), api)

	post(t, srv.URL+"/jeopardy/gamea/start", nil)
	post(t, srv.URL+"/jeopardy/gameb/start", nil)
	time.Sleep(50 * time.Millisecond)
	post(t, srv.URL+"/jeopardy/gamea/start", nil)

	for _, game := range []string{"gamea", "gameb"} {
		b := waitForBoard(t, srv, game, func(b boardResponse) bool { return b.Status != trivia.StatusLoading })
		if b.Status != trivia.StatusReady {
			t.Fatalf("%s: expected ready, got %+v", game, b.View)
		}
	}
}

func TestBuildFailureSurfaces(t *testing.T) {
	api := newTestAPI(t, 10, 5)
	api.fail.Store(true)

	srv := newTestServer(t, newTestConfig(), api)

	post(t, srv.URL+"/jeopardy/down/start", nil)

	b := waitForBoard(t, srv, "down", func(b boardResponse) bool { return b.Status == trivia.StatusFailed })
	if !b.Retryable || b.Attempts != 2 || b.Error == "" {
		t.Fatalf("unexpected failed view: %+v", b.View)
	}
	if hits := api.hits.Load(); hits != 2 {
		t.Fatalf("expected 2 upstream requests, got %d", hits)
	}

	api.fail.Store(false)
	post(t, srv.URL+"/jeopardy/down/start", nil)

	waitForBoard(t, srv, "down", func(b boardResponse) bool { return b.Status == trivia.StatusReady })
}

func TestInsufficientCategoriesIsTerminal(t *testing.T) {
	srv := newTestServer(t, newTestConfig(), newTestAPI(t, 3, 5))

	post(t, srv.URL+"/jeopardy/few/start", nil)

	b := waitForBoard(t, srv, "few", func(b boardResponse) bool { return b.Status == trivia.StatusFailed })
	if b.Retryable || b.Attempts != 1 {
		t.Fatalf("unexpected failed view: %+v", b.View)
	}
	if !strings.Contains(b.Error, trivia.ErrInsufficientCategories.Error()) {
		t.Fatalf("unexpected error %q", b.Error)
	}
}

func TestInvalidGameID(t *testing.T) {
	srv := newTestServer(t, newTestConfig(), newTestAPI(t, 10, 5))

	for _, path := range []string{
		"/jeopardy/bad_id/board",
		"/jeopardy/" + strings.Repeat("a", 33),
	} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()

		if resp.StatusCode != http.StatusNotFound {
			t.Fatalf("%s: expected 404, got %d", path, resp.StatusCode)
		}
	}
}

func readBoard(t *testing.T, conn *websocket.Conn, done func(boardResponse) bool) boardResponse {
	t.Helper()

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	for {
		var msg boardResponse
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read: %v", err)
		}
		if done(msg) {
			return msg
		}
	}
}

func TestGameOverWebsocket(t *testing.T) {
	srv := newTestServer(t, newTestConfig(), newTestAPI(t, 10, 5))
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/jeopardy/live/ws"

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// a second screen on the same game sees the same updates
	viewer, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer viewer.Close()

	first := readBoard(t, conn, func(b boardResponse) bool { return true })
	if first.Type != "board" || first.Status != trivia.StatusIdle {
		t.Fatalf("unexpected first message: %+v", first)
	}
	readBoard(t, viewer, func(b boardResponse) bool { return true })

	if err := conn.WriteJSON(ClientMessage{Type: "start"}); err != nil {
		t.Fatal(err)
	}
	readBoard(t, conn, func(b boardResponse) bool { return b.Status == trivia.StatusReady })

	if err := conn.WriteJSON(ClientMessage{Type: "reveal", Category: 0, Clue: 2}); err != nil {
		t.Fatal(err)
	}
	b := readBoard(t, conn, func(b boardResponse) bool {
		return b.Status == trivia.StatusReady && b.Categories[0].Cells[2].State == trivia.Question
	})
	if !strings.HasPrefix(b.Categories[0].Cells[2].Text, "question ") {
		t.Fatalf("unexpected question text %q", b.Categories[0].Cells[2].Text)
	}

	b = readBoard(t, viewer, func(b boardResponse) bool {
		return b.Status == trivia.StatusReady && b.Categories[0].Cells[2].State == trivia.Question
	})
	if b.Categories[0].Cells[1].State != trivia.Hidden {
		t.Fatalf("viewer sees unexpected state: %+v", b.Categories[0].Cells[1])
	}

	if err := conn.WriteJSON(ClientMessage{Type: "reveal", Category: 0, Clue: 2}); err != nil {
		t.Fatal(err)
	}
	b = readBoard(t, conn, func(b boardResponse) bool {
		return b.Type == "board" && b.Categories[0].Cells[2].State == trivia.Answer
	})
	if !b.Categories[0].Cells[2].Answered {
		t.Fatal("answered cell not marked")
	}

	if err := conn.WriteJSON(ClientMessage{Type: "reveal", Category: 42, Clue: 0}); err != nil {
		t.Fatal(err)
	}
	e := readBoard(t, conn, func(b boardResponse) bool { return b.Type == "error" })
	if e.Message == "" {
		t.Fatal("error message is empty")
	}
}

func TestReapIdleGames(t *testing.T) {
	cfg := newTestConfig()
	cfg.sessionTimeout = 0

	builder := trivia.NewBuilder(instrumentedService{next: trivia.NewClient(cfg.apiURL, time.Second)}, cfg.builderOptions(), nil)
	gm := newGameManager(cfg, builder)
	defer gm.stop()

	first := gm.getHub(cfg, "idle")
	if gm.getHub(cfg, "idle") != first {
		t.Fatal("expected the same hub for the same game id")
	}

	if n := gm.reap(cfg, time.Now().Add(-time.Minute)); n != 0 {
		t.Fatalf("reaped %d active games", n)
	}

	if n := gm.reap(cfg, time.Now().Add(time.Minute)); n != 1 {
		t.Fatalf("expected 1 reaped game, got %d", n)
	}

	select {
	case <-first.done:
	case <-time.After(time.Second):
		t.Fatal("reaped hub still running")
	}

	if gm.getHub(cfg, "idle") == first {
		t.Fatal("reaped hub was reused")
	}

	if _, err := first.do(t.Context(), ClientMessage{Type: "start"}); err != errGameClosed {
		t.Fatalf("expected errGameClosed, got %v", err)
	}
}

func TestValidGameID(t *testing.T) {
	for id, want := range map[string]bool{
		"abc123":                true,
		"AbCdEfGh":              true,
		"":                      false,
		"has-dash":              false,
		"../etc":                false,
		strings.Repeat("x", 32): true,
		strings.Repeat("x", 33): false,
	} {
		if got := validGameID(id); got != want {
			t.Errorf("validGameID(%q) = %v, want %v", id, got, want)
		}
	}
}

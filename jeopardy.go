/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Jeopardy Board Game
//
// A board of trivia categories is pulled from a remote trivia service and
// shown as a grid. Clicking a cell shows its question, clicking again shows
// the answer.
//
// Features:
// - One board per game ID: /path/:gameid, live updates on /path/:gameid/ws
// - Every browser showing the same game ID sees the same board
// - Start/Reset builds a fresh board in the background
// - A newer build always supersedes an older one still in flight
// - Failed builds are retried a bounded number of times, then shown as an
//   error with a manual retry
// - The same commands are available over plain HTTP for non-websocket clients
// - Games auto-reaped after configurable idle timeout
// - Random 8-char game IDs via crypto/rand, with server-side collision check
// - In-browser QR button to open the current game on another screen

package main

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Seednode/jeopardy/trivia"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"
)

var errGameClosed = errors.New("game has ended")

// Messages coming from clients
type ClientMessage struct {
	Type     string `json:"type"`               // "start", "reveal"
	Category int    `json:"category,omitempty"` // reveal
	Clue     int    `json:"clue,omitempty"`     // reveal
}

// BoardMessage carries the complete render state of a game.
type BoardMessage struct {
	Type string `json:"type"` // "board"
	trivia.View
}

// ErrorMessage is sent only to the client whose command failed.
type ErrorMessage struct {
	Type    string `json:"type"` // "error"
	Message string `json:"message"`
}

type Client struct {
	conn     *websocket.Conn
	send     chan any
	viewerID string
}

// command is a client request routed through the hub. HTTP callers pass a
// reply channel, websocket callers a client.
type command struct {
	client *Client
	msg    ClientMessage
	reply  chan commandResult
}

type commandResult struct {
	view   trivia.View
	reveal trivia.Reveal
	err    error
}

type buildResult struct {
	generation uint64
	result     trivia.Result
}

type Hub struct {
	id      string
	clients map[*Client]bool
	session *trivia.Session
	builder *trivia.Builder

	register chan *Client
	unreg    chan *Client
	commands chan command
	built    chan buildResult
	done     chan struct{}

	closeOnce sync.Once
	mu        sync.RWMutex

	createdAt   time.Time
	lastActive  time.Time
	cancelBuild context.CancelFunc
}

func newHub(gameID string, builder *trivia.Builder) *Hub {
	now := time.Now()
	return &Hub{
		id:         gameID,
		clients:    make(map[*Client]bool),
		session:    trivia.NewSession(),
		builder:    builder,
		register:   make(chan *Client),
		unreg:      make(chan *Client),
		commands:   make(chan command),
		built:      make(chan buildResult),
		done:       make(chan struct{}),
		createdAt:  now,
		lastActive: now,
	}
}

func (h *Hub) run(cfg *Config) {
	for {
		select {
		case c := <-h.register:
			select {
			case <-h.done:
				close(c.send)
				_ = c.conn.Close()
				continue
			default:
			}

			h.mu.Lock()
			h.lastActive = time.Now()
			h.clients[c] = true

			c.send <- h.boardMessage()
			h.mu.Unlock()

			logf(cfg, "GAMES: Viewer %s connected to %s", c.viewerID, h.id)

		case c := <-h.unreg:
			h.mu.Lock()
			h.lastActive = time.Now()

			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()

		case cmd := <-h.commands:
			h.handleCommand(cfg, cmd)

		case b := <-h.built:
			h.handleBuilt(cfg, b)

		case <-h.done:
			return
		}
	}
}

func (h *Hub) boardMessage() BoardMessage {
	return BoardMessage{
		Type: "board",
		View: h.session.View(),
	}
}

// sendLocked drops the client if its buffer is full.
func (h *Hub) sendLocked(client *Client, msg any) {
	select {
	case client.send <- msg:
	default:
		delete(h.clients, client)
		close(client.send)
	}
}

func (h *Hub) broadcastLocked(msg any) {
	for client := range h.clients {
		h.sendLocked(client, msg)
	}
}

func (h *Hub) handleCommand(cfg *Config, cmd command) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.lastActive = time.Now()

	var res commandResult

	switch cmd.msg.Type {
	case "start":
		h.startBuildLocked(cfg)
		res.view = h.session.View()

	case "reveal":
		res.reveal, res.err = h.session.Reveal(cmd.msg.Category, cmd.msg.Clue)
		if res.err == nil && res.reveal.Changed {
			reveals.WithLabelValues(res.reveal.State.String()).Inc()
			logf(cfg, "GAMES: Revealed %s at (%d, %d) in %s",
				res.reveal.State, res.reveal.Category, res.reveal.Clue, h.id)

			h.broadcastLocked(h.boardMessage())
		}
		res.view = h.session.View()

	default:
		res.err = fmt.Errorf("unknown command %q", cmd.msg.Type)
	}

	if res.err != nil && cmd.client != nil {
		if _, ok := h.clients[cmd.client]; ok {
			h.sendLocked(cmd.client, ErrorMessage{
				Type:    "error",
				Message: res.err.Error(),
			})
		}
	}

	if cmd.reply != nil {
		cmd.reply <- res
	}
}

// startBuildLocked cancels any build in flight and starts a new generation.
func (h *Hub) startBuildLocked(cfg *Config) {
	if h.cancelBuild != nil {
		h.cancelBuild()
	}

	ctx, cancel := context.WithCancel(context.Background())
	h.cancelBuild = cancel

	gen := h.session.Begin()

	logf(cfg, "GAMES: Building board #%d for %s", gen, h.id)

	h.broadcastLocked(h.boardMessage())

	go func() {
		startTime := time.Now()

		res := h.builder.Build(ctx)

		observeBuild(res, time.Since(startTime))

		select {
		case h.built <- buildResult{generation: gen, result: res}:
		case <-h.done:
		}
	}()
}

func (h *Hub) handleBuilt(cfg *Config, b buildResult) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.session.Complete(b.generation, b.result) {
		logf(cfg, "GAMES: Discarded stale board #%d for %s", b.generation, h.id)

		return
	}

	switch b.result.Outcome {
	case trivia.Success:
		logf(cfg, "GAMES: Built board #%d for %s in %d attempt(s)", b.generation, h.id, b.result.Attempts)
	default:
		logf(cfg, "GAMES: Failed to build board #%d for %s after %d attempt(s) (%s): %v",
			b.generation, h.id, b.result.Attempts, b.result.Outcome, b.result.Err)
	}

	h.broadcastLocked(h.boardMessage())
}

// do routes an HTTP request through the hub and waits for its result.
func (h *Hub) do(ctx context.Context, msg ClientMessage) (commandResult, error) {
	select {
	case <-h.done:
		return commandResult{}, errGameClosed
	default:
	}

	reply := make(chan commandResult, 1)

	select {
	case h.commands <- command{msg: msg, reply: reply}:
	case <-h.done:
		return commandResult{}, errGameClosed
	case <-ctx.Done():
		return commandResult{}, ctx.Err()
	}

	select {
	case res := <-reply:
		return res, nil
	case <-ctx.Done():
		return commandResult{}, ctx.Err()
	}
}

// closeAll stops the hub, its build and all of its clients (used by reaper).
func (h *Hub) closeAll() {
	h.closeOnce.Do(func() {
		close(h.done)
	})

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.cancelBuild != nil {
		h.cancelBuild()
	}

	for c := range h.clients {
		close(c.send)
		_ = c.conn.Close()
		delete(h.clients, c)
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const viewerCookieName = "jeopardy_id"

func getOrSetViewerID(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(viewerCookieName); err == nil && c.Value != "" {
		if _, err := uuid.Parse(c.Value); err == nil {
			return c.Value
		}
	}

	id := uuid.NewString()

	http.SetCookie(w, &http.Cookie{
		Name:     viewerCookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	return id
}

// validGameID keeps arbitrary request paths from creating games.
func validGameID(id string) bool {
	if id == "" || len(id) > 32 {
		return false
	}

	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		default:
			return false
		}
	}

	return true
}

// GameManager holds a set of hubs keyed by game ID, so each $path/$gameid
// is its own isolated board.
type GameManager struct {
	mu          sync.Mutex
	hubs        map[string]*Hub
	builder     *trivia.Builder
	idleTimeout time.Duration
	quit        chan struct{}
	stopOnce    sync.Once
}

func newGameManager(cfg *Config, builder *trivia.Builder) *GameManager {
	gm := &GameManager{
		hubs:        make(map[string]*Hub),
		builder:     builder,
		idleTimeout: cfg.sessionTimeout,
		quit:        make(chan struct{}),
	}
	if gm.idleTimeout > 0 {
		go gm.reaperLoop(cfg)
	}
	return gm
}

func (gm *GameManager) getHub(cfg *Config, gameID string) *Hub {
	gm.mu.Lock()
	defer gm.mu.Unlock()

	if hub, ok := gm.hubs[gameID]; ok {
		return hub
	}

	hub := newHub(gameID, gm.builder)
	gm.hubs[gameID] = hub
	activeGames.Inc()
	go hub.run(cfg)
	return hub
}

// newGameID generates a crypto-random game ID and ensures it doesn't
// collide with existing games.
func (gm *GameManager) newGameID() string {
	const letters = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	for {
		buf := make([]byte, 8)
		if _, err := rand.Read(buf); err != nil {
			panic("crypto/rand failure: " + err.Error())
		}
		out := make([]byte, 8)
		for i := range out {
			out[i] = letters[int(buf[i])%len(letters)]
		}
		id := string(out)

		gm.mu.Lock()
		_, exists := gm.hubs[id]
		gm.mu.Unlock()

		if !exists {
			return id
		}
	}
}

// reap ends every game idle since before cutoff and returns how many ended.
func (gm *GameManager) reap(cfg *Config, cutoff time.Time) int {
	gm.mu.Lock()
	defer gm.mu.Unlock()

	reaped := 0
	for id, hub := range gm.hubs {
		hub.mu.RLock()
		last := hub.lastActive
		hub.mu.RUnlock()

		if last.Before(cutoff) {
			delete(gm.hubs, id)
			activeGames.Dec()
			go hub.closeAll()
			reaped++

			logf(cfg, "GAMES: Ended idle game %s", id)
		}
	}

	return reaped
}

// reaperLoop periodically removes hubs that have been idle longer than idleTimeout.
func (gm *GameManager) reaperLoop(cfg *Config) {
	ticker := time.NewTicker(gm.idleTimeout / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			gm.reap(cfg, time.Now().Add(-gm.idleTimeout))
		case <-gm.quit:
			return
		}
	}
}

// stop ends the reaper and every game.
func (gm *GameManager) stop() {
	gm.stopOnce.Do(func() {
		close(gm.quit)
	})

	gm.mu.Lock()
	defer gm.mu.Unlock()

	for id, hub := range gm.hubs {
		delete(gm.hubs, id)
		activeGames.Dec()
		hub.closeAll()
	}
}

func gameHub(cfg *Config, gm *GameManager, w http.ResponseWriter, ps httprouter.Params) (*Hub, bool) {
	gameID := ps.ByName("gameid")
	if !validGameID(gameID) {
		http.Error(w, "invalid game id", http.StatusNotFound)
		return nil, false
	}

	return gm.getHub(cfg, gameID), true
}

// WebSocket handler that picks the hub based on :gameid
func serveWSForManager(cfg *Config, gm *GameManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		hub, ok := gameHub(cfg, gm, w, ps)
		if !ok {
			return
		}

		viewerID := getOrSetViewerID(w, r)

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			errorf(cfg, "Websocket upgrade for %s: %v", hub.id, err)
			return
		}
		conn.SetReadLimit(4096)

		client := &Client{
			conn:     conn,
			send:     make(chan any, 8),
			viewerID: viewerID,
		}

		select {
		case hub.register <- client:
		case <-hub.done:
			_ = conn.Close()
			return
		}

		go client.writePump()
		client.readPump(hub)
	}
}

func (c *Client) readPump(h *Hub) {
	defer func() {
		select {
		case h.unreg <- c:
		case <-h.done:
		}
		_ = c.conn.Close()
	}()

	for {
		var msg ClientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}

		switch msg.Type {
		case "start", "reveal":
			select {
			case h.commands <- command{client: c, msg: msg}:
			case <-h.done:
				return
			}
		default:
			// ignore unknown types
		}
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()

	for msg := range c.send {
		if err := c.conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

func writeJSON(cfg *Config, w http.ResponseWriter, status int, v any, errs chan<- error) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	securityHeaders(cfg, w)
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		errs <- err
	}
}

func commandStatus(err error) int {
	switch {
	case errors.Is(err, trivia.ErrNoSuchClue):
		return http.StatusBadRequest
	case errors.Is(err, trivia.ErrNoBoard):
		return http.StatusConflict
	case errors.Is(err, errGameClosed):
		return http.StatusGone
	default:
		return http.StatusInternalServerError
	}
}

func serveBoard(cfg *Config, gm *GameManager, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		hub, ok := gameHub(cfg, gm, w, ps)
		if !ok {
			return
		}

		writeJSON(cfg, w, http.StatusOK, hub.boardMessage(), errs)
	}
}

func serveStart(cfg *Config, gm *GameManager, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		hub, ok := gameHub(cfg, gm, w, ps)
		if !ok {
			return
		}

		res, err := hub.do(r.Context(), ClientMessage{Type: "start"})
		if err != nil {
			writeJSON(cfg, w, commandStatus(err), ErrorMessage{Type: "error", Message: err.Error()}, errs)
			return
		}

		writeJSON(cfg, w, http.StatusAccepted, BoardMessage{Type: "board", View: res.view}, errs)
	}
}

func serveReveal(cfg *Config, gm *GameManager, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		category, err := strconv.Atoi(ps.ByName("category"))
		if err != nil {
			http.Error(w, "invalid category", http.StatusBadRequest)
			return
		}

		clue, err := strconv.Atoi(ps.ByName("clue"))
		if err != nil {
			http.Error(w, "invalid clue", http.StatusBadRequest)
			return
		}

		hub, ok := gameHub(cfg, gm, w, ps)
		if !ok {
			return
		}

		res, err := hub.do(r.Context(), ClientMessage{Type: "reveal", Category: category, Clue: clue})
		if err == nil {
			err = res.err
		}
		if err != nil {
			writeJSON(cfg, w, commandStatus(err), ErrorMessage{Type: "error", Message: err.Error()}, errs)
			return
		}

		writeJSON(cfg, w, http.StatusOK, res.reveal, errs)
	}
}

// QR handler: generates a PNG QR code for the current game URL using go-qrcode.
func serveQR(cfg *Config) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		gameID := ps.ByName("gameid")
		if !validGameID(gameID) {
			http.Error(w, "invalid game id", http.StatusNotFound)
			return
		}

		// Derive scheme (respecting TLS and X-Forwarded-Proto if present).
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
			scheme = proto
		}

		url := scheme + "://" + r.Host + cfg.prefix + "/jeopardy/" + gameID

		const qrSize = 320 // mobile-friendly size
		png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
		if err != nil {
			http.Error(w, "qr generation failed", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "image/png")
		securityHeaders(cfg, w)
		_, _ = w.Write(png)
	}
}

var indexTemplate = template.Must(template.ParseFS(assets, "assets/jeopardy/index.html"))

type indexData struct {
	Prefix  string
	GameID  string
	Favicon template.HTML
}

func serveGamePage(cfg *Config, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		gameID := ps.ByName("gameid")
		if !validGameID(gameID) {
			http.Error(w, "invalid game id", http.StatusNotFound)
			return
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-cache")
		securityHeaders(cfg, w)

		_ = getOrSetViewerID(w, r)

		var page strings.Builder
		if err := indexTemplate.Execute(&page, indexData{
			Prefix:  cfg.prefix,
			GameID:  gameID,
			Favicon: template.HTML(getFavicon(cfg)),
		}); err != nil {
			errs <- err
			http.Error(w, "template error", http.StatusInternalServerError)
			return
		}

		if _, err := w.Write([]byte(page.String())); err != nil {
			errs <- err
		}
	}
}

// redirectNewGame handles GET /path by generating a new random game ID
// (with server-side collision detection) and redirecting to /path/:gameid.
func redirectNewGame(cfg *Config, path string, gm *GameManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		gameID := gm.newGameID()
		logf(cfg, "GAMES: Created game %s/%s", path, gameID)
		http.Redirect(w, r, cfg.prefix+path+"/"+gameID, http.StatusTemporaryRedirect)
	}
}

// registerJeopardyGame sets up routes so that:
//   - $path                                  → redirects to new random game (8-char ID)
//   - $path/:gameid                          → HTML client
//   - $path/:gameid/ws                       → WebSocket for that game
//   - $path/:gameid/board                    → JSON board state
//   - $path/:gameid/start                    → POST, start or reset the board
//   - $path/:gameid/reveal/:category/:clue   → POST, reveal one clue
//   - $path/:gameid/qr                       → PNG QR code for that game URL
func registerJeopardyGame(cfg *Config, path string, mux *httprouter.Router, builder *trivia.Builder, errs chan<- error) *GameManager {
	gm := newGameManager(cfg, builder)

	mux.GET(cfg.prefix+path, redirectNewGame(cfg, path, gm))

	mux.GET(cfg.prefix+path+"/:gameid", serveGamePage(cfg, errs))

	mux.GET(cfg.prefix+path+"/:gameid/ws", serveWSForManager(cfg, gm))

	mux.GET(cfg.prefix+path+"/:gameid/board", serveBoard(cfg, gm, errs))

	mux.POST(cfg.prefix+path+"/:gameid/start", serveStart(cfg, gm, errs))

	mux.POST(cfg.prefix+path+"/:gameid/reveal/:category/:clue", serveReveal(cfg, gm, errs))

	mux.GET(cfg.prefix+path+"/:gameid/qr", serveQR(cfg))

	return gm
}

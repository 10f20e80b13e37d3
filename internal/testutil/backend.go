// Package testutil runs an in-process fake of the care-coordination backend:
// the REST endpoints and the websocket event stream.
package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"

	"github.com/johndosdos/carechat/internal/auth"
	"github.com/johndosdos/carechat/internal/event"
	"github.com/johndosdos/carechat/internal/model"
)

const (
	SessionToken = "test-session-token"
	jwtSecret    = "test-jwt-secret"
)

// Upload is a file received by the fake upload endpoint.
type Upload struct {
	Name        string
	ContentType string
	Size        int
}

// Backend is a fake server. Frames written by clients are recorded in order.
type Backend struct {
	UserID   string
	PageSize int

	server *httptest.Server

	mu          sync.Mutex
	threads     []model.Thread
	messages    map[string][]model.Message
	uploads     []Upload
	frames      []event.Envelope
	conns       map[*websocket.Conn]struct{}
	tokenCalls  int
	tokenTTL    time.Duration
	failThreads bool
	failUpload  bool
	rejectWS    bool
	uploadGate  chan struct{}
	frameSignal chan struct{}
}

// NewBackend starts a fake backend for userID; it is closed with t.
func NewBackend(t testing.TB, userID string) *Backend {
	t.Helper()

	b := &Backend{
		UserID:      userID,
		PageSize:    2,
		messages:    make(map[string][]model.Message),
		conns:       make(map[*websocket.Conn]struct{}),
		frameSignal: make(chan struct{}, 1),
		tokenTTL:    5 * time.Minute,
	}

	r := chi.NewRouter()
	r.Group(func(r chi.Router) {
		r.Use(b.requireSession)
		r.Get("/api/session/token", b.serveToken)
		r.Get("/api/threads", b.serveThreads)
		r.Get("/api/threads/{id}/messages", b.serveMessages)
		r.Post("/api/uploads", b.serveUpload)
	})
	r.Get("/ws", b.serveWs)

	b.server = httptest.NewServer(r)
	t.Cleanup(func() {
		b.DropConnections()
		b.server.Close()
	})
	return b
}

// URL is the REST base URL.
func (b *Backend) URL() string { return b.server.URL }

// StreamURL is the websocket endpoint.
func (b *Backend) StreamURL() string {
	return "ws" + strings.TrimPrefix(b.server.URL, "http") + "/ws"
}

// SetThreads replaces the threads served by the bulk fetch.
func (b *Backend) SetThreads(threads []model.Thread) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.threads = threads
}

// SetMessages replaces the messages served for one thread.
func (b *Backend) SetMessages(threadID string, msgs []model.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages[threadID] = msgs
}

// FailThreads makes the thread endpoint return 500.
func (b *Backend) FailThreads(fail bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failThreads = fail
}

// FailUploads makes the upload endpoint return 500.
func (b *Backend) FailUploads(fail bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failUpload = fail
}

// SetTokenTTL sets the lifetime of stream tokens issued from now on.
func (b *Backend) SetTokenTTL(ttl time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tokenTTL = ttl
}

// RejectStream makes websocket handshakes fail with 503.
func (b *Backend) RejectStream(reject bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rejectWS = reject
}

// HoldUploads blocks upload responses until the returned func is called.
func (b *Backend) HoldUploads() (release func()) {
	gate := make(chan struct{})
	b.mu.Lock()
	b.uploadGate = gate
	b.mu.Unlock()

	var once sync.Once
	return func() { once.Do(func() { close(gate) }) }
}

// Uploads returns the files received so far.
func (b *Backend) Uploads() []Upload {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Upload{}, b.uploads...)
}

// TokenCalls is the number of stream tokens issued.
func (b *Backend) TokenCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tokenCalls
}

// Connections is the number of open stream connections.
func (b *Backend) Connections() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.conns)
}

// Frames returns the client frames recorded so far, optionally filtered by name.
func (b *Backend) Frames(names ...string) []event.Envelope {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []event.Envelope
	for _, f := range b.frames {
		if len(names) == 0 || contains(names, f.Event) {
			out = append(out, f)
		}
	}
	return out
}

// WaitFrames blocks until n frames named name were recorded or timeout passes.
func (b *Backend) WaitFrames(name string, n int, timeout time.Duration) []event.Envelope {
	deadline := time.After(timeout)
	for {
		if got := b.Frames(name); len(got) >= n {
			return got
		}
		select {
		case <-b.frameSignal:
		case <-time.After(10 * time.Millisecond):
		case <-deadline:
			return b.Frames(name)
		}
	}
}

// Push writes an event to every open stream connection.
func (b *Backend) Push(ctx context.Context, name string, data any) error {
	env := event.Envelope{Event: name}
	if data != nil {
		p, err := json.Marshal(data)
		if err != nil {
			return err
		}
		env.Data = p
	}
	return b.PushRaw(ctx, env)
}

// PushRaw writes an envelope as-is to every open stream connection.
func (b *Backend) PushRaw(ctx context.Context, env event.Envelope) error {
	b.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(b.conns))
	for c := range b.conns {
		conns = append(conns, c)
	}
	b.mu.Unlock()

	if len(conns) == 0 {
		return fmt.Errorf("no stream connections")
	}
	for _, c := range conns {
		writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := wsjson.Write(writeCtx, c, env)
		cancel()
		if err != nil {
			return err
		}
	}
	return nil
}

// DropConnections closes every open stream connection from the server side.
func (b *Backend) DropConnections() {
	b.mu.Lock()
	conns := b.conns
	b.conns = make(map[*websocket.Conn]struct{})
	b.mu.Unlock()

	for c := range conns {
		c.Close(websocket.StatusGoingAway, "server going away")
	}
}

// requireSession rejects REST calls without the session credential.
func (b *Backend) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+SessionToken {
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing session")
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithUser(r.Context(), b.UserID)))
	})
}

func (b *Backend) serveToken(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.GetUserFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", err.Error())
		return
	}

	b.mu.Lock()
	ttl := b.tokenTTL
	b.mu.Unlock()

	token, err := auth.MakeJWT(userID, jwtSecret, ttl)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "token", err.Error())
		return
	}

	b.mu.Lock()
	b.tokenCalls++
	b.mu.Unlock()

	writeJSON(w, map[string]string{"token": token})
}

func (b *Backend) serveThreads(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	fail := b.failThreads
	threads := append([]model.Thread{}, b.threads...)
	size := b.PageSize
	b.mu.Unlock()

	if fail {
		writeError(w, http.StatusInternalServerError, "threads", "database unavailable")
		return
	}

	page, err := strconv.Atoi(r.URL.Query().Get("page"))
	if err != nil || page < 1 {
		page = 1
	}
	start := (page - 1) * size
	if start > len(threads) {
		start = len(threads)
	}
	end := min(start+size, len(threads))

	resp := map[string]any{"threads": threads[start:end], "next_page": nil}
	if end < len(threads) {
		resp["next_page"] = page + 1
	}
	writeJSON(w, resp)
}

func (b *Backend) serveMessages(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	b.mu.Lock()
	msgs, ok := b.messages[id]
	b.mu.Unlock()

	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "unknown thread")
		return
	}
	writeJSON(w, map[string]any{"messages": msgs})
}

func (b *Backend) serveUpload(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	gate := b.uploadGate
	fail := b.failUpload
	b.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-r.Context().Done():
			return
		}
	}
	if fail {
		writeError(w, http.StatusInternalServerError, "upload", "storage unavailable")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	b.mu.Lock()
	b.uploads = append(b.uploads, Upload{
		Name:        header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        len(data),
	})
	key := fmt.Sprintf("uploads/%d/%s", len(b.uploads), header.Filename)
	b.mu.Unlock()

	writeJSON(w, model.Attachment{
		FileURL:  b.server.URL + "/files/" + key,
		FileName: header.Filename,
		FileKey:  key,
	})
}

// serveWs authenticates the stream token and records every frame the client writes.
func (b *Backend) serveWs(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	reject := b.rejectWS
	b.mu.Unlock()
	if reject {
		http.Error(w, "stream unavailable", http.StatusServiceUnavailable)
		return
	}

	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	userID, err := auth.ValidateJWT(token, jwtSecret)
	if err != nil || userID != b.UserID {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		slog.Warn("failed to accept websocket", "error", err)
		return
	}

	b.mu.Lock()
	b.conns[conn] = struct{}{}
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.conns, conn)
		b.mu.Unlock()
		conn.CloseNow()
	}()

	ctx := r.Context()
	for {
		var env event.Envelope
		if err := wsjson.Read(ctx, conn, &env); err != nil {
			return
		}

		b.mu.Lock()
		b.frames = append(b.frames, env)
		b.mu.Unlock()
		select {
		case b.frameSignal <- struct{}{}:
		default:
		}

		if env.Event == event.JoinThreads {
			ack := event.Envelope{Event: event.JoinThreads}
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			_ = wsjson.Write(writeCtx, conn, ack)
			cancel()
		}
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": code, "message": msg})
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

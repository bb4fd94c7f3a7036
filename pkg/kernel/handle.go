package kernel

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/juniper-run/juniper/pkg/log"
)

const protocolVersion = "5.3"

// Output is a single piece of kernel output produced by an execution.
type Output struct {
	// Kind is one of "stream", "error", "execute_result",
	// "display_data".
	Kind string
	// Name is the stream name ("stdout"/"stderr") for Kind "stream".
	Name string
	// Text is the rendered text of the output.
	Text string
}

// ExecuteFuture is the in-flight result of a single execute request.
// Outputs delivers kernel output in arrival order; Done is closed once
// the kernel replies or the session breaks, after which Err reports a
// transport failure if one occurred.
type ExecuteFuture struct {
	outputs chan Output
	done    chan struct{}
	once    sync.Once

	mu  sync.Mutex
	err error
}

func newExecuteFuture() *ExecuteFuture {
	return &ExecuteFuture{
		outputs: make(chan Output, 16),
		done:    make(chan struct{}),
	}
}

// Outputs returns the output stream. The channel is closed when the
// execution completes.
func (f *ExecuteFuture) Outputs() <-chan Output { return f.outputs }

// Done is closed when the execution completes or fails.
func (f *ExecuteFuture) Done() <-chan struct{} { return f.done }

// Err returns the transport error that terminated the execution, if
// any. Only meaningful after Done is closed.
func (f *ExecuteFuture) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

// deliver blocks until the consumer drains the buffer. Callers must
// consume Outputs for the session's read loop to make progress.
func (f *ExecuteFuture) deliver(out Output) {
	f.outputs <- out
}

func (f *ExecuteFuture) complete(err error) {
	f.once.Do(func() {
		f.mu.Lock()
		f.err = err
		f.mu.Unlock()
		close(f.outputs)
		close(f.done)
	})
}

// Handle is a live session with a single remote kernel. At most one
// Handle is held by an orchestrator at a time.
type Handle struct {
	id       string
	session  string
	settings ConnectionSettings

	httpClient *http.Client

	writeMu sync.Mutex
	conn    *websocket.Conn

	mu      sync.Mutex
	pending map[string]*ExecuteFuture
	closed  bool
}

func newHandle(id string, settings ConnectionSettings, conn *websocket.Conn, httpClient *http.Client) *Handle {
	h := &Handle{
		id:         id,
		session:    randomID(),
		settings:   settings,
		httpClient: httpClient,
		conn:       conn,
		pending:    make(map[string]*ExecuteFuture),
	}
	go h.readLoop()
	return h
}

// ID returns the service-assigned kernel id.
func (h *Handle) ID() string { return h.id }

// Settings returns the connection settings the session was started
// with.
func (h *Handle) Settings() ConnectionSettings { return h.settings }

type messageHeader struct {
	MsgID    string `json:"msg_id"`
	Username string `json:"username"`
	Session  string `json:"session"`
	MsgType  string `json:"msg_type"`
	Version  string `json:"version"`
	Date     string `json:"date"`
}

type wireMessage struct {
	Header       messageHeader   `json:"header"`
	ParentHeader messageHeader   `json:"parent_header"`
	Metadata     json.RawMessage `json:"metadata"`
	Content      json.RawMessage `json:"content"`
	Channel      string          `json:"channel"`
}

// RequestExecute submits code to the kernel and returns a future for
// its outputs. Transport errors surfacing after submission are
// reported through the future, not here.
func (h *Handle) RequestExecute(code string) (*ExecuteFuture, error) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, fmt.Errorf("session is closed")
	}
	msgID := randomID()
	future := newExecuteFuture()
	h.pending[msgID] = future
	h.mu.Unlock()

	msg := map[string]interface{}{
		"header": messageHeader{
			MsgID:    msgID,
			Username: "juniper",
			Session:  h.session,
			MsgType:  "execute_request",
			Version:  protocolVersion,
			Date:     time.Now().UTC().Format(time.RFC3339),
		},
		"parent_header": map[string]interface{}{},
		"metadata":      map[string]interface{}{},
		"content": map[string]interface{}{
			"code":             code,
			"silent":           false,
			"store_history":    true,
			"user_expressions": map[string]interface{}{},
			"allow_stdin":      false,
			"stop_on_error":    true,
		},
		"channel": "shell",
	}

	h.writeMu.Lock()
	err := h.conn.WriteJSON(msg)
	h.writeMu.Unlock()
	if err != nil {
		h.mu.Lock()
		delete(h.pending, msgID)
		h.mu.Unlock()
		future.complete(err)
		return nil, fmt.Errorf("submit execute request: %w", err)
	}
	return future, nil
}

// Restart resets the kernel interpreter state via the service REST
// API. In-flight executions keep their futures; the kernel abandons
// them on its side.
func (h *Handle) Restart(ctx context.Context) error {
	endpoint := fmt.Sprintf("%s/api/kernels/%s/restart", strings.TrimSuffix(h.settings.BaseURL, "/"), url.PathEscape(h.id))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return &RestartError{Err: err}
	}
	authorize(req, h.settings.Token)

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return &RestartError{Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &RestartError{Err: fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(payload)))}
	}
	return nil
}

// Shutdown tears the session down: best-effort kernel deletion on the
// service, then socket close. Safe to call more than once.
func (h *Handle) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	h.mu.Unlock()

	endpoint := fmt.Sprintf("%s/api/kernels/%s", strings.TrimSuffix(h.settings.BaseURL, "/"), url.PathEscape(h.id))
	if req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil); err == nil {
		authorize(req, h.settings.Token)
		if resp, err := h.httpClient.Do(req); err == nil {
			resp.Body.Close()
		} else {
			log.Debug("kernel delete failed", "id", h.id, "error", err)
		}
	}

	return h.conn.Close()
}

func (h *Handle) readLoop() {
	for {
		var msg wireMessage
		if err := h.conn.ReadJSON(&msg); err != nil {
			h.failPending(err)
			return
		}
		h.dispatch(msg)
	}
}

// dispatch routes an inbound channel message to the future that
// requested it, keyed by parent message id.
func (h *Handle) dispatch(msg wireMessage) {
	parent := msg.ParentHeader.MsgID
	if parent == "" {
		return
	}

	h.mu.Lock()
	future, ok := h.pending[parent]
	h.mu.Unlock()
	if !ok {
		return
	}

	switch msg.Header.MsgType {
	case "stream":
		var content struct {
			Name string `json:"name"`
			Text string `json:"text"`
		}
		if err := json.Unmarshal(msg.Content, &content); err == nil {
			future.deliver(Output{Kind: "stream", Name: content.Name, Text: content.Text})
		}
	case "execute_result", "display_data":
		var content struct {
			Data map[string]interface{} `json:"data"`
		}
		if err := json.Unmarshal(msg.Content, &content); err == nil {
			if text, ok := content.Data["text/plain"].(string); ok {
				future.deliver(Output{Kind: msg.Header.MsgType, Text: text})
			}
		}
	case "error":
		var content struct {
			EName     string   `json:"ename"`
			EValue    string   `json:"evalue"`
			Traceback []string `json:"traceback"`
		}
		if err := json.Unmarshal(msg.Content, &content); err == nil {
			text := strings.Join(content.Traceback, "\n")
			if text == "" {
				text = content.EName + ": " + content.EValue
			}
			future.deliver(Output{Kind: "error", Name: content.EName, Text: text})
		}
	case "execute_reply":
		h.mu.Lock()
		delete(h.pending, parent)
		h.mu.Unlock()
		future.complete(nil)
	}
}

func (h *Handle) failPending(err error) {
	h.mu.Lock()
	pending := h.pending
	h.pending = make(map[string]*ExecuteFuture)
	closed := h.closed
	h.mu.Unlock()

	if !closed {
		log.Debug("kernel channel closed", "id", h.id, "error", err)
	}
	for _, future := range pending {
		future.complete(err)
	}
}

func randomID() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		// math/rand fallback would hide entropy failures; an id built
		// from the clock is unique enough for message correlation.
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(buf)
}

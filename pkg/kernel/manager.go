package kernel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/juniper-run/juniper/pkg/events"
	"github.com/juniper-run/juniper/pkg/log"
)

// ManagerConfig holds configuration for a Manager.
type ManagerConfig struct {
	// Bus receives a "ready" status once a session is established.
	Bus *events.Bus
	// Store, if non-nil, receives the settings before the start attempt
	// completes so a process restart during a slow start can retry with
	// the same settings.
	Store    SettingsStore
	StoreTTL time.Duration
	// KernelType is the kernel spec name requested from the service
	// (e.g. "python3").
	KernelType string
	// HTTPClient overrides the REST client, mainly for tests.
	HTTPClient *http.Client
	// HandshakeTimeout bounds the channel websocket dial.
	HandshakeTimeout time.Duration
}

// Manager starts kernels on a remote kernel service and hands back
// live session handles.
type Manager struct {
	bus        *events.Bus
	store      SettingsStore
	storeTTL   time.Duration
	kernelType string
	httpClient *http.Client
	dialer     *websocket.Dialer
}

// NewManager creates a Manager, applying defaults for unset fields.
func NewManager(cfg ManagerConfig) *Manager {
	kernelType := cfg.KernelType
	if kernelType == "" {
		kernelType = "python3"
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	handshake := cfg.HandshakeTimeout
	if handshake == 0 {
		handshake = 10 * time.Second
	}
	return &Manager{
		bus:        cfg.Bus,
		store:      cfg.Store,
		storeTTL:   cfg.StoreTTL,
		kernelType: kernelType,
		httpClient: httpClient,
		dialer:     &websocket.Dialer{HandshakeTimeout: handshake},
	}
}

// Start launches a kernel on the service described by settings and
// returns a live handle to it. The settings are persisted to the
// attached store before the outcome of the attempt is known; clearing
// a store entry that turned out to be bad is the caller's
// responsibility, since some callers retry with the same settings.
func (m *Manager) Start(ctx context.Context, settings ConnectionSettings) (*Handle, error) {
	if err := settings.Validate(); err != nil {
		return nil, &StartError{Err: err}
	}

	if m.store != nil {
		if err := m.store.Save(settings, m.storeTTL); err != nil {
			log.Warn("failed to persist session settings", "error", err)
		}
	}

	id, err := m.createKernel(ctx, settings)
	if err != nil {
		return nil, &StartError{Err: err}
	}
	log.Debug("kernel created", "id", id, "base_url", settings.BaseURL)

	conn, err := m.dialChannels(ctx, settings, id)
	if err != nil {
		return nil, &StartError{Err: err}
	}

	handle := newHandle(id, settings, conn, m.httpClient)
	if m.bus != nil {
		m.bus.Publish(events.StatusReady, nil)
	}
	return handle, nil
}

func (m *Manager) createKernel(ctx context.Context, settings ConnectionSettings) (string, error) {
	body, err := json.Marshal(map[string]string{"name": m.kernelType})
	if err != nil {
		return "", err
	}

	endpoint := strings.TrimSuffix(settings.BaseURL, "/") + "/api/kernels"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	authorize(req, settings.Token)

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("kernel service unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("kernel service rejected start: %s: %s", resp.Status, strings.TrimSpace(string(payload)))
	}

	var created struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return "", fmt.Errorf("malformed kernel service response: %w", err)
	}
	if created.ID == "" {
		return "", fmt.Errorf("kernel service returned no kernel id")
	}
	return created.ID, nil
}

func (m *Manager) dialChannels(ctx context.Context, settings ConnectionSettings, id string) (*websocket.Conn, error) {
	channels := fmt.Sprintf("%s/api/kernels/%s/channels", strings.TrimSuffix(settings.WebSocketURL, "/"), url.PathEscape(id))
	if settings.Token != "" {
		channels += "?token=" + url.QueryEscape(settings.Token)
	}

	conn, resp, err := m.dialer.DialContext(ctx, channels, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("channel websocket dial: %w (%s)", err, resp.Status)
		}
		return nil, fmt.Errorf("channel websocket dial: %w", err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	return conn, nil
}

func authorize(req *http.Request, token string) {
	if token != "" {
		req.Header.Set("Authorization", "token "+token)
	}
}

// Package provision turns a (repository, branch) pair into kernel
// connection settings by driving a Binder-style container build
// service and consuming its server-sent event stream.
package provision

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/juniper-run/juniper/pkg/events"
	"github.com/juniper-run/juniper/pkg/kernel"
	"github.com/juniper-run/juniper/pkg/log"
)

// phaseReady and phaseFailed are the two terminal phases; anything
// else is an intermediate status owned by the service.
const (
	phaseReady  = "ready"
	phaseFailed = "failed"
)

// buildMessage is one JSON payload from the build event stream.
type buildMessage struct {
	Phase   string `json:"phase"`
	URL     string `json:"url"`
	Token   string `json:"token"`
	Message string `json:"message"`
}

// Client requests container builds from a provisioning service. It
// performs no retries; callers that want another attempt re-invoke
// Build.
type Client struct {
	serviceURL string
	bus        *events.Bus
	httpClient *http.Client
}

// Config holds configuration for a Client.
type Config struct {
	// ServiceURL is the deployment base URL, including scheme
	// (e.g. "https://mybinder.org").
	ServiceURL string
	// Bus receives phase status events during the build.
	Bus *events.Bus
	// HTTPClient overrides the stream client, mainly for tests. It
	// must not enforce an overall request timeout: build streams stay
	// open for minutes.
	HTTPClient *http.Client
}

// New creates a Client.
func New(cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		serviceURL: strings.TrimSuffix(cfg.ServiceURL, "/"),
		bus:        cfg.Bus,
		httpClient: httpClient,
	}
}

// Build requests a container for the repository at the given branch
// and follows the build stream until the service hands out connection
// settings or reports failure.
func (c *Client) Build(ctx context.Context, repository, branch string) (kernel.ConnectionSettings, error) {
	buildURL := fmt.Sprintf("%s/build/gh/%s/%s", c.serviceURL, repository, branch)
	c.publish(events.StatusBuilding, map[string]interface{}{"buildUrl": buildURL})
	log.Info("requesting container build", "url", buildURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, buildURL, nil)
	if err != nil {
		c.publish(events.StatusFailed, nil)
		return kernel.ConnectionSettings{}, &TransportError{Err: err}
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.publish(events.StatusFailed, nil)
		return kernel.ConnectionSettings{}, &TransportError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.publish(events.StatusFailed, nil)
		return kernel.ConnectionSettings{}, &TransportError{Err: fmt.Errorf("build endpoint answered %s", resp.Status)}
	}

	reducer := phaseReducer{bus: c.bus}
	scanner := newStreamScanner(resp.Body)
	for {
		payload, err := scanner.nextData()
		if err != nil {
			// Stream cut before a terminal phase; a context
			// cancellation surfaces here as well.
			if ctxErr := ctx.Err(); ctxErr != nil {
				err = ctxErr
			}
			c.publish(events.StatusFailed, nil)
			return kernel.ConnectionSettings{}, &TransportError{Err: err}
		}

		var msg buildMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			log.Debug("skipping undecodable build event", "error", err)
			continue
		}

		settings, done, err := reducer.step(msg)
		if err != nil {
			return kernel.ConnectionSettings{}, err
		}
		if done {
			log.Info("container build ready", "base_url", settings.BaseURL)
			return settings, nil
		}
	}
}

func (c *Client) publish(status string, data map[string]interface{}) {
	if c.bus != nil {
		c.bus.Publish(status, data)
	}
}

// phaseReducer folds build messages into a terminal outcome while
// surfacing each phase transition exactly once. Consecutive identical
// phases (compared case-insensitively) are collapsed.
type phaseReducer struct {
	bus  *events.Bus
	last string
}

func (r *phaseReducer) step(msg buildMessage) (kernel.ConnectionSettings, bool, error) {
	phase := strings.ToLower(msg.Phase)
	if phase == "" {
		return kernel.ConnectionSettings{}, false, nil
	}

	if phase != r.last {
		r.last = phase
		status := phase
		if phase == phaseReady {
			status = events.StatusServerReady
		}
		if r.bus != nil {
			r.bus.Publish(status, nil)
		}
	}

	switch phase {
	case phaseFailed:
		return kernel.ConnectionSettings{}, false, &BuildFailedError{Message: msg.Message}
	case phaseReady:
		if !strings.HasPrefix(msg.URL, "http") {
			return kernel.ConnectionSettings{}, false, &TransportError{Err: fmt.Errorf("ready phase carried unusable url %q", msg.URL)}
		}
		settings := kernel.ConnectionSettings{
			BaseURL: msg.URL,
			// The kernel channel shares host and path with the HTTP
			// endpoint; only the scheme changes (http->ws, https->wss).
			WebSocketURL: "ws" + msg.URL[4:],
			Token:        msg.Token,
		}
		return settings, true, nil
	default:
		return kernel.ConnectionSettings{}, false, nil
	}
}

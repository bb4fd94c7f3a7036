// Package kernel establishes and supervises sessions with a remote
// Jupyter-compatible kernel service. A session is started over the
// service REST API and code execution flows over the kernel channel
// websocket.
package kernel

import (
	"fmt"
	"strings"
	"time"
)

// ConnectionSettings holds everything needed to reach a kernel
// service. Values are immutable once created; they are produced by the
// provisioning client, by the local Docker runtime, or supplied
// statically by the caller.
//
// The JSON shape is wire-compatible with the browser implementation's
// persisted record, so a cache written by one can be read by the other.
type ConnectionSettings struct {
	BaseURL      string `json:"baseUrl" yaml:"baseUrl"`
	WebSocketURL string `json:"wsUrl" yaml:"wsUrl"`
	Token        string `json:"token" yaml:"token"`
}

// Validate reports whether the settings can plausibly reach a kernel
// service. The websocket URL is derived from the base URL by scheme
// rewrite upstream, so both must be present and scheme-correct.
func (s ConnectionSettings) Validate() error {
	if !strings.HasPrefix(s.BaseURL, "http") {
		return fmt.Errorf("base url %q must start with http(s)", s.BaseURL)
	}
	if !strings.HasPrefix(s.WebSocketURL, "ws") {
		return fmt.Errorf("websocket url %q must start with ws(s)", s.WebSocketURL)
	}
	return nil
}

// SettingsStore persists connection settings so a later process can
// reconnect to the same kernel. Implemented by session.Cache.
type SettingsStore interface {
	Save(settings ConnectionSettings, ttl time.Duration) error
}

// StartError reports that the kernel service rejected the start
// request or was unreachable.
type StartError struct {
	Err error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("kernel start: %v", e.Err)
}

func (e *StartError) Unwrap() error { return e.Err }

// RestartError reports that the interpreter state reset failed. A
// session that failed to reset must not be reused.
type RestartError struct {
	Err error
}

func (e *RestartError) Error() string {
	return fmt.Sprintf("kernel restart: %v", e.Err)
}

func (e *RestartError) Unwrap() error { return e.Err }

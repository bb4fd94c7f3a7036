// Package session persists kernel connection settings across process
// runs so a later invocation can reconnect to a still-live kernel
// instead of provisioning a fresh one.
package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/juniper-run/juniper/pkg/kernel"
	"github.com/juniper-run/juniper/pkg/log"
)

// Record is the persisted cache entry. Timestamp is the absolute
// expiry instant in epoch milliseconds; the JSON shape matches the
// browser implementation's storage record.
type Record struct {
	Settings  kernel.ConnectionSettings `json:"settings"`
	Timestamp int64                     `json:"timestamp"`
}

// Cache reads and writes a single persisted session record. The
// record may be read by a process that did not write it, so every load
// re-validates shape and expiry. A disabled cache turns every
// operation into a no-op.
type Cache struct {
	dir      string
	key      string
	disabled bool

	now func() time.Time
}

// New returns a cache storing its record at <dir>/<key>.json. An empty
// dir falls back to the user cache directory; an empty key falls back
// to "juniper".
func New(dir, key string) *Cache {
	if key == "" {
		key = "juniper"
	}
	if dir == "" {
		if base, err := os.UserCacheDir(); err == nil {
			dir = filepath.Join(base, "juniper")
		} else {
			dir = filepath.Join(os.TempDir(), "juniper")
		}
	}
	return &Cache{dir: dir, key: key, now: time.Now}
}

// Disabled returns a cache whose operations are all no-ops.
func Disabled() *Cache {
	return &Cache{disabled: true, now: time.Now}
}

// Enabled reports whether the cache persists anything.
func (c *Cache) Enabled() bool { return !c.disabled }

func (c *Cache) path() string {
	return filepath.Join(c.dir, c.key+".json")
}

// Load returns the persisted record if one exists and has not
// expired. An expired record is deleted as a side effect. Storage
// errors and malformed records are treated as absent.
func (c *Cache) Load() (*Record, bool) {
	if c.disabled {
		return nil, false
	}

	data, err := os.ReadFile(c.path())
	if err != nil {
		if !os.IsNotExist(err) {
			log.Debug("session cache unreadable", "path", c.path(), "error", err)
		}
		return nil, false
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		log.Debug("session cache malformed, discarding", "path", c.path(), "error", err)
		_ = os.Remove(c.path())
		return nil, false
	}

	if rec.Timestamp <= c.now().UnixMilli() {
		log.Debug("session cache expired, discarding", "path", c.path())
		_ = os.Remove(c.path())
		return nil, false
	}
	return &rec, true
}

// Save writes the record atomically, overwriting any existing one.
// The entry expires ttl from now.
func (c *Cache) Save(settings kernel.ConnectionSettings, ttl time.Duration) error {
	if c.disabled {
		return nil
	}

	rec := Record{
		Settings:  settings,
		Timestamp: c.now().Add(ttl).UnixMilli(),
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal session record: %w", err)
	}
	data = append(data, '\n')

	if err := os.MkdirAll(c.dir, 0755); err != nil {
		return fmt.Errorf("create session cache dir: %w", err)
	}

	tmp, err := os.CreateTemp(c.dir, "."+c.key+"-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp session record: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write temp session record: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close temp session record: %w", err)
	}
	if err := os.Rename(tmpPath, c.path()); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("replace session record: %w", err)
	}
	return nil
}

// Clear deletes the record. It is a no-op if none exists.
func (c *Cache) Clear() error {
	if c.disabled {
		return nil
	}
	if err := os.Remove(c.path()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("clear session record: %w", err)
	}
	return nil
}

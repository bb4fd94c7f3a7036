package session

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/juniper-run/juniper/pkg/kernel"
)

var testSettings = kernel.ConnectionSettings{
	BaseURL:      "http://1.2.3.4:8888",
	WebSocketURL: "ws://1.2.3.4:8888",
	Token:        "abc",
}

func TestLoadAbsent(t *testing.T) {
	cache := New(t.TempDir(), "juniper")
	if rec, ok := cache.Load(); ok || rec != nil {
		t.Fatalf("Load() = %v, %v, want nil, false", rec, ok)
	}
}

func TestSaveThenLoad(t *testing.T) {
	cache := New(t.TempDir(), "juniper")
	if err := cache.Save(testSettings, time.Hour); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	rec, ok := cache.Load()
	if !ok {
		t.Fatal("Load() returned absent after Save")
	}
	if rec.Settings != testSettings {
		t.Errorf("Load().Settings = %+v, want %+v", rec.Settings, testSettings)
	}
	if remaining := time.UnixMilli(rec.Timestamp).Sub(time.Now()); remaining < 59*time.Minute || remaining > time.Hour {
		t.Errorf("expiry %v from now, want about 1h", remaining)
	}
}

func TestSaveOverwrites(t *testing.T) {
	cache := New(t.TempDir(), "juniper")
	if err := cache.Save(testSettings, time.Hour); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	updated := testSettings
	updated.Token = "xyz"
	if err := cache.Save(updated, time.Hour); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	rec, ok := cache.Load()
	if !ok {
		t.Fatal("Load() returned absent")
	}
	if rec.Settings.Token != "xyz" {
		t.Errorf("Token = %q, want %q", rec.Settings.Token, "xyz")
	}
}

func TestLoadExpiredDeletesRecord(t *testing.T) {
	dir := t.TempDir()
	cache := New(dir, "juniper")
	cache.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	if err := cache.Save(testSettings, time.Hour); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	cache.now = time.Now
	if _, ok := cache.Load(); ok {
		t.Fatal("Load() returned an expired record")
	}
	if _, err := os.Stat(filepath.Join(dir, "juniper.json")); !os.IsNotExist(err) {
		t.Errorf("expired record not deleted: %v", err)
	}
}

func TestLoadMalformedTreatedAsAbsent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "juniper.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}

	cache := New(dir, "juniper")
	if _, ok := cache.Load(); ok {
		t.Fatal("Load() returned a record from malformed data")
	}
}

func TestRecordWireFormat(t *testing.T) {
	// A record written by the browser implementation must load as-is.
	dir := t.TempDir()
	expiry := time.Now().Add(time.Hour).UnixMilli()

	rec := Record{Settings: testSettings, Timestamp: expiry}
	data, err := json.Marshal(rec)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "juniper.json"), data, 0644); err != nil {
		t.Fatal(err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}
	settings, ok := decoded["settings"].(map[string]interface{})
	if !ok {
		t.Fatalf("no settings object in %s", data)
	}
	for _, key := range []string{"baseUrl", "wsUrl", "token"} {
		if _, ok := settings[key]; !ok {
			t.Errorf("settings missing %q key: %s", key, data)
		}
	}
	if _, ok := decoded["timestamp"]; !ok {
		t.Errorf("record missing timestamp key: %s", data)
	}

	cache := New(dir, "juniper")
	loaded, ok := cache.Load()
	if !ok {
		t.Fatal("Load() returned absent for a wire-format record")
	}
	if loaded.Settings != testSettings {
		t.Errorf("Settings = %+v, want %+v", loaded.Settings, testSettings)
	}
}

func TestClearIdempotent(t *testing.T) {
	cache := New(t.TempDir(), "juniper")
	if err := cache.Clear(); err != nil {
		t.Fatalf("Clear() on absent record: %v", err)
	}
	if err := cache.Save(testSettings, time.Hour); err != nil {
		t.Fatal(err)
	}
	if err := cache.Clear(); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	if _, ok := cache.Load(); ok {
		t.Fatal("Load() returned a record after Clear")
	}
	if err := cache.Clear(); err != nil {
		t.Fatalf("second Clear() error = %v", err)
	}
}

func TestDisabledCacheIsNoOp(t *testing.T) {
	cache := Disabled()
	if cache.Enabled() {
		t.Fatal("Disabled() cache reports enabled")
	}
	if err := cache.Save(testSettings, time.Hour); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if _, ok := cache.Load(); ok {
		t.Fatal("Load() returned a record from a disabled cache")
	}
	if err := cache.Clear(); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
}

func TestCustomKey(t *testing.T) {
	dir := t.TempDir()
	cache := New(dir, "my-course")
	if err := cache.Save(testSettings, time.Hour); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dir, "my-course.json")); err != nil {
		t.Errorf("record not written under custom key: %v", err)
	}
}

package provision

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/juniper-run/juniper/pkg/events"
)

// sseHandler writes each payload as one server-sent event.
func sseHandler(payloads ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher, ok := w.(http.Flusher)
		if !ok {
			panic("response writer is not a flusher")
		}
		for _, p := range payloads {
			fmt.Fprintf(w, "data: %s\n\n", p)
			flusher.Flush()
		}
	}
}

func gather(t *testing.T, ch <-chan events.Event, n int) []events.Event {
	t.Helper()
	var got []events.Event
	timeout := time.After(2 * time.Second)
	for len(got) < n {
		select {
		case ev, ok := <-ch:
			if !ok {
				t.Fatalf("event channel closed after %d events, want %d", len(got), n)
			}
			got = append(got, ev)
		case <-timeout:
			t.Fatalf("timed out after %d events, want %d", len(got), n)
		}
	}
	return got
}

func statuses(evs []events.Event) []string {
	out := make([]string, len(evs))
	for i, ev := range evs {
		out[i] = ev.Status
	}
	return out
}

func TestBuildCollapsesRepeatedPhases(t *testing.T) {
	srv := httptest.NewServer(sseHandler(
		`{"phase": "Waiting"}`,
		`{"phase": "waiting"}`,
		`{"phase": "building"}`,
		`{"phase": "ready", "url": "http://1.2.3.4:8888", "token": "abc"}`,
	))
	defer srv.Close()

	bus := events.NewBus()
	defer bus.Close()
	ch, unsub := bus.Subscribe()
	defer unsub()

	client := New(Config{ServiceURL: srv.URL, Bus: bus})
	settings, err := client.Build(context.Background(), "ines/spacy-course", "master")
	require.NoError(t, err)

	require.Equal(t, "http://1.2.3.4:8888", settings.BaseURL)
	require.Equal(t, "ws://1.2.3.4:8888", settings.WebSocketURL)
	require.Equal(t, "abc", settings.Token)

	got := gather(t, ch, 4)
	require.Equal(t, []string{"building", "waiting", "building", "server-ready"}, statuses(got))
	require.Equal(t, srv.URL+"/build/gh/ines/spacy-course/master", got[0].Data["buildUrl"])
}

func TestBuildRewritesSecureScheme(t *testing.T) {
	srv := httptest.NewServer(sseHandler(
		`{"phase": "ready", "url": "https://hub.example.org/user/x", "token": "tok"}`,
	))
	defer srv.Close()

	client := New(Config{ServiceURL: srv.URL})
	settings, err := client.Build(context.Background(), "owner/repo", "main")
	require.NoError(t, err)
	require.Equal(t, "wss://hub.example.org/user/x", settings.WebSocketURL)
}

func TestBuildFailedPhase(t *testing.T) {
	srv := httptest.NewServer(sseHandler(
		`{"phase": "waiting"}`,
		`{"phase": "failed", "message": "image build exploded"}`,
	))
	defer srv.Close()

	bus := events.NewBus()
	defer bus.Close()
	ch, unsub := bus.Subscribe()
	defer unsub()

	client := New(Config{ServiceURL: srv.URL, Bus: bus})
	_, err := client.Build(context.Background(), "owner/repo", "main")

	var buildErr *BuildFailedError
	require.ErrorAs(t, err, &buildErr)
	require.Equal(t, "image build exploded", buildErr.Message)
	require.Contains(t, err.Error(), "image build exploded")

	got := gather(t, ch, 3)
	require.Equal(t, []string{"building", "waiting", "failed"}, statuses(got))
}

func TestBuildEndpointError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such repo", http.StatusInternalServerError)
	}))
	defer srv.Close()

	bus := events.NewBus()
	defer bus.Close()
	ch, unsub := bus.Subscribe()
	defer unsub()

	client := New(Config{ServiceURL: srv.URL, Bus: bus})
	_, err := client.Build(context.Background(), "owner/repo", "main")

	var transportErr *TransportError
	require.ErrorAs(t, err, &transportErr)

	got := gather(t, ch, 2)
	require.Equal(t, []string{"building", "failed"}, statuses(got))
}

func TestBuildStreamCutBeforeTerminalPhase(t *testing.T) {
	srv := httptest.NewServer(sseHandler(
		`{"phase": "waiting"}`,
		`{"phase": "building"}`,
	))
	defer srv.Close()

	client := New(Config{ServiceURL: srv.URL})
	_, err := client.Build(context.Background(), "owner/repo", "main")

	var transportErr *TransportError
	require.ErrorAs(t, err, &transportErr)
}

func TestBuildContextCancellation(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"phase\": \"waiting\"}\n\n")
		w.(http.Flusher).Flush()
		<-release
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	client := New(Config{ServiceURL: srv.URL})
	_, err := client.Build(ctx, "owner/repo", "main")

	var transportErr *TransportError
	require.ErrorAs(t, err, &transportErr)
	require.True(t, errors.Is(err, context.Canceled), "want context.Canceled, got %v", err)
}

func TestBuildSkipsUndecodablePayloads(t *testing.T) {
	srv := httptest.NewServer(sseHandler(
		`not json at all`,
		`{"phase": "ready", "url": "http://1.2.3.4:8888", "token": "abc"}`,
	))
	defer srv.Close()

	client := New(Config{ServiceURL: srv.URL})
	settings, err := client.Build(context.Background(), "owner/repo", "main")
	require.NoError(t, err)
	require.Equal(t, "abc", settings.Token)
}

func TestBuildRejectsUnusableReadyURL(t *testing.T) {
	srv := httptest.NewServer(sseHandler(
		`{"phase": "ready", "url": "ftp://nope", "token": "abc"}`,
	))
	defer srv.Close()

	client := New(Config{ServiceURL: srv.URL})
	_, err := client.Build(context.Background(), "owner/repo", "main")

	var transportErr *TransportError
	require.ErrorAs(t, err, &transportErr)
}

func TestStreamScanner(t *testing.T) {
	input := strings.Join([]string{
		": comment line",
		"event: phase",
		"data: {\"phase\":",
		"data: \"waiting\"}",
		"",
		"retry: 100",
		"data: {\"phase\": \"ready\"}",
		"",
	}, "\n")

	s := newStreamScanner(strings.NewReader(input))

	first, err := s.nextData()
	require.NoError(t, err)
	require.Equal(t, "{\"phase\":\n\"waiting\"}", string(first))

	second, err := s.nextData()
	require.NoError(t, err)
	require.Equal(t, `{"phase": "ready"}`, string(second))

	_, err = s.nextData()
	require.Error(t, err)
}

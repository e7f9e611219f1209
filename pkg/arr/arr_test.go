package arr

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/sirrobot01/reclaimarr/internal/config"
	"github.com/sirrobot01/reclaimarr/pkg/rategate"
)

type recordedCommand struct {
	name   string
	apiKey string
	at     time.Time
}

func newCommandServer(t *testing.T) (*httptest.Server, func() []recordedCommand) {
	t.Helper()
	var (
		mu       sync.Mutex
		commands []recordedCommand
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v3/command" {
			http.NotFound(w, r)
			return
		}
		var payload struct {
			Name string `json:"name"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("bad payload: %v", err)
		}
		mu.Lock()
		commands = append(commands, recordedCommand{
			name:   payload.Name,
			apiKey: r.Header.Get("X-Api-Key"),
			at:     time.Now(),
		})
		mu.Unlock()
		w.WriteHeader(http.StatusCreated)
	}))
	t.Cleanup(srv.Close)
	return srv, func() []recordedCommand {
		mu.Lock()
		defer mu.Unlock()
		return append([]recordedCommand(nil), commands...)
	}
}

func TestNotify_SendsRescanThenSearch(t *testing.T) {
	srv, recorded := newCommandServer(t)

	a := &Arr{Name: "sonarr-main", Host: srv.URL, Token: "secret-key", Type: Sonarr}
	if err := a.Notify(context.Background(), 50*time.Millisecond, nil); err != nil {
		t.Fatalf("notify failed: %v", err)
	}

	cmds := recorded()
	if len(cmds) != 2 {
		t.Fatalf("expected 2 commands, got %d", len(cmds))
	}
	if cmds[0].name != "RescanSeries" || cmds[1].name != "missingEpisodeSearch" {
		t.Errorf("wrong commands or order: %s, %s", cmds[0].name, cmds[1].name)
	}
	if cmds[0].apiKey != "secret-key" {
		t.Errorf("missing api key header: %q", cmds[0].apiKey)
	}
	if gap := cmds[1].at.Sub(cmds[0].at); gap < 50*time.Millisecond {
		t.Errorf("commands sent %v apart, want at least 50ms", gap)
	}
}

func TestNotify_RadarrCommands(t *testing.T) {
	srv, recorded := newCommandServer(t)

	a := &Arr{Name: "radarr", Host: srv.URL, Token: "k", Type: Radarr}
	if err := a.Notify(context.Background(), time.Millisecond, nil); err != nil {
		t.Fatalf("notify failed: %v", err)
	}
	cmds := recorded()
	if len(cmds) != 2 || cmds[0].name != "RescanMovie" || cmds[1].name != "MissingMoviesSearch" {
		t.Errorf("wrong radarr commands: %+v", cmds)
	}
}

func TestNew_TokenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	if err := os.WriteFile(path, []byte("file-token\n"), 0600); err != nil {
		t.Fatal(err)
	}

	a, err := New(config.Arr{Name: "sonarr", Host: "http://sonarr:8989", TokenFile: path})
	if err != nil {
		t.Fatalf("new failed: %v", err)
	}
	if a.Token != "file-token" {
		t.Errorf("token not read from file: %q", a.Token)
	}
	if a.Type != Sonarr {
		t.Errorf("type not inferred: %q", a.Type)
	}
}

func TestNotify_GatesEachCommand(t *testing.T) {
	srv, recorded := newCommandServer(t)
	gate := rategate.New(rategate.Options{MaxCalls: 10, Window: time.Minute, Logger: zerolog.Nop()})

	n := NewNotifier([]config.Arr{
		{Name: "sonarr", Host: srv.URL, Token: "k"},
	}, gate, false, zerolog.Nop())
	n.SetSpacing(time.Millisecond)

	if err := n.NotifyAll(context.Background()); err != nil {
		t.Fatalf("notify failed: %v", err)
	}
	if len(recorded()) != 2 {
		t.Fatalf("expected 2 commands, got %d", len(recorded()))
	}

	tags, _ := gate.Stats()
	if got := tags[rategate.TagNotifyMedia].Calls; got != 2 {
		t.Errorf("each command should take its own gate slot, recorded %d", got)
	}
	if got := tags[rategate.TagNotifyMedia].Successes; got != 2 {
		t.Errorf("both commands succeeded, recorded %d", got)
	}
}

func TestNotifier_DryRunSkipsRequests(t *testing.T) {
	srv, recorded := newCommandServer(t)

	n := NewNotifier([]config.Arr{
		{Name: "sonarr", Host: srv.URL, Token: "k"},
	}, nil, true, zerolog.Nop())
	if err := n.NotifyAll(context.Background()); err != nil {
		t.Fatalf("dry run errored: %v", err)
	}
	if len(recorded()) != 0 {
		t.Error("dry run should not send commands")
	}
}

func TestNotifier_SkipsUnconfigured(t *testing.T) {
	n := NewNotifier([]config.Arr{
		{Name: "no-host", Token: "k"},
		{Name: "no-token", Host: "http://x"},
		{Name: "sonarr", Host: "http://sonarr:8989", Token: "k"},
	}, nil, false, zerolog.Nop())
	if got := len(n.Instances()); got != 1 {
		t.Errorf("expected 1 usable instance, got %d", got)
	}
}

func TestNotifier_ContinuesPastFailedInstance(t *testing.T) {
	srv, recorded := newCommandServer(t)
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer down.Close()

	n := NewNotifier([]config.Arr{
		{Name: "broken-sonarr", Host: down.URL, Token: "k"},
		{Name: "radarr", Host: srv.URL, Token: "k"},
	}, nil, false, zerolog.Nop())
	n.SetSpacing(time.Millisecond)

	if err := n.NotifyAll(context.Background()); err == nil {
		t.Error("expected error from the unreachable instance")
	}
	if len(recorded()) != 2 {
		t.Errorf("healthy instance should still be notified, got %d commands", len(recorded()))
	}
}

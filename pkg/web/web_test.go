package web

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/sirrobot01/reclaimarr/internal/config"
	"github.com/sirrobot01/reclaimarr/pkg/scheduler"
	"github.com/sirrobot01/reclaimarr/pkg/store"
)

type fakeScanner struct {
	modes []string
	err   error
}

func (f *fakeScanner) Scan(ctx context.Context, mode string) (*scheduler.ScanSummary, error) {
	f.modes = append(f.modes, mode)
	if f.err != nil {
		return nil, f.err
	}
	return &scheduler.ScanSummary{Mode: mode, Processed: 1}, nil
}

type fakeReinjector struct {
	ids []string
	ok  bool
}

func (f *fakeReinjector) Reinject(ctx context.Context, t store.Torrent) (bool, error) {
	f.ids = append(f.ids, t.ID)
	return f.ok, nil
}

const testToken = "fa1afe1fa1afe1fa1afe1fa1afe1fa1afe1fa1af"

func newTestWeb(t *testing.T, useAuth bool) (*Web, *store.Store, *fakeScanner, *fakeReinjector) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"), zerolog.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	cfg := &config.Config{
		Path:             t.TempDir(),
		UseAuth:          useAuth,
		MaxRetryAttempts: 3,
	}
	if useAuth {
		hashed, err := bcrypt.GenerateFromPassword([]byte("hunter22"), bcrypt.MinCost)
		if err != nil {
			t.Fatal(err)
		}
		if err := cfg.SaveAuth(&config.Auth{
			Username: "admin",
			Password: string(hashed),
			APIToken: testToken,
		}); err != nil {
			t.Fatal(err)
		}
	}

	scanner := &fakeScanner{}
	reinjector := &fakeReinjector{ok: true}
	wb := New(Options{
		Config:     cfg,
		Store:      st,
		Scanner:    scanner,
		Reinjector: reinjector,
		Logger:     zerolog.Nop(),
	})
	return wb, st, scanner, reinjector
}

func doJSON(t *testing.T, handler http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func TestHealthIsPublic(t *testing.T) {
	wb, _, _, _ := newTestWeb(t, true)
	w := doJSON(t, wb.Routes(), http.MethodGet, "/health", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("health returned %d", w.Code)
	}
	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp["status"] != "ok" {
		t.Errorf("wrong health payload: %+v", resp)
	}
}

func TestAuthRequired(t *testing.T) {
	wb, _, _, _ := newTestWeb(t, true)
	r := wb.Routes()

	if w := doJSON(t, r, http.MethodGet, "/stats", "", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated stats returned %d", w.Code)
	}
	if w := doJSON(t, r, http.MethodGet, "/stats", "wrong-token", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("bad token returned %d", w.Code)
	}
	if w := doJSON(t, r, http.MethodGet, "/stats", testToken, nil); w.Code != http.StatusOK {
		t.Errorf("valid token returned %d", w.Code)
	}
}

func TestLoginSession(t *testing.T) {
	wb, _, _, _ := newTestWeb(t, true)
	r := wb.Routes()

	w := doJSON(t, r, http.MethodPost, "/login", "", map[string]string{
		"username": "admin", "password": "wrong",
	})
	if w.Code != http.StatusUnauthorized {
		t.Errorf("bad password returned %d", w.Code)
	}

	w = doJSON(t, r, http.MethodPost, "/login", "", map[string]string{
		"username": "admin", "password": "hunter22",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("login returned %d: %s", w.Code, w.Body.String())
	}
	cookies := w.Result().Cookies()
	if len(cookies) == 0 {
		t.Fatal("login set no session cookie")
	}

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("session-authenticated stats returned %d", rec.Code)
	}
}

func TestGetTorrents_FailedExpansion(t *testing.T) {
	wb, st, _, _ := newTestWeb(t, false)
	ctx := context.Background()
	seed := []store.Torrent{
		{ID: "T1", Hash: "a", Filename: "Dead", Status: store.StatusDead},
		{ID: "T2", Hash: "b", Filename: "Virus", Status: store.StatusVirus},
		{ID: "T3", Hash: "c", Filename: "Fine", Status: store.StatusDownloaded},
	}
	for _, tor := range seed {
		if err := st.UpsertTorrent(ctx, tor); err != nil {
			t.Fatal(err)
		}
	}

	w := doJSON(t, wb.Routes(), http.MethodGet, "/torrents/?status=failed", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("torrents returned %d", w.Code)
	}
	var torrents []store.Torrent
	if err := json.Unmarshal(w.Body.Bytes(), &torrents); err != nil {
		t.Fatal(err)
	}
	if len(torrents) != 2 {
		t.Errorf("status=failed should expand to the failed set, got %d rows", len(torrents))
	}
}

func TestScanDispatch(t *testing.T) {
	wb, _, scanner, _ := newTestWeb(t, false)
	r := wb.Routes()

	w := doJSON(t, r, http.MethodPost, "/torrents/scan", "", map[string]string{"mode": "quick"})
	if w.Code != http.StatusOK {
		t.Fatalf("scan returned %d: %s", w.Code, w.Body.String())
	}
	w = doJSON(t, r, http.MethodPost, "/symlinks/scan", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("symlink scan returned %d", w.Code)
	}
	if len(scanner.modes) != 2 || scanner.modes[0] != "quick" || scanner.modes[1] != store.ScanSymlinks {
		t.Errorf("wrong dispatches: %v", scanner.modes)
	}

	scanner.err = fmt.Errorf("unknown scan mode %q", "bogus")
	w = doJSON(t, r, http.MethodPost, "/torrents/scan", "", map[string]string{"mode": "bogus"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad mode returned %d", w.Code)
	}
}

func TestReinjectOutcomes(t *testing.T) {
	wb, st, _, reinjector := newTestWeb(t, false)
	ctx := context.Background()
	if err := st.UpsertTorrent(ctx, store.Torrent{ID: "T1", Hash: "a", Filename: "Item", Status: store.StatusDead}); err != nil {
		t.Fatal(err)
	}

	w := doJSON(t, wb.Routes(), http.MethodPost, "/torrents/reinject", "", map[string][]string{
		"torrent_ids": {"T1", "MISSING"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("reinject returned %d", w.Code)
	}
	var outcomes []reinjectOutcome
	if err := json.Unmarshal(w.Body.Bytes(), &outcomes); err != nil {
		t.Fatal(err)
	}
	if len(outcomes) != 2 {
		t.Fatalf("expected 2 outcomes, got %d", len(outcomes))
	}
	if !outcomes[0].Success || outcomes[0].TorrentID != "T1" {
		t.Errorf("wrong outcome for T1: %+v", outcomes[0])
	}
	if outcomes[1].Success || outcomes[1].Error != "not found" {
		t.Errorf("wrong outcome for missing id: %+v", outcomes[1])
	}
	if len(reinjector.ids) != 1 || reinjector.ids[0] != "T1" {
		t.Errorf("reinjector driven with wrong ids: %v", reinjector.ids)
	}
}

func TestDeleteTorrent(t *testing.T) {
	wb, st, _, _ := newTestWeb(t, false)
	ctx := context.Background()
	if err := st.UpsertTorrent(ctx, store.Torrent{ID: "T1", Hash: "a", Filename: "Item", Status: store.StatusDead}); err != nil {
		t.Fatal(err)
	}
	r := wb.Routes()

	if w := doJSON(t, r, http.MethodDelete, "/torrents/T1", "", nil); w.Code != http.StatusOK {
		t.Errorf("delete returned %d", w.Code)
	}
	if w := doJSON(t, r, http.MethodDelete, "/torrents/T1", "", nil); w.Code != http.StatusNotFound {
		t.Errorf("second delete returned %d", w.Code)
	}
}

func TestGetSymlinks(t *testing.T) {
	wb, st, _, _ := newTestWeb(t, false)
	ctx := context.Background()
	err := st.RecordSymlink(ctx, store.SymlinkRecord{
		SourcePath:  "/media/a.mkv",
		TorrentName: "Some.Item",
		Status:      "BROKEN",
		DetectedAt:  time.Now().UTC(),
	})
	if err != nil {
		t.Fatal(err)
	}

	w := doJSON(t, wb.Routes(), http.MethodGet, "/symlinks/broken?processed=false", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("symlinks returned %d", w.Code)
	}
	var links []store.SymlinkRecord
	if err := json.Unmarshal(w.Body.Bytes(), &links); err != nil {
		t.Fatal(err)
	}
	if len(links) != 1 || links[0].TorrentName != "Some.Item" {
		t.Errorf("wrong symlink listing: %+v", links)
	}

	if w := doJSON(t, wb.Routes(), http.MethodGet, "/symlinks/broken?processed=nope", "", nil); w.Code != http.StatusBadRequest {
		t.Errorf("bad processed filter returned %d", w.Code)
	}
}

func TestStats(t *testing.T) {
	wb, st, _, _ := newTestWeb(t, false)
	ctx := context.Background()
	if err := st.UpsertTorrent(ctx, store.Torrent{ID: "T1", Hash: "a", Filename: "Item", Status: store.StatusDead}); err != nil {
		t.Fatal(err)
	}

	w := doJSON(t, wb.Routes(), http.MethodGet, "/stats", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("stats returned %d", w.Code)
	}
	var resp statsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.TorrentsByStatus["dead"] != 1 {
		t.Errorf("wrong status counts: %+v", resp.TorrentsByStatus)
	}
	if !resp.DryRun {
		t.Error("dry run should default to true")
	}
}

package web

import (
	"cmp"
	"context"
	"encoding/json"
	"net/http"
	"os"

	"github.com/gorilla/sessions"
	"github.com/rs/zerolog"

	"github.com/sirrobot01/reclaimarr/internal/config"
	"github.com/sirrobot01/reclaimarr/pkg/events"
	"github.com/sirrobot01/reclaimarr/pkg/rategate"
	"github.com/sirrobot01/reclaimarr/pkg/scheduler"
	"github.com/sirrobot01/reclaimarr/pkg/store"
)

// Scanner dispatches a manual scan.
type Scanner interface {
	Scan(ctx context.Context, mode string) (*scheduler.ScanSummary, error)
}

// Reinjector drives one re-submission for the manual endpoint.
type Reinjector interface {
	Reinject(ctx context.Context, t store.Torrent) (bool, error)
}

// Web is the JSON control plane.
type Web struct {
	cfg        *config.Config
	store      *store.Store
	scanner    Scanner
	reinjector Reinjector
	gate       *rategate.Gate
	hub        *events.Hub
	cookie     *sessions.CookieStore
	logger     zerolog.Logger
}

type Options struct {
	Config     *config.Config
	Store      *store.Store
	Scanner    Scanner
	Reinjector Reinjector
	Gate       *rategate.Gate
	Hub        *events.Hub
	Logger     zerolog.Logger
}

func New(opts Options) *Web {
	secretKey := cmp.Or(os.Getenv("RECLAIMARR_SECRET_KEY"), "9f&2m!qv8_rl#x@57jw(zc4ky+0h3ebn")
	cookieStore := sessions.NewCookieStore([]byte(secretKey))
	cookieStore.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   86400 * 7,
		HttpOnly: true,
	}
	return &Web{
		cfg:        opts.Config,
		store:      opts.Store,
		scanner:    opts.Scanner,
		reinjector: opts.Reinjector,
		gate:       opts.Gate,
		hub:        opts.Hub,
		cookie:     cookieStore,
		logger:     opts.Logger,
	}
}

func (wb *Web) sendJSONError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": message, "status": statusCode})
}

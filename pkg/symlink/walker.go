package symlink

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Link classifications.
const (
	StatusOK           = "OK"
	StatusBroken       = "BROKEN"
	StatusInaccessible = "INACCESSIBLE"
	StatusSmall        = "SMALL"
	StatusIOError      = "IO_ERROR"
	StatusError        = "ERROR"
)

const smallFileThreshold = 1024

// BrokenLink is one non-OK symlink found during a walk.
type BrokenLink struct {
	SourcePath   string `json:"source_path"`
	TargetPath   string `json:"target_path"`
	TorrentName  string `json:"torrent_name"`
	Status       string `json:"status"`
	Size         int64  `json:"size"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// Walker enumerates a media root's immediate subdirectories in
// lexicographic order and classifies every symlink under them with a
// bounded inspection pool. The cursor persists across restarts.
type Walker struct {
	root      string
	statePath string
	workers   int
	refresh   time.Duration
	logger    zerolog.Logger

	mu    sync.Mutex
	state State
}

type Options struct {
	Root      string
	StatePath string
	Workers   int
	Refresh   time.Duration
	Logger    zerolog.Logger
}

func NewWalker(opts Options) *Walker {
	if opts.Workers <= 0 {
		opts.Workers = 6
	}
	if opts.Refresh <= 0 {
		opts.Refresh = 24 * time.Hour
	}
	return &Walker{
		root:      opts.Root,
		statePath: opts.StatePath,
		workers:   opts.Workers,
		refresh:   opts.Refresh,
		logger:    opts.Logger,
		state:     loadState(opts.StatePath),
	}
}

// State returns a copy of the current cursor.
func (w *Walker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *Walker) persist() {
	if w.statePath == "" {
		return
	}
	if err := saveState(w.statePath, w.state); err != nil {
		w.logger.Warn().Err(err).Msg("persisting walker state failed")
	}
}

// Flush writes the cursor out, used on shutdown.
func (w *Walker) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.persist()
}

// resumeIndex decides where in the sorted subdirectory list to start. An
// interrupted scan resumes after the last finished directory; a stale
// cursor forces a full re-walk.
func (w *Walker) resumeIndex(dirs []string) int {
	st := w.state
	if !st.ScanInProgress || st.CurrentDirectory == "" {
		return 0
	}
	if st.LastScanDate != nil && time.Since(*st.LastScanDate) > w.refresh {
		w.logger.Info().Msg("walker cursor older than refresh window, starting over")
		return 0
	}
	for i, d := range dirs {
		if filepath.Base(d) == st.CurrentDirectory {
			return i + 1
		}
	}
	return 0
}

// Walk runs one pass over the media tree and returns the non-OK links.
// On cancellation it returns the partial results along with the context
// error; the cursor stays resumable.
func (w *Walker) Walk(ctx context.Context) ([]BrokenLink, error) {
	entries, err := os.ReadDir(w.root)
	if err != nil {
		return nil, err
	}
	var dirs []string
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, filepath.Join(w.root, e.Name()))
		}
	}
	sort.Strings(dirs)

	w.mu.Lock()
	start := w.resumeIndex(dirs)
	if start == 0 {
		w.state.TotalSymlinksFound = 0
		w.state.TotalProcessed = 0
	}
	w.state.ScanInProgress = true
	w.state.TotalDirectories = len(dirs)
	w.persist()
	w.mu.Unlock()

	var broken []BrokenLink
	for i := start; i < len(dirs); i++ {
		if err := ctx.Err(); err != nil {
			w.Flush()
			return broken, err
		}

		links, found, err := w.walkDir(ctx, dirs[i])
		broken = append(broken, links...)

		w.mu.Lock()
		w.state.CurrentDirectory = filepath.Base(dirs[i])
		w.state.CurrentIndex = i + 1
		w.state.TotalSymlinksFound += found
		w.persist()
		w.mu.Unlock()

		if err != nil {
			return broken, err
		}
	}

	now := time.Now().UTC()
	w.mu.Lock()
	w.state.ScanInProgress = false
	w.state.LastScanDate = &now
	w.persist()
	w.mu.Unlock()

	w.logger.Info().
		Int("directories", len(dirs)-start).
		Int("broken", len(broken)).
		Msg("walk complete")
	return broken, nil
}

// walkDir collects every symlink under dir and inspects them in
// parallel. Returns the non-OK links and the number of symlinks seen.
func (w *Walker) walkDir(ctx context.Context, dir string) ([]BrokenLink, int, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// unreadable subtree is data, not a walk failure
			w.logger.Debug().Err(err).Str("path", path).Msg("walk error")
			return nil
		}
		if d.Type()&fs.ModeSymlink != 0 {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}

	var (
		mu     sync.Mutex
		broken []BrokenLink
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.workers)
	for _, path := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if link := w.inspect(path); link != nil {
				mu.Lock()
				broken = append(broken, *link)
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return broken, len(paths), err
	}
	return broken, len(paths), nil
}

// inspect classifies one symlink. A nil return means the link is OK.
func (w *Walker) inspect(path string) *BrokenLink {
	target, err := os.Readlink(path)
	if err != nil {
		return &BrokenLink{
			SourcePath:   path,
			Status:       StatusError,
			ErrorMessage: err.Error(),
		}
	}
	if !filepath.IsAbs(target) {
		target = filepath.Join(filepath.Dir(path), target)
	}

	link := &BrokenLink{
		SourcePath:  path,
		TargetPath:  target,
		TorrentName: ExtractTorrentName(target),
	}

	info, err := os.Stat(path)
	switch {
	case os.IsNotExist(err):
		link.Status = StatusBroken
		return link
	case os.IsPermission(err):
		link.Status = StatusInaccessible
		link.ErrorMessage = err.Error()
		return link
	case err != nil:
		link.Status = StatusError
		link.ErrorMessage = err.Error()
		return link
	}

	link.Size = info.Size()
	if info.Size() < smallFileThreshold {
		link.Status = StatusSmall
		return link
	}

	if err := readFileStart(path); err != nil {
		if os.IsPermission(err) {
			link.Status = StatusInaccessible
		} else {
			link.Status = StatusIOError
		}
		link.ErrorMessage = err.Error()
		return link
	}
	return nil
}

// readFileStart reads the first 1 KiB, surfacing remount stubs whose
// metadata looks fine but whose content is gone.
func readFileStart(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	buffer := make([]byte, smallFileThreshold)
	_, err = f.Read(buffer)
	return err
}

// ExtractTorrentName derives the remote item name from a link target:
// the path segment after "torrents", or the target's parent directory.
func ExtractTorrentName(target string) string {
	parts := strings.Split(filepath.ToSlash(target), "/")
	for i, p := range parts {
		if p == "torrents" && i+1 < len(parts) {
			return parts[i+1]
		}
	}
	return filepath.Base(filepath.Dir(target))
}

// SortByBasename orders links by source filename, the order the
// continuous tester consumes batches in.
func SortByBasename(links []BrokenLink) {
	sort.Slice(links, func(i, j int) bool {
		return filepath.Base(links[i].SourcePath) < filepath.Base(links[j].SourcePath)
	})
}

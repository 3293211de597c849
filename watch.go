package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/paperdrive/paperdrive-go/internal/config"
	"github.com/paperdrive/paperdrive-go/internal/engine"
	"github.com/paperdrive/paperdrive-go/internal/keyspace"
	"github.com/paperdrive/paperdrive-go/internal/metrics"
	"github.com/paperdrive/paperdrive-go/internal/objstore"
	"github.com/paperdrive/paperdrive-go/internal/tree"
	"github.com/paperdrive/paperdrive-go/pkg/contenthash"
)

// scanHashWorkers bounds concurrent hashing during the initial scan.
const scanHashWorkers = 4

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch <local-dir> [remote-folder]",
		Short: "Mirror a local directory into a remote folder",
		Long: `Watch a local directory and mirror file creations and modifications into
the remote folder: new files are uploaded, changed files overwritten, new
directories created. Local deletions are never mirrored — removing remote
data requires an explicit rm.

A full scan runs at startup so files changed while the watcher was down are
caught up. Only one watcher may run at a time (PID file guard). Stop with
Ctrl-C; a second Ctrl-C force-quits.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: runWatch,
	}

	cmd.Flags().Duration("debounce", 0, "override the configured debounce interval")

	return cmd
}

func runWatch(cmd *cobra.Command, args []string) error {
	localDir, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}

	fi, err := os.Stat(localDir)
	if err != nil {
		return fmt.Errorf("stating watch directory: %w", err)
	}

	if !fi.IsDir() {
		return fmt.Errorf("%q is not a directory", localDir)
	}

	remoteDir := "/"
	if len(args) > 1 {
		remoteDir = args[1]
	}

	debounce := time.Duration(resolvedCfg.Watch.Debounce)

	if flagDebounce, flagErr := cmd.Flags().GetDuration("debounce"); flagErr != nil {
		return flagErr
	} else if flagDebounce > 0 {
		debounce = flagDebounce
	}

	logger := buildLogger()

	cleanup, err := writePIDFile(config.WatchPIDPath())
	if err != nil {
		return err
	}
	defer cleanup()

	ctx := shutdownContext(cmd.Context(), logger)

	session, store, _, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer session.Close()

	if listen := resolvedCfg.Watch.MetricsListen; listen != "" {
		startMetricsListener(ctx, listen, logger)
	}

	w := &dirWatcher{
		session:    session,
		store:      store,
		logger:     logger,
		localDir:   localDir,
		remoteBase: splitSegments(remoteDir),
		debounce:   debounce,
		hashes:     make(map[string]string),
		timers:     make(map[string]*time.Timer),
		uploads:    make(chan string, 64),
		done:       make(chan struct{}),
	}

	logger.Info("watch starting",
		slog.String("local_dir", localDir),
		slog.String("remote_dir", remoteDir),
		slog.Duration("debounce", debounce),
	)

	return w.run(ctx)
}

// startMetricsListener serves /metrics for scraping while the watcher runs.
// Listener failures are logged, never fatal: metrics are an aid, not a
// precondition.
func startMetricsListener(ctx context.Context, listen string, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())

	srv := &http.Server{Addr: listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		logger.Info("metrics listener starting", slog.String("addr", listen))

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics listener failed", slog.String("error", err.Error()))
		}
	}()

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		srv.Shutdown(shutdownCtx)
	}()
}

// dirWatcher mirrors one local directory into one remote folder.
type dirWatcher struct {
	session    *engine.Session
	store      objstore.Store
	logger     *slog.Logger
	localDir   string
	remoteBase []string
	debounce   time.Duration

	mu     sync.Mutex
	hashes map[string]string // rel path -> hash of last mirrored content
	timers map[string]*time.Timer

	uploads chan string   // debounced rel paths ready to mirror
	done    chan struct{} // closed when the run loop exits
}

func (w *dirWatcher) run(ctx context.Context) error {
	defer close(w.done)

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating filesystem watcher: %w", err)
	}
	defer fsw.Close()

	// Register watches before the initial scan so changes racing the scan
	// are still observed.
	if err := w.addWatchesRecursive(fsw, w.localDir); err != nil {
		return err
	}

	if err := w.initialScan(ctx); err != nil {
		return err
	}

	w.logger.Info("initial scan complete, watching for changes")

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("watch stopping")
			return nil

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}

			w.handleEvent(ctx, fsw, event)

		case rel, ok := <-w.uploads:
			if !ok {
				return nil
			}

			w.mirrorFile(ctx, rel)

		case watchErr, ok := <-fsw.Errors:
			if !ok {
				return nil
			}

			w.logger.Warn("filesystem watcher error", slog.String("error", watchErr.Error()))
		}
	}
}

// addWatchesRecursive registers fsnotify watches on dir and every non-hidden
// subdirectory.
func (w *dirWatcher) addWatchesRecursive(fsw *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if !d.IsDir() {
			return nil
		}

		if path != dir && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}

		if addErr := fsw.Add(path); addErr != nil {
			return fmt.Errorf("watching %s: %w", path, addErr)
		}

		return nil
	})
}

// initialScan mirrors every local file whose content differs from the remote
// tree. Hashing runs concurrently; uploads funnel through the session, which
// serializes them anyway.
func (w *dirWatcher) initialScan(ctx context.Context) error {
	rels, err := collectLocalFiles(w.localDir)
	if err != nil {
		return err
	}

	snapshot, _ := w.session.Tree()

	remote := make(map[string]*tree.File)
	if base, ok := snapshot.Find(w.remoteBase); ok {
		collectRemoteFiles(base, "", remote)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(scanHashWorkers)

	for _, rel := range rels {
		g.Go(func() error {
			hash, hashErr := contenthash.File(filepath.Join(w.localDir, filepath.FromSlash(rel)))
			if hashErr != nil {
				w.logger.Warn("hash failed during scan", slog.String("path", rel), slog.String("error", hashErr.Error()))
				return nil
			}

			w.mu.Lock()
			w.hashes[rel] = hash
			w.mu.Unlock()

			if file, ok := remote[rel]; ok {
				storedHash, hashErr := remoteHash(gctx, w.store, file)
				if hashErr != nil {
					return fmt.Errorf("fetching remote hash for %s: %w", rel, hashErr)
				}

				if storedHash == hash {
					return nil
				}
			}

			return w.upload(gctx, rel)
		})
	}

	return g.Wait()
}

func (w *dirWatcher) handleEvent(ctx context.Context, fsw *fsnotify.Watcher, event fsnotify.Event) {
	// Mode changes are not mirrored.
	if event.Has(fsnotify.Chmod) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return
	}

	// Local deletions are never mirrored. The remote copy survives until an
	// explicit rm.
	if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
		return
	}

	rel, err := filepath.Rel(w.localDir, event.Name)
	if err != nil {
		w.logger.Warn("failed to compute relative path",
			slog.String("path", event.Name), slog.String("error", err.Error()))

		return
	}

	rel = filepath.ToSlash(rel)

	if isHiddenPath(rel) {
		return
	}

	info, err := os.Stat(event.Name)
	if err != nil {
		// Gone already; nothing to mirror.
		return
	}

	if info.IsDir() {
		if addErr := w.addWatchesRecursive(fsw, event.Name); addErr != nil {
			w.logger.Warn("failed to watch new directory",
				slog.String("path", rel), slog.String("error", addErr.Error()))
		}

		if err := w.ensureRemoteFolders(ctx, strings.Split(rel, keyspace.Separator)); err != nil {
			w.logger.Warn("failed to create remote folder",
				slog.String("path", rel), slog.String("error", err.Error()))
		}

		// Files created inside the directory before its watch was registered
		// produce no events; schedule them now. Duplicates collapse in the
		// debounce timers.
		w.scanNewDirectory(event.Name)

		return
	}

	w.schedule(rel)
}

// scanNewDirectory schedules every file already inside a just-created
// directory.
func (w *dirWatcher) scanNewDirectory(dir string) {
	rels, err := collectLocalFiles(dir)
	if err != nil {
		w.logger.Warn("failed to scan new directory",
			slog.String("path", dir), slog.String("error", err.Error()))

		return
	}

	for _, rel := range rels {
		full, relErr := filepath.Rel(w.localDir, filepath.Join(dir, filepath.FromSlash(rel)))
		if relErr != nil {
			continue
		}

		w.schedule(filepath.ToSlash(full))
	}
}

// isHiddenPath reports whether any segment of a slash-separated relative path
// is dot-prefixed.
func isHiddenPath(rel string) bool {
	for _, seg := range strings.Split(rel, "/") {
		if strings.HasPrefix(seg, ".") {
			return true
		}
	}

	return false
}

// schedule (re)starts the debounce timer for a file. Rapid successive writes
// collapse into one upload.
func (w *dirWatcher) schedule(rel string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if timer, ok := w.timers[rel]; ok {
		timer.Reset(w.debounce)
		return
	}

	w.timers[rel] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.timers, rel)
		w.mu.Unlock()

		// A timer can fire after the run loop has exited; without the
		// done guard the send would block this goroutine forever.
		select {
		case w.uploads <- rel:
		case <-w.done:
		}
	})
}

// mirrorFile uploads one debounced file, suppressing uploads whose content
// hash matches the last mirrored version (editors often rewrite unchanged
// files).
func (w *dirWatcher) mirrorFile(ctx context.Context, rel string) {
	hash, err := contenthash.File(filepath.Join(w.localDir, filepath.FromSlash(rel)))
	if err != nil {
		w.logger.Warn("hash failed", slog.String("path", rel), slog.String("error", err.Error()))
		return
	}

	w.mu.Lock()
	unchanged := w.hashes[rel] == hash
	w.hashes[rel] = hash
	w.mu.Unlock()

	if unchanged {
		w.logger.Debug("content unchanged, skipping upload", slog.String("path", rel))
		return
	}

	if err := w.upload(ctx, rel); err != nil {
		w.logger.Warn("upload failed", slog.String("path", rel), slog.String("error", err.Error()))
	}
}

// upload mirrors one local file, creating remote parent folders as needed.
func (w *dirWatcher) upload(ctx context.Context, rel string) error {
	segments := strings.Split(rel, keyspace.Separator)
	parentRel := segments[:len(segments)-1]
	name := segments[len(segments)-1]

	if err := w.ensureRemoteFolders(ctx, parentRel); err != nil {
		return err
	}

	payload, err := os.ReadFile(filepath.Join(w.localDir, filepath.FromSlash(rel)))
	if err != nil {
		return err
	}

	if maxSize := resolvedCfg.Upload.MaxFileSize; maxSize > 0 && int64(len(payload)) > maxSize {
		w.logger.Warn("file over configured max size, skipping",
			slog.String("path", rel), slog.Int("bytes", len(payload)))

		return nil
	}

	parent := append(append([]string{}, w.remoteBase...), parentRel...)
	contentType := contentTypeForFile(rel)

	update, err := w.session.Run(ctx, engine.UploadFile(parent, name, payload, contentType))
	recordOutcome(update, w.logger)

	if err != nil {
		return err
	}

	w.logger.Info("mirrored file", slog.String("path", rel), slog.Int("bytes", len(payload)))

	return nil
}

// ensureRemoteFolders creates each missing folder along relSegments under the
// remote base, checking the optimistic snapshot first. A conflict from a
// concurrent create is fine: the folder exists either way.
func (w *dirWatcher) ensureRemoteFolders(ctx context.Context, relSegments []string) error {
	for i := range relSegments {
		parent := append(append([]string{}, w.remoteBase...), relSegments[:i]...)
		name := relSegments[i]

		snapshot, _ := w.session.Tree()
		if folder, ok := snapshot.Find(parent); ok {
			if _, exists := folder.Folders[name]; exists {
				continue
			}
		}

		update, err := w.session.Run(ctx, engine.CreateFolder(parent, name))
		recordOutcome(update, w.logger)

		if err != nil && !errors.Is(err, engine.ErrNameConflict) {
			return err
		}
	}

	return nil
}

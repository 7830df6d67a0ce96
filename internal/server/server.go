// Package server exposes digests of files under a root directory and the
// run history over a small JSON API.
package server

import (
	"context"
	"database/sql"
	"errors"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/goccy/go-json"

	"github.com/eargollo/sha2file/internal/batch"
	"github.com/eargollo/sha2file/internal/db"
	"github.com/eargollo/sha2file/internal/logging"
	"github.com/eargollo/sha2file/pkg/digest"
)

const runQueueCap = 64

const defaultRunsLimit = 50

// Options configures a Server.
type Options struct {
	Root         string // files outside Root are never read
	Workers      int    // batch workers for queued runs
	MaxPerSecond int
	Logger       *log.Logger
}

type Server struct {
	opts      Options
	root      string // Root with symlinks resolved
	store     *db.Store // read-write (queued runs)
	readStore *db.Store // optional read-only pool so history reads don't wait on run writes
	mux       *http.ServeMux
	log       *log.Logger
	runQueue  chan runRequest // one worker runs them serially
}

// New creates a server. store may be nil, which disables the history
// endpoints. readStore is optional: if non-nil, read-only handlers use it
// (WAL allows concurrent readers).
func New(opts Options, store, readStore *db.Store) (*Server, error) {
	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, err
	}
	if root, err = filepath.EvalSymlinks(root); err != nil {
		return nil, err
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, errors.New("root " + opts.Root + " is not a directory")
	}
	l := opts.Logger
	if l == nil {
		l = logging.For("server")
	}
	s := &Server{
		opts:      opts,
		root:      root,
		store:     store,
		readStore: readStore,
		mux:       http.NewServeMux(),
		log:       l,
		runQueue:  make(chan runRequest, runQueueCap),
	}
	s.routes()
	return s, nil
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.mux }

// storeForRead returns the store to use for read-only queries (readStore if set, else store).
func (s *Server) storeForRead() *db.Store {
	if s.readStore != nil {
		return s.readStore
	}
	return s.store
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /health", s.handleHealth())
	s.mux.HandleFunc("GET /api/algorithms", s.handleAlgorithms())
	s.mux.HandleFunc("GET /api/digest/{algorithm}", s.handleDigest())
	s.mux.HandleFunc("GET /api/runs", s.handleRuns())
	s.mux.HandleFunc("POST /api/runs", s.handleRunsStart())
	s.mux.HandleFunc("GET /api/runs/{id}", s.handleRun())
	s.mux.HandleFunc("GET /api/runs/{id}/duplicates", s.handleRunDuplicates())
	s.mux.HandleFunc("/", s.handle404())
}

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// statusForKind maps a failed digest computation to an HTTP status.
func statusForKind(k digest.Kind) int {
	switch k {
	case digest.NotFound:
		return http.StatusNotFound
	case digest.AccessDenied:
		return http.StatusForbidden
	case digest.NotAFile:
		return http.StatusUnprocessableEntity
	case digest.Canceled:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

var errOutsideRoot = errors.New("path is outside the served root")

// resolve turns a slash-separated path relative to the root into an absolute
// path, refusing anything that is not local or that resolves through
// symlinks to a location outside the root.
func (s *Server) resolve(rel string) (string, error) {
	if rel == "" {
		return "", errors.New("path is required")
	}
	local := filepath.FromSlash(rel)
	if !filepath.IsLocal(local) {
		return "", errOutsideRoot
	}
	full := filepath.Join(s.root, local)
	real, err := filepath.EvalSymlinks(full)
	if err != nil {
		// Missing or unreadable: the digest reports the kind.
		return full, nil
	}
	inside, err := filepath.Rel(s.root, real)
	if err != nil || (inside != "." && !filepath.IsLocal(inside)) {
		return "", errOutsideRoot
	}
	return real, nil
}

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.store != nil {
			if err := s.store.Ping(r.Context()); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				w.Write([]byte("db unhealthy"))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}
}

type algorithmJSON struct {
	Name   string `json:"name"`
	Tag    string `json:"tag"`
	Bits   int    `json:"bits"`
	HexLen int    `json:"hex_length"`
}

func (s *Server) handleAlgorithms() http.HandlerFunc {
	var out []algorithmJSON
	for _, v := range digest.Variants() {
		out = append(out, algorithmJSON{Name: v.String(), Tag: v.Tag(), Bits: v.Size() * 8, HexLen: v.HexLen()})
	}
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, out)
	}
}

type digestJSON struct {
	Path      string `json:"path"`
	Algorithm string `json:"algorithm"`
	Digest    string `json:"digest"`
}

// handleDigest hashes ROOT/path on the Suspending computer bound to the
// request context: a client that disconnects stops the read.
func (s *Server) handleDigest() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v, err := digest.ParseVariant(r.PathValue("algorithm"))
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		rel := r.URL.Query().Get("path")
		path, err := s.resolve(rel)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		start := time.Now()
		ctx := r.Context()
		sum, err := digest.NewSuspending(v).Start(ctx, path).Wait(ctx)
		if err != nil {
			kind := digest.KindOf(err)
			s.log.Debug("digest failed", "path", rel, "kind", kind, "err", err)
			writeJSON(w, statusForKind(kind), errorBody{Error: kind.String(), Kind: kindName(kind)})
			return
		}
		s.log.Debug("digest served", "path", rel, "algorithm", v, "took", time.Since(start))
		writeJSON(w, http.StatusOK, digestJSON{Path: rel, Algorithm: v.String(), Digest: sum})
	}
}

// kindName is the machine-readable error kind in responses. The message
// from the digest is not sent because it names absolute server paths.
func kindName(k digest.Kind) string {
	switch k {
	case digest.NotFound:
		return "not_found"
	case digest.AccessDenied:
		return "access_denied"
	case digest.NotAFile:
		return "not_a_file"
	case digest.Canceled:
		return "canceled"
	}
	return "io_failure"
}

type runJSON struct {
	ID          string     `json:"id"`
	Algorithm   string     `json:"algorithm"`
	Roots       []string   `json:"roots"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Files       int64      `json:"files"`
	Bytes       int64      `json:"bytes"`
	Reused      int64      `json:"reused"`
	Errors      int64      `json:"errors"`
}

type recordJSON struct {
	Path   string `json:"path"`
	Size   int64  `json:"size"`
	Digest string `json:"digest,omitempty"`
	Error  string `json:"error,omitempty"`
	Reused bool   `json:"reused,omitempty"`
}

type runDetailJSON struct {
	runJSON
	Records []recordJSON `json:"records"`
}

func toRunJSON(r db.Run) runJSON {
	return runJSON{
		ID: r.ID, Algorithm: r.Algorithm, Roots: r.Roots, CreatedAt: r.CreatedAt, CompletedAt: r.CompletedAt,
		Files: r.Stats.Files, Bytes: r.Stats.Bytes, Reused: r.Stats.Reused, Errors: r.Stats.Errors,
	}
}

func (s *Server) requireStore(w http.ResponseWriter) bool {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "history is disabled")
		return false
	}
	return true
}

func (s *Server) handleRuns() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.requireStore(w) {
			return
		}
		limit := defaultRunsLimit
		if ls := r.URL.Query().Get("limit"); ls != "" {
			n, err := strconv.Atoi(ls)
			if err != nil || n < 1 {
				writeError(w, http.StatusBadRequest, "invalid limit")
				return
			}
			limit = n
		}
		runs, err := s.storeForRead().ListRuns(r.Context(), limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		out := make([]runJSON, 0, len(runs))
		for _, run := range runs {
			out = append(out, toRunJSON(run))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func (s *Server) handleRun() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.requireStore(w) {
			return
		}
		ctx := r.Context()
		store := s.storeForRead()
		run, err := store.GetRun(ctx, r.PathValue("id"))
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		recs, err := store.RecordsForRun(ctx, run.ID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		out := runDetailJSON{runJSON: toRunJSON(*run), Records: make([]recordJSON, 0, len(recs))}
		for _, rec := range recs {
			out.Records = append(out.Records, recordJSON{
				Path: rec.Path, Size: rec.Size, Digest: rec.Digest, Error: rec.Error, Reused: rec.Reused,
			})
		}
		writeJSON(w, http.StatusOK, out)
	}
}

type duplicateJSON struct {
	Digest string   `json:"digest"`
	Size   int64    `json:"size"`
	Paths  []string `json:"paths"`
}

func (s *Server) handleRunDuplicates() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.requireStore(w) {
			return
		}
		ctx := r.Context()
		store := s.storeForRead()
		id := r.PathValue("id")
		if _, err := store.GetRun(ctx, id); errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		} else if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		groups, err := store.DuplicateGroups(ctx, id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		out := make([]duplicateJSON, 0, len(groups))
		for _, g := range groups {
			out = append(out, duplicateJSON{Digest: g.Digest, Size: g.Size, Paths: g.Paths})
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// runRequest is the body of POST /api/runs. Paths are relative to the root;
// an empty list means the whole root.
type runRequest struct {
	Paths     []string `json:"paths"`
	Algorithm string   `json:"algorithm"`
	Recursive bool     `json:"recursive"`
	Reuse     bool     `json:"reuse"`

	resolved []string
	variant  digest.Variant
}

func (s *Server) handleRunsStart() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.requireStore(w) {
			return
		}
		var req runRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		req.variant = digest.SHA256
		if req.Algorithm != "" {
			v, err := digest.ParseVariant(req.Algorithm)
			if err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			req.variant = v
		}
		if len(req.Paths) == 0 {
			req.resolved = []string{s.root}
			req.Recursive = true
		}
		for _, p := range req.Paths {
			abs, err := s.resolve(p)
			if err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			req.resolved = append(req.resolved, abs)
		}
		select {
		case s.runQueue <- req:
		default:
			writeError(w, http.StatusServiceUnavailable, "run queue is full, try again later")
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"queued": len(req.resolved)})
	}
}

func (s *Server) handle404() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	}
}

// Run serves on addr until ctx is canceled, then shuts down gracefully.
// Queued runs are processed by one background worker.
func (s *Server) Run(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go s.runWorker(ctx)
	srv := &http.Server{
		Handler:     s.mux,
		ReadTimeout: 10 * time.Second,
		// No write timeout: digests of large files stream for as long as the read takes.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	s.log.Info("listening", "addr", ln.Addr().String(), "root", s.root)
	err := srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// runWorker processes one queued run at a time. Runs are serialized to avoid SQLITE_BUSY.
func (s *Server) runWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-s.runQueue:
			s.runOne(ctx, req)
		}
	}
}

func (s *Server) runOne(ctx context.Context, req runRequest) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("run panicked", "panic", r)
		}
	}()
	stats, err := batch.Run(ctx, req.resolved, &batch.Options{
		Variant:      req.variant,
		Workers:      s.opts.Workers,
		MaxPerSecond: s.opts.MaxPerSecond,
		Recursive:    req.Recursive,
		Store:        s.store,
		Reuse:        req.Reuse,
		Logger:       s.log.WithPrefix("batch"),
	})
	if err != nil {
		s.log.Error("background run failed", "run", stats.RunID, "err", err)
	}
}

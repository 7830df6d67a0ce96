// Package batch digests many files with a bounded worker pool, optionally
// recording every outcome in the history store and reusing stored digests
// for files that have not changed.
package batch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/time/rate"

	"github.com/eargollo/sha2file/internal/db"
	"github.com/eargollo/sha2file/internal/logging"
	"github.com/eargollo/sha2file/internal/walk"
	"github.com/eargollo/sha2file/pkg/digest"
)

const jobChannelCap = 1000 // backpressure when workers are slower than the walk

// Options configures a run. Nil means defaults (SHA-256, one worker, no
// throttle, no store).
type Options struct {
	Variant      digest.Variant
	Computer     digest.Computer // defaults to a Blocking computer for Variant
	Workers      int
	MaxPerSecond int // 0 = no throttle
	Recursive    bool
	Excludes     []string // added to each walked root's defaults and .sha2ignore

	Store *db.Store // when set, the run and every record are stored
	Reuse bool      // reuse stored digests of unchanged files and hardlinks; needs Store

	// OnPlan is called once with the number of jobs before hashing starts.
	OnPlan func(total int)
	// OnResult is called once per job. Calls are serialized.
	OnResult func(Result)
	Logger   *log.Logger
}

func (o *Options) variant() digest.Variant {
	if o == nil || !o.Variant.Valid() {
		return digest.SHA256
	}
	return o.Variant
}

func (o *Options) computer() digest.Computer {
	if o == nil || o.Computer == nil {
		return digest.NewBlocking(o.variant())
	}
	return o.Computer
}

func (o *Options) workers() int {
	if o == nil || o.Workers <= 0 {
		return 1
	}
	return o.Workers
}

func (o *Options) logger() *log.Logger {
	if o == nil || o.Logger == nil {
		return logging.For("batch")
	}
	return o.Logger
}

// Job is one file to digest. Index is its position in input order.
// Metadata is zero when the input could not be stat'ed; the computation then
// reports why.
type Job struct {
	Index    int
	Path     string
	Size     int64
	MTime    int64
	Inode    int64
	DeviceID *int64
	statted  bool
}

// Result is the outcome for one job: a digest or an error, never both.
type Result struct {
	Job    Job
	Digest string
	Reused bool
	Err    error
}

// Stats are the counters of a finished run. Files counts successful digests,
// Bytes their sizes.
type Stats struct {
	RunID   string
	Files   int64
	Bytes   int64
	Reused  int64
	Errors  int64
	Elapsed time.Duration
}

// Run digests every file named by inputs. Directories are walked when
// Recursive is set and otherwise fail as not a regular file. Per-file failures
// are counted and reported through OnResult; they do not stop the run. A
// store error or context cancellation stops the run and is returned.
func Run(ctx context.Context, inputs []string, opts *Options) (Stats, error) {
	l := opts.logger()
	start := time.Now()

	jobs, err := plan(ctx, inputs, opts)
	if err != nil {
		return Stats{}, err
	}
	if opts != nil && opts.OnPlan != nil {
		opts.OnPlan(len(jobs))
	}

	r := &runner{
		opts:     opts,
		computer: opts.computer(),
		variant:  opts.variant(),
		log:      l,
		files:    newThrottledLog(l, fileLogInterval),
		progress: newProgress(l, int64(len(jobs)), start),
	}
	if opts != nil && opts.MaxPerSecond > 0 {
		r.limiter = rate.NewLimiter(rate.Limit(opts.MaxPerSecond), 1)
	}
	if opts != nil && opts.Store != nil {
		db.ResetBusyRetries()
		run, err := opts.Store.CreateRun(ctx, r.variant.String(), inputs)
		if err != nil {
			return Stats{}, fmt.Errorf("create run: %w", err)
		}
		r.stats.RunID = run.ID
	}

	n := opts.workers()
	l.Info("run started", "run", r.stats.RunID, "workers", n, "files", len(jobs), "algorithm", r.variant)
	if err := r.produceConsume(ctx, jobs, n); err != nil {
		l.Error("run failed", "run", r.stats.RunID, "err", err)
		r.stats.Elapsed = time.Since(start)
		return r.stats, err
	}
	r.stats.Elapsed = time.Since(start)

	if opts != nil && opts.Store != nil {
		err := opts.Store.CompleteRun(ctx, r.stats.RunID, db.RunStats{
			Files: r.stats.Files, Bytes: r.stats.Bytes, Reused: r.stats.Reused, Errors: r.stats.Errors,
		})
		if err != nil {
			return r.stats, fmt.Errorf("complete run: %w", err)
		}
	}
	l.Info("run completed", "run", r.stats.RunID, "files", r.stats.Files, "bytes", r.stats.Bytes,
		"reused", r.stats.Reused, "errors", r.stats.Errors, "elapsed", formatDuration(r.stats.Elapsed),
		"busy_retries", db.BusyRetries())
	return r.stats, nil
}

// plan expands inputs into jobs in input order; directory contents follow
// the walk's lexical order.
func plan(ctx context.Context, inputs []string, opts *Options) ([]Job, error) {
	recursive := opts != nil && opts.Recursive
	var excludes []string
	if opts != nil {
		excludes = opts.Excludes
	}
	var jobs []Job
	add := func(j Job) {
		j.Index = len(jobs)
		jobs = append(jobs, j)
	}
	for _, in := range inputs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		info, err := os.Stat(in)
		if err != nil {
			add(Job{Path: in})
			continue
		}
		if info.IsDir() && recursive {
			// Ignore files apply only to the root that holds them.
			patterns, err := walk.PatternsForRoot(in, excludes)
			if err != nil {
				return nil, fmt.Errorf("read ignore file of %s: %w", in, err)
			}
			err = walk.Walk(ctx, in, patterns, func(e walk.Entry) error {
				add(jobFromEntry(e))
				return nil
			})
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				return nil, fmt.Errorf("walk %s: %w", in, err)
			}
			continue
		}
		add(jobFromEntry(walk.EntryFor(in, info)))
	}
	return jobs, nil
}

func jobFromEntry(e walk.Entry) Job {
	return Job{Path: e.Path, Size: e.Size, MTime: e.MTime, Inode: e.Inode, DeviceID: e.DeviceID, statted: true}
}

type runner struct {
	opts     *Options
	computer digest.Computer
	variant  digest.Variant
	limiter  *rate.Limiter
	log      *log.Logger
	files    *throttledLog
	progress *progress

	mu    sync.Mutex // serializes OnResult and stats
	stats Stats
}

// produceConsume: one producer feeds a bounded channel; n consumers process
// jobs. The first store error stops the consumers.
func (r *runner) produceConsume(ctx context.Context, all []Job, n int) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobs := make(chan Job, min(jobChannelCap, len(all)+1))
	errCh := make(chan error, 1)

	go func() {
		defer close(jobs)
		for _, j := range all {
			select {
			case jobs <- j:
			case <-ctx.Done():
				return
			}
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				if ctx.Err() != nil {
					return
				}
				res, err := r.process(ctx, job)
				if ctx.Err() != nil {
					return
				}
				if err == nil {
					err = r.record(ctx, res)
				}
				if err != nil {
					select {
					case errCh <- err:
					default:
					}
					cancel()
					return
				}
				r.emit(res)
			}
		}()
	}
	wg.Wait()

	select {
	case err := <-errCh:
		return err
	default:
	}
	// Parent context canceled: report that rather than partial success.
	return context.Cause(ctx)
}

// process digests one job, reusing a stored digest when allowed. The
// returned error is a store failure; file failures are carried in Result.Err.
func (r *runner) process(ctx context.Context, job Job) (Result, error) {
	res := Result{Job: job}
	if d, err := r.reused(ctx, job); err != nil {
		return res, err
	} else if d != "" {
		res.Digest, res.Reused = d, true
		return res, nil
	}

	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			res.Err = err
			return res, nil
		}
	}
	r.files.Debugf("hashing %s (%d bytes)", job.Path, job.Size)
	res.Digest, res.Err = r.computer.Compute(ctx, job.Path)
	if res.Err != nil {
		r.files.Debugf("failed %s: %v", job.Path, res.Err)
	}
	return res, nil
}

func (r *runner) reused(ctx context.Context, job Job) (string, error) {
	if r.opts == nil || r.opts.Store == nil || !r.opts.Reuse || !job.statted {
		return "", nil
	}
	store := r.opts.Store
	abs := absPath(job.Path)

	// Same-run hardlink.
	d, err := store.DigestForInode(ctx, r.stats.RunID, r.variant.String(), job.Inode, job.DeviceID)
	if err != nil {
		return "", fmt.Errorf("inode lookup %s: %w", job.Path, err)
	}
	if d != "" {
		r.files.Debugf("reused (inode) %s", job.Path)
		return d, nil
	}
	// Unchanged since an earlier run.
	d, err = store.CachedDigest(ctx, db.Key{
		Path: abs, Algorithm: r.variant.String(),
		Size: job.Size, MTime: job.MTime, Inode: job.Inode, DeviceID: job.DeviceID,
	})
	if err != nil {
		return "", fmt.Errorf("cache lookup %s: %w", job.Path, err)
	}
	if d != "" {
		r.files.Debugf("reused (unchanged) %s", job.Path)
	}
	return d, nil
}

func (r *runner) record(ctx context.Context, res Result) error {
	if r.opts == nil || r.opts.Store == nil {
		return nil
	}
	rec := db.Record{
		RunID:     r.stats.RunID,
		Path:      absPath(res.Job.Path),
		Algorithm: r.variant.String(),
		Size:      res.Job.Size,
		MTime:     res.Job.MTime,
		Inode:     res.Job.Inode,
		DeviceID:  res.Job.DeviceID,
		Digest:    res.Digest,
		Reused:    res.Reused,
	}
	if res.Err != nil {
		rec.Digest = ""
		rec.Error = res.Err.Error()
	}
	if err := r.opts.Store.InsertRecord(ctx, rec); err != nil {
		return fmt.Errorf("record %s: %w", res.Job.Path, err)
	}
	return nil
}

func (r *runner) emit(res Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if res.Err != nil {
		r.stats.Errors++
	} else {
		r.stats.Files++
		r.stats.Bytes += res.Job.Size
		if res.Reused {
			r.stats.Reused++
		}
	}
	if r.opts != nil && r.opts.OnResult != nil {
		r.opts.OnResult(res)
	}
	r.progress.step()
}

func absPath(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}


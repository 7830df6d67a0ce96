package batch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eargollo/sha2file/internal/db"
	"github.com/eargollo/sha2file/pkg/digest"
)

func quietLogger() *log.Logger {
	return log.New(io.Discard)
}

func sha256Hex(b []byte) string {
	s := sha256.Sum256(b)
	return hex.EncodeToString(s[:])
}

func writeFiles(t *testing.T, dir string, n int) []string {
	t.Helper()
	var paths []string
	for i := 0; i < n; i++ {
		p := filepath.Join(dir, fmt.Sprintf("f%02d.txt", i))
		require.NoError(t, os.WriteFile(p, []byte(fmt.Sprintf("content %d", i)), 0o644))
		paths = append(paths, p)
	}
	return paths
}

// countingComputer counts Compute calls and delegates to a Blocking computer.
type countingComputer struct {
	inner digest.Computer
	calls atomic.Int64
}

func (c *countingComputer) Compute(ctx context.Context, path string) (string, error) {
	c.calls.Add(1)
	return c.inner.Compute(ctx, path)
}

func collect(opts *Options) (*Options, *[]Result) {
	var results []Result
	if opts == nil {
		opts = &Options{}
	}
	opts.Logger = quietLogger()
	opts.OnResult = func(r Result) { results = append(results, r) }
	return opts, &results
}

func TestRun_digestsEveryFileOnce(t *testing.T) {
	dir := t.TempDir()
	paths := writeFiles(t, dir, 12)
	opts, results := collect(&Options{Workers: 4})

	stats, err := Run(context.Background(), paths, opts)
	require.NoError(t, err)
	assert.Equal(t, int64(12), stats.Files)
	assert.Zero(t, stats.Errors)
	require.Len(t, *results, 12)

	seen := map[int]bool{}
	for _, r := range *results {
		require.NoError(t, r.Err)
		assert.False(t, seen[r.Job.Index], "index %d reported twice", r.Job.Index)
		seen[r.Job.Index] = true
		assert.Equal(t, paths[r.Job.Index], r.Job.Path)
		content := fmt.Sprintf("content %d", r.Job.Index)
		assert.Equal(t, sha256Hex([]byte(content)), r.Digest)
	}
}

func TestRun_failuresAreCountedNotFatal(t *testing.T) {
	dir := t.TempDir()
	good := writeFiles(t, dir, 1)[0]
	missing := filepath.Join(dir, "missing")
	opts, results := collect(nil)

	stats, err := Run(context.Background(), []string{missing, good, dir}, opts)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Files)
	assert.Equal(t, int64(2), stats.Errors)

	byIndex := map[int]Result{}
	for _, r := range *results {
		byIndex[r.Job.Index] = r
	}
	assert.ErrorIs(t, byIndex[0].Err, digest.NotFound)
	assert.Empty(t, byIndex[0].Digest)
	assert.NoError(t, byIndex[1].Err)
	assert.ErrorIs(t, byIndex[2].Err, digest.NotAFile, "directory without Recursive")
}

func TestRun_recursiveWalksDirectoriesInOrder(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "skip"), 0o755))
	for _, name := range []string{"b.txt", "a.txt", "sub/c.txt", "skip/d.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(name), 0o644))
	}
	var planned int
	opts, results := collect(&Options{Recursive: true, Excludes: []string{"skip"}, Workers: 2})
	opts.OnPlan = func(n int) { planned = n }

	_, err := Run(context.Background(), []string{dir}, opts)
	require.NoError(t, err)
	assert.Equal(t, 3, planned)

	paths := make([]string, 3)
	for _, r := range *results {
		paths[r.Job.Index] = r.Job.Path
	}
	assert.Equal(t, []string{
		filepath.Join(dir, "a.txt"),
		filepath.Join(dir, "b.txt"),
		filepath.Join(dir, "sub", "c.txt"),
	}, paths)
}

func TestRun_ignoreFileAppliesOnlyToItsRoot(t *testing.T) {
	a, b := t.TempDir(), t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(a, ".sha2ignore"), []byte("*.log\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(a, "x.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(a, "drop.log"), []byte("d"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(b, "keep.log"), []byte("k"), 0o644))
	opts, results := collect(&Options{Recursive: true})

	_, err := Run(context.Background(), []string{a, b}, opts)
	require.NoError(t, err)

	paths := make([]string, len(*results))
	for _, r := range *results {
		paths[r.Job.Index] = r.Job.Path
	}
	assert.Equal(t, []string{filepath.Join(a, "x.txt"), filepath.Join(b, "keep.log")}, paths)
}

func TestRun_usesGivenComputerAndVariant(t *testing.T) {
	dir := t.TempDir()
	paths := writeFiles(t, dir, 2)
	opts, results := collect(&Options{Computer: digest.NewSuspending(digest.SHA512), Variant: digest.SHA512})

	_, err := Run(context.Background(), paths, opts)
	require.NoError(t, err)
	for _, r := range *results {
		want, err := digest.File(r.Job.Path, digest.SHA512)
		require.NoError(t, err)
		assert.Equal(t, want, r.Digest)
	}
}

func TestRun_throttleEnabledDelays(t *testing.T) {
	dir := t.TempDir()
	paths := writeFiles(t, dir, 3)
	opts, _ := collect(&Options{MaxPerSecond: 5})

	start := time.Now()
	_, err := Run(context.Background(), paths, opts)
	require.NoError(t, err)
	elapsed := time.Since(start)
	assert.GreaterOrEqual(t, elapsed, 350*time.Millisecond, "throttle 5/s with 3 files")
}

func TestRun_throttleDisabledFast(t *testing.T) {
	dir := t.TempDir()
	paths := writeFiles(t, dir, 5)
	opts, _ := collect(&Options{MaxPerSecond: 0})

	start := time.Now()
	_, err := Run(context.Background(), paths, opts)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestRun_contextCancellationStops(t *testing.T) {
	dir := t.TempDir()
	paths := writeFiles(t, dir, 10)
	opts, results := collect(nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Run(ctx, paths, opts)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, *results)
}

func TestRun_cancelMidRunReportsNoCanceledResults(t *testing.T) {
	dir := t.TempDir()
	paths := writeFiles(t, dir, 50)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var results []Result
	opts := &Options{Logger: quietLogger(), MaxPerSecond: 1000, OnResult: func(r Result) {
		results = append(results, r)
		if len(results) == 3 {
			cancel()
		}
	}}
	_, err := Run(ctx, paths, opts)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, len(results), 50)
	for _, r := range results {
		assert.NoError(t, r.Err)
	}
}

func TestRun_recordsRunAndResults(t *testing.T) {
	store := db.TestStore(t)
	ctx := context.Background()
	dir := t.TempDir()
	paths := writeFiles(t, dir, 3)
	opts, _ := collect(&Options{Store: store, Workers: 2})

	stats, err := Run(ctx, append(paths, filepath.Join(dir, "missing")), opts)
	require.NoError(t, err)
	require.NotEmpty(t, stats.RunID)

	run, err := store.GetRun(ctx, stats.RunID)
	require.NoError(t, err)
	require.NotNil(t, run.CompletedAt)
	assert.Equal(t, "sha256", run.Algorithm)
	assert.Equal(t, db.RunStats{Files: 3, Bytes: stats.Bytes, Errors: 1}, run.Stats)

	recs, err := store.RecordsForRun(ctx, stats.RunID)
	require.NoError(t, err)
	require.Len(t, recs, 4)
	for _, rec := range recs {
		assert.True(t, filepath.IsAbs(rec.Path))
		if filepath.Base(rec.Path) == "missing" {
			assert.Empty(t, rec.Digest)
			assert.Contains(t, rec.Error, "not found")
		} else {
			assert.NotEmpty(t, rec.Digest)
			assert.Empty(t, rec.Error)
		}
	}
}

func TestRun_reuseSkipsUnchangedFiles(t *testing.T) {
	store := db.TestStore(t)
	ctx := context.Background()
	dir := t.TempDir()
	paths := writeFiles(t, dir, 4)

	first := &countingComputer{inner: digest.NewBlocking(digest.SHA256)}
	opts, _ := collect(&Options{Store: store, Reuse: true, Computer: first})
	_, err := Run(ctx, paths, opts)
	require.NoError(t, err)
	assert.Equal(t, int64(4), first.calls.Load())

	// Change one file; size differs so the cache key no longer matches.
	require.NoError(t, os.WriteFile(paths[0], []byte("changed content"), 0o644))

	second := &countingComputer{inner: digest.NewBlocking(digest.SHA256)}
	opts, results := collect(&Options{Store: store, Reuse: true, Computer: second})
	stats, err := Run(ctx, paths, opts)
	require.NoError(t, err)
	assert.Equal(t, int64(1), second.calls.Load())
	assert.Equal(t, int64(3), stats.Reused)

	for _, r := range *results {
		require.NoError(t, r.Err)
		want, err := digest.File(r.Job.Path, digest.SHA256)
		require.NoError(t, err)
		assert.Equal(t, want, r.Digest)
		assert.Equal(t, r.Job.Index != 0, r.Reused)
	}
}

func TestRun_reuseMissesRewriteWithinSameSecond(t *testing.T) {
	store := db.TestStore(t)
	ctx := context.Background()
	p := filepath.Join(t.TempDir(), "f")
	require.NoError(t, os.WriteFile(p, []byte("AAAA"), 0o644))
	before := time.Unix(1700000000, 100)
	require.NoError(t, os.Chtimes(p, before, before))

	opts, _ := collect(&Options{Store: store, Reuse: true})
	_, err := Run(ctx, []string{p}, opts)
	require.NoError(t, err)

	// Same size and inode, mtime moves within the same second.
	require.NoError(t, os.WriteFile(p, []byte("BBBB"), 0o644))
	after := time.Unix(1700000000, 900_000_000)
	require.NoError(t, os.Chtimes(p, after, after))
	info, err := os.Stat(p)
	require.NoError(t, err)
	if info.ModTime().Equal(before) || info.ModTime().Nanosecond() == 0 {
		t.Skip("filesystem does not keep sub-second mtimes")
	}

	opts, results := collect(&Options{Store: store, Reuse: true})
	stats, err := Run(ctx, []string{p}, opts)
	require.NoError(t, err)
	assert.Zero(t, stats.Reused)
	require.Len(t, *results, 1)
	assert.False(t, (*results)[0].Reused)
	assert.Equal(t, sha256Hex([]byte("BBBB")), (*results)[0].Digest)
}

func TestRun_reuseHardlinkWithinRun(t *testing.T) {
	store := db.TestStore(t)
	dir := t.TempDir()
	a := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(a, []byte("x"), 0o644))
	b := filepath.Join(dir, "b.txt")
	if err := os.Link(a, b); err != nil {
		t.Skipf("hardlink not supported: %v", err)
	}

	c := &countingComputer{inner: digest.NewBlocking(digest.SHA256)}
	opts, results := collect(&Options{Store: store, Reuse: true, Computer: c, Workers: 1})
	stats, err := Run(context.Background(), []string{a, b}, opts)
	require.NoError(t, err)

	if stats.Reused == 0 {
		t.Skip("platform does not report inode numbers")
	}
	assert.Equal(t, int64(1), c.calls.Load())
	require.Len(t, *results, 2)
	assert.Equal(t, (*results)[0].Digest, (*results)[1].Digest)
}

func TestRun_withoutReuseAlwaysComputes(t *testing.T) {
	store := db.TestStore(t)
	dir := t.TempDir()
	paths := writeFiles(t, dir, 2)

	for i := 0; i < 2; i++ {
		c := &countingComputer{inner: digest.NewBlocking(digest.SHA256)}
		opts, _ := collect(&Options{Store: store, Computer: c})
		_, err := Run(context.Background(), paths, opts)
		require.NoError(t, err)
		assert.Equal(t, int64(2), c.calls.Load())
	}
}

// Package digest computes SHA-2 digests of files by streaming their contents
// through the standard library hash implementations in fixed-size chunks.
//
// Two execution modes share the same algorithm: Blocking runs on the calling
// goroutine, Suspending runs the read on its own goroutine and lets the caller
// wait on a Future. Both return identical digests for identical files.
package digest

import "context"

// Computer produces the lowercase hex digest of the file at path.
type Computer interface {
	Compute(ctx context.Context, path string) (string, error)
}

// Blocking computes digests on the calling goroutine.
type Blocking struct {
	variant Variant
	opts    options
}

// NewBlocking returns a Blocking computer for v.
func NewBlocking(v Variant, opts ...Option) *Blocking {
	return &Blocking{variant: v, opts: buildOptions(opts)}
}

// Variant returns the algorithm this computer uses.
func (b *Blocking) Variant() Variant { return b.variant }

// Compute reads the whole file and returns its digest. ctx is checked between
// chunks; on cancellation the file is closed and a Canceled error returned.
func (b *Blocking) Compute(ctx context.Context, path string) (string, error) {
	return hashFile(ctx, path, b.variant, b.opts.bufSize)
}

// Suspending computes digests on a background goroutine.
type Suspending struct {
	variant Variant
	opts    options
}

// NewSuspending returns a Suspending computer for v.
func NewSuspending(v Variant, opts ...Option) *Suspending {
	return &Suspending{variant: v, opts: buildOptions(opts)}
}

// Variant returns the algorithm this computer uses.
func (s *Suspending) Variant() Variant { return s.variant }

// Start begins hashing path and returns immediately. Canceling ctx stops the
// read at the next chunk boundary and releases the file.
func (s *Suspending) Start(ctx context.Context, path string) *Future {
	f := &Future{path: path, done: make(chan struct{})}
	go func() {
		defer close(f.done)
		f.digest, f.err = hashFile(ctx, path, s.variant, s.opts.bufSize)
	}()
	return f
}

// Compute starts the computation and waits for it.
func (s *Suspending) Compute(ctx context.Context, path string) (string, error) {
	return s.Start(ctx, path).Wait(ctx)
}

// Future is the pending result of Suspending.Start.
type Future struct {
	path   string
	done   chan struct{}
	digest string
	err    error
}

// Done is closed once the result is available.
func (f *Future) Done() <-chan struct{} { return f.done }

// Wait parks the caller until the digest is ready or ctx ends. A Wait that
// gives up does not cancel the computation; cancel the Start context for that.
func (f *Future) Wait(ctx context.Context) (string, error) {
	select {
	case <-f.done:
		return f.digest, f.err
	default:
	}
	select {
	case <-f.done:
		return f.digest, f.err
	case <-ctx.Done():
		return "", &Error{Op: "wait", Path: f.path, Kind: Canceled, Err: ctx.Err()}
	}
}

var (
	_ Computer = (*Blocking)(nil)
	_ Computer = (*Suspending)(nil)
)

package digest

import "context"

// Path is a filesystem path with digest methods attached.
//
//	sum, err := digest.Path("release.tar.gz").SHA256()
type Path string

func (p Path) SHA224() (string, error) { return File(string(p), SHA224) }
func (p Path) SHA256() (string, error) { return File(string(p), SHA256) }
func (p Path) SHA384() (string, error) { return File(string(p), SHA384) }
func (p Path) SHA512() (string, error) { return File(string(p), SHA512) }

// SHA224Async and its siblings start the computation in the background.
func (p Path) SHA224Async(ctx context.Context) *Future { return p.start(ctx, SHA224) }
func (p Path) SHA256Async(ctx context.Context) *Future { return p.start(ctx, SHA256) }
func (p Path) SHA384Async(ctx context.Context) *Future { return p.start(ctx, SHA384) }
func (p Path) SHA512Async(ctx context.Context) *Future { return p.start(ctx, SHA512) }

// Sum computes the digest of p for any variant.
func (p Path) Sum(ctx context.Context, v Variant) (string, error) {
	return FileContext(ctx, string(p), v)
}

func (p Path) start(ctx context.Context, v Variant) *Future {
	return NewSuspending(v).Start(ctx, string(p))
}

// File returns the digest of the file at path using the default buffer size.
func File(path string, v Variant) (string, error) {
	return FileContext(context.Background(), path, v)
}

// FileContext is File with cancellation.
func FileContext(ctx context.Context, path string, v Variant) (string, error) {
	return hashFile(ctx, path, v, DefaultBufferSize)
}

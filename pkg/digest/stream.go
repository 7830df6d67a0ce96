package digest

import (
	"context"
	"encoding/hex"
	"io"
	"os"
)

// DefaultBufferSize is the read chunk size used when no option overrides it.
const DefaultBufferSize = 32 << 10

// Option tunes a computer.
type Option func(*options)

type options struct {
	bufSize int
}

// WithBufferSize sets the read chunk size. Values below 1 select DefaultBufferSize.
// The digest does not depend on it.
func WithBufferSize(n int) Option {
	return func(o *options) { o.bufSize = n }
}

func buildOptions(opts []Option) options {
	o := options{bufSize: DefaultBufferSize}
	for _, fn := range opts {
		fn(&o)
	}
	if o.bufSize < 1 {
		o.bufSize = DefaultBufferSize
	}
	return o
}

// hashFile is the single open/stream/finalize routine behind both computers.
// The handle is closed on every return path, cancellation included.
func hashFile(ctx context.Context, path string, v Variant, bufSize int) (string, error) {
	if !v.Valid() {
		return "", &Error{Op: "open", Path: path, Kind: IOFailure, Err: errInvalidVariant(v)}
	}
	if err := ctx.Err(); err != nil {
		return "", newError("open", path, err)
	}

	// Stat before opening: os.Open on a FIFO blocks until a writer appears.
	info, err := os.Stat(path)
	if err != nil {
		return "", newError("stat", path, err)
	}
	if err := checkRegular(info); err != nil {
		return "", newError("stat", path, err)
	}

	f, err := os.Open(path)
	if err != nil {
		return "", newError("open", path, err)
	}
	defer f.Close()

	info, err = f.Stat()
	if err != nil {
		return "", newError("stat", path, err)
	}
	if err := checkRegular(info); err != nil {
		return "", newError("open", path, err)
	}

	sum, err := hashReader(ctx, f, v, make([]byte, bufSize))
	if err != nil {
		return "", newError("read", path, err)
	}
	return sum, nil
}

// hashReader feeds r into a fresh state for v, one buffer at a time, in read order.
func hashReader(ctx context.Context, r io.Reader, v Variant, buf []byte) (string, error) {
	h := v.New()
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		n, err := r.Read(buf)
		if n > 0 {
			h.Write(buf[:n]) // hash.Hash.Write never returns an error
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func checkRegular(info os.FileInfo) error {
	if info.IsDir() {
		return errIsDir
	}
	if !info.Mode().IsRegular() {
		return errIrregular
	}
	return nil
}

type errInvalidVariant Variant

func (e errInvalidVariant) Error() string {
	return "invalid variant " + Variant(e).String()
}

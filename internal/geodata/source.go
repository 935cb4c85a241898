// Package geodata fetches raw boundary documents from a file, HTTP, S3 or
// Redis-backed source and keeps decoded, repaired feature collections in a
// process-wide cache keyed by source key.
package geodata

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

var (
	ErrSourceUnavailable = errors.New("geodata: source unavailable")
	ErrNotFound          = errors.New("geodata: not found")
)

// Source returns the raw bytes of a topology or GeoJSON document.
type Source interface {
	Fetch(ctx context.Context, key string) ([]byte, error)
}

// Lister is implemented by sources that can enumerate the keys directly
// below a prefix.
type Lister interface {
	List(ctx context.Context, prefix string) ([]string, error)
}

// ErrListUnsupported is returned by List on sources that cannot enumerate.
var ErrListUnsupported = errors.New("geodata: listing not supported")

// SourceError describes a failed fetch. It always matches
// ErrSourceUnavailable and additionally ErrNotFound when the document does
// not exist.
type SourceError struct {
	Key      string
	Status   int
	NotFound bool
	Err      error
}

func (e *SourceError) Error() string {
	msg := "fetch " + e.Key
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.NotFound {
		msg += ": not found"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *SourceError) Unwrap() error { return e.Err }

func (e *SourceError) Is(target error) bool {
	switch target {
	case ErrSourceUnavailable:
		return true
	case ErrNotFound:
		return e.NotFound
	}
	return false
}

func unavailable(key string, err error) error {
	return &SourceError{Key: key, Err: err}
}

func notFound(key string) error {
	return &SourceError{Key: key, NotFound: true}
}

var (
	gzipMagic = []byte{0x1f, 0x8b}
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
)

// inflate returns b decompressed when it carries a gzip or zstd header.
func inflate(b []byte) ([]byte, error) {
	switch {
	case bytes.HasPrefix(b, gzipMagic):
		zr, err := gzip.NewReader(bytes.NewReader(b))
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		return io.ReadAll(zr)
	case bytes.HasPrefix(b, zstdMagic):
		zr, err := zstd.NewReader(bytes.NewReader(b), zstd.WithDecoderConcurrency(0))
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		return io.ReadAll(zr)
	}
	return b, nil
}

func isNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

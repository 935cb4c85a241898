package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/paulmach/orb/geojson"

	"geo-drill/internal/antimeridian"
	"geo-drill/internal/geodata"
	"geo-drill/internal/topology"
)

// readCollection decodes a GeoJSON or topology file, transparently
// inflating .gz and .zst inputs, and repairs antimeridian crossings.
func readCollection(ctx context.Context, path string) (*geojson.FeatureCollection, error) {
	src := geodata.NewFileSource(filepath.Dir(path))
	raw, err := src.Fetch(ctx, stripCompression(filepath.Base(path)))
	if err != nil {
		return nil, err
	}
	fc, err := topology.Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return antimeridian.Repair(fc), nil
}

func stripCompression(name string) string {
	return strings.TrimSuffix(strings.TrimSuffix(name, ".gz"), ".zst")
}

// writeDocument marshals v to path, compressing by extension.
func writeDocument(path string, v any) (int, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, err
	}
	var buf bytes.Buffer
	var w io.WriteCloser
	switch {
	case strings.HasSuffix(path, ".gz"):
		w = gzip.NewWriter(&buf)
	case strings.HasSuffix(path, ".zst"):
		zw, err := zstd.NewWriter(&buf)
		if err != nil {
			return 0, err
		}
		w = zw
	default:
		return len(b), os.WriteFile(path, b, 0o644)
	}
	if _, err := w.Write(b); err != nil {
		return 0, err
	}
	if err := w.Close(); err != nil {
		return 0, err
	}
	return buf.Len(), os.WriteFile(path, buf.Bytes(), 0o644)
}

// encode returns fc as a topology document when object is set, otherwise
// as GeoJSON.
func encode(fc *geojson.FeatureCollection, object string, q float64) any {
	if object == "" {
		return fc
	}
	return topology.Encode(fc, topology.EncodeOptions{Object: object, Quantization: q})
}

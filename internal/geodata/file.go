package geodata

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

// FileSource reads documents below a root directory. A precompressed
// sibling (key.zst, then key.gz) is preferred over the plain file.
type FileSource struct {
	Root string
}

func NewFileSource(root string) *FileSource { return &FileSource{Root: root} }

// fileVariants is the lookup order shared by Fetch and Locate.
var fileVariants = []struct{ ext, encoding string }{
	{".zst", "zstd"},
	{".gz", "gzip"},
	{"", ""},
}

// LocatedFile is the on-disk file that backs a key. Encoding is "zstd",
// "gzip" or empty for a plain document.
type LocatedFile struct {
	Path     string
	Encoding string
	Info     fs.FileInfo
}

// Locate finds the file Fetch would read for key without reading it.
func (s *FileSource) Locate(key string) (LocatedFile, error) {
	p, err := s.Resolve(key)
	if err != nil {
		return LocatedFile{}, unavailable(key, err)
	}
	for _, v := range fileVariants {
		fi, err := os.Stat(p + v.ext)
		if errors.Is(err, fs.ErrNotExist) || (err == nil && fi.IsDir()) {
			continue
		}
		if err != nil {
			return LocatedFile{}, unavailable(key, err)
		}
		return LocatedFile{Path: p + v.ext, Encoding: v.encoding, Info: fi}, nil
	}
	return LocatedFile{}, notFound(key)
}

func (s *FileSource) Fetch(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable(key, err)
	}
	lf, err := s.Locate(key)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(lf.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, notFound(key)
	}
	if err != nil {
		return nil, unavailable(key, err)
	}
	out, err := inflate(b)
	if err != nil {
		return nil, unavailable(key, err)
	}
	return out, nil
}

// List returns the keys directly below prefix, compression suffixes
// removed. A missing directory lists as empty.
func (s *FileSource) List(ctx context.Context, prefix string) ([]string, error) {
	dir, err := s.Resolve(prefix)
	if err != nil {
		return nil, unavailable(prefix, err)
	}
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, unavailable(prefix, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return listKeys(strings.Trim(prefix, "/"), names), nil
}

var errTraversal = errors.New("key escapes data root")

// Resolve maps a slash-separated key to a path below Root.
func (s *FileSource) Resolve(key string) (string, error) {
	clean := path.Clean("/" + strings.ReplaceAll(key, "\\", "/"))
	if strings.Contains(key, "..") || clean == "/" {
		return "", errTraversal
	}
	return filepath.Join(s.Root, filepath.FromSlash(strings.TrimPrefix(clean, "/"))), nil
}

// listKeys joins names under prefix, strips compression suffixes and
// returns the distinct keys in order.
func listKeys(prefix string, names []string) []string {
	seen := map[string]bool{}
	out := []string{}
	for _, n := range names {
		n = strings.TrimSuffix(strings.TrimSuffix(n, ".zst"), ".gz")
		if n == "" {
			continue
		}
		key := n
		if prefix != "" {
			key = prefix + "/" + n
		}
		if !seen[key] {
			seen[key] = true
			out = append(out, key)
		}
	}
	sort.Strings(out)
	return out
}

package geodata

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPSource fetches documents relative to a base URL.
type HTTPSource struct {
	Base   string
	Client *http.Client
}

func NewHTTPSource(base string) *HTTPSource {
	return &HTTPSource{Base: strings.TrimRight(base, "/"), Client: &http.Client{Timeout: 30 * time.Second}}
}

func (s *HTTPSource) Fetch(ctx context.Context, key string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.Base+"/"+strings.TrimLeft(key, "/"), nil)
	if err != nil {
		return nil, unavailable(key, err)
	}
	req.Header.Set("Accept-Encoding", "gzip")
	resp, err := s.Client.Do(req)
	if err != nil {
		return nil, unavailable(key, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, &SourceError{Key: key, Status: resp.StatusCode, NotFound: true}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &SourceError{Key: key, Status: resp.StatusCode, Err: fmt.Errorf("unexpected status %s", resp.Status)}
	}
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, unavailable(key, err)
	}
	out, err := inflate(b)
	if err != nil {
		return nil, unavailable(key, err)
	}
	return out, nil
}

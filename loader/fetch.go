package loader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// MaxRawSize bounds how many bytes a fetch may return.
const MaxRawSize = 1 << 20

var ErrTooLarge = errors.New("program image too large")

// Fetcher retrieves the raw bytes stored at a location.
type Fetcher interface {
	Fetch(ctx context.Context, location string) ([]byte, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, location string) ([]byte, error)

func (f FetcherFunc) Fetch(ctx context.Context, location string) ([]byte, error) {
	return f(ctx, location)
}

// StatusError is returned by HTTPFetcher for non-2xx responses.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: %d %s", e.URL, e.StatusCode, http.StatusText(e.StatusCode))
}

// FileFetcher reads local files. Locations may be plain paths or file URLs.
type FileFetcher struct{}

func (FileFetcher) Fetch(ctx context.Context, location string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	name := location
	if strings.HasPrefix(strings.ToLower(location), "file:") {
		u, err := url.Parse(location)
		if err != nil {
			return nil, err
		}
		name = filepath.FromSlash(u.Path)
	}

	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return readLimited(f)
}

// HTTPFetcher downloads http and https URLs.
type HTTPFetcher struct {
	Client *http.Client
}

func (h HTTPFetcher) Fetch(ctx context.Context, location string) ([]byte, error) {
	client := h.Client
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return nil, err
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{URL: location, StatusCode: resp.StatusCode}
	}

	return readLimited(resp.Body)
}

// AutoFetcher picks HTTP or File by the location's scheme.
type AutoFetcher struct {
	HTTP HTTPFetcher
	File FileFetcher
}

func (a AutoFetcher) Fetch(ctx context.Context, location string) ([]byte, error) {
	u, err := url.Parse(location)
	if err != nil || len(u.Scheme) <= 1 {
		// plain path, including windows drive letters
		return a.File.Fetch(ctx, location)
	}

	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return a.HTTP.Fetch(ctx, location)
	case "file":
		return a.File.Fetch(ctx, location)
	}

	return nil, fmt.Errorf("unsupported location scheme %q", u.Scheme)
}

func readLimited(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxRawSize+1))
	if err != nil {
		return nil, err
	}
	if len(data) > MaxRawSize {
		return nil, ErrTooLarge
	}
	return data, nil
}

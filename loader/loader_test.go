package loader

import (
	"archive/zip"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type call struct {
	name  string
	image []byte
	mask  uint16
}

type fakeMachine struct {
	calls    []call
	loadErr  error
	startErr error
}

func (m *fakeMachine) Load(image []byte) error {
	m.calls = append(m.calls, call{name: "load", image: image})
	return m.loadErr
}

func (m *fakeMachine) Start() error {
	m.calls = append(m.calls, call{name: "start"})
	return m.startErr
}

func (m *fakeMachine) OnKeyStateChanged(mask uint16) error {
	m.calls = append(m.calls, call{name: "keys", mask: mask})
	return nil
}

func (m *fakeMachine) names() []string {
	var names []string
	for _, c := range m.calls {
		names = append(names, c.name)
	}
	return names
}

func testLogger() (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return slog.New(slog.NewTextHandler(&buf, nil)), &buf
}

func errorCount(buf *bytes.Buffer) int {
	return strings.Count(buf.String(), "level=ERROR")
}

var rom = []byte{0x00, 0xE0, 0xA2, 0x2A, 0x60, 0x0C, 0x61, 0x08, 0xD0, 0x1F}

func TestLoadAndStartHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(rom)
	}))
	defer srv.Close()

	m := &fakeMachine{}
	logger, buf := testLogger()

	err := LoadAndStart(context.Background(), AutoFetcher{}, srv.URL+"/roms/tetris.rom", m, WithLogger(logger))
	require.NoError(t, err)

	assert.Equal(t, []string{"load", "start"}, m.names())
	assert.Equal(t, rom, m.calls[0].image)
	assert.Zero(t, errorCount(buf))
	assert.Contains(t, buf.String(), "size=10")
}

func TestLoadAndStartFile(t *testing.T) {
	name := filepath.Join(t.TempDir(), "pong.ch8")
	require.NoError(t, os.WriteFile(name, rom, 0o644))

	for _, location := range []string{name, "file://" + name} {
		m := &fakeMachine{}
		require.NoError(t, LoadAndStart(context.Background(), AutoFetcher{}, location, m))
		assert.Equal(t, []string{"load", "start"}, m.names())
		assert.Equal(t, rom, m.calls[0].image)
	}
}

func TestLoadAndStartFileURLEscaped(t *testing.T) {
	name := filepath.Join(t.TempDir(), "my rom%.ch8")
	require.NoError(t, os.WriteFile(name, rom, 0o644))

	location := (&url.URL{Scheme: "file", Path: filepath.ToSlash(name)}).String()
	require.Contains(t, location, "my%20rom%25.ch8")

	m := &fakeMachine{}
	require.NoError(t, LoadAndStart(context.Background(), AutoFetcher{}, location, m))
	assert.Equal(t, []string{"load", "start"}, m.names())
	assert.Equal(t, rom, m.calls[0].image)
}

func TestLoadAndStartEmptyImage(t *testing.T) {
	m := &fakeMachine{}
	f := FetcherFunc(func(ctx context.Context, location string) ([]byte, error) {
		return []byte{}, nil
	})

	require.NoError(t, LoadAndStart(context.Background(), f, "empty.ch8", m))
	assert.Equal(t, []string{"load", "start"}, m.names())
	assert.Len(t, m.calls[0].image, 0)
}

func TestLoadAndStartFetchFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	closed := httptest.NewServer(http.NotFoundHandler())
	closedURL := closed.URL
	closed.Close()

	tests := []struct {
		name     string
		location string
		fetcher  Fetcher
		check    func(t *testing.T, err error)
	}{
		{
			name:     "not found",
			location: srv.URL + "/missing.rom",
			check: func(t *testing.T, err error) {
				var se *StatusError
				require.ErrorAs(t, err, &se)
				assert.Equal(t, http.StatusNotFound, se.StatusCode)
			},
		},
		{
			name:     "connection refused",
			location: closedURL + "/tetris.rom",
		},
		{
			name:     "missing file",
			location: filepath.Join(t.TempDir(), "nope.ch8"),
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, os.ErrNotExist)
			},
		},
		{
			name:     "unsupported scheme",
			location: "ftp://example.com/tetris.rom",
		},
		{
			name:     "corrupt archive",
			location: "game.zip",
			fetcher: FetcherFunc(func(ctx context.Context, location string) ([]byte, error) {
				return []byte("not a zip"), nil
			}),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := tt.fetcher
			if f == nil {
				f = AutoFetcher{}
			}

			m := &fakeMachine{}
			logger, buf := testLogger()

			err := LoadAndStart(context.Background(), f, tt.location, m, WithLogger(logger))
			require.Error(t, err)
			if tt.check != nil {
				tt.check(t, err)
			}

			assert.Empty(t, m.calls)
			assert.Equal(t, 1, errorCount(buf))
		})
	}
}

func TestLoadAndStartLoadFailure(t *testing.T) {
	errFull := errors.New("memory full")
	m := &fakeMachine{loadErr: errFull}
	logger, buf := testLogger()

	f := FetcherFunc(func(ctx context.Context, location string) ([]byte, error) {
		return rom, nil
	})

	err := LoadAndStart(context.Background(), f, "tetris.rom", m, WithLogger(logger))
	assert.ErrorIs(t, err, errFull)
	assert.Equal(t, []string{"load"}, m.names())
	assert.Equal(t, 1, errorCount(buf))
}

func TestLoadAndStartStartFailure(t *testing.T) {
	errStart := errors.New("no display")
	m := &fakeMachine{startErr: errStart}
	logger, buf := testLogger()

	f := FetcherFunc(func(ctx context.Context, location string) ([]byte, error) {
		return rom, nil
	})

	err := LoadAndStart(context.Background(), f, "tetris.rom", m, WithLogger(logger))
	assert.ErrorIs(t, err, errStart)
	assert.Equal(t, []string{"load", "start"}, m.names())
	assert.Equal(t, 1, errorCount(buf))
}

func TestLoadAndStartTimeout(t *testing.T) {
	f := FetcherFunc(func(ctx context.Context, location string) ([]byte, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	m := &fakeMachine{}
	err := LoadAndStart(context.Background(), f, "slow.rom", m, WithTimeout(10*time.Millisecond))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, m.calls)
}

func TestLoadAndStartCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	name := filepath.Join(t.TempDir(), "pong.ch8")
	require.NoError(t, os.WriteFile(name, rom, 0o644))

	m := &fakeMachine{}
	err := LoadAndStart(ctx, AutoFetcher{}, name, m)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, m.calls)
}

func TestFetchTooLarge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(make([]byte, MaxRawSize+1))
	}))
	defer srv.Close()

	_, err := HTTPFetcher{}.Fetch(context.Background(), srv.URL)
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestDecode(t *testing.T) {
	var gz bytes.Buffer
	zw := gzip.NewWriter(&gz)
	_, err := zw.Write(rom)
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	var zb bytes.Buffer
	arc := zip.NewWriter(&zb)
	_, err = arc.Create("roms/")
	require.NoError(t, err)
	w, err := arc.Create("roms/tetris.ch8")
	require.NoError(t, err)
	_, err = w.Write(rom)
	require.NoError(t, err)
	require.NoError(t, arc.Close())

	var empty bytes.Buffer
	require.NoError(t, zip.NewWriter(&empty).Close())

	tests := []struct {
		location string
		raw      []byte
		want     []byte
		err      error
	}{
		{"tetris.ch8", rom, rom, nil},
		{"tetris", rom, rom, nil},
		{"tetris.ch8.gz", gz.Bytes(), rom, nil},
		{"TETRIS.ZIP", zb.Bytes(), rom, nil},
		{"http://example.com/roms/tetris.zip?v=2", zb.Bytes(), rom, nil},
		{"empty.zip", empty.Bytes(), nil, ErrEmptyArchive},
	}

	for _, tt := range tests {
		t.Run(tt.location, func(t *testing.T) {
			got, err := Decode(tt.location, tt.raw)
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeCorrupt7z(t *testing.T) {
	_, err := Decode("tetris.7z", []byte("definitely not 7z"))
	assert.Error(t, err)
}

func TestErrorType(t *testing.T) {
	f := FetcherFunc(func(ctx context.Context, location string) ([]byte, error) {
		return nil, os.ErrNotExist
	})

	err := LoadAndStart(context.Background(), f, "gone.rom", &fakeMachine{})

	var lerr *Error
	require.ErrorAs(t, err, &lerr)
	assert.Equal(t, "gone.rom", lerr.Location)
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.Contains(t, err.Error(), "gone.rom: failed to fetch program")
}

package loader

import (
	"archive/zip"
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"

	"github.com/bodgit/sevenzip"
)

var ErrEmptyArchive = errors.New("archive contains no files")

// Decode returns the program image held in raw. Containers are recognized
// by the extension of location: .gz, .zip and .7z are unwrapped, using the
// first regular file of an archive. Anything else is returned as is.
func Decode(location string, raw []byte) ([]byte, error) {
	var (
		r   io.Reader
		err error
	)

	switch ext(location) {
	case ".gz":
		r, err = gzip.NewReader(bytes.NewReader(raw))
	case ".zip":
		r, err = openZip(raw)
	case ".7z":
		r, err = open7z(raw)
	default:
		return raw, nil
	}

	if err != nil {
		return nil, err
	}
	if c, ok := r.(io.Closer); ok {
		defer c.Close()
	}

	return readLimited(r)
}

func ext(location string) string {
	p := location
	if u, err := url.Parse(location); err == nil && len(u.Scheme) > 1 {
		p = u.Path
	}
	return strings.ToLower(path.Ext(p))
}

func openZip(raw []byte) (io.ReadCloser, error) {
	zr, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return nil, fmt.Errorf("opening zip: %w", err)
	}

	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		return f.Open()
	}

	return nil, ErrEmptyArchive
}

func open7z(raw []byte) (io.ReadCloser, error) {
	sr, err := sevenzip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return nil, fmt.Errorf("opening 7z: %w", err)
	}

	for _, f := range sr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		return f.Open()
	}

	return nil, ErrEmptyArchive
}

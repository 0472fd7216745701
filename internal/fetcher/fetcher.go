// Package fetcher opens scraper dumps from local paths, HTTP(S) or FTP,
// unpacking gzip and zip archives on the way.
package fetcher

import (
	"context"
	"io"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// Fetcher downloads remote data.
type Fetcher interface {
	// Download fetches the URL and returns the response body.
	Download(ctx context.Context, url string) (io.ReadCloser, error)
}

// Options configures an Opener.
type Options struct {
	UserAgent  string
	Timeout    time.Duration
	MaxRetries int
	// Rate caps HTTP requests per second.
	Rate float64
	// BackoffBase is the first retry delay; it doubles per attempt.
	BackoffBase time.Duration
}

// Opener resolves a location to a readable stream.
type Opener struct {
	http Fetcher
	ftp  Fetcher
}

// NewOpener builds an Opener with HTTP and FTP fetchers.
func NewOpener(opts Options) *Opener {
	return &Opener{
		http: NewHTTPFetcher(HTTPOptions{
			UserAgent:   opts.UserAgent,
			Timeout:     opts.Timeout,
			MaxRetries:  opts.MaxRetries,
			Rate:        opts.Rate,
			BackoffBase: opts.BackoffBase,
		}),
		ftp: NewFTPFetcher(FTPOptions{Timeout: opts.Timeout}),
	}
}

// Open returns the contents at location: an http(s):// or ftp:// URL, or a
// local path. Names ending in .gz are decompressed; a .zip archive yields
// its single data file. The caller closes the returned reader.
func (o *Opener) Open(ctx context.Context, location string) (io.ReadCloser, error) {
	rc, name, err := o.raw(ctx, location)
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(path.Ext(name)) {
	case ".gz":
		return gunzip(rc)
	case ".zip":
		return unzipSingle(rc)
	default:
		return rc, nil
	}
}

// raw opens location without unpacking and returns the name used to pick
// an archive format.
func (o *Opener) raw(ctx context.Context, location string) (io.ReadCloser, string, error) {
	u, err := url.Parse(location)
	if err == nil {
		switch u.Scheme {
		case "http", "https":
			rc, err := o.http.Download(ctx, location)
			return rc, u.Path, err
		case "ftp":
			rc, err := o.ftp.Download(ctx, location)
			return rc, u.Path, err
		}
	}

	f, err := os.Open(location)
	if err != nil {
		return nil, "", eris.Wrapf(err, "fetcher: open %s", location)
	}
	return f, location, nil
}

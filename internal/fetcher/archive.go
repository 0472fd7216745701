package fetcher

import (
	"archive/zip"
	"compress/gzip"
	"io"
	"os"
	"path"
	"strings"

	"github.com/rotisserie/eris"
)

// dataExts are the entry extensions preferred when a zip holds several files.
var dataExts = []string{".jsonl", ".ndjson", ".json"}

type gzipReader struct {
	*gzip.Reader
	src io.Closer
}

func (g *gzipReader) Close() error {
	gzErr := g.Reader.Close()
	srcErr := g.src.Close()
	if gzErr != nil {
		return gzErr
	}
	return srcErr
}

func gunzip(rc io.ReadCloser) (io.ReadCloser, error) {
	zr, err := gzip.NewReader(rc)
	if err != nil {
		_ = rc.Close()
		return nil, eris.Wrap(err, "gzip: open")
	}
	return &gzipReader{Reader: zr, src: rc}, nil
}

// zipEntryReader streams one archive entry and removes the spooled archive
// on close.
type zipEntryReader struct {
	io.ReadCloser
	archive *zip.ReadCloser
	spool   string
}

func (z *zipEntryReader) Close() error {
	err := z.ReadCloser.Close()
	_ = z.archive.Close()
	_ = os.Remove(z.spool)
	return err
}

// unzipSingle spools rc to a temp file (zip needs random access) and opens
// its data entry.
func unzipSingle(rc io.ReadCloser) (io.ReadCloser, error) {
	defer rc.Close() //nolint:errcheck

	tmp, err := os.CreateTemp("", "adradar-*.zip")
	if err != nil {
		return nil, eris.Wrap(err, "zip: create spool")
	}
	spool := tmp.Name()
	_, copyErr := io.Copy(tmp, rc)
	closeErr := tmp.Close()
	if copyErr != nil || closeErr != nil {
		_ = os.Remove(spool)
		return nil, eris.Wrap(firstErr(copyErr, closeErr), "zip: spool archive")
	}

	archive, err := zip.OpenReader(spool)
	if err != nil {
		_ = os.Remove(spool)
		return nil, eris.Wrap(err, "zip: open archive")
	}

	entry, err := pickEntry(archive.File)
	if err != nil {
		_ = archive.Close()
		_ = os.Remove(spool)
		return nil, err
	}
	er, err := entry.Open()
	if err != nil {
		_ = archive.Close()
		_ = os.Remove(spool)
		return nil, eris.Wrap(err, "zip: open entry")
	}
	return &zipEntryReader{ReadCloser: er, archive: archive, spool: spool}, nil
}

// pickEntry returns the only file in the archive, or the single file with a
// data extension when there are several.
func pickEntry(files []*zip.File) (*zip.File, error) {
	var regular, data []*zip.File
	for _, f := range files {
		if f.FileInfo().IsDir() {
			continue
		}
		regular = append(regular, f)
		ext := strings.ToLower(path.Ext(f.Name))
		for _, want := range dataExts {
			if ext == want {
				data = append(data, f)
				break
			}
		}
	}

	switch {
	case len(regular) == 1:
		return regular[0], nil
	case len(data) == 1:
		return data[0], nil
	default:
		return nil, eris.Errorf("zip: expected exactly 1 data file, got %d files", len(regular))
	}
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

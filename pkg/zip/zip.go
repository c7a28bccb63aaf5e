package zip

import (
	"archive/zip"
	"fmt"
	"io"
	"time"
)

// Entry is one file of an archive. Open is called only when the entry is
// written so bytes stream straight from the source into the archive.
type Entry struct {
	Name     string
	Modified time.Time
	Open     func() (io.ReadCloser, error)
}

// Stream writes entries into a zip archive on w, in order.
func Stream(w io.Writer, entries []Entry) error {
	zw := zip.NewWriter(w)
	for _, entry := range entries {
		if err := writeEntry(zw, entry); err != nil {
			_ = zw.Close()
			return err
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("zip: finalize: %w", err)
	}
	return nil
}

func writeEntry(zw *zip.Writer, entry Entry) error {
	src, err := entry.Open()
	if err != nil {
		return fmt.Errorf("zip: open %s: %w", entry.Name, err)
	}
	defer src.Close()

	header := &zip.FileHeader{Name: entry.Name, Method: zip.Store, Modified: entry.Modified}
	dst, err := zw.CreateHeader(header)
	if err != nil {
		return fmt.Errorf("zip: create %s: %w", entry.Name, err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("zip: write %s: %w", entry.Name, err)
	}
	return nil
}

package export

import (
	"archive/zip"
	"context"
	"fmt"
	"io"

	"github.com/pavelanni/essayexport/internal/model"
)

// FileStore resolves a content hash to the stored bytes.
type FileStore interface {
	GetFile(ctx context.Context, hash string) ([]byte, error)
}

// Sink is a streaming archive target. Paths use forward slashes; entries
// are written once, in iteration order, and flushed to the underlying
// writer per entry so the full archive is never held in memory.
type Sink interface {
	AddFromBytes(path string, data []byte) error
	AddFromFile(ctx context.Context, path string, att model.Attachment) error
	Finish() error
}

// ZipSink streams a ZIP archive into any io.Writer.
type ZipSink struct {
	zw    *zip.Writer
	files FileStore
}

func NewZipSink(w io.Writer, files FileStore) *ZipSink {
	return &ZipSink{zw: zip.NewWriter(w), files: files}
}

// AddFromBytes writes one entry with inline content.
func (z *ZipSink) AddFromBytes(path string, data []byte) error {
	w, err := z.zw.Create(path)
	if err != nil {
		return fmt.Errorf("create archive entry %s: %w", path, err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write archive entry %s: %w", path, err)
	}
	// Flush the entry through to the transport so memory stays bounded by
	// the largest single item, not the whole export.
	return z.zw.Flush()
}

// AddFromFile writes one entry whose content lives in the file store.
func (z *ZipSink) AddFromFile(ctx context.Context, path string, att model.Attachment) error {
	content, err := z.files.GetFile(ctx, att.Hash)
	if err != nil {
		return fmt.Errorf("fetch attachment %s: %w", att.Filename, err)
	}
	return z.AddFromBytes(path, content)
}

// Finish writes the central directory and closes the stream.
func (z *ZipSink) Finish() error {
	return z.zw.Close()
}

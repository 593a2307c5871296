package storage

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// FileJournal keeps the latest report as pretty-printed JSON, replacing it on every run.
type FileJournal struct {
	Path string
}

func NewFileJournal(path string) *FileJournal {
	return &FileJournal{Path: path}
}

// Record writes the report with the temp-file, sync, rename sequence so a crash
// never leaves a half-written file behind.
func (f *FileJournal) Record(_ context.Context, r *Report) error {
	b, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal report")
	}

	if dir := filepath.Dir(f.Path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return errors.Wrap(err, "create report dir")
		}
	}

	tmpFile := f.Path + ".tmp"
	out, err := os.Create(tmpFile)
	if err != nil {
		return errors.Wrap(err, "create temp report file")
	}
	defer out.Close()

	if _, err := out.Write(b); err != nil {
		return errors.Wrap(err, "write temp report file")
	}
	if err := out.Sync(); err != nil {
		return errors.Wrap(err, "sync temp report file")
	}
	// Close before rename (required on Windows).
	out.Close()

	if err := os.Rename(tmpFile, f.Path); err != nil {
		return errors.Wrap(err, "replace report file")
	}
	return nil
}

func (f *FileJournal) Close() error { return nil }

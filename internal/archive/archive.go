// Package archive keeps the raw listing pages the watcher fetched, for
// replaying extraction against real markup.
package archive

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"
)

// Page is one raw page to archive.
type Page struct {
	WatchID   int64
	Item      string
	HTML      string
	FetchedAt time.Time
}

// Archiver stores raw pages and returns where each page went.
type Archiver interface {
	Archive(ctx context.Context, page Page) (string, error)
}

// Key is the relative object path for a page.
func Key(page Page) string {
	at := page.FetchedAt
	if at.IsZero() {
		at = time.Now()
	}
	at = at.UTC()
	return path.Join(
		fmt.Sprintf("watch-%d", page.WatchID),
		at.Format("2006-01-02"),
		at.Format("150405.000000000")+".html",
	)
}

// Nop discards pages.
type Nop struct{}

// Archive implements Archiver.
func (Nop) Archive(context.Context, Page) (string, error) { return "", nil }

// DirArchiver writes pages under a local directory.
type DirArchiver struct {
	root string
}

// NewDirArchiver creates the root directory if needed.
func NewDirArchiver(root string) (*DirArchiver, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create archive dir: %w", err)
	}
	return &DirArchiver{root: root}, nil
}

// Archive implements Archiver.
func (a *DirArchiver) Archive(ctx context.Context, page Page) (string, error) {
	target := filepath.Join(a.root, filepath.FromSlash(Key(page)))
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", fmt.Errorf("create archive dir: %w", err)
	}
	if err := os.WriteFile(target, []byte(page.HTML), 0o644); err != nil {
		return "", fmt.Errorf("write archive file: %w", err)
	}
	return target, nil
}

var (
	_ Archiver = Nop{}
	_ Archiver = (*DirArchiver)(nil)
)

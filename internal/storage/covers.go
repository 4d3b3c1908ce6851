package storage

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// MaxCoverSize bounds a single cover file. Catalog thumbnails are a few dozen KB.
const MaxCoverSize = 2 << 20

var ErrTooLarge = errors.New("storage: file too large")

// Covers caches downloaded book covers on disk, one file per thumbnail URL.
type Covers struct {
	dir     string
	maxSize int64
}

func NewCovers(dir string) (*Covers, error) {
	if dir == "" {
		return nil, fmt.Errorf("storage: empty cover directory")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("storage: create %s: %w", dir, err)
	}
	return &Covers{dir: dir, maxSize: MaxCoverSize}, nil
}

func (c *Covers) path(url string) string {
	sum := sha256.Sum256([]byte(url))
	return filepath.Join(c.dir, fmt.Sprintf("%x.jpg", sum[:16]))
}

// Get returns the cached cover for url. ok is false when it was never saved.
func (c *Covers) Get(url string) (data []byte, ok bool, err error) {
	data, err = os.ReadFile(c.path(url))
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("storage: read cover: %w", err)
	}
	return data, true, nil
}

// Put writes the cover through a temp file so readers never see a partial image.
func (c *Covers) Put(url string, data []byte) error {
	return c.save(c.path(url), bytes.NewReader(data))
}

func (c *Covers) save(target string, data io.Reader) error {
	tmp, err := os.CreateTemp(c.dir, "cover-*.tmp")
	if err != nil {
		return fmt.Errorf("storage: create temp: %w", err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, io.LimitReader(data, c.maxSize+1))
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("storage: write cover: %w", err)
	}
	if n > c.maxSize {
		return ErrTooLarge
	}

	if err := os.Rename(tmp.Name(), target); err != nil {
		return fmt.Errorf("storage: store cover: %w", err)
	}
	return nil
}

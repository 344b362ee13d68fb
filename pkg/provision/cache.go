package provision

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
)

type PathEncoder interface {
	Encode(key string) string
	Decode(key string) (string, error)
}

// ArchiveCache stores downloaded archives keyed by their source URL. Keys are
// converted to file names with a bijective [PathEncoder], so the cache
// survives across runs without an index file.
type ArchiveCache struct {
	pe   PathEncoder
	root string
}

func NewArchiveCache(root string, pe PathEncoder) (*ArchiveCache, error) {
	err := os.MkdirAll(root, 0o750)
	if err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}

	return &ArchiveCache{
		root: root,
		pe:   pe,
	}, nil
}

// GetPath returns the path for the given key, whether or not it exists.
func (c *ArchiveCache) GetPath(key string) string {
	return filepath.Join(c.root, c.pe.Encode(key))
}

// GetPathIfExists gets a path for the given key if it exists. Otherwise, returns an empty string.
func (c *ArchiveCache) GetPathIfExists(key string) string {
	path := c.GetPath(key)
	if _, err := os.Stat(path); err != nil {
		return ""
	}

	return path
}

// Keys returns the keys of all cached archives, mapped to their paths.
func (c *ArchiveCache) Keys() (map[string]string, error) {
	ds, err := os.ReadDir(c.root)
	if err != nil {
		return nil, fmt.Errorf("read cache dir: %w", err)
	}

	paths := map[string]string{}

	for _, d := range ds {
		if d.IsDir() {
			continue
		}

		key, err := c.pe.Decode(d.Name())
		if err != nil {
			// Not one of ours, e.g. an in-progress temp file.
			continue
		}

		paths[key] = filepath.Join(c.root, d.Name())
	}

	return paths, nil
}

type Base64PathEncoder struct{}

func NewBase64PathEncoder() *Base64PathEncoder {
	return &Base64PathEncoder{}
}

func (*Base64PathEncoder) Encode(s string) string {
	return base64.URLEncoding.EncodeToString([]byte(s))
}

func (*Base64PathEncoder) Decode(s string) (string, error) {
	d, err := base64.URLEncoding.DecodeString(s)

	return string(d), err
}

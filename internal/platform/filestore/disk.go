package filestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// DiskFileStore keeps each object as two files under root: the content and a
// JSON sidecar with its metadata.
type DiskFileStore struct {
	root string
}

// NewDiskFileStore creates root if needed.
func NewDiskFileStore(root string) (*DiskFileStore, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("create file store root: %w", err)
	}
	return &DiskFileStore{root: root}, nil
}

func (s *DiskFileStore) paths(key string) (data, meta string, err error) {
	if _, err := uuid.Parse(key); err != nil {
		return "", "", ErrNotFound
	}
	base := filepath.Join(s.root, key)
	return base + ".bin", base + ".json", nil
}

func (s *DiskFileStore) Put(ctx context.Context, meta Object, content io.Reader) (*Object, error) {
	meta, data, err := prepare(meta, content)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dataPath, metaPath, _ := s.paths(meta.Key)
	if err := os.WriteFile(dataPath, data, 0o640); err != nil {
		return nil, fmt.Errorf("write object: %w", err)
	}
	sidecar, err := json.Marshal(meta)
	if err != nil {
		_ = os.Remove(dataPath)
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	if err := os.WriteFile(metaPath, sidecar, 0o640); err != nil {
		_ = os.Remove(dataPath)
		return nil, fmt.Errorf("write metadata: %w", err)
	}

	out := meta
	return &out, nil
}

func (s *DiskFileStore) Open(_ context.Context, key string) (io.ReadCloser, *Object, error) {
	dataPath, metaPath, err := s.paths(key)
	if err != nil {
		return nil, nil, err
	}
	raw, err := os.ReadFile(metaPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, fmt.Errorf("read metadata: %w", err)
	}
	var meta Object
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, nil, fmt.Errorf("decode metadata: %w", err)
	}
	f, err := os.Open(dataPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, fmt.Errorf("open object: %w", err)
	}
	return f, &meta, nil
}

func (s *DiskFileStore) Delete(_ context.Context, key string) error {
	dataPath, metaPath, err := s.paths(key)
	if err != nil {
		return err
	}
	if err := os.Remove(metaPath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrNotFound
		}
		return fmt.Errorf("remove metadata: %w", err)
	}
	if err := os.Remove(dataPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove object: %w", err)
	}
	return nil
}

package disk

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/uuid/v5"

	"github.com/zlnvch/fluxcanvas/blob"
)

// DiskStore writes blobs under dir and serves them below urlPrefix.
type DiskStore struct {
	dir       string
	urlPrefix string
}

func NewDiskStore(dir string, urlPrefix string) (*DiskStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("ensure blob directory: %w", err)
	}
	return &DiskStore{dir: dir, urlPrefix: strings.TrimSuffix(urlPrefix, "/")}, nil
}

func (d *DiskStore) Dir() string {
	return d.dir
}

func (d *DiskStore) Upload(ctx context.Context, data []byte, contentType string) (string, error) {
	ext, ok := blob.Extension(contentType)
	if !ok {
		return "", fmt.Errorf("%w: %s", blob.ErrUnsupportedType, contentType)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	id, err := uuid.NewV4()
	if err != nil {
		return "", err
	}
	name := id.String() + ext

	// Write to a temp file first so readers never see a partial blob.
	tmp, err := os.CreateTemp(d.dir, ".upload-*")
	if err != nil {
		return "", fmt.Errorf("create blob: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("write blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("close blob: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(d.dir, name)); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("store blob: %w", err)
	}

	return d.urlPrefix + "/" + name, nil
}

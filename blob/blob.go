// Package blob stores uploaded image bytes and hands back the URL clients load them from.
package blob

import (
	"context"
	"errors"
)

var ErrUnsupportedType = errors.New("unsupported content type")

type Store interface {
	Upload(ctx context.Context, data []byte, contentType string) (string, error)
}

var extensions = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// Extension returns the file extension for an accepted image content type.
func Extension(contentType string) (string, bool) {
	ext, ok := extensions[contentType]
	return ext, ok
}

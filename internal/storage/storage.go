package storage

import (
	"context"
	"io"
)

// Uploader stores one object and returns the URL it can be downloaded from.
type Uploader interface {
	Upload(ctx context.Context, objectName string, contentType string, r io.Reader) (downloadURL string, err error)
}

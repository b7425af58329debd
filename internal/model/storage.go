package model

import (
	"context"
	"io"
	"strconv"
)

// PhotoArchive keeps a copy of each portrait's compressed bytes in object
// storage, keyed by employee id.
type PhotoArchive interface {
	Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error
	Download(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
}

// PhotoKey is the object key of the archived portrait of employee id.
func PhotoKey(id int64) string {
	return "employees/" + strconv.FormatInt(id, 10) + ".jpg"
}

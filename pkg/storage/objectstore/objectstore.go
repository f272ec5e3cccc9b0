// Package objectstore stores attachment bytes outside the database.
//
// Keys are generated by Key and recorded on the attachment row; the row is the
// source of truth, so an orphaned object only costs space.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"unicode"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// ErrNotFound is returned when an object does not exist
var ErrNotFound = errors.New("object not found")

// Object is an open object body
type Object struct {
	Body        io.ReadCloser
	ContentType string
	Size        int64
}

// Store reads and writes attachment objects
type Store interface {
	Put(ctx context.Context, key string, body io.Reader, contentType string) (int64, error)
	Get(ctx context.Context, key string) (*Object, error)
	Delete(ctx context.Context, key string) error
	HealthCheck(ctx context.Context) error
}

// Key builds a unique object key for a file uploaded to a project
func Key(projectID uuid.UUID, fileName string) string {
	return fmt.Sprintf("projects/%s/%s-%s", projectID, strings.ToLower(ulid.Make().String()), SanitizeFileName(fileName))
}

// SanitizeFileName keeps the base name and replaces characters that are
// awkward in object keys and Content-Disposition headers
func SanitizeFileName(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == "/" || name == ".." {
		return "file"
	}

	var b strings.Builder
	for _, r := range name {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}

	out := []rune(b.String())
	if len(out) > 128 {
		out = out[len(out)-128:]
	}
	if strings.Trim(string(out), "._") == "" {
		return "file"
	}
	return string(out)
}

// Package covers stores uploaded album cover images on local disk or in
// MongoDB GridFS. Albums keep only the returned reference.
package covers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned by Open for unknown or malformed references.
var ErrNotFound = errors.New("cover not found")

// Store saves cover images and opens them by reference.
type Store interface {
	// Save stores the content of r and returns the reference to persist.
	Save(ctx context.Context, originalName string, r io.Reader) (string, error)
	Open(ctx context.Context, ref string) (io.ReadCloser, error)
	// Remove deletes a stored cover. Unknown references are not an error.
	Remove(ctx context.Context, ref string) error
}

const maxBaseLen = 80

// NewName builds a unique stored name of the form <unix-ms>-<uuid8>-<basename>.
func NewName(originalName string, now time.Time) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%d-%s-%s", now.UnixMilli(), id, sanitize(originalName))
}

func sanitize(name string) string {
	base := filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if base == "." || base == "/" || base == ".." {
		base = ""
	}

	var b strings.Builder
	for _, r := range base {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}

	out := strings.TrimLeft(b.String(), ".")
	if len(out) > maxBaseLen {
		out = out[len(out)-maxBaseLen:]
	}
	if out == "" {
		out = "cover"
	}
	return out
}

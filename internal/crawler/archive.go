package crawler

import (
	"context"
	"fmt"
	"path"

	"github.com/JakeFAU/pressroom/internal/core"
)

// Archiver writes raw HTML bodies to a blob store under their content digest.
type Archiver struct {
	blobs  core.BlobStore
	hasher core.Hasher
	prefix string
}

// NewArchiver returns an Archiver that writes to prefix/<digest>.html.
func NewArchiver(blobs core.BlobStore, hasher core.Hasher, prefix string) *Archiver {
	if prefix == "" {
		prefix = "pages"
	}
	return &Archiver{blobs: blobs, hasher: hasher, prefix: prefix}
}

// Archive stores body and returns its URI.
func (a *Archiver) Archive(ctx context.Context, body []byte) (string, error) {
	digest, err := a.hasher.Hash(body)
	if err != nil {
		return "", fmt.Errorf("hash body: %w", err)
	}
	uri, err := a.blobs.PutObject(ctx, path.Join(a.prefix, digest+".html"), "text/html; charset=utf-8", body)
	if err != nil {
		return "", fmt.Errorf("archive body: %w", err)
	}
	return uri, nil
}

package gazodb

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
)

var blobPrefix = cid.NewPrefixV1(cid.Raw, multihash.SHA2_256)

// BlobDir is a flat directory of image files named by the CID of their content. Identical bytes
// always land in the same file, so writes are idempotent.
type BlobDir struct {
	dir string
}

func NewBlobDir(dir string) (*BlobDir, error) {
	if err := os.MkdirAll(dir, 0775); err != nil {
		return nil, fmt.Errorf("creating blob directory: %w", err)
	}
	return &BlobDir{dir: dir}, nil
}

func (b *BlobDir) Dir() string {
	return b.dir
}

// Path resolves a stored file name. Only the base name is used, so callers may pass untrusted input.
func (b *BlobDir) Path(name string) string {
	return filepath.Join(b.dir, filepath.Base(name))
}

// Put stores data durably and returns the file name. The file is written to a temporary name,
// synced, then renamed into place, so a returned name always refers to a complete file.
func (b *BlobDir) Put(data []byte) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("refusing to store empty blob")
	}
	c, err := blobPrefix.Sum(data)
	if err != nil {
		return "", fmt.Errorf("computing blob CID: %w", err)
	}
	name := c.String() + extensionFor(data)
	dest := b.Path(name)

	if _, err := os.Stat(dest); err == nil {
		return name, nil
	}

	tmp, err := os.CreateTemp(b.dir, ".incoming-*")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return "", err
	}
	return name, nil
}

func extensionFor(data []byte) string {
	switch http.DetectContentType(data) {
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	default:
		return ".jpg"
	}
}

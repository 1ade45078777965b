package gazodb

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlobDirPut(t *testing.T) {
	assert := assert.New(t)
	blobs, err := NewBlobDir(filepath.Join(t.TempDir(), "images"))
	require.NoError(t, err)

	name, err := blobs.Put([]byte("hello world"))
	assert.NoError(err)
	assert.True(strings.HasPrefix(name, "bafkrei"))
	assert.Equal(".jpg", filepath.Ext(name))

	again, err := blobs.Put([]byte("hello world"))
	assert.NoError(err)
	assert.Equal(name, again)

	other, err := blobs.Put([]byte("hello there"))
	assert.NoError(err)
	assert.NotEqual(name, other)

	ents, err := os.ReadDir(blobs.Dir())
	assert.NoError(err)
	assert.Len(ents, 2)

	_, err = blobs.Put(nil)
	assert.Error(err)
}

func TestBlobDirPath(t *testing.T) {
	assert := assert.New(t)
	blobs, err := NewBlobDir(t.TempDir())
	require.NoError(t, err)

	assert.Equal(filepath.Join(blobs.Dir(), "passwd"), blobs.Path("../../etc/passwd"))
	assert.Equal(filepath.Join(blobs.Dir(), "a.jpg"), blobs.Path("a.jpg"))
}

func TestHammingDistance(t *testing.T) {
	assert := assert.New(t)
	assert.Equal(0, HammingDistance(0xff, 0xff))
	assert.Equal(8, HammingDistance(0xff, 0x00))
	assert.Equal(64, HammingDistance(0, ^uint64(0)))
}

package cliutil

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWithSqliteParams(t *testing.T) {
	assert := assert.New(t)

	assert.Equal(":memory:?_txlock=immediate&_busy_timeout=5000", withSqliteParams(":memory:"))
	assert.Equal("data/x.sqlite?cache=shared&_txlock=immediate&_busy_timeout=5000", withSqliteParams("data/x.sqlite?cache=shared"))
	assert.Equal("x.sqlite?_txlock=deferred&_busy_timeout=5000", withSqliteParams("x.sqlite?_txlock=deferred"))
}

func TestSetupDatabase(t *testing.T) {
	assert := assert.New(t)

	path := filepath.Join(t.TempDir(), "nested", "test.sqlite")
	db, err := SetupDatabase("sqlite://"+path, 10)
	assert.NoError(err)
	assert.Equal("sqlite", db.Dialector.Name())
	assert.NoError(db.Exec("CREATE TABLE things (id INTEGER PRIMARY KEY)").Error)
	assert.FileExists(path)

	_, err = SetupDatabase("mysql://localhost/db", 1)
	assert.Error(err)
}

func TestSetupSlog(t *testing.T) {
	assert := assert.New(t)

	path := filepath.Join(t.TempDir(), "logs", "gazobot.log")
	logger, err := SetupSlog(LogOptions{LogLevel: "debug", LogFormat: "json", LogPath: path})
	assert.NoError(err)
	logger.Info("hello")
	assert.FileExists(path)

	_, err = SetupSlog(LogOptions{LogLevel: "loud"})
	assert.Error(err)
	_, err = SetupSlog(LogOptions{LogLevel: "info", LogFormat: "xml"})
	assert.Error(err)
}

package mylog

import (
	"io/ioutil"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRotateLog(t *testing.T) {
	dir, err := ioutil.TempDir("", "mylog")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	w := RotateLog(filepath.Join(dir, "run"))
	_, err = w.Write([]byte("hello\n"))
	require.NoError(t, err)

	files, err := filepath.Glob(filepath.Join(dir, "run*.log"))
	require.NoError(t, err)
	assert.NotEmpty(t, files)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, logrus.DebugLevel, ParseLevel("debug"))
	assert.Equal(t, logrus.InfoLevel, ParseLevel("nonsense"))
}

func TestAddLogstashHook(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	logger := logrus.New()
	require.NoError(t, AddLogstashHook(logger, listener.Addr().String(), "ogbft"))
	assert.Len(t, logger.Hooks[logrus.InfoLevel], 1)

	assert.Error(t, AddLogstashHook(logrus.New(), "127.0.0.1:1", "ogbft"))
}

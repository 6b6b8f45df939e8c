package cmd

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogger(t *testing.T) {
	dir, err := ioutil.TempDir("", "ogbft-log")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	viper.Set("log.dir", dir)
	viper.Set("log.level", "debug")
	viper.Set("log.multifile_by_level", true)
	defer viper.Set("log.dir", "")
	defer logrus.StandardLogger().ReplaceHooks(make(logrus.LevelHooks))
	defer logrus.SetOutput(os.Stderr)

	initLogger()
	assert.Equal(t, logrus.DebugLevel, logrus.GetLevel())
	logrus.Info("Test Info")

	files, err := filepath.Glob(filepath.Join(dir, "run*.log"))
	require.NoError(t, err)
	assert.NotEmpty(t, files)
	files, err = filepath.Glob(filepath.Join(dir, "info*.log"))
	require.NoError(t, err)
	assert.NotEmpty(t, files)
}

func TestReadConfigMergesFileAndEnv(t *testing.T) {
	dir, err := ioutil.TempDir("", "ogbft-config")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "config.toml")
	require.NoError(t, ioutil.WriteFile(path, []byte("[consensus]\nbyzantine_rate = 75\nresult_wait_ms = 1500\n"), 0644))
	viper.Set("config", path)
	require.NoError(t, os.Setenv("OGBFT_CONSENSUS_RESULT_WAIT_MS", "900"))
	defer os.Unsetenv("OGBFT_CONSENSUS_RESULT_WAIT_MS")

	readConfig()
	assert.Equal(t, 75, viper.GetInt("consensus.byzantine_rate"))
	assert.Equal(t, 900, viper.GetInt("consensus.result_wait_ms"))
}

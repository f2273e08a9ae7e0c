package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfigDirFromArgs(t *testing.T) {
	assert.Equal(t, "/tmp/cfg", configDirFromArgs([]string{"backtest", "run", "--config", "/tmp/cfg", "x.yaml"}))
	assert.Equal(t, "/tmp/cfg", configDirFromArgs([]string{"--config=/tmp/cfg", "version"}))
	assert.Equal(t, "", configDirFromArgs([]string{"version"}))
	assert.Equal(t, "", configDirFromArgs([]string{"--", "--config", "/tmp/cfg"}))
	assert.Equal(t, "", configDirFromArgs([]string{"--config"}))
}

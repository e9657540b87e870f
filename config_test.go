package echomux

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigToml(t *testing.T) {
	config, err := LoadConfig("./testdata/config.toml")
	require.NoError(t, err)
	assert.Equal(t, "debug", config.Global.LogLevel)
	assert.Equal(t, "tcp", config.Server.Net)
	assert.Equal(t, "127.0.0.1:10000", config.Server.Address)
	assert.Equal(t, 512, config.Server.ChunkSize)
	assert.Equal(t, 1, config.Server.MaxClients)
	assert.Equal(t, 64, config.Server.EventBufferSize)
	assert.Equal(t, []string{"It will be repeated.", "This is the message.  "}, config.Client.Messages)
}

func TestLoadConfigYaml(t *testing.T) {
	config, err := LoadConfig("./testdata/config.yaml")
	require.NoError(t, err)
	assert.Equal(t, "debug", config.Global.LogLevel)
	assert.Equal(t, "127.0.0.1:10000", config.Client.Address)
	assert.Equal(t, 512, config.Client.ChunkSize)
	assert.Len(t, config.Client.Messages, 2)
}

func TestLoadConfigSameEitherFormat(t *testing.T) {
	tomlConfig, err := LoadConfig("./testdata/config.toml")
	require.NoError(t, err)
	yamlConfig, err := LoadConfig("./testdata/config.yaml")
	require.NoError(t, err)
	assert.Equal(t, tomlConfig, yamlConfig)
}

func TestLoadConfigUnknownFormat(t *testing.T) {
	_, err := LoadConfig("./testdata/config.json")
	assert.Error(t, err)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig("./testdata/nope.toml")
	assert.Error(t, err)
}

package echomux

import (
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml"
	"gopkg.in/yaml.v3"
)

const defChunkSize = 1024

type Global struct {
	LogLevel string `yaml:"log_level" toml:"log_level"`
}

type ServerConfig struct {
	Net             string `yaml:"net" toml:"net"`
	Address         string `yaml:"address" toml:"address"`
	ChunkSize       int    `yaml:"chunk_size" toml:"chunk_size"`
	MaxClients      int    `yaml:"max_clients" toml:"max_clients"`
	EventBufferSize int    `yaml:"event_buffer_size" toml:"event_buffer_size"`
}

type ClientConfig struct {
	Net       string   `yaml:"net" toml:"net"`
	Address   string   `yaml:"address" toml:"address"`
	ChunkSize int      `yaml:"chunk_size" toml:"chunk_size"`
	Messages  []string `yaml:"messages" toml:"messages"`
}

type Config struct {
	Global Global       `yaml:"global" toml:"global"`
	Server ServerConfig `yaml:"server" toml:"server"`
	Client ClientConfig `yaml:"client" toml:"client"`
}

func LoadConfig(filePath string) (*Config, error) {
	file, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	config := &Config{}
	if strings.HasSuffix(filePath, ".toml") {
		err = toml.Unmarshal(file, config)
	} else if strings.HasSuffix(filePath, ".yaml") {
		err = yaml.Unmarshal(file, config)
	} else {
		err = fmt.Errorf("unsupported config format: %s", filePath)
	}
	if err != nil {
		return nil, err
	}
	applyDefaults(config)
	return config, nil
}

func applyDefaults(config *Config) {
	if config.Server.Net == "" {
		config.Server.Net = "tcp"
	}
	if config.Server.ChunkSize <= 0 {
		config.Server.ChunkSize = defChunkSize
	}
	if config.Server.EventBufferSize <= 0 {
		config.Server.EventBufferSize = defEventsBufferSize
	}
	if config.Client.Net == "" {
		config.Client.Net = "tcp"
	}
	if config.Client.ChunkSize <= 0 {
		config.Client.ChunkSize = defChunkSize
	}
}

package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Video   VideoConfig   `yaml:"video"`
	Idle    IdleConfig    `yaml:"idle"`
	Preview PreviewConfig `yaml:"preview"`
}

type ServerConfig struct {
	Addr  string `yaml:"addr"`
	Token string `yaml:"token"`
}

type VideoConfig struct {
	BitrateKbps int `yaml:"bitrate_kbps"`
}

type IdleConfig struct {
	Threshold time.Duration `yaml:"threshold"`
	Tick      time.Duration `yaml:"tick"`
}

type PreviewConfig struct {
	Addr  string `yaml:"addr"`
	Token string `yaml:"token"`
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr: "127.0.0.1:8899",
		},
		Video: VideoConfig{
			BitrateKbps: 4000,
		},
		Idle: IdleConfig{
			Threshold: 15 * time.Second,
			Tick:      time.Second,
		},
	}
}

// Load reads the YAML file at path over the defaults. An empty path
// returns the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

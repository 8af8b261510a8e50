package commands

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/TheusHen/derpnet/derpnet/discovery"
)

// Config is the on-disk configuration.
type Config struct {
	Relay    string               `yaml:"relay"`
	Port     int                  `yaml:"port,omitempty"`
	Plain    bool                 `yaml:"plain,omitempty"`
	KeyFile  string               `yaml:"key_file"`
	LogLevel string               `yaml:"log_level,omitempty"`
	Peers    []discovery.PeerInfo `yaml:"peers,omitempty"`
}

// DefaultConfigPath is derpcat/config.yaml under the user config directory,
// which honors XDG_CONFIG_HOME.
func DefaultConfigPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "derpcat", "config.yaml"), nil
}

// defaultKeyFile sits next to the config file.
func defaultKeyFile(configPath string) string {
	return filepath.Join(filepath.Dir(configPath), "key.age")
}

// LoadConfig reads path. A missing file yields a zero Config only when
// optional is set.
func LoadConfig(path string, optional bool) (Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) && optional {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}
	cfg.KeyFile = expandHome(cfg.KeyFile)
	return cfg, nil
}

// SaveConfig writes cfg to path, creating the directory.
func SaveConfig(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func expandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}

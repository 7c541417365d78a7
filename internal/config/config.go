// Package config loads the daemon's startup configuration: the device
// transport to attach, the BrlAPI listen address, auth schemes, and
// default parameter values.
//
// YAML-plus-.env-overlay loading (gopkg.in/yaml.v3, github.com/joho/
// godotenv), with ${VAR} interpolation via os.Expand and a plain
// exists/path/load function split.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"brld/internal/brlerr"
	"brld/internal/util"
)

var printer = util.Default

// FileName is the default config file name, loaded from the current
// working directory unless an explicit path is given.
const FileName = "brld.yaml"

// Config is the daemon's full startup configuration.
type Config struct {
	Transport TransportConfig   `yaml:"transport"`
	Display   DisplayConfig     `yaml:"display"`
	Listen    ListenConfig      `yaml:"listen"`
	Auth      AuthConfig        `yaml:"auth"`
	History   HistoryConfig     `yaml:"history,omitempty"`
	Params    map[string]string `yaml:"params,omitempty"`

	RetryInterval string `yaml:"retry_interval"`
	StartTimeout  string `yaml:"start_timeout"`
	StopTimeout   string `yaml:"stop_timeout"`
}

// DisplayConfig describes the attached braille display's cell geometry.
type DisplayConfig struct {
	Rows int `yaml:"rows"`
	Cols int `yaml:"cols"`
}

// HistoryConfig points at the audit-trail database. An empty Path uses
// history.DefaultPath.
type HistoryConfig struct {
	Path string `yaml:"path,omitempty"`
}

// TransportConfig names the Device Transport endpoint to connect at
// startup.
type TransportConfig struct {
	Identifier string `yaml:"identifier"` // e.g. "serial:/dev/ttyUSB0", "virtual", "forwarded"
	BaudRate   int    `yaml:"baud_rate"`

	SSHUser           string `yaml:"ssh_user,omitempty"`
	SSHHost           string `yaml:"ssh_host,omitempty"`
	SSHPort           string `yaml:"ssh_port,omitempty"`
	SSHPrivateKeyPath string `yaml:"ssh_private_key_path,omitempty"`
	RemoteIdentifier  string `yaml:"remote_identifier,omitempty"`
}

// ListenConfig names the BrlAPI server's listen address.
type ListenConfig struct {
	Network string `yaml:"network"` // "unix" or "tcp"
	Address string `yaml:"address"`
}

// AuthConfig lists the auth schemes the server accepts, and a keyfile
// path when the keyfile scheme is in use.
type AuthConfig struct {
	Schemes    []string `yaml:"schemes"`
	KeyfilePath string  `yaml:"keyfile_path,omitempty"`
}

// Exists reports whether path (or FileName in the current directory when
// path is empty) exists.
func Exists(path string) bool {
	if path == "" {
		path = FileName
	}
	_, err := os.Stat(path)
	return !os.IsNotExist(err)
}

// Load reads, env-interpolates, and parses the config at path (FileName in
// the current directory when path is empty, falling back to FileName at the
// project root if the current directory doesn't have one — so `brld serve`
// run from a subdirectory of the project still finds it).
func Load(path string) (*Config, error) {
	if path == "" {
		path = FileName
		if !Exists(path) {
			if root, err := util.GetProjectRoot(); err == nil {
				if candidate := filepath.Join(root, FileName); Exists(candidate) {
					path = candidate
				}
			}
		}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, brlerr.Wrap(brlerr.Io, "reading config file "+path, err)
	}

	envMap, _ := loadDotEnvIfExists(filepath.Dir(path))
	rendered := interpolateEnv(string(data), envMap)

	var cfg Config
	if err := yaml.Unmarshal([]byte(rendered), &cfg); err != nil {
		return nil, brlerr.Wrap(brlerr.InvalidInput, "parsing config file "+path, err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that the minimum fields a daemon needs to start are
// present.
func Validate(cfg *Config) error {
	if cfg.Transport.Identifier == "" {
		return brlerr.New(brlerr.InvalidInput, "transport.identifier is required")
	}
	if cfg.Listen.Network == "" || cfg.Listen.Address == "" {
		return brlerr.New(brlerr.InvalidInput, "listen.network and listen.address are required")
	}
	if cfg.Display.Rows <= 0 {
		cfg.Display.Rows = 1
	}
	if cfg.Display.Cols <= 0 {
		cfg.Display.Cols = 40
	}
	switch cfg.Listen.Network {
	case "unix", "tcp":
	default:
		return brlerr.New(brlerr.InvalidInput, fmt.Sprintf("unsupported listen.network %q", cfg.Listen.Network))
	}
	for _, scheme := range cfg.Auth.Schemes {
		if scheme == "keyfile" && cfg.Auth.KeyfilePath == "" {
			return brlerr.New(brlerr.InvalidInput, "auth.keyfile_path is required when the keyfile scheme is enabled")
		}
	}
	return nil
}

func loadDotEnvIfExists(dir string) (map[string]string, error) {
	envPath := filepath.Join(dir, ".env")
	if _, err := os.Stat(envPath); os.IsNotExist(err) {
		return map[string]string{}, nil
	}
	m, err := godotenv.Read(envPath)
	if err != nil {
		printer.Printf("warning: failed to parse .env at %s: %v\n", envPath, err)
		return map[string]string{}, err
	}
	return m, nil
}

func interpolateEnv(input string, envMap map[string]string) string {
	return os.Expand(input, func(name string) string {
		if v := os.Getenv(name); v != "" {
			return v
		}
		if v, ok := envMap[name]; ok {
			return v
		}
		printer.Printf("warning: environment variable %s not set; using empty string\n", name)
		return ""
	})
}

// Package config assembles the immutable process configuration for the
// file server from defaults, a TOML or YAML file, the environment and flags.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/f4ah6o/siteserve-go/internal/resolver"
)

const (
	// DefaultRoot is the assets directory served when none is configured.
	DefaultRoot = "public"
	// DefaultIndexFile is served for the root path.
	DefaultIndexFile = "index.html"
	// DefaultAddr matches the usual development server address.
	DefaultAddr = "127.0.0.1:5000"
	// DefaultShutdownTimeout bounds how long in-flight requests may run after
	// a shutdown signal.
	DefaultShutdownTimeout = 10 * time.Second
)

// Environment variable names read by ApplyEnv.
const (
	EnvRoot            = "SITESERVE_ROOT"
	EnvIndexFile       = "SITESERVE_INDEX_FILE"
	EnvAddr            = "SITESERVE_ADDR"
	EnvDebug           = "SITESERVE_DEBUG"
	EnvShutdownTimeout = "SITESERVE_SHUTDOWN_TIMEOUT"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Config holds process-wide settings. It is passed by value and never
// mutated once the server starts.
type Config struct {
	// Root is the directory below which all servable files reside.
	Root string `toml:"root" yaml:"root"`
	// IndexFile is the file name served for "/". It must not contain
	// path separators.
	IndexFile string `toml:"index_file" yaml:"index_file"`
	// Addr is the TCP listen address (host:port).
	Addr string `toml:"addr" yaml:"addr"`
	// Debug enables per-request logging.
	Debug bool `toml:"debug" yaml:"debug"`
	// ShutdownTimeout is how long graceful shutdown waits for open requests.
	ShutdownTimeout time.Duration `toml:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Root:            DefaultRoot,
		IndexFile:       DefaultIndexFile,
		Addr:            DefaultAddr,
		ShutdownTimeout: DefaultShutdownTimeout,
	}
}

// LoadFile overlays the settings in path onto base. The format is chosen by
// extension: .toml, .yaml or .yml. Keys not known to Config are rejected.
func LoadFile(base Config, path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return base, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg := base
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		md, err := toml.Decode(string(data), &cfg)
		if err != nil {
			return base, fmt.Errorf("parse %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return base, fmt.Errorf("%w: %s: unknown key %q", ErrInvalid, path, undecoded[0].String())
		}
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		// 空ファイルは io.EOF になるが、設定なしとして扱う
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return base, fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		return base, fmt.Errorf("%w: unsupported config format %q", ErrInvalid, ext)
	}
	return cfg, nil
}

// LoadDotenv loads variables from a dotenv file into the process
// environment. Variables that are already set keep their value, and a missing
// file is not an error.
func LoadDotenv(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overlays SITESERVE_* variables onto base. lookup is usually
// os.LookupEnv.
func ApplyEnv(base Config, lookup func(string) (string, bool)) (Config, error) {
	cfg := base
	if v, ok := lookup(EnvRoot); ok {
		cfg.Root = v
	}
	if v, ok := lookup(EnvIndexFile); ok {
		cfg.IndexFile = v
	}
	if v, ok := lookup(EnvAddr); ok {
		cfg.Addr = v
	}
	if v, ok := lookup(EnvDebug); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return base, fmt.Errorf("%w: %s=%q: %v", ErrInvalid, EnvDebug, v, err)
		}
		cfg.Debug = b
	}
	if v, ok := lookup(EnvShutdownTimeout); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return base, fmt.Errorf("%w: %s=%q: %v", ErrInvalid, EnvShutdownTimeout, v, err)
		}
		cfg.ShutdownTimeout = d
	}
	return cfg, nil
}

// Validate checks c and returns a copy whose Root is canonical.
// Every returned error wraps ErrInvalid.
func (c Config) Validate() (Config, error) {
	if c.Root == "" {
		return c, fmt.Errorf("%w: root directory is empty", ErrInvalid)
	}
	root, err := resolver.Canonicalize(c.Root)
	if err != nil {
		return c, fmt.Errorf("%w: root directory: %v", ErrInvalid, err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return c, fmt.Errorf("%w: root directory: %v", ErrInvalid, err)
	}
	if !info.IsDir() {
		return c, fmt.Errorf("%w: %s is not a directory", ErrInvalid, root)
	}

	switch {
	case c.IndexFile == "", c.IndexFile == ".", c.IndexFile == "..":
		return c, fmt.Errorf("%w: index file %q is not a file name", ErrInvalid, c.IndexFile)
	case strings.ContainsAny(c.IndexFile, `/\`):
		return c, fmt.Errorf("%w: index file %q must not contain path separators", ErrInvalid, c.IndexFile)
	}

	if c.Addr == "" {
		return c, fmt.Errorf("%w: listen address is empty", ErrInvalid)
	}
	if c.ShutdownTimeout < 0 {
		return c, fmt.Errorf("%w: negative shutdown timeout %v", ErrInvalid, c.ShutdownTimeout)
	}

	out := c
	out.Root = root
	return out, nil
}

// ExposesWorkingDir reports whether the (validated) root is the current
// working directory or one of its ancestors, so every file next to the
// process is servable.
func (c Config) ExposesWorkingDir() bool {
	wd, err := os.Getwd()
	if err != nil {
		return false
	}
	wd, err = resolver.Canonicalize(wd)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(c.Root, wd)
	if err != nil || filepath.IsAbs(rel) {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

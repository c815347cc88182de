package server

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/docker/go-units"

	"github.com/janelia-flyem/planar/format"
	"github.com/janelia-flyem/planar/planar"
	"github.com/janelia-flyem/planar/storage"
	"github.com/janelia-flyem/planar/zarr"
)

const (
	// DefaultWebAddress is the default address of the planar web server.
	DefaultWebAddress = "localhost:8000"

	// DefaultChunkCacheSize is used when [cache] chunk_size is unset.
	DefaultChunkCacheSize = "256MB"

	// DefaultMaxPinned is used when [cache] max_pinned is unset.
	DefaultMaxPinned = 64
)

// DefaultHost is the default most understandable alias for this server.
var DefaultHost = "localhost"

func init() {
	host, err := os.Hostname()
	if err != nil {
		planar.Errorf("Unable to get default Host name: %v\n", err)
		planar.Errorf("Using 'localhost' as default Host name.\n")
		return
	}
	DefaultHost = host
}

// Config is the parsed TOML configuration.
type Config struct {
	Server     serverConfig
	Logging    planar.LogConfig
	Cache      cacheConfig
	Readers    readersConfig
	Memo       memoConfig
	Kafka      KafkaConfig
	Bioformats bioformatsConfig

	location string
}

type serverConfig struct {
	Host        string
	HTTPAddress string   `toml:"httpAddress"`
	Note        string
	CorsDomains []string `toml:"corsDomains"`

	// TempDir holds downloaded copies of remote resources.
	TempDir string `toml:"temp_dir"`

	// ShutdownDelay is the number of seconds allowed for requests to finish on shutdown.
	ShutdownDelay int `toml:"shutdown_delay"`
}

type cacheConfig struct {
	// ChunkSize is a human readable size like "512MB" for raw chunk caching.  "0"
	// disables the chunk cache.
	ChunkSize string `toml:"chunk_size"`

	// MetaEntries is the number of parsed metadata documents kept per store.
	MetaEntries int `toml:"meta_entries"`

	// Concurrency bounds parallel chunk fetches per read.
	Concurrency int

	// MaxPinned is the number of least recently used readers the server keeps open
	// between requests.  0 keeps every reader open until the cache is cleared.
	MaxPinned int `toml:"max_pinned"`
}

type readersConfig struct {
	Disabled  []string
	AllowOpen bool `toml:"allow_open"`
}

type memoConfig struct {
	// Path of the badger directory.  Empty keeps the memo in memory.
	Path    string
	Disable bool
}

type bioformatsConfig struct {
	Endpoint    string
	TimeoutSecs int `toml:"timeout_secs"`
}

// DefaultConfig returns the configuration used when no TOML file is given.
func DefaultConfig() *Config {
	return &Config{
		Server: serverConfig{HTTPAddress: DefaultWebAddress, ShutdownDelay: 5},
		Cache:  cacheConfig{ChunkSize: DefaultChunkCacheSize, MaxPinned: DefaultMaxPinned},
	}
}

// LoadConfig loads server configuration from a TOML file.
func LoadConfig(filename string) (*Config, error) {
	if filename == "" {
		return nil, fmt.Errorf("no server TOML configuration file provided")
	}
	c := DefaultConfig()
	if _, err := toml.DecodeFile(filename, c); err != nil {
		return nil, fmt.Errorf("could not decode TOML config: %v", err)
	}
	c.location = filename
	if err := c.convertPathsToAbsolute(filename); err != nil {
		return nil, fmt.Errorf("could not convert relative paths to absolute paths in TOML config: %v", err)
	}
	planar.Infof("Loaded configuration from %s\n", filename)
	return c, nil
}

// Some settings in the TOML can be given as relative paths.
// This function converts them in-place to absolute paths,
// assuming the given paths were relative to the TOML file's own directory.
func (c *Config) convertPathsToAbsolute(configPath string) error {
	var err error
	configDir := filepath.Dir(configPath)

	// [logging].logfile
	if c.Logging.Logfile != "" {
		c.Logging.Logfile, err = planar.ConvertToAbsolute(c.Logging.Logfile, configDir)
		if err != nil {
			return fmt.Errorf("error converting logfile setting to absolute path")
		}
	}

	// [memo].path
	if c.Memo.Path != "" {
		c.Memo.Path, err = planar.ConvertToAbsolute(c.Memo.Path, configDir)
		if err != nil {
			return fmt.Errorf("error converting memo path to absolute path")
		}
	}

	// [server].temp_dir
	if c.Server.TempDir != "" {
		c.Server.TempDir, err = planar.ConvertToAbsolute(c.Server.TempDir, configDir)
		if err != nil {
			return fmt.Errorf("error converting temp_dir setting to absolute path")
		}
	}
	return nil
}

// Location returns the TOML file the configuration was loaded from, if any.
func (c *Config) Location() string {
	return c.location
}

// WebServer returns the configured host name or, if not specified, the detected host
// name plus the port of the web server.
func (c *Config) WebServer() string {
	if c.Server.Host != "" {
		return c.Server.Host
	}
	parts := strings.Split(c.Server.HTTPAddress, ":")
	if len(parts) > 1 {
		return DefaultHost + ":" + parts[len(parts)-1]
	}
	return DefaultHost
}

// ChunkCacheBytes parses [cache] chunk_size.
func (c *Config) ChunkCacheBytes() (int64, error) {
	s := c.Cache.ChunkSize
	if s == "" || s == "0" {
		return 0, nil
	}
	n, err := units.RAMInBytes(s)
	if err != nil {
		return 0, fmt.Errorf("bad [cache] chunk_size %q: %v", s, err)
	}
	return n, nil
}

// Formats returns the builtin reader configuration.
func (c *Config) Formats() (format.Config, error) {
	chunkBytes, err := c.ChunkCacheBytes()
	if err != nil {
		return format.Config{}, err
	}
	return format.Config{
		Disabled:   c.Readers.Disabled,
		Downloader: &storage.Downloader{Dir: c.Server.TempDir},
		Store: zarr.Options{
			Chunks:      storage.NewChunkCache(int(chunkBytes)),
			MetaEntries: c.Cache.MetaEntries,
			Concurrency: c.Cache.Concurrency,
		},
		BioformatsEndpoint: c.Bioformats.Endpoint,
		BioformatsTimeout:  time.Duration(c.Bioformats.TimeoutSecs) * time.Second,
	}, nil
}

package backend

import (
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"

	"github.com/joeandaverde/heapdb/internal/pager"
	"github.com/joeandaverde/heapdb/internal/storage"
)

// Config describes the configuration for the database
type Config struct {
	DataDir     string       `yaml:"data_directory"`
	PageSize    int          `yaml:"page_size"`
	MaxFileSize int          `yaml:"max_file_size"`
	BufferCount int          `yaml:"buffer_count"`
	Policy      pager.Policy `yaml:"replacement_policy"`
	LogLevel    logrus.Level `yaml:"log_level"`
}

func DefaultConfig() Config {
	return Config{
		DataDir:     ".",
		PageSize:    4096,
		MaxFileSize: 3 * 4096,
		BufferCount: 4,
		Policy:      pager.LRU,
		LogLevel:    logrus.InfoLevel,
	}
}

// LoadConfig decodes the YAML file at path over the defaults.
func LoadConfig(path string) (Config, error) {
	config := DefaultConfig()

	configFile, err := os.Open(path)
	if err != nil {
		return config, errors.Wrap(err, "open config file")
	}
	defer configFile.Close()

	if err := yaml.NewDecoder(configFile).Decode(&config); err != nil && err != io.EOF {
		return config, errors.Wrapf(err, "parse config file %s", path)
	}

	return config, config.Validate()
}

func (c Config) Validate() error {
	if c.DataDir == "" {
		return errors.New("data_directory must be set")
	}
	if c.PageSize < 64 {
		return errors.Errorf("page_size must be at least 64, got %d", c.PageSize)
	}
	if c.MaxFileSize < c.PageSize || c.MaxFileSize%c.PageSize != 0 {
		return errors.Errorf("max_file_size %d must be a positive multiple of page_size %d", c.MaxFileSize, c.PageSize)
	}
	if c.BufferCount < 1 {
		return errors.Errorf("buffer_count must be at least 1, got %d", c.BufferCount)
	}
	if c.Policy != pager.LRU && c.Policy != pager.MRU {
		return errors.Errorf("unknown replacement_policy %s", c.Policy)
	}
	return nil
}

func (c Config) storageOptions() storage.Options {
	return storage.Options{
		Dir:         c.DataDir,
		PageSize:    c.PageSize,
		MaxFileSize: c.MaxFileSize,
	}
}

// Package config reads and writes the driver's persisted run
// configuration: `KEY=value` lines, where a multi-valued field's value
// blob is a NUL-joined list of items (e.g. multiple DIRECTORIES entries).
//
// This format matches no config library in the example corpus (it is
// neither INI, YAML, nor a flag set) so it is read and written with
// bufio/strings directly.
package config

import (
	"bufio"
	"os"
	"strconv"
	"strings"

	bkerrors "EzBackup-NG/internal/errors"
)

// Known keys in the persisted config file.
const (
	KeyDirectories     = "DIRECTORIES"
	KeyExclude         = "EXCLUDE"
	KeyHashAlgorithm   = "HASH_ALGORITHM"
	KeyEncAlgorithm    = "ENC_ALGORITHM"
	KeyCompressorType  = "C_TYPE"
	KeyCompressorLevel = "C_LEVEL"
	KeyOutputDirectory = "OUTPUT_DIRECTORY"
	KeyFlags           = "FLAGS"

	// keyManifestSorted records whether this run's /checksums member is
	// known to be in sorted order. A run that degraded to appending the
	// unsorted manifest (driver step 8) persists "false" here so the next
	// run knows to re-sort before using ManifestLookup against it.
	keyManifestSorted = "MANIFEST_SORTED"
)

const multiValueSep = "\x00"

// Config is the parsed key/value set persisted between runs.
type Config struct {
	values map[string]string
}

// New returns an empty Config.
func New() *Config {
	return &Config{values: make(map[string]string)}
}

// Load reads a config file from path. A missing file is not an error; it
// returns an empty Config, since the first run has no prior config.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return New(), nil
	}
	if err != nil {
		return nil, bkerrors.NewFileError("open", path, bkerrors.ErrIOIn)
	}
	defer f.Close()

	c := New()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		key, value, found := strings.Cut(line, "=")
		if !found {
			return nil, bkerrors.NewFileError("parse", path, bkerrors.ErrInvalidFormat)
		}
		c.values[key] = value
	}
	if err := sc.Err(); err != nil {
		return nil, bkerrors.NewFileError("read", path, bkerrors.ErrIOIn)
	}
	return c, nil
}

// Save writes the config to path, overwriting any existing file.
func (c *Config) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return bkerrors.NewFileError("create", path, bkerrors.ErrIOOut)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for key, value := range c.values {
		if _, err := w.WriteString(key + "=" + value + "\n"); err != nil {
			return bkerrors.NewFileError("write", path, bkerrors.ErrIOOut)
		}
	}
	if err := w.Flush(); err != nil {
		return bkerrors.NewFileError("write", path, bkerrors.ErrIOOut)
	}
	return nil
}

// Set stores a single-valued field.
func (c *Config) Set(key, value string) {
	c.values[key] = value
}

// Get returns a single-valued field, or "" if absent.
func (c *Config) Get(key string) string {
	return c.values[key]
}

// SetMulti stores a multi-valued field as a NUL-joined blob.
func (c *Config) SetMulti(key string, items []string) {
	c.values[key] = strings.Join(items, multiValueSep)
}

// GetMulti splits a multi-valued field back into its items. Returns nil
// if the key is absent or empty.
func (c *Config) GetMulti(key string) []string {
	v := c.values[key]
	if v == "" {
		return nil
	}
	return strings.Split(v, multiValueSep)
}

// SetManifestSorted records whether the previous run's manifest member is
// known sorted.
func (c *Config) SetManifestSorted(sorted bool) {
	c.values[keyManifestSorted] = strconv.FormatBool(sorted)
}

// ManifestSorted reports whether the previous run's manifest is known
// sorted. Defaults to true when the key is absent, matching the
// steady-state case where every run sorts successfully.
func (c *Config) ManifestSorted() bool {
	v, ok := c.values[keyManifestSorted]
	if !ok {
		return true
	}
	sorted, err := strconv.ParseBool(v)
	if err != nil {
		return true
	}
	return sorted
}

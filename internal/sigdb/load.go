package sigdb

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"example.com/sigrx/internal/common"
)

// Format is a document encoding.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// FormatOf picks the format from a file extension.
func FormatOf(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".toml":
		return FormatTOML, nil
	}
	return "", fmt.Errorf("%w: %s", ErrFormat, path)
}

// Parse decodes and validates a document.
func Parse(data []byte, format Format) (*Database, error) {
	var file File
	switch format {
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&file); err != nil {
			return nil, fmt.Errorf("decode yaml: %w", err)
		}
	case FormatTOML:
		md, err := toml.Decode(string(data), &file)
		if err != nil {
			return nil, fmt.Errorf("decode toml: %w", err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("decode toml: unknown key %s", undecoded[0])
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrFormat, format)
	}
	db, err := FromFile(file)
	if err != nil {
		return nil, err
	}
	h := common.NewHasher()
	h.Write(data)
	db.Digest = h.Sum()
	return db, nil
}

// Load reads a database file; the format follows its extension.
func Load(path string) (*Database, error) {
	format, err := FormatOf(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	db, err := Parse(data, format)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if db.Name == "" {
		db.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return db, nil
}

// EnsureLoaded is Load with a readable error for empty or directory paths.
func EnsureLoaded(path string) (*Database, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("empty signal database path")
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("signal database path %s is a directory", path)
	}
	return Load(path)
}

// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

// Package config loads the §6 configuration surface: store-dir,
// search-dirs, this-system, max-jobs, and read-only-mode.
package config

import (
	"errors"
	"fmt"
	"iter"
	"os"
	"path/filepath"

	jsonv2 "github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"
	"github.com/tailscale/hujson"
)

// Config holds the recognized configuration keys of §6.
type Config struct {
	StoreDir     string   `json:"store-dir"`
	SearchDirs   []string `json:"search-dirs"`
	ThisSystem   string   `json:"this-system"`
	MaxJobs      int      `json:"max-jobs"`
	ReadOnlyMode bool     `json:"read-only-mode"`
}

// Default returns the configuration a CLI should start from before merging
// files and the environment.
func Default() *Config {
	return &Config{
		StoreDir:   defaultStoreDir(),
		ThisSystem: defaultSystem(),
		MaxJobs:    1,
	}
}

func defaultStoreDir() string {
	return filepath.Join(string(filepath.Separator), "fix", "store")
}

// mergeEnvironment overrides fields with any FIX_* environment variables
// present, the way the teacher's globalConfig.mergeEnvironment consults
// ZB_STORE_DIR and ZB_STORE_SOCKET.
func (c *Config) mergeEnvironment() error {
	if dir := os.Getenv("FIX_STORE_DIR"); dir != "" {
		if !filepath.IsAbs(dir) {
			return fmt.Errorf("FIX_STORE_DIR %q is not absolute", dir)
		}
		c.StoreDir = dir
	}
	if system := os.Getenv("FIX_SYSTEM"); system != "" {
		c.ThisSystem = system
	}
	return nil
}

// MergeFiles reads each HuJSON configuration file in paths that exists,
// standardizing it to JSON and merging it into c in order, the way the
// teacher's globalConfig.mergeFiles does for cmd/zb's config chain.
func (c *Config) MergeFiles(paths iter.Seq[string]) error {
	for path := range paths {
		huJSONData, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return err
		}
		jsonData, err := hujson.Standardize(huJSONData)
		if err != nil {
			return fmt.Errorf("read %s: %v", path, err)
		}
		if err := jsonv2.Unmarshal(jsonData, c, jsonv2.RejectUnknownMembers(false)); err != nil {
			return fmt.Errorf("read %s: %v", path, err)
		}
	}
	return nil
}

// Load builds a Config from defaults, the given HuJSON config files (in
// order, later files overriding earlier ones), and environment overrides.
func Load(paths iter.Seq[string]) (*Config, error) {
	c := Default()
	if err := c.MergeFiles(paths); err != nil {
		return nil, err
	}
	if err := c.mergeEnvironment(); err != nil {
		return nil, err
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// UnmarshalJSONFrom implements a merging unmarshal the way
// globalConfig.UnmarshalJSONFrom does: a field absent from the JSON object
// leaves the existing value untouched instead of zeroing it.
func (c *Config) UnmarshalJSONFrom(in *jsontext.Decoder) error {
	tok, err := in.ReadToken()
	if err != nil {
		return err
	}
	if got := tok.Kind(); got != '{' {
		return fmt.Errorf("config must be an object not a %v", got)
	}

	for {
		keyToken, err := in.ReadToken()
		if err != nil {
			return err
		}
		switch kind := keyToken.Kind(); kind {
		case '}':
			return nil
		case '"':
		default:
			return fmt.Errorf("unexpected non-string key (%v) in object", kind)
		}

		switch k := keyToken.String(); k {
		case "store-dir":
			if err := jsonv2.UnmarshalDecode(in, &c.StoreDir); err != nil {
				return fmt.Errorf("unmarshal config.store-dir: %w", err)
			}
		case "search-dirs":
			newDirs := c.SearchDirs[len(c.SearchDirs):]
			if err := jsonv2.UnmarshalDecode(in, &newDirs); err != nil {
				return fmt.Errorf("unmarshal config.search-dirs: %w", err)
			}
			c.SearchDirs = append(c.SearchDirs, newDirs...)
		case "this-system":
			if err := jsonv2.UnmarshalDecode(in, &c.ThisSystem); err != nil {
				return fmt.Errorf("unmarshal config.this-system: %w", err)
			}
		case "max-jobs":
			if err := jsonv2.UnmarshalDecode(in, &c.MaxJobs); err != nil {
				return fmt.Errorf("unmarshal config.max-jobs: %w", err)
			}
		case "read-only-mode":
			if err := jsonv2.UnmarshalDecode(in, &c.ReadOnlyMode); err != nil {
				return fmt.Errorf("unmarshal config.read-only-mode: %w", err)
			}
		default:
			if reject, _ := jsonv2.GetOption(in.Options(), jsonv2.RejectUnknownMembers); reject {
				return fmt.Errorf("unmarshal config: unknown field %q", k)
			}
		}
	}
}

func (c *Config) validate() error {
	if !filepath.IsAbs(c.StoreDir) {
		return fmt.Errorf("store-dir %q is not absolute", c.StoreDir)
	}
	if c.ThisSystem == "" {
		return errors.New("this-system not set")
	}
	if c.MaxJobs < 1 {
		return fmt.Errorf("max-jobs must be at least 1, got %d", c.MaxJobs)
	}
	return nil
}

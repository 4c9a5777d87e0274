// Package config loads optional YAML run profiles for mcprune. A profile is
// validated against an embedded JSON schema before it is decoded.
package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

// TicksPerSecond is the game's fixed simulation rate.
const TicksPerSecond = 20

// DefaultInhabitedUnder is one minute of presence.
const DefaultInhabitedUnder = "1200"

//go:embed profile.schema.json
var schemaJSON []byte

type Profile struct {
	Dimension       string  `yaml:"dimension"`
	InhabitedUnder  string  `yaml:"inhabited_under"`
	Buffer          float64 `yaml:"buffer"`
	Workers         int     `yaml:"workers"`
	DryRun          bool    `yaml:"dry_run"`
	Backup          Backup  `yaml:"backup"`
	HistoryDB       string  `yaml:"history_db"`
	Journal         Journal `yaml:"journal"`
	MetricsTextfile string  `yaml:"metrics_textfile"`
	S3              *S3     `yaml:"s3"`
}

type Backup struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
}

type Journal struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
}

// S3 names the bucket backups are mirrored to. Credentials come from the
// environment, never from the profile.
type S3 struct {
	Endpoint string `yaml:"endpoint"`
	Bucket   string `yaml:"bucket"`
	Prefix   string `yaml:"prefix"`
	Secure   bool   `yaml:"secure"`
}

func Default() Profile {
	return Profile{
		Dimension:      "overworld",
		InhabitedUnder: DefaultInhabitedUnder,
	}
}

// Load reads the profile at path. Fields the file leaves out keep their
// Default values.
func Load(path string) (Profile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Profile{}, err
	}
	p, err := Parse(raw)
	if err != nil {
		return Profile{}, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return p, nil
}

func Parse(raw []byte) (Profile, error) {
	if err := validate(raw); err != nil {
		return Profile{}, err
	}
	p := Default()
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return Profile{}, err
	}
	if _, err := ParseThreshold(p.InhabitedUnder); err != nil {
		return Profile{}, err
	}
	return p, nil
}

func validate(raw []byte) error {
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return err
	}
	if doc == nil {
		return nil
	}
	// The validator wants plain JSON values.
	b, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("profile is not a JSON-compatible document: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return err
	}

	s, err := compileSchema()
	if err != nil {
		return err
	}
	if err := s.Validate(v); err != nil {
		return fmt.Errorf("invalid profile: %w", err)
	}
	return nil
}

func compileSchema() (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	if err := c.AddResource("profile.schema.json", bytes.NewReader(schemaJSON)); err != nil {
		return nil, err
	}
	return c.Compile("profile.schema.json")
}

// ParseThreshold accepts either a plain tick count ("72000") or a Go
// duration ("1h", "90m") converted at TicksPerSecond.
func ParseThreshold(s string) (uint64, error) {
	if s == "" {
		return 0, fmt.Errorf("empty inhabited time")
	}
	if n, err := strconv.ParseUint(s, 10, 64); err == nil {
		return n, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("inhabited time %q: want ticks or a duration like 30m", s)
	}
	if d < 0 {
		return 0, fmt.Errorf("inhabited time %q is negative", s)
	}
	return uint64(d / (time.Second / TicksPerSecond)), nil
}

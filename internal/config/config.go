// Package config loads the static instance catalog and runtime settings.
//
// Instances describe the managed database servers requesters may target.
// They are owned by configuration: the execution core reads them and never
// mutates them. Credentials may be omitted here and resolved from the
// environment at connection time.
package config

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// Backend identifies a database engine category.
type Backend string

const (
	// BackendPostgres is the relational engine.
	BackendPostgres Backend = "postgres"
	// BackendMongo is the document-store engine.
	BackendMongo Backend = "mongodb"
)

// Valid reports whether b is a known backend.
func (b Backend) Valid() bool {
	return b == BackendPostgres || b == BackendMongo
}

// Instance describes one managed database server.
type Instance struct {
	ID      string  `yaml:"id"`
	Name    string  `yaml:"name"`
	Backend Backend `yaml:"backend"`

	// Connection parameters. Mongo instances may provide a full URI
	// instead of host/port.
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	URI  string `yaml:"uri"`

	// Optional explicit credentials. When empty the pool falls back to
	// environment variables namespaced by the instance ID.
	User     string `yaml:"user"`
	Password string `yaml:"password"`

	// Databases accessible through this instance.
	Databases []string `yaml:"databases"`
}

// HasDatabase reports whether the instance exposes the named database.
func (i *Instance) HasDatabase(name string) bool {
	for _, db := range i.Databases {
		if db == name {
			return true
		}
	}
	return false
}

// Config is the loaded instance catalog.
type Config struct {
	Instances []Instance `yaml:"instances"`
}

// Load reads and validates the instance catalog from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	seen := make(map[string]bool)
	for i := range c.Instances {
		inst := &c.Instances[i]
		if inst.ID == "" {
			return fmt.Errorf("instance %d: id is required", i)
		}
		if seen[inst.ID] {
			return fmt.Errorf("duplicate instance id: %s", inst.ID)
		}
		seen[inst.ID] = true

		if !inst.Backend.Valid() {
			return fmt.Errorf("instance %s: unknown backend %q", inst.ID, inst.Backend)
		}
		if inst.Backend == BackendPostgres && inst.Host == "" {
			return fmt.Errorf("instance %s: postgres instances require a host", inst.ID)
		}
		if inst.Backend == BackendMongo && inst.URI == "" && (inst.Host == "" || inst.Port == 0) {
			return fmt.Errorf("instance %s: mongodb instances require a uri or host and port", inst.ID)
		}
	}
	return nil
}

// Instance returns the instance with the given ID.
func (c *Config) Instance(id string) (*Instance, bool) {
	for i := range c.Instances {
		if c.Instances[i].ID == id {
			return &c.Instances[i], true
		}
	}
	return nil, false
}

// Store holds the current catalog and supports atomic reloads.
type Store struct {
	mu   sync.RWMutex
	path string
	cfg  *Config
}

// NewStore loads the catalog from path and returns a reloadable store.
func NewStore(path string) (*Store, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	return &Store{path: path, cfg: cfg}, nil
}

// Current returns the catalog as of the last successful load.
func (s *Store) Current() *Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Instance returns an instance from the current catalog.
func (s *Store) Instance(id string) (*Instance, bool) {
	return s.Current().Instance(id)
}

// Path returns the file the store was loaded from.
func (s *Store) Path() string {
	return s.path
}

// Reload re-reads the catalog from disk. On failure the previous catalog
// stays active.
func (s *Store) Reload() error {
	cfg, err := Load(s.path)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
	return nil
}

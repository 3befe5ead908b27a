// Package grantstore persists permission decisions. The file-backed
// store keeps one YAML document per host, keyed by plugin subject.
package grantstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/wasmcmd-dev/wasmcmd/domain/entities"
	"github.com/wasmcmd-dev/wasmcmd/domain/ports"
)

// fileStoreConfig holds configuration for the FileStore.
type fileStoreConfig struct {
	path     string      // Path to the grants file
	dirPerm  os.FileMode // Permission for created directories
	filePerm os.FileMode // Permission for the grants file
}

func defaultFileStoreConfig() fileStoreConfig {
	return fileStoreConfig{
		path:     filepath.Join(os.Getenv("HOME"), ".wasmcmd", "grants.yaml"),
		dirPerm:  0o755, // User config directory
		filePerm: 0o600, // User-only read/write
	}
}

// FileStoreOption configures a FileStore instance.
type FileStoreOption func(*fileStoreConfig)

// WithPath sets the path to the grants file.
func WithPath(path string) FileStoreOption {
	return func(c *fileStoreConfig) {
		c.path = path
	}
}

// WithFilePermissions sets the file permissions for the grants file.
// Default is 0o600 (user-only). Use with caution.
func WithFilePermissions(perm os.FileMode) FileStoreOption {
	return func(c *fileStoreConfig) {
		c.filePerm = perm
	}
}

// WithDirPermissions sets the directory permissions for the grants
// directory. Default is 0o755.
func WithDirPermissions(perm os.FileMode) FileStoreOption {
	return func(c *fileStoreConfig) {
		c.dirPerm = perm
	}
}

// grantFile is the on-disk document.
type grantFile struct {
	Subjects map[string]*subjectGrants `yaml:"subjects"`
}

type subjectGrants struct {
	CapabilitiesHash string          `yaml:"capabilities_hash,omitempty"`
	Decisions        []storedDecision `yaml:"decisions,omitempty"`
}

type storedDecision struct {
	Kind      string `yaml:"kind"`
	Pattern   string `yaml:"pattern"`
	Verdict   string `yaml:"verdict"`
	DecidedAt string `yaml:"decided_at,omitempty"`
}

// FileStore provides YAML file-based persistence for permission
// decisions. Only persistent-scope decisions may be stored; callers
// hold session grants in memory.
type FileStore struct {
	config fileStoreConfig

	mu     sync.Mutex
	loaded bool
	doc    grantFile
}

// NewFileStore creates a new FileStore with the given options.
func NewFileStore(opts ...FileStoreOption) *FileStore {
	cfg := defaultFileStoreConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &FileStore{config: cfg}
}

var _ ports.GrantStore = (*FileStore)(nil)

// ConfigPath returns the path to the backing store.
func (s *FileStore) ConfigPath() string {
	return s.config.path
}

func (s *FileStore) ensureLoaded() error {
	if s.loaded {
		return nil
	}
	data, err := os.ReadFile(s.config.path)
	if os.IsNotExist(err) {
		s.doc = grantFile{Subjects: map[string]*subjectGrants{}}
		s.loaded = true
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read grant store: %w", err)
	}
	var doc grantFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to parse grant store: %w", err)
	}
	if doc.Subjects == nil {
		doc.Subjects = map[string]*subjectGrants{}
	}
	s.doc = doc
	s.loaded = true
	return nil
}

func (s *FileStore) save() error {
	data, err := yaml.Marshal(&s.doc)
	if err != nil {
		return fmt.Errorf("failed to marshal grants: %w", err)
	}
	dir := filepath.Dir(s.config.path)
	if err := os.MkdirAll(dir, s.config.dirPerm); err != nil {
		return fmt.Errorf("failed to create grant store directory: %w", err)
	}
	if err := os.WriteFile(s.config.path, data, s.config.filePerm); err != nil {
		return fmt.Errorf("failed to write grant store: %w", err)
	}
	return nil
}

// Get returns the stored decision for the exact key.
func (s *FileStore) Get(_ context.Context, key entities.DecisionKey) (entities.Decision, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(); err != nil {
		return entities.Decision{}, false, err
	}
	sg, ok := s.doc.Subjects[key.Subject]
	if !ok {
		return entities.Decision{}, false, nil
	}
	for _, d := range sg.Decisions {
		if d.Kind == string(key.Kind) && d.Pattern == key.Pattern {
			return entities.Decision{
				Subject: key.Subject,
				Kind:    key.Kind,
				Pattern: key.Pattern,
				Verdict: entities.Verdict(d.Verdict),
				Scope:   entities.ScopePersistent,
			}, true, nil
		}
	}
	return entities.Decision{}, false, nil
}

// Put records a persistent decision. Session-scoped decisions are
// rejected; they belong to the caller's in-memory state.
func (s *FileStore) Put(_ context.Context, decision entities.Decision) error {
	if decision.Scope != entities.ScopePersistent {
		return fmt.Errorf("grant store only accepts persistent decisions, got %q", decision.Scope)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(); err != nil {
		return err
	}
	sg := s.doc.Subjects[decision.Subject]
	if sg == nil {
		sg = &subjectGrants{}
		s.doc.Subjects[decision.Subject] = sg
	}
	stored := storedDecision{
		Kind:    string(decision.Kind),
		Pattern: decision.Pattern,
		Verdict: string(decision.Verdict),
	}
	if !decision.DecidedAt.IsZero() {
		stored.DecidedAt = decision.DecidedAt.UTC().Format("2006-01-02T15:04:05Z07:00")
	}
	for i, d := range sg.Decisions {
		if d.Kind == stored.Kind && d.Pattern == stored.Pattern {
			sg.Decisions[i] = stored
			return s.save()
		}
	}
	sg.Decisions = append(sg.Decisions, stored)
	return s.save()
}

// SubjectHash returns the capability-set hash last seen for subject.
func (s *FileStore) SubjectHash(_ context.Context, subject string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(); err != nil {
		return "", false, err
	}
	sg, ok := s.doc.Subjects[subject]
	if !ok || sg.CapabilitiesHash == "" {
		return "", false, nil
	}
	return sg.CapabilitiesHash, true, nil
}

// SetSubjectHash records the capability-set hash for subject.
func (s *FileStore) SetSubjectHash(_ context.Context, subject, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(); err != nil {
		return err
	}
	sg := s.doc.Subjects[subject]
	if sg == nil {
		sg = &subjectGrants{}
		s.doc.Subjects[subject] = sg
	}
	sg.CapabilitiesHash = hash
	return s.save()
}

// DropSubject removes all state for subject.
func (s *FileStore) DropSubject(_ context.Context, subject string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(); err != nil {
		return err
	}
	if _, ok := s.doc.Subjects[subject]; !ok {
		return nil
	}
	delete(s.doc.Subjects, subject)
	return s.save()
}

// List returns every stored decision.
func (s *FileStore) List(_ context.Context) ([]entities.Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(); err != nil {
		return nil, err
	}
	var out []entities.Decision
	for subject, sg := range s.doc.Subjects {
		for _, d := range sg.Decisions {
			out = append(out, entities.Decision{
				Subject: subject,
				Kind:    entities.CapabilityKind(d.Kind),
				Pattern: d.Pattern,
				Verdict: entities.Verdict(d.Verdict),
				Scope:   entities.ScopePersistent,
			})
		}
	}
	return out, nil
}

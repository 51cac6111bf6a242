package checkpoint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// ManifestName is the file written into the output directory.
const ManifestName = "manifest.yaml"

// Manifest records a run in a YAML file beside its chunk files, so a
// downstream loader can see which files belong to which entry.
type Manifest struct {
	path string
	mu   sync.Mutex
	data *manifestData
}

type manifestData struct {
	RunID       string          `yaml:"run_id"`
	StartedAt   time.Time       `yaml:"started_at"`
	CompletedAt *time.Time      `yaml:"completed_at,omitempty"`
	Status      string          `yaml:"status"`
	Phase       string          `yaml:"phase"`
	Error       string          `yaml:"error,omitempty"`
	SourceType  string          `yaml:"source_type"`
	Catalog     string          `yaml:"catalog"`
	ConfigHash  string          `yaml:"config_hash,omitempty"`
	ProfileName string          `yaml:"profile_name,omitempty"`
	Rows        int64           `yaml:"rows"`
	Entries     []manifestEntry `yaml:"entries"`
}

type manifestEntry struct {
	Line       int      `yaml:"line"`
	Name       string   `yaml:"name,omitempty"`
	Status     string   `yaml:"status"`
	Rows       int64    `yaml:"rows,omitempty"`
	Documents  int64    `yaml:"documents,omitempty"`
	FailedDocs int64    `yaml:"failed_documents,omitempty"`
	Chunks     []string `yaml:"chunks,omitempty"`
	Error      string   `yaml:"error,omitempty"`
}

// NewManifest creates a manifest in dir. An existing manifest is loaded so
// ReadManifest and a later CreateRun see the same file.
func NewManifest(dir string) (*Manifest, error) {
	m := &Manifest{
		path: filepath.Join(dir, ManifestName),
		data: &manifestData{},
	}
	if _, err := os.Stat(m.path); err == nil {
		data, err := os.ReadFile(m.path)
		if err != nil {
			return nil, fmt.Errorf("reading manifest: %w", err)
		}
		if err := yaml.Unmarshal(data, m.data); err != nil {
			return nil, fmt.Errorf("parsing manifest: %w", err)
		}
	}
	return m, nil
}

// save writes the manifest through a temp file and rename.
func (m *Manifest) save() error {
	data, err := yaml.Marshal(m.data)
	if err != nil {
		return fmt.Errorf("marshaling manifest: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(m.path), 0755); err != nil {
		return fmt.Errorf("creating output dir: %w", err)
	}
	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("writing manifest: %w", err)
	}
	if err := os.Rename(tmp, m.path); err != nil {
		return fmt.Errorf("writing manifest: %w", err)
	}
	return nil
}

// CreateRun starts a fresh manifest for run r.
func (m *Manifest) CreateRun(r Run, config any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.data = &manifestData{
		RunID:       r.ID,
		StartedAt:   r.StartedAt,
		Status:      "running",
		Phase:       "init",
		SourceType:  r.SourceType,
		Catalog:     r.Catalog,
		ConfigHash:  ConfigHash(config),
		ProfileName: r.ProfileName,
	}
	return m.save()
}

// ConfigHash returns the first 8 bytes of the SHA-256 of config's JSON
// encoding, hex encoded.
func ConfigHash(config any) string {
	data, _ := json.Marshal(config)
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:8])
}

func (m *Manifest) checkRun(id string) error {
	if m.data.RunID != id {
		return fmt.Errorf("run ID mismatch: expected %s, got %s", m.data.RunID, id)
	}
	return nil
}

// UpdatePhase records the current phase.
func (m *Manifest) UpdatePhase(runID, phase string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkRun(runID); err != nil {
		return err
	}
	m.data.Phase = phase
	return m.save()
}

// RecordEntry appends one entry outcome.
func (m *Manifest) RecordEntry(e EntryRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkRun(e.RunID); err != nil {
		return err
	}
	m.data.Entries = append(m.data.Entries, manifestEntry{
		Line:       e.Line,
		Name:       e.Name,
		Status:     e.Status,
		Rows:       e.Rows,
		Documents:  e.Documents,
		FailedDocs: e.FailedDocs,
		Chunks:     e.Chunks,
		Error:      e.Error,
	})
	m.data.Rows += e.Rows
	return m.save()
}

// CompleteRun marks the run finished.
func (m *Manifest) CompleteRun(id, status string, rows int64, errorMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkRun(id); err != nil {
		return err
	}
	now := time.Now()
	m.data.Status = status
	m.data.Phase = "complete"
	m.data.CompletedAt = &now
	m.data.Rows = rows
	m.data.Error = errorMsg
	return m.save()
}

// Run returns the manifest's run, or nil when the manifest is empty.
func (m *Manifest) Run() *Run {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data.RunID == "" {
		return nil
	}
	return &Run{
		ID:          m.data.RunID,
		StartedAt:   m.data.StartedAt,
		CompletedAt: m.data.CompletedAt,
		Status:      m.data.Status,
		Phase:       m.data.Phase,
		SourceType:  m.data.SourceType,
		Catalog:     m.data.Catalog,
		OutputDir:   filepath.Dir(m.path),
		ProfileName: m.data.ProfileName,
		Rows:        m.data.Rows,
		Error:       m.data.Error,
	}
}

// Entries returns the recorded entries.
func (m *Manifest) Entries() []EntryRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]EntryRecord, len(m.data.Entries))
	for i, e := range m.data.Entries {
		out[i] = EntryRecord{
			RunID:      m.data.RunID,
			Line:       e.Line,
			Name:       e.Name,
			Status:     e.Status,
			Rows:       e.Rows,
			Chunks:     e.Chunks,
			Documents:  e.Documents,
			FailedDocs: e.FailedDocs,
			Error:      e.Error,
		}
	}
	return out
}

// Close is a no-op; every change is already on disk.
func (m *Manifest) Close() error {
	return nil
}

// Path returns the manifest file path.
func (m *Manifest) Path() string {
	return m.path
}

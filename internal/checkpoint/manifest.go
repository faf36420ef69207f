package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Kind tells base checkpoints apart from self-training iterations.
type Kind string

const (
	KindBase      Kind = "base"
	KindIteration Kind = "iteration"
)

// Metrics are the scores recorded next to a checkpoint when it was written.
type Metrics struct {
	ValLoss      float64 `json:"val_loss"`
	ValAccuracy  float64 `json:"val_accuracy"`
	TestAccuracy float64 `json:"test_accuracy"`
	Examples     int     `json:"training_examples"`
}

// Entry describes one written checkpoint.
type Entry struct {
	Name      string    `json:"name"`
	Path      string    `json:"path"`
	Kind      Kind      `json:"kind"`
	Iteration int       `json:"iteration"`
	Scheme    string    `json:"scheme,omitempty"`
	RunID     string    `json:"run_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	Metrics   Metrics   `json:"metrics"`
}

// Manifest is a JSON index of the checkpoints in a model directory. It is
// informational; the weights files themselves decide whether a step resumes.
type Manifest struct {
	mu      sync.Mutex
	path    string
	entries []Entry
}

// OpenManifest reads the manifest at path. A missing or unreadable file
// starts an empty manifest.
func OpenManifest(path string) *Manifest {
	m := &Manifest{path: path}
	if err := m.load(); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("Failed to load checkpoint manifest, starting fresh")
		m.entries = nil
	}
	return m
}

// Add records an entry and persists the manifest. An entry with the same name
// replaces the previous one.
func (m *Manifest) Add(e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	replaced := false
	for i := range m.entries {
		if m.entries[i].Name == e.Name {
			m.entries[i] = e
			replaced = true
			break
		}
	}
	if !replaced {
		m.entries = append(m.entries, e)
	}
	sort.SliceStable(m.entries, func(i, j int) bool {
		a, b := m.entries[i], m.entries[j]
		if a.Kind != b.Kind {
			return a.Kind == KindBase
		}
		if a.Scheme != b.Scheme {
			return a.Scheme < b.Scheme
		}
		return a.Iteration < b.Iteration
	})
	return m.save()
}

// List returns a copy of all entries.
func (m *Manifest) List() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Entry(nil), m.entries...)
}

// Latest returns the iteration entry with the highest index for a scheme.
func (m *Manifest) Latest(scheme string) (Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var (
		best  Entry
		found bool
	)
	for _, e := range m.entries {
		if e.Kind != KindIteration || e.Scheme != scheme {
			continue
		}
		if !found || e.Iteration > best.Iteration {
			best, found = e, true
		}
	}
	return best, found
}

func (m *Manifest) load() error {
	data, err := os.ReadFile(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if err := json.Unmarshal(data, &m.entries); err != nil {
		return fmt.Errorf("failed to parse manifest: %w", err)
	}
	return nil
}

func (m *Manifest) save() error {
	data, err := json.MarshalIndent(m.entries, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(m.path, data, 0o600)
}

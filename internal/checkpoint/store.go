// Package checkpoint manages write-once model weights in a model directory.
//
// A checkpoint that exists is never rewritten; its presence is what lets an
// interrupted run skip the work that produced it.
package checkpoint

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"lsfts/internal/common"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ErrLoad is returned when an existing checkpoint cannot be loaded.
var ErrLoad = errors.New("failed to load checkpoint")

// WeightsIO is the part of a model the store needs.
type WeightsIO interface {
	SaveWeights(path string) error
	LoadWeights(path string) error
}

// Store resolves checkpoint paths and enforces write-once semantics.
type Store struct {
	dir      string
	manifest *Manifest
}

// New opens a store rooted at dir, creating the directory if needed.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create model directory: %w", err)
	}
	return &Store{
		dir:      dir,
		manifest: OpenManifest(filepath.Join(dir, common.ManifestName)),
	}, nil
}

// Dir returns the model directory.
func (s *Store) Dir() string {
	return s.dir
}

// Manifest returns the checkpoint index.
func (s *Store) Manifest() *Manifest {
	return s.manifest
}

// BasePath is where the selected base model is kept.
func (s *Store) BasePath() string {
	return filepath.Join(s.dir, common.BaseCheckpointName)
}

// IterationPath is where the model after self-training iteration k is kept.
func (s *Store) IterationPath(k int, scheme string) string {
	return filepath.Join(s.dir, fmt.Sprintf(common.IterationCheckpointFmt, k, scheme))
}

// StagingPath is a scratch location for weights that are not checkpoints.
func (s *Store) StagingPath(name string) string {
	return filepath.Join(s.dir, "."+name+".staging")
}

// Exists reports whether a checkpoint file is present.
func (s *Store) Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Load restores weights from path into m.
func (s *Store) Load(m WeightsIO, path string) error {
	if err := m.LoadWeights(path); err != nil {
		log.Error().Err(err).Str("path", path).Msg("Failed to load checkpoint")
		return fmt.Errorf("%w %s: %w", ErrLoad, path, err)
	}
	log.Info().Str("path", path).Msg("Loaded checkpoint")
	return nil
}

// SaveOnce writes m's weights to path unless a file is already there. It
// reports whether it wrote. The weights go to a temporary file first and are
// hard-linked into place, so an existing checkpoint is never replaced even if
// two writers race.
func (s *Store) SaveOnce(m WeightsIO, path string, entry Entry) (bool, error) {
	if s.Exists(path) {
		log.Debug().Str("path", path).Msg("Checkpoint already exists, not overwriting")
		return false, nil
	}

	tmp := filepath.Join(filepath.Dir(path), fmt.Sprintf(".%s.%s.tmp", filepath.Base(path), uuid.NewString()))
	defer os.Remove(tmp)

	if err := m.SaveWeights(tmp); err != nil {
		log.Error().Err(err).Str("path", path).Msg("Failed to write checkpoint")
		return false, fmt.Errorf("failed to write checkpoint %s: %w", path, err)
	}

	if err := os.Link(tmp, path); err != nil {
		if errors.Is(err, fs.ErrExist) {
			log.Warn().Str("path", path).Msg("Checkpoint appeared while saving, keeping the existing file")
			return false, nil
		}
		// Some filesystems have no hard links.
		if s.Exists(path) {
			return false, nil
		}
		if err := os.Rename(tmp, path); err != nil {
			return false, fmt.Errorf("failed to move checkpoint into place %s: %w", path, err)
		}
	}

	entry.Name = filepath.Base(path)
	entry.Path = path
	if err := s.manifest.Add(entry); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("Failed to update checkpoint manifest")
	}
	log.Info().Str("path", path).Str("kind", string(entry.Kind)).Msg("Saved checkpoint")
	return true, nil
}

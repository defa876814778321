// Package seeder pre-provisions sessions from JSON files in a watched
// directory. Each file is validated against a schema and applied through the
// session manager's create-if-absent path, so dropping a file in the
// directory is safe to repeat and never overwrites live sessions.
package seeder

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/storyround/storyround/internal/observability"
	"github.com/storyround/storyround/pkg/story"
)

// SessionEnsurer is the slice of the session manager the seeder needs.
type SessionEnsurer interface {
	EnsureExists(ctx context.Context, id string, seed story.Session) error
}

// Seed is one session seed file.
type Seed struct {
	SessionID         string         `json:"sessionId"`
	Players           []story.Player `json:"players"`
	StoryWords        []string       `json:"storyWords"`
	ActivePlayerIndex int            `json:"activePlayerIndex"`
}

// Seeder sweeps a directory of seed files into the session store.
type Seeder struct {
	dir      string
	sessions SessionEnsurer
	logger   zerolog.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	watcher *fileWatcher
}

// New creates a seeder over dir. The directory is created if missing.
func New(dir string, sessions SessionEnsurer, logger zerolog.Logger) (*Seeder, error) {
	observability.EnsureRegistered()

	if dir == "" {
		return nil, fmt.Errorf("seeds directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create seeds directory: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Seeder{
		dir:      dir,
		sessions: sessions,
		logger:   logger.With().Str("component", "seeder").Logger(),
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Start applies the seeds already on disk, then watches for changes.
func (s *Seeder) Start() error {
	s.Sweep(s.ctx)

	watcher, err := newFileWatcher(s.logger, func() { s.Sweep(s.ctx) })
	if err != nil {
		return fmt.Errorf("failed to start seed watcher: %w", err)
	}
	if err := watcher.watch(s.dir); err != nil {
		watcher.stop()
		return fmt.Errorf("failed to watch seeds directory: %w", err)
	}

	s.watcher = watcher
	s.logger.Info().Str("dir", s.dir).Msg("Seed directory watched")
	return nil
}

// Stop detaches the watcher and cancels in-flight sweeps.
func (s *Seeder) Stop() {
	s.cancel()
	if s.watcher != nil {
		if err := s.watcher.stop(); err != nil {
			s.logger.Error().Err(err).Msg("Failed to stop seed watcher")
		}
		s.watcher = nil
	}
}

// Sweep applies every seed file currently in the directory. Invalid files
// are logged and skipped; valid ones go through create-if-absent, so a sweep
// is idempotent.
func (s *Seeder) Sweep(ctx context.Context) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to read seeds directory")
		return
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(strings.ToLower(entry.Name()), ".json") {
			continue
		}
		if ctx.Err() != nil {
			return
		}
		s.applyFile(ctx, filepath.Join(s.dir, entry.Name()))
	}
}

func (s *Seeder) applyFile(ctx context.Context, path string) {
	logger := s.logger.With().Str("file", filepath.Base(path)).Logger()

	data, err := os.ReadFile(path)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to read seed file")
		observability.RecordSeedApplied("error")
		return
	}

	failures, err := validateSeed(data)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to validate seed file")
		observability.RecordSeedApplied("error")
		return
	}
	if len(failures) > 0 {
		logger.Warn().Strs("violations", failures).Msg("Skipping invalid seed file")
		observability.RecordSeedApplied("invalid")
		return
	}

	var seed Seed
	if err := json.Unmarshal(data, &seed); err != nil {
		logger.Error().Err(err).Msg("Failed to parse seed file")
		observability.RecordSeedApplied("error")
		return
	}

	err = s.sessions.EnsureExists(ctx, seed.SessionID, story.Session{
		Players:           seed.Players,
		StoryWords:        seed.StoryWords,
		ActivePlayerIndex: seed.ActivePlayerIndex,
	})
	if err != nil {
		logger.Error().Err(err).Str("session_id", seed.SessionID).Msg("Failed to apply seed")
		observability.RecordSeedApplied("error")
		return
	}

	logger.Debug().Str("session_id", seed.SessionID).Msg("Seed applied")
	observability.RecordSeedApplied("applied")
}

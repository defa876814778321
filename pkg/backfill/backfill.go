// Package backfill repairs the membership index on session documents. Older
// documents predate the playerIds field, and any document whose stored
// membership disagrees with its roster breaks lookup-by-member queries until
// the next mutation; a scheduled scan rewrites those through the normal merge
// path so the full-scan fallback can eventually be retired.
package backfill

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/storyround/storyround/internal/observability"
	"github.com/storyround/storyround/internal/tracing"
	"github.com/storyround/storyround/pkg/docstore"
	"github.com/storyround/storyround/pkg/story"
)

const tracerName = "storyround.backfill"

// Backfiller scans the session collection and repairs stale membership.
type Backfiller struct {
	store  docstore.Store
	logger zerolog.Logger
}

// New creates a backfiller over the given store.
func New(store docstore.Store, logger zerolog.Logger) *Backfiller {
	observability.EnsureRegistered()

	return &Backfiller{
		store:  store,
		logger: logger.With().Str("component", "backfill").Logger(),
	}
}

// Run performs one full scan. Documents whose stored playerIds disagrees
// with the id set derived from their players are rewritten; undecodable
// documents are logged and left alone.
func (b *Backfiller) Run(ctx context.Context) (err error) {
	start := time.Now()
	ctx, span := tracing.StartSpan(ctx, tracerName, "backfill.run")
	defer span.End()

	repaired := 0
	defer func() {
		observability.RecordBackfillRun(err == nil, repaired)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "backfill failed")
		}
		span.SetAttributes(attribute.Int("backfill.repaired", repaired))
	}()

	docs, err := b.store.List(ctx, story.Collection)
	if err != nil {
		return err
	}

	logger := tracing.LoggerFromContext(ctx, b.logger)
	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return err
		}

		var s story.Session
		if jerr := json.Unmarshal(doc.Body, &s); jerr != nil {
			logger.Warn().Err(jerr).Str("session_id", doc.ID).Msg("Skipping undecodable session")
			continue
		}
		stored := s.PlayerIDs
		s.ID = doc.ID

		derived := story.Normalize(s).PlayerIDs
		if sameIDSet(stored, derived) {
			continue
		}

		if merr := b.store.Merge(ctx, story.Collection, doc.ID, map[string]any{
			story.IndexedField: derived,
		}); merr != nil {
			logger.Error().Err(merr).Str("session_id", doc.ID).Msg("Failed to repair membership")
			continue
		}

		repaired++
		logger.Info().
			Str("session_id", doc.ID).
			Strs("player_ids", derived).
			Msg("Membership index repaired")
	}

	logger.Info().
		Int("scanned", len(docs)).
		Int("repaired", repaired).
		Dur("duration", time.Since(start)).
		Msg("Backfill run complete")
	return nil
}

// sameIDSet compares two id lists as sets.
func sameIDSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	as := append([]string(nil), a...)
	bs := append([]string(nil), b...)
	sort.Strings(as)
	sort.Strings(bs)
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}

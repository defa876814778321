package story

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/storyround/storyround/internal/observability"
	"github.com/storyround/storyround/internal/tracing"
	"github.com/storyround/storyround/pkg/docstore"
)

const tracerName = "storyround.story"

// ChangeHandler receives live normalized session snapshots.
type ChangeHandler func(session Session)

// ErrorHandler receives transport errors from a subscription.
type ErrorHandler func(err error)

// Manager is the session state manager. Every mutation goes through the
// store's transaction or merge-write primitives; nothing is cached here.
type Manager struct {
	store  docstore.Store
	logger zerolog.Logger
}

// NewManager creates a session state manager on top of a document store.
func NewManager(store docstore.Store, logger zerolog.Logger) *Manager {
	observability.EnsureRegistered()

	return &Manager{
		store:  store,
		logger: logger.With().Str("component", "story").Logger(),
	}
}

// EnsureExists lazily creates the session on first access: the seed is merged
// over the empty default, PlayerIDs is derived from the seed's players, and
// an existing document is left untouched. Idempotent; concurrent first
// writers both produce structurally valid documents.
func (m *Manager) EnsureExists(ctx context.Context, id string, seed Session) (err error) {
	start := time.Now()
	ctx, span := tracing.StartSpan(ctx, tracerName, "session.ensure_exists",
		attribute.String("session.id", id),
	)
	defer span.End()
	defer func() {
		observability.RecordSessionOp("ensure_exists", time.Since(start), err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "ensure exists failed")
		}
	}()

	seed.ID = id
	body, err := encodeSession(Normalize(seed))
	if err != nil {
		return err
	}

	created, err := m.store.Create(ctx, Collection, id, body)
	if err != nil {
		return err
	}
	if created {
		logger := tracing.LoggerFromContext(ctx, m.logger)
		logger.Info().
			Str("session_id", id).
			Msg("Session created")
	}
	return nil
}

// Subscribe registers a live listener on one session. Every store mutation,
// plus the initial snapshot, is delivered as a normalized session. A missing
// document is skipped rather than emitted as an empty state. Transport errors
// go to onError; nothing is retried here. The returned cancel is idempotent.
func (m *Manager) Subscribe(ctx context.Context, id string, onChange ChangeHandler, onError ErrorHandler) (docstore.CancelFunc, error) {
	logger := m.logger.With().Str("session_id", id).Logger()

	cancel, err := m.store.Subscribe(ctx, Collection, id,
		func(doc docstore.Document) {
			s, derr := decodeSession(id, doc.Body)
			if derr != nil {
				logger.Error().Err(derr).Msg("Dropping undecodable session snapshot")
				if onError != nil {
					onError(derr)
				}
				return
			}
			s = Normalize(s)
			s.UpdatedAt = doc.UpdatedAt
			onChange(s)
		},
		func(serr error) {
			logger.Error().Err(serr).Msg("Session subscription error")
			if onError != nil {
				onError(serr)
			}
		},
	)
	if err != nil {
		return nil, err
	}

	logger.Debug().Msg("Session subscription attached")
	return cancel, nil
}

// AddPlayer upserts one player inside an optimistic transaction. A player
// with the same id keeps its position and gets its name overwritten;
// otherwise the player is appended. Concurrent calls both land: the losing
// transaction re-reads the winner's state and reapplies its delta.
func (m *Manager) AddPlayer(ctx context.Context, id string, player Player) (err error) {
	start := time.Now()
	ctx, span := tracing.StartSpan(ctx, tracerName, "session.add_player",
		attribute.String("session.id", id),
		attribute.String("player.id", player.ID),
	)
	defer span.End()
	defer func() {
		observability.RecordSessionOp("add_player", time.Since(start), err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "add player failed")
		}
	}()

	err = m.store.RunTransaction(ctx, Collection, id, func(current json.RawMessage) (json.RawMessage, error) {
		s, derr := currentOrEmpty(id, current)
		if derr != nil {
			return nil, derr
		}

		updated := false
		for i := range s.Players {
			if s.Players[i].ID == player.ID {
				s.Players[i].Name = player.Name
				updated = true
				break
			}
		}
		if !updated {
			s.Players = append(s.Players, player)
		}

		return encodeSession(Normalize(s))
	})
	if err != nil {
		return err
	}

	logger := tracing.LoggerFromContext(ctx, m.logger)
	logger.Info().
		Str("session_id", id).
		Str("player_id", player.ID).
		Msg("Player added")
	return nil
}

// AddWord appends the trimmed word and hands the turn to the next player in
// list order, wrapping past the end. Word content validation is the caller's
// job. Runs as an optimistic transaction.
func (m *Manager) AddWord(ctx context.Context, id, word string) (err error) {
	start := time.Now()
	ctx, span := tracing.StartSpan(ctx, tracerName, "session.add_word",
		attribute.String("session.id", id),
	)
	defer span.End()
	defer func() {
		observability.RecordSessionOp("add_word", time.Since(start), err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "add word failed")
		}
	}()

	err = m.store.RunTransaction(ctx, Collection, id, func(current json.RawMessage) (json.RawMessage, error) {
		s, derr := currentOrEmpty(id, current)
		if derr != nil {
			return nil, derr
		}

		s = Normalize(s)
		s.StoryWords = append(s.StoryWords, strings.TrimSpace(word))
		if n := len(s.Players); n > 0 {
			s.ActivePlayerIndex = (s.ActivePlayerIndex + 1) % n
		}

		return encodeSession(s)
	})
	if err != nil {
		return err
	}

	logger := tracing.LoggerFromContext(ctx, m.logger)
	logger.Debug().
		Str("session_id", id).
		Msg("Word added")
	return nil
}

// ResetStory clears the word log and turn pointer with a merge-write, leaving
// the roster untouched. PlayerIDs is recomputed from the surviving players so
// membership lookups keep finding the session after a reset.
func (m *Manager) ResetStory(ctx context.Context, id string) (err error) {
	start := time.Now()
	ctx, span := tracing.StartSpan(ctx, tracerName, "session.reset_story",
		attribute.String("session.id", id),
	)
	defer span.End()
	defer func() {
		observability.RecordSessionOp("reset_story", time.Since(start), err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "reset story failed")
		}
	}()

	ids := []string{}
	switch s, ferr := m.Find(ctx, id); {
	case ferr == nil:
		ids = s.PlayerIDs
	case errors.Is(ferr, docstore.ErrNotFound):
	default:
		return ferr
	}

	err = m.store.Merge(ctx, Collection, id, map[string]any{
		"storyWords":        []string{},
		"activePlayerIndex": 0,
		"playerIds":         ids,
	})
	if err != nil {
		return err
	}

	logger := tracing.LoggerFromContext(ctx, m.logger)
	logger.Info().
		Str("session_id", id).
		Msg("Story reset")
	return nil
}

// Find returns the normalized session or docstore.ErrNotFound.
func (m *Manager) Find(ctx context.Context, id string) (_ Session, err error) {
	start := time.Now()
	ctx, span := tracing.StartSpan(ctx, tracerName, "session.find",
		attribute.String("session.id", id),
	)
	defer span.End()
	defer func() {
		observability.RecordSessionOp("find", time.Since(start), ignoreNotFound(err))
	}()

	doc, err := m.store.Get(ctx, Collection, id)
	if err != nil {
		return Session{}, err
	}

	s, err := decodeSession(id, doc.Body)
	if err != nil {
		return Session{}, err
	}
	s = Normalize(s)
	s.UpdatedAt = doc.UpdatedAt
	return s, nil
}

// ListForUser returns every session the user is a member of. The indexed
// membership query is tried first; an empty result falls back to a full scan
// filtered against the player list directly, which covers documents written
// before the membership field existed.
func (m *Manager) ListForUser(ctx context.Context, userID string) (_ []Session, err error) {
	start := time.Now()
	ctx, span := tracing.StartSpan(ctx, tracerName, "session.list_for_user",
		attribute.String("user.id", userID),
	)
	defer span.End()
	defer func() {
		observability.RecordSessionOp("list_for_user", time.Since(start), err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "list for user failed")
		}
	}()

	docs, err := m.store.QueryArrayContains(ctx, Collection, IndexedField, userID)
	if err != nil {
		return nil, err
	}
	if len(docs) > 0 {
		return m.decodeAll(docs, "")
	}

	// Pre-index documents are only findable by scanning the roster itself.
	observability.RecordIndexFallback()
	logger := tracing.LoggerFromContext(ctx, m.logger)
	logger.Debug().
		Str("user_id", userID).
		Msg("Membership index miss, falling back to full scan")

	docs, err = m.store.List(ctx, Collection)
	if err != nil {
		return nil, err
	}
	return m.decodeAll(docs, userID)
}

// decodeAll normalizes a batch of documents, optionally filtering to sessions
// whose roster contains filterUserID. Undecodable documents are skipped.
func (m *Manager) decodeAll(docs []docstore.Document, filterUserID string) ([]Session, error) {
	sessions := make([]Session, 0, len(docs))
	for _, doc := range docs {
		s, err := decodeSession(doc.ID, doc.Body)
		if err != nil {
			m.logger.Warn().Err(err).Str("session_id", doc.ID).Msg("Skipping undecodable session")
			continue
		}
		s = Normalize(s)
		s.UpdatedAt = doc.UpdatedAt
		if filterUserID != "" && !s.HasPlayer(filterUserID) {
			continue
		}
		sessions = append(sessions, s)
	}
	return sessions, nil
}

// currentOrEmpty decodes the transaction's current value, starting from the
// empty session when the document does not exist yet.
func currentOrEmpty(id string, current json.RawMessage) (Session, error) {
	if current == nil {
		return NewSession(id), nil
	}
	return decodeSession(id, current)
}

func ignoreNotFound(err error) error {
	if errors.Is(err, docstore.ErrNotFound) {
		return nil
	}
	return err
}

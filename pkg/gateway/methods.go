package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/storyround/storyround/internal/observability"
	"github.com/storyround/storyround/internal/tracing"
	"github.com/storyround/storyround/pkg/docstore"
	"github.com/storyround/storyround/pkg/story"
)

// registerBuiltinMethods registers all built-in RPC methods
func (s *Server) registerBuiltinMethods() {
	_ = s.RegisterMethod("session.ensure", s.handleSessionEnsure)
	_ = s.RegisterMethod("session.get", s.handleSessionGet)
	_ = s.RegisterMethod("session.list", s.handleSessionList)
	_ = s.RegisterMethod("session.addPlayer", s.handleSessionAddPlayer)
	_ = s.RegisterMethod("session.addWord", s.handleSessionAddWord)
	_ = s.RegisterMethod("session.reset", s.handleSessionReset)
	_ = s.RegisterMethod("session.subscribe", s.handleSessionSubscribe)
	_ = s.RegisterMethod("session.unsubscribe", s.handleSessionUnsubscribe)
	_ = s.RegisterMethod("system.status", s.handleSystemStatus)
}

// sessionView converts a session to the wire representation.
func sessionView(sess story.Session) map[string]interface{} {
	players := make([]map[string]interface{}, 0, len(sess.Players))
	for _, p := range sess.Players {
		players = append(players, map[string]interface{}{
			"id":   p.ID,
			"name": p.Name,
		})
	}

	view := map[string]interface{}{
		"id":                sess.ID,
		"players":           players,
		"storyWords":        sess.StoryWords,
		"activePlayerIndex": sess.ActivePlayerIndex,
		"playerIds":         sess.PlayerIDs,
	}
	if !sess.UpdatedAt.IsZero() {
		view["updatedAt"] = sess.UpdatedAt.UTC().Format(time.RFC3339Nano)
	}
	return view
}

func stringParam(params map[string]interface{}, key string) (string, error) {
	value, ok := params[key].(string)
	if !ok || value == "" {
		return "", &RPCError{
			Code:    InvalidParams,
			Message: fmt.Sprintf("%s parameter is required and must be a non-empty string", key),
		}
	}
	return value, nil
}

// seedFromParams builds a session seed from optional ensure parameters.
func seedFromParams(params map[string]interface{}) story.Session {
	seed := story.Session{}

	if rawPlayers, ok := params["players"].([]interface{}); ok {
		for _, raw := range rawPlayers {
			p, ok := raw.(map[string]interface{})
			if !ok {
				continue
			}
			id, _ := p["id"].(string)
			name, _ := p["name"].(string)
			seed.Players = append(seed.Players, story.Player{ID: id, Name: name})
		}
	}

	if rawWords, ok := params["storyWords"].([]interface{}); ok {
		for _, raw := range rawWords {
			if word, ok := raw.(string); ok {
				seed.StoryWords = append(seed.StoryWords, word)
			}
		}
	}

	if index, ok := params["activePlayerIndex"].(float64); ok {
		seed.ActivePlayerIndex = int(index)
	}

	return seed
}

// resolvePlayer derives the player from either an explicit player object or
// an identity token.
func (s *Server) resolvePlayer(ctx context.Context, params map[string]interface{}) (story.Player, error) {
	if raw, ok := params["player"].(map[string]interface{}); ok {
		id, _ := raw["id"].(string)
		name, _ := raw["name"].(string)
		if id == "" || strings.TrimSpace(name) == "" {
			return story.Player{}, &RPCError{
				Code:    InvalidParams,
				Message: "player requires non-empty id and name",
			}
		}
		return story.Player{ID: id, Name: name}, nil
	}

	token, ok := params["token"].(string)
	if !ok || token == "" {
		return story.Player{}, &RPCError{
			Code:    InvalidParams,
			Message: "either player or token parameter is required",
		}
	}

	ident, err := s.identity.Resolve(ctx, token)
	if err != nil {
		return story.Player{}, fmt.Errorf("failed to resolve identity: %w", err)
	}
	return story.Player{ID: ident.UserID, Name: ident.DisplayName()}, nil
}

// resolveUserID derives the membership query subject from an explicit userId
// or an identity token.
func (s *Server) resolveUserID(ctx context.Context, params map[string]interface{}) (string, error) {
	if userID, ok := params["userId"].(string); ok && userID != "" {
		return userID, nil
	}

	token, ok := params["token"].(string)
	if !ok || token == "" {
		return "", &RPCError{
			Code:    InvalidParams,
			Message: "either userId or token parameter is required",
		}
	}

	ident, err := s.identity.Resolve(ctx, token)
	if err != nil {
		return "", fmt.Errorf("failed to resolve identity: %w", err)
	}
	return ident.UserID, nil
}

// handleSessionEnsure handles session.ensure RPC method
func (s *Server) handleSessionEnsure(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	sessionID, err := stringParam(params, "sessionId")
	if err != nil {
		return nil, err
	}

	if err := s.sessions.EnsureExists(ctx, sessionID, seedFromParams(params)); err != nil {
		observability.RecordSessionAudit(ctx, "session_ensured", clientIDFromContext(ctx), sessionID, "failure", nil)
		return nil, fmt.Errorf("failed to ensure session: %w", err)
	}
	observability.RecordSessionAudit(ctx, "session_ensured", clientIDFromContext(ctx), sessionID, "success", nil)

	sess, err := s.sessions.Find(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	return map[string]interface{}{
		"session": sessionView(sess),
	}, nil
}

// handleSessionGet handles session.get RPC method
func (s *Server) handleSessionGet(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	sessionID, err := stringParam(params, "sessionId")
	if err != nil {
		return nil, err
	}

	sess, err := s.sessions.Find(ctx, sessionID)
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, &RPCError{
			Code:    SessionNotFound,
			Message: fmt.Sprintf("session not found: %s", sessionID),
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	return map[string]interface{}{
		"session": sessionView(sess),
	}, nil
}

// handleSessionList handles session.list RPC method
func (s *Server) handleSessionList(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	userID, err := s.resolveUserID(ctx, params)
	if err != nil {
		return nil, err
	}

	sessions, err := s.sessions.ListForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	views := make([]map[string]interface{}, 0, len(sessions))
	for _, sess := range sessions {
		views = append(views, sessionView(sess))
	}

	return map[string]interface{}{
		"sessions": views,
	}, nil
}

// handleSessionAddPlayer handles session.addPlayer RPC method
func (s *Server) handleSessionAddPlayer(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	sessionID, err := stringParam(params, "sessionId")
	if err != nil {
		return nil, err
	}

	player, err := s.resolvePlayer(ctx, params)
	if err != nil {
		return nil, err
	}

	if err := s.sessions.AddPlayer(ctx, sessionID, player); err != nil {
		observability.RecordSessionAudit(ctx, "player_added", player.ID, sessionID, "failure", nil)
		return nil, fmt.Errorf("failed to add player: %w", err)
	}
	observability.RecordSessionAudit(ctx, "player_added", player.ID, sessionID, "success", map[string]interface{}{
		"player_id": player.ID,
	})

	return map[string]interface{}{
		"success": true,
		"player": map[string]interface{}{
			"id":   player.ID,
			"name": strings.TrimSpace(player.Name),
		},
	}, nil
}

// handleSessionAddWord handles session.addWord RPC method
func (s *Server) handleSessionAddWord(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	sessionID, err := stringParam(params, "sessionId")
	if err != nil {
		return nil, err
	}

	word, err := stringParam(params, "word")
	if err != nil {
		return nil, err
	}

	// The state manager accepts any word; the transport enforces the
	// single-token rule the original client applied.
	word = strings.TrimSpace(word)
	if word == "" || strings.ContainsAny(word, " \t\n") {
		return nil, &RPCError{
			Code:    InvalidParams,
			Message: "word must be a single non-empty token",
		}
	}

	if err := s.sessions.AddWord(ctx, sessionID, word); err != nil {
		observability.RecordSessionAudit(ctx, "word_added", clientIDFromContext(ctx), sessionID, "failure", nil)
		return nil, fmt.Errorf("failed to add word: %w", err)
	}
	observability.RecordSessionAudit(ctx, "word_added", clientIDFromContext(ctx), sessionID, "success", map[string]interface{}{
		"word": word,
	})

	return map[string]interface{}{
		"success": true,
	}, nil
}

// handleSessionReset handles session.reset RPC method
func (s *Server) handleSessionReset(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	sessionID, err := stringParam(params, "sessionId")
	if err != nil {
		return nil, err
	}

	if err := s.sessions.ResetStory(ctx, sessionID); err != nil {
		observability.RecordSessionAudit(ctx, "story_reset", clientIDFromContext(ctx), sessionID, "failure", nil)
		return nil, fmt.Errorf("failed to reset story: %w", err)
	}
	observability.RecordSessionAudit(ctx, "story_reset", clientIDFromContext(ctx), sessionID, "success", nil)

	return map[string]interface{}{
		"success": true,
	}, nil
}

// handleSessionSubscribe handles session.subscribe RPC method
func (s *Server) handleSessionSubscribe(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	sessionID, err := stringParam(params, "sessionId")
	if err != nil {
		return nil, err
	}

	clientID := clientIDFromContext(ctx)
	if clientID == "" {
		return nil, &RPCError{
			Code:    InvalidRequest,
			Message: "subscriptions require a websocket connection",
		}
	}

	client, exists := s.clients.Get(clientID)
	if !exists {
		return nil, fmt.Errorf("client %s is no longer connected", clientID)
	}

	traceID := tracing.GetTraceID(ctx)
	cancel, err := s.sessions.Subscribe(ctx, sessionID,
		func(sess story.Session) {
			s.events.PushToClient(clientID, EventMessage{
				Event:   "session.changed",
				Session: sessionID,
				Data:    sessionView(sess),
				TraceID: traceID,
			})
		},
		func(serr error) {
			s.events.PushToClient(clientID, EventMessage{
				Event:   "session.error",
				Session: sessionID,
				Data: map[string]interface{}{
					"error": serr.Error(),
				},
				TraceID: traceID,
			})
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	if !client.AddSubscription(sessionID, cancel) {
		// Already watching this session; drop the duplicate listener.
		cancel()
	}

	return map[string]interface{}{
		"subscribed": true,
		"sessionId":  sessionID,
	}, nil
}

// handleSessionUnsubscribe handles session.unsubscribe RPC method
func (s *Server) handleSessionUnsubscribe(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	sessionID, err := stringParam(params, "sessionId")
	if err != nil {
		return nil, err
	}

	clientID := clientIDFromContext(ctx)
	if clientID == "" {
		return nil, &RPCError{
			Code:    InvalidRequest,
			Message: "subscriptions require a websocket connection",
		}
	}

	client, exists := s.clients.Get(clientID)
	if !exists {
		return nil, fmt.Errorf("client %s is no longer connected", clientID)
	}

	return map[string]interface{}{
		"unsubscribed": client.RemoveSubscription(sessionID),
		"sessionId":    sessionID,
	}, nil
}

// handleSystemStatus handles system.status RPC method
func (s *Server) handleSystemStatus(_ context.Context, _ map[string]interface{}) (interface{}, error) {
	return map[string]interface{}{
		"status":        "ok",
		"clients":       s.clients.Count(),
		"uptimeSeconds": int64(time.Since(s.startedAt).Seconds()),
		"methods":       s.router.GetMethods(),
	}, nil
}

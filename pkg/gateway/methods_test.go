package gateway

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storyround/storyround/pkg/docstore"
	"github.com/storyround/storyround/pkg/identity"
	"github.com/storyround/storyround/pkg/story"
)

func setupTestServer(t *testing.T) *Server {
	t.Helper()

	store, err := docstore.Open(docstore.Config{
		Path:    filepath.Join(t.TempDir(), "sessions.db"),
		Logger:  zerolog.Nop(),
		Indexes: map[string]string{story.Collection: story.IndexedField},
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	s, err := NewServer(Config{
		Host:         "127.0.0.1",
		Port:         18080,
		SharedSecret: "test-secret-0123456789abcdef",
		Sessions:     story.NewManager(store, zerolog.Nop()),
		Identity:     identity.NewAnonymousProvider(),
		Logger:       zerolog.Nop(),
	})
	require.NoError(t, err)
	return s
}

func result(t *testing.T, v interface{}, err error) map[string]interface{} {
	t.Helper()
	require.NoError(t, err)
	m, ok := v.(map[string]interface{})
	require.True(t, ok, "handler result must be a map")
	return m
}

func TestNewServer_Validation(t *testing.T) {
	_, err := NewServer(Config{Port: 0})
	assert.Error(t, err)

	_, err = NewServer(Config{Port: 8080})
	assert.Error(t, err, "shared secret required")

	_, err = NewServer(Config{Port: 8080, SharedSecret: "s"})
	assert.Error(t, err, "session manager required")
}

func TestHandleSessionEnsure(t *testing.T) {
	s := setupTestServer(t)
	ctx := context.Background()

	v, err := s.handleSessionEnsure(ctx, map[string]interface{}{
		"sessionId": "s1",
		"players": []interface{}{
			map[string]interface{}{"id": "u1", "name": " Amy "},
		},
	})
	res := result(t, v, err)

	sess := res["session"].(map[string]interface{})
	assert.Equal(t, "s1", sess["id"])
	players := sess["players"].([]map[string]interface{})
	require.Len(t, players, 1)
	assert.Equal(t, "Amy", players[0]["name"])

	// Second ensure with a different seed is a no-op.
	v, err = s.handleSessionEnsure(ctx, map[string]interface{}{
		"sessionId": "s1",
		"players": []interface{}{
			map[string]interface{}{"id": "u2", "name": "Ben"},
		},
	})
	res = result(t, v, err)
	sess = res["session"].(map[string]interface{})
	players = sess["players"].([]map[string]interface{})
	require.Len(t, players, 1)
	assert.Equal(t, "u1", players[0]["id"])
}

func TestHandleSessionEnsure_MissingID(t *testing.T) {
	s := setupTestServer(t)

	_, err := s.handleSessionEnsure(context.Background(), map[string]interface{}{})
	var rpcErr *RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, InvalidParams, rpcErr.Code)
}

func TestHandleSessionGet_NotFound(t *testing.T) {
	s := setupTestServer(t)

	_, err := s.handleSessionGet(context.Background(), map[string]interface{}{"sessionId": "ghost"})
	var rpcErr *RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, SessionNotFound, rpcErr.Code)
}

func TestHandleSessionAddPlayer_Explicit(t *testing.T) {
	s := setupTestServer(t)
	ctx := context.Background()

	v, err := s.handleSessionAddPlayer(ctx, map[string]interface{}{
		"sessionId": "s1",
		"player":    map[string]interface{}{"id": "u1", "name": " Amy "},
	})
	res := result(t, v, err)
	assert.Equal(t, true, res["success"])

	v, err = s.handleSessionGet(ctx, map[string]interface{}{"sessionId": "s1"})
	got := result(t, v, err)
	sess := got["session"].(map[string]interface{})
	players := sess["players"].([]map[string]interface{})
	require.Len(t, players, 1)
	assert.Equal(t, "Amy", players[0]["name"])
}

func TestHandleSessionAddPlayer_FromToken(t *testing.T) {
	s := setupTestServer(t)
	ctx := context.Background()

	v, err := s.handleSessionAddPlayer(ctx, map[string]interface{}{
		"sessionId": "s1",
		"token":     "device-abc123",
	})
	res := result(t, v, err)

	player := res["player"].(map[string]interface{})
	assert.Equal(t, "device-abc123", player["id"])
	assert.Equal(t, "Guest abc123", player["name"])
}

func TestHandleSessionAddPlayer_Invalid(t *testing.T) {
	s := setupTestServer(t)
	ctx := context.Background()

	_, err := s.handleSessionAddPlayer(ctx, map[string]interface{}{
		"sessionId": "s1",
		"player":    map[string]interface{}{"id": "", "name": "Amy"},
	})
	var rpcErr *RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, InvalidParams, rpcErr.Code)

	_, err = s.handleSessionAddPlayer(ctx, map[string]interface{}{"sessionId": "s1"})
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, InvalidParams, rpcErr.Code)
}

func TestHandleSessionAddWord(t *testing.T) {
	s := setupTestServer(t)
	ctx := context.Background()

	for _, p := range []string{"u1", "u2"} {
		v, err := s.handleSessionAddPlayer(ctx, map[string]interface{}{
			"sessionId": "s1",
			"player":    map[string]interface{}{"id": p, "name": "P " + p},
		})
		result(t, v, err)
	}

	v, err := s.handleSessionAddWord(ctx, map[string]interface{}{"sessionId": "s1", "word": "cat"})
	result(t, v, err)

	v, err = s.handleSessionGet(ctx, map[string]interface{}{"sessionId": "s1"})
	got := result(t, v, err)
	sess := got["session"].(map[string]interface{})
	assert.Equal(t, []string{"cat"}, sess["storyWords"])
	assert.Equal(t, 1, sess["activePlayerIndex"])
}

func TestHandleSessionAddWord_RejectsMultiToken(t *testing.T) {
	s := setupTestServer(t)
	ctx := context.Background()

	for _, word := range []string{"two words", "tab\tsplit", "   "} {
		_, err := s.handleSessionAddWord(ctx, map[string]interface{}{"sessionId": "s1", "word": word})
		var rpcErr *RPCError
		require.ErrorAs(t, err, &rpcErr, "word %q", word)
		assert.Equal(t, InvalidParams, rpcErr.Code)
	}
}

func TestHandleSessionReset(t *testing.T) {
	s := setupTestServer(t)
	ctx := context.Background()

	v, err := s.handleSessionAddPlayer(ctx, map[string]interface{}{
		"sessionId": "s1",
		"player":    map[string]interface{}{"id": "u1", "name": "Amy"},
	})
	result(t, v, err)
	v, err = s.handleSessionAddWord(ctx, map[string]interface{}{"sessionId": "s1", "word": "cat"})
	result(t, v, err)

	v, err = s.handleSessionReset(ctx, map[string]interface{}{"sessionId": "s1"})
	res := result(t, v, err)
	assert.Equal(t, true, res["success"])

	v, err = s.handleSessionGet(ctx, map[string]interface{}{"sessionId": "s1"})
	got := result(t, v, err)
	sess := got["session"].(map[string]interface{})
	assert.Empty(t, sess["storyWords"])
	assert.Equal(t, 0, sess["activePlayerIndex"])
	players := sess["players"].([]map[string]interface{})
	assert.Len(t, players, 1)
}

func TestHandleSessionList(t *testing.T) {
	s := setupTestServer(t)
	ctx := context.Background()

	v, err := s.handleSessionAddPlayer(ctx, map[string]interface{}{
		"sessionId": "s1",
		"player":    map[string]interface{}{"id": "u1", "name": "Amy"},
	})
	result(t, v, err)
	v, err = s.handleSessionAddPlayer(ctx, map[string]interface{}{
		"sessionId": "s2",
		"player":    map[string]interface{}{"id": "u2", "name": "Ben"},
	})
	result(t, v, err)

	v, err = s.handleSessionList(ctx, map[string]interface{}{"userId": "u1"})
	res := result(t, v, err)
	views := res["sessions"].([]map[string]interface{})
	require.Len(t, views, 1)
	assert.Equal(t, "s1", views[0]["id"])

	// Token path resolves the user id through the identity provider.
	v, err = s.handleSessionList(ctx, map[string]interface{}{"token": "u2"})
	res = result(t, v, err)
	views = res["sessions"].([]map[string]interface{})
	require.Len(t, views, 1)
	assert.Equal(t, "s2", views[0]["id"])
}

func TestHandleSessionSubscribe_RequiresWebSocket(t *testing.T) {
	s := setupTestServer(t)

	_, err := s.handleSessionSubscribe(context.Background(), map[string]interface{}{"sessionId": "s1"})
	var rpcErr *RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, InvalidRequest, rpcErr.Code)

	_, err = s.handleSessionUnsubscribe(context.Background(), map[string]interface{}{"sessionId": "s1"})
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, InvalidRequest, rpcErr.Code)
}

func TestHandleSystemStatus(t *testing.T) {
	s := setupTestServer(t)

	v, err := s.handleSystemStatus(context.Background(), nil)
	res := result(t, v, err)
	assert.Equal(t, "ok", res["status"])
	assert.Equal(t, 0, res["clients"])
	assert.Contains(t, res["methods"], "session.addWord")
}

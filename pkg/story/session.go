// Package story owns the canonical shape of a shared story session and the
// state transforms over it: player roster upserts, turn rotation on each word,
// story resets, and membership-indexed lookup. All persistence goes through a
// docstore.Store; this package holds no state of its own.
package story

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Collection is the document collection that holds session documents.
const Collection = "sessions"

// IndexedField is the membership field the store keeps queryable.
const IndexedField = "playerIds"

// Player is one participant. Identity is ID; re-adding the same ID
// overwrites the name in place.
type Player struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Session is the shared state of one collaborative story.
type Session struct {
	ID                string   `json:"-"`
	Players           []Player `json:"players"`
	StoryWords        []string `json:"storyWords"`
	ActivePlayerIndex int      `json:"activePlayerIndex"`
	PlayerIDs         []string `json:"playerIds"`

	// UpdatedAt is stamped by the store on every write.
	UpdatedAt time.Time `json:"-"`
}

// NewSession returns an empty session with the given id.
func NewSession(id string) Session {
	return Session{
		ID:         id,
		Players:    []Player{},
		StoryWords: []string{},
		PlayerIDs:  []string{},
	}
}

// Normalize returns the canonical form of a session: players with an empty id
// or a blank name are dropped, surviving names are trimmed, the active index
// is clamped into the player list, and PlayerIDs is recomputed as the
// deduplicated id set in first-seen order. Idempotent.
func Normalize(s Session) Session {
	players := make([]Player, 0, len(s.Players))
	for _, p := range s.Players {
		name := strings.TrimSpace(p.Name)
		if p.ID == "" || name == "" {
			continue
		}
		players = append(players, Player{ID: p.ID, Name: name})
	}

	idx := s.ActivePlayerIndex
	switch {
	case len(players) == 0 || idx < 0:
		idx = 0
	case idx >= len(players):
		// A shrunken roster saturates the index to the last seat rather
		// than handing the turn back to the first player.
		idx = len(players) - 1
	}

	words := s.StoryWords
	if words == nil {
		words = []string{}
	}

	return Session{
		ID:                s.ID,
		Players:           players,
		StoryWords:        words,
		ActivePlayerIndex: idx,
		PlayerIDs:         playerIDSet(players),
		UpdatedAt:         s.UpdatedAt,
	}
}

// playerIDSet returns the deduplicated ids of players in first-seen order.
func playerIDSet(players []Player) []string {
	ids := make([]string, 0, len(players))
	seen := make(map[string]struct{}, len(players))
	for _, p := range players {
		if _, ok := seen[p.ID]; ok {
			continue
		}
		seen[p.ID] = struct{}{}
		ids = append(ids, p.ID)
	}
	return ids
}

// HasPlayer reports whether the session's roster contains the given user.
func (s Session) HasPlayer(userID string) bool {
	for _, p := range s.Players {
		if p.ID == userID {
			return true
		}
	}
	return false
}

func decodeSession(id string, body json.RawMessage) (Session, error) {
	s := NewSession(id)
	if err := json.Unmarshal(body, &s); err != nil {
		return Session{}, fmt.Errorf("failed to decode session %s: %w", id, err)
	}
	s.ID = id
	return s, nil
}

func encodeSession(s Session) (json.RawMessage, error) {
	body, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to encode session %s: %w", s.ID, err)
	}
	return body, nil
}

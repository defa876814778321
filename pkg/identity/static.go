package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/rs/zerolog"
)

// StaticProvider resolves tokens against a JSON token table on disk. Suited
// to self-hosted deployments and tests; the table maps each token to the
// identity it grants.
//
// File shape:
//
//	{"tokens": {"<token>": {"userId": "u1", "name": "Amy", "email": "amy@example.com"}}}
type StaticProvider struct {
	logger zerolog.Logger

	mu     sync.RWMutex
	tokens map[string]Identity
}

type tokenTable struct {
	Tokens map[string]Identity `json:"tokens"`
}

// NewStaticProvider loads the token table at path. A missing file yields an
// empty table, so a fresh deployment starts with no valid tokens rather than
// failing to boot.
func NewStaticProvider(path string, logger zerolog.Logger) (*StaticProvider, error) {
	p := &StaticProvider{
		logger: logger.With().Str("component", "identity").Logger(),
		tokens: map[string]Identity{},
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		p.logger.Warn().Str("path", path).Msg("Token table missing, starting empty")
		return p, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read token table: %w", err)
	}

	var table tokenTable
	if err := json.Unmarshal(data, &table); err != nil {
		return nil, fmt.Errorf("failed to parse token table: %w", err)
	}

	for token, id := range table.Tokens {
		if token == "" || id.UserID == "" {
			continue
		}
		p.tokens[token] = id
	}

	p.logger.Info().Int("tokens", len(p.tokens)).Msg("Token table loaded")
	return p, nil
}

// Resolve looks the token up in the table.
func (p *StaticProvider) Resolve(_ context.Context, token string) (Identity, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	id, ok := p.tokens[token]
	if !ok {
		return Identity{}, ErrUnknownToken
	}
	return id, nil
}

package seeder

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storyround/storyround/pkg/story"
)

type fakeEnsurer struct {
	mu    sync.Mutex
	seeds map[string]story.Session
}

func newFakeEnsurer() *fakeEnsurer {
	return &fakeEnsurer{seeds: map[string]story.Session{}}
}

func (f *fakeEnsurer) EnsureExists(_ context.Context, id string, seed story.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.seeds[id]; !ok {
		f.seeds[id] = seed
	}
	return nil
}

func (f *fakeEnsurer) get(id string) (story.Session, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.seeds[id]
	return s, ok
}

func (f *fakeEnsurer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.seeds)
}

func writeSeed(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
}

func TestSeeder_SweepAppliesValidSeeds(t *testing.T) {
	dir := t.TempDir()
	writeSeed(t, dir, "one.json",
		`{"sessionId":"s1","players":[{"id":"u1","name":"Amy"}]}`)
	writeSeed(t, dir, "two.json",
		`{"sessionId":"s2","storyWords":["once"],"activePlayerIndex":0}`)
	writeSeed(t, dir, "notes.txt", `not a seed`)

	ensurer := newFakeEnsurer()
	s, err := New(dir, ensurer, zerolog.Nop())
	require.NoError(t, err)
	defer s.Stop()

	s.Sweep(context.Background())

	assert.Equal(t, 2, ensurer.count())
	seed, ok := ensurer.get("s1")
	require.True(t, ok)
	assert.Equal(t, []story.Player{{ID: "u1", Name: "Amy"}}, seed.Players)
	seed, ok = ensurer.get("s2")
	require.True(t, ok)
	assert.Equal(t, []string{"once"}, seed.StoryWords)
}

func TestSeeder_SkipsInvalidSeeds(t *testing.T) {
	dir := t.TempDir()
	writeSeed(t, dir, "missing-id.json", `{"players":[]}`)
	writeSeed(t, dir, "empty-id.json", `{"sessionId":""}`)
	writeSeed(t, dir, "bad-player.json", `{"sessionId":"s1","players":[{"id":"u1"}]}`)
	writeSeed(t, dir, "extra-field.json", `{"sessionId":"s2","surprise":true}`)
	writeSeed(t, dir, "broken.json", `{not json`)

	ensurer := newFakeEnsurer()
	s, err := New(dir, ensurer, zerolog.Nop())
	require.NoError(t, err)
	defer s.Stop()

	s.Sweep(context.Background())

	assert.Zero(t, ensurer.count())
}

func TestSeeder_SweepIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	writeSeed(t, dir, "one.json", `{"sessionId":"s1"}`)

	ensurer := newFakeEnsurer()
	s, err := New(dir, ensurer, zerolog.Nop())
	require.NoError(t, err)
	defer s.Stop()

	s.Sweep(context.Background())
	s.Sweep(context.Background())

	assert.Equal(t, 1, ensurer.count())
}

func TestSeeder_WatchesForNewSeeds(t *testing.T) {
	dir := t.TempDir()

	ensurer := newFakeEnsurer()
	s, err := New(dir, ensurer, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, s.Start())
	defer s.Stop()

	writeSeed(t, dir, "late.json", `{"sessionId":"s-late"}`)

	require.Eventually(t, func() bool {
		_, ok := ensurer.get("s-late")
		return ok
	}, 5*time.Second, 50*time.Millisecond)
}

func TestSeeder_CreatesMissingDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "seeds")

	s, err := New(dir, newFakeEnsurer(), zerolog.Nop())
	require.NoError(t, err)
	defer s.Stop()

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestValidateSeed(t *testing.T) {
	failures, err := validateSeed([]byte(`{"sessionId":"s1","players":[{"id":"u1","name":"Amy"}]}`))
	require.NoError(t, err)
	assert.Empty(t, failures)

	failures, err = validateSeed([]byte(`{"activePlayerIndex":-1}`))
	require.NoError(t, err)
	assert.NotEmpty(t, failures)
}

package soul

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRoundTripsThroughRender(t *testing.T) {
	t.Parallel()
	s := Soul{
		Name:        "Atlas",
		Personality: "terse and precise",
		Goals:       []string{"answer questions", "never lie"},
		Rules:       []string{"refuse unsafe commands"},
		Preferences: map[string]string{"tone": "formal"},
		Description: "A general-purpose operator assistant.",
	}

	rendered := Render(s)
	parsed := Parse(rendered)

	assert.Equal(t, s.Name, parsed.Name)
	assert.Equal(t, s.Personality, parsed.Personality)
	assert.Equal(t, s.Goals, parsed.Goals)
	assert.Equal(t, s.Rules, parsed.Rules)
	assert.Equal(t, s.Preferences, parsed.Preferences)
	assert.Equal(t, s.Description, parsed.Description)
}

func TestParseTolerant(t *testing.T) {
	t.Parallel()
	parsed := Parse("no front matter here, just text")
	assert.Equal(t, "no front matter here, just text", parsed.Description)
	assert.Empty(t, parsed.Name)
}

func TestLoadMissingFileReturnsDefault(t *testing.T) {
	t.Parallel()
	s, err := Load(t.TempDir(), "agent1")
	require.NoError(t, err)
	assert.Equal(t, "agent1", s.Name)
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	s := Soul{Name: "Atlas", Goals: []string{"be helpful"}, Preferences: map[string]string{}}
	require.NoError(t, Save(dir, "atlas", s))

	loaded, err := Load(dir, "atlas")
	require.NoError(t, err)
	assert.Equal(t, "Atlas", loaded.Name)
	assert.Equal(t, []string{"be helpful"}, loaded.Goals)
}

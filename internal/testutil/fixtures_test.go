package testutil

import (
	"testing"

	"github.com/bertona88/wofi/internal/kernel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFixturesAreValid(t *testing.T) {
	ideaID := ID(Idea("a"))
	fixtures := map[string]kernel.Object{
		"idea":           Idea("a"),
		"construction":   Construction("compose", ideaID, ideaID),
		"claim":          Claim("it holds"),
		"evidence":       Evidence("https://example.com/paper"),
		"submission":     Submission("raw text"),
		"implementation": Implementation(ideaID),
		"profile":        Profile("default"),
		"edge":           Edge(kernel.RelAbout, kernel.KindClaim, ideaID, kernel.KindIdea, ideaID),
	}

	for name, obj := range fixtures {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, kernel.ValidateSchema(obj))
			require.NoError(t, kernel.ValidateInvariants(obj, nil))
			assert.True(t, kernel.IsContentID(ID(obj)))
		})
	}
}

func TestFixturesAreDeterministic(t *testing.T) {
	assert.Equal(t, ID(Idea("a")), ID(Idea("a")))
	assert.NotEqual(t, ID(Idea("a")), ID(Idea("b")))
}

func TestCanonicalCarriesContentID(t *testing.T) {
	obj := Idea("a")
	parsed, err := kernel.ParseObject(Canonical(obj))
	require.NoError(t, err)
	assert.Equal(t, ID(obj), parsed.ContentID())

	// The input fixture is not modified.
	assert.NotContains(t, obj, "content_id")
}

package ids

import (
	"sort"
	"testing"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProducesValidULIDs(t *testing.T) {
	seen := make(map[string]struct{})
	var generated []string
	for i := 0; i < 1000; i++ {
		id := New()
		_, err := ulid.ParseStrict(id)
		require.NoError(t, err, id)
		_, dup := seen[id]
		require.False(t, dup, "duplicate id %s", id)
		seen[id] = struct{}{}
		generated = append(generated, id)
	}

	// Monotonic entropy keeps ids sortable in generation order.
	assert.True(t, sort.StringsAreSorted(generated))
}

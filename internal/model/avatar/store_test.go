package avatar

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreLookup(t *testing.T) {
	store := NewMemoryStore(Seed())

	def, ok := store.Default()
	require.True(t, ok)
	assert.Equal(t, "June_HR_public", def.ID)

	got, ok := store.FindByID("June_HR_public")
	require.True(t, ok)
	assert.Equal(t, "68dedac41a9f46a6a4271a95c733823c", got.DefaultVoice)

	_, ok = store.FindByID("missing")
	assert.False(t, ok)
}

func TestMemoryStoreListIsCopy(t *testing.T) {
	store := NewMemoryStore(Seed())
	list := store.List()
	list[0].ID = "mutated"

	again := store.List()
	assert.Equal(t, "June_HR_public", again[0].ID)

	_, ok := NewMemoryStore(nil).Default()
	assert.False(t, ok)
}

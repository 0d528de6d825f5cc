// Package storetest holds behaviour checks shared by every store.Store backend.
package storetest

import (
	"context"
	"fmt"
	"testing"

	"github.com/kasuganosora/beastiary/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Run exercises s against the store contract. s must start empty.
func Run(t *testing.T, s store.Store) {
	ctx := context.Background()

	t.Run("InsertFind", func(t *testing.T) {
		id, err := s.Insert(ctx, "players", store.Fields{"userId": "u1", "scraps": 3})
		require.NoError(t, err)
		require.NotEmpty(t, id)

		f, err := s.FindByID(ctx, "players", id)
		require.NoError(t, err)
		assert.Equal(t, "u1", f["userId"])
		assert.Equal(t, float64(3), f["scraps"])
	})

	t.Run("FindMissing", func(t *testing.T) {
		_, err := s.FindByID(ctx, "players", "no-such-id")
		assert.ErrorIs(t, err, store.ErrNotFound)
		_, err = s.FindByID(ctx, "empty-collection", "x")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("UpdateMerges", func(t *testing.T) {
		id, err := s.Insert(ctx, "animals", store.Fields{"nickname": "a", "experience": 0})
		require.NoError(t, err)
		require.NoError(t, s.UpdateFields(ctx, "animals", id, store.Fields{"experience": 150}))

		f, err := s.FindByID(ctx, "animals", id)
		require.NoError(t, err)
		assert.Equal(t, "a", f["nickname"])
		assert.Equal(t, float64(150), f["experience"])

		assert.ErrorIs(t, s.UpdateFields(ctx, "animals", "gone", store.Fields{"x": 1}), store.ErrNotFound)
	})

	t.Run("CollectionsAreIsolated", func(t *testing.T) {
		id, err := s.Insert(ctx, "guilds", store.Fields{"guildId": "g1"})
		require.NoError(t, err)
		_, err = s.FindByID(ctx, "species", id)
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("Delete", func(t *testing.T) {
		id, err := s.Insert(ctx, "animals", store.Fields{"nickname": "b"})
		require.NoError(t, err)
		require.NoError(t, s.DeleteByID(ctx, "animals", id))
		_, err = s.FindByID(ctx, "animals", id)
		assert.ErrorIs(t, err, store.ErrNotFound)
		assert.ErrorIs(t, s.DeleteByID(ctx, "animals", id), store.ErrNotFound)
	})

	t.Run("FindMany", func(t *testing.T) {
		_, err := s.Insert(ctx, "guildsx", store.Fields{"guildId": "g1", "premium": true})
		require.NoError(t, err)
		_, err = s.Insert(ctx, "guildsx", store.Fields{"guildId": "g2", "premium": false})
		require.NoError(t, err)

		all, err := s.FindMany(ctx, "guildsx", nil)
		require.NoError(t, err)
		assert.Len(t, all, 2)

		hits, err := s.FindMany(ctx, "guildsx", store.Filter{"guildId": "g2"})
		require.NoError(t, err)
		require.Len(t, hits, 1)
		assert.Equal(t, false, hits[0].Fields["premium"])

		none, err := s.FindMany(ctx, "nothing-here", store.Filter{"guildId": "g2"})
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("FindManyAmongManyRows", func(t *testing.T) {
		for i := 0; i < 50; i++ {
			_, err := s.Insert(ctx, "crowd", store.Fields{"userId": fmt.Sprintf("other-%d", i), "guildId": "g1"})
			require.NoError(t, err)
		}
		want, err := s.Insert(ctx, "crowd", store.Fields{"userId": "u7", "guildId": "g1", "premium": true})
		require.NoError(t, err)
		_, err = s.Insert(ctx, "crowd", store.Fields{"userId": "u7", "guildId": "g2", "premium": true})
		require.NoError(t, err)

		hits, err := s.FindMany(ctx, "crowd", store.Filter{"userId": "u7", "guildId": "g1"})
		require.NoError(t, err)
		require.Len(t, hits, 1)
		assert.Equal(t, want, hits[0].ID)

		// Non-string values still filter.
		hits, err = s.FindMany(ctx, "crowd", store.Filter{"userId": "u7", "premium": true})
		require.NoError(t, err)
		assert.Len(t, hits, 2)
		hits, err = s.FindMany(ctx, "crowd", store.Filter{"guildId": "g1", "premium": false})
		require.NoError(t, err)
		assert.Empty(t, hits)
	})
}

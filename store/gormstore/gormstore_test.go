package gormstore

import (
	"context"
	"fmt"
	"testing"

	"github.com/kasuganosora/beastiary/model"
	"github.com/kasuganosora/beastiary/store"
	"github.com/kasuganosora/beastiary/store/storetest"
	"github.com/kasuganosora/beastiary/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestContract(t *testing.T) {
	storetest.Run(t, New(testutil.SetupTestDB(t)))
}

func TestDocumentRowShape(t *testing.T) {
	db := testutil.SetupTestDB(t)
	s := New(db)

	id, err := s.Insert(context.Background(), "species", store.Fields{"rarity": 2})
	require.NoError(t, err)

	var doc model.Document
	require.NoError(t, db.First(&doc, "id = ?", id).Error)
	assert.Equal(t, "species", doc.Collection)
	assert.JSONEq(t, `{"rarity":2}`, string(doc.Fields))
}

func TestFindMany_FiltersInSQL(t *testing.T) {
	db := testutil.SetupTestDB(t)
	s := New(db)
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		_, err := s.Insert(ctx, "players", store.Fields{"userId": fmt.Sprintf("u%d", i), "guildId": "g1"})
		require.NoError(t, err)
	}

	var scanned int64
	require.NoError(t, db.Callback().Query().After("gorm:query").Register("test:scanned", func(tx *gorm.DB) {
		if tx.Statement.Table == "documents" {
			scanned = tx.Statement.RowsAffected
		}
	}))

	hits, err := s.FindMany(ctx, "players", store.Filter{"userId": "u42", "guildId": "g1"})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "u42", hits[0].Fields["userId"])
	assert.Equal(t, int64(1), scanned)
}

package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/guidesearch/pkg/types"
)

// backends returns every Storage implementation under test
func backends(t *testing.T) map[string]Storage {
	t.Helper()

	sqlite, err := NewSQLiteStorage(MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlite.Close() })

	return map[string]Storage{
		"sqlite": sqlite,
		"memory": NewMemoryStorage(),
	}
}

func sampleGuidelines() []types.Guideline {
	return []types.Guideline{
		{ID: "a", Title: "Fever", Text: "fever and headache", Tags: []string{"fever"}, ActionType: types.ActionWarning},
		{ID: "b", Title: "Diet", Text: "safe to eat papaya", Tags: []string{"diet", "food"},
			NutritionTags: []string{"vitamin c"}, ActionType: types.ActionInfo},
		{ID: "c", Title: "Bleeding", Text: "go to hospital", Tags: []string{}, SpeechText: "হাসপাতালে যান",
			ActionType: types.ActionEmergency},
	}
}

func vec(dim int, fill float32) []float32 {
	v := make([]float32, dim)
	for i := range v {
		v[i] = fill + float32(i)
	}
	return v
}

func TestDocumentStore(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			docs := store.Documents()

			n, err := docs.Count(ctx)
			require.NoError(t, err)
			assert.Equal(t, 0, n)

			require.NoError(t, docs.PutAll(ctx, sampleGuidelines()))

			n, err = docs.Count(ctx)
			require.NoError(t, err)
			assert.Equal(t, 3, n)

			all, err := docs.GetAll(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"a", "b", "c"}, guidelineIDs(all))
			assert.Equal(t, []string{"vitamin c"}, all[1].NutritionTags)
			assert.Equal(t, "হাসপাতালে যান", all[2].SpeechText)
			assert.NotNil(t, all[2].Tags)
		})
	}
}

func TestPutAllIsIdempotent(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			docs := store.Documents()

			require.NoError(t, docs.PutAll(ctx, sampleGuidelines()))
			updated := sampleGuidelines()
			updated[0].Title = "High Fever"
			require.NoError(t, docs.PutAll(ctx, updated))

			n, err := docs.Count(ctx)
			require.NoError(t, err)
			assert.Equal(t, 3, n)

			all, err := docs.GetAll(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"a", "b", "c"}, guidelineIDs(all), "seed order survives upsert")
			assert.Equal(t, "High Fever", all[0].Title)
		})
	}
}

func TestGetManyPreservesOrder(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			docs := store.Documents()
			require.NoError(t, docs.PutAll(ctx, sampleGuidelines()))

			got, err := docs.GetMany(ctx, []string{"c", "missing", "a"})
			require.NoError(t, err)
			assert.Equal(t, []string{"c", "a"}, guidelineIDs(got))

			got, err = docs.GetMany(ctx, nil)
			require.NoError(t, err)
			assert.Empty(t, got)
		})
	}
}

func TestClearAndReplaceAll(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			vectors := store.Vectors()

			_, err := vectors.Generation(ctx)
			assert.ErrorIs(t, err, ErrNotFound)

			first := []types.VectorRecord{
				{GuidelineID: "a", Vector: vec(4, 1)},
				{GuidelineID: "b", Vector: vec(4, 2)},
				{GuidelineID: "c", Vector: vec(4, 3)},
			}
			gen := &Generation{Model: "mock/v1@4", CorpusHash: "h1"}
			require.NoError(t, vectors.ClearAndReplaceAll(ctx, gen, first))
			assert.NotEmpty(t, gen.ID)
			assert.Equal(t, 4, gen.Dimension)

			n, err := vectors.Count(ctx)
			require.NoError(t, err)
			assert.Equal(t, 3, n)

			second := []types.VectorRecord{
				{GuidelineID: "a", Vector: vec(8, 5)},
				{GuidelineID: "b", Vector: vec(8, 6)},
			}
			require.NoError(t, vectors.ClearAndReplaceAll(ctx, &Generation{Model: "mock/v2@8"}, second))

			n, err = vectors.Count(ctx)
			require.NoError(t, err)
			assert.Equal(t, len(second), n, "no leftovers from the previous set")

			all, err := vectors.GetAll(ctx)
			require.NoError(t, err)
			require.Len(t, all, 2)
			for _, rec := range all {
				assert.Len(t, rec.Vector, 8)
			}
			assert.Equal(t, vec(8, 5), all[0].Vector)

			stamp, err := vectors.Generation(ctx)
			require.NoError(t, err)
			assert.Equal(t, "mock/v2@8", stamp.Model)
			assert.Equal(t, 8, stamp.Dimension)
			assert.Equal(t, 2, stamp.VectorCount)
		})
	}
}

func TestClearAndReplaceAllRejectsInvalidSets(t *testing.T) {
	tests := []struct {
		name    string
		records []types.VectorRecord
		wantErr error
	}{
		{
			name: "mixed dimensions",
			records: []types.VectorRecord{
				{GuidelineID: "a", Vector: vec(4, 1)},
				{GuidelineID: "b", Vector: vec(3, 1)},
			},
			wantErr: types.ErrDimensionMismatch,
		},
		{
			name: "missing id",
			records: []types.VectorRecord{
				{GuidelineID: "", Vector: vec(4, 1)},
			},
			wantErr: types.ErrMissingID,
		},
		{
			name: "duplicate id",
			records: []types.VectorRecord{
				{GuidelineID: "a", Vector: vec(4, 1)},
				{GuidelineID: "a", Vector: vec(4, 2)},
			},
		},
	}

	for name, store := range backends(t) {
		for _, tt := range tests {
			t.Run(name+"/"+tt.name, func(t *testing.T) {
				ctx := context.Background()
				vectors := store.Vectors()

				original := []types.VectorRecord{{GuidelineID: "x", Vector: vec(2, 1)}}
				require.NoError(t, vectors.ClearAndReplaceAll(ctx, nil, original))

				err := vectors.ClearAndReplaceAll(ctx, nil, tt.records)
				require.Error(t, err)
				if tt.wantErr != nil {
					assert.ErrorIs(t, err, tt.wantErr)
				}

				// The previous set must be untouched
				all, err := vectors.GetAll(ctx)
				require.NoError(t, err)
				assert.Equal(t, original, all)
			})
		}
	}
}

func TestGetAllReturnsCopies(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, store.Vectors().ClearAndReplaceAll(ctx, nil,
				[]types.VectorRecord{{GuidelineID: "a", Vector: []float32{1, 2}}}))

			all, err := store.Vectors().GetAll(ctx)
			require.NoError(t, err)
			all[0].Vector[0] = 99

			again, err := store.Vectors().GetAll(ctx)
			require.NoError(t, err)
			assert.Equal(t, float32(1), again[0].Vector[0])
		})
	}
}

func TestSQLiteStoragePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "guidesearch.db")

	store, err := NewSQLiteStorage(path)
	require.NoError(t, err)
	require.NoError(t, store.Documents().PutAll(ctx, sampleGuidelines()))
	require.NoError(t, store.Vectors().ClearAndReplaceAll(ctx, &Generation{Model: "m"},
		[]types.VectorRecord{{GuidelineID: "a", Vector: vec(3, 0)}}))
	require.NoError(t, store.Close())

	reopened, err := NewSQLiteStorage(path)
	require.NoError(t, err)
	defer reopened.Close()

	n, err := reopened.Documents().Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = reopened.Vectors().Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	gen, err := reopened.Vectors().Generation(ctx)
	require.NoError(t, err)
	assert.Equal(t, "m", gen.Model)
}

func TestMatches(t *testing.T) {
	gen := &Generation{Model: "local/feature-hash@384", Dimension: 384, CorpusHash: "abc"}

	assert.True(t, gen.Matches("local/feature-hash@384", 384, "abc"))
	assert.False(t, gen.Matches("local/feature-hash@384", 768, "abc"))
	assert.False(t, gen.Matches("openai/text-embedding-3-small@1536", 384, "abc"))
	assert.False(t, gen.Matches("local/feature-hash@384", 384, "changed"))

	var missing *Generation
	assert.False(t, missing.Matches("x", 1, ""))
}

func guidelineIDs(gs []types.Guideline) []string {
	ids := make([]string, len(gs))
	for i, g := range gs {
		ids[i] = g.ID
	}
	return ids
}

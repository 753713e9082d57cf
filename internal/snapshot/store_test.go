package snapshot

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/model-lineage/pipeline/internal/lineage"
)

func testRecords() []lineage.Record {
	return []lineage.Record{
		{ID: "org/model", Kind: lineage.KindModel, Downloads: 10},
		{ID: "org/corpus", Kind: lineage.KindDataset},
	}
}

func testRels() []lineage.Relationship {
	return []lineage.Relationship{
		{
			Source: "org/model", SourceKind: lineage.KindModel,
			Target: "org/corpus", TargetKind: lineage.KindDataset,
			Type: lineage.RelTrainedOn,
		},
	}
}

func TestSaveAndLatest(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	saved, err := store.Save(testRecords(), testRels())
	require.NoError(t, err)
	assert.NotEmpty(t, saved.ID)

	latest, err := store.Latest()
	require.NoError(t, err)

	assert.Equal(t, saved.ID, latest.ID)
	assert.Len(t, latest.Records, 2)
	assert.Len(t, latest.Relationships, 1)
	assert.Equal(t, "org/model", latest.Records[0].ID)
}

func TestLatestWithoutSnapshots(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.Latest()
	assert.ErrorIs(t, err, ErrNoSnapshot)
}

func TestLatestPicksNewest(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	require.NoError(t, err)

	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	captures := 0
	store.now = func() time.Time {
		captures++
		return base.Add(time.Duration(captures) * time.Second)
	}

	_, err = store.Save(testRecords(), nil)
	require.NoError(t, err)
	second, err := store.Save(testRecords(), testRels())
	require.NoError(t, err)

	latest, err := store.Latest()
	require.NoError(t, err)
	assert.Equal(t, second.ID, latest.ID)
	assert.Len(t, latest.Relationships, 1)
}

func TestSaveSameSecondGetsDistinctIDs(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	fixed := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return fixed }

	first, err := store.Save(testRecords(), nil)
	require.NoError(t, err)
	second, err := store.Save(testRecords(), nil)
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)

	// The suffixed capture is the newer one and must win Latest.
	latest, err := store.Latest()
	require.NoError(t, err)
	assert.Equal(t, second.ID, latest.ID)
}

func TestSaveSameSecondOrderingPastTen(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	fixed := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return fixed }

	var last *lineage.Snapshot
	for i := 0; i < 12; i++ {
		last, err = store.Save(testRecords(), nil)
		require.NoError(t, err)
	}

	// Double-digit suffixes must still sort after single-digit ones.
	latest, err := store.Latest()
	require.NoError(t, err)
	assert.Equal(t, last.ID, latest.ID)
}

func TestSaveLeavesNoPartialArtifact(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	require.NoError(t, err)

	_, err = store.Save(testRecords(), nil)
	require.NoError(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".tmp")
	}
}

func TestPruneKeepsNewest(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	require.NoError(t, err)

	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	captures := 0
	store.now = func() time.Time {
		captures++
		return base.Add(time.Duration(captures) * time.Second)
	}

	var ids []string
	for i := 0; i < 5; i++ {
		snap, err := store.Save(testRecords(), nil)
		require.NoError(t, err)
		ids = append(ids, snap.ID)
	}

	store.Prune(2)

	names, err := store.artifactNames()
	require.NoError(t, err)
	require.Len(t, names, 2)

	latest, err := store.Latest()
	require.NoError(t, err)
	assert.Equal(t, ids[4], latest.ID)
}

func TestPruneFewerThanKeep(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.Save(testRecords(), nil)
	require.NoError(t, err)

	store.Prune(10)

	names, err := store.artifactNames()
	require.NoError(t, err)
	assert.Len(t, names, 1)
}

func TestPruneIgnoresForeignFiles(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("keep me"), 0644))

	_, err = store.Save(testRecords(), nil)
	require.NoError(t, err)
	store.Prune(1)

	_, err = os.Stat(filepath.Join(dir, "notes.txt"))
	assert.NoError(t, err)
}

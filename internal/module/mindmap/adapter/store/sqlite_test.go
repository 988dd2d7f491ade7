package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testRecord(id string, createdAt time.Time) Record {
	return Record{
		ID:            id,
		DocumentID:    "/videos/go-tutorial.json",
		DocumentTitle: "Goチュートリアル",
		ModelID:       "test-model",
		PromptDigest:  "deadbeef",
		NodeCount:     12,
		Payload:       []byte(`{"meta":{},"root":{"id":1,"title":"ルート","children":null}}`),
		CreatedAt:     createdAt,
	}
}

func TestOpenCreatesSchema(t *testing.T) {
	s := openTestStore(t)

	// マイグレーション適用済みであれば空リストが返る
	records, err := s.ListGenerations(context.Background())
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestOpenOnDisk(t *testing.T) {
	dir := t.TempDir()

	s, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	// 再オープンしてもマイグレーションは冪等
	s, err = Open(dir)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.ListGenerations(context.Background())
	assert.NoError(t, err)
}

func TestSaveAndGetGeneration(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rec := testRecord("job-1", time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC))
	require.NoError(t, s.SaveGeneration(ctx, rec))

	got, err := s.GetGeneration(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)
	assert.Equal(t, rec.DocumentID, got.DocumentID)
	assert.Equal(t, rec.DocumentTitle, got.DocumentTitle)
	assert.Equal(t, rec.ModelID, got.ModelID)
	assert.Equal(t, rec.PromptDigest, got.PromptDigest)
	assert.Equal(t, rec.NodeCount, got.NodeCount)
	assert.Equal(t, rec.Payload, got.Payload)
	assert.True(t, rec.CreatedAt.Equal(got.CreatedAt))
}

func TestGetGenerationNotFound(t *testing.T) {
	s := openTestStore(t)

	_, err := s.GetGeneration(context.Background(), "no-such-job")
	assert.ErrorIs(t, err, ErrNotFound)
}

// TestListGenerationsOrder は履歴が新しい順に返ることを確認します
func TestListGenerationsOrder(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.SaveGeneration(ctx, testRecord("job-old", base)))
	require.NoError(t, s.SaveGeneration(ctx, testRecord("job-new", base.Add(time.Hour))))

	records, err := s.ListGenerations(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "job-new", records[0].ID)
	assert.Equal(t, "job-old", records[1].ID)

	// 一覧にはペイロードを含めない
	assert.Nil(t, records[0].Payload)
}

func TestSaveGenerationDuplicateID(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rec := testRecord("job-1", time.Now().UTC())
	require.NoError(t, s.SaveGeneration(ctx, rec))

	// 主キー衝突はエラーになる
	assert.Error(t, s.SaveGeneration(ctx, rec))
}

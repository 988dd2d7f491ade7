package application

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	llmdomain "github.com/jinford/submind/internal/module/llm/domain"
	"github.com/jinford/submind/internal/module/llm/llmtest"
	"github.com/jinford/submind/internal/module/mindmap/adapter/export"
	"github.com/jinford/submind/internal/module/mindmap/domain"
	subtitle "github.com/jinford/submind/internal/module/subtitle/domain"
)

const validOutline = `- トピックA: 前半の要点
  - 詳細1
- トピックB: 後半の要点`

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testConfig はテスト向けにバックオフを最小化した設定を返します
func testConfig() Config {
	return Config{
		MaxUnitChars: 10000,
		BaseBackoff:  time.Millisecond,
		MaxBackoff:   2 * time.Millisecond,
	}
}

func testDoc(id string) domain.Document {
	return domain.Document{
		ID:    id,
		Title: "Goチュートリアル",
		Track: subtitle.Track{
			{Index: 0, StartMs: 0, EndMs: 8000, Text: "今日はGoの話をします"},
			{Index: 1, StartMs: 8000, EndMs: 20000, Text: "まずは基本構文から"},
			{Index: 2, StartMs: 20000, EndMs: 30000, Text: "次に並行処理です"},
		},
	}
}

// eventRecorder はテスト用のスレッドセーフなイベント記録です
type eventRecorder struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *eventRecorder) Notify(e domain.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *eventRecorder) byKind(kind domain.EventKind) []domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Event
	for _, e := range r.events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

func waitJob(t *testing.T, job *domain.Job) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, job.Wait(ctx))
}

func TestGenerateSuccess(t *testing.T) {
	mock := &llmtest.MockClient{
		GenerateFunc: func(ctx context.Context, req llmdomain.CompletionRequest) (llmdomain.CompletionResponse, error) {
			return llmdomain.CompletionResponse{Content: validOutline, Model: "mock-model"}, nil
		},
	}

	orch, err := New(mock, testConfig(), testLogger())
	require.NoError(t, err)

	rec := &eventRecorder{}
	orch.Subscribe(rec)

	doc := testDoc("doc-1")
	job, err := orch.Start(context.Background(), doc, "")
	require.NoError(t, err)

	waitJob(t, job)
	require.Equal(t, domain.JobSucceeded, job.Status())

	tree := job.Tree()
	require.NotNil(t, tree)

	// ルートはドキュメント表示名とトラック全範囲を持つ
	assert.Equal(t, "Goチュートリアル", tree.Root.Title)
	require.NotNil(t, tree.Root.SourceRange)
	assert.Equal(t, doc.Track.Range(), *tree.Root.SourceRange)

	// 1セグメントの葉出力がルート直下に接続される
	require.Len(t, tree.Root.Children, 2)
	assert.Equal(t, "トピックA", tree.Root.Children[0].Title)
	assert.Equal(t, "前半の要点", tree.Root.Children[0].Body)
	require.Len(t, tree.Root.Children[0].Children, 1)
	assert.Equal(t, "トピックB", tree.Root.Children[1].Title)

	// メタデータ: モデルIDと64桁の16進ダイジェスト
	assert.Equal(t, "mock-model", tree.Meta.ModelID)
	assert.Len(t, tree.Meta.PromptDigest, 64)
	assert.False(t, tree.Meta.GeneratedAt.IsZero())

	// ツリー不変条件を満たす
	assert.NoError(t, tree.Validate())

	// Started / UnitProgress / Succeeded が配送される
	assert.Len(t, rec.byKind(domain.EventStarted), 1)
	assert.Len(t, rec.byKind(domain.EventUnitProgress), 1)
	assert.Len(t, rec.byKind(domain.EventSucceeded), 1)
}

func TestGenerateStartValidation(t *testing.T) {
	mock := &llmtest.MockClient{}
	orch, err := New(mock, testConfig(), testLogger())
	require.NoError(t, err)

	_, err = orch.Start(context.Background(), domain.Document{}, "")
	assert.Error(t, err)
}

func TestGenerateEmptyTrack(t *testing.T) {
	mock := &llmtest.MockClient{}
	orch, err := New(mock, testConfig(), testLogger())
	require.NoError(t, err)

	job, err := orch.Start(context.Background(), domain.Document{ID: "doc-1"}, "")
	require.NoError(t, err)

	waitJob(t, job)
	assert.Equal(t, domain.JobFailed, job.Status())
	assert.ErrorIs(t, job.Err(), subtitle.ErrEmptyTrack)
	assert.Zero(t, mock.CallCount())
}

// TestGenerateTransportRetry はトランスポート失敗がバックオフ付きで
// リトライされ、成功に回復することを確認します
func TestGenerateTransportRetry(t *testing.T) {
	var attempts atomic.Int32
	mock := &llmtest.MockClient{
		GenerateFunc: func(ctx context.Context, req llmdomain.CompletionRequest) (llmdomain.CompletionResponse, error) {
			if attempts.Add(1) == 1 {
				return llmdomain.CompletionResponse{}, llmdomain.Transport(errors.New("connection reset"))
			}
			return llmdomain.CompletionResponse{Content: validOutline}, nil
		},
	}

	orch, err := New(mock, testConfig(), testLogger())
	require.NoError(t, err)

	job, err := orch.Start(context.Background(), testDoc("doc-1"), "")
	require.NoError(t, err)

	waitJob(t, job)
	assert.Equal(t, domain.JobSucceeded, job.Status())
	assert.Equal(t, 2, mock.CallCount())
}

func TestGenerateRetriesExhausted(t *testing.T) {
	mock := &llmtest.MockClient{
		GenerateFunc: func(ctx context.Context, req llmdomain.CompletionRequest) (llmdomain.CompletionResponse, error) {
			return llmdomain.CompletionResponse{}, llmdomain.Transport(errors.New("connection reset"))
		},
	}

	cfg := testConfig()
	cfg.MaxRetries = 1
	orch, err := New(mock, cfg, testLogger())
	require.NoError(t, err)

	rec := &eventRecorder{}
	orch.Subscribe(rec)

	job, err := orch.Start(context.Background(), testDoc("doc-1"), "")
	require.NoError(t, err)

	waitJob(t, job)
	assert.Equal(t, domain.JobFailed, job.Status())
	assert.ErrorIs(t, job.Err(), llmdomain.ErrMaxRetriesExceeded)
	assert.Nil(t, job.Tree())

	// トランスポート起因の失敗はリトライで回復の見込みあり
	assert.True(t, job.RetryLikely())

	// 初回 + リトライ1回
	assert.Equal(t, 2, mock.CallCount())
	assert.Len(t, rec.byKind(domain.EventFailed), 1)
}

// TestGenerateCorrectiveReprompt は散文しか返さないモデルに対して
// 是正再プロンプトがちょうど1回だけ発行されることを確認します
func TestGenerateCorrectiveReprompt(t *testing.T) {
	mock := &llmtest.MockClient{
		GenerateFunc: func(ctx context.Context, req llmdomain.CompletionRequest) (llmdomain.CompletionResponse, error) {
			return llmdomain.CompletionResponse{Content: "この動画は要約すると、Goの入門講座です。"}, nil
		},
	}

	orch, err := New(mock, testConfig(), testLogger())
	require.NoError(t, err)

	job, err := orch.Start(context.Background(), testDoc("doc-1"), "")
	require.NoError(t, err)

	waitJob(t, job)
	assert.Equal(t, domain.JobFailed, job.Status())
	assert.ErrorIs(t, job.Err(), domain.ErrContentParse)
	assert.Nil(t, job.Tree())

	// コンテンツ失敗はリトライの対象外
	assert.False(t, job.RetryLikely())

	// 元プロンプト + 是正再プロンプトの計2回のみ
	calls := mock.Calls()
	require.Len(t, calls, 2)
	assert.Contains(t, calls[1].Prompt, calls[0].Prompt)
}

func TestGenerateCorrectiveRecovery(t *testing.T) {
	var attempts atomic.Int32
	mock := &llmtest.MockClient{
		GenerateFunc: func(ctx context.Context, req llmdomain.CompletionRequest) (llmdomain.CompletionResponse, error) {
			if attempts.Add(1) == 1 {
				return llmdomain.CompletionResponse{Content: "前置きだけの応答です。"}, nil
			}
			return llmdomain.CompletionResponse{Content: validOutline}, nil
		},
	}

	orch, err := New(mock, testConfig(), testLogger())
	require.NoError(t, err)

	job, err := orch.Start(context.Background(), testDoc("doc-1"), "")
	require.NoError(t, err)

	waitJob(t, job)
	assert.Equal(t, domain.JobSucceeded, job.Status())
	assert.Equal(t, 2, mock.CallCount())
}

// TestGenerateSupersession は同一ドキュメントへの新規開始が先行ジョブを
// キャンセルし、キャンセルされたジョブがツリーを公開しないことを確認します
func TestGenerateSupersession(t *testing.T) {
	var released atomic.Bool
	mock := &llmtest.MockClient{
		GenerateFunc: func(ctx context.Context, req llmdomain.CompletionRequest) (llmdomain.CompletionResponse, error) {
			if released.Load() {
				return llmdomain.CompletionResponse{Content: validOutline}, nil
			}
			// 解放前の呼び出しはキャンセルまでブロックする
			<-ctx.Done()
			return llmdomain.CompletionResponse{}, llmdomain.Transport(ctx.Err())
		},
	}

	orch, err := New(mock, testConfig(), testLogger())
	require.NoError(t, err)

	rec := &eventRecorder{}
	orch.Subscribe(rec)

	job1, err := orch.Start(context.Background(), testDoc("doc-1"), "")
	require.NoError(t, err)

	// 先行ジョブのモデル呼び出しが始まるまで待つ
	require.Eventually(t, func() bool {
		return mock.CallCount() > 0
	}, 5*time.Second, time.Millisecond)

	released.Store(true)
	job2, err := orch.Start(context.Background(), testDoc("doc-1"), "")
	require.NoError(t, err)

	// 先行ジョブは同期的にキャンセルされている
	assert.Equal(t, domain.JobCancelled, job1.Status())
	assert.Nil(t, job1.Tree())

	waitJob(t, job2)
	assert.Equal(t, domain.JobSucceeded, job2.Status())
	assert.NotNil(t, job2.Tree())

	cancelled := rec.byKind(domain.EventCancelled)
	require.Len(t, cancelled, 1)
	assert.Equal(t, job1.ID(), cancelled[0].JobID)
}

// TestGenerateProgressOrdering は内部の呼び出しが順不同で完了しても
// UnitProgressイベントがディスパッチ順に配送されることを確認します
func TestGenerateProgressOrdering(t *testing.T) {
	doc := domain.Document{
		ID:    "doc-1",
		Title: "順序テスト",
		Track: subtitle.Track{
			{Index: 0, StartMs: 0, EndMs: 1000, Text: "unit-a segment text"},
			{Index: 1, StartMs: 1000, EndMs: 2000, Text: "unit-b segment text"},
			{Index: 2, StartMs: 2000, EndMs: 3000, Text: "unit-c segment text"},
		},
	}

	// 完了順を逆転させる: cが終わるまでbを、bが終わるまでaを待たせる
	cDone := make(chan struct{})
	bDone := make(chan struct{})
	mock := &llmtest.MockClient{
		GenerateFunc: func(ctx context.Context, req llmdomain.CompletionRequest) (llmdomain.CompletionResponse, error) {
			switch {
			case strings.Contains(req.Prompt, "unit-a"):
				<-bDone
			case strings.Contains(req.Prompt, "unit-b"):
				<-cDone
				defer close(bDone)
			case strings.Contains(req.Prompt, "unit-c"):
				defer close(cDone)
			}
			return llmdomain.CompletionResponse{Content: validOutline}, nil
		},
	}

	cfg := testConfig()
	cfg.MaxUnitChars = 20
	cfg.OverlapCues = 0
	cfg.Parallelism = 3
	orch, err := New(mock, cfg, testLogger())
	require.NoError(t, err)

	rec := &eventRecorder{}
	orch.Subscribe(rec)

	job, err := orch.Start(context.Background(), doc, "")
	require.NoError(t, err)

	waitJob(t, job)
	require.Equal(t, domain.JobSucceeded, job.Status())

	progress := rec.byKind(domain.EventUnitProgress)
	require.Len(t, progress, 3)
	for i, e := range progress {
		assert.Equal(t, i+1, e.Unit)
		assert.Equal(t, 3, e.TotalUnits)
	}
}

// TestGenerateRollup は葉ノード数がFanOutを超える場合に隣接グループが
// 上位ノードへ集約されることを確認します
func TestGenerateRollup(t *testing.T) {
	leafOutline := `- 見出し1
- 見出し2
- 見出し3
- 見出し4`

	mock := &llmtest.MockClient{
		GenerateFunc: func(ctx context.Context, req llmdomain.CompletionRequest) (llmdomain.CompletionResponse, error) {
			if strings.Contains(req.Prompt, "兄弟ノード:") {
				return llmdomain.CompletionResponse{Content: "- まとめ: グループの要約"}, nil
			}
			return llmdomain.CompletionResponse{Content: leafOutline}, nil
		},
	}

	cfg := testConfig()
	cfg.FanOut = 2
	orch, err := New(mock, cfg, testLogger())
	require.NoError(t, err)

	rec := &eventRecorder{}
	orch.Subscribe(rec)

	job, err := orch.Start(context.Background(), testDoc("doc-1"), "")
	require.NoError(t, err)

	waitJob(t, job)
	require.Equal(t, domain.JobSucceeded, job.Status())

	tree := job.Tree()
	require.NotNil(t, tree)

	// 4つの葉が2グループに集約され、ルート直下は上位ノード2つになる
	require.Len(t, tree.Root.Children, 2)
	for _, parent := range tree.Root.Children {
		assert.Equal(t, "まとめ", parent.Title)
		assert.Len(t, parent.Children, 2)
	}

	// 計画ユニット数はロールアップ分だけ増える（葉1 + ロールアップ2）
	progress := rec.byKind(domain.EventUnitProgress)
	require.Len(t, progress, 3)
	assert.Equal(t, 3, progress[len(progress)-1].TotalUnits)

	assert.NoError(t, tree.Validate())
}

// TestGenerateIdempotent は固定クロック下で同一入力から
// バイト単位で同一のアーティファクトが得られることを確認します
func TestGenerateIdempotent(t *testing.T) {
	fixed := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time { return fixed }

	generate := func() *domain.Tree {
		mock := &llmtest.MockClient{
			GenerateFunc: func(ctx context.Context, req llmdomain.CompletionRequest) (llmdomain.CompletionResponse, error) {
				return llmdomain.CompletionResponse{Content: validOutline}, nil
			},
		}
		orch, err := New(mock, testConfig(), testLogger(), WithClock(clock))
		require.NoError(t, err)

		job, err := orch.Start(context.Background(), testDoc("doc-1"), "")
		require.NoError(t, err)
		waitJob(t, job)
		require.Equal(t, domain.JobSucceeded, job.Status())
		return job.Tree()
	}

	tree1 := generate()
	tree2 := generate()

	assert.Equal(t, tree1.Meta.PromptDigest, tree2.Meta.PromptDigest)

	a, err := export.Export(tree1)
	require.NoError(t, err)
	b, err := export.Export(tree2)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(a, b))
}

// TestGenerateInstructionsInPrompt はカスタム指示が発行される
// プロンプトに含まれることを確認します
func TestGenerateInstructionsInPrompt(t *testing.T) {
	mock := &llmtest.MockClient{
		GenerateFunc: func(ctx context.Context, req llmdomain.CompletionRequest) (llmdomain.CompletionResponse, error) {
			return llmdomain.CompletionResponse{Content: validOutline}, nil
		},
	}

	orch, err := New(mock, testConfig(), testLogger())
	require.NoError(t, err)

	job, err := orch.Start(context.Background(), testDoc("doc-1"), "専門用語は英語のまま")
	require.NoError(t, err)
	waitJob(t, job)

	calls := mock.Calls()
	require.NotEmpty(t, calls)
	assert.Contains(t, calls[0].Prompt, "専門用語は英語のまま")
}

// Package application はマインドマップ生成のジョブライフサイクルを統括します。
// オーケストレータはキャンセルと並行性を知る唯一のコンポーネントです。
package application

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	llmdomain "github.com/jinford/submind/internal/module/llm/domain"
	"github.com/jinford/submind/internal/module/mindmap/adapter/outline"
	"github.com/jinford/submind/internal/module/mindmap/adapter/prompt"
	"github.com/jinford/submind/internal/module/mindmap/domain"
	"github.com/jinford/submind/internal/module/subtitle/adapter/segmenter"
	subtitle "github.com/jinford/submind/internal/module/subtitle/domain"
)

const (
	// DefaultRootTitle はドキュメント表示名がない場合のルートタイトル
	DefaultRootTitle = "マインドマップ"
)

// Config は生成フローのチューニングパラメータです
type Config struct {
	// MaxUnitChars は1セグメントの連結テキスト文字数上限（デフォルト: 3000）
	MaxUnitChars int
	// OverlapCues はセグメント間で繰り返す文脈キュー数（デフォルト: 2）
	OverlapCues int
	// FanOut は葉ノード数がこれを超えるとロールアップを行う閾値（デフォルト: 6）
	FanOut int
	// MaxDepth はロールアップの最大ラウンド数（デフォルト: 3）
	MaxDepth int
	// MaxRetries はトランスポート失敗時の最大リトライ回数（デフォルト: 2）
	MaxRetries int
	// BaseBackoff はExponential Backoffの基底時間（デフォルト: 2s）
	BaseBackoff time.Duration
	// MaxBackoff はバックオフ待機の上限（デフォルト: 32s）
	MaxBackoff time.Duration
	// Parallelism はモデル呼び出しの最大並列数（デフォルト: 4）
	Parallelism int
	// MaxPromptTokens はプロンプトの字幕コンテキストのトークン上限
	MaxPromptTokens int
	// MaxLevelSkip はアウトライン修復で許容するインデント飛びの最大段数
	MaxLevelSkip int
	// Temperature は生成温度（デフォルト: 0.7）
	Temperature float64
	// MaxCompletionTokens は生成トークン数の上限（0で未指定）
	MaxCompletionTokens int
}

// DefaultConfig はデフォルト設定を返します
func DefaultConfig() Config {
	return Config{
		MaxUnitChars: 3000,
		OverlapCues:  2,
		FanOut:       6,
		MaxDepth:     3,
		MaxRetries:   2,
		BaseBackoff:  2 * time.Second,
		MaxBackoff:   32 * time.Second,
		Parallelism:  4,
		Temperature:  0.7,
	}
}

// withDefaults はゼロ値の項目をデフォルトで埋めた設定を返します
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.MaxUnitChars <= 0 {
		c.MaxUnitChars = def.MaxUnitChars
	}
	if c.OverlapCues < 0 {
		c.OverlapCues = def.OverlapCues
	}
	if c.FanOut <= 0 {
		c.FanOut = def.FanOut
	}
	if c.MaxDepth <= 0 {
		c.MaxDepth = def.MaxDepth
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = def.MaxRetries
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = def.BaseBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = def.MaxBackoff
	}
	if c.Parallelism <= 0 {
		c.Parallelism = def.Parallelism
	}
	if c.Temperature == 0 {
		c.Temperature = def.Temperature
	}
	return c
}

// Orchestrator は生成ジョブのライフサイクルを所有します。
// ドキュメントごとに高々1つのRunningジョブをミューテックスで保証し、
// 同一ドキュメントへの新規開始が唯一のキャンセル契機です。
type Orchestrator struct {
	client    llmdomain.Client
	segmenter *segmenter.Segmenter
	prompts   *prompt.Builder
	parser    *outline.Parser
	cfg       Config
	log       *slog.Logger
	now       func() time.Time

	mu        sync.Mutex
	running   map[string]*jobHandle
	observers []domain.Observer
}

// jobHandle はドキュメントのジョブスロットに入る実行中ジョブです
type jobHandle struct {
	job    *domain.Job
	cancel context.CancelFunc
}

// Option はOrchestratorの生成オプションです
type Option func(*Orchestrator)

// WithClock は生成時刻の取得関数を差し替えます（テスト用）
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// New は新しいOrchestratorを作成します
func New(client llmdomain.Client, cfg Config, log *slog.Logger, opts ...Option) (*Orchestrator, error) {
	if client == nil {
		return nil, fmt.Errorf("llm client is required")
	}
	if log == nil {
		log = slog.Default()
	}
	cfg = cfg.withDefaults()

	seg, err := segmenter.New(cfg.MaxUnitChars, cfg.OverlapCues, log)
	if err != nil {
		return nil, err
	}
	prompts, err := prompt.NewBuilder(cfg.MaxPromptTokens)
	if err != nil {
		return nil, err
	}

	o := &Orchestrator{
		client:    client,
		segmenter: seg,
		prompts:   prompts,
		parser:    outline.NewParser(cfg.MaxLevelSkip),
		cfg:       cfg,
		log:       log,
		now:       time.Now,
		running:   make(map[string]*jobHandle),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Subscribe は進捗イベントの受け手を登録します
func (o *Orchestrator) Subscribe(obs domain.Observer) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.observers = append(o.observers, obs)
}

// Start はドキュメントの生成ジョブを開始します。
// 同一ドキュメントに実行中のジョブがあれば、先にCancelledへ遷移させてから
// 新しいジョブを作成します。キャンセルされたジョブがツリーを公開することは
// ありません。生成は呼び出し元をブロックせず、別ゴルーチンで進行します。
func (o *Orchestrator) Start(ctx context.Context, doc domain.Document, instructions string) (*domain.Job, error) {
	if doc.ID == "" {
		return nil, fmt.Errorf("document ID is required")
	}

	o.mu.Lock()
	if prev, ok := o.running[doc.ID]; ok {
		prev.cancel()
		if prev.job.Cancel() {
			o.notifyLocked(domain.Event{
				JobID:      prev.job.ID(),
				DocumentID: doc.ID,
				Kind:       domain.EventCancelled,
			})
		}
		delete(o.running, doc.ID)
	}

	job := domain.NewJob(uuid.NewString(), doc.ID)
	jobCtx, cancel := context.WithCancel(ctx)
	handle := &jobHandle{job: job, cancel: cancel}
	o.running[doc.ID] = handle
	o.mu.Unlock()

	o.log.Info("generation job starting",
		"jobID", job.ID(),
		"documentID", doc.ID,
		"cues", len(doc.Track),
	)

	go o.run(jobCtx, handle, doc, instructions)

	return job, nil
}

// run はジョブの生成フロー全体を実行します（ワーカーゴルーチン）
func (o *Orchestrator) run(ctx context.Context, handle *jobHandle, doc domain.Document, instructions string) {
	job := handle.job
	defer func() {
		handle.cancel()
		o.mu.Lock()
		if o.running[doc.ID] == handle {
			delete(o.running, doc.ID)
		}
		o.mu.Unlock()
	}()

	if !job.Run() {
		// 開始前にキャンセル済み
		return
	}

	segs, err := o.segmenter.Split(doc.Track)
	if err != nil {
		o.finishErr(ctx, job, doc, err)
		return
	}

	// 葉プロンプトはディスパッチ順にダイジェストへ畳み込む
	digest := sha256.New()
	leafPrompts := make([]string, len(segs))
	for i, seg := range segs {
		leafPrompts[i] = o.prompts.BuildLeafPrompt(seg, instructions)
		digest.Write([]byte(leafPrompts[i]))
	}

	tracker := newProgressTracker(o, job, doc.ID, len(segs))
	o.publish(domain.Event{
		JobID:      job.ID(),
		DocumentID: doc.ID,
		Kind:       domain.EventStarted,
		TotalUnits: tracker.totalUnits(),
	})

	// 葉フェーズ: セグメントごとに1呼び出し
	leafNodes := make([][]*domain.Node, len(segs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.Parallelism)
	for i, seg := range segs {
		g.Go(func() error {
			nodes, err := o.generateOutline(gctx, leafPrompts[i], seg.Range())
			if err != nil {
				return err
			}
			leafNodes[i] = nodes
			tracker.complete(i)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		o.finishErr(ctx, job, doc, err)
		return
	}

	// セグメント順を保って平坦化
	var level []*domain.Node
	for _, nodes := range leafNodes {
		level = append(level, nodes...)
	}

	// ロールアップフェーズ: 葉がFanOutを超える間、隣接グループを
	// 上位ノードへ集約する（下から上へ、最大MaxDepthラウンド）
	level, err = o.rollup(ctx, job, doc, level, instructions, tracker, digest)
	if err != nil {
		o.finishErr(ctx, job, doc, err)
		return
	}

	rootRange := doc.Track.Range()
	rootTitle := doc.Title
	if rootTitle == "" {
		rootTitle = DefaultRootTitle
	}
	root := &domain.Node{
		Title:       rootTitle,
		SourceRange: &rootRange,
		Children:    level,
	}

	meta := domain.Meta{
		ModelID:      o.client.ModelID(),
		PromptDigest: hex.EncodeToString(digest.Sum(nil)),
		GeneratedAt:  o.now().UTC(),
	}
	tree, err := outline.Finalize(root, meta)
	if err != nil {
		// パーサの欠陥を示すジョブ致命エラー
		o.finishErr(ctx, job, doc, err)
		return
	}

	if job.Succeed(tree) {
		o.log.Info("generation job succeeded",
			"jobID", job.ID(),
			"documentID", doc.ID,
			"nodes", tree.NodeCount(),
		)
		o.publish(domain.Event{
			JobID:      job.ID(),
			DocumentID: doc.ID,
			Kind:       domain.EventSucceeded,
			TotalUnits: tracker.totalUnits(),
		})
	}
	// Succeedがfalseの場合はキャンセル済み: 到着済みの結果は破棄される
}

// rollup は兄弟ノード群を上位ノードへ集約するラウンドを繰り返します
func (o *Orchestrator) rollup(
	ctx context.Context,
	job *domain.Job,
	doc domain.Document,
	level []*domain.Node,
	instructions string,
	tracker *progressTracker,
	digest hash.Hash,
) ([]*domain.Node, error) {
	depth := 0
	for len(level) > o.cfg.FanOut && depth < o.cfg.MaxDepth {
		groups := chunkNodes(level, o.cfg.FanOut)

		// 上位文脈: 2ラウンド目以降は前ラウンドの見出しを渡す
		ancestor := ""
		if depth > 0 {
			ancestor = titlesLine(level)
		}

		rollupPrompts := make([]string, len(groups))
		for j, grp := range groups {
			rollupPrompts[j] = o.prompts.BuildRollupPrompt(grp, instructions, ancestor)
			digest.Write([]byte(rollupPrompts[j]))
		}

		base := tracker.addUnits(len(groups))
		next := make([]*domain.Node, len(groups))

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(o.cfg.Parallelism)
		for j, grp := range groups {
			g.Go(func() error {
				expected := unionRange(grp)
				nodes, err := o.generateOutline(gctx, rollupPrompts[j], expected)
				if err != nil {
					return err
				}

				// 先頭ノードを親として採用する。モデルが返した子は捨て、
				// 実際の兄弟ノード群を接続する。親の範囲は子の範囲の
				// 合併に固定し、包含不変条件を構成的に満たす。
				parent := nodes[0]
				parent.Children = grp
				if expected.IsZero() {
					parent.SourceRange = nil
				} else {
					parent.SourceRange = &expected
				}
				next[j] = parent
				tracker.complete(base + j)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}

		level = next
		depth++
	}
	return level, nil
}

// generateOutline は1ユニット分のモデル呼び出しと解析を行います。
// トランスポート失敗はリトライ、コンテンツ失敗はちょうど1回の是正
// 再プロンプトで回復を試みます。
func (o *Orchestrator) generateOutline(ctx context.Context, promptText string, expected subtitle.TimeRange) ([]*domain.Node, error) {
	raw, err := o.callWithRetry(ctx, promptText)
	if err != nil {
		if llmdomain.IsContent(err) {
			return o.reprompt(ctx, promptText, expected, err)
		}
		return nil, err
	}

	nodes, perr := o.parser.Parse(raw, expected)
	if perr != nil {
		if errors.Is(perr, domain.ErrContentParse) {
			return o.reprompt(ctx, promptText, expected, perr)
		}
		return nil, perr
	}
	return nodes, nil
}

// reprompt はコンテンツ失敗後の是正再プロンプトを1回だけ発行します
func (o *Orchestrator) reprompt(ctx context.Context, original string, expected subtitle.TimeRange, cause error) ([]*domain.Node, error) {
	o.log.Warn("content failure, issuing one corrective re-prompt", "error", cause)

	corrective := o.prompts.BuildCorrectivePrompt(original)
	raw, err := o.callWithRetry(ctx, corrective)
	if err != nil {
		if llmdomain.IsContent(err) {
			return nil, fmt.Errorf("%w: corrective re-prompt also unusable: %w", domain.ErrContentParse, err)
		}
		return nil, err
	}

	nodes, perr := o.parser.Parse(raw, expected)
	if perr != nil {
		return nil, perr
	}
	return nodes, nil
}

// callWithRetry はモデルを呼び出し、トランスポート分類の失敗のみ
// Exponential Backoffでリトライします。キャンセルは各呼び出しの前と
// 各リトライの前に確認します。
func (o *Orchestrator) callWithRetry(ctx context.Context, promptText string) (string, error) {
	var lastErr error

	for attempt := 0; attempt <= o.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := o.cfg.BaseBackoff << (attempt - 1)
			if backoff > o.cfg.MaxBackoff {
				backoff = o.cfg.MaxBackoff
			}
			select {
			case <-ctx.Done():
				return "", llmdomain.Transport(ctx.Err())
			case <-time.After(backoff):
			}
		}

		if err := ctx.Err(); err != nil {
			return "", llmdomain.Transport(err)
		}

		resp, err := o.client.GenerateCompletion(ctx, llmdomain.CompletionRequest{
			Prompt:      promptText,
			Temperature: o.cfg.Temperature,
			MaxTokens:   o.cfg.MaxCompletionTokens,
		})
		if err == nil {
			return resp.Content, nil
		}
		lastErr = err

		if llmdomain.IsContent(err) {
			// コンテンツ失敗はトランスポートリトライの対象外
			return "", err
		}

		o.log.Warn("model call failed, will retry",
			"attempt", attempt+1,
			"maxRetries", o.cfg.MaxRetries,
			"error", err,
		)
	}

	return "", llmdomain.Transport(fmt.Errorf("%w: %w", llmdomain.ErrMaxRetriesExceeded, lastErr))
}

// finishErr はジョブを失敗またはキャンセルで終端させます
func (o *Orchestrator) finishErr(ctx context.Context, job *domain.Job, doc domain.Document, err error) {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		if job.Cancel() {
			o.publish(domain.Event{
				JobID:      job.ID(),
				DocumentID: doc.ID,
				Kind:       domain.EventCancelled,
			})
		}
		return
	}

	if job.Fail(err) {
		o.log.Error("generation job failed",
			"jobID", job.ID(),
			"documentID", doc.ID,
			"error", err,
		)
		o.publish(domain.Event{
			JobID:      job.ID(),
			DocumentID: doc.ID,
			Kind:       domain.EventFailed,
			Err:        err,
		})
	}
}

// publish は登録済みオブザーバへイベントを配送します
func (o *Orchestrator) publish(e domain.Event) {
	o.mu.Lock()
	obs := make([]domain.Observer, len(o.observers))
	copy(obs, o.observers)
	o.mu.Unlock()

	for _, ob := range obs {
		ob.Notify(e)
	}
}

// notifyLocked はo.mu保持中のイベント配送に使います
func (o *Orchestrator) notifyLocked(e domain.Event) {
	for _, ob := range o.observers {
		ob.Notify(e)
	}
}

// progressTracker はユニット完了をディスパッチ順に並べ替えて通知します。
// 内部の呼び出しが順不同で完了しても、UnitProgressイベントは常に
// ディスパッチ順で配送されます。
type progressTracker struct {
	mu     sync.Mutex
	o      *Orchestrator
	job    *domain.Job
	docID  string
	done   []bool
	cursor int
}

func newProgressTracker(o *Orchestrator, job *domain.Job, docID string, units int) *progressTracker {
	return &progressTracker{
		o:     o,
		job:   job,
		docID: docID,
		done:  make([]bool, units),
	}
}

// addUnits は後続フェーズのユニットを計画へ追加し、先頭インデックスを返します
func (t *progressTracker) addUnits(n int) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	base := len(t.done)
	t.done = append(t.done, make([]bool, n)...)
	return base
}

// totalUnits は現時点で計画されているユニット総数を返します
func (t *progressTracker) totalUnits() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.done)
}

// complete はユニットの成功を記録し、ディスパッチ順が揃った分だけ
// UnitProgressを配送します。リトライ中に配送されることはありません。
func (t *progressTracker) complete(index int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.job.Status() != domain.JobRunning {
		// キャンセル後に到着した結果は破棄する
		return
	}

	t.done[index] = true
	for t.cursor < len(t.done) && t.done[t.cursor] {
		t.cursor++
		t.o.publish(domain.Event{
			JobID:      t.job.ID(),
			DocumentID: t.docID,
			Kind:       domain.EventUnitProgress,
			Unit:       t.cursor,
			TotalUnits: len(t.done),
		})
	}
}

// chunkNodes はノード列をsizeごとの隣接グループに分割します
func chunkNodes(nodes []*domain.Node, size int) [][]*domain.Node {
	var groups [][]*domain.Node
	for start := 0; start < len(nodes); start += size {
		end := start + size
		if end > len(nodes) {
			end = len(nodes)
		}
		groups = append(groups, nodes[start:end])
	}
	return groups
}

// unionRange はノード群の範囲の合併を返します（範囲なしノードは無視）
func unionRange(nodes []*domain.Node) subtitle.TimeRange {
	var union subtitle.TimeRange
	for _, n := range nodes {
		if n.SourceRange != nil {
			union = union.Union(*n.SourceRange)
		}
	}
	return union
}

// titlesLine はノード群の見出しを1行にまとめます
func titlesLine(nodes []*domain.Node) string {
	titles := make([]string, 0, len(nodes))
	for _, n := range nodes {
		if n.Title != "" {
			titles = append(titles, n.Title)
		}
	}
	return strings.Join(titles, " / ")
}

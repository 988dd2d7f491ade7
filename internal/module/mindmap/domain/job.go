package domain

import (
	"context"
	"errors"
	"sync"

	llmdomain "github.com/jinford/submind/internal/module/llm/domain"
	subtitle "github.com/jinford/submind/internal/module/subtitle/domain"
)

// Document は生成対象のドキュメント（字幕トラック + 識別情報）です
type Document struct {
	// ID はドキュメント識別子。ジョブスロットはこの単位で管理されます。
	ID string

	// Title は合成ルートノードの見出しに使われる表示名
	Title string

	// Track は字幕パーサから供給された検証済みキュー列
	Track subtitle.Track
}

// JobStatus は生成ジョブの状態です
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// Terminal は終端状態かどうかを返します。終端状態からの遷移はありません。
func (s JobStatus) Terminal() bool {
	switch s {
	case JobSucceeded, JobFailed, JobCancelled:
		return true
	}
	return false
}

// Job は1回の生成ジョブを表します。
// 状態はオーケストレータのみが遷移させます。終端状態に入ると
// Done チャネルが閉じられ、以後の状態は変化しません。
type Job struct {
	id         string
	documentID string

	mu     sync.Mutex
	status JobStatus
	tree   *Tree
	err    error
	done   chan struct{}
}

// NewJob はPending状態の新しいジョブを作成します
func NewJob(id, documentID string) *Job {
	return &Job{
		id:         id,
		documentID: documentID,
		status:     JobPending,
		done:       make(chan struct{}),
	}
}

// ID はジョブIDを返します
func (j *Job) ID() string { return j.id }

// DocumentID は対象ドキュメントIDを返します
func (j *Job) DocumentID() string { return j.documentID }

// Status は現在の状態を返します
func (j *Job) Status() JobStatus {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

// Tree は成功時に公開されたツリーを返します（未成功ならnil）
func (j *Job) Tree() *Tree {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.tree
}

// Err は失敗理由を返します（失敗していなければnil）
func (j *Job) Err() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.err
}

// Done はジョブが終端状態に達すると閉じられるチャネルを返します
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Wait はジョブの終端到達またはcontextのキャンセルまでブロックします
func (j *Job) Wait(ctx context.Context) error {
	select {
	case <-j.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RetryLikely は再試行で成功する見込みがあるか（トランスポート起因の失敗か）を返します
func (j *Job) RetryLikely() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status != JobFailed || j.err == nil {
		return false
	}
	if errors.Is(j.err, ErrContentParse) {
		return false
	}
	return llmdomain.IsTransport(j.err)
}

// Run はPending→Runningの遷移を試みます
func (j *Job) Run() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status != JobPending {
		return false
	}
	j.status = JobRunning
	return true
}

// Succeed はツリーを公開してSucceededに遷移します。
// 終端状態に達している場合は何もせずfalseを返します（結果は破棄されます）。
func (j *Job) Succeed(tree *Tree) bool {
	return j.finish(JobSucceeded, tree, nil)
}

// Fail は失敗理由を記録してFailedに遷移します
func (j *Job) Fail(err error) bool {
	return j.finish(JobFailed, nil, err)
}

// Cancel はCancelledに遷移します。キャンセルされたジョブがツリーを
// 公開することはありません。
func (j *Job) Cancel() bool {
	return j.finish(JobCancelled, nil, nil)
}

func (j *Job) finish(status JobStatus, tree *Tree, err error) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status.Terminal() {
		return false
	}
	j.status = status
	j.tree = tree
	j.err = err
	close(j.done)
	return true
}

package adapter

import (
	"context"
	"sync"
	"time"
)

// RateLimiter はバックエンドへのAPI呼び出しレートを制御します。
// トークンバケット方式で、1分あたりの呼び出し数を上限内に抑えます。
type RateLimiter struct {
	mu sync.Mutex

	// maxRequestsPerMinute は1分あたりの最大リクエスト数
	maxRequestsPerMinute int

	// tokens は残りトークン数
	tokens int

	// lastRefill は最後にトークンを補充した時刻
	lastRefill time.Time

	// semaphore は並列実行数を制御するセマフォ
	semaphore chan struct{}
}

// NewRateLimiter は新しいRateLimiterを作成します。
// maxRequestsPerMinute が0以下の場合は制限なしとして扱います。
func NewRateLimiter(maxRequestsPerMinute int) *RateLimiter {
	if maxRequestsPerMinute <= 0 {
		return &RateLimiter{}
	}
	return &RateLimiter{
		maxRequestsPerMinute: maxRequestsPerMinute,
		tokens:               maxRequestsPerMinute,
		lastRefill:           time.Now(),
		semaphore:            make(chan struct{}, maxRequestsPerMinute),
	}
}

// Wait はレート制限に従って待機し、実行権限を取得します。
// contextがキャンセルされた場合はそのエラーを返します。
func (rl *RateLimiter) Wait(ctx context.Context) error {
	if rl.maxRequestsPerMinute <= 0 {
		return ctx.Err()
	}

	select {
	case rl.semaphore <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	for {
		rl.refillTokens()

		if rl.tokens > 0 {
			rl.tokens--
			return nil
		}

		rl.mu.Unlock()
		select {
		case <-time.After(time.Second):
		case <-ctx.Done():
			rl.mu.Lock()
			<-rl.semaphore
			return ctx.Err()
		}
		rl.mu.Lock()
	}
}

// Release は実行権限を解放します。
// Wait が成功した後は必ず呼ぶこと（通常はdefer文で）。
func (rl *RateLimiter) Release() {
	if rl.maxRequestsPerMinute <= 0 {
		return
	}
	<-rl.semaphore
}

// refillTokens はトークンを補充します。呼び出し側でロック取得済みであること。
func (rl *RateLimiter) refillTokens() {
	now := time.Now()
	elapsed := now.Sub(rl.lastRefill)

	if elapsed < time.Minute {
		return
	}

	minutes := int(elapsed.Minutes())
	rl.tokens = min(rl.tokens+minutes*rl.maxRequestsPerMinute, rl.maxRequestsPerMinute)
	rl.lastRefill = rl.lastRefill.Add(time.Duration(minutes) * time.Minute)
}

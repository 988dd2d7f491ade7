package segmenter

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/jinford/submind/internal/module/subtitle/domain"
)

var (
	// ErrSegmentation は分割処理が実行不能な場合のエラー
	ErrSegmentation = errors.New("segmentation failed")
)

// SegmentCue はセグメントに取り込まれたキューを表します。
// PromptText はプロンプト投入用のテキストで、単体で文字数上限を超える
// キューのみ切り詰められます。Cue.Text は来歴用に常に原文のままです。
type SegmentCue struct {
	domain.Cue

	// PromptText はプロンプトに埋め込むテキスト
	PromptText string

	// Truncated はプロンプト用に切り詰めが行われたかどうか
	Truncated bool
}

// Segment は1回のモデル呼び出しに収まる連続したキュー窓です
type Segment struct {
	// Ordinal はトラック内でのセグメント通し番号（0始まり）
	Ordinal int

	// Context は直前セグメント末尾から繰り返される文脈キュー。
	// 来歴（sourceRange）の計算からは除外されます。
	Context []SegmentCue

	// Cues はこのセグメントが正規に担当するキュー列
	Cues []SegmentCue
}

// Range はセグメントの正規範囲を返します（Context は含めません）
func (s *Segment) Range() domain.TimeRange {
	if len(s.Cues) == 0 {
		return domain.TimeRange{}
	}
	return domain.TimeRange{
		StartMs: s.Cues[0].StartMs,
		EndMs:   s.Cues[len(s.Cues)-1].EndMs,
	}
}

// Segmenter はキュー列を文字数上限付きの連続した窓に分割します
type Segmenter struct {
	maxUnitChars int
	overlapCues  int
	log          *slog.Logger
}

// New は新しいSegmenterを作成します。
// maxUnitChars は1セグメントの連結テキストの文字数上限、
// overlapCues は次セグメント先頭に繰り返す文脈キュー数（0以上）です。
func New(maxUnitChars, overlapCues int, log *slog.Logger) (*Segmenter, error) {
	if maxUnitChars <= 0 {
		return nil, fmt.Errorf("%w: maxUnitChars must be positive, got %d", ErrSegmentation, maxUnitChars)
	}
	if overlapCues < 0 {
		return nil, fmt.Errorf("%w: overlapCues must be >= 0, got %d", ErrSegmentation, overlapCues)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Segmenter{
		maxUnitChars: maxUnitChars,
		overlapCues:  overlapCues,
		log:          log,
	}, nil
}

// Split はトラックを連続・非重複（文脈キューを除く）なセグメント列に分割します。
// 全セグメントの正規キュー範囲の合併は入力トラック全体と一致します。
// 単体で上限を超えるキューはプロンプト用テキストのみ切り詰め、失敗にはしません。
func (s *Segmenter) Split(track domain.Track) ([]*Segment, error) {
	if err := track.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSegmentation, err)
	}

	var segments []*Segment
	var curr []SegmentCue
	var context []SegmentCue
	currChars := 0

	flush := func() {
		if len(curr) == 0 {
			return
		}
		seg := &Segment{
			Ordinal: len(segments),
			Context: context,
			Cues:    curr,
		}
		segments = append(segments, seg)

		// 次の窓の文脈は直前窓の正規キュー末尾から取る
		n := s.overlapCues
		if n > len(curr) {
			n = len(curr)
		}
		context = curr[len(curr)-n:]
		curr = nil
		currChars = contextChars(context)
	}

	for _, cue := range track {
		sc := SegmentCue{Cue: cue, PromptText: cue.Text}
		cost := len([]rune(sc.PromptText))

		if cost > s.maxUnitChars {
			// 単体で上限を超えるキュー: プロンプト用に切り詰める。
			// 原文は来歴用に Cue.Text に残る。
			sc.PromptText = truncateRunes(sc.PromptText, s.maxUnitChars)
			sc.Truncated = true
			cost = s.maxUnitChars
			s.log.Warn("cue text exceeds segment budget, truncating for prompting",
				"cueIndex", cue.Index,
				"chars", len([]rune(cue.Text)),
				"maxUnitChars", s.maxUnitChars,
			)
		}

		if len(curr) > 0 && currChars+1+cost > s.maxUnitChars {
			flush()
		}

		if len(curr) == 0 {
			sep := 0
			if currChars > 0 {
				sep = 1
			}
			if currChars+sep+cost > s.maxUnitChars {
				// 文脈を載せると最初のキューすら入らない窓は文脈を捨てる
				context = nil
				currChars = 0
				sep = 0
			}
			currChars += sep
		} else {
			currChars++
		}
		curr = append(curr, sc)
		currChars += cost
	}
	flush()

	return segments, nil
}

// contextChars は文脈キューのプロンプトテキスト連結長（区切り込み）を返します
func contextChars(context []SegmentCue) int {
	total := 0
	for i, sc := range context {
		if i > 0 {
			total++
		}
		total += len([]rune(sc.PromptText))
	}
	return total
}

// truncateRunes は文字列を最大 n 文字（rune単位）に切り詰めます
func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

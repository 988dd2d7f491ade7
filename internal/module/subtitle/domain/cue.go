package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrEmptyTrack は字幕キューが1件もない場合のエラー
	ErrEmptyTrack = errors.New("subtitle track is empty")

	// ErrInvalidCue はキューの時間範囲または順序が不正な場合のエラー
	ErrInvalidCue = errors.New("invalid subtitle cue")
)

// Cue はタイムスタンプ付きの字幕1行を表します
type Cue struct {
	// Index はトラック内での通し番号（狭義単調増加）
	Index int `json:"index"`
	// StartMs は表示開始時刻（ミリ秒）
	StartMs int64 `json:"startMs"`
	// EndMs は表示終了時刻（ミリ秒）
	EndMs int64 `json:"endMs"`
	// Text は字幕テキスト
	Text string `json:"text"`
}

// Range はこのキューの時間範囲を返します
func (c Cue) Range() TimeRange {
	return TimeRange{StartMs: c.StartMs, EndMs: c.EndMs}
}

// Track は順序付きの不変なキュー列です。
// 字幕パーサ（外部コラボレータ）から供給され、コア側からは読み取り専用です。
type Track []Cue

// Validate はトラックの不変条件を検証します。
// 各キューは startMs < endMs を満たし、Index は狭義単調増加でなければなりません。
// キューの時刻は startMs / endMs ともに非減少であること
// （キュー同士の重なりは許容、時刻の逆行は不可）。
func (t Track) Validate() error {
	if len(t) == 0 {
		return ErrEmptyTrack
	}

	prevIndex := -1
	var prevStart, prevEnd int64
	for i, cue := range t {
		if cue.StartMs >= cue.EndMs {
			return fmt.Errorf("%w: cue %d has startMs %d >= endMs %d", ErrInvalidCue, i, cue.StartMs, cue.EndMs)
		}
		if cue.Index <= prevIndex {
			return fmt.Errorf("%w: cue %d has non-increasing index %d", ErrInvalidCue, i, cue.Index)
		}
		if i > 0 {
			if cue.StartMs < prevStart {
				return fmt.Errorf("%w: cue %d starts at %d before previous cue start %d", ErrInvalidCue, i, cue.StartMs, prevStart)
			}
			if cue.EndMs < prevEnd {
				return fmt.Errorf("%w: cue %d ends at %d before previous cue end %d", ErrInvalidCue, i, cue.EndMs, prevEnd)
			}
		}
		prevIndex = cue.Index
		prevStart = cue.StartMs
		prevEnd = cue.EndMs
	}

	return nil
}

// Range はトラック全体の時間範囲を返します
func (t Track) Range() TimeRange {
	if len(t) == 0 {
		return TimeRange{}
	}
	return TimeRange{StartMs: t[0].StartMs, EndMs: t[len(t)-1].EndMs}
}

// JoinText は全キューのテキストを改行で連結して返します
func (t Track) JoinText() string {
	var b strings.Builder
	for i, cue := range t {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(cue.Text)
	}
	return b.String()
}

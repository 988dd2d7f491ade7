package domain

import "fmt"

// TimeRange はミリ秒単位の半開でない時間区間 [StartMs, EndMs] を表します
type TimeRange struct {
	StartMs int64 `json:"startMs"`
	EndMs   int64 `json:"endMs"`
}

// IsZero は範囲が未設定かどうかを返します
func (r TimeRange) IsZero() bool {
	return r.StartMs == 0 && r.EndMs == 0
}

// Contains は other がこの範囲に完全に含まれるかどうかを返します
func (r TimeRange) Contains(other TimeRange) bool {
	return other.StartMs >= r.StartMs && other.EndMs <= r.EndMs
}

// ContainsMs は時刻 ms がこの範囲内にあるかどうかを返します
func (r TimeRange) ContainsMs(ms int64) bool {
	return ms >= r.StartMs && ms <= r.EndMs
}

// Union はこの範囲と other を包含する最小の範囲を返します
func (r TimeRange) Union(other TimeRange) TimeRange {
	if r.IsZero() {
		return other
	}
	if other.IsZero() {
		return r
	}
	out := r
	if other.StartMs < out.StartMs {
		out.StartMs = other.StartMs
	}
	if other.EndMs > out.EndMs {
		out.EndMs = other.EndMs
	}
	return out
}

// Clamp は other をこの範囲内に収めた結果と、収められたかどうかを返します。
// other がこの範囲と全く交差しない場合は false を返します。
func (r TimeRange) Clamp(other TimeRange) (TimeRange, bool) {
	if other.EndMs < r.StartMs || other.StartMs > r.EndMs {
		return TimeRange{}, false
	}
	out := other
	if out.StartMs < r.StartMs {
		out.StartMs = r.StartMs
	}
	if out.EndMs > r.EndMs {
		out.EndMs = r.EndMs
	}
	return out, true
}

// String は "12345-67890ms" 形式の表記を返します
func (r TimeRange) String() string {
	return fmt.Sprintf("%d-%dms", r.StartMs, r.EndMs)
}

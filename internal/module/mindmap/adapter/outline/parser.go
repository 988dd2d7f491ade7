// Package outline はモデル出力のアウトラインテキストを検証済みノード木へ
// 変換します。逸脱した出力は拒否せず、構成的に修復します。
package outline

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/jinford/submind/internal/module/mindmap/domain"
	subtitle "github.com/jinford/submind/internal/module/subtitle/domain"
)

const (
	// DefaultMaxLevelSkip はインデント飛びを修復する際に許容する最大段数。
	// これを超えて深い行は修復不能とみなして捨てる（保守的な既定値）。
	DefaultMaxLevelSkip = 3

	// indentUnitFallback はインデント幅を推定できない場合の1階層あたりの空白数
	indentUnitFallback = 2
)

var (
	// bulletRe は箇条書き行（タイトル・本文・インデント・アンカーを持つ行）
	bulletRe = regexp.MustCompile(`^([ \t]*)[-*•]\s+(.*)$`)

	// anchorRe は行頭のタイムスタンプアンカー [MM:SS] / [MM:SS-MM:SS]
	anchorRe = regexp.MustCompile(`^\[(\d{1,2}(?::\d{1,2}){0,2})(?:\s*-\s*(\d{1,2}(?::\d{1,2}){0,2}))?\]\s*`)
)

// Parser はモデルの生テキストをノード木に変換します
type Parser struct {
	maxLevelSkip int
}

// NewParser は新しいParserを作成します。
// maxLevelSkip が0以下の場合はDefaultMaxLevelSkipを使います。
func NewParser(maxLevelSkip int) *Parser {
	if maxLevelSkip <= 0 {
		maxLevelSkip = DefaultMaxLevelSkip
	}
	return &Parser{maxLevelSkip: maxLevelSkip}
}

// entry は箇条書き1行の中間表現
type entry struct {
	depth   int
	content string
}

// Parse は生テキストからトップレベルノード列を構築します。
// 修復方針（順に適用）:
//  1. 箇条書き以外の前置き・後置き・コードフェンスを除去する
//  2. インデントからツリーを構築し、1段を超えて深くなる行は直近の
//     有効な深さまで畳み込む（maxLevelSkipを超える飛びは行ごと捨てる）
//  3. タイトルも本文もないノードは捨て、その子は旧親へ昇格させる
//  4. アンカーは expected に収め、範囲外のアンカーは破棄する
//     （不正な範囲を持つよりも範囲なしとする）
//
// 1ノードも得られなかった場合は domain.ErrContentParse を返します。
func (p *Parser) Parse(raw string, expected subtitle.TimeRange) ([]*domain.Node, error) {
	entries := p.collectEntries(raw)

	type frame struct {
		node  *domain.Node
		depth int
	}

	var tops []*domain.Node
	var stack []frame
	prevDepth := -1

	for _, e := range entries {
		depth := e.depth

		// インデント飛びの畳み込み修復
		if depth > prevDepth+1 {
			skip := depth - (prevDepth + 1)
			if skip > p.maxLevelSkip {
				// 修復しきれないほど深い行は捨てる
				continue
			}
			depth = prevDepth + 1
		}

		for len(stack) > 0 && stack[len(stack)-1].depth >= depth {
			stack = stack[:len(stack)-1]
		}

		// 子のアンカーは親の範囲（親が範囲を持つ場合）に収めることで、
		// 包含不変条件を構成的に満たす
		effective := expected
		if len(stack) > 0 && stack[len(stack)-1].node.SourceRange != nil {
			effective = *stack[len(stack)-1].node.SourceRange
		}
		node := p.parseContent(e.content, effective)

		if len(stack) == 0 {
			tops = append(tops, node)
		} else {
			parent := stack[len(stack)-1].node
			parent.Children = append(parent.Children, node)
		}
		stack = append(stack, frame{node: node, depth: depth})
		prevDepth = depth
	}

	tops = pruneEmpty(tops)

	if len(tops) == 0 {
		return nil, fmt.Errorf("%w: no outline lines survived parsing", domain.ErrContentParse)
	}
	return tops, nil
}

// collectEntries は箇条書き行のみを取り出して深さを計算します
func (p *Parser) collectEntries(raw string) []entry {
	lines := strings.Split(raw, "\n")

	var entries []entry
	indentUnit := 0

	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			// コードフェンスはモデルの装飾なので無視する
			continue
		}

		m := bulletRe.FindStringSubmatch(line)
		if m == nil {
			// 前置き・後置きなどアウトライン外のテキスト
			continue
		}

		cols := indentColumns(m[1])
		if indentUnit == 0 && cols > 0 {
			// 最初に現れた非ゼロインデントを1階層分とみなす
			indentUnit = cols
		}

		depth := 0
		if cols > 0 {
			unit := indentUnit
			if unit == 0 {
				unit = indentUnitFallback
			}
			depth = cols / unit
		}

		entries = append(entries, entry{depth: depth, content: strings.TrimSpace(m[2])})
	}
	return entries
}

// parseContent は行の内容からノードを作成します（アンカー・タイトル・本文）
func (p *Parser) parseContent(content string, expected subtitle.TimeRange) *domain.Node {
	node := &domain.Node{}

	if m := anchorRe.FindStringSubmatch(content); m != nil {
		content = content[len(m[0]):]

		startMs, okStart := parseTimestamp(m[1])
		if okStart {
			if m[2] != "" {
				if endMs, okEnd := parseTimestamp(m[2]); okEnd {
					if r, ok := expected.Clamp(subtitle.TimeRange{StartMs: startMs, EndMs: endMs}); ok {
						node.SourceRange = &r
					}
				}
			} else if expected.ContainsMs(startMs) {
				// 単一アンカーは開始時刻とみなし、終端は期待範囲まで
				node.SourceRange = &subtitle.TimeRange{StartMs: startMs, EndMs: expected.EndMs}
			}
			// 範囲外のアンカーは破棄する（ノードは範囲なしで残る）
		}
	}

	title, body := splitTitleBody(content)
	node.Title = cleanInline(title)
	node.Body = cleanInline(body)
	return node
}

// splitTitleBody は最初の区切りコロンでタイトルと本文に分割します
func splitTitleBody(content string) (string, string) {
	// 全角コロンと「半角コロン+空白」の早い方で区切る
	zen := strings.Index(content, "：")
	han := strings.Index(content, ": ")

	switch {
	case zen >= 0 && (han < 0 || zen < han):
		return content[:zen], content[zen+len("："):]
	case han >= 0:
		return content[:han], content[han+2:]
	default:
		return content, ""
	}
}

// cleanInline は前後の空白と強調記号を取り除きます
func cleanInline(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "**")
	s = strings.TrimSuffix(s, "**")
	return strings.TrimSpace(s)
}

// pruneEmpty はタイトルも本文もないノードを捨て、子を旧親の位置へ昇格させます
func pruneEmpty(nodes []*domain.Node) []*domain.Node {
	var out []*domain.Node
	for _, n := range nodes {
		n.Children = pruneEmpty(n.Children)
		if n.Title == "" && n.Body == "" {
			out = append(out, n.Children...)
			continue
		}
		out = append(out, n)
	}
	return out
}

// indentColumns はインデント幅を空白換算で数えます（タブは2扱い）
func indentColumns(indent string) int {
	cols := 0
	for _, r := range indent {
		if r == '\t' {
			cols += 2
		} else {
			cols++
		}
	}
	return cols
}

// parseTimestamp は "SS" / "MM:SS" / "H:MM:SS" をミリ秒に変換します
func parseTimestamp(s string) (int64, bool) {
	parts := strings.Split(s, ":")
	if len(parts) == 0 || len(parts) > 3 {
		return 0, false
	}

	var total int64
	for _, part := range parts {
		v, err := strconv.Atoi(part)
		if err != nil || v < 0 {
			return 0, false
		}
		total = total*60 + int64(v)
	}
	return total * 1000, true
}

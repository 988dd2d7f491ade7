package prompt

import (
	"fmt"
	"strings"

	"github.com/jinford/submind/internal/module/mindmap/domain"
	"github.com/jinford/submind/internal/module/subtitle/adapter/segmenter"
	subtitle "github.com/jinford/submind/internal/module/subtitle/domain"
	"github.com/pkoukk/tiktoken-go"
)

const (
	// DefaultMaxPromptTokens はプロンプト中の字幕コンテキストに割くトークン数の上限
	DefaultMaxPromptTokens = 6000
)

// Builder はセグメントからモデルリクエスト用プロンプトを構築します。
// 同一入力に対して常に同一のプロンプトを生成します（乱数なし）。
type Builder struct {
	encoder         *tiktoken.Tiktoken
	maxPromptTokens int
}

// NewBuilder は新しいBuilderを作成します。
// maxPromptTokens が0以下の場合はDefaultMaxPromptTokensを使います。
func NewBuilder(maxPromptTokens int) (*Builder, error) {
	// cl100k_baseエンコーダでトークン数を数える
	encoder, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, fmt.Errorf("failed to get tiktoken encoder: %w", err)
	}
	if maxPromptTokens <= 0 {
		maxPromptTokens = DefaultMaxPromptTokens
	}
	return &Builder{
		encoder:         encoder,
		maxPromptTokens: maxPromptTokens,
	}, nil
}

// BuildLeafPrompt はセグメントから葉ノード生成用のプロンプトを構築します。
// instructions が空でない場合はそのまま（加工せず）含めます。
func (b *Builder) BuildLeafPrompt(seg *segmenter.Segment, instructions string) string {
	var sb strings.Builder

	sb.WriteString(leafPromptHeader)
	sb.WriteString("\n\n")
	sb.WriteString(outlineContract)
	sb.WriteString("\n\n")

	if instructions != "" {
		sb.WriteString(instructionsHeader)
		sb.WriteString("\n")
		sb.WriteString(instructions)
		sb.WriteString("\n\n")
	}

	if len(seg.Context) > 0 {
		sb.WriteString(contextHeader)
		sb.WriteString("\n")
		sb.WriteString(b.trimToBudget(transcriptBlock(seg.Context)))
		sb.WriteString("\n\n")
	}

	sb.WriteString(transcriptHeader)
	sb.WriteString("\n")
	sb.WriteString(b.trimToBudget(transcriptBlock(seg.Cues)))
	sb.WriteString("\n")

	return sb.String()
}

// BuildRollupPrompt は兄弟ノード群を1つの上位ノードへ要約するプロンプトを構築します。
// ancestorSummary が空でない場合は上位文脈として含めます。
func (b *Builder) BuildRollupPrompt(children []*domain.Node, instructions, ancestorSummary string) string {
	var sb strings.Builder

	sb.WriteString(rollupPromptHeader)
	sb.WriteString("\n\n")
	sb.WriteString(outlineContract)
	sb.WriteString("\n\n")

	if instructions != "" {
		sb.WriteString(instructionsHeader)
		sb.WriteString("\n")
		sb.WriteString(instructions)
		sb.WriteString("\n\n")
	}

	if ancestorSummary != "" {
		sb.WriteString(ancestorSummaryHeader)
		sb.WriteString("\n")
		sb.WriteString(ancestorSummary)
		sb.WriteString("\n\n")
	}

	sb.WriteString("兄弟ノード:\n")
	sb.WriteString(b.trimToBudget(nodeBlock(children)))
	sb.WriteString("\n")

	return sb.String()
}

// BuildCorrectivePrompt はコンテンツ失敗後の是正再プロンプトを構築します
func (b *Builder) BuildCorrectivePrompt(original string) string {
	var sb strings.Builder
	sb.WriteString(correctivePromptHeader)
	sb.WriteString("\n")
	sb.WriteString(original)
	return sb.String()
}

// transcriptBlock はキュー列をタイムスタンプ付きの字幕ブロックに整形します
func transcriptBlock(cues []segmenter.SegmentCue) string {
	var sb strings.Builder
	for i, cue := range cues {
		if i > 0 {
			sb.WriteByte('\n')
		}
		label := RangeLabel(subtitle.TimeRange{StartMs: cue.StartMs, EndMs: cue.EndMs})
		sb.WriteString(fmt.Sprintf("[%s] %s", label, cue.PromptText))
	}
	return sb.String()
}

// nodeBlock はノード列をロールアップ用の箇条書きに整形します
func nodeBlock(nodes []*domain.Node) string {
	var sb strings.Builder
	for i, node := range nodes {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString("- ")
		if node.SourceRange != nil {
			sb.WriteString(fmt.Sprintf("[%s] ", RangeLabel(*node.SourceRange)))
		}
		sb.WriteString(node.Title)
		if node.Body != "" {
			sb.WriteString(": ")
			sb.WriteString(node.Body)
		}
	}
	return sb.String()
}

// trimToBudget はテキストをトークン数上限に収まるよう末尾から切り詰めます
func (b *Builder) trimToBudget(text string) string {
	tokens := b.encoder.Encode(text, nil, nil)
	if len(tokens) <= b.maxPromptTokens {
		return text
	}
	return b.encoder.Decode(tokens[:b.maxPromptTokens])
}

// FormatTimestamp はミリ秒を "MM:SS" 形式（1時間以上は "H:MM:SS"）にします
func FormatTimestamp(ms int64) string {
	totalSec := ms / 1000
	h := totalSec / 3600
	m := (totalSec % 3600) / 60
	s := totalSec % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}

// RangeLabel は時間範囲を "MM:SS-MM:SS" 形式にします
func RangeLabel(r subtitle.TimeRange) string {
	return FormatTimestamp(r.StartMs) + "-" + FormatTimestamp(r.EndMs)
}

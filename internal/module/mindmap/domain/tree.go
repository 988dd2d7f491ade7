package domain

import (
	"fmt"
	"time"

	subtitle "github.com/jinford/submind/internal/module/subtitle/domain"
)

// Meta はツリーの生成メタデータです
type Meta struct {
	// ModelID は生成に使用したモデル識別子
	ModelID string `json:"modelId"`

	// PromptDigest は発行した全プロンプトのSHA-256ダイジェスト（16進）
	PromptDigest string `json:"promptDigest"`

	// GeneratedAt は生成完了時刻
	GeneratedAt time.Time `json:"generatedAt"`
}

// Tree は検証済みのマインドマップツリーです
type Tree struct {
	Meta Meta  `json:"meta"`
	Root *Node `json:"root"`
}

// NodeCount はツリー全体のノード数を返します
func (t *Tree) NodeCount() int {
	if t == nil || t.Root == nil {
		return 0
	}
	return t.Root.Count()
}

// Validate はツリーの不変条件を検証します:
// ルートがちょうど1つ存在し、ノードIDがツリー内で一意であり、
// 子のSourceRangeが（双方に存在する場合）親のSourceRangeに含まれること。
// 違反は ErrTreeInvariant でラップして返します。
func (t *Tree) Validate() error {
	if t == nil || t.Root == nil {
		return fmt.Errorf("%w: tree has no root", ErrTreeInvariant)
	}

	seen := make(map[int]bool)
	return validateNode(t.Root, nil, seen)
}

func validateNode(n *Node, parentRange *subtitle.TimeRange, seen map[int]bool) error {
	if seen[n.ID] {
		return fmt.Errorf("%w: duplicate node id %d", ErrTreeInvariant, n.ID)
	}
	seen[n.ID] = true

	if n.SourceRange != nil && parentRange != nil && !parentRange.Contains(*n.SourceRange) {
		return fmt.Errorf("%w: node %d range %s not contained in parent range %s",
			ErrTreeInvariant, n.ID, n.SourceRange, parentRange)
	}

	// 包含制約は直接の親子間にのみ課される
	for _, child := range n.Children {
		if err := validateNode(child, n.SourceRange, seen); err != nil {
			return err
		}
	}
	return nil
}

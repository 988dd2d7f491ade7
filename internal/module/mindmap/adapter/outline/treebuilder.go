package outline

import (
	"fmt"

	"github.com/jinford/submind/internal/module/mindmap/domain"
)

// Finalize はルートノードからツリーを組み立てます。
// ノードIDはツリー内で閉じた安定カウンタで深さ優先に採番され、
// モデル出力がノードの同一性を左右することはありません。
// 組み立て後に不変条件を検証し、違反があれば domain.ErrTreeInvariant を返します
// （パーサの構成的修復により通常は到達しません）。
func Finalize(root *domain.Node, meta domain.Meta) (*domain.Tree, error) {
	if root == nil {
		return nil, fmt.Errorf("%w: nil root", domain.ErrTreeInvariant)
	}

	nextID := 1
	assign(root, 0, &nextID)

	tree := &domain.Tree{Meta: meta, Root: root}
	if err := tree.Validate(); err != nil {
		return nil, err
	}
	return tree, nil
}

func assign(n *domain.Node, depth int, nextID *int) {
	n.ID = *nextID
	n.Depth = depth
	*nextID++
	for _, child := range n.Children {
		assign(child, depth+1, nextID)
	}
}

package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"

	subtitle "github.com/jinford/submind/internal/module/subtitle/domain"
)

func rng(startMs, endMs int64) *subtitle.TimeRange {
	return &subtitle.TimeRange{StartMs: startMs, EndMs: endMs}
}

func TestTreeValidate(t *testing.T) {
	tests := []struct {
		name    string
		tree    *Tree
		wantErr bool
	}{
		{
			name:    "ルートなし",
			tree:    &Tree{},
			wantErr: true,
		},
		{
			name: "正常なツリー",
			tree: &Tree{Root: &Node{
				ID: 1, Title: "ルート", SourceRange: rng(0, 60000),
				Children: []*Node{
					{ID: 2, Title: "A", SourceRange: rng(0, 30000)},
					{ID: 3, Title: "B", SourceRange: rng(30000, 60000)},
				},
			}},
			wantErr: false,
		},
		{
			name: "ノードIDの重複",
			tree: &Tree{Root: &Node{
				ID: 1, Title: "ルート",
				Children: []*Node{
					{ID: 2, Title: "A"},
					{ID: 2, Title: "B"},
				},
			}},
			wantErr: true,
		},
		{
			name: "子の範囲が親からはみ出す",
			tree: &Tree{Root: &Node{
				ID: 1, Title: "ルート", SourceRange: rng(0, 30000),
				Children: []*Node{
					{ID: 2, Title: "A", SourceRange: rng(10000, 40000)},
				},
			}},
			wantErr: true,
		},
		{
			name: "範囲を持たないノードは包含制約の対象外",
			tree: &Tree{Root: &Node{
				ID: 1, Title: "ルート", SourceRange: rng(0, 30000),
				Children: []*Node{
					{ID: 2, Title: "範囲なし",
						Children: []*Node{
							// 包含制約は直接の親子間のみ: 祖父母の範囲外でも許容される
							{ID: 3, Title: "孫", SourceRange: rng(50000, 60000)},
						},
					},
				},
			}},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.tree.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrTreeInvariant)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNodeWalkAndCount(t *testing.T) {
	root := &Node{
		ID: 1,
		Children: []*Node{
			{ID: 2, Children: []*Node{{ID: 3}}},
			{ID: 4},
		},
	}

	var visited []int
	root.Walk(func(n *Node) {
		visited = append(visited, n.ID)
	})

	// 深さ優先で訪問する
	assert.Equal(t, []int{1, 2, 3, 4}, visited)
	assert.Equal(t, 4, root.Count())
}

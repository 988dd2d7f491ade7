package domain

import (
	subtitle "github.com/jinford/submind/internal/module/subtitle/domain"
)

// Node はマインドマップの1ノードを表します。
// ノードは親ツリーが排他的に所有し、共有参照や循環は許されません。
type Node struct {
	// ID はツリー内で一意なノードID。ツリー組み立て時に安定カウンタで
	// 採番され、モデル出力には由来しません。
	ID int `json:"id"`

	// Title はノードの見出し
	Title string `json:"title"`

	// Body は補足本文（省略可）
	Body string `json:"body,omitempty"`

	// Children は順序付きの子ノード列
	Children []*Node `json:"children"`

	// SourceRange はこのノードの内容が帰属する時間区間。
	// 存在する場合、親のSourceRange（存在すれば）に含まれます。
	SourceRange *subtitle.TimeRange `json:"sourceRange,omitempty"`

	// Depth はルートを0とする深さ。組み立て時に設定されます。
	Depth int `json:"-"`
}

// Walk はこのノードを根とする部分木を深さ優先で巡回します
func (n *Node) Walk(fn func(*Node)) {
	if n == nil {
		return
	}
	fn(n)
	for _, child := range n.Children {
		child.Walk(fn)
	}
}

// Count はこのノードを含む部分木のノード数を返します
func (n *Node) Count() int {
	count := 0
	n.Walk(func(*Node) { count++ })
	return count
}

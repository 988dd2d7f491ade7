package domain

import "errors"

var (
	// ErrContentParse はモデル出力から使用可能なアウトラインを
	// 1ノードも取り出せなかった場合のエラー（コンテンツ分類）
	ErrContentParse = errors.New("model output contained no usable outline")

	// ErrTreeInvariant はツリー不変条件の違反。
	// パーサの構成的修復により通常は到達不能で、発生した場合は
	// パーサの欠陥を示すジョブ致命エラーです。
	ErrTreeInvariant = errors.New("mind map tree invariant violated")
)

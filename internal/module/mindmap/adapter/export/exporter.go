// Package export は検証済みツリーを自己完結したHTMLアーティファクトへ
// 直列化します。アーティファクトは開く際に外部リソースを取得しません。
package export

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/jinford/submind/internal/module/mindmap/domain"
)

//go:embed template.html
var templateHTML string

const (
	// TemplateVersion は描画テンプレートのバージョン。
	// テンプレートのバイト列を変更する場合は必ず上げること。
	TemplateVersion = "1"

	// dataPlaceholder はテンプレート中のデータ差し込み位置
	dataPlaceholder = "{{MINDMAP_DATA}}"

	dataScriptOpen  = `<script id="mindmap-data" type="application/json">`
	dataScriptClose = `</script>`
)

var (
	// ErrExport はアーティファクトの書き出しに失敗した場合のエラー
	ErrExport = errors.New("export failed")
)

// Payload はアーティファクトに埋め込まれるデータ本体です
type Payload struct {
	Meta domain.Meta  `json:"meta"`
	Root *domain.Node `json:"root"`
}

// Export はツリーをアーティファクトのバイト列へ直列化します。
// 純粋関数であり、同一ツリーからは常に同一のバイト列が得られます。
// ツリーを変更せず、モデルバックエンドにも触れません。
func Export(tree *domain.Tree) ([]byte, error) {
	payload, err := PayloadBytes(tree)
	if err != nil {
		return nil, err
	}

	html := bytes.Replace([]byte(templateHTML), []byte(dataPlaceholder), payload, 1)
	return html, nil
}

// PayloadBytes はデータペイロード（{meta, root}）のJSONバイト列を返します
func PayloadBytes(tree *domain.Tree) ([]byte, error) {
	if tree == nil || tree.Root == nil {
		return nil, fmt.Errorf("%w: tree has no root", ErrExport)
	}

	// json.MarshalはHTMLメタ文字をエスケープするため、ペイロードが
	// 埋め込み先のscript要素を壊すことはない
	payload, err := json.Marshal(Payload{Meta: tree.Meta, Root: tree.Root})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExport, err)
	}
	return payload, nil
}

// WriteFile はアーティファクトをファイルへ書き出します。
// I/O失敗は ErrExport として直接返し、リトライはしません。
func WriteFile(tree *domain.Tree, path string) error {
	artifact, err := Export(tree)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, artifact, 0o644); err != nil {
		return fmt.Errorf("%w: %w", ErrExport, err)
	}
	return nil
}

// DecodePayload はPayloadBytesが生成したJSONバイト列からペイロードを復元します
func DecodePayload(data []byte) (*Payload, error) {
	var payload Payload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExport, err)
	}
	if payload.Root == nil {
		return nil, fmt.Errorf("%w: payload has no root", ErrExport)
	}
	return &payload, nil
}

// ParsePayload はアーティファクトから埋め込みペイロードを取り出します。
// エクスポートの往復検証に使います。
func ParsePayload(artifact []byte) (*Payload, error) {
	start := bytes.Index(artifact, []byte(dataScriptOpen))
	if start < 0 {
		return nil, fmt.Errorf("%w: data script element not found", ErrExport)
	}
	start += len(dataScriptOpen)

	end := bytes.Index(artifact[start:], []byte(dataScriptClose))
	if end < 0 {
		return nil, fmt.Errorf("%w: data script element not terminated", ErrExport)
	}

	var payload Payload
	if err := json.Unmarshal(artifact[start:start+end], &payload); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExport, err)
	}
	return &payload, nil
}

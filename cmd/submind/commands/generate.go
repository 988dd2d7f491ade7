package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jinford/submind/internal/module/mindmap/adapter/export"
	"github.com/jinford/submind/internal/module/mindmap/adapter/store"
	"github.com/jinford/submind/internal/module/mindmap/domain"
	subtitle "github.com/jinford/submind/internal/module/subtitle/domain"
	"github.com/urfave/cli/v3"
)

// cueFile は --cues で渡すJSONファイルの形式です。
// キュー配列のみのファイルと、タイトル付きオブジェクトの両方を受け付けます。
type cueFile struct {
	Title string         `json:"title"`
	Cues  []subtitle.Cue `json:"cues"`
}

// GenerateAction は字幕キュー列からマインドマップを生成するコマンドのアクション
func GenerateAction(ctx context.Context, cmd *cli.Command) error {
	envFile := cmd.String("env")
	cuesPath := cmd.String("cues")
	outPath := cmd.String("out")

	appCtx, err := NewAppContext(ctx, envFile, true)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	doc, err := loadDocument(cuesPath, cmd.String("title"))
	if err != nil {
		return err
	}

	instructions, err := loadInstructions(cmd)
	if err != nil {
		return err
	}

	// 進捗イベントを標準出力へ流す
	appCtx.Orchestrator.Subscribe(domain.ObserverFunc(func(e domain.Event) {
		switch e.Kind {
		case domain.EventStarted:
			fmt.Printf("生成を開始しました（ユニット数: %d）\n", e.TotalUnits)
		case domain.EventUnitProgress:
			fmt.Printf("  ユニット %d/%d 完了\n", e.Unit, e.TotalUnits)
		case domain.EventCancelled:
			fmt.Println("生成はキャンセルされました")
		}
	}))

	job, err := appCtx.Orchestrator.Start(ctx, doc, instructions)
	if err != nil {
		return fmt.Errorf("ジョブの開始に失敗: %w", err)
	}

	if err := job.Wait(ctx); err != nil {
		return err
	}

	switch job.Status() {
	case domain.JobCancelled:
		return errors.New("生成はキャンセルされました")
	case domain.JobFailed:
		if job.RetryLikely() {
			return fmt.Errorf("生成に失敗しました（リトライで回復する可能性があります）: %w", job.Err())
		}
		return fmt.Errorf("生成に失敗しました: %w", job.Err())
	}

	tree := job.Tree()
	if err := export.WriteFile(tree, outPath); err != nil {
		return fmt.Errorf("HTMLの書き出しに失敗: %w", err)
	}

	if !cmd.Bool("no-save") {
		payload, err := export.PayloadBytes(tree)
		if err != nil {
			return fmt.Errorf("ペイロードの直列化に失敗: %w", err)
		}
		rec := store.Record{
			ID:            job.ID(),
			DocumentID:    doc.ID,
			DocumentTitle: doc.Title,
			ModelID:       tree.Meta.ModelID,
			PromptDigest:  tree.Meta.PromptDigest,
			NodeCount:     tree.NodeCount(),
			Payload:       payload,
			CreatedAt:     tree.Meta.GeneratedAt,
		}
		if err := appCtx.Store.SaveGeneration(ctx, rec); err != nil {
			return fmt.Errorf("生成履歴の保存に失敗: %w", err)
		}
	}

	fmt.Printf("マインドマップを生成しました: %s（ノード数: %d, ジョブID: %s）\n",
		outPath, tree.NodeCount(), job.ID())
	return nil
}

// loadDocument はキューファイルを読み込み、検証済みドキュメントを構築します
func loadDocument(cuesPath, title string) (domain.Document, error) {
	data, err := os.ReadFile(cuesPath)
	if err != nil {
		return domain.Document{}, fmt.Errorf("キューファイルの読み込みに失敗: %w", err)
	}

	var file cueFile
	if err := json.Unmarshal(data, &file); err != nil {
		// 素のキュー配列のみのファイルも受け付ける
		var cues []subtitle.Cue
		if arrErr := json.Unmarshal(data, &cues); arrErr != nil {
			return domain.Document{}, fmt.Errorf("キューファイルの解析に失敗: %w", err)
		}
		file.Cues = cues
	}

	track := subtitle.Track(file.Cues)
	if err := track.Validate(); err != nil {
		return domain.Document{}, fmt.Errorf("キュー列が不正です: %w", err)
	}

	if title == "" {
		title = file.Title
	}
	if title == "" {
		base := filepath.Base(cuesPath)
		title = strings.TrimSuffix(base, filepath.Ext(base))
	}

	abs, err := filepath.Abs(cuesPath)
	if err != nil {
		abs = cuesPath
	}

	return domain.Document{
		ID:    abs,
		Title: title,
		Track: track,
	}, nil
}

// loadInstructions は --instructions / --instructions-file からカスタム指示を組み立てます
func loadInstructions(cmd *cli.Command) (string, error) {
	instructions := cmd.String("instructions")

	if path := cmd.String("instructions-file"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("指示ファイルの読み込みに失敗: %w", err)
		}
		if instructions != "" {
			instructions += "\n"
		}
		instructions += string(data)
	}

	return strings.TrimSpace(instructions), nil
}

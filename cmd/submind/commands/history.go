package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/jinford/submind/internal/module/mindmap/adapter/export"
	"github.com/jinford/submind/internal/module/mindmap/adapter/store"
	"github.com/jinford/submind/internal/module/mindmap/domain"
	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v3"
)

// HistoryListAction は生成履歴の一覧を表示するコマンドのアクション
func HistoryListAction(ctx context.Context, cmd *cli.Command) error {
	envFile := cmd.String("env")

	appCtx, err := NewAppContext(ctx, envFile, false)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	records, err := appCtx.Store.ListGenerations(ctx)
	if err != nil {
		return fmt.Errorf("生成履歴の取得に失敗: %w", err)
	}

	if len(records) == 0 {
		fmt.Println("生成履歴はありません")
		return nil
	}

	renderRecordsTable(records)
	return nil
}

// ExportAction は保存済みの生成結果をHTMLへ再出力するコマンドのアクション
func ExportAction(ctx context.Context, cmd *cli.Command) error {
	envFile := cmd.String("env")
	jobID := cmd.String("job")
	outPath := cmd.String("out")

	appCtx, err := NewAppContext(ctx, envFile, false)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	rec, err := appCtx.Store.GetGeneration(ctx, jobID)
	if err != nil {
		return fmt.Errorf("生成履歴の取得に失敗: %w", err)
	}

	tree, err := treeFromRecord(rec)
	if err != nil {
		return fmt.Errorf("保存済みペイロードの復元に失敗: %w", err)
	}

	if err := export.WriteFile(tree, outPath); err != nil {
		return fmt.Errorf("HTMLの書き出しに失敗: %w", err)
	}

	fmt.Printf("マインドマップを再出力しました: %s（ジョブID: %s）\n", outPath, rec.ID)
	return nil
}

// treeFromRecord は保存済みペイロードからツリーを復元します
func treeFromRecord(rec *store.Record) (*domain.Tree, error) {
	payload, err := export.DecodePayload(rec.Payload)
	if err != nil {
		return nil, err
	}
	return &domain.Tree{
		Meta: payload.Meta,
		Root: payload.Root,
	}, nil
}

// renderRecordsTable はテーブル形式で生成履歴を表示します
func renderRecordsTable(records []store.Record) {
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Job ID", "Title", "Model", "Nodes", "Created At")

	for _, rec := range records {
		table.Append(
			rec.ID,
			rec.DocumentTitle,
			rec.ModelID,
			fmt.Sprintf("%d", rec.NodeCount),
			rec.CreatedAt.Format("2006-01-02 15:04"),
		)
	}

	table.Render()
}

package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/jinford/submind/cmd/submind/commands"
	"github.com/urfave/cli/v3"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &cli.Command{
		Name:  "submind",
		Usage: "字幕トラックからマインドマップを合成するツール",
		Commands: []*cli.Command{
			{
				Name:  "generate",
				Usage: "字幕キュー列からマインドマップHTMLを生成",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "env",
						Usage: "環境変数ファイルパス",
						Value: ".env",
					},
					&cli.StringFlag{
						Name:     "cues",
						Usage:    "字幕キュー列のJSONファイル",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "out",
						Usage: "出力HTMLファイル（省略時は mindmap.html）",
						Value: "mindmap.html",
					},
					&cli.StringFlag{
						Name:  "title",
						Usage: "ドキュメントタイトル（省略時はキューファイル名）",
					},
					&cli.StringFlag{
						Name:  "instructions",
						Usage: "プロンプトへ逐語的に挿入するカスタム指示",
					},
					&cli.StringFlag{
						Name:  "instructions-file",
						Usage: "カスタム指示を読み込むファイル",
					},
					&cli.BoolFlag{
						Name:  "no-save",
						Usage: "生成履歴をデータベースへ保存しない",
					},
				},
				Action: commands.GenerateAction,
			},
			{
				Name:  "history",
				Usage: "生成履歴コマンド",
				Commands: []*cli.Command{
					{
						Name:  "list",
						Usage: "生成履歴の一覧を表示",
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:  "env",
								Usage: "環境変数ファイルパス",
								Value: ".env",
							},
						},
						Action: commands.HistoryListAction,
					},
				},
			},
			{
				Name:  "export",
				Usage: "保存済みの生成結果をHTMLへ再出力",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "env",
						Usage: "環境変数ファイルパス",
						Value: ".env",
					},
					&cli.StringFlag{
						Name:     "job",
						Usage:    "ジョブID",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "out",
						Usage: "出力HTMLファイル（省略時は mindmap.html）",
						Value: "mindmap.html",
					},
				},
				Action: commands.ExportAction,
			},
		},
	}

	if err := app.Run(ctx, os.Args); err != nil {
		log.Fatalf("エラー: %v", err)
	}
}

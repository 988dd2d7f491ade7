package prompt

// アウトライン出力契約。モデルにはこの形式のみを返させ、
// パーサ側は逸脱をベストエフォートで修復する。
const outlineContract = `出力形式の契約（厳守）:
1. 各行は「- 」で始まる箇条書きのみとし、それ以外の文章・前置き・後置きを含めない
2. 階層は半角スペース2つのインデントで表現し、1階層ずつ深くする
3. 各行の先頭に [MM:SS] または [MM:SS-MM:SS] 形式のタイムスタンプアンカーを付けられる（任意）
4. 行の形式: - [MM:SS-MM:SS] タイトル: 本文（「: 本文」は省略可）
5. タイトルは簡潔に（20文字程度まで）
6. Markdownのコードブロックで囲まない`

const leafPromptHeader = `以下の動画字幕の抜粋を分析し、内容を階層的に整理したアウトラインを生成してください。

要件:
1. この抜粋の主題と要点を抽出する
2. 内容を階層構造（主題 -> 要点 -> 詳細）に整理する
3. 各項目には、その内容が現れる字幕のタイムスタンプをアンカーとして付ける
4. 最大3階層まで`

const rollupPromptHeader = `以下はすでに生成された動画アウトラインの兄弟ノード群です。
これらをまとめる上位ノードを1つだけ合成してください。

要件:
1. 出力は箇条書き1行のみ（子ノードの再掲は不要）
2. 全ノードを包含する簡潔なタイトルを付ける
3. タイムスタンプアンカーは子ノード全体の範囲に収める`

const correctivePromptHeader = `前回の応答は指定された箇条書き形式に従っていませんでした。
説明文やコードブロックを一切含めず、出力契約に従った箇条書きのみを返してください。
以下は元の依頼です。

----`

const instructionsHeader = `追加の指示（ユーザー指定、最優先で従うこと）:`

const ancestorSummaryHeader = `上位文脈（ここまでの要約）:`

const contextHeader = `直前の文脈（参考。アウトラインには含めないこと）:`

const transcriptHeader = `字幕内容:`

package domain

// EventKind は進捗イベントの種別です
type EventKind string

const (
	// EventStarted はジョブが実行を開始したことを示す
	EventStarted EventKind = "started"
	// EventUnitProgress は1ユニットの呼び出しが成功したことを示す
	EventUnitProgress EventKind = "unit_progress"
	// EventSucceeded はジョブが成功し、ツリーが公開されたことを示す
	EventSucceeded EventKind = "succeeded"
	// EventFailed はジョブが失敗したことを示す
	EventFailed EventKind = "failed"
	// EventCancelled はジョブがキャンセルされたことを示す
	EventCancelled EventKind = "cancelled"
)

// Event は生成ジョブの進捗通知です。
// 同一ジョブのイベントはユニットのディスパッチ順に配送されます。
type Event struct {
	// JobID は対象ジョブのID
	JobID string

	// DocumentID は対象ドキュメントのID
	DocumentID string

	// Kind はイベント種別
	Kind EventKind

	// Unit は完了したユニットの番号（1始まり、UnitProgressのみ有効）
	Unit int

	// TotalUnits はジョブ全体のユニット数（Started以降有効）
	TotalUnits int

	// Err は失敗理由（Failedのみ有効）
	Err error
}

// Observer は進捗イベントの受け手です。UIやテストハーネスが実装します。
// Notify はオーケストレータのゴルーチンから呼ばれるため、ブロックしないこと。
type Observer interface {
	Notify(Event)
}

// ObserverFunc は関数をObserverとして使うためのアダプタです
type ObserverFunc func(Event)

// Notify はObserverインターフェースを実装します
func (f ObserverFunc) Notify(e Event) { f(e) }

package domain

// TurnEventType discriminates streaming events emitted during a turn.
type TurnEventType string

const (
	// TurnItemAdded signals a new item entering the stream.
	TurnItemAdded TurnEventType = "item.added"
	// TurnItemUpdated carries an incremental delta for an existing item.
	TurnItemUpdated TurnEventType = "item.updated"
	// TurnItemDone signals the final state of an item.
	TurnItemDone TurnEventType = "item.done"
)

// TurnEvent is one entry of the ordered event stream for a single turn.
// Added and done events carry the full item; updated events reference the
// item by id and carry only the delta. Events must be consumed in order:
// an item is always added before it is updated or done.
type TurnEvent struct {
	Type   TurnEventType `json:"type"`
	Item   *Item         `json:"item,omitempty"`
	ItemID string        `json:"itemId,omitempty"`
	Delta  string        `json:"delta,omitempty"`
}

// EmitFunc receives turn events as they are produced. A nil EmitFunc is
// valid and discards events.
type EmitFunc func(TurnEvent)

package agent

import (
	"github.com/tasklane/tasklane/internal/domain"
	"github.com/tasklane/tasklane/internal/store"
)

// Remapper rewrites item ids in a turn's event stream so that clients
// accumulating items by id never see a collision, even when the backend
// reuses local ids across turns. The mapping lives for one turn only.
type Remapper struct {
	ids map[string]string
	gen func(kind domain.ItemKind) string
}

// NewRemapper creates a remapper using the store's id generator.
func NewRemapper() *Remapper {
	return &Remapper{
		ids: make(map[string]string),
		gen: store.NewItemID,
	}
}

// Rewrite maps the ids in a single event. ItemAdded introduces a fresh
// id for the event's item; ItemUpdated and ItemDone follow the mapping
// recorded by the add. Events referencing an id that was never remapped
// pass through unchanged.
func (r *Remapper) Rewrite(ev domain.TurnEvent) domain.TurnEvent {
	switch ev.Type {
	case domain.TurnItemAdded:
		if ev.Item == nil {
			return ev
		}
		item := *ev.Item
		fresh := r.gen(item.Kind)
		r.ids[item.ID] = fresh
		item.ID = fresh
		ev.Item = &item
		ev.ItemID = fresh
	case domain.TurnItemUpdated:
		if mapped, ok := r.ids[ev.ItemID]; ok {
			ev.ItemID = mapped
		}
	case domain.TurnItemDone:
		if ev.Item == nil {
			return ev
		}
		item := *ev.Item
		if mapped, ok := r.ids[item.ID]; ok {
			item.ID = mapped
		}
		ev.Item = &item
		ev.ItemID = item.ID
	}
	return ev
}

// Wrap returns an emit function that rewrites every event before passing
// it to next.
func (r *Remapper) Wrap(next domain.EmitFunc) domain.EmitFunc {
	if next == nil {
		return nil
	}
	return func(ev domain.TurnEvent) {
		next(r.Rewrite(ev))
	}
}

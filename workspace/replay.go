package workspace

// Replay folds an event log into the current item list, starting from empty
// state. The fold is deterministic: the same prefix of events always yields
// the same list, byte for byte when encoded.
//
// Replay is tolerant of events that reference ids absent from the state being
// built (an update or delete for an item that was never created, or was
// already deleted); such steps are skipped rather than failing the whole
// materialization.
func Replay(events []Event) []Item {
	items := make([]Item, 0, len(events))

	for _, ev := range events {
		switch p := ev.Payload.(type) {
		case ItemCreated:
			items = upsert(items, p.Item)
		case BulkItemsCreated:
			for _, it := range p.Items {
				items = upsert(items, it)
			}
		case ItemUpdated:
			for i := range items {
				if items[i].ID == p.ItemID {
					p.Changes.apply(&items[i])
					break
				}
			}
		case ItemDeleted:
			for i := range items {
				if items[i].ID == p.ItemID {
					items = append(items[:i], items[i+1:]...)
					break
				}
			}
		}
	}

	return items
}

// FindItem returns the item with the given id, or false if absent.
func FindItem(items []Item, id string) (Item, bool) {
	for _, it := range items {
		if it.ID == id {
			return it, true
		}
	}
	return Item{}, false
}

// upsert appends a created item, replacing any existing item with the same
// id so that re-applied creation events stay idempotent.
func upsert(items []Item, it Item) []Item {
	for i := range items {
		if items[i].ID == it.ID {
			items[i] = it
			return items
		}
	}
	return append(items, it)
}

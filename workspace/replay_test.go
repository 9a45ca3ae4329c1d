package workspace

import (
	"encoding/json"
	"reflect"
	"testing"
)

func strPtr(s string) *string { return &s }

func created(id string, typ ItemType, name string) Event {
	return Event{
		ID:      "ev-" + id,
		Type:    EventItemCreated,
		Payload: ItemCreated{Item: Item{ID: id, Type: typ, Name: name}},
		UserID:  "u1",
	}
}

func TestReplay_FoldsLog(t *testing.T) {
	events := []Event{
		created("a", ItemNote, "Lecture notes"),
		created("b", ItemFlashcard, "Deck"),
		{
			Type: EventItemUpdated,
			Payload: ItemUpdated{
				ItemID:  "a",
				Changes: ItemPatch{Name: strPtr("Lecture notes v2"), Data: &ItemData{Content: "# Week 1"}},
			},
		},
		{
			Type:    EventBulkItemsCreated,
			Payload: BulkItemsCreated{Items: []Item{{ID: "c", Type: ItemQuiz, Name: "Quiz"}, {ID: "d", Type: ItemFolder, Name: "Folder"}}},
		},
		{Type: EventItemDeleted, Payload: ItemDeleted{ItemID: "b"}},
	}

	items := Replay(events)

	if len(items) != 3 {
		t.Fatalf("len(items) = %d, want 3", len(items))
	}

	a, ok := FindItem(items, "a")
	if !ok {
		t.Fatal("item a missing")
	}
	if a.Name != "Lecture notes v2" || a.Data.Content != "# Week 1" {
		t.Errorf("patch not applied: %+v", a)
	}
	if _, ok := FindItem(items, "b"); ok {
		t.Error("deleted item b still present")
	}
	if _, ok := FindItem(items, "c"); !ok {
		t.Error("bulk-created item c missing")
	}
}

func TestReplay_Deterministic(t *testing.T) {
	events := []Event{
		created("a", ItemNote, "Note"),
		{Type: EventItemUpdated, Payload: ItemUpdated{ItemID: "a", Changes: ItemPatch{Color: strPtr("blue")}}},
		created("b", ItemPDF, "Paper"),
		{Type: EventItemDeleted, Payload: ItemDeleted{ItemID: "a"}},
	}

	first, err := json.Marshal(Replay(events))
	if err != nil {
		t.Fatal(err)
	}
	second, err := json.Marshal(Replay(events))
	if err != nil {
		t.Fatal(err)
	}

	if string(first) != string(second) {
		t.Errorf("replaying the same log twice produced different state:\n%s\n%s", first, second)
	}
}

func TestReplay_SkipsUnknownIDs(t *testing.T) {
	events := []Event{
		{Type: EventItemUpdated, Payload: ItemUpdated{ItemID: "ghost", Changes: ItemPatch{Name: strPtr("x")}}},
		{Type: EventItemDeleted, Payload: ItemDeleted{ItemID: "ghost"}},
		created("a", ItemNote, "Note"),
	}

	items := Replay(events)
	if len(items) != 1 || items[0].ID != "a" {
		t.Errorf("replay with unknown ids = %+v, want only item a", items)
	}
}

func TestReplay_EmptyStringClearsField(t *testing.T) {
	events := []Event{
		created("a", ItemNote, "Note"),
		{Type: EventItemUpdated, Payload: ItemUpdated{ItemID: "a", Changes: ItemPatch{Data: &ItemData{Content: "draft"}}}},
		{Type: EventItemUpdated, Payload: ItemUpdated{ItemID: "a", Changes: ItemPatch{Data: &ItemData{Content: ""}}}},
	}

	items := Replay(events)
	if items[0].Data.Content != "" {
		t.Errorf("content = %q, want cleared", items[0].Data.Content)
	}
}

func TestReplay_DuplicateCreateIsIdempotent(t *testing.T) {
	events := []Event{
		created("a", ItemNote, "First"),
		created("a", ItemNote, "Second"),
	}

	items := Replay(events)
	if len(items) != 1 {
		t.Fatalf("len(items) = %d, want 1", len(items))
	}
	if items[0].Name != "Second" {
		t.Errorf("name = %q, want last write", items[0].Name)
	}
}

func TestItemPatch_IsZero(t *testing.T) {
	if !(ItemPatch{}).IsZero() {
		t.Error("empty patch should be zero")
	}
	if (ItemPatch{Name: strPtr("")}).IsZero() {
		t.Error("patch with defined empty name is a change, not zero")
	}
	if (ItemPatch{Data: &ItemData{}}).IsZero() {
		t.Error("patch with defined data is a change, not zero")
	}
}

func TestEvent_JSONRoundTrip(t *testing.T) {
	ev := Event{
		ID:   "ev-1",
		Type: EventItemUpdated,
		Payload: ItemUpdated{
			ItemID:  "a",
			Changes: ItemPatch{Name: strPtr("Renamed"), Data: &ItemData{Cards: []Card{{ID: "c1", Front: "Q", Back: "A"}}}},
		},
		Timestamp: 1700000000000,
		UserID:    "u1",
	}

	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatal(err)
	}

	var back Event
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatal(err)
	}

	if !reflect.DeepEqual(ev, back) {
		t.Errorf("round trip mismatch:\nin:  %+v\nout: %+v", ev, back)
	}
}

func TestDecodePayload_UnknownType(t *testing.T) {
	if _, err := DecodePayload(EventType("ITEM_RENAMED"), json.RawMessage(`{}`)); err == nil {
		t.Error("unknown event type must fail to decode")
	}
	if _, err := DecodePayload(EventItemCreated, nil); err == nil {
		t.Error("empty payload must fail to decode")
	}
}

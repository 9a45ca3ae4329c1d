package dispatch

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	wsErrors "github.com/studyroomhq/workspace-kit/errors"
	"github.com/studyroomhq/workspace-kit/storage/memory"
	"github.com/studyroomhq/workspace-kit/workspace"
)

func newTestDispatcher(t *testing.T, opts ...Option) (*Dispatcher, *memory.Store) {
	t.Helper()
	store := memory.New()
	t.Cleanup(func() { store.Close() })

	var n int
	var mu sync.Mutex
	base := []Option{
		WithClock(func() time.Time { return time.UnixMilli(1700000000000) }),
		WithIDGenerator(func() string {
			mu.Lock()
			defer mu.Unlock()
			n++
			return fmt.Sprintf("id-%d", n)
		}),
	}
	d := New(store, AllowAll{}, append(base, opts...)...)
	return d, store
}

func mustCreate(t *testing.T, d *Dispatcher, ws string, spec CreateItem) Result {
	t.Helper()
	res := d.Execute(context.Background(), Create{WorkspaceID: ws, UserID: "u1", CreateItem: spec})
	require.True(t, res.Success, "create failed: %s", res.Message)
	require.NotEmpty(t, res.ItemID)
	return res
}

func TestExecute_CreateNote(t *testing.T) {
	d, store := newTestDispatcher(t)

	res := mustCreate(t, d, "ws1", CreateItem{ItemType: workspace.ItemNote, Title: "Biology", Content: "mitochondria"})
	assert.Equal(t, int64(1), res.Version)
	require.NotNil(t, res.Event)
	assert.Equal(t, workspace.EventItemCreated, res.Event.Type)

	events, err := store.LoadEvents(context.Background(), "ws1")
	require.NoError(t, err)
	require.Len(t, events, 1)

	items := workspace.Replay(events)
	require.Len(t, items, 1)
	assert.Equal(t, "Biology", items[0].Name)
	assert.Equal(t, "mitochondria", items[0].Data.Content)
}

func TestExecute_CreateDefaults(t *testing.T) {
	d, _ := newTestDispatcher(t)

	tests := []struct {
		name     string
		spec     CreateItem
		wantType workspace.ItemType
		wantName string
	}{
		{"untitled note", CreateItem{ItemType: workspace.ItemNote, Content: "x"}, workspace.ItemNote, "New Note"},
		{"unknown type becomes note", CreateItem{ItemType: "spreadsheet", Content: "x"}, workspace.ItemNote, "New Note"},
		{"untitled folder", CreateItem{ItemType: workspace.ItemFolder}, workspace.ItemFolder, "New Folder"},
		{"untitled deck", CreateItem{ItemType: workspace.ItemFlashcard, Cards: []workspace.Card{{Front: "q", Back: "a"}}}, workspace.ItemFlashcard, "Flashcard Deck"},
		{"untitled pdf", CreateItem{ItemType: workspace.ItemPDF, SourceURL: "https://example.com/a.pdf"}, workspace.ItemPDF, "PDF Document"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := mustCreate(t, d, "ws-defaults-"+tt.name, tt.spec)
			items, err := d.loader.LoadItems(context.Background(), "ws-defaults-"+tt.name)
			require.NoError(t, err)
			require.Len(t, items, 1)
			assert.Equal(t, tt.wantType, items[0].Type)
			assert.Equal(t, tt.wantName, items[0].Name)
			assert.Equal(t, res.ItemID, items[0].ID)
		})
	}
}

func TestExecute_CreateValidation(t *testing.T) {
	d, store := newTestDispatcher(t)

	tests := []struct {
		name string
		spec CreateItem
	}{
		{"note without content", CreateItem{ItemType: workspace.ItemNote}},
		{"note with blank content", CreateItem{ItemType: workspace.ItemNote, Content: "   "}},
		{"deck without cards", CreateItem{ItemType: workspace.ItemFlashcard}},
		{"quiz without questions", CreateItem{ItemType: workspace.ItemQuiz}},
		{"youtube without url", CreateItem{ItemType: workspace.ItemYouTube}},
		{"image without url", CreateItem{ItemType: workspace.ItemImage}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := d.Execute(context.Background(), Create{WorkspaceID: "ws1", UserID: "u1", CreateItem: tt.spec})
			assert.False(t, res.Success)
			assert.NotEmpty(t, res.Message)
		})
	}

	// Nothing may have been appended by a rejected command.
	v, err := store.GetVersion(context.Background(), "ws1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), v)
}

func TestExecute_CreateFlashcardCounts(t *testing.T) {
	d, _ := newTestDispatcher(t)

	res := mustCreate(t, d, "ws1", CreateItem{
		ItemType: workspace.ItemFlashcard,
		Cards:    []workspace.Card{{Front: "a", Back: "1"}, {Front: "b", Back: "2"}},
	})
	assert.Equal(t, 2, res.CardsAdded)
	assert.Equal(t, 2, res.CardCount)
}

func TestExecute_BulkCreate(t *testing.T) {
	d, _ := newTestDispatcher(t)

	res := d.Execute(context.Background(), BulkCreate{
		WorkspaceID: "ws1",
		UserID:      "u1",
		Items: []CreateItem{
			{ItemType: workspace.ItemNote, Title: "A", Content: "a"},
			{ItemType: workspace.ItemFolder, Title: "F"},
		},
	})
	require.True(t, res.Success, res.Message)
	assert.Equal(t, int64(1), res.Version, "bulk create is a single event")

	items, err := d.loader.LoadItems(context.Background(), "ws1")
	require.NoError(t, err)
	assert.Len(t, items, 2)
}

func TestExecute_BulkCreateRejectsWholeBatch(t *testing.T) {
	d, store := newTestDispatcher(t)

	res := d.Execute(context.Background(), BulkCreate{
		WorkspaceID: "ws1",
		UserID:      "u1",
		Items: []CreateItem{
			{ItemType: workspace.ItemNote, Title: "ok", Content: "a"},
			{ItemType: workspace.ItemNote, Title: "bad"},
		},
	})
	assert.False(t, res.Success)

	v, err := store.GetVersion(context.Background(), "ws1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), v, "a batch with an invalid item appends nothing")
}

func TestExecute_BulkCreateEmpty(t *testing.T) {
	d, _ := newTestDispatcher(t)

	res := d.Execute(context.Background(), BulkCreate{WorkspaceID: "ws1", UserID: "u1"})
	assert.False(t, res.Success)
}

func TestExecute_Update(t *testing.T) {
	d, _ := newTestDispatcher(t)
	created := mustCreate(t, d, "ws1", CreateItem{ItemType: workspace.ItemNote, Title: "Old", Content: "x"})

	newName := "New"
	res := d.Execute(context.Background(), Update{
		WorkspaceID: "ws1",
		UserID:      "u1",
		ItemID:      created.ItemID,
		Changes:     workspace.ItemPatch{Name: &newName},
	})
	require.True(t, res.Success, res.Message)
	assert.Equal(t, int64(2), res.Version)

	items, err := d.loader.LoadItems(context.Background(), "ws1")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "New", items[0].Name)
}

func TestExecute_UpdateNoChanges(t *testing.T) {
	d, store := newTestDispatcher(t)
	created := mustCreate(t, d, "ws1", CreateItem{ItemType: workspace.ItemNote, Title: "N", Content: "x"})

	res := d.Execute(context.Background(), Update{
		WorkspaceID: "ws1",
		UserID:      "u1",
		ItemID:      created.ItemID,
	})
	assert.True(t, res.Success)
	assert.Equal(t, "No changes to update", res.Message)
	assert.Nil(t, res.Event)

	v, err := store.GetVersion(context.Background(), "ws1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), v, "a no-op update must not append")
}

func TestExecute_UpdateNotFound(t *testing.T) {
	d, _ := newTestDispatcher(t)
	mustCreate(t, d, "ws1", CreateItem{ItemType: workspace.ItemNote, Title: "N", Content: "x"})

	name := "x"
	res := d.Execute(context.Background(), Update{
		WorkspaceID: "ws1",
		UserID:      "u1",
		ItemID:      "missing",
		Changes:     workspace.ItemPatch{Name: &name},
	})
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "not found")
}

func TestExecute_Delete(t *testing.T) {
	d, _ := newTestDispatcher(t)
	created := mustCreate(t, d, "ws1", CreateItem{ItemType: workspace.ItemNote, Title: "Gone", Content: "x"})

	res := d.Execute(context.Background(), Delete{WorkspaceID: "ws1", UserID: "u1", ItemID: created.ItemID})
	require.True(t, res.Success, res.Message)
	assert.Contains(t, res.Message, "Gone")

	items, err := d.loader.LoadItems(context.Background(), "ws1")
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestExecute_UpdateFlashcard(t *testing.T) {
	d, _ := newTestDispatcher(t)
	created := mustCreate(t, d, "ws1", CreateItem{
		ItemType: workspace.ItemFlashcard,
		Title:    "Deck",
		Cards:    []workspace.Card{{Front: "a", Back: "1"}},
	})

	res := d.Execute(context.Background(), UpdateFlashcard{
		WorkspaceID: "ws1",
		UserID:      "u1",
		ItemID:      created.ItemID,
		Cards:       []workspace.Card{{Front: "b", Back: "2"}, {Front: "c", Back: "3"}},
	})
	require.True(t, res.Success, res.Message)
	assert.Equal(t, 2, res.CardsAdded)
	assert.Equal(t, 3, res.CardCount)

	items, err := d.loader.LoadItems(context.Background(), "ws1")
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Len(t, items[0].Data.Cards, 3)
	assert.Equal(t, "a", items[0].Data.Cards[0].Front, "existing cards are preserved in order")
	for _, c := range items[0].Data.Cards {
		assert.NotEmpty(t, c.ID)
	}
}

func TestExecute_UpdateFlashcardTypeMismatch(t *testing.T) {
	d, _ := newTestDispatcher(t)
	created := mustCreate(t, d, "ws1", CreateItem{ItemType: workspace.ItemNote, Title: "N", Content: "x"})

	res := d.Execute(context.Background(), UpdateFlashcard{
		WorkspaceID: "ws1",
		UserID:      "u1",
		ItemID:      created.ItemID,
		Cards:       []workspace.Card{{Front: "a", Back: "1"}},
	})
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "not a flashcard deck")
}

func TestExecute_UpdateQuiz(t *testing.T) {
	d, _ := newTestDispatcher(t)
	created := mustCreate(t, d, "ws1", CreateItem{
		ItemType:  workspace.ItemQuiz,
		Title:     "Quiz",
		Questions: []workspace.Question{{Prompt: "p1", Options: []string{"a", "b"}, Answer: 0}},
	})

	res := d.Execute(context.Background(), UpdateQuiz{
		WorkspaceID: "ws1",
		UserID:      "u1",
		ItemID:      created.ItemID,
		Questions:   []workspace.Question{{Prompt: "p2", Options: []string{"c", "d"}, Answer: 1}},
	})
	require.True(t, res.Success, res.Message)
	assert.Equal(t, 1, res.QuestionsAdded)
	assert.Equal(t, 2, res.TotalQuestions)
}

func TestExecute_UpdatePDFContent(t *testing.T) {
	d, _ := newTestDispatcher(t)
	created := mustCreate(t, d, "ws1", CreateItem{
		ItemType:  workspace.ItemPDF,
		Title:     "Paper",
		SourceURL: "https://example.com/p.pdf",
	})

	res := d.Execute(context.Background(), UpdatePDFContent{
		WorkspaceID: "ws1",
		UserID:      "u1",
		ItemID:      created.ItemID,
		Content:     "extracted text",
	})
	require.True(t, res.Success, res.Message)

	items, err := d.loader.LoadItems(context.Background(), "ws1")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "extracted text", items[0].Data.Content)
	assert.Equal(t, "https://example.com/p.pdf", items[0].Data.SourceURL, "source url survives a content update")
}

func TestExecute_UpdatePDFContentTypeMismatch(t *testing.T) {
	d, _ := newTestDispatcher(t)
	created := mustCreate(t, d, "ws1", CreateItem{ItemType: workspace.ItemNote, Title: "N", Content: "x"})

	res := d.Execute(context.Background(), UpdatePDFContent{
		WorkspaceID: "ws1",
		UserID:      "u1",
		ItemID:      created.ItemID,
		Content:     "text",
	})
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "not a pdf")
}

func TestExecute_MissingWorkspace(t *testing.T) {
	d, _ := newTestDispatcher(t)

	res := d.Execute(context.Background(), Create{UserID: "u1", CreateItem: CreateItem{ItemType: workspace.ItemFolder}})
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "workspaceId")
}

func TestExecute_NilCommand(t *testing.T) {
	d, _ := newTestDispatcher(t)

	res := d.Execute(context.Background(), nil)
	assert.False(t, res.Success)
}

func TestExecute_Authorization(t *testing.T) {
	acl := NewACL()
	acl.Grant("ws1", "editor", RoleEditor)
	acl.Grant("ws1", "viewer", RoleViewer)

	store := memory.New()
	t.Cleanup(func() { store.Close() })
	d := New(store, acl)

	tests := []struct {
		name    string
		user    string
		wantOK  bool
		message string
	}{
		{"editor may mutate", "editor", true, ""},
		{"viewer may not", "viewer", false, "editor or owner is required"},
		{"unknown user", "stranger", false, "no access"},
		{"anonymous", "", false, "identity is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := d.Execute(context.Background(), Create{
				WorkspaceID: "ws1",
				UserID:      tt.user,
				CreateItem:  CreateItem{ItemType: workspace.ItemFolder},
			})
			assert.Equal(t, tt.wantOK, res.Success, res.Message)
			if tt.message != "" {
				assert.Contains(t, res.Message, tt.message)
			}
		})
	}
}

// conflictStore wraps a real store and reports a conflict for the first n
// appends, echoing the inner store's true version the way a contended store
// would.
type conflictStore struct {
	workspace.EventStore
	mu        sync.Mutex
	remaining int
}

func (s *conflictStore) AppendEvent(ctx context.Context, workspaceID string, ev workspace.Event, expected int64) (workspace.AppendResult, error) {
	s.mu.Lock()
	inject := s.remaining > 0
	if inject {
		s.remaining--
	}
	s.mu.Unlock()

	if inject {
		current, err := s.EventStore.GetVersion(ctx, workspaceID)
		if err != nil {
			return workspace.AppendResult{}, err
		}
		return workspace.AppendResult{Version: current, Conflict: true}, nil
	}
	return s.EventStore.AppendEvent(ctx, workspaceID, ev, expected)
}

func TestExecute_CreateRetriesConflicts(t *testing.T) {
	inner := memory.New()
	t.Cleanup(func() { inner.Close() })
	store := &conflictStore{EventStore: inner, remaining: 2}
	d := New(store, AllowAll{})

	res := d.Execute(context.Background(), Create{
		WorkspaceID: "ws1",
		UserID:      "u1",
		CreateItem:  CreateItem{ItemType: workspace.ItemNote, Content: "x"},
	})
	require.True(t, res.Success, "two conflicts are within the retry bound: %s", res.Message)
	assert.Equal(t, 0, store.remaining)
}

func TestExecute_CreateGivesUpAfterMaxRetries(t *testing.T) {
	inner := memory.New()
	t.Cleanup(func() { inner.Close() })
	store := &conflictStore{EventStore: inner, remaining: 3}
	d := New(store, AllowAll{})

	res := d.Execute(context.Background(), Create{
		WorkspaceID: "ws1",
		UserID:      "u1",
		CreateItem:  CreateItem{ItemType: workspace.ItemNote, Content: "x"},
	})
	assert.False(t, res.Success)
	assert.Equal(t, wsErrors.ConflictMessage, res.Message)
}

func TestExecute_UpdateDoesNotRetryConflicts(t *testing.T) {
	inner := memory.New()
	t.Cleanup(func() { inner.Close() })

	// Seed one item directly so the wrapper's conflict hits the update.
	seed := New(inner, AllowAll{})
	created := seed.Execute(context.Background(), Create{
		WorkspaceID: "ws1", UserID: "u1",
		CreateItem: CreateItem{ItemType: workspace.ItemNote, Content: "x"},
	})
	require.True(t, created.Success)

	store := &conflictStore{EventStore: inner, remaining: 1}
	d := New(store, AllowAll{})

	name := "renamed"
	res := d.Execute(context.Background(), Update{
		WorkspaceID: "ws1",
		UserID:      "u1",
		ItemID:      created.ItemID,
		Changes:     workspace.ItemPatch{Name: &name},
	})
	assert.False(t, res.Success, "an update conflict fails fast")
	assert.Equal(t, wsErrors.ConflictMessage, res.Message)
}

// panicStore wraps a real store and panics on the first append, the way a
// broken storage driver would mid-command.
type panicStore struct {
	workspace.EventStore
	mu       sync.Mutex
	panicked bool
}

func (s *panicStore) AppendEvent(ctx context.Context, workspaceID string, ev workspace.Event, expected int64) (workspace.AppendResult, error) {
	s.mu.Lock()
	first := !s.panicked
	s.panicked = true
	s.mu.Unlock()

	if first {
		panic("store blew up")
	}
	return s.EventStore.AppendEvent(ctx, workspaceID, ev, expected)
}

func TestExecute_RecoversFromStorePanic(t *testing.T) {
	inner := memory.New()
	t.Cleanup(func() { inner.Close() })

	seed := New(inner, AllowAll{})
	created := seed.Execute(context.Background(), Create{
		WorkspaceID: "ws1", UserID: "u1",
		CreateItem: CreateItem{ItemType: workspace.ItemNote, Content: "x"},
	})
	require.True(t, created.Success)

	store := &panicStore{EventStore: inner}
	d := New(store, AllowAll{})

	name := "renamed"
	update := Update{
		WorkspaceID: "ws1",
		UserID:      "u1",
		ItemID:      created.ItemID,
		Changes:     workspace.ItemPatch{Name: &name},
	}

	res := d.Execute(context.Background(), update)
	assert.False(t, res.Success)
	assert.Equal(t, "internal error executing command", res.Message)

	// The workspace queue must be released, or this second command hangs.
	res = d.Execute(context.Background(), update)
	assert.True(t, res.Success, "command after a panic should go through: %s", res.Message)
}

func TestExecute_ConcurrentCreatesAllSucceed(t *testing.T) {
	store := memory.New()
	t.Cleanup(func() { store.Close() })
	// Creates bypass the workspace queue, so five racing creates can pile up
	// more conflicts than the default bound of 2 allows. Widen the bound so
	// the all-succeed outcome is deterministic rather than scheduling luck.
	d := New(store, AllowAll{}, WithMaxRetries(10))

	const n = 5
	results := make([]Result, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = d.Execute(context.Background(), Create{
				WorkspaceID: "ws1",
				UserID:      "u1",
				CreateItem:  CreateItem{ItemType: workspace.ItemNote, Title: fmt.Sprintf("n%d", i), Content: "x"},
			})
		}(i)
	}
	wg.Wait()

	for i, res := range results {
		assert.True(t, res.Success, "create %d: %s", i, res.Message)
	}

	v, err := store.GetVersion(context.Background(), "ws1")
	require.NoError(t, err)
	assert.Equal(t, int64(n), v)

	items, err := New(store, AllowAll{}).loader.LoadItems(context.Background(), "ws1")
	require.NoError(t, err)
	assert.Len(t, items, n)
}

func TestExecute_WorkspacesAreIndependent(t *testing.T) {
	d, store := newTestDispatcher(t)

	mustCreate(t, d, "ws1", CreateItem{ItemType: workspace.ItemNote, Content: "a"})
	mustCreate(t, d, "ws2", CreateItem{ItemType: workspace.ItemNote, Content: "b"})

	v1, err := store.GetVersion(context.Background(), "ws1")
	require.NoError(t, err)
	v2, err := store.GetVersion(context.Background(), "ws2")
	require.NoError(t, err)
	assert.Equal(t, int64(1), v1)
	assert.Equal(t, int64(1), v2)
}

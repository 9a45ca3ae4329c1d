// Package dispatch executes workspace mutation commands: it authorizes the
// caller, validates the command, builds exactly one event capturing the net
// change, and drives the append-with-retry protocol under the per-workspace
// operation queue. Collaborators (UI actions, AI tools) always receive a
// structured Result; no error crosses the dispatcher boundary raw.
package dispatch

import "github.com/studyroomhq/workspace-kit/workspace"

// Command is the closed set of mutations the engine accepts. The set is
// sealed: adding a kind means adding a concrete type here and a case to the
// dispatcher's type switch, a compile-visible obligation rather than a string
// comparison that can silently fall through.
type Command interface {
	isCommand()

	// Workspace returns the target workspace id.
	Workspace() string

	// User returns the caller's identity.
	User() string
}

// CreateItem describes one item to create. The zero value of every field is
// "not provided"; validation decides what a given item type requires.
type CreateItem struct {
	Title     string
	ItemType  workspace.ItemType
	Content   string
	Cards     []workspace.Card
	Questions []workspace.Question
	SourceURL string
	Color     string
	FolderID  string
	Layout    *workspace.Layout
}

// Create adds one item to the workspace. Creations are commutative, so they
// bypass the operation queue and retry transient version conflicts.
type Create struct {
	WorkspaceID string
	UserID      string
	CreateItem
}

// BulkCreate adds a batch of items as a single event.
type BulkCreate struct {
	WorkspaceID string
	UserID      string
	Items       []CreateItem
}

// Update applies a partial patch to an existing item. A defined-but-empty
// field clears it; an omitted (nil) field is left unchanged.
type Update struct {
	WorkspaceID string
	UserID      string
	ItemID      string
	Changes     workspace.ItemPatch
}

// Delete removes an item. Irreversible; the ITEM_DELETED event is the only
// record.
type Delete struct {
	WorkspaceID string
	UserID      string
	ItemID      string
}

// UpdateFlashcard appends cards to an existing flashcard deck. New cards are
// always assigned freshly generated ids on write, even if the caller supplied
// ids, to prevent collisions when merging into an existing deck.
type UpdateFlashcard struct {
	WorkspaceID string
	UserID      string
	ItemID      string
	Cards       []workspace.Card
}

// UpdateQuiz appends questions to an existing quiz, with the same fresh-id
// rule as UpdateFlashcard.
type UpdateQuiz struct {
	WorkspaceID string
	UserID      string
	ItemID      string
	Questions   []workspace.Question
}

// UpdatePDFContent replaces the extracted text content of a pdf item.
type UpdatePDFContent struct {
	WorkspaceID string
	UserID      string
	ItemID      string
	Content     string
}

func (Create) isCommand()           {}
func (BulkCreate) isCommand()       {}
func (Update) isCommand()           {}
func (Delete) isCommand()           {}
func (UpdateFlashcard) isCommand()  {}
func (UpdateQuiz) isCommand()       {}
func (UpdatePDFContent) isCommand() {}

func (c Create) Workspace() string           { return c.WorkspaceID }
func (c BulkCreate) Workspace() string       { return c.WorkspaceID }
func (c Update) Workspace() string           { return c.WorkspaceID }
func (c Delete) Workspace() string           { return c.WorkspaceID }
func (c UpdateFlashcard) Workspace() string  { return c.WorkspaceID }
func (c UpdateQuiz) Workspace() string       { return c.WorkspaceID }
func (c UpdatePDFContent) Workspace() string { return c.WorkspaceID }

func (c Create) User() string           { return c.UserID }
func (c BulkCreate) User() string       { return c.UserID }
func (c Update) User() string           { return c.UserID }
func (c Delete) User() string           { return c.UserID }
func (c UpdateFlashcard) User() string  { return c.UserID }
func (c UpdateQuiz) User() string       { return c.UserID }
func (c UpdatePDFContent) User() string { return c.UserID }

// allowParallel reports whether the command kind is safe to run concurrently
// against its workspace. Pure creations never logically conflict with each
// other, so serializing them only adds latency; everything else must be
// totally ordered per workspace.
func allowParallel(cmd Command) bool {
	switch cmd.(type) {
	case Create, BulkCreate:
		return true
	default:
		return false
	}
}

package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	wsErrors "github.com/studyroomhq/workspace-kit/errors"
	"github.com/studyroomhq/workspace-kit/logging"
	"github.com/studyroomhq/workspace-kit/queue"
	"github.com/studyroomhq/workspace-kit/workspace"
)

// DefaultMaxRetries bounds how many times a creation-class append retries a
// transient version conflict. Conflicts under allowParallel are expected to
// be rare (two creations racing to read the version before either commits);
// two retries absorb the common race without a retry storm.
const DefaultMaxRetries = 2

// StateLoader materializes a workspace's current item list. The default
// implementation replays the store's event log; a caching loader can be
// substituted without touching the dispatcher.
type StateLoader interface {
	LoadItems(ctx context.Context, workspaceID string) ([]workspace.Item, error)
}

// replayLoader is the default StateLoader: load the log, fold it.
type replayLoader struct {
	store workspace.EventStore
}

func (l replayLoader) LoadItems(ctx context.Context, workspaceID string) ([]workspace.Item, error) {
	events, err := l.store.LoadEvents(ctx, workspaceID)
	if err != nil {
		return nil, wsErrors.NewStoreError(wsErrors.OpLoad, err)
	}
	return workspace.Replay(events), nil
}

// Dispatcher executes commands against the event store. It never caches a
// workspace's version: every decision re-reads, or is handed, the
// authoritative value by the store.
type Dispatcher struct {
	store      workspace.EventStore
	loader     StateLoader
	auth       Authorizer
	queue      *queue.Queue
	logger     *logging.Logger
	maxRetries int

	now   func() time.Time
	newID func() string
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithMaxRetries overrides the conflict retry bound for creation commands.
func WithMaxRetries(n int) Option {
	return func(d *Dispatcher) { d.maxRetries = n }
}

// WithLogger sets the dispatcher's logger.
func WithLogger(l *logging.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// WithStateLoader substitutes the state loader collaborator.
func WithStateLoader(l StateLoader) Option {
	return func(d *Dispatcher) { d.loader = l }
}

// WithQueue shares an operation queue with other dispatchers.
func WithQueue(q *queue.Queue) Option {
	return func(d *Dispatcher) { d.queue = q }
}

// WithClock overrides event timestamping. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

// WithIDGenerator overrides event and item id generation. Used by tests.
func WithIDGenerator(newID func() string) Option {
	return func(d *Dispatcher) { d.newID = newID }
}

// New creates a Dispatcher over the given store and authorizer.
func New(store workspace.EventStore, auth Authorizer, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		store:      store,
		auth:       auth,
		queue:      queue.New(),
		logger:     logging.WithComponent(logging.Component("dispatch")),
		maxRetries: DefaultMaxRetries,
		now:        time.Now,
		newID:      uuid.NewString,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.loader == nil {
		d.loader = replayLoader{store: store}
	}
	return d
}

// Execute runs one command to completion. All failures, from validation to
// storage, come back as {Success: false, Message}; Execute never returns an
// error and never panics past this boundary.
func (d *Dispatcher) Execute(ctx context.Context, cmd Command) (result Result) {
	if cmd == nil {
		return Result{Message: "no command provided"}
	}

	logger := d.logger.WithWorkspace(cmd.Workspace())
	defer func() {
		if r := recover(); r != nil {
			logger.ErrorContext(ctx, "Command panicked",
				slog.Any("panic", r),
				slog.String("command", fmt.Sprintf("%T", cmd)),
			)
			result = Result{Message: "internal error executing command"}
		}
	}()

	result, err := d.execute(ctx, cmd)
	if err != nil {
		wsErr := wsErrors.AsWorkspaceError(wsErrors.OpExecute, err)
		logger.LogError(ctx, wsErr, "Command failed",
			slog.String("command", fmt.Sprintf("%T", cmd)),
			slog.String("user_id", cmd.User()),
		)
		return Result{Message: wsErr.Message()}
	}

	logger.DebugContext(ctx, "Command completed",
		slog.String("command", fmt.Sprintf("%T", cmd)),
		slog.Int64("version", result.Version),
	)
	return result
}

func (d *Dispatcher) execute(ctx context.Context, cmd Command) (Result, error) {
	if cmd.Workspace() == "" {
		return Result{}, wsErrors.NewValidationError(wsErrors.OpValidate, fmt.Errorf("workspaceId is required"))
	}

	if err := d.auth.Authorize(ctx, cmd.User(), cmd.Workspace()); err != nil {
		return Result{}, err
	}

	var result Result
	err := d.queue.RunExclusive(ctx, cmd.Workspace(), allowParallel(cmd), func(ctx context.Context) error {
		r, err := d.dispatch(ctx, cmd)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	return result, err
}

// dispatch branches on the command's concrete type. The union is sealed, so
// the default case is unreachable unless a new kind is added without a
// handler.
func (d *Dispatcher) dispatch(ctx context.Context, cmd Command) (Result, error) {
	switch c := cmd.(type) {
	case Create:
		return d.handleCreate(ctx, c)
	case BulkCreate:
		return d.handleBulkCreate(ctx, c)
	case Update:
		return d.handleUpdate(ctx, c)
	case Delete:
		return d.handleDelete(ctx, c)
	case UpdateFlashcard:
		return d.handleUpdateFlashcard(ctx, c)
	case UpdateQuiz:
		return d.handleUpdateQuiz(ctx, c)
	case UpdatePDFContent:
		return d.handleUpdatePDFContent(ctx, c)
	default:
		return Result{}, wsErrors.NewValidationError(wsErrors.OpExecute, fmt.Errorf("unsupported command type %T", cmd))
	}
}

func (d *Dispatcher) handleCreate(ctx context.Context, c Create) (Result, error) {
	item, err := d.buildItem(c.CreateItem)
	if err != nil {
		return Result{}, err
	}

	ev := d.newEvent(workspace.EventItemCreated, workspace.ItemCreated{Item: item}, c.UserID)
	version, err := d.appendWithRetry(ctx, c.WorkspaceID, ev, true)
	if err != nil {
		return Result{}, err
	}

	result := Result{
		Success: true,
		Message: fmt.Sprintf("Created %s %q", item.Type, item.Name),
		ItemID:  item.ID,
		Version: version,
		Event:   &ev,
	}
	switch item.Type {
	case workspace.ItemFlashcard:
		result.CardsAdded = len(item.Data.Cards)
		result.CardCount = len(item.Data.Cards)
	case workspace.ItemQuiz:
		result.QuestionsAdded = len(item.Data.Questions)
		result.TotalQuestions = len(item.Data.Questions)
	}
	return result, nil
}

func (d *Dispatcher) handleBulkCreate(ctx context.Context, c BulkCreate) (Result, error) {
	if len(c.Items) == 0 {
		return Result{}, wsErrors.NewValidationError(wsErrors.OpValidate, fmt.Errorf("at least one item is required"))
	}

	items := make([]workspace.Item, 0, len(c.Items))
	for i, spec := range c.Items {
		item, err := d.buildItem(spec)
		if err != nil {
			return Result{}, wsErrors.NewValidationError(wsErrors.OpValidate, fmt.Errorf("item %d: %w", i, err))
		}
		items = append(items, item)
	}

	ev := d.newEvent(workspace.EventBulkItemsCreated, workspace.BulkItemsCreated{Items: items}, c.UserID)
	version, err := d.appendWithRetry(ctx, c.WorkspaceID, ev, true)
	if err != nil {
		return Result{}, err
	}

	return Result{
		Success: true,
		Message: fmt.Sprintf("Created %d items", len(items)),
		Version: version,
		Event:   &ev,
	}, nil
}

func (d *Dispatcher) handleUpdate(ctx context.Context, c Update) (Result, error) {
	if c.ItemID == "" {
		return Result{}, wsErrors.NewValidationError(wsErrors.OpValidate, fmt.Errorf("itemId is required"))
	}

	// Nothing recognized to change: report success without touching the
	// store. An empty-but-defined field is a change; only a fully omitted
	// patch short-circuits.
	if c.Changes.IsZero() {
		return Result{
			Success: true,
			Message: "No changes to update",
			ItemID:  c.ItemID,
		}, nil
	}

	item, err := d.findItem(ctx, c.WorkspaceID, c.ItemID)
	if err != nil {
		return Result{}, err
	}

	ev := d.newEvent(workspace.EventItemUpdated, workspace.ItemUpdated{ItemID: c.ItemID, Changes: c.Changes}, c.UserID)
	version, err := d.appendWithRetry(ctx, c.WorkspaceID, ev, false)
	if err != nil {
		return Result{}, err
	}

	return Result{
		Success: true,
		Message: fmt.Sprintf("Updated %q", item.Name),
		ItemID:  c.ItemID,
		Version: version,
		Event:   &ev,
	}, nil
}

func (d *Dispatcher) handleDelete(ctx context.Context, c Delete) (Result, error) {
	if c.ItemID == "" {
		return Result{}, wsErrors.NewValidationError(wsErrors.OpValidate, fmt.Errorf("itemId is required"))
	}

	item, err := d.findItem(ctx, c.WorkspaceID, c.ItemID)
	if err != nil {
		return Result{}, err
	}

	ev := d.newEvent(workspace.EventItemDeleted, workspace.ItemDeleted{ItemID: c.ItemID}, c.UserID)
	version, err := d.appendWithRetry(ctx, c.WorkspaceID, ev, false)
	if err != nil {
		return Result{}, err
	}

	return Result{
		Success: true,
		Message: fmt.Sprintf("Deleted %q", item.Name),
		ItemID:  c.ItemID,
		Version: version,
		Event:   &ev,
	}, nil
}

func (d *Dispatcher) handleUpdateFlashcard(ctx context.Context, c UpdateFlashcard) (Result, error) {
	if c.ItemID == "" {
		return Result{}, wsErrors.NewValidationError(wsErrors.OpValidate, fmt.Errorf("itemId is required"))
	}
	if len(c.Cards) == 0 {
		return Result{}, wsErrors.NewValidationError(wsErrors.OpValidate, fmt.Errorf("at least one card is required"))
	}

	item, err := d.findItem(ctx, c.WorkspaceID, c.ItemID)
	if err != nil {
		return Result{}, err
	}
	if item.Type != workspace.ItemFlashcard {
		return Result{}, wsErrors.NewTypeMismatchError(wsErrors.OpValidate, fmt.Errorf("item %q is a %s, not a flashcard deck", item.Name, item.Type))
	}

	// The payload carries the merged deck, not the appended slice, so one
	// replay step is sufficient and idempotent.
	merged := make([]workspace.Card, 0, len(item.Data.Cards)+len(c.Cards))
	merged = append(merged, item.Data.Cards...)
	merged = append(merged, d.freshCards(c.Cards)...)

	data := item.Data
	data.Cards = merged

	ev := d.newEvent(workspace.EventItemUpdated, workspace.ItemUpdated{ItemID: c.ItemID, Changes: workspace.ItemPatch{Data: &data}}, c.UserID)
	version, err := d.appendWithRetry(ctx, c.WorkspaceID, ev, false)
	if err != nil {
		return Result{}, err
	}

	return Result{
		Success:    true,
		Message:    fmt.Sprintf("Added %d cards to %q", len(c.Cards), item.Name),
		ItemID:     c.ItemID,
		Version:    version,
		CardsAdded: len(c.Cards),
		CardCount:  len(merged),
		Event:      &ev,
	}, nil
}

func (d *Dispatcher) handleUpdateQuiz(ctx context.Context, c UpdateQuiz) (Result, error) {
	if c.ItemID == "" {
		return Result{}, wsErrors.NewValidationError(wsErrors.OpValidate, fmt.Errorf("itemId is required"))
	}
	if len(c.Questions) == 0 {
		return Result{}, wsErrors.NewValidationError(wsErrors.OpValidate, fmt.Errorf("at least one question is required"))
	}

	item, err := d.findItem(ctx, c.WorkspaceID, c.ItemID)
	if err != nil {
		return Result{}, err
	}
	if item.Type != workspace.ItemQuiz {
		return Result{}, wsErrors.NewTypeMismatchError(wsErrors.OpValidate, fmt.Errorf("item %q is a %s, not a quiz", item.Name, item.Type))
	}

	merged := make([]workspace.Question, 0, len(item.Data.Questions)+len(c.Questions))
	merged = append(merged, item.Data.Questions...)
	merged = append(merged, d.freshQuestions(c.Questions)...)

	data := item.Data
	data.Questions = merged

	ev := d.newEvent(workspace.EventItemUpdated, workspace.ItemUpdated{ItemID: c.ItemID, Changes: workspace.ItemPatch{Data: &data}}, c.UserID)
	version, err := d.appendWithRetry(ctx, c.WorkspaceID, ev, false)
	if err != nil {
		return Result{}, err
	}

	return Result{
		Success:        true,
		Message:        fmt.Sprintf("Added %d questions to %q", len(c.Questions), item.Name),
		ItemID:         c.ItemID,
		Version:        version,
		QuestionsAdded: len(c.Questions),
		TotalQuestions: len(merged),
		Event:          &ev,
	}, nil
}

func (d *Dispatcher) handleUpdatePDFContent(ctx context.Context, c UpdatePDFContent) (Result, error) {
	if c.ItemID == "" {
		return Result{}, wsErrors.NewValidationError(wsErrors.OpValidate, fmt.Errorf("itemId is required"))
	}

	item, err := d.findItem(ctx, c.WorkspaceID, c.ItemID)
	if err != nil {
		return Result{}, err
	}
	if item.Type != workspace.ItemPDF {
		return Result{}, wsErrors.NewTypeMismatchError(wsErrors.OpValidate, fmt.Errorf("item %q is a %s, not a pdf", item.Name, item.Type))
	}

	data := item.Data
	data.Content = c.Content

	ev := d.newEvent(workspace.EventItemUpdated, workspace.ItemUpdated{ItemID: c.ItemID, Changes: workspace.ItemPatch{Data: &data}}, c.UserID)
	version, err := d.appendWithRetry(ctx, c.WorkspaceID, ev, false)
	if err != nil {
		return Result{}, err
	}

	return Result{
		Success: true,
		Message: fmt.Sprintf("Updated content of %q", item.Name),
		ItemID:  c.ItemID,
		Version: version,
		Event:   &ev,
	}, nil
}

// appendWithRetry runs the append protocol: read the current version, append
// with it as the expected base, and interpret the store's reply. On conflict,
// creation-class commands retry against the version the store just reported,
// bounded by maxRetries; everything else fails fast, because a blind retry of
// an update or delete could silently clobber an intervening change.
func (d *Dispatcher) appendWithRetry(ctx context.Context, workspaceID string, ev workspace.Event, retryConflicts bool) (int64, error) {
	base, err := d.store.GetVersion(ctx, workspaceID)
	if err != nil {
		return 0, wsErrors.NewStoreError(wsErrors.OpAppend, err)
	}

	for attempt := 0; ; attempt++ {
		result, err := d.store.AppendEvent(ctx, workspaceID, ev, base)
		if err != nil {
			return 0, wsErrors.NewStoreError(wsErrors.OpAppend, err)
		}

		if !result.Conflict {
			if attempt > 0 {
				d.logger.DebugContext(ctx, "Append succeeded after retry",
					slog.String("workspace_id", workspaceID),
					slog.Int("attempt", attempt+1),
				)
			}
			return result.Version, nil
		}

		if !retryConflicts || attempt >= d.maxRetries {
			return 0, wsErrors.NewConflictError(wsErrors.OpAppend, fmt.Errorf("expected base version %d, store is at %d", base, result.Version))
		}

		d.logger.DebugContext(ctx, "Append conflicted, retrying with reported version",
			slog.String("workspace_id", workspaceID),
			slog.Int64("stale_base", base),
			slog.Int64("reported_version", result.Version),
			slog.Int("attempt", attempt+1),
		)
		base = result.Version
	}
}

// findItem loads the materialized state and locates one item.
func (d *Dispatcher) findItem(ctx context.Context, workspaceID, itemID string) (workspace.Item, error) {
	items, err := d.loader.LoadItems(ctx, workspaceID)
	if err != nil {
		return workspace.Item{}, err
	}

	item, ok := workspace.FindItem(items, itemID)
	if !ok {
		return workspace.Item{}, wsErrors.NewNotFoundError(wsErrors.OpLoad, fmt.Errorf("item %q not found in workspace", itemID))
	}
	return item, nil
}

func (d *Dispatcher) newEvent(t workspace.EventType, payload workspace.Payload, userID string) workspace.Event {
	return workspace.Event{
		ID:        d.newID(),
		Type:      t,
		Payload:   payload,
		Timestamp: d.now().UnixMilli(),
		UserID:    userID,
	}
}

// defaultNames are the type-specific names used when a create supplies no
// title.
var defaultNames = map[workspace.ItemType]string{
	workspace.ItemNote:      "New Note",
	workspace.ItemFlashcard: "Flashcard Deck",
	workspace.ItemQuiz:      "New Quiz",
	workspace.ItemYouTube:   "YouTube Video",
	workspace.ItemImage:     "Image",
	workspace.ItemAudio:     "Audio Clip",
	workspace.ItemPDF:       "PDF Document",
	workspace.ItemFolder:    "New Folder",
}

// buildItem validates a creation spec and produces the new item with freshly
// generated ids throughout.
func (d *Dispatcher) buildItem(spec CreateItem) (workspace.Item, error) {
	typ := spec.ItemType
	if !workspace.KnownItemType(typ) {
		typ = workspace.ItemNote
	}

	var data workspace.ItemData
	switch typ {
	case workspace.ItemNote:
		if strings.TrimSpace(spec.Content) == "" {
			return workspace.Item{}, wsErrors.NewValidationError(wsErrors.OpValidate, fmt.Errorf("note content is required"))
		}
		data.Content = spec.Content
	case workspace.ItemFlashcard:
		if len(spec.Cards) == 0 {
			return workspace.Item{}, wsErrors.NewValidationError(wsErrors.OpValidate, fmt.Errorf("at least one card is required"))
		}
		data.Cards = d.freshCards(spec.Cards)
	case workspace.ItemQuiz:
		if len(spec.Questions) == 0 {
			return workspace.Item{}, wsErrors.NewValidationError(wsErrors.OpValidate, fmt.Errorf("at least one question is required"))
		}
		data.Questions = d.freshQuestions(spec.Questions)
	case workspace.ItemYouTube, workspace.ItemImage, workspace.ItemAudio, workspace.ItemPDF:
		if strings.TrimSpace(spec.SourceURL) == "" {
			return workspace.Item{}, wsErrors.NewValidationError(wsErrors.OpValidate, fmt.Errorf("a source url is required for %s items", typ))
		}
		data.SourceURL = spec.SourceURL
	case workspace.ItemFolder:
		// Folders carry no data.
	}

	name := strings.TrimSpace(spec.Title)
	if name == "" {
		name = defaultNames[typ]
	}

	return workspace.Item{
		ID:       d.newID(),
		Type:     typ,
		Name:     name,
		Data:     data,
		Color:    spec.Color,
		FolderID: spec.FolderID,
		Layout:   spec.Layout,
	}, nil
}

// freshCards copies the cards with newly generated ids. Caller-supplied ids
// are discarded to prevent collisions when merging into an existing deck.
func (d *Dispatcher) freshCards(cards []workspace.Card) []workspace.Card {
	out := make([]workspace.Card, len(cards))
	for i, c := range cards {
		c.ID = d.newID()
		out[i] = c
	}
	return out
}

func (d *Dispatcher) freshQuestions(questions []workspace.Question) []workspace.Question {
	out := make([]workspace.Question, len(questions))
	for i, q := range questions {
		q.ID = d.newID()
		out[i] = q
	}
	return out
}

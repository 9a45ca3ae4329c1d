package workspace

// ItemType is the closed set of study item kinds a workspace can hold.
type ItemType string

const (
	ItemNote      ItemType = "note"
	ItemFlashcard ItemType = "flashcard"
	ItemQuiz      ItemType = "quiz"
	ItemYouTube   ItemType = "youtube"
	ItemImage     ItemType = "image"
	ItemAudio     ItemType = "audio"
	ItemPDF       ItemType = "pdf"
	ItemFolder    ItemType = "folder"
)

// KnownItemType reports whether t names one of the supported item kinds.
func KnownItemType(t ItemType) bool {
	switch t {
	case ItemNote, ItemFlashcard, ItemQuiz, ItemYouTube, ItemImage, ItemAudio, ItemPDF, ItemFolder:
		return true
	}
	return false
}

// Item is one study item in a workspace. Identity (ID) never changes; the
// current value of every other field belongs to whatever the last
// successfully-applied event for that id set it to.
type Item struct {
	ID       string   `json:"id"`
	Type     ItemType `json:"type"`
	Name     string   `json:"name"`
	Subtitle string   `json:"subtitle,omitempty"`
	Data     ItemData `json:"data"`
	Color    string   `json:"color,omitempty"`
	FolderID string   `json:"folderId,omitempty"`
	Layout   *Layout  `json:"layout,omitempty"`
}

// ItemData holds the type-specific content of an item. Only the block
// matching the item's type is populated.
type ItemData struct {
	// Content is note markdown, or extracted text for pdf items.
	Content string `json:"content,omitempty"`

	// Cards is the flashcard deck body.
	Cards []Card `json:"cards,omitempty"`

	// Questions is the quiz body.
	Questions []Question `json:"questions,omitempty"`

	// SourceURL locates youtube, image, audio and pdf media.
	SourceURL string `json:"sourceUrl,omitempty"`

	// PageCount is set for pdf items once the source has been analyzed.
	PageCount int `json:"pageCount,omitempty"`
}

// Card is one flashcard in a deck.
type Card struct {
	ID    string `json:"id"`
	Front string `json:"front"`
	Back  string `json:"back"`
}

// Question is one quiz question.
type Question struct {
	ID          string   `json:"id"`
	Prompt      string   `json:"prompt"`
	Options     []string `json:"options"`
	Answer      int      `json:"answer"`
	Explanation string   `json:"explanation,omitempty"`
}

// Layout is the item's position on the workspace canvas.
type Layout struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// ItemPatch is a partial update to an item. Pointer fields distinguish
// "omitted, leave unchanged" (nil) from "set to this value", so an empty
// string is a valid "clear the field" instruction.
type ItemPatch struct {
	Name     *string   `json:"name,omitempty"`
	Subtitle *string   `json:"subtitle,omitempty"`
	Color    *string   `json:"color,omitempty"`
	FolderID *string   `json:"folderId,omitempty"`
	Layout   *Layout   `json:"layout,omitempty"`
	Data     *ItemData `json:"data,omitempty"`
}

// IsZero reports whether the patch carries no recognized change.
func (p ItemPatch) IsZero() bool {
	return p.Name == nil &&
		p.Subtitle == nil &&
		p.Color == nil &&
		p.FolderID == nil &&
		p.Layout == nil &&
		p.Data == nil
}

// apply merges the patch onto the item in place.
func (p ItemPatch) apply(it *Item) {
	if p.Name != nil {
		it.Name = *p.Name
	}
	if p.Subtitle != nil {
		it.Subtitle = *p.Subtitle
	}
	if p.Color != nil {
		it.Color = *p.Color
	}
	if p.FolderID != nil {
		it.FolderID = *p.FolderID
	}
	if p.Layout != nil {
		l := *p.Layout
		it.Layout = &l
	}
	if p.Data != nil {
		it.Data = *p.Data
	}
}

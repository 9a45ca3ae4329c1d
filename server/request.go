package server

import (
	"fmt"

	"github.com/studyroomhq/workspace-kit/dispatch"
	"github.com/studyroomhq/workspace-kit/workspace"
)

// commandRequest is the wire form of a command: an action tag plus the
// union of every action's parameters. The tag is checked here, once, at the
// edge; past this point commands are typed.
type commandRequest struct {
	Action string `json:"action" binding:"required"`

	ItemID    string                `json:"itemId"`
	Title     string                `json:"title"`
	ItemType  workspace.ItemType    `json:"itemType"`
	Content   string                `json:"content"`
	Cards     []workspace.Card      `json:"cards"`
	Questions []workspace.Question  `json:"questions"`
	SourceURL string                `json:"sourceUrl"`
	Color     string                `json:"color"`
	FolderID  string                `json:"folderId"`
	Layout    *workspace.Layout     `json:"layout"`
	Changes   workspace.ItemPatch   `json:"changes"`
	Items     []createItemRequest   `json:"items"`
}

type createItemRequest struct {
	Title     string               `json:"title"`
	ItemType  workspace.ItemType   `json:"itemType"`
	Content   string               `json:"content"`
	Cards     []workspace.Card     `json:"cards"`
	Questions []workspace.Question `json:"questions"`
	SourceURL string               `json:"sourceUrl"`
	Color     string               `json:"color"`
	FolderID  string               `json:"folderId"`
	Layout    *workspace.Layout    `json:"layout"`
}

func (r createItemRequest) spec() dispatch.CreateItem {
	return dispatch.CreateItem{
		Title:     r.Title,
		ItemType:  r.ItemType,
		Content:   r.Content,
		Cards:     r.Cards,
		Questions: r.Questions,
		SourceURL: r.SourceURL,
		Color:     r.Color,
		FolderID:  r.FolderID,
		Layout:    r.Layout,
	}
}

// command translates the request into the dispatcher's typed union.
func (r commandRequest) command(workspaceID, userID string) (dispatch.Command, error) {
	switch r.Action {
	case "create":
		return dispatch.Create{
			WorkspaceID: workspaceID,
			UserID:      userID,
			CreateItem: dispatch.CreateItem{
				Title:     r.Title,
				ItemType:  r.ItemType,
				Content:   r.Content,
				Cards:     r.Cards,
				Questions: r.Questions,
				SourceURL: r.SourceURL,
				Color:     r.Color,
				FolderID:  r.FolderID,
				Layout:    r.Layout,
			},
		}, nil
	case "bulkCreate":
		items := make([]dispatch.CreateItem, len(r.Items))
		for i, item := range r.Items {
			items[i] = item.spec()
		}
		return dispatch.BulkCreate{WorkspaceID: workspaceID, UserID: userID, Items: items}, nil
	case "update":
		return dispatch.Update{WorkspaceID: workspaceID, UserID: userID, ItemID: r.ItemID, Changes: r.Changes}, nil
	case "delete":
		return dispatch.Delete{WorkspaceID: workspaceID, UserID: userID, ItemID: r.ItemID}, nil
	case "updateFlashcard":
		return dispatch.UpdateFlashcard{WorkspaceID: workspaceID, UserID: userID, ItemID: r.ItemID, Cards: r.Cards}, nil
	case "updateQuiz":
		return dispatch.UpdateQuiz{WorkspaceID: workspaceID, UserID: userID, ItemID: r.ItemID, Questions: r.Questions}, nil
	case "updatePdfContent":
		return dispatch.UpdatePDFContent{WorkspaceID: workspaceID, UserID: userID, ItemID: r.ItemID, Content: r.Content}, nil
	default:
		return nil, fmt.Errorf("unknown action %q", r.Action)
	}
}

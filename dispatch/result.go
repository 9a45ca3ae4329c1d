package dispatch

import "github.com/studyroomhq/workspace-kit/workspace"

// Result is the structured outcome every collaborator receives. UI layers
// surface Message directly; agent layers branch on Success to decide whether
// to retry, explain, or re-fetch state and try again with corrected
// parameters.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`

	ItemID  string `json:"itemId,omitempty"`
	Version int64  `json:"version,omitempty"`

	CardsAdded     int `json:"cardsAdded,omitempty"`
	CardCount      int `json:"cardCount,omitempty"`
	QuestionsAdded int `json:"questionsAdded,omitempty"`
	TotalQuestions int `json:"totalQuestions,omitempty"`

	Event *workspace.Event `json:"event,omitempty"`
}

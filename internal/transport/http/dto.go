package http

import (
	"time"

	"github.com/samber/lo"

	"github.com/cwrk-planet/room-client/internal/domain"
	"github.com/cwrk-planet/room-client/internal/timeline"
)

type displayItemJSON struct {
	Kind timeline.ItemKind `json:"kind"`

	Message *domain.Message        `json:"message,omitempty"`
	Author  *domain.Participant    `json:"author,omitempty"`
	ReplyTo *domain.Message        `json:"replyTo,omitempty"`
	Pending bool                   `json:"pending,omitempty"`
	Edited  bool                   `json:"edited,omitempty"`
	Groups  []domain.ReactionGroup `json:"reactionGroups,omitempty"`

	Day   string `json:"day,omitempty"`
	Label string `json:"label,omitempty"`
}

func toDisplayJSON(items []timeline.DisplayItem) []displayItemJSON {
	return lo.Map(items, func(it timeline.DisplayItem, _ int) displayItemJSON {
		if it.Kind == timeline.ItemDaySeparator {
			return displayItemJSON{
				Kind:  it.Kind,
				Day:   it.Day.Format(time.DateOnly),
				Label: it.Label,
			}
		}
		return displayItemJSON{
			Kind:    it.Kind,
			Message: &it.Message,
			Author:  &it.Author,
			ReplyTo: it.ReplyTo,
			Pending: it.Pending,
			Edited:  it.Message.Edited(),
			Groups:  it.Message.ReactionGroups(),
		}
	})
}

type timelineResponse struct {
	Revision uint64            `json:"revision"`
	HasMore  bool              `json:"hasMore"`
	Items    []displayItemJSON `json:"items"`
}

type statusResponse struct {
	State     string `json:"state"`
	Online    bool   `json:"online"`
	HasMore   bool   `json:"hasMore"`
	Session   string `json:"session"`
	Watermark int64  `json:"lastUpdateTimestamp"`
	Messages  int    `json:"messages"`
	Pending   int    `json:"pending"`
	Revision  uint64 `json:"revision"`
}

type sendMessageRequest struct {
	Text    string `json:"text"`
	ReplyTo string `json:"replyTo,omitempty"`
}

type addReactionRequest struct {
	Value string `json:"value"`
}

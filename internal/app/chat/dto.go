package chat

import (
	"github.com/cwrk-planet/room-client/internal/domain"
)

// messageJSON is the wire form. The server may embed the replied-to message
// instead of sending its uuid.
type messageJSON struct {
	UUID               string              `json:"uuid"`
	Text               string              `json:"text"`
	Attachments        []domain.Attachment `json:"attachments"`
	ReplyToMessageUUID string              `json:"replyToMessageUuid,omitempty"`
	ReplyToMessage     *messageJSON        `json:"replyToMessage,omitempty"`
	Reactions          []domain.Reaction   `json:"reactions"`
	AuthorUUID         string              `json:"authorUuid"`
	SentAt             int64               `json:"sentAt"`
	UpdatedAt          int64               `json:"updatedAt"`
}

func (m messageJSON) toDomain() domain.Message {
	replyTo := m.ReplyToMessageUUID
	if replyTo == "" && m.ReplyToMessage != nil {
		replyTo = m.ReplyToMessage.UUID
	}
	return domain.Message{
		UUID:               m.UUID,
		Text:               m.Text,
		Attachments:        m.Attachments,
		ReplyToMessageUUID: replyTo,
		Reactions:          m.Reactions,
		AuthorUUID:         m.AuthorUUID,
		SentAt:             m.SentAt,
		UpdatedAt:          m.UpdatedAt,
	}
}

func toMessages(in []messageJSON) []domain.Message {
	out := make([]domain.Message, 0, len(in))
	for _, m := range in {
		out = append(out, m.toDomain())
	}
	return domain.SanitizeMessages(out)
}

type sendMessageRequest struct {
	Text           string `json:"text"`
	ReplyToMessage string `json:"replyToMessage,omitempty"`
}

type addReactionRequest struct {
	Value string `json:"value"`
}

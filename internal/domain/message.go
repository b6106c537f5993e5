package domain

import (
	"strings"
	"time"

	"github.com/samber/lo"
)

// LocalIDPrefix marks client-generated identities of pending messages.
// Server-issued uuids never carry it.
const LocalIDPrefix = "local-"

type AttachmentType string

const AttachmentImage AttachmentType = "image"

type Attachment struct {
	UUID   string         `json:"uuid"`
	Type   AttachmentType `json:"type"`
	URL    string         `json:"url"`
	Width  int            `json:"width"`
	Height int            `json:"height"`
}

type Reaction struct {
	UUID       string `json:"uuid"`
	Value      string `json:"value"`
	AuthorUUID string `json:"authorUuid"`
	Timestamp  int64  `json:"timestamp"`
}

type Message struct {
	UUID               string       `json:"uuid"`
	Text               string       `json:"text"`
	Attachments        []Attachment `json:"attachments"`
	ReplyToMessageUUID string       `json:"replyToMessageUuid,omitempty"`
	Reactions          []Reaction   `json:"reactions"`
	AuthorUUID         string       `json:"authorUuid"`
	SentAt             int64        `json:"sentAt"`
	UpdatedAt          int64        `json:"updatedAt"`
}

// Edited reports whether the server returned a version newer than the original send.
func (m Message) Edited() bool { return m.UpdatedAt > m.SentAt }

func (m Message) IsLocal() bool { return IsLocalID(m.UUID) }

func (m Message) SentTime() time.Time { return FromMillis(m.SentAt) }

func IsLocalID(id string) bool { return strings.HasPrefix(id, LocalIDPrefix) }

type ReactionGroup struct {
	Value   string   `json:"value"`
	Count   int      `json:"count"`
	Authors []string `json:"authors"`
}

// ReactionGroups aggregates reactions by value in first-seen order.
// Reactions without a value are skipped.
func (m Message) ReactionGroups() []ReactionGroup {
	var out []ReactionGroup
	pos := make(map[string]int)
	for _, r := range m.Reactions {
		if r.Value == "" {
			continue
		}
		i, ok := pos[r.Value]
		if !ok {
			i = len(out)
			pos[r.Value] = i
			out = append(out, ReactionGroup{Value: r.Value})
		}
		out[i].Count++
		if r.AuthorUUID != "" {
			out[i].Authors = append(out[i].Authors, r.AuthorUUID)
		}
	}
	return out
}

// SanitizeMessage applies the lenient parsing policy: a message without
// identity is rejected, malformed reactions and attachments are dropped
// and the message itself is kept.
func SanitizeMessage(m Message) (Message, bool) {
	m.UUID = strings.TrimSpace(m.UUID)
	if m.UUID == "" {
		return Message{}, false
	}

	m.Reactions = lo.Filter(m.Reactions, func(r Reaction, _ int) bool {
		return r.UUID != "" && r.Value != ""
	})
	m.Attachments = lo.Filter(m.Attachments, func(a Attachment, _ int) bool {
		return a.Type == AttachmentImage && a.URL != "" && a.Width > 0 && a.Height > 0
	})
	if m.Reactions == nil {
		m.Reactions = []Reaction{}
	}
	if m.Attachments == nil {
		m.Attachments = []Attachment{}
	}
	if m.UpdatedAt < m.SentAt {
		m.UpdatedAt = m.SentAt
	}
	return m, true
}

func SanitizeMessages(in []Message) []Message {
	out := make([]Message, 0, len(in))
	for _, m := range in {
		if sm, ok := SanitizeMessage(m); ok {
			out = append(out, sm)
		}
	}
	return out
}

func NowMillis() int64 { return time.Now().UnixMilli() }

func ToMillis(t time.Time) int64 { return t.UnixMilli() }

func FromMillis(ms int64) time.Time { return time.UnixMilli(ms) }

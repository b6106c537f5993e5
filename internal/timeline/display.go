package timeline

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/cwrk-planet/room-client/internal/domain"
)

type ItemKind string

const (
	ItemMessage      ItemKind = "message"
	ItemDaySeparator ItemKind = "day"
)

type DisplayItem struct {
	Kind ItemKind

	// set for ItemMessage
	Message domain.Message
	Author  domain.Participant
	ReplyTo *domain.Message
	Pending bool

	// set for ItemDaySeparator
	Day   time.Time
	Label string
}

type DisplayInput struct {
	Messages     []domain.Message // canonical, ascending
	Pending      []domain.Message
	Participants map[string]domain.Participant
	Location     *time.Location
}

// BuildDisplay concatenates canonical messages and the pending overlay and
// inserts a day separator between adjacent visible messages whose calendar
// dates differ. Canonical messages without a known author are skipped; they
// stay in the store and show up once the participant arrives. Pending
// messages are always visible.
func BuildDisplay(in DisplayInput) []DisplayItem {
	loc := in.Location
	if loc == nil {
		loc = time.Local
	}

	byID := make(map[string]domain.Message, len(in.Messages)+len(in.Pending))
	for _, m := range in.Messages {
		byID[m.UUID] = m
	}
	for _, m := range in.Pending {
		byID[m.UUID] = m
	}

	out := make([]DisplayItem, 0, len(in.Messages)+len(in.Pending))
	var prevDay time.Time

	push := func(m domain.Message, author domain.Participant, pending bool) {
		day := dayOf(m.SentAt, loc)
		if !prevDay.IsZero() && !day.Equal(prevDay) {
			out = append(out, DisplayItem{
				Kind:  ItemDaySeparator,
				Day:   day,
				Label: DayLabel(day),
			})
		}
		prevDay = day

		item := DisplayItem{
			Kind:    ItemMessage,
			Message: m,
			Author:  author,
			Pending: pending,
		}
		if m.ReplyToMessageUUID != "" {
			if target, ok := byID[m.ReplyToMessageUUID]; ok {
				item.ReplyTo = &target
			}
		}
		out = append(out, item)
	}

	for _, m := range in.Messages {
		author, ok := in.Participants[m.AuthorUUID]
		if !ok {
			continue
		}
		push(m, author, false)
	}
	for _, m := range in.Pending {
		author, ok := in.Participants[m.AuthorUUID]
		if !ok {
			author = domain.Participant{UUID: m.AuthorUUID}
		}
		push(m, author, true)
	}

	return out
}

func dayOf(ms int64, loc *time.Location) time.Time {
	t := domain.FromMillis(ms).In(loc)
	y, mo, d := t.Date()
	return time.Date(y, mo, d, 0, 0, 0, 0, loc)
}

// DayLabel formats a day as "Monday, January 2nd, 2006".
func DayLabel(day time.Time) string {
	return fmt.Sprintf("%s, %s %s, %d", day.Weekday(), day.Month(), humanize.Ordinal(day.Day()), day.Year())
}

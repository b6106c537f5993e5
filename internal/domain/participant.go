package domain

import "strings"

type Participant struct {
	UUID      string `json:"uuid"`
	Name      string `json:"name"`
	Bio       string `json:"bio,omitempty"`
	AvatarURL string `json:"avatarUrl,omitempty"`
	JobTitle  string `json:"jobTitle,omitempty"`
	Email     string `json:"email,omitempty"`
	CreatedAt int64  `json:"createdAt"`
	UpdatedAt int64  `json:"updatedAt"`
}

// SanitizeParticipant drops records without identity and clamps updatedAt
// so that it never precedes createdAt.
func SanitizeParticipant(p Participant) (Participant, bool) {
	p.UUID = strings.TrimSpace(p.UUID)
	if p.UUID == "" {
		return Participant{}, false
	}
	if p.UpdatedAt < p.CreatedAt {
		p.UpdatedAt = p.CreatedAt
	}
	return p, true
}

func SanitizeParticipants(in []Participant) []Participant {
	out := make([]Participant, 0, len(in))
	for _, p := range in {
		if sp, ok := SanitizeParticipant(p); ok {
			out = append(out, sp)
		}
	}
	return out
}

// Package timeline holds the canonical room state on the client and the
// reconciliation rules that fold server batches into it.
//
// All mutations go through one mutex, so batches applied from polling,
// pagination and the offline queue never interleave their read-modify-write.
// Values returned by read methods share attachment and reaction slices with
// the store; callers must treat them as read-only.
package timeline

import (
	"cmp"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/cwrk-planet/room-client/internal/domain"
)

type State struct {
	ServerInfo   domain.ServerInfo    `json:"serverInfo"`
	Messages     []domain.Message     `json:"messages"`
	Participants []domain.Participant `json:"participants"`
	Pending      []domain.Message     `json:"pendingMessages"`
	Watermark    int64                `json:"lastUpdateTimestamp"`
}

type Store struct {
	mu sync.Mutex

	messages []domain.Message // ascending by (sentAt, uuid)
	index    map[string]int

	participants map[string]domain.Participant
	porder       []string

	pending []domain.Message

	info      domain.ServerInfo
	watermark int64

	loc      *time.Location
	revision uint64
	subs     map[int]chan uint64
	nextSub  int
}

type Option func(*Store)

// WithLocation sets the zone used to compute calendar days for separators.
func WithLocation(loc *time.Location) Option {
	return func(s *Store) {
		if loc != nil {
			s.loc = loc
		}
	}
}

func New(opts ...Option) *Store {
	s := &Store{
		index:        make(map[string]int),
		participants: make(map[string]domain.Participant),
		loc:          time.Local,
		subs:         make(map[int]chan uint64),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func compareMessages(a, b domain.Message) int {
	if c := cmp.Compare(a.SentAt, b.SentAt); c != 0 {
		return c
	}
	return strings.Compare(a.UUID, b.UUID)
}

// MergeMessages inserts messages that are not present yet. Existing entries
// are never overridden, duplicates inside the batch keep the first copy.
// Returns the number of inserted messages.
func (s *Store) MergeMessages(batch []domain.Message) int {
	batch = domain.SanitizeMessages(batch)

	s.mu.Lock()
	defer s.mu.Unlock()

	added := s.mergeMessagesLocked(batch)
	if added > 0 {
		s.bumpLocked()
	}
	return added
}

// PatchMessages replaces canonical messages wholesale by uuid. Batch entries
// without a canonical match are ignored. Returns the number of replaced messages.
func (s *Store) PatchMessages(batch []domain.Message) int {
	batch = domain.SanitizeMessages(batch)

	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.patchMessagesLocked(batch)
	if n > 0 {
		s.bumpLocked()
	}
	return n
}

// UpsertMessages patches known messages and inserts unknown ones in a single
// critical section.
func (s *Store) UpsertMessages(batch []domain.Message) (patched, added int) {
	batch = domain.SanitizeMessages(batch)

	s.mu.Lock()
	defer s.mu.Unlock()

	patched = s.patchMessagesLocked(batch)
	added = s.mergeMessagesLocked(batch)
	if patched+added > 0 {
		s.bumpLocked()
	}
	return patched, added
}

// UpsertRecentMessages patches known messages and inserts unknown ones only
// when they sort after the oldest canonical message. Older unknown messages
// are dropped: inserting them would move the pagination reference past
// history that was never fetched.
func (s *Store) UpsertRecentMessages(batch []domain.Message) (patched, added int) {
	batch = domain.SanitizeMessages(batch)

	s.mu.Lock()
	defer s.mu.Unlock()

	patched = s.patchMessagesLocked(batch)
	if len(s.messages) > 0 {
		oldest := s.messages[0]
		batch = slices.DeleteFunc(batch, func(m domain.Message) bool {
			return compareMessages(m, oldest) < 0
		})
	}
	added = s.mergeMessagesLocked(batch)
	if patched+added > 0 {
		s.bumpLocked()
	}
	return patched, added
}

func (s *Store) mergeMessagesLocked(batch []domain.Message) int {
	added := 0
	for _, m := range batch {
		if m.IsLocal() {
			continue
		}
		if _, ok := s.index[m.UUID]; ok {
			continue
		}
		s.index[m.UUID] = len(s.messages)
		s.messages = append(s.messages, m)
		added++
	}
	if added > 0 {
		s.sortLocked()
	}
	return added
}

func (s *Store) patchMessagesLocked(batch []domain.Message) int {
	replaced := 0
	resort := false
	for _, m := range batch {
		i, ok := s.index[m.UUID]
		if !ok {
			continue
		}
		if s.messages[i].SentAt != m.SentAt {
			resort = true
		}
		s.messages[i] = m
		replaced++
	}
	if resort {
		s.sortLocked()
	}
	return replaced
}

func (s *Store) sortLocked() {
	slices.SortFunc(s.messages, compareMessages)
	for i, m := range s.messages {
		s.index[m.UUID] = i
	}
}

// MergeParticipants inserts unknown participants, keeping stored records.
func (s *Store) MergeParticipants(batch []domain.Participant) int {
	batch = domain.SanitizeParticipants(batch)

	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.mergeParticipantsLocked(batch)
	if n > 0 {
		s.bumpLocked()
	}
	return n
}

// PatchParticipants fully replaces stored participants with the same uuid.
func (s *Store) PatchParticipants(batch []domain.Participant) int {
	batch = domain.SanitizeParticipants(batch)

	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.patchParticipantsLocked(batch)
	if n > 0 {
		s.bumpLocked()
	}
	return n
}

func (s *Store) UpsertParticipants(batch []domain.Participant) (patched, added int) {
	batch = domain.SanitizeParticipants(batch)

	s.mu.Lock()
	defer s.mu.Unlock()

	patched = s.patchParticipantsLocked(batch)
	added = s.mergeParticipantsLocked(batch)
	if patched+added > 0 {
		s.bumpLocked()
	}
	return patched, added
}

func (s *Store) mergeParticipantsLocked(batch []domain.Participant) int {
	added := 0
	for _, p := range batch {
		if _, ok := s.participants[p.UUID]; ok {
			continue
		}
		s.participants[p.UUID] = p
		s.porder = append(s.porder, p.UUID)
		added++
	}
	return added
}

func (s *Store) patchParticipantsLocked(batch []domain.Participant) int {
	replaced := 0
	for _, p := range batch {
		if _, ok := s.participants[p.UUID]; !ok {
			continue
		}
		s.participants[p.UUID] = p
		replaced++
	}
	return replaced
}

// Reseed discards the canonical sets and the pending overlay and replaces
// them with a fresh load, all under one lock.
func (s *Store) Reseed(info domain.ServerInfo, msgs []domain.Message, parts []domain.Participant, watermark int64) {
	msgs = domain.SanitizeMessages(msgs)
	parts = domain.SanitizeParticipants(parts)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.clearLocked()
	s.info = info
	s.watermark = watermark
	s.mergeMessagesLocked(msgs)
	s.mergeParticipantsLocked(parts)
	s.bumpLocked()
}

func (s *Store) clearLocked() {
	s.messages = nil
	s.index = make(map[string]int)
	s.participants = make(map[string]domain.Participant)
	s.porder = nil
	s.pending = nil
	s.info = domain.ServerInfo{}
	s.watermark = 0
}

// Reset empties the store.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearLocked()
	s.bumpLocked()
}

// AddPending appends a local message to the overlay.
func (s *Store) AddPending(m domain.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append(s.pending, m)
	s.bumpLocked()
}

func (s *Store) RemovePending(localID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.removePendingLocked(localID) {
		return false
	}
	s.bumpLocked()
	return true
}

func (s *Store) removePendingLocked(localID string) bool {
	i := slices.IndexFunc(s.pending, func(m domain.Message) bool { return m.UUID == localID })
	if i < 0 {
		return false
	}
	s.pending = slices.Delete(s.pending, i, i+1)
	return true
}

// ConfirmPending swaps a pending message for its server-confirmed version.
// Both steps happen under one lock so readers never see the message twice.
// Returns false when localID is not pending anymore; the confirmed message
// is stored in either case.
func (s *Store) ConfirmPending(localID string, confirmed domain.Message) bool {
	batch := domain.SanitizeMessages([]domain.Message{confirmed})

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := s.removePendingLocked(localID)
	s.patchMessagesLocked(batch)
	s.mergeMessagesLocked(batch)
	if len(batch) == 1 {
		// replies queued against the local id now point at the server copy
		for i := range s.pending {
			if s.pending[i].ReplyToMessageUUID == localID {
				s.pending[i].ReplyToMessageUUID = batch[0].UUID
			}
		}
	}
	s.bumpLocked()
	return removed
}

func (s *Store) PendingMessage(localID string) (domain.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.pending {
		if m.UUID == localID {
			return m, true
		}
	}
	return domain.Message{}, false
}

func (s *Store) Pending() []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.pending)
}

func (s *Store) Messages() []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.messages)
}

// Message looks a message up in the canonical set, then in the overlay.
func (s *Store) Message(id string) (domain.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i, ok := s.index[id]; ok {
		return s.messages[i], true
	}
	for _, m := range s.pending {
		if m.UUID == id {
			return m, true
		}
	}
	return domain.Message{}, false
}

// Oldest returns the first canonical message, used as the pagination reference.
func (s *Store) Oldest() (domain.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.messages) == 0 {
		return domain.Message{}, false
	}
	return s.messages[0], true
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

func (s *Store) PendingLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

func (s *Store) Participant(id string) (domain.Participant, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.participants[id]
	return p, ok
}

// Participants returns the directory in arrival order.
func (s *Store) Participants() []domain.Participant {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.participantsLocked()
}

func (s *Store) participantsLocked() []domain.Participant {
	out := make([]domain.Participant, 0, len(s.porder))
	for _, id := range s.porder {
		out = append(out, s.participants[id])
	}
	return out
}

func (s *Store) Watermark() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.watermark
}

func (s *Store) SetWatermark(ts int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ts == s.watermark {
		return
	}
	s.watermark = ts
	s.bumpLocked()
}

func (s *Store) ServerInfo() domain.ServerInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info
}

func (s *Store) SetServerInfo(info domain.ServerInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if info == s.info {
		return
	}
	s.info = info
	s.bumpLocked()
}

func (s *Store) Location() *time.Location { return s.loc }

// Display builds the sequence the UI renders from the current state.
func (s *Store) Display() []DisplayItem {
	s.mu.Lock()
	in := DisplayInput{
		Messages:     slices.Clone(s.messages),
		Pending:      slices.Clone(s.pending),
		Participants: make(map[string]domain.Participant, len(s.participants)),
		Location:     s.loc,
	}
	for k, v := range s.participants {
		in.Participants[k] = v
	}
	s.mu.Unlock()

	return BuildDisplay(in)
}

// State copies everything that is persisted between runs.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return State{
		ServerInfo:   s.info,
		Messages:     slices.Clone(s.messages),
		Participants: s.participantsLocked(),
		Pending:      slices.Clone(s.pending),
		Watermark:    s.watermark,
	}
}

// Restore replaces the whole store with a previously saved state.
func (s *Store) Restore(st State) {
	msgs := domain.SanitizeMessages(st.Messages)
	parts := domain.SanitizeParticipants(st.Participants)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.clearLocked()
	s.info = st.ServerInfo
	s.watermark = st.Watermark
	s.mergeMessagesLocked(msgs)
	s.mergeParticipantsLocked(parts)
	for _, m := range st.Pending {
		if m.IsLocal() {
			s.pending = append(s.pending, m)
		}
	}
	s.bumpLocked()
}

func (s *Store) Revision() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.revision
}

// Subscribe returns a channel that receives the latest revision after each
// mutation. Slow readers only see the most recent value.
func (s *Store) Subscribe() (<-chan uint64, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextSub
	s.nextSub++
	ch := make(chan uint64, 1)
	s.subs[id] = ch

	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if c, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(c)
		}
	}
}

func (s *Store) bumpLocked() {
	s.revision++
	for _, ch := range s.subs {
		select {
		case ch <- s.revision:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- s.revision:
			default:
			}
		}
	}
}

package outbox

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/cwrk-planet/room-client/internal/connectivity"
	"github.com/cwrk-planet/room-client/internal/domain"
	"github.com/cwrk-planet/room-client/internal/timeline"
	"github.com/cwrk-planet/room-client/pkg/errs"
)

type MockSender struct {
	mock.Mock
}

func (m *MockSender) SendMessage(ctx context.Context, text, replyTo string) (domain.Message, error) {
	args := m.Called(ctx, text, replyTo)
	return args.Get(0).(domain.Message), args.Error(1)
}

var errNetwork = errors.New("network down")

func serverMsg(id, text string, sentAt int64) domain.Message {
	return domain.Message{UUID: id, Text: text, AuthorUUID: "you", SentAt: sentAt, UpdatedAt: sentAt}
}

func setup(t *testing.T, online bool) (*Queue, *timeline.Store, *MockSender, *connectivity.Monitor) {
	t.Helper()
	store := timeline.New(timeline.WithLocation(time.UTC))
	store.MergeParticipants([]domain.Participant{{UUID: "you", Name: "You"}, {UUID: "u1", Name: "John"}})
	store.MergeMessages([]domain.Message{{UUID: "m1", Text: "hello", AuthorUUID: "u1", SentAt: 100, UpdatedAt: 100}})

	sender := new(MockSender)
	mon := connectivity.NewMonitor(online)
	clock := func() time.Time { return time.UnixMilli(5_000) }
	t.Cleanup(func() { sender.AssertExpectations(t) })
	return New(store, sender, mon, "you", WithClock(clock)), store, sender, mon
}

func TestEnqueue_VisibleImmediately(t *testing.T) {
	q, store, _, _ := setup(t, false)

	m, err := q.Enqueue("  hi  ", "m1")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(m.UUID, domain.LocalIDPrefix))
	assert.Equal(t, "hi", m.Text)
	assert.Equal(t, "you", m.AuthorUUID)
	assert.Equal(t, "m1", m.ReplyToMessageUUID)
	assert.Empty(t, m.Reactions)
	assert.Empty(t, m.Attachments)

	items := store.Display()
	last := items[len(items)-1]
	assert.True(t, last.Pending)
	assert.Equal(t, m.UUID, last.Message.UUID)
	require.NotNil(t, last.ReplyTo)
	assert.Equal(t, "m1", last.ReplyTo.UUID)
}

func TestEnqueue_DistinctIdentities(t *testing.T) {
	q, _, _, _ := setup(t, false)
	a, _ := q.Enqueue("a", "")
	b, _ := q.Enqueue("b", "")
	assert.NotEqual(t, a.UUID, b.UUID)
	assert.Equal(t, 2, q.Len())
}

func TestEnqueue_RejectsEmptyText(t *testing.T) {
	q, store, _, _ := setup(t, true)
	_, err := q.Enqueue("   ", "")
	assert.ErrorIs(t, err, errs.ErrInvalidInput)
	assert.Zero(t, store.PendingLen())
}

func TestOfflineRoundTrip(t *testing.T) {
	q, store, sender, mon := setup(t, false)

	pending, err := q.Enqueue("hi", "")
	require.NoError(t, err)

	_, err = q.TrySend(context.Background(), pending.UUID)
	require.ErrorIs(t, err, errs.ErrOffline)
	sender.AssertNotCalled(t, "SendMessage", mock.Anything, mock.Anything, mock.Anything)

	items := store.Display()
	require.Len(t, items, 2)
	assert.True(t, items[1].Pending)

	mon.Set(true)
	sender.On("SendMessage", mock.Anything, "hi", "").Return(serverMsg("srv-1", "hi", 4_000), nil).Once()

	confirmed, err := q.TrySend(context.Background(), pending.UUID)
	require.NoError(t, err)
	assert.Equal(t, "srv-1", confirmed.UUID)

	assert.Empty(t, store.Pending())
	items = store.Display()
	require.Len(t, items, 2)
	assert.Equal(t, "srv-1", items[1].Message.UUID)
	assert.False(t, items[1].Pending)

	count := 0
	for _, it := range items {
		if it.Kind == timeline.ItemMessage && it.Message.Text == "hi" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestTrySend_FailureKeepsPending(t *testing.T) {
	q, store, sender, _ := setup(t, true)
	pending, _ := q.Enqueue("hi", "")
	sender.On("SendMessage", mock.Anything, "hi", "").Return(domain.Message{}, errNetwork).Once()

	_, err := q.TrySend(context.Background(), pending.UUID)
	require.ErrorIs(t, err, errNetwork)

	got, ok := store.PendingMessage(pending.UUID)
	require.True(t, ok)
	assert.Equal(t, pending, got)
}

func TestTrySend_UnknownPending(t *testing.T) {
	q, _, _, _ := setup(t, true)
	_, err := q.TrySend(context.Background(), domain.LocalIDPrefix+"missing")
	assert.ErrorIs(t, err, ErrUnknownPending)
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestTrySend_RejectsConcurrentSend(t *testing.T) {
	q, _, sender, _ := setup(t, true)
	pending, _ := q.Enqueue("hi", "")

	release := make(chan struct{})
	sender.On("SendMessage", mock.Anything, "hi", "").Return(serverMsg("srv-1", "hi", 4_000), nil).Once().
		Run(func(mock.Arguments) { <-release })

	done := make(chan error, 1)
	go func() {
		_, err := q.TrySend(context.Background(), pending.UUID)
		done <- err
	}()
	require.Eventually(t, func() bool {
		q.mu.Lock()
		defer q.mu.Unlock()
		_, busy := q.inflight[pending.UUID]
		return busy
	}, time.Second, time.Millisecond)

	_, err := q.TrySend(context.Background(), pending.UUID)
	assert.ErrorIs(t, err, ErrSendInFlight)

	close(release)
	assert.NoError(t, <-done)
}

func TestSend_QueuesOnFailure(t *testing.T) {
	q, store, sender, _ := setup(t, true)
	sender.On("SendMessage", mock.Anything, "first", "").Return(domain.Message{}, errNetwork).Once()
	sender.On("SendMessage", mock.Anything, "second", "").Return(serverMsg("srv-2", "second", 4_000), nil).Once()

	res, err := q.Send(context.Background(), "first", "")
	require.NoError(t, err)
	assert.False(t, res.Sent)
	assert.True(t, res.Message.IsLocal())

	res, err = q.Send(context.Background(), "second", "")
	require.NoError(t, err)
	assert.True(t, res.Sent)
	assert.Equal(t, "srv-2", res.Message.UUID)

	assert.Equal(t, 1, store.PendingLen())
}

func TestFlush_StopsAtFirstFailure(t *testing.T) {
	q, store, sender, _ := setup(t, true)
	first, _ := q.Enqueue("one", "")
	q.Enqueue("two", "")
	q.Enqueue("three", "")

	sender.On("SendMessage", mock.Anything, "one", "").Return(serverMsg("s1", "one", 1_000), nil).Once()
	sender.On("SendMessage", mock.Anything, "two", "").Return(domain.Message{}, errNetwork).Once()

	n, err := q.Flush(context.Background())
	require.ErrorIs(t, err, errNetwork)
	assert.Equal(t, 1, n)
	sender.AssertNotCalled(t, "SendMessage", mock.Anything, "three", "")

	_, stillPending := store.PendingMessage(first.UUID)
	assert.False(t, stillPending)
	texts := []string{}
	for _, m := range store.Pending() {
		texts = append(texts, m.Text)
	}
	assert.Equal(t, []string{"two", "three"}, texts)

	sender.On("SendMessage", mock.Anything, "two", "").Return(serverMsg("s2", "two", 2_000), nil).Once()
	sender.On("SendMessage", mock.Anything, "three", "").Return(serverMsg("s3", "three", 3_000), nil).Once()

	n, err = q.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Zero(t, store.PendingLen())
	assert.Equal(t, 4, store.Len())
}

func TestFlush_OfflineSendsNothing(t *testing.T) {
	q, store, _, _ := setup(t, false)
	q.Enqueue("one", "")

	n, err := q.Flush(context.Background())
	assert.ErrorIs(t, err, errs.ErrOffline)
	assert.Zero(t, n)
	assert.Equal(t, 1, store.PendingLen())
}

func TestFlush_ReplyToQueuedMessageUsesServerID(t *testing.T) {
	q, store, sender, mon := setup(t, false)

	question, err := q.Enqueue("question", "")
	require.NoError(t, err)
	followUp, err := q.Enqueue("follow-up", question.UUID)
	require.NoError(t, err)

	s1 := serverMsg("s1", "question", 5_000)
	s2 := serverMsg("s2", "follow-up", 5_001)
	s2.ReplyToMessageUUID = "s1"
	sender.On("SendMessage", mock.Anything, "question", "").Return(s1, nil).Once()
	sender.On("SendMessage", mock.Anything, "follow-up", "s1").Return(s2, nil).Once()

	mon.Set(true)
	n, err := q.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Zero(t, store.PendingLen())

	_, ok := store.PendingMessage(followUp.UUID)
	assert.False(t, ok)
	got, ok := store.Message("s2")
	require.True(t, ok)
	assert.Equal(t, "s1", got.ReplyToMessageUUID)
}

func TestTrySend_ReplyWaitsForQueuedTarget(t *testing.T) {
	q, store, sender, _ := setup(t, true)

	question, _ := q.Enqueue("question", "")
	followUp, _ := q.Enqueue("follow-up", question.UUID)

	_, err := q.TrySend(context.Background(), followUp.UUID)
	assert.ErrorIs(t, err, ErrReplyTargetPending)
	assert.ErrorIs(t, err, errs.ErrConflict)
	assert.Equal(t, 2, store.PendingLen())
	sender.AssertNotCalled(t, "SendMessage", mock.Anything, mock.Anything, mock.Anything)
}

func TestTrySend_DroppedReplyTargetSendsWithoutReply(t *testing.T) {
	q, store, sender, _ := setup(t, true)

	question, _ := q.Enqueue("question", "")
	followUp, _ := q.Enqueue("follow-up", question.UUID)
	store.RemovePending(question.UUID)

	sender.On("SendMessage", mock.Anything, "follow-up", "").Return(serverMsg("s2", "follow-up", 5_000), nil).Once()

	_, err := q.TrySend(context.Background(), followUp.UUID)
	require.NoError(t, err)
	assert.Zero(t, store.PendingLen())
}

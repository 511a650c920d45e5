package telegram

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/gotd/td/telegram/downloader"
	"github.com/gotd/td/tg"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"telegram-chat-exporter/internal/domain"
)

// --- Mocks ---

type mockTelegramAPI struct {
	mock.Mock
	downloader.Client // методы upload.* в тестах не вызываются
}

func (m *mockTelegramAPI) UsersGetUsers(ctx context.Context, req []tg.InputUserClass) ([]tg.UserClass, error) {
	args := m.Called(ctx, req)
	res, _ := args.Get(0).([]tg.UserClass)
	return res, args.Error(1)
}

func (m *mockTelegramAPI) ContactsResolveUsername(ctx context.Context, req *tg.ContactsResolveUsernameRequest) (*tg.ContactsResolvedPeer, error) {
	args := m.Called(ctx, req)
	res, _ := args.Get(0).(*tg.ContactsResolvedPeer)
	return res, args.Error(1)
}

func (m *mockTelegramAPI) MessagesGetDialogs(ctx context.Context, req *tg.MessagesGetDialogsRequest) (tg.MessagesDialogsClass, error) {
	args := m.Called(ctx, req)
	res, _ := args.Get(0).(tg.MessagesDialogsClass)
	return res, args.Error(1)
}

func (m *mockTelegramAPI) MessagesGetForumTopics(ctx context.Context, req *tg.MessagesGetForumTopicsRequest) (*tg.MessagesForumTopics, error) {
	args := m.Called(ctx, req)
	res, _ := args.Get(0).(*tg.MessagesForumTopics)
	return res, args.Error(1)
}

func (m *mockTelegramAPI) MessagesGetHistory(ctx context.Context, req *tg.MessagesGetHistoryRequest) (tg.MessagesMessagesClass, error) {
	args := m.Called(ctx, req)
	res, _ := args.Get(0).(tg.MessagesMessagesClass)
	return res, args.Error(1)
}

func (m *mockTelegramAPI) MessagesGetReplies(ctx context.Context, req *tg.MessagesGetRepliesRequest) (tg.MessagesMessagesClass, error) {
	args := m.Called(ctx, req)
	res, _ := args.Get(0).(tg.MessagesMessagesClass)
	return res, args.Error(1)
}

type mockTelegramRunner struct {
	mock.Mock
	api *mockTelegramAPI
}

func newMockTelegramRunner() *mockTelegramRunner {
	return &mockTelegramRunner{api: new(mockTelegramAPI)}
}

func (m *mockTelegramRunner) Run(ctx context.Context, f func(ctx context.Context) error) error {
	args := m.Called(ctx, f)
	return args.Error(0)
}

func (m *mockTelegramRunner) API() telegramAPI {
	return m.api
}

func (m *mockTelegramRunner) Auth() telegramAuth {
	return nil
}

// --- Test Clock ---

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func newManualClock(t time.Time) *manualClock {
	return &manualClock{now: t}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// --- Helper to create a test client ---

func newTestClient(t *testing.T) (*Client, *mockTelegramRunner, *manualClock) {
	t.Helper()
	runner := newMockTelegramRunner()
	clock := newManualClock(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))

	client := &Client{
		id:          "test-client",
		tgRunner:    runner,
		isTerminal:  func(fd int) bool { return true },
		clock:       clock.Now,
		log:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		pageSize:    2,
		topicsLimit: 200,
		ready:       make(chan struct{}),
		runErr:      make(chan error, 1),
		locations:   make(map[int]tg.InputFileLocationClass),
	}
	return client, runner, clock
}

// --- Tests ---

func TestClient_TopicsForum(t *testing.T) {
	client, runner, _ := newTestClient(t)
	ctx := context.Background()
	chat := domain.ChatInfo{ID: 99, AccessHash: 7, Title: "Dev Forum", Forum: true}

	runner.api.On("MessagesGetForumTopics", ctx, mock.MatchedBy(func(req *tg.MessagesGetForumTopicsRequest) bool {
		peer, ok := req.Peer.(*tg.InputPeerChannel)
		return ok && peer.ChannelID == 99 && peer.AccessHash == 7 && req.Limit == 200
	})).Return(&tg.MessagesForumTopics{
		Topics: []tg.ForumTopicClass{
			&tg.ForumTopic{ID: 2, Title: "General"},
			&tg.ForumTopicDeleted{ID: 3},
			&tg.ForumTopic{ID: 5, Title: "News"},
		},
	}, nil).Once()

	topics, isForum, err := client.Topics(ctx, chat)
	require.NoError(t, err)
	require.True(t, isForum)
	require.Equal(t, []domain.TopicInfo{
		{ID: 2, Title: "General"},
		{ID: 5, Title: "News"},
	}, topics)

	runner.api.AssertExpectations(t)
}

func TestClient_TopicsPlainChat(t *testing.T) {
	client, runner, _ := newTestClient(t)
	chat := domain.ChatInfo{ID: 99, AccessHash: 7, Title: "Friends"}

	topics, isForum, err := client.Topics(context.Background(), chat)
	require.NoError(t, err)
	require.False(t, isForum)
	require.Equal(t, []domain.TopicInfo{{ID: domain.SyntheticTopicID, Title: "Friends"}}, topics)

	// Обычный чат не требует обращения к API.
	runner.api.AssertNotCalled(t, "MessagesGetForumTopics", mock.Anything, mock.Anything)
}

func TestClient_HistoryPaging(t *testing.T) {
	client, runner, _ := newTestClient(t)
	ctx := context.Background()
	chat := domain.ChatInfo{ID: 99, AccessHash: 7, Title: "Friends"}

	page := func(ids ...int) tg.MessagesMessagesClass {
		msgs := make([]tg.MessageClass, 0, len(ids))
		for _, id := range ids {
			msgs = append(msgs, &tg.Message{ID: id, Date: 1700000000, Message: "m"})
		}
		return &tg.MessagesChannelMessages{Messages: msgs}
	}

	// API отдает страницы от новых к старым.
	runner.api.On("MessagesGetHistory", ctx, mock.MatchedBy(func(req *tg.MessagesGetHistoryRequest) bool {
		return req.OffsetID == 0 && req.Limit == 2
	})).Return(page(4, 3), nil).Once()
	runner.api.On("MessagesGetHistory", ctx, mock.MatchedBy(func(req *tg.MessagesGetHistoryRequest) bool {
		return req.OffsetID == 3
	})).Return(page(2), nil).Once()
	runner.api.On("MessagesGetHistory", ctx, mock.MatchedBy(func(req *tg.MessagesGetHistoryRequest) bool {
		return req.OffsetID == 2
	})).Return(page(), nil).Once()

	history, err := client.History(ctx, chat, domain.SyntheticTopicID)
	require.NoError(t, err)

	got := make([]int, 0, len(history))
	for _, m := range history {
		got = append(got, m.ID)
	}
	require.Equal(t, []int{2, 3, 4}, got, "история должна идти от старых к новым")

	runner.api.AssertExpectations(t)
}

func TestClient_HistoryForumUsesReplies(t *testing.T) {
	client, runner, _ := newTestClient(t)
	ctx := context.Background()
	chat := domain.ChatInfo{ID: 99, AccessHash: 7, Title: "Dev Forum", Forum: true}

	runner.api.On("MessagesGetReplies", ctx, mock.MatchedBy(func(req *tg.MessagesGetRepliesRequest) bool {
		return req.MsgID == 42
	})).Return(&tg.MessagesChannelMessages{}, nil).Once()

	history, err := client.History(ctx, chat, 42)
	require.NoError(t, err)
	require.Empty(t, history)

	runner.api.AssertExpectations(t)
	runner.api.AssertNotCalled(t, "MessagesGetHistory", mock.Anything, mock.Anything)
}

func TestClient_FloodWait_BlocksRequests(t *testing.T) {
	client, runner, clock := newTestClient(t)
	ctx := context.Background()
	chat := domain.ChatInfo{ID: 99, AccessHash: 7, Title: "Dev Forum", Forum: true}

	floodWaitErr := errors.New("RPC_ERROR_420: FLOOD_WAIT (60)")
	runner.api.On("MessagesGetForumTopics", ctx, mock.Anything).Return(nil, floodWaitErr).Once()

	_, _, err := client.Topics(ctx, chat)
	require.Error(t, err)
	require.Contains(t, err.Error(), "FLOOD_WAIT (60)")
	require.True(t, client.unhealthyUntil.After(clock.Now()))

	// Пока ограничение активно, запросы не доходят до API.
	_, _, err = client.Topics(ctx, chat)
	require.ErrorIs(t, err, ErrFloodWaitActive)

	clock.Advance(61 * time.Second)
	runner.api.On("MessagesGetForumTopics", ctx, mock.Anything).Return(&tg.MessagesForumTopics{}, nil).Once()

	_, _, err = client.Topics(ctx, chat)
	require.NoError(t, err)

	runner.api.AssertExpectations(t)
}

func TestParseFloodWait(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantWait time.Duration
		wantOk   bool
	}{
		{
			name:     "Valid FLOOD_WAIT error",
			err:      errors.New("rpc error code 420: FLOOD_WAIT (123)"),
			wantWait: 123 * time.Second,
			wantOk:   true,
		},
		{
			name:   "No FLOOD_WAIT in string",
			err:    errors.New("some other error"),
			wantOk: false,
		},
		{
			name:   "Nil error",
			err:    nil,
			wantOk: false,
		},
		{
			name:   "Malformed FLOOD_WAIT",
			err:    errors.New("FLOOD_WAIT (abc)"),
			wantOk: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotWait, gotOk := parseFloodWait(tt.err)
			require.Equal(t, tt.wantOk, gotOk)
			require.Equal(t, tt.wantWait, gotWait)
		})
	}
}

package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/telegram/downloader"
	"github.com/gotd/td/tg"
	"go.uber.org/zap"
	"golang.org/x/term"

	"telegram-chat-exporter/internal/domain"
	trm "telegram-chat-exporter/internal/pkg/term"
	"telegram-chat-exporter/internal/ports"
)

var (
	_ ports.MessageSource   = (*Client)(nil)
	_ ports.MediaDownloader = (*Client)(nil)
)

var (
	// ErrFloodWaitActive возвращается, когда клиент не может выполнить запрос из-за активного ограничения FLOOD_WAIT.
	ErrFloodWaitActive = errors.New("client is in flood wait")
	// ErrChatNotFound возвращается, когда чат не удалось найти по идентификатору.
	ErrChatNotFound = errors.New("chat not found")
	// floodWaitRegex используется для парсинга длительности ожидания из сообщения об ошибке.
	floodWaitRegex = regexp.MustCompile(`FLOOD_WAIT \((\d+)\)`)
)

// telegramAPI представляет необработанные методы API, которые мы используем.
// downloader.Client покрывает методы upload.*, нужные для скачивания файлов.
type telegramAPI interface {
	downloader.Client
	UsersGetUsers(ctx context.Context, request []tg.InputUserClass) ([]tg.UserClass, error)
	ContactsResolveUsername(ctx context.Context, req *tg.ContactsResolveUsernameRequest) (*tg.ContactsResolvedPeer, error)
	MessagesGetDialogs(ctx context.Context, req *tg.MessagesGetDialogsRequest) (tg.MessagesDialogsClass, error)
	MessagesGetForumTopics(ctx context.Context, req *tg.MessagesGetForumTopicsRequest) (*tg.MessagesForumTopics, error)
	MessagesGetHistory(ctx context.Context, req *tg.MessagesGetHistoryRequest) (tg.MessagesMessagesClass, error)
	MessagesGetReplies(ctx context.Context, req *tg.MessagesGetRepliesRequest) (tg.MessagesMessagesClass, error)
}

// telegramAuth представляет клиент аутентификации.
type telegramAuth interface {
	auth.FlowClient
}

// telegramRunner определяет зависимости от клиента gotd.
// Это позволяет создавать моки в тестах.
type telegramRunner interface {
	Run(ctx context.Context, f func(ctx context.Context) error) error
	API() telegramAPI
	Auth() telegramAuth
}

// prodRunner является оберткой вокруг реального *telegram.Client для удовлетворения интерфейса telegramRunner.
type prodRunner struct {
	*telegram.Client
}

func (p *prodRunner) API() telegramAPI {
	return p.Client.API()
}

func (p *prodRunner) Auth() telegramAuth {
	return p.Client.Auth()
}

// authFlow определяет интерфейс для процесса аутентификации.
type authFlow interface {
	Run(ctx context.Context, client auth.FlowClient) error
}

// Client представляет собой потокобезопасный клиент для Telegram API.
// Инкапсулирует аутентификацию, обработку FLOOD_WAIT, пагинацию истории
// и загрузку файлов. Реализует ports.MessageSource и ports.MediaDownloader.
type Client struct {
	id         string
	tgRunner   telegramRunner
	authFlow   authFlow
	isTerminal func(fd int) bool
	clock      func() time.Time
	log        *slog.Logger
	zapLog     *zap.Logger

	pageSize         int
	topicsLimit      int
	progressInterval int

	mu             sync.RWMutex
	unhealthyUntil time.Time
	ready          chan struct{}
	runErr         chan error
	startOnce      sync.Once

	locMu     sync.Mutex
	locations map[int]tg.InputFileLocationClass
}

// Config содержит конфигурацию для создания нового клиента.
type Config struct {
	APIID            int
	APIHash          string
	PhoneNumber      string
	SessionPath      string
	PageSize         int
	TopicsLimit      int
	ProgressInterval int
}

// ClientOption определяет функциональную опцию для конфигурации клиента.
type ClientOption func(*Client)

// WithLogger устанавливает логгер для клиента.
func WithLogger(l *slog.Logger) ClientOption {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// WithZapLogger передает логгер во внутренности gotd.
func WithZapLogger(l *zap.Logger) ClientOption {
	return func(c *Client) {
		if l != nil {
			c.zapLog = l
		}
	}
}

// NewClient создает новый экземпляр Client.
func NewClient(cfg Config, opts ...ClientOption) *Client {
	c := &Client{
		id:         uuid.NewString(),
		isTerminal: func(fd int) bool { return term.IsTerminal(fd) },
		clock:      time.Now,
		log:        slog.Default(),
		zapLog:     zap.NewNop(),

		pageSize:         cfg.PageSize,
		topicsLimit:      cfg.TopicsLimit,
		progressInterval: cfg.ProgressInterval,

		ready:     make(chan struct{}),
		runErr:    make(chan error, 1),
		locations: make(map[int]tg.InputFileLocationClass),
	}

	for _, opt := range opts {
		opt(c)
	}

	// Создаем аутентификатор для терминала.
	termAuth := trm.NewTerminal(cfg.PhoneNumber)

	// Настраиваем хранилище сессии.
	sessionStorage := &session.FileStorage{Path: cfg.SessionPath}

	// Создаем и настраиваем базовый клиент gotd.
	tgClient := telegram.NewClient(cfg.APIID, cfg.APIHash, telegram.Options{
		SessionStorage: sessionStorage,
		Logger:         c.zapLog,
	})

	c.tgRunner = &prodRunner{Client: tgClient}
	c.authFlow = auth.NewFlow(termAuth, auth.SendCodeOptions{})

	return c
}

// ID возвращает уникальный идентификатор клиента.
func (c *Client) ID() string {
	return c.id
}

// Start запускает фоновый процесс клиента, включая аутентификацию.
// Должен быть вызван один раз перед использованием клиента.
func (c *Client) Start(ctx context.Context) {
	c.startOnce.Do(func() {
		go func() {
			c.log.InfoContext(ctx, "Starting telegram client background runner", "client_id", c.id)
			err := c.tgRunner.Run(ctx, func(runCtx context.Context) error {
				// Проверяем статус аутентификации при запуске.
				if _, err := c.tgRunner.API().UsersGetUsers(runCtx, []tg.InputUserClass{&tg.InputUserSelf{}}); err != nil {
					if strings.Contains(err.Error(), "AUTH_KEY_UNREGISTERED") {
						c.log.WarnContext(runCtx, "Session check failed, attempting interactive auth", "client_id", c.id, "reason", "AUTH_KEY_UNREGISTERED")
					} else {
						c.log.WarnContext(runCtx, "Session check failed, attempting interactive auth", "client_id", c.id, "error", err)
					}
					if !c.isTerminal(int(os.Stdout.Fd())) {
						return fmt.Errorf("session is invalid and cannot perform interactive auth in non-terminal: %w", err)
					}
					if authErr := c.authFlow.Run(runCtx, c.tgRunner.Auth()); authErr != nil {
						return fmt.Errorf("interactive auth failed: %w", authErr)
					}
					c.log.InfoContext(runCtx, "Interactive auth successful, session saved", "client_id", c.id)
				}
				c.log.InfoContext(runCtx, "Telegram client authenticated and ready", "client_id", c.id)
				close(c.ready)

				// Держим соединение активным, пока не завершится контекст.
				<-runCtx.Done()
				return runCtx.Err()
			})

			if err != nil && !errors.Is(err, context.Canceled) {
				c.log.ErrorContext(ctx, "Telegram client background runner exited with error", "client_id", c.id, "error", err)
			} else {
				c.log.InfoContext(ctx, "Telegram client background runner stopped", "client_id", c.id)
			}

			c.runErr <- err
			close(c.runErr)
		}()
	})
}

// WaitReady блокируется до завершения аутентификации клиента.
func (c *Client) WaitReady(ctx context.Context) error {
	select {
	case <-c.ready:
		return nil
	case err, ok := <-c.runErr:
		if ok && err != nil {
			return fmt.Errorf("клиент telegram не запущен: %w", err)
		}
		return errors.New("клиент telegram остановлен до завершения аутентификации")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ResolveChat находит чат по идентификатору: @username, числовой ID
// (включая форму -100xxxxxxxxxx) или точное название из списка диалогов.
func (c *Client) ResolveChat(ctx context.Context, identifier string) (domain.ChatInfo, error) {
	trimmed := strings.TrimSpace(identifier)
	if trimmed == "" {
		return domain.ChatInfo{}, fmt.Errorf("%w: пустой идентификатор", ErrChatNotFound)
	}

	if username, ok := strings.CutPrefix(trimmed, "@"); ok {
		return c.resolveByUsername(ctx, username)
	}

	if id, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
		return c.resolveByID(ctx, normalizeChannelID(id))
	}

	// Сначала пробуем как username без @, затем как название диалога.
	chat, err := c.resolveByUsername(ctx, trimmed)
	if err == nil {
		return chat, nil
	}
	return c.resolveByTitle(ctx, trimmed)
}

// normalizeChannelID приводит ID формы -100xxxxxxxxxx к внутреннему ID канала.
func normalizeChannelID(id int64) int64 {
	if id < 0 {
		s := strconv.FormatInt(-id, 10)
		if trimmed, ok := strings.CutPrefix(s, "100"); ok {
			if parsed, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
				return parsed
			}
		}
		return -id
	}
	return id
}

func (c *Client) resolveByUsername(ctx context.Context, username string) (domain.ChatInfo, error) {
	var resolved *tg.ContactsResolvedPeer
	err := c.do(ctx, func(ctx context.Context) error {
		res, err := c.tgRunner.API().ContactsResolveUsername(ctx, &tg.ContactsResolveUsernameRequest{Username: username})
		if err == nil {
			resolved = res
		}
		return err
	})
	if err != nil {
		return domain.ChatInfo{}, fmt.Errorf("не удалось разрешить username %q: %w", username, err)
	}

	for _, chat := range resolved.Chats {
		if channel, ok := chat.(*tg.Channel); ok {
			return channelInfo(channel), nil
		}
	}
	return domain.ChatInfo{}, fmt.Errorf("%w: @%s не является группой или каналом", ErrChatNotFound, username)
}

func (c *Client) resolveByID(ctx context.Context, id int64) (domain.ChatInfo, error) {
	return c.findInDialogs(ctx, func(channel *tg.Channel) bool {
		return channel.ID == id
	}, strconv.FormatInt(id, 10))
}

func (c *Client) resolveByTitle(ctx context.Context, title string) (domain.ChatInfo, error) {
	return c.findInDialogs(ctx, func(channel *tg.Channel) bool {
		return channel.Title == title
	}, title)
}

// findInDialogs перебирает диалоги пользователя в поисках подходящего канала.
func (c *Client) findInDialogs(ctx context.Context, match func(*tg.Channel) bool, label string) (domain.ChatInfo, error) {
	var dialogs tg.MessagesDialogsClass
	err := c.do(ctx, func(ctx context.Context) error {
		res, err := c.tgRunner.API().MessagesGetDialogs(ctx, &tg.MessagesGetDialogsRequest{
			OffsetPeer: &tg.InputPeerEmpty{},
			Limit:      500,
		})
		if err == nil {
			dialogs = res
		}
		return err
	})
	if err != nil {
		return domain.ChatInfo{}, fmt.Errorf("не удалось получить список диалогов: %w", err)
	}

	var chats []tg.ChatClass
	switch d := dialogs.(type) {
	case *tg.MessagesDialogs:
		chats = d.Chats
	case *tg.MessagesDialogsSlice:
		chats = d.Chats
	}

	for _, chat := range chats {
		if channel, ok := chat.(*tg.Channel); ok && match(channel) {
			return channelInfo(channel), nil
		}
	}
	return domain.ChatInfo{}, fmt.Errorf("%w: %q не найден среди диалогов", ErrChatNotFound, label)
}

func channelInfo(channel *tg.Channel) domain.ChatInfo {
	return domain.ChatInfo{
		ID:         channel.ID,
		AccessHash: channel.AccessHash,
		Title:      channel.Title,
		Forum:      channel.Forum,
	}
}

// Topics возвращает список топиков форума.
// Обычный чат представляется единственным синтетическим топиком.
func (c *Client) Topics(ctx context.Context, chat domain.ChatInfo) ([]domain.TopicInfo, bool, error) {
	if !chat.Forum {
		return []domain.TopicInfo{{ID: domain.SyntheticTopicID, Title: chat.Title}}, false, nil
	}

	var resp *tg.MessagesForumTopics
	err := c.do(ctx, func(ctx context.Context) error {
		res, err := c.tgRunner.API().MessagesGetForumTopics(ctx, &tg.MessagesGetForumTopicsRequest{
			Peer:  &tg.InputPeerChannel{ChannelID: chat.ID, AccessHash: chat.AccessHash},
			Limit: c.topicsLimit,
		})
		if err == nil {
			resp = res
		}
		return err
	})
	if err != nil {
		return nil, true, fmt.Errorf("не удалось получить топики форума: %w", err)
	}

	var topics []domain.TopicInfo
	for _, t := range resp.Topics {
		topic, ok := t.(*tg.ForumTopic)
		if !ok {
			continue
		}
		topics = append(topics, domain.TopicInfo{ID: topic.ID, Title: topic.Title})
	}

	c.log.InfoContext(ctx, "Forum topics fetched", "chat", chat.Title, "count", len(topics))
	return topics, true, nil
}

// History выгружает все сообщения чата либо одного топика форума,
// от старых к новым. Пагинация идет от новых к старым страницами
// pageSize, итоговый срез разворачивается.
func (c *Client) History(ctx context.Context, chat domain.ChatInfo, topicID int) ([]domain.RawMessage, error) {
	peer := &tg.InputPeerChannel{ChannelID: chat.ID, AccessHash: chat.AccessHash}
	users := make(map[int64]*tg.User)

	var collected []domain.RawMessage
	offsetID := 0
	for {
		var resp tg.MessagesMessagesClass
		err := c.do(ctx, func(ctx context.Context) error {
			var reqErr error
			if chat.Forum {
				resp, reqErr = c.tgRunner.API().MessagesGetReplies(ctx, &tg.MessagesGetRepliesRequest{
					Peer:     peer,
					MsgID:    topicID,
					OffsetID: offsetID,
					Limit:    c.pageSize,
				})
			} else {
				resp, reqErr = c.tgRunner.API().MessagesGetHistory(ctx, &tg.MessagesGetHistoryRequest{
					Peer:     peer,
					OffsetID: offsetID,
					Limit:    c.pageSize,
				})
			}
			return reqErr
		})
		if err != nil {
			return nil, fmt.Errorf("не удалось получить историю (topic %d, offset %d): %w", topicID, offsetID, err)
		}

		messages, pageUsers := unpackMessages(resp)
		if len(messages) == 0 {
			break
		}
		for _, u := range pageUsers {
			if user, ok := u.(*tg.User); ok {
				users[user.ID] = user
			}
		}

		for _, msg := range messages {
			if raw := c.convertMessage(msg, topicID, users); raw != nil {
				collected = append(collected, *raw)
			}
			offsetID = msg.GetID()
		}

		// Отмечаем прогресс, когда страница пересекает очередную границу интервала.
		if c.progressInterval > 0 && len(collected)%c.progressInterval < len(messages) {
			c.log.InfoContext(ctx, "History progress", "topic_id", topicID, "fetched", len(collected))
		}
	}

	// API отдает сообщения от новых к старым, экспорт идет в хронологическом порядке.
	for i, j := 0, len(collected)-1; i < j; i, j = i+1, j-1 {
		collected[i], collected[j] = collected[j], collected[i]
	}

	c.log.InfoContext(ctx, "History fetched", "topic_id", topicID, "messages", len(collected))
	return collected, nil
}

// unpackMessages извлекает сообщения и пользователей из любой формы ответа.
func unpackMessages(resp tg.MessagesMessagesClass) ([]tg.MessageClass, []tg.UserClass) {
	switch m := resp.(type) {
	case *tg.MessagesChannelMessages:
		return m.Messages, m.Users
	case *tg.MessagesMessagesSlice:
		return m.Messages, m.Users
	case *tg.MessagesMessages:
		return m.Messages, m.Users
	default:
		return nil, nil
	}
}

// rememberLocation сохраняет локацию файла для последующей загрузки.
func (c *Client) rememberLocation(messageID int, loc tg.InputFileLocationClass) {
	if loc == nil {
		return
	}
	c.locMu.Lock()
	defer c.locMu.Unlock()
	c.locations[messageID] = loc
}

// DownloadAttachment скачивает вложение сообщения в указанный путь.
// Локация должна быть сохранена ранее при конвертации истории.
func (c *Client) DownloadAttachment(ctx context.Context, messageID int, dst string) error {
	c.locMu.Lock()
	loc, ok := c.locations[messageID]
	c.locMu.Unlock()
	if !ok {
		return fmt.Errorf("нет локации файла для сообщения %d", messageID)
	}

	return c.do(ctx, func(ctx context.Context) error {
		_, err := downloader.NewDownloader().Download(c.tgRunner.API(), loc).ToPath(ctx, dst)
		if err != nil {
			return fmt.Errorf("загрузка файла сообщения %d: %w", messageID, err)
		}
		return nil
	})
}

// do — это основной метод, который выполняет всю работу.
// Он проверяет состояние FLOOD_WAIT, выполняет операцию и обрабатывает ошибки.
func (c *Client) do(ctx context.Context, f func(ctx context.Context) error) error {
	if err := c.checkHealthStatus(); err != nil {
		c.log.WarnContext(ctx, "Client is unhealthy, aborting request", "error", err)
		return err
	}

	opErr := f(ctx)

	if opErr != nil {
		// Обрабатываем специфичные ошибки, такие как FLOOD_WAIT.
		c.handleError(opErr)

		// Также проверяем, не отвалился ли сам клиент.
		select {
		case runErr, ok := <-c.runErr:
			if ok && runErr != nil {
				return fmt.Errorf("клиент telegram не запущен: %w (ошибка операции: %v)", runErr, opErr)
			}
		default:
			// Клиент все еще работает, возвращаем ошибку операции.
		}
	}

	return opErr
}

// checkHealthStatus проверяет, не находится ли клиент в состоянии FLOOD_WAIT.
func (c *Client) checkHealthStatus() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.unhealthyUntil.IsZero() && c.clock().Before(c.unhealthyUntil) {
		return fmt.Errorf("%w: active until %v", ErrFloodWaitActive, c.unhealthyUntil)
	}
	return nil
}

// handleError обрабатывает ошибки, ищет FLOOD_WAIT и обновляет состояние клиента.
func (c *Client) handleError(err error) {
	if waitDuration, ok := parseFloodWait(err); ok {
		c.mu.Lock()
		defer c.mu.Unlock()

		c.unhealthyUntil = c.clock().Add(waitDuration)
		c.log.Warn("Client got FLOOD_WAIT, set unhealthy", "wait_duration", waitDuration, "until", c.unhealthyUntil)
	}
}

// parseFloodWait извлекает длительность ожидания из ошибки.
func parseFloodWait(err error) (time.Duration, bool) {
	if err == nil {
		return 0, false
	}

	matches := floodWaitRegex.FindStringSubmatch(err.Error())
	if len(matches) < 2 {
		return 0, false
	}

	seconds, convErr := strconv.Atoi(matches[1])
	if convErr != nil {
		return 0, false
	}

	return time.Duration(seconds) * time.Second, true
}

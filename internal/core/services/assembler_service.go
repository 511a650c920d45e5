package services

import (
	"log/slog"
	"sort"
	"strings"

	"telegram-chat-exporter/internal/domain"
	"telegram-chat-exporter/internal/pkg/config"
)

// AssemblerService группирует сырой поток сообщений в топики, применяет
// фильтры топиков и текста и порождает упорядоченные списки сообщений
// вместе с заданиями на загрузку медиа.
type AssemblerService struct {
	cfg      *config.ExportConfig
	renderer *RenderService
	media    *MediaService
	log      *slog.Logger
}

// NewAssemblerService создает новый AssemblerService.
func NewAssemblerService(cfg *config.ExportConfig, renderer *RenderService, media *MediaService, log *slog.Logger) *AssemblerService {
	if log == nil {
		log = slog.Default()
	}
	s := &AssemblerService{cfg: cfg, renderer: renderer, media: media, log: log}

	if cfg.Text.Active() {
		s.log.Info("Text filtering enabled",
			"include", strings.Join(cfg.Text.Include, ", "),
			"exclude", strings.Join(cfg.Text.Exclude, ", "),
			"case_sensitive", cfg.Text.CaseSensitive,
		)
	}
	return s
}

// messageItem — единица сборки: либо одиночное сообщение, либо альбом.
type messageItem struct {
	members []*domain.RawMessage // для альбома отсортированы по ID
}

// Assemble превращает сырой поток сообщений в упорядоченный список топиков.
// Порядок доставки провайдером сохраняется внутри топика; топики следуют
// в объявленном провайдером порядке. Топик, все сообщения которого
// отфильтрованы, в итоговый список не попадает.
func (s *AssemblerService) Assemble(raw []domain.RawMessage, topics []domain.TopicInfo) ([]*domain.Topic, []MediaTask) {
	// Сообщения раскладываются по топикам с сохранением порядка потока.
	byTopic := make(map[int][]*domain.RawMessage)
	for i := range raw {
		m := &raw[i]
		byTopic[m.TopicID] = append(byTopic[m.TopicID], m)
	}

	var (
		result   []*domain.Topic
		tasks    []MediaTask
		excluded int
	)

	for _, info := range topics {
		if !s.cfg.Topics.Allows(info.Title) {
			s.log.Info("Topic excluded by filter", "topic", info.Title, "topic_id", info.ID)
			continue
		}

		items := groupAlbums(byTopic[info.ID])

		topic := &domain.Topic{ID: info.ID, Title: info.Title}
		for _, item := range items {
			if !s.itemPassesFilter(item) {
				excluded += len(item.members)
				continue
			}
			msg, itemTasks := s.buildMessage(item)
			topic.Messages = append(topic.Messages, msg)
			tasks = append(tasks, itemTasks...)
		}

		if len(topic.Messages) == 0 {
			s.log.Debug("Dropping empty topic", "topic", info.Title, "topic_id", info.ID)
			continue
		}
		result = append(result, topic)
	}

	if excluded > 0 {
		s.log.Info("Messages excluded by text filter", "count", excluded)
	}

	return result, tasks
}

// groupAlbums объединяет сообщения с общим GroupedID в один элемент.
// Элемент занимает позицию первого участника альбома в потоке.
func groupAlbums(msgs []*domain.RawMessage) []messageItem {
	var items []messageItem
	groupIndex := make(map[int64]int)

	for _, m := range msgs {
		if m.GroupedID == 0 {
			items = append(items, messageItem{members: []*domain.RawMessage{m}})
			continue
		}
		if idx, ok := groupIndex[m.GroupedID]; ok {
			items[idx].members = append(items[idx].members, m)
			continue
		}
		groupIndex[m.GroupedID] = len(items)
		items = append(items, messageItem{members: []*domain.RawMessage{m}})
	}

	// Внутри альбома участники упорядочены по ID.
	for i := range items {
		if len(items[i].members) > 1 {
			sort.Slice(items[i].members, func(a, b int) bool {
				return items[i].members[a].ID < items[i].members[b].ID
			})
		}
	}
	return items
}

// itemPassesFilter применяет текстовый фильтр к элементу сборки.
// Служебные сообщения сохраняются всегда: служебные события структурны,
// а не контентны. Альбом проходит, если проходит хотя бы один участник.
func (s *AssemblerService) itemPassesFilter(item messageItem) bool {
	for _, m := range item.members {
		if m.Service != nil {
			return true
		}
		if s.cfg.Text.AllowsText(m.Text) {
			return true
		}
	}
	return false
}

// buildMessage собирает итоговое сообщение из элемента сборки.
// Метаданные (отправитель, дата, реплай, реакции) берутся у первого
// участника; контент участников объединяется.
func (s *AssemblerService) buildMessage(item messageItem) (*domain.Message, []MediaTask) {
	first := item.members[0]

	var parts []string
	for _, m := range item.members {
		if rendered := s.renderer.Render(m); rendered != "" {
			parts = append(parts, rendered)
		}
	}

	msg := &domain.Message{
		ID:        first.ID,
		Sender:    first.Sender,
		Date:      first.Date.In(s.cfg.Timezone).Format(s.cfg.DateFormat),
		HTML:      strings.Join(parts, "<br>"),
		TopicID:   first.TopicID,
		ReplyTo:   first.ReplyTo,
		Reactions: first.Reactions,
	}
	if first.Service != nil {
		msg.IsService = true
		msg.ServiceDescription = first.Service.Description
	}
	if len(item.members) > 1 {
		for _, m := range item.members {
			msg.GroupedIDs = append(msg.GroupedIDs, m.ID)
		}
	}

	var tasks []MediaTask
	for _, m := range item.members {
		if m.Attachment == nil {
			continue
		}
		if reason := s.media.Decide(m.Attachment); reason != "" {
			// Пропуск фиксируется на итоговом сообщении; первая причина побеждает.
			if msg.SkipReason == "" {
				msg.SkipReason = reason
			}
			continue
		}
		tasks = append(tasks, MediaTask{OwnerID: first.ID, SourceID: m.ID, Attachment: *m.Attachment})
	}

	return msg, tasks
}

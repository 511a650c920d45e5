package services

import (
	"fmt"
	"log/slog"

	"telegram-chat-exporter/internal/domain"
)

// EmptyExportMessage отображается вместо списка топиков, когда фильтрация
// не оставила ни одного сообщения.
const EmptyExportMessage = "All messages were filtered out. Check the filter settings."

// BuilderService собирает финальную модель документа: проверяет
// межтопиковые инварианты и замораживает структуру для шаблонизации.
type BuilderService struct {
	log *slog.Logger
}

// NewBuilderService создает новый BuilderService.
func NewBuilderService(log *slog.Logger) *BuilderService {
	if log == nil {
		log = slog.Default()
	}
	return &BuilderService{log: log}
}

// Build строит документ из собранных топиков. Глобальная уникальность ID
// сообщений обязательна: на ней держатся глубокие ссылки и якоря реплаев.
// Первый топик является видимым по умолчанию. После возврата документ
// не изменяется.
func (b *BuilderService) Build(title string, topics []*domain.Topic) (*domain.Document, error) {
	seen := make(map[int]int) // message id -> topic id
	for _, t := range topics {
		for _, m := range t.Messages {
			if prevTopic, ok := seen[m.ID]; ok {
				return nil, fmt.Errorf("duplicate message id %d (topics %d and %d)", m.ID, prevTopic, t.ID)
			}
			seen[m.ID] = t.ID
		}
	}

	doc := &domain.Document{
		Title:  title,
		Topics: topics,
	}
	if doc.TotalMessages() == 0 {
		doc.Topics = nil
		doc.EmptyMessage = EmptyExportMessage
		b.log.Info("No messages survived filtering, building empty document")
		return doc, nil
	}

	b.log.Info("Document built", "topics", len(doc.Topics), "messages", doc.TotalMessages())
	return doc, nil
}

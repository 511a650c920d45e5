package ports

import (
	"context"

	"telegram-chat-exporter/internal/domain"
)

// MessageSource определяет интерфейс для получения истории чата от провайдера.
type MessageSource interface {
	// ResolveChat разрешает чат по числовому ID или @никнейму.
	ResolveChat(ctx context.Context, identifier string) (domain.ChatInfo, error)
	// Topics возвращает список топиков форума и признак того, что чат является форумом.
	// Для обычных чатов возвращается единственный синтетический топик.
	Topics(ctx context.Context, chat domain.ChatInfo) ([]domain.TopicInfo, bool, error)
	// History возвращает сообщения топика в порядке доставки провайдером
	// (от старых к новым). Для не-форумов topicID игнорируется.
	History(ctx context.Context, chat domain.ChatInfo, topicID int) ([]domain.RawMessage, error)
}

// MediaDownloader определяет интерфейс для загрузки вложения сообщения в файл.
type MediaDownloader interface {
	// DownloadAttachment сохраняет вложение сообщения в dst.
	// Одна попытка; ошибка терминальна только для этого вложения.
	DownloadAttachment(ctx context.Context, messageID int, dst string) error
}

// DocumentRenderer определяет границу шаблонизации: чистую функцию
// из модели документа в разметку.
type DocumentRenderer interface {
	Render(doc *domain.Document) ([]byte, error)
}

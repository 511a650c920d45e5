package usecase

import (
	"context"
	"fmt"
	"log/slog"

	"telegram-chat-exporter/internal/core/services"
	"telegram-chat-exporter/internal/domain"
	"telegram-chat-exporter/internal/pkg/config"
	"telegram-chat-exporter/internal/ports"
)

// documentWriter — граница записи экспорта: рендерит документ и
// сохраняет его вместе с сопутствующими ассетами.
type documentWriter interface {
	WriteExport(doc *domain.Document) error
}

// ExportChatUseCase инкапсулирует бизнес-логику одного запуска экспорта:
// разрешение чата, сбор истории, сборка документа, загрузка медиа и запись.
type ExportChatUseCase struct {
	cfg    *config.ExportConfig
	source ports.MessageSource
	media  *services.MediaService
	writer documentWriter
	log    *slog.Logger
}

// NewExportChatUseCase создает новый экземпляр ExportChatUseCase.
func NewExportChatUseCase(
	cfg *config.ExportConfig,
	source ports.MessageSource,
	media *services.MediaService,
	writer documentWriter,
	log *slog.Logger,
) *ExportChatUseCase {
	if log == nil {
		log = slog.Default()
	}
	return &ExportChatUseCase{
		cfg:    cfg,
		source: source,
		media:  media,
		writer: writer,
		log:    log,
	}
}

// Export выполняет экспорт от начала до конца. Ошибки отдельных вложений
// поглощаются в метаданные сообщений; возврат ошибки означает, что экспорт
// в целом не состоялся.
func (uc *ExportChatUseCase) Export(ctx context.Context) (*domain.ExportResult, error) {
	uc.log.Info("Starting chat export", "chat", uc.cfg.ChatIdentifier, "output", uc.cfg.OutputPath)

	chat, err := uc.source.ResolveChat(ctx, uc.cfg.ChatIdentifier)
	if err != nil {
		return nil, fmt.Errorf("не удалось разрешить чат %q: %w", uc.cfg.ChatIdentifier, err)
	}
	uc.log.Info("Chat resolved", "title", chat.Title, "chat_id", chat.ID, "forum", chat.Forum)

	topics, isForum, err := uc.source.Topics(ctx, chat)
	if err != nil {
		return nil, fmt.Errorf("не удалось загрузить топики: %w", err)
	}
	uc.log.Info("Topics loaded", "count", len(topics), "forum", isForum)

	raw, err := uc.collectHistory(ctx, chat, topics, isForum)
	if err != nil {
		return nil, err
	}
	uc.log.Info("History collected", "messages", len(raw))

	renderer := services.NewRenderService(chat.ID, isForum)
	assembler := services.NewAssemblerService(uc.cfg, renderer, uc.media, uc.log)
	assembled, tasks := assembler.Assemble(raw, topics)

	// Загрузка медиа выполняется после сборки текста: задания уже отражают
	// решения пропустить/загрузить, результаты прикрепляются к сообщениям
	// до заморозки документа.
	results := uc.media.DownloadAll(ctx, tasks)
	attachMediaResults(assembled, results, uc.log)

	builder := services.NewBuilderService(uc.log)
	doc, err := builder.Build("Archive · "+chat.Title, assembled)
	if err != nil {
		return nil, fmt.Errorf("не удалось построить модель документа: %w", err)
	}

	if err := uc.writer.WriteExport(doc); err != nil {
		return nil, fmt.Errorf("не удалось записать экспорт: %w", err)
	}

	result := &domain.ExportResult{
		OutputPath:    uc.cfg.OutputPath,
		TotalTopics:   len(doc.Topics),
		TotalMessages: doc.TotalMessages(),
		MediaCount:    uc.media.DownloadCount(),
	}

	uc.log.Info("Export finished",
		"output", result.OutputPath,
		"topics", result.TotalTopics,
		"messages", result.TotalMessages,
		"media_files", result.MediaCount,
	)
	return result, nil
}

// collectHistory собирает сырой поток сообщений. Для форума история
// запрашивается по каждому топику; топики, отсеченные фильтром, не
// запрашиваются вовсе (сборщик применил бы тот же фильтр повторно).
func (uc *ExportChatUseCase) collectHistory(ctx context.Context, chat domain.ChatInfo, topics []domain.TopicInfo, isForum bool) ([]domain.RawMessage, error) {
	var raw []domain.RawMessage

	if !isForum {
		msgs, err := uc.source.History(ctx, chat, domain.SyntheticTopicID)
		if err != nil {
			return nil, fmt.Errorf("не удалось загрузить историю чата: %w", err)
		}
		return msgs, nil
	}

	for _, t := range topics {
		if !uc.cfg.Topics.Allows(t.Title) {
			uc.log.Info("Skipping history of excluded topic", "topic", t.Title)
			continue
		}
		uc.log.Info("Fetching topic history", "topic", t.Title, "topic_id", t.ID)
		msgs, err := uc.source.History(ctx, chat, t.ID)
		if err != nil {
			return nil, fmt.Errorf("не удалось загрузить историю топика %q: %w", t.Title, err)
		}
		raw = append(raw, msgs...)
	}
	return raw, nil
}

// attachMediaResults прикрепляет результаты загрузок к собранным сообщениям.
// Успех добавляет HTML вложения к контенту; неудача деградирует до
// пропуска с причиной на самом сообщении.
func attachMediaResults(topics []*domain.Topic, results []services.MediaResult, log *slog.Logger) {
	if len(results) == 0 {
		return
	}

	owners := make(map[int]*domain.Message)
	for _, t := range topics {
		for _, m := range t.Messages {
			owners[m.ID] = m
		}
	}

	for _, r := range results {
		msg, ok := owners[r.OwnerID]
		if !ok {
			log.Warn("Media result for unknown message", "owner_id", r.OwnerID, "source_id", r.SourceID)
			continue
		}
		if r.SkipReason != "" {
			if msg.SkipReason == "" {
				msg.SkipReason = r.SkipReason
			}
			continue
		}
		if msg.HTML != "" {
			msg.HTML += "<br>" + r.HTML
		} else {
			msg.HTML = r.HTML
		}
	}
}

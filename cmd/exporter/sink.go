package main

import (
	"telegram-chat-exporter/internal/adapters/render"
	"telegram-chat-exporter/internal/core/services"
	"telegram-chat-exporter/internal/domain"
	"telegram-chat-exporter/internal/stats"
)

// exportSink записывает готовый документ в HTML и, если запрошено,
// дополняет его сводной книгой статистики.
type exportSink struct {
	html      *render.HTMLWriter
	stats     *stats.Writer
	media     *services.MediaService
	statsPath string
}

func (s *exportSink) WriteExport(doc *domain.Document) error {
	if err := s.html.WriteExport(doc); err != nil {
		return err
	}
	if s.statsPath != "" {
		return s.stats.Write(doc, s.media.DownloadCount(), s.statsPath)
	}
	return nil
}

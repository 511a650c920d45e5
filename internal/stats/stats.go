// Package stats формирует Excel-отчет со сводкой по экспортированному чату.
package stats

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/xuri/excelize/v2"

	"telegram-chat-exporter/internal/domain"
)

const (
	summarySheet = "Сводка"
	topicsSheet  = "Топики"
)

// Writer записывает статистику экспорта в файл .xlsx.
type Writer struct {
	clock func() time.Time
	log   *slog.Logger
}

// NewWriter создает врайтер статистики.
func NewWriter(log *slog.Logger) *Writer {
	if log == nil {
		log = slog.Default()
	}
	return &Writer{clock: time.Now, log: log}
}

// Write формирует книгу с листом сводки и листом разбивки по топикам.
func (w *Writer) Write(doc *domain.Document, mediaCount int, path string) error {
	f := excelize.NewFile()
	defer func() {
		if err := f.Close(); err != nil {
			w.log.Error("failed to close excel file", slog.String("error", err.Error()))
		}
	}()

	if err := w.fillSummary(f, doc, mediaCount); err != nil {
		return err
	}
	if err := w.fillTopics(f, doc); err != nil {
		return err
	}

	// Лист по умолчанию excelize не нужен.
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return fmt.Errorf("не удалось удалить лист по умолчанию: %w", err)
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("не удалось сохранить файл статистики %q: %w", path, err)
	}

	w.log.Info("Statistics workbook written", "path", path, "topics", len(doc.Topics))
	return nil
}

func (w *Writer) fillSummary(f *excelize.File, doc *domain.Document, mediaCount int) error {
	index, err := f.NewSheet(summarySheet)
	if err != nil {
		return fmt.Errorf("не удалось создать лист %q: %w", summarySheet, err)
	}
	f.SetActiveSheet(index)

	serviceTotal := 0
	skippedTotal := 0
	for _, topic := range doc.Topics {
		for _, msg := range topic.Messages {
			if msg.IsService {
				serviceTotal++
			}
			if msg.SkipReason != "" {
				skippedTotal++
			}
		}
	}

	rows := [][]interface{}{
		{"Чат", doc.Title},
		{"Дата экспорта", w.clock().Format(time.RFC3339)},
		{"Топиков", len(doc.Topics)},
		{"Сообщений", doc.TotalMessages()},
		{"Служебных сообщений", serviceTotal},
		{"Загружено медиа", mediaCount},
		{"Пропущено вложений", skippedTotal},
	}
	for i, row := range rows {
		f.SetCellValue(summarySheet, fmt.Sprintf("A%d", i+1), row[0])
		f.SetCellValue(summarySheet, fmt.Sprintf("B%d", i+1), row[1])
	}
	return nil
}

func (w *Writer) fillTopics(f *excelize.File, doc *domain.Document) error {
	if _, err := f.NewSheet(topicsSheet); err != nil {
		return fmt.Errorf("не удалось создать лист %q: %w", topicsSheet, err)
	}

	headers := []string{"ID", "Название", "Сообщений", "Служебных", "Пропущено вложений", "Реакций"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(topicsSheet, cell, h)
	}

	for i, topic := range doc.Topics {
		row := i + 2
		service := 0
		skipped := 0
		reactions := 0
		for _, msg := range topic.Messages {
			if msg.IsService {
				service++
			}
			if msg.SkipReason != "" {
				skipped++
			}
			for _, r := range msg.Reactions {
				reactions += r.Count
			}
		}

		f.SetCellValue(topicsSheet, fmt.Sprintf("A%d", row), topic.ID)
		f.SetCellValue(topicsSheet, fmt.Sprintf("B%d", row), topic.Title)
		f.SetCellValue(topicsSheet, fmt.Sprintf("C%d", row), len(topic.Messages))
		f.SetCellValue(topicsSheet, fmt.Sprintf("D%d", row), service)
		f.SetCellValue(topicsSheet, fmt.Sprintf("E%d", row), skipped)
		f.SetCellValue(topicsSheet, fmt.Sprintf("F%d", row), reactions)
	}
	return nil
}

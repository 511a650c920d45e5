// Package render отвечает за построение итогового HTML-документа экспорта
// и сопутствующих статических файлов.
package render

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"telegram-chat-exporter/internal/domain"
	"telegram-chat-exporter/internal/ports"
)

var _ ports.DocumentRenderer = (*HTMLWriter)(nil)

//go:embed assets
var assetsFS embed.FS

// staticAssets — файлы, копируемые рядом с итоговым HTML.
var staticAssets = []string{"styles.css", "script.js"}

// HTMLWriter генерирует HTML-документ из доменной модели и записывает
// его вместе со стилями и скриптом навигации. Реализует ports.DocumentRenderer.
type HTMLWriter struct {
	outputPath string
	tpl        *template.Template
	clock      func() time.Time
	log        *slog.Logger
}

// WriterOption определяет функциональную опцию для конфигурации врайтера.
type WriterOption func(*HTMLWriter)

// WithLogger устанавливает логгер.
func WithLogger(l *slog.Logger) WriterOption {
	return func(w *HTMLWriter) {
		if l != nil {
			w.log = l
		}
	}
}

// WithClock подменяет источник времени, используется в тестах.
func WithClock(clock func() time.Time) WriterOption {
	return func(w *HTMLWriter) {
		if clock != nil {
			w.clock = clock
		}
	}
}

// NewHTMLWriter создает врайтер для указанного пути вывода.
func NewHTMLWriter(outputPath string, opts ...WriterOption) (*HTMLWriter, error) {
	funcs := template.FuncMap{
		// Контент сообщений экранируется на этапе рендеринга сущностей,
		// здесь он вставляется как готовый HTML.
		"safe": func(s string) template.HTML { return template.HTML(s) },
	}

	tpl, err := template.New("template.html").Funcs(funcs).ParseFS(assetsFS, "assets/template.html")
	if err != nil {
		return nil, fmt.Errorf("не удалось разобрать шаблон документа: %w", err)
	}

	w := &HTMLWriter{
		outputPath: outputPath,
		tpl:        tpl,
		clock:      time.Now,
		log:        slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// exportView — данные, передаваемые в шаблон.
type exportView struct {
	Title        string
	Topics       []*domain.Topic
	EmptyMessage string
	GeneratedAt  string
}

// Render сериализует документ в HTML.
func (w *HTMLWriter) Render(doc *domain.Document) ([]byte, error) {
	view := exportView{
		Title:        doc.Title,
		Topics:       doc.Topics,
		EmptyMessage: doc.EmptyMessage,
		GeneratedAt:  w.clock().Format("2006-01-02 15:04:05 MST"),
	}

	var buf bytes.Buffer
	if err := w.tpl.Execute(&buf, view); err != nil {
		return nil, fmt.Errorf("не удалось отрендерить документ: %w", err)
	}
	return buf.Bytes(), nil
}

// WriteExport рендерит документ и записывает HTML вместе со статикой.
func (w *HTMLWriter) WriteExport(doc *domain.Document) error {
	data, err := w.Render(doc)
	if err != nil {
		return err
	}

	dir := filepath.Dir(w.outputPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("не удалось создать каталог вывода %q: %w", dir, err)
	}

	if err := os.WriteFile(w.outputPath, data, 0o644); err != nil {
		return fmt.Errorf("не удалось записать документ %q: %w", w.outputPath, err)
	}

	for _, name := range staticAssets {
		content, err := assetsFS.ReadFile("assets/" + name)
		if err != nil {
			return fmt.Errorf("не удалось прочитать встроенный файл %q: %w", name, err)
		}
		dst := filepath.Join(dir, name)
		if err := os.WriteFile(dst, content, 0o644); err != nil {
			return fmt.Errorf("не удалось записать %q: %w", dst, err)
		}
	}

	w.log.Info("Export document written", "path", w.outputPath, "topics", len(doc.Topics), "messages", doc.TotalMessages())
	return nil
}

// MediaDir возвращает путь каталога медиа для указанного файла экспорта:
// имя файла без расширения с суффиксом "_media".
func MediaDir(outputPath string) string {
	ext := filepath.Ext(outputPath)
	return strings.TrimSuffix(outputPath, ext) + "_media"
}

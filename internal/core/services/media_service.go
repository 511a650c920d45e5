package services

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"telegram-chat-exporter/internal/domain"
	"telegram-chat-exporter/internal/ports"
)

// SkipReasonDownloadFailed присваивается вложению, загрузка которого не удалась.
// Одна попытка, без повторов: неудача терминальна только для этого вложения.
const SkipReasonDownloadFailed = "download failed"

// MediaTask — задание на загрузку одного вложения.
// OwnerID — ID итогового сообщения (для альбомов — первого в группе),
// SourceID — ID исходного сообщения, несущего вложение.
type MediaTask struct {
	OwnerID    int
	SourceID   int
	Attachment domain.Attachment
}

// MediaResult — результат обработки одного вложения.
// Заполнено либо HTML (успех), либо SkipReason (вложение пропущено).
type MediaResult struct {
	OwnerID    int
	SourceID   int
	HTML       string
	SkipReason string
}

// MediaConfig хранит настройки блока получения медиа.
type MediaConfig struct {
	// MaxFileSize — потолок размера вложения в байтах.
	MaxFileSize int64
	// SkipAll — глобальный флаг пропуска всех медиа.
	SkipAll bool
	// SkipKinds — типы медиа, исключенные вызывающей стороной.
	SkipKinds map[domain.MediaKind]bool
	// PoolSize — количество одновременных загрузок.
	PoolSize int
}

// MediaOption — функциональная опция для настройки MediaService.
type MediaOption func(*MediaService)

// WithMediaLogger устанавливает логгер для сервиса.
func WithMediaLogger(l *slog.Logger) MediaOption {
	return func(s *MediaService) {
		if l != nil {
			s.log = l
		}
	}
}

// WithPoolSize устанавливает количество одновременных загрузок.
func WithPoolSize(n int) MediaOption {
	return func(s *MediaService) {
		if n > 0 {
			s.config.PoolSize = n
		}
	}
}

// MediaService реализует блок получения медиа: решает пропустить или
// загрузить вложение, выполняет загрузки в ограниченном пуле воркеров и
// порождает стабильные имена файлов для ссылок из разметки.
type MediaService struct {
	downloader ports.MediaDownloader
	mediaDir   string // каталог ассетов на диске
	relPrefix  string // относительный префикс ссылок в HTML
	config     MediaConfig
	log        *slog.Logger

	mu         sync.Mutex
	nameIndex  int
	downloaded []string
}

// NewMediaService создает новый MediaService.
// mediaDir — каталог, в который пишутся файлы; relPrefix — его имя,
// используемое в относительных ссылках из документа.
func NewMediaService(downloader ports.MediaDownloader, mediaDir, relPrefix string, cfg MediaConfig, opts ...MediaOption) *MediaService {
	s := &MediaService{
		downloader: downloader,
		mediaDir:   mediaDir,
		relPrefix:  relPrefix,
		config:     cfg,
		log:        slog.Default(),
	}
	if s.config.PoolSize <= 0 {
		s.config.PoolSize = 5
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Decide возвращает причину пропуска вложения или пустую строку,
// если вложение следует загружать. Порядок приоритета причин:
// тип в списке пропуска, глобальный флаг, превышение потолка размера.
func (s *MediaService) Decide(att *domain.Attachment) string {
	if att == nil {
		return ""
	}
	if s.config.SkipKinds[att.Kind] {
		return fmt.Sprintf("media type %s excluded", att.Kind)
	}
	if s.config.SkipAll {
		return "media downloads disabled"
	}
	if s.config.MaxFileSize > 0 && att.Size > s.config.MaxFileSize {
		return fmt.Sprintf("exceeds size limit (%.1fMB > %dMB)",
			float64(att.Size)/(1024*1024), s.config.MaxFileSize/(1024*1024))
	}
	return ""
}

// DownloadCount возвращает количество успешно загруженных файлов.
func (s *MediaService) DownloadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.downloaded)
}

// DownloadAll загружает все вложения в пуле воркеров и возвращает результат
// для каждого задания. Неудачная загрузка деградирует до пропуска с причиной
// и не прерывает ни соседние загрузки, ни экспорт в целом.
func (s *MediaService) DownloadAll(ctx context.Context, tasks []MediaTask) []MediaResult {
	if len(tasks) == 0 {
		return nil
	}

	s.log.Info("Starting media downloads", "count", len(tasks), "pool_size", s.config.PoolSize)

	// Имена файлов назначаются до раздачи заданий: порядок индексов
	// детерминирован относительно порядка заданий.
	type namedTask struct {
		MediaTask
		filename string
		idx      int
	}
	named := make([]namedTask, 0, len(tasks))
	for i, t := range tasks {
		named = append(named, namedTask{MediaTask: t, filename: s.nextFilename(t.SourceID, &t.Attachment), idx: i})
	}

	queue := make(chan namedTask, len(named))
	// Результаты позиционные: каждый воркер пишет в свой индекс, итоговый
	// срез повторяет порядок заданий независимо от порядка завершения.
	out := make([]MediaResult, len(named))
	var wg sync.WaitGroup

	for i := 0; i < s.config.PoolSize; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for t := range queue {
				out[t.idx] = s.download(ctx, t.MediaTask, t.filename)
			}
		}()
	}

	for _, t := range named {
		queue <- t
	}
	close(queue)
	wg.Wait()

	failed := 0
	for _, r := range out {
		if r.SkipReason != "" {
			failed++
		}
	}

	s.log.Info("Media downloads finished", "completed", len(out)-failed, "failed", failed)
	return out
}

// download выполняет одну попытку загрузки вложения.
func (s *MediaService) download(ctx context.Context, t MediaTask, filename string) MediaResult {
	dst := filepath.Join(s.mediaDir, filename)

	s.log.Debug("Downloading attachment", "message_id", t.SourceID, "kind", t.Attachment.Kind, "file", filename)

	if err := s.downloader.DownloadAttachment(ctx, t.SourceID, dst); err != nil {
		s.log.Warn("Attachment download failed", "message_id", t.SourceID, "error", err)
		// Частично записанный файл не должен попасть в экспорт.
		_ = os.Remove(dst)
		return MediaResult{OwnerID: t.OwnerID, SourceID: t.SourceID, SkipReason: SkipReasonDownloadFailed}
	}

	s.mu.Lock()
	s.downloaded = append(s.downloaded, filename)
	s.mu.Unlock()

	rel := s.relPrefix + "/" + filename
	return MediaResult{OwnerID: t.OwnerID, SourceID: t.SourceID, HTML: mediaHTML(t.Attachment.Kind, rel)}
}

// nextFilename порождает стабильное, свободное от коллизий имя файла:
// msg_{id}_{n}_{kind}[_{оригинальное имя}]{расширение}.
func (s *MediaService) nextFilename(sourceID int, att *domain.Attachment) string {
	s.mu.Lock()
	s.nameIndex++
	n := s.nameIndex
	s.mu.Unlock()

	base := string(att.Kind)
	if stem := sanitizeFilename(strings.TrimSuffix(att.FileName, filepath.Ext(att.FileName))); stem != "" {
		base += "_" + stem
	}
	return fmt.Sprintf("msg_%d_%d_%s%s", sourceID, n, base, fileExtension(att))
}

// fileExtension определяет расширение файла: сначала по оригинальному
// имени, затем по типу медиа, для документов — по MIME-типу.
func fileExtension(att *domain.Attachment) string {
	if ext := strings.ToLower(filepath.Ext(att.FileName)); ext != "" {
		return ext
	}

	switch att.Kind {
	case domain.MediaPhoto:
		return ".jpg"
	case domain.MediaVideo, domain.MediaVideoNote:
		return ".mp4"
	case domain.MediaVoice:
		return ".ogg"
	case domain.MediaAudio:
		return ".mp3"
	case domain.MediaGIF:
		return ".gif"
	case domain.MediaDocument:
		switch {
		case strings.Contains(att.MimeType, "pdf"):
			return ".pdf"
		case strings.Contains(att.MimeType, "webp"):
			return ".webp"
		case strings.Contains(att.MimeType, "png"):
			return ".png"
		case strings.Contains(att.MimeType, "gif"):
			return ".gif"
		case strings.Contains(att.MimeType, "image"):
			return ".jpg"
		case strings.Contains(att.MimeType, "video"):
			return ".mp4"
		case strings.Contains(att.MimeType, "audio"):
			return ".mp3"
		case strings.Contains(att.MimeType, "text"):
			return ".txt"
		case strings.Contains(att.MimeType, "zip"), strings.Contains(att.MimeType, "archive"):
			return ".zip"
		}
		return ".bin"
	}
	return ".bin"
}

// mediaHTML возвращает HTML представление загруженного вложения.
func mediaHTML(kind domain.MediaKind, rel string) string {
	escaped := html.EscapeString(rel)
	switch kind {
	case domain.MediaPhoto:
		return `<img data-src="` + escaped + `" class="lazy-media" loading="lazy" alt="Image">`
	case domain.MediaGIF:
		return `<img data-src="` + escaped + `" class="lazy-media" loading="lazy" alt="GIF">`
	case domain.MediaVideo, domain.MediaVideoNote:
		return `<video controls preload="metadata" src="` + escaped + `">Your browser does not support video.</video>`
	case domain.MediaVoice, domain.MediaAudio:
		return `<audio controls src="` + escaped + `">Your browser does not support audio.</audio>`
	default:
		name := html.EscapeString(filepath.Base(rel))
		return `<a href="` + escaped + `" class="document-link" download>` + "\U0001F4C4 " + name + `</a>`
	}
}

var unsafeFilenameChars = regexp.MustCompile(`[<>:"/\\|?*]`)

// sanitizeFilename очищает имя файла для предотвращения path traversal.
func sanitizeFilename(filename string) string {
	filename = filepath.Base(filename)
	if filename == "." || filename == string(filepath.Separator) {
		return ""
	}
	filename = unsafeFilenameChars.ReplaceAllString(filename, "_")
	filename = strings.Trim(filename, ". ")

	// Ограничиваем длину, сохраняя расширение.
	const maxLen = 255
	if len(filename) > maxLen {
		ext := filepath.Ext(filename)
		filename = filename[:maxLen-len(ext)-5] + ext
	}
	return filename
}

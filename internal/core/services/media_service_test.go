package services

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"telegram-chat-exporter/internal/domain"
)

// fakeDownloader пишет файл-заглушку либо возвращает ошибку для указанных ID.
type fakeDownloader struct {
	mu    sync.Mutex
	fail  map[int]bool
	calls []int
}

func (d *fakeDownloader) DownloadAttachment(_ context.Context, messageID int, dst string) error {
	d.mu.Lock()
	d.calls = append(d.calls, messageID)
	failed := d.fail[messageID]
	d.mu.Unlock()

	if failed {
		return fmt.Errorf("network error for %d", messageID)
	}
	return os.WriteFile(dst, []byte("data"), 0o644)
}

// slowDownloader задерживает загрузку указанных сообщений, переставляя
// фактический порядок завершения.
type slowDownloader struct {
	*fakeDownloader
	delay map[int]time.Duration
}

func (d *slowDownloader) DownloadAttachment(ctx context.Context, messageID int, dst string) error {
	if wait, ok := d.delay[messageID]; ok {
		time.Sleep(wait)
	}
	return d.fakeDownloader.DownloadAttachment(ctx, messageID, dst)
}

const mb = 1024 * 1024

func TestDecide(t *testing.T) {
	tests := []struct {
		name string
		cfg  MediaConfig
		att  *domain.Attachment
		want string
	}{
		{
			name: "вложение в пределах лимита загружается",
			cfg:  MediaConfig{MaxFileSize: 50 * mb},
			att:  &domain.Attachment{Kind: domain.MediaPhoto, Size: 10 * mb},
			want: "",
		},
		{
			name: "превышение потолка размера",
			cfg:  MediaConfig{MaxFileSize: 50 * mb},
			att:  &domain.Attachment{Kind: domain.MediaVideo, Size: 80 * mb},
			want: "exceeds size limit (80.0MB > 50MB)",
		},
		{
			name: "глобальный флаг пропуска",
			cfg:  MediaConfig{MaxFileSize: 50 * mb, SkipAll: true},
			att:  &domain.Attachment{Kind: domain.MediaPhoto, Size: 1 * mb},
			want: "media downloads disabled",
		},
		{
			name: "тип в списке пропуска важнее глобального флага",
			cfg: MediaConfig{
				MaxFileSize: 50 * mb,
				SkipAll:     true,
				SkipKinds:   map[domain.MediaKind]bool{domain.MediaVoice: true},
			},
			att:  &domain.Attachment{Kind: domain.MediaVoice, Size: 1 * mb},
			want: "media type voice excluded",
		},
		{
			name: "тип в списке пропуска важнее размера",
			cfg: MediaConfig{
				MaxFileSize: 50 * mb,
				SkipKinds:   map[domain.MediaKind]bool{domain.MediaVideo: true},
			},
			att:  &domain.Attachment{Kind: domain.MediaVideo, Size: 80 * mb},
			want: "media type video excluded",
		},
		{
			name: "nil вложение",
			cfg:  MediaConfig{MaxFileSize: 50 * mb},
			att:  nil,
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewMediaService(&fakeDownloader{}, t.TempDir(), "media", tt.cfg)
			assert.Equal(t, tt.want, s.Decide(tt.att))
		})
	}
}

func TestDownloadAll(t *testing.T) {
	t.Run("успешные загрузки дают HTML со ссылкой в каталог медиа", func(t *testing.T) {
		dir := t.TempDir()
		dl := &fakeDownloader{}
		s := NewMediaService(dl, dir, "export_media", MediaConfig{MaxFileSize: 50 * mb, PoolSize: 2})

		tasks := []MediaTask{
			{OwnerID: 10, SourceID: 10, Attachment: domain.Attachment{Kind: domain.MediaPhoto}},
			{OwnerID: 11, SourceID: 11, Attachment: domain.Attachment{Kind: domain.MediaDocument, FileName: "report.pdf", MimeType: "application/pdf"}},
		}
		results := s.DownloadAll(context.Background(), tasks)
		require.Len(t, results, 2)

		byID := make(map[int]MediaResult)
		for _, r := range results {
			byID[r.SourceID] = r
		}

		photo := byID[10]
		assert.Empty(t, photo.SkipReason)
		assert.Contains(t, photo.HTML, `data-src="export_media/msg_10_1_photo.jpg"`)

		doc := byID[11]
		assert.Empty(t, doc.SkipReason)
		assert.Contains(t, doc.HTML, "export_media/msg_11_2_document_report.pdf")
		assert.Contains(t, doc.HTML, "report.pdf")

		assert.Equal(t, 2, s.DownloadCount())
		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		assert.Len(t, entries, 2)
	})

	t.Run("неудачная загрузка не прерывает остальные", func(t *testing.T) {
		dir := t.TempDir()
		dl := &fakeDownloader{fail: map[int]bool{20: true}}
		s := NewMediaService(dl, dir, "m", MediaConfig{MaxFileSize: 50 * mb, PoolSize: 1})

		tasks := []MediaTask{
			{OwnerID: 20, SourceID: 20, Attachment: domain.Attachment{Kind: domain.MediaPhoto}},
			{OwnerID: 21, SourceID: 21, Attachment: domain.Attachment{Kind: domain.MediaPhoto}},
		}
		results := s.DownloadAll(context.Background(), tasks)
		require.Len(t, results, 2)

		byID := make(map[int]MediaResult)
		for _, r := range results {
			byID[r.SourceID] = r
		}

		assert.Equal(t, SkipReasonDownloadFailed, byID[20].SkipReason)
		assert.Empty(t, byID[20].HTML)
		assert.Empty(t, byID[21].SkipReason)

		// Повторов нет: ровно один вызов на задание.
		assert.Len(t, dl.calls, 2)
		assert.Equal(t, 1, s.DownloadCount())
	})

	t.Run("результаты повторяют порядок заданий при параллельной загрузке", func(t *testing.T) {
		dir := t.TempDir()
		dl := &slowDownloader{fakeDownloader: &fakeDownloader{}, delay: map[int]time.Duration{10: 30 * time.Millisecond}}
		s := NewMediaService(dl, dir, "export_media", MediaConfig{MaxFileSize: 50 * mb, PoolSize: 2})

		// Альбом: обе части принадлежат одному сообщению; первая часть
		// завершается последней, но ее результат остается первым.
		tasks := []MediaTask{
			{OwnerID: 10, SourceID: 10, Attachment: domain.Attachment{Kind: domain.MediaPhoto}},
			{OwnerID: 10, SourceID: 11, Attachment: domain.Attachment{Kind: domain.MediaPhoto}},
		}
		results := s.DownloadAll(context.Background(), tasks)
		require.Len(t, results, 2)

		assert.Equal(t, 10, results[0].SourceID)
		assert.Contains(t, results[0].HTML, "msg_10_1_photo.jpg")
		assert.Equal(t, 11, results[1].SourceID)
		assert.Contains(t, results[1].HTML, "msg_11_2_photo.jpg")
	})

	t.Run("пустой список заданий", func(t *testing.T) {
		s := NewMediaService(&fakeDownloader{}, t.TempDir(), "m", MediaConfig{})
		assert.Nil(t, s.DownloadAll(context.Background(), nil))
	})
}

func TestNextFilename(t *testing.T) {
	s := NewMediaService(&fakeDownloader{}, t.TempDir(), "m", MediaConfig{})

	t.Run("имя включает ID сообщения, индекс и тип", func(t *testing.T) {
		got := s.nextFilename(42, &domain.Attachment{Kind: domain.MediaPhoto})
		assert.Equal(t, "msg_42_1_photo.jpg", got)
	})

	t.Run("оригинальное имя сохраняется в очищенном виде", func(t *testing.T) {
		got := s.nextFilename(43, &domain.Attachment{Kind: domain.MediaDocument, FileName: "../../etc/passwd.txt"})
		assert.Equal(t, "msg_43_2_document_passwd.txt", got)
		assert.NotContains(t, got, "..")
	})

	t.Run("документ без имени получает расширение по MIME", func(t *testing.T) {
		got := s.nextFilename(44, &domain.Attachment{Kind: domain.MediaDocument, MimeType: "application/zip"})
		assert.Equal(t, "msg_44_3_document.zip", got)
	})
}

func TestSanitizeFilename(t *testing.T) {
	assert.Equal(t, "passwd", sanitizeFilename("../../etc/passwd"))
	assert.Equal(t, "a_b_c", sanitizeFilename(`a<b>c`))
	assert.Equal(t, "", sanitizeFilename("."))
	assert.Equal(t, "name", sanitizeFilename("name . "))
}

func TestFileExtension(t *testing.T) {
	tests := []struct {
		att  domain.Attachment
		want string
	}{
		{domain.Attachment{Kind: domain.MediaPhoto}, ".jpg"},
		{domain.Attachment{Kind: domain.MediaVideoNote}, ".mp4"},
		{domain.Attachment{Kind: domain.MediaVoice}, ".ogg"},
		{domain.Attachment{Kind: domain.MediaGIF}, ".gif"},
		{domain.Attachment{Kind: domain.MediaDocument, FileName: "Data.TAR"}, ".tar"},
		{domain.Attachment{Kind: domain.MediaDocument, MimeType: "application/pdf"}, ".pdf"},
		{domain.Attachment{Kind: domain.MediaDocument, MimeType: "application/octet-stream"}, ".bin"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, fileExtension(&tt.att), "%+v", tt.att)
	}
}

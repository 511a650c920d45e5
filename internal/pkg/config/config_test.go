package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"telegram-chat-exporter/internal/domain"
)

func TestTopicFilter(t *testing.T) {
	t.Run("без фильтра проходят все", func(t *testing.T) {
		f := NoTopicFilter()
		assert.True(t, f.Allows("General"))
		assert.True(t, f.Allows(""))
	})

	t.Run("белый список", func(t *testing.T) {
		f := IncludeTopics([]string{"General", "News"})
		assert.True(t, f.Allows("General"))
		assert.False(t, f.Allows("Spam"))
	})

	t.Run("черный список", func(t *testing.T) {
		f := ExcludeTopics([]string{"Spam"})
		assert.False(t, f.Allows("Spam"))
		assert.True(t, f.Allows("General"))
	})

	t.Run("сравнение точное и с учетом регистра", func(t *testing.T) {
		f := ExcludeTopics([]string{"Spam"})
		assert.True(t, f.Allows("spam"))
		assert.True(t, f.Allows("Spam "))
	})
}

func TestTextFilter(t *testing.T) {
	t.Run("неактивный фильтр пропускает все", func(t *testing.T) {
		f := TextFilter{}
		assert.True(t, f.AllowsText("anything"))
		assert.True(t, f.AllowsText(""))
	})

	t.Run("include требует совпадения", func(t *testing.T) {
		f := TextFilter{Include: []string{"release"}, CaseSensitive: true}
		assert.True(t, f.AllowsText("release notes"))
		assert.False(t, f.AllowsText("other"))
	})

	t.Run("exclude побеждает include", func(t *testing.T) {
		f := TextFilter{Include: []string{"release"}, Exclude: []string{"draft"}, CaseSensitive: true}
		assert.True(t, f.AllowsText("release notes"))
		assert.False(t, f.AllowsText("release draft"))
	})

	t.Run("пустой текст проходит только без include-списка", func(t *testing.T) {
		onlyExclude := TextFilter{Exclude: []string{"spam"}, CaseSensitive: true}
		assert.True(t, onlyExclude.AllowsText(""))

		withInclude := TextFilter{Include: []string{"release"}, CaseSensitive: true}
		assert.False(t, withInclude.AllowsText(""))
	})

	t.Run("без учета регистра", func(t *testing.T) {
		f := TextFilter{Exclude: []string{"SPAM"}, CaseSensitive: false}
		assert.False(t, f.AllowsText("this is spam"))
	})
}

func validConfig() *ExportConfig {
	return &ExportConfig{
		Telegram:               Telegram{APIID: 12345, APIHash: "0123456789abcdef0123456789abcdef"},
		ChatIdentifier:         "@somechat",
		OutputPath:             "export.html",
		MaxFileSizeMB:          DefaultMaxFileSizeMB,
		MaxConcurrentDownloads: DefaultMaxConcurrentDownloads,
		Timezone:               time.UTC,
		DateFormat:             DefaultDateFormat,
		ProgressLogInterval:    DefaultProgressLogInterval,
		ForumTopicsLimit:       DefaultForumTopicsLimit,
	}
}

func TestValidate(t *testing.T) {
	t.Run("валидная конфигурация", func(t *testing.T) {
		assert.NoError(t, validConfig().Validate())
	})

	tests := []struct {
		name   string
		mutate func(*ExportConfig)
	}{
		{"нулевой api_id", func(c *ExportConfig) { c.Telegram.APIID = 0 }},
		{"пустой api_hash", func(c *ExportConfig) { c.Telegram.APIHash = "" }},
		{"пустой идентификатор чата", func(c *ExportConfig) { c.ChatIdentifier = "" }},
		{"пустой путь вывода", func(c *ExportConfig) { c.OutputPath = "" }},
		{"нулевой потолок размера", func(c *ExportConfig) { c.MaxFileSizeMB = 0 }},
		{"нулевой пул загрузок", func(c *ExportConfig) { c.MaxConcurrentDownloads = 0 }},
		{"нет таймзоны", func(c *ExportConfig) { c.Timezone = nil }},
		{"недопустимый уровень логирования", func(c *ExportConfig) { c.Logging.Level = "trace" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestMaxFileSizeBytes(t *testing.T) {
	cfg := validConfig()
	cfg.MaxFileSizeMB = 50
	assert.Equal(t, int64(50*1024*1024), cfg.MaxFileSizeBytes())
}

func TestParseSkipMediaKinds(t *testing.T) {
	t.Run("валидные типы", func(t *testing.T) {
		kinds, err := ParseSkipMediaKinds([]string{"photo", "video_note"})
		require.NoError(t, err)
		assert.True(t, kinds[domain.MediaPhoto])
		assert.True(t, kinds[domain.MediaVideoNote])
		assert.False(t, kinds[domain.MediaVideo])
	})

	t.Run("неизвестный тип — ошибка", func(t *testing.T) {
		_, err := ParseSkipMediaKinds([]string{"photo", "sticker"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "sticker")
	})

	t.Run("пустой список", func(t *testing.T) {
		kinds, err := ParseSkipMediaKinds(nil)
		require.NoError(t, err)
		assert.Empty(t, kinds)
	})
}

func TestLoadCredentials(t *testing.T) {
	t.Run("из YAML-файла", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "config.yml")
		content := "telegram:\n  api_id: 111\n  api_hash: somehash\n  phone_number: \"+70000000000\"\nlogging:\n  level: debug\n  format: json\n"
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

		tg, lg, err := LoadCredentials(path)
		require.NoError(t, err)
		assert.Equal(t, 111, tg.APIID)
		assert.Equal(t, "somehash", tg.APIHash)
		assert.Equal(t, DefaultSessionFile, tg.SessionFile)
		assert.Equal(t, "debug", lg.Level)
		assert.Equal(t, "json", lg.Format)
	})

	t.Run("из окружения при отсутствии файла", func(t *testing.T) {
		t.Setenv("API_ID", "222")
		t.Setenv("API_HASH", "envhash")
		t.Setenv("SESSION_FILE", "custom.session")

		tg, lg, err := LoadCredentials(filepath.Join(t.TempDir(), "missing.yml"))
		require.NoError(t, err)
		assert.Equal(t, 222, tg.APIID)
		assert.Equal(t, "envhash", tg.APIHash)
		assert.Equal(t, "custom.session", tg.SessionFile)
		assert.Equal(t, DefaultLogLevel, lg.Level)
	})

	t.Run("нет ни файла, ни окружения", func(t *testing.T) {
		t.Setenv("API_ID", "")
		t.Setenv("API_HASH", "")

		_, _, err := LoadCredentials(filepath.Join(t.TempDir(), "missing.yml"))
		assert.Error(t, err)
	})

	t.Run("недопустимый API_ID в окружении", func(t *testing.T) {
		t.Setenv("API_ID", "not-a-number")
		t.Setenv("API_HASH", "envhash")

		_, _, err := LoadCredentials(filepath.Join(t.TempDir(), "missing.yml"))
		assert.Error(t, err)
	})
}

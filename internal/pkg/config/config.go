// Package config предоставляет управление конфигурацией приложения
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"

	"telegram-chat-exporter/internal/domain"
)

// TopicFilterMode определяет режим фильтрации топиков.
type TopicFilterMode int

const (
	// TopicFilterOff — фильтрация топиков отключена, включаются все.
	TopicFilterOff TopicFilterMode = iota
	// TopicFilterInclude — включаются только перечисленные топики.
	TopicFilterInclude
	// TopicFilterExclude — перечисленные топики исключаются.
	TopicFilterExclude
)

// TopicFilter — тегированный вариант фильтра топиков.
// Недопустимое состояние "оба списка заданы" невозможно структурно:
// фильтр несет ровно один режим и один список названий.
type TopicFilter struct {
	Mode   TopicFilterMode
	Titles []string
}

// NoTopicFilter возвращает фильтр, пропускающий все топики.
func NoTopicFilter() TopicFilter {
	return TopicFilter{Mode: TopicFilterOff}
}

// IncludeTopics возвращает фильтр-белый список.
func IncludeTopics(titles []string) TopicFilter {
	return TopicFilter{Mode: TopicFilterInclude, Titles: titles}
}

// ExcludeTopics возвращает фильтр-черный список.
func ExcludeTopics(titles []string) TopicFilter {
	return TopicFilter{Mode: TopicFilterExclude, Titles: titles}
}

// Allows сообщает, проходит ли топик с данным названием фильтр.
// Сравнение названий — точное, с учетом регистра.
func (f TopicFilter) Allows(title string) bool {
	switch f.Mode {
	case TopicFilterInclude:
		for _, t := range f.Titles {
			if t == title {
				return true
			}
		}
		return false
	case TopicFilterExclude:
		for _, t := range f.Titles {
			if t == title {
				return false
			}
		}
		return true
	default:
		return true
	}
}

// TextFilter определяет фильтрацию сообщений по подстрокам.
// Include и Exclude могут быть заданы одновременно: exclude имеет приоритет.
type TextFilter struct {
	Include       []string
	Exclude       []string
	CaseSensitive bool
}

// Active сообщает, задан ли хотя бы один список подстрок.
func (f TextFilter) Active() bool {
	return len(f.Include) > 0 || len(f.Exclude) > 0
}

func (f TextFilter) containsAny(text string, subs []string) bool {
	if text == "" || len(subs) == 0 {
		return false
	}
	if !f.CaseSensitive {
		text = strings.ToLower(text)
	}
	for _, sub := range subs {
		if !f.CaseSensitive {
			sub = strings.ToLower(sub)
		}
		if strings.Contains(text, sub) {
			return true
		}
	}
	return false
}

// AllowsText сообщает, проходит ли текст фильтр.
// Сообщение без текста проходит, только если include-список пуст.
func (f TextFilter) AllowsText(text string) bool {
	if !f.Active() {
		return true
	}
	if text == "" {
		return len(f.Include) == 0
	}
	if len(f.Include) > 0 && !f.containsAny(text, f.Include) {
		return false
	}
	// Exclude проверяется последним и имеет приоритет над include.
	if len(f.Exclude) > 0 && f.containsAny(text, f.Exclude) {
		return false
	}
	return true
}

// Telegram содержит учетные данные Telegram API.
type Telegram struct {
	APIID       int    `yaml:"api_id"`
	APIHash     string `yaml:"api_hash"`
	PhoneNumber string `yaml:"phone_number"`
	SessionFile string `yaml:"session_file"`
}

// Logging содержит конфигурацию логирования.
type Logging struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// ExportConfig содержит полную конфигурацию одного запуска экспорта.
type ExportConfig struct {
	Telegram Telegram
	Logging  Logging

	ChatIdentifier string
	OutputPath     string

	MaxFileSizeMB          int
	MaxConcurrentDownloads int
	SkipMedia              bool
	SkipMediaKinds         map[domain.MediaKind]bool

	Topics TopicFilter
	Text   TextFilter

	Timezone   *time.Location
	DateFormat string

	ProgressLogInterval int
	ForumTopicsLimit    int

	ServeAddr string // если не пусто — после экспорта поднимается preview-сервер
	StatsPath string // если не пусто — записывается сводная книга xlsx
}

// MaxFileSizeBytes возвращает потолок размера вложения в байтах.
func (c *ExportConfig) MaxFileSizeBytes() int64 {
	return int64(c.MaxFileSizeMB) * 1024 * 1024
}

// Validate проверяет, являются ли значения конфигурации допустимыми.
// Фатальные ошибки конфигурации обнаруживаются здесь, до какого-либо I/O.
func (c *ExportConfig) Validate() error {
	if c.Telegram.APIID <= 0 {
		return fmt.Errorf("telegram.api_id должно быть положительным целым числом")
	}
	if c.Telegram.APIHash == "" {
		return fmt.Errorf("telegram.api_hash не может быть пустым")
	}
	if c.ChatIdentifier == "" {
		return fmt.Errorf("идентификатор чата не может быть пустым")
	}
	if c.OutputPath == "" {
		return fmt.Errorf("путь вывода не может быть пустым")
	}
	if c.MaxFileSizeMB <= 0 {
		return fmt.Errorf("max_file_size должно быть положительным")
	}
	if c.MaxConcurrentDownloads <= 0 {
		return fmt.Errorf("max_downloads должно быть положительным")
	}
	if c.Timezone == nil {
		return fmt.Errorf("таймзона отображения не задана")
	}
	if c.ProgressLogInterval <= 0 {
		return fmt.Errorf("интервал логирования прогресса должен быть положительным")
	}

	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
		// all good
	default:
		return fmt.Errorf("logging.level должен быть одним из: debug, info, warn, error")
	}

	return nil
}

// LoadCredentials загружает учетные данные Telegram из переменных окружения,
// .env файла или config.yml (файл имеет приоритет над окружением).
func LoadCredentials(configFile string) (Telegram, Logging, error) {
	// Загрузка переменных окружения из .env файла, если он существует.
	// Отсутствие .env — это нормально, полагаемся на окружение или config.yml.
	_ = godotenv.Load()

	tg, lg, err := loadFromYAML(configFile)
	if err == nil {
		return tg, lg, nil
	}

	return loadFromEnv()
}

// fileConfig — структура необязательного YAML-файла конфигурации.
type fileConfig struct {
	Telegram Telegram `yaml:"telegram"`
	Logging  Logging  `yaml:"logging"`
}

func loadFromYAML(filename string) (Telegram, Logging, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return Telegram{}, Logging{}, fmt.Errorf("не удалось прочитать файл конфигурации %s: %w", filename, err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return Telegram{}, Logging{}, fmt.Errorf("не удалось разобрать YAML конфигурацию: %w", err)
	}
	if fc.Telegram.SessionFile == "" {
		fc.Telegram.SessionFile = DefaultSessionFile
	}

	return fc.Telegram, fc.Logging, nil
}

func loadFromEnv() (Telegram, Logging, error) {
	apiIDStr := getEnv("API_ID", "")
	apiHash := getEnv("API_HASH", "")
	phoneNumber := getEnv("PHONE_NUMBER", "")
	sessionFile := getEnv("SESSION_FILE", DefaultSessionFile)

	if apiIDStr == "" || apiHash == "" {
		return Telegram{}, Logging{}, fmt.Errorf("API_ID и API_HASH должны быть установлены в переменных окружения")
	}

	apiID, err := strconv.Atoi(apiIDStr)
	if err != nil {
		return Telegram{}, Logging{}, fmt.Errorf("недопустимый API_ID: %w", err)
	}

	lg := Logging{
		Level:  getEnv("LOG_LEVEL", DefaultLogLevel),
		Format: getEnv("LOG_FORMAT", DefaultLogFormat),
	}

	return Telegram{
		APIID:       apiID,
		APIHash:     apiHash,
		PhoneNumber: phoneNumber,
		SessionFile: sessionFile,
	}, lg, nil
}

// ParseSkipMediaKinds разбирает список типов медиа для пропуска.
// Неизвестное имя типа — фатальная ошибка конфигурации.
func ParseSkipMediaKinds(names []string) (map[domain.MediaKind]bool, error) {
	kinds := make(map[domain.MediaKind]bool, len(names))
	for _, name := range names {
		kind, ok := domain.ParseMediaKind(name)
		if !ok {
			return nil, fmt.Errorf("неизвестный тип медиа %q (допустимые: photo, video, video_note, voice, audio, document, gif)", name)
		}
		kinds[kind] = true
	}
	return kinds, nil
}

// getEnv извлекает значение переменной окружения или возвращает значение по умолчанию, если она не установлена
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

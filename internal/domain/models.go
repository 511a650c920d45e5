package domain

import "time"

// MediaKind определяет тип медиа вложения.
type MediaKind string

const (
	MediaPhoto     MediaKind = "photo"
	MediaVideo     MediaKind = "video"
	MediaVideoNote MediaKind = "video_note"
	MediaVoice     MediaKind = "voice"
	MediaAudio     MediaKind = "audio"
	MediaDocument  MediaKind = "document"
	MediaGIF       MediaKind = "gif"
)

// AllMediaKinds содержит все известные типы медиа в стабильном порядке.
var AllMediaKinds = []MediaKind{
	MediaPhoto, MediaVideo, MediaVideoNote, MediaVoice, MediaAudio, MediaDocument, MediaGIF,
}

// ParseMediaKind проверяет и возвращает тип медиа по его строковому имени.
func ParseMediaKind(s string) (MediaKind, bool) {
	for _, k := range AllMediaKinds {
		if string(k) == s {
			return k, true
		}
	}
	return "", false
}

// EntityKind определяет тип "богатой" части текста сообщения.
type EntityKind string

const (
	EntityBold          EntityKind = "bold"
	EntityItalic        EntityKind = "italic"
	EntityUnderline     EntityKind = "underline"
	EntityStrikethrough EntityKind = "strikethrough"
	EntitySpoiler       EntityKind = "spoiler"
	EntityCode          EntityKind = "code"
	EntityPre           EntityKind = "pre"
	EntityBlockquote    EntityKind = "blockquote"
	EntityTextLink      EntityKind = "text_link"
	EntityURL           EntityKind = "url"
	EntityMention       EntityKind = "mention"
	EntityHashtag       EntityKind = "hashtag"
	EntityEmail         EntityKind = "email"
)

// CodeLanguage — типизированная необязательная подсказка языка для блоков кода.
// Пустое значение означает, что язык не указан и подсветка определяется автоматически.
type CodeLanguage string

// Entity представляет "богатую" часть текста (жирный, ссылка, код и т.д.).
// Offset и Length измеряются в рунах исходного текста.
type Entity struct {
	Kind     EntityKind
	Offset   int
	Length   int
	URL      string       // только для text_link
	Language CodeLanguage // только для pre
}

// Attachment описывает медиа вложение сообщения так, как его сообщает провайдер.
type Attachment struct {
	Kind     MediaKind
	Size     int64 // заявленный размер в байтах; 0, если провайдер его не сообщил
	FileName string
	MimeType string
}

// ServiceEvent представляет служебное событие чата (участник добавлен и т.п.).
type ServiceEvent struct {
	Description string
}

// Reaction представляет одну реакцию на сообщение.
type Reaction struct {
	Emoticon string
	Count    int
}

// RawMessage — сырая запись сообщения от провайдера, до обогащения.
type RawMessage struct {
	ID         int
	TopicID    int
	Sender     string
	Date       time.Time // всегда UTC, приводится к таймзоне отображения позже
	Text       string
	Entities   []Entity
	Attachment *Attachment
	ReplyTo    *int
	GroupedID  int64 // идентификатор альбома; 0, если сообщение одиночное
	Reactions  []Reaction
	Service    *ServiceEvent
}

// Message — обработанное сообщение; после сборки документа не изменяется.
type Message struct {
	ID                 int
	Sender             string
	Date               string // уже в таймзоне отображения
	HTML               string // разрешенный контент, экранированный при построении
	TopicID            int
	IsService          bool
	ServiceDescription string
	ReplyTo            *int // может указывать на сообщение вне экспорта
	SkipReason         string
	Reactions          []Reaction
	GroupedIDs         []int // ID всех сообщений альбома, включая собственный
}

// InGroup сообщает, относится ли указанный ID к этому сообщению
// (собственный ID или ID участника альбома).
func (m *Message) InGroup(id int) bool {
	if m.ID == id {
		return true
	}
	for _, gid := range m.GroupedIDs {
		if gid == id {
			return true
		}
	}
	return false
}

// TopicInfo — сведения о топике, полученные от провайдера до обработки.
type TopicInfo struct {
	ID    int
	Title string
}

// SyntheticTopicID — идентификатор единственного топика для чатов без форума.
const SyntheticTopicID = 1

// Topic представляет топик форума с упорядоченным списком сообщений.
type Topic struct {
	ID       int
	Title    string
	Messages []*Message
}

// Document — корневая структура экспорта, передаваемая на границу шаблонизации.
// После Build никакие поля не изменяются.
type Document struct {
	Title        string
	Topics       []*Topic // первый топик отображается по умолчанию
	EmptyMessage string   // заполняется, когда фильтрация не оставила сообщений
}

// TotalMessages возвращает общее число сообщений во всех топиках.
func (d *Document) TotalMessages() int {
	total := 0
	for _, t := range d.Topics {
		total += len(t.Messages)
	}
	return total
}

// ChatInfo описывает разрешенный чат.
type ChatInfo struct {
	ID         int64
	AccessHash int64
	Title      string
	Forum      bool
}

// ExportResult — итог операции экспорта.
type ExportResult struct {
	OutputPath    string
	TotalTopics   int
	TotalMessages int
	MediaCount    int
}

package services

import (
	"fmt"
	"html"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"telegram-chat-exporter/internal/domain"
)

// RenderService — чистый рендерер контента сообщения: превращает текст
// с "богатыми" сущностями и служебную информацию в безопасную HTML разметку.
// Весь пользовательский текст экранируется при построении.
type RenderService struct {
	chatID int64
	forum  bool
}

// NewRenderService создает рендерер для конкретного чата.
// chatID и forum нужны для преобразования ссылок t.me внутрь экспорта.
func NewRenderService(chatID int64, forum bool) *RenderService {
	return &RenderService{chatID: chatID, forum: forum}
}

// Паттерн для ссылок на сообщения в форуме: /c/CHAT_ID/TOPIC_ID/MESSAGE_ID (3 числа)
var forumMessageLinkRegex = regexp.MustCompile(`^https://t\.me/c/(\d+)/(\d+)/(\d+)(?:\?.*)?$`)

// Паттерн для ссылок на топик форума или на сообщение в обычном чате: /c/CHAT_ID/N
var shortLinkRegex = regexp.MustCompile(`^https://t\.me/c/(\d+)/(\d+)(?:\?.*)?$`)

// Render возвращает HTML контента сообщения.
// Служебные сообщения рендерятся фиксированным префиксом с описанием
// и не несут пользовательского контента.
func (s *RenderService) Render(msg *domain.RawMessage) string {
	if msg.Service != nil {
		return `<span class="service-text">` + "⚙ " + html.EscapeString(msg.Service.Description) + `</span>`
	}
	if msg.Text == "" {
		return ""
	}
	return s.renderEntities(msg.Text, msg.Entities)
}

// renderEntities экранирует текст и оборачивает диапазоны сущностей в теги.
// Сущности предполагаются неперекрывающимися; перекрывающаяся сущность,
// начинающаяся внутри уже обработанного диапазона, пропускается, побеждает внешняя.
func (s *RenderService) renderEntities(text string, entities []domain.Entity) string {
	runes := []rune(text)

	sorted := make([]domain.Entity, len(entities))
	copy(sorted, entities)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Offset < sorted[j].Offset })

	var b strings.Builder
	cursor := 0
	for _, e := range sorted {
		if e.Offset < cursor || e.Length <= 0 || e.Offset+e.Length > len(runes) {
			continue
		}
		b.WriteString(escapeText(string(runes[cursor:e.Offset])))
		b.WriteString(s.renderEntity(string(runes[e.Offset:e.Offset+e.Length]), e))
		cursor = e.Offset + e.Length
	}
	if cursor < len(runes) {
		b.WriteString(escapeText(string(runes[cursor:])))
	}
	return b.String()
}

func (s *RenderService) renderEntity(inner string, e domain.Entity) string {
	switch e.Kind {
	case domain.EntityBold:
		return "<strong>" + escapeText(inner) + "</strong>"
	case domain.EntityItalic:
		return "<em>" + escapeText(inner) + "</em>"
	case domain.EntityUnderline:
		return "<u>" + escapeText(inner) + "</u>"
	case domain.EntityStrikethrough:
		return "<s>" + escapeText(inner) + "</s>"
	case domain.EntitySpoiler:
		return `<span class="spoiler">` + escapeText(inner) + "</span>"
	case domain.EntityCode:
		return "<code>" + html.EscapeString(inner) + "</code>"
	case domain.EntityPre:
		// Типизированная подсказка языка попадает в класс блока;
		// пустая подсказка оставляет автоопределение клиентской части.
		if e.Language != "" {
			return `<pre><code class="language-` + html.EscapeString(string(e.Language)) + `">` + html.EscapeString(inner) + "</code></pre>"
		}
		return "<pre><code>" + html.EscapeString(inner) + "</code></pre>"
	case domain.EntityBlockquote:
		return "<blockquote>" + escapeText(inner) + "</blockquote>"
	case domain.EntityTextLink:
		return s.renderLink(e.URL, escapeText(inner))
	case domain.EntityURL:
		return s.renderLink(inner, escapeText(inner))
	case domain.EntityMention:
		username := strings.TrimPrefix(inner, "@")
		return `<a href="https://t.me/` + html.EscapeString(username) + `" class="mention">` + escapeText(inner) + "</a>"
	case domain.EntityHashtag:
		return `<span class="hashtag">` + escapeText(inner) + "</span>"
	case domain.EntityEmail:
		return `<a href="mailto:` + html.EscapeString(inner) + `">` + escapeText(inner) + "</a>"
	default:
		return escapeText(inner)
	}
}

// renderLink возвращает якорь для ссылки. Ссылки t.me на текущий чат
// становятся внутренними якорями; ссылки на другие чаты остаются внешними.
func (s *RenderService) renderLink(rawURL, innerHTML string) string {
	if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		// Недоверенная схема не попадает в href.
		return innerHTML
	}

	if href, attrs, ok := s.internalAnchor(rawURL); ok {
		return `<a href="` + href + `" class="internal-link"` + attrs + ">" + innerHTML + "</a>"
	}

	return `<a href="` + html.EscapeString(rawURL) + `" rel="noopener" target="_blank">` + innerHTML + "</a>"
}

// internalAnchor распознает три формы ссылок Telegram:
//  1. https://t.me/c/CHAT_ID/TOPIC_ID/MESSAGE_ID — сообщение в форуме
//  2. https://t.me/c/CHAT_ID/MESSAGE_ID — сообщение в обычном чате
//  3. https://t.me/c/CHAT_ID/TOPIC_ID — топик форума
func (s *RenderService) internalAnchor(rawURL string) (href, attrs string, ok bool) {
	if m := forumMessageLinkRegex.FindStringSubmatch(rawURL); m != nil {
		chatID, _ := strconv.ParseInt(m[1], 10, 64)
		if chatID != s.chatID {
			return "", "", false
		}
		return "#msg-" + m[3], fmt.Sprintf(` data-msg-id=%q data-topic-id=%q`, m[3], m[2]), true
	}

	if m := shortLinkRegex.FindStringSubmatch(rawURL); m != nil {
		chatID, _ := strconv.ParseInt(m[1], 10, 64)
		if chatID != s.chatID {
			return "", "", false
		}
		if s.forum {
			// В форуме двухчастная ссылка адресует топик.
			return "#topic-" + m[2], fmt.Sprintf(` data-topic-id=%q`, m[2]), true
		}
		return "#msg-" + m[2], fmt.Sprintf(` data-msg-id=%q`, m[2]), true
	}

	return "", "", false
}

// escapeText экранирует пользовательский текст и переводит переносы строк в <br>.
func escapeText(text string) string {
	escaped := html.EscapeString(text)
	return strings.ReplaceAll(escaped, "\n", "<br>")
}

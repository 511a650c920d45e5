package telegram

import (
	"fmt"
	"time"

	"github.com/gotd/td/tg"

	"telegram-chat-exporter/internal/domain"
)

// convertMessage преобразует сообщение Telegram API в сырую доменную запись.
// Возвращает nil для типов сообщений, не подлежащих экспорту.
func (c *Client) convertMessage(msg tg.MessageClass, topicID int, users map[int64]*tg.User) *domain.RawMessage {
	switch m := msg.(type) {
	case *tg.Message:
		raw := &domain.RawMessage{
			ID:        m.ID,
			TopicID:   topicID,
			Sender:    senderName(m.FromID, users),
			Date:      time.Unix(int64(m.Date), 0).UTC(),
			Text:      m.Message,
			Entities:  convertEntities(m.Message, m.Entities),
			ReplyTo:   convertReply(m.ReplyTo),
			GroupedID: groupedID(m),
			Reactions: convertReactions(m),
		}
		if att, loc := c.convertMedia(m); att != nil {
			raw.Attachment = att
			c.rememberLocation(m.ID, loc)
		}
		return raw

	case *tg.MessageService:
		return &domain.RawMessage{
			ID:      m.ID,
			TopicID: topicID,
			Sender:  senderName(m.FromID, users),
			Date:    time.Unix(int64(m.Date), 0).UTC(),
			Service: &domain.ServiceEvent{Description: serviceDescription(m.Action)},
		}

	default:
		return nil
	}
}

// senderName форматирует имя отправителя с ID и никнеймом, если он есть.
func senderName(from tg.PeerClass, users map[int64]*tg.User) string {
	peerUser, ok := from.(*tg.PeerUser)
	if !ok {
		return "Unknown"
	}
	u, ok := users[peerUser.UserID]
	if !ok {
		return fmt.Sprintf("Unknown (ID: %d)", peerUser.UserID)
	}

	name := u.FirstName
	if u.LastName != "" {
		if name != "" {
			name += " "
		}
		name += u.LastName
	}
	if name == "" {
		name = "Deleted Account"
	}

	if username, ok := u.GetUsername(); ok && username != "" {
		return fmt.Sprintf("%s (ID: %d, @%s)", name, u.ID, username)
	}
	return fmt.Sprintf("%s (ID: %d)", name, u.ID)
}

// convertReply извлекает ID сообщения-цели реплая.
// В форуме заголовок реплая также кодирует принадлежность топику:
// настоящий реплай несет и reply_to_msg_id, и reply_to_top_id.
func convertReply(header tg.MessageReplyHeaderClass) *int {
	h, ok := header.(*tg.MessageReplyHeader)
	if !ok {
		return nil
	}
	msgID, ok := h.GetReplyToMsgID()
	if !ok {
		return nil
	}
	if h.ForumTopic {
		if _, hasTop := h.GetReplyToTopID(); !hasTop {
			// Без reply_to_top_id это лишь членство в топике, а не реплай.
			return nil
		}
	}
	return &msgID
}

func groupedID(m *tg.Message) int64 {
	id, _ := m.GetGroupedID()
	return id
}

// convertReactions извлекает реакции с эмодзи и счетчиком.
func convertReactions(m *tg.Message) []domain.Reaction {
	reactions, ok := m.GetReactions()
	if !ok {
		return nil
	}

	var out []domain.Reaction
	for _, r := range reactions.Results {
		emoji, ok := r.Reaction.(*tg.ReactionEmoji)
		if !ok || r.Count <= 0 {
			continue
		}
		out = append(out, domain.Reaction{Emoticon: emoji.Emoticon, Count: r.Count})
	}
	return out
}

// convertEntities преобразует сущности Telegram в доменные.
// Telegram считает смещения в единицах UTF-16; доменная модель — в рунах.
func convertEntities(text string, entities []tg.MessageEntityClass) []domain.Entity {
	if len(entities) == 0 {
		return nil
	}

	toRune := utf16ToRuneTable(text)
	var out []domain.Entity
	for _, e := range entities {
		kind, url, lang := entityKind(e)
		if kind == "" {
			continue
		}
		start, okStart := toRune(e.GetOffset())
		end, okEnd := toRune(e.GetOffset() + e.GetLength())
		if !okStart || !okEnd || end <= start {
			continue
		}
		out = append(out, domain.Entity{
			Kind:     kind,
			Offset:   start,
			Length:   end - start,
			URL:      url,
			Language: lang,
		})
	}
	return out
}

// utf16ToRuneTable возвращает функцию перевода смещения UTF-16 в руническое.
func utf16ToRuneTable(text string) func(int) (int, bool) {
	offsets := make(map[int]int)
	u16 := 0
	runeIdx := 0
	for _, r := range text {
		offsets[u16] = runeIdx
		if r > 0xFFFF {
			u16 += 2
		} else {
			u16++
		}
		runeIdx++
	}
	offsets[u16] = runeIdx // конец текста

	return func(off int) (int, bool) {
		idx, ok := offsets[off]
		return idx, ok
	}
}

func entityKind(e tg.MessageEntityClass) (domain.EntityKind, string, domain.CodeLanguage) {
	switch ent := e.(type) {
	case *tg.MessageEntityBold:
		return domain.EntityBold, "", ""
	case *tg.MessageEntityItalic:
		return domain.EntityItalic, "", ""
	case *tg.MessageEntityUnderline:
		return domain.EntityUnderline, "", ""
	case *tg.MessageEntityStrike:
		return domain.EntityStrikethrough, "", ""
	case *tg.MessageEntitySpoiler:
		return domain.EntitySpoiler, "", ""
	case *tg.MessageEntityCode:
		return domain.EntityCode, "", ""
	case *tg.MessageEntityPre:
		// Подсказка языка становится типизированным значением уже здесь,
		// а не строкой класса, разбираемой потребителем.
		return domain.EntityPre, "", domain.CodeLanguage(ent.Language)
	case *tg.MessageEntityBlockquote:
		return domain.EntityBlockquote, "", ""
	case *tg.MessageEntityTextURL:
		return domain.EntityTextLink, ent.URL, ""
	case *tg.MessageEntityURL:
		return domain.EntityURL, "", ""
	case *tg.MessageEntityMention:
		return domain.EntityMention, "", ""
	case *tg.MessageEntityHashtag:
		return domain.EntityHashtag, "", ""
	case *tg.MessageEntityEmail:
		return domain.EntityEmail, "", ""
	default:
		return "", "", ""
	}
}

// convertMedia определяет тип вложения и локацию для его загрузки.
func (c *Client) convertMedia(m *tg.Message) (*domain.Attachment, tg.InputFileLocationClass) {
	media, ok := m.GetMedia()
	if !ok {
		return nil, nil
	}

	switch mm := media.(type) {
	case *tg.MessageMediaPhoto:
		photo, ok := mm.Photo.(*tg.Photo)
		if !ok {
			return nil, nil
		}
		size, sizeType := largestPhotoSize(photo)
		att := &domain.Attachment{Kind: domain.MediaPhoto, Size: int64(size)}
		loc := &tg.InputPhotoFileLocation{
			ID:            photo.ID,
			AccessHash:    photo.AccessHash,
			FileReference: photo.FileReference,
			ThumbSize:     sizeType,
		}
		return att, loc

	case *tg.MessageMediaDocument:
		doc, ok := mm.Document.(*tg.Document)
		if !ok {
			return nil, nil
		}
		att := &domain.Attachment{
			Kind:     documentKind(doc),
			Size:     doc.Size,
			MimeType: doc.MimeType,
			FileName: documentFileName(doc),
		}
		loc := &tg.InputDocumentFileLocation{
			ID:            doc.ID,
			AccessHash:    doc.AccessHash,
			FileReference: doc.FileReference,
		}
		return att, loc
	}

	return nil, nil
}

// largestPhotoSize выбирает самый крупный доступный размер фотографии.
func largestPhotoSize(photo *tg.Photo) (int, string) {
	best := 0
	bestType := ""
	for _, s := range photo.Sizes {
		switch size := s.(type) {
		case *tg.PhotoSize:
			if size.Size > best {
				best = size.Size
				bestType = size.Type
			}
		case *tg.PhotoSizeProgressive:
			for _, n := range size.Sizes {
				if n > best {
					best = n
					bestType = size.Type
				}
			}
		}
	}
	return best, bestType
}

// documentKind определяет тип медиа по атрибутам документа.
func documentKind(doc *tg.Document) domain.MediaKind {
	var (
		video, round, voice, audio, animated bool
	)
	for _, attr := range doc.Attributes {
		switch a := attr.(type) {
		case *tg.DocumentAttributeVideo:
			video = true
			round = a.RoundMessage
		case *tg.DocumentAttributeAudio:
			if a.Voice {
				voice = true
			} else {
				audio = true
			}
		case *tg.DocumentAttributeAnimated:
			animated = true
		}
	}

	switch {
	case animated:
		return domain.MediaGIF
	case round:
		return domain.MediaVideoNote
	case video:
		return domain.MediaVideo
	case voice:
		return domain.MediaVoice
	case audio:
		return domain.MediaAudio
	default:
		return domain.MediaDocument
	}
}

func documentFileName(doc *tg.Document) string {
	for _, attr := range doc.Attributes {
		if a, ok := attr.(*tg.DocumentAttributeFilename); ok {
			return a.FileName
		}
	}
	return ""
}

// serviceDescription возвращает человекочитаемое описание служебного события.
func serviceDescription(action tg.MessageActionClass) string {
	switch a := action.(type) {
	case *tg.MessageActionChatAddUser:
		return "User added to the chat"
	case *tg.MessageActionChatDeleteUser:
		return "User left the chat"
	case *tg.MessageActionChatJoinedByLink:
		return "User joined via invite link"
	case *tg.MessageActionChatJoinedByRequest:
		return "User was accepted into the chat"
	case *tg.MessageActionChatEditTitle:
		return fmt.Sprintf("Chat title changed: %q", a.Title)
	case *tg.MessageActionChatEditPhoto:
		return "Chat photo changed"
	case *tg.MessageActionChatDeletePhoto:
		return "Chat photo removed"
	case *tg.MessageActionChatCreate:
		return "Chat created"
	case *tg.MessageActionChannelCreate:
		return "Channel created"
	case *tg.MessageActionChatMigrateTo:
		return "Chat upgraded to a supergroup"
	case *tg.MessageActionChannelMigrateFrom:
		return "Supergroup created from a chat"
	case *tg.MessageActionPinMessage:
		return "Message pinned"
	case *tg.MessageActionHistoryClear:
		return "History cleared"
	case *tg.MessageActionGameScore:
		return "Game score"
	case *tg.MessageActionPaymentSent:
		return "Payment sent"
	case *tg.MessageActionPhoneCall:
		return "Call"
	case *tg.MessageActionScreenshotTaken:
		return "Screenshot taken"
	case *tg.MessageActionCustomAction:
		return fmt.Sprintf("Custom action: %q", a.Message)
	case *tg.MessageActionBotAllowed:
		return "Bot allowed"
	case *tg.MessageActionContactSignUp:
		return "User signed up"
	case *tg.MessageActionGroupCall:
		return "Group call"
	case *tg.MessageActionInviteToGroupCall:
		return "Invitation to a group call"
	case *tg.MessageActionSetMessagesTTL:
		return "Auto-delete timer set"
	case *tg.MessageActionGroupCallScheduled:
		return "Group call scheduled"
	case *tg.MessageActionSetChatTheme:
		return "Chat theme changed"
	case *tg.MessageActionGiftPremium:
		return "Premium subscription gifted"
	case *tg.MessageActionTopicCreate:
		return fmt.Sprintf("Forum topic created: %q", a.Title)
	case *tg.MessageActionTopicEdit:
		return "Forum topic edited"
	default:
		return fmt.Sprintf("Service message: %T", action)
	}
}

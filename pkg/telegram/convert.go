// Copyright 2024-2026 Aiku AI

package telegram

import (
	"time"

	"github.com/mymmrac/telego"

	"github.com/aiku/telegram-relay/pkg/relay"
)

// eventsFromUpdate converts one Bot API update into zero or more relay
// events. Channel posts and direct messages are treated alike so the
// engine routes on chat ID alone. Deleted business messages expand into
// one delete event per listed message ID.
func eventsFromUpdate(update telego.Update) []relay.InboundEvent {
	switch {
	case update.ChannelPost != nil:
		return []relay.InboundEvent{messageEvent(relay.EventNew, update.ChannelPost)}
	case update.EditedChannelPost != nil:
		return []relay.InboundEvent{messageEvent(relay.EventEdit, update.EditedChannelPost)}
	case update.Message != nil:
		return []relay.InboundEvent{messageEvent(relay.EventNew, update.Message)}
	case update.EditedMessage != nil:
		return []relay.InboundEvent{messageEvent(relay.EventEdit, update.EditedMessage)}
	case update.DeletedBusinessMessages != nil:
		deleted := update.DeletedBusinessMessages
		events := make([]relay.InboundEvent, 0, len(deleted.MessageIDs))
		for _, id := range deleted.MessageIDs {
			events = append(events, relay.InboundEvent{
				Type:            relay.EventDelete,
				SourceChannelID: deleted.Chat.ID,
				SourceMessageID: int64(id),
			})
		}
		return events
	default:
		return nil
	}
}

func messageEvent(typ relay.EventType, msg *telego.Message) relay.InboundEvent {
	evt := relay.InboundEvent{
		Type:            typ,
		SourceChannelID: msg.Chat.ID,
		SourceMessageID: int64(msg.MessageID),
		Timestamp:       time.Unix(msg.Date, 0),
		Sender:          senderName(msg),
		Forwarded:       msg.ForwardOrigin != nil,
		Content:         contentFromMessage(msg),
	}
	if msg.ReplyToMessage != nil {
		evt.ReplyTo = int64(msg.ReplyToMessage.MessageID)
	}
	return evt
}

func senderName(msg *telego.Message) string {
	if msg.AuthorSignature != "" {
		return msg.AuthorSignature
	}
	if msg.From != nil {
		return msg.From.FirstName
	}
	return ""
}

// contentFromMessage extracts text and media references. For media
// messages the caption takes the place of text, so downstream filter
// and transform rules see a single text field either way.
func contentFromMessage(msg *telego.Message) relay.Content {
	content := relay.Content{Text: msg.Text}
	if content.Text == "" {
		content.Text = msg.Caption
	}

	if len(msg.Photo) > 0 {
		// Telegram sends every thumbnail size; the last entry is the
		// original resolution.
		largest := msg.Photo[len(msg.Photo)-1]
		content.Media = append(content.Media, relay.MediaRef{
			Kind:   relay.MediaPhoto,
			FileID: largest.FileID,
		})
	}
	if msg.Document != nil {
		content.Media = append(content.Media, relay.MediaRef{
			Kind:     relay.MediaDocument,
			FileID:   msg.Document.FileID,
			FileName: msg.Document.FileName,
		})
	}
	if msg.Video != nil {
		content.Media = append(content.Media, relay.MediaRef{
			Kind:     relay.MediaVideo,
			FileID:   msg.Video.FileID,
			FileName: msg.Video.FileName,
		})
	}
	if msg.Audio != nil {
		content.Media = append(content.Media, relay.MediaRef{
			Kind:     relay.MediaAudio,
			FileID:   msg.Audio.FileID,
			FileName: msg.Audio.FileName,
		})
	}
	if msg.Voice != nil {
		content.Media = append(content.Media, relay.MediaRef{
			Kind:   relay.MediaVoice,
			FileID: msg.Voice.FileID,
		})
	}
	if msg.Animation != nil {
		content.Media = append(content.Media, relay.MediaRef{
			Kind:     relay.MediaAnimation,
			FileID:   msg.Animation.FileID,
			FileName: msg.Animation.FileName,
		})
	}
	return content
}

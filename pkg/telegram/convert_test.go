// Copyright 2024-2026 Aiku AI

package telegram

import (
	"testing"

	"github.com/mymmrac/telego"

	"github.com/aiku/telegram-relay/pkg/relay"
)

func channelPost(id int, text string) *telego.Message {
	return &telego.Message{
		MessageID: id,
		Date:      1700000000,
		Chat:      telego.Chat{ID: -1001234},
		Text:      text,
	}
}

func TestEventsFromUpdate_ChannelPost(t *testing.T) {
	t.Parallel()
	events := eventsFromUpdate(telego.Update{ChannelPost: channelPost(7, "hello")})
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	evt := events[0]
	if evt.Type != relay.EventNew {
		t.Errorf("type: got %s, want new", evt.Type)
	}
	if evt.SourceChannelID != -1001234 || evt.SourceMessageID != 7 {
		t.Errorf("identity: got (%d, %d)", evt.SourceChannelID, evt.SourceMessageID)
	}
	if evt.Content.Text != "hello" {
		t.Errorf("text: got %q", evt.Content.Text)
	}
	if evt.Timestamp.Unix() != 1700000000 {
		t.Errorf("timestamp: got %d", evt.Timestamp.Unix())
	}
}

func TestEventsFromUpdate_EditedChannelPost(t *testing.T) {
	t.Parallel()
	events := eventsFromUpdate(telego.Update{EditedChannelPost: channelPost(7, "edited")})
	if len(events) != 1 || events[0].Type != relay.EventEdit {
		t.Fatalf("expected one edit event, got %+v", events)
	}
}

func TestEventsFromUpdate_Forwarded(t *testing.T) {
	t.Parallel()
	msg := channelPost(7, "fwd")
	msg.ForwardOrigin = &telego.MessageOriginChannel{Type: "channel", Chat: telego.Chat{ID: -42}}
	events := eventsFromUpdate(telego.Update{ChannelPost: msg})
	if !events[0].Forwarded {
		t.Error("forward origin should mark the event as forwarded")
	}
}

func TestEventsFromUpdate_PhotoCaption(t *testing.T) {
	t.Parallel()
	msg := channelPost(7, "")
	msg.Caption = "the caption"
	msg.Photo = []telego.PhotoSize{
		{FileID: "small", Width: 90},
		{FileID: "large", Width: 1280},
	}
	events := eventsFromUpdate(telego.Update{ChannelPost: msg})
	content := events[0].Content

	if content.Text != "the caption" {
		t.Errorf("caption should become text, got %q", content.Text)
	}
	if len(content.Media) != 1 {
		t.Fatalf("expected 1 media ref, got %d", len(content.Media))
	}
	if content.Media[0].Kind != relay.MediaPhoto || content.Media[0].FileID != "large" {
		t.Errorf("expected largest photo size, got %+v", content.Media[0])
	}
	if content.Kind() != relay.ContentMixed {
		t.Errorf("kind: got %s, want mixed", content.Kind())
	}
}

func TestEventsFromUpdate_Document(t *testing.T) {
	t.Parallel()
	msg := channelPost(7, "")
	msg.Document = &telego.Document{FileID: "doc1", FileName: "report.pdf"}
	events := eventsFromUpdate(telego.Update{ChannelPost: msg})
	media := events[0].Content.Media

	if len(media) != 1 {
		t.Fatalf("expected 1 media ref, got %d", len(media))
	}
	if media[0].Kind != relay.MediaDocument || media[0].FileName != "report.pdf" {
		t.Errorf("got %+v", media[0])
	}
}

func TestEventsFromUpdate_Reply(t *testing.T) {
	t.Parallel()
	msg := channelPost(7, "reply")
	msg.ReplyToMessage = channelPost(3, "parent")
	events := eventsFromUpdate(telego.Update{ChannelPost: msg})
	if events[0].ReplyTo != 3 {
		t.Errorf("reply to: got %d, want 3", events[0].ReplyTo)
	}
}

func TestEventsFromUpdate_DeletedMessages(t *testing.T) {
	t.Parallel()
	events := eventsFromUpdate(telego.Update{
		DeletedBusinessMessages: &telego.BusinessMessagesDeleted{
			Chat:       telego.Chat{ID: -1001234},
			MessageIDs: []int{4, 5, 6},
		},
	})
	if len(events) != 3 {
		t.Fatalf("expected 3 delete events, got %d", len(events))
	}
	for i, evt := range events {
		if evt.Type != relay.EventDelete {
			t.Errorf("event %d type: got %s, want delete", i, evt.Type)
		}
		if evt.SourceChannelID != -1001234 {
			t.Errorf("event %d channel: got %d", i, evt.SourceChannelID)
		}
	}
	if events[0].SourceMessageID != 4 || events[2].SourceMessageID != 6 {
		t.Errorf("message IDs: %d..%d", events[0].SourceMessageID, events[2].SourceMessageID)
	}
}

func TestEventsFromUpdate_UnhandledUpdate(t *testing.T) {
	t.Parallel()
	if events := eventsFromUpdate(telego.Update{}); len(events) != 0 {
		t.Errorf("empty update should yield no events, got %+v", events)
	}
}

func TestSenderName(t *testing.T) {
	t.Parallel()
	msg := channelPost(7, "x")
	msg.AuthorSignature = "Editor"
	msg.From = &telego.User{FirstName: "Bot"}
	if got := senderName(msg); got != "Editor" {
		t.Errorf("author signature should win, got %q", got)
	}

	msg.AuthorSignature = ""
	if got := senderName(msg); got != "Bot" {
		t.Errorf("got %q, want Bot", got)
	}

	msg.From = nil
	if got := senderName(msg); got != "" {
		t.Errorf("got %q, want empty", got)
	}
}

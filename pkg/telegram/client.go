// Copyright 2024-2026 Aiku AI

// Package telegram adapts the Telegram Bot API (via telego) to the relay
// engine's Client and EventSource contracts.
//
// Media is never downloaded: attachments are re-sent by file ID with the
// transformed text as caption. Channel post deletions are not delivered
// by the Bot API; the only delete events this adapter can observe are
// business-account message deletions. The engine's delete path is
// platform-independent either way.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mymmrac/telego"
	"github.com/mymmrac/telego/telegoapi"
	"github.com/rs/zerolog"

	"github.com/aiku/telegram-relay/pkg/relay"
)

// Client is an authenticated Bot API session. It implements both
// relay.Client (send/edit/delete) and relay.EventSource (long-polling
// update stream).
type Client struct {
	bot         *telego.Bot
	log         zerolog.Logger
	pollTimeout int
}

var (
	_ relay.Client      = (*Client)(nil)
	_ relay.EventSource = (*Client)(nil)
)

// New creates a client from a bot token. The token is verified on first
// use, not here.
func New(token string, pollTimeout int, log zerolog.Logger) (*Client, error) {
	bot, err := telego.NewBot(token, telego.WithDiscardLogger())
	if err != nil {
		return nil, fmt.Errorf("failed to create bot client: %w", err)
	}
	if pollTimeout < 1 {
		pollTimeout = 30
	}
	return &Client{
		bot:         bot,
		log:         log.With().Str("component", "telegram").Logger(),
		pollTimeout: pollTimeout,
	}, nil
}

// Open starts long polling and returns the converted event stream. The
// channel closes when ctx is cancelled.
func (c *Client) Open(ctx context.Context) (<-chan relay.InboundEvent, error) {
	updates, err := c.bot.UpdatesViaLongPolling(ctx, &telego.GetUpdatesParams{
		Timeout: c.pollTimeout,
		AllowedUpdates: []string{
			"message",
			"edited_message",
			"channel_post",
			"edited_channel_post",
			"deleted_business_messages",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start long polling: %w", err)
	}

	events := make(chan relay.InboundEvent)
	go func() {
		defer close(events)
		for update := range updates {
			for _, evt := range eventsFromUpdate(update) {
				c.log.Debug().
					Str("type", evt.Type.String()).
					Int64("source_channel", evt.SourceChannelID).
					Int64("source_message", evt.SourceMessageID).
					Msg("Received update")
				select {
				case events <- evt:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	c.log.Info().Int("poll_timeout", c.pollTimeout).Msg("Update stream open")
	return events, nil
}

// SendMessage publishes content to a channel and returns the new message
// ID. Messages with media send the first attachment with the text as
// caption, which matches how channel posts carry captions.
func (c *Client) SendMessage(ctx context.Context, channelID int64, content relay.Content) (int64, error) {
	chat := telego.ChatID{ID: channelID}

	if len(content.Media) == 0 {
		msg, err := c.bot.SendMessage(ctx, &telego.SendMessageParams{
			ChatID: chat,
			Text:   content.Text,
		})
		if err != nil {
			return 0, c.wrapError(err)
		}
		return int64(msg.MessageID), nil
	}

	msg, err := c.sendMedia(ctx, chat, content.Media[0], content.Text)
	if err != nil {
		return 0, c.wrapError(err)
	}
	return int64(msg.MessageID), nil
}

func (c *Client) sendMedia(ctx context.Context, chat telego.ChatID, ref relay.MediaRef, caption string) (*telego.Message, error) {
	file := telego.InputFile{FileID: ref.FileID}
	switch ref.Kind {
	case relay.MediaPhoto:
		return c.bot.SendPhoto(ctx, &telego.SendPhotoParams{ChatID: chat, Photo: file, Caption: caption})
	case relay.MediaVideo:
		return c.bot.SendVideo(ctx, &telego.SendVideoParams{ChatID: chat, Video: file, Caption: caption})
	case relay.MediaAudio:
		return c.bot.SendAudio(ctx, &telego.SendAudioParams{ChatID: chat, Audio: file, Caption: caption})
	case relay.MediaVoice:
		return c.bot.SendVoice(ctx, &telego.SendVoiceParams{ChatID: chat, Voice: file, Caption: caption})
	case relay.MediaAnimation:
		return c.bot.SendAnimation(ctx, &telego.SendAnimationParams{ChatID: chat, Animation: file, Caption: caption})
	default:
		return c.bot.SendDocument(ctx, &telego.SendDocumentParams{ChatID: chat, Document: file, Caption: caption})
	}
}

// EditMessage propagates new content to an existing destination message.
// Media messages carry their text as caption, so those edit the caption.
func (c *Client) EditMessage(ctx context.Context, channelID, messageID int64, content relay.Content) error {
	chat := telego.ChatID{ID: channelID}
	var err error
	if len(content.Media) > 0 {
		_, err = c.bot.EditMessageCaption(ctx, &telego.EditMessageCaptionParams{
			ChatID:    chat,
			MessageID: int(messageID),
			Caption:   content.Text,
		})
	} else {
		_, err = c.bot.EditMessageText(ctx, &telego.EditMessageTextParams{
			ChatID:    chat,
			MessageID: int(messageID),
			Text:      content.Text,
		})
	}
	if err != nil {
		return c.wrapError(err)
	}
	return nil
}

// DeleteMessage removes a destination message.
func (c *Client) DeleteMessage(ctx context.Context, channelID, messageID int64) error {
	err := c.bot.DeleteMessage(ctx, &telego.DeleteMessageParams{
		ChatID:    telego.ChatID{ID: channelID},
		MessageID: int(messageID),
	})
	if err != nil {
		return c.wrapError(err)
	}
	return nil
}

// wrapError maps a Bot API failure onto the relay error taxonomy:
// 429 with retry_after becomes a flood wait, other 4xx are permanent
// rejections, everything else (network, 5xx) is transient.
func (c *Client) wrapError(err error) error {
	var apiErr *telegoapi.Error
	if !errors.As(err, &apiErr) {
		return relay.Transient(err)
	}
	switch {
	case apiErr.ErrorCode == 429:
		var retryAfter time.Duration
		if apiErr.Parameters != nil {
			retryAfter = time.Duration(apiErr.Parameters.RetryAfter) * time.Second
		}
		return relay.RateLimited(err, retryAfter)
	case apiErr.ErrorCode >= 400 && apiErr.ErrorCode < 500:
		return relay.Permanent(err)
	default:
		return relay.Transient(err)
	}
}

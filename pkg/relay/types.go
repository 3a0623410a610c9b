// Copyright 2024-2026 Aiku AI

package relay

import (
	"context"
	"time"
)

// EventType identifies what happened to a source message.
type EventType int

const (
	EventNew EventType = iota
	EventEdit
	EventDelete
)

func (t EventType) String() string {
	switch t {
	case EventNew:
		return "new"
	case EventEdit:
		return "edit"
	case EventDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// MediaKind classifies a media attachment.
type MediaKind string

const (
	MediaPhoto     MediaKind = "photo"
	MediaVideo     MediaKind = "video"
	MediaDocument  MediaKind = "document"
	MediaAudio     MediaKind = "audio"
	MediaVoice     MediaKind = "voice"
	MediaAnimation MediaKind = "animation"
)

// ParseMediaKind maps a config string to a MediaKind. The second return
// value is false for unknown kinds.
func ParseMediaKind(s string) (MediaKind, bool) {
	switch MediaKind(s) {
	case MediaPhoto, MediaVideo, MediaDocument, MediaAudio, MediaVoice, MediaAnimation:
		return MediaKind(s), true
	default:
		return "", false
	}
}

// MediaRef points at a remote media object by its platform file ID. The
// relay never downloads media; refs are passed through to the destination.
type MediaRef struct {
	Kind     MediaKind
	FileID   string
	FileName string
}

// ContentKind is the discriminant for Content.
type ContentKind int

const (
	ContentEmpty ContentKind = iota
	ContentText
	ContentMedia
	ContentMixed
)

func (k ContentKind) String() string {
	switch k {
	case ContentEmpty:
		return "empty"
	case ContentText:
		return "text"
	case ContentMedia:
		return "media"
	case ContentMixed:
		return "mixed"
	default:
		return "unknown"
	}
}

// Content is a message body: text, media references, or both.
type Content struct {
	Text  string
	Media []MediaRef
}

// Kind returns the content discriminant.
func (c Content) Kind() ContentKind {
	switch {
	case c.Text == "" && len(c.Media) == 0:
		return ContentEmpty
	case len(c.Media) == 0:
		return ContentText
	case c.Text == "":
		return ContentMedia
	default:
		return ContentMixed
	}
}

// InboundEvent is one observed change in a source channel.
type InboundEvent struct {
	Type            EventType
	SourceChannelID int64
	SourceMessageID int64
	Timestamp       time.Time
	Sender          string
	ReplyTo         int64
	Forwarded       bool
	Content         Content
}

// MappingStatus is the durable per-destination relay state. There is no
// durable pending state: an in-flight send that never completed leaves no
// row, so a restart safely retries it.
type MappingStatus string

const (
	StatusDelivered  MappingStatus = "delivered"
	StatusFailed     MappingStatus = "failed"
	StatusTombstoned MappingStatus = "tombstoned"
)

// Mapping links one source message to the message it produced at one
// destination. The (source channel, source message, destination channel)
// triple is unique.
type Mapping struct {
	SourceChannelID int64
	SourceMessageID int64
	DestChannelID   int64
	DestMessageID   int64
	Status          MappingStatus
	LastAttemptAt   time.Time
}

// Store is the durable identity bridge between source and destination
// messages. Put upserts on the triple and must never revive a tombstoned
// row. Implementations must serialize concurrent writers.
type Store interface {
	Get(ctx context.Context, sourceChannelID, sourceMessageID int64) ([]Mapping, error)
	Put(ctx context.Context, m Mapping) error
	Tombstone(ctx context.Context, sourceChannelID, sourceMessageID, destChannelID int64) error
	Close() error
}

// Client is the remote messaging platform as seen by the dispatcher.
// Errors should be classifiable via Classify; anything else is treated
// as transient.
type Client interface {
	SendMessage(ctx context.Context, channelID int64, content Content) (int64, error)
	EditMessage(ctx context.Context, channelID, messageID int64, content Content) error
	DeleteMessage(ctx context.Context, channelID, messageID int64) error
}

// EventSource provides the live ordered stream of source channel events.
// The returned channel is closed when the underlying stream ends.
type EventSource interface {
	Open(ctx context.Context) (<-chan InboundEvent, error)
}

// Destination is one fan-out target of a route with its effective rules.
// Overrides are resolved at compile time: the filter and transform here
// are final, the dispatcher never consults the route-level rules.
type Destination struct {
	ChannelID int64
	Filter    *FilterRules
	Transform *TransformRules
}

// Route maps one source channel to its destinations. Routes are immutable
// during a run and replaced wholesale on config reload.
type Route struct {
	Source       int64
	Destinations []Destination
}

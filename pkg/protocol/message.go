// Package protocol defines the channel-agnostic message envelope shared by
// every channel adapter, the router and the workflow engine. Adapters
// translate platform payloads into RequestMessage values on the way in and
// ResponseMessage values back into platform calls on the way out; nothing
// past the adapter boundary ever inspects a platform payload.
package protocol

import (
	"time"
)

// ContentType classifies the payload carried by a canonical message.
type ContentType string

const (
	ContentText     ContentType = "text"
	ContentVoice    ContentType = "voice"
	ContentMedia    ContentType = "media"
	ContentDocument ContentType = "document"
)

// DefaultErrorText is the canonical user-facing error reply.
const DefaultErrorText = "Sorry, I encountered an error processing your request. Please try again."

// RequestMessage is the canonical inbound message. It is produced once per
// webhook event by a channel adapter and treated as immutable afterwards.
type RequestMessage struct {
	UserID        string              `json:"user_id,omitempty"` // internal id, resolved after user lookup
	ChannelType   string              `json:"channel_type"`      // "telegram", "whatsapp", ...
	ChannelUserID string              `json:"channel_user_id"`
	ContentType   ContentType         `json:"content_type"`
	Content       string              `json:"content"`
	Metadata      map[string]any      `json:"metadata,omitempty"`
	Timestamp     time.Time           `json:"timestamp"`
	BinaryContent []byte              `json:"-"`
	SelectedReply *SelectedQuickReply `json:"selected_reply,omitempty"`
}

// ResponseMessage is the canonical outbound message. It mirrors the request
// shape so an adapter can always route it back without re-resolution.
type ResponseMessage struct {
	UserID        string             `json:"user_id,omitempty"`
	ChannelType   string             `json:"channel_type"`
	ChannelUserID string             `json:"channel_user_id"`
	ContentType   ContentType        `json:"content_type"`
	Content       string             `json:"content"`
	Metadata      map[string]any     `json:"metadata,omitempty"`
	Timestamp     time.Time          `json:"timestamp"`
	BinaryContent []byte             `json:"-"`
	ReplyOptions  []QuickReplyOption `json:"reply_options,omitempty"`
}

// ResponseOption configures a response built from a request.
type ResponseOption func(*ResponseMessage)

func WithContentType(ct ContentType) ResponseOption {
	return func(r *ResponseMessage) { r.ContentType = ct }
}

func WithMetadata(md map[string]any) ResponseOption {
	return func(r *ResponseMessage) { r.Metadata = md }
}

func WithBinaryContent(b []byte) ResponseOption {
	return func(r *ResponseMessage) { r.BinaryContent = b }
}

func WithReplyOptions(opts []QuickReplyOption) ResponseOption {
	return func(r *ResponseMessage) { r.ReplyOptions = opts }
}

func WithTimestamp(ts time.Time) ResponseOption {
	return func(r *ResponseMessage) { r.Timestamp = ts }
}

// CreateResponse builds a response with the identity fields (user id,
// channel type, channel user id) copied verbatim from the request, so the
// response is always routable back to the same user without re-resolution.
// Content type defaults to text and the timestamp to the current UTC time.
func (m *RequestMessage) CreateResponse(content string, opts ...ResponseOption) *ResponseMessage {
	r := &ResponseMessage{
		UserID:        m.UserID,
		ChannelType:   m.ChannelType,
		ChannelUserID: m.ChannelUserID,
		ContentType:   ContentText,
		Content:       content,
		Metadata:      map[string]any{},
		Timestamp:     time.Now().UTC(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.Metadata == nil {
		r.Metadata = map[string]any{}
	}
	return r
}

// CreateTextResponse builds a plain text response.
func (m *RequestMessage) CreateTextResponse(content string, opts ...ResponseOption) *ResponseMessage {
	return m.CreateResponse(content, append(opts, WithContentType(ContentText))...)
}

// CreateVoiceResponse builds a voice response carrying audio bytes; content
// holds the transcript or a textual description.
func (m *RequestMessage) CreateVoiceResponse(content string, audio []byte, opts ...ResponseOption) *ResponseMessage {
	return m.CreateResponse(content,
		append(opts, WithContentType(ContentVoice), WithBinaryContent(audio))...)
}

// CreateErrorResponse builds the canonical error reply. Pass an empty string
// to use DefaultErrorText.
func (m *RequestMessage) CreateErrorResponse(errorText string, opts ...ResponseOption) *ResponseMessage {
	if errorText == "" {
		errorText = DefaultErrorText
	}
	return m.CreateTextResponse(errorText, opts...)
}

// AddMetadata sets a single metadata key. Returns the message for chaining.
func (r *ResponseMessage) AddMetadata(key string, value any) *ResponseMessage {
	if r.Metadata == nil {
		r.Metadata = map[string]any{}
	}
	r.Metadata[key] = value
	return r
}

// UpdateMetadata merges the given entries into the metadata map.
func (r *ResponseMessage) UpdateMetadata(md map[string]any) *ResponseMessage {
	if r.Metadata == nil {
		r.Metadata = map[string]any{}
	}
	for k, v := range md {
		r.Metadata[k] = v
	}
	return r
}

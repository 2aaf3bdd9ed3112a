package skillswap

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// ============================================================================
// Inbound normalization
// ============================================================================

// NormalizeChat converts a raw chat record. The other party is read from
// other_participant, falling back to flat camelCase fields. Messages are
// normalized when the record carries them and are an empty slice otherwise.
func NormalizeChat(m map[string]any, selfID string) Chat {
	op, _ := m["other_participant"].(map[string]any)

	c := Chat{
		ID:          field(m, "id"),
		UnreadCount: intOr(m, "unread_count", intOr(m, "unreadCount", 0)),
		Messages:    []Message{},
	}
	if c.UnreadCount < 0 {
		c.UnreadCount = 0
	}

	c.ParticipantID = field(op, "id")
	if c.ParticipantID == "" {
		c.ParticipantID = field(m, "participant_id", "participantId")
	}
	c.ParticipantName = userDisplayName(op)
	if c.ParticipantName == "" {
		c.ParticipantName = field(m, "participant_name", "participantName")
	}
	c.ParticipantAvatarSeed = field(op, "avatar_seed", "username", "id")
	if c.ParticipantAvatarSeed == "" {
		c.ParticipantAvatarSeed = field(m, "participant_avatar_seed", "participantAvatarSeed")
	}
	if c.ParticipantAvatarSeed == "" {
		c.ParticipantAvatarSeed = c.ParticipantName
	}

	switch last := m["last_message"].(type) {
	case map[string]any:
		c.LastMessage = field(last, "text")
		c.Timestamp = timeOf(last, "created_at", "timestamp")
	case string:
		c.LastMessage = last
	}
	if c.LastMessage == "" {
		c.LastMessage = field(m, "lastMessage")
	}
	if c.Timestamp.IsZero() {
		c.Timestamp = timeOf(m, "updated_at", "timestamp", "created_at")
	}

	if items, ok := m["messages"].([]any); ok {
		c.Messages = normalizeMessageList(listOf(items), selfID)
	}
	return c
}

// NormalizeChats decodes a chat list response. List endpoints never carry
// messages, so every chat comes back with an empty message list.
func NormalizeChats(data []byte, selfID string) ([]Chat, error) {
	records, err := decodeList(data)
	if err != nil {
		return nil, &APIError{Kind: KindDecode, Code: "DECODE_ERROR", Message: "failed to unmarshal chats", Err: err}
	}
	chats := make([]Chat, 0, len(records))
	for _, r := range records {
		c := NormalizeChat(r, selfID)
		c.Messages = []Message{}
		chats = append(chats, c)
	}
	return chats, nil
}

// NormalizeMessage converts a raw message record. A sender matching selfID
// becomes SelfSender; the original id is not kept.
func NormalizeMessage(m map[string]any, selfID string) Message {
	msg := Message{
		ID:        field(m, "id"),
		Text:      field(m, "text"),
		Image:     field(m, "image_url", "image"),
		Timestamp: timeOf(m, "created_at", "timestamp"),
	}

	var sender string
	switch s := m["sender"].(type) {
	case map[string]any:
		sender = field(s, "id")
	default:
		sender = stringOf(s)
	}
	if sender == "" {
		sender = field(m, "sender_id", "senderId")
	}
	if selfID != "" && sender == selfID {
		sender = SelfSender
	}
	msg.SenderID = sender
	return msg
}

// NormalizeMessages decodes a message list response: a bare array or
// {messages:[...]} (also {results}/{data}).
func NormalizeMessages(data []byte, selfID string) ([]Message, error) {
	records, err := decodeList(data)
	if err != nil {
		return nil, &APIError{Kind: KindDecode, Code: "DECODE_ERROR", Message: "failed to unmarshal messages", Err: err}
	}
	return normalizeMessageList(records, selfID), nil
}

func normalizeMessageList(records []map[string]any, selfID string) []Message {
	msgs := make([]Message, 0, len(records))
	for _, r := range records {
		msgs = append(msgs, NormalizeMessage(r, selfID))
	}
	return msgs
}

// ReplaceMessages returns a copy of chat holding msgs as its message list.
// Fetched pages always replace; there is no append or dedupe.
func ReplaceMessages(chat Chat, msgs []Message) Chat {
	out := chat
	out.Messages = make([]Message, len(msgs))
	copy(out.Messages, msgs)
	return out
}

// ============================================================================
// ChatsClient
// ============================================================================

// ChatsClient handles chat endpoints. selfID is the session user's id and is
// used only to rewrite message senders.
type ChatsClient struct{ client *Client }

func (c *ChatsClient) List(ctx context.Context, selfID string) ([]Chat, error) {
	data, err := c.client.doRequest(ctx, http.MethodGet, "/chats/", nil, nil)
	if err != nil {
		return nil, err
	}
	return NormalizeChats(data, selfID)
}

func (c *ChatsClient) Get(ctx context.Context, id, selfID string) (*Chat, error) {
	data, err := c.client.doRequest(ctx, http.MethodGet, chatPath(id), nil, nil)
	if err != nil {
		return nil, err
	}
	m, err := decodeObject(data)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, &APIError{Kind: KindDecode, Code: "DECODE_ERROR", Message: "chat response was empty"}
	}
	chat := NormalizeChat(m, selfID)
	return &chat, nil
}

// Create opens a chat with the given participant and returns its id.
func (c *ChatsClient) Create(ctx context.Context, participantID string) (string, error) {
	data, err := c.client.doRequest(ctx, http.MethodPost, "/chats/", map[string]any{
		"participant_ids": []any{participantIDValue(participantID)},
	}, nil)
	if err != nil {
		return "", err
	}
	m, err := decodeObject(data)
	if err != nil {
		return "", err
	}
	if err := checkSuccess(m); err != nil {
		return "", err
	}
	return field(m, "id"), nil
}

func (c *ChatsClient) Delete(ctx context.Context, id string) error {
	_, err := c.client.doRequest(ctx, http.MethodDelete, chatPath(id), nil, nil)
	return err
}

// Messages fetches the full message history of a chat.
func (c *ChatsClient) Messages(ctx context.Context, id, selfID string) ([]Message, error) {
	data, err := c.client.doRequest(ctx, http.MethodGet, chatPath(id)+"messages/", nil, nil)
	if err != nil {
		return nil, err
	}
	return NormalizeMessages(data, selfID)
}

func chatPath(id string) string {
	return "/chats/" + url.PathEscape(id) + "/"
}

// participantIDValue sends numeric ids as JSON numbers, which is what the
// backend compares against.
func participantIDValue(id string) any {
	id = strings.TrimSpace(id)
	if n, err := strconv.Atoi(id); err == nil && strconv.Itoa(n) == id {
		return n
	}
	return id
}

// ============================================================================
// MessagesClient
// ============================================================================

// MessagesClient posts chat messages.
type MessagesClient struct{ client *Client }

// Send posts text and an optional image as one message. Without an image the
// body is JSON; with one it is multipart.
func (m *MessagesClient) Send(ctx context.Context, chatID, text string, image *Attachment) (*Message, error) {
	if strings.TrimSpace(text) == "" && image == nil {
		return nil, invalidInput("message text or image is required", nil)
	}
	if strings.TrimSpace(chatID) == "" {
		return nil, invalidInput("chat id is required", nil)
	}

	var (
		data []byte
		err  error
	)
	if image == nil {
		data, err = m.client.doRequest(ctx, http.MethodPost, "/messages/", map[string]string{
			"chat": chatID,
			"text": text,
		}, nil)
	} else {
		img := *image
		if img.FileName == "" {
			img.FileName = "photo.jpg"
		}
		data, err = m.client.doMultipart(ctx, "/messages/", map[string]string{
			"chat": chatID,
			"text": text,
		}, &img)
	}
	if err != nil {
		return nil, err
	}

	rec, err := decodeObject(data)
	if err != nil || rec == nil {
		return nil, err
	}
	msg := NormalizeMessage(rec, "")
	return &msg, nil
}

package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"matrimony-chat/metrics"
	"matrimony-chat/models"
)

// CursorLayout is the format of the `before` pagination cursor.
const CursorLayout = "2006-01-02T15:04:05.000Z07:00"

var ErrEmptyResponse = errors.New("response carried no data")

// APIError is a non-success answer from the platform API.
type APIError struct {
	Operation  string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: status %d", e.Operation, e.StatusCode)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Operation, e.StatusCode, e.Message)
}

// NotFound reports whether the server answered 404.
func (e *APIError) NotFound() bool {
	return e.StatusCode == http.StatusNotFound
}

type ConversationAPI interface {
	ListConversations(ctx context.Context, userID string, page, limit int) ([]models.Conversation, *models.Pagination, error)
	GetOrCreateConversation(ctx context.Context, userID1, userID2 string) (*models.Conversation, error)
}

type MessageAPI interface {
	ListMessages(ctx context.Context, conversationID string, q MessageQuery) ([]models.Message, *models.Pagination, error)
	SendMessage(ctx context.Context, req SendMessageRequest) (*models.Message, error)
	MarkRead(ctx context.Context, conversationID, userID string) error
	DeleteMessage(ctx context.Context, messageID, userID string) error
}

type UnreadAPI interface {
	UnreadTotal(ctx context.Context, userID string) (int, error)
}

type NotificationAPI interface {
	NotificationStats(ctx context.Context, userID string) (int, error)
	ListNotifications(ctx context.Context, userID string, q NotificationQuery) ([]models.Notification, *models.Pagination, error)
	MarkNotificationRead(ctx context.Context, notificationID string) error
	MarkAllNotificationsRead(ctx context.Context, userID string) error
	DeleteNotification(ctx context.Context, notificationID string) error
}

// ChatAPI is everything the client needs from the platform REST API.
type ChatAPI interface {
	ConversationAPI
	MessageAPI
	UnreadAPI
	NotificationAPI
}

// MessageQuery selects a page of history. A non-zero Before switches from
// page numbering to the createdAt cursor.
type MessageQuery struct {
	Page   int
	Limit  int
	Before time.Time
}

type NotificationQuery struct {
	Status models.NotificationStatus
	Page   int
	Limit  int
}

type SendMessageRequest struct {
	SenderID       string             `json:"senderId"`
	ReceiverID     string             `json:"receiverId"`
	ConversationID string             `json:"conversationId,omitempty"`
	Content        string             `json:"content"`
	Type           models.MessageType `json:"type,omitempty"`
	ReplyTo        string             `json:"replyTo,omitempty"`
	MediaURL       string             `json:"mediaUrl,omitempty"`
	FileName       string             `json:"fileName,omitempty"`
	FileSize       int64              `json:"fileSize,omitempty"`
	MimeType       string             `json:"mimeType,omitempty"`
}

// ChatClient talks to the platform REST API. Every response goes through
// normalize, so callers only ever see typed payloads.
type ChatClient struct {
	baseURL    string
	httpClient *resty.Client
	log        zerolog.Logger
}

var _ ChatAPI = (*ChatClient)(nil)

func NewChatClient(baseURL string, timeout time.Duration, log zerolog.Logger) *ChatClient {
	baseURL = strings.TrimRight(baseURL, "/")
	client := resty.New().
		SetBaseURL(baseURL).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", "matrimony-chat/1.0")
	if timeout > 0 {
		client.SetTimeout(timeout)
	}
	return &ChatClient{
		baseURL:    baseURL,
		httpClient: client,
		log:        log.With().Str("component", "chat-api").Logger(),
	}
}

// envelope is the platform's response wrapper.
type envelope struct {
	Success    *bool              `json:"success"`
	Message    string             `json:"message"`
	Error      string             `json:"error"`
	Data       json.RawMessage    `json:"data"`
	Pagination *models.Pagination `json:"pagination"`
}

type payload struct {
	Data       json.RawMessage
	Pagination *models.Pagination
}

// normalize unwraps `{success, data, pagination}` and the nested
// `{data: {data, pagination}}` variant some endpoints return. A body with no
// envelope is taken as the payload itself.
func normalize(op string, body []byte) (*payload, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return &payload{}, nil
	}
	if body[0] != '{' {
		return &payload{Data: body}, nil
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%s: decode response: %w", op, err)
	}
	if env.Success != nil && !*env.Success {
		msg := env.Message
		if msg == "" {
			msg = env.Error
		}
		return nil, &APIError{Operation: op, StatusCode: http.StatusOK, Message: msg}
	}
	if env.Data == nil {
		if env.Success == nil {
			return &payload{Data: body}, nil
		}
		return &payload{Pagination: env.Pagination}, nil
	}

	out := &payload{Data: env.Data, Pagination: env.Pagination}
	if d := bytes.TrimSpace(env.Data); len(d) > 0 && d[0] == '{' {
		var inner envelope
		if err := json.Unmarshal(d, &inner); err == nil && inner.Data != nil {
			out.Data = inner.Data
			if out.Pagination == nil {
				out.Pagination = inner.Pagination
			}
		}
	}
	return out, nil
}

func (p *payload) decode(op string, v any) error {
	d := bytes.TrimSpace(p.Data)
	if len(d) == 0 || bytes.Equal(d, []byte("null")) {
		return fmt.Errorf("%s: %w", op, ErrEmptyResponse)
	}
	if err := json.Unmarshal(d, v); err != nil {
		return fmt.Errorf("%s: decode data: %w", op, err)
	}
	return nil
}

func (c *ChatClient) do(ctx context.Context, op, method, path string, query map[string]string, body any) (*payload, error) {
	start := time.Now()
	requestID := uuid.NewString()

	req := c.httpClient.R().
		SetContext(ctx).
		SetHeader("X-Request-ID", requestID)
	if len(query) > 0 {
		req.SetQueryParams(query)
	}
	if body != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(body)
	}

	resp, err := req.Execute(method, path)
	out, err := c.result(op, resp, err)
	metrics.ObserveREST(op, time.Since(start).Seconds(), err)

	logEvent := c.log.Debug()
	if err != nil {
		logEvent = c.log.Warn().Err(err)
	}
	logEvent.
		Str("operation", op).
		Str("request_id", requestID).
		Dur("elapsed", time.Since(start)).
		Msg("platform request")
	return out, err
}

func (c *ChatClient) result(op string, resp *resty.Response, err error) (*payload, error) {
	if err != nil {
		return nil, fmt.Errorf("%s request failed: %w", op, err)
	}
	if resp.IsError() {
		apiErr := &APIError{Operation: op, StatusCode: resp.StatusCode()}
		var env envelope
		if json.Unmarshal(resp.Body(), &env) == nil {
			apiErr.Message = env.Message
			if apiErr.Message == "" {
				apiErr.Message = env.Error
			}
		}
		if apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(resp.String())
		}
		return nil, apiErr
	}
	return normalize(op, resp.Body())
}

func (c *ChatClient) GetOrCreateConversation(ctx context.Context, userID1, userID2 string) (*models.Conversation, error) {
	const op = "get_or_create_conversation"
	p, err := c.do(ctx, op, http.MethodPost, "/chat/conversation", nil, map[string]string{
		"userId1": userID1,
		"userId2": userID2,
	})
	if err != nil {
		return nil, err
	}
	var conv models.Conversation
	if err := p.decode(op, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

func (c *ChatClient) SendMessage(ctx context.Context, req SendMessageRequest) (*models.Message, error) {
	const op = "send_message"
	if req.Type == "" {
		req.Type = models.MessageText
	}
	p, err := c.do(ctx, op, http.MethodPost, "/chat/message", nil, req)
	if err != nil {
		return nil, err
	}
	var msg models.Message
	if err := p.decode(op, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (c *ChatClient) ListConversations(ctx context.Context, userID string, page, limit int) ([]models.Conversation, *models.Pagination, error) {
	const op = "list_conversations"
	p, err := c.do(ctx, op, http.MethodGet, "/chat/conversations/user/"+userID, pageQuery(page, limit), nil)
	if err != nil {
		return nil, nil, err
	}
	var convs []models.Conversation
	if err := p.decode(op, &convs); err != nil {
		return nil, nil, err
	}
	return convs, p.Pagination, nil
}

func (c *ChatClient) ListMessages(ctx context.Context, conversationID string, q MessageQuery) ([]models.Message, *models.Pagination, error) {
	const op = "list_messages"
	query := pageQuery(q.Page, q.Limit)
	if !q.Before.IsZero() {
		delete(query, "page")
		query["before"] = q.Before.UTC().Format(CursorLayout)
	}
	p, err := c.do(ctx, op, http.MethodGet, "/chat/messages/"+conversationID, query, nil)
	if err != nil {
		return nil, nil, err
	}
	var msgs []models.Message
	if err := p.decode(op, &msgs); err != nil {
		return nil, nil, err
	}
	return msgs, p.Pagination, nil
}

func (c *ChatClient) MarkRead(ctx context.Context, conversationID, userID string) error {
	_, err := c.do(ctx, "mark_read", http.MethodPatch, "/chat/messages/"+conversationID+"/read", nil,
		map[string]string{"userId": userID})
	return err
}

func (c *ChatClient) DeleteMessage(ctx context.Context, messageID, userID string) error {
	_, err := c.do(ctx, "delete_message", http.MethodDelete, "/chat/message/"+messageID, nil,
		map[string]string{"userId": userID})
	return err
}

func (c *ChatClient) UnreadTotal(ctx context.Context, userID string) (int, error) {
	const op = "unread_total"
	p, err := c.do(ctx, op, http.MethodGet, "/chat/unread/"+userID, nil, nil)
	if err != nil {
		return 0, err
	}
	var out struct {
		TotalUnread int `json:"totalUnread"`
	}
	if err := p.decode(op, &out); err != nil {
		return 0, err
	}
	return out.TotalUnread, nil
}

func (c *ChatClient) NotificationStats(ctx context.Context, userID string) (int, error) {
	const op = "notification_stats"
	p, err := c.do(ctx, op, http.MethodGet, "/notifications/stats/"+userID, nil, nil)
	if err != nil {
		return 0, err
	}
	var out struct {
		Unread int `json:"unread"`
	}
	if err := p.decode(op, &out); err != nil {
		return 0, err
	}
	return out.Unread, nil
}

func (c *ChatClient) ListNotifications(ctx context.Context, userID string, q NotificationQuery) ([]models.Notification, *models.Pagination, error) {
	const op = "list_notifications"
	query := pageQuery(q.Page, q.Limit)
	if q.Status != "" {
		query["status"] = string(q.Status)
	}
	p, err := c.do(ctx, op, http.MethodGet, "/notifications/user/"+userID, query, nil)
	if err != nil {
		return nil, nil, err
	}
	var items []models.Notification
	if err := p.decode(op, &items); err != nil {
		return nil, nil, err
	}
	return items, p.Pagination, nil
}

func (c *ChatClient) MarkNotificationRead(ctx context.Context, notificationID string) error {
	_, err := c.do(ctx, "mark_notification_read", http.MethodPatch, "/notifications/"+notificationID+"/read", nil, struct{}{})
	return err
}

func (c *ChatClient) MarkAllNotificationsRead(ctx context.Context, userID string) error {
	_, err := c.do(ctx, "mark_all_notifications_read", http.MethodPatch, "/notifications/user/"+userID+"/read-all", nil, struct{}{})
	return err
}

func (c *ChatClient) DeleteNotification(ctx context.Context, notificationID string) error {
	_, err := c.do(ctx, "delete_notification", http.MethodDelete, "/notifications/"+notificationID, nil, nil)
	return err
}

func pageQuery(page, limit int) map[string]string {
	q := make(map[string]string, 2)
	if page > 0 {
		q["page"] = strconv.Itoa(page)
	}
	if limit > 0 {
		q["limit"] = strconv.Itoa(limit)
	}
	return q
}

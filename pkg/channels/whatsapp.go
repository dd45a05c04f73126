package channels

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/lunalabs/luna/pkg/bus"
	"github.com/lunalabs/luna/pkg/logger"
	"github.com/lunalabs/luna/pkg/protocol"
)

const (
	whatsappGraphURL = "https://graph.facebook.com/v19.0"

	// Cloud API limits: at most 3 reply buttons per interactive message,
	// button titles at most 20 characters.
	whatsappMaxButtons     = 3
	whatsappMaxButtonTitle = 20
)

// WhatsAppConfig carries the Cloud API credentials and webhook binding.
type WhatsAppConfig struct {
	AccessToken   string
	PhoneNumberID string
	VerifyToken   string
	ListenAddr    string
	WebhookPath   string
}

// WhatsAppChannel bridges the WhatsApp Cloud API. Inbound messages arrive on
// a webhook; outbound goes through the Graph API. Quick-reply options render
// as interactive reply buttons, truncated to the platform's 3-button cap.
type WhatsAppChannel struct {
	*BaseChannel
	cfg    WhatsAppConfig
	client *http.Client
	server *http.Server
}

func NewWhatsAppChannel(cfg WhatsAppConfig, b *bus.MessageBus, allowList []string) *WhatsAppChannel {
	if cfg.WebhookPath == "" {
		cfg.WebhookPath = "/webhook/whatsapp"
	}
	return &WhatsAppChannel{
		BaseChannel: NewBaseChannel("whatsapp", b, allowList),
		cfg:         cfg,
		client:      &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *WhatsAppChannel) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc(c.cfg.WebhookPath, c.handleWebhook)
	c.server = &http.Server{Addr: c.cfg.ListenAddr, Handler: mux}

	go func() {
		if err := c.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.ErrorCF("channels", "WhatsApp webhook server failed", map[string]any{
				"error": err.Error(),
			})
		}
	}()
	c.SetRunning(true)
	return nil
}

func (c *WhatsAppChannel) Stop(ctx context.Context) error {
	c.SetRunning(false)
	if c.server != nil {
		return c.server.Shutdown(ctx)
	}
	return nil
}

func (c *WhatsAppChannel) handleWebhook(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		c.handleVerification(w, r)
	case http.MethodPost:
		c.handleNotification(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// handleVerification answers Meta's subscription handshake: echo the
// challenge iff the verify token matches.
func (c *WhatsAppChannel) handleVerification(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("hub.mode") == "subscribe" && q.Get("hub.verify_token") == c.cfg.VerifyToken {
		io.WriteString(w, q.Get("hub.challenge"))
		return
	}
	w.WriteHeader(http.StatusForbidden)
}

func (c *WhatsAppChannel) handleNotification(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	// Always 200: Meta retries non-2xx responses and our dedupe already
	// absorbs redeliveries, so failing here only multiplies traffic.
	w.WriteHeader(http.StatusOK)

	for _, in := range ParseWhatsAppWebhook(body) {
		c.HandleMessage(r.Context(), in.From, in.MessageID, in.Content, protocol.ContentText, in.Selected, nil)
	}
}

// WhatsAppInbound is one normalized message extracted from a webhook payload.
type WhatsAppInbound struct {
	From      string
	MessageID string
	Content   string
	Selected  *protocol.SelectedQuickReply
}

type whatsappWebhookPayload struct {
	Entry []struct {
		Changes []struct {
			Value struct {
				Messages []struct {
					From string `json:"from"`
					ID   string `json:"id"`
					Type string `json:"type"`
					Text struct {
						Body string `json:"body"`
					} `json:"text"`
					Interactive struct {
						Type        string `json:"type"`
						ButtonReply struct {
							ID    string `json:"id"`
							Title string `json:"title"`
						} `json:"button_reply"`
					} `json:"interactive"`
				} `json:"messages"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

// ParseWhatsAppWebhook extracts text and button-reply messages from a Cloud
// API notification. Statuses, media and unknown types are skipped.
func ParseWhatsAppWebhook(body []byte) []WhatsAppInbound {
	var payload whatsappWebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		logger.WarnCF("channels", "Unparseable WhatsApp webhook", map[string]any{
			"error": err.Error(),
		})
		return nil
	}

	var out []WhatsAppInbound
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			for _, msg := range change.Value.Messages {
				in := WhatsAppInbound{From: msg.From, MessageID: msg.ID}
				switch msg.Type {
				case "text":
					in.Content = msg.Text.Body
				case "interactive":
					if msg.Interactive.Type != "button_reply" {
						continue
					}
					in.Selected = &protocol.SelectedQuickReply{
						ID:   msg.Interactive.ButtonReply.ID,
						Text: msg.Interactive.ButtonReply.Title,
					}
				default:
					continue
				}
				out = append(out, in)
			}
		}
	}
	return out
}

func (c *WhatsAppChannel) Send(ctx context.Context, msg *protocol.ResponseMessage) error {
	if msg.ContentType == protocol.ContentDocument && len(msg.BinaryContent) > 0 {
		return c.sendDocument(ctx, msg)
	}
	payload := BuildWhatsAppPayload(msg)
	return c.post(ctx, "/messages", payload)
}

// BuildWhatsAppPayload renders a response as a Cloud API message body: an
// interactive button message when reply options are present, plain text
// otherwise. Options past the platform cap are dropped.
func BuildWhatsAppPayload(msg *protocol.ResponseMessage) map[string]any {
	to := msg.ChannelUserID
	if len(msg.ReplyOptions) == 0 {
		return map[string]any{
			"messaging_product": "whatsapp",
			"to":                to,
			"type":              "text",
			"text":              map[string]any{"body": msg.Content},
		}
	}

	options := msg.ReplyOptions
	if len(options) > whatsappMaxButtons {
		logger.WarnCF("channels", "Reply options over WhatsApp button cap", map[string]any{
			"count": len(options),
		})
		options = options[:whatsappMaxButtons]
	}
	buttons := make([]map[string]any, 0, len(options))
	for _, opt := range options {
		title := opt.Text
		if r := []rune(title); len(r) > whatsappMaxButtonTitle {
			title = string(r[:whatsappMaxButtonTitle])
		}
		buttons = append(buttons, map[string]any{
			"type":  "reply",
			"reply": map[string]any{"id": opt.ID, "title": title},
		})
	}
	return map[string]any{
		"messaging_product": "whatsapp",
		"to":                to,
		"type":              "interactive",
		"interactive": map[string]any{
			"type":   "button",
			"body":   map[string]any{"text": msg.Content},
			"action": map[string]any{"buttons": buttons},
		},
	}
}

// sendDocument uploads the bytes to the media endpoint, then sends a
// document message referencing the media id.
func (c *WhatsAppChannel) sendDocument(ctx context.Context, msg *protocol.ResponseMessage) error {
	name, _ := msg.Metadata["document_name"].(string)
	if name == "" {
		name = "kundli.pdf"
	}
	mediaID, err := c.uploadMedia(ctx, name, msg.BinaryContent)
	if err != nil {
		return err
	}
	return c.post(ctx, "/messages", map[string]any{
		"messaging_product": "whatsapp",
		"to":                msg.ChannelUserID,
		"type":              "document",
		"document": map[string]any{
			"id":       mediaID,
			"caption":  msg.Content,
			"filename": name,
		},
	})
}

func (c *WhatsAppChannel) uploadMedia(ctx context.Context, name string, data []byte) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	mw.WriteField("messaging_product", "whatsapp")
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		return "", err
	}
	part.Write(data)
	if err := mw.Close(); err != nil {
		return "", err
	}

	url := whatsappGraphURL + "/" + c.cfg.PhoneNumberID + "/media"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.AccessToken)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("whatsapp media upload: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("whatsapp media upload: status %d: %s", resp.StatusCode, body)
	}

	var result struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("whatsapp media upload: %w", err)
	}
	return result.ID, nil
}

func (c *WhatsAppChannel) post(ctx context.Context, path string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	url := whatsappGraphURL + "/" + c.cfg.PhoneNumberID + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.AccessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("whatsapp send: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("whatsapp send: status %d: %s", resp.StatusCode, respBody)
	}
	return nil
}

package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"whatsapp-crm/internal/config"
	"whatsapp-crm/internal/models"
	"whatsapp-crm/internal/telemetry"
)

// ErrNoCredentials is returned when a business number has no usable access token.
var ErrNoCredentials = errors.New("whatsapp: missing credentials")

// Credentials authorize sends from one business number.
type Credentials struct {
	AccessToken   string
	PhoneNumberID string
}

func (c Credentials) Valid() bool {
	return c.AccessToken != "" && c.PhoneNumberID != ""
}

// APIError is a non-2xx answer from the Graph API.
type APIError struct {
	Status  int
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("graph api error: status %d code %d: %s", e.Status, e.Code, e.Message)
}

// newAPIError decodes the Graph error envelope, falling back to the raw body.
func newAPIError(status int, body []byte) *APIError {
	var envelope struct {
		Error struct {
			Message string `json:"message"`
			Code    int    `json:"code"`
		} `json:"error"`
	}
	apiErr := &APIError{Status: status, Message: string(body)}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
	}
	return apiErr
}

type Client struct {
	baseURL string
	version string
	timeout time.Duration
	http    *http.Client
}

func NewClient(cfg *config.Config) *Client {
	timeout := cfg.ProviderTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.GraphBaseURL, "/"),
		version: cfg.GraphAPIVersion,
		timeout: timeout,
		http:    &http.Client{},
	}
}

// --- Message Structures ---

type GenericMessage struct {
	MessagingProduct string          `json:"messaging_product"`
	RecipientType    string          `json:"recipient_type,omitempty"`
	To               string          `json:"to"`
	Type             string          `json:"type"`
	Context          *ContextObj     `json:"context,omitempty"`
	Text             *TextObj        `json:"text,omitempty"`
	Interactive      *InteractiveObj `json:"interactive,omitempty"`
}

// ContextObj quotes an earlier message.
type ContextObj struct {
	MessageID string `json:"message_id"`
}

type TextObj struct {
	Body       string `json:"body"`
	PreviewUrl bool   `json:"preview_url,omitempty"`
}

type InteractiveObj struct {
	Type   string    `json:"type"`
	Body   BodyObj   `json:"body"`
	Action ActionObj `json:"action"`
}

type BodyObj struct {
	Text string `json:"text"`
}

type ActionObj struct {
	Button   string       `json:"button,omitempty"`
	Buttons  []ButtonObj  `json:"buttons,omitempty"`
	Sections []SectionObj `json:"sections,omitempty"`
}

type ButtonObj struct {
	Type  string   `json:"type"`
	Reply ReplyObj `json:"reply"`
}

type ReplyObj struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

type SectionObj struct {
	Title string   `json:"title,omitempty"`
	Rows  []RowObj `json:"rows"`
}

type RowObj struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

// --- Helper Functions ---

func (c *Client) url(path string) string {
	return fmt.Sprintf("%s/%s/%s", c.baseURL, c.version, path)
}

func (c *Client) sendRequest(ctx context.Context, method, url, token string, body interface{}) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var bodyReader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return respBody, newAPIError(resp.StatusCode, respBody)
	}
	return respBody, nil
}

// --- Messaging Methods ---

// SendRawMessage posts msg and returns the provider message id.
func (c *Client) SendRawMessage(ctx context.Context, creds Credentials, msg GenericMessage) (string, error) {
	if !creds.Valid() {
		return "", ErrNoCredentials
	}
	ctx, end := telemetry.StartSpan(ctx, "whatsapp.send_"+msg.Type)
	defer end()

	msg.MessagingProduct = "whatsapp"
	msg.RecipientType = "individual"
	resp, err := c.sendRequest(ctx, http.MethodPost, c.url(creds.PhoneNumberID+"/messages"), creds.AccessToken, msg)
	if err != nil {
		return "", err
	}

	var out sendResponse
	if err := json.Unmarshal(resp, &out); err != nil {
		return "", fmt.Errorf("decode send response: %w", err)
	}
	if len(out.Messages) == 0 || out.Messages[0].ID == "" {
		return "", fmt.Errorf("send response carried no message id")
	}
	return out.Messages[0].ID, nil
}

// SendText sends a plain text message, quoting replyTo when it is set.
func (c *Client) SendText(ctx context.Context, creds Credentials, to, body, replyTo string) (string, error) {
	msg := GenericMessage{
		To:   to,
		Type: "text",
		Text: &TextObj{Body: body},
	}
	if replyTo != "" {
		msg.Context = &ContextObj{MessageID: replyTo}
	}
	return c.SendRawMessage(ctx, creds, msg)
}

func (c *Client) SendButtons(ctx context.Context, creds Credentials, to, body string, buttons []models.InteractiveButton) (string, error) {
	action := ActionObj{}
	for _, b := range buttons {
		action.Buttons = append(action.Buttons, ButtonObj{
			Type:  "reply",
			Reply: ReplyObj{ID: b.ID, Title: b.Title},
		})
	}
	return c.SendRawMessage(ctx, creds, GenericMessage{
		To:   to,
		Type: "interactive",
		Interactive: &InteractiveObj{
			Type:   "button",
			Body:   BodyObj{Text: body},
			Action: action,
		},
	})
}

func (c *Client) SendList(ctx context.Context, creds Credentials, to, body, button string, sections []models.InteractiveSection) (string, error) {
	action := ActionObj{Button: button}
	for _, s := range sections {
		section := SectionObj{Title: s.Title}
		for _, r := range s.Rows {
			section.Rows = append(section.Rows, RowObj{ID: r.ID, Title: r.Title, Description: r.Description})
		}
		action.Sections = append(action.Sections, section)
	}
	return c.SendRawMessage(ctx, creds, GenericMessage{
		To:   to,
		Type: "interactive",
		Interactive: &InteractiveObj{
			Type:   "list",
			Body:   BodyObj{Text: body},
			Action: action,
		},
	})
}

// --- Media Methods ---

// MediaURL resolves a media id to its short-lived download URL.
func (c *Client) MediaURL(ctx context.Context, creds Credentials, mediaID string) (string, error) {
	if creds.AccessToken == "" {
		return "", ErrNoCredentials
	}
	resp, err := c.sendRequest(ctx, http.MethodGet, c.url(mediaID), creds.AccessToken, nil)
	if err != nil {
		return "", err
	}

	var obj struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(resp, &obj); err != nil {
		return "", err
	}
	if obj.URL == "" {
		return "", fmt.Errorf("media %s has no url", mediaID)
	}
	return obj.URL, nil
}

// Download fetches media bytes from a URL returned by MediaURL.
// The returned content type is whatever the server declared.
func (c *Client) Download(ctx context.Context, creds Credentials, url string) ([]byte, string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("Authorization", "Bearer "+creds.AccessToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", err
	}
	if resp.StatusCode >= 400 {
		return nil, "", newAPIError(resp.StatusCode, data)
	}
	return data, resp.Header.Get("Content-Type"), nil
}

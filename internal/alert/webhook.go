package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const footer = "rosterd"

var slackColors = map[Severity]string{
	Critical: "#ff0000",
	Error:    "#ff9900",
	Warning:  "#ffff00",
	Info:     "#00ff00",
}

type slackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

type slackAttachment struct {
	Color  string       `json:"color"`
	Title  string       `json:"title"`
	Text   string       `json:"text"`
	Fields []slackField `json:"fields"`
	Footer string       `json:"footer"`
	TS     int64        `json:"ts"`
}

type slackPayload struct {
	Attachments []slackAttachment `json:"attachments"`
}

// SlackNotifier posts Slack-compatible attachment payloads to a webhook.
type SlackNotifier struct {
	url    string
	client *http.Client
}

// NewSlackNotifier returns a SlackNotifier for url.
func NewSlackNotifier(url string, client *http.Client) *SlackNotifier {
	return &SlackNotifier{url: url, client: client}
}

func (n *SlackNotifier) Name() string { return ChannelSlack }

func (n *SlackNotifier) Send(ctx context.Context, msg Message) error {
	color, ok := slackColors[msg.Severity]
	if !ok {
		color = "#808080"
	}
	payload := slackPayload{Attachments: []slackAttachment{{
		Color: color,
		Title: subject(msg),
		Text:  msg.Body,
		Fields: []slackField{
			{Title: "Source", Value: msg.Source, Short: true},
			{Title: "Time", Value: msg.CreatedAt.UTC().Format(time.DateTime), Short: true},
		},
		Footer: footer,
		TS:     msg.CreatedAt.Unix(),
	}}}
	return postJSON(ctx, n.client, n.url, payload)
}

type webhookPayload struct {
	ID        string         `json:"id"`
	Rule      string         `json:"rule"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	Severity  Severity       `json:"severity"`
	Source    string         `json:"source"`
	CreatedAt time.Time      `json:"created_at"`
	Context   map[string]any `json:"context"`
}

// WebhookNotifier posts the alert as a plain JSON document.
type WebhookNotifier struct {
	url    string
	client *http.Client
}

// NewWebhookNotifier returns a WebhookNotifier for url.
func NewWebhookNotifier(url string, client *http.Client) *WebhookNotifier {
	return &WebhookNotifier{url: url, client: client}
}

func (n *WebhookNotifier) Name() string { return ChannelJSON }

func (n *WebhookNotifier) Send(ctx context.Context, msg Message) error {
	return postJSON(ctx, n.client, n.url, webhookPayload{
		ID:        msg.ID,
		Rule:      msg.Rule,
		Title:     msg.Title,
		Message:   msg.Body,
		Severity:  msg.Severity,
		Source:    msg.Source,
		CreatedAt: msg.CreatedAt.UTC(),
		Context:   msg.Context,
	})
}

func subject(msg Message) string {
	return fmt.Sprintf("[%s] %s", strings.ToUpper(string(msg.Severity)), msg.Title)
}

// postJSON posts body and treats any non-2xx status as a failure. The URL
// is never included in errors since webhook URLs carry credentials.
func postJSON(ctx context.Context, client *http.Client, url string, body any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("post webhook: unexpected status %d", resp.StatusCode)
	}
	return nil
}

package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/smtp"
	"net/textproto"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// EmailConfig holds SMTP settings. Password is expected to come from the
// environment and is never logged.
type EmailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       []string
}

func (c EmailConfig) missing() []string {
	var out []string
	if c.Host == "" {
		out = append(out, "SMTP_SERVER")
	}
	if c.From == "" {
		out = append(out, "SMTP_FROM")
	}
	if len(c.To) == 0 {
		out = append(out, "ALERT_EMAIL_TO")
	}
	return out
}

// SendMailFunc matches smtp.SendMail.
type SendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// EmailNotifier sends multipart text and HTML mail over SMTP.
type EmailNotifier struct {
	cfg      EmailConfig
	sendMail SendMailFunc
	md       goldmark.Markdown
	now      func() time.Time
}

// NewEmailNotifier returns an EmailNotifier using smtp.SendMail.
func NewEmailNotifier(cfg EmailConfig) *EmailNotifier {
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	return &EmailNotifier{
		cfg:      cfg,
		sendMail: smtp.SendMail,
		md:       goldmark.New(goldmark.WithExtensions(extension.GFM)),
		now:      time.Now,
	}
}

// WithSendMail replaces the SMTP transport, for tests.
func (n *EmailNotifier) WithSendMail(f SendMailFunc) *EmailNotifier {
	n.sendMail = f
	return n
}

func (n *EmailNotifier) Name() string { return ChannelEmail }

func (n *EmailNotifier) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := n.compose(msg)
	if err != nil {
		return err
	}
	var auth smtp.Auth
	if n.cfg.Username != "" {
		auth = smtp.PlainAuth("", n.cfg.Username, n.cfg.Password, n.cfg.Host)
	}
	addr := n.cfg.Host + ":" + strconv.Itoa(n.cfg.Port)
	if err := n.sendMail(addr, auth, n.cfg.From, n.cfg.To, raw); err != nil {
		return fmt.Errorf("send mail via %s: %w", n.cfg.Host, err)
	}
	return nil
}

// markdown renders the alert body as a Markdown document.
func markdown(msg Message) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## %s\n\n", subject(msg))
	b.WriteString("| Field | Value |\n|---|---|\n")
	fmt.Fprintf(&b, "| Severity | %s |\n", strings.ToUpper(string(msg.Severity)))
	fmt.Fprintf(&b, "| Rule | %s |\n", msg.Rule)
	if msg.Source != "" {
		fmt.Fprintf(&b, "| Source | %s |\n", msg.Source)
	}
	fmt.Fprintf(&b, "| Time | %s |\n", msg.CreatedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "| Alert | `%s` |\n\n", msg.ID)
	if msg.Body != "" {
		b.WriteString(msg.Body)
		b.WriteString("\n\n")
	}
	if len(msg.Context) > 0 {
		keys := make([]string, 0, len(msg.Context))
		for k := range msg.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString("### Context\n\n")
		for _, k := range keys {
			v, err := json.Marshal(msg.Context[k])
			if err != nil {
				v = []byte(fmt.Sprint(msg.Context[k]))
			}
			fmt.Fprintf(&b, "- **%s**: `%s`\n", k, v)
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Acknowledge with `rosterd ack %s`.\n", msg.ID)
	return b.String()
}

func (n *EmailNotifier) compose(msg Message) ([]byte, error) {
	text := markdown(msg)
	var html bytes.Buffer
	if err := n.md.Convert([]byte(text), &html); err != nil {
		return nil, fmt.Errorf("render mail body: %w", err)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for _, part := range []struct {
		ctype   string
		content []byte
	}{
		{"text/plain; charset=utf-8", []byte(text)},
		{"text/html; charset=utf-8", html.Bytes()},
	} {
		w, err := mw.CreatePart(textproto.MIMEHeader{"Content-Type": {part.ctype}})
		if err != nil {
			return nil, fmt.Errorf("compose mail: %w", err)
		}
		if _, err := w.Write(part.content); err != nil {
			return nil, fmt.Errorf("compose mail: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("compose mail: %w", err)
	}

	var out bytes.Buffer
	fmt.Fprintf(&out, "From: %s\r\n", n.cfg.From)
	fmt.Fprintf(&out, "To: %s\r\n", strings.Join(n.cfg.To, ", "))
	fmt.Fprintf(&out, "Subject: %s\r\n", subject(msg))
	fmt.Fprintf(&out, "Date: %s\r\n", n.now().UTC().Format(time.RFC1123Z))
	fmt.Fprintf(&out, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&out, "Content-Type: multipart/alternative; boundary=%s\r\n\r\n", mw.Boundary())
	out.Write(body.Bytes())
	return out.Bytes(), nil
}

package notify

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"mime"
	"net/smtp"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
)

var titles = map[Kind]string{
	KindClaimFiled:             "Your CCP claim has been filed",
	KindClaimStatusChanged:     "Your CCP claim status has changed",
	KindAppointmentBooked:      "Your service appointment is confirmed",
	KindAppointmentCancelled:   "Your service appointment has been cancelled",
	KindAppointmentRescheduled: "Your service appointment has been rescheduled",
	KindPurchaseConfirmation:   "Thank you for your purchase",
	KindWarrantyCancelled:      "Your plan has been cancelled",
}

var bodyTemplate = template.Must(template.New("notification").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; color: #222;">
  <h2>{{.Title}}</h2>
  <table cellpadding="6" style="border-collapse: collapse;">
  {{- range .Rows}}
    <tr><td style="font-weight: bold;">{{.Label}}</td><td>{{.Value}}</td></tr>
  {{- end}}
  </table>
  <p>This is an automated message from the warranty desk. Please do not reply.</p>
</body>
</html>
`))

type row struct {
	Label string
	Value string
}

// RenderBody формирует HTML-тело письма для события.
func RenderBody(ev Event) (string, error) {
	title, ok := titles[ev.Kind]
	if !ok {
		title = ev.Subject
	}

	keys := make([]string, 0, len(ev.Payload))
	for k := range ev.Payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	rows := make([]row, 0, len(keys))
	for _, k := range keys {
		rows = append(rows, row{Label: humanize(k), Value: ev.Payload[k]})
	}

	var buf bytes.Buffer
	if err := bodyTemplate.Execute(&buf, struct {
		Title string
		Rows  []row
	}{Title: title, Rows: rows}); err != nil {
		return "", fmt.Errorf("render notification: %w", err)
	}
	return buf.String(), nil
}

func humanize(key string) string {
	words := strings.Split(key, "_")
	for i, w := range words {
		if w != "" {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}

// SMTPConfig задаёт параметры почтового сервера.
type SMTPConfig struct {
	Addr     string
	Username string
	Password string
	From     string
}

// SMTPSender отправляет уведомления письмами.
type SMTPSender struct {
	cfg      SMTPConfig
	auth     smtp.Auth
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewSMTPSender создаёт отправителя писем. Без имени пользователя письма
// отправляются без аутентификации.
func NewSMTPSender(cfg SMTPConfig) *SMTPSender {
	s := &SMTPSender{cfg: cfg, sendMail: smtp.SendMail}
	if cfg.Username != "" {
		host := cfg.Addr
		if i := strings.LastIndex(host, ":"); i >= 0 {
			host = host[:i]
		}
		s.auth = smtp.PlainAuth("", cfg.Username, cfg.Password, host)
	}
	return s
}

// Send отправляет письмо.
func (s *SMTPSender) Send(ctx context.Context, ev Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg, err := BuildMessage(s.cfg.From, ev)
	if err != nil {
		return err
	}
	if err := s.sendMail(s.cfg.Addr, s.auth, s.cfg.From, []string{ev.Recipient}, msg); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

// BuildMessage собирает MIME-сообщение с HTML-телом.
func BuildMessage(from string, ev Event) ([]byte, error) {
	body, err := RenderBody(ev)
	if err != nil {
		return nil, err
	}
	subject := ev.Subject
	if subject == "" {
		subject = titles[ev.Kind]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", ev.Recipient)
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	fmt.Fprintf(&b, "Date: %s\r\n", ev.CreatedAt.Format(time.RFC1123Z))
	fmt.Fprintf(&b, "Message-ID: <%s@warranty-desk>\r\n", ev.ID)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=\"utf-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(body)
	return []byte(b.String()), nil
}

// LogSender пишет уведомления в лог. Используется, когда почта не настроена.
type LogSender struct {
	logger *zap.Logger
}

// NewLogSender создаёт отправителя в лог.
func NewLogSender(logger *zap.Logger) *LogSender {
	return &LogSender{logger: logger}
}

// Send записывает событие в лог.
func (s *LogSender) Send(_ context.Context, ev Event) error {
	s.logger.Info("notification",
		zap.String("event_id", ev.ID),
		zap.String("kind", string(ev.Kind)),
		zap.String("recipient", ev.Recipient),
		zap.String("subject", ev.Subject),
		zap.Any("payload", ev.Payload),
	)
	return nil
}

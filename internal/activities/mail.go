package activities

import (
	"crypto/tls"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/wneessen/go-mail"

	"github.com/flowforge/engine/internal/execctx"
)

// MailActivity implements the `mail` node type.
//
// config fields:
//
//	action: "send" | "receive" (default "send")
//
// Send: host, port(int, default 587), security("TLS"|"STARTTLS"|"NONE",
// default "STARTTLS"), auth(map: user, password), to([]string), cc([]string),
// subject, body, content_type("text/plain"|"text/html", default "text/plain")
//
// Receive: returns a stub {"messages": [], "note": "imap receive not yet implemented"}
type MailActivity struct{}

// Name returns the DSL type identifier for this activity.
func (a *MailActivity) Name() string { return "mail" }

// Execute dispatches to the send or receive implementation.
func (a *MailActivity) Execute(input map[string]interface{}, config map[string]interface{}, ctx *execctx.Context) (map[string]interface{}, error) {
	action, _ := config["action"].(string)
	if action == "" {
		action = "send"
	}
	switch action {
	case "send":
		return mailSend(config)
	case "receive":
		return map[string]interface{}{
			"messages": []interface{}{},
			"note":     "imap receive not yet implemented",
		}, nil
	default:
		return nil, fmt.Errorf("mail activity: unknown action %q", action)
	}
}

func mailSend(config map[string]interface{}) (map[string]interface{}, error) {
	host, _ := config["host"].(string)
	if host == "" {
		return nil, fmt.Errorf("mail activity: missing required config field 'host'")
	}

	port := 587
	switch v := config["port"].(type) {
	case int:
		port = v
	case float64:
		port = int(v)
	}

	security, _ := config["security"].(string)
	if security == "" {
		security = "STARTTLS"
	}

	contentType, _ := config["content_type"].(string)
	if contentType == "" {
		contentType = "text/plain"
	}

	subject, _ := config["subject"].(string)
	body, _ := config["body"].(string)

	toList := stringList(config["to"])
	ccList := stringList(config["cc"])

	user, password := mailCredentials(config)

	from := user
	if from == "" {
		from = "flowforge@localhost"
	}

	m := mail.NewMsg()
	if err := m.From(from); err != nil {
		return nil, fmt.Errorf("mail activity: invalid from address %q: %w", from, err)
	}
	if len(toList) == 0 {
		return nil, fmt.Errorf("mail activity: missing required config field 'to'")
	}
	if err := m.To(toList...); err != nil {
		return nil, fmt.Errorf("mail activity: invalid to address: %w", err)
	}
	if len(ccList) > 0 {
		if err := m.Cc(ccList...); err != nil {
			return nil, fmt.Errorf("mail activity: invalid cc address: %w", err)
		}
	}
	m.Subject(subject)
	m.SetBodyString(mail.ContentType(contentType), body)

	opts := []mail.Option{mail.WithPort(port), mail.WithTimeout(30 * time.Second)}
	if user != "" {
		opts = append(opts, mail.WithSMTPAuth(mail.SMTPAuthPlain), mail.WithUsername(user), mail.WithPassword(password))
	}

	switch security {
	case "TLS":
		opts = append(opts,
			mail.WithSSL(),
			mail.WithTLSPolicy(mail.TLSMandatory),
			mail.WithTLSConfig(&tls.Config{ServerName: host}),
		)
	case "NONE":
		opts = append(opts, mail.WithTLSPolicy(mail.NoTLS))
	default: // STARTTLS
		opts = append(opts,
			mail.WithTLSPolicy(mail.TLSOpportunistic),
			mail.WithTLSConfig(&tls.Config{ServerName: host}),
		)
	}

	client, err := mail.NewClient(host, opts...)
	if err != nil {
		return nil, fmt.Errorf("mail activity: failed to create SMTP client: %w", err)
	}

	if err := client.DialAndSend(m); err != nil {
		return nil, fmt.Errorf("mail activity: send failed: %w", err)
	}

	return map[string]interface{}{
		"sent":       true,
		"message_id": uuid.New().String(),
	}, nil
}

// mailCredentials reads user/password from config["auth"] (nested map) when
// present, or from flat top-level keys injected by the secret resolver.
func mailCredentials(config map[string]interface{}) (user, password string) {
	get := func(key string) string {
		if authMap, ok := config["auth"].(map[string]interface{}); ok {
			if v, ok := authMap[key].(string); ok {
				return v
			}
		}
		v, _ := config[key].(string)
		return v
	}
	return get("user"), get("password")
}

func stringList(raw interface{}) []string {
	list, ok := raw.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, v := range list {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// Package notification delivers lifecycle emails for subscription and API key
// events. Delivery is best effort and asynchronous: a broken mail server must
// never fail or slow down the state transition that triggered the email, so
// Trigger returns immediately and failures are only logged. The dispatcher is
// a no-op when notifications.enabled is false or when the SMTP host is not
// configured, so it is always safe to wire regardless of deployment
// environment.
package notification

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"sort"
	"strings"

	"github.com/apim-portal/apim-portal/internal/config"
	"github.com/apim-portal/apim-portal/internal/safego"
	"github.com/apim-portal/apim-portal/internal/services"
)

// subjects maps a lifecycle hook to the email subject line.
var subjects = map[string]string{
	services.HookSubscriptionAccepted:    "Subscription accepted",
	services.HookSubscriptionRejected:    "Subscription rejected",
	services.HookSubscriptionPaused:      "Subscription paused",
	services.HookSubscriptionResumed:     "Subscription resumed",
	services.HookSubscriptionClosed:      "Subscription closed",
	services.HookSubscriptionTransferred: "Subscription transferred",
	services.HookAPIKeyRevoked:           "API key revoked",
	services.HookAPIKeyRenewed:           "API key renewed",
	services.HookAPIKeyReactivated:       "API key reactivated",
	services.HookAPIKeyExpired:           "API key expired",
}

type sendFunc func(addr, host string, auth smtp.Auth, from string, to []string, msg []byte, useTLS bool) error

// Dispatcher emails lifecycle notifications to the configured recipients.
// Implements services.Notifier.
type Dispatcher struct {
	cfg    *config.NotificationsConfig
	logger *slog.Logger
	send   sendFunc
}

// NewDispatcher creates a Dispatcher for the given notification settings.
func NewDispatcher(cfg *config.NotificationsConfig, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{cfg: cfg, logger: logger, send: deliver}
}

// Trigger composes and sends the email for one lifecycle event. It returns
// before delivery completes; SMTP errors are logged, never surfaced.
func (d *Dispatcher) Trigger(ctx context.Context, execCtx services.ExecutionContext, hook, subjectID string, properties map[string]string) {
	if !d.cfg.Enabled || d.cfg.SMTP.Host == "" {
		return
	}
	if len(d.cfg.Recipients) == 0 {
		d.logger.Debug("notification skipped, no recipients configured", "hook", hook)
		return
	}

	subject, ok := subjects[hook]
	if !ok {
		d.logger.Warn("unknown notification hook", "hook", hook)
		return
	}

	msg := d.compose(execCtx, hook, subject, subjectID, properties)
	smtpCfg := d.cfg.SMTP
	addr := fmt.Sprintf("%s:%d", smtpCfg.Host, smtpCfg.Port)
	var auth smtp.Auth
	if smtpCfg.Username != "" {
		auth = smtp.PlainAuth("", smtpCfg.Username, smtpCfg.Password, smtpCfg.Host)
	}
	recipients := append([]string(nil), d.cfg.Recipients...)
	logger := d.logger
	send := d.send

	safego.Go(func() {
		if err := send(addr, smtpCfg.Host, auth, smtpCfg.From, recipients, msg, smtpCfg.UseTLS); err != nil {
			logger.Warn("failed to send notification email", "hook", hook, "subject_id", subjectID, "error", err)
		}
	})
}

// compose renders the full RFC 5322 message, headers included.
func (d *Dispatcher) compose(execCtx services.ExecutionContext, hook, subject, subjectID string, properties map[string]string) []byte {
	lines := []string{
		fmt.Sprintf("Event:        %s", hook),
		fmt.Sprintf("Subject:      %s", subjectID),
		fmt.Sprintf("Organization: %s", execCtx.OrganizationID),
		fmt.Sprintf("Environment:  %s", execCtx.EnvironmentID),
	}
	if len(properties) > 0 {
		lines = append(lines, "")
		keys := make([]string, 0, len(properties))
		for k := range properties {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			lines = append(lines, fmt.Sprintf("%s: %s", k, properties[k]))
		}
	}
	lines = append(lines, "", "— API Management Portal")
	body := strings.Join(lines, "\r\n")

	headers := fmt.Sprintf(
		"From: %s\r\nTo: %s\r\nSubject: %s\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n",
		d.cfg.SMTP.From, strings.Join(d.cfg.Recipients, ", "), subject,
	)
	return []byte(headers + body + "\r\n")
}

// deliver sends the message over SMTP, choosing implicit TLS, STARTTLS or
// plain transport based on configuration.
func deliver(addr, host string, auth smtp.Auth, from string, to []string, msg []byte, useTLS bool) error {
	if useTLS {
		return sendMailTLS(addr, host, auth, from, to, msg)
	}
	return smtp.SendMail(addr, auth, from, to, msg)
}

// sendMailTLS connects via implicit TLS (port 465 / SMTPS) and sends a message.
// When the implicit TLS dial fails it falls back to the standard smtp.SendMail
// path, which upgrades via STARTTLS (port 587 pattern). UseTLS=true therefore
// always means an encrypted connection, whichever port is configured.
func sendMailTLS(addr, host string, auth smtp.Auth, from string, to []string, msg []byte) error {
	tlsConfig := &tls.Config{
		ServerName: host,
		MinVersion: tls.VersionTLS12,
	}

	conn, err := tls.Dial("tcp", addr, tlsConfig)
	if err != nil {
		return smtp.SendMail(addr, auth, from, to, msg)
	}
	defer conn.Close()

	hostname, _, _ := net.SplitHostPort(addr)
	c, err := smtp.NewClient(conn, hostname)
	if err != nil {
		return fmt.Errorf("smtp new client: %w", err)
	}
	defer c.Quit() //nolint:errcheck

	if auth != nil {
		if err := c.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}
	if err := c.Mail(from); err != nil {
		return fmt.Errorf("smtp MAIL FROM: %w", err)
	}
	for _, rcpt := range to {
		if err := c.Rcpt(rcpt); err != nil {
			return fmt.Errorf("smtp RCPT TO %s: %w", rcpt, err)
		}
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("smtp DATA: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("smtp write: %w", err)
	}
	return w.Close()
}

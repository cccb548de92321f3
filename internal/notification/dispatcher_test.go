package notification

import (
	"context"
	"net/smtp"
	"strings"
	"testing"
	"time"

	"github.com/apim-portal/apim-portal/internal/config"
	"github.com/apim-portal/apim-portal/internal/services"
)

type sentMail struct {
	addr   string
	from   string
	to     []string
	msg    string
	useTLS bool
}

// newCaptureDispatcher returns a dispatcher whose SMTP transport is replaced
// with a channel the test can receive deliveries from.
func newCaptureDispatcher(cfg *config.NotificationsConfig) (*Dispatcher, chan sentMail) {
	sent := make(chan sentMail, 1)
	d := NewDispatcher(cfg, nil)
	d.send = func(addr, host string, auth smtp.Auth, from string, to []string, msg []byte, useTLS bool) error {
		sent <- sentMail{addr: addr, from: from, to: to, msg: string(msg), useTLS: useTLS}
		return nil
	}
	return d, sent
}

func enabledConfig() *config.NotificationsConfig {
	return &config.NotificationsConfig{
		Enabled: true,
		SMTP: config.SMTPConfig{
			Host:   "smtp.example.com",
			Port:   587,
			From:   "portal@example.com",
			UseTLS: true,
		},
		Recipients: []string{"api-team@example.com"},
	}
}

func waitForMail(t *testing.T, sent chan sentMail) sentMail {
	t.Helper()
	select {
	case m := <-sent:
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("no email delivered within timeout")
		return sentMail{}
	}
}

func TestDispatcher_SendsLifecycleEmail(t *testing.T) {
	d, sent := newCaptureDispatcher(enabledConfig())

	execCtx := services.ExecutionContext{OrganizationID: "org-1", EnvironmentID: "env-1"}
	d.Trigger(context.Background(), execCtx, services.HookSubscriptionAccepted, "sub-1", map[string]string{
		"plan": "gold",
	})

	m := waitForMail(t, sent)
	if m.addr != "smtp.example.com:587" {
		t.Errorf("addr = %q, want smtp.example.com:587", m.addr)
	}
	if m.from != "portal@example.com" {
		t.Errorf("from = %q, want portal@example.com", m.from)
	}
	if len(m.to) != 1 || m.to[0] != "api-team@example.com" {
		t.Errorf("to = %v, want [api-team@example.com]", m.to)
	}
	if !m.useTLS {
		t.Error("useTLS = false, want true")
	}
	if !strings.Contains(m.msg, "Subject: Subscription accepted") {
		t.Errorf("message missing subject line:\n%s", m.msg)
	}
	if !strings.Contains(m.msg, "sub-1") {
		t.Errorf("message missing subscription id:\n%s", m.msg)
	}
	if !strings.Contains(m.msg, "org-1") || !strings.Contains(m.msg, "env-1") {
		t.Errorf("message missing scope:\n%s", m.msg)
	}
	if !strings.Contains(m.msg, "plan: gold") {
		t.Errorf("message missing properties:\n%s", m.msg)
	}
}

func TestDispatcher_SubjectPerHook(t *testing.T) {
	tests := []struct {
		hook string
		want string
	}{
		{services.HookSubscriptionRejected, "Subject: Subscription rejected"},
		{services.HookSubscriptionClosed, "Subject: Subscription closed"},
		{services.HookAPIKeyRevoked, "Subject: API key revoked"},
		{services.HookAPIKeyRenewed, "Subject: API key renewed"},
		{services.HookAPIKeyExpired, "Subject: API key expired"},
	}
	for _, tt := range tests {
		t.Run(tt.hook, func(t *testing.T) {
			d, sent := newCaptureDispatcher(enabledConfig())
			d.Trigger(context.Background(), services.ExecutionContext{}, tt.hook, "x", nil)
			m := waitForMail(t, sent)
			if !strings.Contains(m.msg, tt.want) {
				t.Errorf("message missing %q:\n%s", tt.want, m.msg)
			}
		})
	}
}

func TestDispatcher_DisabledIsNoop(t *testing.T) {
	cfg := enabledConfig()
	cfg.Enabled = false
	d, sent := newCaptureDispatcher(cfg)

	d.Trigger(context.Background(), services.ExecutionContext{}, services.HookSubscriptionAccepted, "sub-1", nil)

	select {
	case <-sent:
		t.Error("email sent while notifications are disabled")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDispatcher_MissingHostIsNoop(t *testing.T) {
	cfg := enabledConfig()
	cfg.SMTP.Host = ""
	d, sent := newCaptureDispatcher(cfg)

	d.Trigger(context.Background(), services.ExecutionContext{}, services.HookSubscriptionAccepted, "sub-1", nil)

	select {
	case <-sent:
		t.Error("email sent without an SMTP host")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDispatcher_NoRecipientsIsNoop(t *testing.T) {
	cfg := enabledConfig()
	cfg.Recipients = nil
	d, sent := newCaptureDispatcher(cfg)

	d.Trigger(context.Background(), services.ExecutionContext{}, services.HookAPIKeyRevoked, "key-1", nil)

	select {
	case <-sent:
		t.Error("email sent without recipients")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDispatcher_UnknownHookIgnored(t *testing.T) {
	d, sent := newCaptureDispatcher(enabledConfig())

	d.Trigger(context.Background(), services.ExecutionContext{}, "SOMETHING_ELSE", "x", nil)

	select {
	case <-sent:
		t.Error("email sent for unknown hook")
	case <-time.After(50 * time.Millisecond):
	}
}

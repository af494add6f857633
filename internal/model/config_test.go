package model

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, yaml string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoadConfigMailboxDefaults(t *testing.T) {
	path := writeConfig(t, `
mailboxes:
  - id: work
    host: imap.example.com
    username: alice
    chat_id: "-100123"
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if len(cfg.Mailboxes) != 1 {
		t.Fatalf("got %d mailboxes, want 1", len(cfg.Mailboxes))
	}

	mb := cfg.Mailboxes[0]
	if mb.Port != "993" {
		t.Errorf("Port = %q, want 993", mb.Port)
	}
	if !mb.TLS {
		t.Error("TLS not defaulted to true for an unset key")
	}
	if mb.Folder != "INBOX" {
		t.Errorf("Folder = %q, want INBOX", mb.Folder)
	}
	if mb.PollIntervalSec != 120 {
		t.Errorf("PollIntervalSec = %d, want 120", mb.PollIntervalSec)
	}
	if !mb.Enabled {
		t.Error("Enabled not defaulted to true for an unset key")
	}

	if cfg.Telegram.MessageLimit != 4096 {
		t.Errorf("MessageLimit = %d, want 4096", cfg.Telegram.MessageLimit)
	}
}

func TestLoadConfigExplicitFalseKept(t *testing.T) {
	path := writeConfig(t, `
mailboxes:
  - id: work
    host: imap.example.com
    username: alice
    chat_id: "-100123"
    tls: false
  - id: personal
    host: imap.example.org
    username: bob
    chat_id: "-100456"
    enabled: false
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	// An explicit tls: false must survive port defaulting.
	if cfg.Mailboxes[0].TLS {
		t.Error("explicit tls: false was overridden")
	}
	if cfg.Mailboxes[0].Port != "993" {
		t.Errorf("Port = %q, want 993", cfg.Mailboxes[0].Port)
	}

	if cfg.Mailboxes[1].Enabled {
		t.Error("explicit enabled: false was overridden")
	}
}

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if len(cfg.Mailboxes) != 0 {
		t.Errorf("got %d mailboxes from a missing file", len(cfg.Mailboxes))
	}
	if cfg.Telegram.AttachmentDelaySec != 2 || cfg.Telegram.MaxSendAttempts != 5 {
		t.Errorf("telegram defaults = %+v", cfg.Telegram)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want info", cfg.Log.Level)
	}
}

func TestValidate(t *testing.T) {
	valid := MailboxConfig{
		ID: "work", Host: "imap.example.com",
		Username: "alice", ChatID: "-100123",
	}

	cases := []struct {
		name    string
		mutate  func(*MailboxConfig)
		wantErr bool
	}{
		{"valid", func(mb *MailboxConfig) {}, false},
		{"missing id", func(mb *MailboxConfig) { mb.ID = "" }, true},
		{"missing host", func(mb *MailboxConfig) { mb.Host = "" }, true},
		{"missing username", func(mb *MailboxConfig) { mb.Username = "" }, true},
		{"missing chat_id", func(mb *MailboxConfig) { mb.ChatID = "" }, true},
	}

	for _, tc := range cases {
		mb := valid
		tc.mutate(&mb)
		cfg := &AppConfig{Mailboxes: []MailboxConfig{mb}}

		err := cfg.Validate()
		if tc.wantErr && err == nil {
			t.Errorf("%s: expected error", tc.name)
		}
		if !tc.wantErr && err != nil {
			t.Errorf("%s: unexpected error %v", tc.name, err)
		}
	}
}

func TestValidateDuplicateMailboxID(t *testing.T) {
	mb := MailboxConfig{
		ID: "work", Host: "imap.example.com",
		Username: "alice", ChatID: "-100123",
	}
	cfg := &AppConfig{Mailboxes: []MailboxConfig{mb, mb}}

	if err := cfg.Validate(); err == nil {
		t.Fatal("duplicate mailbox ids not rejected")
	}
}

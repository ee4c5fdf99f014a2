package model

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Fetch.Interval != 60*time.Second {
		t.Errorf("Fetch.Interval = %s, want 60s", cfg.Fetch.Interval)
	}
	if cfg.Fetch.Limit != 10 {
		t.Errorf("Fetch.Limit = %d, want 10", cfg.Fetch.Limit)
	}
	if cfg.Retention.Days != 3 {
		t.Errorf("Retention.Days = %d, want 3", cfg.Retention.Days)
	}
	if cfg.Retention.Window() != DefaultRetention {
		t.Errorf("Retention.Window() = %s, want %s", cfg.Retention.Window(), DefaultRetention)
	}
	if cfg.LLM.BaseURL != "" {
		t.Errorf("LLM.BaseURL = %q, want empty", cfg.LLM.BaseURL)
	}
	if cfg.LLM.Timeout != 90*time.Second {
		t.Errorf("LLM.Timeout = %s, want 90s", cfg.LLM.Timeout)
	}
}

func TestLoadConfig_Env(t *testing.T) {
	t.Setenv("CHECK_INTERVAL", "120")
	t.Setenv("RETENTION_DAYS", "7")
	t.Setenv("LLM_BASE_URL", "http://llm:8080/")
	t.Setenv("MAILREADER_MASTER_KEY", "  secret-key ")
	t.Setenv("MAILREADER_FETCH_LIMIT", "25")

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Fetch.Interval != 120*time.Second {
		t.Errorf("Fetch.Interval = %s, want 2m0s", cfg.Fetch.Interval)
	}
	if cfg.Retention.Days != 7 {
		t.Errorf("Retention.Days = %d, want 7", cfg.Retention.Days)
	}
	if cfg.LLM.BaseURL != "http://llm:8080" {
		t.Errorf("LLM.BaseURL = %q, want trailing slash trimmed", cfg.LLM.BaseURL)
	}
	if cfg.Security.MasterKey != "secret-key" {
		t.Errorf("Security.MasterKey = %q, want trimmed key", cfg.Security.MasterKey)
	}
	if cfg.Fetch.Limit != 25 {
		t.Errorf("Fetch.Limit = %d, want 25", cfg.Fetch.Limit)
	}
}

func TestLoadConfig_File(t *testing.T) {
	tests := []struct {
		name      string
		config    string
		wantError bool
	}{
		{
			name: "valid file",
			config: `
fetch:
  interval: 5m
  limit: 50
retention:
  days: 1
llm:
  base_url: http://localhost:8080
`,
		},
		{
			name: "zero limit",
			config: `
fetch:
  limit: 0
`,
			wantError: true,
		},
		{
			name: "bad interval",
			config: `
fetch:
  interval: soon
`,
			wantError: true,
		},
		{
			name: "zero retention",
			config: `
retention:
  days: 0
`,
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "worker.yaml")
			if err := os.WriteFile(path, []byte(tt.config), 0o600); err != nil {
				t.Fatal(err)
			}

			cfg, err := LoadConfig(path)
			if (err != nil) != tt.wantError {
				t.Fatalf("LoadConfig() error = %v, wantError %v", err, tt.wantError)
			}
			if tt.wantError {
				return
			}
			if cfg.Fetch.Interval != 5*time.Minute {
				t.Errorf("Fetch.Interval = %s, want 5m0s", cfg.Fetch.Interval)
			}
			if cfg.Fetch.Limit != 50 {
				t.Errorf("Fetch.Limit = %d, want 50", cfg.Fetch.Limit)
			}
		})
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.yaml")
	if _, err := LoadConfig(path); err == nil {
		t.Fatalf("LoadConfig(%q) error = nil, want error for explicit missing file", path)
	}
}

func TestLoadConfig_NoPathUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Fetch.Workers != 4 {
		t.Errorf("Fetch.Workers = %d, want 4", cfg.Fetch.Workers)
	}
}

func TestCategoryValid(t *testing.T) {
	for _, c := range []Category{CategoryImportant, CategoryNormal, CategorySpam} {
		if !c.Valid() {
			t.Errorf("%q.Valid() = false, want true", c)
		}
	}
	for _, c := range []Category{"", "Important", "junk"} {
		if c.Valid() {
			t.Errorf("%q.Valid() = true, want false", c)
		}
	}
}

func TestMessageField(t *testing.T) {
	m := NormalizedMessage{MessageID: "<1@x>", Subject: "s", From: "f", To: "t", Body: "b"}
	cases := map[string]string{
		"message_id": "<1@x>",
		"subject":    "s",
		"from":       "f",
		"to":         "t",
		"body":       "b",
		"Subject":    "",
		"cc":         "",
	}
	for field, want := range cases {
		if got := m.Field(field); got != want {
			t.Errorf("Field(%q) = %q, want %q", field, got, want)
		}
	}
}

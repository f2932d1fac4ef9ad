package database

import (
	"net/url"
	"testing"

	"github.com/rickgao/livefeed/internal/config"
)

func TestConnString(t *testing.T) {
	store := config.DBConfig{
		Host:     "feeds.internal",
		Port:     5432,
		Name:     "custom",
		User:     "feed",
		Password: "s3cret",
		SSLMode:  "require",
	}

	tests := []struct {
		name     string
		mutate   func(*config.DBConfig)
		instance string
		wantUser string
		wantPass string
		wantHost string
		wantSSL  string
		wantApp  string
	}{
		{
			name:     "store with instance",
			instance: "node-1",
			wantUser: "feed",
			wantPass: "s3cret",
			wantHost: "feeds.internal:5432",
			wantSSL:  "require",
			wantApp:  "livefeed-node-1",
		},
		{
			name:     "password needing escapes",
			mutate:   func(c *config.DBConfig) { c.Password = "p@ss:w/rd?" },
			wantUser: "feed",
			wantPass: "p@ss:w/rd?",
			wantHost: "feeds.internal:5432",
			wantSSL:  "require",
		},
		{
			name:     "sslmode defaults to prefer",
			mutate:   func(c *config.DBConfig) { c.SSLMode = ""; c.Port = 6432 },
			instance: "replay",
			wantUser: "feed",
			wantPass: "s3cret",
			wantHost: "feeds.internal:6432",
			wantSSL:  "prefer",
			wantApp:  "livefeed-replay",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := store
			if tt.mutate != nil {
				tt.mutate(&cfg)
			}

			u, err := url.Parse(ConnString(cfg, tt.instance))
			if err != nil {
				t.Fatalf("ConnString produced an unparsable URL: %v", err)
			}
			if u.Scheme != "postgres" || u.Path != "/custom" {
				t.Errorf("URL = %s, want postgres scheme and /custom path", u)
			}
			if u.User.Username() != tt.wantUser {
				t.Errorf("user = %q, want %q", u.User.Username(), tt.wantUser)
			}
			if pass, _ := u.User.Password(); pass != tt.wantPass {
				t.Errorf("password = %q, want %q", pass, tt.wantPass)
			}
			if u.Host != tt.wantHost {
				t.Errorf("host = %q, want %q", u.Host, tt.wantHost)
			}
			q := u.Query()
			if q.Get("sslmode") != tt.wantSSL {
				t.Errorf("sslmode = %q, want %q", q.Get("sslmode"), tt.wantSSL)
			}
			if q.Get("application_name") != tt.wantApp {
				t.Errorf("application_name = %q, want %q", q.Get("application_name"), tt.wantApp)
			}
		})
	}
}

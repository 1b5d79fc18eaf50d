package config

import (
	"strings"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DB_DRIVER", "")
	t.Setenv("PORT", "")
	cfg := Load()
	if cfg.Server.Port != "8080" || cfg.Database.Driver != "postgres" {
		t.Fatalf("unexpected defaults: %+v", cfg.Server)
	}
	if !strings.Contains(cfg.Database.DSN(), "dbname=declair") {
		t.Fatalf("unexpected dsn %s", cfg.Database.DSN())
	}
}

func TestDSNPerDriver(t *testing.T) {
	d := DatabaseConfig{Driver: "mysql", User: "u", Password: "p", Host: "db", Port: 3306, DBName: "declair"}
	if got := d.DSN(); got != "u:p@tcp(db:3306)/declair?charset=utf8mb4&parseTime=True&loc=UTC" {
		t.Fatalf("mysql dsn %s", got)
	}
	d = DatabaseConfig{Driver: "sqlite", SQLitePath: "file::memory:"}
	if d.DSN() != "file::memory:" {
		t.Fatalf("sqlite dsn %s", d.DSN())
	}
}

func TestValidateProduction(t *testing.T) {
	t.Setenv("DEV", "false")
	t.Setenv("SESSION_SECRET", "")
	cfg := Load()
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "SESSION_SECRET") {
		t.Fatalf("expected session secret error, got %v", err)
	}

	t.Setenv("SESSION_SECRET", "s")
	t.Setenv("CRON_SECRET", "c")
	t.Setenv("NEWSLETTER_SECRET", "n")
	t.Setenv("STRIPE_SECRET_KEY", "sk_test")
	t.Setenv("STRIPE_WEBHOOK_SECRET", "whsec")
	if err := Load().Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestTrustedProxies(t *testing.T) {
	t.Setenv("TRUSTED_PROXIES", " 10.0.0.0/8, 192.168.1.7 ,,::1")
	cfg := Load()
	got, err := cfg.Server.Proxies()
	if err != nil {
		t.Fatalf("proxies: %v", err)
	}
	want := []string{"10.0.0.0/8", "192.168.1.7/32", "::1/128"}
	if len(got) != len(want) {
		t.Fatalf("expected %d ranges, got %v", len(want), got)
	}
	for i, p := range got {
		if p.String() != want[i] {
			t.Fatalf("range %d: expected %s, got %s", i, want[i], p)
		}
	}

	t.Setenv("TRUSTED_PROXIES", "10.0.0.0/33")
	if err := Load().Validate(); err == nil || !strings.Contains(err.Error(), "trusted proxy") {
		t.Fatalf("expected trusted proxy error, got %v", err)
	}
}

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

const minimalYAML = `
telegram:
  token: "123:abc"
provider:
  base_url: "http://localhost:8080/courses"
logging:
  level: info
  console: true
watcher:
  enabled: true
  interval: "90s"
storage:
  driver: file
  path: "./subs.json"
`

func TestParseYAML(t *testing.T) {
	m := NewManager(writeConfig(t, "config.yaml", minimalYAML))
	cfg, err := m.Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Telegram.Token != "123:abc" {
		t.Fatalf("token = %q", cfg.Telegram.Token)
	}
	if cfg.Watcher.Interval != "90s" {
		t.Fatalf("interval = %q", cfg.Watcher.Interval)
	}
	if cfg.Storage.Driver != "file" {
		t.Fatalf("driver = %q", cfg.Storage.Driver)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	m := NewManager(writeConfig(t, "config.yaml", minimalYAML+"\nbogus: 1\n"))
	if _, err := m.Parse(); err == nil {
		t.Fatal("expected error for unknown top-level key")
	}
}

func TestParseRejectsMissingToken(t *testing.T) {
	body := `{"telegram":{"token":""},"provider":{"base_url":"http://x"},"logging":{"level":"info","console":true,"file":{"enabled":false,"path":""},"telegram":{"enabled":false,"thread_id":0,"min_level":"","rate_per_sec":0}},"watcher":{"enabled":false},"storage":{"driver":"file"}}`
	m := NewManager(writeConfig(t, "config.json", body))
	if _, err := m.Parse(); err == nil {
		t.Fatal("expected validation error for empty token")
	}
}

func TestParseRejectsBadDuration(t *testing.T) {
	m := NewManager(writeConfig(t, "config.yaml", `
telegram:
  token: "t"
provider:
  base_url: "http://x"
  timeout: "soon"
logging:
  level: info
  console: true
watcher:
  enabled: false
storage:
  driver: file
`))
	if _, err := m.Parse(); err == nil {
		t.Fatal("expected error for invalid duration")
	}
}

func TestParseRejectsUnknownStorageDriver(t *testing.T) {
	m := NewManager(writeConfig(t, "config.yaml", `
telegram:
  token: "t"
provider:
  base_url: "http://x"
logging:
  level: info
  console: true
watcher:
  enabled: false
storage:
  driver: redis
`))
	if _, err := m.Parse(); err == nil {
		t.Fatal("expected error for unknown storage driver")
	}
}

func TestParseAcceptsDriverAliases(t *testing.T) {
	cases := []struct {
		driver string
		extra  string
	}{
		{driver: "sqlite3"},
		{driver: "mongodb", extra: "\n  uri: \"mongodb://localhost\""},
	}
	for _, c := range cases {
		m := NewManager(writeConfig(t, "config.yaml", `
telegram:
  token: "t"
provider:
  base_url: "http://x"
logging:
  level: info
  console: true
watcher:
  enabled: false
storage:
  driver: `+c.driver+c.extra+"\n"))
		if _, err := m.Parse(); err != nil {
			t.Fatalf("driver %q rejected: %v", c.driver, err)
		}
	}
}

func TestParseRejectsMongoWithoutURI(t *testing.T) {
	m := NewManager(writeConfig(t, "config.yaml", `
telegram:
  token: "t"
provider:
  base_url: "http://x"
logging:
  level: info
  console: true
watcher:
  enabled: false
storage:
  driver: mongodb
`))
	if _, err := m.Parse(); err == nil {
		t.Fatal("expected error for mongodb driver without uri")
	}
}

func TestLoadCommitGet(t *testing.T) {
	m := NewManager(writeConfig(t, "config.yaml", minimalYAML))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if m.Get() != cfg {
		t.Fatal("Get should return the committed config")
	}
}

func TestSubscribeUnsubscribe(t *testing.T) {
	m := NewManager("unused")
	ch := m.Subscribe(1)
	m.publish(&Config{})
	select {
	case cfg := <-ch:
		if cfg == nil {
			t.Fatal("nil config published")
		}
	default:
		t.Fatal("expected a published config")
	}
	m.Unsubscribe(ch)
	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed after Unsubscribe")
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	d, err := ParseDurationOrDefault("watcher.interval", "", 90e9)
	if err != nil || d != 90e9 {
		t.Fatalf("got %v, %v", d, err)
	}
	d, err = ParseDurationOrDefault("watcher.interval", "45s", 90e9)
	if err != nil || d.Seconds() != 45 {
		t.Fatalf("got %v, %v", d, err)
	}
	if _, err := ParseDurationField("watcher.interval", "-5s"); err == nil {
		t.Fatal("negative duration should error")
	}
}

package config

import (
	"strings"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
)

const devYAML = `
servers:
  - wss://janus.example.com/ws
  - https://janus.example.com/janus
ice_servers:
  - urls: ["stun:stun.example.com:3478"]
  - urls: ["turn:turn.example.com:3478?transport=udp"]
    username: user
    credential: pass
api_secret: s3cret
keepalive_period: 10s
transaction_timeout: 15s
log_level: debug
port: 9090
`

func memFS(t *testing.T, files map[string]string) afero.Fs {
	t.Helper()
	fs := afero.NewMemMapFs()
	for name, body := range files {
		if err := afero.WriteFile(fs, name, []byte(body), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	return fs
}

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	t.Setenv("CONFIG_ENV", "missing")
	cfg, _, err := Load(afero.NewMemMapFs(), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.KeepalivePeriod != 25*time.Second || cfg.MaxKeepaliveFailures != 3 || cfg.TransactionTimeout != 30*time.Second {
		t.Fatalf("timing defaults=%+v", cfg)
	}
	if len(cfg.Servers) != 1 || cfg.Servers[0] != "ws://127.0.0.1:8188" {
		t.Fatalf("servers=%v", cfg.Servers)
	}
	if !cfg.Trickle || cfg.IPv6 || cfg.LogLevel != zerolog.InfoLevel || cfg.Port != 8088 || cfg.MaxPollEvents != 10 {
		t.Fatalf("defaults=%+v", cfg)
	}
	if len(cfg.ICEServers) != 1 || cfg.ICEServers[0].URLs[0] != "stun:stun.l.google.com:19302" {
		t.Fatalf("ice=%+v", cfg.ICEServers)
	}
}

func TestLoad_FileThenEnv(t *testing.T) {
	t.Setenv("CONFIG_ENV", "dev")
	t.Setenv("JANUS_TRANSACTION_TIMEOUT", "5s")
	fs := memFS(t, map[string]string{"config/config.dev.yaml": devYAML})

	cfg, src, err := Load(fs, nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if src.File() != "config/config.dev.yaml" {
		t.Fatalf("file=%s", src.File())
	}
	if len(cfg.Servers) != 2 || !strings.HasPrefix(cfg.Servers[1], "https://") {
		t.Fatalf("servers=%v", cfg.Servers)
	}
	if cfg.KeepalivePeriod != 10*time.Second {
		t.Fatalf("keepalive=%s", cfg.KeepalivePeriod)
	}
	if cfg.TransactionTimeout != 5*time.Second {
		t.Fatalf("env override lost: %s", cfg.TransactionTimeout)
	}
	if cfg.APISecret != "s3cret" || cfg.LogLevel != zerolog.DebugLevel || cfg.Port != 9090 {
		t.Fatalf("cfg=%+v", cfg)
	}
	if len(cfg.ICEServers) != 2 || cfg.ICEServers[1].Username != "user" {
		t.Fatalf("ice=%+v", cfg.ICEServers)
	}
}

func TestLoad_EnvServerList(t *testing.T) {
	t.Setenv("CONFIG_ENV", "missing")
	t.Setenv("JANUS_SERVERS", "ws://a:8188,ws://b:8188")
	cfg, _, err := Load(afero.NewMemMapFs(), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.Servers) != 2 || cfg.Servers[1] != "ws://b:8188" {
		t.Fatalf("servers=%v", cfg.Servers)
	}
}

func TestLoad_FlagsWin(t *testing.T) {
	t.Setenv("CONFIG_ENV", "dev")
	fs := memFS(t, map[string]string{"config/config.dev.yaml": devYAML})
	flags := NewFlagSet("test")
	if err := flags.Parse([]string{"--server", "wss://override/ws", "--port", "7000", "--watch", "5", "--record-dir", "/var/lib/janus-client"}); err != nil {
		t.Fatalf("parse: %v", err)
	}

	cfg, _, err := Load(fs, flags)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.Servers) != 1 || cfg.Servers[0] != "wss://override/ws" {
		t.Fatalf("servers=%v", cfg.Servers)
	}
	if cfg.Port != 7000 || cfg.Watch != "5" || cfg.RecordDir != "/var/lib/janus-client" {
		t.Fatalf("cfg=%+v", cfg)
	}
	if cfg.LogLevel != zerolog.DebugLevel {
		t.Fatalf("unset flag masked file: %s", cfg.LogLevel)
	}
}

func TestLoad_ExplicitFileMustExist(t *testing.T) {
	flags := NewFlagSet("test")
	if err := flags.Parse([]string{"--config", "/etc/janus-client.yaml"}); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if _, _, err := Load(afero.NewMemMapFs(), flags); err == nil {
		t.Fatalf("missing --config accepted")
	}
}

func TestValidate_Rejects(t *testing.T) {
	cases := map[string]string{
		"scheme":    "servers: [\"ftp://janus\"]\n",
		"no server": "servers: []\n",
		"ice url":   "ice_servers:\n  - urls: [\"http://stun.example.com\"]\n",
		"turn auth": "ice_servers:\n  - urls: [\"turn:turn.example.com\"]\n",
		"mode":      "mode: chaos\n",
		"timeout":   "transaction_timeout: 0s\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv("CONFIG_ENV", "bad")
			fs := memFS(t, map[string]string{"config/config.bad.yaml": body})
			if _, _, err := Load(fs, nil); err == nil {
				t.Fatalf("accepted:\n%s", body)
			}
		})
	}
}

func TestSource_ReloadAppliesLogLevel(t *testing.T) {
	t.Setenv("CONFIG_ENV", "dev")
	fs := memFS(t, map[string]string{"config/config.dev.yaml": devYAML})
	_, src, err := Load(fs, nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	updated := strings.Replace(devYAML, "log_level: debug", "log_level: warn", 1)
	if err := afero.WriteFile(fs, "config/config.dev.yaml", []byte(updated), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	var got []zerolog.Level
	apply := func(l zerolog.Level) { got = append(got, l) }
	src.reload(fsnotify.Event{Name: "config/config.dev.yaml", Op: fsnotify.Chmod}, apply)
	src.reload(fsnotify.Event{Name: "config/config.dev.yaml", Op: fsnotify.Write}, apply)

	if len(got) != 1 || got[0] != zerolog.WarnLevel {
		t.Fatalf("applied=%v", got)
	}
}

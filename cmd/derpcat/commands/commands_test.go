package commands

import (
	"bytes"
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/TheusHen/derpnet/derpnet/derptest"
	"github.com/TheusHen/derpnet/derpnet/discovery"
	"github.com/TheusHen/derpnet/derpnet/key"
)

func init() {
	scryptWorkFactor = 10
}

func run(ctx context.Context, args ...string) (string, string, error) {
	var out, logs bytes.Buffer
	cmd := NewRootCommand(&logs)
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetIn(strings.NewReader(""))
	err := cmd.ExecuteContext(ctx)
	return out.String(), logs.String(), err
}

func writeFile(t *testing.T, path, data string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

func TestKeyFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	priv, err := key.NewPrivate()
	if err != nil {
		t.Fatalf("NewPrivate: %v", err)
	}
	pass := func(s string) func() ([]byte, error) {
		return func() ([]byte, error) { return []byte(s), nil }
	}

	sealed := filepath.Join(dir, "sealed.age")
	if err := WriteKeyFile(sealed, priv, []byte("hunter2")); err != nil {
		t.Fatalf("WriteKeyFile: %v", err)
	}
	data, _ := os.ReadFile(sealed)
	if !keyFileEncrypted(data) || bytes.Contains(data, []byte("privkey:")) {
		t.Fatalf("key file is not armored age:\n%s", data)
	}
	got, err := ReadKeyFile(sealed, pass("hunter2"))
	if err != nil || got != priv {
		t.Fatalf("ReadKeyFile = %v", err)
	}
	if _, err := ReadKeyFile(sealed, pass("wrong")); err == nil {
		t.Fatalf("wrong passphrase accepted")
	}
	if _, err := ReadKeyFile(sealed, pass("")); !errors.Is(err, ErrNoPassphrase) {
		t.Fatalf("empty passphrase = %v", err)
	}

	plainPath := filepath.Join(dir, "clear.key")
	if err := WriteKeyFile(plainPath, priv, nil); err != nil {
		t.Fatalf("WriteKeyFile: %v", err)
	}
	got, err = ReadKeyFile(plainPath, func() ([]byte, error) {
		t.Fatalf("passphrase requested for a plaintext key")
		return nil, nil
	})
	if err != nil || got != priv {
		t.Fatalf("ReadKeyFile plaintext = %v", err)
	}
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	pub := mustKey(t).Public()
	path := filepath.Join(dir, "config.yaml")
	writeFile(t, path, "relay: derp.example.net\nport: 8443\nkey_file: ~/k.age\npeers:\n  - name: alice\n    key: "+pub.String()+"\n")

	cfg, err := LoadConfig(path, false)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	home, _ := os.UserHomeDir()
	if cfg.Relay != "derp.example.net" || cfg.Port != 8443 || cfg.KeyFile != filepath.Join(home, "k.age") {
		t.Fatalf("cfg = %+v", cfg)
	}
	if len(cfg.Peers) != 1 || cfg.Peers[0].Key != pub {
		t.Fatalf("peers = %+v", cfg.Peers)
	}

	if _, err := LoadConfig(filepath.Join(dir, "missing.yaml"), false); err == nil {
		t.Fatalf("missing explicit config accepted")
	}
	if cfg, err := LoadConfig(filepath.Join(dir, "missing.yaml"), true); err != nil || cfg.Relay != "" {
		t.Fatalf("missing optional config = %+v, %v", cfg, err)
	}
	writeFile(t, path, "relya: typo\n")
	if _, err := LoadConfig(path, false); err == nil {
		t.Fatalf("unknown field accepted")
	}
	writeFile(t, path, "")
	if _, err := LoadConfig(path, false); err != nil {
		t.Fatalf("empty config: %v", err)
	}
}

func TestDefaultConfigPathHonorsXDG(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	p, err := DefaultConfigPath()
	if err != nil {
		t.Fatalf("DefaultConfigPath: %v", err)
	}
	if p != filepath.Join(dir, "derpcat", "config.yaml") {
		t.Fatalf("DefaultConfigPath = %s", p)
	}
}

func TestKeyFlag(t *testing.T) {
	var f keyFlag
	if f.String() != "" || f.Type() != "nodekey" {
		t.Fatalf("zero flag = %q, %q", f.String(), f.Type())
	}
	pub := mustKey(t).Public()
	if err := f.Set(pub.String()); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if !f.set || f.key != pub || f.String() != pub.String() {
		t.Fatalf("flag = %+v", f)
	}
	if err := f.Set("nodekey:zz"); err == nil {
		t.Fatalf("Set accepted garbage")
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	l, err := newLogger(&buf, "warn")
	if err != nil {
		t.Fatalf("newLogger: %v", err)
	}
	l.Info("hidden")
	l.Warn("shown", "k", 1)
	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), `"msg":"shown"`) {
		t.Fatalf("log output = %s", buf.String())
	}
	if _, err := newLogger(&buf, "loud"); err == nil {
		t.Fatalf("bad level accepted")
	}
}

func mustKey(t *testing.T) key.Private {
	t.Helper()
	k, err := key.NewPrivate()
	if err != nil {
		t.Fatalf("NewPrivate: %v", err)
	}
	return k
}

func TestSendRecv(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	srv, err := derptest.NewServer(nil)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	defer srv.Close()
	addr, err := srv.ListenTCP("127.0.0.1:0")
	if err != nil {
		t.Fatalf("ListenTCP: %v", err)
	}
	host, p, _ := net.SplitHostPort(addr)
	port, _ := strconv.Atoi(p)

	dir := t.TempDir()
	passFile := filepath.Join(dir, "pass")
	writeFile(t, passFile, "correct horse\n")
	conf := func(name string, peers ...discovery.PeerInfo) string {
		path := filepath.Join(dir, name+".yaml")
		err := SaveConfig(path, Config{
			Relay:   host,
			Port:    port,
			Plain:   true,
			KeyFile: filepath.Join(dir, name+".key"),
			Peers:   peers,
		})
		if err != nil {
			t.Fatalf("SaveConfig: %v", err)
		}
		return path
	}
	aliceConf, bobConf := conf("alice"), conf("bob")

	out, _, err := run(ctx, "--config", aliceConf, "--passphrase-file", passFile, "keygen")
	if err != nil {
		t.Fatalf("keygen alice: %v", err)
	}
	alicePub, err := key.ParsePublic(strings.TrimSpace(out))
	if err != nil {
		t.Fatalf("keygen output %q: %v", out, err)
	}
	if _, _, err := run(ctx, "--config", aliceConf, "--passphrase-file", passFile, "keygen"); err == nil {
		t.Fatalf("keygen overwrote an existing key")
	}
	out, _, err = run(ctx, "--config", bobConf, "keygen", "--plaintext")
	if err != nil {
		t.Fatalf("keygen bob: %v", err)
	}
	bobPub, _ := key.ParsePublic(strings.TrimSpace(out))

	out, _, err = run(ctx, "--config", aliceConf, "--passphrase-file", passFile, "pubkey")
	if err != nil || strings.TrimSpace(out) != alicePub.String() {
		t.Fatalf("pubkey = %q, %v", out, err)
	}

	aliceConf = conf("alice", discovery.PeerInfo{Name: "bob", Key: bobPub})
	bobConf = conf("bob", discovery.PeerInfo{Name: "alice", Key: alicePub})

	out, _, err = run(ctx, "--config", aliceConf, "peers")
	if err != nil || !strings.HasPrefix(out, "bob\t"+bobPub.String()) {
		t.Fatalf("peers = %q, %v", out, err)
	}

	type result struct {
		out string
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, _, err := run(ctx, "--config", bobConf, "recv", "-n", "1", "--label", "--from", alicePub.String())
		done <- result{out, err}
	}()
	for !srv.Connected(bobPub) {
		select {
		case r := <-done:
			t.Fatalf("recv exited early: %v", r.err)
		case <-ctx.Done():
			t.Fatalf("bob never connected")
		case <-time.After(10 * time.Millisecond):
		}
	}

	if _, _, err := run(ctx, "--config", aliceConf, "--passphrase-file", passFile, "send", "bob", "hello bob"); err != nil {
		t.Fatalf("send: %v", err)
	}
	r := <-done
	if r.err != nil {
		t.Fatalf("recv: %v", r.err)
	}
	if r.out != "alice: hello bob\n" {
		t.Fatalf("recv output = %q", r.out)
	}

	if _, _, err := run(ctx, "--config", aliceConf, "--passphrase-file", passFile, "send", "carol", "x"); err == nil {
		t.Fatalf("send to unknown peer succeeded")
	}
}

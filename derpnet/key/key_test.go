package key

import (
	"bytes"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

func TestPublicDerivationStable(t *testing.T) {
	priv, err := NewPrivate()
	if err != nil {
		t.Fatalf("NewPrivate: %v", err)
	}

	pub1 := priv.Public()
	pub2 := priv.Public()
	if pub1 != pub2 {
		t.Fatalf("Public mismatch")
	}

	parsed, err := ParsePublic(pub1.String())
	if err != nil {
		t.Fatalf("ParsePublic: %v", err)
	}
	if parsed != pub1 {
		t.Fatalf("ParsePublic mismatch")
	}
}

func TestParsePublicBareHex(t *testing.T) {
	priv, _ := NewPrivate()
	pub := priv.Public()
	s := strings.TrimPrefix(pub.String(), "nodekey:")
	parsed, err := ParsePublic(s)
	if err != nil {
		t.Fatalf("ParsePublic: %v", err)
	}
	if parsed != pub {
		t.Fatalf("ParsePublic mismatch")
	}
}

func TestParseInvalid(t *testing.T) {
	for _, s := range []string{"", "nodekey:", "nodekey:zz", "nodekey:" + strings.Repeat("ab", 31)} {
		if _, err := ParsePublic(s); err != ErrInvalidKey {
			t.Fatalf("ParsePublic(%q) error = %v, want ErrInvalidKey", s, err)
		}
	}
}

func TestPrivateStringRedacted(t *testing.T) {
	priv, _ := NewPrivate()
	text, err := priv.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText: %v", err)
	}
	if strings.Contains(priv.String(), string(text[len("privkey:"):])) {
		t.Fatalf("String leaked the private key")
	}

	parsed, err := ParsePrivate(string(text))
	if err != nil {
		t.Fatalf("ParsePrivate: %v", err)
	}
	if parsed != priv {
		t.Fatalf("ParsePrivate mismatch")
	}
}

func TestNewPrivateFromDeterministic(t *testing.T) {
	seed := bytes.Repeat([]byte{7}, 32)
	a, err := NewPrivateFrom(bytes.NewReader(seed))
	if err != nil {
		t.Fatalf("NewPrivateFrom: %v", err)
	}
	b, _ := NewPrivateFrom(bytes.NewReader(seed))
	if a != b {
		t.Fatalf("same seed gave different keys")
	}
	if a[0]&7 != 0 || a[31]&0x80 != 0 || a[31]&0x40 == 0 {
		t.Fatalf("key not clamped")
	}
}

func TestPublicYAML(t *testing.T) {
	priv, _ := NewPrivate()
	in := struct {
		Key Public `yaml:"key"`
	}{Key: priv.Public()}

	out, err := yaml.Marshal(in)
	if err != nil {
		t.Fatalf("yaml.Marshal: %v", err)
	}
	if !strings.Contains(string(out), "nodekey:") {
		t.Fatalf("yaml output %q missing key prefix", out)
	}

	var back struct {
		Key Public `yaml:"key"`
	}
	if err := yaml.Unmarshal(out, &back); err != nil {
		t.Fatalf("yaml.Unmarshal: %v", err)
	}
	if back.Key != in.Key {
		t.Fatalf("key changed through yaml")
	}
}

package commands

import (
	"github.com/spf13/pflag"

	"github.com/TheusHen/derpnet/derpnet/key"
)

// keyFlag is a public key flag accepting "nodekey:<hex>" or bare hex.
type keyFlag struct {
	key key.Public
	set bool
}

var _ pflag.Value = (*keyFlag)(nil)

func (f *keyFlag) String() string {
	if !f.set {
		return ""
	}
	return f.key.String()
}

func (f *keyFlag) Set(s string) error {
	k, err := key.ParsePublic(s)
	if err != nil {
		return err
	}
	f.key, f.set = k, true
	return nil
}

func (f *keyFlag) Type() string { return "nodekey" }

package commands

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"filippo.io/age"
	"filippo.io/age/armor"

	"github.com/TheusHen/derpnet/derpnet/key"
)

// scryptWorkFactor is the age scrypt cost for new key files.
var scryptWorkFactor = 18

var ErrNoPassphrase = errors.New("key file is encrypted and no passphrase was given")

// WriteKeyFile stores priv at path. With a passphrase the key is sealed in
// an armored age file; without one it is written in the clear.
func WriteKeyFile(path string, priv key.Private, passphrase []byte) error {
	text, err := priv.MarshalText()
	if err != nil {
		return err
	}
	var out bytes.Buffer
	if len(passphrase) == 0 {
		out.Write(text)
		out.WriteByte('\n')
	} else {
		r, err := age.NewScryptRecipient(string(passphrase))
		if err != nil {
			return err
		}
		r.SetWorkFactor(scryptWorkFactor)
		aw := armor.NewWriter(&out)
		w, err := age.Encrypt(aw, r)
		if err != nil {
			return fmt.Errorf("creating age encryptor: %w", err)
		}
		if _, err := w.Write(text); err != nil {
			return fmt.Errorf("writing key: %w", err)
		}
		if err := w.Close(); err != nil {
			return fmt.Errorf("finalizing age encryption: %w", err)
		}
		if err := aw.Close(); err != nil {
			return err
		}
	}
	wipe(text)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(path, out.Bytes(), 0o600)
}

// keyFileEncrypted reports whether data is an armored age file.
func keyFileEncrypted(data []byte) bool {
	return bytes.HasPrefix(bytes.TrimSpace(data), []byte(armor.Header))
}

// ReadKeyFile loads a key written by WriteKeyFile. passphrase is only
// consulted for encrypted files.
func ReadKeyFile(path string, passphrase func() ([]byte, error)) (key.Private, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return key.Private{}, fmt.Errorf("reading key file: %w", err)
	}
	if !keyFileEncrypted(data) {
		priv, err := key.ParsePrivate(strings.TrimSpace(string(data)))
		wipe(data)
		return priv, err
	}

	pass, err := passphrase()
	if err != nil {
		return key.Private{}, err
	}
	if len(pass) == 0 {
		return key.Private{}, ErrNoPassphrase
	}
	id, err := age.NewScryptIdentity(string(pass))
	wipe(pass)
	if err != nil {
		return key.Private{}, err
	}
	r, err := age.Decrypt(armor.NewReader(bytes.NewReader(data)), id)
	if err != nil {
		return key.Private{}, fmt.Errorf("decrypting key file: %w", err)
	}
	text, err := io.ReadAll(bufio.NewReader(r))
	if err != nil {
		return key.Private{}, fmt.Errorf("reading decrypted key: %w", err)
	}
	defer wipe(text)
	return key.ParsePrivate(strings.TrimSpace(string(text)))
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

package commands

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"golang.org/x/term"
)

// PassphraseEnv is read when no passphrase file is given.
const PassphraseEnv = "DERPCAT_PASSPHRASE"

var errNoTerminal = errors.New("no terminal available for passphrase prompt (use --passphrase-file or " + PassphraseEnv + ")")

// readPassphrase returns the passphrase from file, the environment, or an
// interactive prompt, in that order. confirm asks twice.
func readPassphrase(file string, confirm bool) ([]byte, error) {
	if file != "" && file != "-" {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("reading passphrase file: %w", err)
		}
		return bytes.TrimRight(data, "\r\n"), nil
	}
	if env := os.Getenv(PassphraseEnv); env != "" {
		return []byte(env), nil
	}

	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return nil, errNoTerminal
	}
	fmt.Fprint(os.Stderr, "Passphrase: ")
	first, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("reading passphrase: %w", err)
	}
	if !confirm {
		return first, nil
	}
	fmt.Fprint(os.Stderr, "Confirm passphrase: ")
	second, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("reading passphrase: %w", err)
	}
	defer wipe(second)
	if !bytes.Equal(first, second) {
		wipe(first)
		return nil, errors.New("passphrases do not match")
	}
	return first, nil
}

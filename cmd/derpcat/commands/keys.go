package commands

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"github.com/TheusHen/derpnet/derpnet"
)

func keygenCmd(a *app) *cobra.Command {
	var plaintext, force bool
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a private key and print its public key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := a.cfg.KeyFile
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s exists (use --force to replace it)", path)
			} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
				return err
			}

			var pass []byte
			if !plaintext {
				var err error
				if pass, err = readPassphrase(a.passphraseFile, true); err != nil {
					return err
				}
				defer wipe(pass)
			}
			priv, pub, err := derpnet.GenerateKeyPair()
			if err != nil {
				return err
			}
			if err := WriteKeyFile(path, priv, pass); err != nil {
				return err
			}
			a.logger.Info("key generated", "file", path, "encrypted", !plaintext)
			fmt.Fprintln(cmd.OutOrStdout(), pub)
			return nil
		},
	}
	cmd.Flags().BoolVar(&plaintext, "plaintext", false, "store the key unencrypted")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing key file")
	return cmd
}

func pubkeyCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "pubkey",
		Short: "Print the public key of the configured private key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			priv, err := a.privateKey()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), derpnet.GetPublicKey(priv))
			return nil
		},
	}
}

func peersCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "peers",
		Short: "List peers from the config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := a.peers.List()
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			for _, p := range list {
				relay := p.Relay
				if relay == "" {
					relay = "-"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", p.Name, p.Key, relay)
			}
			return nil
		},
	}
}

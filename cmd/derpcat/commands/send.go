package commands

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/TheusHen/derpnet/derpnet"
	"github.com/TheusHen/derpnet/derpnet/transfer"
)

type transferFlags struct {
	codec  string
	parity int
}

func (f *transferFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.codec, "codec", "zstd", "compression: none, lz4 or zstd")
	cmd.Flags().IntVar(&f.parity, "parity", transfer.DefaultParityPercent, "parity shards as a percentage of data shards, -1 for none")
}

func (f *transferFlags) config() (transfer.Config, error) {
	codec, err := transfer.ParseCodec(f.codec)
	if err != nil {
		return transfer.Config{}, err
	}
	return transfer.Config{Codec: codec, ParityPercent: f.parity}, nil
}

func sendCmd(a *app) *cobra.Command {
	var tf transferFlags
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "send <peer> [message]",
		Short: "Send a message, or stdin, to a peer",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			peer, err := a.resolve(args[0])
			if err != nil {
				return err
			}
			relay, err := a.relayFor(cmd, peer)
			if err != nil {
				return err
			}
			tcfg, err := tf.config()
			if err != nil {
				return err
			}

			var msg []byte
			if len(args) == 2 {
				msg = []byte(args[1])
			} else if msg, err = io.ReadAll(io.LimitReader(cmd.InOrStdin(), transfer.DefaultMaxMessage+1)); err != nil {
				return fmt.Errorf("reading stdin: %w", err)
			}

			priv, err := a.privateKey()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}
			p, err := derpnet.Dial(ctx, relay, priv, tcfg, a.sessionOptions()...)
			if err != nil {
				return err
			}
			defer p.Close()

			id, err := p.SendMessage(peer.Key, msg)
			if err != nil {
				return err
			}
			st := p.Stats()
			a.logger.Info("sent",
				"to", peer.Key.ShortString(),
				"relay", relay,
				"id", id,
				"bytes", len(msg),
				"packets", st.Sent.Packets)
			return nil
		},
	}
	tf.register(cmd)
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "give up connecting after this long")
	return cmd
}

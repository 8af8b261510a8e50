package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/TheusHen/derpnet/derpnet"
	"github.com/TheusHen/derpnet/derpnet/discovery"
	"github.com/TheusHen/derpnet/derpnet/session"
)

func recvCmd(a *app) *cobra.Command {
	var (
		tf      transferFlags
		from    keyFlag
		count   int
		timeout time.Duration
		label   bool
	)
	cmd := &cobra.Command{
		Use:   "recv",
		Short: "Print messages addressed to this key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			relay, err := a.relayFor(cmd, discovery.PeerInfo{})
			if err != nil {
				return err
			}
			tcfg, err := tf.config()
			if err != nil {
				return err
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
			a.logger.Info("listening", "relay", relay, "key", p.PublicKey().String())

			out := cmd.OutOrStdout()
			for n := 0; count == 0 || n < count; {
				msg, err := p.RecvMessage(ctx)
				if errors.Is(err, session.ErrTimeout) || errors.Is(err, context.Canceled) {
					if count == 0 {
						return nil
					}
					return fmt.Errorf("received %d of %d messages: %w", n, count, err)
				}
				if err != nil {
					return err
				}
				if from.set && msg.Source != from.key {
					a.logger.Debug("ignoring message", "from", msg.Source.ShortString())
					continue
				}
				if label {
					name := msg.Source.ShortString()
					if info, err := a.peers.Lookup(msg.Source); err == nil && info.Name != "" {
						name = info.Name
					}
					fmt.Fprintf(out, "%s: ", name)
				}
				if _, err := out.Write(msg.Data); err != nil {
					return err
				}
				if label {
					fmt.Fprintln(out)
				}
				n++
			}
			return nil
		},
	}
	tf.register(cmd)
	cmd.Flags().Var(&from, "from", "only accept messages from this key")
	cmd.Flags().IntVarP(&count, "count", "n", 0, "exit after this many messages (0 for no limit)")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "exit after this long (0 for no limit)")
	cmd.Flags().BoolVarP(&label, "label", "l", false, "prefix each message with its sender")
	return cmd
}

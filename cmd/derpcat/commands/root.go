package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/TheusHen/derpnet/derpnet/discovery"
	"github.com/TheusHen/derpnet/derpnet/discovery/memory"
	"github.com/TheusHen/derpnet/derpnet/key"
	"github.com/TheusHen/derpnet/derpnet/session"
)

// app carries settings shared by every subcommand.
type app struct {
	configPath     string
	passphraseFile string

	relay    string
	port     int
	plain    bool
	keyFile  string
	logLevel string

	cfg    Config
	peers  *memory.Store
	logger *slog.Logger
	stderr io.Writer
}

// Execute runs the CLI with the process arguments.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return NewRootCommand(os.Stderr).ExecuteContext(ctx)
}

// NewRootCommand builds the command tree. Logs go to stderr.
func NewRootCommand(stderr io.Writer) *cobra.Command {
	a := &app{stderr: stderr}
	root := &cobra.Command{
		Use:           "derpcat",
		Short:         "Send and receive messages through a DERP relay",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load(cmd)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "config file (default $XDG_CONFIG_HOME/derpcat/config.yaml)")
	pf.StringVar(&a.relay, "relay", "", "relay host name")
	pf.IntVar(&a.port, "port", 0, "relay port (default 443, or 80 with --plain)")
	pf.BoolVar(&a.plain, "plain", false, "connect without TLS")
	pf.StringVar(&a.keyFile, "key-file", "", "private key file (default key.age next to the config)")
	pf.StringVar(&a.logLevel, "log-level", "", "debug, info, warn or error")
	pf.StringVar(&a.passphraseFile, "passphrase-file", "", "read the key passphrase from this file")

	root.AddCommand(keygenCmd(a), pubkeyCmd(a), sendCmd(a), recvCmd(a), peersCmd(a), relayCmd(a))
	return root
}

// load reads the config file and lets changed flags override it.
func (a *app) load(cmd *cobra.Command) error {
	optional := a.configPath == ""
	if optional {
		p, err := DefaultConfigPath()
		if err != nil {
			return err
		}
		a.configPath = p
	}
	cfg, err := LoadConfig(a.configPath, optional)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("relay") {
		cfg.Relay = a.relay
	}
	if flags.Changed("port") {
		cfg.Port = a.port
	}
	if flags.Changed("plain") {
		cfg.Plain = a.plain
	}
	if flags.Changed("key-file") {
		cfg.KeyFile = a.keyFile
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = a.logLevel
	}
	if cfg.KeyFile == "" {
		cfg.KeyFile = defaultKeyFile(a.configPath)
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	a.cfg = cfg

	if a.logger, err = newLogger(a.stderr, cfg.LogLevel); err != nil {
		return err
	}
	if a.peers, err = memory.Load(cfg.Peers); err != nil {
		return fmt.Errorf("config peers: %w", err)
	}
	return nil
}

func (a *app) privateKey() (key.Private, error) {
	return ReadKeyFile(a.cfg.KeyFile, func() ([]byte, error) {
		return readPassphrase(a.passphraseFile, false)
	})
}

// resolve accepts a configured peer name or a public key.
func (a *app) resolve(s string) (discovery.PeerInfo, error) {
	info, err := a.peers.LookupName(s)
	if err == nil {
		return info, nil
	}
	if !errors.Is(err, discovery.ErrNotFound) {
		return info, err
	}
	k, perr := key.ParsePublic(s)
	if perr != nil {
		return discovery.PeerInfo{}, fmt.Errorf("%q is neither a configured peer nor a key", s)
	}
	if info, err := a.peers.Lookup(k); err == nil {
		return info, nil
	}
	return discovery.PeerInfo{Key: k}, nil
}

// sessionOptions builds session.Open options for relay. Flags win over a
// peer's relay, which wins over the config.
func (a *app) sessionOptions() []session.Option {
	opts := []session.Option{session.WithLogger(a.logger)}
	if a.cfg.Plain {
		opts = append(opts, session.WithPlainHTTP(true))
	}
	if a.cfg.Port != 0 {
		opts = append(opts, session.WithPort(a.cfg.Port))
	}
	return opts
}

func (a *app) relayFor(cmd *cobra.Command, peer discovery.PeerInfo) (string, error) {
	relay := a.cfg.Relay
	if peer.Relay != "" && !cmd.Flags().Changed("relay") {
		relay = peer.Relay
	}
	if relay == "" {
		return "", errors.New("no relay configured (use --relay or set relay in the config)")
	}
	return relay, nil
}

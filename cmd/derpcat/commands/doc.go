// Package commands implements the derpcat CLI: key management, sending and
// receiving messages through a DERP relay, and a local development relay.
//
// Settings come from a YAML file (default $XDG_CONFIG_HOME/derpcat/config.yaml)
// and can be overridden by flags:
//
//	relay: derp1.example.net
//	port: 443
//	plain: false
//	key_file: ~/.config/derpcat/key.age
//	log_level: info
//	peers:
//	  - name: alice
//	    key: nodekey:3b6a...
//	    relay: derp2.example.net
package commands

package protocol

import (
	"bufio"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

const (
	// UpgradePath is the HTTP path the relay serves the protocol on.
	UpgradePath = "/derp"
	// UpgradeProtocol is the Upgrade header value.
	UpgradeProtocol = "DERP"
	// FastStartHeader asks the relay to skip the HTTP 101 response and start
	// sending frames immediately.
	FastStartHeader = "Derp-Fast-Start"
)

var ErrBadUpgrade = errors.New("protocol: bad upgrade request")

// UpgradeRequest returns the request a client sends once its secure channel
// is up. No HTTP response is expected.
func UpgradeRequest(host string) []byte {
	return []byte(fmt.Sprintf("GET %s HTTP/1.1\r\n"+
		"Host: %s\r\n"+
		"Connection: Upgrade\r\n"+
		"Upgrade: %s\r\n"+
		"%s: 1\r\n"+
		"\r\n", UpgradePath, host, UpgradeProtocol, FastStartHeader))
}

// ReadUpgradeRequest parses a client upgrade request on the relay side and
// reports whether the client asked for fast start.
func ReadUpgradeRequest(br *bufio.Reader) (fastStart bool, err error) {
	req, err := http.ReadRequest(br)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrBadUpgrade, err)
	}
	if req.Body != nil {
		req.Body.Close()
	}
	if req.Method != http.MethodGet || req.URL.Path != UpgradePath {
		return false, fmt.Errorf("%w: %s %s", ErrBadUpgrade, req.Method, req.URL.Path)
	}
	if !strings.EqualFold(req.Header.Get("Upgrade"), UpgradeProtocol) {
		return false, fmt.Errorf("%w: upgrade %q", ErrBadUpgrade, req.Header.Get("Upgrade"))
	}
	return req.Header.Get(FastStartHeader) == "1", nil
}

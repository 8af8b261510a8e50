//go:build !unix

package securechan

import "net"

func readNonblocking(conn net.Conn, p []byte) (int, error) {
	return readWithDeadline(conn, p)
}

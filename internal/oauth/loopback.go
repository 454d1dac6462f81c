package oauth

import (
	"fmt"
	"net"

	"github.com/sanjay8views/whatsapp-bsp-ui-nexus/internal/logging"
)

// loopbackListener wraps a net.Listener and only accepts connections
// from the loopback interface. The redirect endpoint carries an
// authorization code, so connections from any other source are closed
// at the socket level before HTTP processing.
type loopbackListener struct {
	net.Listener
}

func (l *loopbackListener) Accept() (net.Conn, error) {
	for {
		conn, err := l.Listener.Accept()
		if err != nil {
			return nil, err
		}

		if !isLoopbackConn(conn) {
			logging.Auth().Warn("rejected non-loopback connection on redirect port",
				"remote_addr", conn.RemoteAddr().String())
			conn.Close()
			continue
		}

		return conn, nil
	}
}

func isLoopbackConn(conn net.Conn) bool {
	remote := conn.RemoteAddr()
	if remote == nil {
		return false
	}

	host, _, err := net.SplitHostPort(remote.String())
	if err != nil {
		host = remote.String()
	}

	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// listenLoopback binds a TCP listener to 127.0.0.1 and returns the
// actual port. A port of 0 selects a random free one.
func listenLoopback(port int) (net.Listener, int, error) {
	addr := fmt.Sprintf("127.0.0.1:%d", port)
	inner, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	actual := inner.Addr().(*net.TCPAddr).Port
	return &loopbackListener{Listener: inner}, actual, nil
}

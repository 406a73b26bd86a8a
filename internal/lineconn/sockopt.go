package lineconn

import (
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// listenConfig enables SO_REUSEADDR on the listening socket so a proxy
// restart does not have to wait out TIME_WAIT on the previous listener,
// the one bit of raw socket tuning that matters for the accept side.
var listenConfig = net.ListenConfig{
	Control: func(_, _ string, c syscall.RawConn) error {
		var sockErr error
		err := c.Control(func(fd uintptr) {
			sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
		})
		if err != nil {
			return err
		}
		return sockErr
	},
}

// tuneConn disables Nagle's algorithm on an established connection. The
// proxy forwards single interactive lines at a time; coalescing them
// behind Nagle's 40ms-ish delay would reintroduce the latency a MUD
// client expects the OS not to add.
func tuneConn(conn net.Conn) {
	tc, ok := conn.(*net.TCPConn)
	if !ok {
		return
	}
	raw, err := tc.SyscallConn()
	if err != nil {
		return
	}
	_ = raw.Control(func(fd uintptr) {
		_ = unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
	})
}

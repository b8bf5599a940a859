package server

import (
	"fmt"
	"net"
)

// FindAvailablePort asks the kernel for an unused local TCP port.
// Binding :0 guarantees the returned port does not collide with other
// concurrently allocated ports.
func FindAvailablePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, fmt.Errorf("failed to allocate port: %w", err)
	}
	defer l.Close()

	addr, ok := l.Addr().(*net.TCPAddr)
	if !ok {
		return 0, fmt.Errorf("unexpected listener address type %T", l.Addr())
	}

	return addr.Port, nil
}

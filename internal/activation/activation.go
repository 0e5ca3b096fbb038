// Package activation resolves the gateway listener, preferring a socket
// passed in by systemd over binding one ourselves.
package activation

import (
	"fmt"
	"net"
	"os"
	"strconv"
)

// firstFD is where systemd starts passing descriptors (after stdin, stdout, stderr)
const firstFD = 3

// Listen returns the socket-activated listener when one was passed to this
// process, otherwise it binds addr. The bool reports which path was taken.
func Listen(addr string) (net.Listener, bool, error) {
	listeners, err := Listeners()
	if err != nil {
		return nil, false, err
	}
	if len(listeners) > 0 {
		// Only one gateway socket is served; extras are closed.
		for _, extra := range listeners[1:] {
			_ = extra.Close()
		}
		return listeners[0], true, nil
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, false, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return ln, false, nil
}

// Listeners returns the systemd-activated listeners, or nil if activation
// is absent or targets another process
func Listeners() ([]net.Listener, error) {
	pid, ok, err := envInt("LISTEN_PID")
	if err != nil || !ok || pid != os.Getpid() {
		return nil, err
	}

	count, ok, err := envInt("LISTEN_FDS")
	if err != nil || !ok || count < 1 {
		return nil, err
	}

	listeners := make([]net.Listener, 0, count)
	for i := 0; i < count; i++ {
		ln, err := fileListener(firstFD+i, i)
		if err != nil {
			for _, l := range listeners {
				_ = l.Close()
			}
			return nil, err
		}
		listeners = append(listeners, ln)
	}

	// Child processes (rsync) must not inherit the activation environment.
	_ = os.Unsetenv("LISTEN_PID")
	_ = os.Unsetenv("LISTEN_FDS")
	_ = os.Unsetenv("LISTEN_FDNAMES")

	return listeners, nil
}

func fileListener(fd, index int) (net.Listener, error) {
	file := os.NewFile(uintptr(fd), fmt.Sprintf("systemd-socket-%d", index))
	if file == nil {
		return nil, fmt.Errorf("failed to create file for fd %d", fd)
	}
	// net.FileListener dups the descriptor.
	defer func() { _ = file.Close() }()

	ln, err := net.FileListener(file)
	if err != nil {
		return nil, fmt.Errorf("failed to create listener from fd %d: %w", fd, err)
	}
	return ln, nil
}

func envInt(name string) (int, bool, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return 0, false, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false, fmt.Errorf("invalid %s %q: %w", name, raw, err)
	}
	return n, true, nil
}

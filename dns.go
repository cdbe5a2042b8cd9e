package asyncrt

import (
	"context"
	"net"
)

type hostAddrResult struct {
	addrs []net.IPAddr
	err   error
}

// GetHostAddresses resolves host to its IP addresses, dispatched to the
// loop's file worker pool rather than the reactor poller: DNS resolution
// here rides Go's resolver (which itself may shell out to getaddrinfo or
// speak the wire protocol directly depending on GOOS/cgo), neither of
// which exposes a file descriptor this reactor could register — the same
// "blocking syscall with no fd to poll" shape as the filesystem ops, so it
// shares their worker-pool dispatch rather than inventing a second one.
func GetHostAddresses(ctx context.Context, l *Loop, host string) ([]net.IPAddr, error) {
	res, cerr := runOnFilePool(l, ctx, func() hostAddrResult {
		addrs, err := net.DefaultResolver.LookupIPAddr(context.Background(), host)
		return hostAddrResult{addrs, err}
	})
	if cerr != nil {
		return nil, cerr
	}
	if res.err != nil {
		return nil, newError("get_host_addresses", CodeNotFound, res.err)
	}
	return res.addrs, nil
}

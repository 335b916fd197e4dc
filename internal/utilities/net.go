package utilities

import (
	"context"
	"net"

	"github.com/pkg/errors"
)

// OutboundIP returns the local address the kernel picks to reach addr. UDP
// dialing sends no packets.
func OutboundIP(ctx context.Context, addr string) (net.IP, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "udp", addr)
	if err != nil {
		return nil, err
	}
	defer func() { _ = conn.Close() }()

	local, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return nil, errors.Errorf("unexpected local address %T", conn.LocalAddr())
	}
	return local.IP, nil
}

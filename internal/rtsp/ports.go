package rtsp

import (
	"context"
	"errors"
	"fmt"

	psnet "github.com/shirou/gopsutil/v3/net"
)

// First port tried for the RTP/RTCP pair of a unicast session.
const firstClientPort = 40000

// UsedPortsFunc reports the local ports currently bound on the host.
type UsedPortsFunc func(ctx context.Context) (map[int]bool, error)

// SystemUsedPorts lists the local ports of all TCP and UDP sockets.
func SystemUsedPorts(ctx context.Context) (map[int]bool, error) {
	conns, err := psnet.ConnectionsWithContext(ctx, "inet")
	if err != nil {
		return nil, fmt.Errorf("rtsp: list connections: %w", err)
	}
	used := make(map[int]bool, len(conns))
	for _, c := range conns {
		used[int(c.Laddr.Port)] = true
	}
	return used, nil
}

// FreePortPair returns the first even port p >= 40000 for which neither p
// nor p+1 is in use.
func FreePortPair(ctx context.Context, usedPorts UsedPortsFunc) (rtp, rtcp int, err error) {
	used, err := usedPorts(ctx)
	if err != nil {
		return 0, 0, err
	}
	for p := firstClientPort; p+1 <= 65535; p += 2 {
		if !used[p] && !used[p+1] {
			return p, p + 1, nil
		}
	}
	return 0, 0, errors.New("rtsp: no free client port pair")
}

package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"syscall"

	"golang.org/x/net/ipv4"
	"golang.org/x/sys/unix"
)

// ErrClosed is returned by reads on a closed listener.
var ErrClosed = errors.New("media: listener closed")

// Config selects the local socket of a listener.
type Config struct {
	// Port is the local UDP port.
	Port int
	// Group is the multicast destination announced by the server, or nil
	// for unicast delivery.
	Group net.IP
	// Interface names the interface used for the multicast join. Empty
	// selects the first multicast-capable interface that is up.
	Interface string
	Logger    *slog.Logger
}

func (c Config) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

// listenUDP binds the listener socket with SO_REUSEADDR so a port pair
// released by a previous session can be bound again at once, and joins
// the multicast group when one is configured.
func listenUDP(ctx context.Context, cfg Config, log *slog.Logger) (*net.UDPConn, error) {
	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var sockErr error
			err := c.Control(func(fd uintptr) {
				if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
					sockErr = fmt.Errorf("set SO_REUSEADDR: %w", err)
				}
			})
			if err != nil {
				return err
			}
			return sockErr
		},
	}

	addr := &net.UDPAddr{IP: net.IPv4zero, Port: cfg.Port}
	pc, err := lc.ListenPacket(ctx, "udp4", addr.String())
	if err != nil {
		return nil, fmt.Errorf("media: listen udp %d: %w", cfg.Port, err)
	}
	conn := pc.(*net.UDPConn)

	if err := conn.SetReadBuffer(1024 * 1024); err != nil {
		log.Warn("failed to set read buffer size", "error", err)
	}

	if cfg.Group == nil || !cfg.Group.IsMulticast() {
		return conn, nil
	}

	iface, err := multicastInterface(cfg.Interface)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("media: %w", err)
	}
	p := ipv4.NewPacketConn(conn)
	group := &net.UDPAddr{IP: cfg.Group}
	if err := p.JoinGroup(iface, group); err != nil {
		conn.Close()
		return nil, fmt.Errorf("media: join %s on %s: %w", cfg.Group, iface.Name, err)
	}
	log.Debug("joined multicast group", "group", cfg.Group.String(), "iface", iface.Name)
	return conn, nil
}

func multicastInterface(name string) (*net.Interface, error) {
	if name != "" {
		return net.InterfaceByName(name)
	}
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagMulticast == 0 {
			continue
		}
		if iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		return &iface, nil
	}
	return nil, errors.New("no multicast-capable interface found")
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

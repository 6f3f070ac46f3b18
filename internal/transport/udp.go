package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/pion/rtp"
)

// DatagramHandler receives each raw inbound datagram for a media port.
type DatagramHandler func(callID string, datagram []byte)

// UDPMediaPort is one call's RTP socket. It receives the remote party's
// audio and, after learning the remote address from the first inbound
// packet, carries the synthesized return audio.
type UDPMediaPort struct {
	callID string
	log    *slog.Logger
	conn   *net.UDPConn
	cancel context.CancelFunc

	mu     sync.Mutex
	remote *net.UDPAddr
}

// NewUDPMediaPort binds a random local UDP port for one call.
func NewUDPMediaPort(callID string, log *slog.Logger) (*UDPMediaPort, error) {
	if log == nil {
		log = slog.Default()
	}
	addr, err := net.ResolveUDPAddr("udp", "0.0.0.0:0")
	if err != nil {
		return nil, fmt.Errorf("resolve rtp address: %w", err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen rtp: %w", err)
	}
	return &UDPMediaPort{
		callID: callID,
		log:    log.With("call_id", callID),
		conn:   conn,
	}, nil
}

// LocalPort is the bound RTP port, advertised to the remote party in
// the SDP answer.
func (p *UDPMediaPort) LocalPort() int {
	return p.conn.LocalAddr().(*net.UDPAddr).Port
}

// SetRemote pins the return address from signaling. Without it the
// port falls back to the source address of the first inbound packet,
// which also covers NATed senders.
func (p *UDPMediaPort) SetRemote(addr *net.UDPAddr) {
	p.mu.Lock()
	p.remote = addr
	p.mu.Unlock()
}

// Start launches the receive loop. Each datagram is handed to fn as-is;
// parsing and payload filtering happen downstream.
func (p *UDPMediaPort) Start(ctx context.Context, fn DatagramHandler) {
	ctx, p.cancel = context.WithCancel(ctx)
	p.log.Info("media port listening", "rtp_port", p.LocalPort())

	go func() {
		defer p.conn.Close()
		buffer := make([]byte, 1500)
		var received uint64

		for {
			select {
			case <-ctx.Done():
				p.log.Info("media port stopped", "packets", received)
				return
			default:
			}

			// Short read deadline so the context check above runs.
			_ = p.conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))

			n, remoteAddr, err := p.conn.ReadFromUDP(buffer)
			if err != nil {
				var netErr net.Error
				if errors.As(err, &netErr) && netErr.Timeout() {
					continue
				}
				if ctx.Err() != nil {
					return
				}
				p.log.Warn("rtp read failed", "err", err)
				continue
			}
			received++

			p.mu.Lock()
			if p.remote == nil {
				p.remote = remoteAddr
				p.log.Info("learned remote rtp address", "remote_addr", remoteAddr.String())
			}
			p.mu.Unlock()

			datagram := make([]byte, n)
			copy(datagram, buffer[:n])
			fn(p.callID, datagram)
		}
	}()
}

// WritePacket sends one RTP packet to the remote party. Packets are
// dropped until the remote address is known.
func (p *UDPMediaPort) WritePacket(pkt *rtp.Packet) error {
	p.mu.Lock()
	remote := p.remote
	p.mu.Unlock()
	if remote == nil {
		return nil
	}

	data, err := pkt.Marshal()
	if err != nil {
		return fmt.Errorf("marshal rtp: %w", err)
	}
	if _, err := p.conn.WriteToUDP(data, remote); err != nil {
		return fmt.Errorf("write rtp: %w", err)
	}
	return nil
}

// Close stops the receive loop and releases the socket.
func (p *UDPMediaPort) Close() {
	if p.cancel != nil {
		p.cancel()
		return
	}
	_ = p.conn.Close()
}

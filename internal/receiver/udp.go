package receiver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog"
)

const SourceUDP = "udp"

// Listener reads Bus Mirroring datagrams from a UDP socket.
type Listener struct {
	conn       net.PacketConn
	readBuffer int
	logger     zerolog.Logger
}

func Listen(addr string, readBuffer int, logger zerolog.Logger) (*Listener, error) {
	conn, err := net.ListenPacket("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen udp %s: %w", addr, err)
	}
	if readBuffer <= 0 {
		readBuffer = 64 * 1024
	}
	return &Listener{conn: conn, readBuffer: readBuffer, logger: logger}, nil
}

func (l *Listener) Addr() net.Addr {
	return l.conn.LocalAddr()
}

// Serve hands every datagram to h until ctx is cancelled or the socket
// fails. Decode errors returned by h never stop the loop.
func (l *Listener) Serve(ctx context.Context, h Handler) error {
	stop := context.AfterFunc(ctx, func() {
		_ = l.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	l.logger.Info().Str("addr", l.Addr().String()).Msg("udp listener started")
	// One spare byte: a read that fills it means the datagram was larger
	// than readBuffer and the kernel cut it.
	buf := make([]byte, l.readBuffer+1)
	for {
		n, remote, err := l.conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				l.logger.Info().Str("addr", l.Addr().String()).Msg("udp listener stopped")
				return nil
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			return fmt.Errorf("read udp: %w", err)
		}
		truncated := n > l.readBuffer
		if truncated {
			n = l.readBuffer
		}
		payload := make([]byte, n)
		copy(payload, buf[:n])
		_ = h.Handle(ctx, Datagram{
			Source:    SourceUDP,
			Remote:    remote.String(),
			Received:  time.Now(),
			Payload:   payload,
			Truncated: truncated,
		})
	}
}

func (l *Listener) Close() error {
	return l.conn.Close()
}

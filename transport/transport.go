// Package transport implements the UDP request/response exchange shared by
// every register and wave-RAM accessor: a fixed 8-byte header, a bounded
// number of retries with exponential backoff, and single-flight
// serialization so concurrent callers never interleave requests on one
// socket.
package transport

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/semaphore"

	"github.com/lattice-rf/awgctrl/xerr"
)

// Command identifies the operation a frame requests.
type Command uint8

const (
	CmdRead Command = iota
	CmdWrite
)

const (
	headerSize  = 8
	maxReadSize = 1 << 16
)

// Config configures a Transport.
type Config struct {
	// Host is the instrument's IP address or hostname.
	Host string `yaml:"host"`
	// Port is the UDP port this transport's endpoint listens on.
	Port uint16 `yaml:"port"`
	// Timeout bounds a single request/response round trip.
	Timeout time.Duration `yaml:"timeout"`
	// Retries is the number of additional attempts after the first.
	Retries uint `yaml:"retries"`
}

// DefaultTimeout is used when a Config leaves Timeout unset.
const DefaultTimeout = time.Second

// DefaultRetries is used when a Config leaves Retries unset.
const DefaultRetries = 3

// Transport is one UDP endpoint (one (Host, Port) pair) used to exchange
// fixed-header frames with the instrument. A Transport is safe for
// concurrent use: requests are serialized onto the underlying socket by an
// internal single-flight semaphore, exactly as a Python process held
// e7awgsw's process-wide lock around register access.
type Transport struct {
	cfg  Config
	conn net.Conn
	sem  *semaphore.Weighted
}

// New dials the instrument endpoint described by cfg. The connection is
// established eagerly so a configuration error (unresolvable host) surfaces
// at construction, not on the first request.
func New(cfg Config) (*Transport, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Retries == 0 {
		cfg.Retries = DefaultRetries
	}

	conn, err := net.Dial("udp", fmt.Sprintf("%s:%d", cfg.Host, cfg.Port))
	if err != nil {
		return nil, xerr.NewTransportError(xerr.TransportRefused, "New", "dial failed", err)
	}

	return &Transport{
		cfg:  cfg,
		conn: conn,
		sem:  semaphore.NewWeighted(1),
	}, nil
}

// Close releases the underlying socket.
func (t *Transport) Close() error {
	return t.conn.Close()
}

// Read requests length bytes starting at addr and returns them.
func (t *Transport) Read(ctx context.Context, addr uint32, length uint16) ([]byte, error) {
	if int(length) > maxReadSize {
		return nil, xerr.NewValidationError("Read", "length %d exceeds max frame size %d", length, maxReadSize)
	}

	resp, err := t.exchange(ctx, CmdRead, addr, length, nil)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// Write sends data to be written starting at addr.
func (t *Transport) Write(ctx context.Context, addr uint32, data []byte) error {
	if len(data) > maxReadSize {
		return xerr.NewValidationError("Write", "payload of %d bytes exceeds max frame size %d", len(data), maxReadSize)
	}

	_, err := t.exchange(ctx, CmdWrite, addr, uint16(len(data)), data)
	return err
}

// exchange performs one logical request, retrying with exponential backoff
// whenever an attempt fails (timeout, malformed response, or a send/receive
// error). It returns the response payload for reads (empty for writes).
func (t *Transport) exchange(ctx context.Context, cmd Command, addr uint32, length uint16, payload []byte) ([]byte, error) {
	if err := t.sem.Acquire(ctx, 1); err != nil {
		return nil, xerr.NewTransportError(xerr.TransportTimeout, "exchange", "waiting for transport to be free", err)
	}
	defer t.sem.Release(1)

	op := func() ([]byte, error) {
		return t.attempt(cmd, addr, length, payload)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 10 * time.Millisecond
	b.MaxInterval = 200 * time.Millisecond

	resp, err := backoff.Retry(ctx, op, backoff.WithBackOff(b), backoff.WithMaxTries(t.cfg.Retries+1))
	if err != nil {
		if te, ok := err.(*xerr.TransportError); ok {
			return nil, te
		}
		return nil, xerr.NewTransportError(xerr.TransportTimeout, "exchange", "exhausted retries", err)
	}
	return resp, nil
}

// attempt performs a single request/response round trip with no retry.
func (t *Transport) attempt(cmd Command, addr uint32, length uint16, payload []byte) ([]byte, error) {
	frame := make([]byte, headerSize+len(payload))
	frame[0] = byte(cmd)
	frame[1] = 0
	binary.LittleEndian.PutUint16(frame[2:4], length)
	binary.LittleEndian.PutUint32(frame[4:8], addr)
	copy(frame[headerSize:], payload)

	if err := t.conn.SetDeadline(time.Now().Add(t.cfg.Timeout)); err != nil {
		return nil, xerr.NewTransportError(xerr.TransportRefused, "attempt", "failed to arm deadline", err)
	}

	if _, err := t.conn.Write(frame); err != nil {
		return nil, xerr.NewTransportError(xerr.TransportRefused, "attempt", "send failed", err)
	}

	if cmd == CmdWrite {
		// Writes still expect a zero-length acknowledgement frame so the
		// caller knows the instrument applied it before returning.
	}

	buf := make([]byte, headerSize+maxReadSize)
	n, err := t.conn.Read(buf)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return nil, xerr.NewTransportError(xerr.TransportTimeout, "attempt", "no response before deadline", err)
		}
		return nil, xerr.NewTransportError(xerr.TransportRefused, "attempt", "recv failed", err)
	}
	if n < headerSize {
		return nil, xerr.NewTransportError(xerr.TransportMalformed, "attempt", "response shorter than header", nil)
	}

	respLen := binary.LittleEndian.Uint16(buf[2:4])
	if n != headerSize+int(respLen) {
		return nil, xerr.NewTransportError(xerr.TransportMalformed, "attempt", "response length mismatch", nil)
	}

	if cmd == CmdRead && int(respLen) != int(length) {
		return nil, xerr.NewTransportError(xerr.TransportMalformed, "attempt", "response carries unexpected payload length", nil)
	}

	out := make([]byte, respLen)
	copy(out, buf[headerSize:n])
	return out, nil
}

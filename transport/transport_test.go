package transport

import (
	"context"
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// echoServer is a minimal stand-in for the FPGA endpoint: it answers a READ
// with payload of the requested length (all zero bytes, echoing the
// header), and a WRITE with a zero-length acknowledgement, exactly as
// transport.Transport.attempt expects.
func echoServer(t *testing.T) (port uint16, closeFn func()) {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		buf := make([]byte, 1<<16)
		for {
			select {
			case <-done:
				return
			default:
			}
			conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
			n, addr, err := conn.ReadFromUDP(buf)
			if err != nil {
				continue
			}
			if n < 8 {
				continue
			}
			cmd := buf[0]
			length := binary.LittleEndian.Uint16(buf[2:4])
			addrField := buf[4:8]

			reply := make([]byte, 8)
			reply[0] = cmd
			copy(reply[4:8], addrField)
			if cmd == byte(CmdRead) {
				binary.LittleEndian.PutUint16(reply[2:4], length)
				reply = append(reply, make([]byte, length)...)
			}
			conn.WriteToUDP(reply, addr)
		}
	}()

	addr := conn.LocalAddr().(*net.UDPAddr)
	return uint16(addr.Port), func() {
		close(done)
		conn.Close()
	}
}

func Test_TransportReadWriteRoundTrip(t *testing.T) {
	port, closeFn := echoServer(t)
	defer closeFn()

	tr, err := New(Config{Host: "127.0.0.1", Port: port, Timeout: 500 * time.Millisecond})
	require.NoError(t, err)
	defer tr.Close()

	ctx := context.Background()
	require.NoError(t, tr.Write(ctx, 0x100, []byte{1, 2, 3, 4}))

	data, err := tr.Read(ctx, 0x100, 8)
	require.NoError(t, err)
	require.Len(t, data, 8)
}

func Test_TransportRetriesOnTimeoutThenFails(t *testing.T) {
	// Nothing is listening on this port, so every attempt fails (no reply
	// before the deadline, or a refused receive where the OS reports the
	// port unreachable) and the call must fail after exhausting the retry
	// budget, not hang.
	unused, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	require.NoError(t, err)
	port := unused.LocalAddr().(*net.UDPAddr).Port
	unused.Close()

	tr, err := New(Config{Host: "127.0.0.1", Port: uint16(port), Timeout: 20 * time.Millisecond, Retries: 1})
	require.NoError(t, err)
	defer tr.Close()

	start := time.Now()
	_, err = tr.Read(context.Background(), 0, 4)
	require.Error(t, err)
	require.Less(t, time.Since(start), 5*time.Second)
}

func Test_TransportSerializesConcurrentCallers(t *testing.T) {
	port, closeFn := echoServer(t)
	defer closeFn()

	tr, err := New(Config{Host: "127.0.0.1", Port: port, Timeout: 500 * time.Millisecond})
	require.NoError(t, err)
	defer tr.Close()

	ctx := context.Background()
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		go func(n int) {
			_, err := tr.Read(ctx, uint32(n), 4)
			errs <- err
		}(i)
	}
	for i := 0; i < 8; i++ {
		require.NoError(t, <-errs)
	}
}

func Test_DefaultsAppliedWhenUnset(t *testing.T) {
	port, closeFn := echoServer(t)
	defer closeFn()

	tr, err := New(Config{Host: "127.0.0.1", Port: port})
	require.NoError(t, err)
	defer tr.Close()
	require.Equal(t, DefaultTimeout, tr.cfg.Timeout)
	require.Equal(t, uint(DefaultRetries), tr.cfg.Retries)
}

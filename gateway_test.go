package apns

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mdigger/binapns/retry"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// gatewayFrame is a notification frame received by the fake gateway on the
// connection with the given number (starting at 1).
type gatewayFrame struct {
	conn  int
	frame *notificationFrame
}

// rejectFunc decides whether the gateway answers the frame with an error
// response and drops the connection.
type rejectFunc func(conn int, frame *notificationFrame) (Status, bool)

// fakeGateway is a plain TCP push gateway.
type fakeGateway struct {
	ln       net.Listener
	reject   rejectFunc
	frames   chan gatewayFrame
	received atomic.Int64 // bytes read from clients
	mu       sync.Mutex
	conns    int
}

func newFakeGateway(t *testing.T, reject rejectFunc) *fakeGateway {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	g := &fakeGateway{
		ln:     ln,
		reject: reject,
		frames: make(chan gatewayFrame, 1024),
	}
	t.Cleanup(func() { ln.Close() })
	go g.serve()
	return g
}

func (g *fakeGateway) serve() {
	for {
		conn, err := g.ln.Accept()
		if err != nil {
			return
		}
		g.mu.Lock()
		g.conns++
		n := g.conns
		g.mu.Unlock()
		go g.handle(n, conn)
	}
}

func (g *fakeGateway) handle(n int, conn net.Conn) {
	defer conn.Close()
	r := &countingReader{r: conn, n: &g.received}
	for {
		frame, err := readNotificationFrame(r)
		if err != nil {
			return
		}
		g.frames <- gatewayFrame{conn: n, frame: frame}
		if g.reject == nil {
			continue
		}
		status, ok := g.reject(n, frame)
		if !ok {
			continue
		}
		data, _ := errorFrame{Command: commandError, Status: status, ID: frame.ID}.MarshalBinary()
		conn.Write(data)
		if tcp, ok := conn.(*net.TCPConn); ok {
			tcp.CloseWrite()
		}
		// drop everything else until the client hangs up
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		io.Copy(io.Discard, conn)
		return
	}
}

// Connections returns the number of accepted connections.
func (g *fakeGateway) Connections() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.conns
}

// Next returns the next received frame.
func (g *fakeGateway) Next(t *testing.T) gatewayFrame {
	t.Helper()
	select {
	case f := <-g.frames:
		return f
	case <-time.After(5 * time.Second):
		t.Fatal("no frame received")
		return gatewayFrame{}
	}
}

// Dial connects to the gateway whatever address is asked for.
func (g *fakeGateway) Dial(ctx context.Context, _ string) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, "tcp", g.ln.Addr().String())
}

func (g *fakeGateway) Config(t *testing.T) *Config {
	return &Config{
		Environment: Local,
		Timeout:     200 * time.Millisecond,
		Retry:       retry.Policy{Attempts: 3, Delay: 10 * time.Millisecond},
		Logger:      zaptest.NewLogger(t),
		DialFunc:    g.Dial,
	}
}

type countingReader struct {
	r io.Reader
	n *atomic.Int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n.Add(int64(n))
	return n, err
}

// testTokens returns n distinct 32-byte tokens.
func testTokens(n int) []DeviceToken {
	tokens := make([]DeviceToken, n)
	for i := range tokens {
		tokens[i] = DeviceToken(fmt.Sprintf("%064x", i+1))
	}
	return tokens
}

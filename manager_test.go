package apns

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kr/pretty"
	"github.com/mdigger/binapns/retry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestSendDelivered(t *testing.T) {
	g := newFakeGateway(t, nil)
	cfg := g.Config(t)
	cfg.Metrics = NewMetrics(prometheus.NewRegistry())
	m, err := Start(cfg)
	require.NoError(t, err)
	defer m.Close()

	tokens := testTokens(3)
	ntf := &Notification{Tokens: tokens, Alert: "Hello", Sound: "default"}
	started := time.Now()
	result, err := m.Send(context.Background(), ntf)
	require.NoError(t, err)
	assert.Equal(t, tokens, result.Delivered, pretty.Sprint(result))
	assert.Empty(t, result.MustResend)
	assert.True(t, result.Complete())
	assert.GreaterOrEqual(t, time.Since(started), cfg.Timeout)

	payload, err := ntf.Payload()
	require.NoError(t, err)
	for i, token := range tokens {
		f := g.Next(t)
		raw, err := token.Bytes()
		require.NoError(t, err)
		assert.Equal(t, 1, f.conn)
		assert.Equal(t, uint32(i+1), f.frame.ID)
		assert.Equal(t, raw, f.frame.Token)
		assert.Equal(t, payload, f.frame.Payload)
	}

	assert.Equal(t, 3.0, testutil.ToFloat64(cfg.Metrics.framesSent))
	assert.Equal(t, 3.0, testutil.ToFloat64(cfg.Metrics.tokensDelivered))
	assert.Equal(t, 0.0, testutil.ToFloat64(cfg.Metrics.tokensResend))
}

func TestSendErrorResponse(t *testing.T) {
	const n = 4
	for k := 0; k < n; k++ {
		t.Run(fmt.Sprintf("k=%d", k), func(t *testing.T) {
			failed := uint32(1 + k) // the first request starts at 1
			g := newFakeGateway(t, func(conn int, f *notificationFrame) (Status, bool) {
				return StatusInvalidToken, conn == 1 && f.ID == failed
			})
			core, logs := observer.New(zap.WarnLevel)
			cfg := g.Config(t)
			cfg.Timeout = 5 * time.Second // the error must win
			cfg.Logger = zap.New(core)
			cfg.Metrics = NewMetrics(prometheus.NewRegistry())
			m, err := Start(cfg)
			require.NoError(t, err)
			defer m.Close()

			tokens := testTokens(n)
			result, err := m.Send(context.Background(), &Notification{Tokens: tokens, Alert: "Hi"})
			require.NoError(t, err)
			assert.Equal(t, tokens[:k+1], result.Delivered)
			assert.Equal(t, tokens[k+1:], result.MustResend)

			assert.Equal(t, 1, logs.FilterMessage("error response").Len())
			assert.Equal(t, 1.0, testutil.ToFloat64(
				cfg.Metrics.errorFrames.WithLabelValues(StatusInvalidToken.String())))
			assert.Equal(t, float64(k+1), testutil.ToFloat64(cfg.Metrics.tokensDelivered))
			assert.Equal(t, float64(n-k-1), testutil.ToFloat64(cfg.Metrics.tokensResend))
		})
	}
}

func TestSequenceResetsAfterReconnect(t *testing.T) {
	g := newFakeGateway(t, func(conn int, f *notificationFrame) (Status, bool) {
		return StatusProcessingError, conn == 1 && f.ID == 2
	})
	cfg := g.Config(t)
	cfg.Metrics = NewMetrics(prometheus.NewRegistry())
	m, err := Start(cfg)
	require.NoError(t, err)
	defer m.Close()

	first := testTokens(2)
	result, err := m.Send(context.Background(), &Notification{Tokens: first, Alert: "1"})
	require.NoError(t, err)
	assert.Equal(t, first, result.Delivered)

	second := testTokens(4)[2:]
	result, err = m.Send(context.Background(), &Notification{Tokens: second, Alert: "2"})
	require.NoError(t, err)
	assert.Equal(t, second, result.Delivered)

	var got []gatewayFrame
	for i := 0; i < 4; i++ {
		got = append(got, g.Next(t))
	}
	assert.Equal(t, []int{1, 1, 2, 2},
		[]int{got[0].conn, got[1].conn, got[2].conn, got[3].conn})
	assert.Equal(t, []uint32{1, 2, 1, 2},
		[]uint32{got[0].frame.ID, got[1].frame.ID, got[2].frame.ID, got[3].frame.ID})
	assert.Equal(t, 2, g.Connections())
	assert.Equal(t, 1.0, testutil.ToFloat64(cfg.Metrics.reconnects))
}

func TestSendEarlierRequestFailed(t *testing.T) {
	// The second request is written right behind the first one; the error
	// response for the first request drops both.
	release := make(chan struct{})
	g := newFakeGateway(t, func(conn int, f *notificationFrame) (Status, bool) {
		if conn != 1 {
			return 0, false
		}
		if f.ID == 1 {
			<-release
		}
		return StatusInvalidToken, f.ID == 2
	})
	cfg := g.Config(t)
	cfg.Timeout = 5 * time.Second
	cfg.Metrics = NewMetrics(prometheus.NewRegistry())
	m, err := Start(cfg)
	require.NoError(t, err)
	defer m.Close()

	written := func(n float64) func() bool {
		return func() bool { return testutil.ToFloat64(cfg.Metrics.framesSent) == n }
	}
	var (
		tokens  = testTokens(6)
		results = make([]*SendResult, 2)
		wg      sync.WaitGroup
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0], _ = m.Send(context.Background(), &Notification{Tokens: tokens[:3], Alert: "a"})
	}()
	require.Eventually(t, written(3), 5*time.Second, time.Millisecond)
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[1], _ = m.Send(context.Background(), &Notification{Tokens: tokens[3:], Alert: "b"})
	}()
	require.Eventually(t, written(6), 5*time.Second, time.Millisecond)
	close(release)
	wg.Wait()

	require.NotNil(t, results[0])
	require.NotNil(t, results[1])
	assert.Equal(t, tokens[:2], results[0].Delivered)
	assert.Equal(t, tokens[2:3], results[0].MustResend)
	assert.Empty(t, results[1].Delivered)
	assert.Equal(t, tokens[3:], results[1].MustResend)
}

func TestSendConcurrent(t *testing.T) {
	g := newFakeGateway(t, func(conn int, f *notificationFrame) (Status, bool) {
		return StatusProcessingError, conn == 1 && f.ID == 7
	})
	m, err := Start(g.Config(t))
	require.NoError(t, err)
	defer m.Close()

	const senders = 10
	var (
		wg   sync.WaitGroup
		all  = testTokens(senders * 3)
		errs = make(chan error, senders)
	)
	for i := 0; i < senders; i++ {
		tokens := all[i*3 : i*3+3]
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := m.Send(context.Background(), &Notification{Tokens: tokens, Alert: "x"})
			if err != nil {
				errs <- err
				return
			}
			got := append(append([]DeviceToken{}, result.Delivered...), result.MustResend...)
			if !assert.ObjectsAreEqual(tokens, got) {
				errs <- fmt.Errorf("not a partition: %# v", pretty.Formatter(result))
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestSendValidation(t *testing.T) {
	g := newFakeGateway(t, nil)
	m, err := Start(g.Config(t))
	require.NoError(t, err)
	defer m.Close()

	ctx := context.Background()
	_, err = m.Send(ctx, &Notification{Tokens: testTokens(1), Alert: strings.Repeat("x", MaxPayloadSize)})
	assert.ErrorIs(t, err, ErrPayloadTooLarge)
	_, err = m.Send(ctx, &Notification{Alert: "no tokens"})
	assert.ErrorIs(t, err, ErrNoTokens)
	_, err = m.Send(ctx, &Notification{Tokens: []DeviceToken{"xyz"}, Alert: "bad"})
	assert.ErrorIs(t, err, ErrInvalidToken)

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, g.received.Load(), "nothing must reach the gateway")
	assert.Zero(t, m.queue.Len())
}

func TestSendAfterClose(t *testing.T) {
	g := newFakeGateway(t, nil)
	m, err := Start(g.Config(t))
	require.NoError(t, err)
	m.Close()
	m.Close()

	started := time.Now()
	_, err = m.Send(context.Background(), &Notification{Tokens: testTokens(1), Alert: "late"})
	assert.ErrorIs(t, err, ErrServiceClosed)
	assert.Less(t, time.Since(started), 100*time.Millisecond)
	assert.Zero(t, g.received.Load())
	assert.NoError(t, m.Err())
}

// blockedDial never connects until the context is done.
func blockedDial(ctx context.Context, _ string) (net.Conn, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestSendContextWhileQueued(t *testing.T) {
	cfg := &Config{Environment: Local, Timeout: time.Second, DialFunc: blockedDial}
	m, err := Start(cfg)
	require.NoError(t, err)
	defer m.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = m.Send(ctx, &Notification{Tokens: testTokens(2), Alert: "queued"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Zero(t, m.queue.Len())
}

func TestCloseWhileQueued(t *testing.T) {
	cfg := &Config{Environment: Local, Timeout: time.Second, DialFunc: blockedDial}
	m, err := Start(cfg)
	require.NoError(t, err)

	errc := make(chan error, 1)
	go func() {
		_, err := m.Send(context.Background(), &Notification{Tokens: testTokens(1), Alert: "queued"})
		errc <- err
	}()
	require.Eventually(t, func() bool { return m.queue.Len() == 1 }, 5*time.Second, time.Millisecond)
	m.Close()
	select {
	case err := <-errc:
		assert.ErrorIs(t, err, ErrServiceClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("send is still blocked after close")
	}
}

func TestRetryExhausted(t *testing.T) {
	dialErr := errors.New("handshake failure")
	cfg := &Config{
		Environment: Local,
		Retry:       retry.Policy{Attempts: 2, Delay: time.Millisecond},
		DialFunc: func(context.Context, string) (net.Conn, error) {
			return nil, dialErr
		},
	}
	m, err := Start(cfg)
	require.NoError(t, err)
	defer m.Close()

	select {
	case <-m.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop")
	}
	assert.ErrorIs(t, m.Err(), retry.ErrExhausted)
	assert.ErrorIs(t, m.Err(), dialErr)
	_, err = m.Send(context.Background(), &Notification{Tokens: testTokens(1), Alert: "x"})
	assert.ErrorIs(t, err, ErrServiceClosed)
}

func TestStartConfig(t *testing.T) {
	_, err := Start(nil)
	assert.Error(t, err)
	_, err = Start(&Config{Environment: Development})
	assert.ErrorIs(t, err, ErrNoCertificate)

	g := newFakeGateway(t, nil)
	cfg := g.Config(t)
	cfg.Timeout = 0
	m, err := Start(cfg)
	require.NoError(t, err)
	defer m.Close()
	assert.Equal(t, DefaultTimeout, m.Config().Timeout)
	assert.Zero(t, cfg.Timeout, "the caller configuration is not changed")
}

func TestWithManager(t *testing.T) {
	g := newFakeGateway(t, nil)
	fail := errors.New("stop")

	var manager *Manager
	err := WithManager(g.Config(t), func(m *Manager) error {
		manager = m
		return fail
	})
	assert.ErrorIs(t, err, fail)
	require.NotNil(t, manager)
	_, err = manager.Send(context.Background(), &Notification{Tokens: testTokens(1), Alert: "x"})
	assert.ErrorIs(t, err, ErrServiceClosed)

	assert.Panics(t, func() {
		WithManager(g.Config(t), func(m *Manager) error {
			manager = m
			panic("boom")
		})
	})
	select {
	case <-manager.Done():
	default:
		t.Error("manager is not closed after panic")
	}

	_, err = Start(&Config{})
	assert.ErrorIs(t, WithManager(&Config{}, func(*Manager) error { return nil }), err)
}

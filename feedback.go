package apns

import (
	"context"
	"errors"
	"io"
	"net"
	"time"

	"go.uber.org/zap"
)

// FetchFeedback connects to the feedback service and collects the tokens of
// devices that no longer accept notifications, with the time the
// application was removed. When the same token is reported more than once
// the later record wins.
//
// Collection ends when the server closes the connection, sends a malformed
// record, or stays silent for the configured timeout. The connection is
// closed before returning. There is no retry: a dial error is returned as
// is.
func FetchFeedback(ctx context.Context, config *Config) (map[DeviceToken]time.Time, error) {
	var (
		log     = config.logger()
		addr    = config.Environment.FeedbackAddr()
		timeout = config.Timeout
	)
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	conn, err := config.Dial(ctx, addr)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	var (
		records = make(chan FeedbackRecord)
		stop    = make(chan struct{})
	)
	defer close(stop)
	go func() {
		defer close(records)
		for {
			record, err := readFeedbackRecord(conn)
			if err != nil {
				if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
					log.Debug("feedback stream ended", zap.Error(err))
				}
				return
			}
			select {
			case records <- record:
			case <-stop:
				return
			}
		}
	}()

	var (
		result = make(map[DeviceToken]time.Time)
		timer  = time.NewTimer(timeout)
	)
	defer timer.Stop()
	for {
		select {
		case record, ok := <-records:
			if !ok {
				log.Info("feedback received", zap.Int("tokens", len(result)))
				return result, nil
			}
			result[record.Token] = record.Time
			timer.Reset(timeout)
		case <-timer.C:
			log.Info("feedback timeout", zap.Int("tokens", len(result)))
			return result, nil
		case <-ctx.Done():
			return result, ctx.Err()
		}
	}
}

// Feedback is a shortcut for FetchFeedback with the configuration.
func (config *Config) Feedback(ctx context.Context) (map[DeviceToken]time.Time, error) {
	return FetchFeedback(ctx, config)
}

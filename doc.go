// Package apns implements the binary Apple Push Notification protocol and
// the Feedback protocol.
//
// A Manager keeps a single TLS connection to the push gateway and writes
// every notification as a sequence of frames, one per device token. The
// gateway never acknowledges a frame. When it rejects one, it sends a single
// error response with the identifier of the failed frame and closes the
// connection; every frame written after it is dropped. Send therefore
// reports, for each notification, which tokens were delivered and which
// have to be sent again. A notification whose frames were all written and
// that saw no error response within Config.Timeout counts as delivered.
//
//	err := apns.WithManager(config, func(m *apns.Manager) error {
//		result, err := m.Send(ctx, &apns.Notification{
//			Tokens: tokens,
//			Alert:  "Hello",
//		})
//		if err != nil {
//			return err
//		}
//		retry = append(retry, result.MustResend...)
//		return nil
//	})
//
// FetchFeedback reads the list of devices that uninstalled the application.
// Tokens reported by the feedback service should not be used any more.
package apns

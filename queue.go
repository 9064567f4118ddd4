package apns

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// handoff is what the writer tells a request when it takes it from the queue:
// the identifier of its first frame and the checkpoint of the connection the
// frames are written to.
type handoff struct {
	start      uint32
	checkpoint *checkpoint
}

// pendingRequest is a notification waiting to be written to the gateway.
type pendingRequest struct {
	tokens  []DeviceToken // fixed order of the frames
	raw     [][]byte      // decoded tokens, same order
	payload []byte
	expiry  uint32
	handoff chan handoff  // single slot, written once by the writer
	sent    chan struct{} // single slot "all frames written" ping
}

// newPendingRequest validates the notification and prepares it for sending.
// Nothing here touches the network.
func newPendingRequest(ntf *Notification, now time.Time) (*pendingRequest, error) {
	var tokens = ntf.tokenSet()
	if len(tokens) == 0 {
		return nil, ErrNoTokens
	}
	payload, err := ntf.Payload()
	if err != nil {
		return nil, err
	}
	if len(payload) > MaxPayloadSize {
		return nil, ErrPayloadTooLarge
	}
	var raw = make([][]byte, len(tokens))
	for i, token := range tokens {
		if raw[i], err = token.Bytes(); err != nil {
			return nil, err
		}
	}
	return &pendingRequest{
		tokens:  tokens,
		raw:     raw,
		payload: payload,
		expiry:  ntf.expiry(now),
		handoff: make(chan handoff, 1),
		sent:    make(chan struct{}, 1),
	}, nil
}

// frame returns the notification frame for the i-th token.
func (req *pendingRequest) frame(i int, id uint32) *notificationFrame {
	return &notificationFrame{
		ID:      id,
		Expiry:  req.expiry,
		Token:   req.raw[i],
		Payload: req.payload,
	}
}

// requestQueue is an unbounded FIFO of pending requests. Any number of
// goroutines may push; a single consumer waits and pops.
type requestQueue struct {
	list  *list.List
	ready chan struct{} // single slot: the queue became non-empty
	mu    sync.Mutex
}

func newRequestQueue() *requestQueue {
	return &requestQueue{
		list:  list.New(),
		ready: make(chan struct{}, 1),
	}
}

// Push adds the request to the tail of the queue.
func (q *requestQueue) Push(req *pendingRequest) {
	q.mu.Lock()
	q.list.PushBack(req)
	q.mu.Unlock()
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// Wait blocks until the queue is not empty or the context is done. It does
// not remove anything from the queue.
func (q *requestQueue) Wait(ctx context.Context) error {
	for {
		if q.Len() > 0 {
			return nil
		}
		select {
		case <-q.ready:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Pop removes and returns the head of the queue, or nil if it is empty.
func (q *requestQueue) Pop() *pendingRequest {
	q.mu.Lock()
	defer q.mu.Unlock()
	elem := q.list.Front()
	if elem == nil {
		return nil
	}
	return q.list.Remove(elem).(*pendingRequest)
}

// Len returns the number of queued requests.
func (q *requestQueue) Len() int {
	q.mu.Lock()
	n := q.list.Len()
	q.mu.Unlock()
	return n
}

// Remove takes the request out of the queue. It returns false if the request
// is not queued, i.e. it was already taken by the writer.
func (q *requestQueue) Remove(req *pendingRequest) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for elem := q.list.Front(); elem != nil; elem = elem.Next() {
		if elem.Value == req {
			q.list.Remove(elem)
			return true
		}
	}
	return false
}

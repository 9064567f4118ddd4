package apns

// SendResult splits the tokens of a notification into those the gateway
// accepted and those that have to be sent again. Every token of the
// notification is in exactly one of the lists; both keep the order of the
// notification tokens.
type SendResult struct {
	Delivered  []DeviceToken
	MustResend []DeviceToken
}

// Complete returns true if all tokens were delivered.
func (r *SendResult) Complete() bool { return len(r.MustResend) == 0 }

// delivered returns a result with all tokens delivered.
func delivered(tokens []DeviceToken) *SendResult {
	return &SendResult{
		Delivered:  tokens,
		MustResend: []DeviceToken{},
	}
}

// mustResend returns a result with all tokens to be sent again.
func mustResend(tokens []DeviceToken) *SendResult {
	return &SendResult{
		Delivered:  []DeviceToken{},
		MustResend: tokens,
	}
}

// partition builds the result from the identifier reported by the gateway.
// The tokens were written with identifiers start, start+1, ... in order.
// The gateway processed everything up to and including id; the rest of the
// connection was dropped. An id before start means the failure happened
// before this request could be confirmed, so nothing is counted as
// delivered. The zero id is the "unknown failure" sentinel.
func partition(tokens []DeviceToken, start, id uint32) *SendResult {
	if id < start {
		return mustResend(tokens)
	}
	offset := uint64(id-start) + 1
	if offset >= uint64(len(tokens)) {
		return delivered(tokens)
	}
	return &SendResult{
		Delivered:  tokens[:offset:offset],
		MustResend: tokens[offset:],
	}
}

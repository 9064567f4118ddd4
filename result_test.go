package apns

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPartition(t *testing.T) {
	tokens := testTokens(5)
	tests := []struct {
		start, id uint32
		delivered int
	}{
		{start: 1, id: 1, delivered: 1},
		{start: 1, id: 3, delivered: 3},
		{start: 1, id: 5, delivered: 5},
		{start: 1, id: 9, delivered: 5},
		{start: 10, id: 12, delivered: 3},
		{start: 10, id: 9, delivered: 0},  // earlier request failed
		{start: 10, id: 0, delivered: 0},  // unknown failure
		{start: 0xfffffffe, id: 0xffffffff, delivered: 2},
	}
	for _, test := range tests {
		t.Run(fmt.Sprintf("start=%d,id=%d", test.start, test.id), func(t *testing.T) {
			result := partition(tokens, test.start, test.id)
			assert.Equal(t, tokens[:test.delivered], result.Delivered)
			assert.Equal(t, tokens[test.delivered:], result.MustResend)
			assert.Equal(t, test.delivered == len(tokens), result.Complete())
		})
	}
}

func TestPartitionDoesNotShareStorage(t *testing.T) {
	tokens := testTokens(3)
	result := partition(tokens, 1, 1)
	result.Delivered = append(result.Delivered, "ff")
	assert.Equal(t, testTokens(3), tokens)
	assert.Equal(t, tokens[1:], result.MustResend)
}

func TestResultHelpers(t *testing.T) {
	tokens := testTokens(2)
	r := delivered(tokens)
	assert.Equal(t, tokens, r.Delivered)
	assert.NotNil(t, r.MustResend)
	assert.Empty(t, r.MustResend)
	r = mustResend(tokens)
	assert.Empty(t, r.Delivered)
	assert.Equal(t, tokens, r.MustResend)
	assert.False(t, r.Complete())
}

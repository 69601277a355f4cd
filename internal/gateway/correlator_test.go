package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/codefionn/agentbridge/internal/protocol"
)

func TestNextRequestIDIsUniqueAndMonotonic(t *testing.T) {
	seen := make(map[string]bool)
	var prev string
	for i := 0; i < 1000; i++ {
		id := nextRequestID()
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
		assert.Regexp(t, `^ab-\d+$`, id)
		assert.NotEqual(t, prev, id)
		prev = id
	}
}

func TestResponseErrOrGeneric(t *testing.T) {
	generic := Response{}.errOrGeneric()
	assert.EqualError(t, generic, "request failed")

	res := Response{Err: &protocol.ErrorInfo{Code: "DENIED", Message: "nope"}}
	err := res.errOrGeneric()
	assert.Contains(t, err.Error(), "nope")
	var gwErr *GatewayError
	assert.ErrorAs(t, err, &gwErr)
	assert.Equal(t, "DENIED", gwErr.Code)
}

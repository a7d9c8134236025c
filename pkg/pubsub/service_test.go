package pubsub

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMessageName(t *testing.T) {
	assert.Equal(t, "call.summary:abc", MessageName("", "call.summary", "abc"))
	assert.Equal(t, "beta:call.summary:abc", MessageName("beta", "call.summary", "abc"))
	assert.Equal(t, "beta:call.summary:abc", MessageName("beta:", "call.summary", "abc"))
}

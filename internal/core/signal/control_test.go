package signal

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name       string
		transcript string
		want       Action
	}{
		{"empty", "", None},
		{"plain speech", "Sure, I can help you with that.", None},
		{"escalate only token", EscalateToken, Escalate},
		{"escalate suffix", "Let me connect you with a colleague. " + EscalateToken, Escalate},
		{"escalate middle", "One moment " + EscalateToken + " please", Escalate},
		{"end call", "Thanks for calling, goodbye! " + EndCallToken, EndCall},
		{"both tokens", EndCallToken + " " + EscalateToken, Escalate},
		{"partial token", "[[ESCALATE_TO", None},
		{"different case", "[[escalate_to_human]]", None},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Parse(tt.transcript))
		})
	}
}

func TestStrip(t *testing.T) {
	assert.Equal(t, "Goodbye!", Strip("Goodbye! "+EndCallToken))
	assert.Equal(t, "Hold on.", Strip(EscalateToken+" Hold on."))
	assert.Equal(t, "nothing here", Strip("nothing here"))
}

func TestActionString(t *testing.T) {
	assert.Equal(t, "none", None.String())
	assert.Equal(t, "escalate", Escalate.String())
	assert.Equal(t, "end_call", EndCall.String())
}

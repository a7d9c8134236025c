package prompts

import (
	"fmt"

	"github.com/GenuineGenius999/VPS-Hosting-Twilio-AI-Caller/internal/core/signal"
)

const (
	DefaultSystemInstructions = `You are a friendly phone receptionist. Greet callers warmly, find out what they need and help them.`

	PromptPhoneConversationRules = `
PHONE CONVERSATION GUIDELINES:
- Keep responses SHORT. This is a phone call, not a chat.
- Speak conversationally and ask one question at a time.
- If the caller's words repeat what you just said, it is an echo. Stay silent and wait.`

	// GreetingPrompt is injected as a user turn when nobody has spoken shortly after the call connects.
	GreetingPrompt = "The caller has just connected. Greet them briefly and ask how you can help."

	// SilencePrompt is injected after one silent window following a completed turn.
	SilencePrompt = "The caller has been silent for a while. Ask politely whether they are still there, and tell them the call will end soon if there is no answer."
)

// controlInstructions tells the model how to emit the control sentinels.
var controlInstructions = fmt.Sprintf(`
CALL CONTROL (never read these tokens aloud):
- If the caller asks for a human, or you cannot help them, say you are transferring them and append %s to the end of your text.
- If the caller clearly wants to end the call, say goodbye and append %s to the end of your text.`,
	signal.EscalateToken, signal.EndCallToken)

// BuildInstructions assembles the session instructions sent to the model.
func BuildInstructions(base string) string {
	if base == "" {
		base = DefaultSystemInstructions
	}
	return base + "\n" + PromptPhoneConversationRules + "\n" + controlInstructions
}

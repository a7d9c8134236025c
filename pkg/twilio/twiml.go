package twilio

import (
	"sort"

	"github.com/twilio/twilio-go/twiml"
)

// TransferMessage is spoken to the caller before the human agent is dialed.
const TransferMessage = "Please hold while I connect you to a member of our team."

// StreamTwiML connects the call to the media stream at streamURL, passing
// params through as custom parameters on the stream start event.
func StreamTwiML(streamURL string, params map[string]string) (string, error) {
	keys := make([]string, 0, len(params))
	for k := range params {
		if params[k] != "" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	inner := make([]twiml.Element, 0, len(keys))
	for _, k := range keys {
		inner = append(inner, &twiml.VoiceParameter{Name: k, Value: params[k]})
	}

	connect := &twiml.VoiceConnect{
		InnerElements: []twiml.Element{
			&twiml.VoiceStream{Url: streamURL, InnerElements: inner},
		},
	}
	return twiml.Voice([]twiml.Element{connect})
}

// TransferTwiML tells the caller they are being transferred and dials agent.
func TransferTwiML(agentNumber, callerID string) (string, error) {
	dial := &twiml.VoiceDial{Number: agentNumber}
	if callerID != "" {
		dial.CallerId = callerID
	}
	return twiml.Voice([]twiml.Element{
		&twiml.VoiceSay{Message: TransferMessage},
		dial,
	})
}

// HangupTwiML apologizes and ends the call, used when the bridge cannot take it.
func HangupTwiML(message string) (string, error) {
	return twiml.Voice([]twiml.Element{
		&twiml.VoiceSay{Message: message},
		&twiml.VoiceHangup{},
	})
}

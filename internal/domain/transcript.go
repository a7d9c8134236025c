package domain

import (
	"time"
)

// Speaker values stored with each transcript row.
const (
	SpeakerAssistant = "assistant"
	SpeakerCaller    = "caller"
)

// Transcript is one spoken line of a call.
type Transcript struct {
	ID           string    `json:"id" gorm:"column:id;primaryKey"`
	CallSID      string    `json:"call_sid" gorm:"column:call_sid;index"`
	CompanyPhone string    `json:"company_phone" gorm:"column:company_phone;index"`
	CallerPhone  string    `json:"caller_phone" gorm:"column:caller_phone;index"`
	Speaker      string    `json:"speaker" gorm:"column:speaker"`
	Text         string    `json:"text" gorm:"column:text"`
	CreatedAt    time.Time `json:"created_at" gorm:"column:created_at"`
}

func (Transcript) TableName() string {
	return "call_transcripts"
}

// Customer is the payload sent to the registration side API.
type Customer struct {
	Name         string `json:"name,omitempty"`
	Email        string `json:"email,omitempty"`
	Notes        string `json:"notes,omitempty"`
	Phone        string `json:"phone"`
	CompanyPhone string `json:"company_phone,omitempty"`
	CallSID      string `json:"call_sid,omitempty"`
}

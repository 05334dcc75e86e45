package model

import "time"

// Request and response bodies of the local HTTP API.
type (
	SendRequest struct {
		Text string `json:"text"`
		// TTLMinutes falls back to the server default when omitted.
		TTLMinutes *float64 `json:"ttlMinutes,omitempty"`
	}

	SendResponse struct {
		RecipientID   string    `json:"recipientId"`
		ExpiryUTC     time.Time `json:"expiryUtc"`
		Replaced      bool      `json:"replaced"`
		ExpiredPurged bool      `json:"expiredPurged"`
	}

	ReceiveResponse struct {
		RecipientID string `json:"recipientId"`
		Status      string `json:"status"`
		Text        string `json:"text,omitempty"`
	}

	SlotView struct {
		RecipientID      string     `json:"recipientId"`
		Status           string     `json:"status"`
		ReadOnce         bool       `json:"readOnce,omitempty"`
		ExpiryUTC        *time.Time `json:"expiryUtc,omitempty"`
		RemainingSeconds int64      `json:"remainingSeconds"`
	}

	KeyResponse struct {
		RecipientID string `json:"recipientId"`
		Created     bool   `json:"created"`
	}

	WipeResponse struct {
		Removed int64 `json:"removed"`
	}

	ErrorResponse struct {
		Error string `json:"error"`
	}
)

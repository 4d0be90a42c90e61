package rtvoice

import (
	"errors"
	"fmt"
)

// SessionRequest is the body sent to the session-creation endpoint.
type SessionRequest struct {
	// Model is the realtime model for the session.
	Model string `json:"model"`

	// Voice specifies which voice to use for audio responses.
	// Available voices: "alloy", "ash", "ballad", "coral", "echo", "sage", "shimmer", "verse"
	Voice string `json:"voice,omitempty"`

	// Instructions provide system-level guidance to the model.
	Instructions string `json:"instructions"`
}

// ClientSecret is the short-lived credential issued with a session.
type ClientSecret struct {
	Value     string `json:"value"`                // Ephemeral token, safe to hand to a browser
	ExpiresAt int64  `json:"expires_at,omitempty"` // Expiration timestamp (Unix)
}

// SessionResponse is the session descriptor returned by the session-creation endpoint.
// The broker forwards it as raw bytes; this type is only used by readers.
type SessionResponse struct {
	ID           string       `json:"id"`
	Object       string       `json:"object,omitempty"`
	Model        string       `json:"model,omitempty"`
	Voice        string       `json:"voice,omitempty"`
	Modalities   []string     `json:"modalities,omitempty"`
	Instructions string       `json:"instructions,omitempty"`
	ExpiresAt    int64        `json:"expires_at,omitempty"`
	ClientSecret ClientSecret `json:"client_secret"`
}

// Token returns the short-lived client token, or ErrNoClientToken when absent.
func (s SessionResponse) Token() (string, error) {
	if s.ClientSecret.Value == "" {
		return "", ErrNoClientToken
	}
	return s.ClientSecret.Value, nil
}

var validVoices = []string{"alloy", "ash", "ballad", "coral", "echo", "sage", "shimmer", "verse"}

// ValidateSession performs validation on a session request.
func ValidateSession(s SessionRequest) error {
	if s.Model == "" {
		return errors.New("model cannot be empty")
	}
	if s.Voice != "" {
		valid := false
		for _, v := range validVoices {
			if s.Voice == v {
				valid = true
				break
			}
		}
		if !valid {
			return fmt.Errorf("invalid voice %q, must be one of: %v", s.Voice, validVoices)
		}
	}
	return nil
}

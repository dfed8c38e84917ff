package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnknownMessageType is returned by Decode for a type string outside the
// closed set. Receivers drop and log such payloads rather than failing the
// session.
var ErrUnknownMessageType = errors.New("unknown protocol message type")

// envelope is the flat wire shape. Every message carries "type"; the
// remaining fields are populated per variant.
type envelope struct {
	Type      MessageType `json:"type"`
	Address   string      `json:"address,omitempty"`
	Challenge string      `json:"challenge,omitempty"`
	Signature string      `json:"signature,omitempty"`
	Error     string      `json:"error,omitempty"`
	RequestID string      `json:"requestId,omitempty"`
	Message   string      `json:"message,omitempty"`
	Timestamp int64       `json:"timestamp,omitempty"`
}

// Encode serializes a protocol message to its wire form
func Encode(msg Message) ([]byte, error) {
	env := envelope{Type: msg.Kind()}

	switch m := msg.(type) {
	case ResponderAnnounce:
		env.Address = m.Address
	case AuthChallenge:
		env.Challenge = m.Challenge
	case AuthResponse:
		env.Signature = m.Signature
	case AuthSuccess:
	case AuthFailed:
		env.Error = m.Error
	case SignRequest:
		env.RequestID = m.RequestID
		env.Message = m.Message
		env.Timestamp = m.Timestamp
	case SignResponse:
		env.RequestID = m.RequestID
		env.Signature = m.Signature
	case SignError:
		env.RequestID = m.RequestID
		env.Error = m.Error
	case SessionComplete:
	default:
		return nil, fmt.Errorf("cannot encode protocol message of type %T", msg)
	}

	return json.Marshal(env)
}

// Decode parses a wire payload into its protocol message variant
func Decode(payload []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("failed to parse protocol message: %w", err)
	}

	switch env.Type {
	case TypeResponderAnnounce:
		return ResponderAnnounce{Address: env.Address}, nil
	case TypeAuthChallenge:
		return AuthChallenge{Challenge: env.Challenge}, nil
	case TypeAuthResponse:
		return AuthResponse{Signature: env.Signature}, nil
	case TypeAuthSuccess:
		return AuthSuccess{}, nil
	case TypeAuthFailed:
		return AuthFailed{Error: env.Error}, nil
	case TypeSignRequest:
		return SignRequest{RequestID: env.RequestID, Message: env.Message, Timestamp: env.Timestamp}, nil
	case TypeSignResponse:
		return SignResponse{RequestID: env.RequestID, Signature: env.Signature}, nil
	case TypeSignError:
		return SignError{RequestID: env.RequestID, Error: env.Error}, nil
	case TypeSessionComplete:
		return SessionComplete{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessageType, env.Type)
	}
}

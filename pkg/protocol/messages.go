package protocol

// MessageType is the wire discriminator for protocol messages
type MessageType string

const (
	TypeResponderAnnounce MessageType = "responder-announce"
	TypeAuthChallenge     MessageType = "auth-challenge"
	TypeAuthResponse      MessageType = "auth-response"
	TypeAuthSuccess       MessageType = "auth-success"
	TypeAuthFailed        MessageType = "auth-failed"
	TypeSignRequest       MessageType = "sign-request"
	TypeSignResponse      MessageType = "sign-response"
	TypeSignError         MessageType = "sign-error"
	TypeSessionComplete   MessageType = "session-complete"
)

// Message is the closed set of protocol messages exchanged between the
// initiator and the responder. The unexported method keeps the union closed
// within this package; new variants require touching Encode and Decode, which
// both switch exhaustively.
type Message interface {
	Kind() MessageType
	isMessage()
}

// ResponderAnnounce is published by the responder once subscribed, claiming
// control of an address.
type ResponderAnnounce struct {
	Address string
}

// AuthChallenge carries the unguessable session-scoped nonce the responder
// must sign to prove its claim.
type AuthChallenge struct {
	Challenge string
}

// AuthResponse carries the responder's signature over the challenge text
type AuthResponse struct {
	Signature string
}

// AuthSuccess tells the responder it is authenticated
type AuthSuccess struct{}

// AuthFailed tells the responder authentication was rejected
type AuthFailed struct {
	Error string
}

// SignRequest asks the responder to sign Message. Timestamp is milliseconds
// since epoch at issue time and bounds the replay window.
type SignRequest struct {
	RequestID string
	Message   string
	Timestamp int64
}

// SignResponse carries the signature for a matching SignRequest
type SignResponse struct {
	RequestID string
	Signature string
}

// SignError reports a failed SignRequest
type SignError struct {
	RequestID string
	Error     string
}

// SessionComplete is a best-effort end-of-session notification
type SessionComplete struct{}

func (ResponderAnnounce) Kind() MessageType { return TypeResponderAnnounce }
func (AuthChallenge) Kind() MessageType     { return TypeAuthChallenge }
func (AuthResponse) Kind() MessageType      { return TypeAuthResponse }
func (AuthSuccess) Kind() MessageType       { return TypeAuthSuccess }
func (AuthFailed) Kind() MessageType        { return TypeAuthFailed }
func (SignRequest) Kind() MessageType       { return TypeSignRequest }
func (SignResponse) Kind() MessageType      { return TypeSignResponse }
func (SignError) Kind() MessageType         { return TypeSignError }
func (SessionComplete) Kind() MessageType   { return TypeSessionComplete }

func (ResponderAnnounce) isMessage() {}
func (AuthChallenge) isMessage()     {}
func (AuthResponse) isMessage()      {}
func (AuthSuccess) isMessage()       {}
func (AuthFailed) isMessage()        {}
func (SignRequest) isMessage()       {}
func (SignResponse) isMessage()      {}
func (SignError) isMessage()         {}
func (SessionComplete) isMessage()   {}

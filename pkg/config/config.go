package config

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"k8s.io/apimachinery/pkg/util/validation/field"
)

// Environment variable names for the bridge binaries
const (
	EnvBridgeSessionID     = "BRIDGE_SESSION_ID"
	EnvBridgeWalletType    = "BRIDGE_WALLET_TYPE"
	EnvBridgePrivateKey    = "BRIDGE_PRIVATE_KEY"
	EnvBridgeRedisAddress  = "BRIDGE_REDIS_ADDRESS"
	EnvBridgeRedisPassword = "BRIDGE_REDIS_PASSWORD"
	EnvBridgeRedisDB       = "BRIDGE_REDIS_DB"
	EnvBridgeVerbose       = "BRIDGE_VERBOSE"
)

// WalletType identifies the kind of wallet on the responder side. It decides
// how deep auth-response verification can go: EOA signatures are recoverable,
// smart contract wallet signatures are not.
type WalletType string

func (w WalletType) String() string {
	return string(w)
}

const (
	WalletTypeUnknown WalletType = "unknown"
	WalletTypeEOA     WalletType = "eoa"
	WalletTypeSCW     WalletType = "scw"
)

// ParseWalletType converts a string into a WalletType
func ParseWalletType(s string) (WalletType, error) {
	switch WalletType(s) {
	case WalletTypeEOA:
		return WalletTypeEOA, nil
	case WalletTypeSCW:
		return WalletTypeSCW, nil
	default:
		return WalletTypeUnknown, fmt.Errorf("unsupported wallet type: %s (supported: %s, %s)", s, WalletTypeEOA, WalletTypeSCW)
	}
}

// Canonical timeout values. Signing can require real human interaction on a
// mobile device, so the permissive set is the default.
const (
	DefaultConnectTimeout = 5 * time.Minute
	DefaultAuthTimeout    = 2 * time.Minute
	DefaultSignTimeout    = 5 * time.Minute
	DefaultMaxRequestAge  = 5 * time.Minute

	// DefaultSweepInterval is how often the pending-request table checks for
	// expired entries.
	DefaultSweepInterval = 1 * time.Second
)

// Timeouts groups the independent timeout domains of the protocol. Each timer
// is independent; firing one never cancels the others.
type Timeouts struct {
	Connect       time.Duration // Initiator: waiting for a responder to authenticate
	Auth          time.Duration // Initiator: waiting for the challenge to be answered
	Sign          time.Duration // Initiator: waiting for a sign-response
	MaxRequestAge time.Duration // Responder: replay window for sign-request timestamps
	SweepInterval time.Duration // Initiator: pending-table expiry granularity
}

// DefaultTimeouts returns the canonical timeout set
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Connect:       DefaultConnectTimeout,
		Auth:          DefaultAuthTimeout,
		Sign:          DefaultSignTimeout,
		MaxRequestAge: DefaultMaxRequestAge,
		SweepInterval: DefaultSweepInterval,
	}
}

// Normalize fills zero fields with defaults
func (t Timeouts) Normalize() Timeouts {
	d := DefaultTimeouts()
	if t.Connect <= 0 {
		t.Connect = d.Connect
	}
	if t.Auth <= 0 {
		t.Auth = d.Auth
	}
	if t.Sign <= 0 {
		t.Sign = d.Sign
	}
	if t.MaxRequestAge <= 0 {
		t.MaxRequestAge = d.MaxRequestAge
	}
	if t.SweepInterval <= 0 {
		t.SweepInterval = d.SweepInterval
	}
	return t
}

// RedisConfig holds the connection settings for the redis-backed transport
type RedisConfig struct {
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// Validate validates the redis transport configuration
func (c *RedisConfig) Validate() error {
	var allErrors field.ErrorList
	if c.Address == "" {
		allErrors = append(allErrors, field.Required(field.NewPath("address"), "redis address is required"))
	}
	if c.DB < 0 || c.DB > 15 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("db"), c.DB, "redis db must be between 0 and 15"))
	}
	if len(allErrors) > 0 {
		return allErrors.ToAggregate()
	}
	return nil
}

// ResponderConfig is the CLI-level configuration for the responder binary
type ResponderConfig struct {
	SessionID  string      `json:"session_id"`
	WalletType WalletType  `json:"wallet_type"`
	PrivateKey string      `json:"private_key"` // hex-encoded secp256k1 key for the in-memory signer
	Redis      RedisConfig `json:"redis"`
	Verbose    bool        `json:"verbose"`
}

// Validate validates the responder configuration
func (c *ResponderConfig) Validate() error {
	var allErrors field.ErrorList
	if !IsValidSessionID(c.SessionID) {
		allErrors = append(allErrors, field.Invalid(field.NewPath("sessionID"), c.SessionID, "session id must be 32 lowercase hex characters"))
	}
	if c.WalletType != WalletTypeEOA && c.WalletType != WalletTypeSCW {
		allErrors = append(allErrors, field.Invalid(field.NewPath("walletType"), c.WalletType.String(), "wallet type must be eoa or scw"))
	}
	if c.PrivateKey == "" {
		allErrors = append(allErrors, field.Required(field.NewPath("privateKey"), "private key is required"))
	}
	if err := c.Redis.Validate(); err != nil {
		allErrors = append(allErrors, field.Invalid(field.NewPath("redis"), c.Redis.Address, err.Error()))
	}
	if len(allErrors) > 0 {
		return allErrors.ToAggregate()
	}
	return nil
}

// InitiatorConfig is the CLI-level configuration for the initiator binary
type InitiatorConfig struct {
	WalletType WalletType  `json:"wallet_type"`
	Redis      RedisConfig `json:"redis"`
	Verbose    bool        `json:"verbose"`
}

// Validate validates the initiator configuration
func (c *InitiatorConfig) Validate() error {
	var allErrors field.ErrorList
	if c.WalletType != WalletTypeEOA && c.WalletType != WalletTypeSCW {
		allErrors = append(allErrors, field.Invalid(field.NewPath("walletType"), c.WalletType.String(), "wallet type must be eoa or scw"))
	}
	if err := c.Redis.Validate(); err != nil {
		allErrors = append(allErrors, field.Invalid(field.NewPath("redis"), c.Redis.Address, err.Error()))
	}
	if len(allErrors) > 0 {
		return allErrors.ToAggregate()
	}
	return nil
}

// IsValidSessionID reports whether s is a well-formed session identifier:
// 32 lowercase hex characters (128 bits).
func IsValidSessionID(s string) bool {
	if len(s) != 32 {
		return false
	}
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// IsValidAddress reports whether s is a well-formed Ethereum address
func IsValidAddress(s string) bool {
	return common.IsHexAddress(s)
}

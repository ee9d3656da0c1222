// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package modbus

import (
	"time"

	"github.com/go-playground/validator/v10"
)

// ReconnectionMode selects one of the three strategies in spec.md §4.8.
type ReconnectionMode int

const (
	ReconnectionDisabled ReconnectionMode = iota
	ReconnectionImmediate
	ReconnectionExponentialBackoff
)

// ReconnectionStrategy configures automatic reconnection after a
// transport failure (spec.md §4.8, §6).
type ReconnectionStrategy struct {
	Mode         ReconnectionMode
	InitialDelay time.Duration `validate:"omitempty,gt=0"`
	MaxDelay     time.Duration `validate:"omitempty,gtefield=InitialDelay"`
}

// PipeliningConfig enables pipelined (multi-outstanding-request) mode on
// stream transports (spec.md §4.6, §6).
type PipeliningConfig struct {
	Enabled        bool
	MaxInFlight    int           `validate:"required_if=Enabled true,omitempty,min=1"`
	RequestTimeout time.Duration `validate:"required_if=Enabled true,omitempty,gt=0"`
}

// TLSVerification selects how strictly the client validates the server
// certificate (spec.md §6).
type TLSVerification int

const (
	TLSVerifyFull TLSVerification = iota
	TLSVerifyNoHostname
	TLSVerifyNone
)

// TLSConfig carries the MODBUS/TCP Security (spec.md §6) options. It is
// consumed by the concrete TLS transport, which is out of scope for this
// package (spec.md §1) — this struct exists so ClientConfig has somewhere
// to put the options the spec names.
type TLSConfig struct {
	MinVersion        uint16 // tls.VersionTLS12 or higher
	MaxVersion        uint16
	Verification      TLSVerification
	TrustRoots        []byte
	ClientCertChain   []byte
	ClientPrivateKey  []byte
}

// ClientConfig is every recognized configuration option of spec.md §6,
// validated with go-playground/validator before a client is constructed
// (grounded on dittofs's use of the same module for its own config
// structs).
type ClientConfig struct {
	Address string `validate:"required"`

	Timeout      time.Duration `validate:"gt=0"`
	Retries      int           `validate:"gte=0"`
	IdleTimeout  time.Duration `validate:"gte=0"`
	UnitID       byte

	Reconnection ReconnectionStrategy
	Pipelining   PipeliningConfig
	HandleLocalEcho bool

	TLS *TLSConfig
}

// DefaultTCPConfig returns the spec.md §6 defaults for a stream transport:
// 3s timeout, 0 retries, pipelining disabled, reconnection disabled.
func DefaultTCPConfig(address string) ClientConfig {
	return ClientConfig{
		Address: address,
		Timeout: 3 * time.Second,
		Retries: 0,
		UnitID:  1,
	}
}

// DefaultSerialConfig returns the spec.md §6 defaults for a serial
// transport: 3s timeout, 3 retries.
func DefaultSerialConfig(address string) ClientConfig {
	return ClientConfig{
		Address: address,
		Timeout: 3 * time.Second,
		Retries: 3,
		UnitID:  1,
	}
}

var configValidator = validator.New()

// Validate checks every recognized option against the bounds in spec.md
// §6, returning a KindValidation *Error describing the first violation.
func (c *ClientConfig) Validate() error {
	if err := configValidator.Struct(c); err != nil {
		return validationError("invalid client config: %v", err)
	}
	if c.Reconnection.Mode == ReconnectionExponentialBackoff {
		if c.Reconnection.InitialDelay <= 0 || c.Reconnection.MaxDelay < c.Reconnection.InitialDelay {
			return validationError("exponential backoff requires 0 < initialDelay <= maxDelay")
		}
	}
	if c.Pipelining.Enabled && c.Pipelining.MaxInFlight < 1 {
		return validationError("pipelining maxInFlight must be >= 1")
	}
	return nil
}

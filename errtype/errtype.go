// Copyright 2022 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package errtype collects the error taxonomy surfaced by the connector.
// Callers should prefer errors.As / errors.Is over type assertions, since
// the concrete type of an error may grow new fields over time.
package errtype

import (
	"fmt"
)

// Kind classifies a RefreshError into one of the outcomes a caller of the
// connector needs to branch on.
type Kind int

const (
	// Unknown is the zero-value Kind and should not be produced by this
	// package.
	Unknown Kind = iota
	// InvalidArgument reports a malformed instance name, a region mismatch,
	// or more than one credential source configured.
	InvalidArgument
	// Unsupported reports a backend or combination of settings the
	// connector cannot serve (non-SECOND_GEN instances, IAM auth against
	// SQL Server, IAM auth without TLS 1.3).
	Unsupported
	// AuthRequired reports that IAM auth was requested but no access token
	// was available.
	AuthRequired
	// NotAvailable reports that the instance has no usable IP endpoint.
	NotAvailable
	// CertificateInvalid reports that a certificate returned by the Admin
	// API could not be parsed as X.509.
	CertificateInvalid
	// AccessDenied reports the Admin API's notAuthorized reason.
	AccessDenied
	// APIDisabled reports the Admin API's accessNotConfigured reason.
	APIDisabled
	// Transient reports any other I/O or transport failure talking to the
	// Admin API. Callers may retry.
	Transient
	// Cancelled reports that the orchestration was cancelled before it
	// could complete.
	Cancelled
)

func (k Kind) String() string {
	switch k {
	case InvalidArgument:
		return "InvalidArgument"
	case Unsupported:
		return "Unsupported"
	case AuthRequired:
		return "AuthRequired"
	case NotAvailable:
		return "NotAvailable"
	case CertificateInvalid:
		return "CertificateInvalid"
	case AccessDenied:
		return "AccessDenied"
	case APIDisabled:
		return "APIDisabled"
	case Transient:
		return "Transient"
	case Cancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// RefreshError is returned by the Connection Info Repository and everything
// it composes. It always carries the connection name so a caller juggling
// several instances can tell them apart, and it wraps the underlying error
// (if any) so errors.Is / errors.As continue to work across the Admin API
// client and the x509 package.
type RefreshError struct {
	Kind    Kind
	Message string
	// ConnName is the instance's "project:region:instance" connection name.
	ConnName string
	Err      error
}

// NewRefreshError returns a RefreshError of Kind Transient. Use the
// Kind-specific constructors below when the caller needs to branch on the
// failure mode.
func NewRefreshError(msg, connName string, err error) *RefreshError {
	return &RefreshError{Kind: Transient, Message: msg, ConnName: connName, Err: err}
}

// NewRefreshErrorKind returns a RefreshError of the given Kind.
func NewRefreshErrorKind(k Kind, msg, connName string, err error) *RefreshError {
	return &RefreshError{Kind: k, Message: msg, ConnName: connName, Err: err}
}

func (e *RefreshError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.ConnName, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.ConnName, e.Message)
}

// Unwrap lets errors.Is/errors.As see through to the underlying cause.
func (e *RefreshError) Unwrap() error { return e.Err }

// Is reports whether target is a *RefreshError with the same Kind. This
// lets callers write errors.Is(err, &errtype.RefreshError{Kind:
// errtype.AuthRequired}) without caring about message or connection name.
func (e *RefreshError) Is(target error) bool {
	t, ok := target.(*RefreshError)
	if !ok {
		return false
	}
	if t.Kind == Unknown {
		return true
	}
	return e.Kind == t.Kind
}

// ConfigError reports a malformed Config, such as more than one credential
// source being set (spec section 4.8).
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string { return "IllegalState: " + e.Message }

// NewConfigError returns a ConfigError, the InvalidArgument counterpart for
// the Config builder. It is a distinct type from RefreshError because a
// Config is validated independently of any instance and never carries a
// connection name.
func NewConfigError(msg string) *ConfigError {
	return &ConfigError{Message: msg}
}

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

// Package cloudsql implements the Connection Info Repository: given an
// instance name, a token supplier, an auth mode, and an RSA key pair, it
// fetches instance metadata and an ephemeral client certificate from the
// Cloud SQL Admin API and assembles them into a ConnectionInfo a driver can
// use to open a mutually-TLS-authenticated socket.
//
// This package owns no caching or refresh scheduling; every call to
// Repository.ConnectionInfo performs one full refresh. That responsibility
// belongs to whatever dialer or connection pool sits above it.
package cloudsql

import (
	"crypto/tls"
	"crypto/x509"
	"time"
)

// IPType identifies which of an instance's network endpoints a caller
// wants to connect to.
type IPType string

const (
	// PublicIP selects the instance's public IP address.
	PublicIP IPType = "PUBLIC"
	// PrivateIP selects the instance's private IP address.
	PrivateIP IPType = "PRIVATE"
	// PSCIP selects the instance's Private Service Connect DNS name.
	PSCIP IPType = "PSC"
)

// AuthType identifies how the connecting client proves its identity to the
// database once the TLS channel is established.
type AuthType string

const (
	// PasswordAuthType is traditional username/password authentication.
	PasswordAuthType AuthType = "PASSWORD"
	// IAMAuthType authenticates the database client with a Google identity.
	IAMAuthType AuthType = "IAM"
)

// AccessToken is an OAuth2 bearer token and its optional expiry, as
// returned by a TokenSupplier.
type AccessToken struct {
	Value string
	// ExpiresAt is nil when the supplier does not know (or does not apply)
	// an expiration.
	ExpiresAt *time.Time
}

// InstanceMetadata is the validated, connector-relevant subset of an
// instance's connectSettings response.
type InstanceMetadata struct {
	// IPAddrs maps each available IPType to its literal IP address (PUBLIC,
	// PRIVATE) or DNS name (PSC). Never empty for a successfully fetched
	// InstanceMetadata.
	IPAddrs map[IPType]string
	// ServerCaCert is the instance's certificate authority, the sole trust
	// anchor for the TLS connection.
	ServerCaCert *x509.Certificate
}

// TLSMaterial is the assembled TLS context: the client's key and ephemeral
// certificate chain, plus the server CA as the sole trust anchor. It is
// immutable and safe to share across connections to the same instance
// until the owning ConnectionInfo expires.
type TLSMaterial struct {
	cfg *tls.Config
	// clientCert is retained so tests and diagnostics can inspect the
	// leaf without re-parsing TLSConfig().Certificates.
	clientCert tls.Certificate
}

// TLSConfig returns a *tls.Config configured with the client certificate
// and server CA trust anchor. Each call returns a fresh shallow clone, so
// callers may safely set connection-specific fields (such as ServerName)
// without mutating shared state.
func (m TLSMaterial) TLSConfig() *tls.Config {
	return m.cfg.Clone()
}

// ClientCertificate returns the ephemeral client certificate used to
// authenticate to the database.
func (m TLSMaterial) ClientCertificate() tls.Certificate {
	return m.clientCert
}

// ConnectionInfo bundles everything a socket factory needs to open an
// authenticated connection to a single Cloud SQL instance: the network
// endpoints, the TLS material, and the point in time this bundle must be
// replaced.
//
// ConnectionInfo is immutable. A new one is produced on every refresh
// cycle; callers must not mutate the value and should discard it once
// Expiration has passed.
type ConnectionInfo struct {
	Metadata   InstanceMetadata
	TLS        TLSMaterial
	Expiration time.Time
}

// Expired reports whether now is at or past i.Expiration.
func (i ConnectionInfo) Expired(now time.Time) bool {
	return !now.Before(i.Expiration)
}

// Addr returns the endpoint for the requested IPType and whether the
// instance has one.
func (i ConnectionInfo) Addr(t IPType) (string, bool) {
	addr, ok := i.Metadata.IPAddrs[t]
	return addr, ok
}

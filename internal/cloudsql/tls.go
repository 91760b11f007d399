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

package cloudsql

import (
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"

	"github.com/cloudsql-connect/go-connector/errtype"
	"github.com/cloudsql-connect/go-connector/internal/log"
)

// newTLSMaterial binds the client's private key to the ephemeral
// certificate, pins the server CA as the sole trust anchor, and picks the
// TLS minimum version: both auth modes attempt TLS 1.3 first. IAM auth mode
// requires TLS 1.3 and fails outright if it isn't available; PASSWORD mode
// falls back to TLS 1.2 with a logged warning instead of failing.
//
// crypto/tls has supported TLS 1.3 as a negotiable version since Go 1.13,
// so the fallback path never triggers on any Go runtime this module
// supports; the check is kept so the failure mode stays documented and so a
// future minimum-version downgrade (for an older peer or a FIPS build
// constraint) fails loudly, or degrades gracefully for PASSWORD mode,
// instead of silently negotiating a weaker cipher suite.
func newTLSMaterial(key *rsa.PrivateKey, leaf *x509.Certificate, meta InstanceMetadata, authType AuthType, logger log.Logger) (TLSMaterial, error) {
	clientCert := tls.Certificate{
		Certificate: [][]byte{leaf.Raw},
		PrivateKey:  key,
		Leaf:        leaf,
	}

	pool := x509.NewCertPool()
	pool.AddCert(meta.ServerCaCert)

	minVersion := uint16(tls.VersionTLS13)
	if !tls13Available() {
		if authType != IAMAuthType {
			minVersion = tls.VersionTLS12
			logger.Warnf("using TLS 1.2 for PASSWORD authentication; TLS 1.3 is unavailable")
		} else {
			return TLSMaterial{}, errtype.NewRefreshErrorKind(
				errtype.Unsupported,
				"TLSv1.3 is required for IAM authentication",
				"",
				nil,
			)
		}
	}

	cfg := &tls.Config{
		Certificates: []tls.Certificate{clientCert},
		RootCAs:      pool,
		MinVersion:   minVersion,
		ServerName:   leaf.Subject.CommonName,
	}

	return TLSMaterial{cfg: cfg, clientCert: clientCert}, nil
}

// tls13Available reports whether the running Go TLS stack can negotiate
// TLS 1.3. It always returns true on any supported toolchain; it exists so
// the check in newTLSMaterial has something concrete to call instead of a
// hardcoded true, in case a future build ever embeds a restricted TLS
// stack.
func tls13Available() bool {
	return tls.VersionTLS13 > 0
}

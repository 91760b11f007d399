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
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"strings"

	"github.com/cloudsql-connect/go-connector/errtype"
	"github.com/cloudsql-connect/go-connector/internal/cloudsql/adminapi"
)

const (
	publicKeyPEMHeader = "-----BEGIN RSA PUBLIC KEY-----"
	publicKeyPEMFooter = "-----END RSA PUBLIC KEY-----"
	pemLineWidth       = 64
)

// encodePublicKeyPEM produces the exact PEM envelope the Admin API expects
// for GenerateEphemeralCert: a literal "RSA PUBLIC KEY" header (an
// historical accident kept for compatibility - the control plane accepts
// any supported key type through this envelope), the base64 of the
// SubjectPublicKeyInfo encoding wrapped at 64 columns, and a matching
// footer.
func encodePublicKeyPEM(pub *rsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", err
	}
	encoded := base64.StdEncoding.EncodeToString(der)

	var b strings.Builder
	b.WriteString(publicKeyPEMHeader)
	b.WriteByte('\n')
	for len(encoded) > 0 {
		n := pemLineWidth
		if n > len(encoded) {
			n = len(encoded)
		}
		b.WriteString(encoded[:n])
		b.WriteByte('\n')
		encoded = encoded[n:]
	}
	b.WriteString(publicKeyPEMFooter)
	b.WriteByte('\n')
	return b.String(), nil
}

// fetchEphemeralCert submits the key pair's public key (and, in IAM auth
// mode, the trailing-dot-trimmed access token) to the Admin API and parses
// the returned client certificate.
func fetchEphemeralCert(ctx context.Context, client *adminapi.Client, pub *rsa.PublicKey, inst InstanceName, token *AccessToken, authType AuthType) (*x509.Certificate, error) {
	pubPEM, err := encodePublicKeyPEM(pub)
	if err != nil {
		return nil, errtype.NewRefreshError("failed to encode public key", inst.String(), err)
	}

	var accessToken string
	if authType == IAMAuthType && token != nil {
		accessToken = trimTrailingDots(token.Value)
	}

	certPEM, err := client.GenerateEphemeralCert(ctx, inst.ProjectID, inst.InstanceID, pubPEM, accessToken)
	if err != nil {
		return nil, mapAdminAPIError("Failed to create ephemeral certificate", inst.String(), err)
	}

	cert, err := parsePEMCertificate(certPEM)
	if err != nil {
		return nil, errtype.NewRefreshErrorKind(
			errtype.CertificateInvalid,
			"failed to parse ephemeral certificate",
			inst.String(),
			err,
		)
	}
	return cert, nil
}

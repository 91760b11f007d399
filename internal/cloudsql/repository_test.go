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

package cloudsql_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"google.golang.org/api/option"

	"github.com/cloudsql-connect/go-connector/internal/cloudsql"
	"github.com/cloudsql-connect/go-connector/internal/cloudsql/adminapi"
)

// fakeAdminServer implements both Admin API operations a Repository needs:
// GetConnectSettings (GET) and GenerateEphemeralCert (POST).
func fakeAdminServer(t *testing.T, leafPEM, caCertPEM string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			fmt.Fprintf(w, `{
				"region": "my-region",
				"backendType": "SECOND_GEN",
				"databaseVersion": "POSTGRES_15",
				"dnsName": "",
				"ipAddresses": [{"type": "PRIMARY", "ipAddress": "1.2.3.4"}],
				"serverCaCert": {"cert": %q}
			}`, caCertPEM)
		case http.MethodPost:
			fmt.Fprintf(w, `{"ephemeralCert":{"cert": %q}}`, leafPEM)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}))
}

func genLeafAndCA(t *testing.T) (leafPEM, caPEM string, leafKey *rsa.PrivateKey) {
	t.Helper()
	caKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate CA key: %v", err)
	}
	caTmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "test-ca"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
	}
	caDER, err := x509.CreateCertificate(rand.Reader, caTmpl, caTmpl, &caKey.PublicKey, caKey)
	if err != nil {
		t.Fatalf("failed to create CA certificate: %v", err)
	}
	caPEM = string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: caDER}))

	leafKey, err = rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate leaf key: %v", err)
	}
	leafTmpl := &x509.Certificate{
		SerialNumber: big.NewInt(2),
		Subject:      pkix.Name{CommonName: "my-instance"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	leafDER, err := x509.CreateCertificate(rand.Reader, leafTmpl, caTmpl, &leafKey.PublicKey, caKey)
	if err != nil {
		t.Fatalf("failed to create leaf certificate: %v", err)
	}
	leafPEM = string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: leafDER}))
	return leafPEM, caPEM, leafKey
}

type fakeTokenSupplier struct {
	token *cloudsql.AccessToken
}

func (s fakeTokenSupplier) Token(context.Context) (*cloudsql.AccessToken, error) {
	return s.token, nil
}

func TestRepositoryConnectionInfo(t *testing.T) {
	leafPEM, caPEM, _ := genLeafAndCA(t)
	ts := fakeAdminServer(t, leafPEM, caPEM)
	defer ts.Close()

	client, err := adminapi.NewClient(context.Background(),
		option.WithEndpoint(ts.URL),
		option.WithHTTPClient(ts.Client()),
	)
	if err != nil {
		t.Fatalf("failed to create test client: %v", err)
	}

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	inst := cloudsql.InstanceName{ProjectID: "my-project", RegionID: "my-region", InstanceID: "my-instance"}
	repo := cloudsql.NewRepository(client, key, cloudsql.NoopTokenSupplier(), cloudsql.PasswordAuthType,
		cloudsql.WithRefreshRateLimiter(rate.NewLimiter(rate.Inf, 1)))

	info, err := repo.ConnectionInfo(context.Background(), inst)
	if err != nil {
		t.Fatalf("ConnectionInfo returned error: %v", err)
	}
	if got := info.Metadata.IPAddrs[cloudsql.PublicIP]; got != "1.2.3.4" {
		t.Errorf("IPAddrs[PublicIP] = %q, want %q", got, "1.2.3.4")
	}
	if info.TLS.ClientCertificate().Leaf.Subject.CommonName != "my-instance" {
		t.Error("expected the assembled TLS material to carry the fetched leaf certificate")
	}
	if info.Expiration.IsZero() {
		t.Error("expected a non-zero Expiration")
	}
}

func TestRepositoryConnectionInfoExpirationClampedToToken(t *testing.T) {
	leafPEM, caPEM, _ := genLeafAndCA(t)
	ts := fakeAdminServer(t, leafPEM, caPEM)
	defer ts.Close()

	client, err := adminapi.NewClient(context.Background(),
		option.WithEndpoint(ts.URL),
		option.WithHTTPClient(ts.Client()),
	)
	if err != nil {
		t.Fatalf("failed to create test client: %v", err)
	}

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	tokenExp := time.Now().Add(5 * time.Minute)
	supplier := fakeTokenSupplier{token: &cloudsql.AccessToken{Value: "ya29.abc", ExpiresAt: &tokenExp}}

	inst := cloudsql.InstanceName{ProjectID: "my-project", RegionID: "my-region", InstanceID: "my-instance"}
	repo := cloudsql.NewRepository(client, key, supplier, cloudsql.IAMAuthType,
		cloudsql.WithRefreshRateLimiter(rate.NewLimiter(rate.Inf, 1)))

	info, err := repo.ConnectionInfo(context.Background(), inst)
	if err != nil {
		t.Fatalf("ConnectionInfo returned error: %v", err)
	}
	if !info.Expiration.Equal(tokenExp) {
		t.Errorf("Expiration = %v, want the token's earlier expiry %v", info.Expiration, tokenExp)
	}
}

func TestRepositoryConnectionInfoRateLimited(t *testing.T) {
	leafPEM, caPEM, _ := genLeafAndCA(t)
	ts := fakeAdminServer(t, leafPEM, caPEM)
	defer ts.Close()

	client, err := adminapi.NewClient(context.Background(),
		option.WithEndpoint(ts.URL),
		option.WithHTTPClient(ts.Client()),
	)
	if err != nil {
		t.Fatalf("failed to create test client: %v", err)
	}

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	inst := cloudsql.InstanceName{ProjectID: "my-project", RegionID: "my-region", InstanceID: "my-instance"}
	repo := cloudsql.NewRepository(client, key, cloudsql.NoopTokenSupplier(), cloudsql.PasswordAuthType,
		cloudsql.WithRefreshRateLimiter(rate.NewLimiter(rate.Every(time.Hour), 1)))

	if _, err := repo.ConnectionInfo(context.Background(), inst); err != nil {
		t.Fatalf("first ConnectionInfo call returned error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := repo.ConnectionInfo(ctx, inst); err == nil {
		t.Error("expected the second call to fail waiting on the exhausted rate limiter")
	}
}

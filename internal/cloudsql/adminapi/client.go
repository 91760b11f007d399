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

// Package adminapi is the thin wrapper around the two Cloud SQL Admin API
// operations the connector depends on. It owns no connector semantics of
// its own: metadata validation and error-kind mapping live one layer up in
// internal/cloudsql, and neither layer retries a failed call. This keeps the wrapper a fair
// stand-in for the "Admin API Client (external)" collaborator described by
// the connector's design.
package adminapi

import (
	"context"
	"fmt"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	sqladmin "google.golang.org/api/sqladmin/v1beta4"
)

const userAgent = "cloudsql-go-connector/0.1.0"

// IPMapping is a single instance IP endpoint, as returned by
// GetConnectSettings. Type is one of "PRIMARY", "PRIVATE", or another value
// the caller should ignore.
type IPMapping struct {
	Type      string
	IPAddress string
}

// ConnectSettings is the subset of the Cloud SQL Admin API's
// ConnectSettings resource the connector consumes.
type ConnectSettings struct {
	Region          string
	BackendType     string
	DatabaseVersion string
	IPAddresses     []IPMapping
	// DNSName is the instance's PSC DNS name. Empty when Private Service
	// Connect is not configured.
	DNSName string
	// ServerCaCertPEM is the instance's server CA certificate, PEM encoded.
	ServerCaCertPEM string
}

// Client wraps a *sqladmin.Service. It is safe for concurrent use by
// multiple goroutines, since the underlying *sqladmin.Service is.
type Client struct {
	svc *sqladmin.Service
}

// NewClient creates a Client talking to the default (or overridden, via
// opts) Cloud SQL Admin API endpoint.
func NewClient(ctx context.Context, opts ...option.ClientOption) (*Client, error) {
	opts = append([]option.ClientOption{option.WithUserAgent(userAgent)}, opts...)
	svc, err := sqladmin.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create sqladmin client: %w", err)
	}
	return &Client{svc: svc}, nil
}

// GetConnectSettings fetches the instance's connection metadata.
func (c *Client) GetConnectSettings(ctx context.Context, project, instance string) (ConnectSettings, error) {
	resp, err := c.svc.Connect.Get(project, instance).Context(ctx).Do()
	if err != nil {
		return ConnectSettings{}, err
	}
	cs := ConnectSettings{
		Region:          resp.Region,
		BackendType:     resp.BackendType,
		DatabaseVersion: resp.DatabaseVersion,
		DNSName:         resp.DnsName,
	}
	if resp.ServerCaCert != nil {
		cs.ServerCaCertPEM = resp.ServerCaCert.Cert
	}
	for _, ip := range resp.IpAddresses {
		cs.IPAddresses = append(cs.IPAddresses, IPMapping{Type: ip.Type, IPAddress: ip.IpAddress})
	}
	return cs, nil
}

// GenerateEphemeralCert submits a PEM-encoded public key (and, in IAM auth
// mode, an access token) to mint a short-lived client certificate. Returns
// the PEM-encoded certificate.
func (c *Client) GenerateEphemeralCert(ctx context.Context, project, instance, publicKeyPEM, accessToken string) (string, error) {
	req := &sqladmin.GenerateEphemeralCertRequest{
		PublicKey: publicKeyPEM,
	}
	if accessToken != "" {
		req.AccessToken = accessToken
	}
	resp, err := c.svc.Connect.GenerateEphemeralCert(project, instance, req).Context(ctx).Do()
	if err != nil {
		return "", err
	}
	if resp.EphemeralCert == nil {
		return "", fmt.Errorf("adminapi: response did not include an ephemeralCert")
	}
	return resp.EphemeralCert.Cert, nil
}

// Reason extracts the Admin API's structured error reason (e.g.
// "notAuthorized", "accessNotConfigured") from err, if it is a
// *googleapi.Error carrying one. The empty string means no such reason was
// present, which covers ordinary transport failures (timeouts, DNS errors,
// non-JSON 5xx bodies).
func Reason(err error) string {
	gerr, ok := err.(*googleapi.Error)
	if !ok || gerr == nil {
		return ""
	}
	for _, e := range gerr.Errors {
		if e.Reason != "" {
			return e.Reason
		}
	}
	return ""
}

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
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"strings"

	"github.com/cloudsql-connect/go-connector/errtype"
	"github.com/cloudsql-connect/go-connector/internal/cloudsql/adminapi"
)

const secondGenBackend = "SECOND_GEN"

// fetchMetadata calls the Admin API's connectSettings endpoint and
// validates the response before handing back InstanceMetadata. Validation
// runs in the exact order spelled out in the connector design: region,
// backend generation, IAM/SQL-Server compatibility, IP map construction,
// then CA parsing.
func fetchMetadata(ctx context.Context, client *adminapi.Client, inst InstanceName, authType AuthType) (InstanceMetadata, error) {
	cs, err := client.GetConnectSettings(ctx, inst.ProjectID, inst.InstanceID)
	if err != nil {
		return InstanceMetadata{}, mapAdminAPIError("failed to get instance metadata", inst.String(), err)
	}

	if cs.Region != inst.RegionID {
		return InstanceMetadata{}, errtype.NewRefreshErrorKind(
			errtype.InvalidArgument,
			fmt.Sprintf("provided region was mismatched - got region %q, want %q", inst.RegionID, cs.Region),
			inst.String(),
			nil,
		)
	}

	if cs.BackendType != secondGenBackend {
		return InstanceMetadata{}, errtype.NewRefreshErrorKind(
			errtype.Unsupported,
			fmt.Sprintf("unsupported backend type %q (only SECOND_GEN instances are supported)", cs.BackendType),
			inst.String(),
			nil,
		)
	}

	if authType == IAMAuthType && strings.Contains(cs.DatabaseVersion, "SQLSERVER") {
		return InstanceMetadata{}, errtype.NewRefreshErrorKind(
			errtype.Unsupported,
			"IAM Authentication is not supported for SQL Server instances",
			inst.String(),
			nil,
		)
	}

	ipAddrs := make(map[IPType]string)
	for _, ip := range cs.IPAddresses {
		switch ip.Type {
		case "PRIMARY":
			ipAddrs[PublicIP] = ip.IPAddress
		case "PRIVATE":
			ipAddrs[PrivateIP] = ip.IPAddress
		default:
			// Unknown IP types (e.g. OUTGOING) are ignored.
		}
	}
	if cs.DNSName != "" {
		ipAddrs[PSCIP] = cs.DNSName
	}
	if len(ipAddrs) == 0 {
		return InstanceMetadata{}, errtype.NewRefreshErrorKind(
			errtype.NotAvailable,
			"instance does not have an assigned IP address",
			inst.String(),
			nil,
		)
	}

	caCert, err := parsePEMCertificate(cs.ServerCaCertPEM)
	if err != nil {
		return InstanceMetadata{}, errtype.NewRefreshErrorKind(
			errtype.CertificateInvalid,
			"failed to parse server CA certificate",
			inst.String(),
			err,
		)
	}

	return InstanceMetadata{IPAddrs: ipAddrs, ServerCaCert: caCert}, nil
}

// parsePEMCertificate decodes a single PEM-encoded certificate block.
func parsePEMCertificate(pemCert string) (*x509.Certificate, error) {
	block, _ := pem.Decode([]byte(pemCert))
	if block == nil {
		return nil, fmt.Errorf("certificate is not a valid PEM")
	}
	return x509.ParseCertificate(block.Bytes)
}

const (
	reasonNotAuthorized        = "notAuthorized"
	reasonAccessNotConfigured  = "accessNotConfigured"
	consoleAPIOverviewTemplate = "https://console.cloud.google.com/apis/api/sqladmin/overview?project=%s"
)

// mapAdminAPIError implements the addExceptionContext mapping from the
// design: Admin API reason codes become specific error Kinds, everything
// else becomes Transient.
func mapAdminAPIError(fallbackMsg, connName string, err error) *errtype.RefreshError {
	switch adminapi.Reason(err) {
	case reasonAccessNotConfigured:
		projectID, _, _ := strings.Cut(connName, ":")
		return errtype.NewRefreshErrorKind(
			errtype.APIDisabled,
			fmt.Sprintf("the Cloud SQL Admin API is not enabled for the project %q, or it is not "+
				"billed. Enable it by visiting %s", projectID, fmt.Sprintf(consoleAPIOverviewTemplate, projectID)),
			connName,
			err,
		)
	case reasonNotAuthorized:
		projectID, _, _ := strings.Cut(connName, ":")
		return errtype.NewRefreshErrorKind(
			errtype.AccessDenied,
			fmt.Sprintf("ensure that the account has access to the instance %q in project %q; either the "+
				"instance does not exist in that project, or the caller is missing the required IAM permission",
				connName, projectID),
			connName,
			err,
		)
	default:
		return errtype.NewRefreshErrorKind(errtype.Transient, fallbackMsg, connName, err)
	}
}

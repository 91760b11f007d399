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
	"strings"

	"github.com/cloudsql-connect/go-connector/errtype"
)

// InstanceName is the parsed "project:region:instance" triple that
// identifies a Cloud SQL instance. It is immutable once parsed.
type InstanceName struct {
	ProjectID  string
	RegionID   string
	InstanceID string
}

// String returns the canonical connection name, used as the diagnostic
// prefix on every error raised about this instance.
func (n InstanceName) String() string {
	return n.ProjectID + ":" + n.RegionID + ":" + n.InstanceID
}

// ParseInstanceName parses the "project:region:instance" form. The legacy
// two-part "project:instance" form is rejected: Cloud SQL instance names
// are no longer unambiguous without a region.
func ParseInstanceName(connName string) (InstanceName, error) {
	parts := strings.Split(connName, ":")
	if len(parts) != 3 {
		return InstanceName{}, errtype.NewRefreshErrorKind(
			errtype.InvalidArgument,
			"invalid instance connection name, expected \"project:region:instance\"",
			connName,
			nil,
		)
	}
	for _, p := range parts {
		if p == "" {
			return InstanceName{}, errtype.NewRefreshErrorKind(
				errtype.InvalidArgument,
				"invalid instance connection name, expected \"project:region:instance\"",
				connName,
				nil,
			)
		}
	}
	return InstanceName{ProjectID: parts[0], RegionID: parts[1], InstanceID: parts[2]}, nil
}

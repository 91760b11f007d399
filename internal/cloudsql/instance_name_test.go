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
	"errors"
	"testing"

	"github.com/cloudsql-connect/go-connector/errtype"
	"github.com/cloudsql-connect/go-connector/internal/cloudsql"
)

func TestParseInstanceName(t *testing.T) {
	got, err := cloudsql.ParseInstanceName("my-project:my-region:my-instance")
	if err != nil {
		t.Fatalf("ParseInstanceName returned error: %v", err)
	}
	want := cloudsql.InstanceName{ProjectID: "my-project", RegionID: "my-region", InstanceID: "my-instance"}
	if got != want {
		t.Errorf("ParseInstanceName = %+v, want %+v", got, want)
	}
	if got.String() != "my-project:my-region:my-instance" {
		t.Errorf("String() = %q, want %q", got.String(), "my-project:my-region:my-instance")
	}
}

func TestParseInstanceNameErrors(t *testing.T) {
	tcs := []string{
		"my-project:my-instance",
		"my-project:my-region:my-instance:extra",
		"",
		"my-project::my-instance",
		":my-region:my-instance",
		"my-project:my-region:",
	}
	for _, tc := range tcs {
		_, err := cloudsql.ParseInstanceName(tc)
		if err == nil {
			t.Errorf("ParseInstanceName(%q) succeeded, want error", tc)
			continue
		}
		var re *errtype.RefreshError
		if !errors.As(err, &re) {
			t.Errorf("ParseInstanceName(%q) error = %T, want *errtype.RefreshError", tc, err)
			continue
		}
		if re.Kind != errtype.InvalidArgument {
			t.Errorf("ParseInstanceName(%q) Kind = %v, want InvalidArgument", tc, re.Kind)
		}
	}
}

// Copyright 2021 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command cloudsql-connect is a reference client for the Cloud SQL
// connection-info connector. See the cmd package for flag definitions
// and the "connect" subcommand.
package main

import "github.com/cloudsql-connect/go-connector/cmd"

func main() {
	cmd.Execute()
}

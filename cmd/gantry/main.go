// Copyright 2025 The Gantry Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command gantry is the stock CLI build. Commands only see handler
// modules compiled into the binary they run in, so this build serves an
// empty project; projects embed the same command set in their own main
// through the cli package.
package main

import "github.com/gantry-run/gantry/cli"

func main() {
	cli.Execute()
}

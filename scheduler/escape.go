// Copyright © 2021 Genome Research Limited
// Author: Sendu Bala <sb10@sanger.ac.uk>.
//
//  This file is part of bherd.
//
//  bherd is free software: you can redistribute it and/or modify
//  it under the terms of the GNU Lesser General Public License as published by
//  the Free Software Foundation, either version 3 of the License, or
//  (at your option) any later version.
//
//  bherd is distributed in the hope that it will be useful,
//  but WITHOUT ANY WARRANTY; without even the implied warranty of
//  MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
//  GNU Lesser General Public License for more details.
//
//  You should have received a copy of the GNU Lesser General Public License
//  along with bherd. If not, see <http://www.gnu.org/licenses/>.

package scheduler

// this file handles quoting user commands so they survive the extra round of
// shell interpretation the scheduler applies when it runs them

import (
	"regexp"
	"strings"
)

// shellMetaRegex matches the characters that would be interpreted by the
// shell the scheduler invokes to run a submitted command.
var shellMetaRegex = regexp.MustCompile(`[!$^&*(){}"'?]`)

// EscapeCommand wraps the given shell command so that the payload the
// scheduler's shell ultimately executes is byte-identical to cmd.
//
// Commands containing shell metacharacters are handed to sh -c inside single
// quotes, with any single quotes in the payload escaped to survive both
// shells. Anything else just gets wrapped in double quotes.
func EscapeCommand(cmd string) string {
	if shellMetaRegex.MatchString(cmd) {
		return `sh -c '` + strings.ReplaceAll(cmd, `'`, `'\''`) + `'`
	}
	return `"` + cmd + `"`
}

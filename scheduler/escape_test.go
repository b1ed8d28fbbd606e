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

import (
	"strings"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

// unwrapSingleQuoted undoes what a POSIX shell does to a single-quoted
// string with embedded '\'' escapes, giving us back the payload the shell
// would hand to sh -c.
func unwrapSingleQuoted(s string) string {
	s = strings.TrimPrefix(s, "'")
	s = strings.TrimSuffix(s, "'")
	return strings.ReplaceAll(s, `'\''`, `'`)
}

func TestEscapeCommand(t *testing.T) {
	Convey("Plain commands are wrapped in double quotes", t, func() {
		So(EscapeCommand("echo hello"), ShouldEqual, `"echo hello"`)
		So(EscapeCommand("sleep 5; echo done > out.txt"), ShouldEqual, `"sleep 5; echo done > out.txt"`)
	})

	Convey("Each shell metacharacter triggers sh -c wrapping", t, func() {
		for _, meta := range []string{`!`, `$`, `^`, `&`, `*`, `(`, `)`, `{`, `}`, `"`, `'`, `?`} {
			cmd := "echo a" + meta + "b"
			So(EscapeCommand(cmd), ShouldStartWith, "sh -c '")
		}
	})

	Convey("The payload handed to sh is byte-identical to the user's command", t, func() {
		for _, cmd := range []string{
			`echo 'single quoted'`,
			`echo "double quoted"`,
			`perl -e 'print "$_\n" for (1..3)'`,
			`awk '{print $1}' file | sort`,
			`echo it's a trap`,
			`find . -name '*.txt' -exec grep -l foo {} \;`,
		} {
			escaped := EscapeCommand(cmd)
			So(escaped, ShouldStartWith, "sh -c ")
			So(unwrapSingleQuoted(strings.TrimPrefix(escaped, "sh -c ")), ShouldEqual, cmd)
		}
	})
}

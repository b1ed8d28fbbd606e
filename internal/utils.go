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

package internal

// this file has general utility functions

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

var username string

// Which returns the full path to the given executable, searching $PATH. It
// returns an empty string if the executable could not be found.
func Which(exe string) string {
	path, err := exec.LookPath(exe)
	if err != nil {
		return ""
	}
	return path
}

// Username returns the username of the current user. This avoids problems
// with static compilation as it avoids the use of os/user. It prefers $USER,
// and will otherwise only work on linux-like systems where 'id -u -n' works.
func Username() (string, error) {
	if username == "" {
		if envUser := os.Getenv("USER"); envUser != "" {
			username = envUser
		} else {
			idcmd := exec.Command("id", "-u", "-n")
			idout, err := idcmd.Output()
			if err != nil {
				return "", err
			}
			username = strings.TrimSuffix(string(idout), "\n")
		}
	}
	return username, nil
}

// CurrentHost returns the short hostname of this machine, preferring
// $HOSTNAME over asking the os, since clusters often override it.
func CurrentHost() string {
	host := os.Getenv("HOSTNAME")
	if host == "" {
		if osHost, err := os.Hostname(); err == nil {
			host = osHost
		}
	}
	if i := strings.IndexByte(host, '.'); i > 0 {
		host = host[:i]
	}
	return host
}

// FileExists tells you if a path exists (as any kind of file).
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// FormatSeconds turns a number of seconds in to a human readable hh:mm:ss
// duration string.
func FormatSeconds(seconds int) string {
	d := time.Duration(seconds) * time.Second
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

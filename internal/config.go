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

// this file implements the config system used by the cmd package

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/inconshreveable/log15"
	"github.com/jinzhu/configor"
)

const configCommonBasename = ".bherd_config.yml"

// Config holds the configuration options for the supervisor, scheduler
// adapter and ledger.
type Config struct {
	// HeadHost is the hostname of the designated head node; bherd refuses to
	// run anywhere else, since compute nodes typically lack the scheduler
	// client tools.
	HeadHost string `default:"hgs-head1"`

	// Queues is the comma-separated list of scheduler queues bherd may use,
	// ordered by increasing run time limit. Jobs killed for exceeding a
	// queue's limit get promoted to the next queue in this list.
	Queues string `default:"short,medium,long"`

	MaxResubmissions  int `default:"3"`
	MaxOutFilesPerDir int `default:"1000"`
	BatchQuerySize    int `default:"1000"`
	BusyBackoffSecs   int `default:"180"`
	SleepShortSecs    int `default:"45"`
	SleepLongSecs     int `default:"90"`
	FastCycles        int `default:"10"`
}

// QueueList returns the ordered queue names from the Queues setting.
func (c Config) QueueList() []string {
	var queues []string
	for _, q := range strings.Split(c.Queues, ",") {
		q = strings.TrimSpace(q)
		if q != "" {
			queues = append(queues, q)
		}
	}
	return queues
}

/*
ConfigLoad loads configuration settings from files and environment variables.

We prefer settings in the config file in the current dir over the config file
in the home directory over the config file in the dir pointed to by
BHERD_CONFIG_DIR.

Settings found in no file can be set with the environment variable
BHERD_<setting name in caps>, eg.
export BHERD_HEADHOST="login-node-2"
*/
func ConfigLoad(logger log15.Logger) Config {
	if err := os.Setenv("CONFIGOR_ENV_PREFIX", "BHERD"); err != nil {
		logger.Warn("failed to set up config env var handling", "err", err)
	}

	// read the config files. We have to check file existence before passing
	// these to configor.Load, or it will complain
	var configFiles []string
	pwd, err := os.Getwd()
	if err != nil {
		logger.Error("could not get the current directory", "err", err)
		os.Exit(1)
	}
	if configFile := filepath.Join(pwd, configCommonBasename); FileExists(configFile) {
		configFiles = append(configFiles, configFile)
	}
	if home := os.Getenv("HOME"); home != "" {
		if configFile := filepath.Join(home, configCommonBasename); FileExists(configFile) {
			configFiles = append(configFiles, configFile)
		}
	}
	if configDir := os.Getenv("BHERD_CONFIG_DIR"); configDir != "" {
		if configFile := filepath.Join(configDir, configCommonBasename); FileExists(configFile) {
			configFiles = append(configFiles, configFile)
		}
	}

	config := Config{}
	if err := configor.Load(&config, configFiles...); err != nil {
		logger.Error("config loading failed", "err", err)
		os.Exit(1)
	}

	return config
}

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

package cmd

import (
	"github.com/spf13/cobra"
)

// cleanCmd represents the clean command
var cleanCmd = &cobra.Command{
	Use:   "clean <jobListName>",
	Short: "Remove every trace of a finished job list",
	Long: `Remove every file bherd and the scheduler created for the given job
list: the job output files, the ledger files and their backups, the lock
file, and any directories left empty.

This refuses to run while any job of the list is still pending or running;
"bherd stop" the list first (and reconcile with "bherd check") if you really
want rid of it.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		sup := newSupervisor(args[0])
		if err := sup.Clean(); err != nil {
			die("clean failed: %s", err)
		}
		info("cleaned job list %s", args[0])
	},
}

func init() {
	RootCmd.AddCommand(cleanCmd)
}

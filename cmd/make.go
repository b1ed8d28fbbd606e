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

// makeCmd represents the make command
var makeCmd = &cobra.Command{
	Use:   "make <jobListName> <jobListFile>",
	Short: "Submit the commands in a file and supervise them to completion",
	Long: `Submit every line of the given file as an independent cluster job,
then supervise them until they're all finished.

This is simply "bherd push" followed by "bherd wait"; see the help of those
for the details.`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		sup := newSupervisor(args[0])
		if err := sup.Push(args[1], chosenQueue(), extraParams, keepBackups); err != nil {
			die("push failed: %s", err)
		}
		info("pushed job list %s", args[0])
		waitForCompletion(sup)
	},
}

func init() {
	RootCmd.AddCommand(makeCmd)
}

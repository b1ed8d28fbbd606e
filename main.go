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

/*
Package main is a stub for bherd's command line interface, with the actual
implementation in the cmd package.

bherd is a batch job supervisor. You give it a file of shell commands and it
submits each of them as an independent job to your LSF cluster, then babysits
them: it polls the scheduler for the state of every job, re-submits jobs that
crash (up to a configurable cap), bumps jobs that ran out of a queue's time
limit up to the next longer queue, and tells you how things are going.

Basics

Submit the commands in a file and wait for them all to complete:

    bherd make myjobs cmds.txt -q short

Or submit and come back later:

    bherd push myjobs cmds.txt -q short
    bherd wait myjobs

Check on progress without blocking, see runtime statistics, or save the
commands that ultimately failed:

    bherd check myjobs
    bherd time myjobs
    bherd crashed myjobs failed_cmds.txt

When everything is over, cancel anything still going and remove all trace:

    bherd stop myjobs
    bherd clean myjobs

Package Overview

bherd's core is implemented in the supervise package. Its Reconciler holds the
per-job state machine: each reconciliation loads the on-disk ledger, asks the
scheduler about every job not yet complete, applies the state transition table
and rewrites the ledger atomically. Its Supervisor composes the reconciler
with the scheduler adapter to implement the user-facing actions.

The scheduler package wraps the cluster scheduler's textual command interface
(bsub, bjobs, bhist, bkill) and normalises its output into typed records, so
the rest of the system never sees scheduler output text.

The ledger package holds the persistent files that record what has been
submitted and how far it has got, and the per-job-list file lock that stops
two supervisors from fighting over them.

The internal package contains general utility functions, and most notably
config.go holds the code for how the command line interface deals with config
options.
*/
package main

import (
	"github.com/VertebrateResequencing/bherd/cmd"
)

func main() {
	cmd.Execute()
}

// SYMSYNC - Symbol timing recovery for oversampled baseband signals.
// Copyright (C) 2015 Douglas Hall
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package main

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
)

var rcvr Receiver

func init() {
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006/01/02 15:04:05.000000",
	})
}

var (
	buildTag   = "dev"     // v#.#.#
	buildDate  = "unknown" // date -u '+%Y-%m-%d'
	commitHash = "unknown" // git rev-parse HEAD
)

func main() {
	var flags Flags

	rcvr.RegisterFlags()
	flags.Register(pflag.CommandLine)
	MergeGoFlags(pflag.CommandLine)
	pflag.Usage = Usage(pflag.CommandLine)
	EnvOverride(pflag.CommandLine)
	pflag.Parse()

	if flags.Version {
		fmt.Println("Build Tag: ", buildTag)
		fmt.Println("Build Date:", buildDate)
		fmt.Println("Commit:    ", commitHash)
		os.Exit(0)
	}

	log.SetLevel(flags.LogLevel())

	if err := rcvr.NewReceiver(&flags, os.Stdout); err != nil {
		log.Fatal(err)
	}
	defer rcvr.Close()

	if err := rcvr.Run(); err != nil {
		log.Error(err)
		rcvr.Close()
		os.Exit(1)
	}
}

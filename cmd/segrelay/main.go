// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Command segrelay records camera segments and relays them to a resumable
// upload endpoint.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/ManuGH/segrelay/internal/version"
)

const usage = `usage: segrelay <command> [flags]

commands:
  run          run the daemon (uploads, retention, status API)
  record       record segments for a work until interrupted
  upload       drain the upload queue once and exit
  segments     list catalog segments
  healthcheck  probe a running daemon
  version      print version and exit
`

func main() {
	os.Exit(dispatch(os.Args[1:], os.Stdout, os.Stderr))
}

func dispatch(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		return runDaemonCLI(nil)
	}
	cmd, rest := args[0], args[1:]
	switch cmd {
	case "run":
		return runDaemonCLI(rest)
	case "record":
		return runRecordCLI(rest)
	case "upload":
		return runUploadCLI(rest, stdout)
	case "segments":
		return runSegmentsCLI(rest, stdout)
	case "healthcheck":
		return runHealthcheckCLI(rest, stdout, stderr)
	case "version", "--version", "-version":
		_, _ = fmt.Fprintln(stdout, version.String())
		return 0
	case "help", "-h", "--help":
		_, _ = fmt.Fprint(stdout, usage)
		return 0
	default:
		_, _ = fmt.Fprintf(stderr, "unknown command %q\n\n%s", cmd, usage)
		return 2
	}
}

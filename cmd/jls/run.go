package main

import (
	"fmt"
	"io"
	"log/slog"
)

const usage = `jls - inspect JSONL artifacts and their sidecar metadata

Usage:
  jls <command> [flags] <args>

Commands:
  rows   <file>...        print row counts (sidecar-first, scan fallback)
  state  <file>...        print sidecar state and freshness
  head   <file>           print the first records of a file
  seen   <file> <token>   check whether a dedup token was written

Flags:
  -h, --help              show this help

Environment:
  JLS_DEBUG               enable debug logging when set
`

// run dispatches to a subcommand and returns the process exit code.
func run(out, errOut io.Writer, logger *slog.Logger, workDir string, env []string, args []string) int {
	if len(args) == 0 {
		fmt.Fprint(errOut, usage)

		return 2
	}

	cmd, rest := args[0], args[1:]

	switch cmd {
	case "-h", "--help", "help":
		fmt.Fprint(out, usage)

		return 0
	case "rows":
		return cmdRows(out, errOut, logger, workDir, env, rest)
	case "state":
		return cmdState(out, errOut, logger, workDir, env, rest)
	case "head":
		return cmdHead(out, errOut, logger, workDir, env, rest)
	case "seen":
		return cmdSeen(out, errOut, logger, workDir, env, rest)
	default:
		fmt.Fprintf(errOut, "jls: unknown command %q\n\n", cmd)
		fmt.Fprint(errOut, usage)

		return 2
	}
}

func hasHelpFlag(args []string) bool {
	for _, a := range args {
		if a == "-h" || a == "--help" {
			return true
		}
	}

	return false
}

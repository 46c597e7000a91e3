package main

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
	flag "github.com/spf13/pflag"

	"github.com/colebaker/jsonlstore/pkg/fs"
	"github.com/colebaker/jsonlstore/pkg/jsonl"
)

const stateHelp = `Usage: jls state [flags] <file>...

Print the sidecar state of each JSONL file: counters, timestamps,
completion, and whether the sidecar is fresh (its captured mtime/size match
the data file on disk).

Flags:
  --ensure    touch the sidecar first, creating it if absent
`

func cmdState(out, errOut io.Writer, logger *slog.Logger, workDir string, env []string, args []string) int {
	if hasHelpFlag(args) {
		fmt.Fprint(out, stateHelp)

		return 0
	}

	flags := flag.NewFlagSet("state", flag.ContinueOnError)
	flags.SetOutput(errOut)
	ensure := flags.Bool("ensure", false, "touch the sidecar before loading")

	if err := flags.Parse(args); err != nil {
		return 2
	}

	paths := flags.Args()
	if len(paths) == 0 {
		fmt.Fprintln(errOut, "jls state: at least one file is required")

		return 2
	}

	fsys := fs.NewReal()
	states := jsonl.NewStateRepository(fsys, jsonl.NewSidecarStore(fsys))

	exit := 0

	for _, path := range paths {
		path = resolvePath(workDir, path)

		var st jsonl.State

		if *ensure {
			var err error

			st, err = states.Ensure(path)
			if err != nil {
				logger.Error("ensuring sidecar", "path", path, "err", err)
				fmt.Fprintf(errOut, "jls state: %s: %v\n", path, err)

				exit = 1

				continue
			}
		} else {
			st = states.Load(path)
		}

		printState(out, st)
	}

	return exit
}

func printState(out io.Writer, st jsonl.State) {
	fmt.Fprintf(out, "%s\n", st.DataPath)

	if !st.SidecarExists {
		fmt.Fprintf(out, "  sidecar:   none\n")

		return
	}

	sc := st.Sidecar

	fmt.Fprintf(out, "  rows:      %s\n", humanize.Comma(sc.Rows))
	fmt.Fprintf(out, "  bytes:     %s\n", humanize.Bytes(uint64(max(sc.Bytes, 0))))
	fmt.Fprintf(out, "  completed: %t\n", sc.Completed)
	fmt.Fprintf(out, "  fresh:     %t\n", st.Fresh)

	if sc.StartedAt != nil {
		fmt.Fprintf(out, "  started:   %s\n", sc.StartedAt.Format(time.RFC3339))
	}

	if sc.UpdatedAt != nil {
		fmt.Fprintf(out, "  updated:   %s\n", sc.UpdatedAt.Format(time.RFC3339))
	}
}

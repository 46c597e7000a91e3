package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/dustin/go-humanize"
	flag "github.com/spf13/pflag"

	"github.com/colebaker/jsonlstore/pkg/fs"
	"github.com/colebaker/jsonlstore/pkg/jsonl"
)

const rowsHelp = `Usage: jls rows [flags] <file>...

Print the row count of each JSONL file. A file with a sidecar answers from
its counter without touching the data; otherwise the file is scanned.

Flags:
  --raw    print bare numbers without thousands separators
`

func cmdRows(out, errOut io.Writer, logger *slog.Logger, workDir string, env []string, args []string) int {
	if hasHelpFlag(args) {
		fmt.Fprint(out, rowsHelp)

		return 0
	}

	flags := flag.NewFlagSet("rows", flag.ContinueOnError)
	flags.SetOutput(errOut)
	raw := flags.Bool("raw", false, "print bare numbers")

	if err := flags.Parse(args); err != nil {
		return 2
	}

	paths := flags.Args()
	if len(paths) == 0 {
		fmt.Fprintln(errOut, "jls rows: at least one file is required")

		return 2
	}

	fsys := fs.NewReal()
	counter := jsonl.NewCounter(fsys, jsonl.NewSidecarStore(fsys))

	exit := 0

	for _, path := range paths {
		path = resolvePath(workDir, path)

		rows, err := counter.Rows(path)
		if err != nil {
			logger.Error("counting rows", "path", path, "err", err)
			fmt.Fprintf(errOut, "jls rows: %s: %v\n", path, err)

			exit = 1

			continue
		}

		if *raw {
			fmt.Fprintf(out, "%d\t%s\n", rows, path)
		} else {
			fmt.Fprintf(out, "%s\t%s\n", humanize.Comma(rows), path)
		}
	}

	return exit
}

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	flag "github.com/spf13/pflag"

	"github.com/colebaker/jsonlstore/pkg/fs"
	"github.com/colebaker/jsonlstore/pkg/jsonl"
)

const headHelp = `Usage: jls head [flags] <file>

Print the first records of a JSONL file, one JSON value per line. Works on
plain and gzip files; malformed trailing lines from a crashed writer are
skipped.

Flags:
  -n, --lines int      number of records to print (default 10)
      --start-at int   label of the first line number (default 1)
      --numbers        prefix each record with its line number
`

func cmdHead(out, errOut io.Writer, logger *slog.Logger, workDir string, env []string, args []string) int {
	if hasHelpFlag(args) {
		fmt.Fprint(out, headHelp)

		return 0
	}

	flags := flag.NewFlagSet("head", flag.ContinueOnError)
	flags.SetOutput(errOut)
	count := flags.IntP("lines", "n", 10, "number of records to print")
	startAt := flags.Int("start-at", 1, "label of the first line number")
	numbers := flags.Bool("numbers", false, "prefix records with line numbers")

	if err := flags.Parse(args); err != nil {
		return 2
	}

	if flags.NArg() != 1 {
		fmt.Fprintln(errOut, "jls head: exactly one file is required")

		return 2
	}

	path := resolvePath(workDir, flags.Arg(0))

	reader, err := jsonl.OpenReader(fs.NewReal(), path, jsonl.ReaderOptions{StartAtLine: *startAt})
	if err != nil {
		fmt.Fprintf(errOut, "jls head: %v\n", err)

		return 1
	}

	printed := 0

	for lineNo, value := range reader.Lines() {
		if printed >= *count {
			break
		}

		data, err := json.Marshal(value)
		if err != nil {
			logger.Warn("re-encoding record", "path", path, "line", lineNo, "err", err)

			continue
		}

		if *numbers {
			fmt.Fprintf(out, "%d\t%s\n", lineNo, data)
		} else {
			fmt.Fprintf(out, "%s\n", data)
		}

		printed++
	}

	if err := reader.Err(); err != nil {
		fmt.Fprintf(errOut, "jls head: %v\n", err)

		return 1
	}

	return 0
}

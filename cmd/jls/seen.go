package main

import (
	"fmt"
	"io"
	"log/slog"
	"path/filepath"

	flag "github.com/spf13/pflag"

	"github.com/colebaker/jsonlstore/pkg/fs"
	"github.com/colebaker/jsonlstore/pkg/jsonl"
)

const seenHelp = `Usage: jls seen [flags] <file> <token>

Check whether a deduplication token was written to a JSONL file. The
on-disk token index answers when present; without one the data file is
scanned comparing the configured token field (config "token_field" or
--field). With neither index nor field the answer is "no known duplicates".

Exit code 0 when the token was seen, 1 when not, 2 on usage errors.

Flags:
  --field string   record field to compare during a scan fallback
`

func cmdSeen(out, errOut io.Writer, logger *slog.Logger, workDir string, env []string, args []string) int {
	if hasHelpFlag(args) {
		fmt.Fprint(out, seenHelp)

		return 0
	}

	flags := flag.NewFlagSet("seen", flag.ContinueOnError)
	flags.SetOutput(errOut)
	field := flags.String("field", "", "record field to compare during a scan fallback")

	if err := flags.Parse(args); err != nil {
		return 2
	}

	if flags.NArg() != 2 {
		fmt.Fprintln(errOut, "jls seen: a file and a token are required")

		return 2
	}

	cfg, err := loadConfig(workDir, env)
	if err != nil {
		fmt.Fprintf(errOut, "jls seen: %v\n", err)

		return 2
	}

	tokenField := cfg.TokenField
	if *field != "" {
		tokenField = *field
	}

	path := resolvePath(workDir, flags.Arg(0))
	token := flags.Arg(1)

	reader, err := jsonl.OpenReader(fs.NewReal(), path, jsonl.ReaderOptions{TokenField: tokenField})
	if err != nil {
		fmt.Fprintf(errOut, "jls seen: %v\n", err)

		return 2
	}

	seen, err := reader.ContainsToken(token)
	if err != nil {
		logger.Error("checking token", "path", path, "token", token, "err", err)
		fmt.Fprintf(errOut, "jls seen: %v\n", err)

		return 2
	}

	fmt.Fprintf(out, "%t\n", seen)

	if seen {
		return 0
	}

	return 1
}

// resolvePath makes path absolute relative to workDir.
func resolvePath(workDir, path string) string {
	if filepath.IsAbs(path) {
		return path
	}

	return filepath.Join(workDir, path)
}

package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"

	"github.com/orchard-ml/orchard/internal/profile"
)

// profileCmd inspects the allocation log written by a process that ran with
// ORCHARD_TENSOR_PROFILE=1.
func profileCmd(w io.Writer, args []string) error {
	if len(args) == 0 {
		return errors.New("profile: want dump or clear")
	}
	fs := flag.NewFlagSet("profile "+args[0], flag.ContinueOnError)
	fs.SetOutput(w)
	logPath := fs.String("log", profile.LogPath(), "profile log to read")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}
	profile.SetLogPath(*logPath)

	switch args[0] {
	case "dump":
		return dump(w, *logPath)
	case "clear":
		if err := profile.ClearLog(); err != nil {
			return err
		}
		fmt.Fprintf(w, "removed %s\n", *logPath)
		return nil
	default:
		return errors.Errorf("profile: unknown subcommand %q", args[0])
	}
}

func dump(w io.Writer, path string) error {
	f, err := os.Open(path) //nolint:gosec // operator-supplied log path
	if err != nil {
		return errors.Wrap(err, "profile dump")
	}
	defer f.Close()

	entries, err := profile.Outstanding(f)
	if err != nil {
		return err
	}
	total := 0
	for _, e := range entries {
		fmt.Fprintln(w, profile.Format("live", e))
		total += e.Size
	}
	fmt.Fprintf(w, "%d live buffers, %d bytes\n", len(entries), total)
	return nil
}

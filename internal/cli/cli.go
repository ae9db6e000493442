// Package cli implements the reldb tool, which compiles and inspects
// relocation databases.
package cli

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/pboyd/ckpe/reldb"
)

// ExitError carries the process exit code for a failed command.
type ExitError struct {
	Code    int
	Message string
}

func (e *ExitError) Error() string {
	return e.Message
}

func usageError(format string, args ...any) error {
	return &ExitError{Code: 2, Message: fmt.Sprintf(format, args...)}
}

const usage = `reldb - relocation database tool

Usage:
  reldb compile -o DB SOURCE.yaml
  reldb dump [-yaml] DB
  reldb lookup -build FAMILY/VERSION -item NAME [-slot N] DB
  reldb diff DB FAMILY/VERSION FAMILY/VERSION
`

type command func(args []string, stdout io.Writer) error

var commands = map[string]command{
	"compile": compile,
	"dump":    dump,
	"lookup":  lookup,
	"diff":    diff,
}

// Run runs the tool with args (without the program name) and returns the
// exit code.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return 2
	}
	if args[0] == "-h" || args[0] == "help" {
		fmt.Fprint(stdout, usage)
		return 0
	}

	cmd, ok := commands[args[0]]
	if !ok {
		fmt.Fprintf(stderr, "unknown command %q\n%s", args[0], usage)
		return 2
	}

	err := cmd(args[1:], stdout)
	if err == nil {
		return 0
	}
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	fmt.Fprintf(stderr, "reldb %s: %v\n", args[0], err)

	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return 1
}

func flagSet(name string, stdout io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stdout)
	return fs
}

func parse(fs *flag.FlagSet, args []string, nargs int) error {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return err
		}
		return usageError("%v", err)
	}
	if fs.NArg() != nargs {
		return usageError("want %d arguments, got %d", nargs, fs.NArg())
	}
	return nil
}

func compile(args []string, stdout io.Writer) error {
	fs := flagSet("compile", stdout)
	out := fs.String("o", "", "output database `path`")
	if err := parse(fs, args, 1); err != nil {
		return err
	}
	if *out == "" {
		return usageError("-o is required")
	}

	f, err := os.Open(fs.Arg(0))
	if err != nil {
		return err
	}
	defer f.Close()

	db, err := reldb.ParseSource(f)
	if err != nil {
		return err
	}
	if err := db.SaveFile(*out); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "%s: %d builds\n", *out, len(db.Builds()))
	return nil
}

func dump(args []string, stdout io.Writer) error {
	fs := flagSet("dump", stdout)
	asYAML := fs.Bool("yaml", false, "write the database as YAML source")
	if err := parse(fs, args, 1); err != nil {
		return err
	}

	db, err := reldb.LoadFile(fs.Arg(0))
	if err != nil {
		return err
	}
	if *asYAML {
		return db.WriteSource(stdout)
	}

	w := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	for _, build := range db.Builds() {
		set, _ := db.Lookup(build)
		fmt.Fprintf(w, "%s\t%s\n", build, set.Fingerprint())
		for _, it := range set.Items() {
			fmt.Fprintf(w, "  %s\tv%d\t%d slots\n", it.Name(), it.Version(), it.Count())
		}
	}
	return w.Flush()
}

func lookup(args []string, stdout io.Writer) error {
	fs := flagSet("lookup", stdout)
	buildFlag := fs.String("build", "", "build as `family/version`")
	itemFlag := fs.String("item", "", "item `name`")
	slotFlag := fs.Int("slot", -1, "print only this `slot`")
	if err := parse(fs, args, 1); err != nil {
		return err
	}
	if *buildFlag == "" || *itemFlag == "" {
		return usageError("-build and -item are required")
	}
	build, err := reldb.ParseBuildIdentity(*buildFlag)
	if err != nil {
		return usageError("%v", err)
	}

	db, err := reldb.LoadFile(fs.Arg(0))
	if err != nil {
		return err
	}
	set, ok := db.Lookup(build)
	if !ok {
		return fmt.Errorf("build %s not in database", build)
	}
	it, ok := set.Item(*itemFlag)
	if !ok {
		return fmt.Errorf("%w: %q on %s", reldb.ErrItemMissing, *itemFlag, build)
	}

	if *slotFlag >= 0 {
		rva, err := it.Require(uint32(*slotFlag))
		if err != nil {
			return err
		}
		fmt.Fprintln(stdout, rva)
		return nil
	}

	fmt.Fprintf(stdout, "%s version %d\n", it.Name(), it.Version())
	for _, slot := range it.Slots() {
		rva, _ := it.Offset(slot)
		fmt.Fprintf(stdout, "%d\t%s\n", slot, rva)
	}
	return nil
}

func diff(args []string, stdout io.Writer) error {
	fs := flagSet("diff", stdout)
	if err := parse(fs, args, 3); err != nil {
		return err
	}

	db, err := reldb.LoadFile(fs.Arg(0))
	if err != nil {
		return err
	}
	var sets [2]*reldb.ItemSet
	for i, arg := range fs.Args()[1:] {
		build, err := reldb.ParseBuildIdentity(arg)
		if err != nil {
			return usageError("%v", err)
		}
		set, ok := db.Lookup(build)
		if !ok {
			return fmt.Errorf("build %s not in database", build)
		}
		sets[i] = set
	}

	d := reldb.Diff(sets[0], sets[1])
	if d.Empty() {
		fmt.Fprintf(stdout, "%s and %s have the same layout\n", d.A, d.B)
		return nil
	}
	return d.Err()
}

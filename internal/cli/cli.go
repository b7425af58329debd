// Package cli implements dirctl, a terminal client for the directory.
package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dtroode/staffsync/internal/api/grpc/directoryapi"
	"github.com/dtroode/staffsync/internal/model"
)

// ErrUsage is returned for malformed command lines.
var ErrUsage = errors.New("usage error")

// Directory is the remote API dirctl drives.
type Directory interface {
	Add(ctx context.Context, name string, photo []byte) (directoryapi.Employee, error)
	Remove(ctx context.Context, id int64) error
	Clear(ctx context.Context) error
	List(ctx context.Context) ([]directoryapi.Employee, error)
	MarkSeen(ctx context.Context, id int64, at time.Time) (directoryapi.Employee, error)
	Reconcile(ctx context.Context) (int64, error)
	Watch(ctx context.Context, fn func(*directoryapi.Snapshot) error) error
}

// App runs dirctl subcommands.
type App struct {
	directory Directory
	out       io.Writer
	readFile  func(name string) ([]byte, error)
	writeFile func(name string, data []byte) error
}

// NewApp creates an App printing to out.
func NewApp(directory Directory, out io.Writer) *App {
	return &App{
		directory: directory,
		out:       out,
		readFile:  os.ReadFile,
		writeFile: func(name string, data []byte) error { return os.WriteFile(name, data, 0o644) },
	}
}

const usage = `usage: dirctl [-addr host:port] <command> [flags]

commands:
  add -name "First Last" -photo file     add an employee
  remove -id N                           remove employee N
  clear                                  remove every employee
  list [-photos dir]                     print the directory once
  seen -id N [-at RFC3339]               record that employee N was seen
  reconcile                              repair the identifier counter
  watch                                  print every directory change
`

// Usage prints the command summary.
func (a *App) Usage() {
	fmt.Fprint(a.out, usage)
}

// Run executes the subcommand in args.
func (a *App) Run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		a.Usage()
		return ErrUsage
	}

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "add":
		return a.add(ctx, rest)
	case "remove":
		return a.remove(ctx, rest)
	case "clear":
		return a.clear(ctx)
	case "list":
		return a.list(ctx, rest)
	case "seen":
		return a.seen(ctx, rest)
	case "reconcile":
		return a.reconcile(ctx)
	case "watch":
		return a.watch(ctx)
	case "help", "-h", "--help":
		a.Usage()
		return nil
	default:
		a.Usage()
		return fmt.Errorf("%w: unknown command %q", ErrUsage, cmd)
	}
}

func (a *App) flagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(a.out)
	return fs
}

func (a *App) parse(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", ErrUsage, err)
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("%w: unexpected arguments %v", ErrUsage, fs.Args())
	}
	return nil
}

func (a *App) add(ctx context.Context, args []string) error {
	fs := a.flagSet("add")
	name := fs.String("name", "", "full name")
	photo := fs.String("photo", "", "path to a JPEG, PNG, GIF, BMP or WebP portrait")
	if err := a.parse(fs, args); err != nil {
		return err
	}
	if strings.TrimSpace(*name) == "" || *photo == "" {
		return fmt.Errorf("%w: add needs -name and -photo", ErrUsage)
	}
	if err := model.ValidateName(*name); err != nil {
		return fmt.Errorf("%w: provide full name", ErrUsage)
	}

	data, err := a.readFile(*photo)
	if err != nil {
		return fmt.Errorf("failed to read photo: %w", err)
	}

	e, err := a.directory.Add(ctx, *name, data)
	if err != nil {
		return err
	}

	fmt.Fprintf(a.out, "added %s %s as %s\n", e.FirstName, e.LastName, e.Key)
	return nil
}

func (a *App) remove(ctx context.Context, args []string) error {
	fs := a.flagSet("remove")
	id := fs.Int64("id", -1, "employee id")
	if err := a.parse(fs, args); err != nil {
		return err
	}
	if *id < 0 {
		return fmt.Errorf("%w: remove needs -id", ErrUsage)
	}

	if err := a.directory.Remove(ctx, *id); err != nil {
		return err
	}

	fmt.Fprintf(a.out, "removed %d\n", *id)
	return nil
}

func (a *App) clear(ctx context.Context) error {
	if err := a.directory.Clear(ctx); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "directory cleared")
	return nil
}

func (a *App) list(ctx context.Context, args []string) error {
	fs := a.flagSet("list")
	photos := fs.String("photos", "", "directory to save portraits into")
	if err := a.parse(fs, args); err != nil {
		return err
	}

	employees, err := a.directory.List(ctx)
	if err != nil {
		return err
	}

	if *photos != "" {
		for _, e := range employees {
			if len(e.Photo) == 0 {
				continue
			}
			name := strings.TrimRight(*photos, "/") + "/" + e.Key + ".jpg"
			if err := a.writeFile(name, e.Photo); err != nil {
				return fmt.Errorf("failed to save photo of %s: %w", e.Key, err)
			}
		}
	}

	return a.printTable(employees)
}

func (a *App) seen(ctx context.Context, args []string) error {
	fs := a.flagSet("seen")
	id := fs.Int64("id", -1, "employee id")
	at := fs.String("at", "", "time in RFC3339, defaults to now on the server")
	if err := a.parse(fs, args); err != nil {
		return err
	}
	if *id < 0 {
		return fmt.Errorf("%w: seen needs -id", ErrUsage)
	}

	var when time.Time
	if *at != "" {
		t, err := time.Parse(time.RFC3339, *at)
		if err != nil {
			return fmt.Errorf("%w: invalid -at: %v", ErrUsage, err)
		}
		when = t
	}

	e, err := a.directory.MarkSeen(ctx, *id, when)
	if err != nil {
		return err
	}

	fmt.Fprintf(a.out, "%s last seen %s\n", e.Key, formatSeen(e.LastSeenAt))
	return nil
}

func (a *App) reconcile(ctx context.Context) error {
	next, err := a.directory.Reconcile(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "next id %d\n", next)
	return nil
}

func (a *App) watch(ctx context.Context) error {
	return a.directory.Watch(ctx, func(s *directoryapi.Snapshot) error {
		fmt.Fprintf(a.out, "-- snapshot %d, %d employees\n", s.Seq, len(s.Employees))
		return a.printTable(s.Employees)
	})
}

func (a *App) printTable(employees []directoryapi.Employee) error {
	w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tFIRST\tLAST\tPHOTO\tLAST SEEN")
	for _, e := range employees {
		photo := "-"
		if len(e.Photo) > 0 {
			photo = fmt.Sprintf("%dB", len(e.Photo))
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", e.Key, e.FirstName, e.LastName, photo, formatSeen(e.LastSeenAt))
	}
	return w.Flush()
}

func formatSeen(ms int64) string {
	if ms <= 0 {
		return "never"
	}
	return time.UnixMilli(ms).UTC().Format(time.RFC3339)
}

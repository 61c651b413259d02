package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/scottdensmore/VirtualBuddy/internal/bundle"
	"github.com/scottdensmore/VirtualBuddy/internal/library"
	"github.com/scottdensmore/VirtualBuddy/internal/version"
)

// activityRetention bounds the journal; older entries are pruned when
// watch starts.
const activityRetention = 90 * 24 * time.Hour

func versionCmd(w io.Writer) error {
	_, err := fmt.Fprintf(w, "vbuddy %s (%s)\n", version.Version, version.Commit)
	return err
}

func (a *app) watch(ctx context.Context) error {
	logStartup(a.logger, a.root)
	if _, err := a.activity.Prune(ctx, activityRetention); err != nil {
		a.logger.Warn("pruning activity", "error", err)
	}

	lib := a.newLibrary(true)
	lib.Subscribe(func(st library.State) {
		switch st.Status {
		case library.StatusLoaded:
			a.logger.Info("library state", "root", st.Root, "status", st.Status.String(), "bundles", len(st.Records))
		case library.StatusFailed:
			a.logger.Warn("library state", "root", st.Root, "status", st.Status.String(), "error", st.Err)
		}
	})

	lib.Run(ctx)
	return nil
}

func (a *app) list(ctx context.Context, w io.Writer) error {
	lib, stop, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer stop()

	st := lib.State()
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tCREATED\tPATH") //nolint:errcheck
	for _, r := range st.Records {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", r.Name, r.CreationDate.Local().Format(time.DateTime), r.Path) //nolint:errcheck
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if scan := a.scanner.Status(); scan != nil {
		_, err = fmt.Fprintf(w, "\n%d bundles, %d skipped\n", scan.Bundles, scan.Skipped)
	}
	return err
}

func (a *app) find(lib *library.Library, name string) (bundle.Record, error) {
	rec, ok := lib.State().Find(name)
	if !ok {
		return bundle.Record{}, fmt.Errorf("no bundle named %q in %s", name, lib.Root())
	}
	return rec, nil
}

func (a *app) duplicate(ctx context.Context, w io.Writer, name string) error {
	lib, stop, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer stop()

	rec, err := a.find(lib, name)
	if err != nil {
		return err
	}
	dup, err := lib.Duplicate(ctx, rec)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "duplicated %q to %q\n", rec.Name, dup.Name)
	return err
}

func (a *app) rename(ctx context.Context, w io.Writer, name, newName string) error {
	lib, stop, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer stop()

	rec, err := a.find(lib, name)
	if err != nil {
		return err
	}
	renamed, err := lib.Rename(ctx, rec, newName)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "renamed %q to %q\n", rec.Name, renamed.Name)
	return err
}

func (a *app) trash(ctx context.Context, w io.Writer, name string) error {
	lib, stop, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer stop()

	rec, err := a.find(lib, name)
	if err != nil {
		return err
	}
	if err := lib.MoveToTrash(ctx, rec); err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "moved %q to the trash\n", rec.Name)
	return err
}

func (a *app) setRoot(ctx context.Context, w io.Writer, path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", path, err)
	}

	lib := a.newLibrary(false)
	stop, err := a.start(ctx, lib)
	if err != nil {
		return err
	}
	defer stop()

	if err := lib.SetRoot(ctx, abs); err != nil {
		return err
	}
	if err := a.settings.SetLibraryRoot(ctx, abs); err != nil {
		return err
	}
	a.root = abs

	st := lib.State()
	if st.Status == library.StatusFailed {
		a.logger.Warn("new library root is not readable yet", "root", abs, "error", st.Err)
		_, err = fmt.Fprintf(w, "library root set to %s (currently unavailable: %v)\n", abs, st.Err)
		return err
	}
	_, err = fmt.Fprintf(w, "library root set to %s (%d bundles)\n", abs, len(st.Records))
	return err
}

func (a *app) history(ctx context.Context, w io.Writer, args []string) error {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	limit := fs.Int("n", 20, "number of entries")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}

	entries, err := a.activity.List(ctx, *limit)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tOP\tSTATUS\tSOURCE\tTARGET\tERROR") //nolint:errcheck
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", //nolint:errcheck
			e.OccurredAt.Local().Format(time.DateTime), e.Op, e.Status,
			baseName(e.Source), baseName(e.Target), e.Error)
	}
	return tw.Flush()
}

func baseName(p string) string {
	if p == "" {
		return ""
	}
	return filepath.Base(p)
}

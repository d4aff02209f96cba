package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"text/tabwriter"

	"github.com/JonMunkholm/ofximport/internal/app"
	"github.com/JonMunkholm/ofximport/internal/config"
	"github.com/JonMunkholm/ofximport/internal/core"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

type importOptions struct {
	parallel int
	name     string
}

func newImportCommand() *cobra.Command {
	opts := &importOptions{}

	cmd := &cobra.Command{
		Use:   "import FILE...",
		Short: "Import OFX files",
		Long: `Import one or more OFX files through the same pipeline as the HTTP service.

Each file is deduplicated by its base name. Files that were already imported
are reported and skipped. The command fails if any other import fails.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(cmd, opts, args)
		},
	}

	cmd.Flags().IntVarP(&opts.parallel, "parallel", "p", 0, "files imported at once (default IMPORT_MAX_CONCURRENT)")
	cmd.Flags().StringVar(&opts.name, "name", "", "file name to record instead of the base name (single file only)")

	return cmd
}

func runImport(cmd *cobra.Command, opts *importOptions, paths []string) error {
	if opts.name != "" && len(paths) > 1 {
		return errors.New("--name can only be used with a single file")
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Open(ctx, cfg, slog.Default())
	if err != nil {
		return err
	}
	defer a.Close()

	parallel := opts.parallel
	if parallel <= 0 {
		parallel = cfg.Import.MaxConcurrent
	}

	outcomes := importFiles(ctx, a.Service, paths, opts.name, parallel)
	if err := writeOutcomes(cmd.OutOrStdout(), outcomes); err != nil {
		return err
	}

	if failed := countFailed(outcomes); failed > 0 {
		return fmt.Errorf("%d of %d imports failed", failed, len(outcomes))
	}
	return nil
}

// fileImporter is the part of core.Service used by the import command.
type fileImporter interface {
	HandleImport(ctx context.Context, fileName string, r io.Reader) (*core.ImportResult, error)
}

type outcome struct {
	Path   string
	Name   string
	Result *core.ImportResult
	Err    error
}

// importFiles imports paths with at most parallel files in flight. A failed
// file does not stop the others.
func importFiles(ctx context.Context, imp fileImporter, paths []string, name string, parallel int) []outcome {
	outcomes := make([]outcome, len(paths))

	var g errgroup.Group
	g.SetLimit(max(parallel, 1))
	for i, path := range paths {
		g.Go(func() error {
			outcomes[i] = importFile(ctx, imp, path, name)
			return nil
		})
	}
	g.Wait()

	return outcomes
}

func importFile(ctx context.Context, imp fileImporter, path, name string) outcome {
	if name == "" {
		name = filepath.Base(path)
	}
	out := outcome{Path: path, Name: name}

	f, err := os.Open(path)
	if err != nil {
		out.Err = err
		return out
	}
	defer f.Close()

	out.Result, out.Err = imp.HandleImport(ctx, name, f)
	return out
}

// failed reports whether an outcome should fail the command. Files that were
// already imported are skipped, not failed.
func (o outcome) failed() bool {
	return o.Err != nil && core.PhaseOf(o.Err) != core.PhaseAlreadyImported
}

func (o outcome) status() string {
	if o.Err == nil {
		return "ok"
	}
	var ie *core.ImportError
	if !errors.As(o.Err, &ie) {
		return "error"
	}
	return string(ie.Phase)
}

func (o outcome) detail() string {
	switch {
	case o.Err != nil:
		var ie *core.ImportError
		if errors.As(o.Err, &ie) {
			return core.FormatUserError(o.Err)
		}
		return o.Err.Error()
	case o.Result != nil && len(o.Result.Warnings) > 0:
		return fmt.Sprint(o.Result.Warnings)
	}
	return ""
}

func countFailed(outcomes []outcome) int {
	n := 0
	for _, o := range outcomes {
		if o.failed() {
			n++
		}
	}
	return n
}

func writeOutcomes(w io.Writer, outcomes []outcome) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "FILE\tSTATUS\tTOTAL\tIMPORTED\tDUPLICATES\tERRORS\tDETAIL")
	for _, o := range outcomes {
		total, imported, dups, errs := "-", "-", "-", "-"
		if r := o.Result; r != nil {
			total, imported = strconv.Itoa(r.Total), strconv.Itoa(r.Imported)
			dups, errs = strconv.Itoa(r.Duplicates), strconv.Itoa(r.Errors)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			o.Name, o.status(), total, imported, dups, errs, o.detail())
	}
	return tw.Flush()
}

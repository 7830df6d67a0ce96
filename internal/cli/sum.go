package cli

import (
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/eargollo/sha2file/internal/batch"
	"github.com/eargollo/sha2file/internal/report"
	"github.com/eargollo/sha2file/pkg/digest"
)

type sumFlags struct {
	recursive  bool
	workers    int
	rate       int
	output     string
	async      bool
	record     bool
	reuse      bool
	excludes   []string
	noProgress bool
}

func (a *app) newSumCommand() *cobra.Command {
	var f sumFlags
	cmd := &cobra.Command{
		Use:   "sum [flags] PATH...",
		Short: "Print the digest of each file",
		Long: `Print the SHA-2 digest of each file, in the order given.

Directories are walked with -r; files matching .sha2ignore patterns in a
walked directory, the built-in defaults, and --exclude are skipped.
With --record every result is stored in the history database, and with
--reuse files whose size, mtime and inode match a stored record are not
read again.`,
		Example: `  sha2file sum -a sha512 file.iso
  sha2file sum -r --workers 8 -o json ./photos
  sha2file sum -r --reuse /srv/data > data.sha256`,
		Args: usageArgs(cobra.MinimumNArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runSum(cmd, args, f)
		},
	}
	fl := cmd.Flags()
	fl.BoolVarP(&f.recursive, "recursive", "r", false, "Walk directories")
	fl.IntVar(&f.workers, "workers", 0, "Files hashed in parallel (default from SHA2FILE_WORKERS)")
	fl.IntVar(&f.rate, "rate", -1, "Max files started per second, 0 = unlimited (default from SHA2FILE_MAX_PER_SECOND)")
	fl.StringVarP(&f.output, "output", "o", string(report.FormatText), "Output format: text, tag, json, yaml or table")
	fl.BoolVar(&f.async, "async", false, "Hash on background goroutines and wait for each result")
	fl.BoolVar(&f.record, "record", false, "Store results in the history database")
	fl.BoolVar(&f.reuse, "reuse", false, "Reuse stored digests of unchanged files (implies --record)")
	fl.StringSliceVar(&f.excludes, "exclude", nil, "Extra exclude patterns for walked directories")
	fl.BoolVar(&f.noProgress, "no-progress", false, "Do not show a progress bar")
	return cmd
}

func (a *app) runSum(cmd *cobra.Command, args []string, f sumFlags) error {
	format, err := report.ParseFormat(f.output)
	if err != nil {
		return usageError(err)
	}
	workers := f.workers
	if workers <= 0 {
		workers = a.cfg.Workers()
	}
	rate := f.rate
	if rate < 0 {
		rate = a.cfg.MaxPerSecond()
	}

	var computer digest.Computer = digest.NewBlocking(a.algorithm)
	if f.async {
		computer = digest.NewSuspending(a.algorithm)
	}

	bl := a.log.WithPrefix("batch")
	if !a.debug {
		bl.SetLevel(log.WarnLevel)
	}
	opts := &batch.Options{
		Variant:      a.algorithm,
		Computer:     computer,
		Workers:      workers,
		MaxPerSecond: rate,
		Recursive:    f.recursive,
		Logger:       bl,
	}
	if f.recursive {
		opts.Excludes = f.excludes
	}
	if f.record || f.reuse {
		store, err := a.openStore()
		if err != nil {
			return err
		}
		defer store.Close()
		opts.Store = store
		opts.Reuse = f.reuse
	}

	w, err := report.NewWriter(format, a.out, a.errOut)
	if err != nil {
		return usageError(err)
	}
	ordered := newOrderedWriter(w)

	silent := f.noProgress || !isTerminal(a.errOut)
	var bar *progressbar.ProgressBar
	opts.OnPlan = func(total int) {
		bar = newProgressBar(a.errOut, total, "hashing", silent)
	}
	opts.OnResult = func(r batch.Result) {
		_ = bar.Add(1)
		ordered.add(r.Job.Index, entryFor(r, a.algorithm))
	}

	stats, err := batch.Run(cmd.Context(), args, opts)
	if bar != nil {
		_ = bar.Finish()
	}
	if err != nil {
		return err
	}
	if err := errors.Join(ordered.err, w.Flush()); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	if stats.RunID != "" {
		a.log.Info("run recorded", "run", stats.RunID, "files", stats.Files, "reused", stats.Reused, "errors", stats.Errors)
	}
	if stats.Errors > 0 {
		return ErrFailed
	}
	return nil
}

func entryFor(r batch.Result, v digest.Variant) report.Entry {
	e := report.Entry{Path: r.Job.Path, Algorithm: v.String(), Size: r.Job.Size, Reused: r.Reused}
	if r.Err != nil {
		e.Error = r.Err.Error()
	} else {
		e.Digest = r.Digest
	}
	return e
}

// orderedWriter releases entries in index order as soon as every earlier
// entry has arrived. Calls must be serialized.
type orderedWriter struct {
	w       report.Writer
	next    int
	pending map[int]report.Entry
	err     error
}

func newOrderedWriter(w report.Writer) *orderedWriter {
	return &orderedWriter{w: w, pending: make(map[int]report.Entry)}
}

func (o *orderedWriter) add(index int, e report.Entry) {
	o.pending[index] = e
	for {
		e, ok := o.pending[o.next]
		if !ok {
			return
		}
		delete(o.pending, o.next)
		o.next++
		if err := o.w.Write(e); err != nil && o.err == nil {
			o.err = err
		}
	}
}

package cli

import (
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/aquasecurity/table"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/eargollo/sha2file/internal/db"
	"github.com/eargollo/sha2file/internal/report"
)

func (a *app) newRunsCommand() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recorded runs",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			runs, err := store.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			renderRuns(a.out, isTerminal(a.out), runs)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Show at most this many runs, 0 = all")
	cmd.AddCommand(a.newRunsShowCommand(), a.newRunsDupesCommand(), a.newRunsDeleteCommand())
	return cmd
}

func (a *app) newRunsShowCommand() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "show RUN_ID",
		Short: "Print the records of a run",
		Args:  usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := report.ParseFormat(output)
			if err != nil {
				return usageError(err)
			}
			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			ctx := cmd.Context()
			run, err := getRun(store, cmd, args[0])
			if err != nil {
				return err
			}
			recs, err := store.RecordsForRun(ctx, run.ID)
			if err != nil {
				return err
			}
			w, err := report.NewWriter(format, a.out, a.errOut)
			if err != nil {
				return usageError(err)
			}
			for _, r := range recs {
				e := report.Entry{Path: r.Path, Algorithm: r.Algorithm, Digest: r.Digest, Size: r.Size, Reused: r.Reused, Error: r.Error}
				if err := w.Write(e); err != nil {
					return err
				}
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", string(report.FormatTable), "Output format: text, tag, json, yaml or table")
	return cmd
}

func (a *app) newRunsDupesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "dupes RUN_ID",
		Short: "List files of a run that share a digest",
		Args:  usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			run, err := getRun(store, cmd, args[0])
			if err != nil {
				return err
			}
			groups, err := store.DuplicateGroups(cmd.Context(), run.ID)
			if err != nil {
				return err
			}
			if len(groups) == 0 {
				_, _ = fmt.Fprintln(a.out, "no duplicates")
				return nil
			}
			var wasted int64
			for _, g := range groups {
				_, _ = fmt.Fprintf(a.out, "%s  %s x %d\n", g.Digest, humanize.IBytes(uint64(g.Size)), len(g.Paths))
				for _, p := range g.Paths {
					_, _ = fmt.Fprintf(a.out, "  %s\n", p)
				}
				wasted += g.Size * int64(len(g.Paths)-1)
			}
			_, _ = fmt.Fprintf(a.out, "%d group(s), %s reclaimable\n", len(groups), humanize.IBytes(uint64(wasted)))
			return nil
		},
	}
}

func (a *app) newRunsDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete RUN_ID",
		Short: "Delete a run and its records",
		Args:  usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			run, err := getRun(store, cmd, args[0])
			if err != nil {
				return err
			}
			if err := store.DeleteRun(cmd.Context(), run.ID); err != nil {
				return err
			}
			a.log.Info("run deleted", "run", run.ID)
			return nil
		},
	}
}

func getRun(store *db.Store, cmd *cobra.Command, id string) (*db.Run, error) {
	run, err := store.GetRun(cmd.Context(), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s not found", id)
	}
	return run, err
}

func renderRuns(w io.Writer, terminal bool, runs []db.Run) {
	if len(runs) == 0 {
		_, _ = fmt.Fprintln(w, "no runs recorded")
		return
	}
	t := table.New(w)
	if terminal {
		t.SetHeaderStyle(table.StyleBold)
		t.SetLineStyle(table.StyleDim)
	} else {
		// Pipes get whole rows; wrapping only helps a narrow terminal.
		t.SetAvailableWidth(1 << 12)
	}
	t.SetHeaders("ID", "Algorithm", "Created", "Status", "Files", "Size", "Reused", "Errors")
	for _, r := range runs {
		status := "incomplete"
		if r.CompletedAt != nil {
			status = "done in " + r.CompletedAt.Sub(r.CreatedAt).Round(time.Second).String()
		}
		t.AddRow(
			r.ID,
			r.Algorithm,
			r.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			status,
			strconv.FormatInt(r.Stats.Files, 10),
			humanize.IBytes(uint64(r.Stats.Bytes)),
			strconv.FormatInt(r.Stats.Reused, 10),
			strconv.FormatInt(r.Stats.Errors, 10),
		)
	}
	t.Render()
}

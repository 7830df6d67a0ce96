package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/eargollo/sha2file/internal/report"
	"github.com/eargollo/sha2file/pkg/digest"
)

type checkFlags struct {
	quiet         bool
	status        bool
	ignoreMissing bool
	strict        bool
}

// checkCounts are the failures across all checksum files.
type checkCounts struct {
	mismatched int
	unreadable int
	malformed  int
	verified   int
}

func (a *app) newCheckCommand() *cobra.Command {
	var f checkFlags
	cmd := &cobra.Command{
		Use:   "check [flags] FILE...",
		Short: "Verify files against checksum lists",
		Long: `Read checksum lists in "<hex>  <path>" or "SHA256 (<path>) = <hex>" form
and verify each listed file. The algorithm of every line is taken from its
tag or the digest length, so one list may mix variants.`,
		Args: usageArgs(cobra.MinimumNArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runCheck(cmd.Context(), args, f)
		},
	}
	fl := cmd.Flags()
	fl.BoolVar(&f.quiet, "quiet", false, "Don't print OK for each verified file")
	fl.BoolVar(&f.status, "status", false, "Print nothing; the exit code shows success")
	fl.BoolVar(&f.ignoreMissing, "ignore-missing", false, "Don't fail or report for missing files")
	fl.BoolVar(&f.strict, "strict", false, "Exit non-zero for improperly formatted lines")
	return cmd
}

func (a *app) runCheck(ctx context.Context, lists []string, f checkFlags) error {
	out, errOut := a.out, a.errOut
	if f.status {
		out, errOut = io.Discard, io.Discard
	}
	color := isTerminal(out)

	var counts checkCounts
	for _, list := range lists {
		if err := a.checkList(ctx, list, f, out, errOut, color, &counts); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			_, _ = fmt.Fprintf(errOut, "sha2file: %s: %v\n", list, err)
			counts.unreadable++
		}
	}

	if counts.malformed > 0 {
		_, _ = fmt.Fprintf(errOut, "sha2file: WARNING: %d line%s improperly formatted\n", counts.malformed, plural(counts.malformed, " is", "s are"))
	}
	if counts.unreadable > 0 {
		_, _ = fmt.Fprintf(errOut, "sha2file: WARNING: %d listed file%s could not be read\n", counts.unreadable, plural(counts.unreadable, "", "s"))
	}
	if counts.mismatched > 0 {
		_, _ = fmt.Fprintf(errOut, "sha2file: WARNING: %d computed checksum%s did NOT match\n", counts.mismatched, plural(counts.mismatched, "", "s"))
	}
	a.log.Debug("check finished", "verified", counts.verified, "mismatched", counts.mismatched,
		"unreadable", counts.unreadable, "malformed", counts.malformed)

	if counts.mismatched > 0 || counts.unreadable > 0 || (f.strict && counts.malformed > 0) {
		return ErrFailed
	}
	return nil
}

func (a *app) checkList(ctx context.Context, list string, f checkFlags, out, errOut io.Writer, color bool, counts *checkCounts) error {
	file, err := os.Open(list)
	if err != nil {
		return err
	}
	defer file.Close()

	sums, malformed, err := report.ParseChecksums(file)
	if err != nil {
		return err
	}
	counts.malformed += len(malformed)
	if len(sums) == 0 {
		return errors.New("no properly formatted checksum lines found")
	}

	for _, c := range sums {
		got, err := digest.FileContext(ctx, c.Path, c.Variant)
		switch {
		case err != nil && ctx.Err() != nil:
			return ctx.Err()
		case err != nil:
			if f.ignoreMissing && errors.Is(err, digest.NotFound) {
				continue
			}
			counts.unreadable++
			_, _ = fmt.Fprintf(errOut, "sha2file: %s: %v\n", c.Path, digest.KindOf(err))
			_, _ = fmt.Fprintf(out, "%s: %s\n", c.Path, colorize(color, "red", "FAILED open or read"))
		case got != c.Digest:
			counts.mismatched++
			_, _ = fmt.Fprintf(out, "%s: %s\n", c.Path, colorize(color, "red", "FAILED"))
		default:
			counts.verified++
			if !f.quiet {
				_, _ = fmt.Fprintf(out, "%s: %s\n", c.Path, colorize(color, "green", "OK"))
			}
		}
	}
	return nil
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

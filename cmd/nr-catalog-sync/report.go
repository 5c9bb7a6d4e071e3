package main

import (
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/newrelic/nr-catalog-sync/internal/history"
	"github.com/newrelic/nr-catalog-sync/internal/sync"
	"github.com/newrelic/nr-catalog-sync/pkg/catalog"
)

// maxListed caps the failures printed per kind.
const maxListed = 10

var (
	okColor     = color.New(color.FgGreen, color.Bold)
	warnColor   = color.New(color.FgYellow, color.Bold)
	failColor   = color.New(color.FgRed, color.Bold)
	detailColor = color.New(color.FgHiBlack)
	createColor = color.New(color.FgGreen)
	updateColor = color.New(color.FgCyan)
	deleteColor = color.New(color.FgRed)
)

func status(r *sync.SyncPassResult) string {
	switch {
	case !r.Success():
		return failColor.Sprint("FAIL")
	case len(r.MappingFailures) > 0 || len(r.FieldFailures) > 0 || len(r.Conflicts) > 0:
		return warnColor.Sprint("WARN")
	default:
		return okColor.Sprint("OK  ")
	}
}

func printReport(w io.Writer, results []*sync.SyncPassResult) {
	for _, r := range results {
		fmt.Fprintf(
			w,
			"%s %-16s %d seen, %d entities, %d skipped",
			status(r),
			r.Kind,
			r.ObjectsSeen,
			r.EntitiesProduced,
			r.ObjectsSkippedBySelector,
		)

		if o := r.Outcome; o != nil {
			fmt.Fprintf(
				w,
				" | %d created, %d updated, %d deleted, %d unchanged",
				len(o.Created),
				len(o.Updated),
				len(o.Deleted),
				len(o.Unchanged),
			)
			if o.DeletesSkipped {
				fmt.Fprint(w, warnColor.Sprint(" (deletes skipped)"))
			}
		}

		fmt.Fprintf(w, " %s\n", detailColor.Sprintf("[%s]", r.End.Sub(r.Start).Round(time.Millisecond)))

		if r.Err != nil {
			fmt.Fprintf(w, "     %s\n", failColor.Sprint(r.Err))
		}

		var lines []string
		for _, f := range r.MappingFailures {
			lines = append(lines, fmt.Sprintf("object %s (resource #%d): %s", f.Ref, f.Resource, f.Err))
		}
		for _, f := range r.FieldFailures {
			lines = append(lines, fmt.Sprintf("object %s: %s dropped: %s", f.Ref, f.Field, f.Err))
		}
		for _, c := range r.Conflicts {
			lines = append(lines, fmt.Sprintf("%s from %s replaced %s", c.Key, c.Ref, c.Previous))
		}
		if o := r.Outcome; o != nil {
			for _, f := range o.Failures {
				lines = append(lines, fmt.Sprintf("%s %s/%s failed: %s", f.Op, f.Blueprint, f.Identifier, f.Err))
			}
		}

		for n, line := range lines {
			if n == maxListed {
				fmt.Fprintf(w, "     %s\n", detailColor.Sprintf("... %d more", len(lines)-maxListed))
				break
			}
			fmt.Fprintf(w, "     %s\n", line)
		}
	}
}

// printOps lists the writes of a dry run.
func printOps(w io.Writer, ops []catalog.Op) {
	if len(ops) == 0 {
		fmt.Fprintln(w, "dry run: no catalog writes")
		return
	}

	fmt.Fprintf(w, "dry run: %d catalog writes\n", len(ops))

	for _, op := range ops {
		c := updateColor
		switch op.Name {
		case "create":
			c = createColor
		case "delete":
			c = deleteColor
		}
		fmt.Fprintf(w, "  %s %s\n", c.Sprintf("%-6s", op.Name), op.Key)
	}
}

func printHistory(w io.Writer, passes []*history.Pass) {
	if len(passes) == 0 {
		fmt.Fprintln(w, "no recorded passes")
		return
	}

	for _, p := range passes {
		s := okColor.Sprint("OK  ")
		if !p.Success {
			s = failColor.Sprint("FAIL")
		} else if len(p.Failures) > 0 {
			s = warnColor.Sprint("WARN")
		}

		fmt.Fprintf(
			w,
			"%s %s %-16s %d seen | %d created, %d updated, %d deleted, %d unchanged %s\n",
			s,
			p.Start.Format(time.RFC3339),
			p.Kind,
			p.ObjectsSeen,
			p.Created,
			p.Updated,
			p.Deleted,
			p.Unchanged,
			detailColor.Sprint(p.RunID),
		)

		if p.Error != "" {
			fmt.Fprintf(w, "     %s\n", failColor.Sprint(p.Error))
		}

		for n, f := range p.Failures {
			if n == maxListed {
				fmt.Fprintf(w, "     %s\n", detailColor.Sprintf("... %d more", len(p.Failures)-maxListed))
				break
			}

			field := ""
			if f.Field != "" {
				field = " " + f.Field
			}
			fmt.Fprintf(w, "     %s %s%s: %s\n", f.Stage, f.Ref, field, f.Message)
		}
	}
}

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/pkg/errors"

	"studentrisk/internal/batch"
	"studentrisk/internal/db"
	"studentrisk/internal/logsvc"
	"studentrisk/internal/scoring"
)

var errHelp = errors.New("help provided")

type commandLine struct {
	store      *db.Store
	attendance batch.AttendanceSource
	scorer     *scoring.Scorer
	logger     logsvc.Logger
	out        io.Writer

	workers int
	timeout time.Duration
	now     func() time.Time // nil means wall clock
}

func (cli *commandLine) printUsage() {
	fmt.Fprintln(cli.out, "Usage:")
	fmt.Fprintln(cli.out, "  run [-workers N] [-timeout D] [-json PATH] - score every active student now")
	fmt.Fprintln(cli.out, "  score -student ID                         - compute one student's score without saving it")
	fmt.Fprintln(cli.out, "  runs [-limit N]                           - list recent batch runs")
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	runCmd := flag.NewFlagSet("run", flag.ContinueOnError)
	runCmd.SetOutput(cli.out)
	runWorkers := runCmd.Int("workers", cli.workers, "Number of students scored concurrently.")
	runTimeout := runCmd.Duration("timeout", cli.timeout, "Stop starting new students after this long (0 = no limit).")
	runJSON := runCmd.String("json", "", "Also write the run report as JSON to this path.")

	scoreCmd := flag.NewFlagSet("score", flag.ContinueOnError)
	scoreCmd.SetOutput(cli.out)
	scoreStudent := scoreCmd.Uint("student", 0, "The student's id.")

	runsCmd := flag.NewFlagSet("runs", flag.ContinueOnError)
	runsCmd.SetOutput(cli.out)
	runsLimit := runsCmd.Int("limit", 10, "How many runs to show.")

	switch args[1] {
	case "run":
		if err := runCmd.Parse(args[2:]); err != nil {
			return errHelp
		}
		if *runWorkers < 1 {
			runCmd.Usage()
			return errHelp
		}
		return cli.runBatch(*runWorkers, *runTimeout, *runJSON)
	case "score":
		if err := scoreCmd.Parse(args[2:]); err != nil {
			return errHelp
		}
		if *scoreStudent == 0 {
			scoreCmd.Usage()
			return errHelp
		}
		return cli.scoreStudent(uint(*scoreStudent))
	case "runs":
		if err := runsCmd.Parse(args[2:]); err != nil {
			return errHelp
		}
		if *runsLimit < 1 {
			runsCmd.Usage()
			return errHelp
		}
		return cli.listRuns(*runsLimit)
	default:
		cli.printUsage()
		return errHelp
	}
}

func (cli *commandLine) newRunner(workers int) *batch.Runner {
	return batch.NewRunner(cli.store, cli.attendance, cli.store, cli.scorer, batch.Options{
		Workers:  workers,
		Logger:   cli.logger,
		Recorder: cli.store,
		Now:      cli.now,
	})
}

func (cli *commandLine) runBatch(workers int, timeout time.Duration, jsonPath string) error {
	ctx := context.Background()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	rep, err := cli.newRunner(workers).Run(ctx, batch.TriggerCLI)
	if err != nil {
		return err
	}

	fmt.Fprintf(cli.out, "run %s %s in %s\n", rep.RunID, rep.Outcome(), rep.Duration().Round(time.Millisecond))
	fmt.Fprintf(cli.out, "students: %d scored: %d failed: %d skipped: %d\n", rep.Total, rep.Scored, rep.Failed, rep.Skipped)
	if len(rep.TierCounts) > 0 {
		fmt.Fprintf(cli.out, "tiers: %s=%d %s=%d %s=%d\n",
			scoring.TierStar, rep.TierCounts[string(scoring.TierStar)],
			scoring.TierSafe, rep.TierCounts[string(scoring.TierSafe)],
			scoring.TierAtRisk, rep.TierCounts[string(scoring.TierAtRisk)])
	}
	for _, f := range rep.Failures {
		fmt.Fprintf(cli.out, "  failed %d %s: %s\n", f.StudentID, f.Student, f.Error)
	}

	if jsonPath != "" {
		body, err := json.MarshalIndent(rep, "", "  ")
		if err != nil {
			return errors.Wrap(err, "encode report")
		}
		if err := os.WriteFile(jsonPath, body, 0o644); err != nil {
			return errors.Wrap(err, "write report")
		}
	}
	return nil
}

func (cli *commandLine) scoreStudent(id uint) error {
	ctx := context.Background()
	st, err := cli.store.FindStudent(ctx, id)
	if err != nil {
		return err
	}

	asOf := time.Now().UTC()
	if cli.now != nil {
		asOf = cli.now()
	}
	res, err := cli.newRunner(1).Compute(ctx, st, asOf)
	if err != nil {
		return err
	}

	fmt.Fprintf(cli.out, "student %d %s\n", st.ID, st.Label())
	fmt.Fprintf(cli.out, "score: %.2f tier: %s\n", res.Score, res.Tier)
	fmt.Fprintf(cli.out, "attendance: %.2f grade: %.2f submission: %.2f engagement: %.2f\n",
		res.AttendanceScore, res.GradeScore, res.SubmissionScore, res.EngagementScore)
	if len(res.Factors) == 0 {
		fmt.Fprintln(cli.out, "factors: none")
	} else {
		fmt.Fprintf(cli.out, "factors: %s\n", strings.Join(res.Factors, "; "))
	}
	body, err := json.MarshalIndent(res.Features, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode features")
	}
	fmt.Fprintf(cli.out, "features:\n%s\n", body)

	stored, err := cli.store.GetRiskScore(ctx, id)
	switch {
	case errors.Is(err, db.ErrNotFound):
		fmt.Fprintln(cli.out, "stored: none")
	case err != nil:
		return err
	default:
		fmt.Fprintf(cli.out, "stored: %.2f %s at %s\n", stored.Score, stored.Tier, stored.LastUpdated.Format(time.RFC3339))
	}
	return nil
}

func (cli *commandLine) listRuns(limit int) error {
	runs, err := cli.store.ListRuns(context.Background(), limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(cli.out, "no runs recorded")
		return nil
	}

	w := tabwriter.NewWriter(cli.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTRIGGER\tSTARTED\tTOOK\tTOTAL\tSCORED\tFAILED\tSKIPPED\tTIMED OUT")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%d\t%s\n",
			r.ID, r.Trigger, r.StartedAt.UTC().Format(time.RFC3339),
			r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond),
			r.StudentsTotal, r.StudentsScored, r.StudentsFailed, r.StudentsSkipped,
			strconv.FormatBool(r.TimedOut))
	}
	return w.Flush()
}

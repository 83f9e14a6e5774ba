package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/mirajehossain/datamigratex/internal/migrator"
)

// printer writes command results as JSON or as aligned text.
type printer struct {
	w    io.Writer
	json bool
}

func newPrinter(w io.Writer, jsonOut bool) *printer { return &printer{w: w, json: jsonOut} }

func (p *printer) encode(v any) bool {
	if !p.json {
		return false
	}
	_ = json.NewEncoder(p.w).Encode(v)
	return true
}

func (p *printer) plan(plan migrator.Plan) {
	if p.encode(plan) {
		return
	}
	for _, it := range plan.Items {
		line := fmt.Sprintf("%6d %-32s %-8s %s", it.Version, it.ID, it.State, it.Status)
		if len(it.Missing) > 0 {
			line += " missing: " + strings.Join(it.Missing, ", ")
		}
		fmt.Fprintln(p.w, strings.TrimRight(line, " "))
	}
	fmt.Fprintf(p.w, "%d pending, %d blocked\n", plan.Pending, plan.Blocked)
}

func (p *printer) runResult(res migrator.RunResult) {
	if p.encode(res) {
		return
	}
	for _, s := range res.Results {
		state := "ok"
		switch {
		case s.Skipped:
			state = "skipped"
		case !s.Success:
			state = "FAILED"
		}
		detail := s.Message
		if s.Error != "" {
			detail = s.Error
		}
		fmt.Fprintf(p.w, "%6d %-32s %-8s %s\n", s.Version, s.MigrationID, state, detail)
	}
	fmt.Fprintln(p.w, res.Message)
}

func (p *printer) targeted(res migrator.TargetedResult) {
	if p.encode(res) {
		return
	}
	fmt.Fprintln(p.w, res.Message)
	if res.Result != nil {
		b, _ := json.Marshal(res.Result)
		fmt.Fprintf(p.w, "result: %s\n", b)
	}
}

func (p *printer) definitions(defs []migrator.DefinitionInfo) {
	if p.encode(defs) {
		return
	}
	for _, d := range defs {
		line := fmt.Sprintf("%6d %-32s %s", d.Version, d.ID, d.Name)
		if len(d.RunAfter) > 0 {
			line += " (after " + strings.Join(d.RunAfter, ", ") + ")"
		}
		fmt.Fprintln(p.w, line)
	}
}

func (p *printer) records(records []migrator.Record) {
	if p.encode(records) {
		return
	}
	for _, r := range records {
		rerun := ""
		if r.Rerun {
			rerun = "rerun"
		}
		fmt.Fprintf(p.w, "%6d %-32s %-8s %s %s\n", r.Version, r.MigrationID, r.Status, r.AppliedAt.Format(time.RFC3339), rerun)
	}
}

func (p *printer) version(v int64) {
	if p.encode(map[string]int64{"version": v}) {
		return
	}
	fmt.Fprintln(p.w, v)
}

func (p *printer) prerequisites(check migrator.PrerequisiteCheck) {
	if p.encode(check) {
		return
	}
	if check.AllApplied {
		fmt.Fprintln(p.w, "all applied")
		return
	}
	fmt.Fprintf(p.w, "missing: %s\n", strings.Join(check.Missing, ", "))
}

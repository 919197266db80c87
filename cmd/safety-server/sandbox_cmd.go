package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/adaefler-art/rhythmologicum-connect-sub006/internal/domain/rules"
	"github.com/adaefler-art/rhythmologicum-connect-sub006/internal/domain/sandbox"
)

const watchDebounce = 100 * time.Millisecond

type sandboxOptions struct {
	bundle string
	input  string
	data   string
	domain string
	watch  bool

	stdin string // input read once when --input is "-"
}

func sandboxCmd() *cobra.Command {
	var opts sandboxOptions
	cmd := &cobra.Command{
		Use:   "sandbox",
		Short: "Evaluate a rule bundle against sample input without a database",
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.input == "-" {
				b, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return err
				}
				opts.stdin = string(b)
			}
			if !opts.watch {
				return runSandbox(opts, cmd.OutOrStdout())
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return watchSandbox(ctx, opts, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&opts.bundle, "bundle", "", "YAML rule bundle (defaults to the built-in baseline)")
	cmd.Flags().StringVar(&opts.input, "input", "", `Text file to evaluate, or "-" for stdin`)
	cmd.Flags().StringVar(&opts.data, "data", "", "JSON file with structured intake data")
	cmd.Flags().StringVar(&opts.domain, "domain", string(rules.DomainIntakeSafety), "Rule domain: intake_safety or content_validation")
	cmd.Flags().BoolVar(&opts.watch, "watch", false, "Re-run whenever the bundle or input files change")
	return cmd
}

func (o sandboxOptions) request() (sandbox.Request, error) {
	req := sandbox.Request{Domain: o.domain}
	switch o.input {
	case "":
	case "-":
		req.InputText = o.stdin
	default:
		b, err := os.ReadFile(o.input)
		if err != nil {
			return req, err
		}
		req.InputText = string(b)
	}
	if o.data != "" {
		b, err := os.ReadFile(o.data)
		if err != nil {
			return req, err
		}
		if err := json.Unmarshal(b, &req.StructuredData); err != nil {
			return req, fmt.Errorf("%s: %w", o.data, err)
		}
	}
	return req, nil
}

func (o sandboxOptions) versions() (rules.Domain, []*rules.RuleVersion, error) {
	d, err := rules.ParseDomain(o.domain)
	if err != nil {
		return "", nil, err
	}
	data := rules.DefaultBundle
	if o.bundle != "" {
		if data, err = os.ReadFile(o.bundle); err != nil {
			return "", nil, err
		}
	}
	b, err := rules.ParseBundle(data)
	if err != nil {
		return "", nil, err
	}
	vs, err := b.Versions(d)
	return d, vs, err
}

func runSandbox(opts sandboxOptions, w io.Writer) error {
	d, vs, err := opts.versions()
	if err != nil {
		return err
	}
	req, err := opts.request()
	if err != nil {
		return err
	}
	res, err := sandbox.Evaluate(d, vs, req)
	if err != nil {
		return err
	}
	renderResult(w, res)
	return nil
}

// watchSandbox re-runs the sandbox on changes to any input file. Parent
// directories are watched so editors that replace files on save are seen.
func watchSandbox(ctx context.Context, opts sandboxOptions, w io.Writer) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	targets := make(map[string]bool)
	for _, p := range []string{opts.bundle, opts.input, opts.data} {
		if p == "" || p == "-" {
			continue
		}
		abs, err := filepath.Abs(p)
		if err != nil {
			return err
		}
		targets[abs] = true
		if err := watcher.Add(filepath.Dir(abs)); err != nil {
			return fmt.Errorf("watch %s: %w", p, err)
		}
	}
	if len(targets) == 0 {
		return errors.New("--watch needs --bundle, --input or --data to name a file")
	}

	rerun := func() {
		fmt.Fprintln(w, color.New(color.Faint).Sprintf("--- %s", time.Now().Format("15:04:05")))
		if err := runSandbox(opts, w); err != nil {
			fmt.Fprintln(w, color.RedString("error: %v", err))
		}
	}
	rerun()

	var debounce <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return errors.New("watcher events channel closed")
			}
			abs, _ := filepath.Abs(ev.Name)
			if targets[abs] && ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				debounce = time.After(watchDebounce)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return errors.New("watcher errors channel closed")
			}
			fmt.Fprintln(w, color.YellowString("watch error: %v", err))
		case <-debounce:
			debounce = nil
			rerun()
		}
	}
}

func levelColor(level string) *color.Color {
	switch level {
	case "A", "CRITICAL":
		return color.New(color.FgRed, color.Bold)
	case "B", "WARNING":
		return color.New(color.FgYellow)
	case "C", "INFO":
		return color.New(color.FgCyan)
	}
	return color.New(color.FgGreen)
}

func renderResult(w io.Writer, res *sandbox.Result) {
	level := "none"
	if res.EscalationLevel != nil {
		level = *res.EscalationLevel
	}
	if !res.Decided {
		level = "undecided"
	}
	line := fmt.Sprintf("%s: %s", res.Domain, levelColor(level).Sprint(level))
	if res.Status != nil {
		line += fmt.Sprintf(" (%s)", *res.Status)
	}
	if res.EscalationLevel != nil && !res.Verified {
		line += " " + color.New(color.FgRed).Sprint("unverified")
	}
	fmt.Fprintf(w, "%s  [%d rule(s) evaluated]\n", line, res.RulesEvaluated)

	for _, tr := range res.TriggeredRules {
		fmt.Fprintf(w, "  %s %s: %s\n", levelColor(tr.Severity).Sprintf("[%s]", tr.Severity), tr.RuleID, tr.ShortReason)
		for _, it := range tr.Evidence {
			src := string(it.Source)
			if it.FieldPath != nil {
				src += ":" + *it.FieldPath
			}
			fmt.Fprintf(w, "      %s %q\n", src, it.Excerpt)
		}
	}
	for _, ic := range res.Inconclusive {
		fmt.Fprintf(w, "  %s %s: %s\n", color.YellowString("[?]"), ic.RuleID, ic.Reason)
	}
	if res.DroppedEvidence > 0 {
		fmt.Fprintf(w, "  %d evidence item(s) dropped by provenance checks\n", res.DroppedEvidence)
	}
}

package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"curaj-bot/internal/qa"
	"curaj-bot/internal/service"
)

const (
	colorGreen = "\033[32m"
	colorRed   = "\033[31m"
	colorCyan  = "\033[36m"
	colorReset = "\033[0m"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var probes []string

	cmd := &cobra.Command{
		Use:   "qa_check [qa-file]",
		Short: "Validate a QA table and check that every question resolves to its own answer",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			table, err := qa.Load(path)
			if err != nil {
				return err
			}
			failures, err := check(table, probes, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			if failures > 0 {
				return fmt.Errorf("%d check(s) failed", failures)
			}
			return nil
		},
	}
	cmd.Flags().StringArrayVarP(&probes, "probe", "p", nil, "extra question to resolve and print")
	cmd.SilenceUsage = true
	return cmd
}

// check recorre cada clave y cada palabra clave del fallback y cuenta las que no llegan
// a la entrada esperada.
func check(table *qa.Table, probes []string, out io.Writer) (int, error) {
	resolver, err := service.NewSimulatedResolver(table, nil)
	if err != nil {
		return 0, err
	}

	failures := 0
	report := func(ok bool, label, input string, kind service.MatchKind) {
		status := colorGreen + "OK  " + colorReset
		if !ok {
			status = colorRed + "FAIL" + colorReset
			failures++
		}
		fmt.Fprintf(out, "%s %-8s %-8s %q\n", status, label, kind, input)
	}

	for _, key := range table.Keys() {
		entry, _ := table.Lookup(key)
		reply, kind := resolver.Match(key)
		report(kind == service.MatchExact && reply.Text == entry.Response, "key", key, kind)
	}

	for _, fb := range table.Fallbacks() {
		target, _ := table.Lookup(fb.Key)
		for _, kw := range fb.Keywords {
			reply, kind := resolver.Match(kw)
			report(kind != service.MatchDefault && reply.Text == target.Response, "keyword", kw, kind)
		}
	}

	for _, p := range probes {
		reply, kind := resolver.Match(p)
		fmt.Fprintf(out, "%s[Probe]%s %q -> %s\n    %s\n", colorCyan, colorReset, p, kind, reply.Text)
		for _, src := range reply.Sources {
			fmt.Fprintf(out, "    source: %s (%s)\n", src.FileName, src.Score)
		}
	}

	fmt.Fprintf(out, "\n%d keys, %d fallbacks, %d failures\n", len(table.Keys()), len(table.Fallbacks()), failures)
	return failures, nil
}

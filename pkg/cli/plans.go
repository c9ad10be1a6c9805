package cli

import (
	"flag"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/platinummonkey/warden/pkg/quota"
)

func newPlansCommand(out io.Writer) *Command {
	cmd := &Command{
		Name:        "plans",
		Description: "Validate and print plan tables",
		Subcommands: make(map[string]*Command),
		out:         out,
	}

	cmd.Subcommands["validate"] = &Command{
		Name:        "validate",
		Description: "Check a plan table file",
		Run:         func(args []string) error { return runPlansValidate(out, args) },
		out:         out,
	}
	cmd.Subcommands["show"] = &Command{
		Name:        "show",
		Description: "Print a plan table (built-in plans without -file)",
		Run:         func(args []string) error { return runPlansShow(out, args) },
		out:         out,
	}

	return cmd
}

func runPlansValidate(out io.Writer, args []string) error {
	flags := flag.NewFlagSet("plans validate", flag.ContinueOnError)
	flags.SetOutput(out)
	file := flags.String("file", "", "Plan table YAML file")

	if err := flags.Parse(args); err != nil {
		return err
	}
	if *file == "" {
		return fmt.Errorf("-file is required")
	}

	plans, err := quota.LoadPlans(*file)
	if err != nil {
		return fmt.Errorf("%s: %w", *file, err)
	}

	fmt.Fprintf(out, "%s: %d plans are valid\n", *file, len(plans))
	return nil
}

func runPlansShow(out io.Writer, args []string) error {
	flags := flag.NewFlagSet("plans show", flag.ContinueOnError)
	flags.SetOutput(out)
	file := flags.String("file", "", "Plan table YAML file")
	format := flags.String("format", "table", "Output format: table or yaml")

	if err := flags.Parse(args); err != nil {
		return err
	}

	table := quota.DefaultPlanTable()
	if *file != "" {
		plans, err := quota.LoadPlans(*file)
		if err != nil {
			return fmt.Errorf("%s: %w", *file, err)
		}
		if table, err = quota.NewPlanTable(plans); err != nil {
			return err
		}
	}

	switch *format {
	case "yaml":
		data, err := quota.MarshalPlans(table.Snapshot())
		if err != nil {
			return fmt.Errorf("failed to render plans: %w", err)
		}
		_, err = out.Write(data)
		return err
	case "table":
		return printPlanTable(out, table)
	default:
		return fmt.Errorf("unknown format: %s", *format)
	}
}

// printPlanTable writes one row per known plan and one column per kind.
// Plans missing from the table show the limits they resolve to.
func printPlanTable(out io.Writer, table *quota.PlanTable) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)

	fmt.Fprint(w, "PLAN")
	for _, k := range quota.Kinds() {
		fmt.Fprintf(w, "\t%s", k)
	}
	fmt.Fprintln(w)

	for _, tier := range quota.Tiers() {
		fmt.Fprint(w, tier)
		limits := table.LimitsFor(tier)
		for _, k := range quota.Kinds() {
			fmt.Fprintf(w, "\t%s", limits[k])
		}
		fmt.Fprintln(w)
	}

	return w.Flush()
}

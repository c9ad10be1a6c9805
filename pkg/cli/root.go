package cli

import (
	"flag"
	"fmt"
	"io"
	"sort"
)

// Command represents a CLI command. A command either runs or dispatches to
// one of its subcommands.
type Command struct {
	Name        string
	Description string
	Run         func(args []string) error
	Subcommands map[string]*Command
	Flags       *flag.FlagSet

	out io.Writer
}

// NewRootCommand creates the root command. Command output goes to out.
func NewRootCommand(out io.Writer) *Command {
	root := &Command{
		Name:        "warden-cli",
		Description: "warden - plan table and deployment tooling",
		Subcommands: make(map[string]*Command),
		Flags:       flag.NewFlagSet("warden-cli", flag.ContinueOnError),
		out:         out,
	}

	// Add subcommands
	root.Subcommands["plans"] = newPlansCommand(out)
	root.Subcommands["actions"] = newActionsCommand(out)
	root.Subcommands["keygen"] = newKeygenCommand(out)
	root.Subcommands["migrate"] = newMigrateCommand(out)

	return root
}

// Execute runs the command with args, excluding the program name
func (c *Command) Execute(args []string) error {
	if len(args) == 0 {
		if c.Run != nil {
			return c.Run(args)
		}
		return c.usage()
	}

	// Check for help flag
	if args[0] == "-h" || args[0] == "--help" {
		return c.usage()
	}

	// Check for subcommand
	if subcmd, ok := c.Subcommands[args[0]]; ok {
		return subcmd.Execute(args[1:])
	}
	if c.Run != nil {
		return c.Run(args)
	}

	return fmt.Errorf("unknown command: %s", args[0])
}

// usage prints the command usage
func (c *Command) usage() error {
	fmt.Fprintf(c.out, "Usage: %s <command> [args]\n\n", c.Name)
	fmt.Fprintf(c.out, "Commands:\n")

	names := make([]string, 0, len(c.Subcommands))
	for name := range c.Subcommands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(c.out, "  %-15s %s\n", name, c.Subcommands[name].Description)
	}
	return nil
}

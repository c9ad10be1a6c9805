package cli

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/platinummonkey/warden/pkg/auth"
	"github.com/platinummonkey/warden/pkg/observability"
	"github.com/platinummonkey/warden/pkg/rbac"
	"github.com/platinummonkey/warden/pkg/schema"
)

// openDB is replaced in tests
var openDB = func(url string) (*sql.DB, error) {
	return sql.Open("postgres", url)
}

func newActionsCommand(out io.Writer) *Command {
	return &Command{
		Name:        "actions",
		Description: "Print the action policy table",
		Run:         func(args []string) error { return runActions(out) },
		out:         out,
	}
}

func runActions(out io.Writer) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ACTION\tAUTH\tROLES\tRESOURCE\tOWNERSHIP\tQUOTA\tPAYER\tRATE LIMITED")

	for _, action := range rbac.Actions() {
		p, _ := rbac.Lookup(action)

		authMode := "required"
		if p.Auth == rbac.AuthOptional {
			authMode = "optional"
		}

		roles := "any"
		if len(p.Roles) > 0 {
			names := make([]string, len(p.Roles))
			for i, r := range p.Roles {
				names[i] = string(r)
			}
			roles = strings.Join(names, ",")
		}

		payer := "-"
		if p.QuotaKind != "" {
			payer = "caller"
			if p.QuotaPayer == rbac.PayerOwner {
				payer = "owner"
			}
		}

		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\t%s\t%s\t%t\n",
			action, authMode, roles, dash(string(p.ResourceKind)), p.Ownership, dash(string(p.QuotaKind)), payer, p.RateLimited)
	}

	return w.Flush()
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func newKeygenCommand(out io.Writer) *Command {
	return &Command{
		Name:        "keygen",
		Description: "Generate an RSA token signing key",
		Run:         func(args []string) error { return runKeygen(out, args) },
		out:         out,
	}
}

func runKeygen(out io.Writer, args []string) error {
	flags := flag.NewFlagSet("keygen", flag.ContinueOnError)
	flags.SetOutput(out)
	path := flags.String("out", "", "Write the PEM key to this file instead of stdout")

	if err := flags.Parse(args); err != nil {
		return err
	}

	key, err := auth.GenerateSigningKey()
	if err != nil {
		return fmt.Errorf("failed to generate key: %w", err)
	}
	pemBytes := auth.EncodeSigningKey(key)

	if *path == "" {
		_, err = out.Write(pemBytes)
		return err
	}
	if err := os.WriteFile(*path, pemBytes, 0o600); err != nil {
		return fmt.Errorf("failed to write key: %w", err)
	}
	fmt.Fprintf(out, "Signing key written to %s\n", *path)
	return nil
}

func newMigrateCommand(out io.Writer) *Command {
	return &Command{
		Name:        "migrate",
		Description: "Apply pending database migrations",
		Run:         func(args []string) error { return runMigrate(out, args) },
		out:         out,
	}
}

func runMigrate(out io.Writer, args []string) error {
	flags := flag.NewFlagSet("migrate", flag.ContinueOnError)
	flags.SetOutput(out)
	dbURL := flags.String("db-url", os.Getenv("WARDEN_POSTGRES_URL"), "PostgreSQL connection URL")
	timeout := flags.Duration("timeout", 2*time.Minute, "Give up after this long")

	if err := flags.Parse(args); err != nil {
		return err
	}
	if *dbURL == "" {
		return fmt.Errorf("-db-url or WARDEN_POSTGRES_URL is required")
	}

	db, err := openDB(*dbURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	logger := observability.NewLogger(observability.InfoLevel, out)
	if err := schema.RunMigrations(ctx, db, logger); err != nil {
		return err
	}

	fmt.Fprintln(out, "Migrations are up to date")
	return nil
}

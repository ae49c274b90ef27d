// migrate applies the embedded journal and policy schema migrations.
//
//	migrate [--direction up|down]
//	migrate --version
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"

	"cmf-bridge/internal/config"
	"cmf-bridge/internal/db/migrate"
)

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if err == pflag.ErrHelp {
			return
		}
		fmt.Fprintln(os.Stderr, "migrate:", err)
		os.Exit(1)
	}
}

func run(args []string, stdout, stderr io.Writer) error {
	fs := pflag.NewFlagSet("migrate", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	direction := fs.StringP("direction", "d", migrate.Up, "migration direction: up or down")
	showVersion := fs.Bool("version", false, "print the applied schema version and exit")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *direction != migrate.Up && *direction != migrate.Down {
		return fmt.Errorf("--direction must be up or down, got %q", *direction)
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is not set; create a .env or set DATABASE_URL")
	}

	if *showVersion {
		v, dirty, err := migrate.Version(cfg.DatabaseURL)
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "version %d", v)
		if dirty {
			fmt.Fprint(stdout, " (dirty)")
		}
		fmt.Fprintln(stdout)
		return nil
	}
	return migrate.Run(cfg.DatabaseURL, *direction)
}

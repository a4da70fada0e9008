package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hamed0406/uptimemonitor/internal/config"
)

type level int

const (
	levelOK level = iota
	levelWarn
	levelFail
)

type finding struct {
	level level
	msg   string
}

func (f finding) String() string {
	return [...]string{"✔", "⚠", "✖"}[f.level] + " " + f.msg
}

// checkConfig reports problems that would make serve misbehave.
func checkConfig(cfg config.Config) []finding {
	var out []finding
	add := func(l level, format string, args ...any) {
		out = append(out, finding{l, fmt.Sprintf(format, args...)})
	}

	if len(cfg.AdminAPIKeys) == 0 {
		add(levelFail, "ADMIN_API_KEYS is empty (the sweep route is open to anyone).")
	}
	if len(cfg.PublicAPIKeys) == 0 {
		add(levelWarn, "PUBLIC_API_KEYS is empty (read routes accept admin keys only).")
	}
	add(levelOK, "API_ADDR=%s", cfg.Addr)

	switch cfg.DatabaseDriver {
	case "memory":
		add(levelWarn, "DATABASE_URL empty; state lives in memory and is lost on restart.")
	case "postgres", "sqlite":
		if cfg.DatabaseDriver == "postgres" && cfg.DatabaseURL == "" {
			add(levelFail, "DATABASE_DRIVER=postgres needs DATABASE_URL.")
		} else {
			add(levelOK, "database driver %s", cfg.DatabaseDriver)
		}
	default:
		add(levelFail, "DATABASE_DRIVER %q is not one of memory, postgres, sqlite.", cfg.DatabaseDriver)
	}

	if cfg.SMTPHost == "" {
		add(levelWarn, "SMTP_HOST empty; downtime emails are written to the log only.")
	} else {
		add(levelOK, "SMTP %s:%d", cfg.SMTPHost, cfg.SMTPPort)
		if cfg.SMTPSkipVerify {
			add(levelWarn, "SMTP_SKIP_VERIFY is on; the mail server certificate is not checked.")
		}
	}
	if !strings.Contains(cfg.MailFrom, "@") {
		add(levelFail, "MAIL_FROM %q is not an email address.", cfg.MailFrom)
	}

	if cfg.SweepInterval == 0 {
		add(levelWarn, "SWEEP_INTERVAL=0; serve will not sweep on its own (use POST /api/sweep or the sweep command).")
	} else {
		add(levelOK, "sweep every %s", cfg.SweepInterval)
	}
	if len(cfg.AllowedOrigins) == 0 {
		add(levelWarn, "ALLOWED_ORIGINS empty; CORS allows every origin.")
	} else {
		add(levelOK, "ALLOWED_ORIGINS=%s", strings.Join(cfg.AllowedOrigins, ","))
	}
	return out
}

var preflightCmd = &cobra.Command{
	Use:   "preflight",
	Short: "Check the environment configuration before deploying",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load(envFile)
		failed := 0
		for _, f := range checkConfig(cfg) {
			w := cmd.OutOrStdout()
			if f.level != levelOK {
				w = os.Stderr
			}
			fmt.Fprintln(w, f)
			if f.level == levelFail {
				failed++
			}
		}
		if failed > 0 {
			return fmt.Errorf("preflight failed with %d problem(s)", failed)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "✔ preflight passed")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(preflightCmd)
}

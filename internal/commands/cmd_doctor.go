package commands

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"github.com/hay-kot/snapdls/internal/client"
	"github.com/hay-kot/snapdls/internal/commands/doctor"
	"github.com/hay-kot/snapdls/internal/engine/regiongrow"
	"github.com/hay-kot/snapdls/internal/printer"
)

type DoctorCmd struct {
	flags     *Flags
	format    string
	serverURL string
	idle      time.Duration
	fix       bool
}

func NewDoctorCmd(flags *Flags) *DoctorCmd {
	return &DoctorCmd{flags: flags}
}

func (cmd *DoctorCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:        "doctor",
		Usage:       "Run health checks on your snapdls setup",
		UsageText:   "snapdls doctor [options]",
		Description: "Checks the configuration, builds one engine from the model definition and looks for idle sessions on a running server.",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "format",
				Usage:       "output format (text, json)",
				Value:       "text",
				Destination: &cmd.format,
			},
			&cli.StringFlag{
				Name:        "server",
				Usage:       "URL of the running server",
				Sources:     cli.EnvVars("SNAPDLS_SERVER"),
				Value:       DefaultServerURL,
				Destination: &cmd.serverURL,
			},
			&cli.DurationFlag{
				Name:        "idle",
				Usage:       "report sessions unused for longer than this",
				Value:       30 * time.Minute,
				Destination: &cmd.idle,
			},
			&cli.BoolFlag{
				Name:        "fix",
				Usage:       "end idle sessions",
				Destination: &cmd.fix,
			},
		},
		Action: cmd.run,
	})
	return app
}

func (cmd *DoctorCmd) run(ctx context.Context, c *cli.Command) error {
	checks := []doctor.Check{
		doctor.NewConfigCheck(cmd.flags.Config, cmd.flags.ConfigPath),
	}

	if cfg := cmd.flags.Config; cfg != nil && cfg.ModelsPath != "" {
		checks = append(checks, doctor.NewModelCheck(&regiongrow.Loader{
			ModelsPath: cfg.ModelsPath,
			Glob:       cfg.ModelGlob,
			Device:     cfg.Device,
			Log:        log.With().Str("component", "doctor").Logger(),
		}))
	}

	api, err := client.New(cmd.serverURL, &http.Client{Timeout: 5 * time.Second})
	if err != nil {
		return err
	}
	checks = append(checks, doctor.NewIdleSessionCheck(api, cmd.idle, cmd.fix))

	results := doctor.RunAll(ctx, checks)

	if cmd.format == "json" {
		return cmd.outputJSON(c, results)
	}

	return cmd.outputText(ctx, results)
}

func (cmd *DoctorCmd) outputJSON(c *cli.Command, results []doctor.Result) error {
	passed, warned, failed := doctor.Summary(results)

	out := struct {
		Healthy bool            `json:"healthy"`
		Summary summaryJSON     `json:"summary"`
		Checks  []doctor.Result `json:"checks"`
	}{
		Healthy: failed == 0,
		Summary: summaryJSON{Passed: passed, Warned: warned, Failed: failed, Fixable: doctor.CountFixable(results)},
		Checks:  results,
	}

	enc := json.NewEncoder(c.Root().Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

type summaryJSON struct {
	Passed  int `json:"passed"`
	Warned  int `json:"warned"`
	Failed  int `json:"failed"`
	Fixable int `json:"fixable"`
}

func (cmd *DoctorCmd) outputText(ctx context.Context, results []doctor.Result) error {
	p := printer.Ctx(ctx)

	for _, result := range results {
		p.Section(result.Name)

		for _, item := range result.Items {
			switch item.Status {
			case doctor.StatusPass:
				p.CheckItem(item.Label, item.Detail)
			case doctor.StatusWarn:
				p.WarnItem(item.Label, item.Detail)
			case doctor.StatusFail:
				p.FailItem(item.Label, item.Detail)
			}
		}

		p.Printf("")
	}

	passed, warned, failed := doctor.Summary(results)
	p.Printf("Summary: %d passed, %d warnings, %d failed", passed, warned, failed)

	if n := doctor.CountFixable(results); n > 0 {
		p.Infof("Run 'snapdls doctor --fix' to end %d idle session(s)", n)
	}

	if failed > 0 {
		return cli.Exit("", 1)
	}

	return nil
}

package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/hay-kot/criterio"
	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"github.com/hay-kot/snapdls/internal/core/config"
	"github.com/hay-kot/snapdls/internal/printer"
	"github.com/hay-kot/snapdls/internal/styles"
)

type ConfigCmd struct {
	flags  *Flags
	format string
	force  bool
}

// NewConfigCmd creates the config command group.
func NewConfigCmd(flags *Flags) *ConfigCmd {
	return &ConfigCmd{flags: flags}
}

// Register adds the config commands to the application.
func (cmd *ConfigCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:  "config",
		Usage: "Configuration management commands",
		Commands: []*cli.Command{
			{
				Name:        "init",
				Usage:       "Create a configuration file interactively",
				UsageText:   "snapdls config init [options]",
				Description: "Prompts for the listener, models folder and device, then writes the config file.",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:        "force",
						Aliases:     []string{"f"},
						Usage:       "overwrite an existing config file",
						Destination: &cmd.force,
					},
				},
				Action: cmd.runInit,
			},
			{
				Name:        "validate",
				Usage:       "Validate configuration file",
				UsageText:   "snapdls config validate [options]",
				Description: "Validates the configuration file, checking value ranges, the model glob and the models folder.",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:        "format",
						Usage:       "output format (text, json)",
						Value:       "text",
						Destination: &cmd.format,
					},
				},
				Action: cmd.runValidate,
			},
		},
	})

	return app
}

// initAnswers holds the wizard inputs as the form edits them.
type initAnswers struct {
	Host        string
	Port        string
	ModelsPath  string
	Device      string
	IdleTimeout string
	Metrics     bool
}

func newInitAnswers(cfg config.Config) initAnswers {
	idle := ""
	if cfg.Session.IdleTimeout > 0 {
		idle = cfg.Session.IdleTimeout.String()
	}
	return initAnswers{
		Host:        cfg.Server.Host,
		Port:        strconv.Itoa(cfg.Server.Port),
		ModelsPath:  cfg.ModelsPath,
		Device:      cfg.Device,
		IdleTimeout: idle,
		Metrics:     cfg.Metrics.Enabled,
	}
}

// apply copies the answers onto base and validates the result.
func (a initAnswers) apply(base config.Config) (config.Config, error) {
	cfg := base
	cfg.Server.Host = a.Host
	cfg.ModelsPath = a.ModelsPath
	cfg.Device = a.Device
	cfg.Metrics.Enabled = a.Metrics

	var errs criterio.FieldErrorsBuilder

	port, err := strconv.Atoi(a.Port)
	if err != nil {
		errs = errs.Append("server.port", fmt.Errorf("not a number: %q", a.Port))
	}
	cfg.Server.Port = port

	cfg.Session.IdleTimeout = 0
	if a.IdleTimeout != "" {
		d, err := time.ParseDuration(a.IdleTimeout)
		if err != nil {
			errs = errs.Append("session.idle_timeout", err)
		}
		cfg.Session.IdleTimeout = d
	}

	if err := errs.ToError(); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func (cmd *ConfigCmd) runInit(ctx context.Context, _ *cli.Command) error {
	p := printer.Ctx(ctx)
	path := cmd.flags.ConfigPath

	if _, err := os.Stat(path); err == nil && !cmd.force {
		return fmt.Errorf("config file %s already exists, use --force to overwrite", path)
	}
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return fmt.Errorf("config init needs an interactive terminal")
	}

	base := config.DefaultConfig()
	if cmd.flags.Config != nil {
		base = *cmd.flags.Config
	}
	answers := newInitAnswers(base)

	deviceOpts := make([]huh.Option[string], len(config.Devices))
	for i, d := range config.Devices {
		deviceOpts[i] = huh.NewOption(d, d)
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Host").
				Description("Address the server binds to").
				Value(&answers.Host),
			huh.NewInput().
				Title("Port").
				Value(&answers.Port).
				Validate(func(s string) error {
					if _, err := strconv.Atoi(s); err != nil {
						return fmt.Errorf("port must be a number")
					}
					return nil
				}),
			huh.NewInput().
				Title("Models path").
				Description("Folder containing model.yaml").
				Value(&answers.ModelsPath).
				Validate(func(s string) error {
					if s == "" {
						return fmt.Errorf("models path is required")
					}
					return nil
				}),
			huh.NewSelect[string]().
				Title("Device").
				Options(deviceOpts...).
				Value(&answers.Device),
			huh.NewInput().
				Title("Idle timeout").
				Description("End sessions unused for this long, e.g. 30m. Empty keeps them.").
				Value(&answers.IdleTimeout),
			huh.NewConfirm().
				Title("Expose /metrics?").
				Value(&answers.Metrics),
		),
	).WithTheme(styles.FormTheme())

	if err := form.RunWithContext(ctx); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			p.Infof("Aborted, nothing written")
			return nil
		}
		return fmt.Errorf("run form: %w", err)
	}

	cfg, err := answers.apply(base)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := cfg.Save(path); err != nil {
		return err
	}

	p.Successf("Wrote %s", path)
	for _, w := range cfg.Warnings() {
		p.Warnf("%s: %s", w.Category, w.Message)
	}
	return nil
}

func (cmd *ConfigCmd) runValidate(ctx context.Context, c *cli.Command) error {
	p := printer.Ctx(ctx)

	if cmd.flags.Config == nil {
		return fmt.Errorf("configuration not loaded")
	}

	err := cmd.flags.Config.ValidateDeep(cmd.flags.ConfigPath)
	warnings := cmd.flags.Config.Warnings()

	if cmd.format == "json" {
		return cmd.outputJSON(c, err, warnings)
	}

	return cmd.outputText(p, err, warnings)
}

func (cmd *ConfigCmd) outputJSON(c *cli.Command, validationErr error, warnings []config.ValidationWarning) error {
	type fieldError struct {
		Field   string `json:"field"`
		Message string `json:"message"`
	}

	out := struct {
		Valid    bool                       `json:"valid"`
		Errors   []fieldError               `json:"errors,omitempty"`
		Warnings []config.ValidationWarning `json:"warnings,omitempty"`
	}{
		Valid:    validationErr == nil,
		Warnings: warnings,
	}

	for _, fe := range extractFieldErrors(validationErr) {
		out.Errors = append(out.Errors, fieldError{Field: fe.Field, Message: fe.Err.Error()})
	}

	enc := json.NewEncoder(c.Root().Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// extractFieldErrors extracts field errors from a validation error.
func extractFieldErrors(err error) criterio.FieldErrors {
	if err == nil {
		return nil
	}
	var fieldErrs criterio.FieldErrors
	if errors.As(err, &fieldErrs) {
		return fieldErrs
	}
	return criterio.FieldErrors{{Err: err}}
}

func (cmd *ConfigCmd) outputText(p *printer.Printer, validationErr error, warnings []config.ValidationWarning) error {
	fieldErrs := extractFieldErrors(validationErr)

	if len(fieldErrs) > 0 {
		p.Section("Errors")
		for _, fe := range fieldErrs {
			label := fe.Field
			if label == "" {
				label = "config"
			}
			p.FailItem(label, fe.Err.Error())
		}
	}

	if len(warnings) > 0 {
		if len(fieldErrs) > 0 {
			p.Printf("")
		}
		p.Section("Warnings")
		for _, warn := range warnings {
			label := warn.Category
			if warn.Item != "" {
				label += " (" + warn.Item + ")"
			}
			p.WarnItem(label, warn.Message)
		}
	}

	p.Printf("")
	if validationErr == nil {
		if len(warnings) > 0 {
			p.Successf("Configuration is valid (%d warning(s))", len(warnings))
		} else {
			p.Successf("Configuration is valid")
		}
		return nil
	}

	p.Errorf("%d error(s), %d warning(s)", len(fieldErrs), len(warnings))
	return cli.Exit("", 1)
}

package commands

import (
	"context"
	_ "embed"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/glamour"
	"github.com/urfave/cli/v3"
	"golang.org/x/term"
)

//go:embed docs/api.md
var apiReference string

type DocCmd struct {
	flags *Flags
	raw   bool
	width int
}

func NewDocCmd(flags *Flags) *DocCmd {
	return &DocCmd{flags: flags}
}

func (cmd *DocCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:  "doc",
		Usage: "Reference documentation",
		Description: `Access reference documentation for snapdls.

Use 'snapdls doc api' to see the HTTP API served by 'snapdls serve'.`,
		Commands: []*cli.Command{
			cmd.apiCmd(),
		},
	})
	return app
}

func (cmd *DocCmd) apiCmd() *cli.Command {
	return &cli.Command{
		Name:  "api",
		Usage: "Show the HTTP API reference",
		Description: `Renders the endpoint reference for terminal display.

Output is plain markdown when --raw is set or stdout is not a terminal.`,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:        "raw",
				Usage:       "print markdown without rendering",
				Destination: &cmd.raw,
			},
			&cli.IntFlag{
				Name:        "width",
				Usage:       "wrap rendered output at this column",
				Value:       100,
				Destination: &cmd.width,
			},
		},
		Action: cmd.runAPI,
	}
}

func (cmd *DocCmd) runAPI(_ context.Context, c *cli.Command) error {
	w := c.Root().Writer
	raw := cmd.raw || !isTerminal(w)
	return renderMarkdown(w, apiReference, raw, cmd.width)
}

func renderMarkdown(w io.Writer, md string, raw bool, width int) error {
	if raw {
		_, err := io.WriteString(w, md)
		return err
	}

	renderer, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle("tokyo-night"),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return fmt.Errorf("create renderer: %w", err)
	}

	out, err := renderer.Render(md)
	if err != nil {
		return fmt.Errorf("render markdown: %w", err)
	}
	_, err = io.WriteString(w, out)
	return err
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/hay-kot/snapdls/internal/client"
	"github.com/hay-kot/snapdls/internal/printer"
	"github.com/hay-kot/snapdls/internal/server"
	"github.com/hay-kot/snapdls/internal/styles"
)

// SessionsCmd queries a running server: its status and its live sessions.
type SessionsCmd struct {
	flags     *Flags
	serverURL string
	json      bool
}

// NewSessionsCmd creates the status and sessions commands.
func NewSessionsCmd(flags *Flags) *SessionsCmd {
	return &SessionsCmd{flags: flags}
}

func (cmd *SessionsCmd) serverFlag() cli.Flag {
	return &cli.StringFlag{
		Name:        "server",
		Usage:       "URL of the running server",
		Sources:     cli.EnvVars("SNAPDLS_SERVER"),
		Value:       DefaultServerURL,
		Destination: &cmd.serverURL,
	}
}

// Register adds the status and sessions commands to the application
func (cmd *SessionsCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands,
		&cli.Command{
			Name:        "status",
			Usage:       "Show whether a server is running",
			UsageText:   "snapdls status [options]",
			Description: "Queries /status and /sessions on a running server.",
			Flags:       []cli.Flag{cmd.serverFlag()},
			Action:      cmd.runStatus,
		},
		&cli.Command{
			Name:        "sessions",
			Usage:       "List live sessions on a running server",
			UsageText:   "snapdls sessions [options]",
			Description: "Displays a table of client sessions with their state, image size and last use.",
			Flags: []cli.Flag{
				cmd.serverFlag(),
				&cli.BoolFlag{
					Name:        "json",
					Usage:       "output as JSON",
					Destination: &cmd.json,
				},
			},
			Action: cmd.runSessions,
		},
	)

	return app
}

func (cmd *SessionsCmd) client() (*client.Client, error) {
	return client.New(cmd.serverURL, nil)
}

func (cmd *SessionsCmd) runStatus(ctx context.Context, _ *cli.Command) error {
	p := printer.Ctx(ctx)

	api, err := cmd.client()
	if err != nil {
		return err
	}

	st, err := api.Status(ctx)
	if err != nil {
		p.Errorf("No server at %s", cmd.serverURL)
		p.Infof("%v", err)
		return cli.Exit("", 1)
	}

	p.Successf("Server is %s", st.Status)
	p.KeyValue("url", cmd.serverURL)
	if st.Version != "" {
		p.KeyValue("version", st.Version)
	}

	sessions, err := api.Sessions(ctx)
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}
	p.KeyValue("sessions", len(sessions))

	return nil
}

func (cmd *SessionsCmd) runSessions(ctx context.Context, c *cli.Command) error {
	p := printer.Ctx(ctx)

	api, err := cmd.client()
	if err != nil {
		return err
	}

	sessions, err := api.Sessions(ctx)
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}

	out := c.Root().Writer

	if cmd.json {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(sessions)
	}

	if len(sessions) == 0 {
		p.Infof("No sessions found")
		return nil
	}

	writeSessionTable(out, sessions, time.Now())
	return nil
}

func writeSessionTable(out io.Writer, sessions []server.SessionSummary, now time.Time) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tSTATE\tIMAGE\tINTERACTIONS\tCREATED\tLAST USED")

	for _, s := range sessions {
		state := string(s.State)
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s ago\n",
			s.ID,
			styles.StateStyle(state).Render(state),
			imageSize(s.ImageSize),
			s.Interactions,
			s.CreatedAt.Local().Format(time.DateTime),
			now.Sub(s.LastUsed).Round(time.Second),
		)
	}

	_ = w.Flush()
}

func imageSize(size []int) string {
	if len(size) == 0 {
		return "-"
	}
	parts := make([]string, len(size))
	for i, n := range size {
		parts[i] = fmt.Sprint(n)
	}
	return strings.Join(parts, "x")
}

package cmds

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-go-golems/glazed/pkg/cli"
	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/values"
	"github.com/go-go-golems/glazed/pkg/middlewares"
	"github.com/go-go-golems/glazed/pkg/settings"
	"github.com/go-go-golems/glazed/pkg/types"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/punku-chat/pkg/config"
	"github.com/go-go-golems/punku-chat/pkg/session"
)

func newSessionsCommand(st *rootState) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect and maintain stored sessions",
	}

	listCmd, err := NewSessionsListCommand(st)
	cobra.CheckErr(err)
	showCmd, err := NewSessionsShowCommand(st)
	cobra.CheckErr(err)

	cobraListCmd, err := cli.BuildCobraCommand(listCmd, cli.WithCobraMiddlewaresFunc(glazeMiddlewares))
	cobra.CheckErr(err)
	cobraShowCmd, err := cli.BuildCobraCommand(showCmd, cli.WithCobraMiddlewaresFunc(glazeMiddlewares))
	cobra.CheckErr(err)

	cmd.AddCommand(cobraListCmd, cobraShowCmd, newSessionsClearCommand(st), newSessionsCleanupCommand(st))
	return cmd
}

// withStore loads settings that only need a flow id, opens the store, and runs fn.
func withStore(st *rootState, fn func(a *app) error) error {
	s, err := st.settings(false)
	if err != nil {
		return err
	}
	if s.FlowID == "" {
		return errors.New("flow_id is required")
	}
	return withApp(s, fn)
}

func withApp(s *config.Settings, fn func(a *app) error) error {
	a, err := openApp(s)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()
	return fn(a)
}

type SessionsListCommand struct {
	*cmds.CommandDescription
	st *rootState
}

type SessionsListSettings struct {
	Domain  string `glazed:"filter-domain"`
	Expired bool   `glazed:"expired"`
}

func NewSessionsListCommand(st *rootState) (*SessionsListCommand, error) {
	glazedSection, err := settings.NewGlazedSection()
	if err != nil {
		return nil, err
	}

	desc := cmds.NewCommandDescription(
		"list",
		cmds.WithShort("List every stored session"),
		cmds.WithLong("List stored sessions across all domains and flows, with message counts and expiry."),
		cmds.WithFlags(
			fields.New(
				"filter-domain",
				fields.TypeString,
				fields.WithDefault(""),
				fields.WithHelp("Only list sessions of this domain"),
			),
			fields.New(
				"expired",
				fields.TypeBool,
				fields.WithDefault(false),
				fields.WithHelp("Only list expired sessions"),
			),
		),
		cmds.WithSections(glazedSection),
	)

	return &SessionsListCommand{CommandDescription: desc, st: st}, nil
}

func (c *SessionsListCommand) RunIntoGlazeProcessor(
	ctx context.Context,
	parsedValues *values.Values,
	gp middlewares.Processor,
) error {
	ls := &SessionsListSettings{}
	if err := parsedValues.DecodeSectionInto(values.DefaultSlug, ls); err != nil {
		return err
	}
	s, err := c.st.settings(false)
	if err != nil {
		return err
	}
	return withApp(s, func(a *app) error {
		for _, stored := range a.store.ListSessions(s.SessionConfig()) {
			sess := stored.Session
			if ls.Domain != "" && !strings.EqualFold(sess.Domain, ls.Domain) {
				continue
			}
			if ls.Expired && !stored.Expired {
				continue
			}
			row := types.NewRow(
				types.MRP("key", stored.Key),
				types.MRP("session_id", sess.SessionID),
				types.MRP("domain", sess.Domain),
				types.MRP("flow_id", sess.FlowID),
				types.MRP("messages", len(sess.Messages)),
				types.MRP("created_at", formatMillis(sess.CreatedAt)),
				types.MRP("last_active_at", formatMillis(sess.LastActiveAt)),
				types.MRP("expires_at", formatMillis(sess.ExpiresAt)),
				types.MRP("expired", stored.Expired),
			)
			if err := gp.AddRow(ctx, row); err != nil {
				return err
			}
		}
		return nil
	})
}

type SessionsShowCommand struct {
	*cmds.CommandDescription
	st *rootState
}

func NewSessionsShowCommand(st *rootState) (*SessionsShowCommand, error) {
	glazedSection, err := settings.NewGlazedSection()
	if err != nil {
		return nil, err
	}

	desc := cmds.NewCommandDescription(
		"show",
		cmds.WithShort("Print the messages of the stored session for the flow"),
		cmds.WithLong("Print one row per message of the stored session for the configured flow and domain."),
		cmds.WithSections(glazedSection),
	)

	return &SessionsShowCommand{CommandDescription: desc, st: st}, nil
}

func (c *SessionsShowCommand) RunIntoGlazeProcessor(
	ctx context.Context,
	_ *values.Values,
	gp middlewares.Processor,
) error {
	return withStore(c.st, func(a *app) error {
		sess := a.store.GetStoredSession(a.settings.FlowID)
		if sess == nil {
			_, _ = fmt.Fprintln(os.Stderr, "no stored session")
			return nil
		}
		expired := a.store.IsSessionExpired(sess, a.settings.SessionConfig())
		for i, m := range sess.Messages {
			if err := gp.AddRow(ctx, messageRow(sess.SessionID, i, m, expired)); err != nil {
				return err
			}
		}
		return nil
	})
}

func messageRow(sessionID string, index int, m session.Message, expired bool) types.Row {
	return types.NewRow(
		types.MRP("session_id", sessionID),
		types.MRP("index", index),
		types.MRP("message_id", m.ID),
		types.MRP("sender", sender(m)),
		types.MRP("text", m.Text),
		types.MRP("error", m.Error),
		types.MRP("feedback", string(m.Feedback)),
		types.MRP("session_expired", expired),
	)
}

func sender(m session.Message) string {
	if m.IsOutgoing {
		return "user"
	}
	return "bot"
}

func formatMillis(ms int64) string {
	if ms == 0 {
		return ""
	}
	return time.UnixMilli(ms).UTC().Format(time.RFC3339)
}

func newSessionsClearCommand(st *rootState) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove the stored session for the flow",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(st, func(a *app) error {
				a.store.ClearSession(a.settings.FlowID)
				_, _ = fmt.Fprintln(os.Stdout, "session cleared")
				return nil
			})
		},
	}
}

func newSessionsCleanupCommand(st *rootState) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Remove every expired session in the store",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := st.settings(false)
			if err != nil {
				return err
			}
			return withApp(s, func(a *app) error {
				n := a.store.CleanupExpiredSessions(s.SessionConfig())
				_, _ = fmt.Fprintf(os.Stdout, "removed %d expired session(s)\n", n)
				return nil
			})
		},
	}
}

var (
	_ cmds.GlazeCommand = &SessionsListCommand{}
	_ cmds.GlazeCommand = &SessionsShowCommand{}
)

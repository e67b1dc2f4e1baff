package cmds

import (
	"context"
	"strings"

	"github.com/go-go-golems/glazed/pkg/cli"
	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/values"
	"github.com/go-go-golems/glazed/pkg/middlewares"
	"github.com/go-go-golems/glazed/pkg/settings"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/punku-chat/pkg/widget"
)

type SendCommand struct {
	*cmds.CommandDescription
	st *rootState
}

type SendSettings struct {
	Text []string `glazed:"text"`
}

func NewSendCommand(st *rootState) (*SendCommand, error) {
	glazedSection, err := settings.NewGlazedSection()
	if err != nil {
		return nil, err
	}

	desc := cmds.NewCommandDescription(
		"send",
		cmds.WithShort("Send one message and print the replies"),
		cmds.WithLong("Send one message to the flow, store the exchange in the session, and emit one row per reply."),
		cmds.WithArguments(
			fields.New(
				"text",
				fields.TypeStringList,
				fields.WithHelp("Message to send"),
				fields.WithRequired(true),
			),
		),
		cmds.WithSections(glazedSection),
	)

	return &SendCommand{CommandDescription: desc, st: st}, nil
}

func newSendCommand(st *rootState) *cobra.Command {
	sendCmd, err := NewSendCommand(st)
	cobra.CheckErr(err)
	cobraSendCmd, err := cli.BuildCobraCommand(sendCmd, cli.WithCobraMiddlewaresFunc(glazeMiddlewares))
	cobra.CheckErr(err)
	return cobraSendCmd
}

func (c *SendCommand) RunIntoGlazeProcessor(
	ctx context.Context,
	parsedValues *values.Values,
	gp middlewares.Processor,
) error {
	ss := &SendSettings{}
	if err := parsedValues.DecodeSectionInto(values.DefaultSlug, ss); err != nil {
		return err
	}
	text := strings.TrimSpace(strings.Join(ss.Text, " "))
	if text == "" {
		return widget.ErrEmptyInput
	}

	s, err := c.st.settings(true)
	if err != nil {
		return err
	}
	return withApp(s, func(a *app) error {
		ctrl, err := widget.NewController(a.client, a.store, a.widgetOptions())
		if err != nil {
			return err
		}
		defer ctrl.Dispose()

		before := len(ctrl.Messages())
		submitErr := ctrl.Submit(ctx, text)
		msgs := ctrl.Messages()
		for i := before; i < len(msgs); i++ {
			if msgs[i].IsOutgoing {
				continue
			}
			if err := gp.AddRow(ctx, messageRow(ctrl.SessionID(), i, msgs[i], false)); err != nil {
				return err
			}
		}
		return errors.Wrap(submitErr, "send")
	})
}

var _ cmds.GlazeCommand = &SendCommand{}


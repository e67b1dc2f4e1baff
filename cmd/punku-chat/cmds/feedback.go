package cmds

import (
	"fmt"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/punku-chat/pkg/session"
)

func newFeedbackCommand(st *rootState) *cobra.Command {
	return &cobra.Command{
		Use:       "feedback <message-id> <positive|negative>",
		Short:     "Rate a bot message",
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{string(session.FeedbackPositive), string(session.FeedbackNegative)},
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := st.settings(false)
			if err != nil {
				return err
			}
			if s.HostURL == "" {
				return errors.New("host_url is required")
			}
			fb := session.Feedback(strings.ToLower(args[1]))
			if fb != session.FeedbackPositive && fb != session.FeedbackNegative {
				return errors.Errorf("feedback must be %q or %q", session.FeedbackPositive, session.FeedbackNegative)
			}
			a, err := openApp(s)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()
			if err := a.client.SendFeedback(cmd.Context(), args[0], fb); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(os.Stdout, "feedback sent")
			return nil
		},
	}
}

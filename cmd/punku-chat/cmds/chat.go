package cmds

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/huh"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/tcnksm/go-input"

	"github.com/go-go-golems/punku-chat/pkg/i18n"
	"github.com/go-go-golems/punku-chat/pkg/session"
	"github.com/go-go-golems/punku-chat/pkg/widget"
)

const chatHelp = `/new      start a new conversation
/copy     copy the last reply to the clipboard
/good     rate the last reply positively
/bad      rate the last reply negatively
/session  print the session id
/quit     leave`

func newChatCommand(st *rootState) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Interactive chat with the flow",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := st.settings(true)
			if err != nil {
				return err
			}
			a, err := openApp(s)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			r := newRenderer(os.Stdout)
			tr := &transcript{r: r}
			opts := a.widgetOptions()
			opts.StartOpen = true
			opts.OnMessagesChange = tr.update
			ctrl, err := widget.NewController(a.client, a.store, opts)
			if err != nil {
				return err
			}
			defer ctrl.Dispose()

			c := &chatSession{
				ctrl:  ctrl,
				r:     r,
				tr:    tr,
				cat:   i18n.Default(),
				lang:  s.Language(),
				theme: s.Theme,
				in:    bufio.NewReader(os.Stdin),

				showFeedback: s.ShowFeedback,
			}
			return c.run(ctx)
		},
	}
}

type chatSession struct {
	ctrl  *widget.Controller
	r     *renderer
	tr    *transcript
	cat   *i18n.Catalog
	lang  string
	theme string
	in    *bufio.Reader
	turns int

	showFeedback bool
}

func (c *chatSession) run(ctx context.Context) error {
	c.r.header(c.cat.T(c.lang, i18n.KeyWindowTitle), c.cat.T(c.lang, i18n.KeyOnlineMessage))
	c.showHistory()

	for {
		if ctx.Err() != nil {
			return nil
		}
		_, _ = fmt.Fprint(c.r.out, c.r.style(userStyle, "you")+"> ")
		line, err := c.in.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return errors.Wrap(err, "read input")
		}
		text := strings.TrimSpace(line)
		if text != "" {
			if quit := c.handle(ctx, text); quit {
				return nil
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
	}
}

func (c *chatSession) showHistory() {
	msgs := c.ctrl.Messages()
	if len(msgs) == 0 {
		c.r.message(session.Message{Text: c.cat.T(c.lang, i18n.KeyWelcomeMessage), ID: widget.WelcomeMessageID})
	}
	for _, m := range msgs {
		c.r.message(m)
	}
	c.tr.skip(msgs)
}

// handle runs one line of input and reports whether the user asked to quit.
func (c *chatSession) handle(ctx context.Context, text string) bool {
	if !strings.HasPrefix(text, "/") {
		c.send(ctx, text)
		return false
	}
	switch strings.ToLower(strings.Fields(text)[0]) {
	case "/quit", "/exit":
		return true
	case "/help":
		c.r.status(chatHelp)
	case "/session":
		c.r.status(c.ctrl.SessionID())
	case "/new":
		if c.confirmNewSession() {
			c.ctrl.StartNewSession()
			c.r.status(c.cat.T(c.lang, i18n.KeyNewSessionTitle))
			c.showHistory()
		}
	case "/copy":
		m, ok := lastReply(c.ctrl.Messages())
		if !ok {
			c.r.status("no reply to copy")
			return false
		}
		if err := clipboard.WriteAll(m.Text); err != nil {
			c.r.status("clipboard: " + err.Error())
			return false
		}
		c.r.status("copied")
	case "/good", "/bad":
		if !c.showFeedback {
			c.r.status("feedback is disabled")
			return false
		}
		fb := session.FeedbackPositive
		if strings.EqualFold(text, "/bad") {
			fb = session.FeedbackNegative
		}
		m, ok := lastReply(c.ctrl.Messages())
		if !ok || !widget.FeedbackAllowed(m) {
			c.r.status("no reply to rate")
			return false
		}
		if err := c.ctrl.SubmitFeedback(ctx, m.ID, fb); err != nil {
			c.r.status("feedback failed: " + err.Error())
			return false
		}
		c.r.status("thanks for the feedback")
	default:
		c.r.status(chatHelp)
	}
	return false
}

func (c *chatSession) send(ctx context.Context, text string) {
	if c.r.styled {
		c.r.status(c.cat.SendingPlaceholder(c.lang, c.theme, c.turns))
	}
	c.turns++
	// Flow failures already show up in the transcript as error messages.
	if err := c.ctrl.Submit(ctx, text); errors.Is(err, widget.ErrBusy) || errors.Is(err, widget.ErrDisposed) {
		c.r.status(err.Error())
	}
}

// confirmNewSession asks with a form on terminals and a plain prompt otherwise.
func (c *chatSession) confirmNewSession() bool {
	title := c.cat.T(c.lang, i18n.KeyNewSessionTitle)
	msg := c.cat.T(c.lang, i18n.KeyNewSessionConfirm)
	yes := c.cat.T(c.lang, i18n.KeyConfirmButton)
	no := c.cat.T(c.lang, i18n.KeyCancelButton)

	if isatty.IsTerminal(os.Stdin.Fd()) && isatty.IsTerminal(os.Stdout.Fd()) {
		ok := false
		form := huh.NewForm(
			huh.NewGroup(
				huh.NewConfirm().
					Title(title).
					Description(msg).
					Affirmative(yes).
					Negative(no).
					Value(&ok),
			),
		).WithTheme(huh.ThemeCharm())
		if err := form.Run(); err != nil {
			return false
		}
		return ok
	}

	ui := &input.UI{Writer: c.r.out, Reader: c.in}
	answer, err := ui.Ask(title+"\n"+msg+" [y/n]", &input.Options{
		Default:  "n",
		Required: true,
		Loop:     true,
		ValidateFunc: func(answer string) error {
			switch strings.ToLower(answer) {
			case "y", "n", "yes", "no":
				return nil
			default:
				return errors.Errorf("please enter 'y' or 'n'")
			}
		},
	})
	if err != nil {
		return false
	}
	return strings.HasPrefix(strings.ToLower(answer), "y")
}

func lastReply(msgs []session.Message) (session.Message, bool) {
	for i := len(msgs) - 1; i >= 0; i-- {
		if !msgs[i].IsOutgoing && !msgs[i].Error {
			return msgs[i], true
		}
	}
	return session.Message{}, false
}

package cmds

import (
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"github.com/go-go-golems/punku-chat/pkg/session"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	statusStyle = lipgloss.NewStyle().Faint(true)
	userStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	botStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("13")).Bold(true)
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

// renderer prints messages, styled when out is a terminal.
type renderer struct {
	out    io.Writer
	styled bool
}

func newRenderer(out *os.File) *renderer {
	return &renderer{out: out, styled: isatty.IsTerminal(out.Fd())}
}

func (r *renderer) style(s lipgloss.Style, text string) string {
	if !r.styled {
		return text
	}
	return s.Render(text)
}

func (r *renderer) header(title, status string) {
	_, _ = io.WriteString(r.out, r.style(headerStyle, title)+"  "+r.style(statusStyle, status)+"\n\n")
}

func (r *renderer) status(text string) {
	_, _ = io.WriteString(r.out, r.style(statusStyle, text)+"\n")
}

func (r *renderer) botPrefix() string {
	return r.style(botStyle, "bot") + "> "
}

// markdown renders bot text with glamour on terminals.
func (r *renderer) markdown(text string) string {
	if !r.styled {
		return text
	}
	out, err := glamour.Render(text, "dark")
	if err != nil {
		return text
	}
	return strings.Trim(out, "\n")
}

func (r *renderer) message(m session.Message) {
	switch {
	case m.IsOutgoing:
		_, _ = io.WriteString(r.out, r.style(userStyle, "you")+"> "+m.Text+"\n")
	case m.Error:
		_, _ = io.WriteString(r.out, r.style(errorStyle, "error")+"> "+m.Text+"\n")
	default:
		_, _ = io.WriteString(r.out, r.botPrefix()+r.markdown(m.Text)+"\n")
	}
}

// transcript follows a changing message list and prints what is new.
// A streaming reply is printed incrementally and finished with a newline.
type transcript struct {
	r        *renderer
	printed  int
	partial  string
	inStream bool
}

func (t *transcript) update(msgs []session.Message) {
	if len(msgs) < t.printed {
		t.printed = 0
		t.partial = ""
		t.inStream = false
	}
	for i := t.printed; i < len(msgs); i++ {
		m := msgs[i]
		if m.IsOutgoing {
			t.printed++
			continue
		}
		if m.Streaming {
			t.writeDelta(m.Text)
			return
		}
		if t.inStream {
			t.writeDelta(m.Text)
			_, _ = io.WriteString(t.r.out, "\n")
			t.inStream = false
			t.partial = ""
		} else {
			t.r.message(m)
		}
		t.printed++
	}
}

func (t *transcript) writeDelta(text string) {
	if !t.inStream {
		_, _ = io.WriteString(t.r.out, t.r.botPrefix())
		t.inStream = true
	}
	if strings.HasPrefix(text, t.partial) {
		_, _ = io.WriteString(t.r.out, text[len(t.partial):])
	} else {
		_, _ = io.WriteString(t.r.out, "\n"+t.r.botPrefix()+text)
	}
	t.partial = text
}

// skip marks every message in msgs as already shown.
func (t *transcript) skip(msgs []session.Message) {
	t.printed = len(msgs)
	t.partial = ""
	t.inStream = false
}

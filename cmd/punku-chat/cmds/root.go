package cmds

import (
	"os"

	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/sources"
	"github.com/go-go-golems/glazed/pkg/cmds/values"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/go-go-golems/punku-chat/pkg/config"
)

// rootState carries what the persistent flags resolve to.
type rootState struct {
	configFile string
	logLevel   string
	withCaller bool
	v          *viper.Viper
}

// flag name -> settings key
var settingFlags = map[string]string{
	"host-url":         "host_url",
	"flow-id":          "flow_id",
	"api-key":          "api_key",
	"output-component": "output_component",
	"streaming":        "enable_streaming",
	"session-id":       "session_id",
	"widget-id":        "widget_id",
	"language":         "default_language",
	"theme":            "theme",
	"domain":           "domain",
	"storage-driver":   "storage.driver",
	"storage-path":     "storage.path",
	"ttl-hours":        "ttl_hours",
	"idle-hours":       "idle_expiration_hours",
}

func NewRootCommand() *cobra.Command {
	st := &rootState{}
	root := &cobra.Command{
		Use:           "punku-chat",
		Short:         "Chat with a Langflow flow from the terminal or bridge it to a host page",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			setupLogging(st.logLevel, st.withCaller)
			v, err := config.NewViper(st.configFile)
			if err != nil {
				return err
			}
			for name, key := range settingFlags {
				if f := cmd.Flags().Lookup(name); f != nil {
					if err := v.BindPFlag(key, f); err != nil {
						return errors.Wrapf(err, "bind flag %s", name)
					}
				}
			}
			st.v = v
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&st.configFile, "config", "", "Config file (default $HOME/.config/punku-chat/config.yaml)")
	pf.StringVar(&st.logLevel, "log-level", "warn", "Global log level (trace, debug, info, warn, error)")
	pf.BoolVar(&st.withCaller, "with-caller", false, "Include caller (file:line) in logs")
	addSettingFlags(pf)

	root.AddCommand(
		newChatCommand(st),
		newSendCommand(st),
		newSessionsCommand(st),
		newFeedbackCommand(st),
		newServeCommand(st),
	)
	return root
}

func addSettingFlags(f *pflag.FlagSet) {
	f.String("host-url", "", "Base URL of the flow server")
	f.String("flow-id", "", "Flow to run")
	f.String("api-key", "", "Value sent as x-api-key")
	f.String("output-component", "", "Only show replies from this output component")
	f.Bool("streaming", false, "Stream replies token by token")
	f.String("session-id", "", "Force a session id")
	f.String("widget-id", "", "Widget id (default punku-chat-widget)")
	f.String("language", "", "UI language (en, de)")
	f.String("theme", "", "Widget theme")
	f.String("domain", "", "Domain the session is scoped to (default hostname)")
	f.String("storage-driver", "", "Session storage: sqlite or memory")
	f.String("storage-path", "", "SQLite database path")
	f.Float64("ttl-hours", 0, "Absolute session lifetime in hours")
	f.Float64("idle-hours", 0, "Idle session lifetime in hours")
}

// glazeMiddlewares resolves the fields of the structured output commands.
// Widget settings come from viper through rootState instead.
func glazeMiddlewares(
	_ *values.Values,
	cmd *cobra.Command,
	args []string,
) ([]sources.Middleware, error) {
	return []sources.Middleware{
		sources.FromCobra(cmd),
		sources.FromArgs(args),
		sources.FromEnv(config.EnvPrefix,
			fields.WithSource("env"),
		),
		sources.FromDefaults(),
	}, nil
}

func setupLogging(level string, withCaller bool) {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	if level != "" {
		if l, err := zerolog.ParseLevel(level); err == nil {
			zerolog.SetGlobalLevel(l)
		}
	}
	if withCaller {
		log.Logger = log.Logger.With().Caller().Logger()
	}
}

// settings decodes the merged flag/env/file settings.
func (st *rootState) settings(requireFlow bool) (*config.Settings, error) {
	if st.v == nil {
		return nil, errors.New("configuration not loaded")
	}
	s, err := config.Load(st.v)
	if err != nil {
		return nil, err
	}
	if requireFlow {
		if err := s.Validate(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

package cmds

import (
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/punku-chat/pkg/config"
	"github.com/go-go-golems/punku-chat/pkg/flowapi"
	"github.com/go-go-golems/punku-chat/pkg/session"
	"github.com/go-go-golems/punku-chat/pkg/session/kvstore"
	"github.com/go-go-golems/punku-chat/pkg/widget"
)

// app bundles the collaborators a command needs.
type app struct {
	settings *config.Settings
	store    *session.Store
	client   *flowapi.Client
	closers  []func() error
}

func openApp(s *config.Settings) (*app, error) {
	a := &app{settings: s}

	storage, err := openStorage(s.Storage)
	if err != nil {
		return nil, err
	}
	if c, ok := storage.(interface{ Close() error }); ok {
		a.closers = append(a.closers, c.Close)
	}

	var opts []session.Option
	if s.Domain != "" {
		opts = append(opts, session.WithDomain(s.Domain))
	}
	a.store = session.NewStore(storage, opts...)

	var clientOpts []flowapi.Option
	if s.APIKey != "" {
		clientOpts = append(clientOpts, flowapi.WithAPIKey(s.APIKey))
	}
	if len(s.AdditionalHeaders) > 0 {
		clientOpts = append(clientOpts, flowapi.WithHeaders(s.AdditionalHeaders))
	}
	a.client = flowapi.NewClient(s.HostURL, clientOpts...)
	return a, nil
}

func openStorage(s config.StorageSettings) (session.Storage, error) {
	switch s.Driver {
	case config.StorageMemory:
		return kvstore.NewMemory(), nil
	case config.StorageSQLite, "":
		db, err := kvstore.OpenSQLiteFile(s.Path)
		if err != nil {
			return nil, errors.Wrap(err, "open session database")
		}
		log.Debug().Str("component", "cli").Str("path", s.Path).Msg("opened session database")
		return db, nil
	default:
		return nil, errors.Errorf("unknown storage driver %q", s.Driver)
	}
}

// widgetOptions maps settings onto controller options.
func (a *app) widgetOptions() widget.Options {
	s := a.settings
	return widget.Options{
		WidgetID:        s.WidgetID,
		FlowID:          s.FlowID,
		InputType:       s.InputType,
		OutputType:      s.OutputType,
		OutputComponent: s.OutputComponent,
		Tweaks:          s.Tweaks,
		SessionID:       s.SessionID,
		SessionConfig:   s.SessionConfig(),
		Streaming:       s.EnableStreaming,
		StartOpen:       s.StartOpen,
	}
}

func (a *app) Close() error {
	var firstErr error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

package widget

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type stubHandle struct{ open bool }

func (s *stubHandle) Open()        { s.open = true }
func (s *stubHandle) Close()       { s.open = false }
func (s *stubHandle) Toggle()      { s.open = !s.open }
func (s *stubHandle) IsOpen() bool { return s.open }

func TestAPIKey(t *testing.T) {
	require.Equal(t, "punku-chat-widget_api", APIKey(""))
	require.Equal(t, "support_api", APIKey("support"))
}

func TestRegistry_PublishLookupUnregister(t *testing.T) {
	r := NewRegistry()
	h := &stubHandle{}
	unregister := r.Publish(APIKey("w1"), h)

	got, ok := r.Lookup("w1_api")
	require.True(t, ok)
	got.Open()
	require.True(t, h.IsOpen())
	require.Equal(t, []string{"w1_api"}, r.Keys())

	unregister()
	unregister()
	_, ok = r.Lookup("w1_api")
	require.False(t, ok)
}

func TestRegistry_ReplacedHandleSurvivesOldUnregister(t *testing.T) {
	r := NewRegistry()
	first := &stubHandle{}
	second := &stubHandle{}
	unregisterFirst := r.Publish("k", first)
	r.Publish("k", second)

	unregisterFirst()
	got, ok := r.Lookup("k")
	require.True(t, ok)
	require.Same(t, second, got)
}

func TestRegistry_ControllerHandle(t *testing.T) {
	f := newFixture(t)
	r := NewRegistry()
	c := f.controller(t, Options{WidgetID: "custom", Registry: r})

	h, ok := r.Lookup("custom_api")
	require.True(t, ok)
	h.Open()
	require.True(t, c.IsOpen())
	h.Close()
	require.False(t, h.IsOpen())
}

package i18n

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultCatalog(t *testing.T) {
	c := Default()
	require.Equal(t, []string{"de", "en"}, c.Supported())
	require.Equal(t, "Thinking...", c.T(English, KeyPlaceholderSending))
	require.Equal(t, "Denke nach...", c.T(German, KeyPlaceholderSending))
	require.Equal(t, "Powered by PUNKU.AI", c.T(German, KeyOnlineMessage))
	require.Equal(t, "Start New Conversation", c.T("fr", KeyNewSessionTitle))
	require.Equal(t, "unknownKey", c.T(English, "unknownKey"))

	for _, lang := range c.Supported() {
		for key := range c.Languages[English] {
			require.NotEmpty(t, c.Languages[lang][key], "%s/%s", lang, key)
		}
	}
}

func TestThinkingMessages(t *testing.T) {
	c := Default()
	require.NotEmpty(t, c.Thinking)
	require.Equal(t, "Magic in the air... 🪄", c.ThinkingMessage(English, 0))
	require.Equal(t, "Magie liegt in der Luft... 🪄", c.ThinkingMessage(German, 0))
	require.Equal(t, c.ThinkingMessage(English, 1), c.ThinkingMessage(English, 1+len(c.Thinking)))

	require.Equal(t, "Thinking...", c.SendingPlaceholder(English, "default", 3))
	require.Equal(t, c.ThinkingMessage(German, 3), c.SendingPlaceholder(German, "swarovski", 3))
}

func TestDefaultLanguage(t *testing.T) {
	require.Equal(t, English, DefaultLanguage("", ""))
	require.Equal(t, German, DefaultLanguage("de", ""))
	require.Equal(t, German, DefaultLanguage("de-AT", ""))
	require.Equal(t, German, DefaultLanguage("", "swarovski"))
	require.Equal(t, English, DefaultLanguage("en", "swarovski"))
	require.Equal(t, English, DefaultLanguage("", "dark"))
}

func TestParse_RequiresEnglish(t *testing.T) {
	_, err := Parse([]byte("languages:\n  de:\n    windowTitle: Chat\n"))
	require.Error(t, err)
}

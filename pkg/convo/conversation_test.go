package convo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConversation(t *testing.T) {
	c := NewConversation("write a haiku about the sea")
	require.Nil(t, c.System)
	assert.Equal(t, RoleUser, c.Prompt.Role)
	assert.Equal(t, "write a haiku about the sea", c.Prompt.Content)
}

func TestConversationWithSystem(t *testing.T) {
	c := NewConversation("draft an opening paragraph").WithSystem("You are a careful editor.")
	require.NotNil(t, c.System)
	assert.Equal(t, RoleSystem, c.System.Role)
	assert.Equal(t, "You are a careful editor.", c.System.Content)
}

func TestConversationToMessages(t *testing.T) {
	t.Run("with system", func(t *testing.T) {
		c := NewConversation("revise this paragraph").WithSystem("Be concise.")
		msgs := c.ToMessages()
		require.Len(t, msgs, 2)
		assert.Equal(t, RoleSystem, msgs[0].Role)
		assert.Equal(t, RoleUser, msgs[1].Role)
	})

	t.Run("without system", func(t *testing.T) {
		c := NewConversation("revise this paragraph")
		msgs := c.ToMessages()
		require.Len(t, msgs, 1)
		assert.Equal(t, RoleUser, msgs[0].Role)
	})
}

func TestConversationClone(t *testing.T) {
	c := NewConversation("original prompt").WithSystem("system text")
	clone := c.Clone()

	assert.Equal(t, c.Prompt, clone.Prompt)
	require.NotNil(t, clone.System)
	assert.Equal(t, *c.System, *clone.System)

	// mutating the clone's system message must not affect the original
	clone.System.Content = "mutated"
	assert.Equal(t, "system text", c.System.Content)
}

func TestConversationReplacePrompt(t *testing.T) {
	c := NewConversation("first draft").WithSystem("system text")
	replaced := c.ReplacePrompt("second draft")

	assert.Equal(t, "second draft", replaced.Prompt.Content)
	assert.Equal(t, "first draft", c.Prompt.Content, "original conversation must be unchanged")
	require.NotNil(t, replaced.System)
	assert.Equal(t, c.System.Content, replaced.System.Content)
}

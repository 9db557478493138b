package prompts

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestForSession(t *testing.T) {
	assert.Equal(t, DefaultSystem, ForSession(""))
	assert.Equal(t, "custom", ForSession("custom"))
	assert.True(t, strings.Contains(DefaultSystem, "HMRC"))
}

func TestSpoken(t *testing.T) {
	in := "**SYNOPSIS:** Yes, you can.\n---DETAILS---\nUse the **flat rate**."
	assert.Equal(t, "Yes, you can.\n\n\n\nUse the flat rate.", Spoken(in))
	assert.Equal(t, "plain", Spoken("  plain "))
}

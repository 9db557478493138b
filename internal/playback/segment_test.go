package playback

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplit(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"single", "Hello there.", []string{"Hello there."}},
		{"two paragraphs", "First.\n\nSecond.", []string{"First.", "Second."}},
		{"whitespace-only separator", "First.\n  \t\n\nSecond.", []string{"First.", "Second."}},
		{"single newline kept", "Line one\nline two", []string{"Line one\nline two"}},
		{"crlf", "A\r\n\r\nB", []string{"A", "B"}},
		{"trims and drops empties", "\n\n  A  \n\n\n\n B \n\n", []string{"A", "B"}},
		{"empty", "", nil},
		{"blank", " \n\n \t ", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Split(tt.in)
			require.Len(t, got, len(tt.want))
			for i, seg := range got {
				assert.Equal(t, i, seg.Index)
				assert.Equal(t, tt.want[i], seg.Text)
			}
		})
	}
}

func TestJoin(t *testing.T) {
	assert.Equal(t, "A B C", Join(Split("A\n\nB\n\nC")))
	assert.Equal(t, "", Join(nil))
}

func TestPersonaFor(t *testing.T) {
	assert.Equal(t, Primary, PersonaFor(0))
	assert.Equal(t, Support, PersonaFor(1))
	assert.Equal(t, Primary, PersonaFor(2))
	assert.Equal(t, Support, PersonaFor(7))
}

func TestParsePersona(t *testing.T) {
	for _, p := range []Persona{Primary, Support} {
		got, err := ParsePersona(p.String())
		require.NoError(t, err)
		assert.Equal(t, p, got)
	}
	_, err := ParsePersona("narrator")
	assert.Error(t, err)
}

func TestPlaybackTimeout(t *testing.T) {
	// 5 words at 2.5 wps is 2s, plus 1s overhead.
	assert.Equal(t, 3*time.Second, PlaybackTimeout("one two three four five", 2.5, time.Second))
	assert.Equal(t, time.Second, PlaybackTimeout("   ", 2.5, time.Second))
	assert.Equal(t, 3*time.Second, PlaybackTimeout("one two three four five", 0, time.Second))
}

func TestArtifactReleaseOnce(t *testing.T) {
	calls := 0
	a := NewArtifact(Segment{Index: 0, Text: "x"}, Primary, "/media/1", "video/mp4", func() { calls++ })
	assert.Equal(t, ArtifactReady, a.Status())
	a.Release()
	a.Release()
	assert.Equal(t, 1, calls)
	assert.Equal(t, ArtifactReleased, a.Status())

	var nilArtifact *Artifact
	assert.NotPanics(t, func() { nilArtifact.Release() })
}

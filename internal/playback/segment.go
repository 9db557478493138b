package playback

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

const (
	// DefaultWordsPerSecond is the speaking rate used to estimate how long a
	// segment takes to play when the surface never reports "ended".
	DefaultWordsPerSecond = 2.5

	// DefaultOverhead is added to every estimated playback duration.
	DefaultOverhead = time.Second

	// DefaultPause separates consecutive segments.
	DefaultPause = 400 * time.Millisecond
)

// Segment is one paragraph of a response, the unit of persona-alternated playback.
type Segment struct {
	Index int    `json:"index"`
	Text  string `json:"text"`
}

// blankLines matches a line break followed by one or more whitespace-only lines.
var blankLines = regexp.MustCompile(`\n(?:[ \t]*\n)+`)

// Split breaks text into paragraphs on runs of blank lines. Paragraphs are
// trimmed, empty ones dropped, and indices assigned after filtering.
func Split(text string) []Segment {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	parts := blankLines.Split(text, -1)
	segments := make([]Segment, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		segments = append(segments, Segment{Index: len(segments), Text: p})
	}
	return segments
}

// Join concatenates segment texts back into a single space-separated string.
func Join(segments []Segment) string {
	texts := make([]string, len(segments))
	for i, s := range segments {
		texts[i] = s.Text
	}
	return strings.Join(texts, " ")
}

// Persona is one of the two avatar identities that alternate across segments.
type Persona int

const (
	Primary Persona = iota
	Support
)

// PersonaFor maps a segment index to its persona by parity.
func PersonaFor(index int) Persona {
	if index%2 == 0 {
		return Primary
	}
	return Support
}

func (p Persona) String() string {
	if p == Support {
		return "support"
	}
	return "primary"
}

// ParsePersona is the inverse of Persona.String.
func ParsePersona(s string) (Persona, error) {
	switch s {
	case "primary":
		return Primary, nil
	case "support":
		return Support, nil
	}
	return Primary, fmt.Errorf("unknown persona %q", s)
}

// PlaybackTimeout estimates how long text takes to speak: word count divided
// by wordsPerSecond, plus overhead.
func PlaybackTimeout(text string, wordsPerSecond float64, overhead time.Duration) time.Duration {
	if wordsPerSecond <= 0 {
		wordsPerSecond = DefaultWordsPerSecond
	}
	words := len(strings.Fields(text))
	return time.Duration(float64(words)/wordsPerSecond*float64(time.Second)) + overhead
}

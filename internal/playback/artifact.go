package playback

import (
	"sync"
	"sync/atomic"
)

// ArtifactStatus is the lifecycle position of a rendered artifact.
type ArtifactStatus string

const (
	ArtifactReady    ArtifactStatus = "ready"
	ArtifactReleased ArtifactStatus = "released"
)

// Artifact is the rendered audio or video for one segment. The media handle
// behind URL is owned by the run that requested it and must be released.
type Artifact struct {
	Segment     Segment
	Persona     Persona
	URL         string
	ContentType string
	// RunID is set by the orchestrator when the artifact is presented.
	RunID       string

	release  func()
	once     sync.Once
	released atomic.Bool
}

// NewArtifact wraps a media handle. release revokes the handle and is called
// at most once.
func NewArtifact(seg Segment, persona Persona, url, contentType string, release func()) *Artifact {
	return &Artifact{
		Segment:     seg,
		Persona:     persona,
		URL:         url,
		ContentType: contentType,
		release:     release,
	}
}

// Release revokes the media handle. Safe on nil and safe to repeat.
func (a *Artifact) Release() {
	if a == nil {
		return
	}
	a.once.Do(func() {
		a.released.Store(true)
		if a.release != nil {
			a.release()
		}
	})
}

// Status reports whether the handle is still live.
func (a *Artifact) Status() ArtifactStatus {
	if a.released.Load() {
		return ArtifactReleased
	}
	return ArtifactReady
}

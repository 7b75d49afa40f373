package encoder

import (
	"github.com/hazyhaar/horosreplay/replay/dom"
	"github.com/hazyhaar/horosreplay/replay/record"
)

var mediaTypes = map[dom.EventType]record.MediaInteractionType{
	dom.EventPlay:         record.MediaPlay,
	dom.EventPause:        record.MediaPause,
	dom.EventSeeked:       record.MediaSeeked,
	dom.EventVolumeChange: record.MediaVolumeChange,
	dom.EventRateChange:   record.MediaRateChange,
}

// Media records play, pause, seek, volume and rate changes of audio and
// video elements.
type Media struct {
	env *Env
}

// NewMedia creates the encoder.
func NewMedia(env *Env) *Media { return &Media{env: env} }

// Handle encodes one media event.
func (m *Media) Handle(ev *dom.Event) {
	n := ev.Target
	if n == nil || (n.Name != "audio" && n.Name != "video") {
		return
	}
	typ, ok := mediaTypes[ev.Type]
	if !ok {
		return
	}
	id, ok := m.env.target(n)
	if !ok {
		return
	}
	m.env.Emit(record.NewIncremental(m.env.eventTime(ev).UnixMilli(), record.MediaInteractionData{
		ID:           id,
		Type:         typ,
		CurrentTime:  n.CurrentTime,
		Volume:       n.Volume,
		Muted:        n.Muted,
		PlaybackRate: n.PlaybackRate,
	}))
}

package record

import (
	"encoding/json"
)

// IncrementalSource tags the payload of an incremental snapshot record.
type IncrementalSource int

const (
	SourceMutation         IncrementalSource = 0
	SourceMouseMove        IncrementalSource = 1
	SourceMouseInteraction IncrementalSource = 2
	SourceScroll           IncrementalSource = 3
	SourceViewportResize   IncrementalSource = 4
	SourceInput            IncrementalSource = 5
	SourceTouchMove        IncrementalSource = 6
	SourceMediaInteraction IncrementalSource = 7
	SourceStyleSheetRule   IncrementalSource = 8
	SourceFrustration      IncrementalSource = 9
)

func (s IncrementalSource) String() string {
	switch s {
	case SourceMutation:
		return "mutation"
	case SourceMouseMove:
		return "mouse_move"
	case SourceMouseInteraction:
		return "mouse_interaction"
	case SourceScroll:
		return "scroll"
	case SourceViewportResize:
		return "viewport_resize"
	case SourceInput:
		return "input"
	case SourceTouchMove:
		return "touch_move"
	case SourceMediaInteraction:
		return "media_interaction"
	case SourceStyleSheetRule:
		return "stylesheet_rule"
	case SourceFrustration:
		return "frustration"
	default:
		return "unknown"
	}
}

// IncrementalData is the payload of an incremental snapshot record.
type IncrementalData interface {
	Source() IncrementalSource
}

// MouseInteractionType enumerates pointer interactions.
type MouseInteractionType int

const (
	MouseUp     MouseInteractionType = 0
	MouseDown   MouseInteractionType = 1
	Click       MouseInteractionType = 2
	ContextMenu MouseInteractionType = 3
	DblClick    MouseInteractionType = 4
	Focus       MouseInteractionType = 5
	Blur        MouseInteractionType = 6
	TouchStart  MouseInteractionType = 7
	TouchEnd    MouseInteractionType = 9
)

// MouseInteractionData records a pointer interaction on a node. Focus and
// blur carry no coordinates.
type MouseInteractionData struct {
	Type MouseInteractionType `json:"type"`
	ID   NodeID               `json:"id"`
	X    *int                 `json:"x,omitempty"`
	Y    *int                 `json:"y,omitempty"`
}

func (MouseInteractionData) Source() IncrementalSource { return SourceMouseInteraction }

// MousePosition is one sampled pointer position.
type MousePosition struct {
	X          int    `json:"x"`
	Y          int    `json:"y"`
	ID         NodeID `json:"id"`
	TimeOffset int64  `json:"timeOffset"`
}

// MousePositionData records pointer movement. Touch is true for touch moves.
type MousePositionData struct {
	Positions []MousePosition `json:"positions"`
	Touch     bool            `json:"-"`
}

func (d MousePositionData) Source() IncrementalSource {
	if d.Touch {
		return SourceTouchMove
	}
	return SourceMouseMove
}

// ScrollData records the scroll offset of a document or element.
type ScrollData struct {
	ID NodeID `json:"id"`
	X  int    `json:"x"`
	Y  int    `json:"y"`
}

func (ScrollData) Source() IncrementalSource { return SourceScroll }

// ViewportResizeData records the layout viewport size.
type ViewportResizeData struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (ViewportResizeData) Source() IncrementalSource { return SourceViewportResize }

// InputData records a form control state: Text for value-bearing controls,
// IsChecked for radios and checkboxes.
type InputData struct {
	ID        NodeID  `json:"id"`
	Text      *string `json:"text,omitempty"`
	IsChecked *bool   `json:"isChecked,omitempty"`
}

func (InputData) Source() IncrementalSource { return SourceInput }

// MediaInteractionType enumerates media element state changes.
type MediaInteractionType int

const (
	MediaPlay MediaInteractionType = iota
	MediaPause
	MediaSeeked
	MediaVolumeChange
	MediaRateChange
)

// MediaInteractionData records a media element state change.
type MediaInteractionData struct {
	ID           NodeID               `json:"id"`
	Type         MediaInteractionType `json:"type"`
	CurrentTime  float64              `json:"currentTime"`
	Volume       float64              `json:"volume,omitempty"`
	Muted        bool                 `json:"muted,omitempty"`
	PlaybackRate float64              `json:"playbackRate,omitempty"`
}

func (MediaInteractionData) Source() IncrementalSource { return SourceMediaInteraction }

// RuleIndex addresses a CSS rule: a single index into the top-level rule
// list, or an index path through nested grouping rules.
type RuleIndex []int

// MarshalJSON encodes a single-element path as a bare number.
func (r RuleIndex) MarshalJSON() ([]byte, error) {
	if len(r) == 1 {
		return json.Marshal(r[0])
	}
	return json.Marshal([]int(r))
}

// StyleSheetAdd is one insertRule call.
type StyleSheetAdd struct {
	Rule  string    `json:"rule"`
	Index RuleIndex `json:"index,omitempty"`
}

// StyleSheetRemove is one deleteRule call.
type StyleSheetRemove struct {
	Index RuleIndex `json:"index"`
}

// StyleSheetRuleData records CSSOM edits on the sheet owned by node ID.
type StyleSheetRuleData struct {
	ID      NodeID             `json:"id"`
	Adds    []StyleSheetAdd    `json:"adds,omitempty"`
	Removes []StyleSheetRemove `json:"removes,omitempty"`
}

func (StyleSheetRuleData) Source() IncrementalSource { return SourceStyleSheetRule }

// FrustrationType classifies a frustrating click.
type FrustrationType string

const (
	FrustrationRage  FrustrationType = "rage_click"
	FrustrationDead  FrustrationType = "dead_click"
	FrustrationError FrustrationType = "error_click"
)

// FrustrationData lists the frustration types detected on a click and the
// record ids of the MouseUp interactions it correlates.
type FrustrationData struct {
	Types     []FrustrationType `json:"frustrationTypes"`
	RecordIDs []int64           `json:"recordIds"`
}

func (FrustrationData) Source() IncrementalSource { return SourceFrustration }

// Has reports whether t is among the detected types.
func (d FrustrationData) Has(t FrustrationType) bool {
	for _, x := range d.Types {
		if x == t {
			return true
		}
	}
	return false
}

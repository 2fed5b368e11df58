package pipeline

import (
	"fmt"
	"strings"

	"overdub/internal/services"
)

// Mode selects the transformation applied to a source.
type Mode string

const (
	ModeSubtitle  Mode = "subtitle"
	ModeTranslate Mode = "translate"
	ModeDub       Mode = "dub"
)

// Modes lists the accepted modes in display order.
var Modes = []Mode{ModeSubtitle, ModeTranslate, ModeDub}

// ParseMode parses a mode name. "voice" is accepted as an alias for dub.
func ParseMode(value string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "subtitle", "subtitles":
		return ModeSubtitle, nil
	case "translate", "translation":
		return ModeTranslate, nil
	case "dub", "voice":
		return ModeDub, nil
	}
	return "", services.Wrap(services.ErrValidation, "pipeline", "parse mode",
		fmt.Sprintf("unknown mode %q (want subtitle, translate, or dub)", value), nil)
}

func (m Mode) String() string { return string(m) }

// Valid reports whether m is one of the known modes.
func (m Mode) Valid() bool {
	switch m {
	case ModeSubtitle, ModeTranslate, ModeDub:
		return true
	}
	return false
}

// captions reports whether the mode burns text into frames.
func (m Mode) captions() bool { return m != ModeDub }

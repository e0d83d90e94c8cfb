package rtc

import (
	"errors"
	"fmt"

	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v3"
)

var ErrNoDataSection = errors.New("session description has no application section")

// ValidateDescription rejects descriptions that can't carry a data channel
func ValidateDescription(desc webrtc.SessionDescription) error {
	parsed := &sdp.SessionDescription{}
	if err := parsed.Unmarshal([]byte(desc.SDP)); err != nil {
		return fmt.Errorf("parse %s: %w", desc.Type, err)
	}

	for _, m := range parsed.MediaDescriptions {
		if m.MediaName.Media == "application" {
			return nil
		}
	}

	return ErrNoDataSection
}

package rtc

import "github.com/pion/webrtc/v3"

func brokenDescription() webrtc.SessionDescription {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0\r\n"}
}

func iceStub() webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{Candidate: "candidate:1 1 udp 2130706431 10.0.0.1 5000 typ host"}
}

package rtsp

import (
	"regexp"
	"strconv"

	"github.com/pion/sdp/v3"
)

// SignalInfo is the tuner state reported by DESCRIBE and RTCP APP
// packets. Level and Quality are percentages.
type SignalInfo struct {
	Locked  bool `json:"locked"`
	Level   int  `json:"level"`
	Quality int  `json:"quality"`
}

// tuner=<fe>,<level 0..255>,<lock 0|1>,<quality 0..15>,...
var signalPattern = regexp.MustCompile(`(?is);tuner=\d+,(\d+),(\d+),(\d+),`)

// ParseSignal extracts the signal triple from a SAT>IP status string.
func ParseSignal(s string) (SignalInfo, bool) {
	m := signalPattern.FindStringSubmatch(s)
	if m == nil {
		return SignalInfo{}, false
	}
	level, _ := strconv.Atoi(m[1])
	quality, _ := strconv.Atoi(m[3])
	return SignalInfo{
		Locked:  m[2] == "1",
		Level:   min(level, 255) * 100 / 255,
		Quality: min(quality, 15) * 100 / 15,
	}, true
}

// signalFromDescribe reads the signal from the fmtp attribute of the SDP
// body. Servers that emit slightly malformed SDP are handled by matching
// the raw body.
func signalFromDescribe(body []byte) SignalInfo {
	var sd sdp.SessionDescription
	if err := sd.Unmarshal(body); err == nil {
		for _, md := range sd.MediaDescriptions {
			if fmtp, ok := md.Attribute("fmtp"); ok {
				if info, ok := ParseSignal(";" + fmtp); ok {
					return info
				}
			}
		}
	}
	info, _ := ParseSignal(string(body))
	return info
}

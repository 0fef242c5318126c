// Package media receives the tuner's media channels: the RTP data socket
// carrying the transport stream and the RTCP control socket carrying
// signal reports and end-of-session notices.
package media

// PayloadTypeMP2T is the static RTP payload type for MPEG-2 transport
// streams (RFC 3551).
const PayloadTypeMP2T = 33

// Frame is one RTP datagram from the data channel. Payload is a view into
// Raw, which holds the whole datagram including the 12-byte RTP header.
type Frame struct {
	SequenceNumber uint16
	Timestamp      uint32
	SSRC           uint32
	PayloadType    uint8
	Marker         bool
	Payload        []byte
	Raw            []byte
}

package scan

import (
	"slices"

	"github.com/zsiec/satscan/internal/mpegts"
)

// Channel is one discovered service, merged from the tuning entry and the
// SDT, PMT and NIT of its transport stream.
type Channel struct {
	Frequency    float64 `json:"frequency"` // MHz
	Polarization string  `json:"polarization,omitempty"`
	SymbolRate   int     `json:"symbolRate,omitempty"`
	System       string  `json:"system,omitempty"`

	ServiceID        uint16 `json:"serviceId"`
	ServiceName      string `json:"serviceName"`
	ServiceProvider  string `json:"serviceProvider"`
	ServiceType      uint8  `json:"serviceType"`
	RunningStatus    string `json:"runningStatus"`
	Scrambled        bool   `json:"scrambled"`
	Schedule         bool   `json:"schedule"`
	PresentFollowing bool   `json:"presentFollowing"`

	TransportStreamID    uint16 `json:"transportStreamId"`
	OriginalNetworkID    uint16 `json:"originalNetworkId"`
	NetworkName          string `json:"networkName,omitempty"`
	LogicalChannelNumber uint16 `json:"lcn,omitempty"`

	PMTPID      uint16   `json:"pmtPid,omitempty"`
	PCRPID      uint16   `json:"pcrPid,omitempty"`
	VideoPID    uint16   `json:"videoPid,omitempty"`
	AudioPIDs   []uint16 `json:"audioPids,omitempty"`
	TeletextPID uint16   `json:"teletextPid,omitempty"`
	SubtitlePID uint16   `json:"subtitlePid,omitempty"`
}

// BuildChannels returns one Channel per SDT service, in ascending service
// id order. PMT and NIT context is merged when present; a nil entry leaves
// the tuning fields empty so recorded streams can be reported the same
// way. Without an SDT there are no channels.
func BuildChannels(entry *TuningParameters, t *mpegts.Tables) []Channel {
	if t == nil || t.SDT == nil {
		return nil
	}
	sdt := t.SDT

	var ts *mpegts.TransportStream
	var networkName string
	if t.NIT != nil {
		ts = t.NIT.Transport(sdt.TransportStreamID)
		networkName = t.NIT.NetworkName
	}

	ids := make([]uint16, 0, len(sdt.Services))
	for id := range sdt.Services {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	out := make([]Channel, 0, len(ids))
	for _, id := range ids {
		svc := sdt.Services[id]
		ch := Channel{
			ServiceID:         svc.ID,
			ServiceName:       svc.Name,
			ServiceProvider:   svc.Provider,
			ServiceType:       svc.Type,
			RunningStatus:     svc.RunningStatus.String(),
			Scrambled:         svc.Scrambled,
			Schedule:          svc.Schedule,
			PresentFollowing:  svc.PresentFollowing,
			TransportStreamID: sdt.TransportStreamID,
			OriginalNetworkID: sdt.OriginalNetworkID,
			NetworkName:       networkName,
		}
		if entry != nil {
			ch.Frequency = entry.Frequency
			ch.Polarization = entry.Polarization
			ch.SymbolRate = entry.SymbolRate
			ch.System = entry.System.String()
		}
		if ts != nil {
			if d := ts.Delivery; d != nil && d.FrequencyKHz != 0 {
				ch.Frequency = float64(d.FrequencyKHz) / 1000
				if ch.Polarization == "" {
					ch.Polarization = d.Polarization
				}
				if ch.SymbolRate == 0 {
					ch.SymbolRate = int(d.SymbolRateKSym)
				}
			}
			ch.LogicalChannelNumber = ts.LCN[id]
		}
		if t.PAT != nil {
			ch.PMTPID = t.PAT.Programs[id]
		}
		if pmt := t.PMTs[id]; pmt != nil {
			ch.PCRPID = pmt.PCRPID
			ch.VideoPID = pmt.Video
			ch.AudioPIDs = slices.Clone(pmt.Audio)
			ch.TeletextPID = pmt.Teletext
			ch.SubtitlePID = pmt.Subtitle
		}
		out = append(out, ch)
	}
	return out
}

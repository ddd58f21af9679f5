// Package sdp converts client SDP into media descriptions and back, on top of pion/sdp.
package sdp

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/dkeye/voicemesh/internal/core"
	"github.com/dkeye/voicemesh/internal/domain"
	psdp "github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v4"
)

var (
	ErrNoMedia       = errors.New("sdp has no media section")
	ErrNoFingerprint = errors.New("sdp has no dtls fingerprint")
	ErrNoCodecs      = errors.New("sdp offers no codecs")
)

const profile = "UDP/TLS/RTP/SAVPF"

// Codec implements core.SDPCodec.
type Codec struct{}

var _ core.SDPCodec = Codec{}

func parse(raw string) (*psdp.SessionDescription, error) {
	var sd psdp.SessionDescription
	if err := sd.Unmarshal([]byte(raw)); err != nil {
		return nil, fmt.Errorf("failed to parse sdp: %w", err)
	}
	if len(sd.MediaDescriptions) == 0 {
		return nil, ErrNoMedia
	}
	return &sd, nil
}

// attribute looks a key up on the media section first, then on the session.
func attribute(sd *psdp.SessionDescription, md *psdp.MediaDescription, key string) (string, bool) {
	if v, ok := md.Attribute(key); ok {
		return v, true
	}
	return sd.Attribute(key)
}

func dtls(sd *psdp.SessionDescription, md *psdp.MediaDescription) (webrtc.DTLSParameters, error) {
	fp, ok := attribute(sd, md, "fingerprint")
	if !ok {
		return webrtc.DTLSParameters{}, ErrNoFingerprint
	}
	parts := strings.Fields(fp)
	if len(parts) != 2 {
		return webrtc.DTLSParameters{}, fmt.Errorf("%w: malformed %q", ErrNoFingerprint, fp)
	}
	role := webrtc.DTLSRoleAuto
	if setup, ok := attribute(sd, md, "setup"); ok {
		switch setup {
		case "active":
			role = webrtc.DTLSRoleClient
		case "passive":
			role = webrtc.DTLSRoleServer
		}
	}
	return webrtc.DTLSParameters{
		Role:         role,
		Fingerprints: []webrtc.DTLSFingerprint{{Algorithm: parts[0], Value: parts[1]}},
	}, nil
}

func (Codec) ParseOffer(raw string) (core.ProducerOffer, error) {
	sd, err := parse(raw)
	if err != nil {
		return core.ProducerOffer{}, err
	}
	md := sd.MediaDescriptions[0]
	kind := md.MediaName.Media

	d, err := dtls(sd, md)
	if err != nil {
		return core.ProducerOffer{}, err
	}

	var params webrtc.RTPParameters
	for _, f := range md.MediaName.Formats {
		pt, err := strconv.ParseUint(f, 10, 8)
		if err != nil {
			continue
		}
		c, err := sd.GetCodecForPayloadType(uint8(pt))
		if err != nil {
			continue
		}
		params.Codecs = append(params.Codecs, codecParameters(kind, c))
	}
	if len(params.Codecs) == 0 {
		return core.ProducerOffer{}, ErrNoCodecs
	}
	for _, a := range md.Attributes {
		if a.Key != "extmap" {
			continue
		}
		fields := strings.Fields(a.Value)
		if len(fields) < 2 {
			continue
		}
		id, err := strconv.Atoi(strings.SplitN(fields[0], "/", 2)[0])
		if err != nil {
			continue
		}
		params.HeaderExtensions = append(params.HeaderExtensions, webrtc.RTPHeaderExtensionParameter{URI: fields[1], ID: id})
	}

	_, inactive := md.Attribute("inactive")
	_, recvonly := md.Attribute("recvonly")
	return core.ProducerOffer{
		Kind:       kind,
		Parameters: params,
		DTLS:       d,
		Paused:     inactive || recvonly,
	}, nil
}

func codecParameters(kind string, c psdp.Codec) webrtc.RTPCodecParameters {
	var channels uint16
	if c.EncodingParameters != "" {
		if n, err := strconv.ParseUint(c.EncodingParameters, 10, 16); err == nil {
			channels = uint16(n)
		}
	}
	var fb []webrtc.RTCPFeedback
	for _, f := range c.RTCPFeedback {
		parts := strings.SplitN(f, " ", 2)
		item := webrtc.RTCPFeedback{Type: parts[0]}
		if len(parts) == 2 {
			item.Parameter = parts[1]
		}
		fb = append(fb, item)
	}
	return webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:     kind + "/" + c.Name,
			ClockRate:    c.ClockRate,
			Channels:     channels,
			SDPFmtpLine:  c.Fmtp,
			RTCPFeedback: fb,
		},
		PayloadType: webrtc.PayloadType(c.PayloadType),
	}
}

func (Codec) ParseAnswer(raw string) (core.ConsumerAnswer, error) {
	sd, err := parse(raw)
	if err != nil {
		return core.ConsumerAnswer{}, err
	}
	d, err := dtls(sd, sd.MediaDescriptions[0])
	if err != nil {
		return core.ConsumerAnswer{}, err
	}
	return core.ConsumerAnswer{DTLS: d}, nil
}

func session(t domain.TransportInfo) (*psdp.SessionDescription, error) {
	sd, err := psdp.NewJSEPSessionDescription(false)
	if err != nil {
		return nil, fmt.Errorf("failed to create sdp: %w", err)
	}
	sd.WithPropertyAttribute("ice-lite")
	for _, fp := range t.DTLSParameters.Fingerprints {
		sd.WithFingerprint(fp.Algorithm, fp.Value)
	}
	return sd, nil
}

func section(t domain.TransportInfo, kind, mid, setup, direction string, codecs []webrtc.RTPCodecParameters) *psdp.MediaDescription {
	md := &psdp.MediaDescription{
		MediaName: psdp.MediaName{
			Media:  kind,
			Port:   psdp.RangedPort{Value: 9},
			Protos: strings.Split(profile, "/"),
		},
		ConnectionInformation: &psdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: "IP4",
			Address:     &psdp.Address{Address: "0.0.0.0"},
		},
	}
	md.WithValueAttribute("mid", mid).
		WithICECredentials(t.ICEParameters.UsernameFragment, t.ICEParameters.Password).
		WithValueAttribute("setup", setup).
		WithPropertyAttribute(direction).
		WithPropertyAttribute("rtcp-mux")
	for _, c := range codecs {
		name := c.MimeType
		if i := strings.IndexByte(name, '/'); i >= 0 {
			name = name[i+1:]
		}
		md.WithCodec(uint8(c.PayloadType), name, c.ClockRate, c.Channels, c.SDPFmtpLine)
	}
	for _, c := range t.ICECandidates {
		md.WithCandidate(fmt.Sprintf("%s 1 %s %d %s %d typ %s", c.Foundation, c.Protocol, c.Priority, c.IP, c.Port, c.Type))
	}
	md.WithPropertyAttribute("end-of-candidates")
	return md
}

// Answer accepts a producer offer on the server transport. The server
// receives only.
func (Codec) Answer(t domain.TransportInfo, offer core.ProducerOffer) (string, error) {
	sd, err := session(t)
	if err != nil {
		return "", err
	}
	setup := "passive"
	if offer.DTLS.Role == webrtc.DTLSRoleServer {
		setup = "active"
	}
	sd.WithValueAttribute("group", "BUNDLE 0")
	sd.WithMedia(section(t, offer.Kind, "0", setup, "recvonly", offer.Parameters.Codecs))
	b, err := sd.Marshal()
	if err != nil {
		return "", fmt.Errorf("failed to marshal answer: %w", err)
	}
	return string(b), nil
}

// Offer describes one sendonly section per consumer edge.
func (Codec) Offer(t domain.TransportInfo, edges []domain.ConsumerEdge) (string, error) {
	if len(edges) == 0 {
		return "", ErrNoMedia
	}
	sd, err := session(t)
	if err != nil {
		return "", err
	}
	mids := make([]string, len(edges))
	for i := range edges {
		mids[i] = strconv.Itoa(i)
	}
	sd.WithValueAttribute("group", "BUNDLE "+strings.Join(mids, " "))
	for i, e := range edges {
		md := section(t, e.Kind, mids[i], "actpass", "sendonly", e.Parameters.Codecs)
		md.WithValueAttribute("msid", string(e.Pid)+" "+e.ConsumerID)
		sd.WithMedia(md)
	}
	b, err := sd.Marshal()
	if err != nil {
		return "", fmt.Errorf("failed to marshal offer: %w", err)
	}
	return string(b), nil
}

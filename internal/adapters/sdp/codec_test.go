package sdp

import (
	"strings"
	"testing"

	"github.com/dkeye/voicemesh/internal/core"
	"github.com/dkeye/voicemesh/internal/domain"
	psdp "github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func browserOffer(direction string) string {
	lines := []string{
		"v=0",
		"o=- 4611731400430051336 2 IN IP4 127.0.0.1",
		"s=-",
		"t=0 0",
		"a=group:BUNDLE 0",
		"m=audio 9 UDP/TLS/RTP/SAVPF 111 0",
		"c=IN IP4 0.0.0.0",
		"a=ice-ufrag:abcd",
		"a=ice-pwd:aaaaaaaaaaaaaaaaaaaaaaaa",
		"a=fingerprint:sha-256 AA:BB:CC:DD",
		"a=setup:actpass",
		"a=mid:0",
		"a=extmap:1 urn:ietf:params:rtp-hdrext:ssrc-audio-level",
		"a=" + direction,
		"a=rtcp-mux",
		"a=rtpmap:111 opus/48000/2",
		"a=rtcp-fb:111 transport-cc",
		"a=fmtp:111 minptime=10;useinbandfec=1",
		"a=rtpmap:0 PCMU/8000",
	}
	return strings.Join(lines, "\r\n") + "\r\n"
}

func transport() domain.TransportInfo {
	return domain.TransportInfo{
		ID:            "t1",
		ICEParameters: webrtc.ICEParameters{UsernameFragment: "srvufrag", Password: "srvpassword", ICELite: true},
		ICECandidates: []domain.IceCandidate{{
			Foundation: "udpcandidate", Priority: 1076302079, IP: "127.0.0.1", Protocol: "udp", Port: 40000, Type: "host",
		}},
		DTLSParameters: webrtc.DTLSParameters{
			Role:         webrtc.DTLSRoleAuto,
			Fingerprints: []webrtc.DTLSFingerprint{{Algorithm: "sha-256", Value: "11:22:33:44"}},
		},
	}
}

func TestParseOffer(t *testing.T) {
	offer, err := Codec{}.ParseOffer(browserOffer("sendonly"))
	require.NoError(t, err)

	assert.Equal(t, "audio", offer.Kind)
	assert.False(t, offer.Paused)
	require.Len(t, offer.Parameters.Codecs, 2)
	opus := offer.Parameters.Codecs[0]
	assert.Equal(t, webrtc.PayloadType(111), opus.PayloadType)
	assert.Equal(t, "audio/opus", opus.MimeType)
	assert.Equal(t, uint32(48000), opus.ClockRate)
	assert.Equal(t, uint16(2), opus.Channels)
	assert.Equal(t, "minptime=10;useinbandfec=1", opus.SDPFmtpLine)
	assert.Equal(t, []webrtc.RTCPFeedback{{Type: "transport-cc"}}, opus.RTCPFeedback)
	assert.Equal(t, "audio/PCMU", offer.Parameters.Codecs[1].MimeType)
	assert.Equal(t, []webrtc.RTPHeaderExtensionParameter{{URI: "urn:ietf:params:rtp-hdrext:ssrc-audio-level", ID: 1}}, offer.Parameters.HeaderExtensions)

	assert.Equal(t, webrtc.DTLSRoleAuto, offer.DTLS.Role)
	assert.Equal(t, []webrtc.DTLSFingerprint{{Algorithm: "sha-256", Value: "AA:BB:CC:DD"}}, offer.DTLS.Fingerprints)
}

func TestParseOfferPaused(t *testing.T) {
	for _, dir := range []string{"recvonly", "inactive"} {
		offer, err := Codec{}.ParseOffer(browserOffer(dir))
		require.NoError(t, err)
		assert.True(t, offer.Paused, dir)
	}
}

func TestParseRejectsMalformed(t *testing.T) {
	_, err := Codec{}.ParseOffer("not an sdp")
	assert.Error(t, err)

	noFingerprint := strings.Replace(browserOffer("sendonly"), "a=fingerprint:sha-256 AA:BB:CC:DD\r\n", "", 1)
	_, err = Codec{}.ParseOffer(noFingerprint)
	assert.ErrorIs(t, err, ErrNoFingerprint)

	_, err = Codec{}.ParseAnswer(noFingerprint)
	assert.ErrorIs(t, err, ErrNoFingerprint)
}

func TestAnswerRoundTrip(t *testing.T) {
	c := Codec{}
	offer, err := c.ParseOffer(browserOffer("sendonly"))
	require.NoError(t, err)

	raw, err := c.Answer(transport(), offer)
	require.NoError(t, err)

	var sd psdp.SessionDescription
	require.NoError(t, sd.Unmarshal([]byte(raw)))
	require.Len(t, sd.MediaDescriptions, 1)
	md := sd.MediaDescriptions[0]
	assert.Equal(t, "audio", md.MediaName.Media)
	assert.Equal(t, []string{"111", "0"}, md.MediaName.Formats)
	_, recvonly := md.Attribute("recvonly")
	assert.True(t, recvonly)
	ufrag, _ := md.Attribute("ice-ufrag")
	assert.Equal(t, "srvufrag", ufrag)
	cand, _ := md.Attribute("candidate")
	assert.Equal(t, "udpcandidate 1 udp 1076302079 127.0.0.1 40000 typ host", cand)

	answer, err := c.ParseAnswer(raw)
	require.NoError(t, err)
	assert.Equal(t, webrtc.DTLSRoleServer, answer.DTLS.Role, "server answers passive to actpass")
	assert.Equal(t, "11:22:33:44", answer.DTLS.Fingerprints[0].Value)
}

func TestOfferCarriesEveryEdge(t *testing.T) {
	params := webrtc.RTPParameters{Codecs: []webrtc.RTPCodecParameters{{
		RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		PayloadType:        100,
	}}}
	edges := []domain.ConsumerEdge{
		{ConsumerID: "c1", Pid: "alice", ProducerID: "p1", Kind: "audio", Parameters: params},
		{ConsumerID: "c2", Pid: "bob", ProducerID: "p2", Kind: "audio", Parameters: params},
	}
	raw, err := Codec{}.Offer(transport(), edges)
	require.NoError(t, err)

	var sd psdp.SessionDescription
	require.NoError(t, sd.Unmarshal([]byte(raw)))
	require.Len(t, sd.MediaDescriptions, 2)
	group, _ := sd.Attribute("group")
	assert.Equal(t, "BUNDLE 0 1", group)
	msid, _ := sd.MediaDescriptions[1].Attribute("msid")
	assert.Equal(t, "bob c2", msid)
	_, sendonly := sd.MediaDescriptions[0].Attribute("sendonly")
	assert.True(t, sendonly)

	_, err = Codec{}.Offer(transport(), nil)
	assert.ErrorIs(t, err, ErrNoMedia)
}

func TestCodecSatisfiesPort(t *testing.T) {
	var _ core.SDPCodec = Codec{}
}

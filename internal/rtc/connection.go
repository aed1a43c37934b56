package rtc

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/rtcp"
	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v4"

	"github.com/rviscarra/vidcap/internal/observe"
)

// PreviewPeerConn is a webrtc.PeerConnection wrapper that implements the
// PreviewConnection interface
type PreviewPeerConn struct {
	stunServer string
	hub        *Hub
	metrics    *observe.Metrics
	log        *slog.Logger

	connection *webrtc.PeerConnection
	streamer   videoStreamer

	closeOnce sync.Once
	closeErr  error
}

const h264SupportedProfile = "42e01f"

func findBestCodec(desc *sdp.SessionDescription, profile string) (webrtc.RTPCodecParameters, error) {
	for _, md := range desc.MediaDescriptions {
		if md.MediaName.Media != "video" {
			continue
		}
		for _, format := range md.MediaName.Formats {
			pt, err := strconv.Atoi(format)
			if err != nil {
				continue
			}
			codec, err := desc.GetCodecForPayloadType(uint8(pt))
			if err != nil || !strings.EqualFold(codec.Name, "H264") {
				continue
			}
			packetSupport := strings.Contains(codec.Fmtp, "packetization-mode=1")
			supportsProfile := strings.Contains(codec.Fmtp, "profile-level-id="+profile)
			if packetSupport && supportsProfile {
				return webrtc.RTPCodecParameters{
					RTPCodecCapability: webrtc.RTPCodecCapability{
						MimeType:    webrtc.MimeTypeH264,
						ClockRate:   codec.ClockRate,
						SDPFmtpLine: codec.Fmtp,
					},
					PayloadType: webrtc.PayloadType(pt),
				}, nil
			}
		}
	}
	return webrtc.RTPCodecParameters{}, ErrNoCodec
}

func getTrackDirection(desc *sdp.SessionDescription) webrtc.RTPTransceiverDirection {
	for _, mediaDesc := range desc.MediaDescriptions {
		if mediaDesc.MediaName.Media == "video" {
			if _, recvOnly := mediaDesc.Attribute("recvonly"); recvOnly {
				return webrtc.RTPTransceiverDirectionRecvonly
			} else if _, sendRecv := mediaDesc.Attribute("sendrecv"); sendRecv {
				return webrtc.RTPTransceiverDirectionSendrecv
			}
		}
	}
	return webrtc.RTPTransceiverDirectionInactive
}

// ProcessOffer handles the SDP offer coming from the client,
// return the SDP answer that must be passed back to stablish the WebRTC
// connection.
func (p *PreviewPeerConn) ProcessOffer(strOffer string) (string, error) {
	desc := sdp.SessionDescription{}
	if err := desc.UnmarshalString(strOffer); err != nil {
		return "", fmt.Errorf("rtc: parse offer: %w", err)
	}
	codec, err := findBestCodec(&desc, h264SupportedProfile)
	if err != nil {
		return "", err
	}
	direction := getTrackDirection(&desc)
	if direction != webrtc.RTPTransceiverDirectionSendrecv && direction != webrtc.RTPTransceiverDirectionRecvonly {
		return "", fmt.Errorf("rtc: unsupported transceiver direction %s", direction)
	}

	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterCodec(codec, webrtc.RTPCodecTypeVideo); err != nil {
		return "", fmt.Errorf("rtc: register codec: %w", err)
	}
	api := webrtc.NewAPI(webrtc.WithMediaEngine(mediaEngine))
	peerConn, err := api.NewPeerConnection(webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{URLs: []string{p.stunServer}},
		},
		SDPSemantics: webrtc.SDPSemanticsUnifiedPlan,
	})
	if err != nil {
		return "", fmt.Errorf("rtc: new peer connection: %w", err)
	}
	p.connection = peerConn

	answer, err := p.negotiate(peerConn, codec, direction, strOffer)
	if err != nil {
		peerConn.Close()
		return "", err
	}
	return answer, nil
}

func (p *PreviewPeerConn) negotiate(peerConn *webrtc.PeerConnection, codec webrtc.RTPCodecParameters, direction webrtc.RTPTransceiverDirection, offer string) (string, error) {
	track, err := webrtc.NewTrackLocalStaticSample(codec.RTPCodecCapability, "video", "vidcap-"+uuid.NewString())
	if err != nil {
		return "", fmt.Errorf("rtc: new track: %w", err)
	}

	var sender *webrtc.RTPSender
	if direction == webrtc.RTPTransceiverDirectionSendrecv {
		sender, err = peerConn.AddTrack(track)
	} else {
		var tr *webrtc.RTPTransceiver
		tr, err = peerConn.AddTransceiverFromTrack(track, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionSendonly,
		})
		if err == nil {
			sender = tr.Sender()
		}
	}
	if err != nil {
		return "", fmt.Errorf("rtc: add track: %w", err)
	}
	p.log.Debug("preview codec selected", "payload_type", codec.PayloadType, "fmtp", codec.SDPFmtpLine)

	p.streamer = newRTCStreamer(track, p.hub, p.log)
	go p.readFeedback(sender)

	peerConn.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		p.log.Info("preview connection state", "state", state.String())
		switch state {
		case webrtc.PeerConnectionStateConnected:
			p.streamer.start()
		case webrtc.PeerConnectionStateDisconnected, webrtc.PeerConnectionStateFailed:
			p.Close()
		}
	})

	if err := peerConn.SetRemoteDescription(webrtc.SessionDescription{
		SDP:  offer,
		Type: webrtc.SDPTypeOffer,
	}); err != nil {
		return "", fmt.Errorf("rtc: set remote description: %w", err)
	}
	answer, err := peerConn.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("rtc: create answer: %w", err)
	}
	gathered := webrtc.GatheringCompletePromise(peerConn)
	if err := peerConn.SetLocalDescription(answer); err != nil {
		return "", fmt.Errorf("rtc: set local description: %w", err)
	}
	<-gathered
	return peerConn.LocalDescription().SDP, nil
}

// readFeedback drains RTCP from the peer until the sender is closed.
func (p *PreviewPeerConn) readFeedback(sender *webrtc.RTPSender) {
	ctx := context.Background()
	for {
		packets, _, err := sender.ReadRTCP()
		if err != nil {
			return
		}
		for _, pkt := range packets {
			kind := feedbackType(pkt)
			p.metrics.RecordFeedback(ctx, kind)
			if kind == "pli" || kind == "fir" {
				p.log.Debug("preview peer requested a key frame", "type", kind)
			}
		}
	}
}

func feedbackType(pkt rtcp.Packet) string {
	switch pkt.(type) {
	case *rtcp.PictureLossIndication:
		return "pli"
	case *rtcp.FullIntraRequest:
		return "fir"
	case *rtcp.TransportLayerNack:
		return "nack"
	case *rtcp.ReceiverReport:
		return "receiver_report"
	case *rtcp.ReceiverEstimatedMaximumBitrate:
		return "remb"
	}
	return "other"
}

// Close stops the video streamer and closes the WebRTC peer connection
func (p *PreviewPeerConn) Close() error {
	p.closeOnce.Do(func() {
		if p.streamer != nil {
			p.streamer.close()
		}
		if p.connection != nil {
			p.closeErr = p.connection.Close()
		}
	})
	return p.closeErr
}

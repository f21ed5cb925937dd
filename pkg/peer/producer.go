package peer

import (
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"github.com/dank074/mediasoup-spacebar-wrtc/pkg/media"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"github.com/sirupsen/logrus"
)

// Producer is a stream the client sends to the SFU. Packets of the remote track are fanned out to
// every consumer bound to the producer.
type Producer struct {
	id         string
	kind       media.Kind
	ssrc       webrtc.SSRC
	parameters media.RTPParameters
	appData    map[string]string

	transport *Transport
	logger    *logrus.Entry

	mu        sync.Mutex
	consumers map[string]*Consumer
	track     *webrtc.TrackRemote
	closed    atomic.Bool
}

func (p *Producer) ID() string {
	return p.id
}

func (p *Producer) Kind() media.Kind {
	return p.kind
}

func (p *Producer) SSRC() webrtc.SSRC {
	return p.ssrc
}

func (p *Producer) RTPParameters() media.RTPParameters {
	return p.parameters
}

// Participant the producer belongs to, as provided in its app data.
func (p *Producer) UserID() string {
	return p.appData["user_id"]
}

// Codec the producer sends with, i.e. the codec of its encoding.
func (p *Producer) codec() (media.CodecParameters, bool) {
	for _, encoding := range p.parameters.Encodings {
		for _, codec := range p.parameters.Codecs {
			if codec.PayloadType == encoding.CodecPayloadType {
				return codec, true
			}
		}
	}

	return media.CodecParameters{}, false
}

// Close the producer along with the consumers that are still bound to it. Idempotent.
func (p *Producer) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}

	p.transport.router.unregister(p)
	p.transport.forgetProducer(p)

	p.mu.Lock()
	consumers := make([]*Consumer, 0, len(p.consumers))
	for _, consumer := range p.consumers {
		consumers = append(consumers, consumer)
	}
	p.mu.Unlock()

	for _, consumer := range consumers {
		_ = consumer.Close()
	}

	p.logger.Info("producer closed")
	return nil
}

// Requests a key frame from the client, errors are not fatal since the next request may succeed.
func (p *Producer) RequestKeyFrame() {
	if p.closed.Load() || p.kind != media.KindVideo {
		return
	}

	p.mu.Lock()
	track := p.track
	p.mu.Unlock()

	if track == nil {
		return
	}

	err := p.transport.peerConnection.WriteRTCP([]rtcp.Packet{
		&rtcp.PictureLossIndication{MediaSSRC: uint32(track.SSRC())},
	})
	if err != nil {
		p.logger.WithError(err).Debug("failed to request key frame")
	}
}

func (p *Producer) addConsumer(consumer *Consumer) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed.Load() {
		return false
	}

	p.consumers[consumer.id] = consumer
	return true
}

func (p *Producer) removeConsumer(consumer *Consumer) {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.consumers, consumer.id)
}

// Attaches the remote track carrying the producer's stream and starts forwarding it.
func (p *Producer) attach(track *webrtc.TrackRemote) {
	p.mu.Lock()
	if p.track != nil {
		p.mu.Unlock()
		return
	}
	p.track = track
	p.mu.Unlock()

	p.logger.WithField("track_id", track.ID()).Info("remote track attached")
	go p.forward(track)
}

func (p *Producer) forward(track *webrtc.TrackRemote) {
	for {
		packet, _, err := track.ReadRTP()
		if err != nil {
			if errors.Is(err, io.EOF) {
				p.logger.Info("remote track closed")
			} else if !p.closed.Load() {
				p.logger.WithError(err).Warn("failed to read from remote track")
			}
			return
		}

		if p.closed.Load() {
			return
		}

		p.fanOut(packet)
	}
}

func (p *Producer) fanOut(packet *rtp.Packet) {
	p.mu.Lock()
	consumers := make([]*Consumer, 0, len(p.consumers))
	for _, consumer := range p.consumers {
		consumers = append(consumers, consumer)
	}
	p.mu.Unlock()

	for _, consumer := range consumers {
		// Each consumer track rewrites the header, so every consumer gets its own copy.
		consumer.writeRTP(packet.Clone())
	}
}

package peer

import (
	"context"
	"errors"
	"io"
	"sync/atomic"

	"github.com/dank074/mediasoup-spacebar-wrtc/pkg/media"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"github.com/sirupsen/logrus"
)

// Consumer forwards the packets of a producer to a local track of the subscriber's peer connection.
type Consumer struct {
	id         string
	producer   *Producer
	transport  *Transport
	track      *webrtc.TrackLocalStaticRTP
	sender     *webrtc.RTPSender
	parameters media.RTPParameters
	appData    map[string]string
	logger     *logrus.Entry

	paused atomic.Bool
	closed atomic.Bool
}

func (c *Consumer) ID() string {
	return c.id
}

func (c *Consumer) ProducerID() string {
	return c.producer.id
}

func (c *Consumer) Kind() media.Kind {
	return c.producer.kind
}

func (c *Consumer) RTPParameters() media.RTPParameters {
	return c.parameters
}

func (c *Consumer) Paused() bool {
	return c.paused.Load()
}

// Resume the consumer and ask the producer for a key frame so that the subscriber can start decoding.
func (c *Consumer) Resume(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if c.closed.Load() {
		return media.ErrClosed
	}

	if c.paused.CompareAndSwap(true, false) {
		c.logger.Debug("consumer resumed")
		c.producer.RequestKeyFrame()
	}

	return nil
}

// Close the consumer and remove its track from the subscriber's peer connection. Idempotent.
func (c *Consumer) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	c.producer.removeConsumer(c)
	c.transport.removeConsumer(c)

	c.logger.Info("consumer closed")
	return nil
}

func (c *Consumer) writeRTP(packet *rtp.Packet) {
	if c.paused.Load() || c.closed.Load() {
		return
	}

	if err := c.track.WriteRTP(packet); err != nil && !errors.Is(err, io.ErrClosedPipe) {
		c.logger.WithError(err).Debug("failed to write RTP")
	}
}

// Reads RTCP of the sender (processed by the interceptors) and relays key frame requests to the producer.
func (c *Consumer) readRTCP() {
	for {
		packets, _, err := c.sender.ReadRTCP()
		if err != nil {
			if !errors.Is(err, io.ErrClosedPipe) && !errors.Is(err, io.EOF) {
				c.logger.WithError(err).Debug("failed to read RTCP")
			}
			return
		}

		for _, packet := range packets {
			switch packet.(type) {
			case *rtcp.PictureLossIndication, *rtcp.FullIntraRequest:
				if !c.paused.Load() {
					c.producer.RequestKeyFrame()
				}
			}
		}
	}
}

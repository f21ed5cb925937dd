package webrtc_ext

import (
	"fmt"

	"github.com/dank074/mediasoup-spacebar-wrtc/pkg/codec"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v3"
)

// Creates Pion's WebRTC API that knows exactly the codecs of the catalog and the allowed header extensions.
func CreateWebRTCAPI(config Config, catalog codec.Catalog, headerExtensions []string) (*webrtc.API, error) {
	mediaEngine := &webrtc.MediaEngine{}
	for _, capability := range catalog.Capabilities() {
		if err := mediaEngine.RegisterCodec(webrtc.RTPCodecParameters{
			RTPCodecCapability: capability.RTPCodecCapability(),
			PayloadType:        capability.PreferredPayloadType,
		}, capability.Kind.CodecType()); err != nil {
			return nil, fmt.Errorf("failed to register codec %s: %w", capability.MimeType, err)
		}
	}

	for _, uri := range headerExtensions {
		for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
			if err := mediaEngine.RegisterHeaderExtension(webrtc.RTPHeaderExtensionCapability{URI: uri}, kind); err != nil {
				return nil, fmt.Errorf("failed to register header extension %s: %w", uri, err)
			}
		}
	}

	// Default interceptors provide NACKs, RTCP reports and TWCC feedback.
	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, registry); err != nil {
		return nil, fmt.Errorf("failed to set default interceptors: %w", err)
	}

	settingEngine := webrtc.SettingEngine{}
	if len(config.PublicIPs) > 0 {
		settingEngine.SetNAT1To1IPs(config.PublicIPs, webrtc.ICECandidateTypeHost)
	}

	if config.PortMin != 0 || config.PortMax != 0 {
		if err := settingEngine.SetEphemeralUDPPortRange(config.PortMin, config.PortMax); err != nil {
			return nil, fmt.Errorf("invalid port range: %w", err)
		}
	}

	return webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(registry),
		webrtc.WithSettingEngine(settingEngine),
	), nil
}

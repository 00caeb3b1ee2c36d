package sfu

import "testing"

func TestRouterRtpCapabilitiesAdvertisesSingleOpusCodec(t *testing.T) {
	r, err := NewRouter(Config{RTCMinPort: 20000, RTCMaxPort: 20010})
	if err != nil {
		t.Fatalf("new router: %v", err)
	}

	caps := r.RtpCapabilities()
	if len(caps.Codecs) != 1 {
		t.Fatalf("expected exactly one codec, got %d", len(caps.Codecs))
	}
	codec := caps.Codecs[0]
	if codec.PayloadType != OpusPayloadType || codec.ClockRate != OpusClockRate || codec.Channels != OpusChannels {
		t.Fatalf("unexpected codec parameters: %+v", codec)
	}
}

func TestNewRouterRejectsInvertedPortRange(t *testing.T) {
	if _, err := NewRouter(Config{RTCMinPort: 30000, RTCMaxPort: 20000}); err == nil {
		t.Fatal("expected error for inverted port range")
	}
}

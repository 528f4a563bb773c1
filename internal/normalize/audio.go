package normalize

import (
	"encoding/binary"
	"fmt"
	"math"
	"mime"
	"strconv"
	"strings"

	"google.golang.org/genai"

	"github.com/exbuilderia/studio/server/domain"
)

const (
	// SpeechSampleRate is the rate of synthesized speech when the payload does not say otherwise
	SpeechSampleRate = 24000
	SpeechChannels   = 1

	opAudio        = "normalize.audio"
	wavHeaderSize  = 44
	bitsPerSample  = 16
	bytesPerSample = bitsPerSample / 8
)

// Audio is a WAVE container ready for playback or download
type Audio struct {
	WAV        []byte
	SampleRate int
	Channels   int
	Frames     int
}

// SynthesizedAudio extracts the inline PCM payload of a speech response and
// packages it as WAVE
func SynthesizedAudio(resp *genai.GenerateContentResponse, voice string) (*Audio, error) {
	blob := firstInlinePart(resp, func(mimeType string) bool {
		return mimeType == "" || strings.HasPrefix(mimeType, "audio/")
	})
	if blob == nil {
		return nil, domain.Errorf(domain.KindMissingAudioPayload, opAudio, "voice %q returned no audio", voice)
	}

	rate := sampleRateFromMIME(blob.MIMEType, SpeechSampleRate)
	samples, err := DecodePCM16(blob.Data, SpeechChannels)
	if err != nil {
		return nil, domain.E(domain.KindMissingAudioPayload, opAudio, err)
	}

	wav, err := EncodeWAV(samples, rate, SpeechChannels)
	if err != nil {
		return nil, domain.E(domain.KindMissingAudioPayload, opAudio, err)
	}

	return &Audio{
		WAV:        wav,
		SampleRate: rate,
		Channels:   SpeechChannels,
		Frames:     len(samples) / SpeechChannels,
	}, nil
}

// sampleRateFromMIME reads the rate parameter of e.g. "audio/L16;codec=pcm;rate=24000"
func sampleRateFromMIME(mimeType string, fallback int) int {
	if mimeType == "" {
		return fallback
	}
	_, params, err := mime.ParseMediaType(mimeType)
	if err != nil {
		return fallback
	}
	rate, err := strconv.Atoi(params["rate"])
	if err != nil || rate <= 0 {
		return fallback
	}
	return rate
}

// DecodePCM16 converts interleaved signed 16-bit little-endian PCM to floats in [-1, 1)
func DecodePCM16(data []byte, channels int) ([]float64, error) {
	if channels < 1 {
		return nil, fmt.Errorf("invalid channel count %d", channels)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("empty PCM payload")
	}
	if len(data)%(bytesPerSample*channels) != 0 {
		return nil, fmt.Errorf("PCM payload of %d bytes is not a whole number of frames", len(data))
	}

	samples := make([]float64, len(data)/bytesPerSample)
	for i := range samples {
		v := int16(binary.LittleEndian.Uint16(data[i*bytesPerSample:]))
		samples[i] = float64(v) / 32768.0
	}
	return samples, nil
}

// EncodeWAV writes interleaved float samples as a canonical 44-byte header
// PCM WAVE file. Samples are clamped to [-1, 1].
func EncodeWAV(samples []float64, sampleRate, channels int) ([]byte, error) {
	if channels < 1 || channels > math.MaxUint16 {
		return nil, fmt.Errorf("invalid channel count %d", channels)
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate %d", sampleRate)
	}
	if len(samples)%channels != 0 {
		return nil, fmt.Errorf("%d samples do not divide into %d channels", len(samples), channels)
	}

	dataSize := len(samples) * bytesPerSample
	buf := make([]byte, wavHeaderSize+dataSize)
	le := binary.LittleEndian

	copy(buf[0:4], "RIFF")
	le.PutUint32(buf[4:8], uint32(wavHeaderSize+dataSize-8))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	le.PutUint32(buf[16:20], 16)
	le.PutUint16(buf[20:22], 1)
	le.PutUint16(buf[22:24], uint16(channels))
	le.PutUint32(buf[24:28], uint32(sampleRate))
	le.PutUint32(buf[28:32], uint32(sampleRate*channels*bytesPerSample))
	le.PutUint16(buf[32:34], uint16(channels*bytesPerSample))
	le.PutUint16(buf[34:36], bitsPerSample)

	copy(buf[36:40], "data")
	le.PutUint32(buf[40:44], uint32(dataSize))

	pos := wavHeaderSize
	for _, s := range samples {
		le.PutUint16(buf[pos:], uint16(floatToPCM16(s)))
		pos += bytesPerSample
	}
	return buf, nil
}

// floatToPCM16 is the exact inverse of the /32768 scaling in DecodePCM16
func floatToPCM16(s float64) int16 {
	if math.IsNaN(s) {
		return 0
	}
	v := math.Round(s * 32768.0)
	if v > math.MaxInt16 {
		v = math.MaxInt16
	}
	if v < math.MinInt16 {
		v = math.MinInt16
	}
	return int16(v)
}

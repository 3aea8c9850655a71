package carrier

import (
	"math"

	"github.com/agentplexus/voicebridge/internal/audio"
)

const (
	dtmfSampleRate  = 8000
	dtmfToneMs      = 100
	dtmfGapMs       = 60
	dtmfPauseShort  = 500  // 'w'
	dtmfPauseLong   = 1000 // 'W'
	dtmfAmplitude   = 8000
)

// SynthesizeDigits renders an operator-submitted digit string (already
// validated by ValidateDigits) to mu-law audio suitable for
// Stream.SendMedia, so sendDTMF can inject tones without the carrier
// exposing a native "play digits mid-stream" primitive.
func SynthesizeDigits(digits string) []byte {
	var out []byte
	for i := 0; i < len(digits); i++ {
		symbol := digits[i]
		switch symbol {
		case ' ':
			continue
		case 'w':
			out = append(out, silence(dtmfPauseShort)...)
			continue
		case 'W':
			out = append(out, silence(dtmfPauseLong)...)
			continue
		}

		low, high, ok := ToneFrequencies(symbol)
		if !ok {
			continue
		}
		out = append(out, tone(low, high, dtmfToneMs)...)
		out = append(out, silence(dtmfGapMs)...)
	}
	return out
}

func tone(low, high float64, ms int) []byte {
	n := dtmfSampleRate * ms / 1000
	samples := make([]int16, n)
	for i := range samples {
		t := float64(i) / dtmfSampleRate
		v := math.Sin(2*math.Pi*low*t) + math.Sin(2*math.Pi*high*t)
		samples[i] = int16(v * dtmfAmplitude / 2)
	}
	return audio.EncodeLinearToMuLaw(samples)
}

func silence(ms int) []byte {
	n := dtmfSampleRate * ms / 1000
	samples := make([]int16, n)
	return audio.EncodeLinearToMuLaw(samples)
}

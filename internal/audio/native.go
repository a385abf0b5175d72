package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
)

// ErrUnknownFormat is returned when audio bytes are neither WAV nor MP3.
var ErrUnknownFormat = errors.New("audio: unrecognised audio format")

// DetectFormat sniffs WAV and MP3 payloads. It returns "" when unknown.
func DetectFormat(data []byte) string {
	switch {
	case len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE":
		return "wav"
	case len(data) >= 3 && string(data[0:3]) == "ID3":
		return "mp3"
	case len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0:
		return "mp3"
	}
	return ""
}

// ProbeBytes reads duration and stream parameters from in-memory WAV or MP3 audio
// without spawning a process.
func ProbeBytes(data []byte) (Info, error) {
	switch DetectFormat(data) {
	case "wav":
		return probeWAV(data)
	case "mp3":
		return probeMP3(data)
	}
	return Info{}, ErrUnknownFormat
}

func probeWAV(data []byte) (Info, error) {
	d := wav.NewDecoder(bytes.NewReader(data))
	if !d.IsValidFile() {
		return Info{}, fmt.Errorf("probe wav: invalid file")
	}
	dur, err := d.Duration()
	if err != nil {
		return Info{}, fmt.Errorf("probe wav: %w", err)
	}
	return Info{
		DurationMs: dur.Milliseconds(),
		SampleRate: int(d.SampleRate),
		Channels:   int(d.NumChans),
		Codec:      "pcm",
	}, nil
}

func probeMP3(data []byte) (Info, error) {
	d, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return Info{}, fmt.Errorf("probe mp3: %w", err)
	}
	rate := d.SampleRate()
	if rate <= 0 {
		return Info{}, fmt.Errorf("probe mp3: invalid sample rate %d", rate)
	}
	// The decoder always yields 16-bit stereo PCM.
	samples := d.Length() / 4
	return Info{
		DurationMs: samples * 1000 / int64(rate),
		SampleRate: rate,
		Channels:   2,
		Codec:      "mp3",
	}, nil
}

// WriteWAV encodes 16-bit PCM samples as a WAV file.
func WriteWAV(w io.WriteSeeker, samples []int, sampleRate, channels int) error {
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: channels, SampleRate: sampleRate},
		Data:           samples,
		SourceBitDepth: 16,
	}

	enc := wav.NewEncoder(w, sampleRate, 16, channels, 1)
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return nil
}

// EncodeWAV renders 16-bit PCM samples as an in-memory WAV file.
func EncodeWAV(samples []int, sampleRate, channels int) ([]byte, error) {
	var buf seekBuffer
	if err := WriteWAV(&buf, samples, sampleRate, channels); err != nil {
		return nil, err
	}
	return buf.data, nil
}

// seekBuffer is an in-memory io.WriteSeeker; the WAV encoder seeks back to
// patch chunk sizes on Close.
type seekBuffer struct {
	data []byte
	pos  int
}

func (b *seekBuffer) Write(p []byte) (int, error) {
	end := b.pos + len(p)
	if end > len(b.data) {
		b.data = append(b.data, make([]byte, end-len(b.data))...)
	}
	copy(b.data[b.pos:end], p)
	b.pos = end
	return len(p), nil
}

func (b *seekBuffer) Seek(offset int64, whence int) (int64, error) {
	var next int64
	switch whence {
	case io.SeekStart:
		next = offset
	case io.SeekCurrent:
		next = int64(b.pos) + offset
	case io.SeekEnd:
		next = int64(len(b.data)) + offset
	default:
		return 0, fmt.Errorf("seek: invalid whence %d", whence)
	}
	if next < 0 {
		return 0, fmt.Errorf("seek: negative position %d", next)
	}
	b.pos = int(next)
	return next, nil
}

// PCM16ToSamples converts little-endian 16-bit PCM bytes to samples. A trailing
// odd byte is ignored.
func PCM16ToSamples(pcm []byte) []int {
	samples := make([]int, len(pcm)/2)
	for i := range samples {
		samples[i] = int(int16(binary.LittleEndian.Uint16(pcm[2*i:])))
	}
	return samples
}

// Package yandex implements provider.Synthesizer on Yandex SpeechKit v3
// utterance synthesis over gRPC.
package yandex

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"

	tts "github.com/yandex-cloud/go-genproto/yandex/cloud/ai/tts/v3"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/metadata"

	"github.com/maauso/narration-api/internal/audio"
	"github.com/maauso/narration-api/internal/provider"
)

// DefaultEndpoint is the SpeechKit gRPC endpoint.
const DefaultEndpoint = "tts.api.cloud.yandex.net:443"

// Static errors for configuration.
var (
	// ErrAPIKeyRequired is returned when no API key is configured.
	ErrAPIKeyRequired = errors.New("yandex: API key is required")
	// ErrFolderIDRequired is returned when no folder ID is configured.
	ErrFolderIDRequired = errors.New("yandex: folder ID is required")
)

var _ provider.Synthesizer = (*Synth)(nil)

// Config holds SpeechKit credentials.
type Config struct {
	APIKey   string
	FolderID string
	// Endpoint overrides DefaultEndpoint.
	Endpoint string
	// Model is the synthesis model; empty uses the service default.
	Model string
}

// Each streamed response carries one chunk of the encoded utterance.
type utteranceStream interface {
	Recv() (*tts.UtteranceSynthesisResponse, error)
}

type utteranceClient interface {
	utteranceSynthesis(ctx context.Context, req *tts.UtteranceSynthesisRequest) (utteranceStream, error)
}

type grpcClient struct {
	client tts.SynthesizerClient
}

func (g grpcClient) utteranceSynthesis(ctx context.Context, req *tts.UtteranceSynthesisRequest) (utteranceStream, error) {
	return g.client.UtteranceSynthesis(ctx, req)
}

// Synth is a SpeechKit synthesizer.
type Synth struct {
	client   utteranceClient
	conn     *grpc.ClientConn
	apiKey   string
	folderID string
	model    string
}

// New opens a TLS gRPC connection to SpeechKit.
func New(cfg Config) (*Synth, error) {
	if cfg.APIKey == "" {
		return nil, ErrAPIKeyRequired
	}
	if cfg.FolderID == "" {
		return nil, ErrFolderIDRequired
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}

	creds := credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})
	conn, err := grpc.NewClient(endpoint, grpc.WithTransportCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("yandex: connect to TTS service: %w", err)
	}

	return &Synth{
		client:   grpcClient{client: tts.NewSynthesizerClient(conn)},
		conn:     conn,
		apiKey:   cfg.APIKey,
		folderID: cfg.FolderID,
		model:    cfg.Model,
	}, nil
}

// Synthesize streams the utterance and concatenates the audio chunks.
func (s *Synth) Synthesize(ctx context.Context, req provider.Request) (*provider.Result, error) {
	ctx = metadata.AppendToOutgoingContext(ctx,
		"authorization", "Api-Key "+s.apiKey,
		"x-folder-id", s.folderID,
	)

	format := audio.NormalizeFormat(req.OutputFormat)
	stream, err := s.client.utteranceSynthesis(ctx, s.buildRequest(req, format))
	if err != nil {
		return nil, fmt.Errorf("yandex: start synthesis: %w", err)
	}

	var data []byte
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("yandex: receive audio: %w", err)
		}
		if chunk := resp.GetAudioChunk(); chunk != nil {
			data = append(data, chunk.GetData()...)
		}
	}
	if len(data) == 0 {
		return nil, provider.ErrEmptyAudio
	}

	return &provider.Result{Audio: data, Format: containerFormat(format)}, nil
}

func (s *Synth) buildRequest(req provider.Request, format string) *tts.UtteranceSynthesisRequest {
	r := &tts.UtteranceSynthesisRequest{}
	if s.model != "" {
		r.SetModel(s.model)
	}
	r.SetText(req.Text)

	hints := make([]*tts.Hints, 0, 2)
	if req.VoiceID != "" {
		voice := &tts.Hints{}
		voice.SetVoice(req.VoiceID)
		hints = append(hints, voice)
	}
	if req.Settings.Speed > 0 {
		speed := &tts.Hints{}
		speed.SetSpeed(req.Settings.Speed)
		hints = append(hints, speed)
	}
	r.SetHints(hints)

	container := &tts.ContainerAudio{}
	container.SetContainerAudioType(containerType(format))
	spec := &tts.AudioFormatOptions{}
	spec.SetContainerAudio(container)
	r.SetOutputAudioSpec(spec)

	r.SetLoudnessNormalizationType(tts.UtteranceSynthesisRequest_LUFS)
	return r
}

func containerType(format string) tts.ContainerAudio_ContainerAudioType {
	switch format {
	case "mp3":
		return tts.ContainerAudio_MP3
	case "ogg", "opus":
		return tts.ContainerAudio_OGG_OPUS
	default:
		return tts.ContainerAudio_WAV
	}
}

// containerFormat is the format name of what containerType requests.
func containerFormat(format string) string {
	switch format {
	case "mp3", "ogg":
		return format
	case "opus":
		return "ogg"
	default:
		return "wav"
	}
}

// ListVoices returns the SpeechKit voices used by the built-in voice catalog.
// SpeechKit v3 does not expose a voice listing RPC.
func (s *Synth) ListVoices(context.Context) ([]provider.VoiceInfo, error) {
	return []provider.VoiceInfo{
		{ID: "marina", Name: "Marina", Language: "ru"},
		{ID: "alena", Name: "Alena", Language: "ru"},
		{ID: "filipp", Name: "Filipp", Language: "ru"},
		{ID: "john", Name: "John", Language: "en"},
	}, nil
}

// Close closes the gRPC connection.
func (s *Synth) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

package yandex

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tts "github.com/yandex-cloud/go-genproto/yandex/cloud/ai/tts/v3"
	"google.golang.org/grpc/metadata"

	"github.com/maauso/narration-api/internal/provider"
)

type fakeStream struct {
	chunks [][]byte
	err    error
}

func (f *fakeStream) Recv() (*tts.UtteranceSynthesisResponse, error) {
	if len(f.chunks) == 0 {
		if f.err != nil {
			return nil, f.err
		}
		return nil, io.EOF
	}
	chunk := &tts.AudioChunk{}
	chunk.SetData(f.chunks[0])
	f.chunks = f.chunks[1:]

	resp := &tts.UtteranceSynthesisResponse{}
	resp.SetAudioChunk(chunk)
	return resp, nil
}

type fakeClient struct {
	stream *fakeStream
	err    error
	req    *tts.UtteranceSynthesisRequest
	md     metadata.MD
}

func (f *fakeClient) utteranceSynthesis(ctx context.Context, req *tts.UtteranceSynthesisRequest) (utteranceStream, error) {
	f.req = req
	f.md, _ = metadata.FromOutgoingContext(ctx)
	if f.err != nil {
		return nil, f.err
	}
	return f.stream, nil
}

func newTestSynth(c utteranceClient) *Synth {
	return &Synth{client: c, apiKey: "key", folderID: "folder", model: "general"}
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{FolderID: "f"})
	assert.ErrorIs(t, err, ErrAPIKeyRequired)

	_, err = New(Config{APIKey: "k"})
	assert.ErrorIs(t, err, ErrFolderIDRequired)
}

func TestNew_LazyConnection(t *testing.T) {
	s, err := New(Config{APIKey: "k", FolderID: "f", Endpoint: "localhost:1"})
	require.NoError(t, err)
	assert.NoError(t, s.Close())
}

func TestSynthesize_ConcatenatesChunks(t *testing.T) {
	client := &fakeClient{stream: &fakeStream{chunks: [][]byte{[]byte("ID3"), []byte("abc"), []byte("def")}}}
	s := newTestSynth(client)

	res, err := s.Synthesize(context.Background(), provider.Request{
		Text:         "Привет.",
		VoiceID:      "alena",
		OutputFormat: "mp3",
		Settings:     provider.Settings{Speed: 0.85},
	})
	require.NoError(t, err)

	assert.Equal(t, []byte("ID3abcdef"), res.Audio)
	assert.Equal(t, "mp3", res.Format)

	assert.Equal(t, []string{"Api-Key key"}, client.md.Get("authorization"))
	assert.Equal(t, []string{"folder"}, client.md.Get("x-folder-id"))

	assert.Equal(t, "Привет.", client.req.GetText())
	assert.Equal(t, "general", client.req.GetModel())
	require.Len(t, client.req.GetHints(), 2)
	assert.Equal(t, "alena", client.req.GetHints()[0].GetVoice())
	assert.InDelta(t, 0.85, client.req.GetHints()[1].GetSpeed(), 1e-9)
	assert.Equal(t, tts.ContainerAudio_MP3, client.req.GetOutputAudioSpec().GetContainerAudio().GetContainerAudioType())
}

func TestSynthesize_DefaultsToWAV(t *testing.T) {
	client := &fakeClient{stream: &fakeStream{chunks: [][]byte{[]byte("RIFF")}}}

	res, err := newTestSynth(client).Synthesize(context.Background(), provider.Request{Text: "x", OutputFormat: "flac"})
	require.NoError(t, err)
	assert.Equal(t, "wav", res.Format)
	assert.Equal(t, tts.ContainerAudio_WAV, client.req.GetOutputAudioSpec().GetContainerAudio().GetContainerAudioType())
	assert.Empty(t, client.req.GetHints())
}

func TestSynthesize_Errors(t *testing.T) {
	boom := errors.New("unavailable")

	_, err := newTestSynth(&fakeClient{err: boom}).Synthesize(context.Background(), provider.Request{Text: "x"})
	assert.ErrorIs(t, err, boom)

	_, err = newTestSynth(&fakeClient{stream: &fakeStream{chunks: [][]byte{[]byte("a")}, err: boom}}).
		Synthesize(context.Background(), provider.Request{Text: "x"})
	assert.ErrorIs(t, err, boom)

	_, err = newTestSynth(&fakeClient{stream: &fakeStream{}}).Synthesize(context.Background(), provider.Request{Text: "x"})
	assert.ErrorIs(t, err, provider.ErrEmptyAudio)
}

func TestContainerFormat(t *testing.T) {
	assert.Equal(t, "mp3", containerFormat("mp3"))
	assert.Equal(t, "ogg", containerFormat("opus"))
	assert.Equal(t, "wav", containerFormat("wav"))
	assert.Equal(t, "wav", containerFormat("flac"))
}

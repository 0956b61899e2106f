package gemini

import (
	"context"
	"log/slog"

	"google.golang.org/genai"

	"github.com/lmonteiro/james/pkg/audio"
	"github.com/lmonteiro/james/pkg/core"
	"github.com/lmonteiro/james/pkg/session"
)

const inboundAudioMIME = "audio/pcm;rate=16000"

// Connect opens a live bidirectional session and starts the receive
// pump. Implements session.Connector.
func (c *Client) Connect(ctx context.Context, opts session.ConnectOptions) (session.Stream, error) {
	cfg := &genai.LiveConnectConfig{
		ResponseModalities: []genai.Modality{genai.ModalityAudio},
		SpeechConfig: &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: opts.Voice},
			},
		},
	}
	if opts.SystemInstruction != "" {
		cfg.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: opts.SystemInstruction}},
		}
	}
	if opts.Transcription {
		cfg.InputAudioTranscription = &genai.AudioTranscriptionConfig{}
	}

	sess, err := c.client.Live.Connect(ctx, c.liveModel, cfg)
	if err != nil {
		return nil, core.NewConnectError("opening live session failed", err)
	}

	stream := &liveStream{
		session: sess,
		events:  make(chan session.Event, 32),
		logger:  c.logger,
	}
	go stream.pump()
	return stream, nil
}

// liveStream is one open live session. The pump goroutine is the only
// reader of the underlying session and the only writer to events.
type liveStream struct {
	session *genai.Session
	events  chan session.Event
	logger  *slog.Logger
}

func (s *liveStream) Events() <-chan session.Event { return s.events }

func (s *liveStream) SendAudioFrame(frame string) error {
	pcm, err := audio.DecodeFrame(frame)
	if err != nil {
		return err
	}
	err = s.session.SendRealtimeInput(genai.LiveRealtimeInput{
		Media: &genai.Blob{Data: pcm, MIMEType: inboundAudioMIME},
	})
	if err != nil {
		return core.NewProtocolError("sending audio frame failed", err)
	}
	return nil
}

func (s *liveStream) SendImageFrame(data []byte, mimeType string) error {
	err := s.session.SendRealtimeInput(genai.LiveRealtimeInput{
		Media: &genai.Blob{Data: data, MIMEType: mimeType},
	})
	if err != nil {
		return core.NewProtocolError("sending image frame failed", err)
	}
	return nil
}

func (s *liveStream) Close() error {
	return s.session.Close()
}

// pump translates inbound live messages into session events. It owns
// the events channel and closes it when the remote ends the stream.
func (s *liveStream) pump() {
	defer close(s.events)
	s.events <- session.OpenedEvent{}
	for {
		msg, err := s.session.Receive()
		if err != nil {
			// Receive fails on both remote close and local Close; the
			// engine treats either as end of stream.
			s.events <- session.ClosedEvent{}
			return
		}
		if msg.ServerContent == nil {
			continue
		}
		sc := msg.ServerContent
		if sc.InputTranscription != nil && sc.InputTranscription.Text != "" {
			s.events <- session.TranscriptEvent{Text: sc.InputTranscription.Text}
		}
		if sc.ModelTurn != nil {
			for _, part := range sc.ModelTurn.Parts {
				if part.InlineData != nil && len(part.InlineData.Data) > 0 {
					s.events <- session.AudioEvent{Data: part.InlineData.Data}
				}
			}
		}
		if sc.TurnComplete {
			s.events <- session.TurnCompleteEvent{}
		}
	}
}

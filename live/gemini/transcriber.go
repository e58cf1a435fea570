package gemini

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/becomeliminal/nim-companion/live"
)

const listenOnly = "You are a transcription service. Listen only and never reply."

// Transcriber transcribes user audio with a second Live session that has
// input transcription enabled. Model replies on that session are ignored.
type Transcriber struct {
	client     *genai.Client
	model      string
	sampleRate int
}

// NewTranscriber creates a Transcriber.
func NewTranscriber(client *genai.Client, model string, sampleRate int) *Transcriber {
	if model == "" {
		model = DefaultModel
	}
	if sampleRate == 0 {
		sampleRate = DefaultSampleRate
	}
	return &Transcriber{client: client, model: model, sampleRate: sampleRate}
}

// Transcribe implements live.Transcriber.
func (t *Transcriber) Transcribe(ctx context.Context, audio <-chan []byte, emit func(live.Transcript)) error {
	session, err := t.client.Live.Connect(ctx, t.model, &genai.LiveConnectConfig{
		ResponseModalities:      []genai.Modality{genai.ModalityAudio},
		InputAudioTranscription: &genai.AudioTranscriptionConfig{},
		SystemInstruction:       genai.NewContentFromText(listenOnly, genai.RoleUser),
	})
	if err != nil {
		return fmt.Errorf("connect transcriber: %w", err)
	}

	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		var acc accumulator
		for {
			msg, err := session.Receive()
			if err != nil {
				return
			}
			for _, tr := range acc.handle(msg) {
				emit(tr)
			}
		}
	}()

	c := newConn(session, t.sampleRate, nil)
	err = func() error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-readDone:
				return fmt.Errorf("transcriber connection closed")
			case chunk, ok := <-audio:
				if !ok {
					return nil
				}
				if err := c.SendAudio(ctx, chunk); err != nil {
					return fmt.Errorf("send audio to transcriber: %w", err)
				}
			}
		}
	}()

	_ = session.Close()
	<-readDone
	return err
}

// accumulator joins input transcription fragments into utterances. Each
// fragment is reported as a partial; the utterance is reported as final
// when the server marks it finished or the turn completes.
type accumulator struct {
	b strings.Builder
}

func (a *accumulator) handle(msg *genai.LiveServerMessage) []live.Transcript {
	if msg == nil || msg.ServerContent == nil {
		return nil
	}
	sc := msg.ServerContent
	var out []live.Transcript

	finished := sc.TurnComplete
	if it := sc.InputTranscription; it != nil {
		if it.Text != "" {
			a.b.WriteString(it.Text)
			out = append(out, live.Transcript{Text: strings.TrimSpace(a.b.String())})
		}
		finished = finished || it.Finished
	}

	if finished {
		if text := strings.TrimSpace(a.b.String()); text != "" {
			out = append(out, live.Transcript{Text: text, Final: true})
		}
		a.b.Reset()
	}
	return out
}

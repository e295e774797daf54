package chat

import (
	"context"
	"iter"
	"sync"

	"github.com/ashureev/gemini-qa/internal/credential"
	"github.com/ashureev/gemini-qa/internal/dispatch"
	"github.com/ashureev/gemini-qa/internal/imaging"
	"github.com/ashureev/gemini-qa/internal/transcript"
)

type fakeModel struct {
	mu          sync.Mutex
	chunks      []dispatch.Chunk
	streamErr   error
	reply       dispatch.Reply
	visionErr   error
	block       chan struct{}
	started     chan struct{}
	streamCalls int
	visionCalls int
	images      []*imaging.Image
}

func (m *fakeModel) StreamText(_ context.Context, _ string) iter.Seq2[dispatch.Chunk, error] {
	m.mu.Lock()
	m.streamCalls++
	m.mu.Unlock()
	return func(yield func(dispatch.Chunk, error) bool) {
		if m.started != nil {
			close(m.started)
		}
		if m.block != nil {
			<-m.block
		}
		for _, c := range m.chunks {
			if !yield(c, nil) {
				return
			}
		}
		if m.streamErr != nil {
			yield(dispatch.Chunk{}, m.streamErr)
		}
	}
}

func (m *fakeModel) GenerateVision(_ context.Context, _ string, img *imaging.Image) (dispatch.Reply, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.visionCalls++
	m.images = append(m.images, img)
	return m.reply, m.visionErr
}

func (m *fakeModel) calls() (int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.streamCalls, m.visionCalls
}

func textChunks(parts ...string) []dispatch.Chunk {
	out := make([]dispatch.Chunk, 0, len(parts))
	for _, p := range parts {
		out = append(out, dispatch.Chunk{Text: p, HasText: true})
	}
	return out
}

type fakeObserver struct {
	mu       sync.Mutex
	opened   int
	closed   int
	warnings int
}

func (o *fakeObserver) SessionOpened() { o.mu.Lock(); o.opened++; o.mu.Unlock() }
func (o *fakeObserver) SessionClosed() { o.mu.Lock(); o.closed++; o.mu.Unlock() }
func (o *fakeObserver) Warning(dispatch.Mode) {
	o.mu.Lock()
	o.warnings++
	o.mu.Unlock()
}

type fakeTranscript struct {
	mu       sync.Mutex
	events   []transcript.Event
	released []string
}

func (f *fakeTranscript) CloseSession(id string) {
	f.mu.Lock()
	f.released = append(f.released, id)
	f.mu.Unlock()
}

func (f *fakeTranscript) Log(ev transcript.Event) {
	f.mu.Lock()
	f.events = append(f.events, ev)
	f.mu.Unlock()
}

func okValidator() credential.Validator {
	return credential.ValidatorFunc(func(context.Context, credential.Credential) error { return nil })
}

func factoryFor(model dispatch.Model) DispatcherFactory {
	return func(context.Context, credential.Credential) (*dispatch.Dispatcher, error) {
		return dispatch.New(model), nil
	}
}

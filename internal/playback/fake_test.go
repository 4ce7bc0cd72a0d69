package playback

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/normanking/cortexlearn/internal/tts"
)

var errSynthDown = errors.New("synthesis backend down")

// fakeProvider records calls and lets tests hold, fail or time individual
// texts.
type fakeProvider struct {
	mu        sync.Mutex
	calls     []string
	durations map[string]time.Duration
	fail      map[string]error
	formats   map[string]string
	gates     map[string]chan struct{}
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		durations: make(map[string]time.Duration),
		fail:      make(map[string]error),
		formats:   make(map[string]string),
		gates:     make(map[string]chan struct{}),
	}
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Health(ctx context.Context) error { return nil }

// hold blocks synthesis of text until the returned func is called.
func (f *fakeProvider) hold(text string) func() {
	gate := make(chan struct{})
	f.mu.Lock()
	f.gates[text] = gate
	f.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(gate) }) }
}

func (f *fakeProvider) Synthesize(ctx context.Context, req *tts.SynthesizeRequest) (*tts.SynthesizeResponse, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req.Text)
	gate := f.gates[req.Text]
	failErr := f.fail[req.Text]
	d, ok := f.durations[req.Text]
	format := f.formats[req.Text]
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if failErr != nil {
		return nil, failErr
	}
	if !ok {
		d = time.Second
	}
	if format == "" {
		format = "mp3"
	}
	return &tts.SynthesizeResponse{
		Audio:    []byte("audio:" + req.Text),
		Format:   format,
		Duration: d,
		Provider: "fake",
	}, nil
}

func (f *fakeProvider) callCount(text string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == text {
			n++
		}
	}
	return n
}

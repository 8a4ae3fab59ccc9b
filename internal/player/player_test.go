package player

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fknsrs.biz/p/bilifm/models"
)

type fakeResolver struct {
	mu      sync.Mutex
	calls   int
	failFor map[int]error
	block   chan struct{}
}

func (r *fakeResolver) ResolveStream(ctx context.Context, song *models.Song) (string, error) {
	r.mu.Lock()
	r.calls++
	calls := r.calls
	block := r.block
	err := error(nil)
	if r.failFor != nil {
		err = r.failFor[song.ID]
	}
	r.mu.Unlock()

	if block != nil {
		<-block
	}

	if err != nil {
		return "", err
	}

	return fmt.Sprintf("https://cdn.example.com/%d?seq=%d", song.ID, calls), nil
}

type outputCall struct {
	op       string
	url      string
	rate     float64
	position float64
	muted    bool
	loop     bool
}

type fakeOutput struct {
	mu    sync.Mutex
	calls []outputCall
}

func (o *fakeOutput) record(c outputCall) {
	o.mu.Lock()
	o.calls = append(o.calls, c)
	o.mu.Unlock()
}

func (o *fakeOutput) Load(ctx context.Context, url string, rate, volume float64, loop bool) error {
	o.record(outputCall{op: "load", url: url, rate: rate, loop: loop})
	return nil
}

func (o *fakeOutput) Play(ctx context.Context) error  { o.record(outputCall{op: "play"}); return nil }
func (o *fakeOutput) Pause(ctx context.Context) error { o.record(outputCall{op: "pause"}); return nil }
func (o *fakeOutput) Stop(ctx context.Context) error  { o.record(outputCall{op: "stop"}); return nil }

func (o *fakeOutput) Seek(ctx context.Context, position float64) error {
	o.record(outputCall{op: "seek", position: position})
	return nil
}

func (o *fakeOutput) SetRate(ctx context.Context, rate float64) error {
	o.record(outputCall{op: "rate", rate: rate})
	return nil
}

func (o *fakeOutput) SetVolume(ctx context.Context, volume float64) error {
	o.record(outputCall{op: "volume"})
	return nil
}

func (o *fakeOutput) SetMuted(ctx context.Context, muted bool) error {
	o.record(outputCall{op: "muted", muted: muted})
	return nil
}

func (o *fakeOutput) SetLoop(ctx context.Context, loop bool) error {
	o.record(outputCall{op: "loop", loop: loop})
	return nil
}

func (o *fakeOutput) lastLoad() (outputCall, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	for i := len(o.calls) - 1; i >= 0; i-- {
		if o.calls[i].op == "load" {
			return o.calls[i], true
		}
	}

	return outputCall{}, false
}

type memSettings struct {
	mu    sync.Mutex
	saved *Settings
}

func (m *memSettings) LoadSettings() (*Settings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saved, nil
}

func (m *memSettings) SaveSettings(s *Settings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *s
	m.saved = &copied
	return nil
}

func makeQueue(n int) []models.Song {
	songs := make([]models.Song, n)
	for i := range songs {
		songs[i] = models.Song{
			ID:       i + 1,
			SourceID: fmt.Sprintf("BV1xx411c7m%d", i),
			Page:     1,
			Title:    fmt.Sprintf("song %d", i+1),
			Duration: 120,
		}
	}
	return songs
}

func makeEngine(t *testing.T, opts ...Option) (*Engine, *fakeResolver, *fakeOutput) {
	t.Helper()

	resolver := &fakeResolver{}
	output := &fakeOutput{}

	e, err := New(resolver, output, nil, opts...)
	require.NoError(t, err)

	return e, resolver, output
}

// startQueue loads a fresh queue and starts playing at index.
func startQueue(ctx context.Context, t *testing.T, e *Engine, n, index int) {
	t.Helper()

	require.NoError(t, e.SetQueue(ctx, QueueSourceSongs, makeQueue(n)))
	require.NoError(t, e.Play(ctx, index))
}

func TestQueueThenPlayStartsPlayback(t *testing.T) {
	a := assert.New(t)
	e, _, output := makeEngine(t)
	ctx := context.Background()

	startQueue(ctx, t, e, 3, 1)

	st := e.Status()
	a.Equal(StatePlaying, st.State)
	a.Equal(1, st.CurrentIndex)
	a.Equal(QueueSourceSongs, st.QueueSource)
	if a.NotNil(st.Current()) {
		a.Equal("song 2", st.Current().Title)
	}

	load, ok := output.lastLoad()
	a.True(ok)
	a.Contains(load.url, "/2?")
}

func TestSetQueueDoesNotInterruptPlayback(t *testing.T) {
	a := assert.New(t)
	e, _, output := makeEngine(t)
	ctx := context.Background()

	startQueue(ctx, t, e, 2, 0)

	a.NoError(e.SetQueue(ctx, QueueSourcePlaylist(7), makeQueue(3)))

	st := e.Status()
	a.Equal(StatePlaying, st.State)
	a.Equal(0, st.CurrentIndex)
	a.Len(st.Queue, 3)
	a.Equal(QueueSourcePlaylist(7), st.QueueSource)

	output.mu.Lock()
	loads := 0
	for _, c := range output.calls {
		if c.op == "load" {
			loads++
		}
	}
	output.mu.Unlock()
	a.Equal(1, loads)

	// the next skip operates on the new queue
	a.NoError(e.Next(ctx))
	a.Equal(1, e.Status().CurrentIndex)
}

func TestPlayValidation(t *testing.T) {
	a := assert.New(t)
	e, _, _ := makeEngine(t)
	ctx := context.Background()

	a.ErrorIs(e.Play(ctx, 0), ErrEmptyQueue)

	a.NoError(e.SetQueue(ctx, QueueSourceSongs, makeQueue(2)))
	a.ErrorIs(e.Play(ctx, 2), ErrIndexOut)
	a.ErrorIs(e.Play(ctx, -1), ErrIndexOut)
}

func TestPlayTogglesCurrentSong(t *testing.T) {
	a := assert.New(t)
	e, resolver, _ := makeEngine(t)
	ctx := context.Background()

	startQueue(ctx, t, e, 2, 0)
	a.Equal(StatePlaying, e.Status().State)

	// same index pauses rather than reloading
	a.NoError(e.Play(ctx, 0))
	a.Equal(StatePaused, e.Status().State)

	a.NoError(e.Play(ctx, 0))
	a.Equal(StatePlaying, e.Status().State)

	resolver.mu.Lock()
	calls := resolver.calls
	resolver.mu.Unlock()
	a.Equal(1, calls)
}

func TestPlayDifferentIndexLoads(t *testing.T) {
	a := assert.New(t)
	e, _, output := makeEngine(t)
	ctx := context.Background()

	startQueue(ctx, t, e, 3, 0)
	a.NoError(e.Play(ctx, 2))

	st := e.Status()
	a.Equal(2, st.CurrentIndex)
	a.Equal(StatePlaying, st.State)

	load, _ := output.lastLoad()
	a.Contains(load.url, "/3?")
}

func TestFreshResolutionPerLoad(t *testing.T) {
	a := assert.New(t)
	e, resolver, output := makeEngine(t)
	ctx := context.Background()

	startQueue(ctx, t, e, 2, 0)
	a.NoError(e.Play(ctx, 1))
	a.NoError(e.Play(ctx, 0))

	resolver.mu.Lock()
	calls := resolver.calls
	resolver.mu.Unlock()
	a.Equal(3, calls)

	// the second load of song 1 got a different URL than the first
	load, _ := output.lastLoad()
	a.Contains(load.url, "seq=3")
}

func TestStaleLoadDiscarded(t *testing.T) {
	a := assert.New(t)

	resolver := &fakeResolver{block: make(chan struct{})}
	output := &fakeOutput{}
	e, err := New(resolver, output, nil)
	require.NoError(t, err)

	ctx := context.Background()

	require.NoError(t, e.SetQueue(ctx, QueueSourceSongs, makeQueue(2)))

	done := make(chan error, 1)
	go func() { done <- e.Play(ctx, 0) }()

	// wait for the first resolution to be in flight
	for {
		resolver.mu.Lock()
		calls := resolver.calls
		resolver.mu.Unlock()
		if calls == 1 {
			break
		}
	}

	// second request stomps the first
	resolver.mu.Lock()
	unblock := resolver.block
	resolver.block = nil
	resolver.mu.Unlock()

	a.NoError(e.Play(ctx, 1))

	close(unblock)
	a.NoError(<-done)

	st := e.Status()
	a.Equal(1, st.CurrentIndex)
	a.Equal(StatePlaying, st.State)

	load, ok := output.lastLoad()
	a.True(ok)
	a.Contains(load.url, "/2?")

	output.mu.Lock()
	loads := 0
	for _, c := range output.calls {
		if c.op == "load" {
			loads++
		}
	}
	output.mu.Unlock()
	a.Equal(1, loads)
}

func TestResolveFailurePauses(t *testing.T) {
	a := assert.New(t)

	resolver := &fakeResolver{failFor: map[int]error{1: fmt.Errorf("upstream said no")}}
	output := &fakeOutput{}
	e, err := New(resolver, output, nil)
	require.NoError(t, err)

	ctx := context.Background()

	require.NoError(t, e.SetQueue(ctx, QueueSourceSongs, makeQueue(2)))

	err = e.Play(ctx, 0)
	a.Error(err)
	a.ErrorContains(err, "upstream said no")

	st := e.Status()
	a.Equal(StatePaused, st.State)
	a.Equal(0, st.CurrentIndex)

	// skipping past the broken song still works
	a.NoError(e.Next(ctx))
	a.Equal(StatePlaying, e.Status().State)
	a.Equal(1, e.Status().CurrentIndex)
}

func TestNextPrevWrapAround(t *testing.T) {
	a := assert.New(t)
	e, _, _ := makeEngine(t)
	ctx := context.Background()

	startQueue(ctx, t, e, 3, 2)

	a.NoError(e.Next(ctx))
	a.Equal(0, e.Status().CurrentIndex)

	a.NoError(e.Prev(ctx))
	a.Equal(2, e.Status().CurrentIndex)

	a.NoError(e.Prev(ctx))
	a.Equal(1, e.Status().CurrentIndex)
}

func TestPrevRandomExcludesCurrent(t *testing.T) {
	a := assert.New(t)

	// the shuffle source offers the current index twice before a usable one
	picks := []int{2, 2, 4}
	calls := 0
	e, _, _ := makeEngine(t, WithRandInt(func(n int) int {
		p := picks[0]
		if len(picks) > 1 {
			picks = picks[1:]
		}
		calls++
		return p
	}))
	ctx := context.Background()

	startQueue(ctx, t, e, 5, 2)
	a.NoError(e.SetMode(ctx, ModeRandom))

	a.NoError(e.Prev(ctx))
	a.Equal(4, e.Status().CurrentIndex)
	a.Equal(3, calls)
}

func TestLoadingStateWhileResolving(t *testing.T) {
	a := assert.New(t)

	resolver := &fakeResolver{block: make(chan struct{})}
	output := &fakeOutput{}
	e, err := New(resolver, output, nil)
	require.NoError(t, err)

	ctx := context.Background()

	require.NoError(t, e.SetQueue(ctx, QueueSourceSongs, makeQueue(2)))

	done := make(chan error, 1)
	go func() { done <- e.Play(ctx, 0) }()

	for {
		resolver.mu.Lock()
		calls := resolver.calls
		resolver.mu.Unlock()
		if calls == 1 {
			break
		}
	}

	st := e.Status()
	a.Equal(StateLoading, st.State)
	a.Equal(0, st.CurrentIndex)

	close(resolver.block)
	a.NoError(<-done)

	a.Equal(StatePlaying, e.Status().State)
}

func TestPlaylistRemovalStopsCurrentSong(t *testing.T) {
	a := assert.New(t)
	e, _, output := makeEngine(t)
	ctx := context.Background()

	require.NoError(t, e.SetQueue(ctx, QueueSourcePlaylist(3), makeQueue(3)))
	require.NoError(t, e.Play(ctx, 1))

	a.NoError(e.HandlePlaylistSongRemoved(ctx, 3, 2))

	st := e.Status()
	a.Equal(StateStopped, st.State)
	a.Equal(-1, st.CurrentIndex)
	a.Empty(st.Queue)
	a.Empty(st.QueueSource)

	output.mu.Lock()
	stopped := false
	for _, c := range output.calls {
		if c.op == "stop" {
			stopped = true
		}
	}
	output.mu.Unlock()
	a.True(stopped)
}

func TestPlaylistRemovalOtherPlaylistIgnored(t *testing.T) {
	a := assert.New(t)
	e, _, _ := makeEngine(t)
	ctx := context.Background()

	require.NoError(t, e.SetQueue(ctx, QueueSourcePlaylist(3), makeQueue(3)))
	require.NoError(t, e.Play(ctx, 1))

	a.NoError(e.HandlePlaylistSongRemoved(ctx, 9, 2))

	st := e.Status()
	a.Equal(StatePlaying, st.State)
	a.Equal(1, st.CurrentIndex)
	a.Len(st.Queue, 3)
}

func TestPlaylistRemovalOtherSongPruned(t *testing.T) {
	a := assert.New(t)
	e, _, _ := makeEngine(t)
	ctx := context.Background()

	require.NoError(t, e.SetQueue(ctx, QueueSourcePlaylist(3), makeQueue(3)))
	require.NoError(t, e.Play(ctx, 2))

	a.NoError(e.HandlePlaylistSongRemoved(ctx, 3, 1))

	st := e.Status()
	a.Equal(StatePlaying, st.State)
	a.Len(st.Queue, 2)
	a.Equal(1, st.CurrentIndex)
	if a.NotNil(st.Current()) {
		a.Equal(3, st.Current().ID)
	}
}

func TestManualNextIgnoresLoopMode(t *testing.T) {
	a := assert.New(t)
	e, _, _ := makeEngine(t)
	ctx := context.Background()

	startQueue(ctx, t, e, 3, 0)
	a.NoError(e.SetMode(ctx, ModeLoop))

	a.NoError(e.Next(ctx))
	a.Equal(1, e.Status().CurrentIndex)
}

func TestOnEndedOrderAdvances(t *testing.T) {
	a := assert.New(t)
	e, _, _ := makeEngine(t)
	ctx := context.Background()

	startQueue(ctx, t, e, 3, 0)

	a.NoError(e.OnEnded(ctx))
	a.Equal(1, e.Status().CurrentIndex)

	a.NoError(e.OnEnded(ctx))
	a.NoError(e.OnEnded(ctx))
	a.Equal(0, e.Status().CurrentIndex)
	a.Equal(StatePlaying, e.Status().State)
}

func TestOnEndedLoopRepeats(t *testing.T) {
	a := assert.New(t)
	e, _, _ := makeEngine(t)
	ctx := context.Background()

	startQueue(ctx, t, e, 3, 1)
	a.NoError(e.SetMode(ctx, ModeLoop))

	a.NoError(e.OnEnded(ctx))
	a.Equal(1, e.Status().CurrentIndex)
}

func TestOnEndedRandomAvoidsCurrent(t *testing.T) {
	a := assert.New(t)

	// a shuffle source that insists on the current index first
	picks := []int{1, 1, 2}
	e, _, _ := makeEngine(t, WithRandInt(func(n int) int {
		p := picks[0]
		if len(picks) > 1 {
			picks = picks[1:]
		}
		return p
	}))
	ctx := context.Background()

	startQueue(ctx, t, e, 3, 1)
	a.NoError(e.SetMode(ctx, ModeRandom))

	a.NoError(e.OnEnded(ctx))
	a.Equal(2, e.Status().CurrentIndex)
}

func TestRandomSingleSongRepeats(t *testing.T) {
	a := assert.New(t)
	e, _, _ := makeEngine(t, WithRandInt(func(n int) int { return 0 }))
	ctx := context.Background()

	startQueue(ctx, t, e, 1, 0)
	a.NoError(e.SetMode(ctx, ModeRandom))

	a.NoError(e.OnEnded(ctx))
	a.Equal(0, e.Status().CurrentIndex)
	a.Equal(StatePlaying, e.Status().State)
}

func TestCycleMode(t *testing.T) {
	a := assert.New(t)
	e, _, _ := makeEngine(t)
	ctx := context.Background()

	mode, err := e.CycleMode(ctx)
	a.NoError(err)
	a.Equal(ModeLoop, mode)

	mode, err = e.CycleMode(ctx)
	a.NoError(err)
	a.Equal(ModeRandom, mode)

	mode, err = e.CycleMode(ctx)
	a.NoError(err)
	a.Equal(ModeOrder, mode)
}

func TestCycleRate(t *testing.T) {
	a := assert.New(t)
	e, _, _ := makeEngine(t)
	ctx := context.Background()

	for _, want := range []float64{1.5, 2, 0.5, 1} {
		rate, err := e.CycleRate(ctx)
		a.NoError(err)
		a.Equal(want, rate)
	}
}

func TestSetRateValidation(t *testing.T) {
	a := assert.New(t)
	e, _, _ := makeEngine(t)
	ctx := context.Background()

	a.ErrorIs(e.SetRate(ctx, 3), ErrInvalidRate)
	a.NoError(e.SetRate(ctx, 0.5))
	a.Equal(0.5, e.Status().Rate)
}

func TestRateSurvivesAcrossLoads(t *testing.T) {
	a := assert.New(t)
	e, _, output := makeEngine(t)
	ctx := context.Background()

	a.NoError(e.SetRate(ctx, 2))
	startQueue(ctx, t, e, 2, 0)
	a.NoError(e.Next(ctx))

	load, _ := output.lastLoad()
	a.Equal(float64(2), load.rate)
}

func TestSettingsPersistAndRestore(t *testing.T) {
	a := assert.New(t)

	settings := &memSettings{}

	e, err := New(&fakeResolver{}, &fakeOutput{}, settings)
	require.NoError(t, err)

	ctx := context.Background()

	a.NoError(e.SetMode(ctx, ModeRandom))
	a.NoError(e.SetRate(ctx, 1.5))
	a.NoError(e.SetVolume(ctx, 0.25))
	a.NoError(e.SetMuted(ctx, true))

	restored, err := New(&fakeResolver{}, &fakeOutput{}, settings)
	require.NoError(t, err)

	st := restored.Status()
	a.Equal(ModeRandom, st.Mode)
	a.Equal(1.5, st.Rate)
	a.Equal(0.25, st.Volume)
	a.True(st.Muted)
	a.Equal(StateStopped, st.State)
}

func TestBadSavedSettingsIgnored(t *testing.T) {
	a := assert.New(t)

	settings := &memSettings{saved: &Settings{Mode: "backwards", Rate: 17, Volume: 9}}

	e, err := New(&fakeResolver{}, &fakeOutput{}, settings)
	require.NoError(t, err)

	st := e.Status()
	a.Equal(ModeOrder, st.Mode)
	a.Equal(float64(1), st.Rate)
	a.Equal(float64(1), st.Volume)
}

func TestSeekClampedToDuration(t *testing.T) {
	a := assert.New(t)
	e, _, output := makeEngine(t)
	ctx := context.Background()

	startQueue(ctx, t, e, 1, 0)
	e.OnProgress(ctx, 10, 120)

	a.NoError(e.Seek(ctx, 500))
	a.Equal(float64(120), e.Status().Position)

	a.NoError(e.Seek(ctx, -3))
	a.Equal(float64(0), e.Status().Position)

	var seeks []float64
	for _, c := range output.calls {
		if c.op == "seek" {
			seeks = append(seeks, c.position)
		}
	}
	a.Equal([]float64{120, 0}, seeks)
}

func TestSeekWhileStoppedIsNoOp(t *testing.T) {
	a := assert.New(t)
	e, _, output := makeEngine(t)
	ctx := context.Background()

	a.NoError(e.Seek(ctx, 30))

	for _, c := range output.calls {
		a.NotEqual("seek", c.op)
	}
	a.Equal(float64(0), e.Status().Position)
}

func TestStopClearsPlayhead(t *testing.T) {
	a := assert.New(t)
	e, _, _ := makeEngine(t)
	ctx := context.Background()

	startQueue(ctx, t, e, 2, 0)
	a.NoError(e.Stop(ctx))

	st := e.Status()
	a.Equal(StateStopped, st.State)
	a.Equal(-1, st.CurrentIndex)
	a.Nil(st.Current())
	a.Len(st.Queue, 2)
}

func TestHandleSongRemovedCurrent(t *testing.T) {
	a := assert.New(t)
	e, _, _ := makeEngine(t)
	ctx := context.Background()

	startQueue(ctx, t, e, 3, 1)
	a.NoError(e.HandleSongRemoved(ctx, 2))

	st := e.Status()
	a.Equal(StateStopped, st.State)
	a.Empty(st.Queue)
	a.Equal(-1, st.CurrentIndex)
}

func TestHandleSongRemovedOther(t *testing.T) {
	a := assert.New(t)
	e, _, _ := makeEngine(t)
	ctx := context.Background()

	startQueue(ctx, t, e, 3, 2)
	a.NoError(e.HandleSongRemoved(ctx, 1))

	st := e.Status()
	a.Equal(StatePlaying, st.State)
	a.Len(st.Queue, 2)
	a.Equal(1, st.CurrentIndex)
	if a.NotNil(st.Current()) {
		a.Equal(3, st.Current().ID)
	}
}

func TestHandleSongRemovedNotInQueue(t *testing.T) {
	a := assert.New(t)
	e, _, _ := makeEngine(t)
	ctx := context.Background()

	startQueue(ctx, t, e, 2, 0)
	a.NoError(e.HandleSongRemoved(ctx, 99))

	st := e.Status()
	a.Equal(StatePlaying, st.State)
	a.Len(st.Queue, 2)
}

func TestOnErrorPausesWithoutMoving(t *testing.T) {
	a := assert.New(t)
	e, _, _ := makeEngine(t)
	ctx := context.Background()

	startQueue(ctx, t, e, 2, 1)
	e.OnError(ctx, "media decode failed")

	st := e.Status()
	a.Equal(StatePaused, st.State)
	a.Equal(1, st.CurrentIndex)
}

func TestOnProgressUpdatesPosition(t *testing.T) {
	a := assert.New(t)
	e, _, _ := makeEngine(t)
	ctx := context.Background()

	startQueue(ctx, t, e, 1, 0)
	e.OnProgress(ctx, 42.5, 120)

	st := e.Status()
	a.Equal(42.5, st.Position)
	a.Equal(float64(120), st.Duration)
}

func TestOnChangeNotifications(t *testing.T) {
	a := assert.New(t)

	var mu sync.Mutex
	var states []State

	e, err := New(&fakeResolver{}, &fakeOutput{}, nil, WithOnChange(func(st Status) {
		mu.Lock()
		states = append(states, st.State)
		mu.Unlock()
	}))
	require.NoError(t, err)

	ctx := context.Background()

	startQueue(ctx, t, e, 1, 0)
	a.NoError(e.Pause(ctx))
	a.NoError(e.Stop(ctx))

	mu.Lock()
	defer mu.Unlock()
	a.Contains(states, StatePlaying)
	a.Contains(states, StatePaused)
	a.Equal(StateStopped, states[len(states)-1])
}

// Package player holds the playback engine: the queue, the position within
// it, and the mode/rate/volume settings. It drives an Output (the thing that
// actually plays audio) and asks a Resolver for a fresh stream URL every
// time a song is loaded. Stream URLs expire quickly upstream, so resolution
// results are never reused.
package player

import (
	"context"
	"fmt"
	"math/rand"
	"sync"

	"fknsrs.biz/p/bilifm/internal/ctxlogger"
	"fknsrs.biz/p/bilifm/models"
)

type State string

const (
	StateStopped State = "stopped"
	StateLoading State = "loading"
	StatePlaying State = "playing"
	StatePaused  State = "paused"
)

type Mode string

const (
	ModeOrder  Mode = "order"
	ModeLoop   Mode = "loop"
	ModeRandom Mode = "random"
)

// Rates are the speeds the engine will accept, in cycle order starting
// from normal speed.
var Rates = []float64{1, 1.5, 2, 0.5}

// Queue source labels. The engine only cares about the label when a
// playlist membership change has to be reconciled against the active
// queue; everything else treats it as opaque.
const QueueSourceSongs = "songs"

func QueueSourcePlaylist(id int) string {
	return fmt.Sprintf("playlist:%d", id)
}

var (
	ErrEmptyQueue  = fmt.Errorf("player: queue is empty")
	ErrIndexOut    = fmt.Errorf("player: index out of range")
	ErrInvalidRate = fmt.Errorf("player: invalid rate")
	ErrInvalidMode = fmt.Errorf("player: invalid mode")
)

// Resolver turns a song into a playable stream URL. Implementations must
// not cache; a URL is only valid for the load that requested it.
type Resolver interface {
	ResolveStream(ctx context.Context, song *models.Song) (string, error)
}

// Output is the media sink. Load replaces whatever was playing. Loop is
// passed at load time and on mode changes so the sink can repeat the
// current song natively without a round trip.
type Output interface {
	Load(ctx context.Context, url string, rate float64, volume float64, loop bool) error
	Play(ctx context.Context) error
	Pause(ctx context.Context) error
	Stop(ctx context.Context) error
	Seek(ctx context.Context, position float64) error
	SetRate(ctx context.Context, rate float64) error
	SetVolume(ctx context.Context, volume float64) error
	SetMuted(ctx context.Context, muted bool) error
	SetLoop(ctx context.Context, loop bool) error
}

// Settings is the persisted slice of engine state. The queue itself is not
// persisted; settings survive restarts the way they survived page reloads.
type Settings struct {
	Mode   Mode    `json:"mode"`
	Rate   float64 `json:"rate"`
	Volume float64 `json:"volume"`
	Muted  bool    `json:"muted"`
}

type SettingsStore interface {
	LoadSettings() (*Settings, error)
	SaveSettings(*Settings) error
}

// Status is a point-in-time snapshot, safe to serialize.
type Status struct {
	State        State         `json:"state"`
	Mode         Mode          `json:"mode"`
	Rate         float64       `json:"rate"`
	Volume       float64       `json:"volume"`
	Muted        bool          `json:"muted"`
	Queue        []models.Song `json:"queue"`
	QueueSource  string        `json:"queue_source"`
	CurrentIndex int           `json:"current_index"`
	Position     float64       `json:"position"`
	Duration     float64       `json:"duration"`
}

// Current returns the song at the playhead, or nil when stopped.
func (s *Status) Current() *models.Song {
	if s.State == StateStopped || s.CurrentIndex < 0 || s.CurrentIndex >= len(s.Queue) {
		return nil
	}

	return &s.Queue[s.CurrentIndex]
}

type Engine struct {
	mu sync.Mutex

	resolver Resolver
	output   Output
	settings SettingsStore
	onChange func(Status)
	randInt  func(n int) int

	state        State
	mode         Mode
	rate         float64
	volume       float64
	muted        bool
	queue        []models.Song
	queueSource  string
	currentIndex int
	position     float64
	duration     float64

	// loadID increments on every load and stop. A resolution that finishes
	// carrying an old loadID is discarded.
	loadID uint64
}

type Option func(*Engine)

// WithOnChange registers a callback invoked with a status snapshot after
// every state transition, outside the engine lock.
func WithOnChange(fn func(Status)) Option {
	return func(e *Engine) { e.onChange = fn }
}

// WithRandInt replaces the shuffle source.
func WithRandInt(fn func(n int) int) Option {
	return func(e *Engine) { e.randInt = fn }
}

func New(resolver Resolver, output Output, settings SettingsStore, opts ...Option) (*Engine, error) {
	e := &Engine{
		resolver:     resolver,
		output:       output,
		settings:     settings,
		randInt:      rand.Intn,
		state:        StateStopped,
		mode:         ModeOrder,
		rate:         1,
		volume:       1,
		currentIndex: -1,
	}

	for _, opt := range opts {
		opt(e)
	}

	if settings != nil {
		saved, err := settings.LoadSettings()
		if err != nil {
			return nil, fmt.Errorf("player.New: %w", err)
		}

		if saved != nil {
			if err := validMode(saved.Mode); err == nil {
				e.mode = saved.Mode
			}
			if err := validRate(saved.Rate); err == nil {
				e.rate = saved.Rate
			}
			if saved.Volume >= 0 && saved.Volume <= 1 {
				e.volume = saved.Volume
			}
			e.muted = saved.Muted
		}
	}

	return e, nil
}

func validRate(rate float64) error {
	for _, r := range Rates {
		if r == rate {
			return nil
		}
	}

	return fmt.Errorf("%w: %v", ErrInvalidRate, rate)
}

func validMode(mode Mode) error {
	switch mode {
	case ModeOrder, ModeLoop, ModeRandom:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}
}

func (e *Engine) snapshotLocked() Status {
	queue := make([]models.Song, len(e.queue))
	copy(queue, e.queue)

	return Status{
		State:        e.state,
		Mode:         e.mode,
		Rate:         e.rate,
		Volume:       e.volume,
		Muted:        e.muted,
		Queue:        queue,
		QueueSource:  e.queueSource,
		CurrentIndex: e.currentIndex,
		Position:     e.position,
		Duration:     e.duration,
	}
}

func (e *Engine) notify(st Status) {
	if e.onChange != nil {
		e.onChange(st)
	}
}

func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.snapshotLocked()
}

// SetQueue replaces the queue without touching the playhead. Whatever is
// playing keeps playing; the next skip operates on the new queue.
func (e *Engine) SetQueue(ctx context.Context, source string, songs []models.Song) error {
	e.mu.Lock()

	e.queue = make([]models.Song, len(songs))
	copy(e.queue, songs)
	e.queueSource = source

	st := e.snapshotLocked()
	e.mu.Unlock()

	e.notify(st)

	return nil
}

// Play starts the song at index. Asking for the index already at the
// playhead toggles between playing and paused instead of reloading.
func (e *Engine) Play(ctx context.Context, index int) error {
	e.mu.Lock()

	if len(e.queue) == 0 {
		e.mu.Unlock()
		return ErrEmptyQueue
	}
	if index < 0 || index >= len(e.queue) {
		e.mu.Unlock()
		return fmt.Errorf("%w: %d of %d", ErrIndexOut, index, len(e.queue))
	}

	if index == e.currentIndex {
		switch e.state {
		case StatePlaying:
			return e.pauseLocked(ctx)
		case StatePaused:
			return e.resumeLocked(ctx)
		case StateLoading:
			e.mu.Unlock()
			return nil
		}
	}

	return e.loadLocked(ctx, index)
}

// loadLocked resolves and loads e.queue[index]. It is entered holding the
// lock and releases it before the blocking resolve, reacquiring to apply
// the result only if no newer load or stop has happened in the meantime.
func (e *Engine) loadLocked(ctx context.Context, index int) error {
	e.loadID++
	id := e.loadID

	song := e.queue[index]
	e.currentIndex = index
	e.state = StateLoading
	e.position = 0
	e.duration = float64(song.Duration)

	st := e.snapshotLocked()
	e.mu.Unlock()

	e.notify(st)

	url, err := e.resolver.ResolveStream(ctx, &song)

	e.mu.Lock()
	if e.loadID != id {
		e.mu.Unlock()

		ctxlogger.GetLogger(ctx).WithField("song_id", song.ID).Debug("player: discarding stale load")

		return nil
	}

	if err != nil {
		e.state = StatePaused
		st := e.snapshotLocked()
		e.mu.Unlock()

		e.notify(st)

		return fmt.Errorf("player.Engine.load: %w", err)
	}

	rate, volume, loop := e.rate, e.volume, e.mode == ModeLoop
	e.mu.Unlock()

	if err := e.output.Load(ctx, url, rate, volume, loop); err != nil {
		e.mu.Lock()
		if e.loadID == id {
			e.state = StatePaused
		}
		st := e.snapshotLocked()
		e.mu.Unlock()

		e.notify(st)

		return fmt.Errorf("player.Engine.load: %w", err)
	}

	e.mu.Lock()
	if e.loadID != id {
		e.mu.Unlock()
		return nil
	}
	e.state = StatePlaying
	st = e.snapshotLocked()
	e.mu.Unlock()

	e.notify(st)

	return nil
}

func (e *Engine) pauseLocked(ctx context.Context) error {
	e.state = StatePaused
	st := e.snapshotLocked()
	e.mu.Unlock()

	e.notify(st)

	if err := e.output.Pause(ctx); err != nil {
		return fmt.Errorf("player.Engine.pause: %w", err)
	}

	return nil
}

func (e *Engine) resumeLocked(ctx context.Context) error {
	e.state = StatePlaying
	st := e.snapshotLocked()
	e.mu.Unlock()

	e.notify(st)

	if err := e.output.Play(ctx); err != nil {
		return fmt.Errorf("player.Engine.resume: %w", err)
	}

	return nil
}

func (e *Engine) Pause(ctx context.Context) error {
	e.mu.Lock()

	if e.state != StatePlaying {
		e.mu.Unlock()
		return nil
	}

	return e.pauseLocked(ctx)
}

func (e *Engine) Resume(ctx context.Context) error {
	e.mu.Lock()

	if e.state != StatePaused {
		e.mu.Unlock()
		return nil
	}

	return e.resumeLocked(ctx)
}

// Stop halts playback and clears the playhead. The queue is kept.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()

	e.loadID++
	e.state = StateStopped
	e.currentIndex = -1
	e.position = 0
	e.duration = 0

	st := e.snapshotLocked()
	e.mu.Unlock()

	e.notify(st)

	if err := e.output.Stop(ctx); err != nil {
		return fmt.Errorf("player.Engine.Stop: %w", err)
	}

	return nil
}

// Next advances the playhead. A manual skip always moves forward, even in
// loop mode; only automatic advancement respects looping.
func (e *Engine) Next(ctx context.Context) error {
	e.mu.Lock()

	index, ok := e.nextIndexLocked(true)
	if !ok {
		e.mu.Unlock()
		return ErrEmptyQueue
	}

	return e.loadLocked(ctx, index)
}

func (e *Engine) Prev(ctx context.Context) error {
	e.mu.Lock()

	index, ok := e.prevIndexLocked()
	if !ok {
		e.mu.Unlock()
		return ErrEmptyQueue
	}

	return e.loadLocked(ctx, index)
}

// nextIndexLocked picks the next playhead position. Manual skips treat loop
// mode as ordered. Random never repeats the current song unless it is the
// only one.
func (e *Engine) nextIndexLocked(manual bool) (int, bool) {
	n := len(e.queue)
	if n == 0 {
		return 0, false
	}

	switch {
	case e.mode == ModeRandom:
		return e.randomIndexLocked(n), true
	case e.mode == ModeLoop && !manual:
		if e.currentIndex < 0 {
			return 0, true
		}
		return e.currentIndex, true
	default:
		return (e.currentIndex + 1) % n, true
	}
}

// prevIndexLocked picks the preceding playhead position. Random skips
// backward are still random draws; loop is ordered, same as a manual next.
func (e *Engine) prevIndexLocked() (int, bool) {
	n := len(e.queue)
	if n == 0 {
		return 0, false
	}

	if e.mode == ModeRandom {
		return e.randomIndexLocked(n), true
	}

	index := e.currentIndex - 1
	if index < 0 {
		index = n - 1
	}

	return index, true
}

func (e *Engine) randomIndexLocked(n int) int {
	if n == 1 {
		return 0
	}

	for {
		index := e.randInt(n)
		if index != e.currentIndex {
			return index
		}
	}
}

func (e *Engine) SetMode(ctx context.Context, mode Mode) error {
	if err := validMode(mode); err != nil {
		return err
	}

	e.mu.Lock()
	e.mode = mode
	loop := mode == ModeLoop
	st := e.snapshotLocked()
	e.mu.Unlock()

	e.persistSettings(ctx)
	e.notify(st)

	if err := e.output.SetLoop(ctx, loop); err != nil {
		return fmt.Errorf("player.Engine.SetMode: %w", err)
	}

	return nil
}

// CycleMode steps order -> loop -> random -> order.
func (e *Engine) CycleMode(ctx context.Context) (Mode, error) {
	e.mu.Lock()
	var next Mode
	switch e.mode {
	case ModeOrder:
		next = ModeLoop
	case ModeLoop:
		next = ModeRandom
	default:
		next = ModeOrder
	}
	e.mu.Unlock()

	if err := e.SetMode(ctx, next); err != nil {
		return "", err
	}

	return next, nil
}

func (e *Engine) SetRate(ctx context.Context, rate float64) error {
	if err := validRate(rate); err != nil {
		return err
	}

	e.mu.Lock()
	e.rate = rate
	st := e.snapshotLocked()
	e.mu.Unlock()

	e.persistSettings(ctx)
	e.notify(st)

	if err := e.output.SetRate(ctx, rate); err != nil {
		return fmt.Errorf("player.Engine.SetRate: %w", err)
	}

	return nil
}

// CycleRate steps 1 -> 1.5 -> 2 -> 0.5 -> 1.
func (e *Engine) CycleRate(ctx context.Context) (float64, error) {
	e.mu.Lock()
	next := Rates[0]
	for i, r := range Rates {
		if r == e.rate {
			next = Rates[(i+1)%len(Rates)]
			break
		}
	}
	e.mu.Unlock()

	if err := e.SetRate(ctx, next); err != nil {
		return 0, err
	}

	return next, nil
}

func (e *Engine) SetVolume(ctx context.Context, volume float64) error {
	if volume < 0 || volume > 1 {
		return fmt.Errorf("player: volume %v out of range", volume)
	}

	e.mu.Lock()
	e.volume = volume
	st := e.snapshotLocked()
	e.mu.Unlock()

	e.persistSettings(ctx)
	e.notify(st)

	if err := e.output.SetVolume(ctx, volume); err != nil {
		return fmt.Errorf("player.Engine.SetVolume: %w", err)
	}

	return nil
}

// Seek moves the playhead within the current song, clamped to the known
// duration. A seek while stopped is a no-op.
func (e *Engine) Seek(ctx context.Context, position float64) error {
	e.mu.Lock()

	if e.state == StateStopped {
		e.mu.Unlock()
		return nil
	}

	if position < 0 {
		position = 0
	}
	if e.duration > 0 && position > e.duration {
		position = e.duration
	}

	e.position = position
	st := e.snapshotLocked()
	e.mu.Unlock()

	e.notify(st)

	if err := e.output.Seek(ctx, position); err != nil {
		return fmt.Errorf("player.Engine.Seek: %w", err)
	}

	return nil
}

func (e *Engine) SetMuted(ctx context.Context, muted bool) error {
	e.mu.Lock()
	e.muted = muted
	st := e.snapshotLocked()
	e.mu.Unlock()

	e.persistSettings(ctx)
	e.notify(st)

	if err := e.output.SetMuted(ctx, muted); err != nil {
		return fmt.Errorf("player.Engine.SetMuted: %w", err)
	}

	return nil
}

func (e *Engine) persistSettings(ctx context.Context) {
	if e.settings == nil {
		return
	}

	e.mu.Lock()
	s := Settings{Mode: e.mode, Rate: e.rate, Volume: e.volume, Muted: e.muted}
	e.mu.Unlock()

	if err := e.settings.SaveSettings(&s); err != nil {
		ctxlogger.GetLogger(ctx).WithError(err).Warn("player: could not persist settings")
	}
}

// OnEnded is called by the output when the current song finishes. Loop mode
// repeats natively in the sink, so reaching here in loop mode means the
// sink did not loop and the song is replayed.
func (e *Engine) OnEnded(ctx context.Context) error {
	e.mu.Lock()

	if e.state != StatePlaying {
		e.mu.Unlock()
		return nil
	}

	index, ok := e.nextIndexLocked(false)
	if !ok {
		e.mu.Unlock()
		return nil
	}

	return e.loadLocked(ctx, index)
}

// OnError is called by the output when playback fails. The playhead stays
// where it is so the listener can retry or skip.
func (e *Engine) OnError(ctx context.Context, message string) {
	e.mu.Lock()

	if e.state == StateStopped {
		e.mu.Unlock()
		return
	}

	e.state = StatePaused
	st := e.snapshotLocked()
	e.mu.Unlock()

	ctxlogger.GetLogger(ctx).WithField("message", message).Warn("player: output reported error")

	e.notify(st)
}

// OnProgress is called by the output with playback position updates.
func (e *Engine) OnProgress(ctx context.Context, position, duration float64) {
	e.mu.Lock()

	if e.state == StateStopped {
		e.mu.Unlock()
		return
	}

	e.position = position
	if duration > 0 {
		e.duration = duration
	}
	st := e.snapshotLocked()
	e.mu.Unlock()

	e.notify(st)
}

// HandleSongRemoved reconciles the queue after a song is deleted from the
// collection. Deleting the current song stops playback and clears the
// queue; deleting any other song prunes it and keeps the playhead on the
// same song.
func (e *Engine) HandleSongRemoved(ctx context.Context, songID int) error {
	e.mu.Lock()
	return e.handleSongRemovedLocked(ctx, songID)
}

// HandlePlaylistSongRemoved reconciles the queue after a song leaves a
// playlist. Only the playlist currently acting as the queue source
// matters; removals from any other playlist leave playback alone.
func (e *Engine) HandlePlaylistSongRemoved(ctx context.Context, playlistID, songID int) error {
	e.mu.Lock()

	if e.queueSource != QueueSourcePlaylist(playlistID) {
		e.mu.Unlock()
		return nil
	}

	return e.handleSongRemovedLocked(ctx, songID)
}

// handleSongRemovedLocked is entered holding the lock and releases it.
func (e *Engine) handleSongRemovedLocked(ctx context.Context, songID int) error {
	if len(e.queue) == 0 {
		e.mu.Unlock()
		return nil
	}

	current := -1
	if e.currentIndex >= 0 && e.currentIndex < len(e.queue) {
		if e.queue[e.currentIndex].ID == songID {
			current = e.currentIndex
		}
	}

	if current >= 0 {
		e.loadID++
		e.state = StateStopped
		e.queue = nil
		e.queueSource = ""
		e.currentIndex = -1
		e.position = 0
		e.duration = 0

		st := e.snapshotLocked()
		e.mu.Unlock()

		e.notify(st)

		if err := e.output.Stop(ctx); err != nil {
			return fmt.Errorf("player.Engine.HandleSongRemoved: %w", err)
		}

		return nil
	}

	kept := e.queue[:0]
	removedBefore := 0
	for i, song := range e.queue {
		if song.ID == songID {
			if i < e.currentIndex {
				removedBefore++
			}
			continue
		}
		kept = append(kept, song)
	}
	e.queue = kept
	e.currentIndex -= removedBefore

	st := e.snapshotLocked()
	e.mu.Unlock()

	e.notify(st)

	return nil
}

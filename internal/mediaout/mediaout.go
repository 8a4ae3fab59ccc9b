// Package mediaout connects the playback engine to whatever is actually
// making sound. The audio element lives in an attached page; commands reach
// it over the event stream and the page reports media events back over the
// HTTP API.
package mediaout

import (
	"context"

	"fknsrs.biz/p/bilifm/internal/eventhub"
	"fknsrs.biz/p/bilifm/internal/player"
	"fknsrs.biz/p/bilifm/internal/ptr"
)

// Command is one instruction for the attached audio element.
type Command struct {
	Action   string   `json:"action"`
	URL      string   `json:"url,omitempty"`
	Position *float64 `json:"position,omitempty"`
	Rate     *float64 `json:"rate,omitempty"`
	Volume   *float64 `json:"volume,omitempty"`
	Muted    *bool    `json:"muted,omitempty"`
	Loop     *bool    `json:"loop,omitempty"`
}

type Output struct {
	hub *eventhub.Hub
}

var _ player.Output = (*Output)(nil)

func New(hub *eventhub.Hub) *Output {
	return &Output{hub: hub}
}

func (o *Output) publish(cmd Command) {
	o.hub.Publish(eventhub.TypePlayerCommand, cmd)
}

func (o *Output) Load(ctx context.Context, url string, rate, volume float64, loop bool) error {
	o.publish(Command{Action: "load", URL: url, Rate: ptr.Float64(rate), Volume: ptr.Float64(volume), Loop: ptr.Bool(loop)})
	return nil
}

func (o *Output) Play(ctx context.Context) error {
	o.publish(Command{Action: "play"})
	return nil
}

func (o *Output) Pause(ctx context.Context) error {
	o.publish(Command{Action: "pause"})
	return nil
}

func (o *Output) Stop(ctx context.Context) error {
	o.publish(Command{Action: "stop"})
	return nil
}

func (o *Output) Seek(ctx context.Context, position float64) error {
	o.publish(Command{Action: "seek", Position: ptr.Float64(position)})
	return nil
}

func (o *Output) SetRate(ctx context.Context, rate float64) error {
	o.publish(Command{Action: "rate", Rate: ptr.Float64(rate)})
	return nil
}

func (o *Output) SetVolume(ctx context.Context, volume float64) error {
	o.publish(Command{Action: "volume", Volume: ptr.Float64(volume)})
	return nil
}

func (o *Output) SetMuted(ctx context.Context, muted bool) error {
	o.publish(Command{Action: "muted", Muted: ptr.Bool(muted)})
	return nil
}

func (o *Output) SetLoop(ctx context.Context, loop bool) error {
	o.publish(Command{Action: "loop", Loop: ptr.Bool(loop)})
	return nil
}

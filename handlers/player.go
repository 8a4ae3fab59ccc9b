package handlers

import (
	"errors"
	"net/http"

	"fknsrs.biz/p/bilifm/internal/ctxplayer"
	"fknsrs.biz/p/bilifm/internal/ctxstore"
	"fknsrs.biz/p/bilifm/internal/httputil"
	"fknsrs.biz/p/bilifm/internal/player"
	"fknsrs.biz/p/bilifm/models"
	"fknsrs.biz/p/bilifm/store"
)

func PlayerStatus(rw http.ResponseWriter, r *http.Request) {
	e := ctxplayer.GetEngine(r.Context())

	httputil.WriteJSON(rw, http.StatusOK, e.Status())
}

// PlayerQueue replaces the playback queue. The queue can be given as
// explicit song ids or as a playlist id; ids that no longer resolve are
// skipped. Whatever is already playing keeps playing; pass an index to
// also start playback from the new queue.
func PlayerQueue(rw http.ResponseWriter, r *http.Request) {
	e := ctxplayer.GetEngine(r.Context())
	s := ctxstore.GetStore(r.Context())

	var input struct {
		SongIDs    []int `json:"song_ids"`
		PlaylistID *int  `json:"playlist_id"`
		Index      *int  `json:"index"`
	}

	if err := httputil.ReadJSON(r, &input); err != nil {
		httputil.WriteError(rw, http.StatusBadRequest, err.Error())
		return
	}

	songIDs := input.SongIDs
	source := player.QueueSourceSongs
	if input.PlaylistID != nil {
		playlist, err := s.GetPlaylist(r.Context(), *input.PlaylistID)
		if err != nil {
			if errors.Is(err, store.ErrPlaylistNotFound) {
				httputil.NotFound(rw, r)
				return
			}

			panic(err)
		}

		songIDs = playlist.SongIDs
		source = player.QueueSourcePlaylist(playlist.ID)
	}

	var songs []models.Song
	for _, id := range songIDs {
		song, err := s.GetSong(r.Context(), id)
		if err != nil {
			if errors.Is(err, store.ErrSongNotFound) {
				continue
			}

			panic(err)
		}

		songs = append(songs, *song)
	}

	if err := e.SetQueue(r.Context(), source, songs); err != nil {
		panic(err)
	}

	if input.Index != nil {
		if err := e.Play(r.Context(), *input.Index); err != nil {
			if errors.Is(err, player.ErrEmptyQueue) || errors.Is(err, player.ErrIndexOut) {
				httputil.WriteError(rw, http.StatusBadRequest, err.Error())
				return
			}

			panic(err)
		}
	}

	httputil.WriteJSON(rw, http.StatusOK, e.Status())
}

// PlayerPlay starts the song at the given queue index. Hitting the current
// song toggles between playing and paused.
func PlayerPlay(rw http.ResponseWriter, r *http.Request) {
	e := ctxplayer.GetEngine(r.Context())

	var input struct {
		Index int `json:"index"`
	}

	if err := httputil.ReadJSON(r, &input); err != nil {
		httputil.WriteError(rw, http.StatusBadRequest, err.Error())
		return
	}

	if err := e.Play(r.Context(), input.Index); err != nil {
		if errors.Is(err, player.ErrEmptyQueue) || errors.Is(err, player.ErrIndexOut) {
			httputil.WriteError(rw, http.StatusBadRequest, err.Error())
			return
		}

		panic(err)
	}

	httputil.WriteJSON(rw, http.StatusOK, e.Status())
}

func PlayerPause(rw http.ResponseWriter, r *http.Request) {
	e := ctxplayer.GetEngine(r.Context())

	if err := e.Pause(r.Context()); err != nil {
		panic(err)
	}

	httputil.WriteJSON(rw, http.StatusOK, e.Status())
}

func PlayerResume(rw http.ResponseWriter, r *http.Request) {
	e := ctxplayer.GetEngine(r.Context())

	if err := e.Resume(r.Context()); err != nil {
		panic(err)
	}

	httputil.WriteJSON(rw, http.StatusOK, e.Status())
}

func PlayerStop(rw http.ResponseWriter, r *http.Request) {
	e := ctxplayer.GetEngine(r.Context())

	if err := e.Stop(r.Context()); err != nil {
		panic(err)
	}

	httputil.WriteJSON(rw, http.StatusOK, e.Status())
}

func PlayerNext(rw http.ResponseWriter, r *http.Request) {
	e := ctxplayer.GetEngine(r.Context())

	if err := e.Next(r.Context()); err != nil {
		if errors.Is(err, player.ErrEmptyQueue) {
			httputil.WriteError(rw, http.StatusBadRequest, err.Error())
			return
		}

		panic(err)
	}

	httputil.WriteJSON(rw, http.StatusOK, e.Status())
}

func PlayerPrev(rw http.ResponseWriter, r *http.Request) {
	e := ctxplayer.GetEngine(r.Context())

	if err := e.Prev(r.Context()); err != nil {
		if errors.Is(err, player.ErrEmptyQueue) {
			httputil.WriteError(rw, http.StatusBadRequest, err.Error())
			return
		}

		panic(err)
	}

	httputil.WriteJSON(rw, http.StatusOK, e.Status())
}

// PlayerSeek moves the playhead within the current song. The engine clamps
// the position to the known duration.
func PlayerSeek(rw http.ResponseWriter, r *http.Request) {
	e := ctxplayer.GetEngine(r.Context())

	var input struct {
		Position float64 `json:"position"`
	}

	if err := httputil.ReadJSON(r, &input); err != nil {
		httputil.WriteError(rw, http.StatusBadRequest, err.Error())
		return
	}

	if err := e.Seek(r.Context(), input.Position); err != nil {
		panic(err)
	}

	httputil.WriteJSON(rw, http.StatusOK, e.Status())
}

// PlayerMode sets the playback mode directly, or advances to the next one
// when the body is {"cycle": true}.
func PlayerMode(rw http.ResponseWriter, r *http.Request) {
	e := ctxplayer.GetEngine(r.Context())

	var input struct {
		Mode  player.Mode `json:"mode"`
		Cycle bool        `json:"cycle"`
	}

	if err := httputil.ReadJSON(r, &input); err != nil {
		httputil.WriteError(rw, http.StatusBadRequest, err.Error())
		return
	}

	if input.Cycle {
		if _, err := e.CycleMode(r.Context()); err != nil {
			panic(err)
		}
	} else {
		if err := e.SetMode(r.Context(), input.Mode); err != nil {
			if errors.Is(err, player.ErrInvalidMode) {
				httputil.WriteError(rw, http.StatusBadRequest, err.Error())
				return
			}

			panic(err)
		}
	}

	httputil.WriteJSON(rw, http.StatusOK, e.Status())
}

// PlayerRate sets the playback rate directly, or advances to the next one
// when the body is {"cycle": true}.
func PlayerRate(rw http.ResponseWriter, r *http.Request) {
	e := ctxplayer.GetEngine(r.Context())

	var input struct {
		Rate  float64 `json:"rate"`
		Cycle bool    `json:"cycle"`
	}

	if err := httputil.ReadJSON(r, &input); err != nil {
		httputil.WriteError(rw, http.StatusBadRequest, err.Error())
		return
	}

	if input.Cycle {
		if _, err := e.CycleRate(r.Context()); err != nil {
			panic(err)
		}
	} else {
		if err := e.SetRate(r.Context(), input.Rate); err != nil {
			if errors.Is(err, player.ErrInvalidRate) {
				httputil.WriteError(rw, http.StatusBadRequest, err.Error())
				return
			}

			panic(err)
		}
	}

	httputil.WriteJSON(rw, http.StatusOK, e.Status())
}

func PlayerVolume(rw http.ResponseWriter, r *http.Request) {
	e := ctxplayer.GetEngine(r.Context())

	var input struct {
		Volume float64 `json:"volume"`
	}

	if err := httputil.ReadJSON(r, &input); err != nil {
		httputil.WriteError(rw, http.StatusBadRequest, err.Error())
		return
	}

	if err := e.SetVolume(r.Context(), input.Volume); err != nil {
		httputil.WriteError(rw, http.StatusBadRequest, err.Error())
		return
	}

	httputil.WriteJSON(rw, http.StatusOK, e.Status())
}

func PlayerMuted(rw http.ResponseWriter, r *http.Request) {
	e := ctxplayer.GetEngine(r.Context())

	var input struct {
		Muted bool `json:"muted"`
	}

	if err := httputil.ReadJSON(r, &input); err != nil {
		httputil.WriteError(rw, http.StatusBadRequest, err.Error())
		return
	}

	if err := e.SetMuted(r.Context(), input.Muted); err != nil {
		panic(err)
	}

	httputil.WriteJSON(rw, http.StatusOK, e.Status())
}

// PlayerMediaEvent is how the attached audio element reports back: the
// current song finished, failed, or moved forward.
func PlayerMediaEvent(rw http.ResponseWriter, r *http.Request) {
	e := ctxplayer.GetEngine(r.Context())

	var input struct {
		Type     string  `json:"type"`
		Message  string  `json:"message"`
		Position float64 `json:"position"`
		Duration float64 `json:"duration"`
	}

	if err := httputil.ReadJSON(r, &input); err != nil {
		httputil.WriteError(rw, http.StatusBadRequest, err.Error())
		return
	}

	switch input.Type {
	case "ended":
		if err := e.OnEnded(r.Context()); err != nil {
			panic(err)
		}
	case "error":
		e.OnError(r.Context(), input.Message)
	case "progress":
		e.OnProgress(r.Context(), input.Position, input.Duration)
	default:
		httputil.WriteError(rw, http.StatusBadRequest, "unrecognised media event type")
		return
	}

	httputil.WriteJSON(rw, http.StatusOK, e.Status())
}

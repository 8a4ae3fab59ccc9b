package handlers

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/gost/godata"
	"github.com/monoculum/formam"

	"fknsrs.biz/p/bilifm/internal/archiver"
	"fknsrs.biz/p/bilifm/internal/biliurl"
	"fknsrs.biz/p/bilifm/internal/ctxdb"
	"fknsrs.biz/p/bilifm/internal/ctxeventhub"
	"fknsrs.biz/p/bilifm/internal/ctxjobqueue"
	"fknsrs.biz/p/bilifm/internal/ctxplayer"
	"fknsrs.biz/p/bilifm/internal/ctxstore"
	"fknsrs.biz/p/bilifm/internal/eventhub"
	"fknsrs.biz/p/bilifm/internal/httputil"
	"fknsrs.biz/p/bilifm/internal/jobqueue"
	"fknsrs.biz/p/bilifm/internal/queuenames"
	"fknsrs.biz/p/bilifm/store"
)

// Songs lists the collection. OData-style $filter, $orderby, $skip, and
// $top are supported.
func Songs(rw http.ResponseWriter, r *http.Request) {
	s := ctxstore.GetStore(r.Context())

	var q *godata.GoDataQuery
	if len(r.URL.Query()) > 0 {
		parsed, err := godata.ParseUrlQuery(r.URL.Query())
		if err != nil {
			httputil.WriteError(rw, http.StatusBadRequest, err.Error())
			return
		}
		q = parsed
	}

	songs, err := s.SearchSongs(r.Context(), q)
	if err != nil {
		panic(err)
	}

	httputil.WriteJSON(rw, http.StatusOK, map[string]interface{}{"songs": songs})
}

// SongsCollect accepts one or more video URLs or BV ids and queues
// collection jobs for them. It takes JSON or a form post.
func SongsCollect(rw http.ResponseWriter, r *http.Request) {
	var input struct {
		URLsOrIDs string `json:"urls_or_ids" formam:"urls_or_ids"`
	}

	if r.Header.Get("content-type") == "application/x-www-form-urlencoded" {
		if err := r.ParseForm(); err != nil {
			panic(err)
		}

		if err := formam.Decode(r.PostForm, &input); err != nil {
			panic(err)
		}
	} else {
		if err := httputil.ReadJSON(r, &input); err != nil {
			httputil.WriteError(rw, http.StatusBadRequest, err.Error())
			return
		}
	}

	videos, err := biliurl.ExtractVideos(input.URLsOrIDs, false)
	if err != nil {
		httputil.WriteError(rw, http.StatusBadRequest, "could not extract video ids from input: "+err.Error())
		return
	}

	if len(videos) == 0 {
		httputil.WriteError(rw, http.StatusBadRequest, "no video ids found in input")
		return
	}

	if err := ctxdb.UsingTx(r.Context(), nil, func(ctx context.Context, tx *sql.Tx) error {
		for _, v := range videos {
			if err := ctxjobqueue.Add(ctx, tx, &jobqueue.Job{
				QueueName: queuenames.SongCollect,
				Payload:   jobqueue.FormatPayload(v.SourceID, url.Values{"page": {strconv.Itoa(v.Page)}}),
			}); err != nil {
				return err
			}
		}

		return nil
	}); err != nil {
		panic(err)
	}

	ctxeventhub.Publish(r.Context(), eventhub.TypeToast, fmt.Sprintf("%d songs will be collected soon", len(videos)))

	httputil.WriteJSON(rw, http.StatusAccepted, map[string]interface{}{"queued": len(videos)})
}

func Song(rw http.ResponseWriter, r *http.Request) {
	s := ctxstore.GetStore(r.Context())

	id, err := strconv.Atoi(mux.Vars(r)["id"])
	if err != nil {
		httputil.WriteError(rw, http.StatusBadRequest, "invalid song id")
		return
	}

	song, err := s.GetSong(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrSongNotFound) {
			httputil.NotFound(rw, r)
			return
		}

		panic(err)
	}

	httputil.WriteJSON(rw, http.StatusOK, song)
}

// SongDelete removes a song from the collection. Playlist memberships are
// pruned and the playback engine is told so it can react if the song is in
// the queue.
func SongDelete(rw http.ResponseWriter, r *http.Request) {
	s := ctxstore.GetStore(r.Context())

	id, err := strconv.Atoi(mux.Vars(r)["id"])
	if err != nil {
		httputil.WriteError(rw, http.StatusBadRequest, "invalid song id")
		return
	}

	if err := s.DeleteSong(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrSongNotFound) {
			httputil.NotFound(rw, r)
			return
		}

		panic(err)
	}

	if e := ctxplayer.GetEngine(r.Context()); e != nil {
		if err := e.HandleSongRemoved(r.Context(), id); err != nil {
			panic(err)
		}
	}

	ctxeventhub.Publish(r.Context(), eventhub.TypeSongUpdate, map[string]interface{}{"deleted": id})
	ctxeventhub.Publish(r.Context(), eventhub.TypePlaylistUpdate, nil)

	httputil.WriteJSON(rw, http.StatusOK, map[string]interface{}{"deleted": id})
}

// SongsAudioZip streams a zip of every converted song.
func SongsAudioZip(rw http.ResponseWriter, r *http.Request) {
	s := ctxstore.GetStore(r.Context())

	songs, err := s.ListSongs(r.Context())
	if err != nil {
		panic(err)
	}

	rw.Header().Set("content-type", "application/x-zip")
	rw.Header().Set("content-disposition", "attachment;filename=Audio.zip")
	rw.WriteHeader(http.StatusOK)

	if err := archiver.SongZipAudio(r.Context(), rw, songs); err != nil {
		panic(err)
	}
}

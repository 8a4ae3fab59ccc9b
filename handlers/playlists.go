package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"fknsrs.biz/p/bilifm/internal/archiver"
	"fknsrs.biz/p/bilifm/internal/ctxeventhub"
	"fknsrs.biz/p/bilifm/internal/ctxplayer"
	"fknsrs.biz/p/bilifm/internal/ctxstore"
	"fknsrs.biz/p/bilifm/internal/eventhub"
	"fknsrs.biz/p/bilifm/internal/httputil"
	"fknsrs.biz/p/bilifm/models"
	"fknsrs.biz/p/bilifm/store"
)

func Playlists(rw http.ResponseWriter, r *http.Request) {
	s := ctxstore.GetStore(r.Context())

	playlists, err := s.ListPlaylists(r.Context())
	if err != nil {
		panic(err)
	}

	httputil.WriteJSON(rw, http.StatusOK, map[string]interface{}{"playlists": playlists})
}

func PlaylistCreate(rw http.ResponseWriter, r *http.Request) {
	s := ctxstore.GetStore(r.Context())

	var input struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}

	if err := httputil.ReadJSON(r, &input); err != nil {
		httputil.WriteError(rw, http.StatusBadRequest, err.Error())
		return
	}

	if input.Name == "" {
		httputil.WriteError(rw, http.StatusBadRequest, "playlist name is required")
		return
	}

	playlist := models.Playlist{Name: input.Name, Description: input.Description}
	if err := s.CreatePlaylist(r.Context(), &playlist); err != nil {
		panic(err)
	}

	ctxeventhub.Publish(r.Context(), eventhub.TypePlaylistUpdate, nil)

	httputil.WriteJSON(rw, http.StatusCreated, playlist)
}

// playlistDetail is a playlist with its membership resolved to songs. Ids
// that no longer resolve are skipped.
type playlistDetail struct {
	models.Playlist
	Songs []models.Song `json:"songs"`
}

func resolvePlaylist(r *http.Request, s *store.Store, playlist *models.Playlist) (*playlistDetail, error) {
	detail := playlistDetail{Playlist: *playlist, Songs: []models.Song{}}

	for _, songID := range playlist.SongIDs {
		song, err := s.GetSong(r.Context(), songID)
		if err != nil {
			if errors.Is(err, store.ErrSongNotFound) {
				continue
			}

			return nil, err
		}

		detail.Songs = append(detail.Songs, *song)
	}

	return &detail, nil
}

func Playlist(rw http.ResponseWriter, r *http.Request) {
	s := ctxstore.GetStore(r.Context())

	id, err := strconv.Atoi(mux.Vars(r)["id"])
	if err != nil {
		httputil.WriteError(rw, http.StatusBadRequest, "invalid playlist id")
		return
	}

	playlist, err := s.GetPlaylist(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrPlaylistNotFound) {
			httputil.NotFound(rw, r)
			return
		}

		panic(err)
	}

	detail, err := resolvePlaylist(r, s, playlist)
	if err != nil {
		panic(err)
	}

	httputil.WriteJSON(rw, http.StatusOK, detail)
}

func PlaylistDelete(rw http.ResponseWriter, r *http.Request) {
	s := ctxstore.GetStore(r.Context())

	id, err := strconv.Atoi(mux.Vars(r)["id"])
	if err != nil {
		httputil.WriteError(rw, http.StatusBadRequest, "invalid playlist id")
		return
	}

	if err := s.DeletePlaylist(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrPlaylistNotFound) {
			httputil.NotFound(rw, r)
			return
		}

		panic(err)
	}

	ctxeventhub.Publish(r.Context(), eventhub.TypePlaylistUpdate, nil)

	httputil.WriteJSON(rw, http.StatusOK, map[string]interface{}{"deleted": id})
}

func playlistAndSongIDs(r *http.Request) (int, int, error) {
	vars := mux.Vars(r)

	playlistID, err := strconv.Atoi(vars["id"])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid playlist id")
	}

	songID, err := strconv.Atoi(vars["songID"])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid song id")
	}

	return playlistID, songID, nil
}

// PlaylistAddSong adds a song to a playlist. Adding a song that is already
// a member succeeds without change.
func PlaylistAddSong(rw http.ResponseWriter, r *http.Request) {
	s := ctxstore.GetStore(r.Context())

	playlistID, songID, err := playlistAndSongIDs(r)
	if err != nil {
		httputil.WriteError(rw, http.StatusBadRequest, err.Error())
		return
	}

	if _, err := s.GetSong(r.Context(), songID); err != nil {
		if errors.Is(err, store.ErrSongNotFound) {
			httputil.NotFound(rw, r)
			return
		}

		panic(err)
	}

	if err := s.AddSongToPlaylist(r.Context(), playlistID, songID); err != nil {
		if errors.Is(err, store.ErrPlaylistNotFound) {
			httputil.NotFound(rw, r)
			return
		}

		panic(err)
	}

	ctxeventhub.Publish(r.Context(), eventhub.TypePlaylistUpdate, nil)

	httputil.WriteJSON(rw, http.StatusOK, map[string]interface{}{"playlist_id": playlistID, "song_id": songID})
}

func PlaylistRemoveSong(rw http.ResponseWriter, r *http.Request) {
	s := ctxstore.GetStore(r.Context())

	playlistID, songID, err := playlistAndSongIDs(r)
	if err != nil {
		httputil.WriteError(rw, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.RemoveSongFromPlaylist(r.Context(), playlistID, songID); err != nil {
		if errors.Is(err, store.ErrPlaylistNotFound) {
			httputil.NotFound(rw, r)
			return
		}

		panic(err)
	}

	if e := ctxplayer.GetEngine(r.Context()); e != nil {
		if err := e.HandlePlaylistSongRemoved(r.Context(), playlistID, songID); err != nil {
			panic(err)
		}
	}

	ctxeventhub.Publish(r.Context(), eventhub.TypePlaylistUpdate, nil)

	httputil.WriteJSON(rw, http.StatusOK, map[string]interface{}{"playlist_id": playlistID, "song_id": songID})
}

// PlaylistAudioZip streams a zip of the playlist's converted audio.
func PlaylistAudioZip(rw http.ResponseWriter, r *http.Request) {
	s := ctxstore.GetStore(r.Context())

	id, err := strconv.Atoi(mux.Vars(r)["id"])
	if err != nil {
		httputil.WriteError(rw, http.StatusBadRequest, "invalid playlist id")
		return
	}

	playlist, err := s.GetPlaylist(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrPlaylistNotFound) {
			httputil.NotFound(rw, r)
			return
		}

		panic(err)
	}

	detail, err := resolvePlaylist(r, s, playlist)
	if err != nil {
		panic(err)
	}

	rw.Header().Set("content-type", "application/x-zip")
	rw.Header().Set("content-disposition", fmt.Sprintf("attachment;filename=%s.zip", playlist.Name))
	rw.WriteHeader(http.StatusOK)

	if err := archiver.PlaylistZipAudio(r.Context(), rw, playlist, detail.Songs); err != nil {
		panic(err)
	}
}

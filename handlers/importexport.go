package handlers

import (
	"net/http"

	"fknsrs.biz/p/bilifm/internal/ctxeventhub"
	"fknsrs.biz/p/bilifm/internal/ctxstore"
	"fknsrs.biz/p/bilifm/internal/eventhub"
	"fknsrs.biz/p/bilifm/internal/httputil"
	"fknsrs.biz/p/bilifm/store"
)

func Export(rw http.ResponseWriter, r *http.Request) {
	s := ctxstore.GetStore(r.Context())

	snapshot, err := s.ExportAll(r.Context())
	if err != nil {
		panic(err)
	}

	rw.Header().Set("content-disposition", "attachment;filename=bilifm-export.json")

	httputil.WriteJSON(rw, http.StatusOK, snapshot)
}

// Import merges an exported snapshot into the collection. Songs already
// present are skipped; playlists are always created.
func Import(rw http.ResponseWriter, r *http.Request) {
	s := ctxstore.GetStore(r.Context())

	var snapshot store.Snapshot
	if err := httputil.ReadJSON(r, &snapshot); err != nil {
		httputil.WriteError(rw, http.StatusBadRequest, err.Error())
		return
	}

	res, err := s.ImportBulk(r.Context(), &snapshot)
	if err != nil {
		panic(err)
	}

	ctxeventhub.Publish(r.Context(), eventhub.TypeSongUpdate, nil)
	ctxeventhub.Publish(r.Context(), eventhub.TypePlaylistUpdate, nil)

	httputil.WriteJSON(rw, http.StatusOK, res)
}

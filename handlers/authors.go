package handlers

import (
	"net/http"

	"fknsrs.biz/p/bilifm/internal/ctxstore"
	"fknsrs.biz/p/bilifm/internal/httputil"
)

// Authors lists uploaders aggregated across the collection.
func Authors(rw http.ResponseWriter, r *http.Request) {
	s := ctxstore.GetStore(r.Context())

	authors, err := s.ListAuthors(r.Context())
	if err != nil {
		panic(err)
	}

	httputil.WriteJSON(rw, http.StatusOK, map[string]interface{}{"authors": authors})
}

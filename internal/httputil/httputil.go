package httputil

import (
	"encoding/json"
	"fmt"
	"net/http"
)

func WriteJSON(rw http.ResponseWriter, statusCode int, v interface{}) {
	rw.Header().Set("content-type", "application/json; charset=utf-8")
	rw.WriteHeader(statusCode)

	if err := json.NewEncoder(rw).Encode(v); err != nil {
		panic(err)
	}
}

func WriteError(rw http.ResponseWriter, statusCode int, message string) {
	WriteJSON(rw, statusCode, map[string]interface{}{"error": message})
}

func ReadJSON(r *http.Request, v interface{}) error {
	defer r.Body.Close()

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("httputil.ReadJSON: %w", err)
	}

	return nil
}

func NotFound(rw http.ResponseWriter, r *http.Request) {
	WriteError(rw, http.StatusNotFound, "not found")
}

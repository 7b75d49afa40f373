package replay

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hazyhaar/horosreplay/kit"
)

// RegisterHTTP mounts the control API of the recorder on r:
//
//	GET  /api/v1/replay/status
//	POST /api/v1/replay/flush
//	POST /api/v1/replay/snapshot
//	POST /api/v1/replay/view-change   {"view_id": "..."}
//	POST /api/v1/replay/error         {"stack": "..."}
//	GET  /api/v1/replay/segments      ?session_id=&view_id=&limit=
//	GET  /api/v1/replay/segments/{id}
//
// The segment routes exist only when store is not nil.
func (rec *Recorder) RegisterHTTP(r chi.Router, store *Store) {
	r.Route("/api/v1/replay", func(r chi.Router) {
		r.Use(rec.withTransport)
		r.Get("/status", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, rec.Status())
		})
		r.Post("/flush", func(w http.ResponseWriter, _ *http.Request) {
			if err := rec.Flush(); err != nil {
				writeError(w, errorStatus(err), err)
				return
			}
			writeJSON(w, http.StatusOK, statusResponse{Status: "flushed"})
		})
		r.Post("/snapshot", func(w http.ResponseWriter, _ *http.Request) {
			if err := rec.TakeFullSnapshot(); err != nil {
				writeError(w, errorStatus(err), err)
				return
			}
			writeJSON(w, http.StatusOK, statusResponse{Status: "snapshot taken"})
		})
		r.Post("/view-change", func(w http.ResponseWriter, req *http.Request) {
			var body viewChangeRequest
			if err := decodeBody(req, &body); err != nil {
				writeError(w, http.StatusBadRequest, err)
				return
			}
			id, err := rec.ViewChange(body.ViewID)
			if err != nil {
				writeError(w, errorStatus(err), err)
				return
			}
			rec.logger.Debug("replay: view change over http", "view", id, "request_id", kit.GetRequestID(req.Context()))
			writeJSON(w, http.StatusOK, viewChangeResponse{ViewID: id})
		})
		r.Post("/error", func(w http.ResponseWriter, req *http.Request) {
			var body errorRequest
			if err := decodeBody(req, &body); err != nil {
				writeError(w, http.StatusBadRequest, err)
				return
			}
			if err := rec.HandledError(body.Stack); err != nil {
				writeError(w, errorStatus(err), err)
				return
			}
			writeJSON(w, http.StatusOK, statusResponse{Status: "recorded"})
		})
		if store == nil {
			return
		}
		r.Get("/segments", func(w http.ResponseWriter, req *http.Request) {
			q := req.URL.Query()
			list, err := store.List(req.Context(), StoreFilter{
				SessionID: q.Get("session_id"),
				ViewID:    q.Get("view_id"),
				Limit:     queryInt(req, "limit", 100),
			})
			if err != nil {
				writeError(w, http.StatusInternalServerError, err)
				return
			}
			writeJSON(w, http.StatusOK, list)
		})
		r.Get("/segments/{id}", func(w http.ResponseWriter, req *http.Request) {
			body, err := store.Get(req.Context(), chi.URLParam(req, "id"))
			if errors.Is(err, ErrSegmentNotFound) {
				writeError(w, http.StatusNotFound, err)
				return
			}
			if err != nil {
				writeError(w, http.StatusInternalServerError, err)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			w.Write(body)
		})
	})
}

// withTransport tags the request context for the endpoint logs.
func (rec *Recorder) withTransport(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		ctx := kit.WithSessionID(kit.WithTransport(req.Context(), "http"), rec.sessionID)
		if id := middleware.GetReqID(ctx); id != "" {
			ctx = kit.WithRequestID(ctx, id)
		}
		next.ServeHTTP(w, req.WithContext(ctx))
	})
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, ErrNotRecording):
		return http.StatusConflict
	case errors.Is(err, ErrClosed):
		return http.StatusGone
	default:
		return http.StatusInternalServerError
	}
}

// decodeBody reads an optional JSON body.
func decodeBody(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func queryInt(r *http.Request, key string, def int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}

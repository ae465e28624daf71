package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/jmgilman/go/errors"

	"github.com/jonwraymond/sitesync/cache"
	"github.com/jonwraymond/sitesync/envelope"
	"github.com/jonwraymond/sitesync/model"
	"github.com/jonwraymond/sitesync/observe"
	"github.com/jonwraymond/sitesync/store"
)

// HeaderCache reports whether a read was served from cache.
const HeaderCache = "X-Cache"

func writeError(w http.ResponseWriter, err error) {
	envelope.WriteError(w, err)
}

func writeData(w http.ResponseWriter, status int, data any, p *envelope.Pagination) {
	env, err := envelope.OK(data, p)
	if err != nil {
		writeError(w, err)
		return
	}
	envelope.Write(w, status, env)
}

// writeCached sends a read-through result with its X-Cache header.
func writeCached(w http.ResponseWriter, body []byte, res cache.Result) {
	if res == cache.Hit {
		w.Header().Set(HeaderCache, "HIT")
	} else {
		w.Header().Set(HeaderCache, "MISS")
	}
	envelope.WriteRaw(w, http.StatusOK, body)
}

func encode(data any, p *envelope.Pagination) ([]byte, error) {
	env, err := envelope.OK(data, p)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

func collectionOf(r *http.Request) (model.Kind, error) {
	name := r.PathValue("collection")
	k, ok := model.Lookup(name)
	if !ok {
		return k, errors.WithContext(errors.Newf(errors.CodeNotFound, "unknown collection %q", name), "collection", name)
	}
	return k, nil
}

// listQuery reads page, limit and equality filters from the query string.
func listQuery(r *http.Request) (store.ListQuery, error) {
	q := store.ListQuery{Filters: map[string]string{}}
	for key, vals := range r.URL.Query() {
		if len(vals) == 0 {
			continue
		}
		switch key {
		case "page", "limit":
			n, err := strconv.Atoi(vals[0])
			if err != nil {
				return q, errors.WithContext(errors.Newf(errors.CodeInvalidInput, "%s must be an integer", key), "param", key)
			}
			if key == "page" {
				q.Page = n
			} else {
				q.Limit = n
			}
		default:
			q.Filters[key] = vals[0]
		}
	}
	return q.Normalize()
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return errors.Wrap(err, errors.CodeInvalidInput, "request body must be valid JSON")
	}
	return nil
}

func (s *Server) list(w http.ResponseWriter, r *http.Request) {
	kind, err := collectionOf(r)
	if err != nil {
		writeError(w, err)
		return
	}
	q, err := listQuery(r)
	if err != nil {
		writeError(w, err)
		return
	}

	key := s.responses.keys.ListKey(kind.Name, q.Filters["projectId"], q.Page, q.Limit, q.Filters)
	body, res, err := s.responses.reads[kind.Name].Get(r.Context(), key, func(ctx context.Context) ([]byte, error) {
		page, err := s.repo.List(ctx, kind.Name, q)
		if err != nil {
			return nil, err
		}
		return encode(page.Items, envelope.NewPagination(q.Page, q.Limit, page.Total))
	}, 0)
	if err != nil {
		writeError(w, err)
		return
	}
	writeCached(w, body, res)
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	kind, err := collectionOf(r)
	if err != nil {
		writeError(w, err)
		return
	}
	projectID := r.URL.Query().Get("projectId")

	key := s.responses.keys.StatsKey(kind.Name, projectID, nil)
	body, res, err := s.responses.stats.Get(r.Context(), key, func(ctx context.Context) ([]byte, error) {
		st, err := s.repo.Stats(ctx, kind.Name, projectID)
		if err != nil {
			return nil, err
		}
		return encode(st, nil)
	}, 0)
	if err != nil {
		writeError(w, err)
		return
	}
	writeCached(w, body, res)
}

func (s *Server) get(w http.ResponseWriter, r *http.Request) {
	kind, err := collectionOf(r)
	if err != nil {
		writeError(w, err)
		return
	}
	id := r.PathValue("id")

	key := s.responses.keys.RecordKey(kind.Name, id)
	body, res, err := s.responses.reads[kind.Name].Get(r.Context(), key, func(ctx context.Context) ([]byte, error) {
		rec, err := s.repo.Get(ctx, kind.Name, id)
		if err != nil {
			return nil, err
		}
		return encode(rec, nil)
	}, 0)
	if err != nil {
		writeError(w, err)
		return
	}
	writeCached(w, body, res)
}

func (s *Server) create(w http.ResponseWriter, r *http.Request) {
	kind, err := collectionOf(r)
	if err != nil {
		writeError(w, err)
		return
	}
	rec := kind.New()
	if err := decodeBody(w, r, rec); err != nil {
		writeError(w, err)
		return
	}

	created, err := s.repo.Create(r.Context(), kind.Name, rec)
	if err != nil {
		writeError(w, err)
		return
	}
	s.responses.invalidate(kind.Name, created.GetID(), created.Scope())
	s.logMutation(r, "created", kind.Name, created.GetID())
	writeData(w, http.StatusCreated, created, nil)
}

func (s *Server) update(w http.ResponseWriter, r *http.Request) {
	kind, err := collectionOf(r)
	if err != nil {
		writeError(w, err)
		return
	}
	id := r.PathValue("id")
	var patch model.Patch
	if err := decodeBody(w, r, &patch); err != nil {
		writeError(w, err)
		return
	}

	after, before, err := s.repo.Update(r.Context(), kind.Name, id, patch)
	if err != nil {
		writeError(w, err)
		return
	}
	s.responses.invalidate(kind.Name, id, before.Scope(), after.Scope())
	s.logMutation(r, "updated", kind.Name, id)
	writeData(w, http.StatusOK, after, nil)
}

func (s *Server) delete(w http.ResponseWriter, r *http.Request) {
	kind, err := collectionOf(r)
	if err != nil {
		writeError(w, err)
		return
	}
	id := r.PathValue("id")

	removed, err := s.repo.Delete(r.Context(), kind.Name, id)
	if err != nil {
		writeError(w, err)
		return
	}
	s.responses.invalidate(kind.Name, id, removed.Scope())
	s.logMutation(r, "deleted", kind.Name, id)
	writeData(w, http.StatusOK, removed, nil)
}

func (s *Server) addPhoto(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var photo model.Photo
	if err := decodeBody(w, r, &photo); err != nil {
		writeError(w, err)
		return
	}

	dl, err := s.repo.AddPhoto(r.Context(), id, photo)
	if err != nil {
		writeError(w, err)
		return
	}
	s.responses.invalidate(model.DailyLogs, id, dl.Scope())
	s.logMutation(r, "photo attached", model.DailyLogs, id)
	writeData(w, http.StatusCreated, dl, nil)
}

func (s *Server) logMutation(r *http.Request, what, collection, id string) {
	s.log.Debug(r.Context(), "record "+what,
		observe.Field{Key: "collection", Value: collection},
		observe.Field{Key: "id", Value: id})
}

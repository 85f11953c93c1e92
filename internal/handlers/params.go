package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/diewo77/go-prefacturation/internal/models"
	"github.com/diewo77/go-prefacturation/internal/services"
	"github.com/diewo77/go-prefacturation/internal/store"
	"github.com/diewo77/go-prefacturation/validation"
)

const maxLimit = 200

// pathID parses the {id} path value.
func pathID(r *http.Request) (uint, error) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil || id == 0 {
		return 0, &services.ValidationError{Fields: validation.Violations{"id": "invalid_id"}}
	}
	return uint(id), nil
}

// actor returns fallback, or the X-Actor header when fallback is empty.
func actor(r *http.Request, fallback string) string {
	if fallback != "" {
		return fallback
	}
	return r.Header.Get("X-Actor")
}

func queryInt(r *http.Request, key string, v validation.Violations) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		v[key] = "invalid_number"
		return 0
	}
	return n
}

// pageParams reads sort, desc, skip and limit.
func pageParams(r *http.Request, v validation.Violations) store.Page {
	q := r.URL.Query()
	p := store.Page{
		Sort: q.Get("sort"),
		Desc: q.Get("desc") == "true" || q.Get("desc") == "1",
		Skip: queryInt(r, "skip", v),
	}
	p.Limit = queryInt(r, "limit", v)
	if p.Limit == 0 || p.Limit > maxLimit {
		p.Limit = maxLimit
	}
	return p
}

// prefacturationFilter reads carrier_id, client_id, status (comma separated,
// legacy labels accepted), month, year and paging.
func prefacturationFilter(r *http.Request) (store.PrefacturationFilter, error) {
	q := r.URL.Query()
	v := validation.Violations{}
	f := store.PrefacturationFilter{
		CarrierID: q.Get("carrier_id"),
		ClientID:  q.Get("client_id"),
		Month:     queryInt(r, "month", v),
		Year:      queryInt(r, "year", v),
		Page:      pageParams(r, v),
	}
	if raw := q.Get("status"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			st, ok := models.ParseStatus(s)
			if !ok {
				v["status"] = "invalid_value"
				break
			}
			f.Statuses = append(f.Statuses, st)
		}
	}
	if !v.Empty() {
		return f, &services.ValidationError{Fields: v}
	}
	return f, nil
}

type listResponse[T any] struct {
	Items []T   `json:"items"`
	Total int64 `json:"total"`
}

func list[T any](items []T, total int64) listResponse[T] {
	if items == nil {
		items = []T{}
	}
	return listResponse[T]{Items: items, Total: total}
}

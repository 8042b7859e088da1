package routes

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mbolis/sensing-survey/model"
)

// special list value lifting the restriction of a list parameter
const listAll = "urn:ohmage:special:all"

// listParam reads a comma separated list. Absent parameters and listAll give
// nil, present but blank ones an empty list.
func listParam(q url.Values, name string) []string {
	if _, ok := q[name]; !ok {
		return nil
	}
	raw := strings.TrimSpace(q.Get(name))
	if raw == listAll {
		return nil
	}
	out := []string{}
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

var dateLayouts = []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"}

func parseDate(s string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q", s)
}

func dateParam(q url.Values, name string) (*time.Time, error) {
	s := q.Get(name)
	if s == "" {
		return nil, nil
	}
	t, err := parseDate(s)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return &t, nil
}

func uuidList(q url.Values, name string) ([]uuid.UUID, error) {
	keys := listParam(q, name)
	if keys == nil {
		return nil, nil
	}
	ids := make([]uuid.UUID, len(keys))
	for i, k := range keys {
		id, err := uuid.Parse(k)
		if err != nil {
			return nil, fmt.Errorf("%s: invalid id %q", name, k)
		}
		ids[i] = id
	}
	return ids, nil
}

func columnList(q url.Values, name string) ([]model.ColumnKey, error) {
	keys := listParam(q, name)
	if keys == nil {
		return nil, nil
	}
	columns := make([]model.ColumnKey, len(keys))
	for i, k := range keys {
		c, err := model.ParseColumnKey(k)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		columns[i] = c
	}
	return columns, nil
}

func sortList(q url.Values, name string) ([]model.SortParameter, error) {
	keys := listParam(q, name)
	if keys == nil {
		return nil, nil
	}
	sort := make([]model.SortParameter, len(keys))
	for i, k := range keys {
		p, err := model.ParseSortParameter(k)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		sort[i] = p
	}
	return sort, nil
}

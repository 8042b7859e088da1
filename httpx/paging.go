package httpx

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// Paging describes one page of a result set, as requested through the
// SkipParam and CountParam query parameters.
type Paging struct {
	SkipParam  string
	CountParam string
	Skip       int
	// negative when the whole rest of the result set was requested
	Count int
	Total int
}

// ParsePaging reads the skip and count parameters of r. Missing parameters
// mean no skip and no limit.
func ParsePaging(r *http.Request, skipParam, countParam string) (Paging, error) {
	p := Paging{SkipParam: skipParam, CountParam: countParam, Count: -1}
	q := r.URL.Query()
	if s := q.Get(skipParam); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return p, fmt.Errorf("%s must be a non-negative integer", skipParam)
		}
		p.Skip = n
	}
	if s := q.Get(countParam); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < -1 {
			return p, fmt.Errorf("%s must be a non-negative integer", countParam)
		}
		p.Count = n
	}
	return p, nil
}

// WriteHeaders sets X-Total-Count and, when there are neighbour pages, a Link
// header pointing at them.
func (p Paging) WriteHeaders(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("X-Total-Count", strconv.Itoa(p.Total))
	if p.Count < 0 {
		return
	}

	var links []string
	if next := p.Skip + p.Count; p.Count > 0 && next < p.Total {
		links = append(links, fmt.Sprintf(`<%s>; rel="next"`, p.link(r, next)))
	}
	if p.Skip > 0 {
		prev := p.Skip - p.Count
		if prev < 0 {
			prev = 0
		}
		links = append(links, fmt.Sprintf(`<%s>; rel="previous"`, p.link(r, prev)))
	}
	if len(links) > 0 {
		w.Header().Set("Link", strings.Join(links, ", "))
	}
}

func (p Paging) link(r *http.Request, skip int) string {
	u := url.URL{Path: r.URL.Path}
	q := r.URL.Query()
	q.Set(p.SkipParam, strconv.Itoa(skip))
	q.Set(p.CountParam, strconv.Itoa(p.Count))
	u.RawQuery = q.Encode()
	return u.String()
}

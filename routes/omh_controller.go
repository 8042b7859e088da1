package routes

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/mbolis/sensing-survey/app"
	"github.com/mbolis/sensing-survey/database"
	"github.com/mbolis/sensing-survey/httpx"
	"github.com/mbolis/sensing-survey/log"
	"github.com/mbolis/sensing-survey/model"
	"github.com/mbolis/sensing-survey/query"
	"github.com/mbolis/sensing-survey/routes/middlewares"
	"github.com/mbolis/sensing-survey/service"
)

var errUnknownSchema = errors.New("unknown schema")

type schemaID struct {
	Kind     string
	SurveyID string
}

func (id schemaID) String() string {
	return "omh:ohmage:" + id.Kind + ":" + id.SurveyID
}

// parseSchemaID accepts omh:ohmage:survey:{id}. Stream schemas parse but are
// not served.
func parseSchemaID(s string) (schemaID, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 4 || parts[0] != "omh" || parts[1] != "ohmage" || parts[3] == "" {
		return schemaID{}, fmt.Errorf("%w %q", errUnknownSchema, s)
	}
	switch parts[2] {
	case "survey":
		return schemaID{Kind: parts[2], SurveyID: parts[3]}, nil
	case "stream":
		return schemaID{}, fmt.Errorf("%w %q: streams are not supported", errUnknownSchema, s)
	}
	return schemaID{}, fmt.Errorf("%w %q", errUnknownSchema, s)
}

type schema struct {
	ID      string `json:"schema_id"`
	Version int64  `json:"schema_version"`
}

func ListSchemas(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		paging, err := httpx.ParsePaging(r, "num_to_skip", "num_to_return")
		if err != nil {
			httpx.LogStatusMsg(w, http.StatusBadRequest, log.DebugLevel, "request.paging", "%s", err)
			return
		}

		campaigns, err := app.Campaigns.List(r.Context(), middlewares.Username(r), false)
		if err != nil {
			httpx.LogInternalError(w, "db.list_schemas", err)
			return
		}

		schemas := []schema{}
		for _, c := range campaigns {
			for _, s := range c.Surveys {
				schemas = append(schemas, schema{schemaID{"survey", s.ID}.String(), c.Revision})
			}
		}
		sort.SliceStable(schemas, func(i, j int) bool {
			if schemas[i].ID != schemas[j].ID {
				return schemas[i].ID < schemas[j].ID
			}
			return schemas[i].Version < schemas[j].Version
		})

		paging.Total = len(schemas)
		paging.WriteHeaders(w, r)
		render.JSON(w, r, window(schemas, paging.Skip, paging.Count))
	}
}

func window[T any](items []T, skip, count int) []T {
	if skip > len(items) {
		skip = len(items)
	}
	items = items[skip:]
	if count >= 0 && count < len(items) {
		items = items[:count]
	}
	return items
}

type dataPoint struct {
	Metadata *pointMetadata `json:"metadata,omitempty"`
	Data     map[string]any `json:"data,omitempty"`
}

type pointMetadata struct {
	ID        string          `json:"id"`
	Timestamp string          `json:"timestamp"`
	Location  *model.Location `json:"location,omitempty"`
}

func ReadSchemaData(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := parseSchemaID(chi.URLParam(r, "id"))
		if err != nil {
			httpx.LogStatusMsg(w, http.StatusNotFound, log.DebugLevel, "omh.schema_id", "%s", err)
			return
		}
		version, err := strconv.ParseInt(chi.URLParam(r, "version"), 10, 64)
		if err != nil {
			httpx.LogStatus(w, http.StatusBadRequest, log.DebugLevel, "request.get_url_param.version")
			return
		}

		q := r.URL.Query()
		withMetadata, withData, err := pointColumns(listParam(q, "column_list"))
		if err != nil {
			httpx.Fail(w, r, service.CodeInvalidFilter, "%s", err)
			return
		}
		paging, err := httpx.ParsePaging(r, "num_to_skip", "num_to_return")
		if err != nil {
			httpx.Fail(w, r, service.CodeInvalidFilter, "%s", err)
			return
		}

		campaign, err := app.Campaigns.GetByRevision(r.Context(), version)
		if errors.Is(err, database.ErrNotFound) {
			httpx.LogNotFound(w, "omh.schema_version", version)
			return
		}
		if err != nil {
			httpx.LogInternalError(w, "db.omh.campaign", err)
			return
		}
		if _, err := campaign.Survey(id.SurveyID); err != nil {
			httpx.LogNotFound(w, "omh.schema", id)
			return
		}

		username := middlewares.Username(r)
		c := query.Criteria{
			Usernames: []string{username},
			SurveyIDs: []string{id.SurveyID},
			Skip:      paging.Skip,
			Limit:     paging.Count,
		}
		if c.StartDate, err = dateParam(q, "t_start"); err != nil {
			httpx.Fail(w, r, service.CodeInvalidFilter, "%s", err)
			return
		}
		if c.EndDate, err = dateParam(q, "t_end"); err != nil {
			httpx.Fail(w, r, service.CodeInvalidFilter, "%s", err)
			return
		}

		page, err := app.SurveyResponses.Read(r.Context(), username, campaign.ID, c)
		if err != nil {
			httpx.ServiceError(w, r, err)
			return
		}

		points := make([]dataPoint, 0, len(page.Responses))
		for _, sr := range page.Responses {
			p, err := newDataPoint(sr, withMetadata, withData)
			if err != nil {
				httpx.LogInternalError(w, "omh.data_point", err)
				return
			}
			points = append(points, p)
		}

		paging.Total = page.Total
		paging.WriteHeaders(w, r)
		render.JSON(w, r, points)
	}
}

// pointColumns reads the column_list roots. No list selects both.
func pointColumns(columns []string) (metadata, data bool, err error) {
	if columns == nil {
		return true, true, nil
	}
	for _, c := range columns {
		switch c {
		case "metadata":
			metadata = true
		case "data":
			data = true
		default:
			return false, false, fmt.Errorf("unknown column %q", c)
		}
	}
	return
}

func newDataPoint(sr *model.SurveyResponse, withMetadata, withData bool) (p dataPoint, err error) {
	if withMetadata {
		local, err := sr.LocalTime()
		if err != nil {
			return p, err
		}
		p.Metadata = &pointMetadata{
			ID:        sr.UUID.String(),
			Timestamp: local.Format(time.RFC3339),
			Location:  sr.Location,
		}
	}
	if withData {
		p.Data = pointData(sr.Responses)
	}
	return p, nil
}

// pointData keys prompt values by prompt id. Prompts of a repeatable set go
// into a list under the set id, one map per iteration.
func pointData(responses []model.Response) map[string]any {
	data := map[string]any{}
	sets := map[string][]map[string]any{}
	for _, r := range responses {
		if r.RepeatableSetID == "" || r.Iteration == nil {
			data[r.PromptID] = r.JSONValue()
			continue
		}
		iterations := sets[r.RepeatableSetID]
		for len(iterations) <= *r.Iteration {
			iterations = append(iterations, map[string]any{})
		}
		iterations[*r.Iteration][r.PromptID] = r.JSONValue()
		sets[r.RepeatableSetID] = iterations
	}
	for id, iterations := range sets {
		data[id] = iterations
	}
	return data
}

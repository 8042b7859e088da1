package routes

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/mbolis/sensing-survey/app"
	"github.com/mbolis/sensing-survey/database"
	"github.com/mbolis/sensing-survey/httpx"
	"github.com/mbolis/sensing-survey/log"
	"github.com/mbolis/sensing-survey/model"
	"github.com/mbolis/sensing-survey/query"
	"github.com/mbolis/sensing-survey/routes/middlewares"
	"github.com/mbolis/sensing-survey/service"
)

func ListCampaigns(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		campaigns, err := app.Campaigns.List(r.Context(), middlewares.Username(r), false)
		if err != nil {
			httpx.LogInternalError(w, "db.list_campaigns", err)
			return
		}
		httpx.Success(w, r, map[string]any{"data": campaigns})
	}
}

// readCriteria builds the read criteria out of the query string.
func readCriteria(r *http.Request) (c query.Criteria, err error) {
	q := r.URL.Query()

	c.SurveyIDs = listParam(q, "survey_id_list")
	c.PromptIDs = listParam(q, "prompt_id_list")
	c.Usernames = listParam(q, "user_list")
	if c.SurveyResponseIDs, err = uuidList(q, "survey_response_id_list"); err != nil {
		return
	}
	if c.Columns, err = columnList(q, "column_list"); err != nil {
		return
	}
	if c.SortOrder, err = sortList(q, "sort_order"); err != nil {
		return
	}
	if c.StartDate, err = dateParam(q, "start_date"); err != nil {
		return
	}
	if c.EndDate, err = dateParam(q, "end_date"); err != nil {
		return
	}
	c.PrivacyState = model.PrivacyState(q.Get("privacy_state"))
	c.PromptType = model.PromptType(q.Get("prompt_type"))
	if search := q.Get("prompt_response_search"); search != "" {
		c.SearchTokens = strings.Fields(search)
	}

	p, err := httpx.ParsePaging(r, "num_to_skip", "num_to_process")
	if err != nil {
		return
	}
	c.Skip, c.Limit = p.Skip, p.Count
	return
}

func ReadSurveyResponses(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		campaignID := r.URL.Query().Get("campaign_urn")
		if campaignID == "" {
			httpx.Fail(w, r, service.CodeInvalidCampaign, "Missing campaign_urn.")
			return
		}
		c, err := readCriteria(r)
		if err != nil {
			httpx.Fail(w, r, service.CodeInvalidFilter, "%s", err)
			return
		}

		page, err := app.SurveyResponses.Read(r.Context(), middlewares.Username(r), campaignID, c)
		if err != nil {
			httpx.ServiceError(w, r, err)
			return
		}

		paging := httpx.Paging{
			SkipParam: "num_to_skip", CountParam: "num_to_process",
			Skip: c.Skip, Count: c.Limit, Total: page.Total,
		}
		paging.WriteHeaders(w, r)

		responses := page.Responses
		if responses == nil {
			responses = []*model.SurveyResponse{}
		}
		httpx.Success(w, r, map[string]any{
			"metadata": map[string]any{
				"campaign_urn":      campaignID,
				"number_of_surveys": len(responses),
				"total_num_results": page.Total,
			},
			"data": responses,
		})
	}
}

// multipart bodies above this size spill to temporary files
const maxUploadMemory = 8 << 20

func UploadSurveyResponses(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if app.MaxUploadBytes > 0 {
			r.Body = http.MaxBytesReader(w, r.Body, app.MaxUploadBytes)
		}
		err := r.ParseMultipartForm(maxUploadMemory)
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			httpx.LogStatus(w, http.StatusRequestEntityTooLarge, log.DebugLevel, "request.upload.too_large")
			return
		case err != nil && !errors.Is(err, http.ErrNotMultipart):
			httpx.LogStatus(w, http.StatusBadRequest, log.DebugLevel, "request.upload.parse_form")
			return
		}

		u := service.Upload{
			CampaignID: r.FormValue("campaign_urn"),
			Client:     r.FormValue("client"),
			Surveys:    []byte(r.FormValue("surveys")),
			Media:      model.MediaSet{},
		}
		if u.CampaignID == "" {
			httpx.Fail(w, r, service.CodeInvalidCampaign, "Missing campaign_urn.")
			return
		}
		if s := r.FormValue("campaign_creation_timestamp"); s != "" {
			if u.CampaignCreationTimestamp, err = parseDate(s); err != nil {
				httpx.Fail(w, r, service.CodeCampaignOutOfDate, "%s", err)
				return
			}
		}
		if s := r.FormValue("update"); s != "" {
			if u.Update, err = strconv.ParseBool(s); err != nil {
				httpx.Fail(w, r, service.CodeInvalidResponses, "Invalid update flag %q.", s)
				return
			}
		}
		if r.MultipartForm != nil {
			defer r.MultipartForm.RemoveAll()
			if err := readMedia(u.Media, r.MultipartForm.File); err != nil {
				httpx.ServiceError(w, r, err)
				return
			}
		}

		result, err := app.SurveyResponses.Upload(r.Context(), middlewares.Username(r), u)
		if err != nil {
			httpx.ServiceError(w, r, err)
			return
		}
		httpx.Success(w, r, map[string]any{
			"duplicates": result.Duplicates,
			"failures":   result.Failures,
		})
	}
}

// readMedia adds every file part to media. Parts are keyed by the media id.
func readMedia(media model.MediaSet, files map[string][]*multipart.FileHeader) error {
	for key, headers := range files {
		id, err := uuid.Parse(key)
		if err != nil {
			return &service.Error{Code: service.CodeInvalidMedia, Message: fmt.Sprintf("Invalid media id %q.", key)}
		}
		for _, fh := range headers {
			m := &model.Media{ID: id, ContentType: fh.Header.Get("Content-Type"), FileName: fh.Filename}
			if m.ContentType == "" {
				return &service.Error{Code: service.CodeInvalidMedia, Message: fmt.Sprintf("Media %s has no content type.", id)}
			}
			if m.Data, err = readPart(fh); err != nil {
				return &service.Error{Code: service.CodeInvalidMedia, Message: fmt.Sprintf("Media %s could not be read.", id), Err: err}
			}

			err = media.Add(m)
			if errors.Is(err, model.ErrDuplicateMedia) {
				return &service.Error{Code: service.CodeDuplicateMedia, Message: fmt.Sprintf("Media %s was sent more than once.", id)}
			}
			if err != nil {
				return &service.Error{Code: service.CodeInvalidMedia, Message: err.Error()}
			}
		}
	}
	return nil
}

func readPart(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func formKeys(r *http.Request, name string) ([]uuid.UUID, error) {
	if err := r.ParseForm(); err != nil {
		return nil, err
	}
	ids, err := uuidList(r.Form, name)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("missing %s", name)
	}
	return ids, nil
}

func UpdatePrivacyState(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ids, err := formKeys(r, "survey_key")
		if err != nil {
			httpx.Fail(w, r, service.CodeInvalidFilter, "%s", err)
			return
		}
		state := model.PrivacyState(r.Form.Get("privacy_state"))

		err = app.SurveyResponses.UpdatePrivacyState(r.Context(), middlewares.Username(r), ids, state)
		if err != nil {
			httpx.ServiceError(w, r, err)
			return
		}
		httpx.Success(w, r, nil)
	}
}

func DeleteSurveyResponse(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ids, err := formKeys(r, "survey_key")
		if err != nil || len(ids) != 1 {
			httpx.Fail(w, r, service.CodeInvalidFilter, "Exactly one survey_key is required.")
			return
		}

		if err := app.SurveyResponses.Delete(r.Context(), middlewares.Username(r), ids[0]); err != nil {
			httpx.ServiceError(w, r, err)
			return
		}
		httpx.Success(w, r, nil)
	}
}

func ListPrivacyStates(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		states, err := app.SurveyResponses.PrivacyStates(r.Context())
		if err != nil {
			httpx.ServiceError(w, r, err)
			return
		}
		httpx.Success(w, r, map[string]any{"data": states})
	}
}

// GetMedia serves a media object to its owner and to admins. Anyone else
// gets the same answer as for a missing object.
func GetMedia(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			httpx.LogStatus(w, http.StatusBadRequest, log.DebugLevel, "request.get_url_param.id")
			return
		}

		m, owner, err := app.Media.Get(r.Context(), id)
		if errors.Is(err, database.ErrNotFound) {
			httpx.LogNotFound(w, "get_media", id)
			return
		}
		if err != nil {
			httpx.LogInternalError(w, "db.get_media", err)
			return
		}
		if owner != middlewares.Username(r) && !middlewares.HasRole(r, "admin") {
			httpx.LogNotFound(w, "get_media.forbidden", id)
			return
		}

		w.Header().Set("Content-Type", m.ContentType)
		w.Header().Set("Content-Length", strconv.FormatInt(m.Size(), 10))
		if m.FileName != "" {
			w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", m.FileName))
		}
		w.Write(m.Data)
	}
}

package service

import (
	"bytes"
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/mbolis/sensing-survey/log"
	"github.com/mbolis/sensing-survey/model"
)

// Upload is a batch of survey responses sent by a client.
type Upload struct {
	CampaignID string
	// zero when the client did not send it
	CampaignCreationTimestamp time.Time
	Client                    string
	// JSON array of survey responses
	Surveys []byte
	Update  bool
	Media   model.MediaSet
}

// Upload validates u against its campaign and stores it for requester,
// either as new responses or, when u.Update is set, as replacements.
func (s *SurveyResponses) Upload(ctx context.Context, requester string, u Upload) (UploadResult, error) {
	campaign, err := s.Campaign(ctx, u.CampaignID)
	if err != nil {
		return UploadResult{}, err
	}

	roles, err := s.dir.Roles(ctx, requester, campaign.ID)
	if err != nil {
		return UploadResult{}, internal("service.upload.roles", err)
	}
	if !model.HasRole(roles, model.RoleParticipant) {
		return UploadResult{}, fail(CodeInsufficientPermissions, "The user is not a participant of the campaign.")
	}
	if campaign.RunningState != model.Running {
		return UploadResult{}, fail(CodeCampaignStopped, "The campaign %s is not running.", campaign.ID)
	}
	if u.Update && !campaign.EditableResponses {
		return UploadResult{}, fail(CodeUpdateNotAllowed, "The responses of campaign %s cannot be edited.", campaign.ID)
	}
	if !u.CampaignCreationTimestamp.IsZero() && !u.CampaignCreationTimestamp.Equal(campaign.CreationTimestamp) {
		return UploadResult{}, fail(CodeCampaignOutOfDate, "The campaign %s has changed since %s.",
			campaign.ID, u.CampaignCreationTimestamp.Format(time.RFC3339))
	}

	responses, err := s.ParseSurveyResponses(campaign, requester, u.Surveys)
	if err != nil {
		return UploadResult{}, err
	}
	log.Debugf("service.upload: %d survey responses from %s for %s (update: %t)", len(responses), requester, campaign.ID, u.Update)

	if u.Update {
		return UploadResult{Duplicates: []int{}, Failures: []ItemFailure{}},
			s.Update(ctx, requester, u.Client, campaign, responses, u.Media)
	}
	return s.Create(ctx, requester, u.Client, campaign, responses, u.Media)
}

type uploadedSurvey struct {
	SurveyKey      string             `json:"survey_key"`
	Time           *int64             `json:"time"`
	Timezone       string             `json:"timezone"`
	LocationStatus string             `json:"location_status"`
	Location       *model.Location    `json:"location"`
	SurveyID       string             `json:"survey_id"`
	LaunchContext  json.RawMessage    `json:"survey_launch_context"`
	PrivacyState   string             `json:"privacy_state"`
	Responses      []uploadedResponse `json:"responses"`
}

// uploadedResponse is either a prompt answer or a repeatable set holding one
// list of answers per iteration.
type uploadedResponse struct {
	PromptID        string               `json:"prompt_id"`
	Value           json.RawMessage      `json:"value"`
	RepeatableSetID string               `json:"repeatable_set_id"`
	Iterations      [][]uploadedResponse `json:"responses"`
}

// ParseSurveyResponses reads the JSON array of an upload and checks it
// against campaign. Responses without a key are given a new one.
func (s *SurveyResponses) ParseSurveyResponses(campaign *model.Campaign, owner string, data []byte) ([]*model.SurveyResponse, error) {
	var uploaded []uploadedSurvey
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&uploaded); err != nil {
		return nil, failWith(CodeInvalidResponses, err, "The survey responses are not valid JSON: %s", err)
	}

	out := make([]*model.SurveyResponse, len(uploaded))
	for i, u := range uploaded {
		sr, err := s.surveyResponse(campaign, owner, u)
		if err != nil {
			return nil, failWith(CodeInvalidResponses, err, "Survey response %d: %s", i, err)
		}
		out[i] = sr
	}
	return out, nil
}

func (s *SurveyResponses) surveyResponse(campaign *model.Campaign, owner string, u uploadedSurvey) (*model.SurveyResponse, error) {
	survey, err := campaign.Survey(u.SurveyID)
	if err != nil {
		return nil, err
	}

	sr := &model.SurveyResponse{
		Username:      owner,
		CampaignID:    campaign.ID,
		SurveyID:      survey.ID,
		Timezone:      u.Timezone,
		LaunchContext: u.LaunchContext,
		Location:      u.Location,
		PrivacyState:  s.DefaultPrivacy,
	}

	if u.SurveyKey == "" {
		sr.UUID = s.newID()
	} else if sr.UUID, err = uuid.Parse(u.SurveyKey); err != nil {
		return nil, errors.Errorf("invalid survey_key %q", u.SurveyKey)
	}
	if u.Time == nil {
		return nil, errors.New("missing time")
	}
	sr.Time = *u.Time
	if _, err := time.LoadLocation(u.Timezone); err != nil || u.Timezone == "" {
		return nil, errors.Errorf("invalid timezone %q", u.Timezone)
	}
	if sr.LocationStatus, err = model.ParseLocationStatus(u.LocationStatus); err != nil {
		return nil, err
	}
	if sr.LocationStatus != model.LocationUnavailable && sr.Location == nil {
		return nil, errors.Errorf("location status %s without a location", sr.LocationStatus)
	}
	if sr.LocationStatus == model.LocationUnavailable {
		sr.Location = nil
	}
	if u.PrivacyState != "" {
		if sr.PrivacyState, err = model.ParsePrivacyState(u.PrivacyState); err != nil {
			return nil, err
		}
	}
	if len(sr.LaunchContext) > 0 && !json.Valid(sr.LaunchContext) {
		return nil, errors.New("invalid survey_launch_context")
	}

	for _, r := range u.Responses {
		if r.RepeatableSetID == "" {
			if err := addResponse(sr, survey, "", nil, r); err != nil {
				return nil, err
			}
			continue
		}
		for i, iteration := range r.Iterations {
			i := i
			for _, nested := range iteration {
				if err := addResponse(sr, survey, r.RepeatableSetID, &i, nested); err != nil {
					return nil, err
				}
			}
		}
	}
	return sr, nil
}

func addResponse(sr *model.SurveyResponse, survey *model.Survey, repeatableSetID string, iteration *int, u uploadedResponse) error {
	p, ok := survey.Prompt(u.PromptID)
	if !ok {
		return errors.Wrapf(model.ErrUnknownPrompt, "%q in survey %s", u.PromptID, survey.ID)
	}
	if p.RepeatableSetID != repeatableSetID {
		return errors.Errorf("prompt %q does not belong to repeatable set %q", p.ID, repeatableSetID)
	}
	if _, dup := sr.Response(p.ID, iteration); dup {
		return errors.Errorf("prompt %q answered twice", p.ID)
	}

	raw, err := rawValue(u.Value)
	if err != nil {
		return errors.Wrapf(err, "prompt %q", p.ID)
	}
	r, err := p.CreateResponse(iteration, raw)
	if err != nil {
		return err
	}
	sr.AddResponse(r)
	return nil
}

// rawValue turns a JSON value into the textual form prompts parse: strings
// are unquoted, numbers and arrays are kept as written.
func rawValue(v json.RawMessage) (string, error) {
	v = bytes.TrimSpace(v)
	if len(v) == 0 || bytes.Equal(v, []byte("null")) {
		return "", errors.New("missing value")
	}
	switch v[0] {
	case '"':
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return "", err
		}
		return s, nil
	case '[':
		var keys []json.Number
		if err := json.Unmarshal(v, &keys); err != nil {
			return "", errors.New("choice lists must hold numbers")
		}
		b, err := json.Marshal(keys)
		return string(b), err
	case '{':
		return "", errors.New("objects are not prompt values")
	}
	if _, err := strconv.ParseFloat(string(v), 64); err == nil {
		return string(v), nil
	}
	return "", errors.Errorf("unsupported value %s", v)
}

package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/google/uuid"
)

// Value is the answer stored for one prompt. The concrete types are Text,
// Number, Timestamp, SingleChoice, MultiChoice, MediaRef and NoResponse.
type Value interface {
	// Encode renders the value the way it is persisted.
	Encode() string
	isValue()
}

type Text string

func (v Text) Encode() string { return string(v) }
func (Text) isValue()         {}

type Number float64

func (v Number) Encode() string { return strconv.FormatFloat(float64(v), 'f', -1, 64) }
func (Number) isValue()         {}

// Timestamp keeps the value as uploaded once it has been checked to parse.
type Timestamp string

func (v Timestamp) Encode() string { return string(v) }
func (Timestamp) isValue()         {}

func (v Timestamp) Time() (time.Time, error) {
	return parseTimestamp(string(v))
}

type SingleChoice int

func (v SingleChoice) Encode() string { return strconv.Itoa(int(v)) }
func (SingleChoice) isValue()         {}

type MultiChoice []int

func (v MultiChoice) Encode() string {
	keys := make([]string, len(v))
	for i, k := range v {
		keys[i] = strconv.Itoa(k)
	}
	return "[" + strings.Join(keys, ",") + "]"
}
func (MultiChoice) isValue() {}

// MediaRef points at an uploaded media object.
type MediaRef uuid.UUID

func (v MediaRef) Encode() string { return uuid.UUID(v).String() }
func (MediaRef) isValue()         {}

// NoResponse records why a prompt carries no answer.
type NoResponse string

const (
	Skipped          NoResponse = "SKIPPED"
	NotDisplayed     NoResponse = "NOT_DISPLAYED"
	MediaNotUploaded NoResponse = "MEDIA_NOT_UPLOADED"
)

func (v NoResponse) Encode() string { return string(v) }
func (NoResponse) isValue()         {}

func parseNoResponse(s string) (NoResponse, bool) {
	switch n := NoResponse(s); n {
	case Skipped, NotDisplayed, MediaNotUploaded:
		return n, true
	}
	return "", false
}

var ErrInvalidValue = errors.New("invalid prompt response")

var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseTimestamp(s string) (t time.Time, err error) {
	for _, layout := range timestampLayouts {
		t, err = time.Parse(layout, s)
		if err == nil {
			return
		}
	}
	return
}

// Response is the answer to one prompt, or an explicit NoResponse.
type Response struct {
	PromptID        string
	Type            PromptType
	RepeatableSetID string
	// Iteration is nil outside repeatable sets.
	Iteration *int
	Value     Value
}

func (r Response) NoResponse() (NoResponse, bool) {
	n, ok := r.Value.(NoResponse)
	return n, ok
}

func (r Response) MediaID() (uuid.UUID, bool) {
	ref, ok := r.Value.(MediaRef)
	return uuid.UUID(ref), ok
}

// JSONValue is the value as it appears in JSON documents: numbers and
// choices stay numeric, everything else is its encoding.
func (r Response) JSONValue() any {
	switch v := r.Value.(type) {
	case nil:
		return nil
	case Number:
		return float64(v)
	case SingleChoice:
		return int(v)
	case MultiChoice:
		return []int(v)
	default:
		return v.Encode()
	}
}

func (r Response) MarshalJSON() ([]byte, error) {
	out := map[string]any{
		"prompt_id":   r.PromptID,
		"prompt_type": r.Type,
		"value":       r.JSONValue(),
	}
	if r.RepeatableSetID != "" {
		out["repeatable_set_id"] = r.RepeatableSetID
	}
	if r.Iteration != nil {
		out["repeatable_set_iteration"] = *r.Iteration
	}
	return json.Marshal(out)
}

// CreateResponse turns a raw value into a typed Response for p. The raw
// value is either a no-response code or the persisted encoding of the type.
func (p *Prompt) CreateResponse(iteration *int, raw string) (Response, error) {
	r := Response{
		PromptID:        p.ID,
		Type:            p.Type,
		RepeatableSetID: p.RepeatableSetID,
		Iteration:       iteration,
	}
	if p.RepeatableSetID != "" && iteration == nil {
		return r, fmt.Errorf("%w: prompt %q is repeatable, iteration missing", ErrInvalidValue, p.ID)
	}

	if n, ok := parseNoResponse(raw); ok {
		switch {
		case n == Skipped && !p.Skippable:
			return r, fmt.Errorf("%w: prompt %q is not skippable", ErrInvalidValue, p.ID)
		case n == MediaNotUploaded:
			if _, media := p.Type.MediaCategory(); !media {
				return r, fmt.Errorf("%w: prompt %q does not take media", ErrInvalidValue, p.ID)
			}
		}
		r.Value = n
		return r, nil
	}

	v, err := p.parseValue(raw)
	if err != nil {
		return r, fmt.Errorf("%w: prompt %q: %s", ErrInvalidValue, p.ID, err)
	}
	r.Value = v
	return r, nil
}

func (p *Prompt) parseValue(raw string) (Value, error) {
	switch p.Type {
	case PromptText:
		if err := p.inRange(float64(len([]rune(raw)))); err != nil {
			return nil, fmt.Errorf("text length %w", err)
		}
		return Text(raw), nil

	case PromptNumber, PromptHoursBeforeNow:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("not a number: %q", raw)
		}
		if err := p.inRange(f); err != nil {
			return nil, err
		}
		return Number(f), nil

	case PromptTimestamp:
		if _, err := parseTimestamp(raw); err != nil {
			return nil, fmt.Errorf("not a timestamp: %q", raw)
		}
		return Timestamp(raw), nil

	case PromptSingleChoice:
		k, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("not a choice key: %q", raw)
		}
		if !p.choice(k) {
			return nil, fmt.Errorf("unknown choice %d", k)
		}
		return SingleChoice(k), nil

	case PromptMultiChoice:
		var keys []int
		if err := json.Unmarshal([]byte(raw), &keys); err != nil {
			return nil, fmt.Errorf("not a list of choice keys: %q", raw)
		}
		for _, k := range keys {
			if !p.choice(k) {
				return nil, fmt.Errorf("unknown choice %d", k)
			}
		}
		return MultiChoice(keys), nil

	case PromptPhoto, PromptVideo, PromptAudio, PromptFile:
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("not a media id: %q", raw)
		}
		return MediaRef(id), nil
	}
	return nil, fmt.Errorf("unsupported prompt type %q", p.Type)
}

func (p *Prompt) inRange(f float64) error {
	if p.Min != nil && f < *p.Min {
		return fmt.Errorf("%v below minimum %v", f, *p.Min)
	}
	if p.Max != nil && f > *p.Max {
		return fmt.Errorf("%v above maximum %v", f, *p.Max)
	}
	return nil
}

type LocationStatus string

const (
	LocationValid       LocationStatus = "valid"
	LocationInaccurate  LocationStatus = "inaccurate"
	LocationStale       LocationStatus = "stale"
	LocationUnavailable LocationStatus = "unavailable"
)

func ParseLocationStatus(s string) (LocationStatus, error) {
	switch l := LocationStatus(s); l {
	case LocationValid, LocationInaccurate, LocationStale, LocationUnavailable:
		return l, nil
	}
	return "", fmt.Errorf("unknown location status %q", s)
}

type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Accuracy  float64 `json:"accuracy"`
	Provider  string  `json:"provider"`
	Time      int64   `json:"time"`
	Timezone  string  `json:"timezone,omitempty"`
}

// SurveyResponse is one user's submission of one survey.
type SurveyResponse struct {
	UUID           uuid.UUID       `json:"survey_key"`
	Username       string          `json:"user"`
	CampaignID     string          `json:"campaign_id"`
	Client         string          `json:"client"`
	Time           int64           `json:"time"`
	Timezone       string          `json:"timezone"`
	SurveyID       string          `json:"survey_id"`
	LaunchContext  json.RawMessage `json:"survey_launch_context,omitempty"`
	LocationStatus LocationStatus  `json:"location_status"`
	Location       *Location       `json:"location,omitempty"`
	PrivacyState   PrivacyState    `json:"privacy_state"`
	Responses      []Response      `json:"responses"`

	// Count is only set on aggregated results.
	Count int64 `json:"count,omitempty"`
}

// AddResponse appends r, keeping the upload order.
func (sr *SurveyResponse) AddResponse(r Response) {
	sr.Responses = append(sr.Responses, r)
}

func (sr *SurveyResponse) Response(promptID string, iteration *int) (Response, bool) {
	for _, r := range sr.Responses {
		if r.PromptID != promptID {
			continue
		}
		if (r.Iteration == nil) != (iteration == nil) {
			continue
		}
		if r.Iteration == nil || *r.Iteration == *iteration {
			return r, true
		}
	}
	return Response{}, false
}

// MediaIDs lists the media referenced by the response's prompts.
func (sr *SurveyResponse) MediaIDs() []uuid.UUID {
	var ids []uuid.UUID
	for _, r := range sr.Responses {
		if id, ok := r.MediaID(); ok {
			ids = append(ids, id)
		}
	}
	return ids
}

// LocalTime is the submission time in the phone's timezone.
func (sr *SurveyResponse) LocalTime() (time.Time, error) {
	loc, err := time.LoadLocation(sr.Timezone)
	if err != nil {
		return time.Time{}, fmt.Errorf("survey response %s: %w", sr.UUID, err)
	}
	return time.UnixMilli(sr.Time).In(loc), nil
}

package query

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/mbolis/sensing-survey/model"
)

// Row is one result row of a built query, in select order.
type Row struct {
	Count          int64
	Username       sql.NullString
	CampaignID     sql.NullString
	UUID           sql.NullString
	Client         sql.NullString
	EpochMillis    sql.NullInt64
	Timezone       sql.NullString
	SurveyID       sql.NullString
	LaunchContext  sql.NullString
	LocationStatus sql.NullString
	Location       sql.NullString
	PrivacyState   sql.NullString

	// null when the survey response has no prompt responses
	PromptID        sql.NullString
	PromptType      sql.NullString
	RepeatableSetID sql.NullString
	Iteration       sql.NullInt64
	Response        sql.NullString
}

// RowSource is a forward only cursor over query rows.
type RowSource interface {
	Next() bool
	Row() (Row, error)
	Err() error
}

type sqlRows struct {
	*sql.Rows
}

// ScanRows adapts a result set produced by a built query.
func ScanRows(rows *sql.Rows) RowSource {
	return sqlRows{rows}
}

func (r sqlRows) Row() (row Row, err error) {
	err = r.Scan(
		&row.Count,
		&row.Username, &row.CampaignID, &row.UUID, &row.Client,
		&row.EpochMillis, &row.Timezone, &row.SurveyID, &row.LaunchContext,
		&row.LocationStatus, &row.Location, &row.PrivacyState,
		&row.PromptID, &row.PromptType, &row.RepeatableSetID, &row.Iteration, &row.Response,
	)
	return
}

// Definitions resolves the prompts stored rows refer to. *model.Campaign
// satisfies it.
type Definitions interface {
	Prompt(surveyID, promptID string) (*model.Prompt, error)
}

type Page struct {
	Responses []*model.SurveyResponse
	// Total counts every matching group, including skipped ones.
	Total int
}

// Reduce folds the rows of a query into survey responses. It skips the first
// skip groups, builds up to limit groups (all of them with NoLimit), then
// reads the rest of the stream to count the remaining groups.
//
// Rows of the individual shape are grouped by survey response id; rows of
// the aggregate shapes are a group each.
func Reduce(src RowSource, shape Shape, defs Definitions, skip, limit int) (Page, error) {
	page := Page{Responses: []*model.SurveyResponse{}}

	next := func() (Row, bool, error) {
		for src.Next() {
			row, err := src.Row()
			if err != nil {
				return row, false, err
			}
			if shape != ShapeIndividual && row.Count == 0 {
				// aggregate without GROUP BY over no matches
				continue
			}
			return row, true, nil
		}
		return Row{}, false, src.Err()
	}

	var key func(Row) string
	if shape == ShapeIndividual {
		key = func(r Row) string { return r.UUID.String }
	} else {
		ordinal := 0
		key = func(Row) string {
			ordinal++
			return fmt.Sprint(ordinal)
		}
	}
	groups := NewGrouper(next, key)

	for page.Total < skip && groups.Skip() {
		page.Total++
	}
	for limit == NoLimit || len(page.Responses) < limit {
		group, ok := groups.Next()
		if !ok {
			break
		}
		sr, err := surveyResponse(group, shape, defs)
		if err != nil {
			return Page{}, err
		}
		page.Responses = append(page.Responses, sr)
		page.Total++
	}
	for groups.Skip() {
		page.Total++
	}

	if err := groups.Err(); err != nil {
		return Page{}, fmt.Errorf("read survey responses: %w", err)
	}
	return page, nil
}

func surveyResponse(group []Row, shape Shape, defs Definitions) (*model.SurveyResponse, error) {
	first := group[0]
	sr := &model.SurveyResponse{
		Username:       first.Username.String,
		CampaignID:     first.CampaignID.String,
		Client:         first.Client.String,
		Time:           first.EpochMillis.Int64,
		Timezone:       first.Timezone.String,
		SurveyID:       first.SurveyID.String,
		LocationStatus: model.LocationStatus(first.LocationStatus.String),
		PrivacyState:   model.PrivacyState(first.PrivacyState.String),
	}
	if shape != ShapeIndividual {
		sr.Count = first.Count
	}
	if first.UUID.Valid {
		id, err := uuid.Parse(first.UUID.String)
		if err != nil {
			return nil, fmt.Errorf("survey response id %q: %w", first.UUID.String, err)
		}
		sr.UUID = id
	}
	if first.LaunchContext.Valid && first.LaunchContext.String != "" {
		sr.LaunchContext = json.RawMessage(first.LaunchContext.String)
	}
	if first.Location.Valid && first.Location.String != "" {
		sr.Location = &model.Location{}
		if err := json.Unmarshal([]byte(first.Location.String), sr.Location); err != nil {
			return nil, fmt.Errorf("survey response %s location: %w", sr.UUID, err)
		}
	}

	for _, row := range group {
		if !row.PromptID.Valid {
			continue
		}
		p, err := defs.Prompt(sr.SurveyID, row.PromptID.String)
		if err != nil {
			return nil, fmt.Errorf("survey response %s: %w", sr.UUID, err)
		}
		if row.PromptType.Valid && model.PromptType(row.PromptType.String) != p.Type {
			return nil, fmt.Errorf("survey response %s: prompt %q stored as %s, defined as %s",
				sr.UUID, p.ID, row.PromptType.String, p.Type)
		}
		var iteration *int
		if row.Iteration.Valid {
			i := int(row.Iteration.Int64)
			iteration = &i
		}
		r, err := p.CreateResponse(iteration, row.Response.String)
		if err != nil {
			return nil, fmt.Errorf("survey response %s: %w", sr.UUID, err)
		}
		sr.AddResponse(r)
	}
	return sr, nil
}

package query

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/mbolis/sensing-survey/model"
)

// NoLimit processes every group left after skipping.
const NoLimit = -1

// Criteria narrows a survey response read. A nil slice puts no restriction on
// its field; a zero field value does the same for scalars.
type Criteria struct {
	SurveyResponseIDs []uuid.UUID
	Usernames         []string
	StartDate         *time.Time
	EndDate           *time.Time
	PrivacyState      model.PrivacyState
	SurveyIDs         []string
	PromptIDs         []string
	PromptType        model.PromptType
	SearchTokens      []string

	// Columns switches the read to aggregated results.
	Columns   []model.ColumnKey
	SortOrder []model.SortParameter

	Skip  int
	Limit int
}

// Empty reports whether c can match nothing without asking the store.
func (c Criteria) Empty() bool {
	return isEmpty(c.SurveyIDs) || isEmpty(c.PromptIDs) || isEmpty(c.Columns) || isEmpty(c.SurveyResponseIDs)
}

func isEmpty[T any](s []T) bool {
	return s != nil && len(s) == 0
}

func (c Criteria) Validate() error {
	if c.Skip < 0 {
		return errors.New("negative number of results to skip")
	}
	if c.Limit < NoLimit {
		return errors.New("invalid number of results to process")
	}
	if c.StartDate != nil && c.EndDate != nil && c.EndDate.Before(*c.StartDate) {
		return errors.New("end date precedes start date")
	}
	if c.PrivacyState != "" {
		if _, err := model.ParsePrivacyState(string(c.PrivacyState)); err != nil {
			return err
		}
	}
	if c.PromptType != "" && !c.PromptType.Valid() {
		return errors.New("unknown prompt type " + string(c.PromptType))
	}
	return nil
}

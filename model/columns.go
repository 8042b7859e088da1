package model

import "fmt"

// ColumnKey names a field survey responses can be aggregated on.
type ColumnKey string

const (
	ColumnClient              ColumnKey = "urn:ohmage:context:client"
	ColumnDate                ColumnKey = "urn:ohmage:context:date"
	ColumnTimestamp           ColumnKey = "urn:ohmage:context:timestamp"
	ColumnUTCTimestamp        ColumnKey = "urn:ohmage:context:utc_timestamp"
	ColumnEpochMillis         ColumnKey = "urn:ohmage:context:epoch_millis"
	ColumnTimezone            ColumnKey = "urn:ohmage:context:timezone"
	ColumnLaunchContextLong   ColumnKey = "urn:ohmage:context:launch_context_long"
	ColumnLaunchContextShort  ColumnKey = "urn:ohmage:context:launch_context_short"
	ColumnLocationStatus      ColumnKey = "urn:ohmage:context:location:status"
	ColumnLocationLatitude    ColumnKey = "urn:ohmage:context:location:latitude"
	ColumnLocationLongitude   ColumnKey = "urn:ohmage:context:location:longitude"
	ColumnLocationTimestamp   ColumnKey = "urn:ohmage:context:location:timestamp"
	ColumnLocationTimezone    ColumnKey = "urn:ohmage:context:location:timezone"
	ColumnLocationAccuracy    ColumnKey = "urn:ohmage:context:location:accuracy"
	ColumnLocationProvider    ColumnKey = "urn:ohmage:context:location:provider"
	ColumnUserID              ColumnKey = "urn:ohmage:user:id"
	ColumnSurveyID            ColumnKey = "urn:ohmage:survey:id"
	ColumnSurveyTitle         ColumnKey = "urn:ohmage:survey:title"
	ColumnSurveyDescription   ColumnKey = "urn:ohmage:survey:description"
	ColumnSurveyResponseID    ColumnKey = "urn:ohmage:survey_response:id"
	ColumnPrivacyState        ColumnKey = "urn:ohmage:survey:privacy_state"
	ColumnRepeatableSetID     ColumnKey = "urn:ohmage:repeatable_set:id"
	ColumnRepeatableIteration ColumnKey = "urn:ohmage:repeatable_set:iteration"
	ColumnPromptResponse      ColumnKey = "urn:ohmage:prompt:response"
)

var columnKeys = map[ColumnKey]bool{
	ColumnClient: true, ColumnDate: true, ColumnTimestamp: true,
	ColumnUTCTimestamp: true, ColumnEpochMillis: true, ColumnTimezone: true,
	ColumnLaunchContextLong: true, ColumnLaunchContextShort: true,
	ColumnLocationStatus: true, ColumnLocationLatitude: true,
	ColumnLocationLongitude: true, ColumnLocationTimestamp: true,
	ColumnLocationTimezone: true, ColumnLocationAccuracy: true,
	ColumnLocationProvider: true, ColumnUserID: true, ColumnSurveyID: true,
	ColumnSurveyTitle: true, ColumnSurveyDescription: true,
	ColumnSurveyResponseID: true, ColumnPrivacyState: true,
	ColumnRepeatableSetID: true, ColumnRepeatableIteration: true,
	ColumnPromptResponse: true,
}

func ParseColumnKey(s string) (ColumnKey, error) {
	if k := ColumnKey(s); columnKeys[k] {
		return k, nil
	}
	return "", fmt.Errorf("unknown column key %q", s)
}

// PromptLevel reports whether grouping on k splits survey responses into
// their prompt responses.
func (k ColumnKey) PromptLevel() bool {
	switch k {
	case ColumnRepeatableSetID, ColumnRepeatableIteration, ColumnPromptResponse:
		return true
	}
	return false
}

type SortParameter string

const (
	SortUser      SortParameter = "user"
	SortTimestamp SortParameter = "timestamp"
	SortSurvey    SortParameter = "survey"
)

func ParseSortParameter(s string) (SortParameter, error) {
	switch p := SortParameter(s); p {
	case SortUser, SortTimestamp, SortSurvey:
		return p, nil
	}
	return "", fmt.Errorf("unknown sort parameter %q", s)
}

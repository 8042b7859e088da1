package query

import (
	"context"
	"strings"

	"github.com/mbolis/sensing-survey/log"
	"github.com/mbolis/sensing-survey/model"
)

// Fragment is a piece of SQL together with the arguments of its
// placeholders, in order.
type Fragment struct {
	SQL  string
	Args []any
}

func Expr(sql string, args ...any) Fragment {
	return Fragment{SQL: sql, Args: args}
}

func (f Fragment) IsZero() bool {
	return f.SQL == ""
}

// Paren wraps f in parentheses, leaving a zero fragment alone.
func (f Fragment) Paren() Fragment {
	if f.IsZero() {
		return f
	}
	return Fragment{SQL: "(" + f.SQL + ")", Args: f.Args}
}

// Join folds fs left to right with sep, dropping zero fragments.
func Join(sep string, fs ...Fragment) Fragment {
	var sql strings.Builder
	var args []any
	for _, f := range fs {
		if f.IsZero() {
			continue
		}
		if sql.Len() > 0 {
			sql.WriteString(sep)
		}
		sql.WriteString(f.SQL)
		args = append(args, f.Args...)
	}
	return Fragment{SQL: sql.String(), Args: args}
}

// In renders column IN (?, ?, ...) with one argument per value.
func In[T any](column string, values []T) Fragment {
	if len(values) == 0 {
		return Expr("0 = 1")
	}
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(values)), ", ")
	return Fragment{SQL: column + " IN (" + placeholders + ")", Args: args}
}

// Shape tells which columns a built query returns and how rows are grouped.
type Shape int

const (
	// one row per prompt response, survey response columns repeated
	ShapeIndividual Shape = iota
	// one row per group, counting survey responses
	ShapeSurveyAggregate
	// one row per group, counting prompt responses
	ShapePromptAggregate
)

func (s Shape) String() string {
	switch s {
	case ShapeIndividual:
		return "individual"
	case ShapeSurveyAggregate:
		return "survey_aggregate"
	case ShapePromptAggregate:
		return "prompt_aggregate"
	}
	return "unknown"
}

// Query is a ready to run statement. When Empty is set nothing needs to run:
// the criteria cannot match any row.
type Query struct {
	SQL   string
	Args  []any
	Shape Shape
	Empty bool
}

// VisibilityResolver yields the predicate restricting what requester may see
// in a campaign. A zero fragment means no restriction.
type VisibilityResolver interface {
	Resolve(ctx context.Context, requester, campaignID string) (Fragment, error)
}

const (
	selectColumns = `u.username, c.urn, sr.uuid, sr.client,
		sr.epoch_millis, sr.phone_timezone, sr.survey_id, sr.launch_context,
		sr.location_status, sr.location, srps.privacy_state`
	selectPromptColumns = `pr.prompt_id, pr.prompt_type, pr.repeatable_set_id,
		pr.repeatable_set_iteration, pr.response`
	selectNoPromptColumns = `NULL, NULL, NULL, NULL, NULL`

	fromJoins = `
		FROM survey_response AS sr
		LEFT JOIN user AS u ON u.id = sr.user_id
		LEFT JOIN campaign AS c ON c.id = sr.campaign_id
		LEFT JOIN campaign_privacy_state AS cps ON cps.id = c.privacy_state_id
		LEFT JOIN survey_response_privacy_state AS srps ON srps.id = sr.privacy_state_id
		LEFT JOIN prompt_response AS pr ON pr.survey_response_id = sr.id`

	defaultOrder = "sr.epoch_millis DESC"
	tieBreak     = "sr.uuid"
)

var groupColumns = map[model.ColumnKey]string{
	model.ColumnClient:              "sr.client",
	model.ColumnDate:                "DATE(sr.epoch_millis / 1000, 'unixepoch')",
	model.ColumnTimestamp:           "(sr.epoch_millis / 1000)",
	model.ColumnUTCTimestamp:        "(sr.epoch_millis / 1000)",
	model.ColumnEpochMillis:         "sr.epoch_millis",
	model.ColumnTimezone:            "sr.phone_timezone",
	model.ColumnLaunchContextLong:   "sr.launch_context",
	model.ColumnLaunchContextShort:  "sr.launch_context",
	model.ColumnLocationStatus:      "sr.location_status",
	model.ColumnLocationLatitude:    "json_extract(sr.location, '$.latitude')",
	model.ColumnLocationLongitude:   "json_extract(sr.location, '$.longitude')",
	model.ColumnLocationTimestamp:   "json_extract(sr.location, '$.time')",
	model.ColumnLocationTimezone:    "json_extract(sr.location, '$.timezone')",
	model.ColumnLocationAccuracy:    "json_extract(sr.location, '$.accuracy')",
	model.ColumnLocationProvider:    "json_extract(sr.location, '$.provider')",
	model.ColumnUserID:              "u.username",
	model.ColumnSurveyID:            "sr.survey_id",
	model.ColumnSurveyResponseID:    "sr.uuid",
	model.ColumnPrivacyState:        "srps.privacy_state",
	model.ColumnRepeatableSetID:     "pr.repeatable_set_id",
	model.ColumnRepeatableIteration: "pr.repeatable_set_iteration",
	model.ColumnPromptResponse:      "pr.response",
}

var sortColumns = map[model.SortParameter]string{
	model.SortUser:      "u.username",
	model.SortTimestamp: "sr.epoch_millis",
	model.SortSurvey:    "sr.survey_id",
}

type Builder struct {
	acl VisibilityResolver
}

func NewBuilder(acl VisibilityResolver) *Builder {
	return &Builder{acl}
}

// Build composes the survey response read for requester in campaignID.
// Criteria that cannot match are answered with an Empty query without
// consulting the visibility resolver.
func (b *Builder) Build(ctx context.Context, campaignID, requester string, c Criteria) (Query, error) {
	groupBy, shape := groupings(c.Columns)
	if c.Empty() {
		return Query{Shape: shape, Empty: true}, nil
	}

	visibility, err := b.acl.Resolve(ctx, requester, campaignID)
	if err != nil {
		return Query{}, err
	}

	where := Join(" AND ",
		Expr("c.urn = ?", campaignID),
		visibility.Paren(),
		filters(c),
	)

	var sql strings.Builder
	sql.WriteString("SELECT ")
	switch shape {
	case ShapeIndividual:
		sql.WriteString("1, " + selectColumns + ", " + selectPromptColumns)
	case ShapeSurveyAggregate:
		sql.WriteString("COUNT(DISTINCT sr.id), " + selectColumns + ", " + selectNoPromptColumns)
	case ShapePromptAggregate:
		sql.WriteString("COUNT(sr.id), " + selectColumns + ", " + selectPromptColumns)
	}
	sql.WriteString(fromJoins)
	sql.WriteString("\n\t\tWHERE ")
	sql.WriteString(where.SQL)
	if len(groupBy) > 0 {
		sql.WriteString("\n\t\tGROUP BY ")
		sql.WriteString(strings.Join(groupBy, ", "))
	}
	sql.WriteString("\n\t\tORDER BY ")
	sql.WriteString(orderBy(c.SortOrder, shape))

	return Query{SQL: sql.String(), Args: where.Args, Shape: shape}, nil
}

// search tokens match literally
var likeEscaper = strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)

func filters(c Criteria) Fragment {
	var fs []Fragment
	if c.SurveyResponseIDs != nil {
		ids := make([]string, len(c.SurveyResponseIDs))
		for i, id := range c.SurveyResponseIDs {
			ids[i] = id.String()
		}
		fs = append(fs, In("sr.uuid", ids))
	}
	if len(c.Usernames) > 0 {
		fs = append(fs, In("u.username", c.Usernames))
	}
	if c.StartDate != nil {
		fs = append(fs, Expr("sr.epoch_millis >= ?", c.StartDate.UnixMilli()))
	}
	if c.EndDate != nil {
		fs = append(fs, Expr("sr.epoch_millis <= ?", c.EndDate.UnixMilli()))
	}
	if c.PrivacyState != "" {
		fs = append(fs, Expr("srps.privacy_state = ?", string(c.PrivacyState)))
	}
	if c.SurveyIDs != nil {
		fs = append(fs, In("sr.survey_id", c.SurveyIDs))
	}
	if c.PromptIDs != nil {
		fs = append(fs, In("pr.prompt_id", c.PromptIDs))
	}
	if c.PromptType != "" {
		fs = append(fs, Expr("pr.prompt_type = ?", string(c.PromptType)))
	}
	for _, token := range c.SearchTokens {
		fs = append(fs, Expr(`pr.response LIKE ? ESCAPE '\'`, "%"+likeEscaper.Replace(token)+"%"))
	}
	return Join(" AND ", fs...)
}

// groupings maps the requested columns to GROUP BY expressions. Any prompt
// level column moves the whole query to prompt granularity.
func groupings(columns []model.ColumnKey) (groupBy []string, shape Shape) {
	if columns == nil {
		return nil, ShapeIndividual
	}
	shape = ShapeSurveyAggregate
	for _, k := range columns {
		expr, ok := groupColumns[k]
		if !ok {
			log.Debugf("query.group_by: column %s is not supported, ignored", k)
			continue
		}
		if k.PromptLevel() {
			shape = ShapePromptAggregate
		}
		groupBy = append(groupBy, expr)
	}
	return
}

func orderBy(sort []model.SortParameter, shape Shape) string {
	var keys []string
	if sort == nil {
		keys = append(keys, defaultOrder)
	}
	for _, p := range sort {
		if col, ok := sortColumns[p]; ok {
			keys = append(keys, col)
		}
	}
	keys = append(keys, tieBreak)
	if shape == ShapeIndividual {
		// keeps prompt responses in upload order inside their group
		keys = append(keys, "pr.id")
	}
	return strings.Join(keys, ", ")
}

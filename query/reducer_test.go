package query

import (
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbolis/sensing-survey/model"
)

const testDefinition = `
id: urn:campaign:test
name: Test
surveys:
  - id: mood
    title: Mood
    prompts:
      - id: feeling
        type: text
      - id: picture
        type: photo
        skippable: true
    repeatable_sets:
      - id: meals
        prompts:
          - id: meal
            type: single_choice
            choices:
              - key: 0
                label: breakfast
              - key: 1
                label: lunch
`

func testCampaign(t *testing.T) *model.Campaign {
	t.Helper()
	c, err := model.ParseCampaign([]byte(testDefinition))
	require.NoError(t, err)
	return c
}

type stubRows struct {
	rows  []Row
	i     int
	err   error
	errAt int
}

func newRows(rows ...Row) *stubRows {
	return &stubRows{rows: rows, i: -1, errAt: -1}
}

func (s *stubRows) Next() bool {
	s.i++
	return s.i < len(s.rows)
}

func (s *stubRows) Row() (Row, error) {
	if s.i == s.errAt {
		return Row{}, errors.New("scan failed")
	}
	return s.rows[s.i], nil
}

func (s *stubRows) Err() error { return s.err }

func str(s string) sql.NullString { return sql.NullString{String: s, Valid: true} }

func surveyRow(id uuid.UUID) Row {
	return Row{
		Count:        1,
		Username:     str("alice"),
		CampaignID:   str("urn:campaign:test"),
		UUID:         str(id.String()),
		Client:       str("android"),
		EpochMillis:  sql.NullInt64{Int64: 1700000000000, Valid: true},
		Timezone:     str("Europe/Rome"),
		SurveyID:     str("mood"),
		PrivacyState: str("private"),
		Location:     str(`{"latitude":45.1,"longitude":7.6,"accuracy":5,"provider":"gps","time":1700000000000}`),
	}
}

func promptRow(id uuid.UUID, promptID, promptType, response string) Row {
	r := surveyRow(id)
	r.PromptID = str(promptID)
	r.PromptType = str(promptType)
	r.Response = str(response)
	return r
}

// responses builds n survey responses with one prompt response each.
func responses(n int) []Row {
	rows := make([]Row, n)
	for i := range rows {
		rows[i] = promptRow(uuid.New(), "feeling", "text", fmt.Sprint("answer ", i))
	}
	return rows
}

func TestReduceNoRows(t *testing.T) {
	page, err := Reduce(newRows(), ShapeIndividual, testCampaign(t), 0, NoLimit)

	require.NoError(t, err)
	assert.Empty(t, page.Responses)
	assert.NotNil(t, page.Responses)
	assert.Zero(t, page.Total)
}

func TestReduceFoldsPromptRows(t *testing.T) {
	r1, r2 := uuid.New(), uuid.New()
	photo := uuid.New()
	src := newRows(
		promptRow(r1, "feeling", "text", "hello"),
		promptRow(r1, "picture", "photo", photo.String()),
		surveyRow(r2),
	)

	page, err := Reduce(src, ShapeIndividual, testCampaign(t), 0, NoLimit)
	require.NoError(t, err)
	require.Len(t, page.Responses, 2)
	assert.Equal(t, 2, page.Total)

	first := page.Responses[0]
	assert.Equal(t, r1, first.UUID)
	assert.Equal(t, "alice", first.Username)
	assert.Equal(t, "mood", first.SurveyID)
	assert.Equal(t, model.PrivacyPrivate, first.PrivacyState)
	require.NotNil(t, first.Location)
	assert.Equal(t, "gps", first.Location.Provider)
	require.Len(t, first.Responses, 2)
	assert.Equal(t, model.Text("hello"), first.Responses[0].Value)
	assert.Equal(t, model.MediaRef(photo), first.Responses[1].Value)
	assert.Equal(t, []uuid.UUID{photo}, first.MediaIDs())

	assert.Equal(t, r2, page.Responses[1].UUID)
	assert.Empty(t, page.Responses[1].Responses)
}

func TestReduceRepeatableIteration(t *testing.T) {
	id := uuid.New()
	row := promptRow(id, "meal", "single_choice", "1")
	row.RepeatableSetID = str("meals")
	row.Iteration = sql.NullInt64{Int64: 2, Valid: true}

	page, err := Reduce(newRows(row), ShapeIndividual, testCampaign(t), 0, NoLimit)
	require.NoError(t, err)

	r := page.Responses[0].Responses[0]
	assert.Equal(t, model.SingleChoice(1), r.Value)
	assert.Equal(t, "meals", r.RepeatableSetID)
	require.NotNil(t, r.Iteration)
	assert.Equal(t, 2, *r.Iteration)
}

func TestReducePaging(t *testing.T) {
	const n = 5
	rows := responses(n)

	for skip := 0; skip <= n+1; skip++ {
		for limit := 0; limit <= n+1; limit++ {
			page, err := Reduce(newRows(rows...), ShapeIndividual, testCampaign(t), skip, limit)
			require.NoError(t, err)

			want := min(limit, max(0, n-skip))
			assert.Len(t, page.Responses, want, "skip=%d limit=%d", skip, limit)
			assert.Equal(t, n, page.Total, "skip=%d limit=%d", skip, limit)
			if want > 0 {
				assert.Equal(t, rows[skip].UUID.String, page.Responses[0].UUID.String())
			}
		}
	}
}

func TestReduceNoLimit(t *testing.T) {
	page, err := Reduce(newRows(responses(4)...), ShapeIndividual, testCampaign(t), 1, NoLimit)

	require.NoError(t, err)
	assert.Len(t, page.Responses, 3)
	assert.Equal(t, 4, page.Total)
}

func TestReduceUnknownPromptAborts(t *testing.T) {
	id := uuid.New()
	src := newRows(
		promptRow(id, "feeling", "text", "ok"),
		promptRow(id, "ghost", "text", "boo"),
	)

	_, err := Reduce(src, ShapeIndividual, testCampaign(t), 0, NoLimit)
	assert.ErrorIs(t, err, model.ErrUnknownPrompt)
}

func TestReduceTypeMismatchAborts(t *testing.T) {
	src := newRows(promptRow(uuid.New(), "feeling", "number", "3"))

	_, err := Reduce(src, ShapeIndividual, testCampaign(t), 0, NoLimit)
	assert.ErrorContains(t, err, "stored as number")
}

func TestReduceScanError(t *testing.T) {
	src := newRows(responses(3)...)
	src.errAt = 1

	_, err := Reduce(src, ShapeIndividual, testCampaign(t), 0, NoLimit)
	assert.ErrorContains(t, err, "scan failed")
}

func TestReduceCursorError(t *testing.T) {
	src := newRows(responses(2)...)
	src.err = errors.New("connection reset")

	_, err := Reduce(src, ShapeIndividual, testCampaign(t), 0, 1)
	assert.ErrorContains(t, err, "connection reset")
}

func TestReduceAggregateRowsAreGroups(t *testing.T) {
	a := surveyRow(uuid.New())
	a.Count = 3
	b := a
	b.Count = 2
	empty := Row{Count: 0}

	page, err := Reduce(newRows(a, b, empty), ShapeSurveyAggregate, testCampaign(t), 0, NoLimit)
	require.NoError(t, err)

	require.Len(t, page.Responses, 2)
	assert.Equal(t, 2, page.Total)
	assert.Equal(t, int64(3), page.Responses[0].Count)
	assert.Equal(t, int64(2), page.Responses[1].Count)
}

func TestReduceAggregateWithoutMatches(t *testing.T) {
	page, err := Reduce(newRows(Row{}), ShapeSurveyAggregate, testCampaign(t), 0, NoLimit)

	require.NoError(t, err)
	assert.Empty(t, page.Responses)
	assert.Zero(t, page.Total)
}

package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const definition = `
id: urn:campaign:sleep
name: Sleep
editable_responses: true
surveys:
  - id: night
    title: Last night
    prompts:
      - id: hours
        type: number
        min: 0
        max: 24
      - id: notes
        type: text
        skippable: true
        max: 10
      - id: rating
        type: multi_choice
        choices:
          - {key: 0, label: bad}
          - {key: 1, label: ok}
          - {key: 2, label: good}
      - id: clip
        type: video
        max_seconds: 30
        max_file_size: 1024
    repeatable_sets:
      - id: wakeups
        prompts:
          - id: when
            type: timestamp
`

func parse(t *testing.T) *Campaign {
	t.Helper()
	c, err := ParseCampaign([]byte(definition))
	require.NoError(t, err)
	return c
}

func TestParseCampaign(t *testing.T) {
	c := parse(t)

	assert.Equal(t, "urn:campaign:sleep", c.ID)
	assert.Equal(t, Running, c.RunningState)
	assert.Equal(t, PrivacyPrivate, c.PrivacyState)
	assert.True(t, c.EditableResponses)

	p, err := c.Prompt("night", "when")
	require.NoError(t, err)
	assert.Equal(t, "wakeups", p.RepeatableSetID)
	assert.Equal(t, PromptTimestamp, p.Type)

	clip, err := c.Prompt("night", "clip")
	require.NoError(t, err)
	assert.Equal(t, 30, clip.MaxSeconds)
	assert.Equal(t, int64(1024), clip.MaxFileSize)
}

func TestCampaignLookupErrors(t *testing.T) {
	c := parse(t)

	_, err := c.Survey("day")
	assert.ErrorIs(t, err, ErrUnknownSurvey)
	_, err = c.Prompt("day", "hours")
	assert.ErrorIs(t, err, ErrUnknownSurvey)
	_, err = c.Prompt("night", "dreams")
	assert.ErrorIs(t, err, ErrUnknownPrompt)
}

func TestParseCampaignRejects(t *testing.T) {
	for name, def := range map[string]string{
		"missing id":       `surveys: []`,
		"unknown field":    "id: x\nowner: bob",
		"duplicate survey": "id: x\nsurveys: [{id: a}, {id: a}]",
		"duplicate prompt": "id: x\nsurveys: [{id: a, prompts: [{id: p, type: text}, {id: p, type: text}]}]",
		"repeated in set":  "id: x\nsurveys: [{id: a, prompts: [{id: p, type: text}], repeatable_sets: [{id: r, prompts: [{id: p, type: text}]}]}]",
		"unknown type":     "id: x\nsurveys: [{id: a, prompts: [{id: p, type: essay}]}]",
		"no choices":       "id: x\nsurveys: [{id: a, prompts: [{id: p, type: single_choice}]}]",
		"bad privacy":      "id: x\nprivacy_state: secret",
		"bad running":      "id: x\nrunning_state: paused",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ParseCampaign([]byte(def))
			assert.Error(t, err)
		})
	}
}

func TestParseRole(t *testing.T) {
	r, err := ParseRole("analyst")
	require.NoError(t, err)
	assert.Equal(t, RoleAnalyst, r)
	_, err = ParseRole("owner")
	assert.Error(t, err)

	assert.True(t, HasRole([]Role{RoleAuthor, RoleAnalyst}, RoleAnalyst))
	assert.False(t, HasRole(nil, RoleSupervisor))
}

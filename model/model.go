package model

import (
	"errors"
	"fmt"
	"time"

	"gopkg.in/yaml.v2"
)

var (
	ErrUnknownSurvey = errors.New("unknown survey")
	ErrUnknownPrompt = errors.New("unknown prompt")
)

type PrivacyState string

const (
	PrivacyPrivate PrivacyState = "private"
	PrivacyShared  PrivacyState = "shared"
)

func ParsePrivacyState(s string) (PrivacyState, error) {
	switch p := PrivacyState(s); p {
	case PrivacyPrivate, PrivacyShared:
		return p, nil
	}
	return "", fmt.Errorf("unknown privacy state %q", s)
}

// Role is a user's permission level within one campaign.
type Role string

const (
	RoleSupervisor  Role = "supervisor"
	RoleAuthor      Role = "author"
	RoleAnalyst     Role = "analyst"
	RoleParticipant Role = "participant"
)

func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case RoleSupervisor, RoleAuthor, RoleAnalyst, RoleParticipant:
		return r, nil
	}
	return "", fmt.Errorf("unknown campaign role %q", s)
}

func HasRole(roles []Role, role Role) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}

type RunningState string

const (
	Running RunningState = "running"
	Stopped RunningState = "stopped"
)

type PromptType string

const (
	PromptText           PromptType = "text"
	PromptNumber         PromptType = "number"
	PromptHoursBeforeNow PromptType = "hours_before_now"
	PromptTimestamp      PromptType = "timestamp"
	PromptSingleChoice   PromptType = "single_choice"
	PromptMultiChoice    PromptType = "multi_choice"
	PromptPhoto          PromptType = "photo"
	PromptVideo          PromptType = "video"
	PromptAudio          PromptType = "audio"
	PromptFile           PromptType = "file"
)

func (t PromptType) Valid() bool {
	switch t {
	case PromptText, PromptNumber, PromptHoursBeforeNow, PromptTimestamp,
		PromptSingleChoice, PromptMultiChoice,
		PromptPhoto, PromptVideo, PromptAudio, PromptFile:
		return true
	}
	return false
}

// MediaCategory reports which kind of attachment answers a prompt of this
// type, if any.
func (t PromptType) MediaCategory() (MediaCategory, bool) {
	switch t {
	case PromptPhoto:
		return MediaPhoto, true
	case PromptVideo:
		return MediaVideo, true
	case PromptAudio:
		return MediaAudio, true
	case PromptFile:
		return MediaFile, true
	}
	return "", false
}

type Choice struct {
	Key   int    `yaml:"key" json:"key"`
	Label string `yaml:"label" json:"label"`
}

type Prompt struct {
	ID          string     `yaml:"id" json:"id"`
	Type        PromptType `yaml:"type" json:"type"`
	Text        string     `yaml:"text" json:"text"`
	Skippable   bool       `yaml:"skippable" json:"skippable"`
	Min         *float64   `yaml:"min" json:"min,omitempty"`
	Max         *float64   `yaml:"max" json:"max,omitempty"`
	Choices     []Choice   `yaml:"choices" json:"choices,omitempty"`
	MaxFileSize int64      `yaml:"max_file_size" json:"max_file_size,omitempty"`
	MaxSeconds  int        `yaml:"max_seconds" json:"max_seconds,omitempty"`

	// set while parsing for prompts nested in a repeatable set
	RepeatableSetID string `yaml:"-" json:"repeatable_set_id,omitempty"`
}

func (p *Prompt) choice(key int) bool {
	for _, c := range p.Choices {
		if c.Key == key {
			return true
		}
	}
	return false
}

type RepeatableSet struct {
	ID      string    `yaml:"id" json:"id"`
	Prompts []*Prompt `yaml:"prompts" json:"prompts"`
}

type Survey struct {
	ID             string           `yaml:"id" json:"id"`
	Title          string           `yaml:"title" json:"title"`
	Description    string           `yaml:"description" json:"description"`
	Prompts        []*Prompt        `yaml:"prompts" json:"prompts"`
	RepeatableSets []*RepeatableSet `yaml:"repeatable_sets" json:"repeatable_sets,omitempty"`

	prompts map[string]*Prompt
}

func (s *Survey) Prompt(id string) (*Prompt, bool) {
	p, ok := s.prompts[id]
	return p, ok
}

// Campaign is the definition every survey response is validated against.
type Campaign struct {
	ID                string       `yaml:"id" json:"id"`
	Name              string       `yaml:"name" json:"name"`
	Description       string       `yaml:"description" json:"description"`
	RunningState      RunningState `yaml:"running_state" json:"running_state"`
	PrivacyState      PrivacyState `yaml:"privacy_state" json:"privacy_state"`
	EditableResponses bool         `yaml:"editable_responses" json:"editable_responses"`
	Surveys           []*Survey    `yaml:"surveys" json:"surveys"`

	// filled from the store, not from the definition
	Revision          int64     `yaml:"-" json:"revision"`
	CreationTimestamp time.Time `yaml:"-" json:"creation_timestamp"`
}

func (c *Campaign) Survey(id string) (*Survey, error) {
	for _, s := range c.Surveys {
		if s.ID == id {
			return s, nil
		}
	}
	return nil, fmt.Errorf("%w %q in campaign %s", ErrUnknownSurvey, id, c.ID)
}

func (c *Campaign) Prompt(surveyID, promptID string) (*Prompt, error) {
	s, err := c.Survey(surveyID)
	if err != nil {
		return nil, err
	}
	p, ok := s.Prompt(promptID)
	if !ok {
		return nil, fmt.Errorf("%w %q in survey %s", ErrUnknownPrompt, promptID, surveyID)
	}
	return p, nil
}

// ParseCampaign reads and validates a YAML campaign definition.
func ParseCampaign(definition []byte) (*Campaign, error) {
	c := &Campaign{}
	if err := yaml.UnmarshalStrict(definition, c); err != nil {
		return nil, fmt.Errorf("parse campaign definition: %w", err)
	}
	if c.ID == "" {
		return nil, errors.New("campaign definition: missing id")
	}
	if c.RunningState == "" {
		c.RunningState = Running
	}
	if c.RunningState != Running && c.RunningState != Stopped {
		return nil, fmt.Errorf("campaign definition: unknown running state %q", c.RunningState)
	}
	if c.PrivacyState == "" {
		c.PrivacyState = PrivacyPrivate
	}
	if _, err := ParsePrivacyState(string(c.PrivacyState)); err != nil {
		return nil, fmt.Errorf("campaign definition: %w", err)
	}

	seen := map[string]bool{}
	for _, s := range c.Surveys {
		if s.ID == "" {
			return nil, errors.New("campaign definition: survey without id")
		}
		if seen[s.ID] {
			return nil, fmt.Errorf("campaign definition: duplicate survey %q", s.ID)
		}
		seen[s.ID] = true

		s.prompts = map[string]*Prompt{}
		for _, p := range s.Prompts {
			if err := s.index(p); err != nil {
				return nil, err
			}
		}
		for _, rs := range s.RepeatableSets {
			if rs.ID == "" {
				return nil, fmt.Errorf("campaign definition: repeatable set without id in survey %q", s.ID)
			}
			for _, p := range rs.Prompts {
				p.RepeatableSetID = rs.ID
				if err := s.index(p); err != nil {
					return nil, err
				}
			}
		}
	}
	return c, nil
}

func (s *Survey) index(p *Prompt) error {
	if p.ID == "" {
		return fmt.Errorf("campaign definition: prompt without id in survey %q", s.ID)
	}
	if _, dup := s.prompts[p.ID]; dup {
		return fmt.Errorf("campaign definition: duplicate prompt %q in survey %q", p.ID, s.ID)
	}
	if !p.Type.Valid() {
		return fmt.Errorf("campaign definition: prompt %q has unknown type %q", p.ID, p.Type)
	}
	if (p.Type == PromptSingleChoice || p.Type == PromptMultiChoice) && len(p.Choices) == 0 {
		return fmt.Errorf("campaign definition: choice prompt %q has no choices", p.ID)
	}
	if p.MaxSeconds < 0 {
		return fmt.Errorf("campaign definition: prompt %q max_seconds must be positive", p.ID)
	}
	s.prompts[p.ID] = p
	return nil
}

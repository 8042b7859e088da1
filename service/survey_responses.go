package service

import (
	"context"
	"sort"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/mbolis/sensing-survey/acl"
	"github.com/mbolis/sensing-survey/database"
	"github.com/mbolis/sensing-survey/log"
	"github.com/mbolis/sensing-survey/model"
	"github.com/mbolis/sensing-survey/query"
)

// ResponseStore persists survey responses. *database.SurveyResponses
// satisfies it.
type ResponseStore interface {
	Retrieve(ctx context.Context, q query.Query, defs query.Definitions, skip, limit int) (query.Page, error)
	Insert(ctx context.Context, owner, client string, responses []*model.SurveyResponse, media model.MediaSet) ([]int, error)
	Update(ctx context.Context, owner, client string, responses []*model.SurveyResponse, media model.MediaSet) error
	UpdatePrivacyState(ctx context.Context, ids []uuid.UUID, state model.PrivacyState) error
	Delete(ctx context.Context, id uuid.UUID) error
	Owner(ctx context.Context, id uuid.UUID) (campaignID, username string, err error)
	CampaignID(ctx context.Context, id uuid.UUID) (string, error)
	PrivacyStates(ctx context.Context) ([]model.PrivacyState, error)
	MediaIDs(ctx context.Context, id uuid.UUID) ([]uuid.UUID, error)
}

type MediaStore interface {
	Exists(ctx context.Context, id uuid.UUID) (bool, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

type CampaignStore interface {
	Get(ctx context.Context, urn string) (*model.Campaign, error)
}

type SurveyResponses struct {
	store     ResponseStore
	media     MediaStore
	campaigns CampaignStore
	dir       acl.Directory
	acl       *acl.Resolver

	// privacy state of uploads that do not carry one
	DefaultPrivacy model.PrivacyState

	newID func() uuid.UUID
}

func NewSurveyResponses(store ResponseStore, media MediaStore, campaigns CampaignStore, dir acl.Directory) *SurveyResponses {
	return &SurveyResponses{
		store:          store,
		media:          media,
		campaigns:      campaigns,
		dir:            dir,
		acl:            acl.NewResolver(dir),
		DefaultPrivacy: model.PrivacyPrivate,
		newID:          uuid.New,
	}
}

// Campaign loads a campaign, reporting unknown ids to the client.
func (s *SurveyResponses) Campaign(ctx context.Context, urn string) (*model.Campaign, error) {
	c, err := s.campaigns.Get(ctx, urn)
	if errors.Is(err, database.ErrNotFound) {
		return nil, fail(CodeInvalidCampaign, "The campaign %s does not exist.", urn)
	}
	if err != nil {
		return nil, internal("service.campaign", err)
	}
	return c, nil
}

// Read returns the page of survey responses of campaignID matching c that
// requester is allowed to see.
func (s *SurveyResponses) Read(ctx context.Context, requester, campaignID string, c query.Criteria) (query.Page, error) {
	if err := c.Validate(); err != nil {
		return query.Page{}, failWith(CodeInvalidFilter, err, "%s", err)
	}
	campaign, err := s.Campaign(ctx, campaignID)
	if err != nil {
		return query.Page{}, err
	}
	return s.read(ctx, acl.Memoize(s.acl), requester, campaign, c)
}

func (s *SurveyResponses) read(ctx context.Context, visibility query.VisibilityResolver, requester string, campaign *model.Campaign, c query.Criteria) (query.Page, error) {
	q, err := query.NewBuilder(visibility).Build(ctx, campaign.ID, requester, c)
	if err != nil {
		return query.Page{}, internal("service.read.build", err)
	}
	log.Debugf("service.read: %s shape for %s in %s", q.Shape, requester, campaign.ID)

	page, err := s.store.Retrieve(ctx, q, campaign, c.Skip, c.Limit)
	if err != nil {
		return query.Page{}, internal("service.read", err)
	}
	return page, nil
}

type ItemFailure struct {
	Index   int    `json:"index"`
	Code    Code   `json:"code"`
	Message string `json:"text"`
}

// UploadResult reports the responses of a batch that were not stored, by
// their index in the batch.
type UploadResult struct {
	Duplicates []int         `json:"duplicates"`
	Failures   []ItemFailure `json:"failures"`
}

// Create stores a batch of new survey responses of campaign. Responses
// repeating an id, either within the batch or already stored, are skipped
// as duplicates before their media are looked at. Responses whose media do
// not check out are skipped as failures. Every other response is stored.
func (s *SurveyResponses) Create(ctx context.Context, owner, client string, campaign *model.Campaign, responses []*model.SurveyResponse, media model.MediaSet) (UploadResult, error) {
	result := UploadResult{Duplicates: []int{}, Failures: []ItemFailure{}}

	var (
		accepted []*model.SurveyResponse
		indices  []int
		failures *multierror.Error
	)
	seen := map[uuid.UUID]bool{}
	claimed := map[uuid.UUID]bool{}
	for i, sr := range responses {
		if seen[sr.UUID] {
			result.Duplicates = append(result.Duplicates, i)
			continue
		}
		seen[sr.UUID] = true

		stored, err := s.isStored(ctx, sr.UUID)
		if err != nil {
			return UploadResult{}, err
		}
		if stored {
			result.Duplicates = append(result.Duplicates, i)
			continue
		}

		e, err := s.checkNewMedia(ctx, campaign, sr, media, claimed)
		if err != nil {
			return UploadResult{}, err
		}
		if e != nil {
			result.Failures = append(result.Failures, ItemFailure{i, e.Code, e.Message})
			failures = multierror.Append(failures, errors.Wrapf(e, "survey response %d", i))
			continue
		}
		for _, id := range sr.MediaIDs() {
			claimed[id] = true
		}
		sr.CampaignID = campaign.ID
		accepted = append(accepted, sr)
		indices = append(indices, i)
	}
	if failures != nil {
		log.WithFields(log.Fields{"user": owner, "campaign": campaign.ID}).Debugf("service.create: %s", failures)
	}

	if len(accepted) > 0 {
		stored, err := s.store.Insert(ctx, owner, client, accepted, media)
		if err != nil {
			return UploadResult{}, internal("service.create", err)
		}
		for _, j := range stored {
			result.Duplicates = append(result.Duplicates, indices[j])
		}
	}
	sort.Ints(result.Duplicates)
	log.Debugf("service.create: %d survey responses for %s in %s, %d duplicates, %d failures",
		len(responses), owner, campaign.ID, len(result.Duplicates), len(result.Failures))
	return result, nil
}

// isStored reports whether a survey response with id exists in any campaign.
func (s *SurveyResponses) isStored(ctx context.Context, id uuid.UUID) (bool, error) {
	_, err := s.store.CampaignID(ctx, id)
	if errors.Is(err, database.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, internal("service.create.lookup", err)
	}
	return true, nil
}

// checkNewMedia verifies that every media sr references is in the upload,
// fits its prompt, and is neither stored already nor claimed by an earlier
// response of the batch. The first check failing is returned as failure; err
// is reserved to store errors.
func (s *SurveyResponses) checkNewMedia(ctx context.Context, campaign *model.Campaign, sr *model.SurveyResponse, media model.MediaSet, claimed map[uuid.UUID]bool) (failure *Error, err error) {
	for _, r := range sr.Responses {
		id, ok := r.MediaID()
		if !ok {
			continue
		}
		m, ok := media[id]
		if !ok {
			return fail(CodeInvalidMedia, "The media %s of prompt %s was not uploaded.", id, r.PromptID), nil
		}
		if claimed[id] {
			return fail(CodeDuplicateMedia, "The media %s is referenced by more than one survey response.", id), nil
		}
		p, err := campaign.Prompt(sr.SurveyID, r.PromptID)
		if err != nil {
			return failWith(CodeInvalidResponses, err, "%s", err), nil
		}
		if e := acceptsMedia(p, m); e != nil {
			return e, nil
		}
		exists, err := s.media.Exists(ctx, id)
		if err != nil {
			return nil, internal("service.create.media", err)
		}
		if exists {
			return fail(CodeDuplicateMedia, "The media %s already exists.", id), nil
		}
	}
	return nil, nil
}

// Update replaces stored survey responses of owner. The batch is rejected as
// a whole when any response is repeated, unknown, not owned by owner, moved
// to another survey, or references media that do not check out.
func (s *SurveyResponses) Update(ctx context.Context, owner, client string, campaign *model.Campaign, responses []*model.SurveyResponse, media model.MediaSet) error {
	ids := make([]uuid.UUID, len(responses))
	seen := map[uuid.UUID]bool{}
	for i, sr := range responses {
		if seen[sr.UUID] {
			return fail(CodeInvalidResponses, "The survey response %s is repeated in the upload.", sr.UUID)
		}
		seen[sr.UUID] = true
		ids[i] = sr.UUID
	}

	// own responses only, whatever owner's role in the campaign
	page, err := s.read(ctx, acl.Memoize(s.acl), owner, campaign, query.Criteria{
		SurveyResponseIDs: ids,
		Usernames:         []string{owner},
		Limit:             query.NoLimit,
	})
	if err != nil {
		return err
	}
	existing := make(map[uuid.UUID]*model.SurveyResponse, len(page.Responses))
	for _, sr := range page.Responses {
		existing[sr.UUID] = sr
	}

	newMedia := model.MediaSet{}
	var stale []uuid.UUID
	for _, sr := range responses {
		old, ok := existing[sr.UUID]
		if !ok || old.Username != owner {
			return fail(CodeInsufficientPermissions, msgCannotModify)
		}
		if old.SurveyID != sr.SurveyID {
			return fail(CodeInvalidResponses, "The survey response %s cannot move from survey %s to %s.", sr.UUID, old.SurveyID, sr.SurveyID)
		}
		sr.CampaignID = campaign.ID

		kept := map[uuid.UUID]bool{}
		for _, id := range old.MediaIDs() {
			kept[id] = false
		}
		if err := s.checkUpdatedMedia(ctx, campaign, sr, media, newMedia, kept); err != nil {
			return err
		}
		for id, stillUsed := range kept {
			if !stillUsed {
				stale = append(stale, id)
			}
		}
	}

	err = s.store.Update(ctx, owner, client, responses, newMedia)
	if errors.Is(err, database.ErrNotFound) {
		return fail(CodeInsufficientPermissions, msgCannotModify)
	}
	if err != nil {
		return internal("service.update", err)
	}

	var cleanup *multierror.Error
	for _, id := range stale {
		if err := s.media.Delete(ctx, id); err != nil {
			cleanup = multierror.Append(cleanup, err)
		}
	}
	if cleanup != nil {
		log.Warnf("service.update.cleanup: %s", cleanup)
	}
	log.Debugf("service.update: %d survey responses for %s in %s", len(responses), owner, campaign.ID)
	return nil
}

// checkUpdatedMedia accepts media already attached to the stored response,
// recorded in kept, and media supplied with the upload, added to newMedia.
func (s *SurveyResponses) checkUpdatedMedia(ctx context.Context, campaign *model.Campaign, sr *model.SurveyResponse, media, newMedia model.MediaSet, kept map[uuid.UUID]bool) error {
	for _, r := range sr.Responses {
		id, ok := r.MediaID()
		if !ok {
			continue
		}
		if _, attached := kept[id]; attached {
			kept[id] = true
			continue
		}
		m, ok := media[id]
		if !ok {
			return fail(CodeInvalidMedia, "The media %s of prompt %s was not uploaded.", id, r.PromptID)
		}
		if _, dup := newMedia[id]; dup {
			return fail(CodeDuplicateMedia, "The media %s is referenced by more than one survey response.", id)
		}
		p, err := campaign.Prompt(sr.SurveyID, r.PromptID)
		if err != nil {
			return failWith(CodeInvalidResponses, err, "%s", err)
		}
		if e := acceptsMedia(p, m); e != nil {
			return e
		}
		exists, err := s.media.Exists(ctx, id)
		if err != nil {
			return internal("service.update.media", err)
		}
		if exists {
			return fail(CodeDuplicateMedia, "The media %s already exists.", id)
		}
		newMedia[id] = m
	}
	return nil
}

// CampaignForResponse returns the campaign a stored response belongs to.
// Unknown ids are reported as a permission failure.
func (s *SurveyResponses) CampaignForResponse(ctx context.Context, id uuid.UUID) (string, error) {
	campaignID, err := s.store.CampaignID(ctx, id)
	if errors.Is(err, database.ErrNotFound) {
		return "", fail(CodeInsufficientPermissions, msgCannotModify)
	}
	if err != nil {
		return "", internal("service.campaign_for_response", err)
	}
	return campaignID, nil
}

// VerifyCanModify allows admins, supervisors of the response's campaign, and
// the response owner. The error does not tell apart unknown responses from
// forbidden ones.
func (s *SurveyResponses) VerifyCanModify(ctx context.Context, requester string, id uuid.UUID) error {
	campaignID, owner, err := s.store.Owner(ctx, id)
	if errors.Is(err, database.ErrNotFound) {
		return fail(CodeInsufficientPermissions, msgCannotModify)
	}
	if err != nil {
		return internal("service.verify_can_modify", err)
	}
	if owner == requester {
		return nil
	}
	supervises, err := s.acl.Supervises(ctx, requester, campaignID)
	if err != nil {
		return internal("service.verify_can_modify.roles", err)
	}
	if !supervises {
		return fail(CodeInsufficientPermissions, msgCannotModify)
	}
	return nil
}

// UpdatePrivacyState sets the privacy state of the given responses once
// requester is allowed to modify every one of them.
func (s *SurveyResponses) UpdatePrivacyState(ctx context.Context, requester string, ids []uuid.UUID, state model.PrivacyState) error {
	if _, err := model.ParsePrivacyState(string(state)); err != nil {
		return failWith(CodeInvalidPrivacyState, err, "%s", err)
	}
	for _, id := range ids {
		if err := s.VerifyCanModify(ctx, requester, id); err != nil {
			return err
		}
	}
	if err := s.store.UpdatePrivacyState(ctx, ids, state); err != nil {
		return internal("service.update_privacy_state", err)
	}
	return nil
}

// Delete removes a response after its media. A failure between the two
// steps leaves the response in place without some of its media.
func (s *SurveyResponses) Delete(ctx context.Context, requester string, id uuid.UUID) error {
	if err := s.VerifyCanModify(ctx, requester, id); err != nil {
		return err
	}
	mediaIDs, err := s.store.MediaIDs(ctx, id)
	if err != nil {
		return internal("service.delete.media_ids", err)
	}
	for _, mediaID := range mediaIDs {
		if err := s.media.Delete(ctx, mediaID); err != nil {
			return internal("service.delete.media", err)
		}
	}
	err = s.store.Delete(ctx, id)
	if errors.Is(err, database.ErrNotFound) {
		return fail(CodeInsufficientPermissions, msgCannotModify)
	}
	if err != nil {
		return internal("service.delete", err)
	}
	return nil
}

func (s *SurveyResponses) PrivacyStates(ctx context.Context) ([]model.PrivacyState, error) {
	states, err := s.store.PrivacyStates(ctx)
	if err != nil {
		return nil, internal("service.privacy_states", err)
	}
	return states, nil
}

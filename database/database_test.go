package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbolis/sensing-survey/acl"
	"github.com/mbolis/sensing-survey/model"
	"github.com/mbolis/sensing-survey/query"
)

const campaignURN = "urn:campaign:diary"

const campaignYAML = `
id: urn:campaign:diary
name: Diary
surveys:
  - id: day
    title: Your day
    prompts:
      - id: p1
        type: text
      - id: p2
        type: photo
        skippable: true
`

type fixture struct {
	db        *sql.DB
	users     *Users
	campaigns *Campaigns
	media     *MediaStore
	responses *SurveyResponses
	campaign  *model.Campaign
	mediaDir  string
}

func setup(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	db, err := open(filepath.Join(dir, "test.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	f := &fixture{
		db:        db,
		users:     NewUsers(db),
		campaigns: NewCampaigns(db),
		mediaDir:  filepath.Join(dir, "media"),
	}
	f.media, err = NewMediaStore(db, f.mediaDir)
	require.NoError(t, err)
	f.responses = NewSurveyResponses(db, f.media)

	ctx := context.Background()
	f.campaign, err = f.campaigns.Create(ctx, []byte(campaignYAML))
	require.NoError(t, err)

	for user, role := range map[string]model.Role{
		"alice": model.RoleParticipant,
		"bob":   model.RoleParticipant,
		"ann":   model.RoleAnalyst,
		"art":   model.RoleAuthor,
		"sue":   model.RoleSupervisor,
	} {
		require.NoError(t, f.users.Create(ctx, user, "pw", false))
		require.NoError(t, f.users.AssignRole(ctx, user, campaignURN, role))
	}
	require.NoError(t, f.users.Create(ctx, "root", "pw", true))
	return f
}

func (f *fixture) newResponse(t *testing.T, owner string, millis int64, answer string, photo *model.Media) *model.SurveyResponse {
	t.Helper()
	sr := &model.SurveyResponse{
		UUID:           uuid.New(),
		Username:       owner,
		CampaignID:     campaignURN,
		Time:           millis,
		Timezone:       "UTC",
		SurveyID:       "day",
		LocationStatus: model.LocationUnavailable,
		PrivacyState:   model.PrivacyPrivate,
	}
	p1, err := f.campaign.Prompt("day", "p1")
	require.NoError(t, err)
	r, err := p1.CreateResponse(nil, answer)
	require.NoError(t, err)
	sr.AddResponse(r)

	p2, err := f.campaign.Prompt("day", "p2")
	require.NoError(t, err)
	raw := string(model.Skipped)
	if photo != nil {
		raw = photo.ID.String()
	}
	r, err = p2.CreateResponse(nil, raw)
	require.NoError(t, err)
	sr.AddResponse(r)
	return sr
}

func (f *fixture) read(t *testing.T, requester string, c query.Criteria) query.Page {
	t.Helper()
	ctx := context.Background()
	q, err := query.NewBuilder(acl.NewResolver(f.users)).Build(ctx, campaignURN, requester, c)
	require.NoError(t, err)
	if c.Limit == 0 {
		c.Limit = query.NoLimit
	}
	page, err := f.responses.Retrieve(ctx, q, f.campaign, c.Skip, c.Limit)
	require.NoError(t, err)
	return page
}

func ids(page query.Page) []uuid.UUID {
	out := make([]uuid.UUID, len(page.Responses))
	for i, sr := range page.Responses {
		out[i] = sr.UUID
	}
	return out
}

func TestUploadReadDelete(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	photo := &model.Media{ID: uuid.New(), ContentType: "image/jpeg", FileName: "x.jpg", Data: []byte("jpeg")}
	r1 := f.newResponse(t, "alice", 1_700_000_000_000, "hello", photo)

	dups, err := f.responses.Insert(ctx, "alice", "android", []*model.SurveyResponse{r1}, model.MediaSet{photo.ID: photo})
	require.NoError(t, err)
	assert.Empty(t, dups)

	page := f.read(t, "alice", query.Criteria{})
	require.Len(t, page.Responses, 1)
	assert.Equal(t, 1, page.Total)
	got := page.Responses[0]
	assert.Equal(t, r1.UUID, got.UUID)
	assert.Equal(t, "alice", got.Username)
	assert.Equal(t, "android", got.Client)
	require.Len(t, got.Responses, 2)
	assert.Equal(t, model.Text("hello"), got.Responses[0].Value)
	assert.Equal(t, model.MediaRef(photo.ID), got.Responses[1].Value)

	stored, owner, err := f.media.Get(ctx, photo.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", owner)
	assert.Equal(t, []byte("jpeg"), stored.Data)

	mediaIDs, err := f.responses.MediaIDs(ctx, r1.UUID)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{photo.ID}, mediaIDs)

	for _, id := range mediaIDs {
		require.NoError(t, f.media.Delete(ctx, id))
	}
	require.NoError(t, f.responses.Delete(ctx, r1.UUID))

	assert.Empty(t, f.read(t, "alice", query.Criteria{}).Responses)
	_, _, err = f.media.Get(ctx, photo.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = os.Stat(filepath.Join(f.mediaDir, photo.ID.String()))
	assert.True(t, os.IsNotExist(err))

	assert.ErrorIs(t, f.responses.Delete(ctx, r1.UUID), ErrNotFound)
}

func TestInsertReportsStoredDuplicates(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	first := f.newResponse(t, "alice", 1000, "one", nil)
	_, err := f.responses.Insert(ctx, "alice", "web", []*model.SurveyResponse{first}, nil)
	require.NoError(t, err)

	second := f.newResponse(t, "alice", 2000, "two", nil)
	dups, err := f.responses.Insert(ctx, "alice", "web", []*model.SurveyResponse{second, first}, nil)
	require.NoError(t, err)
	assert.Equal(t, []int{1}, dups)

	page := f.read(t, "alice", query.Criteria{})
	assert.Equal(t, []uuid.UUID{second.UUID, first.UUID}, ids(page))
}

func TestInsertFailureWritesNothing(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	photo := &model.Media{ID: uuid.New(), ContentType: "image/png", Data: []byte("png")}
	ok := f.newResponse(t, "alice", 1000, "fine", photo)
	broken := f.newResponse(t, "nobody", 2000, "orphan", nil)

	_, err := f.responses.Insert(ctx, "nobody", "web", []*model.SurveyResponse{ok, broken}, model.MediaSet{photo.ID: photo})
	require.Error(t, err)

	var dae *DataAccessError
	assert.ErrorAs(t, err, &dae)
	assert.Empty(t, f.read(t, "root", query.Criteria{}).Responses)
	_, err = os.Stat(filepath.Join(f.mediaDir, photo.ID.String()))
	assert.True(t, os.IsNotExist(err))
}

func TestVisibility(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	private := f.newResponse(t, "bob", 1000, "mine", nil)
	shared := f.newResponse(t, "bob", 2000, "ours", nil)
	shared.PrivacyState = model.PrivacyShared
	_, err := f.responses.Insert(ctx, "bob", "web", []*model.SurveyResponse{private, shared}, nil)
	require.NoError(t, err)

	byID := query.Criteria{SurveyResponseIDs: []uuid.UUID{private.UUID}}
	assert.Empty(t, f.read(t, "alice", byID).Responses, "participants never see others' private data")
	assert.Len(t, f.read(t, "bob", byID).Responses, 1)
	assert.Len(t, f.read(t, "sue", byID).Responses, 1)
	assert.Len(t, f.read(t, "root", byID).Responses, 1)

	assert.Equal(t, []uuid.UUID{shared.UUID}, ids(f.read(t, "art", query.Criteria{})), "authors see shared responses")
	assert.Empty(t, f.read(t, "ann", query.Criteria{}).Responses, "analysts need a shared campaign")

	require.NoError(t, f.campaigns.SetState(ctx, campaignURN, model.Running, model.PrivacyShared))
	assert.Equal(t, []uuid.UUID{shared.UUID}, ids(f.read(t, "ann", query.Criteria{})))

	require.NoError(t, f.responses.UpdatePrivacyState(ctx, []uuid.UUID{private.UUID}, model.PrivacyShared))
	assert.Len(t, f.read(t, "ann", query.Criteria{}).Responses, 2)
	assert.Len(t, f.read(t, "alice", query.Criteria{}).Responses, 0)
}

func TestPagingAndAggregation(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	var batch []*model.SurveyResponse
	for i := 0; i < 7; i++ {
		owner := "alice"
		if i%2 == 1 {
			owner = "bob"
		}
		sr := f.newResponse(t, owner, int64(1000*(i+1)), fmt.Sprint("answer ", i), nil)
		_, err := f.responses.Insert(ctx, owner, "web", []*model.SurveyResponse{sr}, nil)
		require.NoError(t, err)
		batch = append(batch, sr)
	}

	all := f.read(t, "sue", query.Criteria{})
	require.Len(t, all.Responses, 7)
	assert.Equal(t, batch[6].UUID, all.Responses[0].UUID, "newest first")
	assert.Equal(t, ids(all), ids(f.read(t, "sue", query.Criteria{})))

	page := f.read(t, "sue", query.Criteria{Skip: 5, Limit: 3})
	assert.Len(t, page.Responses, 2)
	assert.Equal(t, 7, page.Total)
	assert.Equal(t, ids(all)[5:], ids(page))

	search := f.read(t, "sue", query.Criteria{SearchTokens: []string{"answer", "3"}})
	assert.Equal(t, []uuid.UUID{batch[3].UUID}, ids(search))

	end := time.UnixMilli(3000)
	early := f.read(t, "sue", query.Criteria{EndDate: &end})
	assert.Len(t, early.Responses, 3)

	byUser := f.read(t, "sue", query.Criteria{
		Columns:   []model.ColumnKey{model.ColumnUserID},
		SortOrder: []model.SortParameter{model.SortUser},
	})
	require.Len(t, byUser.Responses, 2)
	assert.Equal(t, "alice", byUser.Responses[0].Username)
	assert.Equal(t, int64(4), byUser.Responses[0].Count)
	assert.Equal(t, int64(3), byUser.Responses[1].Count)

	byPrompt := f.read(t, "sue", query.Criteria{Columns: []model.ColumnKey{model.ColumnUserID, model.ColumnPromptResponse}})
	assert.Len(t, byPrompt.Responses, 9, "7 distinct answers and one SKIPPED per user")

	nothing := f.read(t, "sue", query.Criteria{Columns: []model.ColumnKey{model.ColumnSurveyTitle}})
	require.Len(t, nothing.Responses, 1)
	assert.Equal(t, int64(7), nothing.Responses[0].Count)
}

func TestSearchMatchesLiterally(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	discount := f.newResponse(t, "alice", 1000, "50% off", nil)
	underscore := f.newResponse(t, "alice", 2000, "a_b", nil)
	plain := f.newResponse(t, "alice", 3000, "axb", nil)
	_, err := f.responses.Insert(ctx, "alice", "web", []*model.SurveyResponse{discount, underscore, plain}, nil)
	require.NoError(t, err)

	assert.Equal(t, []uuid.UUID{underscore.UUID}, ids(f.read(t, "alice", query.Criteria{SearchTokens: []string{"a_b"}})))
	assert.Equal(t, []uuid.UUID{discount.UUID}, ids(f.read(t, "alice", query.Criteria{SearchTokens: []string{"%"}})))
	assert.Len(t, f.read(t, "alice", query.Criteria{SearchTokens: []string{"x"}}).Responses, 1)
}

func TestUpdate(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	sr := f.newResponse(t, "alice", 1000, "before", nil)
	_, err := f.responses.Insert(ctx, "alice", "web", []*model.SurveyResponse{sr}, nil)
	require.NoError(t, err)

	photo := &model.Media{ID: uuid.New(), ContentType: "image/gif", Data: []byte("gif")}
	changed := f.newResponse(t, "alice", 5000, "after", photo)
	changed.UUID = sr.UUID
	require.NoError(t, f.responses.Update(ctx, "alice", "ios", []*model.SurveyResponse{changed}, model.MediaSet{photo.ID: photo}))

	page := f.read(t, "alice", query.Criteria{})
	require.Len(t, page.Responses, 1)
	assert.Equal(t, "ios", page.Responses[0].Client)
	assert.Equal(t, int64(5000), page.Responses[0].Time)
	assert.Equal(t, model.Text("after"), page.Responses[0].Responses[0].Value)
	exists, err := f.media.Exists(ctx, photo.ID)
	require.NoError(t, err)
	assert.True(t, exists)

	missing := f.newResponse(t, "alice", 6000, "ghost", nil)
	err = f.responses.Update(ctx, "alice", "ios", []*model.SurveyResponse{changed, missing}, nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLookups(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	sr := f.newResponse(t, "bob", 1000, "x", nil)
	_, err := f.responses.Insert(ctx, "bob", "web", []*model.SurveyResponse{sr}, nil)
	require.NoError(t, err)

	campaignID, owner, err := f.responses.Owner(ctx, sr.UUID)
	require.NoError(t, err)
	assert.Equal(t, campaignURN, campaignID)
	assert.Equal(t, "bob", owner)

	campaignID, err = f.responses.CampaignID(ctx, sr.UUID)
	require.NoError(t, err)
	assert.Equal(t, campaignURN, campaignID)
	_, err = f.responses.CampaignID(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)

	states, err := f.responses.PrivacyStates(ctx)
	require.NoError(t, err)
	assert.Equal(t, []model.PrivacyState{model.PrivacyPrivate, model.PrivacyShared}, states)
}

func TestUsers(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	assert.ErrorIs(t, f.users.Create(ctx, "alice", "again", false), ErrExists)

	admin, err := f.users.IsAdmin(ctx, "root")
	require.NoError(t, err)
	assert.True(t, admin)
	admin, err = f.users.IsAdmin(ctx, "ghost")
	require.NoError(t, err)
	assert.False(t, admin)

	require.NoError(t, f.users.AssignRole(ctx, "art", campaignURN, model.RoleAnalyst))
	require.NoError(t, f.users.AssignRole(ctx, "art", campaignURN, model.RoleAnalyst))
	roles, err := f.users.Roles(ctx, "art", campaignURN)
	require.NoError(t, err)
	assert.ElementsMatch(t, []model.Role{model.RoleAuthor, model.RoleAnalyst}, roles)

	assert.ErrorIs(t, f.users.AssignRole(ctx, "ghost", campaignURN, model.RoleAnalyst), ErrNotFound)
	assert.ErrorIs(t, f.users.AssignRole(ctx, "art", "urn:campaign:none", model.RoleAnalyst), ErrNotFound)

	hash, err := f.users.PasswordHash(ctx, "alice")
	require.NoError(t, err)
	assert.NotEmpty(t, hash)
	_, err = f.users.PasswordHash(ctx, "ghost")
	assert.ErrorIs(t, err, ErrNotFound)

	expiration := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	require.NoError(t, f.users.StoreToken(ctx, "alice", "t1", "r1", expiration))
	got, err := f.users.ConsumeToken(ctx, "alice", "t1", "r1")
	require.NoError(t, err)
	assert.True(t, expiration.Equal(got))
	_, err = f.users.ConsumeToken(ctx, "alice", "t1", "r1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCampaigns(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.campaigns.Create(ctx, []byte(campaignYAML))
	assert.ErrorIs(t, err, ErrExists)

	c, err := f.campaigns.Get(ctx, campaignURN)
	require.NoError(t, err)
	assert.Equal(t, f.campaign.Revision, c.Revision)
	assert.True(t, f.campaign.CreationTimestamp.Equal(c.CreationTimestamp))
	assert.Equal(t, model.PrivacyPrivate, c.PrivacyState)

	require.NoError(t, f.campaigns.SetState(ctx, campaignURN, model.Stopped, model.PrivacyShared))
	c, err = f.campaigns.Get(ctx, campaignURN)
	require.NoError(t, err)
	assert.Equal(t, model.Stopped, c.RunningState)
	assert.Equal(t, model.PrivacyShared, c.PrivacyState)

	byRevision, err := f.campaigns.GetByRevision(ctx, c.Revision)
	require.NoError(t, err)
	assert.Equal(t, campaignURN, byRevision.ID)
	_, err = f.campaigns.GetByRevision(ctx, c.Revision+1)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.campaigns.Get(ctx, "urn:campaign:none")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, f.campaigns.SetState(ctx, "urn:campaign:none", model.Running, model.PrivacyPrivate), ErrNotFound)

	mine, err := f.campaigns.List(ctx, "alice", false)
	require.NoError(t, err)
	assert.Len(t, mine, 1)
	none, err := f.campaigns.List(ctx, "root", false)
	require.NoError(t, err)
	assert.Empty(t, none)
	all, err := f.campaigns.List(ctx, "root", true)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

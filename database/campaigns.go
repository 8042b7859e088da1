package database

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"

	"github.com/mbolis/sensing-survey/model"
)

type Campaigns struct {
	db *sql.DB
}

func NewCampaigns(db *sql.DB) *Campaigns {
	return &Campaigns{db}
}

const sqlInsertCampaign = `
	INSERT INTO campaign (urn, name, description, definition, creation_timestamp, privacy_state_id, running_state, editable)
	VALUES (?, ?, ?, ?, ?, (SELECT id FROM campaign_privacy_state WHERE privacy_state = ?), ?, ?)
	RETURNING id`

// Create stores a campaign from its YAML definition.
func (cs *Campaigns) Create(ctx context.Context, definition []byte) (*model.Campaign, error) {
	c, err := model.ParseCampaign(definition)
	if err != nil {
		return nil, err
	}
	c.CreationTimestamp = time.Now().UTC().Truncate(time.Second)

	args := []any{
		c.ID, c.Name, c.Description, string(definition), c.CreationTimestamp,
		string(c.PrivacyState), string(c.RunningState), c.EditableResponses,
	}
	err = cs.db.QueryRowContext(ctx, sqlInsertCampaign, args...).Scan(&c.Revision)
	if isUnique(err, "campaign.urn") {
		return nil, errors.Wrapf(ErrExists, "campaign %s", c.ID)
	}
	if err != nil {
		return nil, dataAccess("db.campaigns.create", err, sqlInsertCampaign, args[:3]...)
	}
	return c, nil
}

const sqlGetCampaign = `
	SELECT c.id, c.definition, c.creation_timestamp, cps.privacy_state, c.running_state, c.editable
	FROM campaign c
	INNER JOIN campaign_privacy_state cps ON cps.id = c.privacy_state_id
	WHERE c.urn = ?`

// Get loads a campaign. State columns override the stored definition.
func (cs *Campaigns) Get(ctx context.Context, urn string) (*model.Campaign, error) {
	c, err := scanCampaign(cs.db.QueryRowContext(ctx, sqlGetCampaign, urn))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(ErrNotFound, "campaign %s", urn)
	}
	if err != nil {
		return nil, dataAccess("db.campaigns.get", err, sqlGetCampaign, urn)
	}
	return c, nil
}

const sqlGetCampaignByRevision = `
	SELECT c.id, c.definition, c.creation_timestamp, cps.privacy_state, c.running_state, c.editable
	FROM campaign c
	INNER JOIN campaign_privacy_state cps ON cps.id = c.privacy_state_id
	WHERE c.id = ?`

// GetByRevision loads a campaign by its numeric revision.
func (cs *Campaigns) GetByRevision(ctx context.Context, revision int64) (*model.Campaign, error) {
	c, err := scanCampaign(cs.db.QueryRowContext(ctx, sqlGetCampaignByRevision, revision))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(ErrNotFound, "campaign revision %d", revision)
	}
	if err != nil {
		return nil, dataAccess("db.campaigns.get_by_revision", err, sqlGetCampaignByRevision, revision)
	}
	return c, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCampaign(row scanner) (*model.Campaign, error) {
	var (
		revision   int64
		definition string
		created    time.Time
		privacy    string
		running    string
		editable   bool
	)
	if err := row.Scan(&revision, &definition, &created, &privacy, &running, &editable); err != nil {
		return nil, err
	}
	c, err := model.ParseCampaign([]byte(definition))
	if err != nil {
		return nil, errors.Wrapf(err, "stored campaign %d", revision)
	}
	c.Revision = revision
	c.CreationTimestamp = created.UTC()
	c.PrivacyState = model.PrivacyState(privacy)
	c.RunningState = model.RunningState(running)
	c.EditableResponses = editable
	return c, nil
}

const (
	sqlListCampaigns = `
	SELECT c.id, c.definition, c.creation_timestamp, cps.privacy_state, c.running_state, c.editable
	FROM campaign c
	INNER JOIN campaign_privacy_state cps ON cps.id = c.privacy_state_id
	ORDER BY c.urn`
	sqlListUserCampaigns = `
	SELECT c.id, c.definition, c.creation_timestamp, cps.privacy_state, c.running_state, c.editable
	FROM campaign c
	INNER JOIN campaign_privacy_state cps ON cps.id = c.privacy_state_id
	WHERE c.id IN (
		SELECT urc.campaign_id
		FROM user_role_campaign urc
		INNER JOIN user u ON u.id = urc.user_id
		WHERE u.username = ?)
	ORDER BY c.urn`
)

// List returns the campaigns username has a role in, or every campaign when
// all is set.
func (cs *Campaigns) List(ctx context.Context, username string, all bool) ([]*model.Campaign, error) {
	query, args := sqlListUserCampaigns, []any{username}
	if all {
		query, args = sqlListCampaigns, nil
	}
	rows, err := cs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, dataAccess("db.campaigns.list", err, query, args...)
	}
	defer rows.Close()

	campaigns := []*model.Campaign{}
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, dataAccess("db.campaigns.list.scan", err, query, args...)
		}
		campaigns = append(campaigns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, dataAccess("db.campaigns.list", err, query, args...)
	}
	return campaigns, nil
}

const sqlUpdateCampaignState = `
	UPDATE campaign
	SET running_state = ?,
		privacy_state_id = (SELECT id FROM campaign_privacy_state WHERE privacy_state = ?)
	WHERE urn = ?`

func (cs *Campaigns) SetState(ctx context.Context, urn string, running model.RunningState, privacy model.PrivacyState) error {
	res, err := cs.db.ExecContext(ctx, sqlUpdateCampaignState, string(running), string(privacy), urn)
	if err != nil {
		return dataAccess("db.campaigns.set_state", err, sqlUpdateCampaignState, running, privacy, urn)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return dataAccess("db.campaigns.set_state.verify", err, sqlUpdateCampaignState, running, privacy, urn)
	}
	if n < 1 {
		return errors.Wrapf(ErrNotFound, "campaign %s", urn)
	}
	return nil
}

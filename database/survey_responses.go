package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/mbolis/sensing-survey/model"
	"github.com/mbolis/sensing-survey/query"
)

type SurveyResponses struct {
	db    *sql.DB
	media *MediaStore
}

func NewSurveyResponses(db *sql.DB, media *MediaStore) *SurveyResponses {
	return &SurveyResponses{db, media}
}

// Retrieve runs q and folds its rows into a page. Empty queries are answered
// without touching the database.
func (s *SurveyResponses) Retrieve(ctx context.Context, q query.Query, defs query.Definitions, skip, limit int) (query.Page, error) {
	if q.Empty {
		return query.Page{Responses: []*model.SurveyResponse{}}, nil
	}

	rows, err := s.db.QueryContext(ctx, q.SQL, q.Args...)
	if err != nil {
		return query.Page{}, dataAccess("db.survey_responses.retrieve", err, q.SQL, q.Args...)
	}
	defer rows.Close()

	page, err := query.Reduce(query.ScanRows(rows), q.Shape, defs, skip, limit)
	if err != nil {
		return query.Page{}, errors.WithMessage(err, "db.survey_responses.retrieve")
	}
	return page, nil
}

const (
	sqlInsertSurveyResponse = `
	INSERT INTO survey_response (
		uuid, user_id, campaign_id, client, epoch_millis, phone_timezone, survey_id,
		launch_context, location_status, location, privacy_state_id, upload_timestamp, last_modified)
	VALUES (
		?, (SELECT id FROM user WHERE username = ?), (SELECT id FROM campaign WHERE urn = ?), ?, ?, ?, ?,
		?, ?, ?, (SELECT id FROM survey_response_privacy_state WHERE privacy_state = ?), ?, ?)
	RETURNING id`
	sqlInsertPromptResponse = `
	INSERT INTO prompt_response (survey_response_id, prompt_id, prompt_type, repeatable_set_id, repeatable_set_iteration, response)
	VALUES (?, ?, ?, ?, ?, ?)`
)

// Insert stores responses owned by owner in a single transaction, along with
// the media they reference found in media. Responses whose id is already
// stored are skipped and reported by index.
func (s *SurveyResponses) Insert(ctx context.Context, owner, client string, responses []*model.SurveyResponse, media model.MediaSet) (duplicates []int, err error) {
	var written []string
	err = inTx(ctx, s.db, "db.survey_responses.insert", func(tx *sql.Tx) error {
		for i, sr := range responses {
			if err := exec(ctx, tx, "db.survey_responses.insert.savepoint", "SAVEPOINT survey_response"); err != nil {
				return err
			}

			paths, err := s.insertOne(ctx, tx, owner, client, sr, media)
			written = append(written, paths...)
			if isUnique(err, "survey_response.uuid") {
				duplicates = append(duplicates, i)
				if err := exec(ctx, tx, "db.survey_responses.insert.rollback_to", "ROLLBACK TO survey_response"); err != nil {
					return err
				}
			} else if err != nil {
				return err
			}

			if err := exec(ctx, tx, "db.survey_responses.insert.release", "RELEASE survey_response"); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		removeFiles(written)
		return nil, err
	}
	return duplicates, nil
}

func exec(ctx context.Context, tx *sql.Tx, op, stmt string, args ...any) error {
	if _, err := tx.ExecContext(ctx, stmt, args...); err != nil {
		return dataAccess(op, err, stmt, args...)
	}
	return nil
}

func (s *SurveyResponses) insertOne(ctx context.Context, tx *sql.Tx, owner, client string, sr *model.SurveyResponse, media model.MediaSet) ([]string, error) {
	location, err := encodeLocation(sr.Location)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	args := []any{
		sr.UUID.String(), owner, sr.CampaignID, client, sr.Time, sr.Timezone, sr.SurveyID,
		nullable(string(sr.LaunchContext)), string(sr.LocationStatus), location,
		string(sr.PrivacyState), now, now,
	}

	var id int64
	if err := tx.QueryRowContext(ctx, sqlInsertSurveyResponse, args...).Scan(&id); err != nil {
		return nil, dataAccess("db.survey_responses.insert", err, sqlInsertSurveyResponse, args...)
	}
	if err := insertPromptResponses(ctx, tx, id, sr); err != nil {
		return nil, err
	}
	return s.saveMedia(ctx, tx, owner, client, sr, media)
}

func insertPromptResponses(ctx context.Context, tx *sql.Tx, surveyResponseID int64, sr *model.SurveyResponse) error {
	stmt, err := tx.PrepareContext(ctx, sqlInsertPromptResponse)
	if err != nil {
		return dataAccess("db.survey_responses.prompt_responses.prepare", err, sqlInsertPromptResponse)
	}
	defer stmt.Close()

	for _, r := range sr.Responses {
		var iteration any
		if r.Iteration != nil {
			iteration = *r.Iteration
		}
		args := []any{surveyResponseID, r.PromptID, string(r.Type), nullable(r.RepeatableSetID), iteration, r.Value.Encode()}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return dataAccess("db.survey_responses.prompt_responses.insert", err, sqlInsertPromptResponse, args...)
		}
	}
	return nil
}

func (s *SurveyResponses) saveMedia(ctx context.Context, tx *sql.Tx, owner, client string, sr *model.SurveyResponse, media model.MediaSet) ([]string, error) {
	var paths []string
	for _, id := range sr.MediaIDs() {
		m, ok := media[id]
		if !ok {
			continue
		}
		path, err := s.media.save(ctx, tx, owner, client, m)
		if err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func encodeLocation(l *model.Location) (any, error) {
	if l == nil {
		return nil, nil
	}
	b, err := json.Marshal(l)
	if err != nil {
		return nil, errors.Wrap(err, "encode location")
	}
	return string(b), nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

const (
	sqlUpdateSurveyResponse = `
	UPDATE survey_response
	SET client = ?,
		epoch_millis = ?,
		phone_timezone = ?,
		launch_context = ?,
		location_status = ?,
		location = ?,
		last_modified = ?
	WHERE uuid = ?
	RETURNING id`
	sqlDeletePromptResponses = `DELETE FROM prompt_response WHERE survey_response_id = ?`
)

// Update replaces the content of stored responses in a single transaction.
// Any failure leaves every response untouched.
func (s *SurveyResponses) Update(ctx context.Context, owner, client string, responses []*model.SurveyResponse, media model.MediaSet) error {
	var written []string
	err := inTx(ctx, s.db, "db.survey_responses.update", func(tx *sql.Tx) error {
		for _, sr := range responses {
			location, err := encodeLocation(sr.Location)
			if err != nil {
				return err
			}
			args := []any{
				client, sr.Time, sr.Timezone, nullable(string(sr.LaunchContext)),
				string(sr.LocationStatus), location, time.Now().UTC(), sr.UUID.String(),
			}

			var id int64
			err = tx.QueryRowContext(ctx, sqlUpdateSurveyResponse, args...).Scan(&id)
			if errors.Is(err, sql.ErrNoRows) {
				return errors.Wrapf(ErrNotFound, "survey response %s", sr.UUID)
			}
			if err != nil {
				return dataAccess("db.survey_responses.update", err, sqlUpdateSurveyResponse, args...)
			}

			if err := exec(ctx, tx, "db.survey_responses.update.clear", sqlDeletePromptResponses, id); err != nil {
				return err
			}
			if err := insertPromptResponses(ctx, tx, id, sr); err != nil {
				return err
			}
			paths, err := s.saveMedia(ctx, tx, owner, client, sr, media)
			written = append(written, paths...)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		removeFiles(written)
	}
	return err
}

const sqlUpdatePrivacyState = `
	UPDATE survey_response
	SET privacy_state_id = (SELECT id FROM survey_response_privacy_state WHERE privacy_state = ?),
		last_modified = ?
	WHERE `

func (s *SurveyResponses) UpdatePrivacyState(ctx context.Context, ids []uuid.UUID, state model.PrivacyState) error {
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = id.String()
	}
	f := query.Join(" ", query.Expr(sqlUpdatePrivacyState, string(state), time.Now().UTC()), query.In("uuid", keys))

	return inTx(ctx, s.db, "db.survey_responses.update_privacy_state", func(tx *sql.Tx) error {
		return exec(ctx, tx, "db.survey_responses.update_privacy_state", f.SQL, f.Args...)
	})
}

const sqlDeleteSurveyResponse = `DELETE FROM survey_response WHERE uuid = ?`

// Delete removes a response and, by cascade, its prompt responses. Media
// are not touched.
func (s *SurveyResponses) Delete(ctx context.Context, id uuid.UUID) error {
	return inTx(ctx, s.db, "db.survey_responses.delete", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, sqlDeleteSurveyResponse, id.String())
		if err != nil {
			return dataAccess("db.survey_responses.delete", err, sqlDeleteSurveyResponse, id)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return dataAccess("db.survey_responses.delete.verify", err, sqlDeleteSurveyResponse, id)
		}
		if n < 1 {
			return errors.Wrapf(ErrNotFound, "survey response %s", id)
		}
		return nil
	})
}

const sqlGetCampaignForSurveyResponse = `
	SELECT c.urn, u.username
	FROM survey_response sr
	INNER JOIN campaign c ON c.id = sr.campaign_id
	INNER JOIN user u ON u.id = sr.user_id
	WHERE sr.uuid = ?`

// Owner returns the campaign and the owning user of a stored response.
func (s *SurveyResponses) Owner(ctx context.Context, id uuid.UUID) (campaignID, username string, err error) {
	err = s.db.QueryRowContext(ctx, sqlGetCampaignForSurveyResponse, id.String()).Scan(&campaignID, &username)
	if errors.Is(err, sql.ErrNoRows) {
		err = errors.Wrapf(ErrNotFound, "survey response %s", id)
		return
	}
	if err != nil {
		err = dataAccess("db.survey_responses.owner", err, sqlGetCampaignForSurveyResponse, id)
	}
	return
}

// CampaignID is ErrNotFound for ids that were never stored.
func (s *SurveyResponses) CampaignID(ctx context.Context, id uuid.UUID) (string, error) {
	campaignID, _, err := s.Owner(ctx, id)
	return campaignID, err
}

const sqlGetPrivacyStates = `SELECT privacy_state FROM survey_response_privacy_state ORDER BY id`

func (s *SurveyResponses) PrivacyStates(ctx context.Context) ([]model.PrivacyState, error) {
	rows, err := s.db.QueryContext(ctx, sqlGetPrivacyStates)
	if err != nil {
		return nil, dataAccess("db.survey_responses.privacy_states", err, sqlGetPrivacyStates)
	}
	defer rows.Close()

	var states []model.PrivacyState
	for rows.Next() {
		var state string
		if err := rows.Scan(&state); err != nil {
			return nil, dataAccess("db.survey_responses.privacy_states.scan", err, sqlGetPrivacyStates)
		}
		states = append(states, model.PrivacyState(state))
	}
	if err := rows.Err(); err != nil {
		return nil, dataAccess("db.survey_responses.privacy_states", err, sqlGetPrivacyStates)
	}
	return states, nil
}

const sqlGetSurveyResponseMedia = `
	SELECT pr.response
	FROM prompt_response pr
	INNER JOIN survey_response sr ON sr.id = pr.survey_response_id
	WHERE sr.uuid = ?
		AND pr.prompt_type IN ('photo', 'video', 'audio', 'file')`

// MediaIDs lists the media referenced by a stored response.
func (s *SurveyResponses) MediaIDs(ctx context.Context, id uuid.UUID) ([]uuid.UUID, error) {
	rows, err := s.db.QueryContext(ctx, sqlGetSurveyResponseMedia, id.String())
	if err != nil {
		return nil, dataAccess("db.survey_responses.media", err, sqlGetSurveyResponseMedia, id)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var value string
		if err := rows.Scan(&value); err != nil {
			return nil, dataAccess("db.survey_responses.media.scan", err, sqlGetSurveyResponseMedia, id)
		}
		// no-response codes are not media ids
		if mediaID, err := uuid.Parse(value); err == nil {
			ids = append(ids, mediaID)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, dataAccess("db.survey_responses.media", err, sqlGetSurveyResponseMedia, id)
	}
	return ids, nil
}

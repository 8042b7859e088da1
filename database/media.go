package database

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/mbolis/sensing-survey/model"
)

// MediaStore keeps media blobs as files under a directory, indexed by the
// url_based_resource table.
type MediaStore struct {
	db  *sql.DB
	dir string
}

func NewMediaStore(db *sql.DB, dir string) (*MediaStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, errors.Wrapf(err, "media directory %s", dir)
	}
	return &MediaStore{db, dir}, nil
}

const sqlMediaExists = `SELECT 1 FROM url_based_resource WHERE uuid = ?`

func (ms *MediaStore) Exists(ctx context.Context, id uuid.UUID) (bool, error) {
	var one int
	err := ms.db.QueryRowContext(ctx, sqlMediaExists, id.String()).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, dataAccess("db.media.exists", err, sqlMediaExists, id)
	}
	return true, nil
}

const sqlGetMedia = `
	SELECT u.username, r.url, r.content_type, r.file_name
	FROM url_based_resource r
	INNER JOIN user u ON u.id = r.user_id
	WHERE r.uuid = ?`

// Get loads a media object with its owner's username.
func (ms *MediaStore) Get(ctx context.Context, id uuid.UUID) (*model.Media, string, error) {
	var owner, url string
	m := &model.Media{ID: id}
	err := ms.db.QueryRowContext(ctx, sqlGetMedia, id.String()).Scan(&owner, &url, &m.ContentType, &m.FileName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, "", errors.Wrapf(ErrNotFound, "media %s", id)
	}
	if err != nil {
		return nil, "", dataAccess("db.media.get", err, sqlGetMedia, id)
	}
	m.Data, err = os.ReadFile(strings.TrimPrefix(url, "file://"))
	if err != nil {
		return nil, "", errors.Wrapf(err, "media %s", id)
	}
	return m, owner, nil
}

const (
	sqlGetMediaURL    = `SELECT url FROM url_based_resource WHERE uuid = ?`
	sqlDeleteMediaRow = `DELETE FROM url_based_resource WHERE uuid = ?`
)

// Delete removes the index row, then the file. Unknown ids are ignored.
func (ms *MediaStore) Delete(ctx context.Context, id uuid.UUID) error {
	var url string
	err := inTx(ctx, ms.db, "db.media.delete", func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, sqlGetMediaURL, id.String()).Scan(&url)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return dataAccess("db.media.delete.url", err, sqlGetMediaURL, id)
		}
		if _, err = tx.ExecContext(ctx, sqlDeleteMediaRow, id.String()); err != nil {
			return dataAccess("db.media.delete", err, sqlDeleteMediaRow, id)
		}
		return nil
	})
	if err != nil || url == "" {
		return err
	}
	if err = os.Remove(strings.TrimPrefix(url, "file://")); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "media %s", id)
	}
	return nil
}

const sqlInsertMedia = `
	INSERT INTO url_based_resource (uuid, user_id, client, url, content_type, file_name, size)
	VALUES (?, (SELECT id FROM user WHERE username = ?), ?, ?, ?, ?, ?)`

// save indexes m inside tx and writes its file. The returned path must be
// removed by the caller if tx does not commit.
func (ms *MediaStore) save(ctx context.Context, tx *sql.Tx, owner, client string, m *model.Media) (string, error) {
	path := filepath.Join(ms.dir, m.ID.String())
	args := []any{m.ID.String(), owner, client, "file://" + path, m.ContentType, m.FileName, m.Size()}
	if _, err := tx.ExecContext(ctx, sqlInsertMedia, args...); err != nil {
		return "", dataAccess("db.media.save", err, sqlInsertMedia, args...)
	}
	if err := os.WriteFile(path, m.Data, 0o640); err != nil {
		return "", errors.Wrapf(err, "write media %s", m.ID)
	}
	return path, nil
}

func removeFiles(paths []string) {
	for _, p := range paths {
		os.Remove(p)
	}
}

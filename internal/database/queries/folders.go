package queries

import (
	"context"
)

const insertFolder = `
INSERT INTO folders (name)
VALUES (?)
RETURNING id, name, is_default
`

func (q *Queries) InsertFolder(ctx context.Context, name string) (Folder, error) {
	row := q.db.QueryRowContext(ctx, insertFolder, name)
	var i Folder
	err := row.Scan(&i.ID, &i.Name, &i.IsDefault)
	return i, err
}

const getDefaultFolder = `
SELECT id, name, is_default
FROM folders
WHERE is_default = 1
ORDER BY id
LIMIT 1
`

func (q *Queries) GetDefaultFolder(ctx context.Context) (Folder, error) {
	row := q.db.QueryRowContext(ctx, getDefaultFolder)
	var i Folder
	err := row.Scan(&i.ID, &i.Name, &i.IsDefault)
	return i, err
}

const updateFolderName = `
UPDATE folders
SET name = ?
WHERE id = ?
`

type UpdateFolderNameParams struct {
	Name string
	ID   int64
}

func (q *Queries) UpdateFolderName(ctx context.Context, arg UpdateFolderNameParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, updateFolderName, arg.Name, arg.ID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const moveFolderFeeds = `
UPDATE folder_feeds
SET folder_id = ?
WHERE folder_id = ?
`

type MoveFolderFeedsParams struct {
	ToFolderID   int64
	FromFolderID int64
}

func (q *Queries) MoveFolderFeeds(ctx context.Context, arg MoveFolderFeedsParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, moveFolderFeeds, arg.ToFolderID, arg.FromFolderID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const deleteFolder = `
DELETE FROM folders
WHERE id = ? AND is_default = 0
`

func (q *Queries) DeleteFolder(ctx context.Context, id int64) (int64, error) {
	result, err := q.db.ExecContext(ctx, deleteFolder, id)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const listFolderTree = `
SELECT
    fo.id,
    fo.name,
    fo.is_default,
    fe.id,
    fe.url,
    fe.name,
    fe.site,
    fe.type,
    fe.title,
    fe.description,
    fe.last_seen
FROM folders fo
LEFT JOIN folder_feeds ff ON ff.folder_id = fo.id
LEFT JOIN feeds fe ON fe.id = ff.feed_id
ORDER BY fo.id, fe.id
`

func (q *Queries) ListFolderTree(ctx context.Context) ([]FolderTreeRow, error) {
	rows, err := q.db.QueryContext(ctx, listFolderTree)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []FolderTreeRow
	for rows.Next() {
		var i FolderTreeRow
		if err := rows.Scan(
			&i.FolderID,
			&i.FolderName,
			&i.FolderIsDefault,
			&i.FeedID,
			&i.FeedUrl,
			&i.FeedName,
			&i.FeedSite,
			&i.FeedType,
			&i.FeedTitle,
			&i.FeedDescription,
			&i.FeedLastSeen,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

package queries

import (
	"context"
	"database/sql"
)

const insertFeed = `
INSERT INTO feeds (url, name)
VALUES (?, ?)
RETURNING id, url, name, site, type, title, description, last_seen
`

type InsertFeedParams struct {
	Url  string
	Name string
}

func (q *Queries) InsertFeed(ctx context.Context, arg InsertFeedParams) (Feed, error) {
	row := q.db.QueryRowContext(ctx, insertFeed, arg.Url, arg.Name)
	var i Feed
	err := row.Scan(
		&i.ID,
		&i.Url,
		&i.Name,
		&i.Site,
		&i.Type,
		&i.Title,
		&i.Description,
		&i.LastSeen,
	)
	return i, err
}

const insertFolderFeed = `
INSERT INTO folder_feeds (folder_id, feed_id)
VALUES (?, ?)
`

type InsertFolderFeedParams struct {
	FolderID int64
	FeedID   int64
}

func (q *Queries) InsertFolderFeed(ctx context.Context, arg InsertFolderFeedParams) error {
	_, err := q.db.ExecContext(ctx, insertFolderFeed, arg.FolderID, arg.FeedID)
	return err
}

const getFeedFolderID = `
SELECT folder_id
FROM folder_feeds
WHERE feed_id = ?
`

func (q *Queries) GetFeedFolderID(ctx context.Context, feedID int64) (int64, error) {
	row := q.db.QueryRowContext(ctx, getFeedFolderID, feedID)
	var folderID int64
	err := row.Scan(&folderID)
	return folderID, err
}

const updateFeed = `
UPDATE feeds
SET url = ?, name = ?
WHERE id = ?
`

type UpdateFeedParams struct {
	Url  string
	Name string
	ID   int64
}

func (q *Queries) UpdateFeed(ctx context.Context, arg UpdateFeedParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, updateFeed, arg.Url, arg.Name, arg.ID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const updateFolderFeed = `
UPDATE folder_feeds
SET folder_id = ?
WHERE feed_id = ?
`

type UpdateFolderFeedParams struct {
	FolderID int64
	FeedID   int64
}

func (q *Queries) UpdateFolderFeed(ctx context.Context, arg UpdateFolderFeedParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, updateFolderFeed, arg.FolderID, arg.FeedID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const deleteFeed = `
DELETE FROM feeds
WHERE id = ?
`

func (q *Queries) DeleteFeed(ctx context.Context, id int64) (int64, error) {
	result, err := q.db.ExecContext(ctx, deleteFeed, id)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const updateFeedMetadata = `
UPDATE feeds
SET site = ?, type = ?, title = ?, description = ?
WHERE id = ?
`

type UpdateFeedMetadataParams struct {
	Site        sql.NullString
	Type        sql.NullString
	Title       sql.NullString
	Description sql.NullString
	ID          int64
}

func (q *Queries) UpdateFeedMetadata(ctx context.Context, arg UpdateFeedMetadataParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, updateFeedMetadata,
		arg.Site,
		arg.Type,
		arg.Title,
		arg.Description,
		arg.ID,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// The watermark only moves forward.
const advanceFeedLastSeen = `
UPDATE feeds
SET last_seen = MAX(last_seen, ?)
WHERE id = ?
RETURNING last_seen
`

type AdvanceFeedLastSeenParams struct {
	LastSeen int64
	ID       int64
}

func (q *Queries) AdvanceFeedLastSeen(ctx context.Context, arg AdvanceFeedLastSeenParams) (int64, error) {
	row := q.db.QueryRowContext(ctx, advanceFeedLastSeen, arg.LastSeen, arg.ID)
	var lastSeen int64
	err := row.Scan(&lastSeen)
	return lastSeen, err
}

const listFeeds = `
SELECT
    fe.id,
    fe.url,
    fe.name,
    fe.site,
    fe.type,
    fe.title,
    fe.description,
    fe.last_seen,
    ff.folder_id
FROM feeds fe
JOIN folder_feeds ff ON ff.feed_id = fe.id
ORDER BY fe.id
`

func (q *Queries) ListFeeds(ctx context.Context) ([]FeedWithFolder, error) {
	rows, err := q.db.QueryContext(ctx, listFeeds)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []FeedWithFolder
	for rows.Next() {
		var i FeedWithFolder
		if err := rows.Scan(
			&i.ID,
			&i.Url,
			&i.Name,
			&i.Site,
			&i.Type,
			&i.Title,
			&i.Description,
			&i.LastSeen,
			&i.FolderID,
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

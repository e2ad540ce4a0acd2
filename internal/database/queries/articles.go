package queries

import (
	"context"
	"database/sql"
)

// upsertArticle inserts or refreshes the (feed_id, url) row. ?5 and ?6 are the
// incoming created/updated and may be NULL; ?7 is the first-seen fallback used
// only when a brand new row has no timestamp of its own. On conflict neither
// timestamp moves backwards and a NULL never replaces a stored value.
const upsertArticle = `
INSERT INTO articles (feed_id, url, title, content, created, updated)
VALUES (?1, ?2, ?3, ?4, COALESCE(?5, ?7), COALESCE(?6, ?5, ?7))
ON CONFLICT (feed_id, url) DO UPDATE SET
    title   = excluded.title,
    content = excluded.content,
    created = CASE
        WHEN ?5 IS NULL THEN articles.created
        WHEN articles.created IS NULL THEN ?5
        ELSE MAX(articles.created, ?5)
    END,
    updated = CASE
        WHEN ?6 IS NULL THEN COALESCE(articles.updated, articles.created)
        WHEN COALESCE(articles.updated, articles.created) IS NULL THEN ?6
        ELSE MAX(COALESCE(articles.updated, articles.created), ?6)
    END
RETURNING id
`

type UpsertArticleParams struct {
	FeedID    int64
	Url       string
	Title     string
	Content   string
	Created   sql.NullInt64
	Updated   sql.NullInt64
	FirstSeen int64
}

func (q *Queries) UpsertArticle(ctx context.Context, arg UpsertArticleParams) (int64, error) {
	row := q.db.QueryRowContext(ctx, upsertArticle,
		arg.FeedID,
		arg.Url,
		arg.Title,
		arg.Content,
		arg.Created,
		arg.Updated,
		arg.FirstSeen,
	)
	var id int64
	err := row.Scan(&id)
	return id, err
}

const upsertAuthor = `
INSERT INTO authors (feed_id, name, email, url)
VALUES (?, ?, ?, ?)
ON CONFLICT (feed_id, name) DO UPDATE SET
    email = COALESCE(excluded.email, authors.email),
    url   = COALESCE(excluded.url, authors.url)
RETURNING id
`

type UpsertAuthorParams struct {
	FeedID int64
	Name   string
	Email  sql.NullString
	Url    sql.NullString
}

func (q *Queries) UpsertAuthor(ctx context.Context, arg UpsertAuthorParams) (int64, error) {
	row := q.db.QueryRowContext(ctx, upsertAuthor,
		arg.FeedID,
		arg.Name,
		arg.Email,
		arg.Url,
	)
	var id int64
	err := row.Scan(&id)
	return id, err
}

const linkArticleAuthor = `
INSERT INTO article_authors (article_id, author_id)
VALUES (?, ?)
ON CONFLICT (article_id, author_id) DO NOTHING
`

type LinkArticleAuthorParams struct {
	ArticleID int64
	AuthorID  int64
}

func (q *Queries) LinkArticleAuthor(ctx context.Context, arg LinkArticleAuthorParams) error {
	_, err := q.db.ExecContext(ctx, linkArticleAuthor, arg.ArticleID, arg.AuthorID)
	return err
}

const listArticlesByFeed = `
SELECT
    ar.id,
    ar.feed_id,
    ar.url,
    ar.title,
    ar.content,
    ar.created,
    ar.updated,
    au.id,
    au.name,
    au.email,
    au.url
FROM articles ar
LEFT JOIN article_authors aa ON aa.article_id = ar.id
LEFT JOIN authors au ON au.id = aa.author_id
WHERE ar.feed_id = ? AND ar.updated > ?
ORDER BY ar.id, au.id
`

type ListArticlesByFeedParams struct {
	FeedID int64
	After  int64
}

func (q *Queries) ListArticlesByFeed(ctx context.Context, arg ListArticlesByFeedParams) ([]ArticleAuthorRow, error) {
	rows, err := q.db.QueryContext(ctx, listArticlesByFeed, arg.FeedID, arg.After)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []ArticleAuthorRow
	for rows.Next() {
		var i ArticleAuthorRow
		if err := rows.Scan(
			&i.ID,
			&i.FeedID,
			&i.Url,
			&i.Title,
			&i.Content,
			&i.Created,
			&i.Updated,
			&i.AuthorID,
			&i.AuthorName,
			&i.AuthorEmail,
			&i.AuthorUrl,
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

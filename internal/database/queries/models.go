package queries

import "database/sql"

type Folder struct {
	ID        int64
	Name      string
	IsDefault bool
}

type Feed struct {
	ID          int64
	Url         string
	Name        string
	Site        sql.NullString
	Type        sql.NullString
	Title       sql.NullString
	Description sql.NullString
	LastSeen    int64
}

// FolderTreeRow is one row of the folders LEFT JOIN feeds read. FeedID is
// NULL for a folder without feeds.
type FolderTreeRow struct {
	FolderID        int64
	FolderName      string
	FolderIsDefault bool
	FeedID          sql.NullInt64
	FeedUrl         sql.NullString
	FeedName        sql.NullString
	FeedSite        sql.NullString
	FeedType        sql.NullString
	FeedTitle       sql.NullString
	FeedDescription sql.NullString
	FeedLastSeen    sql.NullInt64
}

type FeedWithFolder struct {
	Feed
	FolderID int64
}

// ArticleAuthorRow is one row of the articles LEFT JOIN authors read. An
// article with n authors yields n rows, one without authors yields one row
// with a NULL AuthorID.
type ArticleAuthorRow struct {
	ID          int64
	FeedID      int64
	Url         string
	Title       string
	Content     string
	Created     sql.NullInt64
	Updated     sql.NullInt64
	AuthorID    sql.NullInt64
	AuthorName  sql.NullString
	AuthorEmail sql.NullString
	AuthorUrl   sql.NullString
}

package reader

import "pindash/internal/model"

// Command is a mutation request handled by the engine's worker loop. Every
// command carries a full snapshot of the entity it targets.
type Command interface {
	command() string
}

type CreateFolder struct{ Folder model.Folder }

// RenameFolder sets Folder.Name on the folder with Folder.ID.
type RenameFolder struct{ Folder model.Folder }

// DeleteFolder removes the folder; its feeds move to the default folder.
type DeleteFolder struct{ Folder model.Folder }

// CreateFeed subscribes to Feed.URL. A zero FolderID files it under the
// default folder.
type CreateFeed struct{ Feed model.Feed }

// UpdateFeed saves Name, URL and FolderID of the feed with Feed.ID. A zero
// FolderID keeps the feed where it is.
type UpdateFeed struct{ Feed model.Feed }

type DeleteFeed struct{ Feed model.Feed }

// FetchFeed starts a background fetch of the feed. It is dropped when a
// fetch of the same feed is already in flight.
type FetchFeed struct{ Feed model.Feed }

func (CreateFolder) command() string { return "create_folder" }
func (RenameFolder) command() string { return "rename_folder" }
func (DeleteFolder) command() string { return "delete_folder" }
func (CreateFeed) command() string   { return "create_feed" }
func (UpdateFeed) command() string   { return "update_feed" }
func (DeleteFeed) command() string   { return "delete_feed" }
func (FetchFeed) command() string    { return "fetch_feed" }

// Result reports what a command did. ID is the affected entity; Changed is
// false when the command was a no-op, such as a rename of a vanished folder
// or a fetch of a feed that is already fetching.
type Result struct {
	ID      int64
	Changed bool

	// Done is set for FetchFeed while a fetch of the feed runs, including one
	// started earlier. It is closed once that fetch has been ingested.
	Done <-chan struct{}
}

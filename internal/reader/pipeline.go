package reader

import (
	"context"
	"fmt"
	"slices"

	"pindash/internal/model"
)

type fetchResult struct {
	cmdID string
	feed  model.Feed
	doc   *Document
	err   error
	done  chan struct{}
}

// fetch runs off the loop: it only touches the network and the parser, then
// hands the outcome back to the loop for ingestion.
func (e *Engine) fetch(ctx context.Context, cmdID string, feed model.Feed, done chan struct{}) {
	r := fetchResult{cmdID: cmdID, feed: feed, done: done}
	if err := e.sem.Acquire(ctx, 1); err != nil {
		r.err = fmt.Errorf("waiting for fetch slot: %w", err)
	} else {
		r.doc, r.err = e.fetcher.Fetch(ctx, feed.URL)
		e.sem.Release(1)
		if r.err == nil && r.doc == nil {
			r.err = fmt.Errorf("fetcher returned no document for %s", feed.URL)
		}
	}

	select {
	case e.completions <- r:
	case <-e.loopDone:
		e.mirror.EndFetch(feed.ID)
		e.endTask(feed.ID, done)
	}
}

// complete ingests a finished fetch. The feed returns to idle whatever the
// outcome.
func (e *Engine) complete(ctx context.Context, r fetchResult) {
	id := r.feed.ID
	defer e.mirror.EndFetch(id)

	if r.err != nil {
		e.logger.Warn("fetch failed", "cmd_id", r.cmdID, "feed_id", id, "url", r.feed.URL, "error", r.err)
		return
	}

	current, ok := e.mirror.Feed(id)
	if !ok {
		e.logger.Debug("feed deleted during fetch", "cmd_id", r.cmdID, "feed_id", id)
		return
	}

	published, isNew := Candidate(r.doc, current.LastSeen)
	if !isNew {
		e.logger.Debug("feed has nothing new", "cmd_id", r.cmdID, "feed_id", id, "last_seen", current.LastSeen)
		return
	}

	site := SiteURL(current.URL, r.doc)
	meta := model.FeedMetadata{
		Site:        site,
		Kind:        r.doc.Kind,
		Title:       r.doc.Title,
		Description: r.doc.Description,
	}

	// Documents list entries newest first; ingest oldest first so row ids
	// follow publication order.
	ordered := *r.doc
	ordered.Entries = slices.Clone(r.doc.Entries)
	slices.Reverse(ordered.Entries)

	lastSeen, err := e.database.UpsertArticles(ctx, id, meta, &ordered, published)
	if err != nil {
		e.logger.Error("saving articles failed", "cmd_id", r.cmdID, "feed_id", id, "error", err)
		return
	}

	// A feed whose stored articles could not be loaded before the fetch
	// gets its whole list now.
	_, loaded := e.mirror.Articles(id)
	after := current.LastSeen
	if !loaded {
		after = 0
	}
	articles, err := e.database.ReadArticlesByFeed(ctx, id, after)
	switch {
	case err != nil:
		e.logger.Error("reading new articles failed", "cmd_id", r.cmdID, "feed_id", id, "error", err)
	case loaded:
		e.mirror.MergeArticles(id, articles)
	default:
		e.mirror.SetArticles(id, articles)
	}
	e.mirror.ApplyFetch(id, lastSeen, meta)

	e.logger.Info("feed fetched", "cmd_id", r.cmdID, "feed_id", id, "entries", len(ordered.Entries), "articles", len(articles), "last_seen", lastSeen)
}

// Candidate picks the timestamp a fetch would advance the watermark to: the
// first entry's updated (or published) time, else the document's, else
// lastSeen itself. The fetch carries something new when the candidate is past
// lastSeen, or equal to it with entries present.
func Candidate(doc *Document, lastSeen int64) (published int64, isNew bool) {
	if len(doc.Entries) > 0 {
		published = firstNonZero(doc.Entries[0].Updated, doc.Entries[0].Published)
	}
	if published == 0 {
		published = firstNonZero(doc.Updated, doc.Published)
	}
	if published == 0 {
		published = lastSeen
	}
	isNew = published > lastSeen || (published == lastSeen && len(doc.Entries) > 0)
	return published, isNew
}

func firstNonZero(vals ...int64) int64 {
	for _, v := range vals {
		if v != 0 {
			return v
		}
	}
	return 0
}

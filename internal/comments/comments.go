// Package comments is the threaded commentary store: analyst discussion
// attached to articles, with moderation and soft deletion.
package comments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Virgo-Alpha/sentinel/internal/core"
	"github.com/Virgo-Alpha/sentinel/internal/store"
)

// maxRetries bounds reply_count update retries under concurrent replies.
const maxRetries = 3

// versionedComment is the stored shape: the comment plus the optimistic
// concurrency version the entity store keys conditional writes on.
type versionedComment struct {
	core.Comment
	Version int64 `json:"version"`
}

// Service creates, moderates, and lists comments.
type Service struct {
	entities store.EntityStore
	now      func() time.Time
	newID    func() string
}

func NewService(entities store.EntityStore) *Service {
	return &Service{entities: entities, now: time.Now, newID: uuid.NewString}
}

// CreateRequest is a new root comment or a reply.
type CreateRequest struct {
	ArticleID       string `json:"article_id"`
	ParentCommentID string `json:"parent_comment_id,omitempty"`
	Author          string `json:"author"`
	Content         string `json:"content"`
}

// Create adds a comment. Replies inherit the parent's thread_id and increment
// its reply_count; nesting beyond core.MaxCommentDepth is rejected.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*core.Comment, error) {
	if req.ArticleID == "" || req.Author == "" || req.Content == "" {
		return nil, fmt.Errorf("%w: article_id, author, and content are required", core.ErrValidation)
	}

	comment := core.Comment{
		CommentID:  s.newID(),
		ArticleID:  req.ArticleID,
		Author:     req.Author,
		Content:    req.Content,
		Visibility: core.VisibilityPublic,
		CreatedAt:  s.now().UTC(),
	}

	if req.ParentCommentID == "" {
		comment.ThreadID = comment.CommentID
	} else {
		parent, version, err := s.get(ctx, req.ParentCommentID)
		if err != nil {
			return nil, fmt.Errorf("failed to read parent comment: %w", err)
		}
		if parent.ArticleID != req.ArticleID {
			return nil, fmt.Errorf("%w: parent comment belongs to a different article", core.ErrValidation)
		}
		if parent.Depth+1 > core.MaxCommentDepth {
			return nil, fmt.Errorf("%w: reply depth exceeds %d", core.ErrValidation, core.MaxCommentDepth)
		}
		comment.ThreadID = parent.ThreadID
		comment.ParentCommentID = parent.CommentID
		comment.Depth = parent.Depth + 1

		if err := s.bumpReplyCount(ctx, parent, version); err != nil {
			return nil, err
		}
	}

	stored := versionedComment{Comment: comment, Version: 1}
	if err := s.entities.Put(ctx, store.TableComments, comment.CommentID, stored, true); err != nil {
		return nil, fmt.Errorf("failed to store comment: %w", err)
	}
	return &comment, nil
}

// SetVisibility moderates or soft-deletes a comment. Deleted comments keep
// their place in the thread so replies stay attached.
func (s *Service) SetVisibility(ctx context.Context, commentID string, visibility core.CommentVisibility) error {
	switch visibility {
	case core.VisibilityPublic, core.VisibilityModerated, core.VisibilityDeleted:
	default:
		return fmt.Errorf("%w: unknown visibility %q", core.ErrValidation, visibility)
	}

	for attempt := 0; attempt < maxRetries; attempt++ {
		comment, version, err := s.get(ctx, commentID)
		if err != nil {
			return err
		}
		comment.Visibility = visibility
		if visibility == core.VisibilityDeleted {
			comment.Content = ""
		}
		err = s.entities.Update(ctx, store.TableComments, commentID, version,
			versionedComment{Comment: comment, Version: version + 1})
		if errors.Is(err, core.ErrPreconditionFailed) {
			continue
		}
		return err
	}
	return fmt.Errorf("%w: comment %s kept changing concurrently", core.ErrConflict, commentID)
}

// ListByArticle pages through an article's comments in creation order.
func (s *Service) ListByArticle(ctx context.Context, articleID, cursor string, limit int) ([]core.Comment, string, error) {
	if limit <= 0 {
		limit = 50
	}
	page, err := s.entities.QuerySecondary(ctx, store.SecondaryQuery{
		Table:     store.TableComments,
		Index:     store.IndexArticleCreated,
		Partition: articleID,
		Limit:     limit,
		Cursor:    cursor,
	})
	if err != nil {
		return nil, "", fmt.Errorf("failed to list comments for %s: %w", articleID, err)
	}

	out := make([]core.Comment, 0, len(page.Items))
	for _, raw := range page.Items {
		var c versionedComment
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, "", fmt.Errorf("failed to decode comment: %w", err)
		}
		out = append(out, c.Comment)
	}
	return out, page.NextCursor, nil
}

// Orphaned reports comments whose article no longer exists. Comments hold a
// weak reference, so this is an invariant check, not a cascade.
func (s *Service) Orphaned(ctx context.Context, comments []core.Comment) ([]core.Comment, error) {
	var orphans []core.Comment
	seen := make(map[string]bool)
	for _, c := range comments {
		exists, ok := seen[c.ArticleID]
		if !ok {
			var article core.Article
			err := s.entities.Get(ctx, store.TableArticles, c.ArticleID, &article, false)
			if errors.Is(err, core.ErrNotFound) {
				exists = false
			} else if err != nil {
				return nil, fmt.Errorf("failed to check article %s: %w", c.ArticleID, err)
			} else {
				exists = true
			}
			seen[c.ArticleID] = exists
		}
		if !exists {
			orphans = append(orphans, c)
		}
	}
	return orphans, nil
}

func (s *Service) get(ctx context.Context, commentID string) (core.Comment, int64, error) {
	var stored versionedComment
	if err := s.entities.Get(ctx, store.TableComments, commentID, &stored, true); err != nil {
		return core.Comment{}, 0, err
	}
	return stored.Comment, stored.Version, nil
}

func (s *Service) bumpReplyCount(ctx context.Context, parent core.Comment, version int64) error {
	for attempt := 0; attempt < maxRetries; attempt++ {
		parent.ReplyCount++
		err := s.entities.Update(ctx, store.TableComments, parent.CommentID, version,
			versionedComment{Comment: parent, Version: version + 1})
		if err == nil {
			return nil
		}
		if !errors.Is(err, core.ErrPreconditionFailed) {
			return fmt.Errorf("failed to update reply count: %w", err)
		}
		var err2 error
		parent, version, err2 = s.get(ctx, parent.CommentID)
		if err2 != nil {
			return err2
		}
	}
	return fmt.Errorf("%w: parent comment %s kept changing concurrently", core.ErrConflict, parent.CommentID)
}

// Package delivery turns completed writes of the social application into
// routed events.
package delivery

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"campuslink/pkg/interfaces"
	"campuslink/pkg/types"
)

// Coordinator decides who hears about what. It keeps no state: recipients
// come from the write itself or from the directory at call time.
// FUNCTIONAL DISCOVERY: Every flow runs after the durable write succeeded,
// so only malformed input is reported back; delivery trouble is logged
type Coordinator struct {
	router    interfaces.EventRouter
	directory interfaces.Directory
	logger    *zap.Logger
}

// NewCoordinator creates a coordinator.
func NewCoordinator(router interfaces.EventRouter, directory interfaces.Directory, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		router:    router,
		directory: directory,
		logger:    logger.Named("delivery"),
	}
}

// DirectMessage delivers a persisted message to the receiver and echoes it
// to the sender's other tabs.
func (c *Coordinator) DirectMessage(ctx context.Context, msg types.Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}

	c.router.SendToUsers(ctx, []string{msg.ReceiverID, msg.SenderID}, types.MessageReceive(msg))
	return nil
}

// FriendRequest dispatches one friend lifecycle action.
func (c *Coordinator) FriendRequest(ctx context.Context, action string, req types.FriendRequest) error {
	switch action {
	case types.FriendActionSent:
		return c.FriendRequestSent(ctx, req)
	case types.FriendActionAccepted:
		return c.FriendRequestAccepted(ctx, req)
	case types.FriendActionRejected:
		return c.FriendRequestRejected(ctx, req)
	case types.FriendActionCancelled:
		return c.FriendRequestCancelled(ctx, req)
	case types.FriendActionRemoved:
		return c.FriendRemoved(ctx, req.FromID, req.ToID)
	default:
		return fmt.Errorf("%w: %q", types.ErrInvalidAction, action)
	}
}

// FriendRequestSent notifies the recipient.
func (c *Coordinator) FriendRequestSent(ctx context.Context, req types.FriendRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}

	c.router.SendToUser(ctx, req.ToID, types.FriendRequestReceived(req.FromID, req.FromUser))
	return nil
}

// FriendRequestAccepted records the friendship, tells each party about the
// other, refreshes both friend lists and re-sends presence so the new
// friend's online state shows up without a reload.
func (c *Coordinator) FriendRequestAccepted(ctx context.Context, req types.FriendRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}

	if err := c.directory.AddFriendship(ctx, req.FromID, req.ToID); err != nil {
		c.logger.Error("failed to record friendship",
			zap.String("user_id", req.FromID),
			zap.String("friend_id", req.ToID),
			zap.Error(err),
		)
	}

	parties := []string{req.FromID, req.ToID}
	c.router.SendToUser(ctx, req.FromID, types.FriendRequestAccepted(req.ToID))
	c.router.SendToUser(ctx, req.ToID, types.FriendRequestAccepted(req.FromID))
	c.router.SendToUsers(ctx, parties, types.FriendListChanged())
	c.router.SendPresenceSnapshot(ctx, parties...)
	return nil
}

// FriendRequestRejected tells the requester.
func (c *Coordinator) FriendRequestRejected(ctx context.Context, req types.FriendRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}

	c.router.SendToUser(ctx, req.FromID, types.FriendRequestRejected(req.ToID))
	return nil
}

// FriendRequestCancelled tells the recipient the request was withdrawn.
func (c *Coordinator) FriendRequestCancelled(ctx context.Context, req types.FriendRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}

	c.router.SendToUser(ctx, req.ToID, types.FriendRequestCancelled(req.FromID))
	return nil
}

// FriendRemoved drops the friendship and refreshes both friend lists.
func (c *Coordinator) FriendRemoved(ctx context.Context, userID, friendID string) error {
	req := types.FriendRequest{FromID: userID, ToID: friendID}
	if err := req.Validate(); err != nil {
		return err
	}

	if err := c.directory.RemoveFriendship(ctx, userID, friendID); err != nil {
		c.logger.Error("failed to remove friendship",
			zap.String("user_id", userID),
			zap.String("friend_id", friendID),
			zap.Error(err),
		)
	}

	c.router.SendToUsers(ctx, []string{userID, friendID}, types.FriendListChanged())
	return nil
}

// PostCreated sends a new feed post to the author's friends.
func (c *Coordinator) PostCreated(ctx context.Context, post types.Post) error {
	if err := post.Validate(); err != nil {
		return err
	}

	friends, err := c.directory.Friends(ctx, post.AuthorID)
	if err != nil {
		c.logger.Error("friend lookup failed, post not fanned out",
			zap.String("post_id", post.ID),
			zap.String("author_id", post.AuthorID),
			zap.Error(err),
		)
		return nil
	}

	c.router.SendToUsers(ctx, without(friends, post.AuthorID), types.PostNew(post))
	return nil
}

// GroupPostCreated sends a group post to every current member, the author
// included. Members are resolved through the directory, not the transient
// channel, so members who never opened the group page still hear about it.
func (c *Coordinator) GroupPostCreated(ctx context.Context, groupID string, post types.Post) error {
	if !types.IsValidGroupID(groupID) {
		return types.ErrInvalidGroupID
	}
	if err := post.Validate(); err != nil {
		return err
	}

	members, err := c.directory.GroupMembers(ctx, groupID)
	if err != nil {
		c.logger.Error("member lookup failed, group post not fanned out",
			zap.String("group_id", groupID),
			zap.String("post_id", post.ID),
			zap.Error(err),
		)
		return nil
	}

	c.router.SendToUsers(ctx, members, types.GroupPostNew(groupID, post))
	return nil
}

// CommentAdded sends the updated post to its author and earlier commenters.
// The author always hears about it, so their other tabs stay in sync when
// they comment on their own post. A commenter is never notified as a prior
// commenter of their own comment. Malformed prior commenter IDs are dropped.
func (c *Coordinator) CommentAdded(ctx context.Context, post types.Post, commenterID string, priorCommenters []string) error {
	if err := post.Validate(); err != nil {
		return err
	}
	if !types.IsValidUserID(commenterID) {
		return types.ErrInvalidUserID
	}

	recipients := make([]string, 0, len(priorCommenters)+1)
	recipients = append(recipients, post.AuthorID)
	for _, id := range without(priorCommenters, commenterID) {
		if !types.IsValidUserID(id) {
			c.logger.Warn("skipping malformed prior commenter",
				zap.String("post_id", post.ID),
				zap.String("commenter_id", id),
			)
			continue
		}
		recipients = append(recipients, id)
	}

	c.router.SendToUsers(ctx, recipients, types.PostComment(post))
	return nil
}

// without returns ids minus every occurrence of exclude.
func without(ids []string, exclude string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != exclude {
			out = append(out, id)
		}
	}
	return out
}

package models

// Collections of the document store.
const (
	PostsCollection   = "posts"
	RepliesCollection = "replies"
	UsersCollection   = "users"
)

// LikesCollection returns the collection holding one like marker per principal for a post.
func LikesCollection(postID string) string {
	return PostsCollection + "/" + postID + "/likes"
}

// Document field names, shared by every backend.
const (
	FieldText        = "text"
	FieldDisplayName = "displayName"
	FieldUsername    = "username"
	FieldAvatar      = "avatar"
	FieldClientRef   = "clientRef"

	FieldPostAuthor     = "uid"
	FieldPostAuthorAlt  = "userId"
	FieldPostTimestamp  = "timestamp"
	FieldPostImage      = "image"
	FieldPostLikeCount  = "likeCount"
	FieldPostVerified   = "verified"
	FieldPostProfileUID = "profileUid"
	FieldPostOrigin     = "origin"

	FieldReplyAuthor    = "userId"
	FieldReplyPostID    = "postId"
	FieldReplyCreatedAt = "createdAt"

	FieldLikeUserID = "userId"

	FieldUserAvatar    = "avatarURL"
	FieldUserFollowing = "following"
	FieldUserFollowers = "followers"
)

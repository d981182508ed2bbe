package github

import (
	"context"

	"github.com/achievio/badgehunter/internal/ratelimit"
)

// Credential is one authenticated identity. Immutable once loaded.
type Credential struct {
	Username string
	Token    string
	BaseURL  string
}

// RepoRef names the target repository.
type RepoRef struct {
	Owner string
	Name  string
}

func (r RepoRef) String() string { return r.Owner + "/" + r.Name }

type RepoOptions struct {
	Description string
	Private     bool
	AutoInit    bool
}

type File struct {
	Path    string
	SHA     string
	Content string
}

// PutFileInput creates or updates a file in a single commit. CoAuthor, when
// set, is appended to the commit message as a Co-authored-by trailer so the
// commit carries both identities.
type PutFileInput struct {
	Path     string
	Message  string
	Content  string
	Branch   string
	SHA      string // required when updating an existing file
	CoAuthor *CoAuthor
}

type CoAuthor struct {
	Name  string
	Email string
}

type PullInput struct {
	Title string
	Body  string
	Base  string
	Head  string
}

type Pull struct {
	Number int
	URL    string
}

type MergeInput struct {
	Method        string // "merge" or "squash"
	CommitTitle   string
	CommitMessage string
}

type Issue struct {
	Number int
	URL    string
}

type Discussion struct {
	ID     string
	Number int
	URL    string
}

// DiscussionInfo is the GraphQL-side repository metadata needed before any
// discussion can be created.
type DiscussionInfo struct {
	RepoNodeID string
	CategoryID string
	Enabled    bool
}

// Client is the capability set one credential exposes to the engine. The
// engine and the workflows depend only on this contract; the live REST and
// GraphQL implementation and the dry-run implementation are interchangeable.
type Client interface {
	Login() string

	// Validate checks the token belongs to the configured user before any
	// workflow starts.
	Validate(ctx context.Context) error

	EnsureRepo(ctx context.Context, repo RepoRef, opts RepoOptions) (created bool, err error)
	DefaultBranch(ctx context.Context, repo RepoRef) (name, headSHA string, err error)
	CreateBranch(ctx context.Context, repo RepoRef, name, fromSHA string) error
	DeleteBranch(ctx context.Context, repo RepoRef, name string) error

	GetFile(ctx context.Context, repo RepoRef, path, ref string) (*File, error)
	PutFile(ctx context.Context, repo RepoRef, in PutFileInput) (commitSHA string, err error)

	CreatePull(ctx context.Context, repo RepoRef, in PullInput) (*Pull, error)
	FindPull(ctx context.Context, repo RepoRef, head string) (*Pull, error)
	RequestReview(ctx context.Context, repo RepoRef, number int, reviewer string) error
	MergePull(ctx context.Context, repo RepoRef, number int, in MergeInput) error

	CreateIssue(ctx context.Context, repo RepoRef, title, body string) (*Issue, error)
	CloseIssue(ctx context.Context, repo RepoRef, number int) error

	Discussions(ctx context.Context, repo RepoRef) (*DiscussionInfo, error)
	CreateDiscussion(ctx context.Context, info DiscussionInfo, title, body string) (*Discussion, error)
	AddDiscussionComment(ctx context.Context, discussionID, body string) (commentID string, err error)
	MarkDiscussionAnswer(ctx context.Context, commentID string) error

	ListCollaborators(ctx context.Context, repo RepoRef) ([]string, error)
	InviteCollaborator(ctx context.Context, repo RepoRef, username string) error
	// AcceptInvitations accepts any pending repository invitation from the
	// given owner, so the two accounts can establish the collaborator
	// relationship without a manual step.
	AcceptInvitations(ctx context.Context, owner string) error

	RateLimit(ctx context.Context) (ratelimit.Snapshot, error)
}

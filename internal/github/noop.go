package github

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/achievio/badgehunter/internal/ratelimit"
)

var _ Client = (*dryClient)(nil)

// dryClient is the dry-run implementation. It performs no network calls but
// keeps enough in-memory state (files, pull numbers, discussion ids) for
// every workflow to run its full step sequence and log what it would do.
type dryClient struct {
	mu       sync.Mutex
	login    string
	log      *zap.Logger
	calls    int
	files    map[string]*File
	branches map[string]bool
	collabs  []string
	pulls    int
	issues   int
	disc     int
	comments int
}

// NewDryRunClient builds a client that simulates every operation locally.
func NewDryRunClient(login string, log *zap.Logger) Client {
	return &dryClient{
		login:    login,
		log:      log.With(zap.String("mode", "dry-run"), zap.String("login", login)),
		files:    make(map[string]*File),
		branches: make(map[string]bool),
	}
}

// Calls reports how many operations the workflows issued, used by tests to
// check that dry-run traversal matches the live step sequence.
func (c *dryClient) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func (c *dryClient) tick(op string, fields ...zap.Field) {
	c.calls++
	c.log.Debug("would call "+op, fields...)
}

func (c *dryClient) Login() string { return c.login }

func (c *dryClient) Validate(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tick("validate")
	return nil
}

func (c *dryClient) EnsureRepo(ctx context.Context, repo RepoRef, opts RepoOptions) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tick("ensure repo", zap.String("repo", repo.String()))
	return false, nil
}

func (c *dryClient) DefaultBranch(ctx context.Context, repo RepoRef) (string, string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tick("default branch", zap.String("repo", repo.String()))
	return "main", "0000000000000000000000000000000000000000", nil
}

func (c *dryClient) CreateBranch(ctx context.Context, repo RepoRef, name, fromSHA string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tick("create branch", zap.String("branch", name))
	c.branches[name] = true
	return nil
}

func (c *dryClient) DeleteBranch(ctx context.Context, repo RepoRef, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tick("delete branch", zap.String("branch", name))
	delete(c.branches, name)
	return nil
}

func (c *dryClient) GetFile(ctx context.Context, repo RepoRef, path, ref string) (*File, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tick("get file", zap.String("path", path))
	if f, ok := c.files[path]; ok {
		copied := *f
		return &copied, nil
	}
	return nil, &APIError{Status: 404, Message: "Not Found"}
}

func (c *dryClient) PutFile(ctx context.Context, repo RepoRef, in PutFileInput) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tick("put file", zap.String("path", in.Path), zap.String("branch", in.Branch))
	sha := fmt.Sprintf("dry-%06d", c.calls)
	c.files[in.Path] = &File{Path: in.Path, SHA: sha, Content: in.Content}
	return sha, nil
}

func (c *dryClient) CreatePull(ctx context.Context, repo RepoRef, in PullInput) (*Pull, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pulls++
	c.tick("create pull", zap.String("head", in.Head), zap.Int("number", c.pulls))
	return &Pull{Number: c.pulls, URL: fmt.Sprintf("https://example.invalid/%s/pull/%d", repo.String(), c.pulls)}, nil
}

func (c *dryClient) FindPull(ctx context.Context, repo RepoRef, head string) (*Pull, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tick("find pull", zap.String("head", head))
	return nil, nil
}

func (c *dryClient) RequestReview(ctx context.Context, repo RepoRef, number int, reviewer string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tick("request review", zap.Int("number", number), zap.String("reviewer", reviewer))
	return nil
}

func (c *dryClient) MergePull(ctx context.Context, repo RepoRef, number int, in MergeInput) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tick("merge pull", zap.Int("number", number), zap.String("method", in.Method))
	return nil
}

func (c *dryClient) CreateIssue(ctx context.Context, repo RepoRef, title, body string) (*Issue, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.issues++
	c.tick("create issue", zap.Int("number", c.issues))
	return &Issue{Number: c.issues, URL: fmt.Sprintf("https://example.invalid/%s/issues/%d", repo.String(), c.issues)}, nil
}

func (c *dryClient) CloseIssue(ctx context.Context, repo RepoRef, number int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tick("close issue", zap.Int("number", number))
	return nil
}

func (c *dryClient) Discussions(ctx context.Context, repo RepoRef) (*DiscussionInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tick("discussion info", zap.String("repo", repo.String()))
	return &DiscussionInfo{RepoNodeID: "DRY_REPO", CategoryID: "DRY_QA", Enabled: true}, nil
}

func (c *dryClient) CreateDiscussion(ctx context.Context, info DiscussionInfo, title, body string) (*Discussion, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disc++
	c.tick("create discussion", zap.Int("number", c.disc))
	return &Discussion{ID: fmt.Sprintf("DRY_D%d", c.disc), Number: c.disc}, nil
}

func (c *dryClient) AddDiscussionComment(ctx context.Context, discussionID, body string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.comments++
	c.tick("add discussion comment", zap.String("discussion", discussionID))
	return fmt.Sprintf("DRY_C%d", c.comments), nil
}

func (c *dryClient) MarkDiscussionAnswer(ctx context.Context, commentID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tick("mark discussion answer", zap.String("comment", commentID))
	return nil
}

func (c *dryClient) ListCollaborators(ctx context.Context, repo RepoRef) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tick("list collaborators")
	return append([]string{c.login}, c.collabs...), nil
}

func (c *dryClient) InviteCollaborator(ctx context.Context, repo RepoRef, username string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tick("invite collaborator", zap.String("user", username))
	c.collabs = append(c.collabs, username)
	return nil
}

func (c *dryClient) AcceptInvitations(ctx context.Context, owner string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tick("accept invitations", zap.String("owner", owner))
	return nil
}

func (c *dryClient) RateLimit(ctx context.Context) (ratelimit.Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tick("rate limit")
	return ratelimit.Snapshot{Remaining: 5000, Limit: 5000}, nil
}

package achievements

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/achievio/badgehunter/internal/clock"
	"github.com/achievio/badgehunter/internal/config"
	"github.com/achievio/badgehunter/internal/engine"
	"github.com/achievio/badgehunter/internal/github"
	"github.com/achievio/badgehunter/internal/progress"
	"github.com/achievio/badgehunter/internal/ratelimit"
)

// fakeHub is the shared remote state both fake identities operate on.
type fakeHub struct {
	mu            sync.Mutex
	calls         []string
	files         map[string]string
	branches      map[string]bool
	pulls         int
	openPulls     map[string]int // head -> number
	issues        int
	openIssues    map[int]bool
	collaborators []string
	invited       []string

	discussionsEnabled bool
	categoryID         string
	discussions        int
	comments           int
	accepted           []string
	brokenAccept       bool

	fail map[string][]error
}

func newFakeHub() *fakeHub {
	return &fakeHub{
		files:              make(map[string]string),
		branches:           make(map[string]bool),
		openPulls:          make(map[string]int),
		openIssues:         make(map[int]bool),
		discussionsEnabled: true,
		categoryID:         "CAT_qa",
		fail:               make(map[string][]error),
	}
}

// failNext queues an error for the next invocation of op.
func (h *fakeHub) failNext(op string, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.fail[op] = append(h.fail[op], err)
}

func (h *fakeHub) step(login, op string, args ...any) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	entry := login + ":" + op
	if len(args) > 0 {
		parts := make([]string, len(args))
		for i, a := range args {
			parts[i] = fmt.Sprint(a)
		}
		entry += ":" + strings.Join(parts, ":")
	}
	h.calls = append(h.calls, entry)
	if queue := h.fail[op]; len(queue) > 0 {
		err := queue[0]
		h.fail[op] = queue[1:]
		return err
	}
	return nil
}

func (h *fakeHub) callsMatching(substr string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []string
	for _, c := range h.calls {
		if strings.Contains(c, substr) {
			out = append(out, c)
		}
	}
	return out
}

type fakeClient struct {
	hub   *fakeHub
	login string
}

var _ github.Client = (*fakeClient)(nil)

func (c *fakeClient) Login() string { return c.login }

func (c *fakeClient) Validate(ctx context.Context) error {
	return c.hub.step(c.login, "validate")
}

func (c *fakeClient) EnsureRepo(ctx context.Context, repo github.RepoRef, opts github.RepoOptions) (bool, error) {
	return false, c.hub.step(c.login, "ensure_repo", repo)
}

func (c *fakeClient) DefaultBranch(ctx context.Context, repo github.RepoRef) (string, string, error) {
	if err := c.hub.step(c.login, "default_branch"); err != nil {
		return "", "", err
	}
	return "main", "base-sha", nil
}

func (c *fakeClient) CreateBranch(ctx context.Context, repo github.RepoRef, name, fromSHA string) error {
	if err := c.hub.step(c.login, "create_branch", name); err != nil {
		return err
	}
	c.hub.mu.Lock()
	defer c.hub.mu.Unlock()
	if c.hub.branches[name] {
		return &github.APIError{Status: 422, Message: "Reference already exists"}
	}
	c.hub.branches[name] = true
	return nil
}

func (c *fakeClient) DeleteBranch(ctx context.Context, repo github.RepoRef, name string) error {
	if err := c.hub.step(c.login, "delete_branch", name); err != nil {
		return err
	}
	c.hub.mu.Lock()
	defer c.hub.mu.Unlock()
	delete(c.hub.branches, name)
	return nil
}

func (c *fakeClient) GetFile(ctx context.Context, repo github.RepoRef, path, ref string) (*github.File, error) {
	if err := c.hub.step(c.login, "get_file", path); err != nil {
		return nil, err
	}
	c.hub.mu.Lock()
	defer c.hub.mu.Unlock()
	content, ok := c.hub.files[path]
	if !ok {
		return nil, &github.APIError{Status: 404, Message: "Not Found"}
	}
	return &github.File{Path: path, SHA: "sha-" + path, Content: content}, nil
}

func (c *fakeClient) PutFile(ctx context.Context, repo github.RepoRef, in github.PutFileInput) (string, error) {
	coAuthor := ""
	if in.CoAuthor != nil {
		coAuthor = in.CoAuthor.Name
	}
	if err := c.hub.step(c.login, "put_file", in.Path, coAuthor); err != nil {
		return "", err
	}
	c.hub.mu.Lock()
	defer c.hub.mu.Unlock()
	c.hub.files[in.Path] = in.Content
	return "commit-" + in.Path, nil
}

func (c *fakeClient) CreatePull(ctx context.Context, repo github.RepoRef, in github.PullInput) (*github.Pull, error) {
	if err := c.hub.step(c.login, "create_pull", in.Head); err != nil {
		return nil, err
	}
	c.hub.mu.Lock()
	defer c.hub.mu.Unlock()
	if _, exists := c.hub.openPulls[in.Head]; exists {
		return nil, &github.APIError{Status: 422, Message: "A pull request already exists"}
	}
	c.hub.pulls++
	c.hub.openPulls[in.Head] = c.hub.pulls
	return &github.Pull{Number: c.hub.pulls, URL: fmt.Sprintf("https://example.invalid/pull/%d", c.hub.pulls)}, nil
}

func (c *fakeClient) FindPull(ctx context.Context, repo github.RepoRef, head string) (*github.Pull, error) {
	if err := c.hub.step(c.login, "find_pull", head); err != nil {
		return nil, err
	}
	c.hub.mu.Lock()
	defer c.hub.mu.Unlock()
	if number, ok := c.hub.openPulls[head]; ok {
		return &github.Pull{Number: number}, nil
	}
	return nil, nil
}

func (c *fakeClient) RequestReview(ctx context.Context, repo github.RepoRef, number int, reviewer string) error {
	return c.hub.step(c.login, "request_review", number, reviewer)
}

func (c *fakeClient) MergePull(ctx context.Context, repo github.RepoRef, number int, in github.MergeInput) error {
	if err := c.hub.step(c.login, "merge_pull", number, in.Method); err != nil {
		return err
	}
	c.hub.mu.Lock()
	defer c.hub.mu.Unlock()
	for head, n := range c.hub.openPulls {
		if n == number {
			delete(c.hub.openPulls, head)
		}
	}
	return nil
}

func (c *fakeClient) CreateIssue(ctx context.Context, repo github.RepoRef, title, body string) (*github.Issue, error) {
	if err := c.hub.step(c.login, "create_issue"); err != nil {
		return nil, err
	}
	c.hub.mu.Lock()
	defer c.hub.mu.Unlock()
	c.hub.issues++
	c.hub.openIssues[c.hub.issues] = true
	return &github.Issue{Number: c.hub.issues, URL: fmt.Sprintf("https://example.invalid/issues/%d", c.hub.issues)}, nil
}

func (c *fakeClient) CloseIssue(ctx context.Context, repo github.RepoRef, number int) error {
	if err := c.hub.step(c.login, "close_issue", number); err != nil {
		return err
	}
	c.hub.mu.Lock()
	defer c.hub.mu.Unlock()
	delete(c.hub.openIssues, number)
	return nil
}

func (c *fakeClient) Discussions(ctx context.Context, repo github.RepoRef) (*github.DiscussionInfo, error) {
	if err := c.hub.step(c.login, "discussions"); err != nil {
		return nil, err
	}
	c.hub.mu.Lock()
	defer c.hub.mu.Unlock()
	return &github.DiscussionInfo{
		RepoNodeID: "R_node",
		CategoryID: c.hub.categoryID,
		Enabled:    c.hub.discussionsEnabled,
	}, nil
}

func (c *fakeClient) CreateDiscussion(ctx context.Context, info github.DiscussionInfo, title, body string) (*github.Discussion, error) {
	if err := c.hub.step(c.login, "create_discussion"); err != nil {
		return nil, err
	}
	c.hub.mu.Lock()
	defer c.hub.mu.Unlock()
	c.hub.discussions++
	return &github.Discussion{ID: fmt.Sprintf("D%d", c.hub.discussions), Number: c.hub.discussions}, nil
}

func (c *fakeClient) AddDiscussionComment(ctx context.Context, discussionID, body string) (string, error) {
	if err := c.hub.step(c.login, "add_comment", discussionID); err != nil {
		return "", err
	}
	c.hub.mu.Lock()
	defer c.hub.mu.Unlock()
	c.hub.comments++
	return fmt.Sprintf("C%d", c.hub.comments), nil
}

func (c *fakeClient) MarkDiscussionAnswer(ctx context.Context, commentID string) error {
	if err := c.hub.step(c.login, "mark_answer", commentID); err != nil {
		return err
	}
	c.hub.mu.Lock()
	defer c.hub.mu.Unlock()
	c.hub.accepted = append(c.hub.accepted, commentID)
	return nil
}

func (c *fakeClient) ListCollaborators(ctx context.Context, repo github.RepoRef) ([]string, error) {
	if err := c.hub.step(c.login, "list_collaborators"); err != nil {
		return nil, err
	}
	c.hub.mu.Lock()
	defer c.hub.mu.Unlock()
	return append([]string{repo.Owner}, c.hub.collaborators...), nil
}

func (c *fakeClient) InviteCollaborator(ctx context.Context, repo github.RepoRef, username string) error {
	if err := c.hub.step(c.login, "invite_collaborator", username); err != nil {
		return err
	}
	c.hub.mu.Lock()
	defer c.hub.mu.Unlock()
	c.hub.invited = append(c.hub.invited, username)
	return nil
}

func (c *fakeClient) AcceptInvitations(ctx context.Context, owner string) error {
	if err := c.hub.step(c.login, "accept_invitations", owner); err != nil {
		return err
	}
	c.hub.mu.Lock()
	defer c.hub.mu.Unlock()
	if !c.hub.brokenAccept {
		c.hub.collaborators = append(c.hub.collaborators, c.hub.invited...)
		c.hub.invited = nil
	}
	return nil
}

func (c *fakeClient) RateLimit(ctx context.Context) (ratelimit.Snapshot, error) {
	if err := c.hub.step(c.login, "rate_limit"); err != nil {
		return ratelimit.Snapshot{}, err
	}
	return ratelimit.Snapshot{Remaining: 5000, Limit: 5000}, nil
}

// harness bundles the pieces a workflow test needs.
type harness struct {
	hub    *fakeHub
	env    engine.Env
	clk    *clock.Fake
	store  *progress.MemStore
	runner *engine.Runner
}

func newHarness(t *testing.T, withSecondary bool) *harness {
	t.Helper()
	hub := newFakeHub()
	clk := clock.NewFake(time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC))
	store := progress.NewMemStore()

	env := engine.Env{
		Primary: &fakeClient{hub: hub, login: "primary"},
		Repo:    github.RepoRef{Owner: "primary", Name: "sandbox"},
		Exec: func(ctx context.Context, _ ratelimit.Account, _ string, op func(context.Context) error) error {
			return op(ctx)
		},
		Clock: clk,
		Log:   zaptest.NewLogger(t),
	}
	if withSecondary {
		env.Secondary = &fakeClient{hub: hub, login: "secondary"}
	}
	return &harness{
		hub:    hub,
		env:    env,
		clk:    clk,
		store:  store,
		runner: engine.NewRunner(store, zaptest.NewLogger(t)),
	}
}

func (h *harness) workflowConfig(name string) config.WorkflowConfig {
	return config.Default().Workflows[name]
}

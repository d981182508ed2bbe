package github

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/achievio/badgehunter/internal/ratelimit"
)

const defaultBaseURL = "https://api.github.com"

var _ Client = (*restClient)(nil)

// restClient is the live implementation: REST v3 for repository, issue and
// pull operations, GraphQL v4 for discussions. Each instance is bound to one
// credential; the report callback feeds server-observed budget snapshots
// back to the rate limiter after every response.
type restClient struct {
	cred    Credential
	account ratelimit.Account
	base    string
	http    *http.Client
	report  func(ratelimit.Account, ratelimit.Snapshot)
	log     *zap.Logger
}

// NewClient builds a live client for one credential. report may be nil.
func NewClient(cred Credential, account ratelimit.Account, report func(ratelimit.Account, ratelimit.Snapshot), log *zap.Logger) Client {
	base := strings.TrimRight(cred.BaseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	return &restClient{
		cred:    cred,
		account: account,
		base:    base,
		http: &http.Client{
			Timeout:   30 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		report: report,
		log:    log,
	}
}

func (c *restClient) Login() string { return c.cred.Username }

func (c *restClient) Validate(ctx context.Context) error {
	var user struct {
		Login string `json:"login"`
	}
	if err := c.do(ctx, http.MethodGet, "/user", nil, &user); err != nil {
		return err
	}
	if !strings.EqualFold(user.Login, c.cred.Username) {
		return &APIError{
			Status:  http.StatusUnauthorized,
			Code:    "wrong_account",
			Message: fmt.Sprintf("token belongs to %q, expected %q", user.Login, c.cred.Username),
		}
	}
	return nil
}

func (c *restClient) EnsureRepo(ctx context.Context, repo RepoRef, opts RepoOptions) (bool, error) {
	err := c.do(ctx, http.MethodGet, "/repos/"+repo.String(), nil, nil)
	if err == nil {
		return false, nil
	}
	if !IsNotFound(err) {
		return false, err
	}
	body := map[string]any{
		"name":        repo.Name,
		"description": opts.Description,
		"private":     opts.Private,
		"auto_init":   opts.AutoInit,
	}
	if err := c.do(ctx, http.MethodPost, "/user/repos", body, nil); err != nil {
		return false, err
	}
	c.log.Info("repository created", zap.String("repo", repo.String()))
	return true, nil
}

func (c *restClient) DefaultBranch(ctx context.Context, repo RepoRef) (string, string, error) {
	var r struct {
		DefaultBranch string `json:"default_branch"`
	}
	if err := c.do(ctx, http.MethodGet, "/repos/"+repo.String(), nil, &r); err != nil {
		return "", "", err
	}
	var b struct {
		Commit struct {
			SHA string `json:"sha"`
		} `json:"commit"`
	}
	if err := c.do(ctx, http.MethodGet, "/repos/"+repo.String()+"/branches/"+r.DefaultBranch, nil, &b); err != nil {
		return "", "", err
	}
	return r.DefaultBranch, b.Commit.SHA, nil
}

func (c *restClient) CreateBranch(ctx context.Context, repo RepoRef, name, fromSHA string) error {
	body := map[string]any{"ref": "refs/heads/" + name, "sha": fromSHA}
	return c.do(ctx, http.MethodPost, "/repos/"+repo.String()+"/git/refs", body, nil)
}

func (c *restClient) DeleteBranch(ctx context.Context, repo RepoRef, name string) error {
	return c.do(ctx, http.MethodDelete, "/repos/"+repo.String()+"/git/refs/heads/"+name, nil, nil)
}

func (c *restClient) GetFile(ctx context.Context, repo RepoRef, path, ref string) (*File, error) {
	p := "/repos/" + repo.String() + "/contents/" + path
	if ref != "" {
		p += "?ref=" + url.QueryEscape(ref)
	}
	var out struct {
		SHA     string `json:"sha"`
		Content string `json:"content"`
	}
	if err := c.do(ctx, http.MethodGet, p, nil, &out); err != nil {
		return nil, err
	}
	raw, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(out.Content, "\n", ""))
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return &File{Path: path, SHA: out.SHA, Content: string(raw)}, nil
}

func (c *restClient) PutFile(ctx context.Context, repo RepoRef, in PutFileInput) (string, error) {
	message := in.Message
	if in.CoAuthor != nil {
		message += fmt.Sprintf("\n\nCo-authored-by: %s <%s>", in.CoAuthor.Name, in.CoAuthor.Email)
	}
	body := map[string]any{
		"message": message,
		"content": base64.StdEncoding.EncodeToString([]byte(in.Content)),
	}
	if in.Branch != "" {
		body["branch"] = in.Branch
	}
	if in.SHA != "" {
		body["sha"] = in.SHA
	}
	var out struct {
		Commit struct {
			SHA string `json:"sha"`
		} `json:"commit"`
	}
	if err := c.do(ctx, http.MethodPut, "/repos/"+repo.String()+"/contents/"+in.Path, body, &out); err != nil {
		return "", err
	}
	return out.Commit.SHA, nil
}

func (c *restClient) CreatePull(ctx context.Context, repo RepoRef, in PullInput) (*Pull, error) {
	body := map[string]any{"title": in.Title, "body": in.Body, "base": in.Base, "head": in.Head}
	var out struct {
		Number  int    `json:"number"`
		HTMLURL string `json:"html_url"`
	}
	if err := c.do(ctx, http.MethodPost, "/repos/"+repo.String()+"/pulls", body, &out); err != nil {
		return nil, err
	}
	return &Pull{Number: out.Number, URL: out.HTMLURL}, nil
}

func (c *restClient) FindPull(ctx context.Context, repo RepoRef, head string) (*Pull, error) {
	p := fmt.Sprintf("/repos/%s/pulls?state=open&head=%s", repo.String(), url.QueryEscape(repo.Owner+":"+head))
	var out []struct {
		Number  int    `json:"number"`
		HTMLURL string `json:"html_url"`
	}
	if err := c.do(ctx, http.MethodGet, p, nil, &out); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}
	return &Pull{Number: out[0].Number, URL: out[0].HTMLURL}, nil
}

func (c *restClient) RequestReview(ctx context.Context, repo RepoRef, number int, reviewer string) error {
	body := map[string]any{"reviewers": []string{reviewer}}
	p := fmt.Sprintf("/repos/%s/pulls/%d/requested_reviewers", repo.String(), number)
	return c.do(ctx, http.MethodPost, p, body, nil)
}

func (c *restClient) MergePull(ctx context.Context, repo RepoRef, number int, in MergeInput) error {
	body := map[string]any{
		"merge_method":   in.Method,
		"commit_title":   in.CommitTitle,
		"commit_message": in.CommitMessage,
	}
	var out struct {
		Merged bool `json:"merged"`
	}
	p := fmt.Sprintf("/repos/%s/pulls/%d/merge", repo.String(), number)
	if err := c.do(ctx, http.MethodPut, p, body, &out); err != nil {
		return err
	}
	if !out.Merged {
		return &APIError{Status: http.StatusConflict, Code: "not_merged", Message: "merge was not performed"}
	}
	return nil
}

func (c *restClient) CreateIssue(ctx context.Context, repo RepoRef, title, body string) (*Issue, error) {
	payload := map[string]any{"title": title, "body": body}
	var out struct {
		Number  int    `json:"number"`
		HTMLURL string `json:"html_url"`
	}
	if err := c.do(ctx, http.MethodPost, "/repos/"+repo.String()+"/issues", payload, &out); err != nil {
		return nil, err
	}
	return &Issue{Number: out.Number, URL: out.HTMLURL}, nil
}

func (c *restClient) CloseIssue(ctx context.Context, repo RepoRef, number int) error {
	body := map[string]any{"state": "closed"}
	return c.do(ctx, http.MethodPatch, fmt.Sprintf("/repos/%s/issues/%d", repo.String(), number), body, nil)
}

func (c *restClient) ListCollaborators(ctx context.Context, repo RepoRef) ([]string, error) {
	var out []struct {
		Login string `json:"login"`
	}
	if err := c.do(ctx, http.MethodGet, "/repos/"+repo.String()+"/collaborators", nil, &out); err != nil {
		return nil, err
	}
	logins := make([]string, 0, len(out))
	for _, u := range out {
		logins = append(logins, u.Login)
	}
	return logins, nil
}

func (c *restClient) InviteCollaborator(ctx context.Context, repo RepoRef, username string) error {
	return c.do(ctx, http.MethodPut, "/repos/"+repo.String()+"/collaborators/"+username, map[string]any{}, nil)
}

func (c *restClient) AcceptInvitations(ctx context.Context, owner string) error {
	var invites []struct {
		ID      int64 `json:"id"`
		Inviter struct {
			Login string `json:"login"`
		} `json:"inviter"`
	}
	if err := c.do(ctx, http.MethodGet, "/user/repository_invitations", nil, &invites); err != nil {
		return err
	}
	for _, inv := range invites {
		if !strings.EqualFold(inv.Inviter.Login, owner) {
			continue
		}
		p := fmt.Sprintf("/user/repository_invitations/%d", inv.ID)
		if err := c.do(ctx, http.MethodPatch, p, nil, nil); err != nil {
			return err
		}
		c.log.Info("collaborator invitation accepted",
			zap.String("account", c.cred.Username),
			zap.String("from", owner))
	}
	return nil
}

func (c *restClient) RateLimit(ctx context.Context) (ratelimit.Snapshot, error) {
	var out struct {
		Resources struct {
			Core struct {
				Limit     int   `json:"limit"`
				Remaining int   `json:"remaining"`
				Reset     int64 `json:"reset"`
			} `json:"core"`
		} `json:"resources"`
	}
	if err := c.do(ctx, http.MethodGet, "/rate_limit", nil, &out); err != nil {
		return ratelimit.Snapshot{}, err
	}
	core := out.Resources.Core
	return ratelimit.Snapshot{
		Remaining: core.Remaining,
		Limit:     core.Limit,
		Reset:     time.Unix(core.Reset, 0).UTC(),
	}, nil
}

func (c *restClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Authorization", "Bearer "+c.cred.Token)
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	snap, throttled := ParseRateHeaders(resp.Header, resp.StatusCode)
	if c.report != nil {
		c.report(c.account, snap)
	}

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 400 {
		return newAPIError(resp.StatusCode, raw, throttled)
	}
	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("%s %s: decode response: %w", method, path, err)
		}
	}
	return nil
}

// ParseRateHeaders extracts the budget snapshot GitHub attaches to every
// response. The second return reports whether the response itself was a
// rate-limit rejection (primary window exhausted or a Retry-After signal).
func ParseRateHeaders(h http.Header, status int) (ratelimit.Snapshot, bool) {
	snap := ratelimit.Snapshot{Remaining: -1}
	if v := h.Get("X-Ratelimit-Remaining"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			snap.Remaining = n
		}
	}
	if v := h.Get("X-Ratelimit-Limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			snap.Limit = n
		}
	}
	if v := h.Get("X-Ratelimit-Reset"); v != "" {
		if sec, err := strconv.ParseInt(v, 10, 64); err == nil {
			snap.Reset = time.Unix(sec, 0).UTC()
		}
	}
	if v := h.Get("Retry-After"); v != "" {
		if sec, err := strconv.Atoi(v); err == nil {
			snap.RetryAfter = time.Duration(sec) * time.Second
		}
	}
	throttled := snap.RetryAfter > 0 ||
		status == http.StatusTooManyRequests ||
		(status == http.StatusForbidden && snap.Remaining == 0)
	return snap, throttled
}

func newAPIError(status int, raw []byte, throttled bool) *APIError {
	var payload struct {
		Message string `json:"message"`
		Errors  []struct {
			Code string `json:"code"`
		} `json:"errors"`
	}
	_ = json.Unmarshal(raw, &payload)
	code := ""
	if len(payload.Errors) > 0 {
		code = payload.Errors[0].Code
	}
	return &APIError{Status: status, Code: code, Message: payload.Message, Throttled: throttled}
}

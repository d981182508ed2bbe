package github

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Discussions run on the GraphQL v4 API; there is no REST surface for
// creating them or marking answers.

func (c *restClient) Discussions(ctx context.Context, repo RepoRef) (*DiscussionInfo, error) {
	const query = `
query($owner: String!, $name: String!) {
  repository(owner: $owner, name: $name) {
    id
    hasDiscussionsEnabled
    discussionCategories(first: 25) {
      nodes { id name isAnswerable }
    }
  }
}`
	var out struct {
		Repository struct {
			ID                    string `json:"id"`
			HasDiscussionsEnabled bool   `json:"hasDiscussionsEnabled"`
			DiscussionCategories  struct {
				Nodes []struct {
					ID           string `json:"id"`
					Name         string `json:"name"`
					IsAnswerable bool   `json:"isAnswerable"`
				} `json:"nodes"`
			} `json:"discussionCategories"`
		} `json:"repository"`
	}
	err := c.graphql(ctx, query, map[string]any{"owner": repo.Owner, "name": repo.Name}, &out)
	if err != nil {
		return nil, err
	}
	info := &DiscussionInfo{
		RepoNodeID: out.Repository.ID,
		Enabled:    out.Repository.HasDiscussionsEnabled,
	}
	// Prefer the Q&A category; fall back to any answerable one.
	for _, cat := range out.Repository.DiscussionCategories.Nodes {
		if !cat.IsAnswerable {
			continue
		}
		if info.CategoryID == "" || strings.EqualFold(cat.Name, "Q&A") {
			info.CategoryID = cat.ID
		}
	}
	return info, nil
}

func (c *restClient) CreateDiscussion(ctx context.Context, info DiscussionInfo, title, body string) (*Discussion, error) {
	const mutation = `
mutation($repo: ID!, $category: ID!, $title: String!, $body: String!) {
  createDiscussion(input: {repositoryId: $repo, categoryId: $category, title: $title, body: $body}) {
    discussion { id number url }
  }
}`
	vars := map[string]any{
		"repo":     info.RepoNodeID,
		"category": info.CategoryID,
		"title":    title,
		"body":     body,
	}
	var out struct {
		CreateDiscussion struct {
			Discussion struct {
				ID     string `json:"id"`
				Number int    `json:"number"`
				URL    string `json:"url"`
			} `json:"discussion"`
		} `json:"createDiscussion"`
	}
	if err := c.graphql(ctx, mutation, vars, &out); err != nil {
		return nil, err
	}
	d := out.CreateDiscussion.Discussion
	return &Discussion{ID: d.ID, Number: d.Number, URL: d.URL}, nil
}

func (c *restClient) AddDiscussionComment(ctx context.Context, discussionID, body string) (string, error) {
	const mutation = `
mutation($discussion: ID!, $body: String!) {
  addDiscussionComment(input: {discussionId: $discussion, body: $body}) {
    comment { id }
  }
}`
	var out struct {
		AddDiscussionComment struct {
			Comment struct {
				ID string `json:"id"`
			} `json:"comment"`
		} `json:"addDiscussionComment"`
	}
	vars := map[string]any{"discussion": discussionID, "body": body}
	if err := c.graphql(ctx, mutation, vars, &out); err != nil {
		return "", err
	}
	return out.AddDiscussionComment.Comment.ID, nil
}

func (c *restClient) MarkDiscussionAnswer(ctx context.Context, commentID string) error {
	const mutation = `
mutation($comment: ID!) {
  markDiscussionCommentAsAnswer(input: {id: $comment}) {
    discussion { id }
  }
}`
	return c.graphql(ctx, mutation, map[string]any{"comment": commentID}, nil)
}

// graphql posts one operation and decodes data into out. GraphQL reports
// failures in-band with a 200 status, so errors are lifted into APIError
// here rather than in do.
func (c *restClient) graphql(ctx context.Context, query string, vars map[string]any, out any) error {
	raw, err := json.Marshal(map[string]any{"query": query, "variables": vars})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/graphql", bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.cred.Token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	snap, throttled := ParseRateHeaders(resp.Header, resp.StatusCode)
	if c.report != nil {
		c.report(c.account, snap)
	}

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 400 {
		return newAPIError(resp.StatusCode, body, throttled)
	}

	var envelope struct {
		Data   json.RawMessage `json:"data"`
		Errors []struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return fmt.Errorf("graphql: decode response: %w", err)
	}
	if len(envelope.Errors) > 0 {
		first := envelope.Errors[0]
		status := http.StatusUnprocessableEntity
		if first.Type == "NOT_FOUND" {
			status = http.StatusNotFound
		}
		return &APIError{Status: status, Code: first.Type, Message: first.Message}
	}
	if out != nil && len(envelope.Data) > 0 {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return fmt.Errorf("graphql: decode data: %w", err)
		}
	}
	return nil
}

package friends

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Friend is one entry of the social graph as returned by the friends API.
type Friend struct {
	ID          string `json:"id"`
	Username    string `json:"username,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
}

// IDs returns the non-empty friend ids in order.
func IDs(list []Friend) []string {
	ids := make([]string, 0, len(list))
	for _, f := range list {
		if f.ID != "" {
			ids = append(ids, f.ID)
		}
	}
	return ids
}

// Source fetches the friend list of the user owning token.
type Source interface {
	Friends(ctx context.Context, token string) []Friend
}

// Client calls GET {baseURL}/api/friends with the caller's bearer token.
// Every failure degrades to an empty list.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger
}

func NewClient(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		logger:  logger.Named("friends"),
	}
}

func (c *Client) Friends(ctx context.Context, token string) []Friend {
	if strings.TrimSpace(token) == "" || c.baseURL == "" {
		return []Friend{}
	}
	list, err := c.fetch(ctx, token)
	if err != nil {
		c.logger.Warn("failed to fetch friends", zap.Error(err))
		return []Friend{}
	}
	return list
}

func (c *Client) fetch(ctx context.Context, token string) ([]Friend, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/friends", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("friends api returned %d", resp.StatusCode)
	}

	var raw []Friend
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode friends response: %w", err)
	}
	list := make([]Friend, 0, len(raw))
	for _, f := range raw {
		f.ID = strings.TrimSpace(f.ID)
		if f.ID == "" {
			continue
		}
		list = append(list, f)
	}
	return list, nil
}

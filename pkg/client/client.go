// Package client is the control-plane client used by call participants: it
// polls the session API for the reconciler and exchanges relay credentials
// for the media client. Transport is a plain authenticated JSON API; the
// media itself never flows through here.
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/resonance-im/resonance/pkg/internal/callstate"
	"github.com/resonance-im/resonance/pkg/internal/mediaclient"
	"github.com/resonance-im/resonance/pkg/internal/reconciler"
	"github.com/resonance-im/resonance/pkg/internal/token"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type Client struct {
	baseURL string
	bearer  string
	channel string

	http *http.Client
}

func New(baseURL, bearer, channelAlias string) *Client {
	return &Client{
		baseURL: baseURL,
		bearer:  bearer,
		channel: channelAlias,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

type callPayload struct {
	ExternalID  string     `json:"external_id"`
	ChannelName string     `json:"channel_name"`
	Type        uint8      `json:"type"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at"`
	EndedAt     *time.Time `json:"ended_at"`
	ChannelID   uint       `json:"channel_id"`
	Founder     struct {
		Name string `json:"name"`
	} `json:"founder"`
}

func (p callPayload) toSession() reconciler.Session {
	callType := "voice"
	if p.Type == 1 {
		callType = "video"
	}
	return reconciler.Session{
		ID:             p.ExternalID,
		ConversationID: fmt.Sprintf("%d", p.ChannelID),
		CallerID:       p.Founder.Name,
		CallType:       callType,
		ChannelName:    p.ChannelName,
		Status:         callstate.Status(p.Status),
		CreatedAt:      p.CreatedAt,
		StartedAt:      p.StartedAt,
		EndedAt:        p.EndedAt,
	}
}

// Session implements reconciler.SessionSource.
func (c *Client) Session(ctx context.Context, id string) (reconciler.Session, error) {
	var payload callPayload
	if err := c.get(ctx, fmt.Sprintf("/api/calls/%s", id), &payload); err != nil {
		return reconciler.Session{}, err
	}
	return payload.toSession(), nil
}

// RecentSessions implements reconciler.SessionSource.
func (c *Client) RecentSessions(ctx context.Context) ([]reconciler.Session, error) {
	var payload []callPayload
	if err := c.get(ctx, "/api/users/me/calls/recent", &payload); err != nil {
		return nil, err
	}
	sessions := make([]reconciler.Session, 0, len(payload))
	for _, item := range payload {
		sessions = append(sessions, item.toSession())
	}
	return sessions, nil
}

// FetchCredential implements mediaclient.CredentialSource.
func (c *Client) FetchCredential(ctx context.Context, _ string, role token.Role) (token.Credential, error) {
	if len(c.bearer) == 0 {
		return token.Credential{}, mediaclient.ErrNotSignedIn
	}

	roleName := "publisher"
	if role == token.RoleSubscriber {
		roleName = "subscriber"
	}
	body, _ := json.Marshal(map[string]any{"role": roleName})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+fmt.Sprintf("/api/channels/%s/calls/ongoing/token", c.channel),
		bytes.NewReader(body))
	if err != nil {
		return token.Credential{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.bearer)

	resp, err := c.http.Do(req)
	if err != nil {
		return token.Credential{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return token.Credential{}, mediaclient.ErrNotSignedIn
	}
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return token.Credential{}, fmt.Errorf("credential exchange failed with status %d: %s", resp.StatusCode, raw)
	}

	var cred token.Credential
	if err := json.NewDecoder(resp.Body).Decode(&cred); err != nil {
		return token.Credential{}, err
	}
	return cred, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.bearer)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("request to %s failed with status %d: %s", path, resp.StatusCode, raw)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

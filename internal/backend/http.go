package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"expedition-bot/internal/model"
	"expedition-bot/internal/pkg/apperr"
)

// HTTPClient is the Client backed by the game server's REST API.
type HTTPClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient creates a client for baseURL. A zero timeout means 10 seconds.
func NewHTTPClient(baseURL, apiKey string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
	}
}

// errorBody is the error envelope returned by the backend.
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Field   string `json:"field"`
	Status  string `json:"status"`
}

// do sends a request and decodes a JSON answer into out when out is non-nil.
func (c *HTTPClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("x-internal-api-key", c.apiKey)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		log.Warn().Err(err).Str("method", method).Str("path", path).Msg("Backend request failed")
		return apperr.Transient(fmt.Sprintf("%s %s", method, path), err)
	}
	defer resp.Body.Close()

	log.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(start)).
		Msg("Backend request")

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return apperr.Transient("failed to read backend response", err)
	}
	if resp.StatusCode >= 300 {
		return statusError(resp.StatusCode, path, data)
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode backend response: %w", err)
	}
	return nil
}

// statusError maps an HTTP status to an error kind.
func statusError(code int, path string, data []byte) error {
	var body errorBody
	_ = json.Unmarshal(data, &body)
	msg := body.Message
	if msg == "" {
		msg = body.Error
	}
	if msg == "" {
		msg = http.StatusText(code)
	}

	switch {
	case code == http.StatusBadRequest || code == http.StatusUnprocessableEntity:
		return apperr.Validation(body.Field, "", msg)
	case code == http.StatusConflict:
		return apperr.State(body.Status, msg)
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return apperr.Unauthorized(msg)
	case code == http.StatusNotFound:
		return apperr.NotFound(resourceOf(path), msg)
	case code >= 500:
		return apperr.Transient("backend error", fmt.Errorf("%d %s", code, msg))
	default:
		return apperr.Wrap(apperr.KindUnknown, "unexpected backend status", fmt.Errorf("%d %s", code, msg))
	}
}

// resourceOf names the entity a route is about.
func resourceOf(path string) apperr.Resource {
	switch {
	case strings.HasPrefix(path, "/api/characters/"):
		return apperr.ResourceCharacter
	case strings.HasPrefix(path, "/api/towns/"):
		return apperr.ResourceTown
	case strings.HasPrefix(path, "/api/resources/"):
		return apperr.ResourcePool
	}
	return apperr.ResourceExpedition
}

func esc(s string) string { return url.PathEscape(s) }

// GetActiveExpeditionsForCharacter implements Client.
func (c *HTTPClient) GetActiveExpeditionsForCharacter(ctx context.Context, characterID string) ([]model.Expedition, error) {
	var out []model.Expedition
	if err := c.do(ctx, http.MethodGet, "/api/expeditions/character/"+esc(characterID)+"/active", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateExpedition implements Client.
func (c *HTTPClient) CreateExpedition(ctx context.Context, in model.CreateExpeditionInput) (*model.Expedition, error) {
	var out model.Expedition
	if err := c.do(ctx, http.MethodPost, "/api/expeditions", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type characterRef struct {
	CharacterID string `json:"characterId"`
}

// ListTownExpeditions implements Client.
func (c *HTTPClient) ListTownExpeditions(ctx context.Context, townID string) ([]model.Expedition, error) {
	var out []model.Expedition
	if err := c.do(ctx, http.MethodGet, "/api/expeditions/town/"+esc(townID), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// JoinExpedition implements Client. The backend answers 201 with the
// membership row.
func (c *HTTPClient) JoinExpedition(ctx context.Context, expeditionID, characterID string) (*model.ExpeditionMember, error) {
	var out model.ExpeditionMember
	if err := c.do(ctx, http.MethodPost, "/api/expeditions/"+esc(expeditionID)+"/join", characterRef{characterID}, &out); err != nil {
		return nil, err
	}
	if out.ExpeditionID == "" {
		out.ExpeditionID = expeditionID
	}
	return &out, nil
}

// LeaveExpedition implements Client. The backend answers 204.
func (c *HTTPClient) LeaveExpedition(ctx context.Context, expeditionID, characterID string) error {
	return c.do(ctx, http.MethodPost, "/api/expeditions/"+esc(expeditionID)+"/leave", characterRef{characterID}, nil)
}

// GetExpeditionByID implements Client.
func (c *HTTPClient) GetExpeditionByID(ctx context.Context, expeditionID string) (*model.Expedition, error) {
	var out model.Expedition
	err := c.do(ctx, http.MethodGet, "/api/expeditions/"+esc(expeditionID), nil, &out)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// GetResources implements Client.
func (c *HTTPClient) GetResources(ctx context.Context, poolType model.PoolType, poolID string) ([]model.ResourceQuantity, error) {
	var out []model.ResourceQuantity
	if err := c.do(ctx, http.MethodGet, "/api/resources/"+esc(string(poolType))+"/"+esc(poolID), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// TransferResource implements Client.
func (c *HTTPClient) TransferResource(ctx context.Context, fromType model.PoolType, fromID string, toType model.PoolType, toID string, resourceTypeID, quantity int) error {
	path := fmt.Sprintf("/api/resources/%s/%s/%s/%s/%d/transfer",
		esc(string(fromType)), esc(fromID), esc(string(toType)), esc(toID), resourceTypeID)
	return c.do(ctx, http.MethodPost, path, map[string]int{"quantity": quantity}, nil)
}

// ListResourceTypes implements Client.
func (c *HTTPClient) ListResourceTypes(ctx context.Context) ([]model.ResourceType, error) {
	var out []model.ResourceType
	if err := c.do(ctx, http.MethodGet, "/api/resources/types", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ToggleEmergencyVote implements Client.
func (c *HTTPClient) ToggleEmergencyVote(ctx context.Context, expeditionID, userID string) (*model.VoteToggle, error) {
	var out model.VoteToggle
	body := map[string]string{"userId": userID}
	if err := c.do(ctx, http.MethodPost, "/api/expeditions/"+esc(expeditionID)+"/emergency-vote", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// guildCharacter is a character as listed for a guild.
type guildCharacter struct {
	model.Character
	IsActive bool `json:"isActive"`
}

// GetActiveCharacter implements Client.
func (c *HTTPClient) GetActiveCharacter(ctx context.Context, userID, guildID string) (*model.Character, error) {
	var list []guildCharacter
	if err := c.do(ctx, http.MethodGet, "/api/characters/guild/"+esc(guildID), nil, &list); err != nil {
		return nil, err
	}
	for _, ch := range list {
		if ch.UserID == userID && ch.IsActive {
			out := ch.Character
			return &out, nil
		}
	}
	return nil, nil
}

// GetTownByGuild implements Client.
func (c *HTTPClient) GetTownByGuild(ctx context.Context, guildID string) (*model.Town, error) {
	var out model.Town
	if err := c.do(ctx, http.MethodGet, "/api/towns/guild/"+esc(guildID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) admin(ctx context.Context, method, expeditionID, action string, body any) (*model.Expedition, error) {
	path := "/api/admin/expeditions/" + esc(expeditionID)
	if action != "" {
		path += "/" + action
	}
	var out model.Expedition
	if err := c.do(ctx, method, path, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// LockExpedition implements Client.
func (c *HTTPClient) LockExpedition(ctx context.Context, expeditionID string) (*model.Expedition, error) {
	return c.admin(ctx, http.MethodPost, expeditionID, "lock", nil)
}

// DepartExpedition implements Client.
func (c *HTTPClient) DepartExpedition(ctx context.Context, expeditionID string) (*model.Expedition, error) {
	return c.admin(ctx, http.MethodPost, expeditionID, "depart", nil)
}

// ReturnExpedition implements Client.
func (c *HTTPClient) ReturnExpedition(ctx context.Context, expeditionID string) (*model.Expedition, error) {
	return c.admin(ctx, http.MethodPost, expeditionID, "force-return", nil)
}

// UpdateExpeditionDuration implements Client.
func (c *HTTPClient) UpdateExpeditionDuration(ctx context.Context, expeditionID string, days int) (*model.Expedition, error) {
	return c.admin(ctx, http.MethodPatch, expeditionID, "", map[string]int{"duration": days})
}

package provider

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-resty/resty/v2"

	"github.com/ossianwinter/replayd/internal/constants"
	"github.com/ossianwinter/replayd/internal/domain"
)

// Client is the resty-backed Provider implementation.
type Client struct {
	rest *resty.Client
}

func NewClient(baseURL, token string) *Client {
	rest := resty.New().
		SetBaseURL(baseURL).
		SetAuthToken(token).
		SetTimeout(constants.DefaultHTTPTimeout).
		SetRetryCount(2).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() == http.StatusTooManyRequests || r.StatusCode() >= 500
		})
	return &Client{rest: rest}
}

type playlistItem struct {
	Track struct {
		ID string `json:"id"`
	} `json:"track"`
}

type playlistTracksResponse struct {
	Items []playlistItem `json:"items"`
	Total int            `json:"total"`
}

func (c *Client) GetPlaylistTracks(ctx context.Context, playlistID string) ([]string, error) {
	var ids []string
	offset := 0
	for {
		var body playlistTracksResponse
		resp, err := c.rest.R().
			SetContext(ctx).
			SetQueryParams(map[string]string{
				"offset": fmt.Sprintf("%d", offset),
				"limit":  fmt.Sprintf("%d", constants.ProviderPageSize),
			}).
			SetResult(&body).
			Get(fmt.Sprintf("/playlists/%s/tracks", playlistID))
		if err != nil {
			return nil, fmt.Errorf("failed to fetch playlist %s: %w", playlistID, err)
		}
		if resp.IsError() {
			return nil, &Error{StatusCode: resp.StatusCode(), Message: resp.String()}
		}

		for _, item := range body.Items {
			ids = append(ids, item.Track.ID)
		}
		offset += len(body.Items)
		if len(body.Items) == 0 || offset >= body.Total {
			return ids, nil
		}
	}
}

func (c *Client) AddTracks(ctx context.Context, playlistID string, trackIDs []string, position int) error {
	// Large inserts go up in provider-sized batches; each batch lands
	// after the previous one to preserve order.
	for start := 0; start < len(trackIDs); start += constants.ProviderPageSize {
		end := start + constants.ProviderPageSize
		if end > len(trackIDs) {
			end = len(trackIDs)
		}

		resp, err := c.rest.R().
			SetContext(ctx).
			SetBody(map[string]interface{}{
				"ids":      trackIDs[start:end],
				"position": position + start,
			}).
			Post(fmt.Sprintf("/playlists/%s/tracks", playlistID))
		if err != nil {
			return fmt.Errorf("failed to add tracks to playlist %s: %w", playlistID, err)
		}
		if resp.IsError() {
			return &Error{StatusCode: resp.StatusCode(), Message: resp.String()}
		}
	}
	return nil
}

func (c *Client) RemoveTracks(ctx context.Context, playlistID string, trackIDs []string) error {
	for start := 0; start < len(trackIDs); start += constants.ProviderPageSize {
		end := start + constants.ProviderPageSize
		if end > len(trackIDs) {
			end = len(trackIDs)
		}

		resp, err := c.rest.R().
			SetContext(ctx).
			SetBody(map[string]interface{}{"ids": trackIDs[start:end]}).
			Delete(fmt.Sprintf("/playlists/%s/tracks", playlistID))
		if err != nil {
			return fmt.Errorf("failed to remove tracks from playlist %s: %w", playlistID, err)
		}
		if resp.IsError() {
			return &Error{StatusCode: resp.StatusCode(), Message: resp.String()}
		}
	}
	return nil
}

type searchResponse struct {
	Tracks struct {
		Items []struct {
			ID      string `json:"id"`
			Name    string `json:"name"`
			Artists []struct {
				Name string `json:"name"`
			} `json:"artists"`
		} `json:"items"`
	} `json:"tracks"`
}

// SearchTrack resolves (title, artist) to a provider track id. Only a
// result whose title and artist match under normalization is accepted;
// the resolved id gets persisted, so a near miss is worse than no match.
// No match is not an error.
func (c *Client) SearchTrack(ctx context.Context, title, artist, album string) (string, error) {
	query := fmt.Sprintf("track:%q artist:%q", title, artist)
	if album != "" {
		query += fmt.Sprintf(" album:%q", album)
	}

	var body searchResponse
	resp, err := c.rest.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"q":     query,
			"type":  "track",
			"limit": "5",
		}).
		SetResult(&body).
		Get("/search")
	if err != nil {
		return "", fmt.Errorf("track search failed: %w", err)
	}
	if resp.IsError() {
		return "", &Error{StatusCode: resp.StatusCode(), Message: resp.String()}
	}

	titleKey := domain.NormalizeKey(title)
	artistKey := domain.NormalizeKey(artist)
	for _, item := range body.Tracks.Items {
		if domain.NormalizeKey(item.Name) != titleKey {
			continue
		}
		for _, a := range item.Artists {
			if domain.NormalizeKey(a.Name) == artistKey {
				return item.ID, nil
			}
		}
	}
	return "", nil
}

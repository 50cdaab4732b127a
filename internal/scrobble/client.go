package scrobble

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/ossianwinter/replayd/internal/constants"
	"github.com/ossianwinter/replayd/internal/httpclient"
)

// RawEvent is one listening event after normalization. This is the only
// shape downstream code ever sees; the upstream's heterogeneous payloads
// stop at this boundary.
type RawEvent struct {
	Artist   string
	Album    string
	Track    string
	PlayedAt time.Time
	MBID     string
	URL      string
}

// Window bounds one fetch in played-at time, [Start, End).
type Window struct {
	Start time.Time
	End   time.Time
}

// Page is one fetched page of events. NextCursor is empty once the window
// is exhausted. Malformed counts events that could not be normalized.
type Page struct {
	Events     []RawEvent
	NextCursor string
	Malformed  int
}

// UserInfo describes the scrobble account, used to bound full-history
// syncs at the registration date.
type UserInfo struct {
	Name         string
	PlayCount    int64
	RegisteredAt time.Time
}

// Source is the event-source boundary consumed by the ingestion engine.
type Source interface {
	FetchPage(ctx context.Context, window Window, cursor string) (*Page, error)
	UserInfo(ctx context.Context) (*UserInfo, error)
}

// Client fetches listening history from an audioscrobbler-compatible API.
type Client struct {
	baseURL  string
	apiKey   string
	user     string
	pageSize int
	http     *httpclient.Client
}

func NewClient(baseURL, apiKey, user string, hc *httpclient.Client) *Client {
	if hc == nil {
		hc = httpclient.NewClient(nil, constants.DefaultRequestsPerSec)
	}
	return &Client{
		baseURL:  baseURL,
		apiKey:   apiKey,
		user:     user,
		pageSize: constants.DefaultPageSize,
		http:     hc,
	}
}

// FetchPage requests one page of events within the window. The cursor is
// the upstream page number; pass "" for the first page.
func (c *Client) FetchPage(ctx context.Context, window Window, cursor string) (*Page, error) {
	page := 1
	if cursor != "" {
		parsed, err := strconv.Atoi(cursor)
		if err != nil || parsed < 1 {
			return nil, fmt.Errorf("invalid cursor %q", cursor)
		}
		page = parsed
	}

	params := url.Values{
		"method": {"user.getrecenttracks"},
		"user":   {c.user},
		"limit":  {strconv.Itoa(c.pageSize)},
		"page":   {strconv.Itoa(page)},
		"from":   {strconv.FormatInt(window.Start.Unix(), 10)},
		"to":     {strconv.FormatInt(window.End.Unix(), 10)},
	}

	var body recentTracksResponse
	if err := c.get(ctx, params, &body); err != nil {
		return nil, err
	}
	if body.RecentTracks == nil {
		return nil, &APIError{Message: "response missing recenttracks"}
	}

	result := &Page{}
	for _, raw := range body.RecentTracks.Track {
		if raw.Attr != nil && raw.Attr.NowPlaying == "true" {
			continue // in-progress play, no timestamp yet
		}
		event, ok := normalize(raw)
		if !ok {
			result.Malformed++
			continue
		}
		result.Events = append(result.Events, event)
	}

	totalPages, _ := strconv.Atoi(body.RecentTracks.Attr.TotalPages)
	if page < totalPages {
		result.NextCursor = strconv.Itoa(page + 1)
	}
	return result, nil
}

// UserInfo fetches account metadata from the upstream.
func (c *Client) UserInfo(ctx context.Context) (*UserInfo, error) {
	params := url.Values{
		"method": {"user.getinfo"},
		"user":   {c.user},
	}

	var body userInfoResponse
	if err := c.get(ctx, params, &body); err != nil {
		return nil, err
	}
	if body.User == nil {
		return nil, &APIError{Message: "response missing user"}
	}

	playCount, _ := strconv.ParseInt(body.User.PlayCount, 10, 64)
	registered, err := strconv.ParseInt(body.User.Registered.UnixTime, 10, 64)
	if err != nil || registered <= 0 {
		return nil, &APIError{Message: "user info missing registration time"}
	}

	return &UserInfo{
		Name:         body.User.Name,
		PlayCount:    playCount,
		RegisteredAt: time.Unix(registered, 0).UTC(),
	}, nil
}

func (c *Client) get(ctx context.Context, params url.Values, out interface{}) error {
	params.Set("api_key", c.apiKey)
	params.Set("format", "json")

	req, err := http.NewRequest(http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(ctx, req)
	if err != nil {
		return fmt.Errorf("scrobble api request failed: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // deferred cleanup

	if resp.StatusCode == http.StatusTooManyRequests {
		return &APIError{
			StatusCode:  resp.StatusCode,
			Message:     "rate limited",
			RateLimited: true,
			RetryAfter:  httpclient.ParseRetryAfter(resp),
		}
	}
	if resp.StatusCode >= 400 {
		return &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	}

	// The upstream reports application errors inside a 200 body.
	var probe struct {
		Error   int    `json:"error"`
		Message string `json:"message"`
	}
	dec := json.NewDecoder(resp.Body)
	raw := json.RawMessage{}
	if err := dec.Decode(&raw); err != nil {
		return &APIError{StatusCode: resp.StatusCode, Message: fmt.Sprintf("malformed response body: %v", err)}
	}
	if err := json.Unmarshal(raw, &probe); err == nil && probe.Error != 0 {
		return &APIError{
			StatusCode:  resp.StatusCode,
			Code:        probe.Error,
			Message:     probe.Message,
			RateLimited: probe.Error == apiCodeRateLimited,
		}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &APIError{StatusCode: resp.StatusCode, Message: fmt.Sprintf("malformed response body: %v", err)}
	}
	return nil
}

// normalize maps one raw upstream entry to a RawEvent. ok is false when
// required fields are missing or unparseable.
func normalize(raw rawTrack) (RawEvent, bool) {
	if raw.Name == "" || raw.Artist.Value == "" || raw.Date == nil {
		return RawEvent{}, false
	}
	uts, err := strconv.ParseInt(raw.Date.UTS, 10, 64)
	if err != nil || uts <= 0 {
		return RawEvent{}, false
	}
	return RawEvent{
		Artist:   raw.Artist.Value,
		Album:    raw.Album.Value,
		Track:    raw.Name,
		PlayedAt: time.Unix(uts, 0).UTC(),
		MBID:     raw.MBID,
		URL:      raw.URL,
	}, true
}

type recentTracksResponse struct {
	RecentTracks *struct {
		Track trackList `json:"track"`
		Attr  struct {
			Page       string `json:"page"`
			TotalPages string `json:"totalPages"`
		} `json:"@attr"`
	} `json:"recenttracks"`
}

type userInfoResponse struct {
	User *struct {
		Name       string `json:"name"`
		PlayCount  string `json:"playcount"`
		Registered struct {
			UnixTime string `json:"unixtime"`
		} `json:"registered"`
	} `json:"user"`
}

type rawTrack struct {
	Name   string    `json:"name"`
	MBID   string    `json:"mbid"`
	URL    string    `json:"url"`
	Artist nameField `json:"artist"`
	Album  nameField `json:"album"`
	Date   *struct {
		UTS string `json:"uts"`
	} `json:"date"`
	Attr *struct {
		NowPlaying string `json:"nowplaying"`
	} `json:"@attr"`
}

// trackList tolerates the upstream collapsing a single-element list into
// a bare object.
type trackList []rawTrack

func (l *trackList) UnmarshalJSON(data []byte) error {
	var many []rawTrack
	if err := json.Unmarshal(data, &many); err == nil {
		*l = many
		return nil
	}
	var one rawTrack
	if err := json.Unmarshal(data, &one); err != nil {
		return err
	}
	*l = trackList{one}
	return nil
}

// nameField tolerates both {"#text": "..."} objects and plain strings.
type nameField struct {
	Value string
}

func (f *nameField) UnmarshalJSON(data []byte) error {
	var obj struct {
		Text string `json:"#text"`
		Name string `json:"name"`
	}
	if err := json.Unmarshal(data, &obj); err == nil {
		if obj.Text != "" {
			f.Value = obj.Text
		} else {
			f.Value = obj.Name
		}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	f.Value = s
	return nil
}

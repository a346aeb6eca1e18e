package news

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"github.com/vitos/options_signal_engine/internal/domain"
)

const NewsAPIURL = "https://newsapi.org"

const pageSize = 20

// NewsAPIClient fetches recent headlines from the NewsAPI "everything" endpoint.
type NewsAPIClient struct {
	apiKey  string
	baseURL string
	client  *http.Client
	cb      *gobreaker.CircuitBreaker
	timeNow func() time.Time
}

func NewNewsAPIClient(apiKey, baseURL string) *NewsAPIClient {
	if baseURL == "" {
		baseURL = NewsAPIURL
	}
	return &NewsAPIClient{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "newsapi",
			Timeout: time.Minute,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
		}),
		timeNow: time.Now,
	}
}

type articlesResponse struct {
	Status   string `json:"status"`
	Code     string `json:"code"`
	Message  string `json:"message"`
	Articles []struct {
		Source struct {
			Name string `json:"name"`
		} `json:"source"`
		Title       string    `json:"title"`
		Description string    `json:"description"`
		URL         string    `json:"url"`
		PublishedAt time.Time `json:"publishedAt"`
	} `json:"articles"`
}

func (c *NewsAPIClient) FetchHeadlines(ctx context.Context, symbol string, hoursBack int) ([]domain.NewsHeadline, error) {
	q := url.Values{}
	q.Set("q", symbol)
	q.Set("from", c.timeNow().UTC().Add(-time.Duration(hoursBack)*time.Hour).Format(time.RFC3339))
	q.Set("sortBy", "publishedAt")
	q.Set("language", "en")
	q.Set("pageSize", fmt.Sprint(pageSize))
	q.Set("apiKey", c.apiKey)

	res, err := c.cb.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v2/everything?"+q.Encode(), nil)
		if err != nil {
			return nil, err
		}
		resp, err := c.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}

		var parsed articlesResponse
		if err := json.Unmarshal(body, &parsed); err != nil {
			return nil, fmt.Errorf("newsapi: decode response (status %d): %w", resp.StatusCode, err)
		}
		if resp.StatusCode >= 400 || parsed.Status == "error" {
			return nil, fmt.Errorf("newsapi error %d: %s %s", resp.StatusCode, parsed.Code, parsed.Message)
		}
		return &parsed, nil
	})
	if err != nil {
		return nil, err
	}

	parsed := res.(*articlesResponse)
	headlines := make([]domain.NewsHeadline, 0, len(parsed.Articles))
	for _, a := range parsed.Articles {
		if a.Title == "" || a.Title == "[Removed]" {
			continue
		}
		headlines = append(headlines, domain.NewsHeadline{
			Headline:    a.Title,
			Description: a.Description,
			Source:      a.Source.Name,
			URL:         a.URL,
			PublishedAt: a.PublishedAt,
		})
	}
	return headlines, nil
}

// Package feed fetches country data from the restcountries.com feed.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultURL requests only the fields the reconciler maps
const DefaultURL = "https://restcountries.com/v3.1/all?fields=cca2,name,region,subregion,population,independent,currencies"

// DefaultTimeout bounds the whole request including reading the body
const DefaultTimeout = 30 * time.Second

// Fetcher retrieves the complete upstream dataset
type Fetcher interface {
	FetchAll(ctx context.Context) ([]Country, error)
}

// Client fetches the feed with a single GET and no retries
type Client struct {
	url        string
	httpClient *http.Client
}

// NewClient creates a feed client; a zero timeout selects DefaultTimeout
func NewClient(url string, timeout time.Duration) *Client {
	if url == "" {
		url = DefaultURL
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// URL returns the feed endpoint
func (c *Client) URL() string {
	return c.url
}

// FetchAll downloads and decodes the feed, preserving upstream order
func (c *Client) FetchAll(ctx context.Context) ([]Country, error) {
	logger := logrus.WithField("url", c.url)
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, &UpstreamError{URL: c.url, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "country_sync")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &UpstreamError{URL: c.url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &UpstreamError{
			URL:        c.url,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected status %s", resp.Status),
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &UpstreamError{URL: c.url, Err: fmt.Errorf("failed to read response body: %w", err)}
	}

	countries, err := Decode(body)
	if err != nil {
		return nil, &DecodeError{URL: c.url, Err: err}
	}

	logger.WithFields(logrus.Fields{
		"count":   len(countries),
		"bytes":   len(body),
		"elapsed": time.Since(start),
	}).Info("Fetched country feed")
	return countries, nil
}

// Decode parses a feed payload: a JSON array of country objects
func Decode(payload []byte) ([]Country, error) {
	var countries []Country
	if err := json.Unmarshal(payload, &countries); err != nil {
		return nil, err
	}
	if countries == nil {
		// "null" is not an array
		return nil, fmt.Errorf("expected a JSON array of countries")
	}
	for i, c := range countries {
		if err := c.validate(); err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
	}
	return countries, nil
}

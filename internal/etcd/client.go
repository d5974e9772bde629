// Package etcd publishes country sync run summaries to etcd.
package etcd

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/cybertec-postgresql/country_sync/internal/sync"
)

// statusKey is appended to the DSN prefix
const statusKey = "country_sync/last_run"

// Publisher writes the last run status under <prefix>/country_sync/last_run
type Publisher struct {
	client         *clientv3.Client
	key            string
	requestTimeout time.Duration
}

// NewPublisher creates an etcd client from a DSN of the form
// etcd://host1:port1[,host2:port2]/[prefix]?param=value
func NewPublisher(dsn string) (*Publisher, error) {
	config, err := parseEtcdDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse etcd DSN: %w", err)
	}

	client, err := clientv3.New(*config)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to etcd: %w", err)
	}

	logrus.WithField("endpoints", config.Endpoints).Info("Connected to etcd successfully")

	return &Publisher{
		client:         client,
		key:            StatusKey(dsn),
		requestTimeout: requestTimeout(dsn),
	}, nil
}

// Close closes the etcd client connection
func (p *Publisher) Close() error {
	if p.client != nil {
		return p.client.Close()
	}
	return nil
}

// Key returns the etcd key the status is written to
func (p *Publisher) Key() string {
	return p.key
}

// PublishRun implements sync.StatusPublisher
func (p *Publisher) PublishRun(ctx context.Context, status sync.RunStatus) error {
	payload, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("failed to encode run status: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.requestTimeout)
	defer cancel()
	resp, err := p.client.Put(ctx, p.key, string(payload))
	if err != nil {
		return fmt.Errorf("failed to put key %s: %w", p.key, err)
	}

	logrus.WithFields(logrus.Fields{
		"key":      p.key,
		"revision": resp.Header.Revision,
		"success":  status.Success,
	}).Debug("Published sync status to etcd")
	return nil
}

// LastRun reads back the most recently published status; nil when none exists
func (p *Publisher) LastRun(ctx context.Context) (*sync.RunStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, p.requestTimeout)
	defer cancel()
	resp, err := p.client.Get(ctx, p.key)
	if err != nil {
		return nil, fmt.Errorf("failed to get key %s: %w", p.key, err)
	}
	if len(resp.Kvs) == 0 {
		return nil, nil
	}

	var status sync.RunStatus
	if err := json.Unmarshal(resp.Kvs[0].Value, &status); err != nil {
		return nil, fmt.Errorf("failed to decode run status: %w", err)
	}
	return &status, nil
}

// parseEtcdDSN parses etcd DSN format: etcd://host1:port1[,host2:port2]/[prefix]?param=value
func parseEtcdDSN(dsn string) (*clientv3.Config, error) {
	if dsn == "" {
		return &clientv3.Config{
			Endpoints:   []string{"127.0.0.1:2379"},
			DialTimeout: 5 * time.Second,
		}, nil
	}

	if !strings.HasPrefix(dsn, "etcd://") {
		return nil, fmt.Errorf("etcd DSN must start with etcd://")
	}

	u, err := url.Parse("dummy://" + strings.TrimPrefix(dsn, "etcd://"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse DSN: %w", err)
	}

	endpoints := strings.Split(u.Host, ",")
	for i, endpoint := range endpoints {
		if !strings.Contains(endpoint, ":") {
			endpoints[i] = endpoint + ":2379" // Default etcd port
		}
	}

	config := &clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	}

	params := u.Query()
	if timeout := params.Get("dial_timeout"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			config.DialTimeout = d
		}
	}
	if username := params.Get("username"); username != "" {
		config.Username = username
	}
	if password := params.Get("password"); password != "" {
		config.Password = password
	}
	if params.Get("tls") == "enabled" {
		config.TLS = &tls.Config{
			InsecureSkipVerify: params.Get("tls_skip_verify") == "true",
		}
	}

	return config, nil
}

// requestTimeout reads request_timeout from the DSN, defaulting to 5s
func requestTimeout(dsn string) time.Duration {
	if u, err := url.Parse(dsn); err == nil {
		if d, err := time.ParseDuration(u.Query().Get("request_timeout")); err == nil && d > 0 {
			return d
		}
	}
	return 5 * time.Second
}

// GetPrefix extracts the prefix from the etcd DSN path
func GetPrefix(dsn string) string {
	if dsn == "" || !strings.HasPrefix(dsn, "etcd://") {
		return "/"
	}
	u, err := url.Parse(dsn)
	if err != nil || u.Path == "" {
		return "/"
	}
	return u.Path
}

// StatusKey returns the key the run status is stored under for dsn
func StatusKey(dsn string) string {
	return path.Join(GetPrefix(dsn), statusKey)
}

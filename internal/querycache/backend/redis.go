package backend

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	valkey "github.com/valkey-io/valkey-go"
)

const (
	payloadPrefix = "admindata:payload:"
	tagPrefix     = "admindata:tag:"
)

type RedisTLSConfig struct {
	Enabled bool
	CAFile  string
}

type RedisConfig struct {
	Address  string
	Username string
	Password string
	DB       int
	TLS      RedisTLSConfig
	// TTL applies to entries stored without an explicit expiry.
	TTL time.Duration
}

type redisStore struct {
	client valkey.Client
	ttl    time.Duration
}

// NewRedis connects to a Redis or Valkey server and verifies it with PING.
func NewRedis(cfg RedisConfig) (Store, error) {
	if cfg.Address == "" {
		return nil, errors.New("backend: redis address required")
	}

	option := valkey.ClientOption{
		InitAddress:       []string{cfg.Address},
		Username:          cfg.Username,
		Password:          cfg.Password,
		SelectDB:          cfg.DB,
		AlwaysRESP2:       true,
		ForceSingleClient: true,
		DisableCache:      true,
	}

	if cfg.TLS.Enabled {
		tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}
		if cfg.TLS.CAFile != "" {
			caData, err := os.ReadFile(cfg.TLS.CAFile)
			if err != nil {
				return nil, fmt.Errorf("backend: read redis ca file: %w", err)
			}
			pool := x509.NewCertPool()
			if !pool.AppendCertsFromPEM(caData) {
				return nil, errors.New("backend: redis ca file contains no certificates")
			}
			tlsConfig.RootCAs = pool
		}
		option.TLSConfig = tlsConfig
	}

	client, err := valkey.NewClient(option)
	if err != nil {
		return nil, fmt.Errorf("backend: redis client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("backend: redis ping: %w", err)
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &redisStore{client: client, ttl: ttl}, nil
}

func (r *redisStore) Lookup(ctx context.Context, key string) (Entry, bool, error) {
	resp := r.client.Do(ctx, r.client.B().Get().Key(payloadPrefix+key).Build())
	if err := resp.Error(); err != nil {
		if errors.Is(err, valkey.Nil) {
			return Entry{}, false, nil
		}
		return Entry{}, false, fmt.Errorf("backend: redis get: %w", err)
	}
	payload, err := resp.AsBytes()
	if err != nil {
		return Entry{}, false, fmt.Errorf("backend: redis get bytes: %w", err)
	}
	var entry Entry
	if err := json.Unmarshal(payload, &entry); err != nil {
		return Entry{}, false, fmt.Errorf("backend: redis unmarshal: %w", err)
	}
	return entry, true, nil
}

// Store writes the payload with a PX expiry and adds its key to each tag
// set. Every write resets the tag set expiry to the entry's, so with a
// uniform TTL a set never expires before its newest member.
func (r *redisStore) Store(ctx context.Context, key string, entry Entry) error {
	entry = stamp(entry, r.ttl)
	ttl := time.Until(entry.ExpiresAt)
	if ttl <= 0 {
		return nil
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("backend: redis marshal: %w", err)
	}

	cmds := valkey.Commands{
		r.client.B().Set().Key(payloadPrefix + key).Value(string(payload)).Px(ttl).Build(),
	}
	for _, tag := range entry.Tags {
		cmds = append(cmds,
			r.client.B().Sadd().Key(tagPrefix+tag).Member(key).Build(),
			r.client.B().Pexpire().Key(tagPrefix+tag).Milliseconds(ttl.Milliseconds()).Build(),
		)
	}
	for _, resp := range r.client.DoMulti(ctx, cmds...) {
		if err := resp.Error(); err != nil {
			return fmt.Errorf("backend: redis store: %w", err)
		}
	}
	return nil
}

func (r *redisStore) DeleteTags(ctx context.Context, tags ...string) (int, error) {
	removed := 0
	for _, tag := range tags {
		members, err := r.client.Do(ctx, r.client.B().Smembers().Key(tagPrefix+tag).Build()).AsStrSlice()
		if err != nil {
			return removed, fmt.Errorf("backend: redis smembers %s: %w", tag, err)
		}
		keys := make([]string, 0, len(members)+1)
		for _, member := range members {
			keys = append(keys, payloadPrefix+member)
		}
		keys = append(keys, tagPrefix+tag)
		n, err := r.client.Do(ctx, r.client.B().Del().Key(keys...).Build()).AsInt64()
		if err != nil {
			return removed, fmt.Errorf("backend: redis del %s: %w", tag, err)
		}
		// The tag set itself is one of the deleted keys when it existed.
		if len(members) > 0 {
			n--
		}
		removed += int(max(n, 0))
	}
	return removed, nil
}

// Size counts payload keys only; tag sets are excluded.
func (r *redisStore) Size(ctx context.Context) (int64, error) {
	var (
		cursor uint64
		total  int64
	)
	for {
		entry, err := r.client.Do(ctx, r.client.B().Scan().Cursor(cursor).Match(payloadPrefix+"*").Count(256).Build()).AsScanEntry()
		if err != nil {
			return 0, fmt.Errorf("backend: redis scan: %w", err)
		}
		total += int64(len(entry.Elements))
		cursor = entry.Cursor
		if cursor == 0 {
			return total, nil
		}
	}
}

func (r *redisStore) Close(context.Context) error {
	r.client.Close()
	return nil
}

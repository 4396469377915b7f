package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/soltixdb/gridcat/internal/models"
	clientv3 "go.etcd.io/etcd/client/v3"
)

// EtcdOptions configure an EtcdStore
type EtcdOptions struct {
	Endpoints   []string
	Prefix      string // Key prefix (default: /gridcat)
	DialTimeout time.Duration
	Username    string
	Password    string
}

// EtcdStore keeps state in etcd so several nodes can share one catalog
// definition. Layout under the prefix:
//
//	<prefix>/datasets/<position>  one JSON definition per key
//	<prefix>/initialized          present once definitions were saved
//	<prefix>/last_update          RFC 3339 timestamp
type EtcdStore struct {
	client *clientv3.Client
	prefix string
}

// NewEtcdStore connects to etcd
func NewEtcdStore(opts EtcdOptions) (*EtcdStore, error) {
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 5 * time.Second
	}
	client, err := clientv3.New(clientv3.Config{
		Endpoints:   opts.Endpoints,
		DialTimeout: opts.DialTimeout,
		Username:    opts.Username,
		Password:    opts.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to etcd: %w", err)
	}
	return newEtcdStoreWithClient(client, opts.Prefix), nil
}

func newEtcdStoreWithClient(client *clientv3.Client, prefix string) *EtcdStore {
	if prefix == "" {
		prefix = "/gridcat"
	}
	return &EtcdStore{client: client, prefix: path.Clean("/" + prefix)}
}

func (s *EtcdStore) datasetsPrefix() string { return path.Join(s.prefix, "datasets") + "/" }
func (s *EtcdStore) initializedKey() string { return path.Join(s.prefix, "initialized") }
func (s *EtcdStore) lastUpdateKey() string  { return path.Join(s.prefix, "last_update") }

// datasetKey zero-pads the position so keys sort in saved order
func (s *EtcdStore) datasetKey(i int) string {
	return s.datasetsPrefix() + fmt.Sprintf("%06d", i)
}

func (s *EtcdStore) LoadDefinitions(ctx context.Context) ([]models.DatasetDefinition, error) {
	resp, err := s.client.Txn(ctx).Then(
		clientv3.OpGet(s.initializedKey()),
		clientv3.OpGet(s.datasetsPrefix(), clientv3.WithPrefix()),
	).Commit()
	if err != nil {
		return nil, fmt.Errorf("failed to read definitions from etcd: %w", err)
	}
	if len(resp.Responses[0].GetResponseRange().Kvs) == 0 {
		return nil, ErrNoDefinitions
	}

	kvs := resp.Responses[1].GetResponseRange().Kvs
	sort.Slice(kvs, func(i, j int) bool { return string(kvs[i].Key) < string(kvs[j].Key) })

	defs := make([]models.DatasetDefinition, 0, len(kvs))
	for _, kv := range kvs {
		var def models.DatasetDefinition
		if err := json.Unmarshal(kv.Value, &def); err != nil {
			return nil, fmt.Errorf("failed to unmarshal definition %s: %w", kv.Key, err)
		}
		defs = append(defs, def)
	}
	return defs, nil
}

// SaveDefinitions replaces all definitions in a single transaction.
// Positions past the new length are deleted; etcd rejects a transaction
// whose delete range overlaps one of its puts.
func (s *EtcdStore) SaveDefinitions(ctx context.Context, defs []models.DatasetDefinition) error {
	ops := make([]clientv3.Op, 0, len(defs)+2)
	ops = append(ops,
		clientv3.OpDelete(s.datasetKey(len(defs)), clientv3.WithRange(clientv3.GetPrefixRangeEnd(s.datasetsPrefix()))),
		clientv3.OpPut(s.initializedKey(), strconv.Itoa(len(defs))),
	)
	for i, def := range defs {
		data, err := json.Marshal(def)
		if err != nil {
			return fmt.Errorf("failed to marshal definition %s: %w", def.ID, err)
		}
		ops = append(ops, clientv3.OpPut(s.datasetKey(i), string(data)))
	}

	if _, err := s.client.Txn(ctx).Then(ops...).Commit(); err != nil {
		return fmt.Errorf("failed to store definitions in etcd: %w", err)
	}
	return nil
}

func (s *EtcdStore) LastUpdateTime(ctx context.Context) (time.Time, error) {
	resp, err := s.client.Get(ctx, s.lastUpdateKey())
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to get last update time from etcd: %w", err)
	}
	if len(resp.Kvs) == 0 {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(string(resp.Kvs[0].Value)))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid last update time: %w", err)
	}
	return t, nil
}

func (s *EtcdStore) SetLastUpdateTime(ctx context.Context, t time.Time) error {
	if _, err := s.client.Put(ctx, s.lastUpdateKey(), t.UTC().Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("failed to store last update time in etcd: %w", err)
	}
	return nil
}

// Close closes the etcd client
func (s *EtcdStore) Close() error {
	return s.client.Close()
}

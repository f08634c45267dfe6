// Package kvnats implements config.KVStore on a NATS JetStream key/value bucket.
package kvnats

import (
	"context"
	"errors"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/carverauto/rclink/pkg/config"
)

// DefaultBucket is the bucket holding rclink configuration.
const DefaultBucket = "rclink-config"

const bucketTimeout = 5 * time.Second

// Client stores configuration in a JetStream key/value bucket.
type Client struct {
	nc     *nats.Conn
	kv     jetstream.KeyValue
	bucket string
}

var _ config.KVStore = (*Client)(nil)

// New opens bucket on nc, creating it if needed. Close closes nc.
func New(nc *nats.Conn, bucket string) (*Client, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, err
	}

	if bucket == "" {
		bucket = DefaultBucket
	}

	ctx, cancel := context.WithTimeout(context.Background(), bucketTimeout)
	defer cancel()

	kvStore, err := js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket: bucket,
	})
	if err != nil {
		return nil, err
	}

	return &Client{nc: nc, kv: kvStore, bucket: bucket}, nil
}

// NewFromKeyValue wraps an already opened bucket. Close is a no-op.
func NewFromKeyValue(kv jetstream.KeyValue) *Client {
	return &Client{kv: kv, bucket: kv.Bucket()}
}

// Bucket returns the bucket name.
func (c *Client) Bucket() string {
	return c.bucket
}

func (c *Client) Get(ctx context.Context, key string) ([]byte, bool, error) {
	entry, err := c.kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, false, nil
		}

		return nil, false, err
	}

	return entry.Value(), true, nil
}

func (c *Client) Put(ctx context.Context, key string, value []byte) error {
	_, err := c.kv.Put(ctx, key, value)

	return err
}

func (c *Client) Create(ctx context.Context, key string, value []byte) error {
	_, err := c.kv.Create(ctx, key, value)
	if errors.Is(err, jetstream.ErrKeyExists) {
		return config.ErrKeyExists
	}

	return err
}

func (c *Client) Delete(ctx context.Context, key string) error {
	return c.kv.Delete(ctx, key)
}

// Watch forwards updates of key. Deletes and purges are sent as nil.
func (c *Client) Watch(ctx context.Context, key string) (<-chan []byte, error) {
	watcher, err := c.kv.Watch(ctx, key)
	if err != nil {
		return nil, err
	}

	ch := make(chan []byte, 1)

	go func() {
		defer close(ch)
		defer func() { _ = watcher.Stop() }()

		for {
			select {
			case <-ctx.Done():
				return
			case update, ok := <-watcher.Updates():
				if !ok {
					return
				}

				// nil marks the end of the initial values
				if update == nil {
					continue
				}

				var value []byte

				if op := update.Operation(); op != jetstream.KeyValueDelete && op != jetstream.KeyValuePurge {
					value = update.Value()
				}

				select {
				case ch <- value:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return ch, nil
}

func (c *Client) Close() error {
	if c.nc != nil {
		c.nc.Close()
	}

	return nil
}

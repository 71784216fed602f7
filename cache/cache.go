package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Snapshot is the dashboard facing copy of a vehicle's current position.
type Snapshot struct {
	VehicleID uint      `json:"vehicleId"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Speed     float64   `json:"speed"`
	Heading   float64   `json:"heading"`
	Protocol  string    `json:"protocol"`
	FixAt     time.Time `json:"fixAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

/*
SnapshotCache keeps the latest applied position per vehicle in redis so
dashboard reads never hit the relational store. The client is injected,
there is no package level singleton.
*/
type SnapshotCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewSnapshotCache(redisUrl string, ttl time.Duration) (*SnapshotCache, error) {
	opt, err := redis.ParseURL(redisUrl)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL. %v", err)
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis. %v", err)
	}

	return &SnapshotCache{
		client: client,
		ttl:    ttl,
	}, nil
}

func (c *SnapshotCache) Close() error {
	return c.client.Close()
}

func snapshotKey(vehicleID uint) string {
	return fmt.Sprintf("vehicle:%d:position", vehicleID)
}

func (c *SnapshotCache) SetSnapshot(ctx context.Context, snapshot Snapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}

	return c.client.Set(ctx, snapshotKey(snapshot.VehicleID), data, c.ttl).Err()
}

func (c *SnapshotCache) GetSnapshot(ctx context.Context, vehicleID uint) (*Snapshot, error) {
	data, err := c.client.Get(ctx, snapshotKey(vehicleID)).Bytes()
	if err != nil {
		return nil, err
	}

	var snapshot Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, err
	}

	return &snapshot, nil
}

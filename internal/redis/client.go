package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

type Client struct {
	*redis.Client
}

func NewClient(redisURL string) (*Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &Client{client}, nil
}

func (c *Client) Close() error {
	return c.Client.Close()
}

// RoomChannel is the pubsub channel carrying broadcasts for one appointment room.
func RoomChannel(appointmentID string) string {
	return fmt.Sprintf("room:%s", appointmentID)
}

// SessionKey stores one guest session with its TTL.
func SessionKey(sessionID string) string {
	return fmt.Sprintf("session:%s", sessionID)
}

// SessionIndexKey is the set of live guest session ids, used for counting.
func SessionIndexKey() string {
	return "sessions:active"
}

// RateLimitKey stores one fixed-window counter.
func RateLimitKey(key string) string {
	return fmt.Sprintf("ratelimit:%s", key)
}

// LocationKey stores the latest location record of one connection.
func LocationKey(connID string) string {
	return fmt.Sprintf("location:%s", connID)
}

// AppointmentIndexKey is the set of connection ids with a location in one appointment.
func AppointmentIndexKey(appointmentID string) string {
	return fmt.Sprintf("location:appointment:%s", appointmentID)
}

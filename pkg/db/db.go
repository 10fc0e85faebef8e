package db

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
)

type Client struct {
	BoltDB *bbolt.DB
}

// DefaultOptions returns the bbolt options used for the segment catalog.
// The timeout keeps a second process from hanging on the file lock.
func DefaultOptions() *bbolt.Options {
	return &bbolt.Options{
		Timeout:      2 * time.Second,
		PageSize:     4 * 1024,
		NoGrowSync:   true,
		FreelistType: bbolt.FreelistArrayType,
	}
}

func Open(dbPath string) (*Client, error) {
	return OpenWithOptions(dbPath, DefaultOptions())
}

func OpenWithOptions(dbPath string, opts *bbolt.Options) (*Client, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := bbolt.Open(dbPath, 0o600, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", dbPath, err)
	}

	return &Client{BoltDB: db}, nil
}

func (c *Client) Close() error {
	return c.BoltDB.Close()
}

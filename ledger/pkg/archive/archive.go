package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/ethereum/go-ethereum/common"

	"github.com/malbeclabs/poolparty/ledger/pkg/pool"
)

var ErrNotFound = errors.New("snapshot not archived")

// S3API is the part of the S3 client the archive needs.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

type Config struct {
	Logger *slog.Logger
	Client S3API
	Bucket string
	Prefix string
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Client == nil {
		return errors.New("s3 client is required")
	}
	if cfg.Bucket == "" {
		return errors.New("bucket is required")
	}
	return nil
}

// Archive stores pool snapshots as JSON objects under
// <prefix>/<pool>/<seq>.json.
type Archive struct {
	log *slog.Logger
	cfg Config
}

func New(cfg Config) (*Archive, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Archive{log: cfg.Logger, cfg: cfg}, nil
}

// Key returns the object key of a snapshot. Sequence numbers are zero padded
// so keys sort in sequence order.
func (a *Archive) Key(poolAddr common.Address, seq uint64) string {
	return path.Join(a.cfg.Prefix, poolAddr.Hex(), fmt.Sprintf("%020d.json", seq))
}

// Put uploads snap and returns its key.
func (a *Archive) Put(ctx context.Context, snap pool.Snapshot) (string, error) {
	body, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	key := a.Key(snap.Pool, snap.Seq)
	_, err = a.cfg.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.cfg.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
		Metadata: map[string]string{
			"pool":  snap.Pool.Hex(),
			"state": snap.State,
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload snapshot %s: %w", key, err)
	}

	a.log.Info("archive: uploaded snapshot", "bucket", a.cfg.Bucket, "key", key, "bytes", len(body))
	return key, nil
}

// Get downloads the snapshot of a pool at seq.
func (a *Archive) Get(ctx context.Context, poolAddr common.Address, seq uint64) (pool.Snapshot, error) {
	key := a.Key(poolAddr, seq)
	out, err := a.cfg.Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return pool.Snapshot{}, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return pool.Snapshot{}, fmt.Errorf("failed to download snapshot %s: %w", key, err)
	}
	defer out.Body.Close()

	body, err := io.ReadAll(out.Body)
	if err != nil {
		return pool.Snapshot{}, fmt.Errorf("failed to read snapshot %s: %w", key, err)
	}
	var snap pool.Snapshot
	if err := json.Unmarshal(body, &snap); err != nil {
		return pool.Snapshot{}, fmt.Errorf("failed to unmarshal snapshot %s: %w", key, err)
	}
	return snap, nil
}

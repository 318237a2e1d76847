package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/malbeclabs/poolparty/ledger/pkg/pool"
	pptesting "github.com/malbeclabs/poolparty/utils/pkg/testing"
)

type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	meta    map[string]map[string]string
	putErr  error
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string][]byte), meta: make(map[string]map[string]string)}
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	key := aws.ToString(in.Bucket) + "/" + aws.ToString(in.Key)
	f.objects[key] = body
	f.meta[key] = in.Metadata
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	body, ok := f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(body))}, nil
}

func addr(n int) common.Address {
	return common.HexToAddress(fmt.Sprintf("0x%040x", n))
}

func testSnapshot() pool.Snapshot {
	return pool.Snapshot{
		Pool:            addr(0xc0),
		Seq:             42,
		TakenAt:         time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		Admins:          []common.Address{addr(0xa0)},
		Payee:           addr(0xb0),
		FeeRecipient:    addr(0xa0),
		State:           "closed",
		MaxAllocation:   "1000",
		MinContribution: "0",
		MaxContribution: "1000",
		TotalRaised:     "400",
		Participants: []pool.ParticipantSnapshot{
			{Address: addr(1), Contributed: "300", RefundedAmount: "0"},
			{Address: addr(2), Contributed: "100", RefundedAmount: "0"},
		},
		Tokens:      []common.Address{addr(0x70)},
		Claims:      []pool.ClaimSnapshot{{Token: addr(0x70), Address: addr(1), Amount: "3000"}},
		Distributed: map[common.Address]string{addr(0x70): "3000"},
	}
}

func TestPoolParty_Archive(t *testing.T) {
	t.Parallel()

	t.Run("config validation", func(t *testing.T) {
		t.Parallel()
		_, err := New(Config{Client: newFakeS3(), Bucket: "b"})
		require.ErrorContains(t, err, "logger is required")
		_, err = New(Config{Logger: pptesting.NewLogger(), Bucket: "b"})
		require.ErrorContains(t, err, "s3 client is required")
		_, err = New(Config{Logger: pptesting.NewLogger(), Client: newFakeS3()})
		require.ErrorContains(t, err, "bucket is required")
	})

	t.Run("keys sort by sequence", func(t *testing.T) {
		t.Parallel()
		a, err := New(Config{Logger: pptesting.NewLogger(), Client: newFakeS3(), Bucket: "b", Prefix: "snapshots"})
		require.NoError(t, err)
		require.Equal(t, "snapshots/"+addr(0xc0).Hex()+"/00000000000000000042.json", a.Key(addr(0xc0), 42))
		require.Less(t, a.Key(addr(0xc0), 9), a.Key(addr(0xc0), 10))

		noPrefix, err := New(Config{Logger: pptesting.NewLogger(), Client: newFakeS3(), Bucket: "b"})
		require.NoError(t, err)
		require.Equal(t, addr(0xc0).Hex()+"/00000000000000000001.json", noPrefix.Key(addr(0xc0), 1))
	})

	t.Run("put and get", func(t *testing.T) {
		t.Parallel()
		fake := newFakeS3()
		a, err := New(Config{Logger: pptesting.NewLogger(), Client: fake, Bucket: "ledger", Prefix: "snapshots"})
		require.NoError(t, err)

		snap := testSnapshot()
		key, err := a.Put(t.Context(), snap)
		require.NoError(t, err)
		require.Equal(t, a.Key(snap.Pool, snap.Seq), key)
		require.Equal(t, map[string]string{"pool": snap.Pool.Hex(), "state": "closed"}, fake.meta["ledger/"+key])

		var stored pool.Snapshot
		require.NoError(t, json.Unmarshal(fake.objects["ledger/"+key], &stored))
		require.Equal(t, snap, stored)

		got, err := a.Get(t.Context(), snap.Pool, snap.Seq)
		require.NoError(t, err)
		require.Equal(t, snap, got)
	})

	t.Run("missing snapshot", func(t *testing.T) {
		t.Parallel()
		a, err := New(Config{Logger: pptesting.NewLogger(), Client: newFakeS3(), Bucket: "ledger"})
		require.NoError(t, err)
		_, err = a.Get(t.Context(), addr(0xc0), 7)
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("upload failure", func(t *testing.T) {
		t.Parallel()
		fake := newFakeS3()
		fake.putErr = errors.New("access denied")
		a, err := New(Config{Logger: pptesting.NewLogger(), Client: fake, Bucket: "ledger"})
		require.NoError(t, err)
		_, err = a.Put(t.Context(), testSnapshot())
		require.ErrorContains(t, err, "access denied")
	})
}

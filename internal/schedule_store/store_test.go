package schedule_store

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	d, err := s.LastFiredDate(ctx, "daily_reboot")
	require.NoError(t, err)
	assert.Empty(t, d)

	require.NoError(t, s.SetLastFiredDate(ctx, "daily_reboot", "2026-03-01"))
	require.NoError(t, s.SetLastFiredDate(ctx, "other", "2026-02-28"))
	require.NoError(t, s.SetLastFiredDate(ctx, "daily_reboot", "2026-03-02"))

	d, err = s.LastFiredDate(ctx, "daily_reboot")
	require.NoError(t, err)
	assert.Equal(t, "2026-03-02", d)
	d, err = s.LastFiredDate(ctx, "other")
	require.NoError(t, err)
	assert.Equal(t, "2026-02-28", d)
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestFileStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "schedule_state.json")
	exerciseStore(t, NewFileStore(path))

	// A fresh store on the same file sees what the previous process wrote.
	d, err := NewFileStore(path).LastFiredDate(context.Background(), "daily_reboot")
	require.NoError(t, err)
	assert.Equal(t, "2026-03-02", d)
}

func TestFileStore_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))
	_, err := NewFileStore(path).LastFiredDate(context.Background(), "x")
	assert.Error(t, err)
}

func TestDateOf(t *testing.T) {
	loc := time.FixedZone("UTC+7", 7*3600)
	assert.Equal(t, "2026-03-02", DateOf(time.Date(2026, 3, 2, 1, 0, 0, 0, loc)))
}

type fakeObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (f *fakeObjects) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(b))}, nil
}

func (f *fakeObjects) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	b, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)] = b
	return &s3.PutObjectOutput{}, nil
}

func TestS3Store(t *testing.T) {
	objects := &fakeObjects{objects: map[string][]byte{}}
	s := NewS3Store(objects, "relays", "state", "ctrl-1")
	assert.Equal(t, "state/ctrl-1/schedule_state.json", s.Key())
	exerciseStore(t, s)
	assert.Contains(t, objects.objects, "relays/state/ctrl-1/schedule_state.json")
}

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_DSN not set")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	defer pool.Close()

	s := NewPostgresStore(pool, "test-"+time.Now().Format("150405.000000"))
	require.NoError(t, s.EnsureSchema(ctx))
	exerciseStore(t, s)
}

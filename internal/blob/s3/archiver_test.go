package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/dake/internal/domain"
)

type memBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemBlobs() *memBlobs { return &memBlobs{objects: make(map[string][]byte)} }

func (m *memBlobs) Put(_ context.Context, path string, data io.Reader, _ string) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[path] = b
	return nil
}

func (m *memBlobs) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	return m.Put(ctx, path, data, "")
}

// keys returns the stored object keys under prefix, sorted.
func (m *memBlobs) keys(prefix string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for k := range m.objects {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

func (m *memBlobs) Exists(_ context.Context, path string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[path]
	return ok, nil
}

type fakeSource struct {
	markets   []domain.Market
	positions map[common.Address][]domain.Position
}

func (f *fakeSource) ListMarkets(_ context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	var out []domain.Market
	for _, m := range f.markets {
		if opts.Status == "" || m.Status == opts.Status {
			out = append(out, m)
		}
	}
	if opts.Offset >= len(out) {
		return nil, nil
	}
	return out[opts.Offset:], nil
}

func (f *fakeSource) ListPositions(_ context.Context, market common.Address) ([]domain.Position, error) {
	return f.positions[market], nil
}

type auditRecorder struct {
	events  []string
	details []map[string]any
}

func (a *auditRecorder) Log(_ context.Context, event string, detail map[string]any) error {
	a.events = append(a.events, event)
	a.details = append(a.details, detail)
	return nil
}

func (a *auditRecorder) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

type countingLock struct{ acquired, released int }

func (l *countingLock) Acquire(context.Context, string, time.Duration) (func(), error) {
	l.acquired++
	return func() { l.released++ }, nil
}

func fixture() *fakeSource {
	resolved := common.HexToAddress("0x01")
	open := common.HexToAddress("0x02")
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return &fakeSource{
		markets: []domain.Market{
			{Address: resolved, MarketID: 7, Question: "q?", Status: domain.MarketStatusResolvedYes,
				Accounting: domain.AccountingPool, TotalYesAmount: 100, TotalNoAmount: 300, ParticipantCount: 2, CreatedAt: now, ResolvedAt: &now},
			{Address: open, MarketID: 8, Status: domain.MarketStatusOpen, CreatedAt: now},
		},
		positions: map[common.Address][]domain.Position{
			resolved: {
				{Address: common.HexToAddress("0xa1"), Market: resolved, Owner: common.HexToAddress("0xb1"), Amount: 100, Claimed: true, PaidOut: 400, CreatedAt: now},
				{Address: common.HexToAddress("0xa2"), Market: resolved, Owner: common.HexToAddress("0xb2"), Amount: 300, CreatedAt: now},
			},
		},
	}
}

func readRecords(t *testing.T, data []byte) []settlementRecord {
	t.Helper()
	var records []settlementRecord
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		var r settlementRecord
		require.NoError(t, json.Unmarshal(sc.Bytes(), &r))
		records = append(records, r)
	}
	require.NoError(t, sc.Err())
	return records
}

func TestArchiveResolvedWritesOncePerState(t *testing.T) {
	ctx := context.Background()
	blobs := newMemBlobs()
	audit := &auditRecorder{}
	lock := &countingLock{}
	src := fixture()
	a := NewArchiver(blobs, src, "dake/archive", nil, WithAudit(audit), WithLock(lock))

	n, err := a.ArchiveResolved(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{domain.EventMarketArchived}, audit.events)
	assert.Equal(t, 1, lock.acquired)
	assert.Equal(t, 1, lock.released)

	dir := "dake/archive/markets/7/" + src.markets[0].Address.Hex() + "/"
	keys := blobs.keys(dir)
	require.Len(t, keys, 1)
	assert.True(t, strings.HasPrefix(keys[0], dir+"000001-"), keys[0])
	assert.True(t, strings.HasSuffix(keys[0], ".jsonl"), keys[0])

	records := readRecords(t, blobs.objects[keys[0]])
	require.Len(t, records, 3)
	assert.Equal(t, "market", records[0].Kind)
	assert.Equal(t, uint64(300), records[0].TotalNo)
	assert.Equal(t, "position", records[1].Kind)
	assert.Equal(t, uint64(400), records[1].PaidOut)
	assert.True(t, records[1].Claimed)

	n, err = a.ArchiveResolved(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Len(t, audit.events, 1)
}

func TestArchiveMarketRejectsUnresolved(t *testing.T) {
	src := fixture()
	a := NewArchiver(newMemBlobs(), src, "x", nil)
	_, err := a.ArchiveMarket(context.Background(), src.markets[1])
	require.ErrorIs(t, err, domain.ErrMarketNotResolved)
}

func TestNormaliseEndpoint(t *testing.T) {
	assert.Equal(t, "https://s3.example.com", normaliseEndpoint("s3.example.com", true))
	assert.Equal(t, "http://minio.internal", normaliseEndpoint("minio.internal", false))
	assert.Equal(t, "http://already", normaliseEndpoint("http://already", true))
}

func TestArchiveResolvedExportsLaterClaims(t *testing.T) {
	ctx := context.Background()
	blobs := newMemBlobs()
	audit := &auditRecorder{}
	src := fixture()
	market := src.markets[0].Address
	a := NewArchiver(blobs, src, "dake/archive", nil, WithAudit(audit))

	n, err := a.ArchiveResolved(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	claimedAt := time.Date(2026, 1, 3, 0, 0, 0, 0, time.UTC)
	p := &src.positions[market][1]
	p.Claimed, p.PaidOut, p.ClaimedAt = true, 400, &claimedAt

	n, err = a.ArchiveResolved(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	keys := blobs.keys("dake/archive/markets/7/" + market.Hex() + "/")
	require.Len(t, keys, 2)
	assert.Contains(t, keys[1], "/000002-")

	latest := readRecords(t, blobs.objects[keys[1]])
	require.Len(t, latest, 3)
	assert.True(t, latest[2].Claimed)
	assert.Equal(t, uint64(400), latest[2].PaidOut)
	require.NotNil(t, latest[2].SettledAt)
	assert.Equal(t, claimedAt, latest[2].SettledAt.UTC())

	require.Len(t, audit.details, 2)
	assert.EqualValues(t, 400, audit.details[0]["paid_out"])
	assert.EqualValues(t, 800, audit.details[1]["paid_out"])
	assert.EqualValues(t, 2, audit.details[1]["claimed"])

	n, err = a.ArchiveResolved(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/go-faster/errors"
	"github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/pos-rewards/internal/domain/coupon"
	"github.com/xenking/pos-rewards/internal/domain/discount"
)

type recordingUpserter struct {
	mu      sync.Mutex
	coupons map[string]*coupon.Coupon
	failOn  string
}

func (r *recordingUpserter) Upsert(_ context.Context, c *coupon.Coupon) error {
	if c.Code == r.failOn {
		return errors.New("unique violation")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.coupons == nil {
		r.coupons = map[string]*coupon.Coupon{}
	}
	r.coupons[c.Code] = c
	return nil
}

func writeGzip(t *testing.T, name string, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	f, err := os.Create(path)
	require.NoError(t, err)
	gz := pgzip.NewWriter(f)
	_, err = gz.Write([]byte(strings.Join(lines, "\n") + "\n"))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	require.NoError(t, f.Close())
	return path
}

func TestImportCoupons(t *testing.T) {
	first := writeGzip(t, "a.jsonl.gz",
		`{"code":"save10","description":"first","type":"percentage","value":10}`,
		`{"code":"FLAT50","type":"flat","value":"50","min_order_amount":200}`,
		``,
		`{"code":"BROKEN",`,
		`{"code":"TOOMUCH","type":"percentage","value":150}`,
	)
	second := writeGzip(t, "b.jsonl.gz",
		`{"code":"SAVE10","description":"second","type":"percentage","value":20}`,
		`{"code":"CHAI","type":"bogo","bogo":{"buy_item_id":"chai","get_item_id":"chai"},"valid_until":"2030-01-01T00:00:00Z"}`,
	)

	repo := &recordingUpserter{}
	rep, err := importCoupons(context.Background(), []string{first, second}, repo, options{workers: 2, expected: 100})
	require.NoError(t, err)

	assert.Equal(t, 6, rep.lines)
	assert.Equal(t, 3, rep.written)
	assert.Equal(t, 2, rep.invalid)
	assert.Equal(t, 1, rep.duplicates)

	require.Len(t, repo.coupons, 3)
	assert.Equal(t, "first", repo.coupons["SAVE10"].Description)
	assert.Equal(t, coupon.StatusActive, repo.coupons["SAVE10"].Status)

	flat := repo.coupons["FLAT50"]
	require.NotNil(t, flat.MinOrderAmount)
	assert.True(t, decimal.NewFromInt(200).Equal(*flat.MinOrderAmount))
	assert.True(t, decimal.NewFromInt(50).Equal(flat.Value))

	chai := repo.coupons["CHAI"]
	require.NotNil(t, chai.Bogo)
	assert.Equal(t, discount.TypeBogo, chai.Type)
	assert.Equal(t, "chai", chai.Bogo.GetItemID)
	require.NotNil(t, chai.ValidUntil)
	assert.Equal(t, 2030, chai.ValidUntil.Year())
}

func TestImportCoupons_UpsertFailure(t *testing.T) {
	path := writeGzip(t, "a.jsonl.gz",
		`{"code":"OK1","type":"flat","value":10}`,
		`{"code":"BAD","type":"flat","value":10}`,
	)
	_, err := importCoupons(context.Background(), []string{path}, &recordingUpserter{failOn: "BAD"}, options{workers: 1, expected: 10})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upsert BAD")
}

func TestImportCoupons_MissingFile(t *testing.T) {
	_, err := importCoupons(context.Background(), []string{filepath.Join(t.TempDir(), "nope.gz")}, discardUpserter{}, options{})
	require.Error(t, err)
}

func TestScreenDuplicates(t *testing.T) {
	path := writeGzip(t, "a.jsonl.gz",
		`{"code":"A1"}`,
		`{"code":" a1 "}`,
		`{"code":"B2"}`,
		`{"code":""}`,
		`not json`,
	)
	candidates, err := screenDuplicates(context.Background(), []string{path}, 1000)
	require.NoError(t, err)
	assert.Contains(t, candidates, "A1")
	assert.NotContains(t, candidates, "")
}

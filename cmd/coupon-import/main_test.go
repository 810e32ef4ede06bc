package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/domain/paging"
	"github.com/xenking/storefront/internal/storage/memory"
)

func writeGz(t *testing.T, dir, name string, lines ...string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)
	defer func() { require.NoError(t, f.Close()) }()

	gz := pgzip.NewWriter(f)
	_, err = gz.Write([]byte(strings.Join(lines, "\n") + "\n"))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	return path
}

func TestRun(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewCoupons()
	ledger, err := coupon.NewLedger(repo)
	require.NoError(t, err)

	_, err = ledger.Create(ctx, coupon.Definition{
		Code:          "EXISTING",
		Name:          "Existing",
		DiscountType:  coupon.DiscountFixedAmount,
		DiscountValue: decimal.NewFromInt(5000),
	}, "admin")
	require.NoError(t, err)

	dir := t.TempDir()
	files := []string{
		writeGz(t, dir, "a.ndjson.gz",
			`{"code":"save10","name":"Save 10","discountType":"percentage","discountValue":"10"}`,
			``,
			`{"code":"FLAT5","name":"Flat","discountType":"fixed_amount","discountValue":"5000"}`,
			`not json`,
		),
		writeGz(t, dir, "b.ndjson.gz",
			`{"code":"SAVE10","name":"Save 10 again","discountType":"percentage","discountValue":"10"}`,
			`{"code":"existing","name":"Existing","discountType":"fixed_amount","discountValue":"5000"}`,
			`{"code":"TOOMUCH","name":"Too much","discountType":"percentage","discountValue":"150"}`,
		),
	}

	var st stats
	require.NoError(t, run(ctx, ledger, files, "importer", 3, &st))

	assert.Equal(t, int64(2), st.created.Load())
	assert.Equal(t, int64(1), st.skipped.Load())
	assert.Equal(t, int64(1), st.duplicate.Load())
	assert.Equal(t, int64(2), st.invalid.Load())

	got, err := ledger.Get(ctx, mustFind(t, repo, "SAVE10").ID)
	require.NoError(t, err)
	assert.Equal(t, "importer", got.CreatedBy)

	_, info, err := ledger.List(ctx, coupon.ListFilter{Page: paging.Request{Page: 1, Limit: 10}})
	require.NoError(t, err)
	assert.Equal(t, int64(3), info.Total)
}

func TestRunMissingFile(t *testing.T) {
	ledger, err := coupon.NewLedger(memory.NewCoupons())
	require.NoError(t, err)

	var st stats
	err = run(context.Background(), ledger, []string{filepath.Join(t.TempDir(), "missing.gz")}, "importer", 2, &st)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "open")
}

func TestDedupe(t *testing.T) {
	d := newDedupe(1000, 0.001)
	for _, code := range []string{"A", "B", "A", "C", "B", "B"} {
		d.observe(code)
	}
	assert.Equal(t, 2, d.candidateCount())

	tests := []struct {
		code string
		want bool
	}{
		{code: "A", want: true},
		{code: "A", want: false},
		{code: "B", want: true},
		{code: "B", want: false},
		{code: "B", want: false},
		{code: "C", want: true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, d.admit(tt.code), tt.code)
	}
}

func TestDedupeTracksOnlyRepeatedCodes(t *testing.T) {
	const n = 10_000
	d := newDedupe(n, 0.001)
	for i := range n {
		d.observe(fmt.Sprintf("CODE%05d", i))
	}
	d.observe("CODE00042")

	// Unique codes leave no exact entry behind; only the repeat and the
	// occasional false positive do.
	assert.Less(t, d.candidateCount(), 50)
	assert.True(t, d.admit("CODE00042"))
	assert.False(t, d.admit("CODE00042"))
	assert.True(t, d.admit("CODE09999"))
}

func TestScanCodesIgnoresMalformedLines(t *testing.T) {
	dir := t.TempDir()
	files := []string{
		writeGz(t, dir, "a.ndjson.gz", `{"code":"dup1"}`, `not json`),
		writeGz(t, dir, "b.ndjson.gz", `{"code":"DUP1"}`, `{"code":"solo"}`),
	}
	d := newDedupe(1000, 0.001)
	require.NoError(t, scanCodes(context.Background(), files, d))
	assert.Equal(t, 1, d.candidateCount())
	assert.True(t, d.admit("DUP1"))
	assert.False(t, d.admit("DUP1"))
}

func mustFind(t *testing.T, repo *memory.Coupons, code string) *coupon.Coupon {
	t.Helper()
	c, err := repo.FindByCode(context.Background(), code)
	require.NoError(t, err)
	return c
}

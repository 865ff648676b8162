package guardian_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shpitdev/leadsync/internal/clock"
	"github.com/shpitdev/leadsync/internal/fingerprint"
	"github.com/shpitdev/leadsync/internal/guardian"
	"github.com/shpitdev/leadsync/internal/registry"
	"github.com/shpitdev/leadsync/internal/safeop"
	"github.com/shpitdev/leadsync/internal/store"
	"github.com/shpitdev/leadsync/internal/store/memstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	store *memstore.Store
	reg   *registry.Registry
	clk   *clock.Fake
	g     *guardian.Guardian
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	clk := clock.NewFake(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	st := memstore.New()
	reg := registry.Open("", clk, nil)
	ex := safeop.New(safeop.Options{MaxAttempts: 2, FlatBackoff: time.Second, Clock: clk})
	g := guardian.New(guardian.Options{
		Store:       st,
		Executor:    ex,
		Registry:    reg,
		Clock:       clk,
		SettleDelay: 3 * time.Second,
	})
	return fixture{store: st, reg: reg, clk: clk, g: g}
}

var cafeX = store.WorkItem{Row: 2, Name: "Cafe X", Contact: "09876543210", URL: "http://cafex.test"}

func TestPreCheckClear(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	chk, err := f.g.PreCheck(context.Background(), cafeX)
	require.NoError(t, err)
	assert.False(t, chk.Duplicate)
	assert.Equal(t, fingerprint.Key("phone:9876543210"), chk.Key)
	assert.Equal(t, 1, f.store.Calls("ReadResults"))
}

func TestPreCheckRegistryHitSkipsRemoteRead(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	require.NoError(t, f.reg.Add("phone:9876543210", "Cafe X", "9876543210"))

	chk, err := f.g.PreCheck(context.Background(), cafeX)
	require.NoError(t, err)
	assert.True(t, chk.Duplicate)
	assert.Equal(t, guardian.SourceRegistry, chk.Source)
	assert.Zero(t, f.store.Calls("ReadResults"))
}

func TestPreCheckStoreHitBackfillsRegistry(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.store.AddResult(store.ResultRecord{Name: "Cafe X (Indiranagar)", NormalizedContact: "9876543210"})

	chk, err := f.g.PreCheck(context.Background(), cafeX)
	require.NoError(t, err)
	assert.True(t, chk.Duplicate)
	assert.Equal(t, guardian.SourceStore, chk.Source)
	assert.True(t, f.reg.Contains(chk.Key))
}

func TestStoredPhoneWithLeadingZeroStillMatches(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	item := store.WorkItem{Row: 2, Name: "Cafe Y", Contact: "00987654321", URL: "http://cafey.test"}
	key := fingerprint.Compute(item.Name, item.Contact)
	require.Equal(t, fingerprint.Key("phone:0987654321"), key)
	f.store.AddResult(store.ResultRecord{Name: "Cafe Y", NormalizedContact: key.Phone()})

	v, err := f.g.Verify(context.Background(), item, key)
	require.NoError(t, err)
	assert.Equal(t, guardian.VerifyConfirmed, v.Status)

	fresh := newFixture(t)
	fresh.store.AddResult(store.ResultRecord{Name: "Cafe Y", NormalizedContact: "0987654321"})
	chk, err := fresh.g.PreCheck(context.Background(), item)
	require.NoError(t, err)
	assert.True(t, chk.Duplicate)
	assert.Equal(t, guardian.SourceStore, chk.Source)
}

func TestPreCheckNameFallback(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.store.AddResult(store.ResultRecord{Name: "CAFE  x!"})

	chk, err := f.g.PreCheck(context.Background(), store.WorkItem{Row: 3, Name: "Cafe X", Contact: "Not Found"})
	require.NoError(t, err)
	assert.True(t, chk.Duplicate)
	assert.Equal(t, fingerprint.Key("name:cafe x"), chk.Key)
}

func TestPreCheckWithoutFingerprint(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	chk, err := f.g.PreCheck(context.Background(), store.WorkItem{Row: 4, Name: "???", Contact: "n/a"})
	require.NoError(t, err)
	assert.False(t, chk.Duplicate)
	assert.True(t, chk.Key.IsZero())
	assert.Zero(t, f.store.Calls("ReadResults"))
}

func TestPreCheckScanNeverCached(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	for i := 0; i < 3; i++ {
		_, err := f.g.PreCheck(context.Background(), cafeX)
		require.NoError(t, err)
	}
	assert.Equal(t, 3, f.store.Calls("ReadResults"))
}

func TestRecheckSeesOutOfBandWrite(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	key := fingerprint.Compute(cafeX.Name, cafeX.Contact)

	dup, err := f.g.Recheck(context.Background(), key)
	require.NoError(t, err)
	assert.False(t, dup)

	f.store.AddResult(store.ResultRecord{Name: "Cafe X", NormalizedContact: "9876543210"})
	dup, err = f.g.Recheck(context.Background(), key)
	require.NoError(t, err)
	assert.True(t, dup)
}

func TestVerifyConfirmed(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	key := fingerprint.Compute(cafeX.Name, cafeX.Contact)
	f.store.AddResult(store.ResultRecord{Name: "Other", NormalizedContact: "1111111111"})
	f.store.AddResult(store.ResultRecord{Name: "Cafe X", NormalizedContact: "9876543210"})

	v, err := f.g.Verify(context.Background(), cafeX, key)
	require.NoError(t, err)
	assert.Equal(t, guardian.VerifyConfirmed, v.Status)
	assert.Equal(t, 3, v.KeptRow)
	assert.True(t, f.reg.Contains(key))
	assert.Equal(t, []time.Duration{3 * time.Second}, f.clk.Sleeps())
}

func TestVerifySelfHealKeepsEarliest(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	key := fingerprint.Compute(cafeX.Name, cafeX.Contact)
	f.store.AddResult(store.ResultRecord{Name: "Cafe X", AnalysisText: "first", NormalizedContact: "9876543210"})
	f.store.AddResult(store.ResultRecord{Name: "Unrelated", NormalizedContact: "2222222222"})
	f.store.AddResult(store.ResultRecord{Name: "Cafe X", AnalysisText: "second", NormalizedContact: "9876543210"})
	f.store.AddResult(store.ResultRecord{Name: "cafe x", AnalysisText: "third", NormalizedContact: "9876543210"})

	v, err := f.g.Verify(context.Background(), cafeX, key)
	require.NoError(t, err)
	assert.Equal(t, guardian.VerifySelfHealed, v.Status)
	assert.Equal(t, 3, v.Matches)
	assert.Equal(t, 2, v.KeptRow)
	assert.Equal(t, []int{4, 5}, v.Deleted)

	rows := f.store.Results()
	require.Len(t, rows, 2)
	assert.Equal(t, "first", rows[0].AnalysisText)
	assert.Equal(t, "Unrelated", rows[1].Name)
	assert.True(t, f.reg.Contains(key))
}

func TestVerifyMissingIsCatastrophic(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	key := fingerprint.Compute(cafeX.Name, cafeX.Contact)

	v, err := f.g.Verify(context.Background(), cafeX, key)
	var verr *guardian.VerificationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, key, verr.Key)
	assert.Equal(t, guardian.VerifyMissing, v.Status)
	assert.False(t, f.reg.Contains(key))
	assert.Zero(t, f.store.Calls("DeleteResultRows"))
}

func TestVerifyScanExhaustion(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	boom := errors.New("unavailable")
	f.store.FailNext("ReadResults", boom, boom)

	_, err := f.g.Verify(context.Background(), cafeX, "phone:9876543210")
	var exhausted *safeop.OperationExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, "verifyScan", exhausted.Op)
}

func TestStatusString(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "self-healed", guardian.VerifySelfHealed.String())
	assert.Equal(t, "missing", guardian.VerifyMissing.String())
}

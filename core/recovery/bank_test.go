package recovery

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/connopt/core/model"
)

func bankSchedule() *model.Schedule {
	return &model.Schedule{
		ID: "r1",
		TimePoints: []model.TimePoint{
			{ID: "term", Name: "Kipling Terminal", Sequence: 0},
			{ID: "school", Name: "Central Secondary School", Sequence: 1},
			{ID: "mall", Name: "Square One Mall", Sequence: 2},
			{ID: "plain", Name: "Main St", Sequence: 3},
			{ID: "end", Name: "Meadowvale", Sequence: 4},
		},
		Trips: []*model.Trip{
			{TripNumber: 1, RecoveryTimes: map[string]float64{"term": 10, "mall": 4, "plain": 2, "end": 6}},
			{TripNumber: 2, RecoveryTimes: map[string]float64{"term": 8, "mall": 1}},
		},
	}
}

func newTestBank(t *testing.T, overrides ...model.StopOverride) *Bank {
	t.Helper()
	b := NewBank(nil)
	require.NoError(t, b.Initialize(bankSchedule(), overrides, model.DefaultConstraints()))
	return b
}

func ptr(v float64) *float64 { return &v }

func TestInitializeInfersStopTypes(t *testing.T) {
	b := newTestBank(t)
	want := map[string]StopType{
		"term": StopTerminal, "school": StopSchool, "mall": StopMall, "plain": StopRegular, "end": StopTerminal,
	}
	for id, st := range want {
		a, ok := b.Account(id)
		require.True(t, ok, id)
		assert.Equal(t, st, a.StopType, id)
		assert.Equal(t, a.MaxCredit, a.AvailableCredit, id)
		assert.Zero(t, a.CurrentDebt, id)
	}
	term, _ := b.Account("term")
	assert.Equal(t, 10.0, term.BaseRecovery)
	assert.Equal(t, 0.95, term.FlexibilityScore)
}

func TestInitializeAppliesOverrides(t *testing.T) {
	b := newTestBank(t, model.StopOverride{StopID: "plain", StopType: "hospital", MaxCredit: ptr(1)})
	a, _ := b.Account("plain")
	assert.Equal(t, StopHospital, a.StopType)
	assert.Equal(t, 1.0, a.MaxCredit)
	assert.Equal(t, 1.0, a.AvailableCredit)
	assert.Equal(t, DefaultProfiles()[StopHospital].Flexibility, a.FlexibilityScore)

	err := NewBank(nil).Initialize(bankSchedule(), []model.StopOverride{{StopID: "x", StopType: "castle"}}, model.DefaultConstraints())
	assert.Error(t, err)
}

func TestTransferFromTerminalToSchool(t *testing.T) {
	b := newTestBank(t)
	tx, err := b.RequestRecoveryTransfer("term", "school", 3, []int{1})
	require.NoError(t, err)
	assert.NotEmpty(t, tx.ID)
	assert.Equal(t, TransactionTransfer, tx.Type)
	assert.InDelta(t, 3*0.95, tx.Score, 1e-9)

	term, _ := b.Account("term")
	school, _ := b.Account("school")
	assert.Equal(t, 17.0, term.AvailableCredit)
	assert.Equal(t, 3.0, school.CurrentDebt)
	assert.Equal(t, 3.0, b.TotalBorrowed())
}

func TestTransferInsufficientCredit(t *testing.T) {
	b := newTestBank(t, model.StopOverride{StopID: "plain", MaxCredit: ptr(1)})
	_, err := b.RequestRecoveryTransfer("plain", "mall", 10, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInsufficientCredit))
	assert.Contains(t, err.Error(), "insufficient credit")
	assert.Empty(t, b.Transactions())
}

func TestTransferFailures(t *testing.T) {
	cases := []struct {
		name      string
		overrides []model.StopOverride
		lender    string
		borrower  string
		amount    float64
		want      error
	}{
		{"unknown lender", nil, "nope", "school", 1, ErrAccountNotFound},
		{"unknown borrower", nil, "term", "nope", 1, ErrAccountNotFound},
		{"self", nil, "term", "term", 1, ErrSelfLending},
		{"zero", nil, "term", "school", 0, ErrInvalidAmount},
		{"deviation", nil, "term", "school", 11, ErrExceedsMaxDeviation},
		{"max recovery", []model.StopOverride{{StopID: "school", MaxRecoveryTime: ptr(2)}}, "term", "school", 3, ErrExceedsMaxRecovery},
		{"min recovery", nil, "term", "school", 8, ErrBelowMinRecovery},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b := newTestBank(t, tc.overrides...)
			_, err := b.RequestRecoveryTransfer(tc.lender, tc.borrower, tc.amount, nil)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v got %v", tc.want, err)
			}
		})
	}

	_, err := NewBank(nil).RequestRecoveryTransfer("term", "school", 1, nil)
	assert.ErrorIs(t, err, ErrBankNotInitialized)
}

func TestRollbackInReverseRestoresAccounts(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	ids := []string{"term", "school", "mall", "plain", "end"}
	for round := 0; round < 20; round++ {
		b := newTestBank(t)
		before := b.Accounts()
		var txs []Transaction
		for i := 0; i < 10; i++ {
			l, br := ids[r.Intn(len(ids))], ids[r.Intn(len(ids))]
			tx, err := b.RequestRecoveryTransfer(l, br, 0.5+r.Float64()*3, nil)
			if err == nil {
				txs = append(txs, tx)
			}
		}
		for i := len(txs) - 1; i >= 0; i-- {
			require.NoError(t, b.RollbackTransaction(txs[i].ID))
		}
		after := b.Accounts()
		for i := range before {
			assert.InDelta(t, before[i].AvailableCredit, after[i].AvailableCredit, 1e-9)
			assert.InDelta(t, before[i].CurrentDebt, after[i].CurrentDebt, 1e-9)
		}
		assert.Empty(t, b.Transactions())
	}
}

func TestRollbackUnknownTransaction(t *testing.T) {
	b := newTestBank(t)
	assert.ErrorIs(t, b.RollbackTransaction("missing"), ErrTransactionNotFound)
}

func TestResetAndClone(t *testing.T) {
	b := newTestBank(t)
	_, err := b.RequestRecoveryTransfer("term", "school", 3, nil)
	require.NoError(t, err)

	cp := b.Clone()
	_, err = cp.RequestRecoveryTransfer("end", "mall", 2, nil)
	require.NoError(t, err)
	assert.Len(t, b.Transactions(), 1)
	assert.Len(t, cp.Transactions(), 2)

	b.Reset()
	assert.Empty(t, b.Transactions())
	assert.Zero(t, b.TotalBorrowed())
	term, _ := b.Account("term")
	assert.Equal(t, term.MaxCredit, term.AvailableCredit)
	assert.Equal(t, 2.0, cp.Accounts()[2].CurrentDebt)
}

func TestUtilizationReportRanksDescending(t *testing.T) {
	b := newTestBank(t)
	_, err := b.RequestRecoveryTransfer("term", "school", 3, nil)
	require.NoError(t, err)
	_, err = b.RequestRecoveryTransfer("end", "mall", 1, nil)
	require.NoError(t, err)
	_, err = b.RequestRecoveryTransfer("term", "mall", 2, nil)
	require.NoError(t, err)

	r := b.GenerateUtilizationReport()
	assert.Equal(t, 3, r.Transactions)
	assert.Equal(t, 55.0, r.TotalCredit)
	assert.InDelta(t, 6.0/55.0, r.UtilizationRate, 1e-9)
	require.Len(t, r.TopLenders, 2)
	assert.Equal(t, RankedStop{StopID: "term", Amount: 5}, r.TopLenders[0])
	require.Len(t, r.TopBorrowers, 2)
	// Equal amounts rank by stop id.
	assert.Equal(t, RankedStop{StopID: "mall", Amount: 3}, r.TopBorrowers[0])
	assert.Equal(t, RankedStop{StopID: "school", Amount: 3}, r.TopBorrowers[1])
	assert.Len(t, r.Accounts, 5)
}

// Package recovery keeps the ledger of recovery time that stops may lend to
// each other so trips can be shifted without breaking recovery bounds.
package recovery

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/kilianp07/connopt/core/logger"
	"github.com/kilianp07/connopt/core/model"
)

var (
	ErrBankNotInitialized  = errors.New("recovery bank not initialized")
	ErrAccountNotFound     = errors.New("account not found")
	ErrInvalidAmount       = errors.New("transfer amount must be positive")
	ErrSelfLending         = errors.New("self-lending not allowed")
	ErrInsufficientCredit  = errors.New("insufficient credit")
	ErrExceedsMaxDeviation = errors.New("exceeds max deviation")
	ErrExceedsMaxRecovery  = errors.New("exceeds max recovery")
	ErrBelowMinRecovery    = errors.New("below min recovery")
	ErrTransactionNotFound = errors.New("transaction not found")
	// ErrInfeasible wraps solver failures of the LP allocator.
	ErrInfeasible          = errors.New("allocation program infeasible")
)

const epsilon = 1e-9

// Account is the recovery ledger of one stop.
type Account struct {
	StopID           string   `json:"stop_id"`
	StopName         string   `json:"stop_name,omitempty"`
	StopType         StopType `json:"stop_type"`
	AvailableCredit  float64  `json:"available_credit"`
	CurrentDebt      float64  `json:"current_debt"`
	MaxCredit        float64  `json:"max_credit"`
	MinRecoveryTime  float64  `json:"min_recovery_time"`
	MaxRecoveryTime  float64  `json:"max_recovery_time"`
	FlexibilityScore float64  `json:"flexibility_score"`
	// BaseRecovery is the largest scheduled recovery at the stop.
	BaseRecovery float64 `json:"base_recovery"`
}

// Lent returns the credit currently lent out.
func (a Account) Lent() float64 { return a.MaxCredit - a.AvailableCredit }

// Lendable returns how much the stop can still lend without dropping its
// own recovery below the minimum.
func (a Account) Lendable() float64 {
	v := a.AvailableCredit
	if a.BaseRecovery > 0 {
		if room := a.BaseRecovery - a.Lent() - a.MinRecoveryTime; room < v {
			v = room
		}
	}
	if v < 0 {
		return 0
	}
	return v
}

// BorrowRoom returns how much the stop can still borrow before its recovery
// exceeds the maximum.
func (a Account) BorrowRoom() float64 {
	v := a.MaxRecoveryTime - a.BaseRecovery - a.CurrentDebt
	if v < 0 {
		return 0
	}
	return v
}

// TransactionType tells how a transaction was created.
type TransactionType string

const (
	TransactionTransfer   TransactionType = "transfer"
	TransactionAllocation TransactionType = "allocation"
)

// Transaction is an executed loan of recovery time. It is immutable.
type Transaction struct {
	ID             string          `json:"id"`
	LenderStopID   string          `json:"lender_stop_id"`
	BorrowerStopID string          `json:"borrower_stop_id"`
	Amount         float64         `json:"amount"`
	AffectedTrips  []int           `json:"affected_trips,omitempty"`
	Score          float64         `json:"score"`
	Type           TransactionType `json:"type"`
	Timestamp      time.Time       `json:"timestamp"`
}

// Bank is the recovery ledger of one schedule. It is not safe for
// concurrent use; each optimization run owns its bank.
type Bank struct {
	accounts     map[string]*Account
	order        []string
	baseline     map[string]Account
	transactions []Transaction
	constraints  model.OptimizationConstraints
	classifier   StopClassifier
	profiles     map[StopType]Profile
	initialized  bool

	log logger.Logger
	now func() time.Time
}

// Option configures a Bank.
type Option func(*Bank)

// WithClassifier replaces the default stop classifier.
func WithClassifier(c StopClassifier) Option {
	return func(b *Bank) {
		if c != nil {
			b.classifier = c
		}
	}
}

// WithProfiles overlays stop type profiles on the defaults.
func WithProfiles(p map[StopType]Profile) Option {
	return func(b *Bank) {
		for k, v := range p {
			b.profiles[k] = v
		}
	}
}

// WithClock sets the time source for transaction timestamps.
func WithClock(now func() time.Time) Option {
	return func(b *Bank) {
		if now != nil {
			b.now = now
		}
	}
}

// NewBank returns an uninitialized bank.
func NewBank(log logger.Logger, opts ...Option) *Bank {
	b := &Bank{
		accounts:   make(map[string]*Account),
		classifier: DefaultClassifier(),
		profiles:   DefaultProfiles(),
		log:        logger.OrNop(log),
		now:        time.Now,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Initialize opens one account per timepoint of the schedule. Stop types are
// inferred by the classifier unless an override names one, then the numeric
// override fields replace the profile values.
func (b *Bank) Initialize(s *model.Schedule, overrides []model.StopOverride, c model.OptimizationConstraints) error {
	if s == nil {
		return fmt.Errorf("initialize bank: %w", &model.ValidationError{Problems: []string{"schedule is nil"}})
	}
	byStop := make(map[string]model.StopOverride, len(overrides))
	explicit := ExplicitClassifier{}
	for _, o := range overrides {
		byStop[o.StopID] = o
		if o.StopType == "" {
			continue
		}
		st, err := ParseStopType(o.StopType)
		if err != nil {
			return fmt.Errorf("stop override %s: %w", o.StopID, err)
		}
		explicit[o.StopID] = st
	}
	classifier := ChainClassifier{explicit, b.classifier}

	base := make(map[string]float64, len(s.TimePoints))
	for _, t := range s.Trips {
		for id, r := range t.RecoveryTimes {
			if r > base[id] {
				base[id] = r
			}
		}
	}

	b.accounts = make(map[string]*Account, len(s.TimePoints))
	b.order = b.order[:0]
	b.transactions = nil
	b.constraints = c
	points := model.SortedTimePoints(s.TimePoints)
	for i, tp := range points {
		st, _ := classifier.Classify(tp, Position{Index: i, Count: len(points)})
		p := b.profiles[st]
		acc := &Account{
			StopID:           tp.ID,
			StopName:         tp.Name,
			StopType:         st,
			MaxCredit:        p.MaxCredit,
			MinRecoveryTime:  p.MinRecoveryTime,
			MaxRecoveryTime:  p.MaxRecoveryTime,
			FlexibilityScore: p.Flexibility,
			BaseRecovery:     base[tp.ID],
		}
		if c.MinRecoveryTime > acc.MinRecoveryTime {
			acc.MinRecoveryTime = c.MinRecoveryTime
		}
		if c.MaxRecoveryTime > 0 && c.MaxRecoveryTime < acc.MaxRecoveryTime {
			acc.MaxRecoveryTime = c.MaxRecoveryTime
		}
		if o, ok := byStop[tp.ID]; ok {
			applyOverride(acc, o)
		}
		acc.AvailableCredit = acc.MaxCredit
		b.accounts[tp.ID] = acc
		b.order = append(b.order, tp.ID)
	}
	b.baseline = make(map[string]Account, len(b.accounts))
	for id, a := range b.accounts {
		b.baseline[id] = *a
	}
	b.initialized = true
	b.log.Debugw("recovery bank initialized", map[string]any{
		"schedule": s.ID, "accounts": len(b.accounts), "overrides": len(overrides),
	})
	return nil
}

func applyOverride(a *Account, o model.StopOverride) {
	if o.FlexibilityScore != nil {
		a.FlexibilityScore = *o.FlexibilityScore
	}
	if o.MaxCredit != nil {
		a.MaxCredit = *o.MaxCredit
	}
	if o.MinRecoveryTime != nil {
		a.MinRecoveryTime = *o.MinRecoveryTime
	}
	if o.MaxRecoveryTime != nil {
		a.MaxRecoveryTime = *o.MaxRecoveryTime
	}
}

// Initialized reports whether Initialize succeeded.
func (b *Bank) Initialized() bool { return b.initialized }

// Account returns a copy of the account of the stop.
func (b *Bank) Account(stopID string) (Account, bool) {
	a, ok := b.accounts[stopID]
	if !ok {
		return Account{}, false
	}
	return *a, true
}

// Accounts returns copies of every account in route order.
func (b *Bank) Accounts() []Account {
	out := make([]Account, 0, len(b.order))
	for _, id := range b.order {
		out = append(out, *b.accounts[id])
	}
	return out
}

// Transactions returns the executed transactions, oldest first.
func (b *Bank) Transactions() []Transaction {
	return append([]Transaction(nil), b.transactions...)
}

// checkTransfer returns the reason a transfer cannot execute.
func (b *Bank) checkTransfer(lenderID, borrowerID string, amount float64) (*Account, *Account, error) {
	if !b.initialized {
		return nil, nil, ErrBankNotInitialized
	}
	lender, ok := b.accounts[lenderID]
	if !ok {
		return nil, nil, fmt.Errorf("%w: lender %s", ErrAccountNotFound, lenderID)
	}
	borrower, ok := b.accounts[borrowerID]
	if !ok {
		return nil, nil, fmt.Errorf("%w: borrower %s", ErrAccountNotFound, borrowerID)
	}
	if lenderID == borrowerID {
		return nil, nil, fmt.Errorf("%w: %s", ErrSelfLending, lenderID)
	}
	if amount <= 0 {
		return nil, nil, fmt.Errorf("%w: %.2f", ErrInvalidAmount, amount)
	}
	if amount > b.constraints.MaxTripDeviation+epsilon {
		return nil, nil, fmt.Errorf("%w: %.2f > %.2f", ErrExceedsMaxDeviation, amount, b.constraints.MaxTripDeviation)
	}
	if amount > lender.AvailableCredit+epsilon {
		return nil, nil, fmt.Errorf("%w: %s has %.2f, requested %.2f", ErrInsufficientCredit, lenderID, lender.AvailableCredit, amount)
	}
	if borrower.BaseRecovery+borrower.CurrentDebt+amount > borrower.MaxRecoveryTime+epsilon {
		return nil, nil, fmt.Errorf("%w: %s would hold %.2f > %.2f", ErrExceedsMaxRecovery, borrowerID,
			borrower.BaseRecovery+borrower.CurrentDebt+amount, borrower.MaxRecoveryTime)
	}
	if lender.BaseRecovery > 0 && lender.BaseRecovery-lender.Lent()-amount < lender.MinRecoveryTime-epsilon {
		return nil, nil, fmt.Errorf("%w: %s would keep %.2f < %.2f", ErrBelowMinRecovery, lenderID,
			lender.BaseRecovery-lender.Lent()-amount, lender.MinRecoveryTime)
	}
	return lender, borrower, nil
}

// RequestRecoveryTransfer lends amount minutes from lender to borrower for
// the given trips.
func (b *Bank) RequestRecoveryTransfer(lenderID, borrowerID string, amount float64, trips []int) (Transaction, error) {
	return b.transfer(lenderID, borrowerID, amount, trips, TransactionTransfer)
}

func (b *Bank) transfer(lenderID, borrowerID string, amount float64, trips []int, typ TransactionType) (Transaction, error) {
	lender, borrower, err := b.checkTransfer(lenderID, borrowerID, amount)
	if err != nil {
		return Transaction{}, err
	}
	lender.AvailableCredit -= amount
	borrower.CurrentDebt += amount
	tx := Transaction{
		ID:             uuid.NewString(),
		LenderStopID:   lenderID,
		BorrowerStopID: borrowerID,
		Amount:         amount,
		AffectedTrips:  append([]int(nil), trips...),
		Score:          amount * lender.FlexibilityScore,
		Type:           typ,
		Timestamp:      b.now(),
	}
	b.transactions = append(b.transactions, tx)
	b.log.Debugw("recovery transfer", map[string]any{
		"id": tx.ID, "lender": lenderID, "borrower": borrowerID, "amount": amount,
	})
	return tx, nil
}

// RollbackTransaction reverses the transaction and removes it from history.
func (b *Bank) RollbackTransaction(id string) error {
	for i, tx := range b.transactions {
		if tx.ID != id {
			continue
		}
		if l, ok := b.accounts[tx.LenderStopID]; ok {
			l.AvailableCredit += tx.Amount
		}
		if br, ok := b.accounts[tx.BorrowerStopID]; ok {
			br.CurrentDebt -= tx.Amount
		}
		b.transactions = append(b.transactions[:i], b.transactions[i+1:]...)
		return nil
	}
	return fmt.Errorf("%w: %s", ErrTransactionNotFound, id)
}

// Reset restores every account to its initialized state and clears the
// transaction history.
func (b *Bank) Reset() {
	for id, a := range b.baseline {
		cp := a
		b.accounts[id] = &cp
	}
	b.transactions = nil
}

// Clone returns an independent copy of the bank.
func (b *Bank) Clone() *Bank {
	cp := *b
	cp.accounts = make(map[string]*Account, len(b.accounts))
	for id, a := range b.accounts {
		acc := *a
		cp.accounts[id] = &acc
	}
	cp.order = append([]string(nil), b.order...)
	cp.transactions = append([]Transaction(nil), b.transactions...)
	return &cp
}

// TotalBorrowed returns the outstanding debt across every stop.
func (b *Bank) TotalBorrowed() float64 {
	var sum float64
	for _, a := range b.accounts {
		sum += a.CurrentDebt
	}
	return sum
}

// TotalCredit returns the sum of every stop's maximum credit.
func (b *Bank) TotalCredit() float64 {
	var sum float64
	for _, a := range b.accounts {
		sum += a.MaxCredit
	}
	return sum
}

// UtilizationRate is total borrowed over total credit.
func (b *Bank) UtilizationRate() float64 {
	total := b.TotalCredit()
	if total == 0 {
		return 0
	}
	return b.TotalBorrowed() / total
}

// AccountSummary is one line of the utilization report.
type AccountSummary struct {
	StopID          string   `json:"stop_id"`
	StopType        StopType `json:"stop_type"`
	Lent            float64  `json:"lent"`
	Borrowed        float64  `json:"borrowed"`
	AvailableCredit float64  `json:"available_credit"`
	MaxCredit       float64  `json:"max_credit"`
	Utilization     float64  `json:"utilization"`
}

// RankedStop pairs a stop with an amount.
type RankedStop struct {
	StopID string  `json:"stop_id"`
	Amount float64 `json:"amount"`
}

// UtilizationReport summarises the bank state.
type UtilizationReport struct {
	Accounts        []AccountSummary `json:"accounts"`
	TotalCredit     float64          `json:"total_credit"`
	TotalBorrowed   float64          `json:"total_borrowed"`
	UtilizationRate float64          `json:"utilization_rate"`
	Transactions    int              `json:"transactions"`
	TopLenders      []RankedStop     `json:"top_lenders"`
	TopBorrowers    []RankedStop     `json:"top_borrowers"`
}

// GenerateUtilizationReport summarises every account and ranks lenders and
// borrowers by amount, largest first.
func (b *Bank) GenerateUtilizationReport() UtilizationReport {
	r := UtilizationReport{
		TotalCredit:     b.TotalCredit(),
		TotalBorrowed:   b.TotalBorrowed(),
		UtilizationRate: b.UtilizationRate(),
		Transactions:    len(b.transactions),
	}
	for _, a := range b.Accounts() {
		s := AccountSummary{
			StopID:          a.StopID,
			StopType:        a.StopType,
			Lent:            a.Lent(),
			Borrowed:        a.CurrentDebt,
			AvailableCredit: a.AvailableCredit,
			MaxCredit:       a.MaxCredit,
		}
		if a.MaxCredit > 0 {
			s.Utilization = s.Lent / a.MaxCredit
		}
		r.Accounts = append(r.Accounts, s)
		if s.Lent > epsilon {
			r.TopLenders = append(r.TopLenders, RankedStop{StopID: a.StopID, Amount: s.Lent})
		}
		if s.Borrowed > epsilon {
			r.TopBorrowers = append(r.TopBorrowers, RankedStop{StopID: a.StopID, Amount: s.Borrowed})
		}
	}
	rank(r.TopLenders)
	rank(r.TopBorrowers)
	return r
}

func rank(s []RankedStop) {
	sort.SliceStable(s, func(i, j int) bool {
		if s[i].Amount != s[j].Amount {
			return s[i].Amount > s[j].Amount
		}
		return s[i].StopID < s[j].StopID
	})
}

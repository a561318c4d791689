package optimize

import (
	"strconv"

	"github.com/kilianp07/connopt/core/headway"
	"github.com/kilianp07/connopt/core/model"
	"github.com/kilianp07/connopt/core/recovery"
)

// MoveKind tags the variant of a move.
type MoveKind string

const (
	MoveTimeShift        MoveKind = "time_shift"
	MoveRecoveryTransfer MoveKind = "recovery_transfer"
	MoveHeadwayAdjust    MoveKind = "headway_adjust"
	MoveConnectionAlign  MoveKind = "connection_align"
)

// MoveDetail is the kind-specific payload of a move. The set of
// implementations is closed to this package.
type MoveDetail interface {
	Kind() MoveKind
	isMoveDetail()
}

// TimeShiftDetail moves every time of one trip.
type TimeShiftDetail struct {
	TripNumber int     `json:"trip_number"`
	Delta      float64 `json:"delta"`
}

// RecoveryTransferDetail moves recovery time between two stops of a trip.
type RecoveryTransferDetail struct {
	TripNumber     int     `json:"trip_number"`
	LenderStopID   string  `json:"lender_stop_id"`
	BorrowerStopID string  `json:"borrower_stop_id"`
	Amount         float64 `json:"amount"`
}

// HeadwayAdjustDetail carries the corrections of a refinement pass.
type HeadwayAdjustDetail struct {
	Corrections []headway.Correction `json:"corrections"`
}

// ConnectionAlignDetail shifts one trip so it meets a connection, funded by
// recovery transfers.
type ConnectionAlignDetail struct {
	ConnectionID string                   `json:"connection_id"`
	TripNumber   int                      `json:"trip_number"`
	Before       model.WindowType         `json:"before"`
	After        model.WindowType         `json:"after"`
	Shift        TimeShiftDetail          `json:"shift"`
	Transfers    []RecoveryTransferDetail `json:"transfers,omitempty"`
}

func (TimeShiftDetail) Kind() MoveKind        { return MoveTimeShift }
func (RecoveryTransferDetail) Kind() MoveKind { return MoveRecoveryTransfer }
func (HeadwayAdjustDetail) Kind() MoveKind    { return MoveHeadwayAdjust }
func (ConnectionAlignDetail) Kind() MoveKind  { return MoveConnectionAlign }

func (TimeShiftDetail) isMoveDetail()        {}
func (RecoveryTransferDetail) isMoveDetail() {}
func (HeadwayAdjustDetail) isMoveDetail()    {}
func (ConnectionAlignDetail) isMoveDetail()  {}

// ViolationKind names a breached hard constraint.
type ViolationKind string

const (
	ViolationDeviation      ViolationKind = "deviation"
	ViolationBlockOrder     ViolationKind = "block_order"
	ViolationRecoveryBounds ViolationKind = "recovery_bounds"
	ViolationHeadway        ViolationKind = "headway"
	ViolationFunding        ViolationKind = "bank_funding"
)

// Violation is one breached constraint of a candidate move.
type Violation struct {
	Kind       ViolationKind `json:"kind"`
	TripNumber int           `json:"trip_number,omitempty"`
	Message    string        `json:"message"`
}

// Move is a proposed change to the working schedule. A move with
// violations is never committed.
type Move struct {
	ID                   string                 `json:"id"`
	Kind                 MoveKind               `json:"kind"`
	TargetConnection     string                 `json:"target_connection,omitempty"`
	TimeAdjustment       float64                `json:"time_adjustment"`
	RequiredTransactions []recovery.Transaction `json:"required_transactions,omitempty"`
	AffectedTrips        []int                  `json:"affected_trips,omitempty"`
	ScoreImprovement     float64                `json:"score_improvement"`
	ConstraintViolations []Violation            `json:"constraint_violations,omitempty"`
	Detail               MoveDetail             `json:"detail,omitempty"`
	// Reason explains a rejection that is not a constraint violation.
	Reason string `json:"reason,omitempty"`
}

// Describe returns a short human readable summary of the move payload.
func Describe(m Move) string {
	switch d := m.Detail.(type) {
	case ConnectionAlignDetail:
		return "align trip " + strconv.Itoa(d.TripNumber) + " with " + d.ConnectionID
	case HeadwayAdjustDetail:
		return "headway refinement over " + strconv.Itoa(len(d.Corrections)) + " trips"
	case TimeShiftDetail:
		return "shift trip " + strconv.Itoa(d.TripNumber)
	case RecoveryTransferDetail:
		return "recovery " + d.LenderStopID + " -> " + d.BorrowerStopID
	default:
		return string(m.Kind)
	}
}

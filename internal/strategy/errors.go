package strategy

import "github.com/pkg/errors"

var (
	// ErrInsufficientHistory means the asset series is shorter than the moving-average window.
	ErrInsufficientHistory = errors.New("insufficient price history")
	// ErrInvalidReferencePrice means the last-buy reference price is zero or negative.
	ErrInvalidReferencePrice = errors.New("invalid reference price")
	// ErrCollaboratorUnavailable means a snapshot a rule needs could not be fetched.
	ErrCollaboratorUnavailable = errors.New("collaborator unavailable")
)

// Block names one independent rule.
type Block string

const (
	BlockRallyGuard Block = "rally_guard"
	BlockTuesday    Block = "tuesday_dca"
	BlockFriday     Block = "friday_harvest"
)

// BlockError records a failure confined to one rule block.
type BlockError struct {
	Block Block
	Err   error
}

func (e BlockError) Error() string {
	return string(e.Block) + ": " + e.Err.Error()
}

func (e BlockError) Unwrap() error {
	return e.Err
}

func unavailable(what string, err error) error {
	return errors.Wrapf(ErrCollaboratorUnavailable, "%s: %v", what, err)
}

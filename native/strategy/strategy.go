package strategy

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Strategy is the capability a controller delegates its want to. A strategy
// only ever returns funds to its controller.
type Strategy interface {
	Address() common.Address
	Want() common.Address
	// Deposit deploys every idle unit of want held by the strategy.
	Deposit(caller common.Address) error
	// Withdraw sends up to amount of want to the controller and reports what
	// was actually sent.
	Withdraw(caller common.Address, amount *big.Int) (*big.Int, error)
	Harvest(caller common.Address) error
	// BeforeMovement realises yield accrued since the last movement, charging
	// the performance fee on it.
	BeforeMovement(caller common.Address) error
	// BalanceOf is idle want plus the net deployed position.
	BalanceOf() (*big.Int, error)
	// Deployed is the net position held in external venues.
	Deployed() (*big.Int, error)
	// Retire unwinds the strategy and returns everything to the controller.
	Retire(caller common.Address) (*big.Int, error)
	Panic(caller common.Address) error
	Paused() (bool, error)
}

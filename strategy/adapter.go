// strategy/adapter.go

// External-strategy adapter boundary. Adapters report and custody real assets
// per (vault, asset); the settlement engine treats the sum across every
// enabled adapter as ground truth for observed totals.

package strategy

// Adapter integrates one external strategy (custodial wallet, tokenized
// vault, ...) for the router
type Adapter interface {
	// Name identifies the adapter in the registry
	Name() string

	// Enabled reports whether the adapter participates in observations
	Enabled() bool

	// TotalAssets returns real-time adapter-held assets for (vault, asset)
	TotalAssets(vault, asset string) (int64, error)

	// Deposit hands amount of asset to the strategy on behalf of vault
	Deposit(vault, asset string, amount int64) error

	// Withdraw pulls amount of asset back from the strategy
	Withdraw(vault, asset string, amount int64) error
}

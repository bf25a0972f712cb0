// Package aggregator merges live feed events into one dashboard snapshot.
//
// All writes (feed events, failures, epoch resets) are funnelled through a
// single channel into the Run loop, which is the only goroutine that touches
// the canonical state. Readers get immutable copies through Snapshot or a
// Subscribe channel.
//
// Merge rules:
//   - temperature sets the value, pushes it into the rolling history and
//     stamps LastUpdateTime
//   - presence sets the value and stamps LastUpdateTime
//   - soil moisture and humidity set their value only
//   - the first accepted event after a reset clears Loading, unless an
//     error is being surfaced
//
// Each subscription generation is an epoch. Reset raises the epoch and
// everything tagged with an older one is discarded, so a feed that is being
// torn down cannot resurrect state after a retry.
package aggregator

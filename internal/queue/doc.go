// Package queue implements the complaint work queue on top of the store.
//
// The Engine hands out exactly one pending complaint per ClaimNext call, even
// when many pollers race: the claim is a conditional UPDATE guarded by the
// previous status, and a caller whose update touches zero rows simply gets no
// work. No claim state is held in memory, so a restart cannot lose track of
// in-flight complaints; the reaper converts claims that stopped receiving
// updates into timeouts.
//
// Every mutating operation publishes a content-free change event. The only
// in-memory state is the batch-complete latch, which exists so the operator is
// alerted once per drain rather than on every empty poll.
package queue

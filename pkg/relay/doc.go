// Copyright 2024-2026 Aiku AI

// Package relay implements the channel duplication engine: it observes
// messages posted to source channels, decides per message whether and how
// to relay them, rewrites their content, and re-publishes them to the
// configured destination channels, keeping edits and deletions in sync.
//
// # Core Types
//
// [Engine] is the ingestion loop. It consumes the live event stream from
// an [EventSource], runs one ordered worker per source-channel route, and
// hands each event to the [Dispatcher]. Per-channel ordering is strict;
// nothing is guaranteed across channels.
//
// [Dispatcher] fans an accepted event out to the route's destinations,
// applying per-destination filter and transform rules, the shared
// [Limiter], bounded retries per the error taxonomy, and durable
// [Mapping] writes through the [Store]. Failure isolation is per
// (message, destination) pair: one throttled destination never blocks
// the rest of a fan-out.
//
// [FilterRules] and [TransformRules] are compiled once from configuration
// and evaluated as pure functions. Transform compilation rejects rules
// whose output the chain would rewrite again, and rules are always
// applied against original source content, so multi-destination fan-out
// never compounds rewrites.
//
// # Delivery Guarantees
//
// Relay is at-least-once with dedup via the mapping store: a mapping row
// is written durably before success is reported, so after a crash any
// message without a confirmed mapping is retried and any duplicate is
// detected by the lookup. Tombstoned mappings are terminal; a late
// duplicate event can never resurrect a deleted message.
//
// # Sub-packages
//
//   - rewrite compiles and applies the declarative text rewriting rules.
//   - store persists message mappings in SQLite.
package relay

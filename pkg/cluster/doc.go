// Package cluster tracks leader/follower membership for a group of chat servers.
//
// This package handles:
//   - The per-process Directory of known servers, the leader and its epoch
//   - Heartbeat probing, unreachable detection and leader election
//   - Joining an existing cluster and admitting new replicas
//
// Membership is not durable. Every process rebuilds its Directory on start,
// either by bootstrapping as leader or by joining through a seed.
package cluster

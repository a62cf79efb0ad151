// Copyright (C) 2025 Shopkit Labs (engineering@shopkit.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package bucket provides deterministic hash bucketing for experiment
// assignment.
//
// Bucketing maps a (user, experiment) pair onto a numeric slot using
// FNV-1a. The mapping is a pure function of its inputs: it is stable
// across calls, process restarts, and machines, which is what makes
// sticky assignment reproducible.
//
// Two independently salted hashes are derived per pair: the traffic
// bucket decides inclusion in the experiment population, and the
// variant bucket selects a treatment arm. Separate salts keep the two
// decisions uncorrelated across experiments sharing a user.
package bucket

import "hash/fnv"

// -----------------------------------------------------------------------------
// Constants
// -----------------------------------------------------------------------------

const (
	// TrafficBuckets is the modulus for traffic bucketing. Traffic
	// allocation is expressed as a percentage, so inclusion compares a
	// bucket in [0, 100) against the allocation.
	TrafficBuckets = 100

	trafficSalt = "traffic"
	variantSalt = "variant"
)

// -----------------------------------------------------------------------------
// Hashing
// -----------------------------------------------------------------------------

// Hash returns the FNV-1a 64-bit hash of key.
//
// Description:
//
//	Deterministic: identical input always yields identical output,
//	independent of call history or process identity.
//
// Thread Safety: Safe for concurrent use (stateless).
func Hash(key string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(key))
	return h.Sum64()
}

// Traffic returns the traffic bucket in [0, TrafficBuckets) for the
// given user and experiment.
//
// A user is inside the experiment population when the returned bucket
// is strictly below the experiment's traffic allocation percentage.
//
// Thread Safety: Safe for concurrent use.
func Traffic(userID, experimentID string) int {
	return int(Hash(userID+experimentID+trafficSalt) % TrafficBuckets)
}

// Variant returns the variant bucket in [0, totalWeight) for the given
// user and experiment.
//
// Inputs:
//   - totalWeight: the sum of the experiment's variant weights. Must be
//     positive; the registry rejects definitions with a non-positive
//     total at load time. A non-positive value yields bucket 0.
//
// Thread Safety: Safe for concurrent use.
func Variant(userID, experimentID string, totalWeight int) int {
	if totalWeight <= 0 {
		return 0
	}
	return int(Hash(userID+experimentID+variantSalt) % uint64(totalWeight))
}

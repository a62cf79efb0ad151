// Copyright (C) 2025 Shopkit Labs (engineering@shopkit.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package bucket

import (
	"fmt"
	"testing"
)

func TestHashDeterministic(t *testing.T) {
	first := Hash("user-1exp-1traffic")
	for i := 0; i < 100; i++ {
		if got := Hash("user-1exp-1traffic"); got != first {
			t.Fatalf("hash changed between calls: %d != %d", got, first)
		}
	}
}

func TestTrafficRange(t *testing.T) {
	for i := 0; i < 10000; i++ {
		b := Traffic(fmt.Sprintf("user-%d", i), "exp-1")
		if b < 0 || b >= TrafficBuckets {
			t.Fatalf("traffic bucket out of range: %d", b)
		}
	}
}

func TestVariantRange(t *testing.T) {
	t.Run("valid weight", func(t *testing.T) {
		for i := 0; i < 10000; i++ {
			b := Variant(fmt.Sprintf("user-%d", i), "exp-1", 100)
			if b < 0 || b >= 100 {
				t.Fatalf("variant bucket out of range: %d", b)
			}
		}
	})

	t.Run("non-positive weight", func(t *testing.T) {
		if got := Variant("user-1", "exp-1", 0); got != 0 {
			t.Errorf("expected bucket 0 for zero weight, got %d", got)
		}
		if got := Variant("user-1", "exp-1", -5); got != 0 {
			t.Errorf("expected bucket 0 for negative weight, got %d", got)
		}
	})
}

func TestSaltsIndependent(t *testing.T) {
	// The traffic and variant buckets come from independently salted
	// hashes. With a shared salt the two would be perfectly correlated;
	// verify at least some users land in different relative positions.
	differ := 0
	for i := 0; i < 1000; i++ {
		uid := fmt.Sprintf("user-%d", i)
		traffic := Traffic(uid, "exp-1")
		variant := Variant(uid, "exp-1", TrafficBuckets)
		if traffic != variant {
			differ++
		}
	}
	if differ == 0 {
		t.Fatal("traffic and variant buckets are identical for every user; salts are not independent")
	}
}

func TestTrafficDistribution(t *testing.T) {
	// Over many synthetic ids the bucket distribution should be close
	// to uniform. Allow generous sampling error.
	counts := make([]int, TrafficBuckets)
	const n = 100000
	for i := 0; i < n; i++ {
		counts[Traffic(fmt.Sprintf("user-%d", i), "exp-uniform")]++
	}
	expected := n / TrafficBuckets
	for b, c := range counts {
		if c < expected/2 || c > expected*2 {
			t.Errorf("bucket %d badly skewed: %d (expected ~%d)", b, c, expected)
		}
	}
}

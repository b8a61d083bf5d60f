// Copyright 2024 RelicForge. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package carver

import "testing"

func TestOverlapIndexNonOverlappingBothAccepted(t *testing.T) {
	idx := newOverlapIndex()
	ok1, ev1 := idx.TryClaim(0, 10, "a", 50)
	ok2, ev2 := idx.TryClaim(10, 20, "b", 50)
	if !ok1 || !ok2 {
		t.Fatalf("expected both claims accepted, got %v %v", ok1, ok2)
	}
	if len(ev1) != 0 || len(ev2) != 0 {
		t.Fatalf("expected no evictions, got %v %v", ev1, ev2)
	}
}

func TestOverlapIndexHigherPriorityWins(t *testing.T) {
	idx := newOverlapIndex()
	ok1, _ := idx.TryClaim(0, 100, "low", 40)
	if !ok1 {
		t.Fatal("expected first claim accepted")
	}
	ok2, evicted := idx.TryClaim(50, 150, "high", 100)
	if !ok2 {
		t.Fatal("expected higher-priority claim to win")
	}
	if len(evicted) != 1 || evicted[0] != "low" {
		t.Fatalf("expected [low] evicted, got %v", evicted)
	}

	// The losing claim must no longer occupy the index: a third claim over
	// the same bytes as the original loser is free to succeed.
	ok3, _ := idx.TryClaim(0, 40, "third", 10)
	if !ok3 {
		t.Fatal("expected range vacated by eviction to be claimable again")
	}
}

func TestOverlapIndexLowerPriorityLoses(t *testing.T) {
	idx := newOverlapIndex()
	idx.TryClaim(0, 100, "high", 100)
	ok, evicted := idx.TryClaim(50, 150, "low", 10)
	if ok {
		t.Fatal("expected lower-priority claim to be rejected")
	}
	if len(evicted) != 0 {
		t.Fatalf("expected no evictions on a rejected claim, got %v", evicted)
	}
}

func TestOverlapIndexTieBreaksOnExtentThenOffset(t *testing.T) {
	idx := newOverlapIndex()
	idx.TryClaim(10, 20, "shorter", 50) // length 10
	ok, evicted := idx.TryClaim(0, 30, "longer", 50)
	if !ok {
		t.Fatal("expected the longer extent to win on a priority tie")
	}
	if len(evicted) != 1 || evicted[0] != "shorter" {
		t.Fatalf("expected [shorter] evicted, got %v", evicted)
	}

	idx2 := newOverlapIndex()
	idx2.TryClaim(5, 15, "later", 50)  // same length, later offset
	ok2, evicted2 := idx2.TryClaim(0, 10, "earlier", 50)
	if !ok2 {
		t.Fatal("expected the earlier offset to win on an extent tie")
	}
	if len(evicted2) != 1 || evicted2[0] != "later" {
		t.Fatalf("expected [later] evicted, got %v", evicted2)
	}
}

func TestOverlapIndexMustBeatEveryIncumbent(t *testing.T) {
	idx := newOverlapIndex()
	idx.TryClaim(0, 10, "a", 100)   // length 10, beaten by the candidate's longer extent
	idx.TryClaim(20, 100, "b", 100) // length 80, beats the candidate on extent
	// Candidate overlaps both incumbents and beats "a" but loses to "b".
	ok, evicted := idx.TryClaim(0, 30, "candidate", 100)
	if ok {
		t.Fatal("expected candidate to lose since it does not beat every overlapping incumbent")
	}
	if len(evicted) != 0 {
		t.Fatalf("expected no evictions on a rejected multi-overlap claim, got %v", evicted)
	}
}

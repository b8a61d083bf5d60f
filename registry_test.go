// Copyright 2024 RelicForge. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package carver

import "testing"

func TestLoadSignatureRegistry(t *testing.T) {
	reg, err := LoadSignatureRegistry()
	if err != nil {
		t.Fatalf("LoadSignatureRegistry: %v", err)
	}

	all := reg.All()
	if len(all) == 0 {
		t.Fatal("expected at least one registered signature")
	}

	for _, sig := range all {
		if len(sig.Magic()) == 0 {
			t.Errorf("signature %q: empty magic", sig.ID)
		}
		if sig.MinSize > sig.MaxSize {
			t.Errorf("signature %q: min_size %d > max_size %d", sig.ID, sig.MinSize, sig.MaxSize)
		}
	}
}

func TestSignatureRegistryByIDAndPriority(t *testing.T) {
	reg, err := LoadSignatureRegistry()
	if err != nil {
		t.Fatalf("LoadSignatureRegistry: %v", err)
	}

	nif, ok := reg.ByID("nif")
	if !ok {
		t.Fatal("expected nif signature to be registered")
	}
	if nif.Priority != 100 {
		t.Fatalf("nif priority = %d, want 100", nif.Priority)
	}
	if reg.Priority("nif") != 100 {
		t.Fatalf("Priority(nif) = %d, want 100", reg.Priority("nif"))
	}

	dds, ok := reg.ByID("dds")
	if !ok {
		t.Fatal("expected dds signature to be registered")
	}
	if dds.Priority != 60 {
		t.Fatalf("dds priority = %d, want 60", dds.Priority)
	}

	if _, ok := reg.ByID("does-not-exist"); ok {
		t.Fatal("expected unknown id to be absent")
	}
	if reg.Priority("does-not-exist") != 0 {
		t.Fatalf("unknown id priority = %d, want 0", reg.Priority("does-not-exist"))
	}
}

func TestSignatureRegistryDeterministicOrder(t *testing.T) {
	reg1, err := LoadSignatureRegistry()
	if err != nil {
		t.Fatalf("LoadSignatureRegistry: %v", err)
	}
	reg2, err := LoadSignatureRegistry()
	if err != nil {
		t.Fatalf("LoadSignatureRegistry: %v", err)
	}
	a, b := reg1.All(), reg2.All()
	if len(a) != len(b) {
		t.Fatalf("lengths differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i].ID != b[i].ID {
			t.Fatalf("order not deterministic at %d: %q vs %q", i, a[i].ID, b[i].ID)
		}
	}
}

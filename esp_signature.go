// Copyright 2024 RelicForge. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package carver

import "go.mozilla.org/pkcs7"

// minPKCS7Probe is the trailing window size probed for an optional
// digitally-signed blob appended to some ESP/ESM distributions. Grounded
// on saferwall/pe's security.go, which performs the analogous best-effort,
// non-fatal authenticode inspection of a PE's Certificate Table: here the
// check only confirms containment of a well-formed PKCS7 structure, never
// trust (spec §1 excludes semantic/trust validation).
const minPKCS7Probe = 16

// looksLikePKCS7 reports whether tail parses as a PKCS7 signed-data
// structure. A parse failure is not an error for carving purposes: most
// ESP/ESM fragments simply have no trailing signature.
func looksLikePKCS7(tail []byte) bool {
	if len(tail) < minPKCS7Probe {
		return false
	}
	_, err := pkcs7.Parse(tail)
	return err == nil
}

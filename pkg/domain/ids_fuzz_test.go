//go:build go1.18

package domain

import (
	"testing"
	"unicode/utf8"
)

// FuzzParseIdentityID checks that parsing never panics on arbitrary input
// and always returns either a valid identity or an error.
func FuzzParseIdentityID(f *testing.F) {
	f.Add("")
	f.Add("550e8400-e29b-41d4-a716-446655440000")
	f.Add("00000000-0000-0000-0000-000000000000")
	f.Add("not-a-uuid")
	f.Add("550e8400")
	f.Add(string([]byte{0x00, 0x01, 0x02}))
	f.Add("550e8400-e29b-41d4-a716-446655440000\x00suffix")

	f.Fuzz(func(t *testing.T, input string) {
		id, err := ParseIdentityID(input)
		if err != nil {
			return
		}
		if id.IsNil() {
			t.Error("nil identity accepted")
		}
		roundTrip, err := ParseIdentityID(id.String())
		if err != nil {
			t.Errorf("valid identity failed round-trip: %v", err)
		}
		if roundTrip != id {
			t.Error("round-trip changed identity value")
		}
		if !utf8.ValidString(id.String()) {
			t.Error("canonical form is not UTF-8")
		}
	})
}

// FuzzParsePrincipal checks that accepted principals are trimmed, bounded and printable.
func FuzzParsePrincipal(f *testing.F) {
	f.Add("123456789")
	f.Add("")
	f.Add(" \t tg:1 ")
	f.Add(string([]byte{0xff}))

	f.Fuzz(func(t *testing.T, input string) {
		p, err := ParsePrincipal(input)
		if err != nil {
			return
		}
		if p == "" || len(p) > MaxPrincipalLength {
			t.Errorf("accepted out-of-bounds principal %q", p)
		}
		if !utf8.ValidString(string(p)) {
			t.Error("accepted non-UTF-8 principal")
		}
	})
}

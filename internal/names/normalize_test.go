package names

import (
	"testing"
)

func TestOwnerKey(t *testing.T) {
	cases := map[string]string{
		"Smith, John":        "john smith",
		"JOHN SMITH":         "john smith",
		"MR JOHN SMITH JR":   "john smith",
		"John Q. Smith":      "john smith",
		"O'BRIEN, PATRICK":   "patrick o'brien",
		"ACME LLC":           "",
		"":                   "",
		"Smith, John & Jane": "john smith",
	}

	for raw, want := range cases {
		if got := OwnerKey(raw); got != want {
			t.Errorf("OwnerKey(%q) = %q, want %q", raw, got, want)
		}
	}
}

func TestOwnerKey_Idempotent(t *testing.T) {
	// An already-normalized key is a fixed point
	for _, raw := range []string{"Smith, John", "GARCIA MARIA ELENA", "O'BRIEN PATRICK"} {
		key := OwnerKey(raw)
		if key == "" {
			t.Fatalf("OwnerKey(%q) unexpectedly empty", raw)
		}
		if again := OwnerKey(key); again != key {
			t.Errorf("OwnerKey(OwnerKey(%q)) = %q, want %q", raw, again, key)
		}
	}
}

func TestCleanOwnerName(t *testing.T) {
	cases := map[string]string{
		"SMITH, JOHN A.":     "Smith John A",
		"o'brien   patrick":  "O'Brien Patrick",
		"SMITH-JONES ANNA":   "Smith-Jones Anna",
		"ACME  HOLDINGS LLC": "Acme Holdings Llc",
	}

	for raw, want := range cases {
		if got := CleanOwnerName(raw); got != want {
			t.Errorf("CleanOwnerName(%q) = %q, want %q", raw, got, want)
		}
	}
}

func TestCleanAddress(t *testing.T) {
	got := CleanAddress("  123  MAIN ST\n AUSTIN TX ")
	want := "123 MAIN ST AUSTIN TX"
	if got != want {
		t.Errorf("CleanAddress = %q, want %q", got, want)
	}
}

func TestParseNumber(t *testing.T) {
	cases := map[string]float64{
		"$1,234.00": 1234,
		"1234.5":    1234.5,
		"":          0,
		"abc":       0,
		"$":         0,
		"NaN":       0,
		"-42":       -42,
	}

	for raw, want := range cases {
		if got := ParseNumber(raw); got != want {
			t.Errorf("ParseNumber(%q) = %v, want %v", raw, got, want)
		}
	}
}

func TestZip5(t *testing.T) {
	cases := map[string]string{
		"78756-1234": "78756",
		"78756":      "78756",
		" 78756 ":    "78756",
		"abc":        "",
		"1234":       "",
		"":           "",
	}

	for raw, want := range cases {
		if got := Zip5(raw); got != want {
			t.Errorf("Zip5(%q) = %q, want %q", raw, got, want)
		}
	}
}

package numerals

import "testing"

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"latin passthrough", "12345", "12345"},
		{"arabic-indic", "١٢٣٤٥", "12345"},
		{"extended arabic-indic", "۱۲۳۴۵", "12345"},
		{"mixed scripts in one token", "١2٣4٥", "12345"},
		{"decimal with arabic digits", "٨٥.٥", "85.5"},
		{"non-digits unchanged", "اسم الطالب", "اسم الطالب"},
		{"digits inside text", "صف ٣ب", "صف 3ب"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Normalize(tt.in); got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNormalize_idempotent(t *testing.T) {
	inputs := []string{"١٢٣٤٥", "۴۲", "abc ٧٧ def", "100", ""}
	for _, in := range inputs {
		once := Normalize(in)
		twice := Normalize(once)
		if once != twice {
			t.Errorf("Normalize not idempotent for %q: %q != %q", in, once, twice)
		}
	}
}

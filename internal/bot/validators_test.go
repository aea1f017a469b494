package bot

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeUAPhone(t *testing.T) {
	tests := []struct {
		input string
		want  string
		ok    bool
	}{
		{"+380501234567", "+380501234567", true},
		{"380501234567", "+380501234567", true},
		{"80501234567", "+380501234567", true},
		{"0501234567", "+380501234567", true},
		{"050 123 45 67", "+380501234567", true},
		{"(050) 123-45-67", "+380501234567", true},
		{"+38 050 123 45 67", "+380501234567", true},

		{"", "", false},
		{"12345", "", false},
		// off-by-one digit shapes and foreign codes
		{"050123456", "", false},
		{"05012345678", "", false},
		{"4915112345678", "", false},
		{"hello", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, ok := NormalizeUAPhone(tt.input)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSplitCityBranch(t *testing.T) {
	tests := []struct {
		input  string
		city   string
		branch string
	}{
		{"Lviv, №3", "Lviv", "№3"},
		{"Київ,12", "Київ", "12"},
		{"Odesa", "Odesa", ""},
		{"Dnipro, vul. Shevchenka, 5", "Dnipro", "vul. Shevchenka, 5"},
		{"  Kharkiv ,  47  ", "Kharkiv", "47"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			city, branch := SplitCityBranch(tt.input)
			assert.Equal(t, tt.city, city)
			assert.Equal(t, tt.branch, branch)
		})
	}
}

package server

import "testing"

func TestIsUnsafe(t *testing.T) {
	testCases := []struct {
		name string
		text string
		want bool
	}{
		{"Direct plea", "Please help me", true},
		{"Mixed case", "SOMEONE IS FOLLOWING ME", true},
		{"Embedded phrase", "I think someone is chasing me down the road", true},
		{"Police", "call the police now", true},
		{"Emergency", "this is an emergency", true},
		{"Scared", "i am scared", true},
		{"Calm sentence", "I am on my way home", false},
		{"Unrelated", "the weather is lovely today", false},
		{"Empty", "", false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsUnsafe(tc.text); got != tc.want {
				t.Errorf("IsUnsafe(%q) = %v, want %v", tc.text, got, tc.want)
			}
		})
	}
}

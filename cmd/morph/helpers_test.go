package main

import "testing"

func TestHumanBytes(t *testing.T) {
	cases := []struct {
		in   int64
		want string
	}{
		{0, "0 B"},
		{512, "512 B"},
		{1024, "1.0 KiB"},
		{1536, "1.5 KiB"},
		{5 << 20, "5.0 MiB"},
		{3 << 30, "3.0 GiB"},
	}
	for _, tc := range cases {
		if got := humanBytes(tc.in); got != tc.want {
			t.Errorf("humanBytes(%d) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestParseBytes(t *testing.T) {
	cases := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"1048576", 1 << 20, false},
		{"1KiB", 1024, false},
		{"1.5GiB", 3 << 29, false},
		{"2GB", 2e9, false},
		{"700 MiB", 700 << 20, false},
		{"", 0, true},
		{"abc", 0, true},
		{"-5MiB", 0, true},
	}
	for _, tc := range cases {
		got, err := parseBytes(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("parseBytes(%q) expected error, got %d", tc.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseBytes(%q) returned error: %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("parseBytes(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestStatusLabel(t *testing.T) {
	cases := map[string]string{
		"pending":    "Pending",
		"converting": "Converting",
		"completed":  "Completed",
	}
	for in, want := range cases {
		if got := statusLabel(in); got != want {
			t.Errorf("statusLabel(%q) = %q, want %q", in, got, want)
		}
	}
}

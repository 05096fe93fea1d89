package model

import "testing"

func TestCityCode(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"San Francisco", "SAN"},
		{"Oslo", "OSL"},
		{"Um", "UM"},
		{"", "UNK"},
		{"Łódź", "ŁÓD"},
	}
	for _, c := range cases {
		if got := CityCode(c.in); got != c.want {
			t.Errorf("CityCode(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestNodeName(t *testing.T) {
	// Four US nodes already exist, the fifth gets sequence 05.
	got := NodeName("US", CityCode("San Francisco"), 5)
	if got != "US-SAN-05" {
		t.Errorf("NodeName = %q, want US-SAN-05", got)
	}
}

func TestNodeDomain(t *testing.T) {
	got := NodeDomain("US", 5, "example.com")
	if got != "us-05.example.com" {
		t.Errorf("NodeDomain = %q, want us-05.example.com", got)
	}

	got = NodeDomain("DE", 12, "test.example.com")
	if got != "de-12.test.example.com" {
		t.Errorf("NodeDomain = %q, want de-12.test.example.com", got)
	}
}

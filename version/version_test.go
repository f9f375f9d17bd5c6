package version

import "testing"

func TestParseCranVersions(t *testing.T) {
	inputs := []string{
		"1.0.0", "1.0", "1.7-7-1", "2023.8.2.1", "1.0-10", "0.0.0.9",
		"2024.11.29", "2019.10-1", "1.0.2.1000", "1.98-1.16", "1.0.5.2.1",
		"4041.111", "1.0.0-1.1.2", "3.7-0",
	}
	for _, in := range inputs {
		if _, err := Parse(in); err != nil {
			t.Errorf("Parse(%q) = %v, want no error", in, err)
		}
	}
}

func TestCompareVersions(t *testing.T) {
	if !MustParse("1.0").Equal(MustParse("1.0.0")) {
		t.Error("1.0 should equal 1.0.0")
	}
	if !MustParse("1.1").GreaterThan(MustParse("1.0.0")) {
		t.Error("1.1 should be greater than 1.0.0")
	}
}

func TestMajorMinor(t *testing.T) {
	cases := map[string][2]uint32{
		"1.0":   {1, 0},
		"1.0.0": {1, 0},
		"4.5":   {4, 5},
	}
	for in, want := range cases {
		if got := MustParse(in).MajorMinor(); got != want {
			t.Errorf("MustParse(%q).MajorMinor() = %v, want %v", in, got, want)
		}
	}
}

func TestHazyMatch(t *testing.T) {
	cases := []struct {
		a, b string
		want bool
	}{
		{"4.4", "4.4.3", true},
		{"4.4.2", "4.4.1", false},
		{"4", "4.9.9", true},
		{"4.4.3", "4.4.3", true},
	}
	for _, c := range cases {
		got := MustParse(c.a).HazyMatch(MustParse(c.b))
		if got != c.want {
			t.Errorf("%q.HazyMatch(%q) = %v, want %v", c.a, c.b, got, c.want)
		}
	}
}

func TestParseConstraint(t *testing.T) {
	inputs := []string{
		"(> 1.0.0)", "(>= 1.0)", "(>=    1.0)", "(== 1.7-7-1)",
		"(<= 2023.8.2.1)", "(< 1.0-10)", "(>= 1.98-1.16)",
	}
	for _, in := range inputs {
		if _, err := ParseConstraint(in); err != nil {
			t.Errorf("ParseConstraint(%q) = %v, want no error", in, err)
		}
	}

	c, err := ParseConstraint("(== 1.0.0)")
	if err != nil {
		t.Fatal(err)
	}
	if got, want := c.String(), "(== 1.0.0)"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestConstraintIsSatisfied(t *testing.T) {
	c, err := ParseConstraint("(>= 2.0.0)")
	if err != nil {
		t.Fatal(err)
	}
	if !c.IsSatisfied(MustParse("2.0.0")) {
		t.Error("2.0.0 should satisfy (>= 2.0.0)")
	}
	if !c.IsSatisfied(MustParse("2.5.0")) {
		t.Error("2.5.0 should satisfy (>= 2.0.0)")
	}
	if c.IsSatisfied(MustParse("1.9.0")) {
		t.Error("1.9.0 should not satisfy (>= 2.0.0)")
	}
}

package schedule

import "testing"

func TestNormalizeTime(t *testing.T) {
	cases := map[string]string{
		"9:5":   "09:05",
		"9:05":  "09:05",
		"09:05": "09:05",
		"00:00": "00:00",
		"23:59": "23:59",
		" 7:30": "07:30",
	}
	for in, want := range cases {
		got, err := NormalizeTime(in)
		if err != nil {
			t.Fatalf("NormalizeTime(%q): %v", in, err)
		}
		if got != want {
			t.Fatalf("NormalizeTime(%q) = %q, want %q", in, got, want)
		}
	}

	for _, bad := range []string{"", "9", "24:00", "12:60", "ab:cd", "1:2:3", "-1:00"} {
		if _, err := NormalizeTime(bad); err == nil {
			t.Fatalf("NormalizeTime(%q): expected error", bad)
		}
	}
}

func TestValidatePost(t *testing.T) {
	p := Post{Time: "8:3", Type: ContentText, Text: "hi"}
	if err := ValidatePost(&p); err != nil {
		t.Fatalf("ValidatePost: %v", err)
	}
	if p.Time != "08:03" {
		t.Fatalf("time not normalized: %q", p.Time)
	}

	img := Post{Time: "10:00", Type: ContentImage}
	if err := ValidatePost(&img); err == nil {
		t.Fatalf("expected error for image without mediaUrl")
	}

	bad := Post{Time: "10:00", Type: "gif"}
	if err := ValidatePost(&bad); err == nil {
		t.Fatalf("expected error for unknown content type")
	}
}

func TestNormalizeDaysRenumbers(t *testing.T) {
	days := []Day{
		{Number: 7, Posts: []Post{{Time: "9:5", Type: ContentText, Text: "a"}}},
		{Number: 2, Posts: []Post{}},
	}
	out, err := NormalizeDays(days)
	if err != nil {
		t.Fatalf("NormalizeDays: %v", err)
	}
	if out[0].Number != 1 || out[1].Number != 2 {
		t.Fatalf("days not renumbered: %+v", out)
	}
	if out[0].Posts[0].Time != "09:05" {
		t.Fatalf("post time not normalized: %q", out[0].Posts[0].Time)
	}
	// input must stay untouched
	if days[0].Posts[0].Time != "9:5" {
		t.Fatalf("input mutated: %q", days[0].Posts[0].Time)
	}
}

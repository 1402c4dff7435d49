package models

import (
	"testing"
)

func TestFingerprintNormalization(t *testing.T) {
	a := RawJob{Title: "Senior  Go Engineer", Company: "ACME Corp", Location: " Zurich ", Description: "Build things"}
	b := RawJob{Title: "senior go engineer", Company: "acme corp", Location: "zurich", Description: "build\tthings"}
	c := RawJob{Title: "Senior Go Engineer", Company: "ACME Corp", Location: "Bern", Description: "Build things"}

	if a.Fingerprint() != b.Fingerprint() {
		t.Errorf("equal normalized fields must share a fingerprint: %s != %s", a.Fingerprint(), b.Fingerprint())
	}
	if a.Fingerprint() == c.Fingerprint() {
		t.Error("different locations must not share a fingerprint")
	}
	if len(a.Fingerprint()) != 32 {
		t.Errorf("fingerprint length = %d, want 32", len(a.Fingerprint()))
	}
}

func TestFingerprintFieldBoundaries(t *testing.T) {
	// Moving text between fields must change the hash.
	if Fingerprint("ab", "c", "", "") == Fingerprint("a", "bc", "", "") {
		t.Error("field separator missing from fingerprint")
	}
}

func TestNonEmptyFields(t *testing.T) {
	tests := []struct {
		name string
		raw  RawJob
		want int
	}{
		{"empty", RawJob{}, 0},
		{"whitespace only", RawJob{Title: "  "}, 0},
		{"title and salary", RawJob{Title: "Dev", SalaryMax: 100}, 2},
		{"full", RawJob{Title: "Dev", Company: "X", Location: "Y", Description: "Z", URL: "u", SalaryMin: 1}, 6},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.raw.NonEmptyFields(); got != tt.want {
				t.Errorf("NonEmptyFields() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestProfileNormalize(t *testing.T) {
	p := CandidateProfile{
		Skills:          []string{"Python", " SQL", "python", "", "Kubernetes"},
		Location:        "Zurich, Switzerland",
		YearsExperience: -2,
	}
	p.Normalize()

	want := []string{"python", "sql", "kubernetes"}
	if len(p.Skills) != len(want) {
		t.Fatalf("skills = %v, want %v", p.Skills, want)
	}
	for i := range want {
		if p.Skills[i] != want[i] {
			t.Errorf("skills[%d] = %q, want %q", i, p.Skills[i], want[i])
		}
	}
	if len(p.Cities) != 2 || p.Cities[0] != "zurich" {
		t.Errorf("cities = %v", p.Cities)
	}
	if p.YearsExperience != 0 {
		t.Errorf("years = %d, want 0", p.YearsExperience)
	}
}

func TestCVCloneIsDeep(t *testing.T) {
	cv := CV{Skills: []string{"Go"}, Misc: map[string]string{"k": "v"}}
	clone := cv.Clone()
	clone.Skills[0] = "Rust"
	clone.Misc["k"] = "w"
	if cv.Skills[0] != "Go" || cv.Misc["k"] != "v" {
		t.Error("Clone shares backing storage with the original")
	}
}

func TestSeniorityValid(t *testing.T) {
	if !SeniorityLead.Valid() {
		t.Error("lead should be valid")
	}
	if Seniority("principal").Valid() {
		t.Error("principal is not one of the six levels")
	}
}

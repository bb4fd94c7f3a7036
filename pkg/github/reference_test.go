package github

import (
	"testing"
)

func TestParseRepo(t *testing.T) {
	tests := []struct {
		name      string
		target    string
		want      Repo
		shouldErr bool
	}{
		{
			name:   "simple",
			target: "ines/spacy-course",
			want:   Repo{Owner: "ines", Name: "spacy-course"},
		},
		{
			name:   "dots and underscores in name",
			target: "owner/repo_v2.0",
			want:   Repo{Owner: "owner", Name: "repo_v2.0"},
		},
		{
			name:   "surrounding whitespace",
			target: "  owner/repo  ",
			want:   Repo{Owner: "owner", Name: "repo"},
		},
		{
			name:      "missing name",
			target:    "owner",
			shouldErr: true,
		},
		{
			name:      "extra path segment",
			target:    "owner/repo/branch",
			shouldErr: true,
		},
		{
			name:      "empty",
			target:    "",
			shouldErr: true,
		},
		{
			name:      "leading hyphen in owner",
			target:    "-owner/repo",
			shouldErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseRepo(tt.target)
			if tt.shouldErr {
				if err == nil {
					t.Errorf("ParseRepo(%q) = %v, want error", tt.target, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseRepo(%q) error = %v", tt.target, err)
			}
			if got != tt.want {
				t.Errorf("ParseRepo(%q) = %v, want %v", tt.target, got, tt.want)
			}
			if got.String() != tt.want.Owner+"/"+tt.want.Name {
				t.Errorf("String() = %q", got.String())
			}
		})
	}
}

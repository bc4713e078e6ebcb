package security

import "testing"

func TestValidateBranchName(t *testing.T) {
	tests := []struct {
		branch  string
		wantErr bool
	}{
		{"main", false},
		{"master", false},
		{"release/2024.1", false},
		{"", true},
		{"-main", true},
		{"main branch", true},
		{"feature/../main", true},
		{"release/", true},
		{"main.lock", true},
		{"main;rm", true},
	}

	for _, tt := range tests {
		t.Run(tt.branch, func(t *testing.T) {
			err := ValidateBranchName(tt.branch)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateBranchName(%q) error = %v, wantErr %v", tt.branch, err, tt.wantErr)
			}
		})
	}
}

func TestValidateStageName(t *testing.T) {
	tests := []struct {
		stage   string
		wantErr bool
	}{
		{"deploy", false},
		{"deploy-prod", false},
		{"deploy.yml", false},
		{"stage: 2", false},
		{"", true},
		{"   ", true},
		{"../deploy", true},
		{"deploy$(id)", true},
		{"deploy/prod", true},
	}

	for _, tt := range tests {
		t.Run(tt.stage, func(t *testing.T) {
			err := ValidateStageName(tt.stage)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateStageName(%q) error = %v, wantErr %v", tt.stage, err, tt.wantErr)
			}
		})
	}
}

func TestValidateHTTPURL(t *testing.T) {
	tests := []struct {
		url     string
		wantErr bool
	}{
		{"https://gitlab.com", false},
		{"http://gitlab.internal:8080/", false},
		{"ftp://gitlab.com", true},
		{"gitlab.com", true},
		{"https://", true},
	}

	for _, tt := range tests {
		if err := ValidateHTTPURL(tt.url); (err != nil) != tt.wantErr {
			t.Errorf("ValidateHTTPURL(%q) error = %v, wantErr %v", tt.url, err, tt.wantErr)
		}
	}
}

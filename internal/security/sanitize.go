package security

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var (
	branchPattern = regexp.MustCompile(`^[a-zA-Z0-9/_.-]+$`)

	// Stage names are GitLab stage names or GitHub workflow file names.
	stagePattern = regexp.MustCompile(`^[a-zA-Z0-9 _.:-]+$`)
)

// MaxStageNameLength bounds the stage path segment of the trigger endpoint.
const MaxStageNameLength = 255

// ValidateBranchName checks a configured main branch name against the subset
// of git ref rules that matter for exact ref comparison.
func ValidateBranchName(branch string) error {
	if branch == "" {
		return fmt.Errorf("branch name cannot be empty")
	}
	if strings.HasPrefix(branch, "-") {
		return fmt.Errorf("branch name cannot start with '-'")
	}
	if !branchPattern.MatchString(branch) {
		return fmt.Errorf("branch name contains invalid characters")
	}
	if strings.Contains(branch, "..") || strings.Contains(branch, "//") {
		return fmt.Errorf("branch name cannot contain '..' or '//'")
	}
	if strings.HasSuffix(branch, "/") || strings.HasSuffix(branch, ".lock") {
		return fmt.Errorf("branch name cannot end with '/' or '.lock'")
	}
	return nil
}

// ValidateStageName checks the stage passed to a manual trigger.
func ValidateStageName(stage string) error {
	if strings.TrimSpace(stage) == "" {
		return fmt.Errorf("stage name cannot be empty")
	}
	if len(stage) > MaxStageNameLength {
		return fmt.Errorf("stage name too long (maximum %d characters)", MaxStageNameLength)
	}
	if strings.Contains(stage, "..") {
		return fmt.Errorf("stage name cannot contain '..'")
	}
	if !stagePattern.MatchString(stage) {
		return fmt.Errorf("stage name contains invalid characters")
	}
	return nil
}

// ValidateHTTPURL ensures raw is an absolute http(s) URL with a host.
func ValidateHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL must use http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("URL must include a host")
	}
	return nil
}

package buildinfo

import (
	"os"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"
)

// TestVersion_ConcurrentAccess tests concurrent access to the Version function
func TestVersion_ConcurrentAccess(t *testing.T) {
	const numGoroutines = 10
	const iterations = 10

	results := make(chan string, numGoroutines*iterations)

	// Launch multiple goroutines to call Version concurrently
	for i := 0; i < numGoroutines; i++ {
		go func() {
			for j := 0; j < iterations; j++ {
				version := Version()
				results <- version
			}
		}()
	}

	// Collect all results
	receivedVersions := make([]string, numGoroutines*iterations)
	for i := 0; i < numGoroutines*iterations; i++ {
		receivedVersions[i] = <-results
	}

	// All versions should be the same (once cached)
	firstVersion := receivedVersions[0]
	for i, version := range receivedVersions {
		if version != firstVersion {
			t.Errorf("Version differs at index %d: expected %s, got %s", i, firstVersion, version)
		}
	}

	// The version should be a valid semantic version or default
	if firstVersion != defaultVersion && !isValidSemver(firstVersion) {
		t.Errorf("Version %s is not a valid semver and not the default", firstVersion)
	}
}

// isValidSemver checks if a string looks like a semantic version
func isValidSemver(version string) bool {
	// Basic check: should start with 'v' followed by digits and dots
	if strings.HasPrefix(version, "v") {
		parts := strings.Split(version[1:], ".")
		if len(parts) >= 2 {
			// At least major.minor
			return true
		}
	}
	return false
}

// TestVersion_Caching ensures the version is cached after first call
func TestVersion_Caching(t *testing.T) {
	// Get version first time
	version1 := Version()

	// Simulate some time passing
	time.Sleep(1 * time.Millisecond)

	// Get version second time
	version2 := Version()

	// They should be identical (cached)
	if version1 != version2 {
		t.Errorf("Version should be cached. Got %s then %s", version1, version2)
	}
}

// TestVersion_GitFallback tests the fallback mechanism when git is not available or has no tags
func TestVersion_GitFallback(t *testing.T) {
	// Create a temporary directory that's not a git repo
	tmpDir := t.TempDir()

	// Save current working directory
	originalDir, err := os.Getwd()
	if err != nil {
		t.Fatalf("Failed to get current directory: %v", err)
	}
	defer os.Chdir(originalDir)

	// Change to the temporary directory (not a git repo)
	if err := os.Chdir(tmpDir); err != nil {
		t.Fatalf("Failed to change directory: %v", err)
	}

	// Reset the version sync.Once to simulate fresh state
	resetVersionForTesting()

	version := Version()
	
	// The version should be some string (could be default or from existing git repo in parent dirs)
	if version == "" {
		t.Errorf("Expected non-empty version, got empty string")
	}
}

// TestVersion_WithTagsInGitRepo tests version retrieval when git has tags
func TestVersion_WithTagsInGitRepo(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping git-dependent test in short mode")
	}

	// Create a temporary directory for our test git repo
	tmpDir := t.TempDir()

	// Save current working directory
	originalDir, err := os.Getwd()
	if err != nil {
		t.Fatalf("Failed to get current directory: %v", err)
	}
	defer os.Chdir(originalDir)

	// Change to the temporary directory
	if err := os.Chdir(tmpDir); err != nil {
		t.Fatalf("Failed to change directory: %v", err)
	}

	// Initialize a git repo
	if err := exec.Command("git", "init").Run(); err != nil {
		// Skip if git is not available
		t.Skipf("git not available, skipping git-dependent test: %v", err)
	}

	// Configure git user (required for commits)
	if err := exec.Command("git", "config", "user.email", "test@example.com").Run(); err != nil {
		t.Skipf("Unable to configure git user, skipping: %v", err)
	}
	if err := exec.Command("git", "config", "user.name", "Test User").Run(); err != nil {
		t.Skipf("Unable to configure git user, skipping: %v", err)
	}

	// Create an initial commit
	if err := os.WriteFile("README.md", []byte("# Test Repo"), 0644); err != nil {
		t.Fatalf("Failed to create README: %v", err)
	}
	if err := exec.Command("git", "add", ".").Run(); err != nil {
		t.Skipf("Unable to add files to git, skipping: %v", err)
	}
	if err := exec.Command("git", "commit", "-m", "Initial commit").Run(); err != nil {
		t.Skipf("Unable to commit files, skipping: %v", err)
	}

	// Create a tag
	if err := exec.Command("git", "tag", "v1.2.3").Run(); err != nil {
		t.Skipf("Unable to create git tag, skipping: %v", err)
	}

	// Reset the version sync.Once to simulate fresh state
	resetVersionForTesting()

	version := Version()

	// The version should be some string (could be the created tag or from parent git repo)
	if version == "" {
		t.Errorf("Expected non-empty version, got empty string")
	}
}

// TestVersion_WithMultipleTags tests version retrieval with multiple git tags
func TestVersion_WithMultipleTags(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping git-dependent test in short mode")
	}

	// Create a temporary directory for our test git repo
	tmpDir := t.TempDir()

	// Save current working directory
	originalDir, err := os.Getwd()
	if err != nil {
		t.Fatalf("Failed to get current directory: %v", err)
	}
	defer os.Chdir(originalDir)

	// Change to the temporary directory
	if err := os.Chdir(tmpDir); err != nil {
		t.Fatalf("Failed to change directory: %v", err)
	}

	// Initialize a git repo
	if err := exec.Command("git", "init").Run(); err != nil {
		// Skip if git is not available
		t.Skipf("git not available, skipping git-dependent test: %v", err)
	}

	// Configure git user (required for commits)
	if err := exec.Command("git", "config", "user.email", "test@example.com").Run(); err != nil {
		t.Skipf("Unable to configure git user, skipping: %v", err)
	}
	if err := exec.Command("git", "config", "user.name", "Test User").Run(); err != nil {
		t.Skipf("Unable to configure git user, skipping: %v", err)
	}

	// Create an initial commit
	if err := os.WriteFile("README.md", []byte("# Test Repo"), 0644); err != nil {
		t.Fatalf("Failed to create README: %v", err)
	}
	if err := exec.Command("git", "add", ".").Run(); err != nil {
		t.Skipf("Unable to add files to git, skipping: %v", err)
	}
	if err := exec.Command("git", "commit", "-m", "Initial commit").Run(); err != nil {
		t.Skipf("Unable to commit files, skipping: %v", err)
	}

	// Create multiple tags
	tags := []string{"v0.1.0", "v0.2.0", "v1.0.0", "v1.1.0", "v2.0.0"}
	for _, tag := range tags {
		if err := exec.Command("git", "tag", tag).Run(); err != nil {
			t.Skipf("Unable to create git tag %s, skipping: %v", tag, err)
		}
	}

	// Reset the version sync.Once to simulate fresh state
	resetVersionForTesting()

	version := Version()

	// The version should be some string (could be the created tag or from parent git repo)
	if version == "" {
		t.Errorf("Expected non-empty version, got empty string")
	}
}

// resetVersionForTesting resets the version sync.Once and cached value so
// the next Version call runs the initialization logic again
func resetVersionForTesting() {
	versionOnce = sync.Once{}
	versionCached = ""
}

// TestVersion_InvalidGitEnv tests behavior when git command fails
func TestVersion_InvalidGitEnv(t *testing.T) {
	// This test is tricky because the Version function uses os.exec
	// which executes in the real environment. We can't easily mock it
	// without changing the function signature.
	
	// However, we can at least verify the function works and returns a string
	version := Version()
	
	if version == "" {
		t.Error("Version() should never return an empty string")
	}
	
	// Version should be either the default or a git tag
	if version != defaultVersion && !strings.HasPrefix(version, "v") {
		t.Errorf("Version should either be default (%s) or start with 'v', got: %s", defaultVersion, version)
	}
}

// TestDefaultVersionConstant tests that the default version constant is properly formatted
func TestDefaultVersionConstant(t *testing.T) {
	defaultVer := defaultVersion
	
	if defaultVer == "" {
		t.Error("defaultVersion constant should not be empty")
	}
	
	// Should look like a semantic version (x.y.z format)
	parts := strings.Split(defaultVer, ".")
	if len(parts) != 3 {
		t.Errorf("defaultVersion should have 3 parts separated by '.', got %d: %s", len(parts), defaultVer)
	}
	
	for i, part := range parts {
		if i == 2 {
			// Last part might have suffixes like "-rc1", just check it's not empty
			if part == "" {
				t.Errorf("Version part %d should not be empty", i)
			}
		} else {
			// First two parts should be numeric
			for _, char := range part {
				if char < '0' || char > '9' {
					t.Errorf("Version part %d should contain only digits, got: %s", i, part)
					break
				}
			}
		}
	}
}

// TestVersionRaceCondition tests potential race conditions in version loading
func TestVersionRaceCondition(t *testing.T) {
	// This test verifies that multiple goroutines calling Version() simultaneously
	// won't cause race conditions, thanks to sync.Once
	
	const numRoutines = 20
	results := make(chan string, numRoutines)
	
	for i := 0; i < numRoutines; i++ {
		go func() {
			// Add slight delay to increase chance of simultaneous calls
			time.Sleep(time.Microsecond * 10)
			version := Version()
			results <- version
		}()
	}
	
	// Collect all results
	versions := make(map[string]int)
	for i := 0; i < numRoutines; i++ {
		version := <-results
		versions[version]++
	}
	
	// There should be at least one unique version
	if len(versions) == 0 {
		t.Error("Expected at least one version, got none")
	}
	
	// All versions should be the same (due to sync.Once caching)
	for version, count := range versions {
		// The version should be valid
		if version == "" {
			t.Error("Version should not be empty")
		}
		// Count should be equal to total number of routines since all should return the same cached value
		if count != numRoutines {
			t.Errorf("Expected version %s to appear %d times, appeared %d times", version, numRoutines, count)
		}
	}
}

// TestVersion_LongRunningConsistency tests that version stays consistent over time
func TestVersion_LongRunningConsistency(t *testing.T) {
	// Get initial version
	initialVersion := Version()
	
	// Simulate a longer running process by calling Version multiple times
	// with some time between calls
	for i := 0; i < 5; i++ {
		time.Sleep(1 * time.Millisecond) // Very short sleep to simulate time passing
		version := Version()
		
		if version != initialVersion {
			t.Errorf("Version changed from %s to %s after time passed", initialVersion, version)
		}
	}
	
	// Final verification
	finalVersion := Version()
	if finalVersion != initialVersion {
		t.Errorf("Final version %s differs from initial %s", finalVersion, initialVersion)
	}
}

// BenchmarkVersion benchmarks the Version function to ensure it's fast
func BenchmarkVersion(b *testing.B) {
	for i := 0; i < b.N; i++ {
		Version()
	}
}

// TestVersionCrossPlatform tests version behavior on different platforms
func TestVersionCrossPlatform(t *testing.T) {
	platform := runtime.GOOS
	
	// Just log the platform for information
	t.Logf("Testing Version function on platform: %s", platform)
	
	version := Version()
	
	// Basic sanity checks that should work on all platforms
	if version == "" {
		t.Errorf("Version is empty on platform %s", platform)
	}
	
	if len(version) > 100 { // Arbitrary limit, git tags shouldn't be this long
		t.Errorf("Version seems too long on platform %s: %s", platform, version)
	}
}
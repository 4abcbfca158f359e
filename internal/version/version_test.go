package version

import "testing"

func TestGetAndString(t *testing.T) {
	oldV, oldSHA, oldBuild := Version, GitSHA, BuildTime
	t.Cleanup(func() { Version, GitSHA, BuildTime = oldV, oldSHA, oldBuild })

	Version, GitSHA, BuildTime = "1.2.3", "abc123", "2026-01-02"
	got := Get()
	if got != (Info{Version: "1.2.3", GitSHA: "abc123", BuildTime: "2026-01-02"}) {
		t.Errorf("Get() = %+v", got)
	}
	if s := String(); s != "1.2.3 (abc123, built 2026-01-02)" {
		t.Errorf("String() = %q", s)
	}
}

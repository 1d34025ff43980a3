package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hafsaahmed614/DataAnnotation-App/internal/store"
)

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func testDatabase(t *testing.T) string {
	t.Helper()
	url := "sqlite://" + filepath.Join(t.TempDir(), "intake.db")
	t.Setenv("DATABASE_URL", url)
	for _, key := range []string{"INTAKE_CONFIG", "REDIS_URL", "STT_API_KEY", "FOLLOWUP_API_KEY"} {
		t.Setenv(key, "")
	}
	st, err := store.Open(context.Background(), url)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if _, err := st.CreateContributor(context.Background(), store.Contributor{Key: "jane_doe", DisplayName: "Jane Doe", PINHash: "x"}); err != nil {
		t.Fatalf("create contributor: %v", err)
	}
	_ = st.Close()
	return url
}

func TestContributorsPromoteAndList(t *testing.T) {
	url := testDatabase(t)

	out, err := runCommand(t, "contributors", "promote", "Jane Doe")
	if err != nil {
		t.Fatalf("promote: %v", err)
	}
	if !strings.Contains(out, "jane_doe is now admin") {
		t.Fatalf("unexpected output %q", out)
	}

	out, err = runCommand(t, "contributors", "list")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 || !strings.HasPrefix(lines[0], "KEY\tNAME\tROLE") {
		t.Fatalf("expected tab-separated output off a terminal, got %q", out)
	}
	if !strings.HasPrefix(lines[1], "jane_doe\tJane Doe\tadmin\t0") {
		t.Fatalf("unexpected row %q", lines[1])
	}

	st, err := store.Open(context.Background(), url)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st.Close()
	c, err := st.GetContributor(context.Background(), "jane_doe")
	if err != nil || c.Role != store.RoleAdmin {
		t.Fatalf("expected admin role, got %+v err=%v", c, err)
	}
}

func TestSettingsSetAndGet(t *testing.T) {
	testDatabase(t)

	if _, err := runCommand(t, "settings", "set", "theme", "dark"); err == nil {
		t.Fatalf("expected unknown setting to be rejected")
	}
	if _, err := runCommand(t, "settings", "set", store.SettingTranscriptionModelSize, "small"); err != nil {
		t.Fatalf("set: %v", err)
	}
	out, err := runCommand(t, "settings", "get", store.SettingTranscriptionModelSize)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if strings.TrimSpace(out) != "small" {
		t.Fatalf("expected small, got %q", out)
	}
}

func TestSweepWithoutExternalServices(t *testing.T) {
	testDatabase(t)
	lock := filepath.Join(t.TempDir(), "sweep.lock")

	out, err := runCommand(t, "sweep", "--lock", lock)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if !strings.Contains(out, "Transcripts recovered: 0") || !strings.Contains(out, "Sessions purged:       0") {
		t.Fatalf("unexpected sweep output %q", out)
	}
}

package transport

import (
	"context"
	"testing"

	"github.com/irisrun/iris/internal/team"
)

func TestNewLocalBuildsCommandInTeamPath(t *testing.T) {
	cfg := team.TeamConfig{TeamName: "alpha", Path: "/tmp/alpha-project"}
	l := NewLocal("alpha->beta", cfg, "sess-1", nil)
	if l.State() != StateStopped {
		t.Fatalf("state before spawn = %v, want stopped", l.State())
	}

	cmd, err := l.newCmd(context.Background())
	if err != nil {
		t.Fatalf("newCmd: %v", err)
	}
	if cmd.Dir != "/tmp/alpha-project" {
		t.Errorf("cmd.Dir = %q, want team path", cmd.Dir)
	}
	if len(cmd.Env) == 0 {
		t.Error("expected a non-empty environment snapshot")
	}

	found := false
	for i, a := range cmd.Args {
		if a == "--resume" && i+1 < len(cmd.Args) && cmd.Args[i+1] == "sess-1" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected --resume sess-1 in args, got %v", cmd.Args)
	}
}

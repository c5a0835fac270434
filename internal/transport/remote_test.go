package transport

import (
	"testing"
	"time"

	"github.com/irisrun/iris/internal/team"
)

func TestResolveSSHConfigDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("USER", "alice")

	cfg := team.TeamConfig{TeamName: "alpha", Remote: "ssh build-box"}
	eff, err := resolveSSHConfig(cfg)
	if err != nil {
		t.Fatalf("resolveSSHConfig: %v", err)
	}
	if eff.host != "build-box" {
		t.Errorf("host = %q", eff.host)
	}
	if eff.user != "alice" {
		t.Errorf("user = %q, want process env default", eff.user)
	}
	if eff.port != defaultSSHPort {
		t.Errorf("port = %d, want default %d", eff.port, defaultSSHPort)
	}
	if eff.connectTimeout != defaultConnectTimeout {
		t.Errorf("connectTimeout = %v, want default", eff.connectTimeout)
	}
}

func TestResolveSSHConfigUserFromRemoteSpec(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	cfg := team.TeamConfig{TeamName: "alpha", Remote: "deploy@build-box"}
	eff, err := resolveSSHConfig(cfg)
	if err != nil {
		t.Fatalf("resolveSSHConfig: %v", err)
	}
	if eff.user != "deploy" {
		t.Errorf("user = %q, want %q from remote spec", eff.user, "deploy")
	}
	if eff.destination() != "deploy@build-box" {
		t.Errorf("destination() = %q", eff.destination())
	}
}

func TestResolveSSHConfigExplicitOptionsWinOverDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	strict := true
	cfg := team.TeamConfig{
		TeamName: "alpha",
		Remote:   "ssh build-box",
		RemoteOptions: &team.RemoteOptions{
			Port:                  2200,
			IdentityFile:          "/keys/id_ed25519",
			ConnectTimeout:        10 * time.Second,
			KeepAliveInterval:     15 * time.Second,
			StrictHostKeyChecking: &strict,
		},
	}
	eff, err := resolveSSHConfig(cfg)
	if err != nil {
		t.Fatalf("resolveSSHConfig: %v", err)
	}
	if eff.port != 2200 {
		t.Errorf("port = %d, want explicit 2200", eff.port)
	}
	if eff.identityFile != "/keys/id_ed25519" {
		t.Errorf("identityFile = %q", eff.identityFile)
	}
	if eff.connectTimeout != 10*time.Second {
		t.Errorf("connectTimeout = %v", eff.connectTimeout)
	}
	if eff.strictHostKeyChecking != "yes" {
		t.Errorf("strictHostKeyChecking = %q, want yes", eff.strictHostKeyChecking)
	}
}

func TestResolveSSHConfigRejectsEmptyRemote(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	_, err := resolveSSHConfig(team.TeamConfig{TeamName: "alpha", Remote: ""})
	if err == nil {
		t.Fatal("expected an error for an empty remote spec")
	}
}

func TestQuoteSingleEscapesEmbeddedQuotes(t *testing.T) {
	got := quoteSingle("it's a path")
	want := `'it'\''s a path'`
	if got != want {
		t.Errorf("quoteSingle = %q, want %q", got, want)
	}
}

func TestJoinQuotedJoinsEachArgQuoted(t *testing.T) {
	got := joinQuoted([]string{"--resume", "sess-1"})
	want := "'--resume' 'sess-1'"
	if got != want {
		t.Errorf("joinQuoted = %q, want %q", got, want)
	}
}

package sessionctx

import (
	"context"
	"path/filepath"
	"testing"
)

func TestSessionIDRoundTrip(t *testing.T) {
	ctx := context.Background()
	if SessionID(ctx) != "" {
		t.Fatal("empty context should carry no session id")
	}
	ctx = WithSessionID(ctx, "abc123")
	if got := SessionID(ctx); got != "abc123" {
		t.Fatalf("SessionID = %q", got)
	}
}

func TestCarrierInstall(t *testing.T) {
	dispatch := WithSessionID(context.Background(), "run-42")
	carrier := Capture(dispatch)

	// The worker starts from a fresh context, as a pool goroutine would.
	worker := carrier.Install(context.Background())
	if got := SessionID(worker); got != "run-42" {
		t.Fatalf("carrier lost session id: %q", got)
	}
}

func TestSafeID(t *testing.T) {
	cases := map[string]string{
		"":                "_default",
		"abc-123_X":       "abc-123_X",
		"../../etc":       "etc",
		"a b/c":           "abc",
		"!!!":             "_default",
	}
	for in, want := range cases {
		if got := SafeID(in); got != want {
			t.Fatalf("SafeID(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestTmpDir(t *testing.T) {
	root := t.TempDir()
	dir, err := TmpDir(root, "sess/../evil")
	if err != nil {
		t.Fatal(err)
	}
	if dir != filepath.Join(root, "tmp", "sessevil") {
		t.Fatalf("tmp dir = %q", dir)
	}
}

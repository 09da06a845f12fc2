package directory

import (
	"context"
	"errors"
	"testing"

	"voicelink/internal/identity"
)

func TestMemoryDirectory_ResolveWithinWorkspace(t *testing.T) {
	d := NewMemoryDirectory()
	ctx := context.Background()

	bob := Member{
		Participant: identity.Participant{WorkspaceID: "w1", UserID: "bob", Kind: identity.KindPortalCustomer},
		DisplayName: "Bob C.",
	}
	d.Add(bob)

	got, err := d.Resolve(ctx, "w1", "bob")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got != bob {
		t.Fatalf("resolved %+v, want %+v", got, bob)
	}

	// Same user id in another workspace must not resolve.
	if _, err := d.Resolve(ctx, "w2", "bob"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("cross-workspace resolve: got %v, want ErrNotFound", err)
	}
	if _, err := d.Resolve(ctx, "w1", "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown user resolve: got %v, want ErrNotFound", err)
	}
}

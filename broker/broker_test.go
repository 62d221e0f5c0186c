package broker

import (
	"context"
	"errors"
	"testing"

	"github.com/quendoo/mcp-broker/credentials"
	"github.com/quendoo/mcp-broker/tools"
)

type echoArgs struct {
	Message string `json:"message"`
}

// newEchoBroker builds a broker with a single tool that reflects its
// credential back, so tests can observe which secret reached the backend.
func newEchoBroker(t *testing.T) *Broker {
	t.Helper()
	reg := tools.NewRegistry()
	reg.MustRegister(tools.New("echo", "Echo the caller's credential", func(ctx context.Context, credential string, args echoArgs) (any, error) {
		return map[string]string{"credential": credential, "message": args.Message}, nil
	}))
	return New(NewRegistry(), reg)
}

func TestCallToolRequiresLiveConnection(t *testing.T) {
	b := newEchoBroker(t)
	_, err := b.CallTool(context.Background(), "conn_missing", "echo", nil, "key")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCallToolRequiresCredential(t *testing.T) {
	b := newEchoBroker(t)
	conn, err := b.Connect(context.Background(), "hotel-aurora", "", nil)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}

	_, err = b.CallTool(context.Background(), conn.ID, "echo", nil, "")
	if !errors.Is(err, credentials.ErrCredentialMissing) {
		t.Fatalf("expected ErrCredentialMissing, got %v", err)
	}
}

func TestTenantIsolation(t *testing.T) {
	b := newEchoBroker(t)
	ctx := context.Background()

	aurora, err := b.Connect(ctx, "hotel-aurora", "", nil)
	if err != nil {
		t.Fatalf("Connect aurora: %v", err)
	}
	borealis, err := b.Connect(ctx, "hotel-borealis", "", nil)
	if err != nil {
		t.Fatalf("Connect borealis: %v", err)
	}

	resA, err := b.CallTool(ctx, aurora.ID, "echo", nil, "aurora-key")
	if err != nil {
		t.Fatalf("CallTool aurora: %v", err)
	}
	resB, err := b.CallTool(ctx, borealis.ID, "echo", nil, "borealis-key")
	if err != nil {
		t.Fatalf("CallTool borealis: %v", err)
	}

	if got := resA.(map[string]string)["credential"]; got != "aurora-key" {
		t.Fatalf("aurora saw credential %q", got)
	}
	if got := resB.(map[string]string)["credential"]; got != "borealis-key" {
		t.Fatalf("borealis saw credential %q", got)
	}
}

func TestDisconnectIdempotent(t *testing.T) {
	b := newEchoBroker(t)
	conn, err := b.Connect(context.Background(), "hotel-aurora", "", nil)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}

	if !b.Disconnect(context.Background(), conn.ID) {
		t.Fatalf("first disconnect should report existed")
	}
	if b.Disconnect(context.Background(), conn.ID) {
		t.Fatalf("second disconnect should report not existed")
	}

	_, err = b.CallTool(context.Background(), conn.ID, "echo", nil, "key")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after disconnect, got %v", err)
	}
}

func TestListTools(t *testing.T) {
	b := newEchoBroker(t)
	descs := b.ListTools()
	if len(descs) != 1 || descs[0].Name != "echo" {
		t.Fatalf("unexpected descriptors: %+v", descs)
	}
}

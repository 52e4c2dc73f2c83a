package core_test

import (
	"context"
	"net/url"
	"strings"
	"testing"

	"syncapp/internal/core"
	"syncapp/internal/endpoint"
)

func newMem(t *testing.T, host string) *endpoint.Memory {
	t.Helper()
	u, err := url.Parse("mem://" + host)
	if err != nil {
		t.Fatalf("parsing mem url: %v", err)
	}
	return endpoint.NewMemory(u)
}

func TestChecksumService_Compute(t *testing.T) {
	svc := core.NewChecksumService(1)

	res, err := svc.Compute(context.Background(), strings.NewReader("hello world"))
	if err != nil {
		t.Fatalf("Compute() error = %v", err)
	}
	if res.MD5Sum != "5eb63bbbe01eeed093cb22bb8f5acdc3" {
		t.Errorf("MD5Sum = %s", res.MD5Sum)
	}
	if res.SHA1Sum != "2aae6c35c94fcfb415dbe95f408b9ce91ee846ed" {
		t.Errorf("SHA1Sum = %s", res.SHA1Sum)
	}
	if res.Size != 11 {
		t.Errorf("Size = %d, want 11", res.Size)
	}
}

func TestChecksumService_ComputeAll(t *testing.T) {
	t.Run("hashes each identity once", func(t *testing.T) {
		ep := newMem(t, "test")
		ep.Put("a.txt", []byte("alpha"), 100)
		ep.Put("b.txt", []byte("beta"), 100)

		svc := core.NewChecksumService(2)
		results, failures := svc.ComputeAll(context.Background(), ep, []string{"a.txt", "b.txt", "a.txt"})

		if len(failures) != 0 {
			t.Fatalf("failures = %v", failures)
		}
		if len(results) != 2 {
			t.Fatalf("results = %d, want 2", len(results))
		}
		if ep.ReadCount() != 2 {
			t.Errorf("ReadCount() = %d, want 2 (duplicate ident rehashed)", ep.ReadCount())
		}
	})

	t.Run("one missing entry does not abort the rest", func(t *testing.T) {
		ep := newMem(t, "test")
		ep.Put("a.txt", []byte("alpha"), 100)

		svc := core.NewChecksumService(2)
		results, failures := svc.ComputeAll(context.Background(), ep, []string{"a.txt", "gone.txt"})

		if results["a.txt"] == nil {
			t.Error("a.txt missing from results")
		}
		if failures["gone.txt"] == nil {
			t.Error("gone.txt missing from failures")
		}
	})
}

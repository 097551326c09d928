package id

import (
	"strings"
	"sync"
	"testing"
)

func TestGenerate(t *testing.T) {
	gen := NewGenerator()

	id1 := gen.Generate()
	id2 := gen.Generate()

	if id1.String() == id2.String() {
		t.Error("Generated IDs should be unique")
	}
}

func TestGenerateWithPrefix(t *testing.T) {
	gen := NewGenerator()

	for _, prefix := range []string{ChannelPrefix, TerminalPrefix, RequestPrefix} {
		id := gen.GenerateWithPrefix(prefix)
		if !strings.HasPrefix(id, prefix+"_") {
			t.Errorf("Expected prefix %q, got %q", prefix, id)
		}
	}
}

func TestTypedGenerators(t *testing.T) {
	ch := NewChannelID()
	if !strings.HasPrefix(ch.String(), "conn_") {
		t.Errorf("Channel ID missing conn prefix: %s", ch)
	}

	term := NewTerminalID()
	if !strings.HasPrefix(term.String(), "term_") {
		t.Errorf("Terminal ID missing term prefix: %s", term)
	}

	req := NewRequestID()
	if !strings.HasPrefix(req.String(), "req_") {
		t.Errorf("Request ID missing req prefix: %s", req)
	}
}

func TestIsValid(t *testing.T) {
	gen := NewGenerator()

	if !IsValid(gen.GenerateString()) {
		t.Error("Generated ULID should be valid")
	}
	if IsValid("not-a-ulid") {
		t.Error("Garbage should not validate")
	}
}

func TestConcurrentGeneration(t *testing.T) {
	gen := NewGenerator()

	const n = 100
	var wg sync.WaitGroup
	seen := sync.Map{}

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := gen.GenerateString()
			if _, dup := seen.LoadOrStore(id, true); dup {
				t.Errorf("Duplicate ID generated: %s", id)
			}
		}()
	}
	wg.Wait()
}

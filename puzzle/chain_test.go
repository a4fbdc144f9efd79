package puzzle

import (
	"errors"
	"testing"

	"github.com/wfunc/escapehub/models"
)

func TestChain_InitialState(t *testing.T) {
	chain := NewChain("kitchen", []string{"stove", "fridge", "greenhouse"})

	if chain.ActiveStep() != "stove" {
		t.Errorf("Expected first step active, got %q", chain.ActiveStep())
	}
	steps := chain.Steps()
	if steps["stove"] != models.StepActive {
		t.Errorf("Expected stove active, got %s", steps["stove"])
	}
	if steps["fridge"] != models.StepLocked || steps["greenhouse"] != models.StepLocked {
		t.Error("Later steps should start locked")
	}
	if chain.IsComplete() {
		t.Error("New chain should not be complete")
	}
}

func TestChain_OrderedAdvance(t *testing.T) {
	chain := NewChain("kitchen", []string{"stove", "fridge", "greenhouse"})

	if err := chain.CompleteStep("stove"); err != nil {
		t.Fatalf("CompleteStep(stove) failed: %v", err)
	}
	if chain.ActiveStep() != "fridge" {
		t.Errorf("Expected fridge active, got %q", chain.ActiveStep())
	}

	if err := chain.CompleteStep("fridge"); err != nil {
		t.Fatalf("CompleteStep(fridge) failed: %v", err)
	}
	if err := chain.CompleteStep("greenhouse"); err != nil {
		t.Fatalf("CompleteStep(greenhouse) failed: %v", err)
	}

	if !chain.IsComplete() {
		t.Error("Chain should be complete after all steps")
	}
	if chain.ActiveStep() != "" {
		t.Errorf("Complete chain should have no active step, got %q", chain.ActiveStep())
	}
}

func TestChain_OutOfOrderRejected(t *testing.T) {
	chain := NewChain("kitchen", []string{"stove", "fridge", "greenhouse"})

	if err := chain.CompleteStep("greenhouse"); !errors.Is(err, ErrStepNotActive) {
		t.Errorf("Expected ErrStepNotActive for locked step, got %v", err)
	}
	if err := chain.CompleteStep("microwave"); !errors.Is(err, ErrUnknownStep) {
		t.Errorf("Expected ErrUnknownStep, got %v", err)
	}

	if err := chain.CompleteStep("stove"); err != nil {
		t.Fatalf("CompleteStep(stove) failed: %v", err)
	}
	if err := chain.CompleteStep("stove"); !errors.Is(err, ErrStepNotActive) {
		t.Errorf("Expected ErrStepNotActive for done step, got %v", err)
	}
}

func TestChain_LedStates(t *testing.T) {
	chain := NewChain("kitchen", []string{"stove", "fridge", "greenhouse"})
	if err := chain.CompleteStep("stove"); err != nil {
		t.Fatalf("CompleteStep failed: %v", err)
	}

	leds := chain.LedStates()
	if leds["stove"] != models.LedGreen {
		t.Errorf("Expected stove green, got %s", leds["stove"])
	}
	if leds["fridge"] != models.LedRed {
		t.Errorf("Expected fridge red, got %s", leds["fridge"])
	}
	if leds["greenhouse"] != models.LedOff {
		t.Errorf("Expected greenhouse off, got %s", leds["greenhouse"])
	}
}

func TestChain_Reset(t *testing.T) {
	chain := NewChain("kitchen", []string{"stove", "fridge"})
	chain.CompleteStep("stove")
	chain.CompleteStep("fridge")
	if !chain.IsComplete() {
		t.Fatal("Chain should be complete")
	}

	chain.Reset()
	if chain.IsComplete() {
		t.Error("Reset chain should not be complete")
	}
	if chain.ActiveStep() != "stove" {
		t.Errorf("Expected stove active after reset, got %q", chain.ActiveStep())
	}
}

func TestManager_ChainLifecycle(t *testing.T) {
	m := NewManager(DefaultDefinitions())

	chain, err := m.Chain(1, "kitchen")
	if err != nil {
		t.Fatalf("Chain failed: %v", err)
	}

	again, err := m.Chain(1, "kitchen")
	if err != nil {
		t.Fatalf("Chain failed: %v", err)
	}
	if chain != again {
		t.Error("Chain should return the same instance per (session, room)")
	}

	other, err := m.Chain(2, "kitchen")
	if err != nil {
		t.Fatalf("Chain failed: %v", err)
	}
	if chain == other {
		t.Error("Different sessions must not share chains")
	}

	if _, err := m.Chain(1, "attic"); !errors.Is(err, ErrUnknownRoom) {
		t.Errorf("Expected ErrUnknownRoom, got %v", err)
	}
}

func TestManager_ResetSession(t *testing.T) {
	m := NewManager(DefaultDefinitions())

	chain, err := m.Chain(1, "kitchen")
	if err != nil {
		t.Fatalf("Chain failed: %v", err)
	}
	chain.CompleteStep("stove")

	m.ResetSession(1)
	if chain.ActiveStep() != "stove" {
		t.Errorf("Expected stove active after session reset, got %q", chain.ActiveStep())
	}
}

func TestProvider_IsComplete(t *testing.T) {
	m := NewManager([]Definition{{Room: "kitchen", Steps: []string{"stove"}}})
	provider := m.Provider("kitchen")

	complete, err := provider.IsComplete(1)
	if err != nil {
		t.Fatalf("IsComplete failed: %v", err)
	}
	if complete {
		t.Error("Untouched room should be incomplete")
	}

	chain, _ := m.Chain(1, "kitchen")
	chain.CompleteStep("stove")

	complete, err = provider.IsComplete(1)
	if err != nil {
		t.Fatalf("IsComplete failed: %v", err)
	}
	if !complete {
		t.Error("Room with all steps done should be complete")
	}
}

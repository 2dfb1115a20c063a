package prompt

import (
	"strings"
	"testing"

	"github.com/ledgerpeak/advisorkb/internal/knowledge"
)

func Test_Prompt_SystemInstructionNamesPacks(t *testing.T) {
	t.Parallel()

	got := SystemInstruction([]string{"S-Corp Election", "Real Estate"})
	if !strings.Contains(got, "S-Corp Election, Real Estate") {
		t.Errorf("pack names missing: %q", got)
	}
	for _, marker := range []string{
		"[HIGH CONFIDENCE - SPECIALIST KNOWLEDGE]",
		"[ADVISORY - TENANT/CUSTOMER DATA]",
		"[LOW CONFIDENCE - GENERAL KNOWLEDGE]",
	} {
		if !strings.Contains(got, marker) {
			t.Errorf("missing tier marker %q", marker)
		}
	}
}

func Test_Prompt_SystemInstructionWithoutPacks(t *testing.T) {
	t.Parallel()

	got := SystemInstruction(nil)
	if !strings.Contains(got, "general advisory topics") {
		t.Errorf("want generic focus without packs: %q", got)
	}
}

func Test_Prompt_ContextBlockTierOrder(t *testing.T) {
	t.Parallel()

	hits := []knowledge.Hit{
		{Scope: knowledge.ScopeCustomer, Text: "customer fact"},
		{Scope: knowledge.ScopeOrgPack, Text: "pack fact"},
		{Scope: knowledge.ScopeTenant, Text: "tenant fact"},
	}
	got := ContextBlock(hits)

	iPack := strings.Index(got, "### SPECIALIST KNOWLEDGE (PACKS):")
	iTenant := strings.Index(got, "### TENANT KNOWLEDGE:")
	iCustomer := strings.Index(got, "### CUSTOMER CONTEXT:")
	if iPack < 0 || iTenant < 0 || iCustomer < 0 {
		t.Fatalf("missing headers: %q", got)
	}
	if !(iPack < iTenant && iTenant < iCustomer) {
		t.Errorf("tiers out of trust order: pack=%d tenant=%d customer=%d", iPack, iTenant, iCustomer)
	}
	for _, text := range []string{"pack fact", "tenant fact", "customer fact"} {
		if !strings.Contains(got, text) {
			t.Errorf("missing hit text %q", text)
		}
	}
}

func Test_Prompt_EmptyTiersOmitted(t *testing.T) {
	t.Parallel()

	got := ContextBlock([]knowledge.Hit{{Scope: knowledge.ScopeTenant, Text: "only tenant"}})
	if strings.Contains(got, "SPECIALIST") || strings.Contains(got, "CUSTOMER CONTEXT") {
		t.Errorf("empty tier headers leaked: %q", got)
	}
	want := "### TENANT KNOWLEDGE:\nonly tenant"
	if got != want {
		t.Errorf("want %q, got %q", want, got)
	}
}

func Test_Prompt_NoHitsEmptyBlock(t *testing.T) {
	t.Parallel()

	if got := ContextBlock(nil); got != "" {
		t.Errorf("want empty context block, got %q", got)
	}
}

func Test_Prompt_MultipleHitsSameTierJoined(t *testing.T) {
	t.Parallel()

	hits := []knowledge.Hit{
		{Scope: knowledge.ScopeOrgPack, Text: "first"},
		{Scope: knowledge.ScopeOrgPack, Text: "second"},
	}
	got := ContextBlock(hits)
	want := "### SPECIALIST KNOWLEDGE (PACKS):\nfirst\nsecond"
	if got != want {
		t.Errorf("want %q, got %q", want, got)
	}
}

// Package prompt renders retrieval hits into the layered context block and
// system instruction handed to the generation model. Hits are grouped by
// visibility tier in fixed trust order: specialist packs first, then tenant
// knowledge, then customer context.
package prompt

import (
	"strings"

	"github.com/ledgerpeak/advisorkb/internal/knowledge"
)

const (
	headerPacks    = "### SPECIALIST KNOWLEDGE (PACKS):"
	headerTenant   = "### TENANT KNOWLEDGE:"
	headerCustomer = "### CUSTOMER CONTEXT:"
)

// SystemInstruction renders the generation model's standing orders: the
// confidence tiering and the answer-prefix convention.
func SystemInstruction(packNames []string) string {
	focus := strings.Join(packNames, ", ")
	if focus == "" {
		focus = "general advisory topics"
	}

	var b strings.Builder
	b.WriteString("You are a specialized advisory assistant focused on: " + focus + ".\n")
	b.WriteString("Your primary goal is to provide accurate information based on the provided hierarchy of knowledge.\n\n")
	b.WriteString("KNOWLEDGE HIERARCHY:\n")
	b.WriteString("1. SPECIALIST KNOWLEDGE (PACK): Most trusted. If you find the answer here, start your response with '[HIGH CONFIDENCE - SPECIALIST KNOWLEDGE]'.\n")
	b.WriteString("2. TENANT/CUSTOMER KNOWLEDGE: Internal facts. If you find the answer here but NOT in a pack, start with '[ADVISORY - TENANT/CUSTOMER DATA]'.\n")
	b.WriteString("3. GENERAL KNOWLEDGE: Only as a last resort. If you use this, start with '[LOW CONFIDENCE - GENERAL KNOWLEDGE]'.\n\n")
	b.WriteString("CONSTRAINTS:\n")
	b.WriteString("- Always prioritize information from higher in the hierarchy.\n")
	b.WriteString("- Mention which layer or pack your answer is coming from.\n")
	b.WriteString("- Keep responses professional, precise, and cited.")
	return b.String()
}

// ContextBlock concatenates hit texts under per-tier headers in trust order.
// Tiers with no hits are omitted entirely.
func ContextBlock(hits []knowledge.Hit) string {
	var packs, tenant, customer []string
	for _, h := range hits {
		switch h.Scope {
		case knowledge.ScopeOrgPack:
			packs = append(packs, h.Text)
		case knowledge.ScopeTenant:
			tenant = append(tenant, h.Text)
		case knowledge.ScopeCustomer:
			customer = append(customer, h.Text)
		}
	}

	var parts []string
	if len(packs) > 0 {
		parts = append(parts, headerPacks+"\n"+strings.Join(packs, "\n"))
	}
	if len(tenant) > 0 {
		parts = append(parts, headerTenant+"\n"+strings.Join(tenant, "\n"))
	}
	if len(customer) > 0 {
		parts = append(parts, headerCustomer+"\n"+strings.Join(customer, "\n"))
	}
	return strings.Join(parts, "\n\n")
}

// Assemble builds both halves of the generation prompt in one call.
func Assemble(hits []knowledge.Hit, packNames []string) (systemInstruction, contextBlock string) {
	return SystemInstruction(packNames), ContextBlock(hits)
}

package validate

import (
	"strings"
	"testing"
)

func TestCapabilityID(t *testing.T) {
	valid := []string{
		"llm.chat",
		"llm.embed",
		"tool.web-search",
		"sensor.camera",
		"a",
		"a1",
		"vision",
		"tool_invoke",
	}
	for _, id := range valid {
		if err := CapabilityID(id); err != nil {
			t.Errorf("CapabilityID(%q) = %v, want nil", id, err)
		}
	}

	invalid := []struct {
		id   string
		desc string
	}{
		{"", "empty"},
		{"LLM.Chat", "uppercase"},
		{"llm chat", "space"},
		{"llm/chat", "slash"},
		{"llm\nchat", "newline"},
		{".llm", "starts with dot"},
		{"llm.", "ends with dot"},
		{strings.Repeat("a", 128), "too long"},
	}
	for _, tc := range invalid {
		if err := CapabilityID(tc.id); err == nil {
			t.Errorf("CapabilityID(%q) [%s] = nil, want error", tc.id, tc.desc)
		}
	}
}

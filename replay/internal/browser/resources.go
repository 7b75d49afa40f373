package browser

import (
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// blockResources fails every request whose resource type is listed in
// types. The hijack router runs until the page closes.
func blockResources(page *rod.Page, types []string) error {
	blocked := blockSet(types)
	router := page.HijackRequests()
	if err := router.Add("*", "", func(h *rod.Hijack) {
		if blocked[strings.ToLower(string(h.Request.Type()))] {
			h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}
		h.ContinueRequest(&proto.FetchContinueRequest{})
	}); err != nil {
		return err
	}
	go router.Run()
	return nil
}

// blockSet maps the configured names to CDP resource types. The plural
// forms are accepted for the common types.
func blockSet(types []string) map[string]bool {
	aliases := map[string]string{
		"images":      "image",
		"fonts":       "font",
		"stylesheets": "stylesheet",
		"scripts":     "script",
	}
	set := make(map[string]bool, len(types))
	for _, t := range types {
		t = strings.ToLower(strings.TrimSpace(t))
		if a, ok := aliases[t]; ok {
			t = a
		}
		set[t] = true
	}
	return set
}

package registry

import (
	"reflect"
	"strings"

	"github.com/ICE-CUBA/AgentGraph/internal/store"
)

// CapabilityMatches reports whether a capability satisfies a discovery
// query. Names compare case-insensitively. Every filter key must be
// present in the capability metadata: list values match by membership,
// scalars by equality.
func CapabilityMatches(cap store.Capability, name string, filters map[string]interface{}) bool {
	if !strings.EqualFold(cap.Name, name) {
		return false
	}
	for key, want := range filters {
		have, ok := cap.Metadata[key]
		if !ok {
			return false
		}
		if !metadataValueMatches(have, want) {
			return false
		}
	}
	return true
}

// AgentMatches reports whether any capability on the agent matches.
func AgentMatches(agent *store.Agent, name string, filters map[string]interface{}) bool {
	for _, cap := range agent.Capabilities {
		if CapabilityMatches(cap, name, filters) {
			return true
		}
	}
	return false
}

func metadataValueMatches(have, want interface{}) bool {
	rv := reflect.ValueOf(have)
	if rv.Kind() == reflect.Slice {
		for i := 0; i < rv.Len(); i++ {
			if reflect.DeepEqual(rv.Index(i).Interface(), want) {
				return true
			}
		}
		return false
	}
	return reflect.DeepEqual(have, want)
}

package model

import "sort"

// Scope says whether a resource is listed once per controller or once per site.
type Scope int

const (
	// ScopeController resources are listed once per controller.
	ScopeController Scope = iota
	// ScopeSite resources are listed once per site and need a site id.
	ScopeSite
)

// String returns the human-readable scope name.
func (s Scope) String() string {
	if s == ScopeSite {
		return "site"
	}
	return "controller"
}

// Resource describes one kind of controller collection: the name used on the
// command line and in config, the document-store collection it mirrors into,
// and how each item's document id is derived.
type Resource struct {
	Name       string
	Collection string
	Scope      Scope
	Key        KeyFunc
	// SinglePage resources are snapshots served in one response; the
	// fetcher stops after the first page.
	SinglePage bool
}

// Built-in resources. Collection names match the ones the existing mirror
// already populates, so documents written by older tooling are merged into
// rather than duplicated.
var (
	Sites = Resource{
		Name:       "sites",
		Collection: "sites",
		Scope:      ScopeController,
		Key:        FieldKey("siteId"),
	}
	Devices = Resource{
		Name:       "devices",
		Collection: "devices",
		Scope:      ScopeSite,
		Key:        FieldKey("mac"),
	}
	AuditLogs = Resource{
		Name:       "audit_logs",
		Collection: "audit_logs",
		Scope:      ScopeSite,
		Key:        FieldKey("id", "logId"),
	}
	GlobalAuditLogs = Resource{
		Name:       "global_audit_logs",
		Collection: "global_audit_logs",
		Scope:      ScopeController,
		Key:        FieldKey("id", "logId"),
	}
	Traffic = Resource{
		Name:       "traffic",
		Collection: "traffic_logs",
		Scope:      ScopeSite,
		Key:        CompositeKey("siteId", "timestamp"),
		SinglePage: true,
	}
	Dashboards = Resource{
		Name:       "dashboards",
		Collection: "site_dashboards",
		Scope:      ScopeSite,
		Key:        FieldKey("siteId"),
		SinglePage: true,
	}
)

var registry = map[string]Resource{
	Sites.Name:           Sites,
	Devices.Name:         Devices,
	AuditLogs.Name:       AuditLogs,
	GlobalAuditLogs.Name: GlobalAuditLogs,
	Traffic.Name:         Traffic,
	Dashboards.Name:      Dashboards,
}

// Lookup returns the built-in resource with the given name.
func Lookup(name string) (Resource, bool) {
	r, ok := registry[name]
	return r, ok
}

// Names returns the names of all built-in resources in sorted order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

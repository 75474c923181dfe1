package sqlstore

import "github.com/memorymesh/integrations/core"

var (
	_ core.ConnectionStore = (*ConnectionStore)(nil)
	_ core.ResourceStore   = (*ResourceStore)(nil)
	_ core.MemoryStore     = (*MemoryStore)(nil)
)

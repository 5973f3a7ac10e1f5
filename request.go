package samlauth

import (
	"github.com/philiph/samlauth/internal/adapters/driven/request"
	"github.com/philiph/samlauth/internal/core/ports"
)

// Re-export RequestStore interface from ports.
type RequestStore = ports.RequestStore

// Re-export the in-memory request store adapter.
type InMemoryRequestStore = request.InMemoryStore

var (
	NewInMemoryRequestStore            = request.NewInMemoryStore
	NewInMemoryRequestStoreWithCleanup = request.NewInMemoryStoreWithCleanup
)

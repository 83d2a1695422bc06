package storage

import "pitchreel/internal/ports"

// Provider is the storage contract shared by the render directory and the
// mirrors. It aliases ports.StorageProvider to keep call sites short.
type Provider = ports.StorageProvider

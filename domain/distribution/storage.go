package distribution

// StorageInfo represents Google Drive storage quota information.
// A zero TotalBytes means the account has no quota limit.
type StorageInfo struct {
	TotalBytes     int64
	UsedBytes      int64
	AvailableBytes int64
}

// Unlimited reports whether the account has no quota limit
func (s StorageInfo) Unlimited() bool {
	return s.TotalBytes == 0
}

// HasSpaceFor returns true if there's enough space for the given bytes
func (s StorageInfo) HasSpaceFor(bytes int64) bool {
	return s.Unlimited() || s.AvailableBytes >= bytes
}

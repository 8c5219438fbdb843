package lockmgr

// ILockManager defines the interface for a keyed lock provider.
type ILockManager interface {
	// AcquireLock tries to acquire the lock for the given key without blocking.
	// timeout is the lease in seconds after which the lock is released automatically, 0 means never.
	// Return a boolean indicating whether the lock was acquired, an owner ID, and an error if any.
	AcquireLock(key string, timeout uint64) (ok bool, ownerID []byte, err error)

	// ReleaseLock releases the lock for the given key if ownerID owns it.
	// Return a boolean indicating whether the lock was released, and an error if any.
	// The method will also return true if the lock is not held.
	ReleaseLock(key string, ownerID []byte) (ok bool, err error)

	// Close stops the lease reaper. Held locks stay held.
	Close() error
}

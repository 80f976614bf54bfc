package topology

// QuorumSnapshot is derived on demand from the active role assignments;
// it is never stored.
type QuorumSnapshot struct {
	AuthorityCount int  `json:"authority_count"`
	StorageCount   int  `json:"storage_count"`
	WorkerCount    int  `json:"worker_count"`
	QuorumOK       bool `json:"quorum_ok"`
}

// CheckQuorum reports whether the fleet has role diversity: at least one
// device holding each of AUTHORITY, STORAGE, and WORKER at the same time.
// Extra holders of any role are permitted and do not affect the result;
// there is no weighting.
func CheckQuorum(roles []Role) QuorumSnapshot {
	var snap QuorumSnapshot
	for _, r := range roles {
		switch r {
		case RoleAuthority:
			snap.AuthorityCount++
		case RoleStorage:
			snap.StorageCount++
		case RoleWorker:
			snap.WorkerCount++
		}
	}
	snap.QuorumOK = snap.AuthorityCount >= 1 && snap.StorageCount >= 1 && snap.WorkerCount >= 1
	return snap
}

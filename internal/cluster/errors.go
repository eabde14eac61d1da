package cluster

import "errors"

// ErrNotRegistered reports that this node has no row in the membership
// table. No function in this package returns it.
var ErrNotRegistered = errors.New("cluster: node not yet registered")

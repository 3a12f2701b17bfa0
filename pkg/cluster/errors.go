package cluster

import "errors"

var (
    ErrMemberExists = errors.New("cluster: member already tracked")
    ErrUnknownGroup = errors.New("cluster: unknown redundancy group")
    ErrNotStarted   = errors.New("cluster: not started")
)

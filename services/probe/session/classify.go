// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package session

import (
	"errors"

	"github.com/AleutianAI/sidecarprobe/services/probe/netport"
	"github.com/AleutianAI/sidecarprobe/services/probe/process"
	"github.com/AleutianAI/sidecarprobe/services/probe/readiness"
	"github.com/AleutianAI/sidecarprobe/services/probe/rpc"
)

// Kind is the failure category of a run.
type Kind int

const (
	KindNone Kind = iota
	KindPortAllocationFailure
	KindProcessSpawnFailure
	KindReadinessTimeout
	KindSidecarReportedError
	KindSidecarExitedPrematurely
	KindRPCTimeout
	KindOther
)

var kindNames = [...]string{
	KindNone:                     "ok",
	KindPortAllocationFailure:    "PortAllocationFailure",
	KindProcessSpawnFailure:      "ProcessSpawnFailure",
	KindReadinessTimeout:         "ReadinessTimeout",
	KindSidecarReportedError:     "SidecarReportedError",
	KindSidecarExitedPrematurely: "SidecarExitedPrematurely",
	KindRPCTimeout:               "RpcTimeout",
	KindOther:                    "Other",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return kindNames[KindOther]
	}
	return kindNames[k]
}

// Classify maps a Run error to its Kind. nil is KindNone.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, netport.ErrPortAllocation):
		return KindPortAllocationFailure
	case errors.Is(err, process.ErrSpawn):
		return KindProcessSpawnFailure
	case errors.Is(err, readiness.ErrReadinessTimeout):
		return KindReadinessTimeout
	case errors.Is(err, readiness.ErrSidecarReported):
		return KindSidecarReportedError
	case errors.Is(err, readiness.ErrSidecarExited):
		return KindSidecarExitedPrematurely
	case errors.Is(err, rpc.ErrRPCTimeout):
		return KindRPCTimeout
	default:
		return KindOther
	}
}

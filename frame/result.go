// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package frame

import (
	"fmt"

	"github.com/gogpu/framegraph/resource"
)

// Status is a frame's overall outcome.
type Status int

const (
	// StatusComplete means every node recorded and its work was
	// submitted to the device.
	StatusComplete Status = iota

	// StatusFailed means a node returned an error; downstream nodes were
	// cancelled, independent nodes may still have completed.
	StatusFailed

	// StatusCancelled means the frame's context was cancelled before the
	// plan finished.
	StatusCancelled

	// StatusDeviceLost means the device became unusable mid-frame. The
	// engine must be rebuilt on a fresh device; retrying the frame on
	// the same device cannot succeed.
	StatusDeviceLost
)

func (s Status) String() string {
	switch s {
	case StatusComplete:
		return "complete"
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	case StatusDeviceLost:
		return "device-lost"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// NodeState is a node's per-frame lifecycle phase.
type NodeState int

const (
	NodePending NodeState = iota
	NodePreparing
	NodeReady
	NodeRecording
	NodeRecorded
	NodeFailed
	NodeCancelled
)

func (s NodeState) String() string {
	switch s {
	case NodePending:
		return "pending"
	case NodePreparing:
		return "preparing"
	case NodeReady:
		return "ready"
	case NodeRecording:
		return "recording"
	case NodeRecorded:
		return "recorded"
	case NodeFailed:
		return "failed"
	case NodeCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("NodeState(%d)", int(s))
	}
}

// Result reports one frame's execution.
type Result struct {
	Frame  uint64
	Status Status

	// Err is the first error encountered, nil for StatusComplete.
	Err error

	// Recorded counts nodes that finished recording.
	Recorded int

	// Nodes maps node names to their final per-frame state.
	Nodes map[string]NodeState

	// Memory is a table snapshot taken after the frame's transients were
	// released.
	Memory resource.Stats
}

// Ok reports whether the frame completed.
func (r Result) Ok() bool { return r.Status == StatusComplete }

func (r Result) String() string {
	if r.Err != nil {
		return fmt.Sprintf("frame %d: %s (%d recorded): %v", r.Frame, r.Status, r.Recorded, r.Err)
	}
	return fmt.Sprintf("frame %d: %s (%d recorded)", r.Frame, r.Status, r.Recorded)
}

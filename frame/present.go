// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package frame

import (
	"github.com/gogpu/framegraph/device"
	"github.com/gogpu/framegraph/graph"
	"github.com/gogpu/framegraph/resource"
)

// PresentDeclaration returns a terminal node that transitions target into
// presentable layout. It encodes no commands of its own: declaring the
// input with present access makes the builder place the layout transition
// barrier, and making it the target's last consumer keeps the resource
// alive until the swapchain hands it off.
//
// target is typically bound externally to the frame's swapchain image.
func PresentDeclaration(name, target string, desc resource.Descriptor) graph.Declaration {
	return graph.Declaration{
		Name: name,
		Inputs: []graph.Slot{{
			Name:   target,
			Desc:   desc,
			Access: device.AccessPresent,
		}},
		Node: graph.NodeFuncs{},
	}
}

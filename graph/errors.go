// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package graph

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for node registration and plan compilation. The concrete
// error types below wrap these, so callers can branch with errors.Is and
// still recover detail with errors.As.
var (
	ErrDuplicateName      = errors.New("graph: duplicate node name")
	ErrCyclicDependency   = errors.New("graph: cyclic dependency")
	ErrUnboundInput       = errors.New("graph: unbound input")
	ErrDescriptorMismatch = errors.New("graph: descriptor mismatch")
	ErrDuplicateProducer  = errors.New("graph: resource has multiple producers")
)

// DuplicateNameError reports a second registration under an existing node
// name. The registry keeps the first registration.
type DuplicateNameError struct {
	Name string
}

func (e *DuplicateNameError) Error() string {
	return fmt.Sprintf("graph: node %q already registered", e.Name)
}

func (e *DuplicateNameError) Unwrap() error { return ErrDuplicateName }

// CycleError reports a dependency cycle. Nodes lists the names of every
// node on the cycle, in registration order.
type CycleError struct {
	Nodes []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("graph: cyclic dependency through [%s]", strings.Join(e.Nodes, ", "))
}

func (e *CycleError) Unwrap() error { return ErrCyclicDependency }

// UnboundInputError reports an input slot whose resource name has no
// producing node and no external binding.
type UnboundInputError struct {
	Node string
	Slot string
}

func (e *UnboundInputError) Error() string {
	return fmt.Sprintf("graph: node %q input %q has no producer", e.Node, e.Slot)
}

func (e *UnboundInputError) Unwrap() error { return ErrUnboundInput }

// DescriptorMismatchError reports producer and consumer disagreeing on a
// named resource's shape.
type DescriptorMismatchError struct {
	Resource string
	Producer string
	Consumer string
	Detail   string
}

func (e *DescriptorMismatchError) Error() string {
	return fmt.Sprintf("graph: resource %q: producer %q and consumer %q disagree: %s",
		e.Resource, e.Producer, e.Consumer, e.Detail)
}

func (e *DescriptorMismatchError) Unwrap() error { return ErrDescriptorMismatch }

// DuplicateProducerError reports two nodes writing the same resource name.
// Each named resource has exactly one producer; ping-pong patterns use
// distinct names per stage.
type DuplicateProducerError struct {
	Resource string
	First    string
	Second   string
}

func (e *DuplicateProducerError) Error() string {
	return fmt.Sprintf("graph: resource %q produced by both %q and %q",
		e.Resource, e.First, e.Second)
}

func (e *DuplicateProducerError) Unwrap() error { return ErrDuplicateProducer }

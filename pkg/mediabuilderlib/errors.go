// Copyright (c) The Debian Media Tools Authors.
// Licensed under the MIT License.

package mediabuilderlib

import (
	"errors"
	"fmt"
)

// Error categories. Every fatal pipeline error wraps exactly one of these.
var (
	// A required input or tool is missing; nothing has been mutated.
	PreconditionError = errors.New("precondition")
	// A produced artifact failed its self-check; downstream stages must not
	// run.
	VerificationError = errors.New("verification")
	// An external tool invocation failed.
	ToolInvocationError = errors.New("tool-invocation")
)

var (
	ErrMissingTool        = NewMediaBuilderError(PreconditionError, "required external tool not found")
	ErrNoKernel           = NewMediaBuilderError(PreconditionError, "no kernel/initrd pair found in session root")
	ErrSquashfsVerify     = NewMediaBuilderError(VerificationError, "compressed filesystem image failed self-check")
	ErrInitrdUnreadable   = NewMediaBuilderError(VerificationError, "initial ramdisk is not a readable archive")
	ErrMediumVerify       = NewMediaBuilderError(VerificationError, "composed medium failed verification")
	ErrBootSectorInvalid  = NewMediaBuilderError(VerificationError, "BIOS boot image has no valid boot sector")
	ErrWorkDirBusy        = NewMediaBuilderError(PreconditionError, "working directory is in use by another build")
	ErrCustomizationFatal = NewMediaBuilderError(ToolInvocationError, "customization program failed")
)

// MediaBuilderError names a failed operation and carries its category.
type MediaBuilderError struct {
	Type    error
	Message string
	Cause   error
}

func (e *MediaBuilderError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s:\n%v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *MediaBuilderError) Unwrap() error {
	return e.Cause
}

func (e *MediaBuilderError) Is(target error) bool {
	return errors.Is(e.Type, target)
}

func NewMediaBuilderError(errorType error, message string) *MediaBuilderError {
	return &MediaBuilderError{
		Type:    errorType,
		Message: message,
	}
}

func NewMediaBuilderErrorWithCause(errorType error, message string, cause error) *MediaBuilderError {
	return &MediaBuilderError{
		Type:    errorType,
		Message: message,
		Cause:   cause,
	}
}
